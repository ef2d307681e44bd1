// Package batch describes the outcome of jobs that process many independent
// items. A failing item is recorded and skipped, never fatal for the run.
package batch

import (
	"errors"
	"fmt"
	"sync"
)

type FailureKind string

const (
	KindDataIntegrity FailureKind = "data_integrity"
	KindBusinessRule  FailureKind = "business_rule"
	KindConcurrency   FailureKind = "concurrency"
)

// Failure is one skipped item.
type Failure struct {
	ItemID string      `json:"item_id"`
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s: %s", f.Kind, f.ItemID, f.Reason)
}

// Result summarises a batch run.
type Result struct {
	Processed int       `json:"processed"`
	Succeeded int       `json:"succeeded"`
	Failed    []Failure `json:"failed,omitempty"`
}

func (r *Result) Succeed() {
	r.Processed++
	r.Succeeded++
}

func (r *Result) Fail(itemID string, kind FailureKind, reason string) {
	r.Processed++
	r.Failed = append(r.Failed, Failure{ItemID: itemID, Kind: kind, Reason: reason})
}

// Skip counts an item that needed no work.
func (r *Result) Skip() {
	r.Processed++
}

// Merge folds other into r.
func (r *Result) Merge(other Result) {
	r.Processed += other.Processed
	r.Succeeded += other.Succeeded
	r.Failed = append(r.Failed, other.Failed...)
}

// FailedCount returns the number of failures of kind.
func (r Result) FailedCount(kind FailureKind) int {
	n := 0
	for _, f := range r.Failed {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

// Err joins all failures, or returns nil when there are none.
func (r Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// Collector is a Result safe for use from pool workers.
type Collector struct {
	mu     sync.Mutex
	result Result
}

func (c *Collector) Succeed() {
	c.mu.Lock()
	c.result.Succeed()
	c.mu.Unlock()
}

func (c *Collector) Skip() {
	c.mu.Lock()
	c.result.Skip()
	c.mu.Unlock()
}

func (c *Collector) Fail(itemID string, kind FailureKind, reason string) {
	c.mu.Lock()
	c.result.Fail(itemID, kind, reason)
	c.mu.Unlock()
}

func (c *Collector) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.result
	out.Failed = append([]Failure(nil), c.result.Failed...)
	return out
}
