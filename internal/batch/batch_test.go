package batch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultCounts(t *testing.T) {
	var r Result
	r.Succeed()
	r.Skip()
	r.Fail("7", KindDataIntegrity, "negative personal volume")

	assert.Equal(t, 3, r.Processed)
	assert.Equal(t, 1, r.Succeeded)
	assert.Equal(t, 1, r.FailedCount(KindDataIntegrity))
	assert.Equal(t, 0, r.FailedCount(KindConcurrency))

	err := r.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_integrity 7: negative personal volume")
}

func TestMerge(t *testing.T) {
	a := Result{Processed: 2, Succeeded: 2}
	b := Result{Processed: 1, Failed: []Failure{{ItemID: "1", Kind: KindConcurrency}}}
	a.Merge(b)
	assert.Equal(t, 3, a.Processed)
	assert.Len(t, a.Failed, 1)
	assert.NoError(t, Result{}.Err())
}

func TestCollectorConcurrent(t *testing.T) {
	var c Collector
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%10 == 0 {
				c.Fail("x", KindBusinessRule, "no")
				return
			}
			c.Succeed()
		}(i)
	}
	wg.Wait()

	r := c.Result()
	assert.Equal(t, 50, r.Processed)
	assert.Equal(t, 45, r.Succeeded)
	assert.Len(t, r.Failed, 5)
}
