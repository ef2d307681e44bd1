package scheduler

import (
	"context"
	"time"

	"github.com/smallbiznis/uplink/internal/batch"
	"github.com/smallbiznis/uplink/internal/scheduler/guard"
	volumedomain "github.com/smallbiznis/uplink/internal/volume/domain"
	"go.uber.org/zap"
)

// maxRelayPasses bounds one relay run when the backlog exceeds a batch.
const maxRelayPasses = 10

// closedPeriod returns the calendar month before now, refusing to work on a
// month that has not ended.
func closedPeriod(now time.Time) (volumedomain.Period, error) {
	period := volumedomain.PreviousMonth(now)
	if err := guard.EnsurePeriodClosed(period, now); err != nil {
		return volumedomain.Period{}, err
	}
	return period, nil
}

func (s *Scheduler) volumeAggregationJob(ctx context.Context, now time.Time) (batch.Result, error) {
	period, err := closedPeriod(now)
	if err != nil {
		return batch.Result{}, err
	}
	s.logger(ctx).Info("scheduler.period", zap.String("period", period.String()))
	return s.deps.Volumes.ComputePeriodVolumes(ctx, period)
}

func (s *Scheduler) qualificationSweepJob(ctx context.Context, now time.Time) (batch.Result, error) {
	period, err := closedPeriod(now)
	if err != nil {
		return batch.Result{}, err
	}
	return s.deps.Qualification.Sweep(ctx, period)
}

// rewardEligibilityJob seeds inventory for newly configured rewards before
// sweeping, so a plan reload takes effect at the next month close.
func (s *Scheduler) rewardEligibilityJob(ctx context.Context, _ time.Time) (batch.Result, error) {
	if err := s.deps.Rewards.EnsureInventory(ctx); err != nil {
		return batch.Result{}, err
	}
	return s.deps.Rewards.EligibilitySweep(ctx)
}

func (s *Scheduler) eventRelayJob(ctx context.Context, _ time.Time) (batch.Result, error) {
	var total batch.Result
	limit := s.cfg.RelayBatchSize
	for pass := 0; pass < maxRelayPasses; pass++ {
		result, err := s.deps.Relay.Dispatch(ctx, limit)
		total.Merge(result)
		if err != nil {
			return total, err
		}
		if result.Processed < limit || result.Succeeded == 0 {
			break
		}
	}

	purged, err := s.deps.Relay.Purge(ctx, s.cfg.EventRetention)
	if err != nil {
		return total, err
	}
	if purged > 0 {
		s.logger(ctx).Info("scheduler.events.purged", zap.Int64("count", purged))
	}
	return total, nil
}
