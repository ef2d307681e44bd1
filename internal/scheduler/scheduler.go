package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	auditdomain "github.com/smallbiznis/uplink/internal/audit/domain"
	"github.com/smallbiznis/uplink/internal/auditcontext"
	"github.com/smallbiznis/uplink/internal/batch"
	"github.com/smallbiznis/uplink/internal/clock"
	"github.com/smallbiznis/uplink/internal/events"
	networkdomain "github.com/smallbiznis/uplink/internal/network/domain"
	obsmetrics "github.com/smallbiznis/uplink/internal/observability/metrics"
	qualificationdomain "github.com/smallbiznis/uplink/internal/qualification/domain"
	rewarddomain "github.com/smallbiznis/uplink/internal/reward/domain"
	volumedomain "github.com/smallbiznis/uplink/internal/volume/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobPathRebuild        = "path_rebuild"
	JobVolumeAggregation  = "volume_aggregation"
	JobQualificationSweep = "qualification_sweep"
	JobRewardEligibility  = "reward_eligibility"
	JobRewardMaintenance  = "reward_maintenance"
	JobEventRelay         = "event_relay"
)

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	ErrUnknownJob    = errors.New("unknown_job")
)

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type PathRebuilder interface {
	RebuildPaths(ctx context.Context) (batch.Result, error)
}

type VolumeAggregator interface {
	ComputePeriodVolumes(ctx context.Context, period volumedomain.Period) (batch.Result, error)
}

type QualificationSweeper interface {
	Sweep(ctx context.Context, period volumedomain.Period) (batch.Result, error)
}

type RewardSweeper interface {
	EnsureInventory(ctx context.Context) error
	EligibilitySweep(ctx context.Context) (batch.Result, error)
	MaintenanceSweep(ctx context.Context) (batch.Result, error)
}

type EventRelay interface {
	Dispatch(ctx context.Context, limit int) (batch.Result, error)
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

type Params struct {
	fx.In

	Log              *zap.Logger
	GenID            *snowflake.Node
	Config           Config
	NetworkSvc       networkdomain.Service
	VolumeSvc        volumedomain.Service
	QualificationSvc qualificationdomain.Service
	RewardSvc        rewarddomain.Service
	Relay            *events.Relay
	Clock            clock.Clock `optional:"true"`
}

// Deps are the collaborators a Scheduler drives.
type Deps struct {
	Paths         PathRebuilder
	Volumes       VolumeAggregator
	Qualification QualificationSweeper
	Rewards       RewardSweeper
	Relay         EventRelay
}

// job is one schedulable unit. A job without a spec runs only after its
// parent completes.
type job struct {
	name     string
	spec     string
	after    string
	resource string
	timeout  time.Duration
	run      func(ctx context.Context, now time.Time) (batch.Result, error)
}

type Scheduler struct {
	log   *zap.Logger
	cfg   Config
	genID *snowflake.Node
	clock clock.Clock
	deps  Deps
	jobs  []job

	mu   sync.Mutex
	cron *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.NetworkSvc == nil || p.VolumeSvc == nil ||
		p.QualificationSvc == nil || p.RewardSvc == nil || p.Relay == nil {
		return nil, ErrInvalidConfig
	}
	return NewWithDeps(p.Log, p.GenID, p.Clock, p.Config, Deps{
		Paths:         p.NetworkSvc,
		Volumes:       p.VolumeSvc,
		Qualification: p.QualificationSvc,
		Rewards:       p.RewardSvc,
		Relay:         p.Relay,
	})
}

// NewWithDeps builds a Scheduler over explicit collaborators.
func NewWithDeps(log *zap.Logger, genID *snowflake.Node, c clock.Clock, cfg Config, deps Deps) (*Scheduler, error) {
	if log == nil || genID == nil || deps.Paths == nil || deps.Volumes == nil ||
		deps.Qualification == nil || deps.Rewards == nil || deps.Relay == nil {
		return nil, ErrInvalidConfig
	}
	if c == nil {
		c = clock.SystemClock{}
	}
	s := &Scheduler{
		log:   log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:   cfg.withDefaults(),
		genID: genID,
		clock: c,
		deps:  deps,
	}
	s.jobs = s.buildJobs()
	for _, j := range s.jobs {
		if j.spec == "" {
			continue
		}
		if _, err := cronParser.Parse(j.spec); err != nil {
			return nil, fmt.Errorf("%w: %s schedule %q: %v", ErrInvalidConfig, j.name, j.spec, err)
		}
	}
	return s, nil
}

// buildJobs lists jobs in dependency order. The month close chain
// aggregates volumes, then evaluates tiers, then allocates rewards.
func (s *Scheduler) buildJobs() []job {
	return []job{
		{
			name:     JobPathRebuild,
			spec:     s.cfg.PathRebuildSpec,
			resource: "member",
			timeout:  s.cfg.PathRebuildTimeout,
			run: func(ctx context.Context, _ time.Time) (batch.Result, error) {
				return s.deps.Paths.RebuildPaths(ctx)
			},
		},
		{
			name:     JobVolumeAggregation,
			spec:     s.cfg.MonthCloseSpec,
			resource: "member",
			timeout:  s.cfg.MonthCloseTimeout,
			run:      s.volumeAggregationJob,
		},
		{
			name:     JobQualificationSweep,
			after:    JobVolumeAggregation,
			resource: "member",
			timeout:  s.cfg.MonthCloseTimeout,
			run:      s.qualificationSweepJob,
		},
		{
			name:     JobRewardEligibility,
			after:    JobQualificationSweep,
			resource: "member_reward",
			timeout:  s.cfg.MonthCloseTimeout,
			run:      s.rewardEligibilityJob,
		},
		{
			name:     JobRewardMaintenance,
			spec:     s.cfg.MaintenanceSpec,
			resource: "reward_allocation",
			timeout:  s.cfg.MaintenanceTimeout,
			run: func(ctx context.Context, _ time.Time) (batch.Result, error) {
				return s.deps.Rewards.MaintenanceSweep(ctx)
			},
		},
		{
			name:     JobEventRelay,
			spec:     s.cfg.EventRelaySpec,
			resource: "domain_event",
			timeout:  s.cfg.RelayTimeout,
			run:      s.eventRelayJob,
		},
	}
}

// runJob executes one job under its deadline. It reports whether the job
// completed; a timed-out job is logged and counted but not returned as an
// error.
func (s *Scheduler) runJob(parent context.Context, j job, now time.Time) (bool, error) {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, j.timeout)
	defer cancel()

	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	ctx, run, owner := s.ensureJobRun(ctx, j.name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", j.name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(j.name)

	result, err := j.run(ctx, now)
	schedMetrics.ObserveJobDuration(j.name, s.clock.Now().Sub(start))
	schedMetrics.AddBatchProcessed(j.name, j.resource, result.Processed)
	for _, kind := range []batch.FailureKind{batch.KindDataIntegrity, batch.KindBusinessRule, batch.KindConcurrency} {
		schedMetrics.AddBatchFailed(j.name, string(kind), result.FailedCount(kind))
	}
	run.AddProcessed(result.Processed)
	run.AddFailures(len(result.Failed))
	for _, failure := range result.Failed {
		log.Warn("scheduler.item.failed",
			zap.String("item_id", failure.ItemID),
			zap.String("kind", string(failure.Kind)),
			zap.String("reason", failure.Reason),
		)
	}

	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return true, nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(j.name)
	}
	schedMetrics.IncJobError(j.name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", j.timeout),
			zap.Error(err),
		)
		return false, nil
	}
	s.logSchedulerError(ctx, run, "scheduler.job.failed", j.name, err)

	return false, fmt.Errorf("%s: %w", j.name, err)
}

// runChain runs j and then every job that waits on it. Dependents are
// skipped when j fails or times out. A disabled job does not block its
// dependents.
func (s *Scheduler) runChain(ctx context.Context, j job, now time.Time) error {
	if s.isJobEnabled(j.name) {
		completed, err := s.runJob(ctx, j, now)
		if !completed {
			for _, dep := range s.dependents(j.name) {
				s.log.Warn("scheduler.job.skipped",
					zap.String("job", dep.name),
					zap.String("after", j.name),
				)
			}
			return err
		}
	}

	var err error
	for _, dep := range s.dependents(j.name) {
		err = errors.Join(err, s.runChain(ctx, dep, now))
	}
	return err
}

func (s *Scheduler) dependents(name string) []job {
	var out []job
	for _, j := range s.jobs {
		if j.after == name {
			out = append(out, j)
		}
	}
	return out
}

// RunOnce runs every enabled job once, in dependency order, as of now.
func (s *Scheduler) RunOnce(parent context.Context, now time.Time) error {
	var err error
	for _, j := range s.jobs {
		if j.after != "" {
			continue
		}
		err = errors.Join(err, s.runChain(parent, j, now))
	}
	return err
}

// Run runs a single job by name, without its dependents.
func (s *Scheduler) Run(ctx context.Context, name string, now time.Time) error {
	for _, j := range s.jobs {
		if strings.EqualFold(j.name, name) {
			_, err := s.runJob(ctx, j, now)
			return err
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

// Jobs returns the job names in run order.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.name)
	}
	return names
}

// Start registers the root jobs with cron and starts it. Each entry runs
// its whole chain; overlapping runs of the same entry are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	logger := newCronLogger(s.log)
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	for _, j := range s.jobs {
		if j.spec == "" {
			continue
		}
		schedule, err := cronParser.Parse(j.spec)
		if err != nil {
			return fmt.Errorf("%w: %s schedule %q: %v", ErrInvalidConfig, j.name, j.spec, err)
		}
		c.Schedule(schedule, s.scheduledRun(ctx, j, schedule))
		s.log.Info("scheduler.job.registered",
			zap.String("job", j.name),
			zap.String("spec", j.spec),
		)
	}
	c.Start()
	s.cron = c
	return nil
}

func (s *Scheduler) scheduledRun(ctx context.Context, j job, schedule cron.Schedule) cron.FuncJob {
	expected := schedule.Next(s.clock.Now())
	return func() {
		now := s.clock.Now()
		if lag := now.Sub(expected); lag > 0 {
			obsmetrics.Scheduler().ObserveRunLoopLag(lag)
		}
		expected = schedule.Next(now)
		if err := s.runChain(ctx, j, now); err != nil {
			s.log.Warn("scheduler run failed", zap.String("job", j.name), zap.Error(err))
		}
	}
}

// Stop halts cron and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// If EnabledJobs is empty, all jobs are enabled by default (monolith mode)
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
