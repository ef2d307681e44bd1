package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/alitto/pond/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/uplink/internal/batch"
	"github.com/smallbiznis/uplink/internal/clock"
	commissiondomain "github.com/smallbiznis/uplink/internal/commission/domain"
	"github.com/smallbiznis/uplink/internal/events"
	"github.com/smallbiznis/uplink/internal/lock"
	networkdomain "github.com/smallbiznis/uplink/internal/network/domain"
	obsmetrics "github.com/smallbiznis/uplink/internal/observability/metrics"
	"github.com/smallbiznis/uplink/internal/observability/tracing"
	"github.com/smallbiznis/uplink/internal/plan"
	qualificationdomain "github.com/smallbiznis/uplink/internal/qualification/domain"
	volumedomain "github.com/smallbiznis/uplink/internal/volume/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Repo          qualificationdomain.Repository
	NetworkSvc    networkdomain.Service
	VolumeSvc     volumedomain.Service
	CommissionSvc commissiondomain.Service
	Outbox        *events.Outbox
	Plan          plan.Provider
	Pool          pond.Pool           `optional:"true"`
	Locks         *lock.Manager       `optional:"true"`
	Clock         clock.Clock         `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	repo          qualificationdomain.Repository
	networkSvc    networkdomain.Service
	volumeSvc     volumedomain.Service
	commissionSvc commissiondomain.Service
	outbox        *events.Outbox
	plan          plan.Provider
	pool          pond.Pool
	locks         *lock.Manager
	clock         clock.Clock
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) qualificationdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	pool := p.Pool
	if pool == nil {
		pool = pond.NewPool(4)
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("qualification.service"),
		repo:          p.Repo,
		networkSvc:    p.NetworkSvc,
		volumeSvc:     p.VolumeSvc,
		commissionSvc: p.CommissionSvc,
		outbox:        p.Outbox,
		plan:          p.Plan,
		pool:          pool,
		locks:         p.Locks,
		clock:         c,
		obsMetrics:    p.ObsMetrics,
	}
}

func (s *Service) EvaluateTierQualification(ctx context.Context, memberID snowflake.ID, period volumedomain.Period) (eval *qualificationdomain.Evaluation, err error) {
	if !period.Valid() {
		return nil, qualificationdomain.ErrInvalidPeriod
	}
	ctx, span := tracing.Start(ctx, "qualification.EvaluateTierQualification",
		attribute.String("member_id", memberID.String()),
		attribute.String("period", period.String()))
	defer func() { tracing.End(span, err) }()

	release, err := s.lockMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	defer release()

	member, err := s.networkSvc.Get(ctx, memberID)
	if err != nil {
		if errors.Is(err, networkdomain.ErrMemberNotFound) {
			return nil, qualificationdomain.ErrMemberNotFound
		}
		return nil, err
	}

	record, err := s.volumeSvc.ForPeriod(ctx, memberID, period)
	if err != nil {
		if errors.Is(err, volumedomain.ErrVolumeNotFound) {
			return nil, fmt.Errorf("%w: member %s period %s", qualificationdomain.ErrVolumeMissing, memberID, period)
		}
		return nil, err
	}
	activeReferrals, teamVolume := record.ActiveReferralsCount, record.TeamVolume

	p := s.plan.Current()
	now := s.clock.Now().UTC()
	eval = &qualificationdomain.Evaluation{
		MemberID:     memberID,
		Period:       period.String(),
		PreviousTier: member.CurrentTier,
		Tier:         member.CurrentTier,
		Transition:   qualificationdomain.TransitionNone,
		EvaluatedAt:  now,
	}

	var decision qualificationdomain.Decision
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := s.repo.FindState(ctx, tx, memberID, true)
		if err != nil {
			return err
		}
		if state == nil {
			state = &qualificationdomain.State{MemberID: memberID}
		}
		progressRows, err := s.repo.ListProgress(ctx, tx, memberID)
		if err != nil {
			return err
		}
		progress := make(map[string]qualificationdomain.TierProgress, len(progressRows))
		for _, row := range progressRows {
			progress[row.Tier] = row
		}

		decision = qualificationdomain.Decide(p, qualificationdomain.Input{
			MemberID:        memberID,
			CurrentTier:     member.CurrentTier,
			PeriodStart:     period.Start,
			ActiveReferrals: activeReferrals,
			TeamVolume:      teamVolume,
			State:           *state,
			Progress:        progress,
		}, now)
		if decision.Skipped {
			eval.Skipped = true
			eval.FailingMonths = state.FailingMonths
			if current, ok := progress[member.CurrentTier]; ok {
				eval.ConsecutiveMonths = current.ConsecutiveMonths
				eval.Permanent = current.Permanent
			}
			return nil
		}

		if err := s.repo.UpsertState(ctx, tx, &decision.State); err != nil {
			return err
		}
		if err := s.repo.UpsertProgress(ctx, tx, &decision.Progress); err != nil {
			return err
		}
		if decision.Transition != qualificationdomain.TransitionNone {
			if err := s.applyTransition(ctx, tx, p, member, decision, period, eval); err != nil {
				return err
			}
		}
		if decision.BecamePermanent {
			if err := s.outbox.PublishTx(ctx, tx, events.Event{
				Type:        events.EventTierPermanent,
				AggregateID: memberID,
				DedupeKey:   fmt.Sprintf("%s:%d:%s", events.EventTierPermanent, memberID, decision.Progress.Tier),
				Payload: map[string]any{
					"member_id":          memberID.String(),
					"tier":               decision.Progress.Tier,
					"consecutive_months": decision.Progress.ConsecutiveMonths,
					"period":             period.String(),
				},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if eval.Skipped {
		return eval, nil
	}

	eval.Tier = decision.To
	eval.Transition = decision.Transition
	eval.Meets = decision.Meets
	eval.ConsecutiveMonths = decision.Progress.ConsecutiveMonths
	eval.Permanent = decision.Progress.Permanent
	eval.FailingMonths = decision.State.FailingMonths
	if decision.Transition != qualificationdomain.TransitionNone {
		s.obsMetrics.RecordTierTransition(ctx, string(decision.Transition), decision.To)
		s.log.Info("tier changed",
			zap.String("member_id", memberID.String()),
			zap.String("from", decision.From),
			zap.String("to", decision.To),
			zap.String("transition", string(decision.Transition)),
			zap.String("period", period.String()))
	}
	return eval, nil
}

func (s *Service) applyTransition(
	ctx context.Context,
	tx *gorm.DB,
	p plan.Plan,
	member *networkdomain.Member,
	decision qualificationdomain.Decision,
	period volumedomain.Period,
	eval *qualificationdomain.Evaluation,
) error {
	reason := networkdomain.TierChangeFailedMaintenance
	eventType := events.EventTierDemoted
	if decision.Transition == qualificationdomain.TransitionPromoted {
		reason = networkdomain.TierChangePromoted
		eventType = events.EventTierAdvanced
	}
	if err := s.networkSvc.ChangeTierTx(ctx, tx, networkdomain.TierChange{
		MemberID:   member.ID,
		From:       decision.From,
		To:         decision.To,
		Reason:     reason,
		OccurredAt: s.clock.Now().UTC(),
	}); err != nil {
		return err
	}

	if decision.Transition == qualificationdomain.TransitionPromoted {
		if tier, ok := p.Tier(decision.To); ok && tier.AchievementBonus.IsPositive() {
			paid, err := s.commissionSvc.PostAchievementBonusTx(ctx, tx, member.ID, tier.Code, tier.AchievementBonus)
			if err != nil {
				return err
			}
			eval.AchievementBonusPaid = paid
			if paid {
				eval.AchievementBonus = tier.AchievementBonus
			}
		}
	}

	return s.outbox.PublishTx(ctx, tx, events.Event{
		Type:        eventType,
		AggregateID: member.ID,
		DedupeKey:   fmt.Sprintf("%s:%d:%s", eventType, member.ID, period.String()),
		Payload: map[string]any{
			"member_id": member.ID.String(),
			"from":      decision.From,
			"to":        decision.To,
			"reason":    string(reason),
			"period":    period.String(),
		},
	})
}

// Sweep evaluates every member for period on the worker pool. Members are
// independent, so a failure is recorded against that member only.
func (s *Service) Sweep(ctx context.Context, period volumedomain.Period) (result batch.Result, err error) {
	if !period.Valid() {
		return batch.Result{}, qualificationdomain.ErrInvalidPeriod
	}
	ctx, span := tracing.Start(ctx, "qualification.Sweep", attribute.String("period", period.String()))
	defer func() { tracing.End(span, err) }()

	members, err := s.networkSvc.ListAll(ctx)
	if err != nil {
		return batch.Result{}, err
	}

	collector := &batch.Collector{}
	group := s.pool.NewGroupContext(ctx)
	for _, m := range members {
		memberID := m.ID
		group.Submit(func() {
			eval, err := s.EvaluateTierQualification(ctx, memberID, period)
			switch {
			case err != nil:
				kind := classify(err)
				s.log.Warn("tier evaluation failed",
					zap.String("member_id", memberID.String()),
					zap.String("kind", string(kind)),
					zap.Error(err))
				collector.Fail(memberID.String(), kind, err.Error())
			case eval.Skipped:
				collector.Skip()
			default:
				collector.Succeed()
			}
		})
	}
	if err := group.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, pond.ErrGroupStopped) {
			return collector.Result(), ctx.Err()
		}
		return collector.Result(), err
	}

	result = collector.Result()
	span.SetAttributes(attribute.Int("processed", result.Processed), attribute.Int("failed", len(result.Failed)))
	s.log.Info("qualification sweep finished",
		zap.String("period", period.String()),
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

func (s *Service) Progress(ctx context.Context, memberID snowflake.ID, tier string) (*qualificationdomain.TierProgress, error) {
	row, err := s.repo.FindProgress(ctx, s.db, memberID, tier)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return &qualificationdomain.TierProgress{MemberID: memberID, Tier: tier}, nil
	}
	return row, nil
}

func (s *Service) State(ctx context.Context, memberID snowflake.ID) (*qualificationdomain.State, error) {
	state, err := s.repo.FindState(ctx, s.db, memberID, false)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return &qualificationdomain.State{MemberID: memberID}, nil
	}
	return state, nil
}

func (s *Service) lockMember(ctx context.Context, memberID snowflake.ID) (lock.Release, error) {
	if s.locks == nil {
		return func() {}, nil
	}
	return s.locks.AcquireMembers(ctx, []snowflake.ID{memberID})
}

func classify(err error) batch.FailureKind {
	switch {
	case errors.Is(err, lock.ErrLockContention):
		return batch.KindConcurrency
	case errors.Is(err, commissiondomain.ErrInsufficientBalance),
		errors.Is(err, networkdomain.ErrInvalidTierChange):
		return batch.KindBusinessRule
	case errors.Is(err, qualificationdomain.ErrVolumeMissing):
		return batch.KindDataIntegrity
	default:
		return batch.KindDataIntegrity
	}
}
