package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/uplink/internal/audit/domain"
	"github.com/smallbiznis/uplink/internal/auditcontext"
	"github.com/smallbiznis/uplink/internal/batch"
	"github.com/smallbiznis/uplink/internal/clock"
	"github.com/smallbiznis/uplink/internal/events"
	"github.com/smallbiznis/uplink/internal/lock"
	networkdomain "github.com/smallbiznis/uplink/internal/network/domain"
	obsmetrics "github.com/smallbiznis/uplink/internal/observability/metrics"
	"github.com/smallbiznis/uplink/internal/observability/tracing"
	"github.com/smallbiznis/uplink/internal/plan"
	qualificationdomain "github.com/smallbiznis/uplink/internal/qualification/domain"
	rewarddomain "github.com/smallbiznis/uplink/internal/reward/domain"
	volumedomain "github.com/smallbiznis/uplink/internal/volume/domain"
	pkgdb "github.com/smallbiznis/uplink/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Repo             rewarddomain.Repository
	Stock            rewarddomain.Stock
	NetworkSvc       networkdomain.Service
	VolumeSvc        volumedomain.Service
	QualificationSvc qualificationdomain.Service
	Outbox           *events.Outbox
	Plan             plan.Provider
	Pool             pond.Pool           `optional:"true"`
	Locks            *lock.Manager       `optional:"true"`
	AuditSvc         auditdomain.Service `optional:"true"`
	Clock            clock.Clock         `optional:"true"`
	ObsMetrics       *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	genID            *snowflake.Node
	repo             rewarddomain.Repository
	stock            rewarddomain.Stock
	networkSvc       networkdomain.Service
	volumeSvc        volumedomain.Service
	qualificationSvc qualificationdomain.Service
	outbox           *events.Outbox
	plan             plan.Provider
	pool             pond.Pool
	locks            *lock.Manager
	auditSvc         auditdomain.Service
	clock            clock.Clock
	obsMetrics       *obsmetrics.Metrics
}

func NewService(p Params) rewarddomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	pool := p.Pool
	if pool == nil {
		pool = pond.NewPool(4)
	}
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("reward.service"),
		genID:            p.GenID,
		repo:             p.Repo,
		stock:            p.Stock,
		networkSvc:       p.NetworkSvc,
		volumeSvc:        p.VolumeSvc,
		qualificationSvc: p.QualificationSvc,
		outbox:           p.Outbox,
		plan:             p.Plan,
		pool:             pool,
		locks:            p.Locks,
		auditSvc:         p.AuditSvc,
		clock:            c,
		obsMetrics:       p.ObsMetrics,
	}
}

// standing is the predicate input plus the raw numbers kept on the
// allocation snapshot.
type standing struct {
	member *networkdomain.Member
	input  rewarddomain.Input
}

func (s *Service) standingOf(ctx context.Context, p plan.Plan, memberID snowflake.ID) (*standing, error) {
	member, err := s.networkSvc.Get(ctx, memberID)
	if err != nil {
		if errors.Is(err, networkdomain.ErrMemberNotFound) {
			return nil, rewarddomain.ErrMemberNotFound
		}
		return nil, err
	}

	in := rewarddomain.Input{Tier: member.CurrentTier, TeamVolume: decimal.Zero, MonthlyFee: decimal.Zero}
	record, err := s.volumeSvc.Latest(ctx, memberID)
	switch {
	case err == nil:
		in.ActiveReferrals = record.ActiveReferralsCount
		in.TeamVolume = record.TeamVolume
		in.TeamDepth = record.TeamDepth
	case errors.Is(err, volumedomain.ErrVolumeNotFound):
	default:
		return nil, err
	}
	if tier, ok := p.Tier(member.CurrentTier); ok {
		in.MonthlyFee = tier.MonthlyFee
	}
	progress, err := s.qualificationSvc.Progress(ctx, memberID, member.CurrentTier)
	if err != nil {
		return nil, err
	}
	in.SustainedMonths = progress.ConsecutiveMonths
	return &standing{member: member, input: in}, nil
}

func (s *Service) EvaluateRewardEligibility(ctx context.Context, memberID snowflake.ID, rewardCode string) (eval *rewarddomain.Evaluation, err error) {
	p := s.plan.Current()
	reward, ok := p.Reward(strings.TrimSpace(rewardCode))
	if !ok {
		return nil, rewarddomain.ErrRewardNotFound
	}
	ctx, span := tracing.Start(ctx, "reward.EvaluateRewardEligibility",
		attribute.String("member_id", memberID.String()),
		attribute.String("reward_code", reward.Code))
	defer func() { tracing.End(span, err) }()

	release, err := s.lockMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	defer release()

	eval = &rewarddomain.Evaluation{MemberID: memberID, RewardCode: reward.Code}
	existing, err := s.repo.FindActive(ctx, s.db, memberID, reward.Code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		eval.Outcome = rewarddomain.OutcomeAlreadyAllocated
		eval.Allocation = existing
		return eval, nil
	}

	st, err := s.standingOf(ctx, p, memberID)
	if err != nil {
		return nil, err
	}
	if unmet := rewarddomain.Evaluate(reward, st.input); len(unmet) > 0 {
		eval.Outcome = rewarddomain.OutcomeIneligible
		eval.Unmet = unmet
		return eval, nil
	}

	now := s.clock.Now().UTC()
	allocation := &rewarddomain.Allocation{
		ID:                     s.genID.Generate(),
		MemberID:               memberID,
		RewardCode:             reward.Code,
		Status:                 rewarddomain.AllocationStatusAllocated,
		TeamVolumeAtAllocation: st.input.TeamVolume,
		ReferralsAtAllocation:  st.input.ActiveReferrals,
		DepthAtAllocation:      st.input.TeamDepth,
		TierAtAllocation:       st.input.Tier,
		AllocatedAt:            now,
		MaintenanceDueAt:       now.Add(p.MaintenanceInterval),
		UpdatedAt:              now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reserved, err := s.stock.Reserve(ctx, tx, reward.Code, now)
		if err != nil {
			return err
		}
		if !reserved {
			return rewarddomain.ErrOutOfStock
		}
		if err := s.repo.Insert(ctx, tx, allocation); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, "", "reward.allocated", allocation, map[string]any{
			"team_volume": allocation.TeamVolumeAtAllocation.StringFixed(2),
			"referrals":   allocation.ReferralsAtAllocation,
			"depth":       allocation.DepthAtAllocation,
			"tier":        allocation.TierAtAllocation,
		}); err != nil {
			return err
		}
		return s.publish(ctx, tx, events.EventRewardAllocated, allocation, allocation.ID.String())
	})
	switch {
	case errors.Is(err, rewarddomain.ErrOutOfStock):
		s.log.Info("reward out of stock",
			zap.String("member_id", memberID.String()),
			zap.String("reward_code", reward.Code))
		s.obsMetrics.RecordRewardAllocation(ctx, reward.Code, string(rewarddomain.OutcomeOutOfStock))
		eval.Outcome = rewarddomain.OutcomeOutOfStock
		return eval, nil
	case pkgdb.IsDuplicateKeyErr(err):
		existing, findErr := s.repo.FindActive(ctx, s.db, memberID, reward.Code)
		if findErr != nil {
			return nil, findErr
		}
		eval.Outcome = rewarddomain.OutcomeAlreadyAllocated
		eval.Allocation = existing
		return eval, nil
	case err != nil:
		return nil, err
	}

	s.obsMetrics.RecordRewardAllocation(ctx, reward.Code, string(allocation.Status))
	s.log.Info("reward allocated",
		zap.String("member_id", memberID.String()),
		zap.String("reward_code", reward.Code),
		zap.String("allocation_id", allocation.ID.String()))
	eval.Outcome = rewarddomain.OutcomeAllocated
	eval.Allocation = allocation
	return eval, nil
}

// EligibilitySweep evaluates every member against every reward. Stock
// exhaustion is reported per item and retried on the next run.
func (s *Service) EligibilitySweep(ctx context.Context) (result batch.Result, err error) {
	ctx, span := tracing.Start(ctx, "reward.EligibilitySweep")
	defer func() { tracing.End(span, err) }()

	members, err := s.networkSvc.ListAll(ctx)
	if err != nil {
		return batch.Result{}, err
	}
	rewards := s.plan.Current().Rewards

	collector := &batch.Collector{}
	group := s.pool.NewGroupContext(ctx)
	for _, m := range members {
		memberID := m.ID
		group.Submit(func() {
			for _, r := range rewards {
				itemID := fmt.Sprintf("%d:%s", memberID, r.Code)
				eval, err := s.EvaluateRewardEligibility(ctx, memberID, r.Code)
				switch {
				case err != nil:
					collector.Fail(itemID, classify(err), err.Error())
				case eval.Outcome == rewarddomain.OutcomeAllocated:
					collector.Succeed()
				case eval.Outcome == rewarddomain.OutcomeOutOfStock:
					collector.Fail(itemID, batch.KindBusinessRule, rewarddomain.ErrOutOfStock.Error())
				default:
					collector.Skip()
				}
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
	s.log.Info("reward eligibility sweep finished",
		zap.Int("processed", result.Processed),
		zap.Int("allocated", result.Succeeded),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

// CheckMaintenance re-runs the eligibility predicate for an allocation.
// Falling short moves it to violation and keeps the original violation
// start on later failing checks; passing clears the violation.
func (s *Service) CheckMaintenance(ctx context.Context, allocationID snowflake.ID) (out *rewarddomain.Allocation, err error) {
	ctx, span := tracing.Start(ctx, "reward.CheckMaintenance", attribute.String("allocation_id", allocationID.String()))
	defer func() { tracing.End(span, err) }()

	current, err := s.Get(ctx, allocationID)
	if err != nil {
		return nil, err
	}
	if !current.Status.UnderMaintenance() {
		return nil, rewarddomain.ErrInvalidTransition
	}
	p := s.plan.Current()
	reward, ok := p.Reward(current.RewardCode)
	if !ok {
		return nil, rewarddomain.ErrRewardNotFound
	}

	release, err := s.lockMember(ctx, current.MemberID)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := s.standingOf(ctx, p, current.MemberID)
	if err != nil {
		return nil, err
	}
	unmet := rewarddomain.Evaluate(reward, st.input)
	now := s.clock.Now().UTC()

	var transitioned events.EventType
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := s.loadForUpdate(ctx, tx, allocationID)
		if err != nil {
			return err
		}
		if !a.Status.UnderMaintenance() {
			return rewarddomain.ErrInvalidTransition
		}

		previous := a.Status
		if len(unmet) > 0 {
			if previous != rewarddomain.AllocationStatusMaintenanceViolation {
				started := now
				a.ViolationStartedAt = &started
				transitioned = events.EventRewardMaintenanceViolation
			}
			a.Status = rewarddomain.AllocationStatusMaintenanceViolation
		} else {
			if previous == rewarddomain.AllocationStatusMaintenanceViolation {
				transitioned = events.EventRewardMaintenanceRestored
			}
			a.Status = rewarddomain.AllocationStatusMaintenanceCompliant
			a.ViolationStartedAt = nil
		}
		checked := now
		a.LastCheckedAt = &checked
		a.MaintenanceDueAt = now.Add(p.MaintenanceInterval)
		a.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, a); err != nil {
			return err
		}

		if transitioned != "" {
			action := "reward.maintenance_violation"
			if transitioned == events.EventRewardMaintenanceRestored {
				action = "reward.maintenance_restored"
			}
			if err := s.audit(ctx, tx, "", action, a, map[string]any{
				"from":  string(previous),
				"to":    string(a.Status),
				"unmet": unmet,
			}); err != nil {
				return err
			}
			if err := s.publish(ctx, tx, transitioned, a, fmt.Sprintf("%d:%d", a.ID, now.Unix())); err != nil {
				return err
			}
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	if transitioned != "" {
		s.obsMetrics.RecordRewardAllocation(ctx, out.RewardCode, string(out.Status))
	}
	return out, nil
}

func (s *Service) MaintenanceSweep(ctx context.Context) (result batch.Result, err error) {
	ctx, span := tracing.Start(ctx, "reward.MaintenanceSweep")
	defer func() { tracing.End(span, err) }()

	due, err := s.repo.ListDue(ctx, s.db, s.clock.Now().UTC())
	if err != nil {
		return batch.Result{}, err
	}

	collector := &batch.Collector{}
	group := s.pool.NewGroupContext(ctx)
	for _, a := range due {
		allocationID := a.ID
		group.Submit(func() {
			if _, err := s.CheckMaintenance(ctx, allocationID); err != nil {
				collector.Fail(allocationID.String(), classify(err), err.Error())
				return
			}
			collector.Succeed()
		})
	}
	if err := group.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, pond.ErrGroupStopped) {
			return collector.Result(), ctx.Err()
		}
		return collector.Result(), err
	}

	result = collector.Result()
	s.log.Info("reward maintenance sweep finished",
		zap.Int("due", len(due)),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

func (s *Service) ViolationDuration(ctx context.Context, allocationID snowflake.ID) (time.Duration, error) {
	a, err := s.Get(ctx, allocationID)
	if err != nil {
		return 0, err
	}
	return a.ViolationDuration(s.clock.Now().UTC()), nil
}

func (s *Service) GraceExpired(ctx context.Context, allocationID snowflake.ID) (bool, error) {
	a, err := s.Get(ctx, allocationID)
	if err != nil {
		return false, err
	}
	reward, ok := s.plan.Current().Reward(a.RewardCode)
	if !ok {
		return false, rewarddomain.ErrRewardNotFound
	}
	return a.GraceExpired(reward, s.clock.Now().UTC()), nil
}

func (s *Service) MarkDelivered(ctx context.Context, allocationID snowflake.ID, actor string) (*rewarddomain.Allocation, error) {
	return s.transition(ctx, allocationID, actor, "reward.delivered", func(a *rewarddomain.Allocation, now time.Time) error {
		if a.Status != rewarddomain.AllocationStatusAllocated {
			return rewarddomain.ErrInvalidTransition
		}
		a.Status = rewarddomain.AllocationStatusDelivered
		a.DeliveredAt = &now
		return nil
	})
}

// TransferOwnership hands the reward over for good; no further
// maintenance checks apply.
func (s *Service) TransferOwnership(ctx context.Context, allocationID snowflake.ID, actor string) (*rewarddomain.Allocation, error) {
	return s.transition(ctx, allocationID, actor, "reward.ownership_transferred", func(a *rewarddomain.Allocation, now time.Time) error {
		switch a.Status {
		case rewarddomain.AllocationStatusDelivered, rewarddomain.AllocationStatusMaintenanceCompliant:
		default:
			return rewarddomain.ErrInvalidTransition
		}
		a.Status = rewarddomain.AllocationStatusOwnershipTransferred
		a.TransferredAt = &now
		return nil
	})
}

// Revoke records an operator's recovery decision and returns the unit to
// stock.
func (s *Service) Revoke(ctx context.Context, allocationID snowflake.ID, actor, reason string) (*rewarddomain.Allocation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, rewarddomain.ErrInvalidReason
	}
	return s.transition(ctx, allocationID, actor, "reward.revoked", func(a *rewarddomain.Allocation, now time.Time) error {
		if !a.Status.UnderMaintenance() {
			return rewarddomain.ErrInvalidTransition
		}
		a.Status = rewarddomain.AllocationStatusRevoked
		a.RevokedAt = &now
		a.RevokeReason = &reason
		return nil
	})
}

func (s *Service) transition(
	ctx context.Context,
	allocationID snowflake.ID,
	actor string,
	action string,
	apply func(a *rewarddomain.Allocation, now time.Time) error,
) (*rewarddomain.Allocation, error) {
	actor, err := resolveActor(ctx, actor)
	if err != nil {
		return nil, err
	}

	var out *rewarddomain.Allocation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := s.loadForUpdate(ctx, tx, allocationID)
		if err != nil {
			return err
		}
		previous := a.Status
		now := s.clock.Now().UTC()
		if err := apply(a, now); err != nil {
			return err
		}
		a.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, a); err != nil {
			return err
		}
		if a.Status == rewarddomain.AllocationStatusRevoked {
			if err := s.stock.Release(ctx, tx, a.RewardCode, now); err != nil {
				return err
			}
			if err := s.publish(ctx, tx, events.EventRewardRevoked, a, a.ID.String()); err != nil {
				return err
			}
		}
		metadata := map[string]any{"from": string(previous), "to": string(a.Status)}
		if a.RevokeReason != nil {
			metadata["reason"] = *a.RevokeReason
		}
		if err := s.audit(ctx, tx, actor, action, a, metadata); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordRewardAllocation(ctx, out.RewardCode, string(out.Status))
	return out, nil
}

func (s *Service) Get(ctx context.Context, allocationID snowflake.ID) (*rewarddomain.Allocation, error) {
	a, err := s.repo.FindByID(ctx, s.db, allocationID, false)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, rewarddomain.ErrAllocationNotFound
	}
	return a, nil
}

func (s *Service) ListByMember(ctx context.Context, memberID snowflake.ID) ([]rewarddomain.Allocation, error) {
	return s.repo.ListByMember(ctx, s.db, memberID)
}

// EnsureInventory creates stock rows for rewards in the plan. Existing
// rows keep their counters.
func (s *Service) EnsureInventory(ctx context.Context) error {
	now := s.clock.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range s.plan.Current().Rewards {
			if err := s.stock.Ensure(ctx, tx, r.Code, r.InitialQuantity, now); err != nil {
				return fmt.Errorf("ensure inventory %s: %w", r.Code, err)
			}
		}
		return nil
	})
}

func (s *Service) Restock(ctx context.Context, rewardCode string, quantity int) (*rewarddomain.Inventory, error) {
	if quantity <= 0 {
		return nil, rewarddomain.ErrInvalidQuantity
	}
	reward, ok := s.plan.Current().Reward(strings.TrimSpace(rewardCode))
	if !ok {
		return nil, rewarddomain.ErrRewardNotFound
	}
	now := s.clock.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.stock.Ensure(ctx, tx, reward.Code, 0, now); err != nil {
			return err
		}
		_, err := s.stock.Restock(ctx, tx, reward.Code, quantity, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("reward restocked", zap.String("reward_code", reward.Code), zap.Int("quantity", quantity))
	return s.Inventory(ctx, reward.Code)
}

func (s *Service) Inventory(ctx context.Context, rewardCode string) (*rewarddomain.Inventory, error) {
	inv, err := s.stock.Get(ctx, s.db, rewardCode)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, rewarddomain.ErrRewardNotFound
	}
	return inv, nil
}

func (s *Service) loadForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*rewarddomain.Allocation, error) {
	a, err := s.repo.FindByID(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, rewarddomain.ErrAllocationNotFound
	}
	return a, nil
}

func (s *Service) lockMember(ctx context.Context, memberID snowflake.ID) (lock.Release, error) {
	if s.locks == nil {
		return func() {}, nil
	}
	return s.locks.AcquireMembers(ctx, []snowflake.ID{memberID})
}

func (s *Service) publish(ctx context.Context, tx *gorm.DB, eventType events.EventType, a *rewarddomain.Allocation, dedupe string) error {
	return s.outbox.PublishTx(ctx, tx, events.Event{
		Type:        eventType,
		AggregateID: a.MemberID,
		DedupeKey:   fmt.Sprintf("%s:%s", eventType, dedupe),
		Payload: map[string]any{
			"allocation_id": a.ID.String(),
			"member_id":     a.MemberID.String(),
			"reward_code":   a.RewardCode,
			"status":        string(a.Status),
		},
	})
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actor, action string, a *rewarddomain.Allocation, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	var actorID *string
	actorType := ""
	if actor != "" {
		actorID = &actor
		actorType, _ = auditcontext.ActorFromContext(ctx)
		if actorType == "" {
			actorType = string(auditdomain.ActorTypeAdmin)
		}
	}
	targetID := a.ID.String()
	metadata["member_id"] = a.MemberID.String()
	metadata["reward_code"] = a.RewardCode
	return s.auditSvc.AuditLogTx(ctx, tx, actorType, actorID, action, "reward_allocation", &targetID, metadata)
}

func resolveActor(ctx context.Context, actor string) (string, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		_, actor = auditcontext.ActorFromContext(ctx)
	}
	if actor == "" {
		return "", rewarddomain.ErrInvalidActor
	}
	return actor, nil
}

func classify(err error) batch.FailureKind {
	switch {
	case errors.Is(err, lock.ErrLockContention):
		return batch.KindConcurrency
	case errors.Is(err, rewarddomain.ErrOutOfStock), errors.Is(err, rewarddomain.ErrInvalidTransition):
		return batch.KindBusinessRule
	default:
		return batch.KindDataIntegrity
	}
}
