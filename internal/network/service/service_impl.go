package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/uplink/internal/audit/domain"
	"github.com/smallbiznis/uplink/internal/batch"
	"github.com/smallbiznis/uplink/internal/clock"
	networkdomain "github.com/smallbiznis/uplink/internal/network/domain"
	"github.com/smallbiznis/uplink/internal/observability/tracing"
	"github.com/smallbiznis/uplink/internal/plan"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     networkdomain.Repository
	Plan     plan.Provider
	AuditSvc auditdomain.Service `optional:"true"`
	Clock    clock.Clock         `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     networkdomain.Repository
	plan     plan.Provider
	auditSvc auditdomain.Service
	clock    clock.Clock
}

func NewService(p Params) networkdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("network.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		plan:     p.Plan,
		auditSvc: p.AuditSvc,
		clock:    c,
	}
}

func (s *Service) RegisterMember(ctx context.Context, req networkdomain.RegisterMemberRequest) (*networkdomain.Member, error) {
	status := req.SubscriptionStatus
	if status == "" {
		status = networkdomain.SubscriptionStatusActive
	}
	status, err := networkdomain.ParseSubscriptionStatus(string(status))
	if err != nil {
		return nil, err
	}

	p := s.plan.Current()
	tierCode := strings.TrimSpace(req.Tier)
	if tierCode == "" {
		tierCode = p.LowestTier().Code
	}
	if _, ok := p.Tier(tierCode); !ok {
		return nil, networkdomain.ErrInvalidTier
	}

	id := s.genID.Generate()
	if req.ID != nil && *req.ID != 0 {
		id = *req.ID
	}
	if req.ReferrerID != nil && *req.ReferrerID == id {
		return nil, networkdomain.ErrReferrerNotFound
	}

	now := s.clock.Now().UTC()
	member := &networkdomain.Member{
		ID:                 id,
		ReferrerID:         req.ReferrerID,
		SubscriptionStatus: status,
		CurrentTier:        tierCode,
		TierEnteredAt:      now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if existing != nil {
			return networkdomain.ErrMemberExists
		}

		path := []snowflake.ID{id}
		if req.ReferrerID != nil {
			referrer, err := s.repo.FindByID(ctx, tx, *req.ReferrerID)
			if err != nil {
				return err
			}
			if referrer == nil {
				return networkdomain.ErrReferrerNotFound
			}
			parentPath, err := referrer.Path()
			if err != nil || len(parentPath) == 0 {
				s.log.Warn("referrer path unavailable, using its id until the next rebuild",
					zap.String("referrer_id", referrer.ID.String()))
				parentPath = []snowflake.ID{referrer.ID}
			}
			path = append(append(make([]snowflake.ID, 0, len(parentPath)+1), parentPath...), id)
		}
		member.NetworkPath = networkdomain.EncodePath(path)
		member.NetworkLevel = len(path) - 1

		if err := s.repo.Insert(ctx, tx, member); err != nil {
			return err
		}
		if err := s.repo.InsertHistory(ctx, tx, &networkdomain.TierHistory{
			ID:         s.genID.Generate(),
			MemberID:   id,
			Tier:       tierCode,
			Reason:     networkdomain.TierChangeSignup,
			OccurredAt: now,
		}); err != nil {
			return err
		}
		return s.audit(ctx, tx, "member.registered", id, map[string]any{
			"referrer_id":   idString(req.ReferrerID),
			"tier":          tierCode,
			"network_level": member.NetworkLevel,
		})
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*networkdomain.Member, error) {
	member, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, networkdomain.ErrMemberNotFound
	}
	return member, nil
}

func (s *Service) Upline(ctx context.Context, id snowflake.ID) ([]networkdomain.Member, error) {
	member, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	path, err := member.Path()
	if err != nil {
		return nil, err
	}
	if len(path) <= 1 {
		return nil, nil
	}

	ancestors := path[:len(path)-1]
	members, err := s.repo.FindByIDs(ctx, s.db, ancestors)
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]networkdomain.Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}

	upline := make([]networkdomain.Member, 0, len(ancestors))
	for i := len(ancestors) - 1; i >= 0; i-- {
		m, ok := byID[ancestors[i]]
		if !ok {
			s.log.Error("ancestor missing from network store",
				zap.String("member_id", id.String()),
				zap.String("ancestor_id", ancestors[i].String()))
			continue
		}
		upline = append(upline, m)
	}
	return upline, nil
}

func (s *Service) DirectChildren(ctx context.Context, id snowflake.ID) ([]networkdomain.Member, error) {
	return s.repo.FindChildren(ctx, s.db, []snowflake.ID{id})
}

func (s *Service) Subtree(ctx context.Context, id snowflake.ID) ([]networkdomain.Member, error) {
	member, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.repo.FindByPathPrefix(ctx, s.db, member.NetworkPath)
}

func (s *Service) ListAll(ctx context.Context) ([]networkdomain.Member, error) {
	return s.repo.ListAll(ctx, s.db)
}

func (s *Service) SetSubscriptionStatus(ctx context.Context, id snowflake.ID, status networkdomain.SubscriptionStatus) error {
	status, err := networkdomain.ParseSubscriptionStatus(string(status))
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.repo.UpdateSubscriptionStatus(ctx, tx, id, status, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		if rows == 0 {
			return networkdomain.ErrMemberNotFound
		}
		return s.audit(ctx, tx, "member.subscription_changed", id, map[string]any{
			"subscription_status": string(status),
		})
	})
}

func (s *Service) TierHistory(ctx context.Context, id snowflake.ID) ([]networkdomain.TierHistory, error) {
	return s.repo.ListHistory(ctx, s.db, id)
}

func (s *Service) ChangeTierTx(ctx context.Context, tx *gorm.DB, change networkdomain.TierChange) error {
	if strings.TrimSpace(change.To) == "" || change.To == change.From || change.Reason == "" {
		return networkdomain.ErrInvalidTierChange
	}
	at := change.OccurredAt.UTC()
	if at.IsZero() {
		at = s.clock.Now().UTC()
	}
	if err := s.repo.UpdateTier(ctx, tx, change.MemberID, change.To, at); err != nil {
		return err
	}
	if err := s.repo.InsertHistory(ctx, tx, &networkdomain.TierHistory{
		ID:           s.genID.Generate(),
		MemberID:     change.MemberID,
		Tier:         change.To,
		PreviousTier: change.From,
		Reason:       change.Reason,
		OccurredAt:   at,
	}); err != nil {
		return err
	}
	return s.audit(ctx, tx, "member.tier_changed", change.MemberID, map[string]any{
		"from":   change.From,
		"to":     change.To,
		"reason": string(change.Reason),
	})
}

// RebuildPaths recomputes every path from the referrer links and applies
// the result in one transaction.
func (s *Service) RebuildPaths(ctx context.Context) (result batch.Result, err error) {
	ctx, span := tracing.Start(ctx, "network.RebuildPaths")
	defer func() { tracing.End(span, err) }()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		members, err := s.repo.ListAll(ctx, tx)
		if err != nil {
			return err
		}
		nodes := make([]networkdomain.Node, 0, len(members))
		current := make(map[snowflake.ID]networkdomain.Member, len(members))
		for _, m := range members {
			nodes = append(nodes, networkdomain.Node{ID: m.ID, ReferrerID: m.ReferrerID})
			current[m.ID] = m
		}

		assignments, failures := networkdomain.BuildPaths(nodes)
		failed := make(map[snowflake.ID]networkdomain.PathFailureReason, len(failures))
		for _, f := range failures {
			failed[f.ID] = f.Reason
			s.log.Error("member treated as orphan root",
				zap.String("member_id", f.ID.String()),
				zap.String("reason", string(f.Reason)))
		}

		result, err = s.apply(ctx, tx, assignments, current, failed)
		return err
	})
	if err != nil {
		return batch.Result{}, err
	}
	span.SetAttributes(
		attribute.Int("processed", result.Processed),
		attribute.Int("failed", len(result.Failed)),
	)
	s.log.Info("network paths rebuilt",
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

// RebuildSubtree recomputes the paths below rootID, rootID included.
func (s *Service) RebuildSubtree(ctx context.Context, rootID snowflake.ID) (result batch.Result, err error) {
	ctx, span := tracing.Start(ctx, "network.RebuildSubtree", attribute.String("root_id", rootID.String()))
	defer func() { tracing.End(span, err) }()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		root, err := s.repo.FindByID(ctx, tx, rootID)
		if err != nil {
			return err
		}
		if root == nil {
			return networkdomain.ErrMemberNotFound
		}

		failed := map[snowflake.ID]networkdomain.PathFailureReason{}
		base := []snowflake.ID{rootID}
		if root.ReferrerID != nil {
			parent, err := s.repo.FindByID(ctx, tx, *root.ReferrerID)
			if err != nil {
				return err
			}
			var parentPath []snowflake.ID
			if parent != nil {
				parentPath, _ = parent.Path()
			}
			if len(parentPath) == 0 || containsID(parentPath, rootID) {
				failed[rootID] = networkdomain.PathFailureMissingReferrer
				s.log.Error("subtree root treated as orphan root", zap.String("member_id", rootID.String()))
			} else {
				base = append(append(make([]snowflake.ID, 0, len(parentPath)+1), parentPath...), rootID)
			}
		}

		current := map[snowflake.ID]networkdomain.Member{rootID: *root}
		nodes := []networkdomain.Node{{ID: rootID, ReferrerID: root.ReferrerID}}
		frontier := []snowflake.ID{rootID}
		for len(frontier) > 0 {
			children, err := s.repo.FindChildren(ctx, tx, frontier)
			if err != nil {
				return err
			}
			frontier = frontier[:0]
			for _, child := range children {
				if _, seen := current[child.ID]; seen {
					continue
				}
				current[child.ID] = child
				nodes = append(nodes, networkdomain.Node{ID: child.ID, ReferrerID: child.ReferrerID})
				frontier = append(frontier, child.ID)
			}
		}

		rootAssignment := networkdomain.Assignment{ID: rootID, Path: base}
		assignments := networkdomain.BuildSubtree(rootAssignment, nodes)
		result, err = s.apply(ctx, tx, assignments, current, failed)
		return err
	})
	if err != nil {
		return batch.Result{}, err
	}
	return result, nil
}

func (s *Service) apply(
	ctx context.Context,
	tx *gorm.DB,
	assignments []networkdomain.Assignment,
	current map[snowflake.ID]networkdomain.Member,
	failed map[snowflake.ID]networkdomain.PathFailureReason,
) (batch.Result, error) {
	var result batch.Result
	now := s.clock.Now().UTC()
	changed := 0
	for _, a := range assignments {
		encoded := a.Encoded()
		if m, ok := current[a.ID]; !ok || m.NetworkPath != encoded || m.NetworkLevel != a.Level {
			if err := s.repo.UpdatePath(ctx, tx, a.ID, encoded, a.Level, now); err != nil {
				return batch.Result{}, err
			}
			changed++
		}
		if reason, ok := failed[a.ID]; ok {
			result.Fail(a.ID.String(), batch.KindDataIntegrity, string(reason))
			continue
		}
		result.Succeed()
	}
	s.log.Debug("paths applied", zap.Int("assignments", len(assignments)), zap.Int("changed", changed))
	return result, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, action string, memberID snowflake.ID, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	targetID := memberID.String()
	if err := s.auditSvc.AuditLogTx(ctx, tx, "", nil, action, "member", &targetID, metadata); err != nil {
		s.log.Warn("failed to write member audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func containsID(ids []snowflake.ID, id snowflake.ID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func idString(id *snowflake.ID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

