package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/uplink/internal/audit/domain"
	"github.com/smallbiznis/uplink/internal/auditcontext"
	"github.com/smallbiznis/uplink/internal/clock"
	commissiondomain "github.com/smallbiznis/uplink/internal/commission/domain"
	"github.com/smallbiznis/uplink/internal/events"
	ledgerdomain "github.com/smallbiznis/uplink/internal/ledger/domain"
	"github.com/smallbiznis/uplink/internal/lock"
	networkdomain "github.com/smallbiznis/uplink/internal/network/domain"
	obsmetrics "github.com/smallbiznis/uplink/internal/observability/metrics"
	"github.com/smallbiznis/uplink/internal/observability/tracing"
	"github.com/smallbiznis/uplink/internal/plan"
	volumedomain "github.com/smallbiznis/uplink/internal/volume/domain"
	pkgdb "github.com/smallbiznis/uplink/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxTxRetries = 3

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       commissiondomain.Repository
	NetworkSvc networkdomain.Service
	VolumeSvc  volumedomain.Service
	LedgerSvc  ledgerdomain.Service
	Outbox     *events.Outbox
	Plan       plan.Provider
	Locks      *lock.Manager       `optional:"true"`
	AuditSvc   auditdomain.Service `optional:"true"`
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       commissiondomain.Repository
	networkSvc networkdomain.Service
	volumeSvc  volumedomain.Service
	ledgerSvc  ledgerdomain.Service
	outbox     *events.Outbox
	plan       plan.Provider
	locks      *lock.Manager
	auditSvc   auditdomain.Service
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) commissiondomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("commission.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		networkSvc: p.NetworkSvc,
		volumeSvc:  p.VolumeSvc,
		ledgerSvc:  p.LedgerSvc,
		outbox:     p.Outbox,
		plan:       p.Plan,
		locks:      p.Locks,
		auditSvc:   p.AuditSvc,
		clock:      c,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) ProcessTransaction(ctx context.Context, evt commissiondomain.TransactionEvent) (out []commissiondomain.Commission, err error) {
	started := time.Now()
	ref := strings.TrimSpace(evt.ExternalRef)
	txType := strings.ToLower(strings.TrimSpace(evt.Type))
	switch {
	case ref == "":
		return nil, commissiondomain.ErrInvalidExternalRef
	case evt.PayerID == 0:
		return nil, commissiondomain.ErrInvalidPayer
	case !evt.Amount.IsPositive(), !evt.Amount.Equal(evt.Amount.Round(2)):
		// amounts carry at most 2 decimals so each commission rounds once
		return nil, commissiondomain.ErrInvalidAmount
	case txType == "":
		return nil, commissiondomain.ErrInvalidTransactionType
	}

	ctx, span := tracing.Start(ctx, "commission.ProcessTransaction",
		attribute.String("external_ref", ref),
		attribute.String("transaction_type", txType))
	defer func() { tracing.End(span, err) }()

	sourceRef := commissiondomain.TransactionSourceRef(ref)
	existing, err := s.repo.FindTransactionByRef(ctx, s.db, ref)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.obsMetrics.RecordTransaction(ctx, txType, "duplicate")
		return s.repo.ListBySourceRef(ctx, s.db, sourceRef)
	}

	if _, err := s.networkSvc.Get(ctx, evt.PayerID); err != nil {
		if errors.Is(err, networkdomain.ErrMemberNotFound) {
			return nil, commissiondomain.ErrPayerNotFound
		}
		return nil, err
	}

	p := s.plan.Current()
	amount := evt.Amount
	qualifying := p.IsQualifying(txType)
	var postings []commissiondomain.Posting
	if qualifying {
		postings, err = s.cascade(ctx, p, evt.PayerID, amount)
		if err != nil {
			return nil, err
		}
	}

	release, err := s.lockMembers(ctx, commissiondomain.Beneficiaries(postings))
	if err != nil {
		s.obsMetrics.RecordTransaction(ctx, txType, "lock_contention")
		return nil, err
	}
	defer release()

	now := s.clock.Now().UTC()
	occurredAt := evt.OccurredAt.UTC()
	if evt.OccurredAt.IsZero() {
		occurredAt = now
	}
	status := commissiondomain.CommissionStatusPaid
	if p.HoldCommissions {
		status = commissiondomain.CommissionStatusPending
	}

	var duplicate bool
	err = s.withRetry(ctx, func() error {
		out = out[:0]
		duplicate = false
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			inserted, err := s.repo.InsertTransaction(ctx, tx, &commissiondomain.Transaction{
				ID:          s.genID.Generate(),
				ExternalRef: ref,
				PayerID:     evt.PayerID,
				Amount:      amount,
				Type:        txType,
				Qualifying:  qualifying,
				OccurredAt:  occurredAt,
				ProcessedAt: now,
			})
			if err != nil {
				return err
			}
			if !inserted {
				duplicate = true
				return nil
			}

			for _, posting := range postings {
				c := commissiondomain.Commission{
					ID:             s.genID.Generate(),
					SourceRef:      sourceRef,
					ReferrerID:     posting.BeneficiaryID,
					ReferredID:     evt.PayerID,
					CommissionType: posting.CommissionType,
					Level:          posting.Level,
					Rate:           posting.Rate,
					BaseAmount:     posting.BaseAmount,
					Amount:         posting.Amount,
					Currency:       p.Currency,
					Status:         status,
					CreatedAt:      now,
					UpdatedAt:      now,
				}
				if err := s.post(ctx, tx, &c, ledgerdomain.SourceTypeCommission, c.ID.String(), occurredAt); err != nil {
					return err
				}
				out = append(out, c)
			}
			return nil
		})
	})
	if err != nil {
		s.obsMetrics.RecordTransaction(ctx, txType, "failed")
		return nil, err
	}
	if duplicate {
		s.obsMetrics.RecordTransaction(ctx, txType, "duplicate")
		return s.repo.ListBySourceRef(ctx, s.db, sourceRef)
	}

	outcome := "posted"
	if !qualifying {
		outcome = "non_qualifying"
	}
	for _, c := range out {
		s.obsMetrics.RecordCommission(ctx, string(c.CommissionType), string(c.Status))
	}
	s.obsMetrics.RecordTransaction(ctx, txType, outcome)
	s.obsMetrics.ObserveCascade(ctx, time.Since(started))
	span.SetAttributes(attribute.Int("commissions", len(out)))
	s.log.Info("transaction processed",
		zap.String("external_ref", ref),
		zap.String("payer_id", evt.PayerID.String()),
		zap.String("outcome", outcome),
		zap.Int("commissions", len(out)))
	return out, nil
}

// cascade reads the upline and its latest volumes. Volumes are only read
// here, never written.
func (s *Service) cascade(ctx context.Context, p plan.Plan, payerID snowflake.ID, amount decimal.Decimal) ([]commissiondomain.Posting, error) {
	upline, err := s.networkSvc.Upline(ctx, payerID)
	if err != nil {
		return nil, err
	}
	if len(upline) == 0 {
		return nil, nil
	}

	ids := make([]snowflake.ID, 0, len(upline))
	for _, m := range upline {
		ids = append(ids, m.ID)
	}
	volumes, err := s.volumeSvc.LatestFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	ancestors := make([]commissiondomain.Ancestor, 0, len(upline))
	for _, m := range upline {
		a := commissiondomain.Ancestor{ID: m.ID, Active: m.IsActive(), Tier: m.CurrentTier}
		if v, ok := volumes[m.ID]; ok {
			a.Volume = &commissiondomain.VolumeSnapshot{
				TeamVolume:      v.TeamVolume,
				ActiveReferrals: v.ActiveReferralsCount,
				TeamDepth:       v.TeamDepth,
			}
		}
		ancestors = append(ancestors, a)
	}
	return commissiondomain.Cascade(p, amount, ancestors), nil
}

// post inserts a commission and, when it is paid, credits the beneficiary
// and books the ledger entry. A commission that already exists is left
// untouched.
func (s *Service) post(ctx context.Context, tx *gorm.DB, c *commissiondomain.Commission, sourceType ledgerdomain.LedgerSourceType, ledgerRef string, occurredAt time.Time) error {
	inserted, err := s.repo.InsertCommission(ctx, tx, c)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	if c.Status == commissiondomain.CommissionStatusPaid {
		if err := s.credit(ctx, tx, c.ReferrerID, c.Amount, c.Currency, sourceType, ledgerRef, ledgerdomain.AccountCodeCommissionExpense, occurredAt); err != nil {
			return err
		}
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		Type:        events.EventCommissionPosted,
		AggregateID: c.ReferrerID,
		DedupeKey:   fmt.Sprintf("%s:%d", events.EventCommissionPosted, c.ID),
		Payload:     commissionPayload(c),
	})
}

// credit moves delta into the member's balance and books the matching
// ledger entry. A balance can never go below zero, and a balance change
// whose ledger entry already exists is refused.
func (s *Service) credit(
	ctx context.Context,
	tx *gorm.DB,
	memberID snowflake.ID,
	delta decimal.Decimal,
	currency string,
	sourceType ledgerdomain.LedgerSourceType,
	sourceRef string,
	counterAccount ledgerdomain.LedgerAccountCode,
	occurredAt time.Time,
) error {
	balance, err := s.repo.FindBalance(ctx, tx, memberID, true)
	if err != nil {
		return err
	}
	if balance == nil {
		balance = &commissiondomain.MemberBalance{MemberID: memberID}
	}
	next := balance.Balance.Add(delta)
	if next.IsNegative() {
		return commissiondomain.ErrInsufficientBalance
	}
	balance.Balance = next
	balance.TotalEarned = balance.TotalEarned.Add(delta)
	balance.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.UpsertBalance(ctx, tx, balance); err != nil {
		return err
	}

	inserted, err := s.ledgerSvc.PostTx(ctx, tx, ledgerdomain.Entry{
		SourceType: sourceType,
		SourceRef:  sourceRef,
		Currency:   currency,
		OccurredAt: occurredAt,
		Lines:      ledgerdomain.Transfer(counterAccount, ledgerdomain.AccountCodeMemberPayable, memberID, delta),
	})
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("%w: %s %s", commissiondomain.ErrDuplicateLedgerEntry, sourceType, sourceRef)
	}
	return nil
}

func (s *Service) Approve(ctx context.Context, id snowflake.ID, actor string) (*commissiondomain.Commission, error) {
	actor, err := resolveActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	release, err := s.lockMembers(ctx, []snowflake.ID{current.ReferrerID})
	if err != nil {
		return nil, err
	}
	defer release()

	var approved *commissiondomain.Commission
	err = s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			c, err := s.loadForUpdate(ctx, tx, id)
			if err != nil {
				return err
			}
			if c.Status != commissiondomain.CommissionStatusPending {
				return commissiondomain.ErrCommissionNotPending
			}
			now := s.clock.Now().UTC()
			c.Status = commissiondomain.CommissionStatusPaid
			c.UpdatedAt = now
			if _, err := s.repo.UpdateStatus(ctx, tx, c, commissiondomain.CommissionStatusPending); err != nil {
				return err
			}
			if err := s.credit(ctx, tx, c.ReferrerID, c.Amount, c.Currency, ledgerdomain.SourceTypeCommissionApproval, c.ID.String(), ledgerdomain.AccountCodeCommissionExpense, now); err != nil {
				return err
			}
			if err := s.audit(ctx, tx, actor, "commission.approved", c, map[string]any{
				"amount": c.Amount.StringFixed(2),
			}); err != nil {
				return err
			}
			approved = c
			return s.outbox.PublishTx(ctx, tx, events.Event{
				Type:        events.EventCommissionApproved,
				AggregateID: c.ReferrerID,
				DedupeKey:   fmt.Sprintf("%s:%d", events.EventCommissionApproved, c.ID),
				Payload:     commissionPayload(c),
			})
		})
	})
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordCommission(ctx, string(approved.CommissionType), string(approved.Status))
	return approved, nil
}

func (s *Service) Reject(ctx context.Context, id snowflake.ID, actor, reason string) (*commissiondomain.Commission, error) {
	actor, err := resolveActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, commissiondomain.ErrInvalidReason
	}

	var rejected *commissiondomain.Commission
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := s.loadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if c.Status != commissiondomain.CommissionStatusPending {
			return commissiondomain.ErrCommissionNotPending
		}
		c.Status = commissiondomain.CommissionStatusRejected
		c.AdjustedBy = &actor
		c.AdjustmentReason = &reason
		c.UpdatedAt = s.clock.Now().UTC()
		if _, err := s.repo.UpdateStatus(ctx, tx, c, commissiondomain.CommissionStatusPending); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, actor, "commission.rejected", c, map[string]any{
			"amount": c.Amount.StringFixed(2),
			"reason": reason,
		}); err != nil {
			return err
		}
		rejected = c
		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type:        events.EventCommissionRejected,
			AggregateID: c.ReferrerID,
			DedupeKey:   fmt.Sprintf("%s:%d", events.EventCommissionRejected, c.ID),
			Payload:     commissionPayload(c),
		})
	})
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordCommission(ctx, string(rejected.CommissionType), string(rejected.Status))
	return rejected, nil
}

// Adjust corrects the amount of a paid commission in place. The previous
// amount, actor, reason and time are kept on the record, the beneficiary's
// balance moves by the delta and an adjustment ledger entry is booked.
func (s *Service) Adjust(ctx context.Context, req commissiondomain.AdjustRequest) (*commissiondomain.Commission, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, commissiondomain.ErrInvalidReason
	}
	actor, err := resolveActor(ctx, req.Actor)
	if err != nil {
		return nil, err
	}
	if req.NewAmount.IsNegative() {
		return nil, commissiondomain.ErrInvalidAmount
	}
	newAmount := req.NewAmount.Round(2)

	current, err := s.Get(ctx, req.CommissionID)
	if err != nil {
		return nil, err
	}
	release, err := s.lockMembers(ctx, []snowflake.ID{current.ReferrerID})
	if err != nil {
		return nil, err
	}
	defer release()

	var adjusted *commissiondomain.Commission
	err = s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			c, err := s.loadForUpdate(ctx, tx, req.CommissionID)
			if err != nil {
				return err
			}
			if c.Status != commissiondomain.CommissionStatusPaid {
				return commissiondomain.ErrCommissionNotPaid
			}
			delta := newAmount.Sub(c.Amount)
			if delta.IsZero() {
				return commissiondomain.ErrNoChange
			}

			now := s.clock.Now().UTC()
			ledgerRef := fmt.Sprintf("%d:%d", c.ID, s.genID.Generate())
			if err := s.credit(ctx, tx, c.ReferrerID, delta, c.Currency, ledgerdomain.SourceTypeCommissionAdjustment, ledgerRef, ledgerdomain.AccountCodeAdjustment, now); err != nil {
				return err
			}

			previous := c.Amount
			c.PreviousAmount = decimal.NewNullDecimal(previous)
			c.Amount = newAmount
			c.AdjustedBy = &actor
			c.AdjustmentReason = &reason
			c.AdjustedAt = &now
			c.UpdatedAt = now
			if err := s.repo.UpdateAdjustment(ctx, tx, c); err != nil {
				return err
			}

			if err := s.audit(ctx, tx, actor, "commission.adjusted", c, map[string]any{
				"previous_amount": previous.StringFixed(2),
				"new_amount":      newAmount.StringFixed(2),
				"delta":           delta.StringFixed(2),
				"reason":          reason,
			}); err != nil {
				return err
			}
			adjusted = c

			payload := commissionPayload(c)
			payload["previous_amount"] = previous.StringFixed(2)
			return s.outbox.PublishTx(ctx, tx, events.Event{
				Type:        events.EventCommissionAdjusted,
				AggregateID: c.ReferrerID,
				DedupeKey:   fmt.Sprintf("%s:%s", events.EventCommissionAdjusted, ledgerRef),
				Payload:     payload,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("commission adjusted",
		zap.String("commission_id", adjusted.ID.String()),
		zap.String("actor", actor),
		zap.String("previous_amount", adjusted.PreviousAmount.Decimal.StringFixed(2)),
		zap.String("new_amount", adjusted.Amount.StringFixed(2)))
	return adjusted, nil
}

func (s *Service) PostAchievementBonusTx(ctx context.Context, tx *gorm.DB, memberID snowflake.ID, tier string, amount decimal.Decimal) (bool, error) {
	tier = strings.TrimSpace(tier)
	if tier == "" {
		return false, commissiondomain.ErrInvalidTier
	}
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return false, nil
	}

	now := s.clock.Now().UTC()
	c := commissiondomain.Commission{
		ID:             s.genID.Generate(),
		SourceRef:      commissiondomain.AchievementSourceRef(tier),
		ReferrerID:     memberID,
		ReferredID:     memberID,
		CommissionType: commissiondomain.CommissionTypeAchievement,
		Level:          0,
		Rate:           decimal.Zero,
		BaseAmount:     amount,
		Amount:         amount,
		Currency:       s.plan.Current().Currency,
		Status:         commissiondomain.CommissionStatusPaid,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inserted, err := s.repo.InsertCommission(ctx, tx, &c)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	ledgerRef := fmt.Sprintf("%d:%s", memberID, tier)
	if err := s.credit(ctx, tx, memberID, amount, c.Currency, ledgerdomain.SourceTypeAchievementBonus, ledgerRef, ledgerdomain.AccountCodeCommissionExpense, now); err != nil {
		return false, err
	}
	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		Type:        events.EventCommissionPosted,
		AggregateID: memberID,
		DedupeKey:   fmt.Sprintf("%s:%d", events.EventCommissionPosted, c.ID),
		Payload:     commissionPayload(&c),
	}); err != nil {
		return false, err
	}
	s.obsMetrics.RecordCommission(ctx, string(c.CommissionType), string(c.Status))
	return true, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*commissiondomain.Commission, error) {
	c, err := s.repo.FindByID(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, commissiondomain.ErrCommissionNotFound
	}
	return c, nil
}

func (s *Service) ListByMember(ctx context.Context, memberID snowflake.ID) ([]commissiondomain.Commission, error) {
	return s.repo.ListByReferrer(ctx, s.db, memberID)
}

func (s *Service) Balance(ctx context.Context, memberID snowflake.ID) (*commissiondomain.MemberBalance, error) {
	balance, err := s.repo.FindBalance(ctx, s.db, memberID, false)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return &commissiondomain.MemberBalance{MemberID: memberID}, nil
	}
	return balance, nil
}

func (s *Service) loadForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*commissiondomain.Commission, error) {
	c, err := s.repo.FindByID(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, commissiondomain.ErrCommissionNotFound
	}
	return c, nil
}

func (s *Service) lockMembers(ctx context.Context, ids []snowflake.ID) (lock.Release, error) {
	if s.locks == nil || len(ids) == 0 {
		return func() {}, nil
	}
	return s.locks.AcquireMembers(ctx, ids)
}

// withRetry reruns op on serialization failures and lock timeouts.
func (s *Service) withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if pkgdb.IsRetryable(err) {
			s.log.Warn("retrying commission transaction", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, maxTxRetries), ctx))
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actor, action string, c *commissiondomain.Commission, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	actorType, _ := auditcontext.ActorFromContext(ctx)
	if actorType == "" {
		actorType = string(auditdomain.ActorTypeAdmin)
	}
	targetID := c.ID.String()
	metadata["referrer_id"] = c.ReferrerID.String()
	metadata["commission_type"] = string(c.CommissionType)
	return s.auditSvc.AuditLogTx(ctx, tx, actorType, &actor, action, "commission", &targetID, metadata)
}

func resolveActor(ctx context.Context, actor string) (string, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		_, actor = auditcontext.ActorFromContext(ctx)
	}
	if actor == "" {
		return "", commissiondomain.ErrInvalidActor
	}
	return actor, nil
}

func commissionPayload(c *commissiondomain.Commission) map[string]any {
	return map[string]any{
		"commission_id":   c.ID.String(),
		"source_ref":      c.SourceRef,
		"referrer_id":     c.ReferrerID.String(),
		"referred_id":     c.ReferredID.String(),
		"commission_type": string(c.CommissionType),
		"level":           c.Level,
		"amount":          c.Amount.StringFixed(2),
		"currency":        c.Currency,
		"status":          string(c.Status),
	}
}
