package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/alitto/pond/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/uplink/internal/batch"
	"github.com/smallbiznis/uplink/internal/clock"
	networkdomain "github.com/smallbiznis/uplink/internal/network/domain"
	"github.com/smallbiznis/uplink/internal/observability/tracing"
	"github.com/smallbiznis/uplink/internal/plan"
	volumedomain "github.com/smallbiznis/uplink/internal/volume/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       volumedomain.Repository
	NetworkSvc networkdomain.Service
	Plan       plan.Provider
	Pool       pond.Pool   `optional:"true"`
	Clock      clock.Clock `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       volumedomain.Repository
	networkSvc networkdomain.Service
	plan       plan.Provider
	pool       pond.Pool
	clock      clock.Clock
}

func NewService(p Params) volumedomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	pool := p.Pool
	if pool == nil {
		pool = pond.NewPool(4)
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("volume.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		networkSvc: p.NetworkSvc,
		plan:       p.Plan,
		pool:       pool,
		clock:      c,
	}
}

type memberNode struct {
	id       snowflake.ID
	referrer *snowflake.ID
	level    int
	active   bool
	children []snowflake.ID
}

// ComputePeriodVolumes aggregates bottom-up one network level at a time.
// Members of a level are computed concurrently; the next level starts only
// once the whole level is done.
func (s *Service) ComputePeriodVolumes(ctx context.Context, period volumedomain.Period) (result batch.Result, err error) {
	if !period.Valid() {
		return batch.Result{}, volumedomain.ErrInvalidPeriod
	}
	ctx, span := tracing.Start(ctx, "volume.ComputePeriodVolumes", attribute.String("period", period.String()))
	defer func() { tracing.End(span, err) }()

	members, err := s.networkSvc.ListAll(ctx)
	if err != nil {
		return batch.Result{}, err
	}
	personal, err := s.personalVolumes(ctx, period)
	if err != nil {
		return batch.Result{}, err
	}

	nodes := make(map[snowflake.ID]*memberNode, len(members))
	levels := make(map[snowflake.ID]int, len(members))
	for _, m := range members {
		nodes[m.ID] = &memberNode{
			id:       m.ID,
			referrer: m.ReferrerID,
			level:    m.NetworkLevel,
			active:   m.IsActive(),
		}
		levels[m.ID] = m.NetworkLevel
	}
	for _, n := range nodes {
		if n.referrer == nil {
			continue
		}
		if parent, ok := nodes[*n.referrer]; ok && parent.id != n.id {
			parent.children = append(parent.children, n.id)
		}
	}

	computed := xsync.NewMap[snowflake.ID, volumedomain.Computed]()
	excluded := xsync.NewMap[snowflake.ID, int]()
	collector := &batch.Collector{}

	for _, ids := range volumedomain.LevelOrder(levels) {
		group := s.pool.NewGroupContext(ctx)
		for _, id := range ids {
			node := nodes[id]
			group.Submit(func() {
				s.computeMember(node, nodes, personal, computed, excluded, collector)
			})
		}
		if err := group.Wait(); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, pond.ErrGroupStopped) {
				return batch.Result{}, ctx.Err()
			}
			return batch.Result{}, err
		}
	}

	records := make([]volumedomain.TeamVolume, 0, computed.Size())
	now := s.clock.Now().UTC()
	computed.Range(func(_ snowflake.ID, c volumedomain.Computed) bool {
		rec := c.Record(s.genID.Generate(), period)
		rec.ComputedAt = now
		records = append(records, rec)
		return true
	})
	sort.Slice(records, func(i, j int) bool { return records[i].MemberID < records[j].MemberID })

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range records {
			if err := s.repo.Upsert(ctx, tx, &records[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return batch.Result{}, err
	}
	for range records {
		collector.Succeed()
	}

	result = collector.Result()
	span.SetAttributes(attribute.Int("processed", result.Processed), attribute.Int("failed", len(result.Failed)))
	s.log.Info("period volumes computed",
		zap.String("period", period.String()),
		zap.Int("members", len(members)),
		zap.Int("written", len(records)),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

func (s *Service) computeMember(
	node *memberNode,
	nodes map[snowflake.ID]*memberNode,
	personal map[snowflake.ID]decimal.Decimal,
	computed *xsync.Map[snowflake.ID, volumedomain.Computed],
	excluded *xsync.Map[snowflake.ID, int],
	collector *batch.Collector,
) {
	children := make([]volumedomain.ChildResult, 0, len(node.children))
	depth := 0
	for _, childID := range node.children {
		child := nodes[childID]
		if child.level != node.level+1 {
			continue
		}
		result := volumedomain.ChildResult{MemberID: childID, Active: child.active}
		if c, ok := computed.Load(childID); ok {
			result.TeamVolume = c.TeamVolume
			result.TeamDepth = c.TeamDepth
		} else {
			result.Excluded = true
			result.TeamDepth, _ = excluded.Load(childID)
		}
		if result.TeamDepth+1 > depth {
			depth = result.TeamDepth + 1
		}
		children = append(children, result)
	}

	fail := func(reason error) {
		excluded.Store(node.id, depth)
		collector.Fail(node.id.String(), batch.KindDataIntegrity, reason.Error())
		s.log.Error("member excluded from period volumes",
			zap.String("member_id", node.id.String()),
			zap.Error(reason))
	}

	if node.referrer != nil {
		if parent, ok := nodes[*node.referrer]; ok && parent.level != node.level-1 {
			fail(fmt.Errorf("%w: level %d under parent level %d", volumedomain.ErrLevelMismatch, node.level, parent.level))
			return
		}
	}

	c, err := volumedomain.Compute(node.id, personal[node.id], children)
	if err != nil {
		fail(err)
		return
	}
	computed.Store(node.id, c)
}

func (s *Service) personalVolumes(ctx context.Context, period volumedomain.Period) (map[snowflake.ID]decimal.Decimal, error) {
	rows, err := s.repo.ListTransactions(ctx, s.db, period.Start, period.End)
	if err != nil {
		return nil, err
	}
	p := s.plan.Current()
	out := make(map[snowflake.ID]decimal.Decimal)
	for _, row := range rows {
		if !p.IsQualifying(row.Type) {
			continue
		}
		out[row.PayerID] = out[row.PayerID].Add(row.Amount)
	}
	return out, nil
}

func (s *Service) ForPeriod(ctx context.Context, memberID snowflake.ID, period volumedomain.Period) (*volumedomain.TeamVolume, error) {
	if !period.Valid() {
		return nil, volumedomain.ErrInvalidPeriod
	}
	record, err := s.repo.FindByMemberPeriod(ctx, s.db, memberID, period.Start)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, volumedomain.ErrVolumeNotFound
	}
	return record, nil
}

func (s *Service) Latest(ctx context.Context, memberID snowflake.ID) (*volumedomain.TeamVolume, error) {
	record, err := s.repo.FindLatest(ctx, s.db, memberID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, volumedomain.ErrVolumeNotFound
	}
	return record, nil
}

func (s *Service) LatestFor(ctx context.Context, memberIDs []snowflake.ID) (map[snowflake.ID]volumedomain.TeamVolume, error) {
	records, err := s.repo.FindByMembers(ctx, s.db, memberIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID]volumedomain.TeamVolume, len(memberIDs))
	for _, rec := range records {
		if existing, ok := out[rec.MemberID]; ok && !rec.PeriodStart.After(existing.PeriodStart) {
			continue
		}
		out[rec.MemberID] = rec
	}
	return out, nil
}
