package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/uplink/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const planYAML = `
plan:
  currency: kes
  graceMonths: 2
  qualifyingTransactionTypes: [subscription]
  tiers:
    - code: basic
      rank: 1
      monthlyFee: 1000
      levelRates: [10, 5, 2.5]
    - code: pro
      rank: 2
      monthlyFee: 5000
      levelRates: [12, 6, 3]
      requiredReferrals: 2
      requiredTeamVolume: 20000
      achievementBonus: 750.50
`

func TestNewPlanHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yml")
	require.NoError(t, os.WriteFile(path, []byte(planYAML), 0o600))

	holder, err := NewPlanHolder(Config{PlanConfigPath: path}, zap.NewNop())
	require.NoError(t, err)

	p := holder.Current()
	assert.Equal(t, "KES", p.Currency)
	assert.Equal(t, 2, p.GraceMonths)
	require.Len(t, p.Tiers, 2)

	pro, ok := p.Tier("pro")
	require.True(t, ok)
	assert.True(t, pro.AchievementBonus.Equal(decimal.RequireFromString("750.50")))
	assert.True(t, pro.LevelRate(3).Equal(decimal.NewFromInt(3)))
}

func TestNewPlanHolderRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yml")
	require.NoError(t, os.WriteFile(path, []byte("plan:\n  currency: usd\n"), 0o600))

	_, err := NewPlanHolder(Config{PlanConfigPath: path}, zap.NewNop())
	assert.ErrorIs(t, err, plan.ErrInvalidPlan)
}

func TestPlanHolderStoreValidates(t *testing.T) {
	holder := NewStaticPlanHolder(plan.Default())

	assert.False(t, holder.Store(plan.Plan{}))
	assert.Equal(t, plan.Default().Currency, holder.Current().Currency)

	next := plan.Default()
	next.GraceMonths = 9
	assert.True(t, holder.Store(next))
	assert.Equal(t, 9, holder.Current().GraceMonths)
}
