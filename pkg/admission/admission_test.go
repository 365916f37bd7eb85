package admission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangarlabs/hangar/pkg/runtime"
	"github.com/hangarlabs/hangar/pkg/types"
)

type fixedCounts struct {
	owned  int
	counts runtime.Counts
	err    error
}

func (f *fixedCounts) CountProjectsByOwner(ctx context.Context, owner string) (int, error) {
	return f.owned, f.err
}

func (f *fixedCounts) ManagedCounts(ctx context.Context) (runtime.Counts, error) {
	return f.counts, f.err
}

func kindOf(t *testing.T, err error) types.ErrorKind {
	t.Helper()
	var taxErr *types.Error
	require.ErrorAs(t, err, &taxErr)
	return taxErr.Kind
}

func TestAdmitCreateAccountLimits(t *testing.T) {
	tests := []struct {
		name     string
		tier     types.AccountTier
		owned    int
		wantKind types.ErrorKind
	}{
		{"basic under limit", types.TierBasic, 2, ""},
		{"basic at limit", types.TierBasic, types.MaxProjectsDefault, types.KindProjectLimitExceeded},
		{"pro past soft limit", types.TierPro, types.MaxProjectsDefault, ""},
		{"pro at hard limit", types.TierPro, types.MaxProjectsExtra, types.KindProjectLimitExceeded},
		{"admin at hard limit", types.TierAdmin, types.MaxProjectsExtra, types.KindProjectLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := &fixedCounts{owned: tt.owned}
			c := NewController(deps, deps, Config{})
			claim := &types.Claim{Sub: "neo", Tier: tt.tier}

			err := c.AdmitCreate(context.Background(), claim, "matrix")
			if tt.wantKind == "" {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tt.wantKind, kindOf(t, err))
			}
		})
	}
}

func TestAdmitCreateCCHBypassesAccountCount(t *testing.T) {
	deps := &fixedCounts{owned: types.MaxProjectsExtra}
	c := NewController(deps, deps, Config{})
	claim := &types.Claim{Sub: "neo", Tier: types.TierBasic}

	err := c.AdmitCreate(context.Background(), claim, "cch24-sandbox")
	assert.NoError(t, err)
}

func TestAdmitStartGlobalBudget(t *testing.T) {
	deps := &fixedCounts{counts: runtime.Counts{Running: 10}}
	c := NewController(deps, deps, Config{MaxContainers: 10})

	err := c.AdmitStart(context.Background(), "matrix")
	assert.Equal(t, types.KindCapacityExhausted, kindOf(t, err))

	deps.counts.Running = 9
	assert.NoError(t, c.AdmitStart(context.Background(), "matrix"))
}

func TestAdmitStartCCHBudget(t *testing.T) {
	deps := &fixedCounts{counts: runtime.Counts{Running: 5, RunningCCH: 3}}
	c := NewController(deps, deps, Config{MaxContainers: 100, MaxCCHContainers: 3})

	err := c.AdmitStart(context.Background(), "cch24-sandbox")
	assert.Equal(t, types.KindCapacityExhausted, kindOf(t, err))

	// the cch budget does not apply to regular projects
	assert.NoError(t, c.AdmitStart(context.Background(), "matrix"))
}

func TestAdmitStartNoBudgetsConfigured(t *testing.T) {
	deps := &fixedCounts{err: errors.New("docker down")}
	c := NewController(deps, deps, Config{})

	// with no budgets the runtime is never consulted
	assert.NoError(t, c.AdmitStart(context.Background(), "matrix"))
}
