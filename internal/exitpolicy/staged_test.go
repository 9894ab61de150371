package exitpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-trader/internal/common"
	"perp-trader/internal/position"
)

func TestNewStagedTP(t *testing.T) {
	t.Parallel()

	p, err := NewStagedTP([]float64{0.2, 0.2, 0.2, 0.2, 0.2})
	require.NoError(t, err)
	assert.Equal(t, common.StrategyStagedTP, p.Name())

	tests := []struct {
		name      string
		fractions []float64
	}{
		{"empty", nil},
		{"zero fraction", []float64{0.2, 0}},
		{"negative fraction", []float64{-0.1}},
		{"fraction above one", []float64{1.5}},
		{"sum above one", []float64{0.5, 0.4, 0.3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStagedTP(tt.fractions)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrConfiguration)
		})
	}
}

func TestStagedTiersForDefaults(t *testing.T) {
	t.Parallel()

	p, err := NewStagedTP([]float64{0.2, 0.2, 0.2, 0.2, 0.2})
	require.NoError(t, err)

	long := longPosition(100, 10)
	tiers := p.TiersFor(long)
	require.Len(t, tiers, 5)
	assert.InDelta(t, 102.0, tiers[0].Price, 1e-9)
	assert.InDelta(t, 110.0, tiers[4].Price, 1e-9)

	short := position.Position{
		Symbol: "BTCUSDT", Side: common.SideShort,
		EntryPrice: 100, OriginalSize: 10, RemainingSize: 10,
	}
	tiers = p.TiersFor(short)
	require.Len(t, tiers, 5)
	assert.InDelta(t, 98.0, tiers[0].Price, 1e-9)
	assert.InDelta(t, 90.0, tiers[4].Price, 1e-9)
}

func TestStagedTiersForProposedPrices(t *testing.T) {
	t.Parallel()

	p, err := NewStagedTP([]float64{0.2, 0.2, 0.2})
	require.NoError(t, err)

	pos := longPosition(100, 10)
	pos.TakeProfits = []float64{102, 104}

	tiers := p.TiersFor(pos)
	require.Len(t, tiers, 2)
	assert.InDelta(t, 102.0, tiers[0].Price, 1e-9)
	assert.InDelta(t, 104.0, tiers[1].Price, 1e-9)
}

// A gap past several tiers fires each of them in order within the same
// cycle, with one break-even move after the first.
func TestStagedGapFiresMultipleTiers(t *testing.T) {
	t.Parallel()

	p, err := NewStagedTP([]float64{0.2, 0.2})
	require.NoError(t, err)

	pos := longPosition(100, 10)
	pos.TakeProfits = []float64{102, 104}

	actions := p.Evaluate(pos, 105, 5)
	require.Len(t, actions, 3)

	assert.Equal(t, ActionPartialClose, actions[0].Type)
	assert.Equal(t, 1, actions[0].Tier)
	assert.InDelta(t, 2.0, actions[0].CloseSize, 1e-9)

	assert.Equal(t, ActionSetStop, actions[1].Type)
	assert.True(t, actions[1].Breakeven)
	assert.InDelta(t, 100.0, actions[1].StopPrice, 1e-9)

	assert.Equal(t, ActionPartialClose, actions[2].Type)
	assert.Equal(t, 2, actions[2].Tier)
	assert.InDelta(t, 2.0, actions[2].CloseSize, 1e-9)
}

func TestStagedExecutedTiersNeverRearm(t *testing.T) {
	t.Parallel()

	p, err := NewStagedTP([]float64{0.2, 0.2})
	require.NoError(t, err)

	pos := longPosition(100, 10)
	pos.TakeProfits = []float64{102, 104}
	pos.ExecutedTiers = []int{1, 2}
	pos.RemainingSize = 6
	pos.BreakevenSet = true

	assert.Empty(t, p.Evaluate(pos, 105, 5))
	assert.Empty(t, p.Evaluate(pos, 110, 10))
}

func TestStagedBreakevenOnlyOnce(t *testing.T) {
	t.Parallel()

	p, err := NewStagedTP([]float64{0.2, 0.2})
	require.NoError(t, err)

	pos := longPosition(100, 10)
	pos.TakeProfits = []float64{102, 104}
	pos.ExecutedTiers = []int{1}
	pos.RemainingSize = 8
	pos.BreakevenSet = true

	actions := p.Evaluate(pos, 104.5, 4.5)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionPartialClose, actions[0].Type)
	assert.Equal(t, 2, actions[0].Tier)
}

// Tier 1 committed on an earlier cycle without the stop moving (the
// stop call failed after the close succeeded): the break-even move is
// re-issued until it sticks, even with no new tier crossing.
func TestStagedReissuesBreakevenAfterTierOneFill(t *testing.T) {
	t.Parallel()

	p, err := NewStagedTP([]float64{0.2, 0.2})
	require.NoError(t, err)

	pos := longPosition(100, 10)
	pos.TakeProfits = []float64{102, 104}
	pos.ExecutedTiers = []int{1}
	pos.RemainingSize = 8

	actions := p.Evaluate(pos, 102.5, 2.5)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionSetStop, actions[0].Type)
	assert.True(t, actions[0].Breakeven)
	assert.InDelta(t, 100.0, actions[0].StopPrice, 1e-9)

	// Once the move commits, nothing more to do at the same mark.
	pos.BreakevenSet = true
	assert.Empty(t, p.Evaluate(pos, 102.5, 2.5))
}

// The pending break-even precedes any newly crossed tier so the stop is
// protected before more size is released.
func TestStagedPendingBreakevenPrecedesNextTier(t *testing.T) {
	t.Parallel()

	p, err := NewStagedTP([]float64{0.2, 0.2})
	require.NoError(t, err)

	pos := longPosition(100, 10)
	pos.TakeProfits = []float64{102, 104}
	pos.ExecutedTiers = []int{1}
	pos.RemainingSize = 8

	actions := p.Evaluate(pos, 104.5, 4.5)
	require.Len(t, actions, 2)
	assert.Equal(t, ActionSetStop, actions[0].Type)
	assert.True(t, actions[0].Breakeven)
	assert.Equal(t, ActionPartialClose, actions[1].Type)
	assert.Equal(t, 2, actions[1].Tier)
}

func TestStagedShortCrossing(t *testing.T) {
	t.Parallel()

	p, err := NewStagedTP([]float64{0.5, 0.5})
	require.NoError(t, err)

	pos := position.Position{
		Symbol: "ETHUSDT", Side: common.SideShort,
		EntryPrice: 100, OriginalSize: 4, RemainingSize: 4,
		TakeProfits: []float64{98, 96},
	}

	actions := p.Evaluate(pos, 97, 3)
	require.Len(t, actions, 2)
	assert.Equal(t, 1, actions[0].Tier)
	assert.InDelta(t, 2.0, actions[0].CloseSize, 1e-9)
	assert.True(t, actions[1].Breakeven)

	// Second tier not yet crossed at 97.
	for _, a := range actions {
		assert.NotEqual(t, 2, a.Tier)
	}
}

// Close sizes are clamped to what is actually left, so tiers summing to
// 100% exhaust the position exactly.
func TestStagedSizeConservation(t *testing.T) {
	t.Parallel()

	p, err := NewStagedTP([]float64{0.4, 0.3, 0.3})
	require.NoError(t, err)

	pos := longPosition(100, 10)
	pos.TakeProfits = []float64{101, 102, 103}

	actions := p.Evaluate(pos, 110, 10)
	var total float64
	for _, a := range actions {
		if a.Type == ActionPartialClose {
			total += a.CloseSize
		}
	}
	assert.InDelta(t, 10.0, total, common.SizeEpsilon)
}

func TestStagedUncrossedTierNoAction(t *testing.T) {
	t.Parallel()

	p, err := NewStagedTP([]float64{0.2})
	require.NoError(t, err)

	pos := longPosition(100, 10)
	pos.TakeProfits = []float64{102}

	assert.Empty(t, p.Evaluate(pos, 101.99, 1.99))
}
