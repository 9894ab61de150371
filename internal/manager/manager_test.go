package manager

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-trader/internal/common"
	"perp-trader/internal/exchange/bybit"
	"perp-trader/internal/exitpolicy"
	"perp-trader/internal/gate"
	"perp-trader/internal/position"
	"perp-trader/internal/signal"
	"perp-trader/internal/storage"
)

// mockExchange is a scriptable venue. Prices and positions are set per
// test; every mutation is recorded in order.
type mockExchange struct {
	mu        sync.Mutex
	prices    map[string]float64
	positions []bybit.PositionInfo
	balance   float64

	stopCalls   []stopCall
	closeCalls  []closeCall
	orderCalls  []orderCall
	failStops   bool
	failCloses  bool
	failOrders  bool
	failListing bool
	failPrice   bool
}

type stopCall struct {
	symbol, side string
	price        float64
}

type closeCall struct {
	symbol, side string
	size         float64
}

type orderCall struct {
	symbol, side string
	qty          float64
}

func newMockExchange() *mockExchange {
	return &mockExchange{prices: make(map[string]float64), balance: 1000}
}

func (m *mockExchange) MarkPrice(_ context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPrice {
		return 0, fmt.Errorf("%w: no ticker", common.ErrPriceUnavailable)
	}
	px, ok := m.prices[symbol]
	if !ok || px <= 0 {
		return 0, fmt.Errorf("%w: no ticker for %s", common.ErrPriceUnavailable, symbol)
	}
	return px, nil
}

func (m *mockExchange) OpenPositions(context.Context) ([]bybit.PositionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failListing {
		return nil, fmt.Errorf("%w: listing failed", common.ErrNetworkError)
	}
	return append([]bybit.PositionInfo(nil), m.positions...), nil
}

func (m *mockExchange) SetStopLoss(_ context.Context, symbol, side string, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStops {
		return fmt.Errorf("%w: stop update refused", common.ErrOrderRejected)
	}
	m.stopCalls = append(m.stopCalls, stopCall{symbol, side, price})
	return nil
}

func (m *mockExchange) ClosePartial(_ context.Context, symbol, side string, size float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCloses {
		return fmt.Errorf("%w: close refused", common.ErrOrderRejected)
	}
	m.closeCalls = append(m.closeCalls, closeCall{symbol, side, size})
	return nil
}

func (m *mockExchange) PlaceMarketOrder(_ context.Context, symbol, side string, qty, _, _ float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOrders {
		return fmt.Errorf("%w: order refused", common.ErrOrderRejected)
	}
	m.orderCalls = append(m.orderCalls, orderCall{symbol, side, qty})
	return nil
}

func (m *mockExchange) AvailableBalance(context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

// memoryRecorder collects persisted records in memory.
type memoryRecorder struct {
	mu      sync.Mutex
	events  []storage.ExitEvent
	signals []storage.SignalRecord
	trades  []storage.TradeRecord
}

func (r *memoryRecorder) RecordExitEvent(ev storage.ExitEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memoryRecorder) StoreSignal(rec storage.SignalRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, rec)
	return nil
}

func (r *memoryRecorder) StoreTrade(rec storage.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, rec)
	return nil
}

func (r *memoryRecorder) LoadProgress(string) (storage.Progress, error) {
	return storage.Progress{}, nil
}

func defaultConfig() Config {
	return Config{
		Risk: gate.RiskConfig{
			MaxOpenTrades:          5,
			MaxDailyLossPercent:    10,
			MinConfidence:          0.6,
			MinRiskReward:          1.5,
			SingleTradeRiskPercent: 2,
			MaxPositionFraction:    0.05,
		},
		PriceMaxAge: 5 * time.Second,
		Leverage:    10,
	}
}

func newTrailingManager(t *testing.T, ex *mockExchange, rec Recorder) (*Manager, *position.Store) {
	t.Helper()
	policy, err := exitpolicy.NewTrailingStep(20)
	require.NoError(t, err)
	store := position.NewStore()
	return New(ex, store, policy, rec, nil, nil, defaultConfig()), store
}

func newStagedManager(t *testing.T, ex *mockExchange, rec Recorder) (*Manager, *position.Store) {
	t.Helper()
	policy, err := exitpolicy.NewStagedTP([]float64{0.2, 0.2})
	require.NoError(t, err)
	store := position.NewStore()
	return New(ex, store, policy, rec, nil, nil, defaultConfig()), store
}

func TestCycleTracksExchangePositions(t *testing.T) {
	t.Parallel()

	ex := newMockExchange()
	ex.positions = []bybit.PositionInfo{{
		Symbol: "BTCUSDT", Side: common.SideLong, Size: 1, EntryPrice: 100,
	}}
	ex.prices["BTCUSDT"] = 105

	mgr, store := newTrailingManager(t, ex, &memoryRecorder{})
	require.NoError(t, mgr.Cycle(context.Background()))

	assert.Equal(t, 1, store.Len())
	assert.Empty(t, ex.stopCalls) // +5% is below one step
}

// Trailing scenario: P&L 21% produces break-even then the 20%-level
// stop, in that order; re-polling the same price produces nothing more.
func TestCycleTrailingRatchet(t *testing.T) {
	t.Parallel()

	ex := newMockExchange()
	ex.positions = []bybit.PositionInfo{{
		Symbol: "BTCUSDT", Side: common.SideLong, Size: 1, EntryPrice: 100,
	}}
	ex.prices["BTCUSDT"] = 121

	rec := &memoryRecorder{}
	mgr, store := newTrailingManager(t, ex, rec)
	require.NoError(t, mgr.Cycle(context.Background()))

	require.Len(t, ex.stopCalls, 2)
	assert.InDelta(t, 100.0, ex.stopCalls[0].price, 1e-9)
	assert.InDelta(t, 120.0, ex.stopCalls[1].price, 1e-9)

	got, ok := store.Get(position.Key("BTCUSDT", common.SideLong))
	require.True(t, ok)
	assert.InDelta(t, 20.0, got.StopLevel, 1e-9)
	assert.True(t, got.BreakevenSet)

	// Idempotent re-poll at the same mark.
	require.NoError(t, mgr.Cycle(context.Background()))
	assert.Len(t, ex.stopCalls, 2)

	// Durable events: breakeven then ratchet.
	require.Len(t, rec.events, 2)
	assert.Equal(t, storage.EventBreakeven, rec.events[0].Type)
	assert.Equal(t, storage.EventStopRatchet, rec.events[1].Type)
}

// A refused stop update leaves state uncommitted so the next poll
// retries the same mutation.
func TestCycleStopFailureRetriedNextPoll(t *testing.T) {
	t.Parallel()

	ex := newMockExchange()
	ex.positions = []bybit.PositionInfo{{
		Symbol: "BTCUSDT", Side: common.SideLong, Size: 1, EntryPrice: 100,
	}}
	ex.prices["BTCUSDT"] = 121
	ex.failStops = true

	mgr, store := newTrailingManager(t, ex, &memoryRecorder{})
	require.NoError(t, mgr.Cycle(context.Background()))

	got, _ := store.Get(position.Key("BTCUSDT", common.SideLong))
	assert.Zero(t, got.StopLevel)
	assert.False(t, got.BreakevenSet)

	ex.mu.Lock()
	ex.failStops = false
	ex.mu.Unlock()
	require.NoError(t, mgr.Cycle(context.Background()))

	require.Len(t, ex.stopCalls, 2)
	got, _ = store.Get(position.Key("BTCUSDT", common.SideLong))
	assert.InDelta(t, 20.0, got.StopLevel, 1e-9)
}

// Staged scenario: a jump past both tiers fires them in order, moves the
// stop to break-even once, and leaves 60% of the size.
func TestCycleStagedTiers(t *testing.T) {
	t.Parallel()

	ex := newMockExchange()
	ex.positions = []bybit.PositionInfo{{
		Symbol: "BTCUSDT", Side: common.SideLong, Size: 10, EntryPrice: 100,
	}}
	ex.prices["BTCUSDT"] = 105

	rec := &memoryRecorder{}
	mgr, store := newStagedManager(t, ex, rec)

	// Seed proposed tier prices through the entry path equivalent.
	_, err := store.Track(position.Position{
		Symbol: "BTCUSDT", Side: common.SideLong, EntryPrice: 100,
		OriginalSize: 10, RemainingSize: 10, TakeProfits: []float64{102, 104},
	})
	require.NoError(t, err)

	require.NoError(t, mgr.Cycle(context.Background()))

	require.Len(t, ex.closeCalls, 2)
	assert.InDelta(t, 2.0, ex.closeCalls[0].size, 1e-9)
	assert.InDelta(t, 2.0, ex.closeCalls[1].size, 1e-9)
	require.Len(t, ex.stopCalls, 1)
	assert.InDelta(t, 100.0, ex.stopCalls[0].price, 1e-9)

	got, ok := store.Get(position.Key("BTCUSDT", common.SideLong))
	require.True(t, ok)
	assert.InDelta(t, 6.0, got.RemainingSize, 1e-9)
	assert.Equal(t, []int{1, 2}, got.ExecutedTiers)
	assert.True(t, got.BreakevenSet)

	// No re-fire on the next poll.
	require.NoError(t, mgr.Cycle(context.Background()))
	assert.Len(t, ex.closeCalls, 2)
}

// The tier-1 close can commit while the break-even stop call fails.
// The next poll must re-issue the stop move even though no new tier
// crossing occurs.
func TestCycleStagedBreakevenRetriedAfterStopFailure(t *testing.T) {
	t.Parallel()

	ex := newMockExchange()
	ex.positions = []bybit.PositionInfo{{
		Symbol: "BTCUSDT", Side: common.SideLong, Size: 10, EntryPrice: 100,
	}}
	ex.prices["BTCUSDT"] = 105
	ex.failStops = true

	rec := &memoryRecorder{}
	mgr, store := newStagedManager(t, ex, rec)
	_, err := store.Track(position.Position{
		Symbol: "BTCUSDT", Side: common.SideLong, EntryPrice: 100,
		OriginalSize: 10, RemainingSize: 10, TakeProfits: []float64{102, 104},
	})
	require.NoError(t, err)

	require.NoError(t, mgr.Cycle(context.Background()))

	key := position.Key("BTCUSDT", common.SideLong)
	got, _ := store.Get(key)
	assert.Equal(t, []int{1, 2}, got.ExecutedTiers)
	assert.False(t, got.BreakevenSet)
	assert.Empty(t, ex.stopCalls)

	ex.mu.Lock()
	ex.failStops = false
	ex.mu.Unlock()
	require.NoError(t, mgr.Cycle(context.Background()))

	require.Len(t, ex.stopCalls, 1)
	assert.InDelta(t, 100.0, ex.stopCalls[0].price, 1e-9)
	got, _ = store.Get(key)
	assert.True(t, got.BreakevenSet)

	var breakevens int
	for _, ev := range rec.events {
		if ev.Type == storage.EventBreakeven {
			breakevens++
		}
	}
	assert.Equal(t, 1, breakevens)
}

func TestCyclePriceUnavailableSkipsPosition(t *testing.T) {
	t.Parallel()

	ex := newMockExchange()
	ex.positions = []bybit.PositionInfo{
		{Symbol: "BTCUSDT", Side: common.SideLong, Size: 1, EntryPrice: 100},
		{Symbol: "ETHUSDT", Side: common.SideLong, Size: 1, EntryPrice: 100},
	}
	ex.prices["ETHUSDT"] = 121 // BTCUSDT price missing

	mgr, store := newTrailingManager(t, ex, &memoryRecorder{})
	require.NoError(t, mgr.Cycle(context.Background()))

	// ETH still managed despite BTC's missing price.
	require.Len(t, ex.stopCalls, 2)
	assert.Equal(t, "ETHUSDT", ex.stopCalls[0].symbol)
	assert.Equal(t, 2, store.Len())
}

func TestCycleRetiresVanishedPositions(t *testing.T) {
	t.Parallel()

	ex := newMockExchange()
	ex.positions = []bybit.PositionInfo{{
		Symbol: "BTCUSDT", Side: common.SideLong, Size: 1, EntryPrice: 100,
	}}
	ex.prices["BTCUSDT"] = 100

	rec := &memoryRecorder{}
	mgr, store := newTrailingManager(t, ex, rec)
	require.NoError(t, mgr.Cycle(context.Background()))
	require.Equal(t, 1, store.Len())

	ex.mu.Lock()
	ex.positions = nil
	ex.mu.Unlock()
	require.NoError(t, mgr.Cycle(context.Background()))

	assert.Zero(t, store.Len())
	require.NotEmpty(t, rec.events)
	assert.Equal(t, storage.EventClosed, rec.events[len(rec.events)-1].Type)
}

func TestCycleListingFailureKeepsTrackedSet(t *testing.T) {
	t.Parallel()

	ex := newMockExchange()
	ex.positions = []bybit.PositionInfo{{
		Symbol: "BTCUSDT", Side: common.SideLong, Size: 1, EntryPrice: 100,
	}}
	ex.prices["BTCUSDT"] = 121

	mgr, store := newTrailingManager(t, ex, &memoryRecorder{})
	require.NoError(t, mgr.Cycle(context.Background()))
	require.Equal(t, 1, store.Len())

	// A transient listing failure must not retire anything; the tracked
	// position keeps being managed off cached knowledge.
	ex.mu.Lock()
	ex.failListing = true
	ex.prices["BTCUSDT"] = 141
	ex.mu.Unlock()
	require.NoError(t, mgr.Cycle(context.Background()))

	assert.Equal(t, 1, store.Len())
	got, _ := store.Get(position.Key("BTCUSDT", common.SideLong))
	assert.InDelta(t, 40.0, got.StopLevel, 1e-9)
}

func TestHandleProposalApprovedOpensPosition(t *testing.T) {
	t.Parallel()

	ex := newMockExchange()
	rec := &memoryRecorder{}
	mgr, store := newTrailingManager(t, ex, rec)

	p := signal.Proposal{
		ID: "sig-1", Symbol: "BTCUSDT", Side: common.SideLong, Confidence: 0.8,
		Entry: 100, StopLoss: 98, TakeProfits: []float64{104},
	}
	require.NoError(t, mgr.HandleProposal(context.Background(), p))

	require.Len(t, ex.orderCalls, 1)
	assert.Equal(t, "BTCUSDT", ex.orderCalls[0].symbol)
	// Balance 1000, 5% cap -> 50 quote, at entry 100 -> 0.5 base units.
	assert.InDelta(t, 0.5, ex.orderCalls[0].qty, 1e-9)

	assert.Equal(t, 1, store.Len())
	got, _ := store.Get(position.Key("BTCUSDT", common.SideLong))
	assert.Equal(t, []float64{104}, got.TakeProfits)

	require.Len(t, rec.signals, 1)
	assert.Equal(t, storage.SignalApproved, rec.signals[0].Status)
	require.Len(t, rec.trades, 1)
	assert.Equal(t, "sig-1", rec.trades[0].SignalID)
}

func TestHandleProposalRejectedPlacesNothing(t *testing.T) {
	t.Parallel()

	ex := newMockExchange()
	rec := &memoryRecorder{}
	mgr, store := newTrailingManager(t, ex, rec)

	p := signal.Proposal{
		Symbol: "BTCUSDT", Side: common.SideLong, Confidence: 0.3,
		Entry: 100, StopLoss: 98, TakeProfits: []float64{104},
	}
	require.NoError(t, mgr.HandleProposal(context.Background(), p))

	assert.Empty(t, ex.orderCalls)
	assert.Zero(t, store.Len())
	require.Len(t, rec.signals, 1)
	assert.Equal(t, storage.SignalRejected, rec.signals[0].Status)
	assert.Contains(t, rec.signals[0].Reason, "confidence")
}

func TestHandleProposalOrderRejection(t *testing.T) {
	t.Parallel()

	ex := newMockExchange()
	ex.failOrders = true
	mgr, store := newTrailingManager(t, ex, &memoryRecorder{})

	p := signal.Proposal{
		Symbol: "BTCUSDT", Side: common.SideLong, Confidence: 0.8,
		Entry: 100, StopLoss: 98, TakeProfits: []float64{104},
	}
	err := mgr.HandleProposal(context.Background(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrOrderRejected)
	assert.Zero(t, store.Len())
}

func TestHandleProposalDryRun(t *testing.T) {
	t.Parallel()

	ex := newMockExchange()
	policy, err := exitpolicy.NewTrailingStep(20)
	require.NoError(t, err)
	store := position.NewStore()
	cfg := defaultConfig()
	cfg.DryRun = true
	mgr := New(ex, store, policy, &memoryRecorder{}, nil, nil, cfg)

	p := signal.Proposal{
		Symbol: "BTCUSDT", Side: common.SideLong, Confidence: 0.8,
		Entry: 100, StopLoss: 98, TakeProfits: []float64{104},
	}
	require.NoError(t, mgr.HandleProposal(context.Background(), p))

	assert.Empty(t, ex.orderCalls) // no live order
	assert.Equal(t, 1, store.Len()) // but tracked for paper management
}

func TestRestoreRebuildsProgress(t *testing.T) {
	t.Parallel()

	ex := newMockExchange()
	ex.positions = []bybit.PositionInfo{{
		Symbol: "BTCUSDT", Side: common.SideLong, Size: 6, EntryPrice: 100,
	}}

	rec := &progressRecorder{progress: storage.Progress{
		StopLevel:     20,
		ExecutedTiers: []int{1, 2},
		BreakevenSet:  true,
		ClosedSize:    4,
	}}
	mgr, store := newStagedManager(t, ex, rec)

	require.NoError(t, mgr.Restore(context.Background()))

	got, ok := store.Get(position.Key("BTCUSDT", common.SideLong))
	require.True(t, ok)
	assert.InDelta(t, 10.0, got.OriginalSize, 1e-9) // live 6 + closed 4
	assert.InDelta(t, 6.0, got.RemainingSize, 1e-9)
	assert.InDelta(t, 20.0, got.StopLevel, 1e-9)
	assert.Equal(t, []int{1, 2}, got.ExecutedTiers)
	assert.True(t, got.BreakevenSet)
}

type progressRecorder struct {
	memoryRecorder
	progress storage.Progress
}

func (r *progressRecorder) LoadProgress(string) (storage.Progress, error) {
	return r.progress, nil
}

func TestDailyTrackerRollover(t *testing.T) {
	t.Parallel()

	tr := NewDailyTracker()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.Add(-4)
	tr.Add(-3)
	assert.InDelta(t, -7.0, tr.Value(), 1e-9)

	now = now.Add(24 * time.Hour)
	assert.Zero(t, tr.Value())
}
