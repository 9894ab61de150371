// Package manager drives the position lifecycle: it admits proposals
// through the entry gate, polls open positions, asks the configured exit
// policy what to do, and applies the resulting exchange mutations. State
// is committed only after the exchange confirms, so a failed mutation is
// simply retried on the next poll.
package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"perp-trader/internal/common"
	"perp-trader/internal/exchange/bybit"
	"perp-trader/internal/exitpolicy"
	"perp-trader/internal/gate"
	"perp-trader/internal/metrics"
	"perp-trader/internal/pnl"
	"perp-trader/internal/position"
	"perp-trader/internal/signal"
	"perp-trader/internal/storage"
)

// Exchange is the trading venue surface the manager needs.
type Exchange interface {
	MarkPrice(ctx context.Context, symbol string) (float64, error)
	OpenPositions(ctx context.Context) ([]bybit.PositionInfo, error)
	SetStopLoss(ctx context.Context, symbol, side string, price float64) error
	ClosePartial(ctx context.Context, symbol, side string, size float64) error
	PlaceMarketOrder(ctx context.Context, symbol, side string, qty, stopLoss, takeProfit float64) error
	AvailableBalance(ctx context.Context) (float64, error)
}

// Recorder persists exit events, signals and trades. All writes are
// best-effort: persistence failures are logged, never block trading.
type Recorder interface {
	RecordExitEvent(ev storage.ExitEvent) error
	StoreSignal(rec storage.SignalRecord) error
	StoreTrade(rec storage.TradeRecord) error
	LoadProgress(positionKey string) (storage.Progress, error)
}

// PriceSource serves cached mark prices; a miss falls back to REST.
type PriceSource interface {
	MarkPrice(symbol string, maxAge time.Duration) (float64, bool)
}

// Config carries the manager's runtime knobs.
type Config struct {
	Risk        gate.RiskConfig
	PriceMaxAge time.Duration
	DryRun      bool
	Leverage    int
}

// Manager owns the poll loop and the entry flow.
type Manager struct {
	exchange Exchange
	store    *position.Store
	policy   exitpolicy.Policy
	recorder Recorder
	prices   PriceSource
	metrics  *metrics.Wrapper
	cfg      Config
	daily    *DailyTracker
}

func New(exchange Exchange, store *position.Store, policy exitpolicy.Policy,
	recorder Recorder, prices PriceSource, m *metrics.Wrapper, cfg Config) *Manager {
	return &Manager{
		exchange: exchange,
		store:    store,
		policy:   policy,
		recorder: recorder,
		prices:   prices,
		metrics:  m,
		cfg:      cfg,
		daily:    NewDailyTracker(),
	}
}

// Restore rebuilds exit-management progress for positions that are still
// open on the exchange after a restart. Progress replayed from the event
// log re-arms the ratchet and the executed tiers exactly where they were.
func (m *Manager) Restore(ctx context.Context) error {
	open, err := m.exchange.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	for _, info := range open {
		key := position.Key(info.Symbol, info.Side)
		progress, err := m.recorder.LoadProgress(key)
		if err != nil {
			log.Warn().Err(err).Str("position", key).Msg("no recoverable progress, tracking fresh")
		}
		p := position.Position{
			Symbol:        info.Symbol,
			Side:          info.Side,
			EntryPrice:    info.EntryPrice,
			OriginalSize:  info.Size + progress.ClosedSize,
			RemainingSize: info.Size,
			StopLevel:     progress.StopLevel,
			ExecutedTiers: progress.ExecutedTiers,
			BreakevenSet:  progress.BreakevenSet,
		}
		if err := m.store.Restore(p); err != nil {
			log.Error().Err(err).Str("position", key).Msg("failed to restore position")
			continue
		}
		log.Info().Str("position", key).
			Float64("stopLevel", progress.StopLevel).
			Ints("executedTiers", progress.ExecutedTiers).
			Bool("breakeven", progress.BreakevenSet).
			Msg("restored position progress")
	}
	return nil
}

// Cycle runs one poll: sync the tracked set against the exchange, price
// and evaluate each position, apply the policy's actions in order. Every
// failure is isolated to the position (or action) it occurred on.
func (m *Manager) Cycle(ctx context.Context) error {
	start := time.Now()
	m.metrics.PollCycleInc()

	m.syncPositions(ctx)

	for _, pos := range m.store.All() {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.managePosition(ctx, pos)
	}

	m.metrics.SetActivePositions(m.store.Len())
	m.metrics.SetDailyRealizedPnL(m.daily.Value())
	m.metrics.CycleDuration(time.Since(start))
	return nil
}

// syncPositions reconciles the store with the exchange: new exchange
// positions are tracked, tracked positions gone from the exchange are
// retired. A failed listing leaves the tracked set unchanged.
func (m *Manager) syncPositions(ctx context.Context) {
	open, err := m.exchange.OpenPositions(ctx)
	if err != nil {
		m.metrics.ErrorInc()
		log.Warn().Err(err).Msg("position sync skipped")
		return
	}

	seen := make(map[string]bool, len(open))
	for _, info := range open {
		key := position.Key(info.Symbol, info.Side)
		seen[key] = true
		if _, ok := m.store.Get(key); ok {
			continue
		}
		p := position.Position{
			Symbol:        info.Symbol,
			Side:          info.Side,
			EntryPrice:    info.EntryPrice,
			OriginalSize:  info.Size,
			RemainingSize: info.Size,
		}
		if _, err := m.store.Track(p); err != nil {
			log.Error().Err(err).Str("position", key).Msg("failed to track exchange position")
			continue
		}
		log.Info().Str("position", key).Float64("entry", info.EntryPrice).
			Float64("size", info.Size).Msg("tracking exchange position")
	}

	for _, pos := range m.store.All() {
		if seen[pos.Key()] {
			continue
		}
		m.retire(pos, 0, 0, "closed externally")
	}
}

func (m *Manager) managePosition(ctx context.Context, pos position.Position) {
	mark, err := m.markPrice(ctx, pos.Symbol)
	if err != nil {
		m.metrics.PriceUnavailableInc()
		log.Warn().Err(err).Str("position", pos.Key()).Msg("price unavailable, skipping position")
		return
	}

	pnlPercent, err := pnl.PercentWithMetrics(pos.EntryPrice, mark, pos.Side, m.metrics)
	if err != nil {
		log.Error().Err(err).Str("position", pos.Key()).Msg("pnl calculation failed")
		return
	}
	m.store.ObservePnL(pos.Key(), pnlPercent)

	for _, action := range m.policy.Evaluate(pos, mark, pnlPercent) {
		if err := m.apply(ctx, pos, action, mark, pnlPercent); err != nil {
			m.metrics.OrderFailureInc()
			log.Error().Err(err).
				Str("position", pos.Key()).
				Str("action", action.Type.String()).
				Msg("exit action failed, will retry next poll")
			continue
		}
	}

	if updated, ok := m.store.Get(pos.Key()); ok && updated.Closed() {
		m.retire(updated, mark, pnlPercent, "remaining size exhausted")
	}
}

// markPrice serves the cached stream price when fresh, falling back to a
// REST lookup.
func (m *Manager) markPrice(ctx context.Context, symbol string) (float64, error) {
	if m.prices != nil {
		if px, ok := m.prices.MarkPrice(symbol, m.cfg.PriceMaxAge); ok {
			return px, nil
		}
	}
	return m.exchange.MarkPrice(ctx, symbol)
}

func (m *Manager) apply(ctx context.Context, pos position.Position, a exitpolicy.Action, mark, pnlPercent float64) error {
	start := time.Now()
	switch a.Type {
	case exitpolicy.ActionSetStop:
		if !m.cfg.DryRun {
			if err := m.exchange.SetStopLoss(ctx, pos.Symbol, pos.Side, a.StopPrice); err != nil {
				return err
			}
		}
		m.metrics.OrderDuration(time.Since(start))
		if a.Breakeven {
			if err := m.store.CommitBreakeven(pos.Key()); err != nil {
				return err
			}
			m.metrics.BreakevenMoveInc()
			log.Info().Str("position", pos.Key()).Float64("stop", a.StopPrice).
				Str("reason", a.Reason).Msg("stop moved to break-even")
			m.recordEvent(storage.ExitEvent{
				PositionKey: pos.Key(), Symbol: pos.Symbol, Side: pos.Side,
				Type: storage.EventBreakeven, StopPrice: a.StopPrice,
				MarkPrice: mark, PnLPercent: pnlPercent,
			})
			return nil
		}
		if err := m.store.CommitStopLevel(pos.Key(), a.Level); err != nil {
			return err
		}
		m.metrics.StopUpdateInc()
		log.Info().Str("position", pos.Key()).Float64("level", a.Level).
			Float64("stop", a.StopPrice).Str("reason", a.Reason).Msg("stop ratcheted")
		m.recordEvent(storage.ExitEvent{
			PositionKey: pos.Key(), Symbol: pos.Symbol, Side: pos.Side,
			Type: storage.EventStopRatchet, Level: a.Level, StopPrice: a.StopPrice,
			MarkPrice: mark, PnLPercent: pnlPercent,
		})
		return nil

	case exitpolicy.ActionPartialClose:
		if !m.cfg.DryRun {
			if err := m.exchange.ClosePartial(ctx, pos.Symbol, pos.Side, a.CloseSize); err != nil {
				return err
			}
		}
		m.metrics.OrderInc()
		m.metrics.OrderDuration(time.Since(start))
		updated, err := m.store.CommitTier(pos.Key(), a.Tier, a.CloseSize)
		if err != nil {
			return err
		}
		m.metrics.TierExecutionInc()
		m.daily.Add(pnlPercent * a.CloseSize / updated.OriginalSize)
		log.Info().Str("position", pos.Key()).Int("tier", a.Tier).
			Float64("closed", a.CloseSize).Float64("remaining", updated.RemainingSize).
			Str("reason", a.Reason).Msg("take-profit tier filled")
		m.recordEvent(storage.ExitEvent{
			PositionKey: pos.Key(), Symbol: pos.Symbol, Side: pos.Side,
			Type: storage.EventTierFilled, Tier: a.Tier, ClosedSize: a.CloseSize,
			MarkPrice: mark, PnLPercent: pnlPercent,
		})
		return nil

	default:
		return fmt.Errorf("%w: unknown action type %d", common.ErrInvalidInput, a.Type)
	}
}

func (m *Manager) retire(pos position.Position, mark, pnlPercent float64, reason string) {
	if _, ok := m.store.Retire(pos.Key()); !ok {
		return
	}
	log.Info().Str("position", pos.Key()).Float64("pnl", pnlPercent).
		Str("reason", reason).Msg("position retired")
	m.recordEvent(storage.ExitEvent{
		PositionKey: pos.Key(), Symbol: pos.Symbol, Side: pos.Side,
		Type: storage.EventClosed, MarkPrice: mark, PnLPercent: pnlPercent,
	})
}

func (m *Manager) recordEvent(ev storage.ExitEvent) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.RecordExitEvent(ev); err != nil {
		log.Warn().Err(err).Str("position", ev.PositionKey).
			Str("type", ev.Type).Msg("failed to persist exit event")
	}
}

// HandleProposal runs a candidate trade through the entry gate and, when
// approved, opens the position and tracks it.
func (m *Manager) HandleProposal(ctx context.Context, p signal.Proposal) error {
	m.metrics.SignalReceivedInc()

	balance, err := m.exchange.AvailableBalance(ctx)
	if err != nil {
		m.metrics.ErrorInc()
		return fmt.Errorf("balance lookup: %w", err)
	}

	account := gate.AccountState{
		Balance:         balance,
		OpenPositions:   m.store.Len(),
		DailyPnLPercent: m.daily.Value(),
	}
	decision := gate.Evaluate(p, account, m.cfg.Risk)

	status := storage.SignalApproved
	if !decision.Approved {
		status = storage.SignalRejected
	}
	m.recordSignal(p, status, decision.Reason)

	if !decision.Approved {
		m.metrics.SignalRejectedInc()
		log.Info().Str("symbol", p.Symbol).Str("side", p.Side).
			Str("reason", decision.Reason).Msg("proposal rejected")
		return nil
	}
	m.metrics.SignalApprovedInc()

	qty := decision.Size / p.Entry
	if !m.cfg.DryRun {
		if err := m.exchange.PlaceMarketOrder(ctx, p.Symbol, p.Side, qty, p.StopLoss, 0); err != nil {
			m.metrics.OrderFailureInc()
			if errors.Is(err, common.ErrOrderRejected) {
				log.Error().Err(err).Str("symbol", p.Symbol).Msg("entry order rejected")
			}
			return fmt.Errorf("entry order: %w", err)
		}
	}
	m.metrics.OrderInc()

	pos := position.Position{
		Symbol:       p.Symbol,
		Side:         p.Side,
		EntryPrice:   p.Entry,
		OriginalSize: qty,
		TakeProfits:  p.TakeProfits,
	}
	if _, err := m.store.Track(pos); err != nil {
		return fmt.Errorf("track after fill: %w", err)
	}

	log.Info().Str("symbol", p.Symbol).Str("side", p.Side).
		Float64("qty", qty).Float64("entry", p.Entry).
		Float64("riskReward", decision.RiskReward).Bool("dryRun", m.cfg.DryRun).
		Msg("position opened")

	if m.recorder != nil {
		if err := m.recorder.StoreTrade(storage.TradeRecord{
			Symbol:      p.Symbol,
			Side:        p.Side,
			EntryPrice:  p.Entry,
			Size:        qty,
			Leverage:    m.cfg.Leverage,
			StopLoss:    p.StopLoss,
			TakeProfits: p.TakeProfits,
			SignalID:    p.ID,
			OpenedAt:    time.Now().UTC(),
		}); err != nil {
			log.Warn().Err(err).Str("symbol", p.Symbol).Msg("failed to persist trade record")
		}
	}
	return nil
}

func (m *Manager) recordSignal(p signal.Proposal, status, reason string) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.StoreSignal(storage.SignalRecord{
		Proposal: p,
		Status:   status,
		Reason:   reason,
	}); err != nil {
		log.Warn().Err(err).Str("signal", p.ID).Msg("failed to persist signal record")
	}
}
