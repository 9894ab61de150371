package metrics

import "time"

// Wrapper is the nil-safe facade the engine components hold. A nil
// wrapper (metrics disabled) turns every call into a no-op, so callers
// never need to guard.
type Wrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

func (w *Wrapper) PollCycleInc() {
	if w != nil && w.m != nil {
		w.m.PollCyclesTotal.Inc()
	}
}

func (w *Wrapper) CycleDuration(d time.Duration) {
	if w != nil && w.m != nil {
		w.m.CycleDuration.Observe(d.Seconds())
	}
}

func (w *Wrapper) StopUpdateInc() {
	if w != nil && w.m != nil {
		w.m.StopUpdatesTotal.Inc()
	}
}

func (w *Wrapper) BreakevenMoveInc() {
	if w != nil && w.m != nil {
		w.m.BreakevenMovesTotal.Inc()
	}
}

func (w *Wrapper) TierExecutionInc() {
	if w != nil && w.m != nil {
		w.m.TierExecutionsTotal.Inc()
	}
}

func (w *Wrapper) PriceUnavailableInc() {
	if w != nil && w.m != nil {
		w.m.PriceUnavailable.Inc()
	}
}

func (w *Wrapper) SetActivePositions(n int) {
	if w != nil && w.m != nil {
		w.m.ActivePositions.Set(float64(n))
	}
}

func (w *Wrapper) SetDailyRealizedPnL(v float64) {
	if w != nil && w.m != nil {
		w.m.DailyRealizedPnL.Set(v)
	}
}

func (w *Wrapper) OrderInc() {
	if w != nil && w.m != nil {
		w.m.OrdersTotal.Inc()
	}
}

func (w *Wrapper) OrderFailureInc() {
	if w != nil && w.m != nil {
		w.m.OrderFailures.Inc()
	}
}

func (w *Wrapper) OrderDuration(d time.Duration) {
	if w != nil && w.m != nil {
		w.m.OrderExecutionDuration.Observe(d.Seconds())
	}
}

func (w *Wrapper) SignalReceivedInc() {
	if w != nil && w.m != nil {
		w.m.SignalsReceived.Inc()
	}
}

func (w *Wrapper) SignalApprovedInc() {
	if w != nil && w.m != nil {
		w.m.SignalsApproved.Inc()
	}
}

func (w *Wrapper) SignalRejectedInc() {
	if w != nil && w.m != nil {
		w.m.SignalsRejected.Inc()
	}
}

func (w *Wrapper) WSReconnectInc() {
	if w != nil && w.m != nil {
		w.m.WSReconnects.Inc()
	}
}

func (w *Wrapper) TickReceivedInc() {
	if w != nil && w.m != nil {
		w.m.TicksReceived.Inc()
	}
}

// PnLCalculationsInc implements pnl.MetricsTracker.
func (w *Wrapper) PnLCalculationsInc() {
	if w != nil && w.m != nil {
		w.m.PnLCalculations.Inc()
	}
}

// CalcErrorsInc implements pnl.MetricsTracker.
func (w *Wrapper) CalcErrorsInc() {
	if w != nil && w.m != nil {
		w.m.CalcErrors.Inc()
	}
}

func (w *Wrapper) ErrorInc() {
	if w != nil && w.m != nil {
		w.m.ErrorsTotal.Inc()
	}
}
