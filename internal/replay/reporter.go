package replay

import (
	"fmt"
	"io"

	"perp-trader/internal/exitpolicy"
)

// WriteReport prints a human-readable replay summary.
func WriteReport(w io.Writer, res Result) {
	fmt.Fprintln(w, "=== Replay Result ===")
	for _, s := range res.Steps {
		switch s.Action.Type {
		case exitpolicy.ActionSetStop:
			label := fmt.Sprintf("stop -> %.4f (level %.1f%%)", s.Action.StopPrice, s.Action.Level)
			if s.Action.Breakeven {
				label = fmt.Sprintf("stop -> %.4f (break-even)", s.Action.StopPrice)
			}
			fmt.Fprintf(w, "[%4d] %s  price %.4f  pnl %+.2f%%  %s\n",
				s.Index, s.Ts.Format("2006-01-02 15:04:05"), s.Price, s.PnLPercent, label)
		case exitpolicy.ActionPartialClose:
			fmt.Fprintf(w, "[%4d] %s  price %.4f  pnl %+.2f%%  tier %d filled, closed %.6f\n",
				s.Index, s.Ts.Format("2006-01-02 15:04:05"), s.Price, s.PnLPercent,
				s.Action.Tier, s.Action.CloseSize)
		}
	}

	fmt.Fprintln(w, "---")
	fmt.Fprintf(w, "Peak P&L:        %+.2f%%\n", res.PeakPnLPercent)
	fmt.Fprintf(w, "Realized P&L:    %+.2f%%\n", res.RealizedPnLPercent)
	fmt.Fprintf(w, "Final stop level: %.1f%%\n", res.FinalStopLevel)
	fmt.Fprintf(w, "Executed tiers:  %v\n", res.ExecutedTiers)
	fmt.Fprintf(w, "Remaining size:  %.6f\n", res.RemainingSize)
	if res.StoppedOut {
		fmt.Fprintf(w, "Stopped out at %.4f (%s)\n", res.StopPrice, res.ExitTs.Format("2006-01-02 15:04:05"))
	}
}
