package backtest

import (
	"fmt"
	"strings"
)

// Report renders the run as a human-readable summary.
func (r *Result) Report() string {
	var b strings.Builder

	b.WriteString("# Backtest Report\n\n")
	fmt.Fprintf(&b, "**Run:** %s\n", r.RunID)
	fmt.Fprintf(&b, "**Period:** %s to %s\n\n", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Initial Capital: $%.2f\n", r.InitialCapital)
	fmt.Fprintf(&b, "- Final Value: $%.2f\n", r.FinalValue)
	fmt.Fprintf(&b, "- Total Return: %.2f%%\n", r.Summary.TotalReturnPct)
	fmt.Fprintf(&b, "- Sharpe Ratio: %.2f\n", r.Summary.SharpeRatio)
	fmt.Fprintf(&b, "- Max Drawdown: %.2f%%\n", r.Summary.MaxDrawdownPct)
	fmt.Fprintf(&b, "- Win Rate: %.1f%%\n", r.Summary.WinRate*100)
	fmt.Fprintf(&b, "- Total Trades: %d\n", r.Summary.TotalTrades)
	fmt.Fprintf(&b, "- Avg Daily PnL: $%.2f\n", r.Summary.AvgDailyPnL)
	fmt.Fprintf(&b, "- Days Above Target: %.1f%%\n", r.Summary.PctDaysAboveTgt)
	fmt.Fprintf(&b, "- Worst 5-Day Drawdown: $%.2f\n", r.Summary.Worst5DayLoss)
	fmt.Fprintf(&b, "- Worst 20-Day Drawdown: $%.2f\n", r.Summary.Worst20DayLoss)
	if r.Summary.LowConfidence {
		b.WriteString("- Note: sample below minimum observation count; statistics are low-confidence\n")
	}
	if len(r.DroppedSymbols) > 0 {
		fmt.Fprintf(&b, "- Dropped Symbols (no history): %s\n", strings.Join(r.DroppedSymbols, ", "))
	}

	b.WriteString("\n## Trades\n\n")
	if len(r.Trades) == 0 {
		b.WriteString("No trades executed.\n")
		return b.String()
	}
	b.WriteString("| Date | Symbol | Side | Qty | Price | Slippage | Reason | Realized PnL |\n")
	b.WriteString("|------|--------|------|-----|-------|----------|--------|--------------|\n")
	for _, trade := range r.Trades {
		realized := ""
		if trade.Side == "sell" {
			realized = fmt.Sprintf("$%.2f", trade.RealizedPnL)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %.4f | $%.2f | $%.2f | %s | %s |\n",
			trade.Date.Format("2006-01-02"), trade.Symbol, trade.Side,
			trade.Quantity, trade.ExecutedPrice, trade.SlippageCost, trade.Reason, realized)
	}
	return b.String()
}
