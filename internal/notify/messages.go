package notify

import (
	"fmt"
	"strings"

	"github.com/meridian-trading/meridian/internal/store"
)

// Check is one line of the vetting checklist shown to operators.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

func mark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

// PotentialTradeMessage renders the alert for a token that passed vetting,
// with the full checklist so operators can audit the decision.
func PotentialTradeMessage(tok *store.Token, checks []Check) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚀 <b>Potential trade: %s (%s)</b>\n", tok.Name, tok.Symbol)
	fmt.Fprintf(&b, "Token: <code>%s</code>\n", tok.Address)
	fmt.Fprintf(&b, "Pool: <code>%s</code> (%s pair)\n", tok.PoolAddress, tok.PairedSymbol)
	fmt.Fprintf(&b, "Liquidity: $%s\n\n", tok.LiquidityUSD.StringFixed(2))
	for _, c := range checks {
		fmt.Fprintf(&b, "%s %s", mark(c.OK), c.Name)
		if c.Detail != "" {
			fmt.Fprintf(&b, " (%s)", c.Detail)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// RejectionMessage renders the alert for a token rejected by vetting.
func RejectionMessage(tok *store.Token, reason string) string {
	return fmt.Sprintf("⛔ <b>Rejected %s (%s)</b>\nToken: <code>%s</code>\nReason: %s",
		tok.Name, tok.Symbol, tok.Address, reason)
}

// BuyMessage renders the alert for an executed buy.
func BuyMessage(tok *store.Token, tr *store.Trade) string {
	return fmt.Sprintf(
		"🟢 <b>Bought %s</b>\nSpent: %s\nQuantity: %s\nTx: <code>%s</code>",
		tok.Symbol, tr.BuyAmount.StringFixed(4), tr.Quantity.String(), tr.BuyTxHash)
}

// SellMessage renders the alert for an executed sell, with realized PnL.
func SellMessage(tok *store.Token, tr *store.Trade) string {
	return fmt.Sprintf(
		"🔴 <b>Sold %s</b> (%s)\nReceived: %s\nPnL: %s (%s%%)\nTx: <code>%s</code>",
		tok.Symbol, tr.SellReason, tr.ExitValue.StringFixed(4),
		tr.ProfitLoss.StringFixed(4), tr.ProfitLossPct.StringFixed(2), tr.SellTxHash)
}

// ErrorMessage renders an operational failure alert.
func ErrorMessage(scope, detail string) string {
	return fmt.Sprintf("⚠️ <b>%s failed</b>\n%s", scope, detail)
}
