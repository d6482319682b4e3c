package vetting

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Check is one evaluated criterion. The full list goes into the operator
// alert so every decision can be audited.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Verdict is the outcome of evaluating a token. Reason holds the first
// failed check when not accepted.
type Verdict struct {
	Accepted bool
	Reason   string
	Checks   []Check
}

// Policy holds the acceptance thresholds.
type Policy struct {
	MaxTaxPct       decimal.Decimal
	MinLiquidityUSD decimal.Decimal

	// Transfer count must be strictly inside (Min, Max).
	MinTransferCount int
	MaxTransferCount int
}

// Inputs carries the observations the policy judges alongside the oracle
// report.
type Inputs struct {
	Report        *Report
	LiquidityUSD  decimal.Decimal
	TransferCount int
}

// Evaluate runs every check and returns the full checklist. It never short
// circuits: a rejected token still reports the outcome of each criterion.
func (p Policy) Evaluate(in Inputs) Verdict {
	r := in.Report

	checks := []Check{
		{Name: "Insufficient liquidity", OK: in.LiquidityUSD.GreaterThanOrEqual(p.MinLiquidityUSD),
			Detail: fmt.Sprintf("$%s", in.LiquidityUSD.StringFixed(2))},
		{Name: "Transfer activity out of band",
			OK:     in.TransferCount > p.MinTransferCount && in.TransferCount < p.MaxTransferCount,
			Detail: fmt.Sprintf("%d transfers", in.TransferCount)},
		{Name: "Honeypot", OK: !r.IsHoneypot},
		{Name: "Buy disabled", OK: !r.CannotBuy},
		{Name: "Sell restricted", OK: !r.CannotSellAll},
		{Name: "Buy tax too high", OK: r.BuyTaxPct.LessThanOrEqual(p.MaxTaxPct),
			Detail: fmt.Sprintf("%s%%", r.BuyTaxPct.StringFixed(1))},
		{Name: "Sell tax too high", OK: r.SellTaxPct.LessThanOrEqual(p.MaxTaxPct),
			Detail: fmt.Sprintf("%s%%", r.SellTaxPct.StringFixed(1))},
		{Name: "Source not verified", OK: r.IsOpenSource},
		{Name: "Proxy contract", OK: !r.IsProxy},
		{Name: "Mintable", OK: !r.IsMintable},
		{Name: "Hidden owner", OK: !r.HiddenOwner},
		{Name: "Ownership reclaimable", OK: !r.CanTakeOwnership},
		{Name: "Owner can change balances", OK: !r.OwnerChangeBalance},
		{Name: "Self destruct", OK: !r.SelfDestruct},
		{Name: "External call", OK: !r.ExternalCall},
		{Name: "Transfers pausable", OK: !r.TransferPausable},
		{Name: "Trading cooldown", OK: !r.TradingCooldown},
		{Name: "Slippage modifiable", OK: !r.SlippageModifiable},
		{Name: "Per-address slippage modifiable", OK: !r.PersonalSlippageMod},
		{Name: "Blacklist", OK: !r.IsBlacklisted},
		{Name: "Whitelist", OK: !r.IsWhitelisted},
		{Name: "Anti-whale", OK: !r.IsAntiWhale},
		{Name: "Anti-whale modifiable", OK: !r.AntiWhaleModifiable},
	}

	v := Verdict{Accepted: true, Checks: checks}
	for _, c := range checks {
		if !c.OK {
			v.Accepted = false
			v.Reason = c.Name
			break
		}
	}
	return v
}
