// Package amm implements constant-product pool math for a PancakeSwap-style
// router. All reserve arithmetic is integer big.Int so outputs match on-chain
// rounding exactly; decimal values are derived only after the integer output
// is fixed.
package amm

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Constant-product swap math — 0.2% fee, integer floor division
// ---------------------------------------------------------------------------

// The router charges a 0.2% fee: amountInWithFee = amountIn * 998 / 1000.
var (
	feeNumerator   = big.NewInt(998)
	feeDenominator = big.NewInt(1000)
)

var (
	// ErrBadAmount is returned for a zero or negative input amount.
	ErrBadAmount = errors.New("amm: input amount must be positive")

	// ErrBadReserves is returned when either pool reserve is not positive.
	ErrBadReserves = errors.New("amm: pool reserves must be positive")
)

func init() {
	// Trade decisions carry 18 fractional digits end to end.
	decimal.DivisionPrecision = 18
}

// SwapOutput computes the output amount for a constant-product swap:
//
//	out = floor(reserveOut * amountIn*998 / (reserveIn*1000 + amountIn*998))
//
// The result is exact integer math matching the on-chain computation, which
// makes it safe to derive minimum-acceptable-output guards from it.
func SwapOutput(reserveIn, reserveOut, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrBadAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrBadReserves
	}

	amountInWithFee := new(big.Int).Mul(amountIn, feeNumerator)
	numerator := new(big.Int).Mul(reserveOut, amountInWithFee)
	denominator := new(big.Int).Mul(reserveIn, feeDenominator)
	denominator.Add(denominator, amountInWithFee)

	return numerator.Quo(numerator, denominator), nil
}

// Quote is a full pricing record for a prospective swap. Prices are expressed
// as input units per one output unit, adjusted for token decimals.
type Quote struct {
	AmountOut *big.Int

	// SpotPrice is the mid price before the swap moves the pool.
	SpotPrice decimal.Decimal

	// ExecutionPrice is the volume-weighted price actually paid.
	ExecutionPrice decimal.Decimal

	// PriceImpactPct = amountIn / (reserveIn + amountIn) * 100.
	PriceImpactPct decimal.Decimal

	// SlippagePct = (execution - spot) / spot * 100.
	SlippagePct decimal.Decimal

	// Decimal-adjusted reserves, for liquidity reporting.
	ReserveIn  decimal.Decimal
	ReserveOut decimal.Decimal
}

// ComputeQuote prices a swap of amountIn against the given reserves.
// decimalsIn/decimalsOut are the token decimals of each side.
func ComputeQuote(reserveIn, reserveOut, amountIn *big.Int, decimalsIn, decimalsOut int32) (*Quote, error) {
	out, err := SwapOutput(reserveIn, reserveOut, amountIn)
	if err != nil {
		return nil, err
	}
	if out.Sign() == 0 {
		return nil, errors.New("amm: swap output rounds to zero")
	}

	// Integer output is fixed; everything below is reporting.
	resIn := Adjust(reserveIn, decimalsIn)
	resOut := Adjust(reserveOut, decimalsOut)
	in := Adjust(amountIn, decimalsIn)
	outAdj := Adjust(out, decimalsOut)

	spot := resIn.Div(resOut)
	exec := in.Div(outAdj)

	impact := decimal.NewFromBigInt(amountIn, 0).
		Div(decimal.NewFromBigInt(new(big.Int).Add(reserveIn, amountIn), 0)).
		Mul(decimal.NewFromInt(100))

	slippage := exec.Sub(spot).Div(spot).Mul(decimal.NewFromInt(100))

	return &Quote{
		AmountOut:      out,
		SpotPrice:      spot,
		ExecutionPrice: exec,
		PriceImpactPct: impact,
		SlippagePct:    slippage,
		ReserveIn:      resIn,
		ReserveOut:     resOut,
	}, nil
}

// MidPrice returns the price of the base token denominated in the quote
// token, from raw reserves and per-side decimals.
func MidPrice(reserveBase, reserveQuote *big.Int, decimalsBase, decimalsQuote int32) (decimal.Decimal, error) {
	if reserveBase == nil || reserveQuote == nil || reserveBase.Sign() <= 0 || reserveQuote.Sign() <= 0 {
		return decimal.Zero, ErrBadReserves
	}
	base := Adjust(reserveBase, decimalsBase)
	quote := Adjust(reserveQuote, decimalsQuote)
	return quote.Div(base), nil
}

// MinOutput applies a slippage allowance (percent) to an expected output,
// rounding down. Used to set the router's amountOutMin guard.
func MinOutput(expected *big.Int, slippagePct decimal.Decimal) *big.Int {
	keep := decimal.NewFromInt(100).Sub(slippagePct)
	min := decimal.NewFromBigInt(expected, 0).Mul(keep).Div(decimal.NewFromInt(100))
	return min.BigInt()
}

// ToRaw converts a human token amount into raw integer units, truncating
// anything below the smallest unit.
func ToRaw(v decimal.Decimal, decimals int32) *big.Int {
	return v.Shift(decimals).Truncate(0).BigInt()
}

// Adjust converts a raw integer token amount to a decimal using the token's
// decimals.
func Adjust(raw *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -decimals)
}
