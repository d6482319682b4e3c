package trading

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance means the wallet cannot cover the requested
	// spend.
	ErrInsufficientBalance = errors.New("trading: insufficient balance")
)

// ExecStatus is the terminal state of an execution attempt.
type ExecStatus string

const (
	ExecFilled ExecStatus = "FILLED"
	ExecFailed ExecStatus = "FAILED"
)

// ExecResult is the normalized outcome of a buy or sell, identical in shape
// for the on-chain and exchange backends. OrderID is the transaction hash on
// chain and the venue order id on an exchange.
type ExecResult struct {
	OrderID  string
	Status   ExecStatus
	Quantity decimal.Decimal // base token units bought or sold
	Price    decimal.Decimal // spend units per base unit, averaged
	Spent    decimal.Decimal // spend units in (buy) or out (sell)
	Fee      decimal.Decimal
	GasUsed  uint64
}

// BuyOrder asks an executor to spend Amount of the spend currency on Token.
type BuyOrder struct {
	Token       string
	TokenSymbol string
	Amount      decimal.Decimal
	SlippagePct decimal.Decimal
}

// SellOrder asks an executor to liquidate Quantity of Token back into the
// spend currency.
type SellOrder struct {
	Token       string
	TokenSymbol string
	Quantity    decimal.Decimal
	SlippagePct decimal.Decimal
}

// Listing is a newly listed token with its pool, as resolved by the scan
// path. The scanner produces these; the engine turns them into tracked
// tokens.
type Listing struct {
	TokenAddress       string
	TokenName          string
	TokenSymbol        string
	Decimals           int32
	PairedTokenAddress string
	PairedSymbol       string
	PoolAddress        string
	TxHash             string
	LiquidityUSD       decimal.Decimal
	InitialPriceUSD    decimal.Decimal
}

// Executor is a trade execution backend.
type Executor interface {
	Buy(ctx context.Context, ord BuyOrder) (*ExecResult, error)
	Sell(ctx context.Context, ord SellOrder) (*ExecResult, error)
}

// Quoter values a held quantity of a token in the spend currency, at current
// pool reserves and net of swap fees.
type Quoter interface {
	QuoteSell(ctx context.Context, token string, quantity decimal.Decimal) (decimal.Decimal, error)
}
