package store

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = errors.New("store: not found")
	ErrDuplicateKey = errors.New("store: duplicate key")
)

// TokenStatus tracks a discovered token through its lifecycle. A token moves
// NEW -> ANALYZING and from there to a terminal vetting outcome (REJECTED,
// ERROR, MANUAL) or into the trade path BUYING -> BOUGHT -> SELLING -> SOLD.
type TokenStatus string

const (
	TokenNew       TokenStatus = "NEW"
	TokenAnalyzing TokenStatus = "ANALYZING"
	TokenRejected  TokenStatus = "REJECTED"
	TokenError     TokenStatus = "ERROR"
	TokenManual    TokenStatus = "MANUAL"
	TokenBuying    TokenStatus = "BUYING"
	TokenBought    TokenStatus = "BOUGHT"
	TokenSelling   TokenStatus = "SELLING"
	TokenSold      TokenStatus = "SOLD"
)

// TradeStatus is the position state. BOUGHT trades count against capacity.
type TradeStatus string

const (
	TradeBought TradeStatus = "BOUGHT"
	TradeSold   TradeStatus = "SOLD"
)

// SellReason records why a position was closed.
type SellReason string

const (
	SellManual       SellReason = "MANUAL"
	SellDropFromPeak SellReason = "DROP_FROM_PEAK"
	SellBelowEntry   SellReason = "BELOW_ENTRY"
	SellProfitTarget SellReason = "PROFIT_TARGET"
)

// Token is a token surfaced by the listing scanner.
type Token struct {
	Address            string
	Name               string
	Symbol             string
	Decimals           int32
	PoolAddress        string
	PairedTokenAddress string
	PairedSymbol       string
	Status             TokenStatus
	StatusReason       string
	LiquidityUSD       decimal.Decimal
	InitialPriceUSD    decimal.Decimal
	ListingTxHash      string

	// Analysis is the raw vetting report as JSON, kept so a rejection or a
	// MANUAL park can be audited after the fact.
	Analysis string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Trade is a position taken against a token. Peak tracks the highest
// observed quote value of the held quantity since entry.
type Trade struct {
	ID           string
	TokenAddress string
	Status       TradeStatus

	// BuyAmount is in the spend currency; Quantity in the bought token.
	BuyAmount decimal.Decimal
	Quantity  decimal.Decimal

	EntryValue decimal.Decimal
	PeakValue  decimal.Decimal
	ExitValue  decimal.Decimal

	// Filled in when the trade closes.
	ProfitLoss    decimal.Decimal
	ProfitLossPct decimal.Decimal

	SellReason    SellReason
	BuyTxHash     string
	SellTxHash    string
	BuyFee        decimal.Decimal
	SellFee       decimal.Decimal
	WalletAddress string

	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// Wallet is the trading wallet record.
type Wallet struct {
	Address           string
	CurrencySymbol    string
	SpendTokenAddress string
	PrivateKey        string
}

// TradingConfig holds the live trading parameters. It is stored so operators
// can adjust it while the daemon runs; the daemon re-reads it on every pass.
type TradingConfig struct {
	Enabled            bool
	MaxActiveTrades    int
	TradeAmount        decimal.Decimal
	MinLiquidityUSD    decimal.Decimal
	MaxDropFromPeakPct decimal.Decimal
	ProfitMultiplier   decimal.Decimal
	MonitorIntervalSec int
	SlippagePct        decimal.Decimal
	GasLimit           uint64
	MinTransferCount   int
	MaxTransferCount   int
	UpdatedAt          time.Time
}

// DefaultTradingConfig returns the parameters a fresh deployment starts with.
// Trading itself starts disabled.
func DefaultTradingConfig() TradingConfig {
	return TradingConfig{
		Enabled:            false,
		MaxActiveTrades:    10,
		TradeAmount:        decimal.NewFromInt(30),
		MinLiquidityUSD:    decimal.NewFromInt(10000),
		MaxDropFromPeakPct: decimal.NewFromInt(20),
		ProfitMultiplier:   decimal.NewFromInt(3),
		MonitorIntervalSec: 10,
		SlippagePct:        decimal.NewFromInt(1),
		GasLimit:           300000,
		MinTransferCount:   1,
		MaxTransferCount:   100,
	}
}
