package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the persistence boundary. Implementations must make
// CreateTokenIfAbsent idempotent on the token address so a rescan of the
// same listing window never produces duplicates.
type Store interface {
	// Tokens.
	CreateTokenIfAbsent(ctx context.Context, t *Token) (created bool, err error)
	GetToken(ctx context.Context, address string) (*Token, error)
	UpdateToken(ctx context.Context, t *Token) error
	ListTokensByStatus(ctx context.Context, status TokenStatus) ([]*Token, error)
	PurgeTokensBefore(ctx context.Context, cutoff time.Time, statuses []TokenStatus) (int64, error)

	// Trades.
	CreateTrade(ctx context.Context, tr *Trade) error
	GetTrade(ctx context.Context, id string) (*Trade, error)
	OpenTradeForToken(ctx context.Context, tokenAddress string) (*Trade, error)
	UpdateTrade(ctx context.Context, tr *Trade) error
	ListTradesByStatus(ctx context.Context, status TradeStatus) ([]*Trade, error)
	CountTradesByStatus(ctx context.Context, status TradeStatus) (int, error)
	SumBuyAmountByStatus(ctx context.Context, status TradeStatus) (decimal.Decimal, error)
	PurgeTradesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Trading parameters and wallet.
	GetOrCreateTradingConfig(ctx context.Context) (*TradingConfig, error)
	SaveTradingConfig(ctx context.Context, cfg *TradingConfig) error
	GetWallet(ctx context.Context, address string) (*Wallet, error)
	SaveWallet(ctx context.Context, w *Wallet) error
}
