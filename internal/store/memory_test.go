package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTokenIfAbsentIdempotent(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	tok := &Token{Address: "0xaaa", Symbol: "NEW", Status: TokenNew}
	created, err := s.CreateTokenIfAbsent(ctx, tok)
	require.NoError(t, err)
	assert.True(t, created)

	// Rescanning the same listing window must not reset the token.
	tok2 := &Token{Address: "0xaaa", Symbol: "NEW", Status: TokenNew}
	created, err = s.CreateTokenIfAbsent(ctx, tok2)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := s.GetToken(ctx, "0xaaa")
	require.NoError(t, err)
	assert.Equal(t, TokenNew, got.Status)
}

func TestTokenUpdateAndListByStatus(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for _, addr := range []string{"0x1", "0x2", "0x3"} {
		_, err := s.CreateTokenIfAbsent(ctx, &Token{Address: addr, Status: TokenNew})
		require.NoError(t, err)
	}

	tok, err := s.GetToken(ctx, "0x2")
	require.NoError(t, err)
	tok.Status = TokenRejected
	tok.StatusReason = "Insufficient liquidity"
	require.NoError(t, s.UpdateToken(ctx, tok))

	fresh, err := s.ListTokensByStatus(ctx, TokenNew)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)

	rejected, err := s.ListTokensByStatus(ctx, TokenRejected)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, "Insufficient liquidity", rejected[0].StatusReason)

	assert.ErrorIs(t, s.UpdateToken(ctx, &Token{Address: "0xmissing"}), ErrNotFound)
}

func TestTradeCapacityQueries(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	open := func(amount int64) {
		require.NoError(t, s.CreateTrade(ctx, &Trade{
			ID:           uuid.NewString(),
			TokenAddress: uuid.NewString(),
			Status:       TradeBought,
			BuyAmount:    decimal.NewFromInt(amount),
		}))
	}
	open(30)
	open(30)
	require.NoError(t, s.CreateTrade(ctx, &Trade{
		ID:        uuid.NewString(),
		Status:    TradeSold,
		BuyAmount: decimal.NewFromInt(100),
	}))

	n, err := s.CountTradesByStatus(ctx, TradeBought)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sum, err := s.SumBuyAmountByStatus(ctx, TradeBought)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(60)), "sum = %s", sum)
}

func TestOpenTradeForToken(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	id := uuid.NewString()
	require.NoError(t, s.CreateTrade(ctx, &Trade{
		ID:           id,
		TokenAddress: "0xtok",
		Status:       TradeBought,
	}))

	tr, err := s.OpenTradeForToken(ctx, "0xtok")
	require.NoError(t, err)
	assert.Equal(t, id, tr.ID)

	tr.Status = TradeSold
	now := time.Now()
	tr.ClosedAt = &now
	require.NoError(t, s.UpdateTrade(ctx, tr))

	_, err = s.OpenTradeForToken(ctx, "0xtok")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateTradeRejected(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	tr := &Trade{ID: "dup", Status: TradeBought}
	require.NoError(t, s.CreateTrade(ctx, tr))
	assert.ErrorIs(t, s.CreateTrade(ctx, &Trade{ID: "dup"}), ErrDuplicateKey)
}

func TestTradingConfigDefaults(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	cfg, err := s.GetOrCreateTradingConfig(ctx)
	require.NoError(t, err)

	assert.False(t, cfg.Enabled)
	assert.Equal(t, 10, cfg.MaxActiveTrades)
	assert.True(t, cfg.TradeAmount.Equal(decimal.NewFromInt(30)))
	assert.True(t, cfg.MinLiquidityUSD.Equal(decimal.NewFromInt(10000)))
	assert.True(t, cfg.MaxDropFromPeakPct.Equal(decimal.NewFromInt(20)))
	assert.True(t, cfg.ProfitMultiplier.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, 10, cfg.MonitorIntervalSec)
	assert.True(t, cfg.SlippagePct.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, uint64(300000), cfg.GasLimit)
	assert.Equal(t, 1, cfg.MinTransferCount)
	assert.Equal(t, 100, cfg.MaxTransferCount)

	cfg.Enabled = true
	cfg.MaxActiveTrades = 3
	require.NoError(t, s.SaveTradingConfig(ctx, cfg))

	again, err := s.GetOrCreateTradingConfig(ctx)
	require.NoError(t, err)
	assert.True(t, again.Enabled)
	assert.Equal(t, 3, again.MaxActiveTrades)
}

func TestPurge(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	past := time.Now().Add(-48 * time.Hour)
	s.now = func() time.Time { return past }

	_, err := s.CreateTokenIfAbsent(ctx, &Token{Address: "0xold", Status: TokenRejected})
	require.NoError(t, err)
	closed := past
	require.NoError(t, s.CreateTrade(ctx, &Trade{ID: "t1", Status: TradeSold, ClosedAt: &closed}))

	s.now = time.Now

	_, err = s.CreateTokenIfAbsent(ctx, &Token{Address: "0xfresh", Status: TokenRejected})
	require.NoError(t, err)
	// Open positions survive the purge regardless of age.
	require.NoError(t, s.CreateTrade(ctx, &Trade{ID: "t2", Status: TradeBought}))

	cutoff := time.Now().Add(-24 * time.Hour)

	n, err := s.PurgeTokensBefore(ctx, cutoff, []TokenStatus{TokenRejected, TokenError})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.GetToken(ctx, "0xfresh")
	assert.NoError(t, err)

	n, err = s.PurgeTradesBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.GetTrade(ctx, "t2")
	assert.NoError(t, err)
}

func TestWalletRoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	w := &Wallet{
		Address:           "0xabc",
		CurrencySymbol:    "USDT",
		SpendTokenAddress: "0x55d",
	}
	require.NoError(t, s.SaveWallet(ctx, w))

	got, err := s.GetWallet(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "USDT", got.CurrencySymbol)

	_, err = s.GetWallet(ctx, "0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)
}
