package scanner

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-trading/meridian/internal/chain"
	"github.com/meridian-trading/meridian/internal/explorer"
)

const (
	wbnbAddr  = "0x00000000000000000000000000000000000000e1"
	usdtAddr  = "0x00000000000000000000000000000000000000e2"
	tokenAddr = "0x00000000000000000000000000000000000000c1"
	otherAddr = "0x00000000000000000000000000000000000000c2"
	poolAddr  = "0x00000000000000000000000000000000000000d1"
)

func slot(addr string) string {
	return strings.Repeat("0", 24) + strings.TrimPrefix(strings.ToLower(addr), "0x")
}

func addLiquidityETHInput(token string) string {
	return methodAddLiquidityETH + slot(token) + strings.Repeat("0", 64*5)
}

func addLiquidityInput(tokenA, tokenB string) string {
	return methodAddLiquidity + slot(tokenA) + slot(tokenB) + strings.Repeat("0", 64*6)
}

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type stubChain struct {
	head     uint64
	pools    map[string]*chain.Reserves
	pairFor  string
	metaErr  map[string]error
	metaSeen []string
}

func newStubChain() *stubChain {
	wbnbReserve := new(big.Int).Mul(big.NewInt(100), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	tokenReserve := new(big.Int).Mul(big.NewInt(1_000_000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	return &stubChain{
		head: 5000,
		pools: map[string]*chain.Reserves{
			strings.ToLower(poolAddr): {
				Token0:   tokenAddr,
				Token1:   wbnbAddr,
				Reserve0: tokenReserve,
				Reserve1: wbnbReserve,
			},
		},
		pairFor: poolAddr,
		metaErr: map[string]error{},
	}
}

func (c *stubChain) TokenMetadata(_ context.Context, token string) (string, string, int32, error) {
	c.metaSeen = append(c.metaSeen, strings.ToLower(token))
	if err := c.metaErr[strings.ToLower(token)]; err != nil {
		return "", "", 0, err
	}
	return "Shiny", "SHN", 18, nil
}

func (c *stubChain) PairFor(context.Context, string, string) (string, error) {
	if c.pairFor == "" {
		return "", chain.ErrNoPair
	}
	return c.pairFor, nil
}

func (c *stubChain) PoolReserves(_ context.Context, pool string) (*chain.Reserves, error) {
	r, ok := c.pools[strings.ToLower(pool)]
	if !ok {
		return nil, errors.New("not a pool")
	}
	return r, nil
}

func (c *stubChain) LatestBlock(context.Context) (uint64, error) { return c.head, nil }

type stubExplorer struct {
	txs        []explorer.Tx
	scanWindow [2]int64
	receipts   map[string]*explorer.Receipt
	receiptErr error
	tokenInfo  map[string]*explorer.TokenInfo
	price      decimal.Decimal
}

func newStubExplorer(txs ...explorer.Tx) *stubExplorer {
	return &stubExplorer{
		txs: txs,
		receipts: map[string]*explorer.Receipt{
			"0xlist": {Logs: []explorer.ReceiptLog{
				{Address: tokenAddr},
				{Address: wbnbAddr},
				{Address: poolAddr},
			}},
		},
		tokenInfo: map[string]*explorer.TokenInfo{},
		price:     decimal.NewFromInt(600),
	}
}

func (e *stubExplorer) RouterTxList(_ context.Context, _ string, start, end int64) ([]explorer.Tx, error) {
	e.scanWindow = [2]int64{start, end}
	return e.txs, nil
}

func (e *stubExplorer) TxReceipt(_ context.Context, hash string) (*explorer.Receipt, error) {
	if e.receiptErr != nil {
		return nil, e.receiptErr
	}
	r, ok := e.receipts[hash]
	if !ok {
		return nil, explorer.ErrNoResult
	}
	return r, nil
}

func (e *stubExplorer) TokenInfo(_ context.Context, token string) (*explorer.TokenInfo, error) {
	info, ok := e.tokenInfo[strings.ToLower(token)]
	if !ok {
		return nil, explorer.ErrNoResult
	}
	return info, nil
}

func (e *stubExplorer) NativePriceUSD(context.Context) (decimal.Decimal, error) {
	return e.price, nil
}

func newTestScanner(c *stubChain, e *stubExplorer) *Scanner {
	return New(Config{
		Router:        "0xrouter",
		NativeSymbol:  "WBNB",
		KnownTokens:   map[string]string{"WBNB": wbnbAddr, "USDT": usdtAddr},
		StableSymbols: []string{"USDT"},
	}, c, e, zerolog.Nop())
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestScanDetectsNativeListing(t *testing.T) {
	e := newStubExplorer(explorer.Tx{
		Hash: "0xlist", Input: addLiquidityETHInput(tokenAddr), IsError: "0",
	})
	s := newTestScanner(newStubChain(), e)

	listings, err := s.Scan(context.Background(), 100, 200)
	require.NoError(t, err)
	require.Len(t, listings, 1)

	l := listings[0]
	assert.Equal(t, tokenAddr, l.TokenAddress)
	assert.Equal(t, "SHN", l.TokenSymbol)
	assert.Equal(t, int32(18), l.Decimals)
	assert.Equal(t, wbnbAddr, l.PairedTokenAddress)
	assert.Equal(t, "WBNB", l.PairedSymbol)
	assert.Equal(t, poolAddr, l.PoolAddress)
	assert.Equal(t, "0xlist", l.TxHash)

	// 100 WBNB reserve at $600, both sides counted.
	assert.True(t, l.LiquidityUSD.Equal(decimal.NewFromInt(120_000)),
		"liquidity = %s", l.LiquidityUSD)
	// $60,000 of WBNB backing 1,000,000 tokens.
	assert.True(t, l.InitialPriceUSD.Equal(decimal.NewFromFloat(0.06)),
		"price = %s", l.InitialPriceUSD)
}

func TestScanDetectsStablePairListing(t *testing.T) {
	c := newStubChain()
	usdtReserve := new(big.Int).Mul(big.NewInt(8000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	c.pools[strings.ToLower(poolAddr)] = &chain.Reserves{
		Token0:   usdtAddr,
		Token1:   tokenAddr,
		Reserve0: usdtReserve,
		Reserve1: big.NewInt(1),
	}
	e := newStubExplorer(explorer.Tx{
		Hash: "0xlist", Input: addLiquidityInput(usdtAddr, tokenAddr), IsError: "0",
	})
	e.receipts["0xlist"] = &explorer.Receipt{Logs: []explorer.ReceiptLog{{Address: poolAddr}}}

	listings, err := newTestScanner(c, e).Scan(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, listings, 1)

	assert.Equal(t, tokenAddr, listings[0].TokenAddress)
	assert.Equal(t, "USDT", listings[0].PairedSymbol)
	// Stables price at par: 8000 * 2.
	assert.True(t, listings[0].LiquidityUSD.Equal(decimal.NewFromInt(16_000)),
		"liquidity = %s", listings[0].LiquidityUSD)
}

func TestScanSkipsNonListings(t *testing.T) {
	e := newStubExplorer(
		// reverted
		explorer.Tx{Hash: "0x1", Input: addLiquidityETHInput(tokenAddr), IsError: "1"},
		// known token listed against native: not new
		explorer.Tx{Hash: "0x2", Input: addLiquidityETHInput(usdtAddr), IsError: "0"},
		// two known sides
		explorer.Tx{Hash: "0x3", Input: addLiquidityInput(usdtAddr, wbnbAddr), IsError: "0"},
		// two unknown sides
		explorer.Tx{Hash: "0x4", Input: addLiquidityInput(tokenAddr, otherAddr), IsError: "0"},
		// plain swap
		explorer.Tx{Hash: "0x5", Input: "0x38ed1739" + strings.Repeat("0", 64), IsError: "0"},
	)
	listings, err := newTestScanner(newStubChain(), e).Scan(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Empty(t, listings)
}

func TestScanDeduplicatesWithinWindow(t *testing.T) {
	e := newStubExplorer(
		explorer.Tx{Hash: "0xlist", Input: addLiquidityETHInput(tokenAddr), IsError: "0"},
		explorer.Tx{Hash: "0xlist2", Input: addLiquidityETHInput(strings.Replace(tokenAddr, "c1", "C1", 1)), IsError: "0"},
	)
	e.receipts["0xlist2"] = e.receipts["0xlist"]

	listings, err := newTestScanner(newStubChain(), e).Scan(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Len(t, listings, 1)
}

func TestScanFallsBackToFactoryWhenReceiptUnavailable(t *testing.T) {
	e := newStubExplorer(explorer.Tx{
		Hash: "0xlist", Input: addLiquidityETHInput(tokenAddr), IsError: "0",
	})
	e.receiptErr = errors.New("explorer down")

	listings, err := newTestScanner(newStubChain(), e).Scan(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, poolAddr, listings[0].PoolAddress)
}

func TestScanMetadataFallsBackToExplorer(t *testing.T) {
	c := newStubChain()
	c.metaErr[tokenAddr] = errors.New("execution reverted")

	e := newStubExplorer(explorer.Tx{
		Hash: "0xlist", Input: addLiquidityETHInput(tokenAddr), IsError: "0",
	})
	e.tokenInfo[tokenAddr] = &explorer.TokenInfo{
		TokenName: "Explorer Name", Symbol: "EXP", Divisor: "9",
	}

	listings, err := newTestScanner(c, e).Scan(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "Explorer Name", listings[0].TokenName)
	assert.Equal(t, "EXP", listings[0].TokenSymbol)
	assert.Equal(t, int32(9), listings[0].Decimals)
}

func TestScanSkipsUnresolvableListing(t *testing.T) {
	c := newStubChain()
	c.metaErr[tokenAddr] = errors.New("execution reverted")

	e := newStubExplorer(
		explorer.Tx{Hash: "0xlist", Input: addLiquidityETHInput(tokenAddr), IsError: "0"},
		explorer.Tx{Hash: "0xother", Input: addLiquidityETHInput(otherAddr), IsError: "0"},
	)
	e.receipts["0xother"] = &explorer.Receipt{Logs: []explorer.ReceiptLog{{Address: poolAddr}}}

	// The broken listing is skipped, not fatal for the window.
	listings, err := newTestScanner(c, e).Scan(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, otherAddr, listings[0].TokenAddress)
}

func TestScanRecentWindow(t *testing.T) {
	c := newStubChain()
	c.head = 5000
	e := newStubExplorer()

	_, err := newTestScanner(c, e).ScanRecent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [2]int64{4900, 5000}, e.scanWindow)
}

func TestCalldataAddress(t *testing.T) {
	input := "0x" + "f305d719" + slot(tokenAddr) + slot(wbnbAddr)

	got, ok := calldataAddress(input, 0)
	require.True(t, ok)
	assert.Equal(t, tokenAddr, got)

	got, ok = calldataAddress(input, 1)
	require.True(t, ok)
	assert.Equal(t, wbnbAddr, got)

	_, ok = calldataAddress(input, 2)
	assert.False(t, ok)

	_, ok = calldataAddress("0x1234", 0)
	assert.False(t, ok)
}
