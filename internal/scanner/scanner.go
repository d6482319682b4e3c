// Package scanner detects new token listings by watching the DEX router for
// liquidity-add transactions.
package scanner

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/meridian-trading/meridian/internal/chain"
	"github.com/meridian-trading/meridian/internal/explorer"
	"github.com/meridian-trading/meridian/internal/trading"
)

// Router method selectors for the two liquidity-add entry points.
const (
	methodAddLiquidityETH = "0xf305d719"
	methodAddLiquidity    = "0xe8e33700"
)

// chainReader is the slice of the gateway the scanner uses.
type chainReader interface {
	TokenMetadata(ctx context.Context, token string) (name, symbol string, decimals int32, err error)
	PairFor(ctx context.Context, tokenA, tokenB string) (string, error)
	PoolReserves(ctx context.Context, pool string) (*chain.Reserves, error)
	LatestBlock(ctx context.Context) (uint64, error)
}

// explorerAPI is the slice of the explorer client the scanner uses.
type explorerAPI interface {
	RouterTxList(ctx context.Context, router string, startBlock, endBlock int64) ([]explorer.Tx, error)
	TxReceipt(ctx context.Context, txHash string) (*explorer.Receipt, error)
	TokenInfo(ctx context.Context, token string) (*explorer.TokenInfo, error)
	NativePriceUSD(ctx context.Context) (decimal.Decimal, error)
}

// Config wires a Scanner.
type Config struct {
	Router       string
	NativeSymbol string

	// KnownTokens maps symbol -> address for the well-known quote tokens.
	KnownTokens map[string]string

	// StableSymbols are USD-pegged entries of KnownTokens.
	StableSymbols []string

	// LookbackBlocks bounds a scan window when no start block is given.
	LookbackBlocks uint64
}

// Scanner turns router history into Listings.
type Scanner struct {
	cfg      Config
	chain    chainReader
	explorer explorerAPI

	knownByAddr map[string]string // lower(address) -> symbol
	stables     map[string]bool
	logger      zerolog.Logger
}

func New(cfg Config, chainReader chainReader, explorerAPI explorerAPI, logger zerolog.Logger) *Scanner {
	if cfg.LookbackBlocks == 0 {
		cfg.LookbackBlocks = 100
	}
	s := &Scanner{
		cfg:         cfg,
		chain:       chainReader,
		explorer:    explorerAPI,
		knownByAddr: make(map[string]string, len(cfg.KnownTokens)),
		stables:     make(map[string]bool, len(cfg.StableSymbols)),
		logger:      logger.With().Str("component", "scanner").Logger(),
	}
	for sym, addr := range cfg.KnownTokens {
		s.knownByAddr[strings.ToLower(addr)] = sym
	}
	for _, sym := range cfg.StableSymbols {
		s.stables[sym] = true
	}
	return s
}

// ScanRecent scans the trailing lookback window ending at the current head.
func (s *Scanner) ScanRecent(ctx context.Context) ([]trading.Listing, error) {
	head, err := s.chain.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	start := int64(0)
	if head > s.cfg.LookbackBlocks {
		start = int64(head - s.cfg.LookbackBlocks)
	}
	return s.Scan(ctx, start, int64(head))
}

// Scan inspects router transactions in [startBlock, endBlock] and resolves
// every liquidity add that lists a token absent from the known set. Failures
// on individual transactions are logged and skipped so one bad listing never
// hides the rest of the window.
func (s *Scanner) Scan(ctx context.Context, startBlock, endBlock int64) ([]trading.Listing, error) {
	txs, err := s.explorer.RouterTxList(ctx, s.cfg.Router, startBlock, endBlock)
	if err != nil {
		return nil, err
	}

	var out []trading.Listing
	seen := make(map[string]bool)

	for _, tx := range txs {
		if tx.Failed() {
			continue
		}
		tokenAddr, pairedAddr, pairedSym, ok := s.classify(tx)
		if !ok {
			continue
		}
		key := strings.ToLower(tokenAddr)
		if seen[key] {
			continue
		}
		seen[key] = true

		listing, err := s.resolve(ctx, tx, tokenAddr, pairedAddr, pairedSym)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			s.logger.Warn().Err(err).Str("token", tokenAddr).Str("tx", tx.Hash).
				Msg("listing resolution failed, skipping")
			continue
		}
		out = append(out, *listing)
	}
	return out, nil
}

// classify extracts the new token and its paired side from a liquidity-add
// transaction. It returns ok=false for anything that is not a listing of an
// unknown token against a known one.
func (s *Scanner) classify(tx explorer.Tx) (tokenAddr, pairedAddr, pairedSym string, ok bool) {
	switch tx.MethodID() {
	case methodAddLiquidityETH:
		// addLiquidityETH(token, ...) pairs the token with wrapped native.
		token, ok := calldataAddress(tx.Input, 0)
		if !ok || s.known(token) {
			return "", "", "", false
		}
		native := s.cfg.KnownTokens[s.cfg.NativeSymbol]
		return token, native, s.cfg.NativeSymbol, true

	case methodAddLiquidity:
		a, okA := calldataAddress(tx.Input, 0)
		b, okB := calldataAddress(tx.Input, 1)
		if !okA || !okB {
			return "", "", "", false
		}
		aKnown, bKnown := s.known(a), s.known(b)
		switch {
		case aKnown && !bKnown:
			return b, a, s.knownByAddr[strings.ToLower(a)], true
		case bKnown && !aKnown:
			return a, b, s.knownByAddr[strings.ToLower(b)], true
		default:
			// Two known tokens is rebalancing; two unknown is untradeable.
			return "", "", "", false
		}
	}
	return "", "", "", false
}

func (s *Scanner) known(addr string) bool {
	_, ok := s.knownByAddr[strings.ToLower(addr)]
	return ok
}

// calldataAddress reads the address in 32-byte argument slot i.
func calldataAddress(input string, slot int) (string, bool) {
	data := strings.TrimPrefix(strings.ToLower(input), "0x")
	if len(data) < 8 {
		return "", false
	}
	data = data[8:] // selector
	start := slot * 64
	if len(data) < start+64 {
		return "", false
	}
	return "0x" + data[start+24:start+64], true
}

func (s *Scanner) resolve(ctx context.Context, tx explorer.Tx, tokenAddr, pairedAddr, pairedSym string) (*trading.Listing, error) {
	listing := &trading.Listing{
		TokenAddress:       tokenAddr,
		PairedTokenAddress: pairedAddr,
		PairedSymbol:       pairedSym,
		TxHash:             tx.Hash,
	}

	if err := s.fillMetadata(ctx, listing); err != nil {
		return nil, err
	}

	pool, err := s.findPool(ctx, tx, tokenAddr, pairedAddr)
	if err != nil {
		return nil, err
	}
	listing.PoolAddress = pool

	liquidity, price, err := s.poolValue(ctx, pool, pairedAddr, pairedSym, listing.Decimals)
	if err != nil {
		return nil, err
	}
	listing.LiquidityUSD = liquidity
	listing.InitialPriceUSD = price

	return listing, nil
}

// fillMetadata reads name/symbol/decimals from the contract, falling back to
// explorer metadata when the node calls fail.
func (s *Scanner) fillMetadata(ctx context.Context, l *trading.Listing) error {
	name, symbol, decimals, err := s.chain.TokenMetadata(ctx, l.TokenAddress)
	if err == nil {
		l.TokenName, l.TokenSymbol, l.Decimals = name, symbol, decimals
		return nil
	}
	s.logger.Debug().Err(err).Str("token", l.TokenAddress).
		Msg("contract metadata failed, trying explorer")

	info, expErr := s.explorer.TokenInfo(ctx, l.TokenAddress)
	if expErr != nil {
		return err
	}
	l.TokenName = info.TokenName
	l.TokenSymbol = info.Symbol
	l.Decimals = 18
	if d, derr := decimal.NewFromString(info.Divisor); derr == nil {
		l.Decimals = int32(d.IntPart())
	}
	return nil
}

// findPool extracts the pool address from the listing receipt: the one log
// emitter that is neither side of the pair nor a known token. The candidate
// is verified against the pool contract; the factory lookup is the fallback.
func (s *Scanner) findPool(ctx context.Context, tx explorer.Tx, tokenAddr, pairedAddr string) (string, error) {
	rcpt, err := s.explorer.TxReceipt(ctx, tx.Hash)
	if err == nil {
		for _, log := range rcpt.Logs {
			addr := strings.ToLower(log.Address)
			if addr == strings.ToLower(tokenAddr) || addr == strings.ToLower(pairedAddr) || s.known(addr) {
				continue
			}
			if s.verifyPool(ctx, log.Address, tokenAddr, pairedAddr) {
				return log.Address, nil
			}
		}
	}
	return s.chain.PairFor(ctx, tokenAddr, pairedAddr)
}

// verifyPool confirms a candidate address is the pool for exactly this pair.
func (s *Scanner) verifyPool(ctx context.Context, pool, tokenAddr, pairedAddr string) bool {
	r, err := s.chain.PoolReserves(ctx, pool)
	if err != nil {
		return false
	}
	sides := map[string]bool{
		strings.ToLower(r.Token0): true,
		strings.ToLower(r.Token1): true,
	}
	return sides[strings.ToLower(tokenAddr)] && sides[strings.ToLower(pairedAddr)]
}

// poolValue prices the pool from its reserves: liquidity is twice the USD
// value of the paired side (stables at par, the native token at the
// explorer's USD quote), and the initial token price is that paired-side
// value spread over the token-side reserve.
func (s *Scanner) poolValue(ctx context.Context, pool, pairedAddr, pairedSym string, tokenDecimals int32) (liquidity, price decimal.Decimal, err error) {
	r, err := s.chain.PoolReserves(ctx, pool)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	pairedRaw, tokenRaw, err := r.Oriented(pairedAddr)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	_, _, pairedDecimals, err := s.chain.TokenMetadata(ctx, pairedAddr)
	if err != nil {
		pairedDecimals = 18
	}
	pairedReserve := decimal.NewFromBigInt(pairedRaw, -pairedDecimals)
	tokenReserve := decimal.NewFromBigInt(tokenRaw, -tokenDecimals)

	usd := decimal.NewFromInt(1)
	if !s.stables[pairedSym] {
		usd, err = s.explorer.NativePriceUSD(ctx)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
	}
	pairedUSD := pairedReserve.Mul(usd)

	liquidity = pairedUSD.Mul(decimal.NewFromInt(2))
	if tokenReserve.IsPositive() {
		price = pairedUSD.Div(tokenReserve)
	}
	return liquidity, price, nil
}
