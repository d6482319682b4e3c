// Package trading orchestrates the full token lifecycle: intake of scanner
// discoveries, vetting, entry, position monitoring and exits. All live
// parameters come from the store's TradingConfig and are re-read at every
// decision point, so operator changes apply without a restart.
package trading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/meridian-trading/meridian/internal/notify"
	"github.com/meridian-trading/meridian/internal/store"
	"github.com/meridian-trading/meridian/internal/tasks"
	"github.com/meridian-trading/meridian/internal/vetting"
)

// ---------------------------------------------------------------------------
// Dependencies
// ---------------------------------------------------------------------------

// Lister produces fresh listings from the scan path.
type Lister interface {
	ScanRecent(ctx context.Context) ([]Listing, error)
}

// TransferCounter reports on-chain transfer activity for a token.
type TransferCounter interface {
	TokenTransferCount(ctx context.Context, token string, max int) (int, error)
}

// Deferrer schedules follow-up work. The task scheduler satisfies it.
type Deferrer interface {
	Enqueue(job tasks.Job) bool
	EnqueueAfter(delay time.Duration, job tasks.Job)
}

// Config holds the engine's static knobs. Everything dynamic lives in the
// store.
type Config struct {
	MaxTaxPct     decimal.Decimal // acceptance ceiling for buy/sell tax
	RetentionDays int
	WalletAddress string // recorded on every trade this engine opens
}

// Engine drives tokens through their lifecycle.
type Engine struct {
	cfg      Config
	store    store.Store
	lister   Lister
	oracle   vetting.Oracle
	counter  TransferCounter
	executor Executor
	quoter   Quoter
	notifier notify.Notifier
	deferrer Deferrer
	logger   zerolog.Logger
}

func NewEngine(
	cfg Config,
	st store.Store,
	lister Lister,
	oracle vetting.Oracle,
	counter TransferCounter,
	executor Executor,
	quoter Quoter,
	notifier notify.Notifier,
	deferrer Deferrer,
	logger zerolog.Logger,
) *Engine {
	if cfg.MaxTaxPct.IsZero() {
		cfg.MaxTaxPct = decimal.NewFromInt(10)
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 30
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		lister:   lister,
		oracle:   oracle,
		counter:  counter,
		executor: executor,
		quoter:   quoter,
		notifier: notifier,
		deferrer: deferrer,
		logger:   logger.With().Str("component", "trading").Logger(),
	}
}

// ---------------------------------------------------------------------------
// Intake
// ---------------------------------------------------------------------------

// Intake scans the recent listing window and registers every new token.
// Tokens already known to the store are left untouched; fresh ones are
// queued for analysis.
func (e *Engine) Intake(ctx context.Context) error {
	listings, err := e.lister.ScanRecent(ctx)
	if err != nil {
		return fmt.Errorf("scan listings: %w", err)
	}

	for _, l := range listings {
		tok := &store.Token{
			Address:            l.TokenAddress,
			Name:               l.TokenName,
			Symbol:             l.TokenSymbol,
			Decimals:           l.Decimals,
			PoolAddress:        l.PoolAddress,
			PairedTokenAddress: l.PairedTokenAddress,
			PairedSymbol:       l.PairedSymbol,
			LiquidityUSD:       l.LiquidityUSD,
			InitialPriceUSD:    l.InitialPriceUSD,
			ListingTxHash:      l.TxHash,
			Status:             store.TokenNew,
		}
		created, err := e.store.CreateTokenIfAbsent(ctx, tok)
		if err != nil {
			return fmt.Errorf("register token %s: %w", l.TokenAddress, err)
		}
		if !created {
			continue
		}
		e.logger.Info().Str("token", tok.Address).Str("symbol", tok.Symbol).
			Str("liquidity_usd", tok.LiquidityUSD.StringFixed(2)).Msg("new listing")

		addr := tok.Address
		e.deferrer.Enqueue(tasks.Job{
			Name: "analyze:" + addr,
			Run: func(ctx context.Context) {
				if err := e.ProcessToken(ctx, addr); err != nil {
					e.logger.Error().Err(err).Str("token", addr).Msg("analysis failed")
				}
			},
		})
	}
	return nil
}

// ---------------------------------------------------------------------------
// Vetting and entry
// ---------------------------------------------------------------------------

// ProcessToken vets a NEW token and, when it passes and trading is enabled
// with free capacity, opens a position. Vetting failures are terminal
// (REJECTED); operational failures park the token in ERROR.
func (e *Engine) ProcessToken(ctx context.Context, address string) error {
	tok, err := e.store.GetToken(ctx, address)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	if tok.Status != store.TokenNew {
		return nil
	}

	tok.Status = store.TokenAnalyzing
	if err := e.store.UpdateToken(ctx, tok); err != nil {
		return fmt.Errorf("mark analyzing: %w", err)
	}

	cfg, err := e.store.GetOrCreateTradingConfig(ctx)
	if err != nil {
		return e.parkError(ctx, tok, fmt.Errorf("load trading config: %w", err))
	}

	// A transfer count we cannot determine is not a rejection: park the
	// token for the operator to judge.
	transfers, err := e.counter.TokenTransferCount(ctx, tok.Address, cfg.MaxTransferCount+1)
	if err != nil {
		tok.Status = store.TokenManual
		tok.StatusReason = "transfer count unavailable: " + err.Error()
		if uerr := e.store.UpdateToken(ctx, tok); uerr != nil {
			return errors.Join(err, uerr)
		}
		e.notifier.Broadcast(ctx, notify.ErrorMessage("analysis", tok.StatusReason))
		return nil
	}

	// The oracle is fail-closed: if it cannot vouch for the token, the
	// token is unsafe.
	report, err := e.oracle.TokenReport(ctx, tok.Address)
	if err != nil {
		return e.reject(ctx, tok, "Security oracle failure")
	}

	// Keep the raw report so any outcome can be audited later.
	if raw, jerr := json.Marshal(report); jerr == nil {
		tok.Analysis = string(raw)
		if err := e.store.UpdateToken(ctx, tok); err != nil {
			return fmt.Errorf("record analysis: %w", err)
		}
	}

	policy := vetting.Policy{
		MaxTaxPct:        e.cfg.MaxTaxPct,
		MinLiquidityUSD:  cfg.MinLiquidityUSD,
		MinTransferCount: cfg.MinTransferCount,
		MaxTransferCount: cfg.MaxTransferCount,
	}
	verdict := policy.Evaluate(vetting.Inputs{
		Report:        report,
		LiquidityUSD:  tok.LiquidityUSD,
		TransferCount: transfers,
	})
	if !verdict.Accepted {
		return e.reject(ctx, tok, verdict.Reason)
	}

	e.notifier.Broadcast(ctx, notify.PotentialTradeMessage(tok, checklist(&verdict)))

	if !cfg.Enabled {
		tok.Status = store.TokenManual
		tok.StatusReason = "trading disabled"
		return e.store.UpdateToken(ctx, tok)
	}

	ok, err := e.HasCapacity(ctx, cfg)
	if err != nil {
		return e.parkError(ctx, tok, fmt.Errorf("capacity check: %w", err))
	}
	if !ok {
		tok.Status = store.TokenManual
		tok.StatusReason = "capacity exhausted"
		return e.store.UpdateToken(ctx, tok)
	}

	return e.ExecuteBuy(ctx, tok.Address)
}

func (e *Engine) reject(ctx context.Context, tok *store.Token, reason string) error {
	tok.Status = store.TokenRejected
	tok.StatusReason = reason
	if err := e.store.UpdateToken(ctx, tok); err != nil {
		return fmt.Errorf("mark rejected: %w", err)
	}
	e.notifier.Broadcast(ctx, notify.RejectionMessage(tok, reason))
	e.logger.Info().Str("token", tok.Address).Str("reason", reason).Msg("token rejected")
	return nil
}

func checklist(v *vetting.Verdict) []notify.Check {
	out := make([]notify.Check, 0, len(v.Checks))
	for _, c := range v.Checks {
		out = append(out, notify.Check{Name: c.Name, OK: c.OK, Detail: c.Detail})
	}
	return out
}

func (e *Engine) parkError(ctx context.Context, tok *store.Token, cause error) error {
	tok.Status = store.TokenError
	tok.StatusReason = cause.Error()
	if err := e.store.UpdateToken(ctx, tok); err != nil {
		return errors.Join(cause, err)
	}
	e.notifier.Broadcast(ctx, notify.ErrorMessage(tok.Symbol+" "+tok.Address, cause.Error()))
	return cause
}

// HasCapacity reports whether another position may be opened: both the open
// trade count and the committed spend must be under their ceilings. It
// always reads fresh state, never a cached snapshot.
func (e *Engine) HasCapacity(ctx context.Context, cfg *store.TradingConfig) (bool, error) {
	open, err := e.store.CountTradesByStatus(ctx, store.TradeBought)
	if err != nil {
		return false, err
	}
	if open >= cfg.MaxActiveTrades {
		return false, nil
	}
	committed, err := e.store.SumBuyAmountByStatus(ctx, store.TradeBought)
	if err != nil {
		return false, err
	}
	budget := cfg.TradeAmount.Mul(decimal.NewFromInt(int64(cfg.MaxActiveTrades)))
	return committed.LessThan(budget), nil
}

// ExecuteBuy opens a position in a vetted token. Capacity is re-checked at
// the commit point since other buys may have landed since vetting.
func (e *Engine) ExecuteBuy(ctx context.Context, address string) error {
	tok, err := e.store.GetToken(ctx, address)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}

	// At most one open position per token. Two analysis tasks racing the
	// same token must not both commit capital.
	if _, err := e.store.OpenTradeForToken(ctx, tok.Address); err == nil {
		e.logger.Warn().Str("token", tok.Address).Msg("position already open, skipping buy")
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return e.parkError(ctx, tok, fmt.Errorf("open trade lookup: %w", err))
	}

	cfg, err := e.store.GetOrCreateTradingConfig(ctx)
	if err != nil {
		return e.parkError(ctx, tok, fmt.Errorf("load trading config: %w", err))
	}
	ok, err := e.HasCapacity(ctx, cfg)
	if err != nil {
		return e.parkError(ctx, tok, fmt.Errorf("capacity check: %w", err))
	}
	if !ok {
		tok.Status = store.TokenManual
		tok.StatusReason = "capacity exhausted"
		return e.store.UpdateToken(ctx, tok)
	}

	tok.Status = store.TokenBuying
	if err := e.store.UpdateToken(ctx, tok); err != nil {
		return fmt.Errorf("mark buying: %w", err)
	}

	res, err := e.executor.Buy(ctx, BuyOrder{
		Token:       tok.Address,
		TokenSymbol: tok.Symbol,
		Amount:      cfg.TradeAmount,
		SlippagePct: cfg.SlippagePct,
	})
	if errors.Is(err, ErrInsufficientBalance) {
		return e.reject(ctx, tok, "Insufficient balance")
	}
	if err != nil {
		return e.parkError(ctx, tok, fmt.Errorf("buy: %w", err))
	}

	tr := &store.Trade{
		ID:            uuid.NewString(),
		TokenAddress:  tok.Address,
		Status:        store.TradeBought,
		BuyAmount:     res.Spent,
		Quantity:      res.Quantity,
		EntryValue:    res.Spent,
		PeakValue:     res.Spent,
		BuyTxHash:     res.OrderID,
		BuyFee:        res.Fee,
		WalletAddress: e.cfg.WalletAddress,
	}
	if err := e.store.CreateTrade(ctx, tr); err != nil {
		return e.parkError(ctx, tok, fmt.Errorf("record trade: %w", err))
	}

	tok.Status = store.TokenBought
	tok.StatusReason = ""
	if err := e.store.UpdateToken(ctx, tok); err != nil {
		return fmt.Errorf("mark bought: %w", err)
	}

	e.notifier.Broadcast(ctx, notify.BuyMessage(tok, tr))
	e.logger.Info().Str("token", tok.Address).Str("trade", tr.ID).
		Str("spent", tr.BuyAmount.String()).Str("quantity", tr.Quantity.String()).
		Msg("position opened")

	e.scheduleMonitor(tr.ID, time.Duration(cfg.MonitorIntervalSec)*time.Second)
	return nil
}

// ---------------------------------------------------------------------------
// Monitoring and exits
// ---------------------------------------------------------------------------

func (e *Engine) scheduleMonitor(tradeID string, delay time.Duration) {
	e.deferrer.EnqueueAfter(delay, tasks.Job{
		Name: "monitor:" + tradeID,
		Run: func(ctx context.Context) {
			if err := e.MonitorTick(ctx, tradeID); err != nil {
				e.logger.Error().Err(err).Str("trade", tradeID).Msg("monitor tick failed")
			}
		},
	})
}

// exitDecision returns the sell reason for the current quote, or "" to hold.
// Precedence: drawdown from peak, then below entry, then profit target. The
// peak must already include the current value.
func exitDecision(tr *store.Trade, cfg *store.TradingConfig, value decimal.Decimal) store.SellReason {
	hundred := decimal.NewFromInt(100)
	floor := tr.PeakValue.Mul(hundred.Sub(cfg.MaxDropFromPeakPct)).Div(hundred)
	if value.LessThanOrEqual(floor) {
		return store.SellDropFromPeak
	}
	if value.LessThan(tr.EntryValue) {
		return store.SellBelowEntry
	}
	if value.GreaterThanOrEqual(tr.EntryValue.Mul(cfg.ProfitMultiplier)) {
		return store.SellProfitTarget
	}
	return ""
}

// MonitorTick revalues one open position and either exits or reschedules
// itself. The peak is advanced and persisted before the exit rules run.
func (e *Engine) MonitorTick(ctx context.Context, tradeID string) error {
	tr, err := e.store.GetTrade(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("load trade: %w", err)
	}
	if tr.Status != store.TradeBought {
		return nil
	}
	tok, err := e.store.GetToken(ctx, tr.TokenAddress)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	// A token parked in ERROR or mid-sell has left automation; its monitor
	// dies with it.
	if tok.Status != store.TokenBought {
		return nil
	}

	cfg, err := e.store.GetOrCreateTradingConfig(ctx)
	if err != nil {
		return fmt.Errorf("load trading config: %w", err)
	}
	interval := time.Duration(cfg.MonitorIntervalSec) * time.Second

	value, err := e.quoter.QuoteSell(ctx, tr.TokenAddress, tr.Quantity)
	if err != nil {
		// Transient valuation failures keep the monitor alive.
		e.logger.Warn().Err(err).Str("trade", tr.ID).Msg("quote failed, retrying")
		e.scheduleMonitor(tr.ID, interval)
		return nil
	}

	if value.GreaterThan(tr.PeakValue) {
		tr.PeakValue = value
		if err := e.store.UpdateTrade(ctx, tr); err != nil {
			return fmt.Errorf("persist peak: %w", err)
		}
	}

	reason := exitDecision(tr, cfg, value)
	if reason == "" {
		e.scheduleMonitor(tr.ID, interval)
		return nil
	}

	e.logger.Info().Str("trade", tr.ID).Str("reason", string(reason)).
		Str("value", value.String()).Str("peak", tr.PeakValue.String()).
		Str("entry", tr.EntryValue.String()).Msg("exit triggered")

	// A failed sell is never retried blindly: the nonce may have advanced
	// and a second submission risks duplicate spend. The token lands in
	// ERROR for manual remediation.
	return e.ExecuteSell(ctx, tr.ID, reason)
}

// ExecuteSell closes a position for the given reason.
func (e *Engine) ExecuteSell(ctx context.Context, tradeID string, reason store.SellReason) error {
	tr, err := e.store.GetTrade(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("load trade: %w", err)
	}
	if tr.Status != store.TradeBought {
		return nil
	}
	tok, err := e.store.GetToken(ctx, tr.TokenAddress)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	cfg, err := e.store.GetOrCreateTradingConfig(ctx)
	if err != nil {
		return fmt.Errorf("load trading config: %w", err)
	}

	tok.Status = store.TokenSelling
	if err := e.store.UpdateToken(ctx, tok); err != nil {
		return fmt.Errorf("mark selling: %w", err)
	}

	res, err := e.executor.Sell(ctx, SellOrder{
		Token:       tr.TokenAddress,
		TokenSymbol: tok.Symbol,
		Quantity:    tr.Quantity,
		SlippagePct: cfg.SlippagePct,
	})
	if err != nil {
		// Not rolled back to BOUGHT: a partially executed exit (approval
		// landed, swap reverted) must not be re-submitted automatically.
		return e.parkError(ctx, tok, fmt.Errorf("sell: %w", err))
	}

	now := time.Now()
	tr.Status = store.TradeSold
	tr.SellReason = reason
	tr.ExitValue = res.Spent
	tr.ProfitLoss = res.Spent.Sub(tr.BuyAmount)
	if tr.BuyAmount.IsPositive() {
		tr.ProfitLossPct = tr.ProfitLoss.Div(tr.BuyAmount).Mul(decimal.NewFromInt(100))
	}
	tr.SellTxHash = res.OrderID
	tr.SellFee = res.Fee
	tr.ClosedAt = &now
	if err := e.store.UpdateTrade(ctx, tr); err != nil {
		return fmt.Errorf("record sell: %w", err)
	}

	tok.Status = store.TokenSold
	if err := e.store.UpdateToken(ctx, tok); err != nil {
		return fmt.Errorf("mark sold: %w", err)
	}

	e.notifier.Broadcast(ctx, notify.SellMessage(tok, tr))
	e.logger.Info().Str("trade", tr.ID).Str("reason", string(reason)).
		Str("received", tr.ExitValue.String()).Msg("position closed")
	return nil
}

// ---------------------------------------------------------------------------
// Sweep and cleanup
// ---------------------------------------------------------------------------

// Sweep re-queues work that fell through the cracks: NEW tokens that never
// got analyzed and open positions with no live monitor (after a restart).
func (e *Engine) Sweep(ctx context.Context) error {
	cfg, err := e.store.GetOrCreateTradingConfig(ctx)
	if err != nil {
		return fmt.Errorf("load trading config: %w", err)
	}

	fresh, err := e.store.ListTokensByStatus(ctx, store.TokenNew)
	if err != nil {
		return fmt.Errorf("list new tokens: %w", err)
	}
	for _, tok := range fresh {
		addr := tok.Address
		e.deferrer.Enqueue(tasks.Job{
			Name: "analyze:" + addr,
			Run: func(ctx context.Context) {
				if err := e.ProcessToken(ctx, addr); err != nil {
					e.logger.Error().Err(err).Str("token", addr).Msg("analysis failed")
				}
			},
		})
	}

	open, err := e.store.ListTradesByStatus(ctx, store.TradeBought)
	if err != nil {
		return fmt.Errorf("list open trades: %w", err)
	}
	for _, tr := range open {
		tok, err := e.store.GetToken(ctx, tr.TokenAddress)
		if err != nil {
			e.logger.Error().Err(err).Str("trade", tr.ID).Msg("sweep: token lookup failed")
			continue
		}
		// Tokens parked in ERROR stay halted until an operator acts.
		if tok.Status != store.TokenBought {
			continue
		}
		e.scheduleMonitor(tr.ID, time.Duration(cfg.MonitorIntervalSec)*time.Second)
	}
	return nil
}

// Cleanup purges terminal records past the retention window.
func (e *Engine) Cleanup(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -e.cfg.RetentionDays)

	trades, err := e.store.PurgeTradesBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge trades: %w", err)
	}
	tokens, err := e.store.PurgeTokensBefore(ctx, cutoff,
		[]store.TokenStatus{store.TokenRejected, store.TokenError, store.TokenSold})
	if err != nil {
		return fmt.Errorf("purge tokens: %w", err)
	}
	if trades > 0 || tokens > 0 {
		e.logger.Info().Int64("trades", trades).Int64("tokens", tokens).
			Msg("retention cleanup")
	}
	return nil
}
