// meridian-ctl is the operator's console. It talks to the same store the
// hunter uses, so changes apply on the hunter's next decision point without
// a restart.
//
// Usage:
//
//	meridian-ctl -config config/config.yaml status
//	meridian-ctl -config config/config.yaml enable
//	meridian-ctl -config config/config.yaml disable
//	meridian-ctl -config config/config.yaml sell <trade-id|token-address>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/meridian-trading/meridian/internal/chain"
	"github.com/meridian-trading/meridian/internal/config"
	"github.com/meridian-trading/meridian/internal/explorer"
	"github.com/meridian-trading/meridian/internal/notify"
	"github.com/meridian-trading/meridian/internal/scanner"
	"github.com/meridian-trading/meridian/internal/store"
	"github.com/meridian-trading/meridian/internal/tasks"
	"github.com/meridian-trading/meridian/internal/trading"
	"github.com/meridian-trading/meridian/internal/vetting"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load config: %v", err)
	}
	if cfg.Store.DSN == "" {
		fatal("store.dsn is required: the control tool needs the shared database")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	st, err := store.NewPostgres(ctx, cfg.Store.DSN, 2)
	if err != nil {
		fatal("connect store: %v", err)
	}
	defer st.Close()

	switch flag.Arg(0) {
	case "status":
		err = runStatus(ctx, cfg, st)
	case "enable":
		err = setEnabled(ctx, cfg, st, true)
	case "disable":
		err = setEnabled(ctx, cfg, st, false)
	case "sell":
		if flag.NArg() < 2 {
			fatal("sell requires a trade id")
		}
		err = runSell(ctx, cfg, st, flag.Arg(1))
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatal("%v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: meridian-ctl [-config path] status|enable|disable|sell <trade-id|token-address>")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "meridian-ctl: "+format+"\n", args...)
	os.Exit(1)
}

func runStatus(ctx context.Context, appCfg *config.Config, st store.Store) error {
	cfg, err := st.GetOrCreateTradingConfig(ctx)
	if err != nil {
		return err
	}
	open, err := st.ListTradesByStatus(ctx, store.TradeBought)
	if err != nil {
		return err
	}
	committed, err := st.SumBuyAmountByStatus(ctx, store.TradeBought)
	if err != nil {
		return err
	}

	if w, err := st.GetWallet(ctx, appCfg.Wallet.Address); err == nil {
		fmt.Printf("wallet:            %s (%s)\n", w.Address, w.CurrencySymbol)
	}
	fmt.Printf("trading enabled:   %v\n", cfg.Enabled)
	fmt.Printf("max active trades: %d\n", cfg.MaxActiveTrades)
	fmt.Printf("trade amount:      %s\n", cfg.TradeAmount)
	fmt.Printf("open positions:    %d (committed %s of %s)\n",
		len(open), committed, cfg.TradeAmount.Mul(decimal.NewFromInt(int64(cfg.MaxActiveTrades))))

	if len(open) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nTRADE\tTOKEN\tENTRY\tPEAK\tOPENED")
	for _, tr := range open {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			tr.ID, tr.TokenAddress, tr.EntryValue, tr.PeakValue,
			tr.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func setEnabled(ctx context.Context, appCfg *config.Config, st store.Store, enabled bool) error {
	cfg, err := st.GetOrCreateTradingConfig(ctx)
	if err != nil {
		return err
	}
	cfg.Enabled = enabled
	if err := st.SaveTradingConfig(ctx, cfg); err != nil {
		return err
	}
	if appCfg.Telegram.Enabled {
		logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "meridian-ctl").Logger()
		tg := notify.NewTelegram(appCfg.Telegram.BotToken, appCfg.Telegram.ChatIDs, logger)
		word := "disabled"
		if enabled {
			word = "enabled"
		}
		tg.Broadcast(ctx, fmt.Sprintf("⚙️ Trading %s by operator", word))
	}
	fmt.Printf("trading enabled: %v\n", enabled)
	return nil
}

// runSell closes a position immediately through the normal exit path, so
// the trade record and notifications look exactly like an automatic exit.
// The argument is a trade id, or a token address whose open trade is found.
func runSell(ctx context.Context, cfg *config.Config, st store.Store, ref string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %v", err)
	}

	tradeID := ref
	if len(ref) == 42 && ref[:2] == "0x" {
		tr, err := st.OpenTradeForToken(ctx, ref)
		if err != nil {
			return fmt.Errorf("no open trade for token %s: %w", ref, err)
		}
		tradeID = tr.ID
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "meridian-ctl").Logger()

	tradingCfg, err := st.GetOrCreateTradingConfig(ctx)
	if err != nil {
		return err
	}
	gw, err := chain.NewGateway(chain.Config{
		Endpoints:     cfg.Chain.RPCEndpointList(),
		ChainID:       cfg.Chain.ChainID,
		Router:        cfg.Chain.RouterAddress,
		Factory:       cfg.Chain.FactoryAddress,
		SpendToken:    cfg.Wallet.SpendTokenAddress,
		SpendDecimals: cfg.Wallet.SpendTokenDecimals,
		PrivateKey:    cfg.Wallet.PrivateKey,
		GasLimit:      tradingCfg.GasLimit,
		ReceiptPoll:   time.Duration(cfg.Chain.ReceiptPollMs) * time.Millisecond,
	}, logger)
	if err != nil {
		return fmt.Errorf("chain gateway: %v", err)
	}

	exp := explorer.NewClient(cfg.Explorer.APIURL, cfg.Explorer.APIKey)
	known, err := cfg.Chain.KnownTokenMap()
	if err != nil {
		return err
	}
	scan := scanner.New(scanner.Config{
		Router:        cfg.Chain.RouterAddress,
		NativeSymbol:  cfg.Chain.NativeSymbol,
		KnownTokens:   known,
		StableSymbols: cfg.Chain.StableSymbols,
	}, gw, exp, logger)

	var notifier notify.Notifier = notify.Discard{}
	if cfg.Telegram.Enabled {
		notifier = notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatIDs, logger)
	}

	sched := tasks.New(1, 8, logger)
	defer sched.Stop()

	engine := trading.NewEngine(trading.Config{RetentionDays: cfg.Scheduler.RetentionDays},
		st, scan, vetting.NewGoPlusClient(cfg.Oracle.BaseURL, cfg.Oracle.ChainID), exp,
		gw, gw, notifier, sched, logger)

	if err := engine.ExecuteSell(ctx, tradeID, store.SellManual); err != nil {
		return err
	}

	tr, err := st.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	fmt.Printf("trade %s closed: received %s (entry %s, pnl %s%%)\n",
		tr.ID, tr.ExitValue, tr.EntryValue, tr.ProfitLossPct.StringFixed(2))
	return nil
}
