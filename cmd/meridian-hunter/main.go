package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/meridian-trading/meridian/internal/cex"
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
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("MERIDIAN Hunter - Starting")
	log.Info().Msg("SCAN -> VET -> BUY -> MONITOR -> SELL")
	log.Info().Msg("=============================================")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Int64("chain_id", cfg.Chain.ChainID).
		Str("router", cfg.Chain.RouterAddress).
		Strs("endpoints", cfg.Chain.RPCEndpointList()).
		Bool("telegram", cfg.Telegram.Enabled).
		Bool("cex", cfg.CEX.Enabled).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Open the store. An empty DSN falls back to the in-memory store,
	// which is useful for dry runs but forgets everything on restart.
	var st store.Store
	if cfg.Store.DSN != "" {
		pg, err := store.NewPostgres(ctx, cfg.Store.DSN, cfg.Store.MaxOpenConns)
		if err != nil {
			log.Fatal().Err(err).Msg("Postgres connection failed")
		}
		defer pg.Close()
		st = pg
		log.Info().Msg("Store: Postgres")
	} else {
		st = store.NewMemory()
		log.Warn().Msg("Store: in-memory (no persistence)")
	}

	// Record the operating wallet so trades can be attributed to it later.
	if err := st.SaveWallet(ctx, &store.Wallet{
		Address:           cfg.Wallet.Address,
		CurrencySymbol:    cfg.Wallet.CurrencySymbol,
		SpendTokenAddress: cfg.Wallet.SpendTokenAddress,
		PrivateKey:        cfg.Wallet.PrivateKey,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to save wallet")
	}

	tradingCfg, err := st.GetOrCreateTradingConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load trading config")
	}
	log.Info().
		Bool("enabled", tradingCfg.Enabled).
		Int("max_active_trades", tradingCfg.MaxActiveTrades).
		Str("trade_amount", tradingCfg.TradeAmount.String()).
		Str("min_liquidity_usd", tradingCfg.MinLiquidityUSD.String()).
		Msg("Trading config loaded")

	// 5. Chain gateway.
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
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Chain gateway init failed")
	}

	// 6. Explorer client and scanner.
	exp := explorer.NewClient(cfg.Explorer.APIURL, cfg.Explorer.APIKey)
	known, err := cfg.Chain.KnownTokenMap()
	if err != nil {
		log.Fatal().Err(err).Msg("Bad known_tokens")
	}
	scan := scanner.New(scanner.Config{
		Router:        cfg.Chain.RouterAddress,
		NativeSymbol:  cfg.Chain.NativeSymbol,
		KnownTokens:   known,
		StableSymbols: cfg.Chain.StableSymbols,
	}, gw, exp, log.Logger)

	// 7. Risk oracle.
	oracle := vetting.NewGoPlusClient(cfg.Oracle.BaseURL, cfg.Oracle.ChainID)

	// 8. Notifications.
	var notifier notify.Notifier = notify.Discard{}
	if cfg.Telegram.Enabled {
		notifier = notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatIDs, log.Logger)
		log.Info().Int("chats", len(cfg.Telegram.ChatIDs)).Msg("Telegram notifications enabled")
	}

	// 9. Execution backend. The chain gateway is the default; when the CEX
	// path is enabled, orders route there instead. Valuation always reads
	// the on-chain pool.
	var executor trading.Executor = gw
	if cfg.CEX.Enabled {
		executor = cex.New(cfg.CEX.BaseURL, cfg.CEX.APIKey, cfg.CEX.APISecret,
			cfg.Wallet.CurrencySymbol, log.Logger)
		log.Info().Str("base_url", cfg.CEX.BaseURL).Msg("CEX execution enabled")
	}

	// 10. Scheduler and engine.
	sched := tasks.New(cfg.Scheduler.Workers, 256, log.Logger)
	engine := trading.NewEngine(trading.Config{
		MaxTaxPct:     decimal.NewFromInt(10),
		RetentionDays: cfg.Scheduler.RetentionDays,
		WalletAddress: cfg.Wallet.Address,
	}, st, scan, oracle, exp, executor, gw, notifier, sched, log.Logger)

	// 11. Periodic work: listing scans, sweeps for dropped work, retention
	// cleanup. The sweep also re-arms position monitors after a restart.
	sched.Every(time.Duration(cfg.Scheduler.ScanIntervalSec)*time.Second, tasks.Job{
		Name: "scan",
		Run: func(ctx context.Context) {
			if err := engine.Intake(ctx); err != nil {
				log.Error().Err(err).Msg("Scan pass failed")
			}
		},
	})
	sched.Every(time.Duration(cfg.Scheduler.SweepIntervalSec)*time.Second, tasks.Job{
		Name: "sweep",
		Run: func(ctx context.Context) {
			if err := engine.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("Sweep pass failed")
			}
		},
	})
	sched.Every(time.Duration(cfg.Scheduler.CleanupIntervalHrs)*time.Hour, tasks.Job{
		Name: "cleanup",
		Run: func(ctx context.Context) {
			if err := engine.Cleanup(ctx); err != nil {
				log.Error().Err(err).Msg("Cleanup pass failed")
			}
		},
	})

	// 12. Optional websocket watch on the factory. A PairCreated event just
	// pulls the next scan forward; the scan path stays the source of truth.
	if cfg.Chain.WSEndpoint != "" {
		watch := chain.NewPairWatch(cfg.Chain.WSEndpoint, cfg.Chain.FactoryAddress, log.Logger)
		events := make(chan chain.PairEvent, 16)
		go watch.Run(ctx, events)
		go func() {
			for ev := range events {
				log.Info().Str("pair", ev.Pair).Str("token0", ev.Token0).
					Str("token1", ev.Token1).Msg("PairCreated observed")
				sched.Enqueue(tasks.Job{
					Name: "scan:event",
					Run: func(ctx context.Context) {
						if err := engine.Intake(ctx); err != nil {
							log.Error().Err(err).Msg("Event-driven scan failed")
						}
					},
				})
			}
		}()
		log.Info().Str("ws", cfg.Chain.WSEndpoint).Msg("Pair watch enabled")
	}

	log.Info().Msg("Meridian hunter running")
	<-ctx.Done()

	log.Info().Msg("Shutdown signal received, draining")
	sched.Stop()
	log.Info().Msg("Meridian hunter stopped")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "meridian-hunter").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "meridian-hunter").
			Str("instance", general.InstanceID).Logger()
	}
}
