package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const pgErrUniqueViolation = "23505"

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to Postgres, verifies the connection and ensures the
// schema exists.
func NewPostgres(ctx context.Context, dsn string, maxConns int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS tokens (
	address              TEXT PRIMARY KEY,
	name                 TEXT NOT NULL DEFAULT '',
	symbol               TEXT NOT NULL DEFAULT '',
	decimals             INT NOT NULL DEFAULT 18,
	pool_address         TEXT NOT NULL DEFAULT '',
	paired_token_address TEXT NOT NULL DEFAULT '',
	paired_symbol        TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL,
	status_reason        TEXT NOT NULL DEFAULT '',
	liquidity_usd        NUMERIC NOT NULL DEFAULT 0,
	initial_price_usd    NUMERIC NOT NULL DEFAULT 0,
	listing_tx_hash      TEXT NOT NULL DEFAULT '',
	analysis             TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS tokens_status_idx ON tokens (status);

CREATE TABLE IF NOT EXISTS trades (
	id            TEXT PRIMARY KEY,
	token_address TEXT NOT NULL REFERENCES tokens (address),
	status        TEXT NOT NULL,
	buy_amount    NUMERIC NOT NULL DEFAULT 0,
	quantity      NUMERIC NOT NULL DEFAULT 0,
	entry_value   NUMERIC NOT NULL DEFAULT 0,
	peak_value    NUMERIC NOT NULL DEFAULT 0,
	exit_value    NUMERIC NOT NULL DEFAULT 0,
	profit_loss   NUMERIC NOT NULL DEFAULT 0,
	profit_loss_pct NUMERIC NOT NULL DEFAULT 0,
	sell_reason   TEXT NOT NULL DEFAULT '',
	buy_tx_hash   TEXT NOT NULL DEFAULT '',
	sell_tx_hash  TEXT NOT NULL DEFAULT '',
	buy_fee       NUMERIC NOT NULL DEFAULT 0,
	sell_fee      NUMERIC NOT NULL DEFAULT 0,
	wallet_address TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	closed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS trades_status_idx ON trades (status);
CREATE INDEX IF NOT EXISTS trades_token_idx ON trades (token_address);

CREATE TABLE IF NOT EXISTS wallets (
	address             TEXT PRIMARY KEY,
	currency_symbol     TEXT NOT NULL DEFAULT '',
	spend_token_address TEXT NOT NULL DEFAULT '',
	private_key         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS trading_config (
	id                     BOOL PRIMARY KEY DEFAULT TRUE CHECK (id),
	enabled                BOOL NOT NULL,
	max_active_trades      INT NOT NULL,
	trade_amount           NUMERIC NOT NULL,
	min_liquidity_usd      NUMERIC NOT NULL,
	max_drop_from_peak_pct NUMERIC NOT NULL,
	profit_multiplier      NUMERIC NOT NULL,
	monitor_interval_sec   INT NOT NULL,
	slippage_pct           NUMERIC NOT NULL,
	gas_limit              BIGINT NOT NULL,
	min_transfer_count     INT NOT NULL,
	max_transfer_count     INT NOT NULL,
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}

// --- tokens ---

const tokenColumns = `address, name, symbol, decimals, pool_address, paired_token_address,
	paired_symbol, status, status_reason, liquidity_usd, initial_price_usd,
	listing_tx_hash, analysis, created_at, updated_at`

func scanToken(row pgx.Row) (*Token, error) {
	t := &Token{}
	err := row.Scan(&t.Address, &t.Name, &t.Symbol, &t.Decimals, &t.PoolAddress,
		&t.PairedTokenAddress, &t.PairedSymbol, &t.Status, &t.StatusReason,
		&t.LiquidityUSD, &t.InitialPriceUSD, &t.ListingTxHash, &t.Analysis,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (p *Postgres) CreateTokenIfAbsent(ctx context.Context, t *Token) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO tokens (address, name, symbol, decimals, pool_address,
			paired_token_address, paired_symbol, status, status_reason,
			liquidity_usd, initial_price_usd, listing_tx_hash, analysis)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (address) DO NOTHING`,
		t.Address, t.Name, t.Symbol, t.Decimals, t.PoolAddress,
		t.PairedTokenAddress, t.PairedSymbol, t.Status, t.StatusReason,
		t.LiquidityUSD, t.InitialPriceUSD, t.ListingTxHash, t.Analysis)
	if err != nil {
		return false, fmt.Errorf("insert token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) GetToken(ctx context.Context, address string) (*Token, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE address = $1`, address)
	t, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

func (p *Postgres) UpdateToken(ctx context.Context, t *Token) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE tokens SET name=$2, symbol=$3, decimals=$4, pool_address=$5,
			paired_token_address=$6, paired_symbol=$7, status=$8, status_reason=$9,
			liquidity_usd=$10, initial_price_usd=$11, listing_tx_hash=$12,
			analysis=$13, updated_at=now()
		WHERE address=$1`,
		t.Address, t.Name, t.Symbol, t.Decimals, t.PoolAddress,
		t.PairedTokenAddress, t.PairedSymbol, t.Status, t.StatusReason,
		t.LiquidityUSD, t.InitialPriceUSD, t.ListingTxHash, t.Analysis)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListTokensByStatus(ctx context.Context, status TokenStatus) ([]*Token, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var out []*Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) PurgeTokensBefore(ctx context.Context, cutoff time.Time, statuses []TokenStatus) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM tokens WHERE updated_at < $1 AND status = ANY($2)`, cutoff, statuses)
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- trades ---

const tradeColumns = `id, token_address, status, buy_amount, quantity, entry_value,
	peak_value, exit_value, profit_loss, profit_loss_pct, sell_reason, buy_tx_hash,
	sell_tx_hash, buy_fee, sell_fee, wallet_address, created_at, updated_at, closed_at`

func scanTrade(row pgx.Row) (*Trade, error) {
	tr := &Trade{}
	err := row.Scan(&tr.ID, &tr.TokenAddress, &tr.Status, &tr.BuyAmount, &tr.Quantity,
		&tr.EntryValue, &tr.PeakValue, &tr.ExitValue, &tr.ProfitLoss, &tr.ProfitLossPct,
		&tr.SellReason, &tr.BuyTxHash, &tr.SellTxHash, &tr.BuyFee, &tr.SellFee,
		&tr.WalletAddress, &tr.CreatedAt, &tr.UpdatedAt, &tr.ClosedAt)
	if err != nil {
		return nil, err
	}
	return tr, nil
}

func (p *Postgres) CreateTrade(ctx context.Context, tr *Trade) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO trades (id, token_address, status, buy_amount, quantity,
			entry_value, peak_value, exit_value, profit_loss, profit_loss_pct,
			sell_reason, buy_tx_hash, sell_tx_hash, buy_fee, sell_fee, wallet_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		tr.ID, tr.TokenAddress, tr.Status, tr.BuyAmount, tr.Quantity,
		tr.EntryValue, tr.PeakValue, tr.ExitValue, tr.ProfitLoss, tr.ProfitLossPct,
		tr.SellReason, tr.BuyTxHash, tr.SellTxHash, tr.BuyFee, tr.SellFee, tr.WalletAddress)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (p *Postgres) GetTrade(ctx context.Context, id string) (*Trade, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)
	tr, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trade: %w", err)
	}
	return tr, nil
}

func (p *Postgres) OpenTradeForToken(ctx context.Context, tokenAddress string) (*Trade, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE token_address = $1 AND status = $2
		 ORDER BY created_at DESC LIMIT 1`, tokenAddress, TradeBought)
	tr, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get open trade: %w", err)
	}
	return tr, nil
}

func (p *Postgres) UpdateTrade(ctx context.Context, tr *Trade) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE trades SET status=$2, buy_amount=$3, quantity=$4, entry_value=$5,
			peak_value=$6, exit_value=$7, profit_loss=$8, profit_loss_pct=$9,
			sell_reason=$10, buy_tx_hash=$11, sell_tx_hash=$12, buy_fee=$13,
			sell_fee=$14, wallet_address=$15, closed_at=$16, updated_at=now()
		WHERE id=$1`,
		tr.ID, tr.Status, tr.BuyAmount, tr.Quantity, tr.EntryValue,
		tr.PeakValue, tr.ExitValue, tr.ProfitLoss, tr.ProfitLossPct,
		tr.SellReason, tr.BuyTxHash, tr.SellTxHash, tr.BuyFee,
		tr.SellFee, tr.WalletAddress, tr.ClosedAt)
	if err != nil {
		return fmt.Errorf("update trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListTradesByStatus(ctx context.Context, status TradeStatus) ([]*Trade, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []*Trade
	for rows.Next() {
		tr, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (p *Postgres) CountTradesByStatus(ctx context.Context, status TradeStatus) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades WHERE status = $1`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return n, nil
}

func (p *Postgres) SumBuyAmountByStatus(ctx context.Context, status TradeStatus) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(buy_amount), 0) FROM trades WHERE status = $1`, status).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum trades: %w", err)
	}
	return sum, nil
}

func (p *Postgres) PurgeTradesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM trades WHERE status = $1 AND closed_at < $2`, TradeSold, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge trades: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- trading config and wallet ---

func (p *Postgres) GetOrCreateTradingConfig(ctx context.Context) (*TradingConfig, error) {
	def := DefaultTradingConfig()
	row := p.pool.QueryRow(ctx, `
		INSERT INTO trading_config (enabled, max_active_trades, trade_amount,
			min_liquidity_usd, max_drop_from_peak_pct, profit_multiplier,
			monitor_interval_sec, slippage_pct, gas_limit,
			min_transfer_count, max_transfer_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET id = trading_config.id
		RETURNING enabled, max_active_trades, trade_amount, min_liquidity_usd,
			max_drop_from_peak_pct, profit_multiplier, monitor_interval_sec,
			slippage_pct, gas_limit, min_transfer_count, max_transfer_count, updated_at`,
		def.Enabled, def.MaxActiveTrades, def.TradeAmount, def.MinLiquidityUSD,
		def.MaxDropFromPeakPct, def.ProfitMultiplier, def.MonitorIntervalSec,
		def.SlippagePct, int64(def.GasLimit), def.MinTransferCount, def.MaxTransferCount)

	cfg := &TradingConfig{}
	var gas int64
	err := row.Scan(&cfg.Enabled, &cfg.MaxActiveTrades, &cfg.TradeAmount,
		&cfg.MinLiquidityUSD, &cfg.MaxDropFromPeakPct, &cfg.ProfitMultiplier,
		&cfg.MonitorIntervalSec, &cfg.SlippagePct, &gas,
		&cfg.MinTransferCount, &cfg.MaxTransferCount, &cfg.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get trading config: %w", err)
	}
	cfg.GasLimit = uint64(gas)
	return cfg, nil
}

func (p *Postgres) SaveTradingConfig(ctx context.Context, cfg *TradingConfig) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO trading_config (enabled, max_active_trades, trade_amount,
			min_liquidity_usd, max_drop_from_peak_pct, profit_multiplier,
			monitor_interval_sec, slippage_pct, gas_limit,
			min_transfer_count, max_transfer_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			enabled=$1, max_active_trades=$2, trade_amount=$3,
			min_liquidity_usd=$4, max_drop_from_peak_pct=$5, profit_multiplier=$6,
			monitor_interval_sec=$7, slippage_pct=$8, gas_limit=$9,
			min_transfer_count=$10, max_transfer_count=$11, updated_at=now()`,
		cfg.Enabled, cfg.MaxActiveTrades, cfg.TradeAmount, cfg.MinLiquidityUSD,
		cfg.MaxDropFromPeakPct, cfg.ProfitMultiplier, cfg.MonitorIntervalSec,
		cfg.SlippagePct, int64(cfg.GasLimit), cfg.MinTransferCount, cfg.MaxTransferCount)
	if err != nil {
		return fmt.Errorf("save trading config: %w", err)
	}
	return nil
}

func (p *Postgres) GetWallet(ctx context.Context, address string) (*Wallet, error) {
	w := &Wallet{}
	err := p.pool.QueryRow(ctx, `
		SELECT address, currency_symbol, spend_token_address, private_key
		FROM wallets WHERE address = $1`, address).
		Scan(&w.Address, &w.CurrencySymbol, &w.SpendTokenAddress, &w.PrivateKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

func (p *Postgres) SaveWallet(ctx context.Context, w *Wallet) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO wallets (address, currency_symbol, spend_token_address, private_key)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET
			currency_symbol=$2, spend_token_address=$3, private_key=$4`,
		w.Address, w.CurrencySymbol, w.SpendTokenAddress, w.PrivateKey)
	if err != nil {
		return fmt.Errorf("save wallet: %w", err)
	}
	return nil
}
