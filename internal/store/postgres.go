package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/neuroswish/verse-indexer/internal/config"
)

// Postgres is the durable Store. One event batch commits in one transaction.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgres connects, pings, and bootstraps the schema.
func NewPostgres(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Postgres{
		pool:   pool,
		logger: logger.With().Str("component", "store").Logger(),
	}

	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	p.logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Name).
		Msg("Connected to entity store")

	return p, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
	p.logger.Info().Msg("Entity store closed")
}

// Pool exposes the underlying pool for read-side collaborators (scheduler).
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS factory (
		address          TEXT PRIMARY KEY,
		pair_count       BIGINT NOT NULL DEFAULT 0,
		tx_count         BIGINT NOT NULL DEFAULT 0,
		total_volume_eth NUMERIC NOT NULL DEFAULT 0,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS exchanges (
		address              TEXT PRIMARY KEY,
		deployer             TEXT NOT NULL,
		creator              TEXT NOT NULL,
		pool_balance         NUMERIC NOT NULL DEFAULT 0,
		total_supply         NUMERIC NOT NULL DEFAULT 0,
		reserve_ratio        NUMERIC NOT NULL,
		price_num            NUMERIC,
		price_den            NUMERIC,
		token_price          NUMERIC,
		market_cap           NUMERIC,
		tx_count             BIGINT NOT NULL DEFAULT 0,
		volume_eth           NUMERIC NOT NULL DEFAULT 0,
		created_at_block     BIGINT NOT NULL,
		created_at_timestamp BIGINT NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS cryptomedia (
		address              TEXT PRIMARY KEY,
		deployer             TEXT NOT NULL,
		creator              TEXT NOT NULL,
		created_at_block     BIGINT NOT NULL,
		created_at_timestamp BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		address TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		id       TEXT PRIMARY KEY,
		exchange TEXT NOT NULL,
		user_address TEXT NOT NULL,
		balance  NUMERIC NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS positions_exchange_idx ON positions (exchange)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id           TEXT PRIMARY KEY,
		kind         TEXT NOT NULL,
		exchange     TEXT NOT NULL,
		counterparty TEXT NOT NULL,
		block_number BIGINT NOT NULL,
		timestamp    BIGINT NOT NULL,
		token_amount NUMERIC,
		eth_amount   NUMERIC
	)`,
	`CREATE INDEX IF NOT EXISTS trades_exchange_idx ON trades (exchange, block_number)`,
	`CREATE TABLE IF NOT EXISTS exchange_hour_data (
		id              TEXT PRIMARY KEY,
		exchange        TEXT NOT NULL,
		hour_start_unix BIGINT NOT NULL,
		volume_eth      NUMERIC NOT NULL DEFAULT 0,
		volume_token    NUMERIC NOT NULL DEFAULT 0,
		tx_count        BIGINT NOT NULL DEFAULT 0,
		total_supply    NUMERIC NOT NULL DEFAULT 0,
		price_num       NUMERIC,
		price_den       NUMERIC
	)`,
	`CREATE TABLE IF NOT EXISTS exchange_day_data (
		id           TEXT PRIMARY KEY,
		exchange     TEXT NOT NULL,
		date         BIGINT NOT NULL,
		volume_eth   NUMERIC NOT NULL DEFAULT 0,
		volume_token NUMERIC NOT NULL DEFAULT 0,
		tx_count     BIGINT NOT NULL DEFAULT 0,
		total_supply NUMERIC NOT NULL DEFAULT 0,
		price_num    NUMERIC,
		price_den    NUMERIC
	)`,
	`CREATE TABLE IF NOT EXISTS global_day_data (
		id         TEXT PRIMARY KEY,
		date       BIGINT NOT NULL,
		volume_eth NUMERIC NOT NULL DEFAULT 0,
		tx_count   BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS module_cursors (
		module               TEXT PRIMARY KEY,
		version              TEXT NOT NULL,
		last_processed_block BIGINT NOT NULL DEFAULT 0,
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

func (p *Postgres) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) GetFactory(ctx context.Context, address string) (*Factory, error) {
	f := &Factory{Address: address}
	var volume string
	err := p.pool.QueryRow(ctx, `
		SELECT pair_count, tx_count, total_volume_eth::text
		FROM factory WHERE address = $1`, address).
		Scan(&f.PairCount, &f.TxCount, &volume)
	if err != nil {
		return nil, wrapErr("factory", address, err)
	}
	f.TotalVolumeETH = mustBig(volume)
	return f, nil
}

func (p *Postgres) GetExchange(ctx context.Context, address string) (*Exchange, error) {
	e := &Exchange{Address: address}
	var poolBalance, totalSupply, reserveRatio, volumeETH string
	var priceNum, priceDen *string
	err := p.pool.QueryRow(ctx, `
		SELECT deployer, creator, pool_balance::text, total_supply::text,
		       reserve_ratio::text, price_num::text, price_den::text,
		       tx_count, volume_eth::text, created_at_block, created_at_timestamp
		FROM exchanges WHERE address = $1`, address).
		Scan(&e.Deployer, &e.Creator, &poolBalance, &totalSupply,
			&reserveRatio, &priceNum, &priceDen,
			&e.TxCount, &volumeETH, &e.CreatedAtBlock, &e.CreatedAtTimestamp)
	if err != nil {
		return nil, wrapErr("exchange", address, err)
	}
	e.PoolBalance = mustBig(poolBalance)
	e.TotalSupply = mustBig(totalSupply)
	e.ReserveRatio = mustBig(reserveRatio)
	e.PriceNum = maybeBig(priceNum)
	e.PriceDen = maybeBig(priceDen)
	e.VolumeETH = mustBig(volumeETH)
	return e, nil
}

func (p *Postgres) GetCryptomedia(ctx context.Context, address string) (*Cryptomedia, error) {
	c := &Cryptomedia{Address: address}
	err := p.pool.QueryRow(ctx, `
		SELECT deployer, creator, created_at_block, created_at_timestamp
		FROM cryptomedia WHERE address = $1`, address).
		Scan(&c.Deployer, &c.Creator, &c.CreatedAtBlock, &c.CreatedAtTimestamp)
	if err != nil {
		return nil, wrapErr("cryptomedia", address, err)
	}
	return c, nil
}

func (p *Postgres) GetUser(ctx context.Context, address string) (*User, error) {
	var addr string
	err := p.pool.QueryRow(ctx, `SELECT address FROM users WHERE address = $1`, address).Scan(&addr)
	if err != nil {
		return nil, wrapErr("user", address, err)
	}
	return &User{Address: addr}, nil
}

func (p *Postgres) GetPosition(ctx context.Context, id string) (*Position, error) {
	pos := &Position{ID: id}
	var balance string
	err := p.pool.QueryRow(ctx, `
		SELECT exchange, user_address, balance::text
		FROM positions WHERE id = $1`, id).
		Scan(&pos.Exchange, &pos.User, &balance)
	if err != nil {
		return nil, wrapErr("position", id, err)
	}
	pos.Balance = mustBig(balance)
	return pos, nil
}

func (p *Postgres) GetTrade(ctx context.Context, id string) (*Trade, error) {
	t := &Trade{ID: id}
	var tokenAmount, ethAmount *string
	err := p.pool.QueryRow(ctx, `
		SELECT kind, exchange, counterparty, block_number, timestamp,
		       token_amount::text, eth_amount::text
		FROM trades WHERE id = $1`, id).
		Scan(&t.Kind, &t.Exchange, &t.Counterparty, &t.BlockNumber, &t.Timestamp,
			&tokenAmount, &ethAmount)
	if err != nil {
		return nil, wrapErr("trade", id, err)
	}
	t.TokenAmount = maybeBig(tokenAmount)
	t.EthAmount = maybeBig(ethAmount)
	return t, nil
}

func (p *Postgres) GetExchangeHourData(ctx context.Context, id string) (*ExchangeHourData, error) {
	h := &ExchangeHourData{ID: id}
	var volumeETH, volumeToken, totalSupply string
	var priceNum, priceDen *string
	err := p.pool.QueryRow(ctx, `
		SELECT exchange, hour_start_unix, volume_eth::text, volume_token::text,
		       tx_count, total_supply::text, price_num::text, price_den::text
		FROM exchange_hour_data WHERE id = $1`, id).
		Scan(&h.Exchange, &h.HourStartUnix, &volumeETH, &volumeToken,
			&h.TxCount, &totalSupply, &priceNum, &priceDen)
	if err != nil {
		return nil, wrapErr("exchange_hour_data", id, err)
	}
	h.VolumeETH = mustBig(volumeETH)
	h.VolumeToken = mustBig(volumeToken)
	h.TotalSupply = mustBig(totalSupply)
	h.PriceNum = maybeBig(priceNum)
	h.PriceDen = maybeBig(priceDen)
	return h, nil
}

func (p *Postgres) GetExchangeDayData(ctx context.Context, id string) (*ExchangeDayData, error) {
	d := &ExchangeDayData{ID: id}
	var volumeETH, volumeToken, totalSupply string
	var priceNum, priceDen *string
	err := p.pool.QueryRow(ctx, `
		SELECT exchange, date, volume_eth::text, volume_token::text,
		       tx_count, total_supply::text, price_num::text, price_den::text
		FROM exchange_day_data WHERE id = $1`, id).
		Scan(&d.Exchange, &d.Date, &volumeETH, &volumeToken,
			&d.TxCount, &totalSupply, &priceNum, &priceDen)
	if err != nil {
		return nil, wrapErr("exchange_day_data", id, err)
	}
	d.VolumeETH = mustBig(volumeETH)
	d.VolumeToken = mustBig(volumeToken)
	d.TotalSupply = mustBig(totalSupply)
	d.PriceNum = maybeBig(priceNum)
	d.PriceDen = maybeBig(priceDen)
	return d, nil
}

func (p *Postgres) GetGlobalDayData(ctx context.Context, id string) (*GlobalDayData, error) {
	g := &GlobalDayData{ID: id}
	var volumeETH string
	err := p.pool.QueryRow(ctx, `
		SELECT date, volume_eth::text, tx_count
		FROM global_day_data WHERE id = $1`, id).
		Scan(&g.Date, &volumeETH, &g.TxCount)
	if err != nil {
		return nil, wrapErr("global_day_data", id, err)
	}
	g.VolumeETH = mustBig(volumeETH)
	return g, nil
}

func (p *Postgres) GetModuleCursor(ctx context.Context, module string) (*ModuleCursor, error) {
	c := &ModuleCursor{Module: module}
	err := p.pool.QueryRow(ctx, `
		SELECT version, last_processed_block
		FROM module_cursors WHERE module = $1`, module).
		Scan(&c.Version, &c.LastProcessedBlock)
	if err != nil {
		return nil, wrapErr("module_cursor", module, err)
	}
	return c, nil
}

// Apply writes every staged entity in one transaction.
func (p *Postgres) Apply(ctx context.Context, batch *Batch) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, f := range batch.factories {
		if _, err := tx.Exec(ctx, `
			INSERT INTO factory (address, pair_count, tx_count, total_volume_eth)
			VALUES ($1, $2, $3, $4::numeric)
			ON CONFLICT (address) DO UPDATE SET
				pair_count = EXCLUDED.pair_count,
				tx_count = EXCLUDED.tx_count,
				total_volume_eth = EXCLUDED.total_volume_eth,
				updated_at = NOW()`,
			f.Address, f.PairCount, f.TxCount, numeric(f.TotalVolumeETH)); err != nil {
			return fmt.Errorf("failed to save factory %s: %w", f.Address, err)
		}
	}
	for _, e := range batch.exchanges {
		if _, err := tx.Exec(ctx, `
			INSERT INTO exchanges (
				address, deployer, creator, pool_balance, total_supply,
				reserve_ratio, price_num, price_den, tx_count, volume_eth,
				created_at_block, created_at_timestamp
			) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric,
				$7::numeric, $8::numeric, $9, $10::numeric, $11, $12)
			ON CONFLICT (address) DO UPDATE SET
				pool_balance = EXCLUDED.pool_balance,
				total_supply = EXCLUDED.total_supply,
				price_num = EXCLUDED.price_num,
				price_den = EXCLUDED.price_den,
				tx_count = EXCLUDED.tx_count,
				volume_eth = EXCLUDED.volume_eth,
				updated_at = NOW()`,
			e.Address, e.Deployer, e.Creator, numeric(e.PoolBalance),
			numeric(e.TotalSupply), numeric(e.ReserveRatio),
			numeric(e.PriceNum), numeric(e.PriceDen),
			e.TxCount, numeric(e.VolumeETH),
			e.CreatedAtBlock, e.CreatedAtTimestamp); err != nil {
			return fmt.Errorf("failed to save exchange %s: %w", e.Address, err)
		}
	}
	for _, c := range batch.cryptomedias {
		if _, err := tx.Exec(ctx, `
			INSERT INTO cryptomedia (address, deployer, creator, created_at_block, created_at_timestamp)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (address) DO NOTHING`,
			c.Address, c.Deployer, c.Creator, c.CreatedAtBlock, c.CreatedAtTimestamp); err != nil {
			return fmt.Errorf("failed to save cryptomedia %s: %w", c.Address, err)
		}
	}
	for _, u := range batch.users {
		if _, err := tx.Exec(ctx, `
			INSERT INTO users (address) VALUES ($1)
			ON CONFLICT (address) DO NOTHING`, u.Address); err != nil {
			return fmt.Errorf("failed to save user %s: %w", u.Address, err)
		}
	}
	for _, pos := range batch.positions {
		if _, err := tx.Exec(ctx, `
			INSERT INTO positions (id, exchange, user_address, balance)
			VALUES ($1, $2, $3, $4::numeric)
			ON CONFLICT (id) DO UPDATE SET balance = EXCLUDED.balance`,
			pos.ID, pos.Exchange, pos.User, numeric(pos.Balance)); err != nil {
			return fmt.Errorf("failed to save position %s: %w", pos.ID, err)
		}
	}
	for _, t := range batch.trades {
		if _, err := tx.Exec(ctx, `
			INSERT INTO trades (
				id, kind, exchange, counterparty, block_number, timestamp,
				token_amount, eth_amount
			) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric)
			ON CONFLICT (id) DO NOTHING`,
			t.ID, string(t.Kind), t.Exchange, t.Counterparty,
			t.BlockNumber, t.Timestamp,
			numeric(t.TokenAmount), numeric(t.EthAmount)); err != nil {
			return fmt.Errorf("failed to save trade %s: %w", t.ID, err)
		}
	}
	for _, h := range batch.hourData {
		if _, err := tx.Exec(ctx, `
			INSERT INTO exchange_hour_data (
				id, exchange, hour_start_unix, volume_eth, volume_token,
				tx_count, total_supply, price_num, price_den
			) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7::numeric, $8::numeric, $9::numeric)
			ON CONFLICT (id) DO UPDATE SET
				volume_eth = EXCLUDED.volume_eth,
				volume_token = EXCLUDED.volume_token,
				tx_count = EXCLUDED.tx_count,
				total_supply = EXCLUDED.total_supply,
				price_num = EXCLUDED.price_num,
				price_den = EXCLUDED.price_den`,
			h.ID, h.Exchange, h.HourStartUnix, numeric(h.VolumeETH),
			numeric(h.VolumeToken), h.TxCount, numeric(h.TotalSupply),
			numeric(h.PriceNum), numeric(h.PriceDen)); err != nil {
			return fmt.Errorf("failed to save hour data %s: %w", h.ID, err)
		}
	}
	for _, d := range batch.dayData {
		if _, err := tx.Exec(ctx, `
			INSERT INTO exchange_day_data (
				id, exchange, date, volume_eth, volume_token,
				tx_count, total_supply, price_num, price_den
			) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7::numeric, $8::numeric, $9::numeric)
			ON CONFLICT (id) DO UPDATE SET
				volume_eth = EXCLUDED.volume_eth,
				volume_token = EXCLUDED.volume_token,
				tx_count = EXCLUDED.tx_count,
				total_supply = EXCLUDED.total_supply,
				price_num = EXCLUDED.price_num,
				price_den = EXCLUDED.price_den`,
			d.ID, d.Exchange, d.Date, numeric(d.VolumeETH),
			numeric(d.VolumeToken), d.TxCount, numeric(d.TotalSupply),
			numeric(d.PriceNum), numeric(d.PriceDen)); err != nil {
			return fmt.Errorf("failed to save day data %s: %w", d.ID, err)
		}
	}
	for _, g := range batch.globalDays {
		if _, err := tx.Exec(ctx, `
			INSERT INTO global_day_data (id, date, volume_eth, tx_count)
			VALUES ($1, $2, $3::numeric, $4)
			ON CONFLICT (id) DO UPDATE SET
				volume_eth = EXCLUDED.volume_eth,
				tx_count = EXCLUDED.tx_count`,
			g.ID, g.Date, numeric(g.VolumeETH), g.TxCount); err != nil {
			return fmt.Errorf("failed to save global day data %s: %w", g.ID, err)
		}
	}
	for _, c := range batch.cursors {
		if _, err := tx.Exec(ctx, `
			INSERT INTO module_cursors (module, version, last_processed_block)
			VALUES ($1, $2, $3)
			ON CONFLICT (module) DO UPDATE SET
				version = EXCLUDED.version,
				last_processed_block = EXCLUDED.last_processed_block,
				updated_at = NOW()`,
			c.Module, c.Version, c.LastProcessedBlock); err != nil {
			return fmt.Errorf("failed to save cursor %s: %w", c.Module, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	p.logger.Debug().Int("entities", batch.Len()).Msg("Batch committed")
	return nil
}

func (p *Postgres) TradesByExchange(ctx context.Context, exchange string) ([]*Trade, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, kind, counterparty, block_number, timestamp,
		       token_amount::text, eth_amount::text
		FROM trades WHERE exchange = $1
		ORDER BY block_number, id`, exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for %s: %w", exchange, err)
	}
	defer rows.Close()

	var out []*Trade
	for rows.Next() {
		t := &Trade{Exchange: exchange}
		var tokenAmount, ethAmount *string
		if err := rows.Scan(&t.ID, &t.Kind, &t.Counterparty, &t.BlockNumber,
			&t.Timestamp, &tokenAmount, &ethAmount); err != nil {
			return nil, err
		}
		t.TokenAmount = maybeBig(tokenAmount)
		t.EthAmount = maybeBig(ethAmount)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) PositionsByExchange(ctx context.Context, exchange string) ([]*Position, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_address, balance::text
		FROM positions WHERE exchange = $1
		ORDER BY id`, exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions for %s: %w", exchange, err)
	}
	defer rows.Close()

	var out []*Position
	for rows.Next() {
		pos := &Position{Exchange: exchange}
		var balance string
		if err := rows.Scan(&pos.ID, &pos.User, &balance); err != nil {
			return nil, err
		}
		pos.Balance = mustBig(balance)
		out = append(out, pos)
	}
	return out, rows.Err()
}

func wrapErr(kind, key string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("failed to load %s %s: %w", kind, key, err)
}

// numeric converts a big.Int to its SQL representation, preserving NULL.
func numeric(x *big.Int) *string {
	if x == nil {
		return nil
	}
	s := x.String()
	return &s
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

func maybeBig(s *string) *big.Int {
	if s == nil {
		return nil
	}
	return mustBig(*s)
}
