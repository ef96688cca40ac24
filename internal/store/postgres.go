package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creatorpad/settlement-engine/internal/model"
)

// Schema creates the archive tables. Amounts are NUMERIC(78,0), wide enough
// for any 256-bit value, written and read as decimal strings.
const Schema = `
CREATE TABLE IF NOT EXISTS tokens (
	address      TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	creator      TEXT NOT NULL,
	model        TEXT NOT NULL,
	total_supply NUMERIC(78,0) NOT NULL,
	launched_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	seq          BIGSERIAL PRIMARY KEY,
	id           TEXT NOT NULL UNIQUE,
	token        TEXT NOT NULL REFERENCES tokens (address),
	trader       TEXT NOT NULL,
	is_buy       BOOLEAN NOT NULL,
	token_amount NUMERIC(78,0) NOT NULL,
	eth_value    NUMERIC(78,0) NOT NULL,
	fee          NUMERIC(78,0) NOT NULL,
	price        NUMERIC(78,0) NOT NULL,
	block        BIGINT NOT NULL,
	timestamp    TIMESTAMPTZ NOT NULL,
	trade_index  BIGINT NOT NULL DEFAULT 0
);

ALTER TABLE trades ADD COLUMN IF NOT EXISTS trade_index BIGINT NOT NULL DEFAULT 0;

CREATE INDEX IF NOT EXISTS trades_token_index_idx ON trades (token, trade_index DESC);
CREATE INDEX IF NOT EXISTS trades_trader_time_idx ON trades (trader, timestamp DESC);
`

const uniqueViolation = "23505"

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveToken(ctx context.Context, t *model.TokenInfo) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tokens (address, name, symbol, creator, model, total_supply, launched_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)`,
		t.Address.Hex(), t.Name, t.Symbol, t.Creator.Hex(), string(t.Model),
		numeric(t.TotalSupply), t.LaunchedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: token %s", ErrExists, t.Address.Hex())
	}
	return err
}

func (s *PostgresStore) UpdateTokenModel(ctx context.Context, addr common.Address, m model.PricingModel) error {
	tag, err := s.pool.Exec(ctx, `UPDATE tokens SET model = $2 WHERE address = $1`, addr.Hex(), string(m))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: token %s", ErrNotFound, addr.Hex())
	}
	return nil
}

const tokenColumns = `address, name, symbol, creator, model, total_supply::TEXT, launched_at`

func (s *PostgresStore) GetToken(ctx context.Context, addr common.Address) (*model.TokenInfo, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE address = $1`, addr.Hex())
	t, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: token %s", ErrNotFound, addr.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("get token %s: %w", addr.Hex(), err)
	}
	return t, nil
}

func (s *PostgresStore) ListTokens(ctx context.Context) ([]model.TokenInfo, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tokenColumns+` FROM tokens ORDER BY launched_at DESC, address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := []model.TokenInfo{}
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.TradeRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, token, trader, is_buy, token_amount, eth_value, fee, price, block, timestamp, trade_index)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11)`,
		t.ID, t.Token.Hex(), t.Trader.Hex(), t.IsBuy,
		numeric(t.TokenAmount), numeric(t.EthValue), numeric(t.Fee), numeric(t.Price),
		int64(t.Block), t.Timestamp, int64(t.Index),
	)
	return err
}

const tradeColumns = `id, token, trader, is_buy, token_amount::TEXT, eth_value::TEXT, fee::TEXT, price::TEXT, block, timestamp, trade_index`

func (s *PostgresStore) ListTrades(ctx context.Context, token common.Address, limit int) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE token = $1 ORDER BY trade_index DESC, seq DESC LIMIT $2`,
		token.Hex(), normLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) ListTradesByTrader(ctx context.Context, trader common.Address, limit int) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE trader = $1 ORDER BY timestamp DESC, trade_index DESC, seq DESC LIMIT $2`,
		trader.Hex(), normLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

// pgxRows is the subset of pgx.Rows the scanners need.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*model.TokenInfo, error) {
	var t model.TokenInfo
	var addr, creator, m, supply string
	if err := row.Scan(&addr, &t.Name, &t.Symbol, &creator, &m, &supply, &t.LaunchedAt); err != nil {
		return nil, err
	}
	var err error
	t.Address = common.HexToAddress(addr)
	t.Creator = common.HexToAddress(creator)
	t.Model = model.PricingModel(m)
	t.LaunchedAt = t.LaunchedAt.UTC()
	if t.TotalSupply, err = parseNumeric(supply); err != nil {
		return nil, fmt.Errorf("token %s total_supply: %w", addr, err)
	}
	return &t, nil
}

func scanTrades(rows pgxRows) ([]model.TradeRecord, error) {
	trades := []model.TradeRecord{}
	for rows.Next() {
		var t model.TradeRecord
		var token, trader, amount, value, fee, price string
		var block, index int64
		if err := rows.Scan(&t.ID, &token, &trader, &t.IsBuy,
			&amount, &value, &fee, &price, &block, &t.Timestamp, &index); err != nil {
			return nil, err
		}
		t.Token = common.HexToAddress(token)
		t.Trader = common.HexToAddress(trader)
		t.Block = uint64(block)
		t.Index = uint64(index)
		t.Timestamp = t.Timestamp.UTC()

		var err error
		for _, f := range []struct {
			dst **uint256.Int
			src string
		}{{&t.TokenAmount, amount}, {&t.EthValue, value}, {&t.Fee, fee}, {&t.Price, price}} {
			if *f.dst, err = parseNumeric(f.src); err != nil {
				return nil, fmt.Errorf("trade %s: %w", t.ID, err)
			}
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// numeric renders v for a NUMERIC column.
func numeric(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func parseNumeric(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return v, nil
}
