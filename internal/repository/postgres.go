package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/kjannette/tulipbot/internal/models"
)

// pg rewrites ? placeholders to $N.
func pg(q string) string {
	return sqlx.Rebind(sqlx.DOLLAR, q)
}

type PGLedger struct {
	pool *pgxpool.Pool
}

func NewPGLedger(pool *pgxpool.Pool) *PGLedger {
	return &PGLedger{pool: pool}
}

func (r *PGLedger) GetPlayer(ctx context.Context, id int64) (*models.Player, error) {
	p, err := scanPlayer(r.pool.QueryRow(ctx, pg(qGetPlayer), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (r *PGLedger) Deposit(ctx context.Context, d models.Deposit, defaultSellAt int) (*models.Player, error) {
	row := r.pool.QueryRow(ctx, pg(qDeposit),
		d.PlayerID, d.PlayerName, defaultSellAt, d.Red, d.White, d.Blue, d.Chroner)
	p, err := scanPlayer(row)
	if err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}
	return p, nil
}

func (r *PGLedger) SetSellAt(ctx context.Context, id int64, sellAt int) error {
	tag, err := r.pool.Exec(ctx, pg(qSetSellAt), sellAt, id)
	if err != nil {
		return fmt.Errorf("set sell price: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

func (r *PGLedger) Eligible(ctx context.Context, p models.Prices) ([]models.Player, error) {
	rows, err := r.pool.Query(ctx, pg(qEligible), p.Red, p.White, p.Blue)
	if err != nil {
		return nil, fmt.Errorf("eligible players: %w", err)
	}
	defer rows.Close()
	return collectPlayers(rows)
}

func (r *PGLedger) Settle(ctx context.Context, id int64, v models.Variant, qty, proceeds int) (int, error) {
	q, err := settleStatement(v)
	if err != nil {
		return 0, err
	}
	if err := validateSettle(qty, proceeds); err != nil {
		return 0, err
	}
	var balance int
	err = r.pool.QueryRow(ctx, pg(q), qty, proceeds, id, qty).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, r.missingOr(ctx, id, ErrHoldingMismatch)
	}
	if err != nil {
		return 0, fmt.Errorf("settle %s for %d: %w", v, id, err)
	}
	return balance, nil
}

func (r *PGLedger) Spend(ctx context.Context, id int64, amount int) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx, pg(qSpend), amount, id, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, r.missingOr(ctx, id, ErrInsufficientBalance)
	}
	if err != nil {
		return 0, fmt.Errorf("spend: %w", err)
	}
	return balance, nil
}

func (r *PGLedger) Credit(ctx context.Context, id int64, amount int) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx, pg(qCredit), amount, id).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrPlayerNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("credit: %w", err)
	}
	return balance, nil
}

func (r *PGLedger) WithdrawTulips(ctx context.Context, id int64, red, white, blue int) error {
	if err := validateWithdraw(red, white, blue); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, pg(qWithdraw), red, white, blue, id, red, white, blue)
	if err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOr(ctx, id, ErrInsufficientHoldings)
	}
	return nil
}

func (r *PGLedger) Holders(ctx context.Context) ([]models.Player, error) {
	rows, err := r.pool.Query(ctx, pg(qHolders))
	if err != nil {
		return nil, fmt.Errorf("holders: %w", err)
	}
	defer rows.Close()
	return collectPlayers(rows)
}

func (r *PGLedger) Totals(ctx context.Context) (models.Totals, error) {
	var t models.Totals
	err := r.pool.QueryRow(ctx, qTotals).Scan(&t.Red, &t.White, &t.Blue, &t.Chroner)
	if err != nil {
		return t, fmt.Errorf("totals: %w", err)
	}
	return t, nil
}

func (r *PGLedger) missingOr(ctx context.Context, id int64, guardErr error) error {
	var n int
	if err := r.pool.QueryRow(ctx, pg(qExists), id).Scan(&n); err != nil {
		return fmt.Errorf("lookup player %d: %w", id, err)
	}
	if n == 0 {
		return ErrPlayerNotFound
	}
	return guardErr
}

type PGPriceHistory struct {
	pool *pgxpool.Pool
}

func NewPGPriceHistory(pool *pgxpool.Pool) *PGPriceHistory {
	return &PGPriceHistory{pool: pool}
}

func (r *PGPriceHistory) Append(ctx context.Context, p models.Prices, at time.Time) (*models.PriceSample, error) {
	ms := at.UnixMilli()
	var id int64
	if err := r.pool.QueryRow(ctx, pg(qAppendPrice), p.Red, p.White, p.Blue, ms).Scan(&id); err != nil {
		return nil, fmt.Errorf("append price: %w", err)
	}
	return &models.PriceSample{ID: id, Red: p.Red, White: p.White, Blue: p.Blue, Time: time.UnixMilli(ms)}, nil
}

func (r *PGPriceHistory) Latest(ctx context.Context) (*models.PriceSample, error) {
	s, err := scanPrice(r.pool.QueryRow(ctx, qLatestPrice))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *PGPriceHistory) List(ctx context.Context, order Order, limit int) ([]models.PriceSample, error) {
	q, args := listPricesQuery(order, limit)
	rows, err := r.pool.Query(ctx, pg(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	defer rows.Close()
	return collectPrices(rows)
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanPlayer(row scannable) (*models.Player, error) {
	var p models.Player
	if err := row.Scan(&p.ID, &p.Name, &p.SellAt, &p.Red, &p.White, &p.Blue, &p.Chroner); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPrice(row scannable) (*models.PriceSample, error) {
	var s models.PriceSample
	var ms int64
	if err := row.Scan(&s.ID, &s.Red, &s.White, &s.Blue, &ms); err != nil {
		return nil, err
	}
	s.Time = time.UnixMilli(ms)
	return &s, nil
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func collectPlayers(rows rowsIter) ([]models.Player, error) {
	var out []models.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func collectPrices(rows rowsIter) ([]models.PriceSample, error) {
	out := []models.PriceSample{}
	for rows.Next() {
		s, err := scanPrice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
