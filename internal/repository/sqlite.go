package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kjannette/tulipbot/internal/models"
)

// SQLiteLedger stores the ledger in a local SQLite file via sqlx.
type SQLiteLedger struct {
	db *sqlx.DB
}

func NewSQLiteLedger(db *sqlx.DB) *SQLiteLedger {
	return &SQLiteLedger{db: db}
}

func (r *SQLiteLedger) GetPlayer(ctx context.Context, id int64) (*models.Player, error) {
	var p models.Player
	if err := r.db.GetContext(ctx, &p, qGetPlayer, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *SQLiteLedger) Deposit(ctx context.Context, d models.Deposit, defaultSellAt int) (*models.Player, error) {
	var p models.Player
	err := r.db.GetContext(ctx, &p, qDeposit,
		d.PlayerID, d.PlayerName, defaultSellAt, d.Red, d.White, d.Blue, d.Chroner)
	if err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}
	return &p, nil
}

func (r *SQLiteLedger) SetSellAt(ctx context.Context, id int64, sellAt int) error {
	res, err := r.db.ExecContext(ctx, qSetSellAt, sellAt, id)
	if err != nil {
		return fmt.Errorf("set sell price: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

func (r *SQLiteLedger) Eligible(ctx context.Context, p models.Prices) ([]models.Player, error) {
	var out []models.Player
	if err := r.db.SelectContext(ctx, &out, qEligible, p.Red, p.White, p.Blue); err != nil {
		return nil, fmt.Errorf("eligible players: %w", err)
	}
	return out, nil
}

func (r *SQLiteLedger) Settle(ctx context.Context, id int64, v models.Variant, qty, proceeds int) (int, error) {
	q, err := settleStatement(v)
	if err != nil {
		return 0, err
	}
	if err := validateSettle(qty, proceeds); err != nil {
		return 0, err
	}
	var balance int
	err = r.db.QueryRowxContext(ctx, q, qty, proceeds, id, qty).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, r.missingOr(ctx, id, ErrHoldingMismatch)
	}
	if err != nil {
		return 0, fmt.Errorf("settle %s for %d: %w", v, id, err)
	}
	return balance, nil
}

func (r *SQLiteLedger) Spend(ctx context.Context, id int64, amount int) (int, error) {
	var balance int
	err := r.db.QueryRowxContext(ctx, qSpend, amount, id, amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, r.missingOr(ctx, id, ErrInsufficientBalance)
	}
	if err != nil {
		return 0, fmt.Errorf("spend: %w", err)
	}
	return balance, nil
}

func (r *SQLiteLedger) Credit(ctx context.Context, id int64, amount int) (int, error) {
	var balance int
	err := r.db.QueryRowxContext(ctx, qCredit, amount, id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrPlayerNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("credit: %w", err)
	}
	return balance, nil
}

func (r *SQLiteLedger) WithdrawTulips(ctx context.Context, id int64, red, white, blue int) error {
	if err := validateWithdraw(red, white, blue); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, qWithdraw, red, white, blue, id, red, white, blue)
	if err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missingOr(ctx, id, ErrInsufficientHoldings)
	}
	return nil
}

func (r *SQLiteLedger) Holders(ctx context.Context) ([]models.Player, error) {
	var out []models.Player
	if err := r.db.SelectContext(ctx, &out, qHolders); err != nil {
		return nil, fmt.Errorf("holders: %w", err)
	}
	return out, nil
}

func (r *SQLiteLedger) Totals(ctx context.Context) (models.Totals, error) {
	var t models.Totals
	if err := r.db.GetContext(ctx, &t, qTotals); err != nil {
		return t, fmt.Errorf("totals: %w", err)
	}
	return t, nil
}

func (r *SQLiteLedger) missingOr(ctx context.Context, id int64, guardErr error) error {
	var n int
	if err := r.db.GetContext(ctx, &n, qExists, id); err != nil {
		return fmt.Errorf("lookup player %d: %w", id, err)
	}
	if n == 0 {
		return ErrPlayerNotFound
	}
	return guardErr
}

// SQLitePriceHistory stores price samples in the same SQLite file.
type SQLitePriceHistory struct {
	db *sqlx.DB
}

func NewSQLitePriceHistory(db *sqlx.DB) *SQLitePriceHistory {
	return &SQLitePriceHistory{db: db}
}

type priceRow struct {
	ID    int64 `db:"id"`
	Red   int   `db:"red"`
	White int   `db:"white"`
	Blue  int   `db:"blue"`
	Time  int64 `db:"time"`
}

func (p priceRow) sample() models.PriceSample {
	return models.PriceSample{
		ID:    p.ID,
		Red:   p.Red,
		White: p.White,
		Blue:  p.Blue,
		Time:  time.UnixMilli(p.Time),
	}
}

func (r *SQLitePriceHistory) Append(ctx context.Context, p models.Prices, at time.Time) (*models.PriceSample, error) {
	ms := at.UnixMilli()
	var id int64
	if err := r.db.QueryRowxContext(ctx, qAppendPrice, p.Red, p.White, p.Blue, ms).Scan(&id); err != nil {
		return nil, fmt.Errorf("append price: %w", err)
	}
	s := priceRow{ID: id, Red: p.Red, White: p.White, Blue: p.Blue, Time: ms}.sample()
	return &s, nil
}

func (r *SQLitePriceHistory) Latest(ctx context.Context) (*models.PriceSample, error) {
	var row priceRow
	if err := r.db.GetContext(ctx, &row, qLatestPrice); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s := row.sample()
	return &s, nil
}

func (r *SQLitePriceHistory) List(ctx context.Context, order Order, limit int) ([]models.PriceSample, error) {
	q, args := listPricesQuery(order, limit)
	var rows []priceRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	out := make([]models.PriceSample, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.sample())
	}
	return out, nil
}
