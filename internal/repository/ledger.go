package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kjannette/tulipbot/internal/models"
)

var (
	ErrPlayerNotFound       = errors.New("player not found")
	ErrInsufficientBalance  = errors.New("insufficient chroner balance")
	ErrInsufficientHoldings = errors.New("insufficient tulip holdings")
	// ErrHoldingMismatch means a settlement found less stock than it sold.
	ErrHoldingMismatch = errors.New("holding smaller than settled quantity")
)

// Ledger is the players table: tulip holdings and chroner balances.
// Every mutation is a single guarded statement so concurrent writers
// interleave without lost updates.
type Ledger interface {
	GetPlayer(ctx context.Context, id int64) (*models.Player, error)
	Deposit(ctx context.Context, d models.Deposit, defaultSellAt int) (*models.Player, error)
	SetSellAt(ctx context.Context, id int64, sellAt int) error
	Eligible(ctx context.Context, p models.Prices) ([]models.Player, error)
	Settle(ctx context.Context, id int64, v models.Variant, qty, proceeds int) (int, error)
	Spend(ctx context.Context, id int64, amount int) (int, error)
	Credit(ctx context.Context, id int64, amount int) (int, error)
	WithdrawTulips(ctx context.Context, id int64, red, white, blue int) error
	Holders(ctx context.Context) ([]models.Player, error)
	Totals(ctx context.Context) (models.Totals, error)
}

// PriceHistory is the append-only prices table.
type PriceHistory interface {
	Append(ctx context.Context, p models.Prices, at time.Time) (*models.PriceSample, error)
	Latest(ctx context.Context) (*models.PriceSample, error)
	List(ctx context.Context, order Order, limit int) ([]models.PriceSample, error)
}

type Order string

const (
	OrderAsc  Order = "ASC"
	OrderDesc Order = "DESC"
)

// ParseOrder accepts asc/desc in any case and falls back to ascending.
func ParseOrder(s string) Order {
	if strings.EqualFold(s, string(OrderDesc)) {
		return OrderDesc
	}
	return OrderAsc
}

// --- queries (written with ? placeholders, rebound for postgres) ---

const playerColumns = `id, name, sell_at, red, white, blue, chroner`

const (
	qGetPlayer = `SELECT ` + playerColumns + ` FROM players WHERE id = ?`

	qDeposit = `INSERT INTO players (id, name, sell_at, red, white, blue, chroner)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			red = players.red + excluded.red,
			white = players.white + excluded.white,
			blue = players.blue + excluded.blue,
			chroner = players.chroner + excluded.chroner
		RETURNING ` + playerColumns

	qSetSellAt = `UPDATE players SET sell_at = ? WHERE id = ?`

	qEligible = `SELECT ` + playerColumns + ` FROM players
		WHERE (red > 0 AND sell_at <= ?) OR (white > 0 AND sell_at <= ?) OR (blue > 0 AND sell_at <= ?)
		ORDER BY id`

	qSpend  = `UPDATE players SET chroner = chroner - ? WHERE id = ? AND chroner >= ? RETURNING chroner`
	qCredit = `UPDATE players SET chroner = chroner + ? WHERE id = ? RETURNING chroner`

	qWithdraw = `UPDATE players SET red = red - ?, white = white - ?, blue = blue - ?
		WHERE id = ? AND red >= ? AND white >= ? AND blue >= ?`

	qExists = `SELECT COUNT(*) FROM players WHERE id = ?`

	qHolders = `SELECT ` + playerColumns + ` FROM players
		WHERE red > 0 OR white > 0 OR blue > 0 OR chroner > 0
		ORDER BY id`

	qTotals = `SELECT
		CAST(COALESCE(SUM(red), 0) AS BIGINT) AS red,
		CAST(COALESCE(SUM(white), 0) AS BIGINT) AS white,
		CAST(COALESCE(SUM(blue), 0) AS BIGINT) AS blue,
		CAST(COALESCE(SUM(chroner), 0) AS BIGINT) AS chroner
		FROM players`

	qAppendPrice = `INSERT INTO prices (red, white, blue, time) VALUES (?, ?, ?, ?) RETURNING id`
	qLatestPrice = `SELECT id, red, white, blue, time FROM prices ORDER BY time DESC, id DESC LIMIT 1`
)

// settleStatements is the only place a variant becomes a column name.
// Args: qty, proceeds, id, qty.
var settleStatements = [...]string{
	models.Red:   `UPDATE players SET red = red - ?, chroner = chroner + ? WHERE id = ? AND red >= ? RETURNING chroner`,
	models.White: `UPDATE players SET white = white - ?, chroner = chroner + ? WHERE id = ? AND white >= ? RETURNING chroner`,
	models.Blue:  `UPDATE players SET blue = blue - ?, chroner = chroner + ? WHERE id = ? AND blue >= ? RETURNING chroner`,
}

func settleStatement(v models.Variant) (string, error) {
	if !v.Valid() {
		return "", fmt.Errorf("settle: %w: %d", models.ErrInvalidVariant, int(v))
	}
	return settleStatements[v], nil
}

func listPricesQuery(order Order, limit int) (string, []any) {
	if order != OrderDesc {
		order = OrderAsc
	}
	q := `SELECT id, red, white, blue, time FROM prices ORDER BY time ` + string(order) + `, id ` + string(order)
	if limit > 0 {
		return q + ` LIMIT ?`, []any{limit}
	}
	return q, nil
}

func validateSettle(qty, proceeds int) error {
	if qty <= 0 {
		return fmt.Errorf("settle: quantity must be positive, got %d", qty)
	}
	if proceeds < 0 {
		return fmt.Errorf("settle: proceeds must not be negative, got %d", proceeds)
	}
	return nil
}

func validateWithdraw(red, white, blue int) error {
	if red < 0 || white < 0 || blue < 0 {
		return fmt.Errorf("withdraw: negative quantity (%d, %d, %d)", red, white, blue)
	}
	return nil
}
