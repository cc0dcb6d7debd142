package settlement

import (
	"context"
	"fmt"

	"github.com/kjannette/tulipbot/internal/models"
)

// PlanEntry is one intended sale: a player's whole holding of one variant.
// It lives for a single cycle.
type PlanEntry struct {
	PlayerID   int64
	PlayerName string
	Variant    models.Variant
	Quantity   int
	Price      int
	// Balance is the projected balance after this and the player's earlier
	// entries settle. Settlement reports the real balance from the ledger.
	Balance int
}

func (e PlanEntry) Proceeds() int {
	return e.Quantity * e.Price
}

// EligibleFinder returns players holding at least one variant priced at or
// above their threshold, in a stable order.
type EligibleFinder interface {
	Eligible(ctx context.Context, p models.Prices) ([]models.Player, error)
}

func BuildPlan(ctx context.Context, ledger EligibleFinder, prices models.Prices) ([]PlanEntry, error) {
	players, err := ledger.Eligible(ctx, prices)
	if err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	return PlanFromPlayers(players, prices), nil
}

// PlanFromPlayers emits one entry per (player, variant) with a positive
// holding and a known price at or above the player's threshold.
func PlanFromPlayers(players []models.Player, prices models.Prices) []PlanEntry {
	var plan []PlanEntry
	for _, p := range players {
		balance := p.Chroner
		for _, v := range models.Variants {
			price := prices.Get(v)
			qty := p.Holding(v)
			if price == models.UnknownPrice || qty <= 0 || price < p.SellAt {
				continue
			}
			balance += qty * price
			plan = append(plan, PlanEntry{
				PlayerID:   p.ID,
				PlayerName: p.Name,
				Variant:    v,
				Quantity:   qty,
				Price:      price,
				Balance:    balance,
			})
		}
	}
	return plan
}
