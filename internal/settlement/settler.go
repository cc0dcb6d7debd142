package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kjannette/tulipbot/internal/metrics"
	"github.com/kjannette/tulipbot/internal/models"
)

// Ledger is the part of the player ledger settlement needs.
type Ledger interface {
	EligibleFinder
	Settle(ctx context.Context, id int64, v models.Variant, qty, proceeds int) (int, error)
}

// Notifier delivers a kmail to a player.
type Notifier interface {
	SendKmail(ctx context.Context, to int64, text string) error
}

type Settler struct {
	ledger   Ledger
	notifier Notifier
}

func NewSettler(ledger Ledger, notifier Notifier) *Settler {
	return &Settler{ledger: ledger, notifier: notifier}
}

// Settle credits a confirmed sale and then tells the player. The ledger
// update is authoritative; a failed notification is logged and ignored.
func (s *Settler) Settle(ctx context.Context, e PlanEntry) (int, error) {
	if !e.Variant.Valid() {
		return 0, fmt.Errorf("settle %d: %w", int(e.Variant), ErrInvalidVariant)
	}
	if e.Quantity <= 0 || e.Price < 0 {
		return 0, fmt.Errorf("settle %s for %d: bad quantity %d at %d", e.Variant, e.PlayerID, e.Quantity, e.Price)
	}

	balance, err := s.ledger.Settle(ctx, e.PlayerID, e.Variant, e.Quantity, e.Proceeds())
	if err != nil {
		return 0, fmt.Errorf("settle %d x %s for %s (%d): %w", e.Quantity, e.Variant, e.PlayerName, e.PlayerID, err)
	}

	metrics.TulipsSold.WithLabelValues(e.Variant.String()).Add(float64(e.Quantity))
	metrics.ChronerCredited.Add(float64(e.Proceeds()))

	text := fmt.Sprintf("Congratulations, you just sold %d x %s tulip(s) for %d!\n\nThe chroner have been added to your balance, which is now %d.",
		e.Quantity, e.Variant, e.Price, balance)
	if err := s.notifier.SendKmail(ctx, e.PlayerID, text); err != nil {
		metrics.NotificationFailures.Inc()
		slog.Warn("sale notification not delivered",
			"component", "settler", "player", e.PlayerName, "player_id", e.PlayerID, "err", err)
	}
	return balance, nil
}
