package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/kjannette/tulipbot/internal/external"
	"github.com/kjannette/tulipbot/internal/models"
	"github.com/kjannette/tulipbot/internal/notifications"
)

var itemPattern = regexp.MustCompile(`<table class="item" style="float: none" rel="id=(\d+).*?&n=(\d+).*?">`)

// ErrDepositLost means roses were already traded in but the ledger write
// failed. The kmail must not be processed again.
var ErrDepositLost = errors.New("deposit lost after rose trade-in")

// Attachments is what a kmail carried that the ledger cares about.
type Attachments struct {
	Red, White, Blue int
	Roses            int
}

func (a Attachments) Empty() bool {
	return a.Red+a.White+a.Blue+a.Roses == 0
}

// ParseAttachments reads the item tables the game renders into a kmail body.
// Anything that is not a tulip or a rose is ignored.
func ParseAttachments(message string) Attachments {
	var a Attachments
	for _, m := range itemPattern.FindAllStringSubmatch(message, -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if id == models.RoseItemID {
			a.Roses += n
			continue
		}
		v, ok := models.VariantForItem(id)
		if !ok {
			continue
		}
		switch v {
		case models.Red:
			a.Red += n
		case models.White:
			a.White += n
		case models.Blue:
			a.Blue += n
		}
	}
	return a
}

// HandleKmail credits a deposit. It returns a reply to kmail back ("" for
// none). A non-nil error other than ErrDepositLost leaves the kmail for the
// next poll.
func (h *Handler) HandleKmail(ctx context.Context, k external.Kmail) (string, error) {
	log := slog.With("component", "deposits", "player", k.FromName, "player_id", k.FromID, "kmail", k.ID)

	a := ParseAttachments(k.Message)
	if a.Empty() {
		log.Info("kmail without tulips")
		return replyNoDeposit, nil
	}

	chroner := 0
	if a.Roses > 1 {
		got, res := h.roses.TradeInRoses(ctx, a.Roses)
		if res.OK() {
			chroner = got
		} else {
			h.alerts.Alert(ctx, notifications.Warning,
				fmt.Sprintf("ROSE TRADE-IN FAILED for %s (%d): %d roses not credited: %s", k.FromName, k.FromID, a.Roses, res.Reason))
		}
	}

	d := models.Deposit{
		PlayerID:   k.FromID,
		PlayerName: k.FromName,
		Red:        a.Red,
		White:      a.White,
		Blue:       a.Blue,
		Chroner:    chroner,
	}
	if d.Empty() {
		return "", nil
	}

	p, err := h.ledger.Deposit(context.WithoutCancel(ctx), d, h.cfg.DefaultSellAt)
	if err != nil {
		if chroner > 0 {
			h.alerts.Alert(ctx, notifications.Warning,
				fmt.Sprintf("DEPOSIT LOST for %s (%d): %d red, %d white, %d blue, %d chroner: %v",
					k.FromName, k.FromID, d.Red, d.White, d.Blue, d.Chroner, err))
			return "", fmt.Errorf("%w: %v", ErrDepositLost, err)
		}
		return "", fmt.Errorf("deposit from %d: %w", k.FromID, err)
	}
	log.Info("deposit credited",
		"red", d.Red, "white", d.White, "blue", d.Blue, "chroner", d.Chroner,
		"balance", p.Chroner)
	return "", nil
}
