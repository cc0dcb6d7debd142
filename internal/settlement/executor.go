package settlement

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kjannette/tulipbot/internal/models"
	"github.com/kjannette/tulipbot/internal/postmortem"
)

type Outcome int

const (
	Success Outcome = iota
	Failure
)

func (o Outcome) String() string {
	if o == Success {
		return "success"
	}
	return "failure"
}

type SaleResult struct {
	Outcome Outcome
	Reason  string
}

func (r SaleResult) OK() bool {
	return r.Outcome == Success
}

// Shop is the game's request/response page interface.
type Shop interface {
	VisitURL(ctx context.Context, path string, params map[string]string) (string, error)
}

const tradeInShop = "flowertradein"

// ShopFailure classifies a shop purchase response. It returns "" when the
// purchase went through and a reason otherwise.
func ShopFailure(body string) string {
	switch {
	case strings.TrimSpace(body) == "":
		return "empty response"
	case strings.Contains(body, "You don't have enough"):
		return "insufficient stock"
	case strings.Contains(body, "Huh?"), strings.Contains(body, "That isn't a thing"):
		return "shop did not recognise the request"
	}
	return ""
}

// Executor sells tulips to the flower trade-in shop. Each call is a single
// request; nothing is retried.
type Executor struct {
	shop  Shop
	dumps *postmortem.Writer
}

func NewExecutor(shop Shop, dumps *postmortem.Writer) *Executor {
	return &Executor{shop: shop, dumps: dumps}
}

func (e *Executor) ExecuteSale(ctx context.Context, v models.Variant, qty int) SaleResult {
	if !v.Valid() {
		return SaleResult{Outcome: Failure, Reason: models.ErrInvalidVariant.Error()}
	}
	return e.tradeIn(ctx, v.ShopRow(), qty)
}

// TradeInRoses turns roses into chroner at two roses per chroner and returns
// the chroner gained. An odd rose is left over.
func (e *Executor) TradeInRoses(ctx context.Context, roses int) (int, SaleResult) {
	chroner := roses / 2
	if chroner == 0 {
		return 0, SaleResult{Outcome: Success}
	}
	res := e.tradeIn(ctx, models.RoseTradeInRow, chroner)
	if !res.OK() {
		return 0, res
	}
	return chroner, res
}

func (e *Executor) tradeIn(ctx context.Context, row, qty int) SaleResult {
	if qty <= 0 {
		return SaleResult{Outcome: Failure, Reason: "non-positive quantity"}
	}
	body, err := e.shop.VisitURL(ctx, "shop.php", map[string]string{
		"whichshop": tradeInShop,
		"action":    "buyitem",
		"quantity":  strconv.Itoa(qty),
		"whichrow":  strconv.Itoa(row),
	})
	if err != nil {
		slog.Warn("trade-in request failed", "component", "executor", "row", row, "qty", qty, "err", err)
		return SaleResult{Outcome: Failure, Reason: err.Error()}
	}
	if reason := ShopFailure(body); reason != "" {
		e.dumps.Dump(postmortem.KindBuy, body)
		return SaleResult{Outcome: Failure, Reason: reason}
	}
	return SaleResult{Outcome: Success}
}
