package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/kjannette/tulipbot/internal/external"
	"github.com/kjannette/tulipbot/internal/models"
	"github.com/kjannette/tulipbot/internal/notifications"
	"github.com/kjannette/tulipbot/internal/postmortem"
	"github.com/kjannette/tulipbot/internal/repository"
	"github.com/kjannette/tulipbot/internal/settlement"
)

// Usage is kmailed on "help" and kept in the agent's profile quote.
const Usage = `Hello! This is tulipbot, a (probably) short-lived bot by gausie. Usage:

balance: See your tulip and Chroner balance.
prices: See current prices.
sell [@ <min>]: Set your minimum tulip sell price to <min>. No <min> will tell you your current sell price.
buy [quantity|*] <item name>: Buy items with your Chroner balance. If no quantity is specified, it'll buy 1.

To add to your balance, send tulips to the bot via Kmail. Do not send in gift packages. Roses can be converted to round your balance.`

const (
	replyNoBalance   = "You don't have a balance here, send me some tulips first"
	replyBlank       = "Don't send me blank messages >:("
	replyUnknown     = "I don't know that command. Whisper me help for usage instructions"
	replyHelp        = "You have been sent a kmail with usage instructions"
	replyNoWithdraw  = "You have nothing to withdraw!"
	replyWithdrawn   = "Your tulips have now been sent back to you. Remember roses cannot be returned as they are immediately turned into Chroner"
	replyBusy        = "Your tulips are being sold right now, try again in a minute"
	replyWithdrawErr = "Sending your tulips failed, they are still in your balance"
	replyParseBuy    = "Cannot parse message"
	replyUnknownItem = "Item not recognized"
	replyBuyFailed   = "Purchase failed, sorry"
	replyBought      = "Your items have been sent via kmail"
	replyUnsent      = "Your items were bought but the package could not be sent. They will be sent manually"
	replyNoDeposit   = "I didn't see any items I look for in your message. If that was a donation, thank you!\n\nIf you sent things in a gift package, they haven't been counted. They'll have to be returned manually, which is not guaranteed. This is annoying - please read the instructions in future."

	packageInsideNote = "Enjoy! 10 meat to cover the package would be appreciated but not required"
)

var sellPattern = regexp.MustCompile(`sell (?:@ ?)?(\d+)\s*$`)

// Ledger is the part of the players table the command layer uses.
type Ledger interface {
	GetPlayer(ctx context.Context, id int64) (*models.Player, error)
	Deposit(ctx context.Context, d models.Deposit, defaultSellAt int) (*models.Player, error)
	SetSellAt(ctx context.Context, id int64, sellAt int) error
	Spend(ctx context.Context, id int64, amount int) (int, error)
	Credit(ctx context.Context, id int64, amount int) (int, error)
	WithdrawTulips(ctx context.Context, id int64, red, white, blue int) error
}

// Game is the part of the game client the command layer uses.
type Game interface {
	VisitURL(ctx context.Context, path string, params map[string]string) (string, error)
	SendKmail(ctx context.Context, to int64, text string) error
	SendGift(ctx context.Context, g external.Gift) error
}

type PriceReader interface {
	Get() models.Prices
}

type RoseTrader interface {
	TradeInRoses(ctx context.Context, roses int) (int, settlement.SaleResult)
}

type Alerter interface {
	Alert(ctx context.Context, level notifications.Level, msg string)
}

type HandlerConfig struct {
	MaxSellAt     int
	DefaultSellAt int
}

// Handler turns player messages into ledger changes and replies.
type Handler struct {
	ledger Ledger
	game   Game
	prices PriceReader
	roses  RoseTrader
	alerts Alerter
	dumps  *postmortem.Writer
	cfg    HandlerConfig
}

func NewHandler(ledger Ledger, game Game, prices PriceReader, roses RoseTrader, alerts Alerter, dumps *postmortem.Writer, cfg HandlerConfig) *Handler {
	if cfg.MaxSellAt <= 0 {
		cfg.MaxSellAt = 28
	}
	if cfg.DefaultSellAt <= 0 {
		cfg.DefaultSellAt = cfg.MaxSellAt
	}
	return &Handler{ledger: ledger, game: game, prices: prices, roses: roses, alerts: alerts, dumps: dumps, cfg: cfg}
}

// Command returns the lowercased first word of a whisper.
func Command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// HandleWhisper runs one whisper command and returns the reply to whisper back.
func (h *Handler) HandleWhisper(ctx context.Context, msg external.ChatMessage) string {
	log := slog.With("component", "commands", "player", msg.FromName, "player_id", msg.FromID)
	log.Info("whisper received", "text", msg.Text)

	cmd := Command(msg.Text)
	if cmd == "" {
		return replyBlank
	}

	if cmd == "help" {
		if err := h.game.SendKmail(ctx, msg.FromID, Usage); err != nil {
			log.Warn("usage kmail failed", "err", err)
		}
		return replyHelp
	}
	if cmd == "prices" {
		p := h.prices.Get()
		return fmt.Sprintf("Current prices are: %d for red, %d for white and %d for blue", p.Red, p.White, p.Blue)
	}

	switch cmd {
	case "balance", "sell", "buy", "withdraw":
	default:
		return replyUnknown
	}

	player, err := h.ledger.GetPlayer(ctx, msg.FromID)
	if err != nil {
		log.Error("player lookup failed", "err", err)
		return "Something went wrong, please try again later"
	}
	if player == nil {
		if cmd == "withdraw" {
			return replyNoWithdraw
		}
		return replyNoBalance
	}

	switch cmd {
	case "balance":
		return fmt.Sprintf("Your balance is %d red tulip(s), %d white tulip(s), %d blue tulip(s), and %d chroner(s)",
			player.Red, player.White, player.Blue, player.Chroner)
	case "sell":
		return h.sell(ctx, log, player, msg.Text)
	case "buy":
		return h.buy(ctx, log, player, msg.Text)
	default:
		return h.withdraw(ctx, log, player)
	}
}

func (h *Handler) sell(ctx context.Context, log *slog.Logger, player *models.Player, text string) string {
	if len(strings.Fields(text)) == 1 {
		return fmt.Sprintf("You are currently selling at %d", player.SellAt)
	}
	m := sellPattern.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return "Cannot understand sell command."
	}
	sellAt, err := strconv.Atoi(m[1])
	if err != nil {
		return "Cannot understand sell command."
	}
	if sellAt > h.cfg.MaxSellAt {
		return fmt.Sprintf("This script author doesn't believe they sell at higher than %d", h.cfg.MaxSellAt)
	}
	if err := h.ledger.SetSellAt(ctx, player.ID, sellAt); err != nil {
		log.Error("set sell price failed", "err", err)
		return "Something went wrong, please try again later"
	}
	log.Info("sell price changed", "from", player.SellAt, "to", sellAt)
	return fmt.Sprintf("Now selling tulips at %d chroner", sellAt)
}

// ParseBuy splits "buy [qty|*] <item>" into a quantity and an item name.
// A quantity of -1 means as many as affordable; 0 means unparseable.
func ParseBuy(text string) (int, string) {
	parts := strings.Fields(text)
	if len(parts) < 2 || !strings.EqualFold(parts[0], "buy") {
		return 0, ""
	}
	if parts[1] == "*" {
		return -1, strings.Join(parts[2:], " ")
	}
	qty, err := strconv.Atoi(parts[1])
	if err != nil {
		return 1, strings.Join(parts[1:], " ")
	}
	if qty <= 0 {
		return 0, ""
	}
	return qty, strings.Join(parts[2:], " ")
}

func (h *Handler) buy(ctx context.Context, log *slog.Logger, player *models.Player, text string) string {
	qty, name := ParseBuy(text)
	if qty == 0 {
		return replyParseBuy
	}
	item, ok := FindItem(name)
	if !ok {
		return replyUnknownItem
	}

	affordable := player.Chroner / item.Cost
	if qty == -1 {
		qty = affordable
	}
	if qty == 0 || affordable < qty {
		return cantAfford(affordable)
	}

	cost := qty * item.Cost
	balance, err := h.ledger.Spend(ctx, player.ID, cost)
	if errors.Is(err, repository.ErrInsufficientBalance) {
		return cantAfford(0)
	}
	if err != nil {
		log.Error("reserve chroner failed", "err", err)
		return replyBuyFailed
	}

	body, err := h.game.VisitURL(ctx, "shop.php", map[string]string{
		"whichshop": item.Shop,
		"action":    "buyitem",
		"whichrow":  strconv.Itoa(item.Row),
		"quantity":  strconv.Itoa(qty),
	})
	if err == nil {
		if reason := settlement.ShopFailure(body); reason != "" {
			h.dumps.Dump(postmortem.KindBuy, body)
			err = errors.New(reason)
		}
	}
	if err != nil {
		log.Warn("purchase failed", "item", item.Name, "qty", qty, "err", err)
		if _, rerr := h.ledger.Credit(context.WithoutCancel(ctx), player.ID, cost); rerr != nil {
			h.alerts.Alert(ctx, notifications.Warning,
				fmt.Sprintf("REFUND OF %d CHRONER TO %s (%d) FAILED: %v", cost, player.Name, player.ID, rerr))
		}
		return replyBuyFailed
	}
	log.Info("purchase succeeded", "item", item.Name, "qty", qty, "balance", balance)

	err = h.game.SendGift(ctx, external.Gift{
		To:         player.ID,
		Note:       fmt.Sprintf("Please find attached %s x %d. Your remaining balance is %d chroner.", item.Name, qty, balance),
		InsideNote: packageInsideNote,
		Items:      []external.GiftItem{{ItemID: item.ID, Quantity: qty}},
	})
	if err != nil {
		h.alerts.Alert(ctx, notifications.Warning,
			fmt.Sprintf("UNSENT PURCHASE: %s x %d for %s (%d): %v", item.Name, qty, player.Name, player.ID, err))
		return replyUnsent
	}
	return replyBought
}

func cantAfford(n int) string {
	if n == 0 {
		return "You can't afford that many. In fact, you can't afford any!"
	}
	return fmt.Sprintf("You can't afford that many. In fact, you can only afford %d.", n)
}

func (h *Handler) withdraw(ctx context.Context, log *slog.Logger, player *models.Player) string {
	if !player.HasTulips() {
		return replyNoWithdraw
	}
	err := h.ledger.WithdrawTulips(ctx, player.ID, player.Red, player.White, player.Blue)
	if errors.Is(err, repository.ErrInsufficientHoldings) {
		return replyBusy
	}
	if err != nil {
		log.Error("withdraw failed", "err", err)
		return replyWithdrawErr
	}

	var items []external.GiftItem
	for _, v := range models.Variants {
		items = append(items, external.GiftItem{ItemID: v.ItemID(), Quantity: player.Holding(v)})
	}
	err = h.game.SendGift(ctx, external.Gift{
		To:         player.ID,
		Note:       "Please find attached your tulips",
		InsideNote: packageInsideNote,
		Items:      items,
	})
	if err != nil {
		log.Warn("withdraw gift failed, restoring holdings", "err", err)
		_, derr := h.ledger.Deposit(context.WithoutCancel(ctx), models.Deposit{
			PlayerID:   player.ID,
			PlayerName: player.Name,
			Red:        player.Red,
			White:      player.White,
			Blue:       player.Blue,
		}, h.cfg.DefaultSellAt)
		if derr != nil {
			h.alerts.Alert(ctx, notifications.Warning,
				fmt.Sprintf("LOST WITHDRAWAL for %s (%d): %d red, %d white, %d blue: %v",
					player.Name, player.ID, player.Red, player.White, player.Blue, derr))
		}
		return replyWithdrawErr
	}
	log.Info("tulips withdrawn", "red", player.Red, "white", player.White, "blue", player.Blue)
	return replyWithdrawn
}
