package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	ErrNotLoggedIn = errors.New("kol: not logged in")
	ErrRollover    = errors.New("kol: game is in rollover")
)

// KoLClient is a logged-in game session. Safe for concurrent use.
// Requests are never retried automatically; shop actions are not idempotent.
type KoLClient struct {
	username string
	password string
	apiFor   string
	http     *resty.Client

	mu       sync.Mutex
	pwdHash  string
	playerID int64
	lastChat string
}

func NewKoLClient(baseURL, username, password, apiFor string) *KoLClient {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetHeader("User-Agent", "tulipbot/1.0")

	return &KoLClient{
		username: username,
		password: password,
		apiFor:   apiFor,
		http:     client,
	}
}

// PlayerID is the agent's own player id, known after LogIn.
func (c *KoLClient) PlayerID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

func (c *KoLClient) LogIn(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logInLocked(ctx)
}

func (c *KoLClient) logInLocked(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"loggingin":    "Yup.",
			"loginname":    c.username,
			"password":     c.password,
			"secure":       "0",
			"submitbutton": "Log In",
		}).
		Post("/login.php")
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if isRollover(resp) {
		return ErrRollover
	}
	if landedOn(resp, "login.php") {
		return fmt.Errorf("login: rejected for %s", c.username)
	}

	statusResp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"what": "status", "for": c.apiFor}).
		Get("/api.php")
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	var status struct {
		PwdHash  string      `json:"pwd"`
		PlayerID json.Number `json:"playerid"`
	}
	if err := json.Unmarshal(statusResp.Body(), &status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	id, err := status.PlayerID.Int64()
	if err != nil || status.PwdHash == "" {
		return fmt.Errorf("status: missing session fields")
	}

	c.pwdHash = status.PwdHash
	c.playerID = id
	slog.Info("logged in", "component", "kol", "user", c.username, "player_id", id)
	return nil
}

// VisitURL issues a GET for path with params (pwd hash included) and returns
// the body. An expired session is renewed once.
func (c *KoLClient) VisitURL(ctx context.Context, path string, params map[string]string) (string, error) {
	return c.do(ctx, func(pwd string) (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParams(withPwd(params, pwd)).
			Get("/" + strings.TrimLeft(path, "/"))
	})
}

// Post submits form data to path (pwd hash included) and returns the body.
func (c *KoLClient) Post(ctx context.Context, path string, form map[string]string) (string, error) {
	return c.do(ctx, func(pwd string) (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetFormData(withPwd(form, pwd)).
			Post("/" + strings.TrimLeft(path, "/"))
	})
}

func (c *KoLClient) do(ctx context.Context, send func(pwd string) (*resty.Response, error)) (string, error) {
	c.mu.Lock()
	pwd := c.pwdHash
	c.mu.Unlock()
	if pwd == "" {
		return "", ErrNotLoggedIn
	}

	resp, err := send(pwd)
	if err != nil {
		return "", err
	}
	if isRollover(resp) {
		return "", ErrRollover
	}
	if landedOn(resp, "login.php") {
		slog.Warn("session expired, logging in again", "component", "kol")
		c.mu.Lock()
		err := c.logInLocked(ctx)
		pwd = c.pwdHash
		c.mu.Unlock()
		if err != nil {
			return "", err
		}
		if resp, err = send(pwd); err != nil {
			return "", err
		}
		if landedOn(resp, "login.php") {
			return "", ErrNotLoggedIn
		}
	}
	if resp.IsError() {
		return "", fmt.Errorf("kol: status %d", resp.StatusCode())
	}
	return resp.String(), nil
}

// Inventory returns item id → count for the agent account.
func (c *KoLClient) Inventory(ctx context.Context) (map[int]int, error) {
	body, err := c.VisitURL(ctx, "api.php", map[string]string{"what": "inventory", "for": c.apiFor})
	if err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	var raw map[string]any
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode inventory: %w", err)
	}
	out := make(map[int]int, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		var n int
		switch x := v.(type) {
		case json.Number:
			i, err := x.Int64()
			if err != nil {
				continue
			}
			n = int(i)
		case string:
			if n, err = strconv.Atoi(x); err != nil {
				continue
			}
		default:
			continue
		}
		out[id] = n
	}
	return out, nil
}

func (c *KoLClient) SendKmail(ctx context.Context, to int64, text string) error {
	body, err := c.Post(ctx, "sendmessage.php", map[string]string{
		"action":   "send",
		"towho":    strconv.FormatInt(to, 10),
		"message":  text,
		"savecopy": "on",
	})
	if err != nil {
		return fmt.Errorf("kmail %d: %w", to, err)
	}
	if !strings.Contains(body, "Message sent.") {
		return fmt.Errorf("kmail %d: not accepted", to)
	}
	return nil
}

func (c *KoLClient) Whisper(ctx context.Context, to int64, text string) error {
	_, err := c.Post(ctx, "submitnewchat.php", map[string]string{
		"graf": fmt.Sprintf("/msg %d %s", to, text),
		"j":    "1",
	})
	if err != nil {
		return fmt.Errorf("whisper %d: %w", to, err)
	}
	return nil
}

// GiftItem is one attachment of a gift package.
type GiftItem struct {
	ItemID   int
	Quantity int
}

type Gift struct {
	To         int64
	Note       string
	InsideNote string
	Items      []GiftItem
}

func (c *KoLClient) SendGift(ctx context.Context, g Gift) error {
	form := map[string]string{
		"towho":        strconv.FormatInt(g.To, 10),
		"contact":      "0",
		"note":         g.Note,
		"insidenote":   g.InsideNote,
		"whichpackage": "1",
		"fromwhere":    "0",
		"sendmeat":     "0",
		"action":       "Yep.",
	}
	n := 0
	for _, it := range g.Items {
		if it.Quantity <= 0 {
			continue
		}
		n++
		form[fmt.Sprintf("howmany%d", n)] = strconv.Itoa(it.Quantity)
		form[fmt.Sprintf("whichitem%d", n)] = strconv.Itoa(it.ItemID)
	}
	if n == 0 {
		return nil
	}

	body, err := c.Post(ctx, "town_sendgift.php", form)
	if err != nil {
		return fmt.Errorf("gift to %d: %w", g.To, err)
	}
	if !strings.Contains(body, "Package sent.") {
		return fmt.Errorf("gift to %d: not accepted", g.To)
	}
	return nil
}

var quotePattern = regexp.MustCompile(`(?s)<textarea name="quote">(.*?)</textarea>`)

func (c *KoLClient) ProfileQuote(ctx context.Context) (string, error) {
	page, err := c.VisitURL(ctx, "account.php", map[string]string{"action": "loadtab", "value": "profile"})
	if err != nil {
		return "", fmt.Errorf("profile: %w", err)
	}
	m := quotePattern.FindStringSubmatch(page)
	if m == nil {
		return "", nil
	}
	return m[1], nil
}

func (c *KoLClient) SetProfileQuote(ctx context.Context, quote string) error {
	_, err := c.Post(ctx, "account.php", map[string]string{
		"actions[]": "quote",
		"quote":     quote,
		"tab":       "profile",
		"action":    "Save Changes",
	})
	if err != nil {
		return fmt.Errorf("set profile quote: %w", err)
	}
	return nil
}

// Kmail is one message in the agent's inbox.
type Kmail struct {
	ID       int64
	FromID   int64
	FromName string
	Message  string
	Time     time.Time
}

func (c *KoLClient) PollKmails(ctx context.Context) ([]Kmail, error) {
	body, err := c.VisitURL(ctx, "api.php", map[string]string{"what": "kmail", "for": c.apiFor})
	if err != nil {
		return nil, fmt.Errorf("poll kmail: %w", err)
	}
	var raw []struct {
		ID       json.Number `json:"id"`
		FromID   json.Number `json:"fromid"`
		FromName string      `json:"fromname"`
		Message  string      `json:"message"`
		Time     json.Number `json:"azunixtime"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("decode kmail: %w", err)
	}
	out := make([]Kmail, 0, len(raw))
	for _, k := range raw {
		id, _ := k.ID.Int64()
		from, _ := k.FromID.Int64()
		ts, _ := k.Time.Int64()
		out = append(out, Kmail{ID: id, FromID: from, FromName: k.FromName, Message: k.Message, Time: time.Unix(ts, 0)})
	}
	return out, nil
}

func (c *KoLClient) DeleteKmails(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	form := map[string]string{"the_action": "delete", "box": "Inbox"}
	for _, id := range ids {
		form[fmt.Sprintf("sel%d", id)] = "on"
	}
	if _, err := c.Post(ctx, "messages.php", form); err != nil {
		return fmt.Errorf("delete kmail: %w", err)
	}
	return nil
}

// ChatMessage is a private message (whisper) addressed to the agent.
type ChatMessage struct {
	FromID   int64
	FromName string
	Text     string
}

// PollWhispers returns whispers received since the previous poll.
func (c *KoLClient) PollWhispers(ctx context.Context) ([]ChatMessage, error) {
	c.mu.Lock()
	last := c.lastChat
	c.mu.Unlock()
	if last == "" {
		last = "0"
	}

	body, err := c.VisitURL(ctx, "newchatmessages.php", map[string]string{"j": "1", "lasttime": last})
	if err != nil {
		return nil, fmt.Errorf("poll chat: %w", err)
	}
	var raw struct {
		Last json.Number `json:"last"`
		Msgs []struct {
			Type string `json:"type"`
			Msg  string `json:"msg"`
			Who  struct {
				ID   json.Number `json:"id"`
				Name string      `json:"name"`
			} `json:"who"`
		} `json:"msgs"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("decode chat: %w", err)
	}

	if raw.Last != "" {
		c.mu.Lock()
		c.lastChat = raw.Last.String()
		c.mu.Unlock()
	}

	var out []ChatMessage
	for _, m := range raw.Msgs {
		if m.Type != "private" {
			continue
		}
		id, err := m.Who.ID.Int64()
		if err != nil {
			continue
		}
		out = append(out, ChatMessage{FromID: id, FromName: m.Who.Name, Text: m.Msg})
	}
	return out, nil
}

// --- helpers ---

func withPwd(params map[string]string, pwd string) map[string]string {
	out := make(map[string]string, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["pwd"] = pwd
	return out
}

func landedOn(resp *resty.Response, page string) bool {
	if resp == nil || resp.RawResponse == nil || resp.RawResponse.Request == nil {
		return false
	}
	return strings.HasSuffix(resp.RawResponse.Request.URL.Path, page)
}

func isRollover(resp *resty.Response) bool {
	return landedOn(resp, "maint.php")
}
