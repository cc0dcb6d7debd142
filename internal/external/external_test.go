package external_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjannette/tulipbot/internal/external"
)

type fakeGame struct {
	logins      atomic.Int32
	expireOnce  atomic.Bool
	lastForm    atomic.Value
	lastChatArg atomic.Value
}

func (g *fakeGame) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			r.ParseForm()
			if r.PostForm.Get("loginname") == "tulipbot" && r.PostForm.Get("password") == "hunter2" {
				g.logins.Add(1)
				http.Redirect(w, r, "/main.php", http.StatusFound)
				return
			}
		}
		w.Write([]byte("<html>login</html>"))
	})
	mux.HandleFunc("/main.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("main"))
	})
	mux.HandleFunc("/api.php", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("what") {
		case "status":
			w.Write([]byte(`{"pwd":"abc123","playerid":"3580284"}`))
		case "inventory":
			w.Write([]byte(`{"8670":"5","8669":2,"7567":"120","notanumber":"x"}`))
		case "kmail":
			w.Write([]byte(`[{"id":"77","fromid":"1234","fromname":"alice","message":"hi","azunixtime":"1700000000"}]`))
		}
	})
	mux.HandleFunc("/shop.php", func(w http.ResponseWriter, r *http.Request) {
		if g.expireOnce.CompareAndSwap(true, false) {
			http.Redirect(w, r, "/login.php", http.StatusFound)
			return
		}
		if r.URL.Query().Get("pwd") != "abc123" {
			t.Errorf("shop request missing pwd hash: %s", r.URL.RawQuery)
		}
		w.Write([]byte("shop page"))
	})
	mux.HandleFunc("/sendmessage.php", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		g.lastForm.Store(r.PostForm)
		if r.PostForm.Get("towho") == "999" {
			w.Write([]byte("That player cannot receive Kmail."))
			return
		}
		w.Write([]byte("<center>Message sent.</center>"))
	})
	mux.HandleFunc("/town_sendgift.php", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		g.lastForm.Store(r.PostForm)
		w.Write([]byte("Package sent."))
	})
	mux.HandleFunc("/newchatmessages.php", func(w http.ResponseWriter, r *http.Request) {
		g.lastChatArg.Store(r.URL.Query().Get("lasttime"))
		w.Write([]byte(`{"last":"1700000123","msgs":[
			{"type":"public","msg":"hello all","who":{"id":"1","name":"x"}},
			{"type":"private","msg":"sell @ 20","who":{"id":"1234","name":"alice"}}
		]}`))
	})
	mux.HandleFunc("/account.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<form><textarea name=\"quote\">line one\nline two</textarea></form>"))
	})
	mux.HandleFunc("/maint.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("rollover"))
	})
	mux.HandleFunc("/rollover.php", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/maint.php", http.StatusFound)
	})
	return mux
}

func newClient(t *testing.T) (*external.KoLClient, *fakeGame) {
	t.Helper()
	game := &fakeGame{}
	srv := httptest.NewServer(game.handler(t))
	t.Cleanup(srv.Close)

	c := external.NewKoLClient(srv.URL, "tulipbot", "hunter2", "tulipbot")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.LogIn(ctx); err != nil {
		t.Fatalf("LogIn: %v", err)
	}
	return c, game
}

func TestLogIn(t *testing.T) {
	c, game := newClient(t)
	if c.PlayerID() != 3580284 {
		t.Fatalf("player id: got %d", c.PlayerID())
	}
	if game.logins.Load() != 1 {
		t.Fatalf("expected one login, got %d", game.logins.Load())
	}
}

func TestLogIn_BadPassword(t *testing.T) {
	game := &fakeGame{}
	srv := httptest.NewServer(game.handler(t))
	defer srv.Close()

	c := external.NewKoLClient(srv.URL, "tulipbot", "wrong", "tulipbot")
	if err := c.LogIn(context.Background()); err == nil {
		t.Fatal("expected rejected login")
	}
}

func TestVisitURL_BeforeLogin(t *testing.T) {
	c := external.NewKoLClient("http://127.0.0.1:1", "u", "p", "tulipbot")
	if _, err := c.VisitURL(context.Background(), "shop.php", nil); !errors.Is(err, external.ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
}

func TestVisitURL_RenewsExpiredSession(t *testing.T) {
	c, game := newClient(t)
	game.expireOnce.Store(true)

	body, err := c.VisitURL(context.Background(), "shop.php", map[string]string{"whichshop": "flowertradein"})
	if err != nil {
		t.Fatalf("VisitURL: %v", err)
	}
	if body != "shop page" {
		t.Fatalf("unexpected body %q", body)
	}
	if game.logins.Load() != 2 {
		t.Fatalf("expected a second login, got %d", game.logins.Load())
	}
}

func TestVisitURL_Rollover(t *testing.T) {
	c, _ := newClient(t)
	if _, err := c.VisitURL(context.Background(), "rollover.php", nil); !errors.Is(err, external.ErrRollover) {
		t.Fatalf("expected ErrRollover, got %v", err)
	}
}

func TestInventory(t *testing.T) {
	c, _ := newClient(t)
	inv, err := c.Inventory(context.Background())
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	if inv[8670] != 5 || inv[8669] != 2 || inv[7567] != 120 {
		t.Fatalf("unexpected inventory: %v", inv)
	}
	if inv[8671] != 0 {
		t.Fatal("absent item should read as zero")
	}
}

func TestSendKmail(t *testing.T) {
	c, game := newClient(t)
	if err := c.SendKmail(context.Background(), 1234, "Congratulations"); err != nil {
		t.Fatalf("SendKmail: %v", err)
	}
	form := game.lastForm.Load().(url.Values)
	if form["towho"][0] != "1234" || form["message"][0] != "Congratulations" || form["pwd"][0] != "abc123" {
		t.Fatalf("unexpected form: %v", form)
	}

	if err := c.SendKmail(context.Background(), 999, "nope"); err == nil {
		t.Fatal("expected rejected kmail to error")
	}
}

func TestSendGift(t *testing.T) {
	c, game := newClient(t)
	err := c.SendGift(context.Background(), external.Gift{
		To:    1234,
		Note:  "your tulips",
		Items: []external.GiftItem{{ItemID: 8670, Quantity: 3}, {ItemID: 8669, Quantity: 0}, {ItemID: 8671, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("SendGift: %v", err)
	}
	form := game.lastForm.Load().(url.Values)
	if form["whichitem1"][0] != "8670" || form["howmany2"][0] != "2" || form["whichitem2"][0] != "8671" {
		t.Fatalf("zero-quantity items must be skipped: %v", form)
	}
	if _, ok := form["whichitem3"]; ok {
		t.Fatal("unexpected third attachment")
	}
}

func TestPollKmails(t *testing.T) {
	c, _ := newClient(t)
	mails, err := c.PollKmails(context.Background())
	if err != nil {
		t.Fatalf("PollKmails: %v", err)
	}
	if len(mails) != 1 || mails[0].ID != 77 || mails[0].FromID != 1234 || mails[0].FromName != "alice" {
		t.Fatalf("unexpected kmails: %+v", mails)
	}
}

func TestPollWhispers(t *testing.T) {
	c, game := newClient(t)
	msgs, err := c.PollWhispers(context.Background())
	if err != nil {
		t.Fatalf("PollWhispers: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "sell @ 20" || msgs[0].FromID != 1234 {
		t.Fatalf("only the private message should be returned: %+v", msgs)
	}
	if game.lastChatArg.Load() != "0" {
		t.Fatalf("first poll should start at 0, got %v", game.lastChatArg.Load())
	}

	if _, err := c.PollWhispers(context.Background()); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if game.lastChatArg.Load() != "1700000123" {
		t.Fatalf("second poll should resume from last, got %v", game.lastChatArg.Load())
	}
}

func TestProfileQuote(t *testing.T) {
	c, _ := newClient(t)
	q, err := c.ProfileQuote(context.Background())
	if err != nil {
		t.Fatalf("ProfileQuote: %v", err)
	}
	if !strings.Contains(q, "line two") {
		t.Fatalf("multi-line quote not captured: %q", q)
	}
}
