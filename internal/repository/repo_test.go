package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kjannette/tulipbot/internal/models"
	"github.com/kjannette/tulipbot/internal/repository"
	"github.com/kjannette/tulipbot/internal/testutil"
)

// ---------- SQLite ----------

func TestSQLiteLedger(t *testing.T) {
	conn := testutil.SetupSQLite(t)
	runLedgerSuite(t, repository.NewSQLiteLedger(conn))
}

func TestSQLitePriceHistory(t *testing.T) {
	conn := testutil.SetupSQLite(t)
	runPriceHistorySuite(t, repository.NewSQLitePriceHistory(conn))
}

// ---------- PostgreSQL ----------

func TestPGLedger(t *testing.T) {
	pool := testutil.SetupPool(t)
	runLedgerSuite(t, repository.NewPGLedger(pool))
}

func TestPGPriceHistory(t *testing.T) {
	pool := testutil.SetupPool(t)
	runPriceHistorySuite(t, repository.NewPGPriceHistory(pool))
}

// ---------- Redis cache ----------

func TestCachedPriceHistory(t *testing.T) {
	rdb := testutil.SetupRedis(t)
	conn := testutil.SetupSQLite(t)
	cached := repository.NewCachedPriceHistory(repository.NewSQLitePriceHistory(conn), rdb, time.Minute)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)
	if _, err := cached.Append(ctx, models.Prices{Red: 20, White: 21, Blue: 22}, base); err != nil {
		t.Fatalf("Append: %v", err)
	}

	first, err := cached.List(ctx, repository.OrderAsc, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(first))
	}

	// Served from cache: same result without touching the primary.
	again, err := cached.List(ctx, repository.OrderAsc, 0)
	if err != nil || len(again) != 1 {
		t.Fatalf("cached List: %v (%d rows)", err, len(again))
	}

	// Append must invalidate the listing.
	if _, err := cached.Append(ctx, models.Prices{Red: 25, White: 21, Blue: 22}, base.Add(time.Minute)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	after, err := cached.List(ctx, repository.OrderAsc, 0)
	if err != nil {
		t.Fatalf("List after append: %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("stale cache: expected 2 samples, got %d", len(after))
	}
}

// ---------- shared suites ----------

func runLedgerSuite(t *testing.T, ledger repository.Ledger) {
	ctx := context.Background()

	// Unknown player
	p, err := ledger.GetPlayer(ctx, 1)
	if err != nil {
		t.Fatalf("GetPlayer: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil for unknown player, got %+v", p)
	}

	// First deposit creates the row with the default sell price
	p, err = ledger.Deposit(ctx, models.Deposit{PlayerID: 1, PlayerName: "alice", Red: 25, White: 3, Blue: 10}, 28)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if p.SellAt != 28 || p.Red != 25 || p.White != 3 || p.Blue != 10 || p.Chroner != 0 {
		t.Fatalf("unexpected new player: %+v", p)
	}

	// Second deposit increments
	p, err = ledger.Deposit(ctx, models.Deposit{PlayerID: 1, PlayerName: "alice", Red: 1, Chroner: 4}, 28)
	if err != nil {
		t.Fatalf("Deposit again: %v", err)
	}
	if p.Red != 26 || p.Chroner != 4 {
		t.Fatalf("deposit did not accumulate: %+v", p)
	}
	t.Logf("Player after deposits: %+v", *p)

	// Sell price
	if err := ledger.SetSellAt(ctx, 1, 20); err != nil {
		t.Fatalf("SetSellAt: %v", err)
	}
	if err := ledger.SetSellAt(ctx, 99, 20); !errors.Is(err, repository.ErrPlayerNotFound) {
		t.Fatalf("SetSellAt unknown: expected ErrPlayerNotFound, got %v", err)
	}

	if _, err := ledger.Deposit(ctx, models.Deposit{PlayerID: 2, PlayerName: "bob", Red: 5}, 28); err != nil {
		t.Fatalf("Deposit bob: %v", err)
	}

	// Eligible: alice at 20 qualifies at red=25, bob at 28 does not
	eligible, err := ledger.Eligible(ctx, models.Prices{Red: 25, White: 3, Blue: 10})
	if err != nil {
		t.Fatalf("Eligible: %v", err)
	}
	if len(eligible) != 1 || eligible[0].ID != 1 {
		t.Fatalf("expected only alice eligible, got %+v", eligible)
	}

	// Unknown prices select nobody
	eligible, err = ledger.Eligible(ctx, models.UnknownPrices())
	if err != nil {
		t.Fatalf("Eligible unknown: %v", err)
	}
	if len(eligible) != 0 {
		t.Fatalf("sentinel prices must not qualify anyone, got %+v", eligible)
	}

	// Settle
	bal, err := ledger.Settle(ctx, 1, models.Red, 26, 26*25)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if bal != 4+26*25 {
		t.Fatalf("balance: got %d want %d", bal, 4+26*25)
	}
	p, _ = ledger.GetPlayer(ctx, 1)
	if p.Red != 0 || p.White != 3 || p.Blue != 10 {
		t.Fatalf("only red should be cleared: %+v", p)
	}

	// Settling more than is held is rejected untouched
	if _, err := ledger.Settle(ctx, 1, models.White, 4, 4); !errors.Is(err, repository.ErrHoldingMismatch) {
		t.Fatalf("over-settle: expected ErrHoldingMismatch, got %v", err)
	}
	if _, err := ledger.Settle(ctx, 1, models.Variant(9), 1, 1); !errors.Is(err, models.ErrInvalidVariant) {
		t.Fatalf("bad variant: expected ErrInvalidVariant, got %v", err)
	}
	if _, err := ledger.Settle(ctx, 42, models.Red, 1, 1); !errors.Is(err, repository.ErrPlayerNotFound) {
		t.Fatalf("unknown player: expected ErrPlayerNotFound, got %v", err)
	}
	p, _ = ledger.GetPlayer(ctx, 1)
	if p.White != 3 || p.Chroner != 654 {
		t.Fatalf("rejected settles changed state: %+v", p)
	}

	// Spend / Credit
	if _, err := ledger.Spend(ctx, 1, 10_000); !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("overspend: expected ErrInsufficientBalance, got %v", err)
	}
	bal, err = ledger.Spend(ctx, 1, 54)
	if err != nil || bal != 600 {
		t.Fatalf("Spend: bal=%d err=%v", bal, err)
	}
	bal, err = ledger.Credit(ctx, 1, 54)
	if err != nil || bal != 654 {
		t.Fatalf("Credit: bal=%d err=%v", bal, err)
	}
	if _, err := ledger.Credit(ctx, 77, 1); !errors.Is(err, repository.ErrPlayerNotFound) {
		t.Fatalf("credit unknown: expected ErrPlayerNotFound, got %v", err)
	}

	// Withdraw
	if err := ledger.WithdrawTulips(ctx, 1, 0, 4, 0); !errors.Is(err, repository.ErrInsufficientHoldings) {
		t.Fatalf("over-withdraw: expected ErrInsufficientHoldings, got %v", err)
	}
	if err := ledger.WithdrawTulips(ctx, 1, 0, 3, 10); err != nil {
		t.Fatalf("WithdrawTulips: %v", err)
	}
	p, _ = ledger.GetPlayer(ctx, 1)
	if p.HasTulips() {
		t.Fatalf("withdraw left tulips: %+v", p)
	}

	// Holders and totals
	holders, err := ledger.Holders(ctx)
	if err != nil {
		t.Fatalf("Holders: %v", err)
	}
	if len(holders) != 2 {
		t.Fatalf("expected 2 holders, got %d", len(holders))
	}
	totals, err := ledger.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals.Red != 5 || totals.White != 0 || totals.Blue != 0 || totals.Chroner != 654 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	t.Logf("Totals: %+v", totals)

	runConcurrentDepositAndSettle(t, ledger)
}

// A deposit racing a settlement must survive it: settlement removes only
// what it sold.
func runConcurrentDepositAndSettle(t *testing.T, ledger repository.Ledger) {
	ctx := context.Background()
	const id = 500
	if _, err := ledger.Deposit(ctx, models.Deposit{PlayerID: id, PlayerName: "racer", Blue: 100}, 10); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 51)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := ledger.Settle(ctx, id, models.Blue, 100, 100*12)
		errs <- err
	}()
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Deposit(ctx, models.Deposit{PlayerID: id, PlayerName: "racer", Blue: 1}, 10)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent op: %v", err)
		}
	}

	p, err := ledger.GetPlayer(ctx, id)
	if err != nil {
		t.Fatalf("GetPlayer: %v", err)
	}
	if p.Blue != 50 || p.Chroner != 1200 {
		t.Fatalf("lost update: expected blue=50 chroner=1200, got %+v", p)
	}
}

func runPriceHistorySuite(t *testing.T, history repository.PriceHistory) {
	ctx := context.Background()

	latest, err := history.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest on empty: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected no samples, got %+v", latest)
	}

	base := time.UnixMilli(1_700_000_000_000)
	for i, p := range []models.Prices{
		{Red: 20, White: 21, Blue: 22},
		{Red: 25, White: 21, Blue: 22},
		{Red: 25, White: 28, Blue: 19},
	} {
		s, err := history.Append(ctx, p, base.Add(time.Duration(i)*15*time.Minute))
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if s.ID == 0 {
			t.Fatal("expected non-zero ID")
		}
	}

	latest, err = history.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.White != 28 || !latest.Time.Equal(base.Add(30*time.Minute)) {
		t.Fatalf("unexpected latest: %+v", latest)
	}

	asc, err := history.List(ctx, repository.OrderAsc, 0)
	if err != nil {
		t.Fatalf("List asc: %v", err)
	}
	if len(asc) != 3 || asc[0].Red != 20 || asc[2].Blue != 19 {
		t.Fatalf("unexpected ascending list: %+v", asc)
	}

	desc, err := history.List(ctx, repository.OrderDesc, 2)
	if err != nil {
		t.Fatalf("List desc: %v", err)
	}
	if len(desc) != 2 || desc[0].White != 28 || desc[1].Red != 25 {
		t.Fatalf("unexpected descending list: %+v", desc)
	}
}

func TestParseOrder(t *testing.T) {
	cases := map[string]repository.Order{
		"asc":  repository.OrderAsc,
		"DESC": repository.OrderDesc,
		"desc": repository.OrderDesc,
		"":     repository.OrderAsc,
		"; DROP TABLE prices": repository.OrderAsc,
	}
	for in, want := range cases {
		if got := repository.ParseOrder(in); got != want {
			t.Fatalf("ParseOrder(%q) = %s, want %s", in, got, want)
		}
	}
}
