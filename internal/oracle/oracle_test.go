package oracle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kjannette/tulipbot/internal/models"
	"github.com/kjannette/tulipbot/internal/postmortem"
	"github.com/kjannette/tulipbot/internal/repository"
)

// ---------- fakes ----------

type fakeFetcher struct {
	mu    sync.Mutex
	page  string
	err   error
	calls int
}

func (f *fakeFetcher) VisitURL(ctx context.Context, path string, params map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if path != "shop.php" || params["whichshop"] != "flowertradein" {
		return "", fmt.Errorf("unexpected page %s %v", path, params)
	}
	return f.page, f.err
}

type memHistory struct {
	samples []models.PriceSample
}

func (m *memHistory) Append(ctx context.Context, p models.Prices, at time.Time) (*models.PriceSample, error) {
	s := models.PriceSample{ID: int64(len(m.samples) + 1), Red: p.Red, White: p.White, Blue: p.Blue, Time: at}
	m.samples = append(m.samples, s)
	return &s, nil
}

func (m *memHistory) Latest(ctx context.Context) (*models.PriceSample, error) {
	if len(m.samples) == 0 {
		return nil, nil
	}
	s := m.samples[len(m.samples)-1]
	return &s, nil
}

func (m *memHistory) List(ctx context.Context, order repository.Order, limit int) ([]models.PriceSample, error) {
	return m.samples, nil
}

func shopPage(p models.Prices) string {
	var b strings.Builder
	b.WriteString("<table>\n")
	for _, v := range models.Variants {
		if p.Get(v) < 0 {
			continue
		}
		fmt.Fprintf(&b, `<tr rel="%d"><td><b>Chroner</b>&nbsp;<b>(%d)</b></td><td><img src="/itemimages/tulip.gif" alt="%s tulip"></td></tr>`+"\n",
			v.ShopRow(), p.Get(v), v)
	}
	b.WriteString("</table>")
	return b.String()
}

// 12:05 UTC is outside both default windows.
var quietTime = time.Date(2026, 4, 1, 12, 5, 30, 0, time.UTC)

func newOracle(t *testing.T, fetcher *fakeFetcher, history *memHistory, at time.Time) (*Oracle, string) {
	t.Helper()
	dir := t.TempDir()
	o := New(NewCache(), fetcher, history, DefaultSchedule(), postmortem.NewWriter(dir))
	o.now = func() time.Time { return at }
	return o, dir
}

// ---------- tests ----------

func TestSchedule_Due(t *testing.T) {
	s := DefaultSchedule()
	due := []int{1, 16, 31, 46}
	notDue := []int{0, 2, 15, 17, 30, 45, 59}

	for _, m := range due {
		at := time.Date(2026, 4, 1, 9, m, 20, 0, time.UTC)
		if !s.Due(at) {
			t.Fatalf("minute %d should be due", m)
		}
	}
	for _, m := range notDue {
		at := time.Date(2026, 4, 1, 9, m, 20, 0, time.UTC)
		if s.Due(at) {
			t.Fatalf("minute %d should not be due", m)
		}
	}

	custom := Schedule{Period: 20 * time.Minute, Offsets: []time.Duration{3 * time.Minute}, Window: 2 * time.Minute}
	if !custom.Due(time.Date(2026, 4, 1, 9, 44, 0, 0, time.UTC)) {
		t.Fatal("custom schedule: 09:44 is minute 4 of its period and should be due")
	}
}

func TestParsePrices(t *testing.T) {
	want := models.Prices{Red: 25, White: 3, Blue: 10}
	got, ok := ParsePrices(shopPage(want))
	if !ok || got != want {
		t.Fatalf("ParsePrices = %+v, %v", got, ok)
	}

	partial, ok := ParsePrices(shopPage(models.Prices{Red: 25, White: 3, Blue: models.UnknownPrice}))
	if ok {
		t.Fatalf("a page missing blue must be unusable, got %+v", partial)
	}
}

func TestRefresh_FirstRunFetchesAndRecords(t *testing.T) {
	want := models.Prices{Red: 25, White: 3, Blue: 10}
	fetcher := &fakeFetcher{page: shopPage(want)}
	history := &memHistory{}
	o, _ := newOracle(t, fetcher, history, quietTime)

	var published []models.PriceSample
	o.Subscribe(func(s models.PriceSample) { published = append(published, s) })

	got, err := o.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got != want || o.CurrentPrices() != want {
		t.Fatalf("cache not updated: got %+v", got)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected one fetch, got %d", fetcher.calls)
	}
	if len(history.samples) != 1 || !history.samples[0].Time.Equal(quietTime) {
		t.Fatalf("expected one sample at the fetch time, got %+v", history.samples)
	}
	if len(published) != 1 {
		t.Fatalf("expected subscriber notified once, got %d", len(published))
	}
}

func TestRefresh_NoOpOutsideWindow(t *testing.T) {
	fetcher := &fakeFetcher{page: shopPage(models.Prices{Red: 25, White: 3, Blue: 10})}
	history := &memHistory{}
	o, _ := newOracle(t, fetcher, history, quietTime)

	if _, err := o.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}

	fetcher.page = shopPage(models.Prices{Red: 1, White: 1, Blue: 1})
	got, err := o.Refresh(context.Background())
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("known cache outside the window must not fetch, got %d fetches", fetcher.calls)
	}
	if got.Red != 25 || len(history.samples) != 1 {
		t.Fatalf("state changed outside window: %+v, %d samples", got, len(history.samples))
	}
}

func TestRefresh_InWindow(t *testing.T) {
	history := &memHistory{}
	same := models.Prices{Red: 25, White: 3, Blue: 10}
	history.Append(context.Background(), same, quietTime.Add(-time.Hour))

	fetcher := &fakeFetcher{page: shopPage(same)}
	o, _ := newOracle(t, fetcher, history, quietTime)
	if _, err := o.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(history.samples) != 1 {
		t.Fatalf("restart with unchanged prices must not append, got %d samples", len(history.samples))
	}

	// Inside the minute-16 window, one variant moved.
	o.now = func() time.Time { return time.Date(2026, 4, 1, 12, 16, 10, 0, time.UTC) }
	fetcher.page = shopPage(models.Prices{Red: 25, White: 4, Blue: 10})
	got, err := o.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh in window: %v", err)
	}
	if got.White != 4 || fetcher.calls != 2 {
		t.Fatalf("window refresh did not fetch: %+v (%d calls)", got, fetcher.calls)
	}
	if len(history.samples) != 2 {
		t.Fatalf("a single changed variant must append, got %d samples", len(history.samples))
	}
}

func TestRefresh_UnusablePageKeepsCache(t *testing.T) {
	page := "<html>The shop is closed</html>"
	fetcher := &fakeFetcher{page: page}
	history := &memHistory{}
	o, dir := newOracle(t, fetcher, history, quietTime)

	got, err := o.Refresh(context.Background())
	if !errors.Is(err, ErrUnusablePage) {
		t.Fatalf("expected ErrUnusablePage, got %v", err)
	}
	if got != models.UnknownPrices() || o.CurrentPrices().Known() {
		t.Fatalf("cache must stay at the sentinel, got %+v", got)
	}
	if len(history.samples) != 0 {
		t.Fatal("nothing should be recorded for an unusable page")
	}

	dumps, _ := filepath.Glob(filepath.Join(dir, "PRICES_ERROR_*.html"))
	if len(dumps) != 1 {
		t.Fatalf("expected one postmortem dump, got %v", dumps)
	}
	data, _ := os.ReadFile(dumps[0])
	if string(data) != page {
		t.Fatalf("dump should hold the raw page, got %q", data)
	}
}

func TestRefresh_FetchErrorReturnsPrevious(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection reset")}
	o, _ := newOracle(t, fetcher, &memHistory{}, quietTime)

	got, err := o.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if got.Known() {
		t.Fatalf("expected sentinel prices, got %+v", got)
	}
}
