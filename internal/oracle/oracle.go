package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/kjannette/tulipbot/internal/metrics"
	"github.com/kjannette/tulipbot/internal/models"
	"github.com/kjannette/tulipbot/internal/postmortem"
	"github.com/kjannette/tulipbot/internal/repository"
)

// ErrUnusablePage means the shop page did not list a price for every variant.
var ErrUnusablePage = errors.New("price page did not list every tulip")

// PageFetcher loads a game page.
type PageFetcher interface {
	VisitURL(ctx context.Context, path string, params map[string]string) (string, error)
}

var tulipPrice = regexp.MustCompile(`<b>Chroner</b>&nbsp;<b>\((\d+)\)</b>.*?alt="(.*?) tulip"`)

// ParsePrices extracts one price per variant from the flower trade-in page.
// ok is false unless every variant was found.
func ParsePrices(page string) (models.Prices, bool) {
	prices := models.UnknownPrices()
	for _, m := range tulipPrice.FindAllStringSubmatch(page, -1) {
		v, err := models.ParseVariant(m[2])
		if err != nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		prices.Set(v, n)
	}
	return prices, prices.Known()
}

type Oracle struct {
	cache    *Cache
	fetcher  PageFetcher
	history  repository.PriceHistory
	schedule Schedule
	dumps    *postmortem.Writer
	now      func() time.Time

	refreshMu sync.Mutex

	subsMu      sync.RWMutex
	subscribers []func(models.PriceSample)
}

func New(cache *Cache, fetcher PageFetcher, history repository.PriceHistory, schedule Schedule, dumps *postmortem.Writer) *Oracle {
	return &Oracle{
		cache:    cache,
		fetcher:  fetcher,
		history:  history,
		schedule: schedule,
		dumps:    dumps,
		now:      time.Now,
	}
}

// Subscribe registers fn to receive every newly recorded price sample.
func (o *Oracle) Subscribe(fn func(models.PriceSample)) {
	o.subsMu.Lock()
	o.subscribers = append(o.subscribers, fn)
	o.subsMu.Unlock()
}

// CurrentPrices returns the cached prices without any I/O.
func (o *Oracle) CurrentPrices() models.Prices {
	return o.cache.Get()
}

// Refresh returns current prices, fetching them only when the cache is
// unknown or a repricing window is open. On any failure the previous cache
// is returned together with the error.
func (o *Oracle) Refresh(ctx context.Context) (models.Prices, error) {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()

	prev := o.cache.Get()
	if prev.Known() && !o.schedule.Due(o.now()) {
		return prev, nil
	}

	page, err := o.fetcher.VisitURL(ctx, "shop.php", map[string]string{"whichshop": "flowertradein"})
	if err != nil {
		metrics.PriceRefreshes.WithLabelValues("fetch_error").Inc()
		return prev, fmt.Errorf("fetch prices: %w", err)
	}

	prices, ok := ParsePrices(page)
	if !ok {
		metrics.PriceRefreshes.WithLabelValues("unparseable").Inc()
		o.dumps.Dump(postmortem.KindPrices, page)
		return prev, ErrUnusablePage
	}
	metrics.PriceRefreshes.WithLabelValues("ok").Inc()

	o.record(ctx, prev, prices)

	o.cache.Set(prices)
	for _, v := range models.Variants {
		metrics.TulipPrice.WithLabelValues(v.String()).Set(float64(prices.Get(v)))
	}
	return prices, nil
}

// record appends a sample when prices moved since the last stored one.
// History failures are logged; the fresh prices are still served.
func (o *Oracle) record(ctx context.Context, prev, prices models.Prices) {
	log := slog.With("component", "oracle")

	latest, err := o.history.Latest(ctx)
	if err != nil {
		log.Error("read latest price sample", "err", err)
		return
	}

	if latest != nil && !latest.DiffersFrom(prices) {
		if !prev.Known() {
			log.Info("restarted and prices are still the same", "prices", prices.String())
		}
		return
	}

	sample, err := o.history.Append(ctx, prices, o.now())
	if err != nil {
		log.Error("append price sample", "err", err)
		return
	}
	log.Info("checked prices", "red", prices.Red, "white", prices.White, "blue", prices.Blue)

	o.subsMu.RLock()
	subs := o.subscribers
	o.subsMu.RUnlock()
	for _, fn := range subs {
		fn(*sample)
	}
}
