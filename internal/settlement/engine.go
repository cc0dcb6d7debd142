package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kjannette/tulipbot/internal/metrics"
	"github.com/kjannette/tulipbot/internal/models"
)

var (
	ErrCycleInProgress = errors.New("settlement cycle already running")
	ErrInvalidVariant  = models.ErrInvalidVariant
)

// PriceSource refreshes and returns current prices. On error it still
// returns the best prices it has.
type PriceSource interface {
	Refresh(ctx context.Context) (models.Prices, error)
}

type SaleExecutor interface {
	ExecuteSale(ctx context.Context, v models.Variant, qty int) SaleResult
}

type FailedEntry struct {
	Entry  PlanEntry
	Reason string
}

type CycleReport struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Prices    models.Prices
	Planned   []PlanEntry
	Succeeded []PlanEntry
	Failed    []FailedEntry
	// Unsettled entries were sold but could not be credited.
	Unsettled []FailedEntry
	Credited  int
}

// Engine runs one price → plan → execute → settle cycle at a time.
type Engine struct {
	prices   PriceSource
	ledger   Ledger
	executor SaleExecutor
	settler  *Settler
	now      func() time.Time

	running sync.Mutex
}

func NewEngine(prices PriceSource, ledger Ledger, executor SaleExecutor, settler *Settler) *Engine {
	return &Engine{
		prices:   prices,
		ledger:   ledger,
		executor: executor,
		settler:  settler,
		now:      time.Now,
	}
}

// RunCycle returns ErrCycleInProgress without doing anything if another
// cycle has not finished.
func (e *Engine) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !e.running.TryLock() {
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		return nil, ErrCycleInProgress
	}
	defer e.running.Unlock()

	start := e.now()
	report := &CycleReport{ID: uuid.NewString(), StartedAt: start}
	log := slog.With("component", "engine", "cycle", report.ID)
	defer func() {
		report.Duration = e.now().Sub(start)
		metrics.CycleDuration.Observe(report.Duration.Seconds())
	}()

	prices, err := e.prices.Refresh(ctx)
	if err != nil {
		log.Warn("price refresh failed, using cached prices", "err", err)
	}
	report.Prices = prices

	plan, err := BuildPlan(ctx, e.ledger, prices)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("failed").Inc()
		return report, fmt.Errorf("build plan: %w", err)
	}
	report.Planned = plan

	for _, entry := range plan {
		if ctx.Err() != nil {
			report.Failed = append(report.Failed, FailedEntry{Entry: entry, Reason: "cycle cancelled"})
			continue
		}
		log.Info("selling",
			"player", entry.PlayerName, "variant", entry.Variant.String(),
			"qty", entry.Quantity, "price", entry.Price)

		res := e.executor.ExecuteSale(ctx, entry.Variant, entry.Quantity)
		metrics.SalesTotal.WithLabelValues(entry.Variant.String(), res.Outcome.String()).Inc()
		if res.OK() {
			report.Succeeded = append(report.Succeeded, entry)
		} else {
			report.Failed = append(report.Failed, FailedEntry{Entry: entry, Reason: res.Reason})
		}
	}

	// Sold tulips are gone from the agent; crediting must finish even if the
	// caller gives up.
	settleCtx := context.WithoutCancel(ctx)
	for _, entry := range report.Succeeded {
		if _, err := e.settler.Settle(settleCtx, entry); err != nil {
			report.Unsettled = append(report.Unsettled, FailedEntry{Entry: entry, Reason: err.Error()})
			log.Error("sold but not credited, ledger needs manual correction",
				"player", entry.PlayerName, "player_id", entry.PlayerID,
				"variant", entry.Variant.String(), "qty", entry.Quantity, "price", entry.Price, "err", err)
			continue
		}
		report.Credited += entry.Proceeds()
	}

	for _, f := range report.Failed {
		log.Warn("failed to sell",
			"player", f.Entry.PlayerName, "player_id", f.Entry.PlayerID,
			"variant", f.Entry.Variant.String(), "qty", f.Entry.Quantity, "reason", f.Reason)
	}

	metrics.CyclesTotal.WithLabelValues("completed").Inc()
	if len(plan) > 0 {
		log.Info("cycle finished",
			"planned", len(plan), "sold", len(report.Succeeded),
			"failed", len(report.Failed), "credited", report.Credited)
	}
	return report, nil
}
