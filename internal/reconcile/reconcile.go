package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/kjannette/tulipbot/internal/metrics"
	"github.com/kjannette/tulipbot/internal/models"
	"github.com/kjannette/tulipbot/internal/notifications"
)

// Discrepancy is ledger total minus agent inventory for one asset.
// Positive means the agent is missing stock; negative means a surplus.
type Discrepancy struct {
	Asset    string
	Expected int
	Actual   int
}

func (d Discrepancy) Missing() int {
	return d.Expected - d.Actual
}

func (d Discrepancy) String() string {
	m := d.Missing()
	word := "MISSING"
	if m < 0 {
		word, m = "EXTRA", -m
	}
	asset := strings.ToUpper(d.Asset)
	if asset != "CHRONER" {
		asset += " TULIPS"
	}
	return fmt.Sprintf("%s %d %s", word, m, asset)
}

type TotalsSource interface {
	Totals(ctx context.Context) (models.Totals, error)
}

type InventorySource interface {
	Inventory(ctx context.Context) (map[int]int, error)
}

type Alerter interface {
	Alert(ctx context.Context, level notifications.Level, msg string)
}

// Reconciler compares ledger totals with what the agent actually holds.
// It only reports; it never corrects either side.
type Reconciler struct {
	ledger    TotalsSource
	inventory InventorySource
	alerts    Alerter
}

func New(ledger TotalsSource, inventory InventorySource, alerts Alerter) *Reconciler {
	return &Reconciler{ledger: ledger, inventory: inventory, alerts: alerts}
}

func (r *Reconciler) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	expected, err := r.ledger.Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger totals: %w", err)
	}
	inv, err := r.inventory.Inventory(ctx)
	if err != nil {
		return nil, fmt.Errorf("agent inventory: %w", err)
	}

	all := make([]Discrepancy, 0, len(models.Variants)+1)
	for _, v := range models.Variants {
		all = append(all, Discrepancy{Asset: v.String(), Expected: expected.Holding(v), Actual: inv[v.ItemID()]})
	}
	all = append(all, Discrepancy{Asset: "chroner", Expected: expected.Chroner, Actual: inv[models.ChronerItemID]})

	var out []Discrepancy
	for _, d := range all {
		metrics.InventoryDiscrepancy.WithLabelValues(d.Asset).Set(float64(d.Missing()))
		if d.Missing() == 0 {
			continue
		}
		out = append(out, d)
		r.alerts.Alert(ctx, notifications.Warning, "inventory check: "+d.String())
	}
	if len(out) == 0 {
		r.alerts.Alert(ctx, notifications.Info, "inventory check: ledger matches agent inventory")
	}
	return out, nil
}
