package postmortem

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDump(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dumps")
	w := NewWriter(dir)
	fixed := time.UnixMilli(1_700_000_000_000)
	w.now = func() time.Time { return fixed }

	first := w.Dump(KindPrices, "<html>broken</html>")
	second := w.Dump(KindPrices, "<html>broken again</html>")

	if filepath.Base(first) != "PRICES_ERROR_1700000000000.html" {
		t.Fatalf("unexpected name %s", first)
	}
	if first == second {
		t.Fatal("dumps in the same millisecond must not overwrite each other")
	}

	data, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	if !strings.Contains(string(data), "broken again") {
		t.Fatalf("unexpected contents %q", data)
	}
}

func TestDump_NilWriter(t *testing.T) {
	var w *Writer
	if got := w.Dump(KindBuy, "x"); got != "" {
		t.Fatalf("nil writer should be a no-op, got %q", got)
	}
}
