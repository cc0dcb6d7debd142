// Package postmortem keeps raw game pages that could not be understood.
package postmortem

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	KindPrices = "PRICES_ERROR"
	KindBuy    = "BUY_ERROR"
)

// Writer saves pages as <KIND>_<unix ms>.html in one directory.
type Writer struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	last int64
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, now: time.Now}
}

// Dump writes body and returns the file path. Failures are logged, never
// returned: a missing postmortem must not change the caller's outcome.
func (w *Writer) Dump(kind, body string) string {
	if w == nil {
		return ""
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s_%d.html", kind, w.stamp()))
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		slog.Error("postmortem dir", "component", "postmortem", "dir", w.dir, "err", err)
		return ""
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		slog.Error("postmortem write", "component", "postmortem", "path", path, "err", err)
		return ""
	}
	slog.Warn("saved unexpected page", "component", "postmortem", "kind", kind, "path", path)
	return path
}

// stamp is the current unix ms, bumped so two dumps never share a name.
func (w *Writer) stamp() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	ms := w.now().UnixMilli()
	if ms <= w.last {
		ms = w.last + 1
	}
	w.last = ms
	return ms
}
