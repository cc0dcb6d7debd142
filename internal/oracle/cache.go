package oracle

import (
	"sync"
	"time"

	"github.com/kjannette/tulipbot/internal/models"
)

// Cache holds the most recent trade-in prices. It starts with every variant
// at models.UnknownPrice and is shared by the oracle, the cycle engine and
// the command handlers.
type Cache struct {
	mu     sync.RWMutex
	prices models.Prices
}

func NewCache() *Cache {
	return &Cache{prices: models.UnknownPrices()}
}

// Get returns a copy of the cached prices. It never does I/O.
func (c *Cache) Get() models.Prices {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prices
}

func (c *Cache) Set(p models.Prices) {
	c.mu.Lock()
	c.prices = p
	c.mu.Unlock()
}

// Schedule says when cached prices may be stale. The game reprices at fixed
// points of each period; a refresh is due inside the window that starts at
// each offset.
type Schedule struct {
	Period  time.Duration
	Offsets []time.Duration
	Window  time.Duration
}

// DefaultSchedule checks at minutes 1 and 16 of every half hour, one minute
// after each expected repricing.
func DefaultSchedule() Schedule {
	return Schedule{
		Period:  30 * time.Minute,
		Offsets: []time.Duration{1 * time.Minute, 16 * time.Minute},
		Window:  1 * time.Minute,
	}
}

func (s Schedule) Due(now time.Time) bool {
	if s.Period <= 0 {
		return true
	}
	window := s.Window
	if window <= 0 {
		window = time.Minute
	}
	pos := now.Sub(now.Truncate(s.Period))
	for _, off := range s.Offsets {
		if pos >= off && pos < off+window {
			return true
		}
	}
	return false
}
