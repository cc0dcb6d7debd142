package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kjannette/tulipbot/internal/external"
	"github.com/kjannette/tulipbot/internal/metrics"
	"github.com/kjannette/tulipbot/internal/models"
)

// Inbox is where player messages arrive.
type Inbox interface {
	PollKmails(ctx context.Context) ([]external.Kmail, error)
	DeleteKmails(ctx context.Context, ids []int64) error
	PollWhispers(ctx context.Context) ([]external.ChatMessage, error)
	Whisper(ctx context.Context, to int64, text string) error
	SendKmail(ctx context.Context, to int64, text string) error
}

// Service polls the inbox and hands every message to its own goroutine.
type Service struct {
	inbox    Inbox
	handler  *Handler
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// kmails handled but not yet deleted, so a slow delete never re-credits
	seenMu sync.Mutex
	seen   map[int64]bool
}

func NewService(inbox Inbox, handler *Handler, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Service{inbox: inbox, handler: handler, interval: interval, seen: make(map[int64]bool)}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		slog.Warn("already running", "component", "inbox")
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				s.Poll(ctx)
			}
		}
	}()
	slog.Info("started", "component", "inbox", "interval", s.interval)
}

// Stop halts polling and waits for in-flight messages.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("stopped", "component", "inbox")
}

// Poll fetches new whispers and kmails once and dispatches them.
func (s *Service) Poll(ctx context.Context) {
	whispers, err := s.inbox.PollWhispers(ctx)
	if err != nil {
		slog.Warn("whisper poll failed", "component", "inbox", "err", err)
	}
	for _, w := range whispers {
		s.wg.Add(1)
		go func(w external.ChatMessage) {
			defer s.wg.Done()
			s.whisper(ctx, w)
		}(w)
	}

	kmails, err := s.inbox.PollKmails(ctx)
	if err != nil {
		slog.Warn("kmail poll failed", "component", "inbox", "err", err)
		return
	}
	for _, k := range kmails {
		if !s.claim(k.ID) {
			continue
		}
		s.wg.Add(1)
		go func(k external.Kmail) {
			defer s.wg.Done()
			s.kmail(ctx, k)
		}(k)
	}
}

// Wait blocks until every dispatched message has been handled.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) whisper(ctx context.Context, w external.ChatMessage) {
	reply := s.handler.HandleWhisper(ctx, w)
	metrics.MessagesHandled.WithLabelValues("whisper", commandLabel(w.Text)).Inc()
	if reply == "" {
		return
	}
	if err := s.inbox.Whisper(ctx, w.FromID, reply); err != nil {
		slog.Warn("reply failed", "component", "inbox", "player_id", w.FromID, "err", err)
	}
}

func (s *Service) kmail(ctx context.Context, k external.Kmail) {
	reply, err := s.handler.HandleKmail(ctx, k)
	metrics.MessagesHandled.WithLabelValues("kmail", "deposit").Inc()
	if err != nil && !errors.Is(err, ErrDepositLost) {
		slog.Error("deposit failed, will retry", "component", "inbox", "kmail", k.ID, "err", err)
		s.release(k.ID)
		return
	}
	if reply != "" {
		if err := s.inbox.SendKmail(ctx, k.FromID, reply); err != nil {
			slog.Warn("reply failed", "component", "inbox", "player_id", k.FromID, "err", err)
		}
	}
	if err := s.inbox.DeleteKmails(ctx, []int64{k.ID}); err != nil {
		slog.Warn("delete kmail failed", "component", "inbox", "kmail", k.ID, "err", err)
		return
	}
	s.release(k.ID)
}

func (s *Service) claim(id int64) bool {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	if s.seen[id] {
		return false
	}
	s.seen[id] = true
	return true
}

func (s *Service) release(id int64) {
	s.seenMu.Lock()
	delete(s.seen, id)
	s.seenMu.Unlock()
}

func commandLabel(text string) string {
	switch cmd := Command(text); cmd {
	case "help", "balance", "prices", "sell", "buy", "withdraw":
		return cmd
	case "":
		return "blank"
	}
	return "unknown"
}

// ProfileEditor reads and writes the agent's profile quote.
type ProfileEditor interface {
	ProfileQuote(ctx context.Context) (string, error)
	SetProfileQuote(ctx context.Context, quote string) error
}

// SyncProfile puts the usage text in the profile quote if it differs.
func SyncProfile(ctx context.Context, p ProfileEditor) error {
	current, err := p.ProfileQuote(ctx)
	if err != nil {
		return err
	}
	if normalizeQuote(current) == normalizeQuote(Usage) {
		return nil
	}
	if err := p.SetProfileQuote(ctx, Usage); err != nil {
		return err
	}
	slog.Info("profile quote updated", "component", "profile")
	return nil
}

func normalizeQuote(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

// DefaultReminder is kmailed to everyone still holding something before the
// tower closes.
const DefaultReminder = "Reminder: the tower goes away today at rollover. Remember to use your Chroner balance before then, and consider setting your sell price very low."

type HolderLister interface {
	Holders(ctx context.Context) ([]models.Player, error)
}

type Kmailer interface {
	SendKmail(ctx context.Context, to int64, text string) error
}

// RemindHolders kmails text to every player with tulips or chroner and
// returns how many were reached.
func RemindHolders(ctx context.Context, ledger HolderLister, mail Kmailer, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultReminder
	}
	holders, err := ledger.Holders(ctx)
	if err != nil {
		return 0, fmt.Errorf("list holders: %w", err)
	}
	sent := 0
	for _, p := range holders {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if err := mail.SendKmail(ctx, p.ID, text); err != nil {
			slog.Warn("reminder failed", "component", "reminder", "player_id", p.ID, "err", err)
			continue
		}
		sent++
	}
	slog.Info("reminders sent", "component", "reminder", "sent", sent, "holders", len(holders))
	return sent, nil
}
