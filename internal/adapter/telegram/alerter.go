package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"driftd/pkg/drift"
)

// Sender sends a Telegram message. *bot.Bot implements it.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

var _ Sender = (*bot.Bot)(nil)

// AlerterOptions configures an Alerter.
type AlerterOptions struct {
	// PerMinute caps how many alerts are sent per minute. Excess alerts are dropped.
	PerMinute int
	// SendTimeout bounds a single SendMessage call.
	SendTimeout time.Duration
	// QueueSize is the number of alerts waiting to be sent.
	QueueSize int
	Logger    *slog.Logger
}

// Alerter is a drift.Observer that reports failed ticks and fatally stopped
// schedules to a Telegram chat. Observe never blocks the schedule loop.
type Alerter struct {
	sender  Sender
	chatID  int64
	limiter *rate.Limiter
	timeout time.Duration
	log     *slog.Logger

	queue   chan string
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// NewAlerter starts an alerter sending to chatID through s.
func NewAlerter(s Sender, chatID int64, opts AlerterOptions) *Alerter {
	if opts.PerMinute <= 0 {
		opts.PerMinute = 6
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	a := &Alerter{
		sender:  s,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.PerMinute)), opts.PerMinute),
		timeout: opts.SendTimeout,
		log:     opts.Logger.With("component", "telegram_alerter"),
		queue:   make(chan string, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go a.worker()
	return a
}

// NewBot creates a bot client used only for outgoing messages.
func NewBot(token string) (*bot.Bot, error) {
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	return bot.New(token)
}

// Observe implements drift.Observer.
func (a *Alerter) Observe(e drift.Event) {
	text, ok := alertText(e)
	if !ok {
		return
	}
	if !a.limiter.Allow() {
		a.dropped.Add(1)
		a.log.Debug("alert throttled", "schedule", e.Schedule, "tick", e.Tick)
		return
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.queue <- text:
	default:
		a.dropped.Add(1)
		a.log.Warn("alert queue full", "schedule", e.Schedule)
	}
}

// Dropped returns how many alerts were throttled or discarded.
func (a *Alerter) Dropped() int64 { return a.dropped.Load() }

// Close stops accepting alerts and waits until queued ones are sent or ctx is done.
func (a *Alerter) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Alerter) worker() {
	defer close(a.done)
	for text := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		_, err := a.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: a.chatID,
			Text:   text,
		})
		cancel()
		if err != nil {
			a.log.Warn("send alert", slog.Any("err", err))
		}
	}
}

func alertText(e drift.Event) (string, bool) {
	switch e.Kind {
	case drift.TickFailure:
		return fmt.Sprintf("⚠️ %s: tick %d failed after %s\n%s",
			e.Schedule, e.Tick, e.Elapsed.Round(time.Millisecond), errText(e.Err)), true
	case drift.ScheduleStopped:
		if e.Reason != drift.StopFatalError {
			return "", false
		}
		return fmt.Sprintf("🛑 %s: schedule stopped after tick %d\n%s",
			e.Schedule, e.Tick, errText(e.Err)), true
	default:
		return "", false
	}
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
