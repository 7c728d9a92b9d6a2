package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/angeloszaimis/failover-gateway/internal/store"
)

const (
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = time.Second
	DefaultAttemptTimeout = 10 * time.Second

	maxStoredMessage = 500
	persistTimeout   = 5 * time.Second
)

var (
	ErrConfigIncomplete = errors.New("notification config incomplete: bot token and chat id are required")
	ErrTypeDisabled     = errors.New("notification type disabled")
)

type Type string

const (
	TypeRequest      Type = "request"
	TypeHealthChange Type = "health_change"
	TypeError        Type = "error"
)

// Payload describes what happened. Only Type is required.
type Payload struct {
	Type         Type          `json:"type"`
	ClientIP     string        `json:"client_ip,omitempty"`
	Method       string        `json:"method,omitempty"`
	Path         string        `json:"path,omitempty"`
	BackendURL   string        `json:"backend_url,omitempty"`
	StatusCode   int           `json:"status_code,omitempty"`
	ResponseTime time.Duration `json:"response_time,omitempty"`
	Healthy      bool          `json:"healthy,omitempty"`
	Version      string        `json:"version,omitempty"`
	Message      string        `json:"message,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Outcome reports what SendNotification did.
type Outcome struct {
	Success      bool
	Attempts     int
	Err          error
	UsedFallback bool
}

type Config struct {
	BotToken        string
	ChatID          string
	APIBaseURL      string
	MaxAttempts     int
	BaseDelay       time.Duration
	AttemptTimeout  time.Duration
	FallbackEnabled bool
	// RatePerSecond of zero disables rate limiting.
	RatePerSecond float64
	Burst         int
	// Types toggles delivery per notification type. Types missing from the
	// map are enabled.
	Types map[Type]bool
}

// Recorder persists terminal outcomes.
type Recorder interface {
	SaveNotification(ctx context.Context, record store.NotificationRecord, requestID string) error
}

type Options struct {
	// Sender defaults to a TelegramSender built from Config.
	Sender   Sender
	Recorder Recorder
	Logger   *slog.Logger
	// Sleep waits between attempts. It defaults to a timer that honors ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

type Notifier struct {
	cfg      Config
	sender   Sender
	recorder Recorder
	limiter  *rate.Limiter
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	logger   *slog.Logger
}

func New(cfg Config, opts Options) *Notifier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.Sender == nil {
		opts.Sender = NewTelegramSender(&http.Client{}, cfg.APIBaseURL, cfg.BotToken, cfg.ChatID)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Notifier{
		cfg:      cfg,
		sender:   opts.Sender,
		recorder: opts.Recorder,
		limiter:  rate.NewLimiter(limit, burst),
		sleep:    opts.Sleep,
		now:      opts.Now,
		logger:   opts.Logger,
	}
}

// Enabled reports whether notifications of type t would be attempted.
func (n *Notifier) Enabled(t Type) bool {
	enabled, ok := n.cfg.Types[t]
	return !ok || enabled
}

// SendNotification delivers p, retrying with exponential backoff. It never
// returns an error; the Outcome describes what happened.
func (n *Notifier) SendNotification(ctx context.Context, p Payload, requestID string) Outcome {
	if n.cfg.BotToken == "" || n.cfg.ChatID == "" {
		n.logger.Debug("Notification skipped",
			slog.String("type", string(p.Type)),
			slog.String("request_id", requestID),
			slog.String("reason", ErrConfigIncomplete.Error()))
		return Outcome{Err: ErrConfigIncomplete}
	}

	if !n.Enabled(p.Type) {
		n.logger.Debug("Notification skipped",
			slog.String("type", string(p.Type)),
			slog.String("request_id", requestID),
			slog.String("reason", ErrTypeDisabled.Error()))
		return Outcome{Err: fmt.Errorf("%w: %s", ErrTypeDisabled, p.Type)}
	}

	text := Format(p, requestID, n.now())

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		attempts = attempt

		lastErr = n.attempt(ctx, text)
		if lastErr == nil {
			outcome := Outcome{Success: true, Attempts: attempt}
			n.persist(ctx, p, text, outcome, requestID)
			return outcome
		}

		n.logger.Warn("Notification attempt failed",
			slog.String("type", string(p.Type)),
			slog.String("request_id", requestID),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", n.cfg.MaxAttempts),
			slog.String("error", lastErr.Error()))

		if attempt == n.cfg.MaxAttempts {
			break
		}

		delay := n.cfg.BaseDelay * time.Duration(1<<(attempt-1))
		if err := n.sleep(ctx, delay); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}

	outcome := Outcome{Attempts: attempts, Err: lastErr}
	if n.cfg.FallbackEnabled {
		n.fallback(p, text, requestID)
		outcome.UsedFallback = true
	}
	n.persist(ctx, p, text, outcome, requestID)

	return outcome
}

func (n *Notifier) attempt(ctx context.Context, text string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.AttemptTimeout)
	defer cancel()

	return n.sender.Send(ctx, text)
}

func (n *Notifier) fallback(p Payload, text, requestID string) {
	n.logger.Warn("Notification delivered through fallback",
		slog.String("type", string(p.Type)),
		slog.String("request_id", requestID),
		slog.Any("payload", p),
		slog.String("message", text))
}

func (n *Notifier) persist(ctx context.Context, p Payload, text string, outcome Outcome, requestID string) {
	if n.recorder == nil {
		return
	}

	record := store.NotificationRecord{
		Type:         string(p.Type),
		Success:      outcome.Success,
		Attempts:     outcome.Attempts,
		UsedFallback: outcome.UsedFallback,
		Message:      truncate(text, maxStoredMessage),
		CreatedAt:    n.now().UTC(),
	}
	if outcome.Err != nil {
		record.Error = outcome.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := n.recorder.SaveNotification(ctx, record, requestID); err != nil {
		n.logger.Error("Failed to persist notification",
			slog.String("type", string(p.Type)),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
