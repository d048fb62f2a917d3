// Package notify delivers engine events to operator channels. Events are
// fanned out to all registered senders (Telegram, Discord) with a severity
// floor, a per-event-type rate limit, and a bounded retry per sender. Critical
// events bypass both the floor and the limiter.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// Sender is one outbound notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender in logs, e.g. "telegram".
	Name() string
}

// Config controls filtering and delivery behaviour.
type Config struct {
	// MinSeverity is the lowest severity that gets delivered. Critical
	// events are always delivered regardless of this floor.
	MinSeverity domain.EventSeverity
	// MaxAttempts bounds delivery attempts per sender. Defaults to 2.
	MaxAttempts int
	// RetryBackoff is the base delay between attempts. Defaults to 500ms.
	RetryBackoff time.Duration
	// RateLimit caps non-critical deliveries per event type per window.
	// Zero disables rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Notifier implements domain.Notifier over a set of Senders. A sender failure
// never propagates to the caller as a trade error; the engine treats delivery
// as fire-and-forget.
type Notifier struct {
	senders []Sender
	limiter domain.RateLimiter
	cfg     Config
	logger  *slog.Logger
}

var _ domain.Notifier = (*Notifier)(nil)

var severityRank = map[domain.EventSeverity]int{
	domain.SeverityInfo:     0,
	domain.SeverityWarning:  1,
	domain.SeverityCritical: 2,
}

// New creates a Notifier. limiter may be nil, in which case no rate limiting
// is applied.
func New(senders []Sender, limiter domain.RateLimiter, cfg Config, logger *slog.Logger) *Notifier {
	if cfg.MinSeverity == "" {
		cfg.MinSeverity = domain.SeverityInfo
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	return &Notifier{
		senders: senders,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the event to every sender. Non-critical events below the
// severity floor or over the rate limit are dropped silently.
func (n *Notifier) Notify(ctx context.Context, ev domain.Event) error {
	if len(n.senders) == 0 {
		return nil
	}

	critical := ev.Severity == domain.SeverityCritical

	if !critical && severityRank[ev.Severity] < severityRank[n.cfg.MinSeverity] {
		n.logger.DebugContext(ctx, "event below severity floor",
			slog.String("type", string(ev.Type)),
			slog.String("severity", string(ev.Severity)))
		return nil
	}

	if !critical && n.limiter != nil && n.cfg.RateLimit > 0 {
		key := "notify:" + string(ev.Type)
		allowed, err := n.limiter.Allow(ctx, key, n.cfg.RateLimit, n.cfg.RateWindow)
		if err != nil {
			// Limiter trouble must not silence alerts.
			n.logger.WarnContext(ctx, "rate limiter unavailable, delivering anyway",
				slog.String("error", err.Error()))
		} else if !allowed {
			n.logger.DebugContext(ctx, "event rate limited",
				slog.String("type", string(ev.Type)))
			return nil
		}
	}

	title, message := render(ev)

	var errs []string
	for _, s := range n.senders {
		if err := n.sendWithRetry(ctx, s, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func (n *Notifier) sendWithRetry(ctx context.Context, s Sender, title, message string) error {
	var lastErr error
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		lastErr = s.Send(ctx, title, message)
		if lastErr == nil {
			return nil
		}
		if attempt == n.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}
	return lastErr
}

// render formats an event as a channel message. Payload fields are listed in
// sorted order so messages are stable.
func render(ev domain.Event) (title, message string) {
	title = fmt.Sprintf("[%s] %s", strings.ToUpper(string(ev.Severity)), ev.Title)

	var b strings.Builder
	b.WriteString(ev.Message)

	if len(ev.Payload) > 0 {
		keys := make([]string, 0, len(ev.Payload))
		for k := range ev.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %v", k, ev.Payload[k])
		}
	}

	return title, b.String()
}
