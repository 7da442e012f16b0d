package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/cybercyphers/cyphbeta/internal/connection"
	"github.com/cybercyphers/cyphbeta/internal/observability"
)

var ErrContentTooLong = errors.New("content too long")

// SendClient is the live connection the sender writes through.
type SendClient interface {
	SendText(ctx context.Context, chat, text string) (remoteMessageID string, err error)
}

type Options struct {
	ContentMax      int
	RatePerSecond   float64
	Burst           int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func DefaultOptions() Options {
	return Options{
		ContentMax:      4096,
		RatePerSecond:   5,
		Burst:           10,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// Sender throttles outbound text and stops calling a failing backend for a
// cooldown period.
type Sender struct {
	client     SendClient
	contentMax int
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker

	onSent   func(ctx context.Context, chat, remoteMessageID string)
	onFailed func(ctx context.Context, chat, reason string)
}

func NewSender(client SendClient, opts Options, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.ContentMax <= 0 {
		opts.ContentMax = def.ContentMax
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = def.RatePerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = def.Burst
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = def.BreakerFailures
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = def.BreakerCooldown
	}

	failures := opts.BreakerFailures
	return &Sender{
		client:     client,
		contentMax: opts.ContentMax,
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "backend-send",
			Timeout: opts.BreakerCooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
			IsSuccessful: countsAsHealthy,
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("breaker_state_change", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (s *Sender) WithHooks(
	onSent func(ctx context.Context, chat, remoteMessageID string),
	onFailed func(ctx context.Context, chat, reason string),
) *Sender {
	s.onSent = onSent
	s.onFailed = onFailed
	return s
}

func (s *Sender) SendText(ctx context.Context, chat, text string) (string, error) {
	if n := utf8.RuneCountInString(text); n > s.contentMax {
		err := fmt.Errorf("%w: %d > %d chars", ErrContentTooLong, n, s.contentMax)
		s.fail(ctx, chat, "too_long", err)
		return "", err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		s.fail(ctx, chat, "throttled", err)
		return "", err
	}

	start := time.Now()
	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.client.SendText(ctx, chat, text)
	})
	observability.DeliveryLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		result := "error"
		switch {
		case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
			result = "breaker_open"
		case errors.Is(err, connection.ErrNotConnected):
			result = "not_connected"
		}
		s.fail(ctx, chat, result, err)
		return "", err
	}

	remoteID, _ := res.(string)
	observability.DeliverySend.WithLabelValues("sent").Inc()
	if s.onSent != nil {
		s.onSent(ctx, chat, remoteID)
	}
	return remoteID, nil
}

// countsAsHealthy keeps errors that say nothing about the backend, such as a
// send attempted between sessions or a canceled caller, out of the breaker's
// failure count.
func countsAsHealthy(err error) bool {
	return err == nil ||
		errors.Is(err, connection.ErrNotConnected) ||
		errors.Is(err, context.Canceled)
}

// Deliver is SendText under the name the scheduler expects.
func (s *Sender) Deliver(ctx context.Context, chat, text string) (string, error) {
	return s.SendText(ctx, chat, text)
}

func (s *Sender) fail(ctx context.Context, chat, result string, err error) {
	observability.DeliverySend.WithLabelValues(result).Inc()
	if s.onFailed != nil {
		s.onFailed(ctx, chat, err.Error())
	}
}
