package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"ResearchDigest/internal/digest"
	"ResearchDigest/internal/ports"
)

// ErrOpen is returned while deliveries to a channel are suspended.
var ErrOpen = errors.New("delivery suspended after repeated failures")

// Publisher guards another publisher with a circuit breaker. After
// maxFailures consecutive failures the channel is skipped until cooldown
// passes; one trial delivery then decides whether it reopens.
type Publisher struct {
	next    ports.Publisher
	breaker *gobreaker.CircuitBreaker
}

var _ ports.Publisher = (*Publisher)(nil)

// NewPublisher wraps next. maxFailures must be positive.
func NewPublisher(next ports.Publisher, maxFailures int, cooldown time.Duration, logger *slog.Logger) *Publisher {
	threshold := uint32(maxFailures)
	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// A cancelled run says nothing about the channel.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("delivery breaker changed state", "channel", name, "from", from.String(), "to", to.String())
			}
		},
	}
	return &Publisher{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Name reports the wrapped channel's name.
func (p *Publisher) Name() string {
	return p.next.Name()
}

// Publish delivers through the breaker.
func (p *Publisher) Publish(ctx context.Context, doc digest.Document) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.next.Publish(ctx, doc)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", p.next.Name(), ErrOpen)
	}
	return err
}

// State is "closed", "open" or "half-open".
func (p *Publisher) State() string {
	return p.breaker.State().String()
}
