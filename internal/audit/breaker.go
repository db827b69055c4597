package audit

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSink guards a slow or flaky sink with a circuit breaker so an outage
// of the audit store fails fast instead of adding latency to every decision.
type BreakerSink struct {
	next Sink
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerSink wraps next. The breaker opens after threshold consecutive
// failures and probes again after cooldown.
func NewBreakerSink(name string, next Sink, threshold uint32, cooldown time.Duration, logger *zap.Logger) *BreakerSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold == 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("audit sink breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &BreakerSink{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (s *BreakerSink) Record(ctx context.Context, event Event) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.next.Record(ctx, event)
	})
	return err
}

// State reports the breaker state, mostly for readiness output.
func (s *BreakerSink) State() string {
	return s.cb.State().String()
}
