package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/nfocore/optionengine/internal/models"
	"github.com/sony/gobreaker"
)

// CircuitBreakerSettings configures the gobreaker.CircuitBreaker wrapping
// the underlying Broker. Names mirror spec §4.A: N consecutive transient
// failures within a window opens the breaker for a cool-down, after which a
// single probe call is admitted.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // requests allowed through in half-open
	Interval     time.Duration // closed-state failure-counting window
	Timeout      time.Duration // cool-down before a half-open probe
	MinRequests  uint32        // minimum requests before ReadyToTrip considers tripping
	FailureRatio float64       // fraction of failing requests that trips the breaker
}

// DefaultCircuitBreakerSettings matches spec §4.A's defaults: 5 consecutive
// failures within a 60s window trips the breaker for a 300s cool-down.
func DefaultCircuitBreakerSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      300 * time.Second,
		MinRequests:  5,
		FailureRatio: 1.0,
	}
}

// CircuitBreakerBroker decorates any Broker with a gobreaker.CircuitBreaker,
// tripping on the transient-error classification only — permanent errors
// (auth, validation, order-rejected) never count toward the breaker per the
// spec's propagation policy.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
	logger  *log.Logger
}

// NewCircuitBreakerBroker wraps broker with the default settings.
func NewCircuitBreakerBroker(b Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(b, DefaultCircuitBreakerSettings())
}

// NewCircuitBreakerBrokerWithSettings wraps broker with explicit settings,
// for tests that need a short cool-down or a lower trip threshold.
func NewCircuitBreakerBrokerWithSettings(b Broker, s CircuitBreakerSettings) *CircuitBreakerBroker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "broker",
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= s.MinRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			_, permanent := err.(nonTrippingError)
			return permanent
		},
	})
	return &CircuitBreakerBroker{broker: b, breaker: cb, logger: log.Default()}
}

// State exposes the breaker's current state for health reporting and tests.
func (c *CircuitBreakerBroker) State() gobreaker.State {
	return c.breaker.State()
}

func execute[T any](c *CircuitBreakerBroker, fn func() (T, error)) (T, error) {
	var zero T
	result, err := c.breaker.Execute(func() (interface{}, error) {
		v, err := fn()
		if err != nil && !isTransient(err) {
			// Permanent errors still return to the caller but must not
			// count toward the breaker's trip threshold: wrap them so the
			// breaker's IsSuccessful hook (below) can tell them apart from a
			// real transient failure while the caller still observes the
			// original error via Unwrap.
			return v, nonTrippingError{err}
		}
		return v, err
	})
	if result == nil {
		if nte, ok := err.(nonTrippingError); ok {
			return zero, nte.err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, ErrCircuitOpen
		}
		return zero, err
	}
	v := result.(T)
	if nte, ok := err.(nonTrippingError); ok {
		return v, nte.err
	}
	return v, err
}

// nonTrippingError marks a permanent error so the breaker's IsSuccessful
// hook can classify it as non-tripping while still surfacing the original
// error to the caller via Unwrap.
type nonTrippingError struct{ err error }

func (n nonTrippingError) Error() string { return n.err.Error() }
func (n nonTrippingError) Unwrap() error { return n.err }

func (c *CircuitBreakerBroker) GetInstruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error) {
	return execute(c, func() ([]models.Instrument, error) { return c.broker.GetInstruments(ctx, exchange) })
}

func (c *CircuitBreakerBroker) GetQuote(ctx context.Context, symbols []models.Symbol) (map[models.Symbol]Quote, error) {
	return execute(c, func() (map[models.Symbol]Quote, error) { return c.broker.GetQuote(ctx, symbols) })
}

func (c *CircuitBreakerBroker) GetHistoricalCandles(ctx context.Context, token int64, interval time.Duration, from, to time.Time) ([]Candle, error) {
	return execute(c, func() ([]Candle, error) {
		return c.broker.GetHistoricalCandles(ctx, token, interval, from, to)
	})
}

func (c *CircuitBreakerBroker) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	return execute(c, func() (OrderAck, error) { return c.broker.PlaceOrder(ctx, req) })
}

func (c *CircuitBreakerBroker) GetOrders(ctx context.Context) ([]OrderAck, error) {
	return execute(c, func() ([]OrderAck, error) { return c.broker.GetOrders(ctx) })
}

func (c *CircuitBreakerBroker) GetPositions(ctx context.Context) ([]models.Position, error) {
	return execute(c, func() ([]models.Position, error) { return c.broker.GetPositions(ctx) })
}

func (c *CircuitBreakerBroker) GetOrderMargins(ctx context.Context, req OrderRequest) (MarginEstimate, error) {
	return execute(c, func() (MarginEstimate, error) { return c.broker.GetOrderMargins(ctx, req) })
}
