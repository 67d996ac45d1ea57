package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"github.com/nfocore/optionengine/internal/models"
)

// stubBroker is a Broker whose every method returns a canned error, letting
// each test drive exactly one call path through CircuitBreakerBroker.
type stubBroker struct {
	err error
}

func (s *stubBroker) GetInstruments(context.Context, models.Exchange) ([]models.Instrument, error) {
	return nil, s.err
}
func (s *stubBroker) GetQuote(context.Context, []models.Symbol) (map[models.Symbol]Quote, error) {
	return nil, s.err
}
func (s *stubBroker) GetHistoricalCandles(context.Context, int64, time.Duration, time.Time, time.Time) ([]Candle, error) {
	return nil, s.err
}
func (s *stubBroker) PlaceOrder(context.Context, OrderRequest) (OrderAck, error) {
	return OrderAck{}, s.err
}
func (s *stubBroker) GetOrders(context.Context) ([]OrderAck, error) { return nil, s.err }
func (s *stubBroker) GetPositions(context.Context) ([]models.Position, error) {
	return nil, s.err
}
func (s *stubBroker) GetOrderMargins(context.Context, OrderRequest) (MarginEstimate, error) {
	return MarginEstimate{}, s.err
}

func shortSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      10 * time.Millisecond,
		MinRequests:  2,
		FailureRatio: 1.0,
	}
}

func TestCircuitBreakerBroker_TransientFailuresTripTheBreaker(t *testing.T) {
	inner := &stubBroker{err: errors.New("connection reset by peer")}
	cb := NewCircuitBreakerBrokerWithSettings(inner, shortSettings())

	for i := 0; i < int(shortSettings().MinRequests); i++ {
		_, err := cb.GetInstruments(context.Background(), models.ExchangeNSE)
		require.Error(t, err)
	}

	require.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.GetInstruments(context.Background(), models.ExchangeNSE)
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakerBroker_PermanentErrorsNeverTripTheBreaker(t *testing.T) {
	inner := &stubBroker{err: ErrOrderRejected}
	cb := NewCircuitBreakerBrokerWithSettings(inner, shortSettings())

	for i := 0; i < 10; i++ {
		_, err := cb.PlaceOrder(context.Background(), OrderRequest{})
		require.ErrorIs(t, err, ErrOrderRejected)
	}

	require.Equal(t, gobreaker.StateClosed, cb.State(),
		"order-rejected is a permanent error and must not count toward the trip threshold")
}

func TestCircuitBreakerBroker_HalfOpenProbeRecoversOnSuccess(t *testing.T) {
	inner := &stubBroker{err: errors.New("timeout")}
	settings := shortSettings()
	cb := NewCircuitBreakerBrokerWithSettings(inner, settings)

	for i := 0; i < int(settings.MinRequests); i++ {
		_, _ = cb.GetOrders(context.Background())
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	time.Sleep(settings.Timeout * 2)
	inner.err = nil
	_, err := cb.GetOrders(context.Background())
	require.NoError(t, err)
	require.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerBroker_PassesThroughSuccessfulResults(t *testing.T) {
	inner := &stubBroker{}
	cb := NewCircuitBreakerBroker(inner)

	positions, err := cb.GetPositions(context.Background())
	require.NoError(t, err)
	require.Nil(t, positions)
}
