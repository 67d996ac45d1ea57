// Package broker is the rate-limited, cache-backed, retry-wrapped shell
// around the single external broker API. It is the only code in the engine
// that sees the broker's wire format, authentication scheme or rate limits.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/nfocore/optionengine/internal/models"
)

// Sentinel errors matching the permanent/transient taxonomy of spec §7.
// Transient errors are retried inside this package and never surface past
// it; permanent errors are returned as-is to callers.
var (
	ErrAuthFailed         = errors.New("broker: authentication failed")
	ErrOrderRejected      = errors.New("broker: order rejected")
	ErrInsufficientMargin = errors.New("broker: insufficient margin")
	ErrCircuitOpen        = errors.New("broker: circuit breaker open")
	ErrCancelled          = errors.New("broker: call cancelled")
)

// Quote is the broker's latest tick for one symbol.
type Quote struct {
	Symbol       models.Symbol
	LastPrice    models.Money
	Bid          models.Money
	Ask          models.Money
	Volume       int64
	OpenInterest int64
	ImpliedVol   *float64
	LastPriceAt  time.Time
}

// Candle is one OHLC bar of historical data.
type Candle struct {
	Time   time.Time
	Open   models.Money
	High   models.Money
	Low    models.Money
	Close  models.Money
	Volume int64
}

// OrderRequest is everything needed to place one order.
type OrderRequest struct {
	Symbol        models.Symbol
	Side          models.Side
	Quantity      int
	LimitPrice    *models.Money // nil => market order
	ClientOrderID string
}

// OrderAck is the broker's acknowledgement of a placed order.
type OrderAck struct {
	OrderID   string
	Status    string // "filled", "pending", "rejected", ...
	FillPrice models.Money
	Fees      models.Money
	Timestamp time.Time
}

// MarginEstimate is the result of a margin check for a prospective order.
type MarginEstimate struct {
	EstimatedMargin models.Money
	AvailableMargin models.Money
}

// Broker is the small typed surface every higher-level component depends
// on. Implementations: Client (the real REST client) and CircuitBreakerBroker
// (wraps any Broker with gobreaker).
type Broker interface {
	GetInstruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error)
	GetQuote(ctx context.Context, symbols []models.Symbol) (map[models.Symbol]Quote, error)
	GetHistoricalCandles(ctx context.Context, token int64, interval time.Duration, from, to time.Time) ([]Candle, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	GetOrders(ctx context.Context) ([]OrderAck, error)
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetOrderMargins(ctx context.Context, req OrderRequest) (MarginEstimate, error)
}

// DaysBetween calculates the number of whole days between two instants, used
// by the option-chain provider for days-to-expiry bookkeeping.
func DaysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
