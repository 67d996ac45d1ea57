package models

import (
	"fmt"
	"time"
)

// OrderFingerprint identifies an order well enough to detect accidental
// duplicate submission (a retried risk check, a double-fired strategy
// signal) without being so coarse that two genuinely distinct orders on the
// same symbol collide.
type OrderFingerprint struct {
	Symbol          Symbol
	Side            Side
	Quantity        int
	PriceBucket     int64 // price truncated toward zero to whole rupees, as an int64
	ClientID        string
	TimestampWindow int64 // unix seconds truncated to the duplicate_window
}

// NewOrderFingerprint buckets price and timestamp so that two submissions
// within the same window for the same symbol/side/quantity/client collide.
func NewOrderFingerprint(sym Symbol, side Side, qty int, price Money, clientID string, at time.Time, window time.Duration) OrderFingerprint {
	windowSecs := int64(window.Seconds())
	if windowSecs <= 0 {
		windowSecs = 1
	}
	return OrderFingerprint{
		Symbol:          sym,
		Side:            side,
		Quantity:        qty,
		PriceBucket:     int64(price.Float64()),
		ClientID:        clientID,
		TimestampWindow: at.Unix() / windowSecs,
	}
}

// Key renders the fingerprint as a comparable map key.
func (f OrderFingerprint) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d|%d|%s", f.Symbol, f.Side, f.ClientID, f.Quantity, f.PriceBucket, fmt.Sprint(f.TimestampWindow))
}
