package models

import "time"

// OptionType distinguishes calls from puts.
type OptionType string

const (
	OptionCE OptionType = "CE"
	OptionPE OptionType = "PE"
)

// Instrument is the broker's description of one tradable contract. It is
// immutable for the trading day it was fetched on; the instrument cache in
// internal/broker treats a cached Instrument as good for its entire TTL
// window without re-validating individual fields.
type Instrument struct {
	Token      int64       `json:"token"`
	Symbol     Symbol      `json:"symbol"`
	Underlying Underlying  `json:"underlying,omitempty"`
	LotSize    int         `json:"lot_size"`
	TickSize   Money       `json:"tick_size"`
	Expiry     *time.Time  `json:"expiry,omitempty"`
	Strike     *Money      `json:"strike,omitempty"`
	OptionType *OptionType `json:"option_type,omitempty"`
}

// IsOption reports whether this instrument is an option contract (as
// opposed to the underlying index/equity feed itself).
func (i Instrument) IsOption() bool {
	return i.OptionType != nil
}
