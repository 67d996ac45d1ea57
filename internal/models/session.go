package models

import "time"

// SessionState names where the market-hours gate believes the session is.
type SessionState string

const (
	SessionPreMarket  SessionState = "PRE_MARKET"
	SessionOpen       SessionState = "OPEN"
	SessionPostMarket SessionState = "POST_MARKET"
	SessionHoliday    SessionState = "HOLIDAY"
	SessionWeekend    SessionState = "WEEKEND"
)

// IST is the fixed +05:30 offset every session boundary is expressed in.
var IST = time.FixedZone("IST", 5*3600+30*60)

// MarketSession describes one trading day's boundaries and current state,
// as derived from an injected clock plus a holiday calendar.
type MarketSession struct {
	TradingDay time.Time // midnight IST
	OpenTime   time.Time // 09:15 IST
	CloseTime  time.Time // 15:30 IST
	State      SessionState
}
