// Package calendar provides the trading-day/holiday calendar and the
// per-underlying expiry-cadence table the spec requires to be injected
// rather than hard-coded, so tests can drive a deterministic holiday set
// through a fake clock without touching a real NSE/BSE calendar feed.
package calendar

import (
	"time"

	"github.com/nfocore/optionengine/internal/models"
)

// Cadence names how often an underlying's option chain expires.
type Cadence string

const (
	Weekly  Cadence = "weekly"
	Monthly Cadence = "monthly"
)

// Provider answers trading-day/holiday and expiry-cadence questions.
// InMemory is the only implementation; it answers from the holiday set and
// cadence table it was constructed with and reads no file.
type Provider interface {
	IsHoliday(day time.Time) bool
	IsWeekend(day time.Time) bool
	IsTradingDay(day time.Time) bool
	NextTradingDay(day time.Time) time.Time
	ExpiryCadence(u models.Underlying) Cadence
	// NearestExpiry returns the next expiry on/after `from` for the given
	// underlying, honouring its configured cadence.
	NearestExpiry(u models.Underlying, from time.Time) time.Time
}

// InMemory is a Provider backed by an explicit holiday set and cadence
// table, constructed literally both by cmd/engine (with no holidays) and by
// tests.
type InMemory struct {
	holidays map[string]bool // "YYYY-MM-DD" in IST
	cadence  map[models.Underlying]Cadence
}

// New builds an InMemory provider. holidays are IST calendar dates in
// "YYYY-MM-DD" form; cadence maps each underlying to Weekly or Monthly, per
// the spec's "read from a per-underlying configuration table" instruction
// (weekly-to-monthly promotion is not computed here, only the final cadence
// is consulted).
func New(holidays []string, cadence map[models.Underlying]Cadence) *InMemory {
	h := make(map[string]bool, len(holidays))
	for _, d := range holidays {
		h[d] = true
	}
	if cadence == nil {
		cadence = defaultCadence()
	}
	return &InMemory{holidays: h, cadence: cadence}
}

func defaultCadence() map[models.Underlying]Cadence {
	return map[models.Underlying]Cadence{
		models.UnderlyingNIFTY:      Weekly,
		models.UnderlyingBANKNIFTY:  Weekly,
		models.UnderlyingFINNIFTY:   Weekly,
		models.UnderlyingMIDCPNIFTY: Weekly,
		models.UnderlyingSENSEX:     Monthly,
		models.UnderlyingBANKEX:     Monthly,
	}
}

func (p *InMemory) IsWeekend(day time.Time) bool {
	wd := day.In(models.IST).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (p *InMemory) IsHoliday(day time.Time) bool {
	return p.holidays[day.In(models.IST).Format("2006-01-02")]
}

func (p *InMemory) IsTradingDay(day time.Time) bool {
	return !p.IsWeekend(day) && !p.IsHoliday(day)
}

func (p *InMemory) NextTradingDay(day time.Time) time.Time {
	d := day.In(models.IST).AddDate(0, 0, 1)
	for !p.IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func (p *InMemory) ExpiryCadence(u models.Underlying) Cadence {
	if c, ok := p.cadence[u]; ok {
		return c
	}
	return Weekly
}

// NearestExpiry walks forward from `from` to the next trading day that is
// either a weekly Thursday expiry (or the prior trading day if Thursday is a
// holiday) or the last trading day of the month for monthly-cadence
// underlyings. This is a commonly used NSE/BSE convention; no published
// exchange expiry calendar is consulted.
func (p *InMemory) NearestExpiry(u models.Underlying, from time.Time) time.Time {
	switch p.ExpiryCadence(u) {
	case Monthly:
		return p.nearestMonthlyExpiry(from)
	default:
		return p.nearestWeeklyExpiry(from)
	}
}

func (p *InMemory) nearestWeeklyExpiry(from time.Time) time.Time {
	start := from.In(models.IST)
	dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, models.IST)
	thursday := start
	for thursday.Weekday() != time.Thursday {
		thursday = thursday.AddDate(0, 0, 1)
	}
	for {
		d := thursday
		for !p.IsTradingDay(d) {
			d = d.AddDate(0, 0, -1)
		}
		if !d.Before(dayStart) {
			return d
		}
		thursday = thursday.AddDate(0, 0, 7)
	}
}

func (p *InMemory) nearestMonthlyExpiry(from time.Time) time.Time {
	d := from.In(models.IST)
	lastOfMonth := time.Date(d.Year(), d.Month()+1, 1, 0, 0, 0, 0, models.IST).AddDate(0, 0, -1)
	for !p.IsTradingDay(lastOfMonth) {
		lastOfMonth = lastOfMonth.AddDate(0, 0, -1)
	}
	if lastOfMonth.Before(time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, models.IST)) {
		next := time.Date(d.Year(), d.Month()+2, 1, 0, 0, 0, 0, models.IST).AddDate(0, 0, -1)
		for !p.IsTradingDay(next) {
			next = next.AddDate(0, 0, -1)
		}
		return next
	}
	return lastOfMonth
}
