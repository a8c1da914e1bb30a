package rates

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/angas/agile-export/slots"
	"github.com/shopspring/decimal"
)

// LocalRate is a rate re-keyed to the local wall clock time of its interval start.
type LocalRate struct {
	Time  string          `json:"time"` // HH:MM in the viewer's zone
	Start time.Time       `json:"start"`
	Price decimal.Decimal `json:"price"`
}

// ForLocalDate returns the rates whose start falls on date in loc, ordered by
// UTC start. On a DST fall-back day two entries may share the same Time.
func ForLocalDate(t *Table, date civil.Date, loc *time.Location) []LocalRate {
	result := make([]LocalRate, 0, 48)
	for _, r := range t.All() {
		local := r.Start.In(loc)
		if civil.DateOf(local) != date {
			continue
		}
		result = append(result, LocalRate{
			Time:  slots.LocalClock(r.Start, loc),
			Start: r.Start,
			Price: r.Price,
		})
	}
	return result
}

// LocalDate returns the calendar date of t as seen in loc.
func LocalDate(t time.Time, loc *time.Location) civil.Date {
	return civil.DateOf(t.In(loc))
}
