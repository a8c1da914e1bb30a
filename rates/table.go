package rates

import (
	"slices"
	"time"

	"github.com/angas/agile-export/slots"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Rate is the export price of one half hour interval.
type Rate struct {
	Start time.Time       // UTC start of the interval
	Price decimal.Decimal // Major currency units per kWh including VAT
}

func (r Rate) Key() string {
	return slots.IsoString(r.Start)
}

// Table is an immutable set of rates ordered ascending by start time.
// A nil *Table behaves as an empty table.
type Table struct {
	rates []Rate
}

// New builds a table from rates in any order. Starts are converted to UTC
// and when two rates share a start the later one in the input wins.
func New(input []Rate) *Table {
	byStart := make(map[time.Time]int, len(input))
	rates := make([]Rate, 0, len(input))
	for _, r := range input {
		r.Start = r.Start.UTC()
		if i, ok := byStart[r.Start]; ok {
			rates[i] = r
			continue
		}
		byStart[r.Start] = len(rates)
		rates = append(rates, r)
	}

	slices.SortFunc(rates, func(a, b Rate) int { return a.Start.Compare(b.Start) })
	return &Table{rates: rates}
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rates)
}

// All returns a copy of the rates in ascending order.
func (t *Table) All() []Rate {
	if t == nil {
		return []Rate{}
	}
	return slices.Clone(t.rates)
}

// Get returns the price of the interval starting at start.
func (t *Table) Get(start time.Time) (decimal.Decimal, bool) {
	if t == nil {
		return decimal.Decimal{}, false
	}
	i, found := slices.BinarySearchFunc(t.rates, start.UTC(), func(r Rate, s time.Time) int {
		return r.Start.Compare(s)
	})
	if !found {
		return decimal.Decimal{}, false
	}
	return t.rates[i].Price, true
}

// Map returns the table keyed by ISO-8601 UTC interval start.
func (t *Table) Map() map[string]decimal.Decimal {
	m := make(map[string]decimal.Decimal, t.Len())
	if t == nil {
		return m
	}
	for _, r := range t.rates {
		m[r.Key()] = r.Price
	}
	return m
}

// Span returns the first and last interval start, zero times for an empty table.
func (t *Table) Span() (time.Time, time.Time) {
	if t.Len() == 0 {
		return time.Time{}, time.Time{}
	}
	return t.rates[0].Start, t.rates[len(t.rates)-1].Start
}

// FromMinorUnits converts a price in pence to pounds, rounded to 4 decimals.
func FromMinorUnits(value decimal.Decimal) decimal.Decimal {
	return value.Div(hundred).Round(4)
}
