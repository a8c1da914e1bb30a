package www

import (
	"log/slog"
	"net/http"

	"github.com/angas/agile-export/coordinator"
	"github.com/angas/agile-export/rates"
	"github.com/angas/agile-export/www/chartjs"
	"github.com/shopspring/decimal"
)

func NewChartHandler(logger *slog.Logger, source sourceFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src := source()
		if src == nil {
			writeError(logger, w, http.StatusServiceUnavailable, errNotReady)
			return
		}

		chart := chartjs.NewChart("", "Today", "Tomorrow")
		var lowest, highest *decimal.Decimal
		fill := func(ds *chartjs.ChartDataset, day []rates.LocalRate) {
			for _, rate := range day {
				if lowest == nil || rate.Price.LessThan(*lowest) {
					lowest = &rate.Price
				}
				if highest == nil || rate.Price.GreaterThan(*highest) {
					highest = &rate.Price
				}
				// On the DST fall-back day the repeated hour lands on the same
				// slot, the later interval wins.
				if i, ok := chartjs.SlotIndex(rate.Time); ok {
					ds.Data[i] = chartjs.FixedFloat64(rate.Price.InexactFloat64(), 4)
				}
			}
		}
		fill(&chart.Data.Datasets[0], src.RatesToday())
		fill(&chart.Data.Datasets[1], src.RatesTomorrow())

		scale := chart.Options.Scales[chartjs.PriceAxis].WithTitle("Export price (" + coordinator.Unit + ")")
		if lowest != nil {
			// whole pence, never above zero at the bottom
			low := decimal.Min(decimal.Zero, lowest.Shift(2).Floor().Shift(-2))
			high := highest.Shift(2).Ceil().Shift(-2)
			scale = scale.WithMinAndMax(low.InexactFloat64(), high.InexactFloat64())
		}
		chart.Options.Scales[chartjs.PriceAxis] = scale

		writeJSON(logger, w, http.StatusOK, chart)
	}
}
