package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var refreshCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agile_export",
	Name:      "refresh_total",
	Help:      "Number of rate refreshes by result.",
}, []string{"tariff", "result"})

var ratesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "agile_export",
	Name:      "rates_cached",
	Help:      "Number of half hourly rates in the cache.",
}, []string{"tariff"})

var lastRefreshGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "agile_export",
	Name:      "last_refresh_timestamp_seconds",
	Help:      "Unix time of the last successful refresh.",
}, []string{"tariff"})

var currentPriceGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "agile_export",
	Name:      "current_price",
	Help:      "Export price of the current half hour in GBP/kWh.",
}, []string{"tariff"})

func ObserveRefresh(tariff string, err error) {
	if len(tariff) == 0 {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	refreshCounter.With(prometheus.Labels{"tariff": tariff, "result": result}).Inc()
}

func RatesCached(tariff string, count int) {
	if len(tariff) == 0 {
		return
	}
	ratesGauge.With(prometheus.Labels{"tariff": tariff}).Set(float64(count))
}

func LastRefresh(tariff string, t time.Time) {
	if len(tariff) == 0 || t.IsZero() {
		return
	}
	lastRefreshGauge.With(prometheus.Labels{"tariff": tariff}).Set(float64(t.Unix()))
}

func CurrentPrice(tariff string, price float64) {
	if len(tariff) == 0 {
		return
	}
	currentPriceGauge.With(prometheus.Labels{"tariff": tariff}).Set(price)
}

// ClearCurrentPrice drops the series while no rate covers the current interval.
func ClearCurrentPrice(tariff string) {
	currentPriceGauge.Delete(prometheus.Labels{"tariff": tariff})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
