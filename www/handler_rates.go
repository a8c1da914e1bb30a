package www

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/angas/agile-export/coordinator"
	"github.com/angas/agile-export/rates"
	"github.com/shopspring/decimal"
)

type sourceFunc func() Source

type currentPriceResponse struct {
	Tariff string          `json:"tariff"`
	Slot   string          `json:"slot"`
	Price  decimal.Decimal `json:"price"`
	Unit   string          `json:"unit"`
}

func NewCurrentPriceHandler(logger *slog.Logger, source sourceFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src := source()
		if src == nil {
			writeError(logger, w, http.StatusServiceUnavailable, errNotReady)
			return
		}

		price, err := src.CurrentPrice()
		switch {
		case errors.Is(err, coordinator.ErrRateNotAvailable):
			writeError(logger, w, http.StatusNotFound, err)
			return
		case err != nil:
			logger.Error("handling current price request", slog.Any("error", err))
			writeError(logger, w, http.StatusInternalServerError, err)
			return
		}

		writeJSON(logger, w, http.StatusOK, currentPriceResponse{
			Tariff: src.Status().Tariff,
			Slot:   src.CurrentSlot(),
			Price:  price,
			Unit:   coordinator.Unit,
		})
	}
}

// NewRatesHandler serves one day view, ordered by interval start.
func NewRatesHandler(logger *slog.Logger, source sourceFunc, view func(Source) []rates.LocalRate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src := source()
		if src == nil {
			writeError(logger, w, http.StatusServiceUnavailable, errNotReady)
			return
		}
		writeJSON(logger, w, http.StatusOK, view(src))
	}
}

func NewStateHandler(logger *slog.Logger, source sourceFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src := source()
		if src == nil {
			writeError(logger, w, http.StatusServiceUnavailable, errNotReady)
			return
		}
		writeJSON(logger, w, http.StatusOK, src.Snapshot())
	}
}

func NewStatusHandler(logger *slog.Logger, source sourceFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src := source()
		if src == nil {
			writeError(logger, w, http.StatusServiceUnavailable, errNotReady)
			return
		}
		writeJSON(logger, w, http.StatusOK, src.Status())
	}
}

// NewRefreshHandler triggers a refresh, joining one already in flight. The
// refresh is not cancelled if the client goes away.
func NewRefreshHandler(logger *slog.Logger, source sourceFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src := source()
		if src == nil {
			writeError(logger, w, http.StatusServiceUnavailable, errNotReady)
			return
		}

		if _, err := src.Refresh(context.WithoutCancel(r.Context())); err != nil {
			logger.Warn("manual refresh failed", slog.Any("error", err))
			writeError(logger, w, http.StatusBadGateway, err)
			return
		}
		writeJSON(logger, w, http.StatusOK, src.Status())
	}
}
