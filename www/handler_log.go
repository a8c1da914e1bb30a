package www

import (
	"log/slog"
	"net/http"

	"github.com/angas/agile-export/logging"
)

type logResponse struct {
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
	Entries  []logging.Entry `json:"entries"`
}

// NewLogHandler serves recent log records, newest first.
// Query: page (from 1), pageSize, level (DEBUG, INFO, WARN, ERROR).
func NewLogHandler(logger *slog.Logger, ring *logging.RingHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := max(intOrDefault(r.URL, "page", 1), 1)
		pageSize := intOrDefault(r.URL, "pageSize", 25)
		if pageSize < 1 {
			pageSize = 25
		}

		level := slog.LevelDebug
		if l := r.URL.Query().Get("level"); l != "" {
			level = logging.LevelFromString(&l)
		}

		writeJSON(logger, w, http.StatusOK, logResponse{
			Page:     page,
			PageSize: pageSize,
			Entries:  ring.Entries(level, page, pageSize),
		})
	}
}
