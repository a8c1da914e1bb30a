package www

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/angas/agile-export/config"
	"github.com/angas/agile-export/coordinator"
	"github.com/angas/agile-export/logging"
	"github.com/angas/agile-export/metrics"
	"github.com/angas/agile-export/rates"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Source is the rate data shown by the server, normally the coordinator of
// the running integration entry.
type Source interface {
	Snapshot() coordinator.Snapshot
	CurrentPrice() (decimal.Decimal, error)
	CurrentSlot() string
	RatesToday() []rates.LocalRate
	RatesTomorrow() []rates.LocalRate
	Status() coordinator.Status
	Refresh(ctx context.Context) (*rates.Table, error)
}

type Server struct {
	logger  *slog.Logger
	config  config.AppConfigApi
	hub     *Hub
	mux     *http.ServeMux
	sysInfo SysInfo

	mu     sync.RWMutex
	source Source
}

// NewServer sets up the routes. ring may be nil, then /log is not served.
func NewServer(config config.AppConfigApi, ring *logging.RingHandler, version string) *Server {
	logger := slog.Default().With("module", "www")

	s := &Server{
		logger:  logger,
		config:  config,
		hub:     NewHub(logger),
		mux:     http.NewServeMux(),
		sysInfo: SysInfo{Version: version, StartedAt: time.Now()},
	}

	go s.hub.Run()

	handlerLogger := func(name string) *slog.Logger {
		return logger.With(slog.String("handler", name))
	}

	s.mux.Handle("GET /api/current", NewCurrentPriceHandler(handlerLogger("current"), s.getSource))
	s.mux.Handle("GET /api/rates/today", NewRatesHandler(handlerLogger("rates_today"), s.getSource, Source.RatesToday))
	s.mux.Handle("GET /api/rates/tomorrow", NewRatesHandler(handlerLogger("rates_tomorrow"), s.getSource, Source.RatesTomorrow))
	s.mux.Handle("GET /api/state", NewStateHandler(handlerLogger("state"), s.getSource))
	s.mux.Handle("GET /api/status", NewStatusHandler(handlerLogger("status"), s.getSource))
	s.mux.Handle("POST /api/refresh", NewRefreshHandler(handlerLogger("refresh"), s.getSource))
	s.mux.Handle("GET /api/chart", NewChartHandler(handlerLogger("chart"), s.getSource))
	s.mux.Handle("GET /api/sys_info", NewSysInfoHandler(handlerLogger("sys_info"), s.sysInfo))
	s.mux.Handle("GET /metrics", metrics.Handler())
	if ring != nil {
		s.mux.Handle("GET /log", NewLogHandler(handlerLogger("log"), ring))
	}

	s.mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		name := fmt.Sprintf("%s (%s)", r.Header.Get("User-Agent"), uuid.NewString())
		client, err := NewClient(s.hub, w, r, name)
		if err != nil {
			s.logger.Error("new websocket client failed", slog.Any("error", err))
			return
		}
		// Queued before registering, the hub owns the channel after that.
		if src := s.getSource(); src != nil {
			s.send(client, src.Snapshot())
		}
		if !s.hub.register(client) {
			client.conn.Close()
			return
		}
		go client.WritePump()
		go client.ReadPump()
	})

	return s
}

// SetSource switches the data shown, nil until an integration entry is set up.
func (s *Server) SetSource(src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = src
}

func (s *Server) getSource() Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("url", r.URL.String()),
			slog.String("remoteAddr", r.RemoteAddr))
		s.mux.ServeHTTP(w, r)
	})
}

// Broadcast pushes the snapshot to every websocket client.
func (s *Server) Broadcast(snapshot coordinator.Snapshot) {
	buf, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Error("failed to encode snapshot", slog.Any("error", err))
		return
	}
	s.hub.publish(buf)
}

func (s *Server) send(c *Client, snapshot coordinator.Snapshot) {
	buf, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Error("failed to encode snapshot", slog.Any("error", err))
		return
	}
	select {
	case c.send <- buf:
	default:
	}
}

// Close disconnects all websocket clients.
func (s *Server) Close() {
	s.hub.Stop()
}

func (s *Server) Run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	s.logger.Info("starting server...", slog.String("addr", addr))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErrors := make(chan error, 1)

	go func() {
		srvErrors <- srv.ListenAndServe()
	}()

	defer s.Close()

	select {
	case err := <-srvErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", slog.Any("error", err))
		}

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown failed", slog.Any("error", err))
		}
	}
}
