package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/angas/agile-export/metrics"
	"github.com/angas/agile-export/octopus"
	"github.com/angas/agile-export/rates"
	"github.com/angas/agile-export/slots"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = 900 * time.Second

	Unit = "GBP/kWh"
)

type RateFetcher interface {
	FetchRates(ctx context.Context, tariff octopus.Tariff) (*rates.Table, error)
}

// Coordinator owns the cached rate table of one tariff. The table is only
// replaced by Refresh, always as a whole.
type Coordinator struct {
	logger   *slog.Logger
	fetcher  RateFetcher
	tariff   octopus.Tariff
	location *time.Location
	timeout  time.Duration
	now      func() time.Time
	group    singleflight.Group

	mu          sync.RWMutex
	cache       *rates.Table
	lastRefresh time.Time
	lastErr     error
	closed      bool
}

// New creates a coordinator with an empty cache. Day views are computed in
// location, nil means the local zone.
func New(logger *slog.Logger, fetcher RateFetcher, tariff octopus.Tariff, location *time.Location) *Coordinator {
	if location == nil {
		location = time.Local
	}
	return &Coordinator{
		logger:   logger,
		fetcher:  fetcher,
		tariff:   tariff,
		location: location,
		timeout:  DefaultTimeout,
		now:      time.Now,
	}
}

// SetTimeout changes the budget of a single refresh. Must be called before
// the first refresh.
func (c *Coordinator) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

func (c *Coordinator) Tariff() octopus.Tariff {
	return c.tariff
}

func (c *Coordinator) Location() *time.Location {
	return c.location
}

// Refresh fetches the rates and replaces the cache. Calls made while a fetch
// is in flight wait for and share its result. On failure the cache is kept
// and a *RefreshFailedError is returned.
func (c *Coordinator) Refresh(ctx context.Context) (*rates.Table, error) {
	v, err, shared := c.group.Do("refresh", func() (any, error) {
		return c.refresh(ctx)
	})
	if shared {
		c.logger.Debug("refresh coalesced with one in flight")
	}
	if err != nil {
		return nil, err
	}
	return v.(*rates.Table), nil
}

// FirstRefresh is the refresh made during setup. Unlike the scheduled one its
// failure is reported with the cause unwrapped, so setup can tell a timeout
// from a server error.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	_, err := c.Refresh(ctx)
	var refreshErr *RefreshFailedError
	if errors.As(err, &refreshErr) {
		return fmt.Errorf("first refresh of %s: %w", c.tariff, refreshErr.Cause)
	}
	return err
}

func (c *Coordinator) refresh(ctx context.Context) (tbl *rates.Table, err error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	defer func() {
		if r := recover(); r != nil {
			tbl, err = nil, c.fail(fmt.Errorf("panic while fetching rates: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	fetched, err := c.fetcher.FetchRates(ctx, c.tariff)
	if err == nil && fetched == nil {
		err = errors.New("fetcher returned no table")
	}
	if err != nil {
		return nil, c.fail(err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("discarding rates fetched after close")
		return nil, ErrClosed
	}
	c.cache = fetched
	c.lastRefresh = c.now()
	c.lastErr = nil
	c.mu.Unlock()

	metrics.ObserveRefresh(c.tariff.TariffCode, nil)
	metrics.RatesCached(c.tariff.TariffCode, fetched.Len())
	metrics.LastRefresh(c.tariff.TariffCode, c.lastRefreshTime())

	from, to := fetched.Span()
	c.logger.Info("rates refreshed",
		slog.Int("entries", fetched.Len()),
		slog.String("from", slots.IsoString(from)),
		slog.String("to", slots.IsoString(to)),
		slog.Duration("duration", time.Since(started)))

	return fetched, nil
}

func (c *Coordinator) fail(cause error) error {
	c.mu.Lock()
	if !c.closed {
		c.lastErr = cause
	}
	c.mu.Unlock()
	metrics.ObserveRefresh(c.tariff.TariffCode, cause)
	return &RefreshFailedError{Cause: cause}
}

// RefreshTask returns the job run on every poll. Failures are logged and the
// previous rates stay authoritative.
func (c *Coordinator) RefreshTask() func() {
	return func() {
		c.logger.Debug("running scheduled refresh...")
		if _, err := c.Refresh(context.Background()); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			c.logger.Error("scheduled refresh failed, keeping previous rates",
				slog.Int("cachedEntries", c.Rates().Len()),
				slog.Any("error", err))
		}
	}
}

// Close discards the result of any refresh still in flight and rejects new ones.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *Coordinator) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Rates returns the cached table, nil before the first successful refresh.
func (c *Coordinator) Rates() *rates.Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache
}

func (c *Coordinator) lastRefreshTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

// LastRefresh is the time of the last successful refresh, zero if none.
func (c *Coordinator) LastRefresh() time.Time {
	return c.lastRefreshTime()
}

// LastError is the cause of the last failed refresh, nil once a refresh succeeds.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// CurrentPrice returns the price of the half hour interval we are in.
// A missing rate is an error (ErrRateNotAvailable), never a zero price.
func (c *Coordinator) CurrentPrice() (decimal.Decimal, error) {
	return c.PriceAt(c.now())
}

func (c *Coordinator) PriceAt(t time.Time) (decimal.Decimal, error) {
	tbl := c.Rates()
	start := slots.Start(t)
	if tbl.Len() == 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: no rates cached", ErrRateNotAvailable)
	}
	price, ok := tbl.Get(start)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: no rate for interval %s", ErrRateNotAvailable, slots.IsoString(start))
	}
	return price, nil
}

// RatesToday returns today's rates keyed by local HH:MM in the viewer's zone.
func (c *Coordinator) RatesToday() []rates.LocalRate {
	today := rates.LocalDate(c.now(), c.location)
	return rates.ForLocalDate(c.Rates(), today, c.location)
}

func (c *Coordinator) RatesTomorrow() []rates.LocalRate {
	tomorrow := rates.LocalDate(c.now(), c.location).AddDays(1)
	return rates.ForLocalDate(c.Rates(), tomorrow, c.location)
}

// CurrentSlot is the local HH:MM start of the current interval.
func (c *Coordinator) CurrentSlot() string {
	return slots.LocalClock(slots.Start(c.now()), c.location)
}

type Status struct {
	Tariff      string    `json:"tariff"`
	Entries     int       `json:"entries"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	LastRefresh time.Time `json:"last_refresh"`
	LastError   string    `json:"last_error,omitempty"`
}

func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	from, to := c.cache.Span()
	s := Status{
		Tariff:      c.tariff.String(),
		Entries:     c.cache.Len(),
		From:        from,
		To:          to,
		LastRefresh: c.lastRefresh,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// Snapshot is everything a presentation adapter shows at a given moment.
type Snapshot struct {
	Tariff        string            `json:"tariff"`
	CurrentPrice  *decimal.Decimal  `json:"current_price"`
	CurrentSlot   string            `json:"current_slot"`
	Unit          string            `json:"unit"`
	RatesToday    []rates.LocalRate `json:"rates_today"`
	RatesTomorrow []rates.LocalRate `json:"rates_tomorrow"`
	LastRefresh   time.Time         `json:"last_refresh"`
	Error         string            `json:"error,omitempty"`
}

func (c *Coordinator) Snapshot() Snapshot {
	s := Snapshot{
		Tariff:        c.tariff.String(),
		CurrentSlot:   c.CurrentSlot(),
		Unit:          Unit,
		RatesToday:    c.RatesToday(),
		RatesTomorrow: c.RatesTomorrow(),
		LastRefresh:   c.lastRefreshTime(),
	}
	price, err := c.CurrentPrice()
	if err != nil {
		s.Error = err.Error()
		metrics.ClearCurrentPrice(c.tariff.TariffCode)
	} else {
		s.CurrentPrice = &price
		metrics.CurrentPrice(c.tariff.TariffCode, price.InexactFloat64())
	}
	return s
}
