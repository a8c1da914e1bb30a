package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angas/agile-export/metrics"
	"github.com/angas/agile-export/octopus"
	"github.com/angas/agile-export/rates"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTariff = octopus.Tariff{ProductCode: "AGILE-OUTGOING-19-05-13", TariffCode: "E-1R-AGILE-OUTGOING-19-05-13-A"}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fetch func(ctx context.Context) (*rates.Table, error)
}

func (f *fakeFetcher) FetchRates(ctx context.Context, tariff octopus.Tariff) (*rates.Table, error) {
	f.mu.Lock()
	f.calls++
	fetch := f.fetch
	f.mu.Unlock()
	return fetch(ctx)
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func returning(tbl *rates.Table, err error) func(context.Context) (*rates.Table, error) {
	return func(context.Context) (*rates.Table, error) { return tbl, err }
}

func at(day, hour, minute int) time.Time {
	return time.Date(2023, time.June, day, hour, minute, 0, 0, time.UTC)
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleTable() *rates.Table {
	return rates.New([]rates.Rate{
		{Start: at(2, 0, 0), Price: d("7")},
		{Start: at(1, 12, 30), Price: d("14.0")},
		{Start: at(1, 12, 0), Price: d("15.3")},
	})
}

func newTestCoordinator(f *fakeFetcher, now time.Time) *Coordinator {
	c := New(slog.New(slog.NewTextHandler(io.Discard, nil)), f, testTariff, time.UTC)
	c.now = func() time.Time { return now }
	return c
}

func TestRefreshReplacesCache(t *testing.T) {
	f := &fakeFetcher{fetch: returning(sampleTable(), nil)}
	c := newTestCoordinator(f, at(1, 12, 17))

	tbl, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Len())
	assert.Same(t, tbl, c.Rates())

	all := tbl.All()
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Start.Before(all[i].Start))
	}

	status := c.Status()
	assert.Equal(t, 3, status.Entries)
	assert.Equal(t, at(1, 12, 17), status.LastRefresh)
	assert.Empty(t, status.LastError)
}

func TestRefreshFailureKeepsCache(t *testing.T) {
	f := &fakeFetcher{fetch: returning(sampleTable(), nil)}
	c := newTestCoordinator(f, at(1, 12, 17))

	first, err := c.Refresh(context.Background())
	require.NoError(t, err)

	networkErr := errors.New("connection refused")
	f.fetch = returning(nil, networkErr)

	_, err = c.Refresh(context.Background())
	var refreshErr *RefreshFailedError
	require.ErrorAs(t, err, &refreshErr)
	assert.ErrorIs(t, err, networkErr)

	assert.Same(t, first, c.Rates())
	price, err := c.CurrentPrice()
	require.NoError(t, err)
	assert.True(t, d("15.3").Equal(price))
	assert.Equal(t, "connection refused", c.Status().LastError)
}

func TestFirstRefreshFailureLeavesCacheEmpty(t *testing.T) {
	f := &fakeFetcher{fetch: returning(nil, &octopus.HTTPError{StatusCode: 503})}
	c := newTestCoordinator(f, at(1, 12, 17))

	_, err := c.Refresh(context.Background())
	var refreshErr *RefreshFailedError
	require.ErrorAs(t, err, &refreshErr)
	var httpErr *octopus.HTTPError
	assert.ErrorAs(t, err, &httpErr)
	assert.Nil(t, c.Rates())
}

func TestRefreshRecoversPanic(t *testing.T) {
	f := &fakeFetcher{fetch: func(context.Context) (*rates.Table, error) { panic("unexpected") }}
	c := newTestCoordinator(f, at(1, 12, 17))

	_, err := c.Refresh(context.Background())
	var refreshErr *RefreshFailedError
	assert.ErrorAs(t, err, &refreshErr)
}

func TestRefreshAppliesTimeout(t *testing.T) {
	f := &fakeFetcher{fetch: func(ctx context.Context) (*rates.Table, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := newTestCoordinator(f, at(1, 12, 17))
	c.timeout = 20 * time.Millisecond

	_, err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentRefreshesAreCoalesced(t *testing.T) {
	release := make(chan struct{})
	var inFlight, maxInFlight atomic.Int32
	f := &fakeFetcher{fetch: func(context.Context) (*rates.Table, error) {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		<-release
		inFlight.Add(-1)
		return sampleTable(), nil
	}}
	c := newTestCoordinator(f, at(1, 12, 17))

	var wg sync.WaitGroup
	results := make([]*rates.Table, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tbl, err := c.Refresh(context.Background())
			assert.NoError(t, err)
			results[i] = tbl
		}()
	}

	require.Eventually(t, func() bool { return f.Calls() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	for _, tbl := range results {
		assert.NotNil(t, tbl)
	}
}

func TestRefreshAfterCloseIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	f := &fakeFetcher{fetch: func(context.Context) (*rates.Table, error) {
		<-release
		return sampleTable(), nil
	}}
	c := newTestCoordinator(f, at(1, 12, 17))

	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return f.Calls() == 1 }, time.Second, 5*time.Millisecond)
	c.Close()
	close(release)

	assert.ErrorIs(t, <-done, ErrClosed)
	assert.Nil(t, c.Rates())

	_, err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 1, f.Calls())
}

func TestCurrentPrice(t *testing.T) {
	f := &fakeFetcher{fetch: returning(sampleTable(), nil)}

	tests := []struct {
		name     string
		now      time.Time
		expected string
	}{
		{"first half of the hour", at(1, 12, 17), "15.3"},
		{"second half of the hour", at(1, 12, 31), "14.0"},
		{"exactly on the boundary", at(1, 12, 30), "14.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoordinator(f, tt.now)
			_, err := c.Refresh(context.Background())
			require.NoError(t, err)

			price, err := c.CurrentPrice()
			require.NoError(t, err)
			assert.True(t, d(tt.expected).Equal(price), "expected %s, got %s", tt.expected, price)
		})
	}
}

// A missing rate is an error, never a zero price.
func TestCurrentPriceNotAvailable(t *testing.T) {
	f := &fakeFetcher{fetch: returning(sampleTable(), nil)}

	c := newTestCoordinator(f, at(1, 12, 17))
	_, err := c.CurrentPrice()
	assert.ErrorIs(t, err, ErrRateNotAvailable, "before the first refresh")

	c = newTestCoordinator(f, at(1, 13, 5))
	_, err = c.Refresh(context.Background())
	require.NoError(t, err)
	_, err = c.CurrentPrice()
	assert.ErrorIs(t, err, ErrRateNotAvailable, "data gap")
}

func TestRatesTodayAndTomorrow(t *testing.T) {
	f := &fakeFetcher{fetch: returning(sampleTable(), nil)}
	c := newTestCoordinator(f, at(1, 12, 17))
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	today := c.RatesToday()
	require.Len(t, today, 2)
	assert.Equal(t, "12:00", today[0].Time)
	assert.Equal(t, "12:30", today[1].Time)

	tomorrow := c.RatesTomorrow()
	require.Len(t, tomorrow, 1)
	assert.Equal(t, "00:00", tomorrow[0].Time)
	assert.True(t, d("7").Equal(tomorrow[0].Price))

	assert.Equal(t, "12:00", c.CurrentSlot())
}

func TestRatesTodayUsesViewerZone(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	f := &fakeFetcher{fetch: returning(sampleTable(), nil)}
	c := New(slog.New(slog.NewTextHandler(io.Discard, nil)), f, testTariff, london)
	c.now = func() time.Time { return at(1, 23, 30) } // 00:30 on June 2nd in London
	_, err = c.Refresh(context.Background())
	require.NoError(t, err)

	today := c.RatesToday()
	require.Len(t, today, 1)
	assert.Equal(t, "01:00", today[0].Time)
	assert.Empty(t, c.RatesTomorrow())
	assert.Equal(t, "00:30", c.CurrentSlot())
}

func TestRefreshTaskSwallowsErrors(t *testing.T) {
	f := &fakeFetcher{fetch: returning(sampleTable(), nil)}
	c := newTestCoordinator(f, at(1, 12, 17))
	task := c.RefreshTask()

	task()
	require.Equal(t, 3, c.Rates().Len())

	f.fetch = returning(nil, octopus.ErrTimeout)
	assert.NotPanics(t, task)
	assert.Equal(t, 3, c.Rates().Len())
	assert.Equal(t, 2, f.Calls())
}

func TestSnapshot(t *testing.T) {
	f := &fakeFetcher{fetch: returning(sampleTable(), nil)}
	c := newTestCoordinator(f, at(1, 12, 31))

	s := c.Snapshot()
	assert.Nil(t, s.CurrentPrice)
	assert.NotEmpty(t, s.Error)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	s = c.Snapshot()
	require.NotNil(t, s.CurrentPrice)
	assert.True(t, d("14").Equal(*s.CurrentPrice))
	assert.Equal(t, "12:30", s.CurrentSlot)
	assert.Equal(t, Unit, s.Unit)
	assert.Len(t, s.RatesToday, 2)
	assert.Len(t, s.RatesTomorrow, 1)
	assert.Empty(t, s.Error)
}

func TestFirstRefreshUnwrapsCause(t *testing.T) {
	f := &fakeFetcher{fetch: returning(nil, octopus.ErrTimeout)}
	c := newTestCoordinator(f, at(1, 12, 17))

	err := c.FirstRefresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, octopus.ErrTimeout)
	var refreshErr *RefreshFailedError
	assert.False(t, errors.As(err, &refreshErr))
	assert.ErrorIs(t, c.LastError(), octopus.ErrTimeout)
	assert.True(t, c.LastRefresh().IsZero())

	f.fetch = returning(sampleTable(), nil)
	require.NoError(t, c.FirstRefresh(context.Background()))
	assert.NoError(t, c.LastError())
	assert.Equal(t, at(1, 12, 17), c.LastRefresh())
}

func TestSnapshotDropsPriceGaugeInGap(t *testing.T) {
	exposed := func() string {
		rec := httptest.NewRecorder()
		metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return rec.Body.String()
	}
	series := `agile_export_current_price{tariff="` + testTariff.TariffCode + `"}`

	f := &fakeFetcher{fetch: returning(sampleTable(), nil)}
	now := at(1, 12, 31)
	c := newTestCoordinator(f, now)
	c.now = func() time.Time { return now }
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	c.Snapshot()
	assert.Contains(t, exposed(), series)

	now = at(1, 13, 5)
	c.Snapshot()
	assert.NotContains(t, exposed(), series)
}
