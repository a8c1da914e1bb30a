package integration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/angas/agile-export/coordinator"
	"github.com/angas/agile-export/octopus"
	"github.com/angas/agile-export/rates"
	"github.com/angas/agile-export/scheduler"
)

// TariffAPI is the remote data source, normally an *octopus.Client.
type TariffAPI interface {
	DiscoverExportProduct(ctx context.Context) (octopus.Product, error)
	FetchRates(ctx context.Context, tariff octopus.Tariff) (*rates.Table, error)
	Close()
}

type Options struct {
	Region       string
	Location     *time.Location // Zone of the day views, nil means local
	PollInterval time.Duration  // Zero means coordinator.DefaultPollInterval
	Timeout      time.Duration  // Budget of one refresh, zero means coordinator.DefaultTimeout
}

func (o Options) pollInterval() time.Duration {
	if o.PollInterval <= 0 {
		return coordinator.DefaultPollInterval
	}
	return o.PollInterval
}

// Listener receives the state of the entry at setup and on every half hour.
type Listener func(coordinator.Snapshot)

// Entry is one configured region with its running coordinator and jobs.
type Entry struct {
	logger      *slog.Logger
	api         TariffAPI
	options     Options
	region      octopus.Region
	product     octopus.Product
	coordinator *coordinator.Coordinator
	scheduler   *scheduler.Scheduler
	poll        *scheduler.Handle
	tick        *scheduler.Handle

	mu        sync.Mutex
	listeners []Listener
	teardown  sync.Once
}

// Setup validates the options, discovers the export product, makes the first
// refresh and starts the jobs. A bad region fails with ErrInvalidConfig, any
// remote failure with a *NotReadyError.
func Setup(ctx context.Context, api TariffAPI, options Options) (*Entry, error) {
	logger := slog.Default().With("module", "integration")

	region, err := octopus.ParseRegion(options.Region)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	product, err := api.DiscoverExportProduct(ctx)
	if err != nil {
		return nil, &NotReadyError{Stage: "product discovery", Cause: err}
	}
	tariff, err := product.Tariff(region)
	if err != nil {
		return nil, &NotReadyError{Stage: "tariff lookup", Cause: err}
	}

	coord := coordinator.New(logger.With(slog.String("tariff", tariff.TariffCode)), api, tariff, options.Location)
	coord.SetTimeout(options.Timeout)
	if err := coord.FirstRefresh(ctx); err != nil {
		coord.Close()
		return nil, &NotReadyError{Stage: "first refresh", Cause: err}
	}

	e := &Entry{
		logger:      logger.With(slog.String("region", string(region))),
		api:         api,
		options:     options,
		region:      region,
		product:     product,
		coordinator: coord,
		scheduler:   scheduler.New(logger),
	}

	if e.poll, err = e.scheduler.Every("refresh", options.pollInterval(), coord.RefreshTask()); err != nil {
		coord.Close()
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if e.tick, err = e.scheduler.AtHalfHours("half hour update", e.notify); err != nil {
		coord.Close()
		return nil, err
	}
	e.scheduler.Start()

	e.logger.Info("integration set up",
		slog.String("product", product.Code),
		slog.String("tariff", tariff.TariffCode),
		slog.Int("entries", coord.Rates().Len()),
		slog.Duration("pollInterval", options.pollInterval()))

	return e, nil
}

// Teardown stops the jobs, discards any refresh in flight and releases the
// HTTP session. Safe to call more than once.
func (e *Entry) Teardown() {
	e.teardown.Do(func() {
		e.poll.Cancel()
		e.tick.Cancel()
		<-e.scheduler.Stop().Done()
		e.coordinator.Close()
		e.api.Close()
		e.logger.Info("integration torn down")
	})
}

// Reload tears the entry down and sets it up again with new options.
// Listeners are not carried over.
func Reload(ctx context.Context, e *Entry, options Options) (*Entry, error) {
	e.Teardown()
	return Setup(ctx, e.api, options)
}

// OnUpdate registers a listener and calls it right away with the current state.
func (e *Entry) OnUpdate(l Listener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
	l(e.coordinator.Snapshot())
}

func (e *Entry) notify() {
	e.mu.Lock()
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	if len(listeners) == 0 {
		return
	}
	snapshot := e.coordinator.Snapshot()
	e.logger.Debug("half hour update", slog.String("slot", snapshot.CurrentSlot), slog.Int("listeners", len(listeners)))
	for _, l := range listeners {
		l(snapshot)
	}
}

func (e *Entry) Coordinator() *coordinator.Coordinator {
	return e.coordinator
}

func (e *Entry) Region() octopus.Region {
	return e.region
}

func (e *Entry) Product() octopus.Product {
	return e.product
}

func (e *Entry) Options() Options {
	return e.options
}

// NextUpdate is when listeners are called next.
func (e *Entry) NextUpdate() time.Time {
	return e.tick.Next()
}

// ValidateInput checks that a region can be served: the product is
// discovered and one rate fetch succeeds, all within one request budget.
// Any failure is reported as ErrCannotConnect.
func ValidateInput(ctx context.Context, api TariffAPI, region string) (octopus.Tariff, error) {
	ctx, cancel := context.WithTimeout(ctx, octopus.DefaultTimeout)
	defer cancel()

	r, err := octopus.ParseRegion(region)
	if err != nil {
		return octopus.Tariff{}, fmt.Errorf("%w: %w", ErrCannotConnect, err)
	}
	product, err := api.DiscoverExportProduct(ctx)
	if err != nil {
		return octopus.Tariff{}, fmt.Errorf("%w: %w", ErrCannotConnect, err)
	}
	tariff, err := product.Tariff(r)
	if err != nil {
		return octopus.Tariff{}, fmt.Errorf("%w: %w", ErrCannotConnect, err)
	}
	if _, err := api.FetchRates(ctx, tariff); err != nil {
		return octopus.Tariff{}, fmt.Errorf("%w: %w", ErrCannotConnect, err)
	}
	return tariff, nil
}
