package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/angas/agile-export/config"
	"github.com/angas/agile-export/integration"
	"github.com/angas/agile-export/logging"
	"github.com/angas/agile-export/mqttpub"
	"github.com/angas/agile-export/octopus"
	"github.com/angas/agile-export/slots"
	"github.com/angas/agile-export/www"
	"github.com/lmittmann/tint"
)

var Version = "?.?.?"

const setupRetryDelay = 30 * time.Second

func main() {
	defer func() {
		if err := recover(); err != nil {
			exitWithError(slog.Default(), fmt.Errorf("application panicked: %v", err))
		} else {
			slog.Default().Info("application is shutting down...")
		}
	}()

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cnfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	options, err := optionsFromConfig(cnfg)
	if err != nil {
		panic(err.Error())
	}
	if _, err := octopus.ParseRegion(options.Region); err != nil {
		panic(fmt.Sprintf("invalid config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consoleHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      cnfg.Logging.GetConsoleLevel(),
		TimeFormat: time.RFC3339,
	})
	ring := logging.NewRingHandler(
		cnfg.Logging.GetRingMaxEntries(),
		cnfg.Logging.GetRingLevel(),
		cnfg.Logging.GetRingAttrsFormat())
	logger := slog.New(logging.NewMultiHandler(consoleHandler, ring))
	slog.SetDefault(logger)
	logger.Debug("agile export is starting...", slog.String("version", Version))

	client := octopus.New(&http.Client{}, cnfg.Octopus.GetBaseURL())
	client.Timeout = cnfg.Octopus.GetTimeout()

	server := www.NewServer(cnfg.Api, ring, Version)

	var publisher *mqttpub.Publisher
	if cnfg.Mqtt.Enabled() {
		publisher = mqttpub.New(cnfg.Mqtt)
		if err := publisher.Connect(); err != nil {
			logger.Error("MQTT connection failed, not publishing", slog.Any("error", err))
			publisher = nil
		} else {
			defer publisher.Disconnect()
		}
	}

	a := &app{
		logger:    logger.With("module", "app"),
		client:    client,
		server:    server,
		publisher: publisher,
	}
	a.start(ctx, options)
	defer a.stop()

	config.Watch(func(c *config.AppConfig) {
		options, err := optionsFromConfig(c)
		if err != nil {
			a.logger.Error("ignoring config change", slog.Any("error", err))
			return
		}
		a.logger.Info("config changed, reloading", slog.String("region", options.Region))
		a.start(ctx, options)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("main context done")
		case sig := <-sigCh:
			logger.Info("received signal", slog.Any("signal", sig))
			cancel()
		}
	}()

	server.Run(ctx)
}

func optionsFromConfig(c *config.AppConfig) (integration.Options, error) {
	location, err := slots.LoadLocation(c.Gui.GetTimezone())
	if err != nil {
		return integration.Options{}, err
	}
	return integration.Options{
		Region:       c.Octopus.Region,
		Location:     location,
		PollInterval: c.Octopus.GetPollInterval(),
		Timeout:      c.Octopus.GetTimeout(),
	}, nil
}

// app owns the running integration entry. Every start supersedes the
// previous one, a setup still retrying for an older generation gives up.
type app struct {
	logger    *slog.Logger
	client    integration.TariffAPI
	server    *www.Server
	publisher *mqttpub.Publisher

	mu         sync.Mutex
	entry      *integration.Entry
	generation int
}

func (a *app) start(ctx context.Context, options integration.Options) {
	a.mu.Lock()
	a.generation++
	gen := a.generation
	previous := a.entry
	a.entry = nil
	if previous != nil {
		a.server.SetSource(nil)
	}
	a.mu.Unlock()

	go a.run(ctx, gen, previous, options)
}

func (a *app) run(ctx context.Context, gen int, previous *integration.Entry, options integration.Options) {
	var entry *integration.Entry
	var err error
	for {
		if previous != nil {
			entry, err = integration.Reload(ctx, previous, options)
			previous = nil
		} else {
			entry, err = integration.Setup(ctx, a.client, options)
		}
		if err == nil {
			break
		}
		if errors.Is(err, integration.ErrInvalidConfig) {
			a.logger.Error("integration can not be set up, fix the configuration", slog.Any("error", err))
			return
		}

		a.logger.Warn("integration not ready, retrying later",
			slog.Duration("retryIn", setupRetryDelay),
			slog.Any("error", err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(setupRetryDelay):
		}
		if a.superseded(gen) {
			return
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.generation || ctx.Err() != nil {
		entry.Teardown()
		return
	}
	a.entry = entry
	a.attach(entry)
}

func (a *app) attach(entry *integration.Entry) {
	a.server.SetSource(entry.Coordinator())
	entry.OnUpdate(a.server.Broadcast)
	if a.publisher != nil {
		region := string(entry.Region())
		entry.OnUpdate(a.publisher.Listener(func() string { return region }))
	}
	a.logger.Info("integration ready",
		slog.String("region", entry.Region().Label()),
		slog.String("product", entry.Product().DisplayName),
		slog.Time("nextUpdate", entry.NextUpdate()))
}

func (a *app) superseded(gen int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return gen != a.generation
}

func (a *app) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generation++
	if a.entry != nil {
		a.server.SetSource(nil)
		a.entry.Teardown()
		a.entry = nil
	}
}

func exitWithError(logger *slog.Logger, err error) {
	if err != nil {
		logger.Error("application shutting down with error", slog.Any("error", err))
	}
	time.Sleep(2 * time.Second)
	os.Exit(1)
}
