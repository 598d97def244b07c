// Package main runs one CZDS harvest and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/czds-harvester/internal/api"
	"github.com/JakeFAU/czds-harvester/internal/auth"
	"github.com/JakeFAU/czds-harvester/internal/clock/system"
	"github.com/JakeFAU/czds-harvester/internal/config"
	"github.com/JakeFAU/czds-harvester/internal/harvest"
	"github.com/JakeFAU/czds-harvester/internal/httpclient"
	"github.com/JakeFAU/czds-harvester/internal/id/uuid"
	"github.com/JakeFAU/czds-harvester/internal/links"
	"github.com/JakeFAU/czds-harvester/internal/loader"
	"github.com/JakeFAU/czds-harvester/internal/logging"
	"github.com/JakeFAU/czds-harvester/internal/metrics"
	"github.com/JakeFAU/czds-harvester/internal/pipeline"
	"github.com/JakeFAU/czds-harvester/internal/probe"
	collyprobe "github.com/JakeFAU/czds-harvester/internal/probe/colly"
	"github.com/JakeFAU/czds-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/czds-harvester/internal/storage"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 1
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := run(ctx, cfg, logger)
	if err != nil {
		logger.Error("harvester setup failed", zap.Error(err))
		return 1
	}

	if cfg.Metrics.PushgatewayURL != "" {
		if err := metrics.Push(context.Background(), cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			logger.Warn("metrics push failed", zap.Error(err))
		}
	}
	if !report.Succeeded() {
		return 1
	}
	return 0
}

// logServeErrors reports ops server failures until errs is closed.
func logServeErrors(errs <-chan error, logger *zap.Logger) {
	for err := range errs {
		logger.Warn("ops server stopped", zap.Error(err))
	}
}

// run wires the stages from cfg, executes one harvest and logs its report.
func run(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Report, error) {
	clock := system.New()

	initial, maxWait := cfg.HTTP.Backoff()
	var retry httpclient.RetryPolicy
	if cfg.HTTP.MaxRetries > 0 {
		retry = httpclient.NewExponentialRetryPolicy(cfg.HTTP.MaxRetries, initial, maxWait)
	}
	client := httpclient.New(httpclient.Config{
		Timeout:      cfg.HTTP.Timeout,
		UserAgent:    cfg.HTTP.UserAgent,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Transport:    metrics.InstrumentRoundTripper(httpclient.NewTransport()),
		Retry:        retry,
	}, logging.Stage(logger, "http"))

	var backend probe.Backend = client
	if cfg.Harvest.ProbeBackend == "colly" {
		backend = collyprobe.New(collyprobe.Config{
			UserAgent: client.UserAgent(),
			Timeout:   cfg.HTTP.ProbeTimeout,
			Transport: client.Transport(),
		})
	}

	store, closeStore, err := storage.Open(ctx, storage.Options{
		Backend:      cfg.Store.Backend,
		Connection:   cfg.StoreConnection,
		Collection:   cfg.Store.Collection,
		MaxConns:     cfg.Store.MaxConns,
		EnsureSchema: cfg.Store.EnsureSchema,
		GCSBucket:    cfg.Store.GCSBucket,
		GCSPrefix:    cfg.Store.GCSPrefix,
	})
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("open snapshot store: %w", err)
	}
	defer closeStore()

	var publisher harvest.Publisher
	if cfg.PubSub.TopicName != "" {
		pub, closePub, err := pubsub.Open(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName,
			map[string]string{"source": logging.Service})
		if err != nil {
			return pipeline.Report{}, fmt.Errorf("open pubsub publisher: %w", err)
		}
		defer closePub()
		publisher = pub
	}

	tracker := api.NewTracker(clock)
	if cfg.Server.ListenAddr != "" {
		serveCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		_, serveErrs, err := api.NewServer(tracker, logging.Stage(logger, "api")).Serve(serveCtx, cfg.Server.ListenAddr)
		if err != nil {
			return pipeline.Report{}, err
		}
		go logServeErrors(serveErrs, logger)
	}

	runner := pipeline.New(pipeline.Dependencies{
		Authenticator: auth.New(client.WithoutRetry(), auth.Config{
			URL:      cfg.Auth.URL,
			TokenTTL: cfg.Auth.TokenTTL,
		}, clock, logging.Stage(logger, "auth")),
		Enumerator: links.New(client, cfg.API.LinksURL, clock, logging.Stage(logger, "links")),
		Prober: probe.New(backend, probe.Config{
			Concurrency: cfg.Harvest.Concurrency,
			Timeout:     cfg.HTTP.ProbeTimeout,
		}, clock, logging.Stage(logger, "probe")),
		Loader:    loader.New(store, cfg.Store.WriteTimeout, logging.Stage(logger, "loader")),
		Publisher: publisher,
		Clock:     clock,
		IDs:       uuid.New(),
		Observer:  tracker.Observe,
	}, pipeline.Config{
		Credentials:         harvest.Credentials{Username: cfg.Username, Password: cfg.Password},
		MaxLinks:            cfg.Harvest.MaxLinks,
		DegradedEnumeration: cfg.Harvest.DegradedEnumeration,
	}, logging.Stage(logger, "pipeline"))

	report := runner.Run(ctx)
	if report.Succeeded() {
		logger.Info("harvest finished", report.Fields()...)
	} else {
		logger.Error("harvest failed", report.Fields()...)
	}
	return report, nil
}
