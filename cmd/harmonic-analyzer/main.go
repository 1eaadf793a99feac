// Command harmonic-analyzer consumes uploaded-audio work items from MQTT,
// estimates the musical key of each track and records the results.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/RyanBlaney/harmonic-analyzer/algorithms/tonal"
	"github.com/RyanBlaney/harmonic-analyzer/analyzer"
	"github.com/RyanBlaney/harmonic-analyzer/bus"
	"github.com/RyanBlaney/harmonic-analyzer/config"
	"github.com/RyanBlaney/harmonic-analyzer/logging"
	"github.com/RyanBlaney/harmonic-analyzer/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal(err, "Failed to load configuration", logging.Fields{"path": *configPath})
	}

	logger := newLogger(cfg)

	// A bad reference profile is a build defect, so refuse to start
	estimator, err := tonal.NewKeyEstimator(logger)
	if err != nil {
		if errors.Is(err, tonal.ErrDegenerateProfile) {
			logger.Fatal(err, "Mode profile table is degenerate")
		}
		logger.Fatal(err, "Failed to build key estimator")
	}

	results, err := store.OpenResultStore(cfg.Store.ResultsPath)
	if err != nil {
		logger.Fatal(err, "Failed to open result store", logging.Fields{"path": cfg.Store.ResultsPath})
	}
	defer results.Close()

	ledger, err := store.OpenLedger(cfg.Store.LedgerPath)
	if err != nil {
		logger.Fatal(err, "Failed to open ledger", logging.Fields{"path": cfg.Store.LedgerPath})
	}
	defer ledger.Close()

	source, err := analyzer.NewChromaSource(cfg.Analysis.ChromaSource)
	if err != nil {
		logger.Fatal(err, "Invalid chroma source")
	}

	svc := analyzer.New(estimator, source, results, ledger, logger, analyzer.Options{
		TopEstimates:  cfg.Analysis.TopEstimates,
		LowConfidence: cfg.Analysis.LowConfidence,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := bus.New(bus.Options{
		BrokerURL:       cfg.BrokerURL(),
		ClientID:        cfg.Broker.ClientID,
		Username:        cfg.Broker.Username,
		Password:        cfg.Broker.Password,
		Topic:           cfg.Broker.Topic,
		ResultTopic:     cfg.Broker.ResultTopic,
		QoS:             cfg.Broker.QoS,
		KeepAlive:       cfg.Broker.KeepAlive,
		ConnectTimeout:  cfg.Broker.ConnectTimeout,
		Workers:         cfg.Service.Workers,
		QueueDepth:      cfg.Service.QueueDepth,
		MaxPayloadBytes: cfg.Service.MaxPayloadBytes,
		HandlerTimeout:  cfg.Service.HandlerTimeout,
	}, svc.Handle, logger)

	logger.Info("Starting service", logging.Fields{
		"name":        cfg.Service.Name,
		"broker":      cfg.BrokerURL(),
		"topic":       cfg.Broker.Topic,
		"workers":     cfg.Service.Workers,
		"max_payload": humanize.Bytes(uint64(cfg.Service.MaxPayloadBytes)),
	})

	if err := client.Start(ctx); err != nil {
		logger.Fatal(err, "Failed to start message bus")
	}

	go svc.RunStats(ctx, cfg.Service.StatsInterval)
	go purgeLedger(ctx, ledger, cfg.Store.LedgerTTL, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal, shutting down", logging.Fields{"signal": sig.String()})

	// Stop intake first so in-flight work can still reach the stores
	client.Stop()
	cancel()

	handled, dropped, failed := client.Counters()
	logger.Info("Service stopped", logging.Fields{
		"handled": humanize.Comma(int64(handled)),
		"dropped": humanize.Comma(int64(dropped)),
		"failed":  humanize.Comma(int64(failed)),
	})
}

// newLogger installs the global logger. Colors follow the terminal unless
// the config says otherwise.
func newLogger(cfg *config.Config) logging.Logger {
	logging.SetGlobalLogger(logging.NewDefaultLogger())
	if cfg.Logging.Colors != nil {
		if *cfg.Logging.Colors {
			logging.EnableColors()
		} else {
			logging.DisableColors()
		}
	}
	logging.SetLevel(cfg.LogLevel())
	return logging.GetGlobalLogger()
}

// purgeLedger drops processed ids older than ttl, once at startup and then
// every ttl/4
func purgeLedger(ctx context.Context, ledger *store.Ledger, ttl time.Duration, logger logging.Logger) {
	interval := max(ttl/4, time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		removed, err := ledger.Purge(time.Now().Add(-ttl))
		if err != nil {
			logger.Error(err, "Ledger purge failed")
		} else if removed > 0 {
			logger.Info("Purged ledger", logging.Fields{"removed": humanize.Comma(int64(removed))})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
