package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"forager/cache"
	"forager/config"
	"forager/discovery"
	"forager/dispatcher"
	"forager/logging"
	"forager/refine"
	"forager/relevance"
	"forager/search"

	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		return emit(discovery.Failed(discovery.ErrNoArguments.Error()))
	}
	req, err := discovery.ParseRequest([]byte(os.Args[1]))
	if err != nil {
		return emit(discovery.Failed(err.Error()))
	}

	// =========
	// Config
	// =========
	cfg, err := config.Load()
	if err != nil {
		return emit(discovery.Failed(fmt.Sprintf("config: %v", err)))
	}

	// =========
	// Logging
	// =========
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return emit(discovery.Failed(fmt.Sprintf("logger: %v", err)))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithTopic(logging.WithRunID(ctx), req.Topic)

	// =========
	// Settings
	// =========
	settings, err := config.LoadSettings(cfg.SettingsPath)
	switch {
	case errors.Is(err, config.ErrSettingsNotFound):
		logger.Warn("settings file not found, using keyless providers only", zap.String("path", cfg.SettingsPath))
		settings = config.DefaultSettings()
	case err != nil:
		logger.Error("failed to load settings", zap.String("path", cfg.SettingsPath), zap.Error(err))
		return emit(discovery.Failed(err.Error()))
	}

	// =========
	// Dispatcher
	// =========
	statePath, lockPath := cfg.DispatcherPaths()
	pacer := dispatcher.New(statePath, lockPath,
		dispatcher.WithLockTimeout(cfg.LockTimeout),
		dispatcher.WithLogger(logger),
	)

	// =========
	// Search
	// =========
	httpClient, err := search.NewHTTPClient(cfg.ProxyURL, 0)
	if err != nil {
		return emit(discovery.Failed(fmt.Sprintf("http client: %v", err)))
	}
	aggOpts := []search.AggregatorOption{
		search.WithHTTPClient(httpClient),
		search.WithLogger(logger),
		search.WithSearxngCooldown(cfg.SearxngCooldown),
	}
	if cfg.Trace {
		aggOpts = append(aggOpts, search.WithTrace(os.Stderr))
	}
	aggregator := search.NewAggregator(settings, pacer, aggOpts...)

	// =========
	// Evaluation and refinement
	// =========
	evaluator, err := relevance.NewEvaluator(relevance.DefaultOptions(), logger)
	if err != nil {
		return emit(discovery.Failed(fmt.Sprintf("evaluator: %v", err)))
	}
	synonyms, err := refine.LoadSynonyms(cfg.SynonymsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("no synonym table", zap.String("path", cfg.SynonymsPath))
		} else {
			logger.Warn("failed to load synonym table", zap.String("path", cfg.SynonymsPath), zap.Error(err))
		}
		synonyms = nil
	}
	refiner := refine.New(synonyms, logger)

	// =========
	// Result cache
	// =========
	opts := []discovery.Option{discovery.WithLogger(logger)}
	if resultCache, err := openCache(cfg, logger); err != nil {
		logger.Warn("result cache disabled", zap.String("backend", cfg.CacheBackend), zap.Error(err))
	} else {
		defer resultCache.Close()
		opts = append(opts, discovery.WithCache(resultCache))
	}

	outcome := discovery.New(aggregator, evaluator, refiner, opts...).Run(ctx, req)
	logger.Info("discovery finished",
		zap.String("run_id", logging.RunID(ctx)),
		zap.String("state", string(outcome.State)),
		zap.String("stop_reason", string(outcome.StopReason)),
		zap.Int("iterations", outcome.Iterations))
	return emit(outcome.Output)
}

func openCache(cfg *config.Config, logger *zap.Logger) (*cache.Cache, error) {
	switch cfg.CacheBackend {
	case config.CacheBackendBolt:
		store, err := cache.OpenBoltStore(filepath.Join(cfg.ResultCacheDir, cache.BoltFileName))
		if err != nil {
			return nil, err
		}
		return cache.New(store, logger), nil
	default:
		store, err := cache.NewFileStore(cfg.ResultCacheDir)
		if err != nil {
			return nil, err
		}
		return cache.New(store, logger), nil
	}
}

// emit writes the single JSON document on stdout. The exit code is zero
// whenever a document was written; failure is carried in the payload.
func emit(out discovery.Output) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		return 1
	}
	return 0
}
