package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"forager/cache"
	"forager/config"
	"forager/logging"
	"forager/scraper"
	"forager/search"

	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		return emit(scraper.Failed("No JSON payload provided to scraper"))
	}
	req, err := scraper.ParseRequest([]byte(os.Args[1]))
	if err != nil {
		return emit(scraper.Failed(err.Error()))
	}

	cfg, err := config.Load()
	if err != nil {
		return emit(scraper.Failed(fmt.Sprintf("config: %v", err)))
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return emit(scraper.Failed(fmt.Sprintf("logger: %v", err)))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithRunID(ctx)

	httpClient, err := search.NewHTTPClient(cfg.ProxyURL, 0)
	if err != nil {
		return emit(scraper.Failed(fmt.Sprintf("http client: %v", err)))
	}

	opts := []scraper.Option{scraper.WithLogger(logger)}
	if cfg.CacheBackend == config.CacheBackendBolt {
		store, err := cache.OpenBoltStore(filepath.Join(cfg.ResultCacheDir, cache.BoltFileName))
		if err != nil {
			logger.Warn("collector storage disabled", zap.Error(err))
		} else {
			defer store.Close()
			opts = append(opts, scraper.WithStorage(store))
		}
	}

	out := scraper.New(httpClient, opts...).Run(ctx, req)
	logger.Info("scrape finished", zap.String("url", req.URL), zap.Bool("success", out.Success))
	return emit(out)
}

func emit(out scraper.Output) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		return 1
	}
	return 0
}
