package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Spok95/quote-rates/internal/config"
	"github.com/Spok95/quote-rates/internal/domain/quotes"
	"github.com/Spok95/quote-rates/internal/domain/rates"
	httpx "github.com/Spok95/quote-rates/internal/infra/http"
	"github.com/Spok95/quote-rates/internal/infra/logger"
	"github.com/Spok95/quote-rates/internal/infra/metrics"
	"github.com/Spok95/quote-rates/internal/infra/storage"
)

func main() {
	cfgPath := flag.String("config", "config/example.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.Env, cfg.Log.File)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := storage.Open(ctx, cfg, log)
	if err != nil {
		log.Error("storage init failed", "err", err)
		return
	}
	defer backend.Close()

	m := metrics.New()
	rateSvc := rates.NewService(backend.Rates, log, m)
	quoteSvc := quotes.NewService(backend.Quotes, rateSvc, log, m, cfg.Pricing.TaxRatePercent)

	api := httpx.NewAPI(rateSvc, quoteSvc, log)
	srv := httpx.New(cfg.HTTP.Addr, cfg.Metrics.Enabled, api, log)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
			stop()
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("graceful shutdown complete")
}
