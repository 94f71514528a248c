// Package main implements ratesctl, the operator CLI for the rate memory:
// migrations, lookups, spreadsheet export/import and quote batch runs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Spok95/quote-rates/internal/config"
	"github.com/Spok95/quote-rates/internal/domain/quotes"
	"github.com/Spok95/quote-rates/internal/domain/rates"
	"github.com/Spok95/quote-rates/internal/infra/logger"
	"github.com/Spok95/quote-rates/internal/infra/storage"
)

var (
	cfgPath  string
	tenantID string
	asJSON   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ratesctl",
	Short: "Operate the per-tenant rate memory",
	Long: `ratesctl works directly against the configured store (postgres or sqlite).

Examples:
  ratesctl migrate
  ratesctl suggest --tenant acme --name "Fence post" --unit each --category Fencing
  ratesctl totals --file lines.json --tax-rate 10
  ratesctl export --tenant acme --out acme.xlsx
  ratesctl import --tenant acme --file history.xlsx`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config/example.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print results as JSON")
}

type app struct {
	log     *slog.Logger
	backend *storage.Backend
	rates   *rates.Service
	quotes  *quotes.Service
}

func (a *app) Close() { a.backend.Close() }

// openApp loads config and wires the same services the daemon runs, without
// metrics.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.App.Env, cfg.Log.File)

	backend, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	rateSvc := rates.NewService(backend.Rates, log, nil)
	return &app{
		log:     log,
		backend: backend,
		rates:   rateSvc,
		quotes:  quotes.NewService(backend.Quotes, rateSvc, log, nil, cfg.Pricing.TaxRatePercent),
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireTenant(cmd *cobra.Command) {
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant identifier (required)")
	_ = cmd.MarkFlagRequired("tenant")
}
