package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Spok95/quote-rates/internal/domain/quotes"
	"github.com/Spok95/quote-rates/internal/domain/rates"
	"github.com/Spok95/quote-rates/internal/report"
)

var (
	itemName     string
	itemUnit     string
	itemCategory string
	filePath     string
	outPath      string
	quoteID      int64
	noTax        bool
	taxRate      float64
)

func init() {
	rootCmd.AddCommand(migrateCmd, suggestCmd, historyCmd, totalsCmd, exportCmd, importCmd, recordCmd, applyCmd)

	for _, c := range []*cobra.Command{suggestCmd, historyCmd, exportCmd, importCmd, recordCmd, applyCmd} {
		requireTenant(c)
	}

	for _, c := range []*cobra.Command{suggestCmd, historyCmd} {
		c.Flags().StringVar(&itemName, "name", "", "line item name (required)")
		c.Flags().StringVar(&itemUnit, "unit", "", "unit of measure (required)")
		_ = c.MarkFlagRequired("name")
		_ = c.MarkFlagRequired("unit")
	}
	suggestCmd.Flags().StringVar(&itemCategory, "category", "", "category for the fallback tier")

	totalsCmd.Flags().StringVar(&filePath, "file", "-", "JSON array of lines, - for stdin")
	totalsCmd.Flags().BoolVar(&noTax, "no-tax", false, "exclude tax")
	totalsCmd.Flags().Float64Var(&taxRate, "tax-rate", quotes.DefaultTaxRatePercent, "tax rate in percent")

	exportCmd.Flags().StringVar(&outPath, "out", "", "output .xlsx path (required)")
	_ = exportCmd.MarkFlagRequired("out")

	importCmd.Flags().StringVar(&filePath, "file", "", "price history .xlsx (columns: name, unit, category, rate)")
	_ = importCmd.MarkFlagRequired("file")

	for _, c := range []*cobra.Command{recordCmd, applyCmd} {
		c.Flags().Int64Var(&quoteID, "quote", 0, "quote id (required)")
		_ = c.MarkFlagRequired("quote")
	}
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		a.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Suggest a rate for an unpriced line",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		s, ok, err := a.rates.Suggest(cmd.Context(), rates.Query{
			TenantID: tenantID, LineName: itemName, Unit: itemUnit, Category: itemCategory,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if asJSON {
			return printJSON(out, map[string]any{"found": ok, "suggestion": s})
		}
		if !ok {
			fmt.Fprintln(out, "no suggestion")
			return nil
		}
		fmt.Fprintf(out, "rate=%.2f source=%s confidence=%d needs_review=%v\n",
			s.UnitRate, s.Source, s.Confidence, s.NeedsReview)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the retained samples of an item, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		samples, err := a.rates.History(cmd.Context(), tenantID, itemName, itemUnit)
		if err != nil {
			return err
		}
		stats := rates.ComputeStats(samples)
		out := cmd.OutOrStdout()
		if asJSON {
			return printJSON(out, map[string]any{"key": rates.Normalize(itemName), "samples": samples, "stats": stats})
		}
		fmt.Fprintf(out, "key=%q samples=%d median=%.2f min=%.2f max=%.2f\n",
			rates.Normalize(itemName), stats.SampleCount, stats.Median, stats.Min, stats.Max)
		for _, v := range samples {
			fmt.Fprintf(out, "  %.2f\n", v)
		}
		return nil
	},
}

var totalsCmd = &cobra.Command{
	Use:   "totals",
	Short: "Compute quote totals from a JSON list of lines",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var r io.Reader = cmd.InOrStdin()
		if filePath != "-" {
			f, err := os.Open(filePath)
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}

		var raw []quotes.LineInput
		if err := json.NewDecoder(r).Decode(&raw); err != nil {
			return fmt.Errorf("decode lines: %w", err)
		}
		lines := make([]quotes.LineInput, 0, len(raw))
		for i, l := range raw {
			in, err := quotes.CoerceLine(l)
			if err != nil {
				return fmt.Errorf("line %d: %w", i, err)
			}
			lines = append(lines, in)
		}

		t := quotes.ComputeTotals(lines, !noTax, taxRate)
		out := cmd.OutOrStdout()
		if asJSON {
			return printJSON(out, t)
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tQTY\tUNIT\tRATE\tTOTAL")
		for _, l := range t.Lines {
			fmt.Fprintf(tw, "%s\t%g\t%s\t%.2f\t%.2f\n", l.Name, l.Qty, l.Unit, l.UnitRate, l.LineTotal)
		}
		_ = tw.Flush()
		fmt.Fprintf(out, "subtotal=%.2f tax=%.2f total=%.2f\n", t.SubTotal, t.TaxAmount, t.Total)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a tenant's rate memory to .xlsx",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		mems, err := a.rates.Memories(cmd.Context(), tenantID)
		if err != nil {
			return err
		}
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		if err := report.WriteMemories(f, mems); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d rate memories to %s\n", len(mems), outPath)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Seed a tenant's rate memory from a price history .xlsx",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := os.Open(filePath)
		if err != nil {
			return err
		}
		defer f.Close()

		items, skipped, err := report.ReadPriceHistory(f)
		if err != nil {
			return err
		}

		recorded := 0
		for _, it := range items {
			_, ok, err := a.rates.Record(cmd.Context(), tenantID, it)
			if err != nil {
				return err
			}
			if ok {
				recorded++
			} else {
				skipped++
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recorded=%d skipped=%d\n", recorded, skipped)
		return nil
	},
}

var recordCmd = &cobra.Command{
	Use:   "record-quote",
	Short: "Feed the priced lines of a saved quote into the rate memory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.quotes.RecordQuote(cmd.Context(), tenantID, quoteID)
		if err != nil {
			a.log.Warn("record quote finished with errors", "quote_id", quoteID, "err", err)
		}
		if printErr := printJSON(cmd.OutOrStdout(), rep); printErr != nil {
			return printErr
		}
		return err
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply-suggestions",
	Short: "Resolve and stamp suggestions on every unpriced line of a quote",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.quotes.ApplyAll(cmd.Context(), tenantID, quoteID)
		if err != nil && rep.QuoteID == 0 {
			return err
		}
		if printErr := printJSON(cmd.OutOrStdout(), rep); printErr != nil {
			return printErr
		}
		return err
	},
}
