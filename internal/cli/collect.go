package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"
	"github.com/yapay-ai/cloud-cost-aggregator/internal/config"
	"github.com/yapay-ai/cloud-cost-aggregator/internal/dates"
	"github.com/yapay-ai/cloud-cost-aggregator/pkg/aggregator"
	"github.com/yapay-ai/cloud-cost-aggregator/pkg/alerts"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect and store cloud costs",
	Long: `Collect billing costs from the configured cloud providers and upsert them
into the database. Without date flags it collects a single day two days in
the past, where provider billing data is finalized.`,
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)
	collectCmd.Flags().String("start-date", "", "Collection start date (YYYY-MM-DD)")
	collectCmd.Flags().String("end-date", "", "Collection end date (YYYY-MM-DD)")
	collectCmd.Flags().Bool("backfill", false, "Collect a historical range instead of a single day")
	collectCmd.Flags().Int("backfill-days", 0, "Days to backfill (default from config)")
	collectCmd.Flags().StringSliceP("providers", "p", nil, "Providers to collect (default: all)")
}

func runCollect(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "config error: %s\n", e)
		}
		return fmt.Errorf("invalid configuration")
	}

	start, end, err := collectWindow(cmd, cfg)
	if err != nil {
		return err
	}

	providers, _ := cmd.Flags().GetStringSlice("providers")

	agg, store, err := initAggregator(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Ping(cmd.Context()); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	stats, err := agg.AggregateAndStore(cmd.Context(), start, end, providers)
	if err != nil {
		return err
	}

	printRunSummary(start, end, stats)
	notifyRun(cmd.Context(), cfg, start, end, stats)

	return nil
}

// collectWindow resolves the collection date range from flags and config.
func collectWindow(cmd *cobra.Command, cfg *config.Config) (civil.Date, civil.Date, error) {
	var start, end civil.Date

	if s, _ := cmd.Flags().GetString("start-date"); s != "" {
		d, err := dates.Parse(s)
		if err != nil {
			return civil.Date{}, civil.Date{}, err
		}
		start = d
	}
	if s, _ := cmd.Flags().GetString("end-date"); s != "" {
		d, err := dates.Parse(s)
		if err != nil {
			return civil.Date{}, civil.Date{}, err
		}
		end = d
	}

	backfill, _ := cmd.Flags().GetBool("backfill")
	backfillDays, _ := cmd.Flags().GetInt("backfill-days")
	if backfillDays <= 0 {
		backfillDays = cfg.Collection.BackfillDays
	}

	start, end = dates.Range(dates.Today(), backfill, cfg.Collection.LookbackDays, backfillDays, start, end)
	if end.Before(start) {
		return civil.Date{}, civil.Date{}, fmt.Errorf("start date %s is after end date %s", start, end)
	}
	return start, end, nil
}

func printRunSummary(start, end civil.Date, stats aggregator.Stats) {
	fmt.Printf("=== Collection Run ===\n")
	fmt.Printf("Period: %s to %s\n\n", start, end)
	fmt.Printf("Total Records:       %d\n", stats.TotalRecords)
	fmt.Printf("Saved Records:       %d\n", stats.SavedRecords)
	fmt.Printf("Providers Succeeded: %d\n", stats.ProvidersSucceeded)
	fmt.Printf("Providers Failed:    %d\n", stats.ProvidersFailed)

	if len(stats.ByProvider) > 0 {
		names := make([]string, 0, len(stats.ByProvider))
		for name := range stats.ByProvider {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Printf("\nBy Provider:\n")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  PROVIDER\tRECORDS\tCOST\n")
		for _, name := range names {
			ps := stats.ByProvider[name]
			fmt.Fprintf(w, "  %s\t%d\t$%s\n", name, ps.Records, ps.CostUSD.StringFixed(2))
		}
		w.Flush()
	}

	if len(stats.Failures) > 0 {
		fmt.Printf("\nFailures:\n")
		names := make([]string, 0, len(stats.Failures))
		for name := range stats.Failures {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %s: %v\n", name, stats.Failures[name])
		}
	}
}

// notifyRun sends the run summary to the configured notifiers. Delivery
// failures are printed but never fail the run.
func notifyRun(ctx context.Context, cfg *config.Config, start, end civil.Date, stats aggregator.Stats) {
	notifiers := initNotifiers(cfg)
	if len(notifiers) == 0 {
		return
	}

	totalCost := 0.0
	for _, ps := range stats.ByProvider {
		totalCost += ps.CostUSD.InexactFloat64()
	}

	var failed map[string]string
	if len(stats.Failures) > 0 {
		failed = make(map[string]string, len(stats.Failures))
		for name, err := range stats.Failures {
			failed[name] = err.Error()
		}
	}

	alert := alerts.Alert{
		Level:              alerts.LevelFor(stats.ProvidersSucceeded, stats.ProvidersFailed),
		StartDate:          start.String(),
		EndDate:            end.String(),
		TotalRecords:       stats.TotalRecords,
		SavedRecords:       stats.SavedRecords,
		ProvidersSucceeded: stats.ProvidersSucceeded,
		ProvidersFailed:    stats.ProvidersFailed,
		TotalCostUSD:       totalCost,
		FailedProviders:    failed,
		Message:            fmt.Sprintf("Collected %d records for %s to %s", stats.TotalRecords, start, end),
	}

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, n := range notifiers {
		if err := n.Send(sendCtx, alert); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %s notification failed: %v\n", n.Name(), err)
		}
	}
}
