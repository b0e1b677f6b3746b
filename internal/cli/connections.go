package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var connectionsCmd = &cobra.Command{
	Use:   "test-connections",
	Short: "Verify provider API credentials",
	Long: `Probe each configured provider's billing API and report reachability.
Exits non-zero if any provider fails.`,
	RunE: runTestConnections,
}

func init() {
	rootCmd.AddCommand(connectionsCmd)
	connectionsCmd.Flags().StringSliceP("providers", "p", nil, "Providers to test (default: all)")
}

func runTestConnections(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	providers, _ := cmd.Flags().GetStringSlice("providers")

	agg, store, err := initAggregator(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	results := agg.TestAllConnections(cmd.Context(), providers)

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "PROVIDER\tSTATUS\n")
	failed := 0
	for _, name := range names {
		status := "ok"
		if !results[name] {
			status = "FAILED"
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\n", name, status)
	}
	w.Flush()

	if failed > 0 {
		return fmt.Errorf("%d provider connection(s) failed", failed)
	}
	return nil
}
