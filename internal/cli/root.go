package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/yapay-ai/cloud-cost-aggregator/internal/config"
	"github.com/yapay-ai/cloud-cost-aggregator/pkg/aggregator"
	"github.com/yapay-ai/cloud-cost-aggregator/pkg/alerts"
	"github.com/yapay-ai/cloud-cost-aggregator/pkg/collector"
	"github.com/yapay-ai/cloud-cost-aggregator/pkg/storage"
)

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cloudcost",
	Short: "Cloud Cost Aggregator - Multi-cloud billing cost collection",
	Long: `Cloud Cost Aggregator collects daily billing costs from AWS, GCP, and Azure,
normalizes them into a common per-service record, and stores them in a local
database for reporting. Provider failures are isolated: one broken provider
never blocks the others.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.cloudcost/config.yaml)")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger creates a structured logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// initRegistry registers a factory per provider. Factories run lazily, so
// providers without credentials fail only when actually requested.
func initRegistry(cfg *config.Config, logger *slog.Logger) (*collector.Registry, error) {
	aliases := collector.DefaultAliases()
	if cfg.Collection.AliasesFile != "" {
		loaded, err := collector.LoadAliases(cfg.Collection.AliasesFile)
		if err != nil {
			return nil, err
		}
		aliases = loaded
	}

	registry := collector.NewRegistry()
	registry.Register("aws", func() (collector.Collector, error) {
		return collector.NewAWS(cfg.AWS, logger)
	})
	registry.Register("gcp", func() (collector.Collector, error) {
		return collector.NewGCP(cfg.GCP, logger)
	})
	registry.Register("azure", func() (collector.Collector, error) {
		return collector.NewAzure(cfg.Azure, aliases, logger)
	})

	return registry, nil
}

// initStorage creates a storage backend from config.
func initStorage(cfg *config.Config) (storage.Storage, error) {
	return storage.NewSQLite(cfg.Storage.Path)
}

// initNotifiers creates alert notifiers from config.
func initNotifiers(cfg *config.Config) []alerts.Notifier {
	var notifiers []alerts.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alerts.NewSlackNotifier(
			cfg.Alerts.Slack.WebhookURL,
			cfg.Alerts.Slack.Channel,
		))
	}

	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alerts.NewWebhookNotifier(
			cfg.Alerts.Webhook.URL,
			cfg.Alerts.Webhook.Secret,
		))
	}

	return notifiers
}

// initAggregator creates a fully wired aggregator.
func initAggregator(cfg *config.Config) (*aggregator.Aggregator, storage.Storage, error) {
	logger := newLogger(cfg)

	registry, err := initRegistry(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	store, err := initStorage(cfg)
	if err != nil {
		return nil, nil, err
	}

	agg := aggregator.New(registry, store, cfg.Collection.Timeout(), logger)
	return agg, store, nil
}
