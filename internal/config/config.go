package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all cloud cost aggregator configuration. It is passed
// explicitly into the aggregator and each collector; there is no ambient
// global state.
type Config struct {
	Storage    StorageConfig    `mapstructure:"storage"`
	AWS        AWSConfig        `mapstructure:"aws"`
	GCP        GCPConfig        `mapstructure:"gcp"`
	Azure      AzureConfig      `mapstructure:"azure"`
	Collection CollectionConfig `mapstructure:"collection"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// AWSConfig holds Cost Explorer credentials.
type AWSConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Region          string `mapstructure:"region"`
}

// GCPConfig holds BigQuery billing export settings.
type GCPConfig struct {
	BillingAccountID string `mapstructure:"billing_account_id"`
	ProjectID        string `mapstructure:"project_id"`
	CredentialsPath  string `mapstructure:"credentials_path"`
	BigQueryDataset  string `mapstructure:"bigquery_dataset"`
}

// AzureConfig holds either service principal credentials (Cost Management
// API) or session cookies for the sponsorship portal.
type AzureConfig struct {
	TenantID           string `mapstructure:"tenant_id"`
	ClientID           string `mapstructure:"client_id"`
	ClientSecret       string `mapstructure:"client_secret"`
	SubscriptionID     string `mapstructure:"subscription_id"`
	SponsorshipCookies string `mapstructure:"sponsorship_cookies"`
}

// CollectionConfig defines collection run behavior.
type CollectionConfig struct {
	LookbackDays   int    `mapstructure:"lookback_days"`
	BackfillDays   int    `mapstructure:"backfill_days"`
	CollectTimeout string `mapstructure:"collect_timeout"`
	AliasesFile    string `mapstructure:"aliases_file"`
}

// Timeout returns the per-provider collection deadline.
func (c CollectionConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(c.CollectTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// AlertsConfig defines alerting integrations.
type AlertsConfig struct {
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("find home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".cloudcost"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Defaults
	home, _ := os.UserHomeDir()
	v.SetDefault("storage.path", filepath.Join(home, ".cloudcost", "costs.db"))
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("gcp.bigquery_dataset", "billing_export")
	v.SetDefault("collection.lookback_days", 2)
	v.SetDefault("collection.backfill_days", 90)
	v.SetDefault("collection.collect_timeout", "5m")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("alerts.slack.channel", "#cloud-costs")

	// Environment variables: CCA_* first, then the conventional names each
	// cloud SDK already documents.
	v.SetEnvPrefix("CCA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("aws.access_key_id", "CCA_AWS_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	_ = v.BindEnv("aws.secret_access_key", "CCA_AWS_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")
	_ = v.BindEnv("aws.region", "CCA_AWS_REGION", "AWS_REGION")
	_ = v.BindEnv("gcp.billing_account_id", "CCA_GCP_BILLING_ACCOUNT_ID", "GCP_BILLING_ACCOUNT_ID")
	_ = v.BindEnv("gcp.project_id", "CCA_GCP_PROJECT_ID", "GCP_PROJECT_ID")
	_ = v.BindEnv("gcp.credentials_path", "CCA_GCP_CREDENTIALS_PATH", "GOOGLE_APPLICATION_CREDENTIALS")
	_ = v.BindEnv("azure.tenant_id", "CCA_AZURE_TENANT_ID", "AZURE_TENANT_ID")
	_ = v.BindEnv("azure.client_id", "CCA_AZURE_CLIENT_ID", "AZURE_CLIENT_ID")
	_ = v.BindEnv("azure.client_secret", "CCA_AZURE_CLIENT_SECRET", "AZURE_CLIENT_SECRET")
	_ = v.BindEnv("azure.subscription_id", "CCA_AZURE_SUBSCRIPTION_ID", "AZURE_SUBSCRIPTION_ID")
	_ = v.BindEnv("azure.sponsorship_cookies", "CCA_AZURE_SPONSORSHIP_COOKIES", "AZURE_SPONSORSHIP_COOKIES")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks settings every run depends on. Provider credentials are
// deliberately not validated here: a collector with missing credentials fails
// construction for that provider only, without aborting the run.
func (c *Config) Validate() []string {
	var errs []string

	if c.Storage.Path == "" {
		errs = append(errs, "storage.path is required")
	}
	if c.Collection.LookbackDays < 0 {
		errs = append(errs, "collection.lookback_days must not be negative")
	}
	if c.Collection.BackfillDays <= 0 {
		errs = append(errs, "collection.backfill_days must be positive")
	}
	if c.Alerts.Slack.Enabled && c.Alerts.Slack.WebhookURL == "" {
		errs = append(errs, "alerts.slack.webhook_url is required when slack alerts are enabled")
	}
	if c.Alerts.Webhook.Enabled && c.Alerts.Webhook.URL == "" {
		errs = append(errs, "alerts.webhook.url is required when webhook alerts are enabled")
	}

	return errs
}
