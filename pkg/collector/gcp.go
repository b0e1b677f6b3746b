package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yapay-ai/cloud-cost-aggregator/internal/config"
	"github.com/yapay-ai/cloud-cost-aggregator/pkg/model"
)

// GCP collects costs from the BigQuery billing export. Requires billing
// export to be enabled; data can take up to 24 hours to appear after that.
type GCP struct {
	client *bigquery.Client
	cfg    config.GCPConfig
	logger *slog.Logger
}

// NewGCP creates a BigQuery billing export collector.
func NewGCP(cfg config.GCPConfig, logger *slog.Logger) (*GCP, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("gcp project id not configured")
	}
	if cfg.CredentialsPath == "" {
		return nil, errors.New("gcp credentials path not configured")
	}

	client, err := bigquery.NewClient(context.Background(), cfg.ProjectID,
		option.WithCredentialsFile(cfg.CredentialsPath))
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}

	return &GCP{
		client: client,
		cfg:    cfg,
		logger: logger.With("provider", model.ProviderGCP),
	}, nil
}

func (g *GCP) Name() string { return model.ProviderGCP }

func (g *GCP) Collect(ctx context.Context, start, end civil.Date) ([]model.CostRecord, error) {
	g.logger.Info("collecting costs", "start", start.String(), "end", end.String())

	// The export table name pattern is gcp_billing_export_v1_<ACCOUNT_ID>;
	// the wildcard matches whichever account the dataset exports.
	table := fmt.Sprintf("%s.%s.gcp_billing_export_v1_*", g.cfg.ProjectID, g.cfg.BigQueryDataset)

	q := g.client.Query(fmt.Sprintf(`
		SELECT
			DATE(usage_start_time) AS usage_date,
			service.description AS service_name,
			SUM(cost) + SUM(IFNULL((
				SELECT SUM(c.amount)
				FROM UNNEST(credits) c
			), 0)) AS cost_usd
		FROM `+"`%s`"+`
		WHERE DATE(usage_start_time) BETWEEN @start AND @end
			AND cost > 0
		GROUP BY usage_date, service_name
		HAVING cost_usd > 0
		ORDER BY usage_date, cost_usd DESC`, table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "start", Value: start},
		{Name: "end", Value: end},
	}

	it, err := q.Read(ctx)
	if err != nil {
		if isMissingExportTable(err) {
			g.logger.Warn("billing export tables not found; data can take up to 24h to appear after enabling export")
			return []model.CostRecord{}, nil
		}
		return nil, fmt.Errorf("query billing export: %w", err)
	}

	records := []model.CostRecord{}
	for {
		var row struct {
			UsageDate   civil.Date          `bigquery:"usage_date"`
			ServiceName bigquery.NullString `bigquery:"service_name"`
			CostUSD     float64             `bigquery:"cost_usd"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read billing export row: %w", err)
		}

		serviceName := row.ServiceName.StringVal
		if !row.ServiceName.Valid || serviceName == "" {
			serviceName = "Unknown"
		}

		records = append(records, model.NewCostRecord(model.ProviderGCP, serviceName, row.CostUSD, row.UsageDate))
	}

	logCollectionSummary(g.logger, start, end, records)
	return records, nil
}

func (g *GCP) TestConnection(ctx context.Context) error {
	dataset := g.client.Dataset(g.cfg.BigQueryDataset)
	if _, err := dataset.Metadata(ctx); err != nil {
		return fmt.Errorf("billing export dataset %q: %w", g.cfg.BigQueryDataset, err)
	}

	// Dataset existing with no tables yet just means export was recently
	// enabled; treat it as reachable.
	it := dataset.Tables(ctx)
	if _, err := it.Next(); err != nil {
		if err == iterator.Done {
			g.logger.Warn("no billing export tables yet; data can take up to 24h to appear")
			return nil
		}
		return fmt.Errorf("list billing export tables: %w", err)
	}
	return nil
}

func isMissingExportTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "does not match any table")
}
