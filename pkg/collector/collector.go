// Package collector pulls billing data from cloud provider APIs and
// normalizes it into cost records.
package collector

import (
	"context"
	"log/slog"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/yapay-ai/cloud-cost-aggregator/pkg/model"
)

// Collector fetches cost data for a single cloud provider.
//
// Collect returns one record per (service, day) for the inclusive date range.
// It must return a non-nil (possibly empty) slice when there is simply no
// data in range; an error means a genuine connectivity, auth, or parse
// failure. Implementations filter out credit/refund/zero-cost rows and
// normalize provider service taxonomies, so ServiceName values are already
// the desired aggregation key.
type Collector interface {
	// Name returns the provider identifier (e.g., "aws").
	Name() string

	// Collect fetches cost records for the inclusive [start, end] range.
	Collect(ctx context.Context, start, end civil.Date) ([]model.CostRecord, error)

	// TestConnection verifies API reachability and credentials.
	TestConnection(ctx context.Context) error
}

// logCollectionSummary emits the per-provider summary line after a
// successful collection.
func logCollectionSummary(logger *slog.Logger, start, end civil.Date, records []model.CostRecord) {
	total := decimal.Zero
	services := make(map[string]struct{})
	for _, r := range records {
		total = total.Add(r.CostUSD)
		services[r.ServiceName] = struct{}{}
	}

	logger.Info("collection complete",
		"start", start.String(),
		"end", end.String(),
		"records", len(records),
		"services", len(services),
		"total_cost_usd", total.StringFixed(2),
	)
}
