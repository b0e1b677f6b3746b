package storage

import (
	"context"

	"github.com/yapay-ai/cloud-cost-aggregator/pkg/model"
)

// Storage defines the persistence layer for cost records.
type Storage interface {
	// UpsertCosts applies a batch of cost records atomically. For each
	// (provider, service_name, usage_date) triple a new row is inserted, or
	// the existing row's cost and update timestamp are overwritten. The
	// returned count is the input batch size. An empty batch is a no-op.
	UpsertCosts(ctx context.Context, records []model.CostRecord) (int, error)

	// ListCosts retrieves stored cost rows matching the given filter.
	ListCosts(ctx context.Context, filter model.CostFilter) ([]model.StoredCost, error)

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
