package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yapay-ai/cloud-cost-aggregator/pkg/model"
	"github.com/yapay-ai/cloud-cost-aggregator/pkg/storage"
)

func newTestDB(t *testing.T) *storage.SQLite {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func day(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func TestSQLite_UpsertCosts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	records := []model.CostRecord{
		model.NewCostRecord("aws", "Amazon EC2", 10.50, day(2024, 1, 1)),
		model.NewCostRecord("gcp", "BigQuery", 3.25, day(2024, 1, 1)),
	}

	count, err := db.UpsertCosts(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	stored, err := db.ListCosts(ctx, model.CostFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.NotEmpty(t, stored[0].ID)
	assert.False(t, stored[0].CreatedAt.IsZero())
	assert.False(t, stored[0].UpdatedAt.IsZero())
}

func TestSQLite_UpsertCosts_EmptyBatch(t *testing.T) {
	db := newTestDB(t)

	count, err := db.UpsertCosts(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	stored, err := db.ListCosts(context.Background(), model.CostFilter{})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSQLite_UpsertCosts_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := model.NewCostRecord("aws", "Amazon S3", 5.00, day(2024, 2, 1))
	_, err := db.UpsertCosts(ctx, []model.CostRecord{first})
	require.NoError(t, err)

	stored, err := db.ListCosts(ctx, model.CostFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	createdAt := stored[0].CreatedAt
	firstUpdatedAt := stored[0].UpdatedAt

	time.Sleep(20 * time.Millisecond)

	// Re-collecting the same triple with a new amount replaces, not duplicates.
	second := model.NewCostRecord("aws", "Amazon S3", 7.25, day(2024, 2, 1))
	count, err := db.UpsertCosts(ctx, []model.CostRecord{second})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stored, err = db.ListCosts(ctx, model.CostFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].CostUSD.Equal(decimal.RequireFromString("7.25")),
		"got %s", stored[0].CostUSD)
	assert.True(t, stored[0].CreatedAt.Equal(createdAt), "created_at must not change")
	assert.True(t, stored[0].UpdatedAt.After(firstUpdatedAt), "updated_at must advance")
}

func TestSQLite_UpsertCosts_DuplicateTripleInBatch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	batch := []model.CostRecord{
		model.NewCostRecord("azure", "Azure OpenAI", 1.00, day(2024, 3, 1)),
		model.NewCostRecord("azure", "Azure OpenAI", 2.00, day(2024, 3, 1)),
	}

	// Count reflects the input batch size, stored state the last value.
	count, err := db.UpsertCosts(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	stored, err := db.ListCosts(ctx, model.CostFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].CostUSD.Equal(decimal.RequireFromString("2")))
}

func TestSQLite_UpsertCosts_UnknownProviderRollsBackBatch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	batch := []model.CostRecord{
		model.NewCostRecord("aws", "Amazon EC2", 1.00, day(2024, 3, 1)),
		model.NewCostRecord("oracle", "Compute", 2.00, day(2024, 3, 1)),
	}

	_, err := db.UpsertCosts(ctx, batch)
	require.Error(t, err)

	// Nothing from the batch may be visible.
	stored, err := db.ListCosts(ctx, model.CostFilter{})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSQLite_ListCosts_Filter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	records := []model.CostRecord{
		model.NewCostRecord("aws", "Amazon EC2", 1.00, day(2024, 1, 1)),
		model.NewCostRecord("aws", "Amazon EC2", 2.00, day(2024, 1, 2)),
		model.NewCostRecord("gcp", "Compute Engine", 3.00, day(2024, 1, 2)),
	}
	_, err := db.UpsertCosts(ctx, records)
	require.NoError(t, err)

	aws, err := db.ListCosts(ctx, model.CostFilter{Provider: "aws"})
	require.NoError(t, err)
	assert.Len(t, aws, 2)

	jan2, err := db.ListCosts(ctx, model.CostFilter{
		StartDate: day(2024, 1, 2),
		EndDate:   day(2024, 1, 2),
	})
	require.NoError(t, err)
	assert.Len(t, jan2, 2)

	none, err := db.ListCosts(ctx, model.CostFilter{
		Provider:  "gcp",
		StartDate: day(2024, 1, 3),
	})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLite_Ping(t *testing.T) {
	db := newTestDB(t)
	assert.NoError(t, db.Ping(context.Background()))
}
