package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/yapay-ai/cloud-cost-aggregator/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLite implements the Storage interface using an SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// UpsertCosts writes the whole batch in one transaction. A conflict on the
// (provider, service_name, usage_date) key overwrites the stored cost and
// bumps updated_at; created_at is left untouched. When the same triple
// appears twice in the batch, the later row wins, but the returned count is
// still the batch size.
func (s *SQLite) UpsertCosts(ctx context.Context, records []model.CostRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cloud_costs (id, provider, service_name, cost_usd, usage_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(provider, service_name, usage_date) DO UPDATE SET
		   cost_usd = excluded.cost_usd,
		   updated_at = excluded.updated_at`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			uuid.New().String(), r.Provider, r.ServiceName,
			r.CostUSD.String(), r.UsageDate.String(), now, now,
		)
		if err != nil {
			return 0, fmt.Errorf("upsert cost %s/%s/%s: %w", r.Provider, r.ServiceName, r.UsageDate, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return len(records), nil
}

func (s *SQLite) ListCosts(ctx context.Context, filter model.CostFilter) ([]model.StoredCost, error) {
	query := `SELECT id, provider, service_name, cost_usd, usage_date, created_at, updated_at
	          FROM cloud_costs`
	where, args := buildWhereClause(filter)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY usage_date, provider, service_name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list costs: %w", err)
	}
	defer rows.Close()

	var costs []model.StoredCost
	for rows.Next() {
		var c model.StoredCost
		var usageDate string
		if err := rows.Scan(&c.ID, &c.Provider, &c.ServiceName, &c.CostUSD,
			&usageDate, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cost row: %w", err)
		}
		c.UsageDate, err = civil.ParseDate(usageDate)
		if err != nil {
			return nil, fmt.Errorf("parse usage date %q: %w", usageDate, err)
		}
		costs = append(costs, c)
	}
	return costs, rows.Err()
}

func (s *SQLite) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// buildWhereClause constructs a SQL WHERE clause from a CostFilter. ISO date
// strings compare correctly as text.
func buildWhereClause(filter model.CostFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.Provider != "" {
		conditions = append(conditions, "provider = ?")
		args = append(args, filter.Provider)
	}
	if filter.StartDate.IsValid() {
		conditions = append(conditions, "usage_date >= ?")
		args = append(args, filter.StartDate.String())
	}
	if filter.EndDate.IsValid() {
		conditions = append(conditions, "usage_date <= ?")
		args = append(args, filter.EndDate.String())
	}

	return strings.Join(conditions, " AND "), args
}
