// Package aggregator orchestrates cost collection across providers and
// persists the results.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/yapay-ai/cloud-cost-aggregator/pkg/collector"
	"github.com/yapay-ai/cloud-cost-aggregator/pkg/model"
	"github.com/yapay-ai/cloud-cost-aggregator/pkg/storage"
)

// Aggregator fans collection out across provider collectors and saves the
// combined records.
type Aggregator struct {
	registry       *collector.Registry
	store          storage.Storage
	logger         *slog.Logger
	collectTimeout time.Duration
}

// New creates an aggregator. collectTimeout bounds each provider's collect
// call; zero means no per-provider bound beyond the caller's context.
func New(registry *collector.Registry, store storage.Storage, collectTimeout time.Duration, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		registry:       registry,
		store:          store,
		logger:         logger,
		collectTimeout: collectTimeout,
	}
}

// Result holds the outcome of one collection fan-out. Every requested known
// provider has an entry in Records; providers whose collection failed have an
// empty record slice and an entry in Errors.
type Result struct {
	Records map[string][]model.CostRecord
	Errors  map[string]error
}

// Flatten returns all collected records in provider order.
func (r Result) Flatten(providers []string) []model.CostRecord {
	var all []model.CostRecord
	for _, name := range providers {
		all = append(all, r.Records[name]...)
	}
	return all
}

// resolve expands an empty provider list to all registered providers and
// drops unknown names with a warning.
func (a *Aggregator) resolve(providers []string) []string {
	if len(providers) == 0 {
		return a.registry.Names()
	}

	known := make([]string, 0, len(providers))
	for _, name := range providers {
		if !a.registry.Known(name) {
			a.logger.Warn("skipping unknown provider", "provider", name)
			continue
		}
		known = append(known, name)
	}
	return known
}

// CollectAll collects cost records from the requested providers in parallel
// and blocks until every provider has finished. A provider failure, whether
// at construction or during collection, is isolated: it lands in the result's
// error map and never affects the other providers.
func (a *Aggregator) CollectAll(ctx context.Context, start, end civil.Date, providers []string) Result {
	names := a.resolve(providers)

	result := Result{
		Records: make(map[string][]model.CostRecord, len(names)),
		Errors:  make(map[string]error),
	}

	a.logger.Info("starting collection",
		"start", start.String(),
		"end", end.String(),
		"providers", names,
	)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()

			records, err := a.collectOne(ctx, name, start, end)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.logger.Error("provider collection failed", "provider", name, "error", err)
				result.Records[name] = []model.CostRecord{}
				result.Errors[name] = err
				return
			}
			a.logger.Info("provider collection finished", "provider", name, "records", len(records))
			result.Records[name] = records
		}(name)
	}
	wg.Wait()

	return result
}

func (a *Aggregator) collectOne(ctx context.Context, name string, start, end civil.Date) ([]model.CostRecord, error) {
	c, err := a.registry.Get(name)
	if err != nil {
		return nil, err
	}

	if a.collectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.collectTimeout)
		defer cancel()
	}

	records, err := c.Collect(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("collect %s costs: %w", name, err)
	}
	return records, nil
}

// Save persists records through the storage layer's idempotent batch upsert.
func (a *Aggregator) Save(ctx context.Context, records []model.CostRecord) (int, error) {
	saved, err := a.store.UpsertCosts(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("save cost records: %w", err)
	}
	if saved > 0 {
		a.logger.Info("saved cost records", "count", saved)
	}
	return saved, nil
}

// ProviderStats summarizes one provider's contribution to a run.
type ProviderStats struct {
	CostUSD decimal.Decimal
	Records int
}

// Stats summarizes a full collect-and-store run. A provider counts as
// succeeded when its collection did not fail, even if it returned no records.
type Stats struct {
	TotalRecords       int
	SavedRecords       int
	ProvidersSucceeded int
	ProvidersFailed    int
	ByProvider         map[string]ProviderStats
	Failures           map[string]error
}

// Map flattens the stats into the reporting key set.
func (s Stats) Map() map[string]any {
	m := map[string]any{
		"total_records":       s.TotalRecords,
		"saved_records":       s.SavedRecords,
		"providers_succeeded": s.ProvidersSucceeded,
		"providers_failed":    s.ProvidersFailed,
	}
	for name, ps := range s.ByProvider {
		m[name+"_cost_usd"] = ps.CostUSD.InexactFloat64()
		m[name+"_records"] = ps.Records
	}
	return m
}

// AggregateAndStore runs a full collection cycle: fan out, persist, and
// summarize. Provider failures are reflected in the stats; a storage failure
// is fatal and aborts the run.
func (a *Aggregator) AggregateAndStore(ctx context.Context, start, end civil.Date, providers []string) (Stats, error) {
	names := a.resolve(providers)
	result := a.CollectAll(ctx, start, end, names)

	saved, err := a.Save(ctx, result.Flatten(names))
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		SavedRecords: saved,
		ByProvider:   make(map[string]ProviderStats, len(names)),
		Failures:     result.Errors,
	}
	for _, name := range names {
		records := result.Records[name]
		stats.TotalRecords += len(records)

		if _, failed := result.Errors[name]; failed {
			stats.ProvidersFailed++
		} else {
			stats.ProvidersSucceeded++
		}

		total := decimal.Zero
		for _, r := range records {
			total = total.Add(r.CostUSD)
		}
		stats.ByProvider[name] = ProviderStats{CostUSD: total, Records: len(records)}
	}

	a.logger.Info("collection run complete",
		"total_records", stats.TotalRecords,
		"saved_records", stats.SavedRecords,
		"providers_succeeded", stats.ProvidersSucceeded,
		"providers_failed", stats.ProvidersFailed,
	)
	return stats, nil
}

// TestAllConnections probes each requested provider's API and reports
// reachability per provider. A collector that cannot even be constructed
// reports false.
func (a *Aggregator) TestAllConnections(ctx context.Context, providers []string) map[string]bool {
	names := a.resolve(providers)

	results := make(map[string]bool, len(names))
	for _, name := range names {
		c, err := a.registry.Get(name)
		if err != nil {
			a.logger.Error("connection test failed", "provider", name, "error", err)
			results[name] = false
			continue
		}
		if err := c.TestConnection(ctx); err != nil {
			a.logger.Error("connection test failed", "provider", name, "error", err)
			results[name] = false
			continue
		}
		a.logger.Info("connection test passed", "provider", name)
		results[name] = true
	}
	return results
}
