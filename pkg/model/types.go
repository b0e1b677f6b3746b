package model

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Known cloud provider identifiers. The set is closed: the persisted schema
// enforces it with a CHECK constraint.
const (
	ProviderAWS   = "aws"
	ProviderGCP   = "gcp"
	ProviderAzure = "azure"
)

// CostScale is the number of fractional digits every cost amount is
// normalized to before it leaves a collector.
const CostScale = 4

// KnownProviders returns all supported provider identifiers.
func KnownProviders() []string {
	return []string{ProviderAWS, ProviderGCP, ProviderAzure}
}

// IsKnownProvider reports whether name is a supported provider identifier.
func IsKnownProvider(name string) bool {
	switch name {
	case ProviderAWS, ProviderGCP, ProviderAzure:
		return true
	}
	return false
}

// CostRecord is the provider-agnostic unit of cost: one service on one
// billing day for one provider. The triple (Provider, ServiceName, UsageDate)
// is the natural identity of a persisted record.
//
// UsageDate follows each provider's own reporting timezone convention; the
// calendars are not reconciled across providers.
type CostRecord struct {
	Provider    string          `json:"provider"`
	ServiceName string          `json:"service_name"`
	CostUSD     decimal.Decimal `json:"cost_usd"`
	UsageDate   civil.Date      `json:"usage_date"`
}

// NewCostRecord builds a cost record, routing the provider-reported float
// through fixed-point normalization.
func NewCostRecord(provider, serviceName string, costUSD float64, usageDate civil.Date) CostRecord {
	return CostRecord{
		Provider:    provider,
		ServiceName: serviceName,
		CostUSD:     NormalizeCost(costUSD),
		UsageDate:   usageDate,
	}
}

// NormalizeCost converts a provider-returned floating value to a fixed-point
// decimal with CostScale fractional digits.
func NormalizeCost(cost float64) decimal.Decimal {
	return decimal.NewFromFloat(cost).Round(CostScale)
}

// StoredCost is a persisted cost row. Timestamps are stamped by the storage
// layer, never by collectors.
type StoredCost struct {
	ID          string          `json:"id" db:"id"`
	Provider    string          `json:"provider" db:"provider"`
	ServiceName string          `json:"service_name" db:"service_name"`
	CostUSD     decimal.Decimal `json:"cost_usd" db:"cost_usd"`
	UsageDate   civil.Date      `json:"usage_date" db:"usage_date"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// CostFilter controls which stored cost rows are returned by queries.
type CostFilter struct {
	Provider  string     `json:"provider,omitempty"`
	StartDate civil.Date `json:"start_date,omitempty"`
	EndDate   civil.Date `json:"end_date,omitempty"`
}
