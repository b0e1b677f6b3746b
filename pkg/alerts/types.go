package alerts

import "context"

// AlertLevel indicates the severity of a collection run alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"     // All providers collected cleanly
	AlertWarning  AlertLevel = "warning"  // Some providers failed
	AlertCritical AlertLevel = "critical" // Every provider failed
)

// Alert summarizes one collection run for delivery to external systems.
type Alert struct {
	Level              AlertLevel        `json:"level"`
	StartDate          string            `json:"start_date"`
	EndDate            string            `json:"end_date"`
	TotalRecords       int               `json:"total_records"`
	SavedRecords       int               `json:"saved_records"`
	ProvidersSucceeded int               `json:"providers_succeeded"`
	ProvidersFailed    int               `json:"providers_failed"`
	TotalCostUSD       float64           `json:"total_cost_usd"`
	FailedProviders    map[string]string `json:"failed_providers,omitempty"`
	Message            string            `json:"message"`
}

// LevelFor picks the alert level from a run's failure counts.
func LevelFor(succeeded, failed int) AlertLevel {
	switch {
	case failed == 0:
		return AlertInfo
	case succeeded == 0:
		return AlertCritical
	default:
		return AlertWarning
	}
}

// Notifier sends alerts to external systems.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Send delivers an alert. Implementations must be safe for concurrent use.
	Send(ctx context.Context, alert Alert) error
}
