package model_test

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/yapay-ai/cloud-cost-aggregator/pkg/model"
)

func TestIsKnownProvider(t *testing.T) {
	for _, name := range model.KnownProviders() {
		assert.True(t, model.IsKnownProvider(name), name)
	}
	assert.False(t, model.IsKnownProvider("oracle"))
	assert.False(t, model.IsKnownProvider(""))
	assert.False(t, model.IsKnownProvider("AWS"))
}

func TestNormalizeCost(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want string
	}{
		{"rounds half up", 10.50005, "10.5001"},
		{"truncates drift", 0.1 + 0.2, "0.3"},
		{"keeps four digits", 2354.0001, "2354.0001"},
		{"zero", 0, "0"},
		{"whole dollars", 10.50, "10.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := model.NormalizeCost(tt.in)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)),
				"got %s, want %s", got, tt.want)
		})
	}
}

func TestNewCostRecord(t *testing.T) {
	day := civil.Date{Year: 2024, Month: 1, Day: 1}
	rec := model.NewCostRecord(model.ProviderAWS, "Amazon EC2", 10.123456, day)

	assert.Equal(t, "aws", rec.Provider)
	assert.Equal(t, "Amazon EC2", rec.ServiceName)
	assert.Equal(t, day, rec.UsageDate)
	assert.True(t, rec.CostUSD.Equal(decimal.RequireFromString("10.1235")))
}
