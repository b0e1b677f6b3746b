package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yapay-ai/cloud-cost-aggregator/internal/config"
	"github.com/yapay-ai/cloud-cost-aggregator/pkg/model"
)

func sponsorshipAzure(t *testing.T, server *httptest.Server) *Azure {
	t.Helper()

	a, err := NewAzure(config.AzureConfig{
		SubscriptionID:     "00000000-0000-0000-0000-000000000000",
		SponsorshipCookies: ".AspNet.Cookies=test",
	}, nil, discardLogger())
	require.NoError(t, err)

	a.apiURL = server.URL
	a.httpc = server.Client()
	return a
}

func TestNewAzureValidation(t *testing.T) {
	_, err := NewAzure(config.AzureConfig{}, nil, discardLogger())
	assert.ErrorContains(t, err, "subscription id")

	_, err = NewAzure(config.AzureConfig{SubscriptionID: "sub"}, nil, discardLogger())
	assert.ErrorContains(t, err, "service principal credentials or sponsorship cookies")
}

func TestAzureName(t *testing.T) {
	a := &Azure{}
	assert.Equal(t, model.ProviderAzure, a.Name())
}

func TestParseSponsorshipDay(t *testing.T) {
	a := &Azure{aliases: DefaultAliases(), logger: discardLogger()}
	day := testDay(2024, 3, 15)

	data := sponsorshipResponse{
		TableHeaders: []string{"Service Name", "Service Resource", "Spend"},
		TableRows: [][]string{
			{"Cognitive Services", "gpt-4o-0806-Inp-glbl Tokens", "$820.60"},
			{"Cognitive Services", "gpt-4o-0806-Outp-glbl Tokens", "$1,533.40"},
			{"Cognitive Services", "Text to Speech Neural Characters", "$42.00"},
			{"Storage", "Hot LRS Data Stored", "$3.25"},
			{"Storage", "Hot LRS Write Operations", "$0"},
			{"Bandwidth", "Data Transfer Out", "not-a-number"},
		},
	}

	records := a.parseSponsorshipDay(data, day)
	require.Len(t, records, 3)

	// The two GPT SKUs collapse into one Azure OpenAI record.
	assert.Equal(t, "Azure OpenAI", records[0].ServiceName)
	assert.True(t, records[0].CostUSD.Equal(decimal.RequireFromString("2354.00")),
		"got %s", records[0].CostUSD)
	assert.Equal(t, day, records[0].UsageDate)
	assert.Equal(t, model.ProviderAzure, records[0].Provider)

	assert.Equal(t, "Azure Text-to-Speech", records[1].ServiceName)
	assert.Equal(t, "Storage", records[2].ServiceName)
	assert.True(t, records[2].CostUSD.Equal(decimal.RequireFromString("3.25")))
}

func TestParseSponsorshipDayShortRows(t *testing.T) {
	a := &Azure{aliases: DefaultAliases(), logger: discardLogger()}

	records := a.parseSponsorshipDay(sponsorshipResponse{
		TableRows: [][]string{{"Storage"}, {"Storage", "Hot LRS"}},
	}, testDay(2024, 3, 15))
	assert.Empty(t, records)
}

func TestAzureSponsorshipCollect(t *testing.T) {
	var requestedDays []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedDays = append(requestedDays, r.URL.Query().Get("startDate"))
		assert.Equal(t, r.URL.Query().Get("startDate"), r.URL.Query().Get("endDate"))
		assert.Equal(t, "00000000-0000-0000-0000-000000000000", r.URL.Query().Get("subscriptionGuid"))
		assert.Equal(t, ".AspNet.Cookies=test", r.Header.Get("Cookie"))
		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(sponsorshipResponse{
			TableRows: [][]string{
				{"Cognitive Services", "gpt-4o Tokens", "$10.00"},
			},
		})
	}))
	defer server.Close()

	a := sponsorshipAzure(t, server)
	records, err := a.Collect(context.Background(), testDay(2024, 3, 1), testDay(2024, 3, 3))
	require.NoError(t, err)

	// One request per day in the inclusive range, one record each.
	assert.Equal(t, []string{"2024-03-01", "2024-03-02", "2024-03-03"}, requestedDays)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, "Azure OpenAI", rec.ServiceName)
		assert.Equal(t, testDay(2024, 3, 1).AddDays(i), rec.UsageDate)
	}
}

func TestAzureSponsorshipSkipsFailedDays(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("startDate") == "2024-03-02" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sponsorshipResponse{
			TableRows: [][]string{{"Storage", "Hot LRS", "$1.00"}},
		})
	}))
	defer server.Close()

	a := sponsorshipAzure(t, server)
	records, err := a.Collect(context.Background(), testDay(2024, 3, 1), testDay(2024, 3, 3))
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	require.Len(t, records, 2)
	assert.Equal(t, testDay(2024, 3, 1), records[0].UsageDate)
	assert.Equal(t, testDay(2024, 3, 3), records[1].UsageDate)
}

func TestAzureSponsorshipExpiredCookies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html>Sign in</html>"))
	}))
	defer server.Close()

	a := sponsorshipAzure(t, server)

	// Every day fails the same way; the range still completes with no records.
	records, err := a.Collect(context.Background(), testDay(2024, 3, 1), testDay(2024, 3, 1))
	require.NoError(t, err)
	assert.Empty(t, records)

	err = a.TestConnection(context.Background())
	assert.ErrorContains(t, err, "cookies")
}

func TestAzureSponsorshipCanceledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer server.Close()

	a := sponsorshipAzure(t, server)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Collect(ctx, testDay(2024, 3, 1), testDay(2024, 3, 5))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAzureSponsorshipTestConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"TableRows": []}`))
	}))
	defer server.Close()

	a := sponsorshipAzure(t, server)
	assert.NoError(t, a.TestConnection(context.Background()))
}

func queryResult(columns []string, rows [][]any) armcostmanagement.QueryResult {
	cols := make([]*armcostmanagement.QueryColumn, len(columns))
	for i := range columns {
		cols[i] = &armcostmanagement.QueryColumn{Name: &columns[i]}
	}
	return armcostmanagement.QueryResult{
		Properties: &armcostmanagement.QueryProperties{
			Columns: cols,
			Rows:    rows,
		},
	}
}

func TestParseQueryResult(t *testing.T) {
	a := &Azure{logger: discardLogger()}

	result := queryResult(
		[]string{"Cost", "UsageDate", "ServiceName", "Currency"},
		[][]any{
			{12.5, float64(20240101), "Virtual Machines", "USD"},
			{2.5, float64(20240101), "Virtual Machines", "USD"},
			{3.0, float64(20240102), "Storage", "USD"},
			{0.0, float64(20240102), "Bandwidth", "USD"},
			{1.0, nil, "Storage", "USD"},
		},
	)

	records := a.parseQueryResult(result)
	require.Len(t, records, 2)

	assert.Equal(t, "Virtual Machines", records[0].ServiceName)
	assert.Equal(t, testDay(2024, 1, 1), records[0].UsageDate)
	assert.True(t, records[0].CostUSD.Equal(decimal.RequireFromString("15")),
		"got %s", records[0].CostUSD)

	assert.Equal(t, "Storage", records[1].ServiceName)
	assert.Equal(t, testDay(2024, 1, 2), records[1].UsageDate)
}

func TestParseQueryResultEmpty(t *testing.T) {
	a := &Azure{logger: discardLogger()}

	records := a.parseQueryResult(armcostmanagement.QueryResult{})
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestRowDate(t *testing.T) {
	columns := map[string]int{"UsageDate": 0}

	tests := []struct {
		name  string
		value any
		want  civil.Date
		ok    bool
	}{
		{"compact number", float64(20240315), testDay(2024, 3, 15), true},
		{"json number", json.Number("20240315"), testDay(2024, 3, 15), true},
		{"iso string", "2024-03-15", testDay(2024, 3, 15), true},
		{"timestamp string", "2024-03-15T00:00:00", testDay(2024, 3, 15), true},
		{"nil", nil, civil.Date{}, false},
		{"garbage", "not-a-date", civil.Date{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			day, ok := rowDate([]any{tt.value}, columns, "UsageDate")
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, day)
			}
		})
	}
}

func TestRowFloatFallbackColumns(t *testing.T) {
	columns := map[string]int{"PreTaxCost": 0}
	assert.Equal(t, 4.2, rowFloat([]any{4.2}, columns, "Cost", "CostUSD", "PreTaxCost"))
	assert.Equal(t, 0.0, rowFloat([]any{4.2}, columns, "Cost"))
}

func TestAliasesNormalize(t *testing.T) {
	a := DefaultAliases()

	tests := []struct {
		service  string
		resource string
		want     string
	}{
		{"Cognitive Services", "gpt-4o-0806-Inp-glbl Tokens", "Azure OpenAI"},
		{"Cognitive Services", "Embedding Ada Tokens", "Azure OpenAI"},
		{"Cognitive Services", "Speech to Text Standard", "Azure Speech-to-Text"},
		{"Cognitive Services", "Text to Speech Neural Characters", "Azure Text-to-Speech"},
		{"Storage", "Hot LRS Data Stored", "Storage"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, a.Normalize(tt.service, tt.resource), tt.resource)
	}
}

func TestLoadAliases(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aliases.yaml")

	content := `rules:
  - service: "OpenAI"
    match: ["gpt", "davinci"]
  - service: "Speech"
    match: ["stt"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	a, err := LoadAliases(path)
	require.NoError(t, err)
	require.Len(t, a.Rules, 2)
	assert.Equal(t, "OpenAI", a.Normalize("Cognitive Services", "gpt-4o Tokens"))
}

func TestLoadAliasesErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadAliases(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "read aliases file")

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("rules: []\n"), 0o644))
	_, err = LoadAliases(empty)
	assert.ErrorContains(t, err, "no rules")

	unnamed := filepath.Join(dir, "unnamed.yaml")
	require.NoError(t, os.WriteFile(unnamed, []byte("rules:\n  - match: [\"gpt\"]\n"), 0o644))
	_, err = LoadAliases(unnamed)
	assert.ErrorContains(t, err, "empty service name")
}
