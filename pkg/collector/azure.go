package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"

	"github.com/yapay-ai/cloud-cost-aggregator/internal/config"
	"github.com/yapay-ai/cloud-cost-aggregator/internal/dates"
	"github.com/yapay-ai/cloud-cost-aggregator/pkg/model"
)

// sponsorshipAPIURL is the usage endpoint of the Azure Sponsorship portal.
// There is no SDK for it; access is cookie-authenticated.
const sponsorshipAPIURL = "https://www.microsoftazuresponsorships.com/Usage/GetSubscriptionData"

// Azure collects costs either through the Cost Management API (service
// principal, paid accounts) or through the sponsorship portal (session
// cookies, sponsored accounts). Service principal credentials win when both
// are configured.
type Azure struct {
	cfg     config.AzureConfig
	aliases *Aliases
	logger  *slog.Logger

	query  *armcostmanagement.QueryClient // nil in sponsorship mode
	httpc  *http.Client
	apiURL string
}

// NewAzure creates an Azure cost collector.
func NewAzure(cfg config.AzureConfig, aliases *Aliases, logger *slog.Logger) (*Azure, error) {
	if cfg.SubscriptionID == "" {
		return nil, errors.New("azure subscription id not configured")
	}
	if aliases == nil {
		aliases = DefaultAliases()
	}

	a := &Azure{
		cfg:     cfg,
		aliases: aliases,
		logger:  logger.With("provider", model.ProviderAzure),
		apiURL:  sponsorshipAPIURL,
	}

	switch {
	case cfg.TenantID != "" && cfg.ClientID != "" && cfg.ClientSecret != "":
		cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
		if err != nil {
			return nil, fmt.Errorf("create azure credential: %w", err)
		}
		client, err := armcostmanagement.NewQueryClient(cred, nil)
		if err != nil {
			return nil, fmt.Errorf("create cost management client: %w", err)
		}
		a.query = client
		a.logger.Info("using cost management api")
	case cfg.SponsorshipCookies != "":
		a.httpc = &http.Client{Timeout: 60 * time.Second}
		a.logger.Info("using sponsorship portal api")
	default:
		return nil, errors.New("azure requires either service principal credentials or sponsorship cookies")
	}

	return a, nil
}

func (a *Azure) Name() string { return model.ProviderAzure }

func (a *Azure) Collect(ctx context.Context, start, end civil.Date) ([]model.CostRecord, error) {
	a.logger.Info("collecting costs", "start", start.String(), "end", end.String())

	var (
		records []model.CostRecord
		err     error
	)
	if a.query != nil {
		records, err = a.collectCostManagement(ctx, start, end)
	} else {
		records, err = a.collectSponsorship(ctx, start, end)
	}
	if err != nil {
		return nil, err
	}

	logCollectionSummary(a.logger, start, end, records)
	return records, nil
}

func (a *Azure) TestConnection(ctx context.Context) error {
	end := dates.Today()
	start := end.AddDays(-7)

	if a.query != nil {
		_, err := a.runUsageQuery(ctx, start, end)
		if err != nil {
			return fmt.Errorf("cost management connection test: %w", err)
		}
		return nil
	}

	resp, err := a.sponsorshipGet(ctx, start, end)
	if err != nil {
		return fmt.Errorf("sponsorship portal connection test: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sponsorship portal returned status %d", resp.StatusCode)
	}
	if !strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "json") {
		return errors.New("sponsorship portal returned non-JSON response; cookies are likely expired")
	}
	return nil
}

func (a *Azure) collectCostManagement(ctx context.Context, start, end civil.Date) ([]model.CostRecord, error) {
	result, err := a.runUsageQuery(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("query cost management api: %w", err)
	}

	if result.Properties != nil && result.Properties.NextLink != nil && *result.Properties.NextLink != "" {
		a.logger.Warn("cost management response is paginated; use a smaller date range if data looks incomplete")
	}

	return a.parseQueryResult(result), nil
}

func (a *Azure) runUsageQuery(ctx context.Context, start, end civil.Date) (armcostmanagement.QueryResult, error) {
	from := time.Date(start.Year, start.Month, start.Day, 0, 0, 0, 0, time.UTC)
	to := time.Date(end.Year, end.Month, end.Day, 23, 59, 59, 0, time.UTC)

	queryType := armcostmanagement.ExportTypeActualCost
	timeframe := armcostmanagement.TimeframeTypeCustom
	granularity := armcostmanagement.GranularityTypeDaily
	dimension := armcostmanagement.QueryColumnTypeDimension
	aggName := "Cost"
	aggFn := armcostmanagement.FunctionTypeSum
	serviceName := "ServiceName"

	queryDef := armcostmanagement.QueryDefinition{
		Type:      &queryType,
		Timeframe: &timeframe,
		TimePeriod: &armcostmanagement.QueryTimePeriod{
			From: &from,
			To:   &to,
		},
		Dataset: &armcostmanagement.QueryDataset{
			Granularity: &granularity,
			Aggregation: map[string]*armcostmanagement.QueryAggregation{
				"totalCost": {Name: &aggName, Function: &aggFn},
			},
			Grouping: []*armcostmanagement.QueryGrouping{
				{Type: &dimension, Name: &serviceName},
			},
		},
	}

	scope := "/subscriptions/" + a.cfg.SubscriptionID
	resp, err := a.query.Usage(ctx, scope, queryDef, nil)
	if err != nil {
		return armcostmanagement.QueryResult{}, err
	}
	return resp.QueryResult, nil
}

// parseQueryResult converts a Cost Management query result into cost
// records, aggregating rows by (day, service).
func (a *Azure) parseQueryResult(result armcostmanagement.QueryResult) []model.CostRecord {
	records := []model.CostRecord{}
	if result.Properties == nil || len(result.Properties.Rows) == 0 {
		return records
	}

	columns := make(map[string]int)
	for i, col := range result.Properties.Columns {
		if col != nil && col.Name != nil {
			columns[*col.Name] = i
		}
	}

	type key struct {
		day     civil.Date
		service string
	}
	totals := make(map[key]float64)
	var order []key

	for _, row := range result.Properties.Rows {
		cost := rowFloat(row, columns, "Cost", "CostUSD", "PreTaxCost")
		if cost <= 0 {
			continue
		}

		day, ok := rowDate(row, columns, "UsageDate")
		if !ok {
			a.logger.Warn("skipping cost row without usage date")
			continue
		}

		service := rowString(row, columns, "ServiceName")
		if service == "" {
			service = "Unknown"
		}

		k := key{day: day, service: service}
		if _, seen := totals[k]; !seen {
			order = append(order, k)
		}
		totals[k] += cost
	}

	for _, k := range order {
		records = append(records, model.NewCostRecord(model.ProviderAzure, k.service, totals[k], k.day))
	}
	return records
}

// rowFloat extracts a cost value from a query row, trying column names in
// order. The SDK decodes rows as untyped JSON values.
func rowFloat(row []any, columns map[string]int, names ...string) float64 {
	for _, name := range names {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			continue
		}
		switch v := row[idx].(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f
			}
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func rowString(row []any, columns map[string]int, name string) string {
	idx, ok := columns[name]
	if !ok || idx >= len(row) || row[idx] == nil {
		return ""
	}
	if s, ok := row[idx].(string); ok {
		return s
	}
	return fmt.Sprintf("%v", row[idx])
}

// rowDate parses the UsageDate column, which comes back as a number like
// 20240101.
func rowDate(row []any, columns map[string]int, name string) (civil.Date, bool) {
	idx, ok := columns[name]
	if !ok || idx >= len(row) || row[idx] == nil {
		return civil.Date{}, false
	}

	var raw string
	switch v := row[idx].(type) {
	case float64:
		raw = strconv.FormatInt(int64(v), 10)
	case int64:
		raw = strconv.FormatInt(v, 10)
	case json.Number:
		raw = v.String()
	case string:
		raw = v
	default:
		return civil.Date{}, false
	}

	if len(raw) == 8 {
		raw = raw[:4] + "-" + raw[4:6] + "-" + raw[6:8]
	}
	if len(raw) > 10 {
		raw = raw[:10]
	}

	day, err := civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, false
	}
	return day, true
}

// collectSponsorship pulls the sponsorship portal usage table. The portal
// aggregates over the whole requested range, so each day is fetched
// separately. A failed day is logged and skipped, matching the portal's
// flaky availability.
func (a *Azure) collectSponsorship(ctx context.Context, start, end civil.Date) ([]model.CostRecord, error) {
	records := []model.CostRecord{}

	for _, day := range dates.Days(start, end) {
		dayRecords, err := a.collectSponsorshipDay(ctx, day)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Error("sponsorship day fetch failed", "date", day.String(), "error", err)
			continue
		}
		records = append(records, dayRecords...)
	}

	return records, nil
}

func (a *Azure) collectSponsorshipDay(ctx context.Context, day civil.Date) ([]model.CostRecord, error) {
	resp, err := a.sponsorshipGet(ctx, day, day)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("portal returned status %d", resp.StatusCode)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "json") {
		if strings.Contains(contentType, "text/html") {
			return nil, errors.New("portal returned a login page; refresh the sponsorship cookies")
		}
		return nil, fmt.Errorf("portal returned unexpected content type %q", contentType)
	}

	var data sponsorshipResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode portal response: %w", err)
	}

	return a.parseSponsorshipDay(data, day), nil
}

func (a *Azure) sponsorshipGet(ctx context.Context, start, end civil.Date) (*http.Response, error) {
	params := url.Values{}
	params.Set("startDate", start.String())
	params.Set("endDate", end.String())
	params.Set("subscriptionGuid", a.cfg.SubscriptionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create portal request: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Cookie", a.cfg.SponsorshipCookies)
	req.Header.Set("Referer", "https://www.microsoftazuresponsorships.com/Usage")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	return a.httpc.Do(req)
}

// sponsorshipResponse is the portal's usage table:
//
//	{"TableHeaders": ["Service Name", "Service Resource", "Spend"],
//	 "TableRows": [["Cognitive Services", "gpt-4o-0806-Inp-glbl Tokens", "$820.60"], ...]}
type sponsorshipResponse struct {
	TableHeaders []string   `json:"TableHeaders"`
	TableRows    [][]string `json:"TableRows"`
}

// parseSponsorshipDay aggregates one day's table rows by normalized service
// name. Unparseable rows are logged and skipped.
func (a *Azure) parseSponsorshipDay(data sponsorshipResponse, day civil.Date) []model.CostRecord {
	totals := make(map[string]float64)
	var order []string

	for _, row := range data.TableRows {
		if len(row) < 3 {
			continue
		}

		service := a.aliases.Normalize(row[0], row[1])

		// Spend comes back as "$2,354.00".
		spend := strings.NewReplacer("$", "", ",", "").Replace(row[2])
		amount, err := strconv.ParseFloat(spend, 64)
		if err != nil {
			a.logger.Warn("skipping unparseable usage row", "row", strings.Join(row, "|"), "error", err)
			continue
		}
		if amount == 0 {
			continue
		}

		if _, seen := totals[service]; !seen {
			order = append(order, service)
		}
		totals[service] += amount
	}

	records := make([]model.CostRecord, 0, len(order))
	for _, service := range order {
		records = append(records, model.NewCostRecord(model.ProviderAzure, service, totals[service], day))
	}
	return records
}
