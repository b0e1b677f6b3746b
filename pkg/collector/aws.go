package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"

	"github.com/yapay-ai/cloud-cost-aggregator/internal/config"
	"github.com/yapay-ai/cloud-cost-aggregator/internal/dates"
	"github.com/yapay-ai/cloud-cost-aggregator/pkg/model"
)

// costExplorerAPI is the Cost Explorer surface the collector uses.
type costExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// AWS collects costs from the AWS Cost Explorer API, grouped by service at
// daily granularity with credits and refunds filtered out.
type AWS struct {
	client costExplorerAPI
	logger *slog.Logger
}

// NewAWS creates an AWS Cost Explorer collector.
func NewAWS(cfg config.AWSConfig, logger *slog.Logger) (*AWS, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("aws credentials not configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &AWS{
		client: costexplorer.NewFromConfig(awsCfg),
		logger: logger.With("provider", model.ProviderAWS),
	}, nil
}

func (a *AWS) Name() string { return model.ProviderAWS }

func (a *AWS) Collect(ctx context.Context, start, end civil.Date) ([]model.CostRecord, error) {
	a.logger.Info("collecting costs", "start", start.String(), "end", end.String())

	// Cost Explorer treats the end date as exclusive.
	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(start.String()),
			End:   aws.String(end.AddDays(1).String()),
		},
		Granularity: cetypes.GranularityDaily,
		Metrics:     []string{"BlendedCost", "UnblendedCost"},
		Filter: &cetypes.Expression{
			Not: &cetypes.Expression{
				Dimensions: &cetypes.DimensionValues{
					Key:    cetypes.DimensionRecordType,
					Values: []string{"Credit", "Refund"},
				},
			},
		},
		GroupBy: []cetypes.GroupDefinition{
			{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
		},
	}

	var records []model.CostRecord
	for {
		out, err := a.client.GetCostAndUsage(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("get cost and usage: %w", err)
		}

		parsed, err := parseCostAndUsage(out.ResultsByTime)
		if err != nil {
			return nil, err
		}
		records = append(records, parsed...)

		if aws.ToString(out.NextPageToken) == "" {
			break
		}
		input.NextPageToken = out.NextPageToken
	}

	logCollectionSummary(a.logger, start, end, records)
	if records == nil {
		records = []model.CostRecord{}
	}
	return records, nil
}

func (a *AWS) TestConnection(ctx context.Context) error {
	end := dates.Today()
	start := end.AddDays(-7)

	_, err := a.client.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(start.String()),
			End:   aws.String(end.String()),
		},
		Granularity: cetypes.GranularityDaily,
		Metrics:     []string{"UnblendedCost"},
	})
	if err != nil {
		return fmt.Errorf("cost explorer connection test: %w", err)
	}
	return nil
}

// parseCostAndUsage converts Cost Explorer results into cost records. Blended
// vs unblended cost: the higher of the two captures actual usage even when
// credits apply. Zero-cost services are skipped.
func parseCostAndUsage(results []cetypes.ResultByTime) ([]model.CostRecord, error) {
	var records []model.CostRecord

	for _, result := range results {
		if result.TimePeriod == nil {
			continue
		}
		day, err := civil.ParseDate(aws.ToString(result.TimePeriod.Start))
		if err != nil {
			return nil, fmt.Errorf("parse result period %q: %w", aws.ToString(result.TimePeriod.Start), err)
		}

		for _, group := range result.Groups {
			if len(group.Keys) == 0 {
				continue
			}
			serviceName := group.Keys[0]

			blended, err := metricAmount(group.Metrics, "BlendedCost")
			if err != nil {
				return nil, fmt.Errorf("service %s on %s: %w", serviceName, day, err)
			}
			unblended, err := metricAmount(group.Metrics, "UnblendedCost")
			if err != nil {
				return nil, fmt.Errorf("service %s on %s: %w", serviceName, day, err)
			}

			amount := blended
			if unblended > amount {
				amount = unblended
			}
			if amount <= 0 {
				continue
			}

			records = append(records, model.NewCostRecord(model.ProviderAWS, serviceName, amount, day))
		}
	}

	return records, nil
}

func metricAmount(metrics map[string]cetypes.MetricValue, name string) (float64, error) {
	mv, ok := metrics[name]
	if !ok {
		return 0, nil
	}
	amount, err := strconv.ParseFloat(aws.ToString(mv.Amount), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s amount %q: %w", name, aws.ToString(mv.Amount), err)
	}
	return amount, nil
}
