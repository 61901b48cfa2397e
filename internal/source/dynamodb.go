package source

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/smartcare-lab/care-monitor/internal/config"
	"github.com/smartcare-lab/care-monitor/pkg/types"
)

type queryAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDB reads the newest item of one device from a table keyed by
// device_id (partition) and timestamp (sort).
type DynamoDB struct {
	client   queryAPI
	table    string
	deviceID string
}

func OpenDynamoDB(ctx context.Context, cfg config.DynamoDBConfig) (*DynamoDB, error) {
	if cfg.Table == "" || cfg.DeviceID == "" {
		return nil, fmt.Errorf("dynamodb table/device_id: %w", ErrNotConfigured)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &DynamoDB{client: client, table: cfg.Table, deviceID: cfg.DeviceID}, nil
}

func (d *DynamoDB) Latest(ctx context.Context) (types.SensorSnapshot, error) {
	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String("device_id = :d"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":d": &ddbtypes.AttributeValueMemberS{Value: d.deviceID},
		},
		ScanIndexForward: aws.Bool(false), // newest first
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return types.SensorSnapshot{}, fmt.Errorf("dynamodb query %s: %w", d.table, err)
	}
	if len(out.Items) == 0 {
		return types.SensorSnapshot{}, ErrNoData
	}

	var rec map[string]any
	if err := attributevalue.UnmarshalMap(out.Items[0], &rec); err != nil {
		return types.SensorSnapshot{}, fmt.Errorf("dynamodb decode: %w", err)
	}
	return Normalize(rec), nil
}

func (d *DynamoDB) Close() error { return nil }
