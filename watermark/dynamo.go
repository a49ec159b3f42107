package watermark

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/justapithecus/lookout/faults"
)

// DynamoAPI is the DynamoDB client surface used by the store.
// Satisfied by *dynamodb.Client; tests inject stubs.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore persists the watermark as a single DynamoDB item with a
// conditional-write compare-and-swap. The table needs a string partition
// key named "pk"; the watermark is stored as unix milliseconds.
type DynamoStore struct {
	client DynamoAPI
	table  string
	key    string
}

// NewDynamoStore creates a DynamoDB-backed watermark store.
func NewDynamoStore(client DynamoAPI, table, key string) (*DynamoStore, error) {
	if table == "" {
		return nil, errors.New("dynamodb watermark store requires a table")
	}
	if key == "" {
		return nil, errors.New("dynamodb watermark store requires a key")
	}
	return &DynamoStore{client: client, table: table, key: key}, nil
}

// Load reads the watermark item with a strongly consistent read, so a
// run never plans against a stale replica.
func (s *DynamoStore) Load(ctx context.Context) (time.Time, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
		Key: map[string]ddbtypes.AttributeValue{
			"pk": &ddbtypes.AttributeValueMemberS{Value: s.key},
		},
	})
	if err != nil {
		return time.Time{}, false, faults.Wrap(err, "load", s.key)
	}
	if out.Item == nil {
		return time.Time{}, false, nil
	}

	attr, ok := out.Item["watermark_ms"].(*ddbtypes.AttributeValueMemberN)
	if !ok {
		return time.Time{}, false, fmt.Errorf("%w: watermark item missing watermark_ms",
			faults.ErrMalformedResponse)
	}
	ms, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: watermark_ms %q: %v",
			faults.ErrMalformedResponse, attr.Value, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

// CompareAndSwap writes the next watermark with a condition expression
// asserting the stored value still equals expected (or that no item
// exists yet, when expected is zero). A lost race surfaces as
// faults.ErrWatermarkConflict.
func (s *DynamoStore) CompareAndSwap(ctx context.Context, expected, next time.Time) error {
	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]ddbtypes.AttributeValue{
			"pk":           &ddbtypes.AttributeValueMemberS{Value: s.key},
			"watermark_ms": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(next.UnixMilli(), 10)},
			"updated_at":   &ddbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	}

	if expected.IsZero() {
		input.ConditionExpression = aws.String("attribute_not_exists(pk)")
	} else {
		input.ConditionExpression = aws.String("watermark_ms = :expected")
		input.ExpressionAttributeValues = map[string]ddbtypes.AttributeValue{
			":expected": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(expected.UnixMilli(), 10)},
		}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var condFailed *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return fmt.Errorf("%w: %v", faults.ErrWatermarkConflict, err)
		}
		return faults.Wrap(err, "cas", s.key)
	}
	return nil
}

var _ Store = (*DynamoStore)(nil)
