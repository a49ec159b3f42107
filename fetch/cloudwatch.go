package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	"github.com/justapithecus/lookout/types"
)

// CloudWatchAPI is the CloudWatch Logs client surface used by the
// store. Satisfied by *cloudwatchlogs.Client; tests inject stubs.
type CloudWatchAPI interface {
	FilterLogEvents(ctx context.Context, params *cloudwatchlogs.FilterLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
}

// CloudWatchStore queries a CloudWatch Logs log group by substring
// pattern and time range via FilterLogEvents.
type CloudWatchStore struct {
	client   CloudWatchAPI
	logGroup string
}

// NewCloudWatchStore creates a log store over one log group.
func NewCloudWatchStore(client CloudWatchAPI, logGroup string) (*CloudWatchStore, error) {
	if logGroup == "" {
		return nil, errors.New("cloudwatch store requires a log group")
	}
	return &CloudWatchStore{client: client, logGroup: logGroup}, nil
}

// Query fetches one FilterLogEvents page. The substring pattern is
// quoted so CloudWatch treats it as a single term rather than
// whitespace-separated terms.
func (s *CloudWatchStore) Query(ctx context.Context, window types.Window, pattern, nextToken string, pageSize int) ([]types.LogRecord, string, error) {
	input := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName:  aws.String(s.logGroup),
		StartTime:     aws.Int64(window.Start.UnixMilli()),
		EndTime:       aws.Int64(window.End.UnixMilli()),
		FilterPattern: aws.String(fmt.Sprintf("%q", pattern)),
		Limit:         aws.Int32(int32(pageSize)),
	}
	if nextToken != "" {
		input.NextToken = aws.String(nextToken)
	}

	out, err := s.client.FilterLogEvents(ctx, input)
	if err != nil {
		return nil, "", err
	}

	records := make([]types.LogRecord, 0, len(out.Events))
	for _, e := range out.Events {
		rec := types.LogRecord{
			RawText: aws.ToString(e.Message),
		}
		if e.Timestamp != nil {
			rec.Timestamp = time.UnixMilli(*e.Timestamp).UTC()
		}
		if e.LogStreamName != nil {
			rec.SourceID = *e.LogStreamName
		}
		records = append(records, rec)
	}

	return records, aws.ToString(out.NextToken), nil
}

var _ LogStore = (*CloudWatchStore)(nil)
