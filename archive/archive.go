// Package archive persists run reports to durable object storage,
// giving operators an audit trail of what each scheduled invocation
// scanned, enriched, and delivered.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the S3 client surface used by the archiver.
// Satisfied by *s3.Client; tests inject stubs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes one JSON report object per run under
// prefix/day/run_id.json.
type S3Archiver struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Archiver creates an archiver over the given bucket.
func NewS3Archiver(client S3API, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, errors.New("archiver requires a bucket")
	}
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}, nil
}

// Archive marshals the report and puts it at day-partitioned key.
// day is the UTC calendar day of the run's window end.
func (a *S3Archiver) Archive(ctx context.Context, day, runID string, report any) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal report: %w", err)
	}

	key := path.Join(a.prefix, day, runID+".json")
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: put s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}
