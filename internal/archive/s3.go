// Package archive stores run reports as JSON objects in an S3-compatible bucket.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/02loveslollipop/urban-heat-differential/internal/pipeline"
)

// putObjectAPI is the slice of *s3.Client used to upload reports.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional, e.g. MinIO
	// AccessKeyID and SecretAccessKey override the default credential chain when both are set.
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
	Prefix          string
}

type S3 struct {
	client putObjectAPI
	bucket string
	prefix string
}

var _ pipeline.Sink = (*S3)(nil)

// New builds an S3 archive from cfg using the default AWS config chain.
func New(ctx context.Context, cfg Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3(client putObjectAPI, bucket, prefix string) *S3 {
	if prefix == "" {
		prefix = "runs"
	}
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

// Key is the object key for a report: <prefix>/YYYY/MM/DD/<run-id>.json, dated by run start.
func (s *S3) Key(report pipeline.Report) string {
	return fmt.Sprintf("%s/%s/%s.json", s.prefix, report.StartedAt.UTC().Format("2006/01/02"), report.RunID)
}

func (s *S3) Publish(ctx context.Context, report pipeline.Report) error {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	key := s.Key(report)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"run-id":    report.RunID,
			"exit-code": fmt.Sprint(report.ExitCode()),
		},
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
