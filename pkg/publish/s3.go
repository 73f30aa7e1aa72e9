package publish

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds object storage settings for the S3 publisher. Endpoint
// and path-style addressing support MinIO for local development.
type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool

	// Prefix is prepended to every object name, e.g. "assets/".
	Prefix string
}

// S3Publisher writes bundles to an S3-compatible bucket.
type S3Publisher struct {
	client *s3.Client
	cfg    S3Config
}

// NewS3Publisher creates an S3-backed publisher.
func NewS3Publisher(ctx context.Context, cfg S3Config) (*S3Publisher, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		// Static credentials, for MinIO or AWS with explicit keys.
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		// Default credential chain (IAM roles, env vars).
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Publisher{client: client, cfg: cfg}, nil
}

// Name implements Publisher.
func (p *S3Publisher) Name() string { return "s3" }

// Publish implements Publisher.
func (p *S3Publisher) Publish(ctx context.Context, objectName string, content []byte, contentType string) error {
	key := p.cfg.Prefix + objectName
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.cfg.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(content),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}
