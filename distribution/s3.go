package distribution

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/trustnet/centerconf/interfaces"
)

// S3Backend mirrors artifacts to an S3 (or compatible) bucket from which
// downstream servers can fetch configuration.
type S3Backend struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Backend creates an S3 mirror. accessKey/secretKey may be empty when
// ambient credentials are configured.
func NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	cfg := aws.Config{Region: aws.String(region)}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Backend{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      prefix,
		log:         log,
		locationURI: fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region),
	}, nil
}

func (b *S3Backend) Name() string        { return "s3" }
func (b *S3Backend) LocationURI() string { return b.locationURI }

// Available reports whether the bucket responds.
func (b *S3Backend) Available(ctx context.Context) bool {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	return err == nil
}

// Publish uploads the artifact under its distribution path.
func (b *S3Backend) Publish(ctx context.Context, artifactPath string, data []byte) error {
	key := path.Join(b.prefix, artifactPath)
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to s3://%s/%s: %w", b.bucketName, key, err)
	}

	b.log.Debug("Published artifact to S3 mirror", "key", key, "size", len(data))
	return nil
}

// Fetch downloads a previously published artifact.
func (b *S3Backend) Fetch(ctx context.Context, artifactPath string) ([]byte, error) {
	key := path.Join(b.prefix, artifactPath)
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch s3://%s/%s: %w", b.bucketName, key, err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}
