package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"
)

func newAWSSession(o Options) (*session.Session, error) {
	awsConfig := &aws.Config{
		Region:           aws.String(o.Region),
		S3ForcePathStyle: aws.Bool(o.ForcePathStyle),
	}

	if o.Endpoint != "" {
		awsConfig.Endpoint = aws.String(o.Endpoint)
	}

	return session.NewSession(awsConfig)
}

// S3Opener reads a single object by sequential GetObject stream.
type S3Opener struct {
	client *s3.S3
	bucket string
	key    string
	logger *zap.Logger
}

func newS3Opener(u *url.URL, o Options) (*S3Opener, error) {
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return nil, fmt.Errorf("s3 uri must be s3://bucket/key, got %q", u.String())
	}

	sess, err := newAWSSession(o)
	if err != nil {
		return nil, err
	}

	return &S3Opener{
		client: s3.New(sess),
		bucket: u.Host,
		key:    key,
		logger: o.Logger,
	}, nil
}

func (s *S3Opener) Open(ctx context.Context) (io.ReadCloser, error) {
	s.logger.Debug("opening s3 source",
		zap.String("bucket", s.bucket),
		zap.String("key", s.key),
	)

	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return out.Body, nil
}

type S3RepositoryOption func(*S3Repository)

func S3WithRegion(region string) S3RepositoryOption {
	return func(r *S3Repository) {
		r.Region = region
	}
}

func S3WithBucket(bucket string) S3RepositoryOption {
	return func(r *S3Repository) {
		r.Bucket = bucket
	}
}

func S3WithPrefix(prefix string) S3RepositoryOption {
	return func(r *S3Repository) {
		r.Prefix = prefix
	}
}

func S3WithLogger(l *zap.Logger) S3RepositoryOption {
	return func(r *S3Repository) {
		r.logger = l
	}
}

func S3WithForcePathStyle(forcePathStyle bool) S3RepositoryOption {
	return func(r *S3Repository) {
		r.ForcePathStyle = forcePathStyle
	}
}

func S3WithEndpoint(endpoint string) S3RepositoryOption {
	return func(r *S3Repository) {
		r.Endpoint = endpoint
	}
}

type S3Repository struct {
	logger   *zap.Logger
	uploader *s3manager.Uploader

	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	ForcePathStyle bool
}

func NewS3Repository(opts ...S3RepositoryOption) *S3Repository {
	r := &S3Repository{
		logger: zap.NewNop(),
	}

	for _, o := range opts {
		o(r)
	}

	sess, _ := newAWSSession(Options{
		Region:         r.Region,
		Endpoint:       r.Endpoint,
		ForcePathStyle: r.ForcePathStyle,
	})
	r.uploader = s3manager.NewUploader(sess)

	return r
}

func (r *S3Repository) Write(ctx context.Context, key string, reader io.Reader) error {
	// Object keys always use forward slashes regardless of host OS.
	objKey := path.Join(r.Prefix, key)

	out, err := r.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(objKey),
		Body:   reader,
	})
	if err != nil {
		return fmt.Errorf("uploading s3://%s/%s: %w", r.Bucket, objKey, err)
	}

	r.logger.Debug("object uploaded", zap.String("location", out.Location))
	return nil
}
