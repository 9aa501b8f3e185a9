package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Opener resolves a source URI into a sequential byte stream. Each Open call
// produces an independent stream; the importer opens the same source twice,
// once for counting and once for processing.
type Opener interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Repository persists named objects, used for report/export artifacts.
type Repository interface {
	Write(ctx context.Context, key string, reader io.Reader) error
}

type Options struct {
	Region         string
	Endpoint       string
	ForcePathStyle bool
	Logger         *zap.Logger
}

type Option func(*Options)

func WithRegion(region string) Option {
	return func(o *Options) {
		o.Region = region
	}
}

func WithEndpoint(endpoint string) Option {
	return func(o *Options) {
		o.Endpoint = endpoint
	}
}

func WithForcePathStyle(forcePathStyle bool) Option {
	return func(o *Options) {
		o.ForcePathStyle = forcePathStyle
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// NewOpener constructs an Opener for the given URI. Supported schemes are
// s3://bucket/key, file:///path, and bare filesystem paths.
func NewOpener(uri string, opts ...Option) (Opener, error) {
	o := Options{Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parsing source uri %q: %w", uri, err)
	}

	switch u.Scheme {
	case "s3":
		return newS3Opener(u, o)
	case "file":
		return newLocalOpener(u.Path, o), nil
	case "":
		return newLocalOpener(uri, o), nil
	}
	return nil, fmt.Errorf("unsupported source scheme: %q", u.Scheme)
}

// NewRepository constructs a Repository for the given URI. s3://bucket/prefix
// writes to S3, file:///dir and bare paths write to the local filesystem.
func NewRepository(uri string, opts ...Option) (Repository, error) {
	o := Options{Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parsing repository uri %q: %w", uri, err)
	}

	switch u.Scheme {
	case "s3":
		return NewS3Repository(
			S3WithBucket(u.Host),
			S3WithPrefix(strings.TrimPrefix(u.Path, "/")),
			S3WithRegion(o.Region),
			S3WithEndpoint(o.Endpoint),
			S3WithForcePathStyle(o.ForcePathStyle),
			S3WithLogger(o.Logger),
		), nil
	case "file":
		return NewLocalRepository(u.Path, LocalWithLogger(o.Logger)), nil
	case "":
		return NewLocalRepository(uri, LocalWithLogger(o.Logger)), nil
	}
	return nil, fmt.Errorf("unsupported repository scheme: %q", u.Scheme)
}
