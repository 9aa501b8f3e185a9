package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

type LocalOpener struct {
	path   string
	logger *zap.Logger
}

func newLocalOpener(path string, o Options) *LocalOpener {
	return &LocalOpener{path: path, logger: o.Logger}
}

func (l *LocalOpener) Open(ctx context.Context) (io.ReadCloser, error) {
	l.logger.Debug("opening local source", zap.String("path", l.path))
	return os.Open(l.path)
}

type LocalRepositoryOption func(*LocalRepository)

func LocalWithPrefix(prefix string) LocalRepositoryOption {
	return func(r *LocalRepository) {
		r.prefix = prefix
	}
}

func LocalWithLogger(logger *zap.Logger) LocalRepositoryOption {
	return func(r *LocalRepository) {
		r.logger = logger
	}
}

type LocalRepository struct {
	basePath string
	prefix   string
	logger   *zap.Logger
}

func NewLocalRepository(basePath string, opts ...LocalRepositoryOption) *LocalRepository {
	r := &LocalRepository{
		basePath: basePath,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *LocalRepository) Write(ctx context.Context, key string, reader io.Reader) error {
	target := filepath.Join(r.basePath, r.prefix, key)

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating object directory: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}

	n, err := io.Copy(f, reader)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}

	r.logger.Debug("object written",
		zap.String("path", target),
		zap.Int64("bytes", n),
	)
	return nil
}
