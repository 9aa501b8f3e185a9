package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"

	"github.com/turbolytics/stockroom/internal/objectstore"
	"github.com/turbolytics/stockroom/internal/product"
)

type record struct {
	SKU            string `parquet:"name=sku, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name           string `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Description    string `parquet:"name=description, type=BYTE_ARRAY, convertedtype=UTF8"`
	Active         bool   `parquet:"name=active, type=BOOLEAN"`
	LastModifiedAt int64  `parquet:"name=last_modified_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// Catalog is the slice of the product store the exporter needs.
type Catalog interface {
	Scan(ctx context.Context, fn func(product.Product) error) error
}

type ParquetExporterOption func(*ParquetExporter)

func ParquetExporterWithLogger(l *zap.Logger) ParquetExporterOption {
	return func(e *ParquetExporter) {
		e.logger = l
	}
}

// ParquetExporter writes a snapshot of the catalog as a single parquet
// object.
type ParquetExporter struct {
	catalog    Catalog
	repository objectstore.Repository
	logger     *zap.Logger
}

func NewParquetExporter(catalog Catalog, repository objectstore.Repository, opts ...ParquetExporterOption) *ParquetExporter {
	e := &ParquetExporter{
		catalog:    catalog,
		repository: repository,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export scans every product in sku order and writes them under key.
// Returns the number of rows written.
func (e *ParquetExporter) Export(ctx context.Context, key string) (int, error) {
	var buf bytes.Buffer

	pw, err := writer.NewParquetWriterFromWriter(&buf, new(record), 4)
	if err != nil {
		return 0, fmt.Errorf("initializing parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	var rows int
	err = e.catalog.Scan(ctx, func(p product.Product) error {
		rows++
		return pw.Write(record{
			SKU:            p.SKU,
			Name:           p.Name,
			Description:    p.Description,
			Active:         p.Active,
			LastModifiedAt: p.LastModifiedAt.UnixMilli(),
		})
	})
	if err != nil {
		pw.WriteStop()
		return rows, err
	}

	if err := pw.WriteStop(); err != nil {
		return rows, fmt.Errorf("finalizing parquet file: %w", err)
	}

	if err := e.repository.Write(ctx, key, &buf); err != nil {
		return rows, err
	}

	e.logger.Info("catalog exported",
		zap.String("key", key),
		zap.Int("rows", rows),
	)
	return rows, nil
}
