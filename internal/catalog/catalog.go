package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/turbolytics/stockroom/internal/product"
	"github.com/turbolytics/stockroom/internal/storage"
)

var ErrNotFound = errors.New("product not found")

// sqlite caps bound variables at 999 by default, so bulk statements are
// chunked. Each chunk still runs inside the batch transaction.
const maxStatementRows = 200

// UpsertResult reports the net effect of one batch application.
type UpsertResult struct {
	Created int
	Updated int
}

type Option func(*Store)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Store persists catalog products. Uniqueness is per case-folded SKU and the
// last write for a key wins, within a batch and across concurrent writers.
type Store struct {
	db      *sql.DB
	dialect storage.Dialect
	logger  *zap.Logger
}

func NewStore(db *sql.DB, dialect storage.Dialect, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: dialect,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertBatch applies one batch of products in a single transaction:
// keys absent from the catalog are inserted, present keys are overwritten.
// Callers must have collapsed duplicate keys already; the whole batch is
// visible atomically or not at all.
func (s *Store) UpsertBatch(ctx context.Context, products []product.Product) (UpsertResult, error) {
	if len(products) == 0 {
		return UpsertResult{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	keys := make([]string, len(products))
	for i, p := range products {
		keys[i] = p.SKU
	}

	existing, err := s.countMatching(ctx, tx, keys)
	if err != nil {
		return UpsertResult{}, err
	}

	now := time.Now().UTC()
	for start := 0; start < len(products); start += maxStatementRows {
		end := start + maxStatementRows
		if end > len(products) {
			end = len(products)
		}
		if err := s.upsertChunk(ctx, tx, products[start:end], now); err != nil {
			return UpsertResult{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("committing upsert transaction: %w", err)
	}

	result := UpsertResult{
		Created: len(products) - existing,
		Updated: existing,
	}

	s.logger.Debug("batch upserted",
		zap.Int("records", len(products)),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
	)

	return result, nil
}

func (s *Store) upsertChunk(ctx context.Context, tx *sql.Tx, products []product.Product, now time.Time) error {
	values := make([]string, len(products))
	args := make([]any, 0, len(products)*5)
	for i, p := range products {
		values[i] = "(?, ?, ?, ?, ?)"
		args = append(args, p.SKU, p.Name, p.Description, p.Active, now)
	}

	query := s.dialect.Rebind(fmt.Sprintf(`
		INSERT INTO products (sku, name, description, active, last_modified_at)
		VALUES %s
		ON CONFLICT (sku) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			active = excluded.active,
			last_modified_at = excluded.last_modified_at`,
		strings.Join(values, ", "),
	))

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting products: %w", err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CountMatching returns how many of the given case-folded keys already exist.
func (s *Store) CountMatching(ctx context.Context, keys []string) (int, error) {
	return s.countMatching(ctx, s.db, keys)
}

func (s *Store) countMatching(ctx context.Context, q querier, keys []string) (int, error) {
	total := 0
	for start := 0; start < len(keys); start += maxStatementRows {
		end := start + maxStatementRows
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		query := s.dialect.Rebind(fmt.Sprintf(
			`SELECT COUNT(*) FROM products WHERE sku IN (%s)`, placeholders,
		))

		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}

		var n int
		if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
			return 0, fmt.Errorf("counting matching products: %w", err)
		}
		total += n
	}
	return total, nil
}

// Get fetches one product by key. The key is folded before lookup.
func (s *Store) Get(ctx context.Context, sku string) (*product.Product, error) {
	query := s.dialect.Rebind(`
		SELECT sku, name, description, active, last_modified_at
		FROM products WHERE sku = ?`)

	var p product.Product
	err := s.db.QueryRowContext(ctx, query, product.FoldSKU(sku)).Scan(
		&p.SKU, &p.Name, &p.Description, &p.Active, &p.LastModifiedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Count returns the total number of catalog products.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n)
	return n, err
}

// DeleteBySKUs removes products by key and reports how many were deleted.
func (s *Store) DeleteBySKUs(ctx context.Context, skus []string) (int, error) {
	if len(skus) == 0 {
		return 0, nil
	}

	deleted := 0
	for start := 0; start < len(skus); start += maxStatementRows {
		end := start + maxStatementRows
		if end > len(skus) {
			end = len(skus)
		}
		chunk := skus[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		query := s.dialect.Rebind(fmt.Sprintf(
			`DELETE FROM products WHERE sku IN (%s)`, placeholders,
		))

		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = product.FoldSKU(k)
		}

		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return deleted, fmt.Errorf("deleting products: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, err
		}
		deleted += int(n)
	}

	return deleted, nil
}

// Scan streams every product to fn in key order, used by the export command.
func (s *Store) Scan(ctx context.Context, fn func(product.Product) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, name, description, active, last_modified_at
		FROM products ORDER BY sku`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p product.Product
		if err := rows.Scan(&p.SKU, &p.Name, &p.Description, &p.Active, &p.LastModifiedAt); err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return rows.Err()
}
