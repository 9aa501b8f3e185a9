package importer

import (
	"context"

	"github.com/turbolytics/stockroom/internal/catalog"
	"github.com/turbolytics/stockroom/internal/product"
)

// Catalog is the persistence collaborator the importer writes batches to.
type Catalog interface {
	UpsertBatch(ctx context.Context, products []product.Product) (catalog.UpsertResult, error)
}

// Dedup collapses duplicate case-folded keys within a batch, keeping the
// last-occurring record per key. Later rows override earlier ones, matching
// the cross-batch last-write-wins semantics of the catalog upsert.
func Dedup(batch []product.Product) []product.Product {
	if len(batch) < 2 {
		return batch
	}

	out := make([]product.Product, 0, len(batch))
	index := make(map[string]int, len(batch))

	for _, p := range batch {
		if i, ok := index[p.SKU]; ok {
			out[i] = p
			continue
		}
		index[p.SKU] = len(out)
		out = append(out, p)
	}

	return out
}
