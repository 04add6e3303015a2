// Package rebuildcache implements CacheRebuild: clearing the local
// uploaded_objects ledger and repopulating it from what each configured
// store actually reports having, so the dedup cache can recover after
// being lost or corrupted without re-uploading everything.
package rebuildcache

import (
	"context"
	"strings"

	"github.com/ottervault/backup/internal/logger"
	"github.com/ottervault/backup/pkg/cache"
	"github.com/ottervault/backup/pkg/objectstore"
)

// Store is one configured remote destination to relist.
type Store struct {
	ID         int
	DataPrefix string
	DataClient objectstore.Client
}

// StoreCount reports how many objects were found for one store.
type StoreCount struct {
	StoreID int
	Count   int
}

// Run clears c's cold-storage ledger and repopulates it by listing every
// object under each store's data prefix, in configuration order.
func Run(ctx context.Context, c *cache.Cache, stores []Store) ([]StoreCount, error) {
	logger.Info("clearing cold storage cache")
	if err := c.ClearColdStorageCache(ctx); err != nil {
		return nil, err
	}

	counts := make([]StoreCount, 0, len(stores))
	for _, store := range stores {
		count, err := rebuildStore(ctx, c, store)
		if err != nil {
			return nil, err
		}
		logger.Info("added files from store", "store_id", store.ID, "count", count)
		counts = append(counts, StoreCount{StoreID: store.ID, Count: count})
	}
	return counts, nil
}

func rebuildStore(ctx context.Context, c *cache.Cache, store Store) (int, error) {
	objects, err := store.DataClient.List(ctx, store.DataPrefix)
	if err != nil {
		return 0, err
	}

	for _, obj := range objects {
		dataHash := strings.TrimPrefix(obj.Name, store.DataPrefix)
		if err := c.SetDataInColdStorage(ctx, dataHash, obj.Hash, []int{store.ID}); err != nil {
			return 0, err
		}
	}
	return len(objects), nil
}
