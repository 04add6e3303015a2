package rebuildcache

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ottervault/backup/pkg/cache"
	"github.com/ottervault/backup/pkg/objectstore"
)

type fakeStore struct {
	entries []objectstore.ObjectEntry
}

func (f *fakeStore) Put(context.Context, string, io.Reader, int64) error { return nil }
func (f *fakeStore) PutWithProgress(context.Context, string, io.Reader, int64, func(int64)) error {
	return nil
}
func (f *fakeStore) Get(context.Context, string, io.Writer) error        { return objectstore.ErrNotFound }
func (f *fakeStore) List(context.Context, string) ([]objectstore.ObjectEntry, error) {
	return f.entries, nil
}

func TestRunRepopulatesColdStorageCache(t *testing.T) {
	ctx := context.Background()
	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer c.Close()

	store := Store{
		ID:         1,
		DataPrefix: "data/",
		DataClient: &fakeStore{entries: []objectstore.ObjectEntry{
			{Name: "data/HASH1", Hash: "etag1", Bytes: 10},
			{Name: "data/HASH2", Hash: "etag2", Bytes: 20},
		}},
	}

	counts, err := Run(ctx, c, []Store{store})
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, 1, counts[0].StoreID)
	assert.Equal(t, 2, counts[0].Count)

	present, err := c.IsDataInColdStorage(ctx, "HASH1", []int{1})
	require.NoError(t, err)
	assert.True(t, present)

	present, err = c.IsDataInColdStorage(ctx, "HASH3", []int{1})
	require.NoError(t, err)
	assert.False(t, present)
}

func TestRunClearsExistingEntriesFirst(t *testing.T) {
	ctx := context.Background()
	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetDataInColdStorage(ctx, "STALE", "", []int{1}))

	store := Store{ID: 1, DataPrefix: "data/", DataClient: &fakeStore{}}
	_, err = Run(ctx, c, []Store{store})
	require.NoError(t, err)

	present, err := c.IsDataInColdStorage(ctx, "STALE", []int{1})
	require.NoError(t, err)
	assert.False(t, present, "rebuild must clear stale entries not present in the store listing")
}
