package backup

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ottervault/backup/pkg/hashid"
	"github.com/ottervault/backup/pkg/objectstore"
)

func newTestRecipient(t *testing.T) *openpgp.Entity {
	t.Helper()
	entity, err := openpgp.NewEntity("tester", "", "tester@example.com", nil)
	require.NoError(t, err)
	for _, id := range entity.Identities {
		require.NoError(t, id.SelfSignature.SignUserId(id.UserId.Id, entity.PrimaryKey, entity.PrivateKey, nil))
	}
	for _, subkey := range entity.Subkeys {
		require.NoError(t, subkey.Sig.SignKey(subkey.PublicKey, entity.PrivateKey, nil))
	}
	return entity
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Put(_ context.Context, key string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStore) PutWithProgress(ctx context.Context, key string, r io.Reader, size int64, onBytes func(n int64)) error {
	if onBytes != nil {
		r = objectstore.NewProgressReader(r, onBytes)
	}
	return m.Put(ctx, key, r, size)
}

func (m *memStore) Get(_ context.Context, key string, w io.Writer) error {
	m.mu.Lock()
	data, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return objectstore.ErrNotFound
	}
	_, err := w.Write(data)
	return err
}

func (m *memStore) List(_ context.Context, prefix string) ([]objectstore.ObjectEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []objectstore.ObjectEntry
	for k, v := range m.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, objectstore.ObjectEntry{Name: k, Bytes: int64(len(v))})
		}
	}
	return out, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// failingStore rejects every Put/PutWithProgress, simulating a store that is
// unreachable for the duration of a backup run.
type failingStore struct{ *memStore }

func newFailingStore() failingStore { return failingStore{newMemStore()} }

func (f failingStore) Put(context.Context, string, io.Reader, int64) error {
	return objectstore.ErrNotFound
}

func (f failingStore) PutWithProgress(context.Context, string, io.Reader, int64, func(int64)) error {
	return objectstore.ErrNotFound
}

func writeSourceTree(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.bin"), []byte("hello\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dir", "b.bin"), []byte("world\n"), 0o644))
	require.NoError(t, os.Symlink("a.bin", filepath.Join(root, "link")))
}

func testOptions(t *testing.T, dataStore, metaStore *memStore) Options {
	t.Helper()
	root := t.TempDir()
	writeSourceTree(t, root)

	return Options{
		Source:        root,
		DataCache:     filepath.Join(t.TempDir(), "data.db"),
		MetadataCache: filepath.Join(t.TempDir(), "metadata.db"),
		HMACSecret:    "test-secret",
		Recipients:    openpgp.EntityList{newTestRecipient(t)},
		Stores: []Store{
			{ID: 1, DataPrefix: "data/", MetadataPrefix: "meta/", DataClient: dataStore, MetadataClient: metaStore},
		},
	}
}

func TestRunUploadsNewContentAndWritesCatalog(t *testing.T) {
	dataStore := newMemStore()
	metaStore := newMemStore()
	opts := testOptions(t, dataStore, metaStore)

	p, err := New(opts)
	require.NoError(t, err)
	defer p.Close()

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Files)
	assert.Equal(t, 1, summary.Directories)
	assert.Equal(t, 1, summary.Symlinks)
	assert.Equal(t, 2, summary.Uploaded)
	assert.Equal(t, 0, summary.Unchanged)
	assert.Equal(t, int64(12), summary.TotalBytes)

	assert.Equal(t, 2, dataStore.count())
	assert.Equal(t, 1, metaStore.count())
}

func TestRunSkipsAlreadyUploadedContent(t *testing.T) {
	dataStore := newMemStore()
	metaStore := newMemStore()
	opts := testOptions(t, dataStore, metaStore)

	p1, err := New(opts)
	require.NoError(t, err)
	_, err = p1.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, p1.Close())

	p2, err := New(opts)
	require.NoError(t, err)
	defer p2.Close()

	summary, err := p2.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Files)
	assert.Equal(t, 0, summary.Uploaded)
	assert.Equal(t, 2, summary.Unchanged)
}

func TestRunDryRunUploadsNothing(t *testing.T) {
	dataStore := newMemStore()
	metaStore := newMemStore()
	opts := testOptions(t, dataStore, metaStore)
	opts.DryRun = true

	p, err := New(opts)
	require.NoError(t, err)
	defer p.Close()

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Files)
	assert.Equal(t, 0, summary.Uploaded)
	assert.Equal(t, 0, dataStore.count())
	assert.Equal(t, 0, metaStore.count())
}

func TestRunDeduplicatesIdenticalContent(t *testing.T) {
	dataStore := newMemStore()
	metaStore := newMemStore()
	opts := testOptions(t, dataStore, metaStore)

	dup := []byte("same bytes\n")
	require.NoError(t, os.WriteFile(filepath.Join(opts.Source, "x"), dup, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(opts.Source, "y"), dup, 0o644))

	p, err := New(opts)
	require.NoError(t, err)
	defer p.Close()

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	// a.bin, dir/b.bin, x, y: four files but only three distinct contents.
	assert.Equal(t, 4, summary.Files)
	assert.Equal(t, 3, summary.Uploaded)
	assert.Equal(t, 3, dataStore.count())
}

func TestRunContinuesWhenOneStoreFails(t *testing.T) {
	dataStoreA := newMemStore()
	metaStoreA := newMemStore()
	dataStoreB := newFailingStore()

	opts := testOptions(t, dataStoreA, metaStoreA)
	opts.Stores = []Store{
		{ID: 1, DataPrefix: "data/", MetadataPrefix: "meta/", DataClient: dataStoreA, MetadataClient: metaStoreA},
		{ID: 2, DataPrefix: "data/", MetadataPrefix: "meta/", DataClient: dataStoreB, MetadataClient: metaStoreA},
	}

	p, err := New(opts)
	require.NoError(t, err)
	defer p.Close()

	summary, err := p.Run(context.Background())
	require.NoError(t, err, "a failing store must not abort the whole backup")

	assert.Equal(t, 2, summary.Files)
	assert.Equal(t, 2, summary.Uploaded)
	assert.Equal(t, 2, dataStoreA.count())
	assert.Equal(t, 0, dataStoreB.count())

	missing, err := p.cache.RequiresUpload(context.Background(), mustHash(t, opts, "a.bin"), []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, missing, "the failed store must still be reported as missing so a later run retries it")
}

func mustHash(t *testing.T, opts Options, relPath string) string {
	t.Helper()
	hash, err := hashid.ContentHash(filepath.Join(opts.Source, relPath), opts.HMACSecret)
	require.NoError(t, err)
	return hash
}

func TestGenerateNameFormat(t *testing.T) {
	name, err := GenerateName(time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC))
	require.NoError(t, err)
	assert.Regexp(t, `^backup-2023-11-14T22:13:20Z-[a-zA-Z0-9]{4}$`, name)
}
