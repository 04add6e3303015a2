package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "backup.metadata.sqlite")

	w, err := CreateWriter(path)
	require.NoError(t, err)

	entries := []Entry{
		{UID: 0, Name: "/d", Mtime: 1700000000, Mode: 0o755, Kind: KindDirectory},
		{UID: 1, Name: "/d/l", Mtime: 1700000000, Mode: 0o777, Kind: KindSymlink, Destination: "../target"},
		{UID: 2, Name: "/a.bin", Mtime: 1700000000, Mode: 0o644, Kind: KindFile, DataHash: "DEADBEEF"},
	}
	for _, e := range entries {
		require.NoError(t, w.Append(ctx, e))
	}
	require.NoError(t, w.SetSize(6))
	require.NoError(t, w.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	size, err := r.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(6), size)

	got, err := r.Entries()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(0), got[0].UID)
	assert.Equal(t, int64(1), got[1].UID)
	assert.Equal(t, int64(2), got[2].UID)
	assert.Equal(t, "../target", got[1].Destination)
	assert.Equal(t, "DEADBEEF", got[2].DataHash)
}

func TestEntriesFuncStreamsInOrder(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "backup.metadata.sqlite")

	w, err := CreateWriter(path)
	require.NoError(t, err)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, w.Append(ctx, Entry{UID: i, Name: "/f", Kind: KindFile}))
	}
	require.NoError(t, w.SetSize(0))
	require.NoError(t, w.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	var uids []int64
	require.NoError(t, r.EntriesFunc(func(e Entry) error {
		uids = append(uids, e.UID)
		return nil
	}))
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, uids)
}

func TestOpenReaderRejectsWrongVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.metadata.sqlite")

	w, err := CreateWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.SetMetadata("version", "99"))
	require.NoError(t, w.SetSize(0))
	require.NoError(t, w.Close())

	_, err = OpenReader(path)
	assert.Error(t, err)
}
