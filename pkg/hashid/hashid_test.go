package hashid

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataFingerprintIsDeterministic(t *testing.T) {
	a := MetadataFingerprint(6, 1700000000, "/a.bin")
	b := MetadataFingerprint(6, 1700000000, "/a.bin")
	assert.Equal(t, a, b)
	assert.True(t, strings.ToUpper(a) == a, "fingerprint must be uppercase hex")
}

func TestMetadataFingerprintVariesWithInputs(t *testing.T) {
	base := MetadataFingerprint(6, 1700000000, "/a.bin")

	assert.NotEqual(t, base, MetadataFingerprint(7, 1700000000, "/a.bin"))
	assert.NotEqual(t, base, MetadataFingerprint(6, 1700000001, "/a.bin"))
	assert.NotEqual(t, base, MetadataFingerprint(6, 1700000000, "/b.bin"))
}

func TestContentHashRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0o644))

	h1, err := ContentHash(path, "secret")
	require.NoError(t, err)
	assert.True(t, strings.ToUpper(h1) == h1)

	h2, err := ContentHash(path, "secret")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := ContentHash(path, "other-secret")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestContentHashReaderMatchesContentHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0o644))

	want, err := ContentHash(path, "secret")
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	got, err := ContentHashReader(f, "secret")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestContentHashMissingFile(t *testing.T) {
	_, err := ContentHash("/no/such/file", "secret")
	assert.Error(t, err)
}
