// Package hashid computes the two stable digests the rest of the system
// keys its deduplication and cache lookups on: a metadata fingerprint used
// as a cache key, and a keyed content hash used as the deduplication
// identity for a file's bytes.
package hashid

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	interr "github.com/ottervault/backup/internal/errors"
)

// MetadataFingerprint returns the hex digest of SHA-512 over
// len(8B) ∥ mtime(8B) ∥ path-bytes, using the machine's native byte order
// for the two integers. It is used only as a cache key: two files sharing
// a fingerprint are not assumed to share content, only offered as a cache
// hit candidate for the caller's force_hash policy to accept or reject.
func MetadataFingerprint(length uint64, mtime int64, path string) string {
	h := sha512.New()

	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], length)
	h.Write(buf[:])

	binary.NativeEndian.PutUint64(buf[:], uint64(mtime))
	h.Write(buf[:])

	h.Write([]byte(path))

	return fmt.Sprintf("%X", h.Sum(nil))
}

// ContentHash returns the uppercase-hex HMAC-SHA512 of the file at path,
// keyed by secret. Two files with equal ContentHash must be byte-identical
// given a correct secret; this is the deduplication identity used
// throughout the cache, catalog, and object store.
func ContentHash(path string, secret string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", interr.IO(path, err)
	}
	defer f.Close()

	return ContentHashReader(f, secret)
}

// ContentHashReader computes the same digest as ContentHash over an
// arbitrary stream, for callers that already have an open reader.
func ContentHashReader(r io.Reader, secret string) (string, error) {
	mac := hmac.New(sha512.New, []byte(secret))
	if _, err := io.Copy(mac, r); err != nil {
		return "", interr.IO("", err)
	}
	return fmt.Sprintf("%X", mac.Sum(nil)), nil
}
