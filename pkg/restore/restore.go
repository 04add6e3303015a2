// Package restore implements the RestorePipeline: download and decrypt a
// named backup's catalog, then recreate every entry under a destination
// directory, verifying each file's content against its recorded hash
// before it is considered restored.
package restore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/google/uuid"

	interr "github.com/ottervault/backup/internal/errors"
	"github.com/ottervault/backup/internal/logger"
	"github.com/ottervault/backup/internal/metrics"
	"github.com/ottervault/backup/internal/telemetry"
	"github.com/ottervault/backup/pkg/catalog"
	"github.com/ottervault/backup/pkg/hashid"
	"github.com/ottervault/backup/pkg/objectstore"
	"github.com/ottervault/backup/pkg/pgpcrypto"
)

// maxConcurrentEntries bounds how many catalog entries are restored at
// once: restore is read-mostly and I/O bound on the remote store, but a
// far smaller fan-out than backup to avoid saturating a single store with
// download requests.
const maxConcurrentEntries = 4

// Store is the remote destination a restore run downloads from.
type Store struct {
	DataPrefix     string
	MetadataPrefix string
	DataClient     objectstore.Client
	MetadataClient objectstore.Client
}

// Options configures a single restore run.
type Options struct {
	BackupName  string
	Destination string
	Store       Store
	HMACSecret  string
	Keyring     openpgp.EntityList
	// ValidSigners, if non-empty, requires every downloaded artifact to
	// carry a valid signature from one of these entities.
	ValidSigners openpgp.EntityList

	Metrics *metrics.Metrics
}

// Result reports the outcome of one restore run.
type Result struct {
	Files       int
	Directories int
	Symlinks    int
}

// Run downloads opts.BackupName's catalog from opts.Store, decrypts it,
// and recreates every entry under opts.Destination. Destination must not
// already exist.
func Run(ctx context.Context, opts Options) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "restore.Run")
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.BackupName(opts.BackupName))

	if _, err := os.Stat(opts.Destination); err == nil {
		return Result{}, interr.IO(opts.Destination, fmt.Errorf("destination already exists"))
	}

	tempDir := filepath.Join(opts.Destination, ".data")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return Result{}, interr.IO(tempDir, err)
	}
	defer os.RemoveAll(tempDir)

	catalogPath, err := downloadCatalog(ctx, opts, tempDir)
	if err != nil {
		return Result{}, err
	}

	reader, err := catalog.OpenReader(catalogPath)
	if err != nil {
		return Result{}, err
	}
	defer reader.Close()

	size, err := reader.Size()
	if err != nil {
		return Result{}, err
	}
	avail, err := freeSpace(opts.Destination)
	if err != nil {
		return Result{}, interr.IO(opts.Destination, err)
	}
	if avail < size {
		return Result{}, interr.IO(opts.Destination, fmt.Errorf("insufficient free space: need %d bytes, have %d", size, avail))
	}

	entries, err := reader.Entries()
	if err != nil {
		return Result{}, err
	}

	var result Result
	sem := semaphore.NewWeighted(maxConcurrentEntries)
	g, gctx := errgroup.WithContext(ctx)

	for _, e := range entries {
		e := e
		if err := sem.Acquire(gctx, 1); err != nil {
			return Result{}, interr.IO(e.Name, err)
		}
		g.Go(func() error {
			defer sem.Release(1)
			return restoreEntry(gctx, opts, e, tempDir)
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	for _, e := range entries {
		switch e.Kind {
		case catalog.KindFile:
			result.Files++
		case catalog.KindDirectory:
			result.Directories++
		case catalog.KindSymlink:
			result.Symlinks++
		}
	}

	logger.Info("restore complete", "name", opts.BackupName, "files", result.Files,
		"directories", result.Directories, "symlinks", result.Symlinks)
	return result, nil
}

func downloadCatalog(ctx context.Context, opts Options, tempDir string) (string, error) {
	encryptedPath := filepath.Join(tempDir, "metadata.gpg")
	if err := downloadToFile(ctx, opts.Store.MetadataClient, opts.Store.MetadataPrefix+opts.BackupName+".metadata", encryptedPath); err != nil {
		return "", err
	}

	catalogPath := filepath.Join(tempDir, "metadata.sqlite")
	if err := decryptFile(opts, encryptedPath, catalogPath); err != nil {
		return "", err
	}
	return catalogPath, nil
}

// restoreEntry recreates one catalog entry under opts.Destination, after
// checking its name does not escape the destination directory.
func restoreEntry(ctx context.Context, opts Options, e catalog.Entry, tempDir string) error {
	ctx, span := telemetry.StartSpan(ctx, "restore.restoreEntry")
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.EntryPath(e.Name), telemetry.EntryKind(string(e.Kind)))

	destPath, err := safeJoin(opts.Destination, e.Name)
	if err != nil {
		logger.Warn("ignoring entry that would escape the restore destination", "name", e.Name)
		return nil
	}

	switch e.Kind {
	case catalog.KindDirectory:
		if err := os.MkdirAll(destPath, os.FileMode(e.Mode)); err != nil {
			return interr.IO(destPath, err)
		}
		return os.Chmod(destPath, os.FileMode(e.Mode))

	case catalog.KindSymlink:
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return interr.IO(destPath, err)
		}
		if err := os.Symlink(e.Destination, destPath); err != nil {
			return interr.IO(destPath, err)
		}
		return nil

	case catalog.KindFile:
		return restoreFile(ctx, opts, e, destPath, tempDir)
	}
	return nil
}

func restoreFile(ctx context.Context, opts Options, e catalog.Entry, destPath, tempDir string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return interr.IO(destPath, err)
	}

	suffix, err := randomAlphanumerics(4)
	if err != nil {
		return err
	}
	encryptedPath := filepath.Join(tempDir, e.DataHash+suffix+".gpg")
	key := opts.Store.DataPrefix + e.DataHash

	if err := downloadToFile(ctx, opts.Store.DataClient, key, encryptedPath); err != nil {
		return err
	}
	defer os.Remove(encryptedPath)

	if err := decryptFile(opts, encryptedPath, destPath); err != nil {
		return err
	}

	actualHash, err := hashid.ContentHash(destPath, opts.HMACSecret)
	if err != nil {
		return err
	}
	if actualHash != e.DataHash {
		opts.Metrics.ObserveIntegrityFailure()
		_ = os.Remove(destPath)
		err := interr.Integrity(e.DataHash, fmt.Errorf("restored content for %q does not match recorded hash", e.Name))
		telemetry.RecordError(ctx, err)
		return err
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return interr.IO(destPath, err)
	}
	opts.Metrics.ObserveRestoredBytes(info.Size())
	telemetry.SetAttributes(ctx, telemetry.DataHash(e.DataHash), telemetry.BytesTransferred(info.Size()))

	if err := os.Chtimes(destPath, time.Unix(e.Mtime, 0), time.Unix(e.Mtime, 0)); err != nil {
		return interr.IO(destPath, err)
	}
	if err := os.Chmod(destPath, os.FileMode(e.Mode)); err != nil {
		return interr.IO(destPath, err)
	}
	return nil
}

func downloadToFile(ctx context.Context, client objectstore.Client, key, destPath string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return interr.IO(destPath, err)
	}
	defer f.Close()

	if err := client.Get(ctx, key, f); err != nil {
		return err
	}
	return nil
}

func decryptFile(opts Options, sourcePath, destPath string) error {
	src, err := os.Open(sourcePath)
	if err != nil {
		return interr.IO(sourcePath, err)
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return interr.IO(destPath, err)
	}
	defer dest.Close()

	return pgpcrypto.DecryptStream(dest, src, opts.Keyring, opts.ValidSigners)
}

// safeJoin joins destination with the catalog entry's recorded name
// (which always begins with "/") and rejects the result if it would fall
// outside destination, guarding against a catalog entry crafted to
// traverse out of the restore directory.
func safeJoin(destination, name string) (string, error) {
	rel := strings.TrimPrefix(name, "/")
	joined := filepath.Join(destination, rel)

	destClean := filepath.Clean(destination) + string(filepath.Separator)
	if !strings.HasPrefix(joined+string(filepath.Separator), destClean) {
		return "", fmt.Errorf("entry %q escapes destination", name)
	}
	return joined, nil
}

const alphanumerics = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomAlphanumerics draws its entropy from a random UUID, matching
// pkg/backup's GenerateName suffix generation.
func randomAlphanumerics(n int) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", interr.IO("", err)
	}
	raw := id[:]
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = alphanumerics[int(raw[i%len(raw)])%len(alphanumerics)]
	}
	return string(buf), nil
}
