// Package backup implements the BackupPipeline: enumerate the source
// tree, classify and hash each entry, skip content already known to be
// uploaded, encrypt what remains, upload it to every configured store,
// and append a catalog row recording what was seen.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/google/uuid"

	"github.com/ottervault/backup/internal/bytesize"
	interr "github.com/ottervault/backup/internal/errors"
	"github.com/ottervault/backup/internal/logger"
	"github.com/ottervault/backup/internal/metrics"
	"github.com/ottervault/backup/internal/telemetry"
	"github.com/ottervault/backup/pkg/cache"
	"github.com/ottervault/backup/pkg/catalog"
	"github.com/ottervault/backup/pkg/hashid"
	"github.com/ottervault/backup/pkg/objectstore"
	"github.com/ottervault/backup/pkg/pgpcrypto"
)

// maxConcurrentEntries bounds how many source-tree entries the pipeline
// processes at once, per the run's resource budget.
const maxConcurrentEntries = 64

// alphanumerics is the character set used for the random suffix appended
// to generated backup names.
const alphanumerics = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Store is one configured remote destination a backup run uploads to.
type Store struct {
	ID             int
	DataPrefix     string
	MetadataPrefix string
	DataClient     objectstore.Client
	MetadataClient objectstore.Client
}

// Options configures a single backup run.
type Options struct {
	Source        string
	DataCache     string
	MetadataCache string
	HMACSecret    string
	Stores        []Store
	Recipients    openpgp.EntityList
	Signer        *openpgp.Entity

	// ForceHash re-hashes every file's content even when the metadata
	// fingerprint already has a cached content hash, and overwrites the
	// cached value when it has drifted.
	ForceHash bool
	// DryRun enumerates, classifies, hashes, and encrypts as usual, then
	// deletes each encrypted artifact without uploading it; no ledger row is
	// written and the catalog is not published. Computed content hashes are
	// still memoised in the cache.
	DryRun bool

	Metrics *metrics.Metrics
}

// Summary reports the outcome of one backup run.
type Summary struct {
	Name        string
	Files       int
	Directories int
	Symlinks    int
	Uploaded    int
	Unchanged   int
	TotalBytes  int64
}

// String renders the summary line in the form the CLI prints.
func (s Summary) String() string {
	return fmt.Sprintf(
		"files=%d size=%s directories=%d symlinks=%d uploaded=%d unchanged=%d",
		s.Files, bytesize.ByteSize(s.TotalBytes).String(), s.Directories, s.Symlinks, s.Uploaded, s.Unchanged,
	)
}

// GenerateName returns a new backup name: backup-<RFC3339 UTC
// seconds>-<4 random alphanumerics>, matching the remote metadata object
// naming convention.
func GenerateName(now time.Time) (string, error) {
	suffix, err := randomAlphanumerics(4)
	if err != nil {
		return "", err
	}
	stamp := now.UTC().Format("2006-01-02T15:04:05Z")
	return fmt.Sprintf("backup-%s-%s", stamp, suffix), nil
}

// randomAlphanumerics draws its entropy from a random UUID rather than
// reading crypto/rand directly, so the backup name suffix reuses the same
// ID-generation primitive the rest of the pipeline depends on.
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

// Pipeline runs backups against one configured set of stores and caches.
type Pipeline struct {
	opts  Options
	cache *cache.Cache
}

// New opens the local caches named in opts and returns a ready Pipeline.
func New(opts Options) (*Pipeline, error) {
	c, err := cache.Open(opts.DataCache)
	if err != nil {
		return nil, err
	}
	return &Pipeline{opts: opts, cache: c}, nil
}

// Close releases the pipeline's cache handle.
func (p *Pipeline) Close() error {
	return p.cache.Close()
}

type walkedEntry struct {
	uid  int64
	path string
	rel  string
	info os.FileInfo
}

// Run walks opts.Source, hashes and uploads what has changed, and writes a
// catalog recording every entry, encrypted and uploaded to every store's
// metadata container under name.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	ctx, span := telemetry.StartSpan(ctx, "backup.Run")
	defer span.End()

	name, err := GenerateName(time.Now())
	if err != nil {
		return Summary{}, err
	}
	telemetry.SetAttributes(ctx, telemetry.BackupName(name))

	entries, err := p.enumerate()
	if err != nil {
		return Summary{}, err
	}

	catalogPath := filepath.Join(filepath.Dir(p.opts.MetadataCache), name+".catalog.sqlite")
	writer, err := catalog.CreateWriter(catalogPath)
	if err != nil {
		return Summary{}, err
	}
	defer os.Remove(catalogPath)

	summary := Summary{Name: name}

	storeIDs := make([]int, len(p.opts.Stores))
	for i, s := range p.opts.Stores {
		storeIDs[i] = s.ID
	}

	results := make([]catalog.Entry, len(entries))
	uploadedCounts := make([]int, len(entries))

	sem := semaphore.NewWeighted(maxConcurrentEntries)
	g, gctx := errgroup.WithContext(ctx)

	for i, e := range entries {
		i, e := i, e
		if err := sem.Acquire(gctx, 1); err != nil {
			return Summary{}, interr.IO(e.rel, err)
		}
		g.Go(func() error {
			defer sem.Release(1)
			entry, uploaded, err := p.processEntry(gctx, e, storeIDs)
			if err != nil {
				return err
			}
			results[i] = entry
			if uploaded {
				uploadedCounts[i] = 1
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	var totalBytes int64
	for i, entry := range results {
		if err := writer.Append(ctx, entry); err != nil {
			return Summary{}, err
		}
		switch entry.Kind {
		case catalog.KindFile:
			summary.Files++
			totalBytes += entries[i].info.Size()
		case catalog.KindDirectory:
			summary.Directories++
		case catalog.KindSymlink:
			summary.Symlinks++
		}
		if uploadedCounts[i] == 1 {
			summary.Uploaded++
		} else if entry.Kind == catalog.KindFile {
			summary.Unchanged++
		}
	}
	summary.TotalBytes = totalBytes

	if err := writer.SetSize(totalBytes); err != nil {
		return Summary{}, err
	}
	if err := writer.Close(); err != nil {
		return Summary{}, err
	}

	if !p.opts.DryRun {
		if err := p.publishCatalog(ctx, catalogPath, name); err != nil {
			return Summary{}, err
		}
	}

	if err := p.cache.Cleanup(); err != nil {
		return Summary{}, err
	}

	logger.Info("backup complete", "name", name, "summary", summary.String())
	return summary, nil
}

func (p *Pipeline) enumerate() ([]walkedEntry, error) {
	var entries []walkedEntry
	var uid int64

	err := filepath.Walk(p.opts.Source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return interr.IO(path, err)
		}
		if path == p.opts.Source {
			return nil
		}
		rel, err := filepath.Rel(p.opts.Source, path)
		if err != nil {
			return interr.IO(path, err)
		}
		entries = append(entries, walkedEntry{
			uid:  uid,
			path: path,
			rel:  "/" + filepath.ToSlash(rel),
			info: info,
		})
		uid++
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	for i := range entries {
		entries[i].uid = int64(i)
		p.opts.Metrics.ObserveEnumerated(string(kindOf(entries[i].info)))
	}
	return entries, nil
}

func kindOf(info os.FileInfo) catalog.Kind {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return catalog.KindSymlink
	case info.IsDir():
		return catalog.KindDirectory
	default:
		return catalog.KindFile
	}
}

// processEntry classifies e, computes its catalog row, and (for files that
// need it) hashes, encrypts, and uploads its content. It returns whether a
// new upload happened.
func (p *Pipeline) processEntry(ctx context.Context, e walkedEntry, storeIDs []int) (catalog.Entry, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "backup.processEntry")
	defer span.End()
	kind := kindOf(e.info)
	telemetry.SetAttributes(ctx, telemetry.EntryPath(e.rel), telemetry.EntryKind(string(kind)))

	entry := catalog.Entry{
		UID:   e.uid,
		Name:  e.rel,
		Mtime: e.info.ModTime().Unix(),
		Mode:  uint32(e.info.Mode().Perm()),
		Kind:  kind,
	}

	switch kind {
	case catalog.KindDirectory:
		return entry, false, nil
	case catalog.KindSymlink:
		dest, err := os.Readlink(e.path)
		if err != nil {
			err = interr.IO(e.rel, err)
			telemetry.RecordError(ctx, err)
			return catalog.Entry{}, false, err
		}
		entry.Destination = dest
		return entry, false, nil
	}

	dataHash, uploaded, err := p.hashAndUpload(ctx, e, storeIDs)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return catalog.Entry{}, false, err
	}
	entry.DataHash = dataHash
	telemetry.SetAttributes(ctx, telemetry.DataHash(dataHash))
	return entry, uploaded, nil
}

func (p *Pipeline) hashAndUpload(ctx context.Context, e walkedEntry, storeIDs []int) (string, bool, error) {
	fingerprint := hashid.MetadataFingerprint(uint64(e.info.Size()), e.info.ModTime().Unix(), e.path)

	cached, hit, err := p.cache.TryGetHash(ctx, fingerprint)
	if err != nil {
		return "", false, err
	}

	dataHash := cached
	needsHash := !hit || p.opts.ForceHash
	if needsHash {
		computed, err := hashid.ContentHash(e.path, p.opts.HMACSecret)
		if err != nil {
			return "", false, err
		}
		if hit && computed != cached {
			logger.Warn("cached hash does not match filesystem content", "path", e.rel)
		}
		dataHash = computed
		if err := p.cache.SetDataHash(ctx, fingerprint, dataHash); err != nil {
			return "", false, err
		}
		p.opts.Metrics.ObserveHashed(e.info.Size())
	}
	p.opts.Metrics.ObserveDedup(hit && !needsHash)

	missing, err := p.cache.RequiresUpload(ctx, dataHash, storeIDs)
	if err != nil {
		return "", false, err
	}
	if len(missing) == 0 {
		return dataHash, false, nil
	}

	acquired, err := p.cache.LockData(ctx, dataHash)
	if err != nil {
		return "", false, err
	}
	if !acquired {
		// Another worker in this run is already encrypting/uploading this
		// content hash; the dedup gate means there is nothing left for us
		// to do once it finishes.
		return dataHash, false, nil
	}
	defer func() {
		if uerr := p.cache.UnlockData(ctx, dataHash); uerr != nil {
			logger.Warn("failed to release hash lock", "data_hash", dataHash, "error", uerr)
		}
	}()

	// Re-check after acquiring the lock: the holder that just released it
	// may have already satisfied every store we needed.
	missing, err = p.cache.RequiresUpload(ctx, dataHash, storeIDs)
	if err != nil {
		return "", false, err
	}
	if len(missing) == 0 {
		return dataHash, false, nil
	}

	if err := p.encryptAndUpload(ctx, e.path, dataHash, missing); err != nil {
		return "", false, err
	}
	return dataHash, !p.opts.DryRun, nil
}

func (p *Pipeline) encryptAndUpload(ctx context.Context, sourcePath, dataHash string, storeIDs []int) error {
	encryptedPath := filepath.Join(filepath.Dir(p.opts.DataCache), dataHash+".gpg")
	if err := p.encryptToFile(sourcePath, encryptedPath); err != nil {
		return err
	}
	defer os.Remove(encryptedPath)

	if p.opts.DryRun {
		logger.Info("skip: dry run, not uploading", "data_hash", dataHash)
		return nil
	}

	// A store's PUT failure drops only that store from this blob's success
	// set; the backup as a whole proceeds, and requires_upload will offer
	// the missing store again on a subsequent run.
	var succeeded []int
	for _, store := range p.opts.Stores {
		if !contains(storeIDs, store.ID) {
			continue
		}
		if err := p.uploadToStore(ctx, store, encryptedPath, dataHash); err != nil {
			p.opts.Metrics.ObserveUpload(fmt.Sprint(store.ID), err)
			logger.Warn("upload failed, will retry on next run", "store", store.ID, "data_hash", dataHash, "error", err)
			continue
		}
		succeeded = append(succeeded, store.ID)
	}

	if len(succeeded) == 0 {
		return nil
	}
	return p.cache.SetDataInColdStorage(ctx, dataHash, "md5_hash", succeeded)
}

func (p *Pipeline) encryptToFile(sourcePath, encryptedPath string) error {
	src, err := os.Open(sourcePath)
	if err != nil {
		return interr.IO(sourcePath, err)
	}
	defer src.Close()

	dest, err := os.Create(encryptedPath)
	if err != nil {
		return interr.IO(encryptedPath, err)
	}
	defer dest.Close()

	if err := pgpcrypto.EncryptStream(dest, src, p.opts.Recipients, p.opts.Signer); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) uploadToStore(ctx context.Context, store Store, encryptedPath, dataHash string) error {
	ctx, span := telemetry.StartSpan(ctx, "backup.uploadToStore")
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.StoreID(store.ID), telemetry.DataHash(dataHash))

	f, err := os.Open(encryptedPath)
	if err != nil {
		err = interr.IO(encryptedPath, err)
		telemetry.RecordError(ctx, err)
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		err = interr.IO(encryptedPath, err)
		telemetry.RecordError(ctx, err)
		return err
	}

	key := store.DataPrefix + dataHash
	storeLabel := fmt.Sprint(store.ID)
	onBytes := func(n int64) { p.opts.Metrics.ObserveUploadProgress(storeLabel, n) }
	if err := store.DataClient.PutWithProgress(ctx, key, f, info.Size(), onBytes); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	telemetry.SetAttributes(ctx, telemetry.BytesTransferred(info.Size()))
	p.opts.Metrics.ObserveUpload(storeLabel, nil)
	return nil
}

func (p *Pipeline) publishCatalog(ctx context.Context, catalogPath, name string) error {
	encryptedPath := catalogPath + ".gpg"
	if err := p.encryptToFile(catalogPath, encryptedPath); err != nil {
		return err
	}
	defer os.Remove(encryptedPath)

	for _, store := range p.opts.Stores {
		f, err := os.Open(encryptedPath)
		if err != nil {
			return interr.IO(encryptedPath, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return interr.IO(encryptedPath, err)
		}
		key := store.MetadataPrefix + name + ".metadata"
		err = store.MetadataClient.Put(ctx, key, f, info.Size())
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func contains(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
