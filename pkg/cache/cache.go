// Package cache implements the local dedup cache: a memoised mapping from
// a file's metadata fingerprint to its content hash (fs_hash_cache), a
// ledger of which content hashes have already been uploaded to which
// store (uploaded_objects), and an advisory in-flight lock table
// (hash_lock) that keeps concurrent workers from re-encrypting the same
// content hash at once.
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	interr "github.com/ottervault/backup/internal/errors"
)

// fsHashCacheRow mirrors the fs_hash_cache table: a memoised fingerprint ->
// content hash mapping, with in_use marking rows touched by the current run
// so Cleanup can evict everything else.
type fsHashCacheRow struct {
	FSHash   string  `gorm:"column:fs_hash;primaryKey"`
	DataHash *string `gorm:"column:data_hash"`
	InUse    bool    `gorm:"column:in_use"`
}

func (fsHashCacheRow) TableName() string { return "fs_hash_cache" }

// uploadedObjectRow mirrors the uploaded_objects table: one row per
// (data_hash, store) pair that has been confirmed present in cold storage.
type uploadedObjectRow struct {
	DataHash     string  `gorm:"column:data_hash"`
	EncryptedMD5 *string `gorm:"column:encrypted_md5"`
	DatastoreID  int     `gorm:"column:datastore_id"`
}

func (uploadedObjectRow) TableName() string { return "uploaded_objects" }

// hashLockRow mirrors the hash_lock table: INSERT acts as the mutex
// primitive for "only one worker may encrypt this content hash at a time".
type hashLockRow struct {
	DataHash string `gorm:"column:data_hash;primaryKey"`
}

func (hashLockRow) TableName() string { return "hash_lock" }

// Cache is a thread-safe handle onto the on-disk dedup cache database.
// Every pipeline stage shares one Cache instance per backup or rebuild-cache
// run; restore does not use the cache.
type Cache struct {
	db *gorm.DB
}

// Open creates (if needed) and opens the cache database at path, in WAL
// mode for concurrent readers alongside a single writer, then marks every
// existing fs_hash_cache row unused so Cleanup can evict anything this run
// does not touch.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, interr.Cache(path, err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, interr.Cache(path, fmt.Errorf("opening cache database: %w", err))
	}

	if err := db.AutoMigrate(&fsHashCacheRow{}, &uploadedObjectRow{}, &hashLockRow{}); err != nil {
		return nil, interr.Cache(path, fmt.Errorf("migrating cache schema: %w", err))
	}

	c := &Cache{db: db}
	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

// init marks every fs_hash_cache row unused and clears every in-flight lock
// left behind by a prior, possibly interrupted, run at the start of a run.
func (c *Cache) init() error {
	if err := c.db.Exec("UPDATE fs_hash_cache SET in_use = ?", false).Error; err != nil {
		return interr.Cache("", err)
	}
	if err := c.db.Exec("DELETE FROM hash_lock").Error; err != nil {
		return interr.Cache("", err)
	}
	return nil
}

// Cleanup deletes every fs_hash_cache row that was not touched (via
// TryGetHash) during this run, so the cache does not grow unbounded with
// entries for files that have since been deleted or moved.
func (c *Cache) Cleanup() error {
	if err := c.db.Exec("DELETE FROM fs_hash_cache WHERE in_use = ?", false).Error; err != nil {
		return interr.Cache("", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (c *Cache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return interr.Cache("", err)
	}
	return sqlDB.Close()
}

// fsHashCacheUpsert is the row shape returned by TryGetHash's atomic
// upsert-read.
type fsHashCacheUpsert struct {
	DataHash *string `gorm:"column:data_hash"`
}

// TryGetHash marks fingerprint as in-use for this run and returns the
// memoised content hash if one is already recorded, or ("", false, nil) on
// a miss. The mark-used and lookup happen as a single atomic
// upsert-then-read via INSERT ... ON CONFLICT ... RETURNING, matching the
// original cache's concurrency contract: a second caller racing on the
// same fingerprint observes either the old row or waits behind SQLite's
// writer lock, never a lost update.
func (c *Cache) TryGetHash(ctx context.Context, fingerprint string) (hash string, hit bool, err error) {
	var row fsHashCacheUpsert
	result := c.db.WithContext(ctx).Raw(
		`INSERT INTO fs_hash_cache (fs_hash, in_use) VALUES (?, ?)
		 ON CONFLICT(fs_hash) DO UPDATE SET in_use = ?
		 RETURNING data_hash`,
		fingerprint, true, true,
	).Scan(&row)
	if result.Error != nil {
		return "", false, interr.Cache(fingerprint, result.Error)
	}
	if row.DataHash == nil {
		return "", false, nil
	}
	return *row.DataHash, true, nil
}

// SetDataHash records the content hash computed for fingerprint.
func (c *Cache) SetDataHash(ctx context.Context, fingerprint, dataHash string) error {
	result := c.db.WithContext(ctx).Exec(
		`UPDATE fs_hash_cache SET data_hash = ? WHERE fs_hash = ?`,
		dataHash, fingerprint,
	)
	if result.Error != nil {
		return interr.Cache(fingerprint, result.Error)
	}
	return nil
}

// RequiresUpload returns the subset of storeIDs that do not yet have
// dataHash recorded as present in cold storage.
func (c *Cache) RequiresUpload(ctx context.Context, dataHash string, storeIDs []int) ([]int, error) {
	var missing []int
	for _, id := range storeIDs {
		present, err := c.isDataInColdStorage(ctx, dataHash, id)
		if err != nil {
			return nil, err
		}
		if !present {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// IsDataInColdStorage reports whether dataHash is recorded as uploaded to
// every store in storeIDs.
func (c *Cache) IsDataInColdStorage(ctx context.Context, dataHash string, storeIDs []int) (bool, error) {
	for _, id := range storeIDs {
		present, err := c.isDataInColdStorage(ctx, dataHash, id)
		if err != nil {
			return false, err
		}
		if !present {
			return false, nil
		}
	}
	return true, nil
}

func (c *Cache) isDataInColdStorage(ctx context.Context, dataHash string, storeID int) (bool, error) {
	var count int64
	err := c.db.WithContext(ctx).Model(&uploadedObjectRow{}).
		Where("data_hash = ? AND datastore_id = ?", dataHash, storeID).
		Count(&count).Error
	if err != nil {
		return false, interr.Cache(dataHash, err)
	}
	return count > 0, nil
}

// SetDataInColdStorage records that dataHash has been uploaded to every
// store in storeIDs. encryptedMD5 is advisory metadata only (see
// DESIGN.md); pass "" when unknown.
func (c *Cache) SetDataInColdStorage(ctx context.Context, dataHash, encryptedMD5 string, storeIDs []int) error {
	var md5 *string
	if encryptedMD5 != "" {
		md5 = &encryptedMD5
	}
	for _, id := range storeIDs {
		row := uploadedObjectRow{DataHash: dataHash, EncryptedMD5: md5, DatastoreID: id}
		if err := c.db.WithContext(ctx).Create(&row).Error; err != nil {
			return interr.Cache(dataHash, err)
		}
	}
	return nil
}

// ClearColdStorageCache deletes every uploaded_objects row, used by
// rebuild-cache before re-populating it from a fresh store listing.
func (c *Cache) ClearColdStorageCache(ctx context.Context) error {
	if err := c.db.WithContext(ctx).Exec("DELETE FROM uploaded_objects").Error; err != nil {
		return interr.Cache("", err)
	}
	return nil
}

// LockData attempts to acquire the in-flight lock for dataHash, returning
// true if the lock was acquired (no other in-flight encrypt/upload for
// this content hash) and false if it was already held. Locks are scoped to
// one process run: Open clears every row left over from a prior run, and
// callers release their own locks via UnlockData once the work completes.
func (c *Cache) LockData(ctx context.Context, dataHash string) (bool, error) {
	err := c.db.WithContext(ctx).Create(&hashLockRow{DataHash: dataHash}).Error
	if err == nil {
		return true, nil
	}
	if isUniqueConstraintError(err) {
		return false, nil
	}
	return false, interr.Cache(dataHash, err)
}

// UnlockData releases a lock acquired by LockData.
func (c *Cache) UnlockData(ctx context.Context, dataHash string) error {
	if err := c.db.WithContext(ctx).Delete(&hashLockRow{DataHash: dataHash}).Error; err != nil {
		return interr.Cache(dataHash, err)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}
