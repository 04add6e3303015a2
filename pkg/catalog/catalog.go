// Package catalog implements the MetadataCatalog: a per-backup, indexed,
// streamable SQLite database of FileEntry rows plus a small key/value
// metadata map, versioned so an incompatible reader fails fast at open
// instead of misinterpreting rows.
package catalog

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	interr "github.com/ottervault/backup/internal/errors"
)

// SchemaVersion is the only version this reader and writer understand.
const SchemaVersion = "0"

// Kind enumerates the FileEntry kinds a catalog row may hold.
type Kind string

const (
	KindFile      Kind = "FILE"
	KindSymlink   Kind = "SYMLINK"
	KindDirectory Kind = "DIRECTORY"
)

// Entry is one row of the catalog, matching FileEntry from the data model:
// immutable once written, uid is the enumeration-order identifier.
type Entry struct {
	UID         int64  `gorm:"column:id;primaryKey"`
	Name        string `gorm:"column:name"`
	Mtime       int64  `gorm:"column:mtime"`
	Mode        uint32 `gorm:"column:mode"`
	Kind        Kind   `gorm:"column:ttype"`
	Destination string `gorm:"column:destination"`
	DataHash    string `gorm:"column:data_hash"`
}

func (Entry) TableName() string { return "files" }

type metadataRow struct {
	Key   string `gorm:"column:key;primaryKey"`
	Value string `gorm:"column:value"`
}

func (metadataRow) TableName() string { return "metadata" }

// Writer appends FileEntry rows and a handful of metadata key/value pairs
// to a fresh catalog file. A Writer is exclusively owned by one backup run.
type Writer struct {
	db *gorm.DB
}

// CreateWriter creates a new catalog database at path (overwriting any
// existing file) and stamps it with the current schema version.
func CreateWriter(path string) (*Writer, error) {
	_ = os.Remove(path)

	db, err := gorm.Open(sqlite.Open(path+"?_pragma=journal_mode(WAL)"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, interr.Cache(path, fmt.Errorf("opening catalog: %w", err))
	}

	if err := db.AutoMigrate(&Entry{}, &metadataRow{}); err != nil {
		return nil, interr.Cache(path, fmt.Errorf("migrating catalog schema: %w", err))
	}

	w := &Writer{db: db}
	if err := w.SetMetadata("version", SchemaVersion); err != nil {
		return nil, err
	}
	return w, nil
}

// Append writes entry to the catalog. Callers must assign a monotone UID
// themselves (typically the enumeration index).
func (w *Writer) Append(ctx context.Context, entry Entry) error {
	if err := w.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return interr.Cache(entry.Name, err)
	}
	return nil
}

// SetMetadata upserts a key/value pair in the catalog's metadata map.
func (w *Writer) SetMetadata(key, value string) error {
	row := metadataRow{Key: key, Value: value}
	err := w.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
	if err != nil {
		return interr.Cache(key, err)
	}
	return nil
}

// SetSize stamps the catalog's total-bytes-of-FILE-entries metadata value.
func (w *Writer) SetSize(bytes int64) error {
	return w.SetMetadata("size", strconv.FormatInt(bytes, 10))
}

// Close releases the underlying database handle.
func (w *Writer) Close() error {
	sqlDB, err := w.db.DB()
	if err != nil {
		return interr.Cache("", err)
	}
	return sqlDB.Close()
}

// Reader streams Entry rows in ascending UID order from a previously
// written catalog. Readers are used only during restore and are
// read-only.
type Reader struct {
	db *gorm.DB
}

// OpenReader opens path for reading and checks its schema version.
func OpenReader(path string) (*Reader, error) {
	db, err := gorm.Open(sqlite.Open(path+"?mode=ro"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, interr.Cache(path, fmt.Errorf("opening catalog: %w", err))
	}

	r := &Reader{db: db}

	version, err := r.ReadMetadata("version")
	if err != nil {
		return nil, err
	}
	if version != SchemaVersion {
		return nil, interr.Cache(path, fmt.Errorf("unsupported catalog schema version %q", version))
	}

	return r, nil
}

// ReadMetadata returns the value stored under key.
func (r *Reader) ReadMetadata(key string) (string, error) {
	var row metadataRow
	if err := r.db.Where("key = ?", key).First(&row).Error; err != nil {
		return "", interr.Cache(key, err)
	}
	return row.Value, nil
}

// Size returns the catalog's recorded total size in bytes.
func (r *Reader) Size() (int64, error) {
	v, err := r.ReadMetadata("size")
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, interr.Cache("size", err)
	}
	return n, nil
}

// Entries returns every entry in ascending UID order. For very large
// catalogs prefer EntriesFunc, which streams rows instead of materialising
// the whole slice.
func (r *Reader) Entries() ([]Entry, error) {
	var entries []Entry
	if err := r.db.Order("id asc").Find(&entries).Error; err != nil {
		return nil, interr.Cache("", err)
	}
	return entries, nil
}

// EntriesFunc streams entries in ascending UID order, invoking fn once per
// row. Iteration stops at the first error fn returns.
func (r *Reader) EntriesFunc(fn func(Entry) error) error {
	rows, err := r.db.Model(&Entry{}).Order("id asc").Rows()
	if err != nil {
		return interr.Cache("", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		if err := r.db.ScanRows(rows, &e); err != nil {
			return interr.Cache("", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return interr.Cache("", rows.Err())
}

// Close releases the underlying database handle.
func (r *Reader) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return interr.Cache("", err)
	}
	return sqlDB.Close()
}
