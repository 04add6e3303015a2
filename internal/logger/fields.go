package logger

import "log/slog"

// Standard field keys for structured logging across the backup and restore
// pipelines. Use these keys consistently so log lines can be aggregated and
// queried regardless of which stage emitted them.
const (
	KeyPath      = "path"      // Source or destination filesystem path
	KeyName      = "name"      // Backup name (catalog stem)
	KeyKind      = "kind"      // Entry kind: file, symlink, directory
	KeySize      = "size"      // Size in bytes
	KeyMode      = "mode"      // POSIX mode bits
	KeyUID       = "uid"       // FileEntry insertion-order identifier
	KeyDataHash  = "data_hash" // Content hash (HMAC) of a file's bytes
	KeyStore     = "store"     // Store id or name
	KeyContainer = "container" // Remote container name
	KeyKey       = "key"       // Object key within a container
	KeyAttempt   = "attempt"   // Retry attempt number
	KeyDuration  = "duration_ms"
	KeyError     = "error"
	KeyCacheHit  = "cache_hit" // Whether a hash was served from cache
)

// Path returns a slog.Attr for a filesystem path.
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }

// Name returns a slog.Attr for a backup name.
func Name(n string) slog.Attr { return slog.String(KeyName, n) }

// Kind returns a slog.Attr for an entry kind.
func Kind(k string) slog.Attr { return slog.String(KeyKind, k) }

// Size returns a slog.Attr for a byte size.
func Size(n int64) slog.Attr { return slog.Int64(KeySize, n) }

// Mode returns a slog.Attr for POSIX mode bits.
func Mode(m uint32) slog.Attr { return slog.Any(KeyMode, m) }

// UID returns a slog.Attr for a FileEntry uid.
func UID(uid int64) slog.Attr { return slog.Int64(KeyUID, uid) }

// DataHash returns a slog.Attr for a content hash.
func DataHash(h string) slog.Attr { return slog.String(KeyDataHash, h) }

// Store returns a slog.Attr for a store identifier.
func Store(id int) slog.Attr { return slog.Int(KeyStore, id) }

// Container returns a slog.Attr for a remote container name.
func Container(name string) slog.Attr { return slog.String(KeyContainer, name) }

// Key returns a slog.Attr for an object key.
func Key(k string) slog.Attr { return slog.String(KeyKey, k) }

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDuration, ms) }

// Err returns a slog.Attr for an error, or a zero Attr if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// CacheHit returns a slog.Attr for a cache-hit indicator.
func CacheHit(hit bool) slog.Attr { return slog.Bool(KeyCacheHit, hit) }
