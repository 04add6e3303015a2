package telemetry

import "go.opentelemetry.io/otel/attribute"

// Span attribute helpers for the backup/restore pipelines. Kept small and
// pipeline-specific rather than protocol-generic since this binary has a
// single request shape: one entry moving through enumerate/hash/encrypt/upload
// or fetch/decrypt/verify/materialise.

// EntryPath returns an attribute for the filesystem path of a pipeline entry.
func EntryPath(p string) attribute.KeyValue { return attribute.String("entry.path", p) }

// EntryKind returns an attribute for the kind of a pipeline entry (file, symlink, directory).
func EntryKind(k string) attribute.KeyValue { return attribute.String("entry.kind", k) }

// DataHash returns an attribute for a content hash.
func DataHash(h string) attribute.KeyValue { return attribute.String("entry.data_hash", h) }

// StoreID returns an attribute for a store identifier.
func StoreID(id int) attribute.KeyValue { return attribute.Int("store.id", id) }

// BytesTransferred returns an attribute for a byte count moved over the network.
func BytesTransferred(n int64) attribute.KeyValue { return attribute.Int64("bytes", n) }

// BackupName returns an attribute for the backup/catalog name.
func BackupName(name string) attribute.KeyValue { return attribute.String("backup.name", name) }
