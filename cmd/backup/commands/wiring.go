package commands

import (
	"context"
	"fmt"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ottervault/backup/internal/config"
	"github.com/ottervault/backup/internal/logger"
	interrmetrics "github.com/ottervault/backup/internal/metrics"
	"github.com/ottervault/backup/internal/telemetry"
	backuppkg "github.com/ottervault/backup/pkg/backup"
	"github.com/ottervault/backup/pkg/objectstore"
	"github.com/ottervault/backup/pkg/objectstore/swift"
	"github.com/ottervault/backup/pkg/pgpcrypto"
	"github.com/ottervault/backup/pkg/rebuildcache"
	restorepkg "github.com/ottervault/backup/pkg/restore"
)

// loadConfig reads the configuration at path and wires up logging.
func loadConfig(path string) (*config.BackupConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	loggerCfg := logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}
	if err := logger.Init(loggerCfg); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	return cfg, nil
}

// initTelemetry starts the OpenTelemetry tracer provider, if enabled, and
// returns its shutdown function.
func initTelemetry(ctx context.Context, cfg *config.BackupConfig) (func(context.Context) error, error) {
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "backup",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	return telemetry.Init(ctx, telemetryCfg)
}

// initMetrics returns a ready Metrics instance, or nil if metrics are
// disabled in configuration.
func initMetrics(cfg *config.BackupConfig) *interrmetrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return interrmetrics.New(prometheus.DefaultRegisterer)
}

// dataClientFor builds the Swift client for one store's data container.
func dataClientFor(s config.StoreConfig) (objectstore.Client, error) {
	return swift.New(swift.Options{Cloud: s.DataCloudConfig, Container: s.DataContainer})
}

// metadataClientFor builds the Swift client for one store's metadata
// container.
func metadataClientFor(s config.StoreConfig) (objectstore.Client, error) {
	return swift.New(swift.Options{Cloud: s.MetadataCloudConfig, Container: s.MetadataContainer})
}

// backupStores builds one pkg/backup.Store per configured store.
func backupStores(cfg *config.BackupConfig) ([]backuppkg.Store, error) {
	stores := make([]backuppkg.Store, 0, len(cfg.Stores))
	for _, s := range cfg.Stores {
		dataClient, err := dataClientFor(s)
		if err != nil {
			return nil, err
		}
		metaClient, err := metadataClientFor(s)
		if err != nil {
			return nil, err
		}
		stores = append(stores, backuppkg.Store{
			ID:             s.ID,
			DataPrefix:     s.DataPrefix,
			MetadataPrefix: s.MetadataPrefix,
			DataClient:     dataClient,
			MetadataClient: metaClient,
		})
	}
	return stores, nil
}

// rebuildCacheStores builds one pkg/rebuildcache.Store per configured store.
func rebuildCacheStores(cfg *config.BackupConfig) ([]rebuildcache.Store, error) {
	stores := make([]rebuildcache.Store, 0, len(cfg.Stores))
	for _, s := range cfg.Stores {
		dataClient, err := dataClientFor(s)
		if err != nil {
			return nil, err
		}
		stores = append(stores, rebuildcache.Store{ID: s.ID, DataPrefix: s.DataPrefix, DataClient: dataClient})
	}
	return stores, nil
}

// restoreStore builds a pkg/restore.Store for the first configured store,
// matching the original tool's single-store restore contract.
func restoreStore(cfg *config.BackupConfig) (restorepkg.Store, error) {
	if len(cfg.Stores) == 0 {
		return restorepkg.Store{}, fmt.Errorf("no stores configured")
	}
	s := cfg.Stores[0]
	dataClient, err := dataClientFor(s)
	if err != nil {
		return restorepkg.Store{}, err
	}
	metaClient, err := metadataClientFor(s)
	if err != nil {
		return restorepkg.Store{}, err
	}
	return restorepkg.Store{
		DataPrefix:     s.DataPrefix,
		MetadataPrefix: s.MetadataPrefix,
		DataClient:     dataClient,
		MetadataClient: metaClient,
	}, nil
}

// loadRecipients loads the encryption recipient keyring from
// cfg.EncryptingKeyFile.
func loadRecipients(cfg *config.BackupConfig) (openpgp.EntityList, error) {
	return pgpcrypto.LoadKeyRing(cfg.EncryptingKeyFile)
}

// loadSigner loads the optional signing key from cfg.SigningKeyFile. It
// returns (nil, nil) when no signing key is configured.
func loadSigner(cfg *config.BackupConfig) (*openpgp.Entity, error) {
	if cfg.SigningKeyFile == "" {
		return nil, nil
	}
	ring, err := pgpcrypto.LoadKeyRing(cfg.SigningKeyFile)
	if err != nil {
		return nil, err
	}
	if len(ring) == 0 {
		return nil, fmt.Errorf("signing key file %q contains no entities", cfg.SigningKeyFile)
	}
	return ring[0], nil
}
