package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ottervault/backup/internal/logger"
	"github.com/ottervault/backup/pkg/backup"
)

var (
	backupForceHash bool
	backupDryRun    bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Walk the source tree and upload what has changed",
	Long: `backup enumerates every entry under the configured source directory,
skips content whose hash is already known to be present in every
configured store, and encrypts and uploads everything else.`,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().BoolVarP(&backupForceHash, "force-hash", "f", false, "re-hash every file even if its metadata fingerprint is cached")
	backupCmd.Flags().BoolVarP(&backupDryRun, "dry-run", "n", false, "hash and encrypt without uploading data or publishing the catalog")
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(GetConfigFile())
	if err != nil {
		return err
	}

	shutdown, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	metrics := initMetrics(cfg)

	stores, err := backupStores(cfg)
	if err != nil {
		return err
	}

	recipients, err := loadRecipients(cfg)
	if err != nil {
		return err
	}
	signer, err := loadSigner(cfg)
	if err != nil {
		return err
	}

	pipeline, err := backup.New(backup.Options{
		Source:        cfg.Source,
		DataCache:     cfg.DataCache,
		MetadataCache: cfg.MetadataCache,
		HMACSecret:    cfg.HMACSecret,
		Stores:        stores,
		Recipients:    recipients,
		Signer:        signer,
		ForceHash:     backupForceHash,
		DryRun:        backupDryRun,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}
	defer pipeline.Close()

	summary, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Backup %s complete: %s\n", summary.Name, summary.String())
	return nil
}
