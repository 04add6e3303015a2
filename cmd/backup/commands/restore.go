package commands

import (
	"context"
	"fmt"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/spf13/cobra"

	"github.com/ottervault/backup/internal/logger"
	"github.com/ottervault/backup/pkg/restore"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <name> <destination>",
	Short: "Restore a named backup into an empty destination directory",
	Long: `restore downloads and decrypts the named backup's catalog from the
first configured store, then recreates every entry under destination,
which must not already exist.`,
	Args: cobra.ExactArgs(2),
	RunE: runRestore,
}

func runRestore(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	name, destination := args[0], args[1]

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

	store, err := restoreStore(cfg)
	if err != nil {
		return err
	}

	keyring, err := loadRecipients(cfg)
	if err != nil {
		return err
	}

	var validSigners openpgp.EntityList
	if cfg.SigningKeyFile != "" {
		signer, err := loadSigner(cfg)
		if err != nil {
			return err
		}
		validSigners = openpgp.EntityList{signer}
	}

	result, err := restore.Run(ctx, restore.Options{
		BackupName:   name,
		Destination:  destination,
		Store:        store,
		HMACSecret:   cfg.HMACSecret,
		Keyring:      keyring,
		ValidSigners: validSigners,
		Metrics:      metrics,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Restore %s complete: files=%d directories=%d symlinks=%d\n",
		name, result.Files, result.Directories, result.Symlinks)
	return nil
}
