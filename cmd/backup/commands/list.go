package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the backups available in the first configured store",
	Long: `list reads the first configured store's metadata container and
prints the name of every backup found there, one per line.`,
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(GetConfigFile())
	if err != nil {
		return err
	}

	store, err := restoreStore(cfg)
	if err != nil {
		return err
	}

	objects, err := store.MetadataClient.List(ctx, "")
	if err != nil {
		return err
	}

	for _, obj := range objects {
		name := obj.Name
		if !strings.HasPrefix(name, store.MetadataPrefix) {
			continue
		}
		name = name[len(store.MetadataPrefix):]
		if !strings.HasSuffix(name, ".metadata") {
			continue
		}
		fmt.Println(strings.TrimSuffix(name, ".metadata"))
	}
	return nil
}
