package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ottervault/backup/pkg/cache"
	"github.com/ottervault/backup/pkg/rebuildcache"
)

var rebuildCacheCmd = &cobra.Command{
	Use:   "rebuild-cache",
	Short: "Rebuild the local cold-storage cache from what each store reports",
	Long: `rebuild-cache clears the local record of which content hashes have
been uploaded to which store and repopulates it by listing every
object actually present in each configured store. Use this after the
local cache database has been lost or is suspected to be out of sync.`,
	RunE: runRebuildCache,
}

func runRebuildCache(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(GetConfigFile())
	if err != nil {
		return err
	}

	c, err := cache.Open(cfg.DataCache)
	if err != nil {
		return err
	}
	defer c.Close()

	stores, err := rebuildCacheStores(cfg)
	if err != nil {
		return err
	}

	counts, err := rebuildcache.Run(ctx, c, stores)
	if err != nil {
		return err
	}

	for _, count := range counts {
		fmt.Printf("store %d: %d objects\n", count.StoreID, count.Count)
	}
	return nil
}
