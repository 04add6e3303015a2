package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// validateCmd is reserved for a future catalog-integrity sweep (download
// every recorded content hash and re-verify it without a full restore).
// Not yet implemented, matching the original tool's own placeholder.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate backup integrity (not yet implemented)",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("validate: not yet implemented")
		return nil
	},
}
