package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/germtb/mlsclient/api"
)

var syncCmd = &cobra.Command{
	Use:   "sync [user_id] [group_id...]",
	Short: "Pull and process new MLS events for the listed groups",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := args[0]
		groupIDs := args[1:]
		if len(groupIDs) == 0 {
			ids, err := api.GroupIDs(cmd.Context(), userID)
			if err != nil {
				return err
			}
			groupIDs = ids
		}
		if err := api.SyncMLSState(cmd.Context(), userID, groupIDs); err != nil {
			return err
		}
		fmt.Printf("synced %d group(s)\n", len(groupIDs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
