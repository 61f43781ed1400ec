package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/germtb/mlsclient/api"
)

var lsCmd = &cobra.Command{
	Use:   "ls [user_id]",
	Short: "List the groups the user belongs to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := api.GroupIDs(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No groups.")
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var membersCmd = &cobra.Command{
	Use:   "members [user_id] [group_id]",
	Short: "List the active members of a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		members, err := api.GroupMembers(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if len(members) == 0 {
			fmt.Println("No members.")
			return nil
		}
		fmt.Printf("Members (%d):\n\n", len(members))
		for _, m := range members {
			marker := ""
			if m.Identity == args[0] {
				marker = "  (you)"
			}
			fmt.Printf("  [%d] %s%s\n", m.Index, m.Identity, marker)
		}
		return nil
	},
}

var manifestCmd = &cobra.Command{
	Use:   "manifest [user_id] [group_id]",
	Short: "Print the Merkle root over the group's cached transcript",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := api.ConversationManifest(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if root == "" {
			fmt.Println("Empty transcript.")
			return nil
		}
		fmt.Println(root)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lsCmd, membersCmd, manifestCmd)
}
