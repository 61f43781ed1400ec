package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/germtb/mlsclient/api"
)

var createGroupCmd = &cobra.Command{
	Use:   "create-group [user_id] [group_id]",
	Short: "Create a new MLS group owned by the user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := api.CreateGroup(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("created group %s\n", id)
		return nil
	},
}

var inviteCmd = &cobra.Command{
	Use:   "invite [user_id] [member_user_id] [group_id]",
	Short: "Invite a member into a group",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, member, groupID := args[0], args[1], args[2]
		if !api.CanAddMemberToGroup(cmd.Context(), userID, member) {
			return fmt.Errorf("no key package available for %s", member)
		}
		if err := api.AddMemberToGroup(cmd.Context(), userID, member, groupID); err != nil {
			return err
		}
		fmt.Printf("invited %s to %s\n", member, groupID)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove [user_id] [member_user_id] [group_id]",
	Short: "Remove a member from a group",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := api.RemoveMemberFromGroup(cmd.Context(), args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("removed %s from %s\n", args[1], args[2])
		return nil
	},
}

var leaveCmd = &cobra.Command{
	Use:   "leave [user_id] [group_id]",
	Short: "Leave a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := api.LeaveGroup(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("left %s\n", args[1])
		return nil
	},
}

var joinCmd = &cobra.Command{
	Use:   "join [user_id] [group_id]",
	Short: "Join a group via its published group info (external commit)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := api.JoinGroupExternally(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("joined %s\n", args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createGroupCmd, inviteCmd, removeCmd, leaveCmd, joinCmd)
}
