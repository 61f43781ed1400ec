package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/germtb/mlsclient/api"
)

var createUserCmd = &cobra.Command{
	Use:   "create-user [user_id]",
	Short: "Create the user if missing, registering its key packages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := api.InitialUser(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("user %s ready\n", args[0])
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register [user_id]",
	Short: "Republish the user's key-package pool to the Delivery Service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := api.RegisterUser(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(resp)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createUserCmd, registerCmd)
}
