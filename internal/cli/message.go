package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/germtb/mlsclient/api"
)

var sendCmd = &cobra.Command{
	Use:   "send [user_id] [group_id] [text]",
	Short: "Encrypt a message for the group, printing the hex wire form",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		hexMsg, err := api.MLSEncryptMsg(cmd.Context(), args[0], args[2], args[1])
		if err != nil {
			return err
		}
		fmt.Println(hexMsg)
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read [user_id] [group_id] [sender_user_id] [hex]",
	Short: "Decrypt one hex-encoded message, printing the plaintext",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := api.MLSDecryptMsg(cmd.Context(), args[0], args[3], args[2], args[1])
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [user_id] [group_id] [n]",
	Short: "Show the last n messages of the group transcript",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		n := 0
		if len(args) == 3 {
			parsed, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("parse n: %w", err)
			}
			n = parsed
		}
		msgs, err := api.ReadConversation(cmd.Context(), args[0], args[1], n)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Printf("%s: %s\n", m.Sender, m.Text)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd, readCmd, historyCmd)
}
