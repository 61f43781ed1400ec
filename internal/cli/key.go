package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/germtb/mlsclient/api"
	"github.com/germtb/mlsclient/internal/crypto"
)

var exportKeyOut string

var exportKeyCmd = &cobra.Command{
	Use:   "export-key [user_id]",
	Short: "Export the user's signing key as PEM for backup",
	Long: "Writes the long-lived signing key as a PKCS8 PEM block. Set " +
		crypto.PassphraseEnv + " to encrypt the export.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var passphrase []byte
		if v := os.Getenv(crypto.PassphraseEnv); v != "" {
			passphrase = []byte(v)
		}
		pemStr, err := api.ExportSigningKey(cmd.Context(), args[0], passphrase)
		if err != nil {
			return err
		}
		if exportKeyOut == "" {
			fmt.Print(pemStr)
			return nil
		}
		if err := os.WriteFile(exportKeyOut, []byte(pemStr), 0o600); err != nil {
			return fmt.Errorf("write key file: %w", err)
		}
		fmt.Printf("wrote %s\n", exportKeyOut)
		return nil
	},
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint [user_id]",
	Short: "Print the fingerprint of the user's signing key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, err := api.IdentityFingerprint(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(fp)
		return nil
	},
}

func init() {
	exportKeyCmd.Flags().StringVarP(&exportKeyOut, "out", "o", "", "write the PEM to a file instead of stdout")
	rootCmd.AddCommand(exportKeyCmd, fingerprintCmd)
}
