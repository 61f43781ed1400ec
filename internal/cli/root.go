// Package cli implements the mlsclient command-line interface using Cobra.
// It is a thin driver over the public api package, one command per
// operation, for exercising a Delivery Service end to end from a shell.
package cli

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/germtb/mlsclient/api"
)

var (
	flagBaseURL    string
	flagPubKey     string
	flagDIDKey     string
	flagPrivateKey string
	flagStoreDir   string
	flagBadger     bool
	flagVerbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "mlsclient",
	Short: "End-to-end encrypted group messaging client (MLS over a Delivery Service)",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagVerbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
		if flagPrivateKey == "" {
			flagPrivateKey = os.Getenv("MLSCLIENT_PRIVATE_KEY")
		}
		api.SetupNetworkingConfig(flagBaseURL, flagPubKey, flagDIDKey, flagPrivateKey)
		kind := api.StorageJSONFile
		if flagBadger {
			kind = api.StorageBadger
		}
		api.SetStorage(kind, flagStoreDir)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "Delivery Service base URL")
	rootCmd.PersistentFlags().StringVar(&flagPubKey, "pubkey", "", "request pubkey header value")
	rootCmd.PersistentFlags().StringVar(&flagDIDKey, "did-key", "", "didkey header value")
	rootCmd.PersistentFlags().StringVar(&flagPrivateKey, "private-key", "", "hex Ed25519 signing key (or MLSCLIENT_PRIVATE_KEY)")
	rootCmd.PersistentFlags().StringVar(&flagStoreDir, "store-dir", ".", "directory for persisted user state")
	rootCmd.PersistentFlags().BoolVar(&flagBadger, "badger", false, "persist via Badger instead of JSON files")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
