package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/x0tta6bl4/meshfl/cli"
	"github.com/x0tta6bl4/meshfl/pkg/sdk"
)

const (
	defCoordinatorURL  = "http://localhost:8080"
	defTLSVerification = false
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "meshfl-cli",
		Short: "MeshFL CLI",
		Long:  `MeshFL CLI is a command line interface for interacting with a federated learning coordinator.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			sdkConf := sdk.Config{
				CoordinatorURL:  defCoordinatorURL,
				TLSVerification: defTLSVerification,
			}
			s := sdk.NewSDK(sdkConf)
			cli.SetSDK(s)
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&cli.RawOutput, "raw", "r", false, "Enables raw output mode for JSON responses")

	rootCmd.AddCommand(cli.NewStatusCmd())
	rootCmd.AddCommand(cli.NewNodesCmd())
	rootCmd.AddCommand(cli.NewRoundsCmd())
	rootCmd.AddCommand(cli.NewSessionCmd())
	rootCmd.AddCommand(cli.NewProvisionCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
