package cli

import (
	"github.com/spf13/cobra"

	"github.com/x0tta6bl4/meshfl/pkg/sdk"
)

var (
	defOffset uint64 = 0
	defLimit  uint64 = 10

	linkQuality float64
	latencyMS   float64
	hopCount    int
)

var msdk sdk.SDK

// SetSDK sets the coordinator SDK instance used by all commands.
func SetSDK(s sdk.SDK) {
	msdk = s
}

func NewNodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes [list|register|unregister]",
		Short: "Nodes manager",
		Long:  `List, register and unregister federated learning nodes.`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List nodes",
		Long:  `List nodes with their connectivity and aggregation weight.`,
		Run: func(cmd *cobra.Command, args []string) {
			nodes, err := msdk.Nodes()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, nodes)
		},
	}

	registerCmd := &cobra.Command{
		Use:   "register <node_id>",
		Short: "Register node",
		Long: `Register a node with its mesh connectivity.

Examples:
  # Register a well-connected node
  meshfl-cli nodes register node-1 --link-quality=0.95 --latency-ms=8 --hop-count=1`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := msdk.RegisterNode(sdk.Node{
				NodeID:      args[0],
				LinkQuality: linkQuality,
				LatencyMS:   latencyMS,
				HopCount:    hopCount,
			}); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	registerCmd.Flags().Float64Var(&linkQuality, "link-quality", 1.0, "Link quality within [0, 1]")
	registerCmd.Flags().Float64Var(&latencyMS, "latency-ms", 0, "Link latency in milliseconds")
	registerCmd.Flags().IntVar(&hopCount, "hop-count", 1, "Mesh hop count to the node")

	unregisterCmd := &cobra.Command{
		Use:   "unregister <node_id>",
		Short: "Unregister node",
		Long:  `Unregister node from the session.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := msdk.UnregisterNode(args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	cmd.AddCommand(listCmd)
	cmd.AddCommand(registerCmd)
	cmd.AddCommand(unregisterCmd)

	return cmd
}
