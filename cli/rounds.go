package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

func NewRoundsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rounds [list|run]",
		Short: "Rounds manager",
		Long:  `List past aggregation rounds and trigger new ones.`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List rounds",
		Long:  `List past rounds with their results.`,
		Run: func(cmd *cobra.Command, args []string) {
			page, err := msdk.Rounds(defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one round",
		Long:  `Wait for a quorum of updates and aggregate one round.`,
		Run: func(cmd *cobra.Command, args []string) {
			round, err := msdk.RunRound()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, round)
		},
	}

	cmd.AddCommand(listCmd)
	cmd.AddCommand(runCmd)

	cmd.PersistentFlags().Uint64VarP(
		&defOffset,
		"offset",
		"o",
		defOffset,
		"Offset",
	)

	cmd.PersistentFlags().Uint64VarP(
		&defLimit,
		"limit",
		"l",
		defLimit,
		"Limit",
	)

	return cmd
}

func NewSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session [run]",
		Short: "Session manager",
		Long:  `Run federated training sessions.`,
	}

	runCmd := &cobra.Command{
		Use:   "run <max_rounds>",
		Short: "Run session",
		Long:  `Run rounds until convergence or the given maximum number of rounds.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			maxRounds, err := strconv.Atoi(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			metrics, err := msdk.RunSession(maxRounds)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, metrics)
		},
	}

	cmd.AddCommand(runCmd)

	return cmd
}

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Coordinator status",
		Long:  `Show round progress, convergence and aggregator metrics.`,
		Run: func(cmd *cobra.Command, args []string) {
			status, err := msdk.Status()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, status)
		},
	}
}
