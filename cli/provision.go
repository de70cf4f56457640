package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/pelletier/go-toml"
	"github.com/spf13/cobra"

	meshfl "github.com/x0tta6bl4/meshfl"
)

const filePermission = 0o644

var configPath = "config.toml"

// NewProvisionCmd builds an interactive form that writes a coordinator
// config file.
func NewProvisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision a session config",
		Long:  `Interactively generate the TOML config for a coordinator and its session.`,
		Run: func(cmd *cobra.Command, args []string) {
			var (
				sessionID    string
				brokerURL    string
				httpAddr     string
				dimensionRaw string
				method       string
			)

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Session ID").
						Placeholder("session-1").
						Value(&sessionID),
					huh.NewInput().
						Title("MQTT broker URL").
						Placeholder("tcp://localhost:1883").
						Value(&brokerURL),
					huh.NewInput().
						Title("HTTP listen address").
						Placeholder(":8080").
						Value(&httpAddr),
					huh.NewInput().
						Title("Model dimension").
						Placeholder("1000").
						Validate(func(s string) error {
							_, err := strconv.Atoi(s)

							return err
						}).
						Value(&dimensionRaw),
					huh.NewSelect[string]().
						Title("Aggregation method").
						Options(
							huh.NewOption("mean", "mean"),
							huh.NewOption("median", "median"),
							huh.NewOption("geometric median", "geometric_median"),
							huh.NewOption("krum", "krum"),
						).
						Value(&method),
				),
			)

			if err := form.Run(); err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			dimension, err := strconv.Atoi(dimensionRaw)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			cfg := meshfl.Config{
				Coordinator: meshfl.CoordinatorConfig{
					SessionID: sessionID,
					HTTPAddr:  httpAddr,
					Dimension: dimension,
					Method:    method,
				},
				Broker: meshfl.BrokerConfig{
					URL: brokerURL,
				},
			}

			data, err := toml.Marshal(cfg)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			if err := os.WriteFile(configPath, data, filePermission); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logSuccessCmd(*cmd, fmt.Sprintf("Successfully wrote %s", configPath))
		},
	}

	cmd.Flags().StringVarP(&configPath, "output", "f", configPath, "Path of the generated config file")

	return cmd
}
