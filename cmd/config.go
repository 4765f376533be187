// file: cmd/config.go
// version: 1.0.0
// guid: 3a5c7e9b-1d3f-4a5c-b7e9-b1d33a5c7e9b

package cmd

import (
	"fmt"
	"io"

	"github.com/jdfalk/exam-results/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect or persist the effective configuration",
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout(), config.AppConfig)
		},
	}

	configWriteCmd = &cobra.Command{
		Use:   "write [path]",
		Short: "Write the effective configuration to a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ConfigFilePath()
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.AppConfig.Validate(); err != nil {
				return fmt.Errorf("refusing to write invalid configuration: %w", err)
			}
			if err := config.SaveConfigToFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}
)

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configWriteCmd)
}

func runConfigShow(out io.Writer, c config.Config) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(config.ToMap(c))
}
