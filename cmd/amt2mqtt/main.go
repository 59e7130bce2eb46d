// Command amt2mqtt bridges an Intelbras AMT alarm panel to MQTT and drives a
// running bridge from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile = "config.yml"

func main() {
	cmd := &cobra.Command{
		Use:           "amt2mqtt",
		Short:         "Intelbras AMT to MQTT bridge",
		Args:          cobra.NoArgs,
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", configFile, "Path to configuration file")

	cmd.AddCommand(runCommand())
	cmd.AddCommand(ctlCommand())

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
