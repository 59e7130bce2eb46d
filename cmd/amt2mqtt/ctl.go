package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daemonp/amt2mqtt/internal/config"
	"github.com/daemonp/amt2mqtt/internal/control"
)

var (
	ctlHost     = ""
	ctlPort     = 0
	ctlPassword = ""
	partition   = ""
	stay        = false
)

func ctlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running bridge over its local API",
	}
	cmd.PersistentFlags().StringVar(&ctlHost, "host", ctlHost, "Control API host (default from config or 127.0.0.1)")
	cmd.PersistentFlags().IntVar(&ctlPort, "port", ctlPort, "Control API port (default from config or 9019)")

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the last known panel status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := ctlClient().Status(context.Background())
			if err != nil {
				return err
			}
			return printJSON(cmd, status)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "connected",
		Short: "Report whether the panel is connected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			connected, err := ctlClient().Connected(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), connected)
			return nil
		},
	})

	arm := &cobra.Command{
		Use:   "arm",
		Short: "Arm the panel or one partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return done(cmd, ctlClient().Arm(context.Background(), partition, stay, ctlPassword))
		},
	}
	arm.Flags().BoolVar(&stay, "stay", stay, "Arm in stay mode")
	addCredentialFlags(arm)
	cmd.AddCommand(arm)

	disarm := &cobra.Command{
		Use:   "disarm",
		Short: "Disarm the panel or one partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return done(cmd, ctlClient().Disarm(context.Background(), partition, ctlPassword))
		},
	}
	addCredentialFlags(disarm)
	cmd.AddCommand(disarm)

	cmd.AddCommand(&cobra.Command{
		Use:       "siren on|off",
		Short:     "Switch the siren",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return done(cmd, ctlClient().Siren(context.Background(), args[0] == "on"))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "pgm NUMBER on|off",
		Short: "Switch a PGM output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid PGM number %q", args[0])
			}
			action := strings.ToLower(args[1])
			if action != "on" && action != "off" {
				return fmt.Errorf("invalid PGM action %q: must be on or off", args[1])
			}
			return done(cmd, ctlClient().PGM(context.Background(), number, action == "on"))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "bypass",
		Short: "Bypass every currently open zone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return done(cmd, ctlClient().Bypass(context.Background()))
		},
	})

	raw := &cobra.Command{
		Use:   "raw HEX",
		Short: "Send a raw command, e.g. 0B4A or \"0B 4A 01\"",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctlClient().Raw(context.Background(), strings.Join(args, " "), ctlPassword)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("command failed: %s", result.Error)
			}
			return nil
		},
	}
	raw.Flags().StringVar(&ctlPassword, "password", ctlPassword, "Panel password (default from config)")
	cmd.AddCommand(raw)

	return cmd
}

func addCredentialFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&partition, "partition", partition, "Partition letter (A-D); whole panel when empty")
	cmd.Flags().StringVar(&ctlPassword, "password", ctlPassword, "Panel password (default from config)")
}

// ctlClient points at the address from the flags, falling back to the
// config file when it can be read.
func ctlClient() *control.Client {
	host, port := "127.0.0.1", 9019
	if cfg, err := config.LoadConfig(configFile); err == nil {
		host, port = cfg.Control.Host, cfg.Control.Port
	}
	if ctlHost != "" {
		host = ctlHost
	}
	if ctlPort != 0 {
		port = ctlPort
	}
	return control.NewClient(host, port)
}

func done(cmd *cobra.Command, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "OK")
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
