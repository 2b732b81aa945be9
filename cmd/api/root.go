package main

import (
	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
)

// NewRootCmd creates the root command for the auth service CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "pitchfork-auth",
		Short:        "pitchfork user authentication service",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (YAML)")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path, cmd.Flags())
}
