package main

import (
	"github.com/spf13/cobra"

	"SpriteForge/internal/config"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "spriteforged",
		Short:         "SpriteForge sprite generation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to the JSON config file (defaults to $"+config.EnvConfigPath+")")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newTokenCmd(opts),
		newKeyCmd(),
	)
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configPath)
}
