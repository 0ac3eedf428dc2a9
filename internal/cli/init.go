package cli

import (
	"github.com/spf13/cobra"

	"github.com/hcpipe/hcprep/internal/config"
)

// defaultConfigName is the file 'init' creates when -c is not given.
const defaultConfigName = "hcprep.hcl"

func newInitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a default config file in the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if path == "" {
				path = defaultConfigName
			}
			return config.WriteDefault(cmd.Context(), path)
		},
	}
}

func newUpdateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Refresh an existing config file's derived fields",
		Long: `Backfills any sections or options added since the config file was
created, preserving every value you have set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := opts.resolveConfigPath(cmd.Context())
			if err != nil {
				return err
			}
			return config.Update(cmd.Context(), path)
		},
	}
}
