package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"pipetrack/internal/config"
	"pipetrack/internal/store"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigShowCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		dest  string
		force bool
	)
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a commented sample pipetrack.toml",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := initTarget(dest)
			if err != nil {
				return err
			}
			switch _, err := os.Stat(target); {
			case err == nil && !force:
				return fmt.Errorf("%w: %s already exists; pass --overwrite to replace it", store.ErrInvalidInput, target)
			case err != nil && !errors.Is(err, fs.ErrNotExist):
				return fmt.Errorf("inspect %s: %w", target, err)
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("write sample config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config: %s\nnext: set paths.project_root or PIPETRACK_PROJECT_ROOT so ledgers under %s are imported\n",
				target, filepath.Join("<project_root>", "log"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&dest, "path", "p", "", "Where to write the file (default: XDG config dir)")
	cmd.Flags().BoolVar(&force, "overwrite", false, "Replace an existing file")
	return cmd
}

// initTarget resolves the init destination, falling back to the default config path.
func initTarget(dest string) (string, error) {
	if dest = strings.TrimSpace(dest); dest == "" {
		return config.DefaultConfigPath()
	}
	return config.ExpandPath(dest)
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{
					"path":   ctx.configPath,
					"exists": ctx.configSeen,
					"config": cfg,
				})
			}
			data, err := toml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s", ctx.configPath)
			if !ctx.configSeen {
				fmt.Fprint(out, " (not found; defaults in use)")
			}
			fmt.Fprintln(out)
			_, err = out.Write(data)
			return err
		},
	}
}
