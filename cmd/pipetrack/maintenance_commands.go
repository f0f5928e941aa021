package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"pipetrack/internal/config"
	"pipetrack/internal/export"
	"pipetrack/internal/legacy"
	"pipetrack/internal/preflight"
	"pipetrack/internal/recovery"
	"pipetrack/internal/scan"
	"pipetrack/internal/store"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var opts scan.Options
	var stage, status string
	var meta []string

	cmd := &cobra.Command{
		Use:   "scan <root>",
		Short: "Register existing files under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.Metadata, err = parseKeyValues(meta); err != nil {
				return err
			}
			if stage != "" {
				if opts.Stage, err = store.ParseStage(stage); err != nil {
					return err
				}
				if opts.Status, err = store.ParseStatus(status); err != nil {
					return err
				}
			}
			opts.Root = args[0]
			return ctx.withServices(cmd, func(s *services) error {
				result, err := scan.New(s.tracker, s.cfg, s.logger).Scan(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Matched %d files (%s), registered %d\n", result.Matched, result.Pattern, result.Registered)
				for _, f := range result.Failed {
					fmt.Fprintf(out, "  failed: %s: %s\n", f.Path, f.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Pattern, "pattern", "", "Glob matched against file names (default from config)")
	cmd.Flags().StringVar(&stage, "stage", "", "Stage to record for every file")
	cmd.Flags().StringVar(&status, "status", string(store.StatusCompleted), "Stage status")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Metadata key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.Hidden, "hidden", false, "Descend into dot-directories")
	return cmd
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Replay the legacy copy ledger and BIDS conversion log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(s *services) error {
				report, err := legacy.New(s.tracker, s.ops, s.cfg, s.logger).Import(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, report)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Copy ledger:     %d imported, %d skipped (%s)\n", report.CopyImported, report.CopySkipped, orDash(report.CopyLedger))
				fmt.Fprintf(out, "Conversion log:  %d imported, %d skipped (%s)\n", report.ConversionImported, report.ConversionSkipped, orDash(report.ConversionLog))
				return nil
			})
		},
	}
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the store as CSV tables or a structured dump",
	}

	exportCmd.AddCommand(&cobra.Command{
		Use:   "csv <dir>",
		Short: "Write files.csv and operations.csv",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(_ *config.Config, st *store.Store) error {
				paths, err := export.WriteCSV(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, paths)
				}
				for _, p := range paths {
					fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", p)
				}
				return nil
			})
		},
	})

	exportCmd.AddCommand(&cobra.Command{
		Use:   "dump <file.json|file.yaml>",
		Short: "Write a full-fidelity dump; the format follows the extension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := export.FormatForPath(args[0]); err != nil {
				return err
			}
			return ctx.withStore(cmd, func(_ *config.Config, st *store.Store) error {
				dump, err := export.WriteDump(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{
						"path":       args[0],
						"files":      len(dump.Files),
						"operations": len(dump.Operations),
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d files, %d stage events, %d operations)\n",
					args[0], len(dump.Files), len(dump.StageEvents), len(dump.Operations))
				return nil
			})
		},
	})

	return exportCmd
}

func newRestoreDumpCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restore-dump <file.json|file.yaml>",
		Short: "Load a structured dump into an empty store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dump, err := export.ReadDump(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(cmd, func(_ *config.Config, st *store.Store) error {
				if err := st.RestoreSnapshot(cmd.Context(), dump); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restored %d files and %d operations from %s\n",
					len(dump.Files), len(dump.Operations), args[0])
				return nil
			})
		},
	}
}

func newBackupCommand(ctx *commandContext) *cobra.Command {
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage store snapshots",
	}

	backupCmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Write a snapshot now and prune old ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(_ *config.Config, st *store.Store) error {
				info, err := st.Backup(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, info)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", info.Path, info.SizeBytes)
				return nil
			})
		},
	})

	backupCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List snapshots, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			backups, err := store.ListBackups(cfg.Paths.BackupDir, cfg.Paths.StorePath)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, backups)
			}
			if len(backups) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No backups in %s\n", cfg.Paths.BackupDir)
				return nil
			}
			rows := make([][]string, 0, len(backups))
			for _, b := range backups {
				rows = append(rows, []string{b.Name, formatTime(b.CreatedAt), strconv.FormatInt(b.SizeBytes, 10)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(cfg.Paths.BackupDir, []string{"Name", "Created", "Bytes"}, rows,
				3))
			return nil
		},
	})

	var retain int
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			keep := cfg.Backup.Retain
			if cmd.Flags().Changed("retain") {
				keep = retain
			}
			removed, err := store.PruneBackups(cfg.Paths.BackupDir, cfg.Paths.StorePath, keep)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, removed)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d snapshots, kept %d\n", len(removed), keep)
			return nil
		},
	}
	pruneCmd.Flags().IntVar(&retain, "retain", 0, "Snapshots to keep (default from config)")
	backupCmd.AddCommand(pruneCmd)

	backupCmd.AddCommand(&cobra.Command{
		Use:   "restore [backup]",
		Short: "Replace the store with a snapshot (newest valid one by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var requested string
			if len(args) == 1 {
				if requested, err = config.ExpandPath(args[0]); err != nil {
					return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
				}
			}
			restored, err := store.RestoreBackup(cmd.Context(), cfg, requested)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s from %s\n", cfg.Paths.StorePath, restored)
			return nil
		},
	})

	return backupCmd
}

func newRecoverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Restore a corrupt store from backup and replay legacy ledgers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			report, err := recovery.Recover(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, report)
			}
			out := cmd.OutOrStdout()
			if report.Corrupt {
				fmt.Fprintf(out, "Store was corrupt; restored from %s\n", report.RestoredFrom)
			} else {
				fmt.Fprintln(out, "Store passed its integrity check")
			}
			if report.Legacy != nil {
				fmt.Fprintf(out, "Replayed ledgers: %d copy rows, %d conversion rows\n",
					report.Legacy.CopyImported, report.Legacy.ConversionImported)
			}
			if report.LegacyError != "" {
				fmt.Fprintf(out, "warning: ledger replay failed: %s\n", report.LegacyError)
			}
			return nil
		},
	}
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the store, backups and configured paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			if ctx.jsonOutput() {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, r := range results {
					kind := statusOK
					if !r.Passed {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
				}
			}
			if !preflight.AllPassed(results) {
				return fmt.Errorf("health checks failed")
			}
			return nil
		},
	}
}
