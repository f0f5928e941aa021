package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pipetrack/internal/logging"
	"pipetrack/internal/oplog"
	"pipetrack/internal/store"
)

func newRegisterCommand(ctx *commandContext) *cobra.Command {
	var stage, status string
	var meta []string
	var strict bool

	cmd := &cobra.Command{
		Use:   "register <path>",
		Short: "Register a file and record a stage transition",
		Long: "Register a file and, when --stage is given, record its stage status.\n" +
			"Tracking failures are reported as warnings and exit 0 unless --strict is set.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := parseKeyValues(meta)
			if err != nil {
				return err
			}
			err = ctx.withServices(cmd, func(s *services) error {
				var rec *store.FileRecord
				var err error
				if strings.TrimSpace(stage) == "" {
					rec, err = s.tracker.Ensure(cmd.Context(), args[0], metadata)
				} else {
					rec, err = s.tracker.RegisterOrUpdate(cmd.Context(), args[0], store.Stage(stage), store.Status(status), metadata)
				}
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, rec)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s) stage=%s\n", rec.CanonicalPath, rec.ID, orDash(string(rec.CurrentStage)))
				return nil
			})
			return ctx.trackingResult(cmd, "register", args[0], err, strict)
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "Pipeline stage to record")
	cmd.Flags().StringVar(&status, "status", string(store.StatusCompleted), "Stage status: pending, running, completed, failed")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Metadata key=value (repeatable)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail with a non-zero exit code when tracking fails")
	return cmd
}

func newArchiveCommand(ctx *commandContext) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "archive <path>...",
		Short: "Mark files as archived",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(s *services) error {
				for _, path := range args {
					rec, err := s.tracker.Archive(cmd.Context(), path)
					if err := ctx.trackingResult(cmd, "archive", path, err, strict); err != nil {
						return err
					}
					if rec != nil && !ctx.jsonOutput() {
						fmt.Fprintf(cmd.OutOrStdout(), "Archived %s (%s)\n", rec.CanonicalPath, shortID(rec.ID))
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail with a non-zero exit code when tracking fails")
	return cmd
}

func newLogOpCommand(ctx *commandContext) *cobra.Command {
	var entry oplog.Entry
	var outcome, stage, started string
	var params, meta []string
	var strict bool

	cmd := &cobra.Command{
		Use:   "log-op",
		Short: "Record a processing operation linking inputs to outputs",
		Long: "Record an operation. Inputs and outputs are registered automatically and\n" +
			"outputs receive the stage implied by --type (or --stage).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if entry.Parameters, err = parseKeyValues(params); err != nil {
				return err
			}
			if entry.Metadata, err = parseKeyValues(meta); err != nil {
				return err
			}
			if started != "" {
				if entry.StartedAt, err = time.Parse(time.RFC3339, started); err != nil {
					return fmt.Errorf("%w: --started: %v", store.ErrInvalidInput, err)
				}
			}
			entry.Outcome = store.Outcome(outcome)
			entry.Stage = store.Stage(stage)

			var target string
			if len(entry.Outputs) > 0 {
				target = entry.Outputs[0]
			}
			err = ctx.withServices(cmd, func(s *services) error {
				id, err := s.ops.LogOperation(cmd.Context(), entry)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]string{"operation_id": id})
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
			return ctx.trackingResult(cmd, "log-op", target, err, strict)
		},
	}
	cmd.Flags().StringVar(&entry.Type, "type", "", "Operation type (copy, bidsify, maxfilter, ...)")
	cmd.Flags().StringVar(&entry.ProcessName, "process", "", "Process name (defaults to the type)")
	cmd.Flags().StringVar(&entry.ID, "id", "", "Operation id; replaying an id is a no-op")
	cmd.Flags().StringArrayVar(&entry.Inputs, "input", nil, "Input file (repeatable)")
	cmd.Flags().StringArrayVar(&entry.Outputs, "output", nil, "Output file (repeatable)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Parameter key=value (repeatable)")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Metadata key=value added to outputs (repeatable)")
	cmd.Flags().StringVar(&stage, "stage", "", "Stage for outputs when the type implies none")
	cmd.Flags().StringVar(&outcome, "outcome", string(store.OutcomeSuccess), "Outcome: success, failure, partial")
	cmd.Flags().DurationVar(&entry.Duration, "duration", 0, "Operation duration")
	cmd.Flags().StringVar(&started, "started", "", "Start time (RFC3339, default now)")
	cmd.Flags().StringVar(&entry.ErrorMessage, "error", "", "Error message for failed operations")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail with a non-zero exit code when tracking fails")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

// trackingResult downgrades a tracking failure to a warning unless strict.
// Pipeline steps call these commands and must not fail because of tracking.
func (c *commandContext) trackingResult(cmd *cobra.Command, command, path string, err error, strict bool) error {
	if err == nil || strict {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s not recorded (%s): %v\n", command, store.Kind(err), err)
	if logger, lerr := c.ensureLogger(); lerr == nil {
		logging.WarnWithContext(logger, "tracking failed", "tracking_failed",
			logging.String("command", command),
			logging.String(logging.FieldPath, path),
			logging.String("error_kind", store.Kind(err)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "re-run with --strict to surface the failure"),
			logging.String(logging.FieldImpact, "provenance entry missing"),
		)
	}
	return nil
}
