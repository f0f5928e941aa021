package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pipetrack/internal/fileinfo"
	"pipetrack/internal/query"
	"pipetrack/internal/store"
)

// resolveRecord accepts a file id or a path. A value that parses as a UUID
// and is not an existing path is treated as an id.
func resolveRecord(ctx context.Context, s *services, arg string) (*store.FileRecord, error) {
	arg = strings.TrimSpace(arg)
	if _, err := uuid.Parse(arg); err == nil {
		if _, statErr := os.Stat(arg); statErr != nil {
			return s.store.Get(ctx, arg)
		}
	}
	return s.tracker.Get(ctx, arg)
}

func newFindCommand(ctx *commandContext) *cobra.Command {
	var hints store.Hints

	cmd := &cobra.Command{
		Use:   "find <path>",
		Short: "Find a record by path, falling back to participant/session/task hints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(s *services) error {
				rec, err := s.tracker.FindByPathOrMetadata(cmd.Context(), args[0], hints)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, rec)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderFileTable("", []*store.FileRecord{rec}))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&hints.Participant, "participant", "", "Participant hint")
	cmd.Flags().StringVar(&hints.Session, "session", "", "Session hint")
	cmd.Flags().StringVar(&hints.Task, "task", "", "Task hint")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <path|id>",
		Short: "Show a file record with its stage slots and metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(s *services) error {
				rec, err := resolveRecord(cmd.Context(), s, args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, rec)
				}
				renderRecord(cmd.OutOrStdout(), rec)
				return nil
			})
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var ops bool
	cmd := &cobra.Command{
		Use:   "history <path|id>",
		Short: "Show every recorded stage transition of a file",
		Long:  "Show the stage audit trail of a file, or with --ops every operation that read or wrote it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(s *services) error {
				rec, err := resolveRecord(cmd.Context(), s, args[0])
				if err != nil {
					return err
				}
				if ops {
					touching, err := s.query.Operations(cmd.Context(), rec.ID)
					if err != nil {
						return err
					}
					if ctx.jsonOutput() {
						return writeJSON(cmd, touching)
					}
					renderOperations(cmd.OutOrStdout(), rec, touching)
					return nil
				}
				events, err := s.query.History(cmd.Context(), rec.ID)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, events)
				}
				rows := make([][]string, 0, len(events))
				for _, ev := range events {
					rows = append(rows, []string{
						strconv.FormatInt(ev.Seq, 10),
						string(ev.Stage),
						string(ev.Status),
						formatTime(ev.RecordedAt),
						formatMetadata(ev.Metadata),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(rec.CanonicalPath,
					[]string{"Seq", "Stage", "Status", "Recorded", "Metadata"}, rows,
					1))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&ops, "ops", false, "List operations that used or produced the file instead of stage events")
	return cmd
}

func newExtractCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "extract <filename>...",
		Short:       "Show the participant, session and task parsed from filenames",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			infos := make([]fileinfo.Info, 0, len(args))
			for _, arg := range args {
				infos = append(infos, fileinfo.Extract(filepath.Base(arg)))
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, infos)
			}
			rows := make([][]string, 0, len(infos))
			for _, info := range infos {
				fields := info.Fields()
				rows = append(rows, []string{
					info.Filename,
					orDash(fields["participant"]),
					orDash(fields["session"]),
					orDash(fields["task"]),
					orDash(fields["run"]),
					info.Rule,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable("", []string{"File", "Participant", "Session", "Task", "Run", "Rule"}, rows))
			return nil
		},
	}
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var filter store.Filter
	var stage, status, current, exists string

	cmd := &cobra.Command{
		Use:   "search",
		Short: "List records matching filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Stage = store.Stage(stage)
			filter.Status = store.Status(status)
			filter.CurrentStage = store.Stage(current)
			if exists != "" {
				value, err := strconv.ParseBool(exists)
				if err != nil {
					return fmt.Errorf("%w: --exists: %v", store.ErrInvalidInput, err)
				}
				filter.Exists = &value
			}
			return ctx.withServices(cmd, func(s *services) error {
				records, err := s.query.Search(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, records)
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No matching records")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderFileTable(fmt.Sprintf("%d records", len(records)), records))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "Files with an entry for this stage")
	cmd.Flags().StringVar(&status, "status", "", "Stage status (combined with --stage, or any stage)")
	cmd.Flags().StringVar(&current, "current-stage", "", "Files whose current stage matches")
	cmd.Flags().StringVar(&filter.Extension, "ext", "", "File extension")
	cmd.Flags().StringVar(&filter.Participant, "participant", "", "Participant")
	cmd.Flags().StringVar(&filter.Session, "session", "", "Session")
	cmd.Flags().StringVar(&filter.Task, "task", "", "Task")
	cmd.Flags().StringVar(&filter.FilenameContains, "name", "", "Filename substring")
	cmd.Flags().StringVar(&filter.OperationType, "op-type", "", "Files touched by an operation of this type")
	cmd.Flags().StringVar(&exists, "exists", "", "Filter on whether the file existed when last seen (true/false)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "Maximum number of records")
	return cmd
}

func newSummaryCommand(ctx *commandContext) *cobra.Command {
	var participant string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarise the store, or one participant's progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(s *services) error {
				if participant != "" {
					ps, err := s.query.ParticipantSummary(cmd.Context(), participant)
					if err != nil {
						return err
					}
					if ctx.jsonOutput() {
						return writeJSON(cmd, ps)
					}
					renderParticipantSummary(cmd.OutOrStdout(), ps)
					return nil
				}
				summary, err := s.query.Summary(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, summary)
				}
				renderSummary(cmd.OutOrStdout(), summary)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "Participant to summarise")
	return cmd
}

func newChainCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "chain <path|id>",
		Short: "Show the operations that produced a file, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(s *services) error {
				rec, err := resolveRecord(cmd.Context(), s, args[0])
				if err != nil {
					return err
				}
				chain, err := s.query.Chain(cmd.Context(), rec.ID)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, chain)
				}
				renderChain(cmd.OutOrStdout(), rec, chain)
				return nil
			})
		},
	}
}

func renderFileTable(title string, records []*store.FileRecord) string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			shortID(rec.ID),
			rec.CanonicalPath,
			orDash(string(rec.CurrentStage)),
			orDash(rec.Hints.Participant),
			orDash(rec.Hints.Task),
			yesNo(rec.Exists),
			formatTime(rec.UpdatedAt),
		})
	}
	return renderTable(title, []string{"ID", "Path", "Stage", "Participant", "Task", "Exists", "Updated"}, rows)
}

func renderRecord(out io.Writer, rec *store.FileRecord) {
	fmt.Fprintf(out, "ID:          %s\n", rec.ID)
	fmt.Fprintf(out, "Path:        %s\n", rec.CanonicalPath)
	fmt.Fprintf(out, "Extension:   %s\n", orDash(rec.Extension))
	fmt.Fprintf(out, "Size:        %d bytes\n", rec.SizeBytes)
	fmt.Fprintf(out, "Exists:      %s\n", yesNo(rec.Exists))
	if rec.ContentChecksum != "" {
		fmt.Fprintf(out, "Checksum:    %s\n", rec.ContentChecksum)
	}
	fmt.Fprintf(out, "Stage:       %s\n", orDash(string(rec.CurrentStage)))
	fmt.Fprintf(out, "Participant: %s  Session: %s  Task: %s\n",
		orDash(rec.Hints.Participant), orDash(rec.Hints.Session), orDash(rec.Hints.Task))
	fmt.Fprintf(out, "First seen:  %s\n", formatTime(rec.FirstSeenAt))
	fmt.Fprintf(out, "Updated:     %s\n", formatTime(rec.UpdatedAt))

	if stages := rec.OrderedStages(); len(stages) > 0 {
		rows := make([][]string, 0, len(stages))
		for _, entry := range stages {
			rows = append(rows, []string{string(entry.Stage), string(entry.Status), formatTime(entry.RecordedAt), formatMetadata(entry.Metadata)})
		}
		fmt.Fprintln(out, renderTable("Stages", []string{"Stage", "Status", "Recorded", "Metadata"}, rows))
	}
	if len(rec.Metadata) > 0 {
		fmt.Fprintf(out, "Metadata:    %s\n", formatMetadata(rec.Metadata))
	}
}

func renderSummary(out io.Writer, summary *query.Summary) {
	stats := summary.Stats
	fmt.Fprintf(out, "Files: %d (%d on disk)  Operations: %d  Schema: v%d\n",
		stats.TotalFiles, stats.ExistingFiles, stats.TotalOperations, summary.Header.SchemaVersion)
	fmt.Fprintf(out, "Last %s: %d stage transitions, %d operations\n",
		query.RecentWindow, stats.RecentStageEvents, stats.RecentOperations)

	rows := make([][]string, 0, len(store.Stages()))
	for _, stage := range store.Stages() {
		byStatus := stats.ByStageStatus[stage]
		rows = append(rows, []string{
			string(stage),
			strconv.Itoa(stats.ByCurrentStage[stage]),
			strconv.Itoa(byStatus[store.StatusPending]),
			strconv.Itoa(byStatus[store.StatusRunning]),
			strconv.Itoa(byStatus[store.StatusCompleted]),
			strconv.Itoa(byStatus[store.StatusFailed]),
		})
	}
	fmt.Fprintln(out, renderTable("Stages",
		[]string{"Stage", "Current", "Pending", "Running", "Completed", "Failed"}, rows,
		2, 3, 4, 5, 6))
}

func renderParticipantSummary(out io.Writer, ps *query.ParticipantSummary) {
	fmt.Fprintf(out, "Participant %s: %d files\n", ps.Participant, ps.TotalFiles)
	rows := make([][]string, 0, len(store.Stages()))
	for _, stage := range store.Stages() {
		if ps.StageDistribution[stage] == 0 && ps.Failed[stage] == 0 {
			continue
		}
		rows = append(rows, []string{string(stage), strconv.Itoa(ps.StageDistribution[stage]), strconv.Itoa(ps.Failed[stage])})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable("", []string{"Stage", "Files", "Failed"}, rows,
			2, 3))
	}
	if len(ps.Files) > 0 {
		fmt.Fprintln(out, renderFileTable("Files", ps.Files))
	}
}

func renderOperations(out io.Writer, rec *store.FileRecord, ops []*store.OperationRecord) {
	if len(ops) == 0 {
		fmt.Fprintf(out, "%s: no recorded operations\n", rec.CanonicalPath)
		return
	}
	rows := make([][]string, 0, len(ops))
	for _, op := range ops {
		role := "input"
		if slices.Contains(op.OutputIDs, rec.ID) {
			role = "output"
		}
		rows = append(rows, []string{formatTime(op.StartedAt), op.Type, op.ProcessName, string(op.Outcome), role, shortID(op.ID)})
	}
	fmt.Fprintln(out, renderTable(rec.CanonicalPath, []string{"Started", "Type", "Process", "Outcome", "Role", "Operation"}, rows))
}

func renderChain(out io.Writer, rec *store.FileRecord, chain *query.Chain) {
	if len(chain.Operations) == 0 {
		fmt.Fprintf(out, "%s: no recorded operations produced this file\n", rec.CanonicalPath)
	} else {
		rows := make([][]string, 0, len(chain.Operations))
		for _, op := range chain.Operations {
			rows = append(rows, []string{
				formatTime(op.StartedAt),
				op.Type,
				op.ProcessName,
				string(op.Outcome),
				strconv.Itoa(len(op.InputIDs)),
				strconv.Itoa(len(op.OutputIDs)),
				shortID(op.ID),
			})
		}
		fmt.Fprintln(out, renderTable(rec.CanonicalPath,
			[]string{"Started", "Type", "Process", "Outcome", "In", "Out", "Operation"}, rows,
			5, 6))
	}
	for _, inc := range chain.Inconsistencies {
		fmt.Fprintf(out, "warning: %s at operation %s: %s\n", inc.Kind, shortID(inc.OperationID), inc.Detail)
	}
}
