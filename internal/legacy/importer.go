package legacy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"pipetrack/internal/config"
	"pipetrack/internal/logging"
	"pipetrack/internal/oplog"
	"pipetrack/internal/store"
	"pipetrack/internal/tracker"
)

// namespace scopes deterministic ids of imported operations.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("pipetrack:legacy-operation"))

// OperationID returns the deterministic operation id for a ledger row key.
func OperationID(key string) string {
	return uuid.NewSHA1(namespace, []byte(key)).String()
}

// Report summarises one import run.
type Report struct {
	CopyLedger         string `json:"copy_ledger,omitempty"`
	CopyRows           int    `json:"copy_rows"`
	CopyImported       int    `json:"copy_imported"`
	CopySkipped        int    `json:"copy_skipped"`
	ConversionLog      string `json:"conversion_log,omitempty"`
	ConversionRows     int    `json:"conversion_rows"`
	ConversionImported int    `json:"conversion_imported"`
	ConversionSkipped  int    `json:"conversion_skipped"`
}

// Importer replays legacy ledgers through the tracker and operation logger.
type Importer struct {
	tracker        *tracker.Tracker
	ops            *oplog.Logger
	logger         *slog.Logger
	copyResults    string
	conversionsDir string
}

// New constructs an importer for the ledger locations configured in cfg.
func New(tr *tracker.Tracker, ops *oplog.Logger, cfg *config.Config, logger *slog.Logger) *Importer {
	imp := &Importer{
		tracker: tr,
		ops:     ops,
		logger:  logging.NewComponentLogger(logger, "legacy"),
	}
	if cfg != nil {
		imp.copyResults = cfg.Legacy.CopyResults
		imp.conversionsDir = cfg.Legacy.ConversionLogsDir
	}
	return imp
}

// Import replays the copy ledger and the newest conversion log. Missing
// ledgers are skipped with a warning. Rows that fail are counted as skipped
// and logged; only store-level failures abort the run.
func (i *Importer) Import(ctx context.Context) (*Report, error) {
	report := &Report{}
	if err := i.importCopyResults(ctx, report); err != nil {
		return report, err
	}
	if err := i.importConversions(ctx, report); err != nil {
		return report, err
	}
	i.logger.Info("legacy import finished",
		logging.String(logging.FieldEventType, "legacy_import_complete"),
		logging.Int("copy_imported", report.CopyImported),
		logging.Int("copy_skipped", report.CopySkipped),
		logging.Int("conversion_imported", report.ConversionImported),
		logging.Int("conversion_skipped", report.ConversionSkipped),
	)
	return report, nil
}

func (i *Importer) importCopyResults(ctx context.Context, report *Report) error {
	if i.copyResults == "" {
		return nil
	}
	data, err := os.ReadFile(i.copyResults)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.WarnWithContext(i.logger, "copy ledger not found; skipping", "legacy_ledger_missing",
				logging.String(logging.FieldPath, i.copyResults),
				logging.String(logging.FieldErrorHint, "set legacy.copy_results or paths.project_root"),
				logging.String(logging.FieldImpact, "copy history not imported"),
			)
			return nil
		}
		return fmt.Errorf("read copy ledger: %w", err)
	}
	rows, err := parseCopyResults(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", store.ErrInvalidInput, i.copyResults, err)
	}
	report.CopyLedger = i.copyResults
	report.CopyRows = len(rows)

	for idx, row := range rows {
		if row.OriginalFile == "" {
			report.CopySkipped++
			continue
		}
		if err := i.importCopyRow(ctx, row); err != nil {
			if isFatal(err) {
				return err
			}
			report.CopySkipped++
			i.warnRow("copy ledger row skipped", idx, row.OriginalFile, err)
			continue
		}
		report.CopyImported++
	}
	return nil
}

func (i *Importer) importCopyRow(ctx context.Context, row copyRow) error {
	status := store.StatusCompleted
	outcome := store.OutcomeSuccess
	if row.failed() {
		status = store.StatusFailed
		outcome = store.OutcomeFailure
	}
	md := row.metadata()

	if len(row.NewFiles) == 0 {
		_, err := i.tracker.RegisterOrUpdate(ctx, row.OriginalFile, store.StageRawCopy, status, md)
		return err
	}

	if _, err := i.tracker.RegisterOrUpdate(ctx, row.OriginalFile, store.StageRawAcquisition, store.StatusCompleted, nil); err != nil {
		return err
	}
	entry := oplog.Entry{
		ID:          OperationID(row.key()),
		Type:        "copy",
		ProcessName: "copy_to_cerberos",
		Inputs:      []string{row.OriginalFile},
		Outputs:     row.NewFiles,
		StartedAt:   row.startedAt(),
		Outcome:     outcome,
		Metadata:    md,
	}
	if outcome == store.OutcomeFailure {
		entry.ErrorMessage = row.Message
	}
	_, err := i.ops.LogOperation(ctx, entry)
	return err
}

func (i *Importer) importConversions(ctx context.Context, report *Report) error {
	latest, err := latestConversionLog(i.conversionsDir)
	if err != nil {
		return fmt.Errorf("find conversion logs: %w", err)
	}
	if latest == "" {
		if i.conversionsDir != "" {
			logging.WarnWithContext(i.logger, "no conversion logs found; skipping", "legacy_ledger_missing",
				logging.String(logging.FieldPath, i.conversionsDir),
				logging.String(logging.FieldErrorHint, "set legacy.conversion_logs_dir or paths.project_root"),
				logging.String(logging.FieldImpact, "bids conversion history not imported"),
			)
		}
		return nil
	}

	f, err := os.Open(latest)
	if err != nil {
		return fmt.Errorf("open conversion log: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat conversion log: %w", err)
	}
	rows, err := parseConversionLog(f)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", store.ErrInvalidInput, latest, err)
	}
	report.ConversionLog = latest
	report.ConversionRows = len(rows)

	for idx, row := range rows {
		if err := i.importConversionRow(ctx, row, info.ModTime()); err != nil {
			if isFatal(err) {
				return err
			}
			report.ConversionSkipped++
			i.warnRow("conversion log row skipped", idx, row.RawPath, err)
			continue
		}
		report.ConversionImported++
	}
	return nil
}

func (i *Importer) importConversionRow(ctx context.Context, row conversionRow, loggedAt time.Time) error {
	status := store.StatusPending
	if row.converted() {
		status = store.StatusCompleted
	}
	md := row.metadata()
	if _, err := i.tracker.RegisterOrUpdate(ctx, row.RawPath, store.StageBidsification, status, md); err != nil {
		return err
	}
	if !row.converted() || row.BIDSPath == "" {
		return nil
	}
	_, err := i.ops.LogOperation(ctx, oplog.Entry{
		ID:          OperationID(row.key()),
		Type:        "bidsify",
		ProcessName: "bidsify",
		Inputs:      []string{row.RawPath},
		Outputs:     []string{row.BIDSPath},
		StartedAt:   loggedAt,
		Metadata:    md,
	})
	return err
}

func (i *Importer) warnRow(msg string, idx int, path string, err error) {
	logging.WarnWithContext(i.logger, msg, "legacy_row_skipped",
		logging.Int("row", idx),
		logging.String(logging.FieldPath, path),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "fix the ledger row and re-run the import"),
		logging.String(logging.FieldImpact, "row missing from provenance history"),
	)
}

// isFatal reports errors that make further rows pointless.
func isFatal(err error) bool {
	return errors.Is(err, store.ErrBusy) || store.IsFatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
