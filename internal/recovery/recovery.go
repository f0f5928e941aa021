package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pipetrack/internal/config"
	"pipetrack/internal/legacy"
	"pipetrack/internal/logging"
	"pipetrack/internal/oplog"
	"pipetrack/internal/store"
	"pipetrack/internal/tracker"
)

// Report describes what a recovery run did.
type Report struct {
	StorePath    string         `json:"store_path"`
	Corrupt      bool           `json:"corrupt"`
	RestoredFrom string         `json:"restored_from,omitempty"`
	Legacy       *legacy.Report `json:"legacy,omitempty"`
	LegacyError  string         `json:"legacy_error,omitempty"`
}

// Recover restores the store from the newest valid backup when it fails the
// integrity check, then replays the legacy ledgers into it. It fails only when
// the store is corrupt and no backup verifies, or the store cannot be opened.
func Recover(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Report, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", store.ErrInvalidInput)
	}
	logger = logging.NewComponentLogger(logger, "recovery")
	report := &Report{StorePath: cfg.Paths.StorePath}

	st, err := store.OpenContext(ctx, cfg)
	if err != nil {
		if !errors.Is(err, store.ErrCorrupt) {
			return report, err
		}
		report.Corrupt = true
		logging.WarnWithContext(logger, "store failed integrity check; restoring backup", "store_corrupt",
			logging.String(logging.FieldPath, cfg.Paths.StorePath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "changes after the newest backup are rebuilt from legacy ledgers only"),
			logging.String(logging.FieldImpact, "recent history may be incomplete"),
		)

		restored, rerr := store.RestoreBackup(ctx, cfg, "")
		if rerr != nil {
			if errors.Is(rerr, store.ErrNotFound) {
				logging.ErrorWithContext(logger, "store unrecoverable", "recovery_failed",
					logging.String(logging.FieldPath, cfg.Paths.StorePath),
					logging.String(logging.FieldErrorHint, "move the damaged store aside and run pipetrack import to rebuild from ledgers"),
				)
				return report, fmt.Errorf("%w: store %s is unreadable and no valid backup exists in %s",
					store.ErrCorrupt, cfg.Paths.StorePath, cfg.Paths.BackupDir)
			}
			return report, fmt.Errorf("restore backup: %w", rerr)
		}
		report.RestoredFrom = restored
		logger.Info("store restored from backup",
			logging.String(logging.FieldEventType, "store_restored"),
			logging.String(logging.FieldPath, restored),
		)

		st, err = store.OpenContext(ctx, cfg)
		if err != nil {
			return report, fmt.Errorf("reopen restored store: %w", err)
		}
	}
	defer st.Close()

	tr := tracker.New(st, cfg, logger)
	importer := legacy.New(tr, oplog.New(tr, logger), cfg, logger)
	legacyReport, err := importer.Import(ctx)
	report.Legacy = legacyReport
	if err != nil {
		if store.IsFatal(err) || errors.Is(err, store.ErrBusy) || ctx.Err() != nil {
			return report, fmt.Errorf("replay legacy ledgers: %w", err)
		}
		report.LegacyError = err.Error()
		logging.WarnWithContext(logger, "legacy replay failed", "legacy_replay_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the ledger and run import"),
			logging.String(logging.FieldImpact, "store recovered without ledger history"),
		)
	}

	logger.Info("recovery finished",
		logging.String(logging.FieldEventType, "recovery_complete"),
		logging.Bool("corrupt", report.Corrupt),
		logging.String("restored_from", report.RestoredFrom),
	)
	return report, nil
}
