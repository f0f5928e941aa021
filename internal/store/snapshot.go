package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DumpFormatVersion identifies the structured dump layout.
const DumpFormatVersion = 1

// Dump is a full-fidelity copy of the store used for export and restore.
type Dump struct {
	FormatVersion int               `json:"format_version" yaml:"format_version"`
	ExportedAt    time.Time         `json:"exported_at" yaml:"exported_at"`
	Header        Header            `json:"header" yaml:"header"`
	Files         []FileRecord      `json:"files" yaml:"files"`
	StageEvents   []StageEvent      `json:"stage_events" yaml:"stage_events"`
	Operations    []OperationRecord `json:"operations" yaml:"operations"`
}

// Snapshot reads the whole store inside one read transaction.
func (s *Store) Snapshot(ctx context.Context) (*Dump, error) {
	ctx = ensureContext(ctx)
	dump := &Dump{FormatVersion: DumpFormatVersion}
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		header, err := readHeader(ctx, tx)
		if err != nil {
			return err
		}
		files, err := listFiles(ctx, tx, Filter{})
		if err != nil {
			return err
		}
		events, err := listEvents(ctx, tx, "")
		if err != nil {
			return err
		}
		ops, err := listOperations(ctx, tx, OperationFilter{})
		if err != nil {
			return err
		}
		dump.Header = header
		dump.Files = make([]FileRecord, 0, len(files))
		for _, rec := range files {
			dump.Files = append(dump.Files, *rec)
		}
		dump.StageEvents = events
		dump.Operations = make([]OperationRecord, 0, len(ops))
		for _, op := range ops {
			dump.Operations = append(dump.Operations, *op)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	dump.ExportedAt = time.Now().UTC()
	return dump, nil
}

// RestoreSnapshot loads dump into an empty store inside one write transaction.
// Records, audit events and operations are written verbatim.
func (s *Store) RestoreSnapshot(ctx context.Context, dump *Dump) error {
	ctx = ensureContext(ctx)
	if dump == nil {
		return fmt.Errorf("%w: nil dump", ErrInvalidInput)
	}
	if dump.FormatVersion != DumpFormatVersion {
		return fmt.Errorf("%w: unsupported dump format %d", ErrInvalidInput, dump.FormatVersion)
	}
	for _, rec := range dump.Files {
		if err := validateRecord(rec); err != nil {
			return err
		}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var files, ops int
		if err := tx.QueryRowContext(ctx, "SELECT (SELECT COUNT(1) FROM files), (SELECT COUNT(1) FROM operations)").Scan(&files, &ops); err != nil {
			return fmt.Errorf("count existing rows: %w", err)
		}
		if files > 0 || ops > 0 {
			return fmt.Errorf("%w: restore target already holds %d files and %d operations", ErrInvalidInput, files, ops)
		}

		for i := range dump.Files {
			rec := dump.Files[i]
			if rec.Metadata == nil {
				rec.Metadata = map[string]string{}
			}
			if rec.UpdatedAt.IsZero() {
				rec.UpdatedAt = time.Now().UTC()
			}
			if err := writeFile(ctx, tx, &rec, true); err != nil {
				return err
			}
			for _, entry := range rec.StageHistory {
				if err := writeSlot(ctx, tx, rec.ID, entry); err != nil {
					return err
				}
			}
		}

		for _, ev := range dump.StageEvents {
			metadataJSON, err := encodeMap(ev.Metadata)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO stage_events (seq, file_id, stage, status, recorded_at, metadata_json)
                VALUES (?, ?, ?, ?, ?, ?)`,
				ev.Seq, ev.FileID, string(ev.Stage), string(ev.Status), formatTime(ev.RecordedAt), metadataJSON); err != nil {
				return fmt.Errorf("restore stage event %d: %w", ev.Seq, err)
			}
		}

		for _, op := range dump.Operations {
			parametersJSON, err := encodeMap(op.Parameters)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO operations (
                id, operation_type, process_name, parameters_json, started_at, duration_seconds,
                outcome, error_message, user_name, hostname, recorded_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				op.ID, op.Type, op.ProcessName, parametersJSON, formatTime(op.StartedAt), op.DurationSeconds,
				string(op.Outcome), nullableString(op.ErrorMessage), nullableString(op.User), nullableString(op.Hostname),
				formatTime(op.RecordedAt)); err != nil {
				return fmt.Errorf("restore operation %s: %w", op.ID, err)
			}
			if err := insertOperationFiles(ctx, tx, op.ID, roleInput, op.InputIDs); err != nil {
				return err
			}
			if err := insertOperationFiles(ctx, tx, op.ID, roleOutput, op.OutputIDs); err != nil {
				return err
			}
		}

		if !dump.Header.CreatedAt.IsZero() {
			if _, err := tx.ExecContext(ctx, "UPDATE store_header SET created_at = ? WHERE id = 1", formatTime(dump.Header.CreatedAt)); err != nil {
				return fmt.Errorf("restore header: %w", err)
			}
		}
		return touchHeader(ctx, tx, time.Now().UTC())
	})
}
