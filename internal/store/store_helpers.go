package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const fileColumns = "id, canonical_path, filename, directory, extension, size_bytes, content_checksum, exists_flag, first_seen_at, last_modified_at, current_stage, metadata_json, participant, session, task, updated_at"

const operationColumns = "id, operation_type, process_name, parameters_json, started_at, duration_seconds, outcome, error_message, user_name, hostname, recorded_at"

// slotBatchSize keeps IN lists well below SQLite's bound-variable limit.
const slotBatchSize = 500

func scanFile(scanner interface{ Scan(dest ...any) error }) (*FileRecord, error) {
	var (
		rec          FileRecord
		checksum     sql.NullString
		existsFlag   int
		firstSeenRaw string
		modifiedRaw  sql.NullString
		currentStage sql.NullString
		metadataRaw  string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.CanonicalPath,
		&rec.Filename,
		&rec.Directory,
		&rec.Extension,
		&rec.SizeBytes,
		&checksum,
		&existsFlag,
		&firstSeenRaw,
		&modifiedRaw,
		&currentStage,
		&metadataRaw,
		&rec.Hints.Participant,
		&rec.Hints.Session,
		&rec.Hints.Task,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	rec.ContentChecksum = checksum.String
	rec.Exists = existsFlag != 0
	rec.CurrentStage = Stage(currentStage.String)
	if t, err := parseTimeString(firstSeenRaw); err == nil {
		rec.FirstSeenAt = t
	}
	if t, err := parseTimeString(modifiedRaw.String); err == nil {
		rec.LastModifiedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		rec.UpdatedAt = t
	}
	metadata, err := decodeMap(metadataRaw)
	if err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", rec.ID, err)
	}
	rec.Metadata = metadata
	rec.StageHistory = make(map[Stage]StageEntry)
	return &rec, nil
}

func scanOperation(scanner interface{ Scan(dest ...any) error }) (*OperationRecord, error) {
	var (
		op            OperationRecord
		parametersRaw string
		startedRaw    string
		outcome       string
		errorMessage  sql.NullString
		user          sql.NullString
		hostname      sql.NullString
		recordedRaw   string
	)
	if err := scanner.Scan(
		&op.ID,
		&op.Type,
		&op.ProcessName,
		&parametersRaw,
		&startedRaw,
		&op.DurationSeconds,
		&outcome,
		&errorMessage,
		&user,
		&hostname,
		&recordedRaw,
	); err != nil {
		return nil, err
	}
	op.Outcome = Outcome(outcome)
	op.ErrorMessage = errorMessage.String
	op.User = user.String
	op.Hostname = hostname.String
	if t, err := parseTimeString(startedRaw); err == nil {
		op.StartedAt = t
	}
	if t, err := parseTimeString(recordedRaw); err == nil {
		op.RecordedAt = t
	}
	parameters, err := decodeMap(parametersRaw)
	if err != nil {
		return nil, fmt.Errorf("decode parameters for %s: %w", op.ID, err)
	}
	if len(parameters) > 0 {
		op.Parameters = parameters
	}
	op.InputIDs = []string{}
	op.OutputIDs = []string{}
	return &op, nil
}

func encodeMap(values map[string]string) (string, error) {
	if len(values) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeMap(raw string) (map[string]string, error) {
	out := map[string]string{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return formatTime(value)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func chunk(values []string, size int) [][]string {
	var out [][]string
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}

func touchHeader(ctx context.Context, tx execer, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE store_header SET updated_at = ? WHERE id = 1`, formatTime(now))
	return err
}
