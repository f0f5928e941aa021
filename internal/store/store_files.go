package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"strings"
	"time"
)

// Get returns the record stored under id.
func (s *Store) Get(ctx context.Context, id string) (*FileRecord, error) {
	ctx = ensureContext(ctx)
	var rec *FileRecord
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = getFile(ctx, tx, "id", id)
		return err
	})
	return rec, err
}

// GetByPath returns the record stored for an already canonical path.
func (s *Store) GetByPath(ctx context.Context, canonical string) (*FileRecord, error) {
	ctx = ensureContext(ctx)
	var rec *FileRecord
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = getFile(ctx, tx, "canonical_path", canonical)
		return err
	})
	return rec, err
}

func getFile(ctx context.Context, q queryer, column, value string) (*FileRecord, error) {
	row := q.QueryRowContext(ctx, "SELECT "+fileColumns+" FROM files WHERE "+column+" = ?", value)
	rec, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, value)
	}
	if err != nil {
		return nil, err
	}
	if err := loadSlots(ctx, q, []*FileRecord{rec}); err != nil {
		return nil, err
	}
	return rec, nil
}

// Upsert merges rec into the stored record with the same id inside one write
// transaction:
//   - stage entries in rec overwrite the slot for their stage
//   - metadata is unioned, values in rec win on key conflicts
//   - size, existence and modification time are refreshed from rec
//   - a non-empty checksum replaces the stored one
//
// Every slot change is appended to the stage audit trail. Entries identical to
// the stored slot are left untouched so replays stay idempotent. The merged
// record is durable when Upsert returns.
func (s *Store) Upsert(ctx context.Context, rec FileRecord) (*FileRecord, error) {
	ctx = ensureContext(ctx)
	if err := validateRecord(rec); err != nil {
		return nil, err
	}

	var merged *FileRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getFile(ctx, tx, "id", rec.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing != nil && existing.CanonicalPath != rec.CanonicalPath {
			return fmt.Errorf("%w: id %s is stored for %q, resolved %q", ErrIdentityCollision, rec.ID, existing.CanonicalPath, rec.CanonicalPath)
		}

		now := time.Now().UTC()
		var changed []StageEntry
		merged, changed = mergeRecord(existing, rec, now)

		if err := writeFile(ctx, tx, merged, existing == nil); err != nil {
			return err
		}
		for _, entry := range changed {
			if err := writeSlot(ctx, tx, merged.ID, entry); err != nil {
				return err
			}
			if err := appendEvent(ctx, tx, merged.ID, entry); err != nil {
				return err
			}
		}
		return touchHeader(ctx, tx, now)
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func validateRecord(rec FileRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("%w: record id is empty", ErrInvalidInput)
	}
	if strings.TrimSpace(rec.CanonicalPath) == "" {
		return fmt.Errorf("%w: record %s has no canonical path", ErrInvalidInput, rec.ID)
	}
	for stage, entry := range rec.StageHistory {
		if stage.Order() < 0 || entry.Stage != stage {
			return fmt.Errorf("%w: stage %q", ErrInvalidInput, stage)
		}
		if _, err := ParseStatus(string(entry.Status)); err != nil {
			return err
		}
	}
	return nil
}

// mergeRecord applies incoming onto existing and returns the merged record
// plus the stage entries that changed.
func mergeRecord(existing *FileRecord, incoming FileRecord, now time.Time) (*FileRecord, []StageEntry) {
	merged := &FileRecord{
		ID:            incoming.ID,
		CanonicalPath: incoming.CanonicalPath,
		StageHistory:  map[Stage]StageEntry{},
		Metadata:      map[string]string{},
		FirstSeenAt:   incoming.FirstSeenAt,
	}
	if existing != nil {
		merged.FirstSeenAt = existing.FirstSeenAt
		merged.ContentChecksum = existing.ContentChecksum
		merged.LastModifiedAt = existing.LastModifiedAt
		merged.Hints = existing.Hints
		maps.Copy(merged.StageHistory, existing.StageHistory)
		maps.Copy(merged.Metadata, existing.Metadata)
	}
	if merged.FirstSeenAt.IsZero() {
		merged.FirstSeenAt = now
	}

	merged.Filename = firstNonEmpty(incoming.Filename, filepath.Base(incoming.CanonicalPath))
	merged.Directory = firstNonEmpty(incoming.Directory, filepath.Dir(incoming.CanonicalPath))
	merged.Extension = incoming.Extension
	merged.SizeBytes = incoming.SizeBytes
	merged.Exists = incoming.Exists
	if !incoming.LastModifiedAt.IsZero() {
		merged.LastModifiedAt = incoming.LastModifiedAt
	}
	if incoming.ContentChecksum != "" {
		merged.ContentChecksum = incoming.ContentChecksum
	}
	maps.Copy(merged.Metadata, incoming.Metadata)
	merged.Hints = mergeHints(merged.Metadata, incoming.Hints, merged.Hints)

	var changed []StageEntry
	for _, stage := range allStages {
		entry, ok := incoming.StageHistory[stage]
		if !ok {
			continue
		}
		entry.Metadata = cloneMetadata(entry.Metadata)
		if entry.RecordedAt.IsZero() {
			entry.RecordedAt = now
		}
		if prev, ok := merged.StageHistory[stage]; ok && prev.sameResult(entry) {
			continue
		}
		merged.StageHistory[stage] = entry
		changed = append(changed, entry)
	}
	merged.CurrentStage = currentStage(merged.StageHistory)
	merged.UpdatedAt = now
	return merged, changed
}

func mergeHints(metadata map[string]string, incoming, existing Hints) Hints {
	pick := func(key, fromIncoming, fromExisting string) string {
		if v := strings.TrimSpace(metadata[key]); v != "" {
			return v
		}
		if fromIncoming != "" && !strings.EqualFold(fromIncoming, "unknown") {
			return fromIncoming
		}
		return fromExisting
	}
	return Hints{
		Participant: pick("participant", incoming.Participant, existing.Participant),
		Session:     pick("session", incoming.Session, existing.Session),
		Task:        pick("task", incoming.Task, existing.Task),
	}
}

// currentStage returns the stage of the most recently recorded entry, breaking
// ties by pipeline order.
func currentStage(history map[Stage]StageEntry) Stage {
	var (
		best  Stage
		bestT time.Time
	)
	for _, stage := range allStages {
		entry, ok := history[stage]
		if !ok {
			continue
		}
		if best == "" || !entry.RecordedAt.Before(bestT) {
			best = stage
			bestT = entry.RecordedAt
		}
	}
	return best
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func writeFile(ctx context.Context, tx execer, rec *FileRecord, insert bool) error {
	metadataJSON, err := encodeMap(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	args := []any{
		rec.CanonicalPath,
		rec.Filename,
		rec.Directory,
		rec.Extension,
		rec.SizeBytes,
		nullableString(rec.ContentChecksum),
		boolToInt(rec.Exists),
		formatTime(rec.FirstSeenAt),
		nullableTime(rec.LastModifiedAt),
		nullableString(string(rec.CurrentStage)),
		metadataJSON,
		rec.Hints.Participant,
		rec.Hints.Session,
		rec.Hints.Task,
		formatTime(rec.UpdatedAt),
		rec.ID,
	}
	if insert {
		_, err = tx.ExecContext(ctx, `INSERT INTO files (
            canonical_path, filename, directory, extension, size_bytes, content_checksum,
            exists_flag, first_seen_at, last_modified_at, current_stage, metadata_json,
            participant, session, task, updated_at, id
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE files SET
            canonical_path = ?, filename = ?, directory = ?, extension = ?, size_bytes = ?,
            content_checksum = ?, exists_flag = ?, first_seen_at = ?, last_modified_at = ?,
            current_stage = ?, metadata_json = ?, participant = ?, session = ?, task = ?,
            updated_at = ?
        WHERE id = ?`, args...)
	}
	if err != nil {
		return fmt.Errorf("write file %s: %w", rec.ID, err)
	}
	return nil
}

func writeSlot(ctx context.Context, tx execer, fileID string, entry StageEntry) error {
	metadataJSON, err := encodeMap(entry.Metadata)
	if err != nil {
		return fmt.Errorf("encode stage metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO stage_slots (file_id, stage, status, recorded_at, metadata_json)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(file_id, stage) DO UPDATE SET
            status = excluded.status,
            recorded_at = excluded.recorded_at,
            metadata_json = excluded.metadata_json`,
		fileID, string(entry.Stage), string(entry.Status), formatTime(entry.RecordedAt), metadataJSON)
	if err != nil {
		return fmt.Errorf("write stage %s for %s: %w", entry.Stage, fileID, err)
	}
	return nil
}

func appendEvent(ctx context.Context, tx execer, fileID string, entry StageEntry) error {
	metadataJSON, err := encodeMap(entry.Metadata)
	if err != nil {
		return fmt.Errorf("encode stage metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO stage_events (file_id, stage, status, recorded_at, metadata_json)
        VALUES (?, ?, ?, ?, ?)`,
		fileID, string(entry.Stage), string(entry.Status), formatTime(entry.RecordedAt), metadataJSON)
	if err != nil {
		return fmt.Errorf("append stage event for %s: %w", fileID, err)
	}
	return nil
}

// loadSlots fills StageHistory for the given records.
func loadSlots(ctx context.Context, q queryer, records []*FileRecord) error {
	if len(records) == 0 {
		return nil
	}
	byID := make(map[string]*FileRecord, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
		ids = append(ids, rec.ID)
	}
	for _, batch := range chunk(ids, slotBatchSize) {
		rows, err := q.QueryContext(ctx,
			"SELECT file_id, stage, status, recorded_at, metadata_json FROM stage_slots WHERE file_id IN ("+makePlaceholders(len(batch))+")",
			stringArgs(batch)...)
		if err != nil {
			return fmt.Errorf("query stage slots: %w", err)
		}
		for rows.Next() {
			var (
				fileID, stage, status, recordedRaw, metadataRaw string
			)
			if err := rows.Scan(&fileID, &stage, &status, &recordedRaw, &metadataRaw); err != nil {
				rows.Close()
				return err
			}
			entry := StageEntry{Stage: Stage(stage), Status: Status(status)}
			if t, err := parseTimeString(recordedRaw); err == nil {
				entry.RecordedAt = t
			}
			metadata, err := decodeMap(metadataRaw)
			if err != nil {
				rows.Close()
				return fmt.Errorf("decode stage metadata for %s: %w", fileID, err)
			}
			if len(metadata) > 0 {
				entry.Metadata = metadata
			}
			if rec, ok := byID[fileID]; ok {
				rec.StageHistory[entry.Stage] = entry
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
	}
	return nil
}

// List returns records matching filter ordered by canonical path.
func (s *Store) List(ctx context.Context, filter Filter) ([]*FileRecord, error) {
	ctx = ensureContext(ctx)
	var records []*FileRecord
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		records, err = listFiles(ctx, tx, filter)
		return err
	})
	return records, err
}

func listFiles(ctx context.Context, q queryer, filter Filter) ([]*FileRecord, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.IDs) > 0 {
		clauses = append(clauses, "id IN ("+makePlaceholders(len(filter.IDs))+")")
		args = append(args, stringArgs(filter.IDs)...)
	}
	if ext := strings.TrimSpace(filter.Extension); ext != "" {
		clauses = append(clauses, "lower(extension) = lower(?)")
		args = append(args, ext)
	}
	switch {
	case filter.Stage != "" && filter.Status != "":
		clauses = append(clauses, "EXISTS (SELECT 1 FROM stage_slots s WHERE s.file_id = files.id AND s.stage = ? AND s.status = ?)")
		args = append(args, string(filter.Stage), string(filter.Status))
	case filter.Stage != "":
		clauses = append(clauses, "EXISTS (SELECT 1 FROM stage_slots s WHERE s.file_id = files.id AND s.stage = ?)")
		args = append(args, string(filter.Stage))
	case filter.Status != "":
		clauses = append(clauses, "EXISTS (SELECT 1 FROM stage_slots s WHERE s.file_id = files.id AND s.status = ?)")
		args = append(args, string(filter.Status))
	}
	if filter.CurrentStage != "" {
		clauses = append(clauses, "current_stage = ?")
		args = append(args, string(filter.CurrentStage))
	}
	if v := strings.TrimSpace(filter.Participant); v != "" {
		clauses = append(clauses, "participant = ?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(filter.Session); v != "" {
		clauses = append(clauses, "session = ?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(filter.Task); v != "" {
		clauses = append(clauses, "lower(task) = lower(?)")
		args = append(args, v)
	}
	if filter.Exists != nil {
		clauses = append(clauses, "exists_flag = ?")
		args = append(args, boolToInt(*filter.Exists))
	}
	if v := strings.TrimSpace(filter.FilenameContains); v != "" {
		clauses = append(clauses, "instr(lower(filename), lower(?)) > 0")
		args = append(args, v)
	}
	if v := strings.TrimSpace(filter.OperationType); v != "" {
		clauses = append(clauses, `EXISTS (SELECT 1 FROM operation_files f JOIN operations o ON o.id = f.operation_id
            WHERE f.file_id = files.id AND o.operation_type = ?)`)
		args = append(args, v)
	}

	query := "SELECT " + fileColumns + " FROM files"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY canonical_path"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	var records []*FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := loadSlots(ctx, q, records); err != nil {
		return nil, err
	}
	return records, nil
}

// FindByHints returns records with the given filename whose identity hints
// match. Participant is required; session and task constrain the match only
// when set. An unknown participant never matches.
func (s *Store) FindByHints(ctx context.Context, hints Hints, filename string) ([]*FileRecord, error) {
	participant := strings.TrimSpace(hints.Participant)
	if participant == "" || strings.EqualFold(participant, "unknown") || strings.TrimSpace(filename) == "" {
		return nil, nil
	}
	records, err := s.List(ctx, Filter{Participant: participant, Session: hints.Session, Task: hints.Task})
	if err != nil {
		return nil, err
	}
	matches := records[:0]
	for _, rec := range records {
		if rec.Filename == filename {
			matches = append(matches, rec)
		}
	}
	return matches, nil
}

// StageEvents returns the audit trail for fileID in recording order.
func (s *Store) StageEvents(ctx context.Context, fileID string) ([]StageEvent, error) {
	ctx = ensureContext(ctx)
	var events []StageEvent
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		events, err = listEvents(ctx, tx, "WHERE file_id = ?", fileID)
		return err
	})
	return events, err
}

func listEvents(ctx context.Context, q queryer, where string, args ...any) ([]StageEvent, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT seq, file_id, stage, status, recorded_at, metadata_json FROM stage_events "+where+" ORDER BY seq", args...)
	if err != nil {
		return nil, fmt.Errorf("query stage events: %w", err)
	}
	defer rows.Close()
	var events []StageEvent
	for rows.Next() {
		var (
			ev                                StageEvent
			stage, status, recorded, metadata string
		)
		if err := rows.Scan(&ev.Seq, &ev.FileID, &stage, &status, &recorded, &metadata); err != nil {
			return nil, err
		}
		ev.Stage = Stage(stage)
		ev.Status = Status(status)
		if t, err := parseTimeString(recorded); err == nil {
			ev.RecordedAt = t
		}
		decoded, err := decodeMap(metadata)
		if err != nil {
			return nil, fmt.Errorf("decode event metadata: %w", err)
		}
		if len(decoded) > 0 {
			ev.Metadata = decoded
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
