package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	roleInput  = "input"
	roleOutput = "output"
)

// OperationFilter narrows Operations results. Zero values match everything.
type OperationFilter struct {
	Type   string
	FileID string
	// Role restricts FileID matches to "input" or "output".
	Role  string
	Limit int
}

// AppendOperation appends op to the operation log. Operations are immutable:
// appending an id that already exists leaves the stored entry untouched and
// reports inserted=false, which makes replays idempotent. Every referenced
// file must already be registered.
func (s *Store) AppendOperation(ctx context.Context, op OperationRecord) (bool, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(op.ID) == "" {
		return false, fmt.Errorf("%w: operation id is empty", ErrInvalidInput)
	}
	if strings.TrimSpace(op.Type) == "" {
		return false, fmt.Errorf("%w: operation %s has no type", ErrInvalidInput, op.ID)
	}
	if op.Outcome == "" {
		op.Outcome = OutcomeSuccess
	}
	if _, err := ParseOutcome(string(op.Outcome)); err != nil {
		return false, err
	}
	if op.StartedAt.IsZero() {
		op.StartedAt = time.Now().UTC()
	}
	parametersJSON, err := encodeMap(op.Parameters)
	if err != nil {
		return false, fmt.Errorf("encode parameters: %w", err)
	}

	var inserted bool
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		inserted = false
		if err := ensureFilesExist(ctx, tx, append(append([]string{}, op.InputIDs...), op.OutputIDs...)); err != nil {
			return err
		}
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO operations (
            id, operation_type, process_name, parameters_json, started_at, duration_seconds,
            outcome, error_message, user_name, hostname, recorded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			op.ID,
			op.Type,
			op.ProcessName,
			parametersJSON,
			formatTime(op.StartedAt),
			op.DurationSeconds,
			string(op.Outcome),
			nullableString(op.ErrorMessage),
			nullableString(op.User),
			nullableString(op.Hostname),
			formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("insert operation %s: %w", op.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}
		if err := insertOperationFiles(ctx, tx, op.ID, roleInput, op.InputIDs); err != nil {
			return err
		}
		if err := insertOperationFiles(ctx, tx, op.ID, roleOutput, op.OutputIDs); err != nil {
			return err
		}
		inserted = true
		return touchHeader(ctx, tx, now)
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func ensureFilesExist(ctx context.Context, q queryer, ids []string) error {
	for _, id := range ids {
		var one int
		err := q.QueryRowContext(ctx, "SELECT 1 FROM files WHERE id = ?", id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: operation references unregistered file %s", ErrInvalidInput, id)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func insertOperationFiles(ctx context.Context, tx execer, operationID, role string, fileIDs []string) error {
	for position, fileID := range fileIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO operation_files (operation_id, file_id, role, position) VALUES (?, ?, ?, ?)`,
			operationID, fileID, role, position,
		); err != nil {
			return fmt.Errorf("link %s %s to %s: %w", role, fileID, operationID, err)
		}
	}
	return nil
}

// GetOperation returns the operation stored under id.
func (s *Store) GetOperation(ctx context.Context, id string) (*OperationRecord, error) {
	ctx = ensureContext(ctx)
	var op *OperationRecord
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, "SELECT "+operationColumns+" FROM operations WHERE id = ?", id)
		var err error
		op, err = scanOperation(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: operation %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		return loadOperationFiles(ctx, tx, []*OperationRecord{op})
	})
	return op, err
}

// Operations returns operations matching filter ordered by start time.
func (s *Store) Operations(ctx context.Context, filter OperationFilter) ([]*OperationRecord, error) {
	ctx = ensureContext(ctx)
	var ops []*OperationRecord
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		ops, err = listOperations(ctx, tx, filter)
		return err
	})
	return ops, err
}

// OperationsProducing returns the operations that list fileID as an output.
func (s *Store) OperationsProducing(ctx context.Context, fileID string) ([]*OperationRecord, error) {
	return s.Operations(ctx, OperationFilter{FileID: fileID, Role: roleOutput})
}

// OperationsTouching returns every operation that references fileID.
func (s *Store) OperationsTouching(ctx context.Context, fileID string) ([]*OperationRecord, error) {
	return s.Operations(ctx, OperationFilter{FileID: fileID})
}

func listOperations(ctx context.Context, q queryer, filter OperationFilter) ([]*OperationRecord, error) {
	var (
		clauses []string
		args    []any
	)
	if v := strings.TrimSpace(filter.Type); v != "" {
		clauses = append(clauses, "operation_type = ?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(filter.FileID); v != "" {
		sub := "SELECT 1 FROM operation_files f WHERE f.operation_id = operations.id AND f.file_id = ?"
		args = append(args, v)
		if filter.Role != "" {
			sub += " AND f.role = ?"
			args = append(args, filter.Role)
		}
		clauses = append(clauses, "EXISTS ("+sub+")")
	}
	query := "SELECT " + operationColumns + " FROM operations"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	var ops []*OperationRecord
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := loadOperationFiles(ctx, q, ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func loadOperationFiles(ctx context.Context, q queryer, ops []*OperationRecord) error {
	if len(ops) == 0 {
		return nil
	}
	byID := make(map[string]*OperationRecord, len(ops))
	ids := make([]string, 0, len(ops))
	for _, op := range ops {
		byID[op.ID] = op
		ids = append(ids, op.ID)
	}
	for _, batch := range chunk(ids, slotBatchSize) {
		rows, err := q.QueryContext(ctx,
			"SELECT operation_id, file_id, role FROM operation_files WHERE operation_id IN ("+makePlaceholders(len(batch))+") ORDER BY operation_id, role, position",
			stringArgs(batch)...)
		if err != nil {
			return fmt.Errorf("query operation files: %w", err)
		}
		for rows.Next() {
			var operationID, fileID, role string
			if err := rows.Scan(&operationID, &fileID, &role); err != nil {
				rows.Close()
				return err
			}
			op, ok := byID[operationID]
			if !ok {
				continue
			}
			if role == roleInput {
				op.InputIDs = append(op.InputIDs, fileID)
			} else {
				op.OutputIDs = append(op.OutputIDs, fileID)
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
