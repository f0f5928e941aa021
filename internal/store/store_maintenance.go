package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Stats aggregates store counts for summaries.
type Stats struct {
	TotalFiles          int                      `json:"total_files" yaml:"total_files"`
	ExistingFiles       int                      `json:"existing_files" yaml:"existing_files"`
	TotalOperations     int                      `json:"total_operations" yaml:"total_operations"`
	ByStageStatus       map[Stage]map[Status]int `json:"by_stage_status" yaml:"by_stage_status"`
	ByCurrentStage      map[Stage]int            `json:"by_current_stage" yaml:"by_current_stage"`
	ByParticipant       map[string]int           `json:"by_participant" yaml:"by_participant"`
	ByExtension         map[string]int           `json:"by_extension" yaml:"by_extension"`
	OperationsByType    map[string]int           `json:"operations_by_type" yaml:"operations_by_type"`
	OperationsByOutcome map[Outcome]int          `json:"operations_by_outcome" yaml:"operations_by_outcome"`
	RecentStageEvents   int                      `json:"recent_stage_events" yaml:"recent_stage_events"`
	RecentOperations    int                      `json:"recent_operations" yaml:"recent_operations"`
}

// Header returns the store header with live totals.
func (s *Store) Header(ctx context.Context) (Header, error) {
	ctx = ensureContext(ctx)
	var header Header
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		header, err = readHeader(ctx, tx)
		return err
	})
	return header, err
}

func readHeader(ctx context.Context, q queryer) (Header, error) {
	var (
		header             Header
		createdRaw, updRaw string
	)
	if err := q.QueryRowContext(ctx, "SELECT created_at, updated_at FROM store_header WHERE id = 1").Scan(&createdRaw, &updRaw); err != nil {
		return header, fmt.Errorf("read store header: %w", err)
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		header.CreatedAt = t
	}
	if t, err := parseTimeString(updRaw); err == nil {
		header.UpdatedAt = t
	}
	var version sql.NullInt64
	if err := q.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return header, fmt.Errorf("read schema version: %w", err)
	}
	header.SchemaVersion = uint(version.Int64)
	if err := q.QueryRowContext(ctx, "SELECT COUNT(1) FROM files").Scan(&header.TotalFiles); err != nil {
		return header, fmt.Errorf("count files: %w", err)
	}
	if err := q.QueryRowContext(ctx, "SELECT COUNT(1) FROM operations").Scan(&header.TotalOperations); err != nil {
		return header, fmt.Errorf("count operations: %w", err)
	}
	return header, nil
}

// Stats returns grouped counts. Recent counters cover activity at or after since.
func (s *Store) Stats(ctx context.Context, since time.Time) (Stats, error) {
	ctx = ensureContext(ctx)
	stats := Stats{
		ByStageStatus:       map[Stage]map[Status]int{},
		ByCurrentStage:      map[Stage]int{},
		ByParticipant:       map[string]int{},
		ByExtension:         map[string]int{},
		OperationsByType:    map[string]int{},
		OperationsByOutcome: map[Outcome]int{},
	}
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1), COALESCE(SUM(exists_flag), 0) FROM files").Scan(&stats.TotalFiles, &stats.ExistingFiles); err != nil {
			return fmt.Errorf("count files: %w", err)
		}
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM operations").Scan(&stats.TotalOperations); err != nil {
			return fmt.Errorf("count operations: %w", err)
		}
		if err := groupCount(ctx, tx, "SELECT stage, status, COUNT(1) FROM stage_slots GROUP BY stage, status", func(scan func(...any) error) error {
			var stage, status string
			var count int
			if err := scan(&stage, &status, &count); err != nil {
				return err
			}
			byStatus := stats.ByStageStatus[Stage(stage)]
			if byStatus == nil {
				byStatus = map[Status]int{}
				stats.ByStageStatus[Stage(stage)] = byStatus
			}
			byStatus[Status(status)] = count
			return nil
		}); err != nil {
			return err
		}
		if err := groupInto(ctx, tx, "SELECT COALESCE(current_stage, ''), COUNT(1) FROM files GROUP BY current_stage", func(key string, count int) {
			stats.ByCurrentStage[Stage(key)] = count
		}); err != nil {
			return err
		}
		if err := groupInto(ctx, tx, "SELECT participant, COUNT(1) FROM files WHERE participant != '' GROUP BY participant", func(key string, count int) {
			stats.ByParticipant[key] = count
		}); err != nil {
			return err
		}
		if err := groupInto(ctx, tx, "SELECT extension, COUNT(1) FROM files GROUP BY extension", func(key string, count int) {
			stats.ByExtension[key] = count
		}); err != nil {
			return err
		}
		if err := groupInto(ctx, tx, "SELECT operation_type, COUNT(1) FROM operations GROUP BY operation_type", func(key string, count int) {
			stats.OperationsByType[key] = count
		}); err != nil {
			return err
		}
		if err := groupInto(ctx, tx, "SELECT outcome, COUNT(1) FROM operations GROUP BY outcome", func(key string, count int) {
			stats.OperationsByOutcome[Outcome(key)] = count
		}); err != nil {
			return err
		}
		cutoff := formatTime(since)
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM stage_events WHERE recorded_at >= ?", cutoff).Scan(&stats.RecentStageEvents); err != nil {
			return fmt.Errorf("count recent stage events: %w", err)
		}
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM operations WHERE started_at >= ?", cutoff).Scan(&stats.RecentOperations); err != nil {
			return fmt.Errorf("count recent operations: %w", err)
		}
		return nil
	})
	return stats, err
}

func groupCount(ctx context.Context, q queryer, query string, each func(scan func(...any) error) error) error {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("store stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := each(rows.Scan); err != nil {
			return err
		}
	}
	return rows.Err()
}

func groupInto(ctx context.Context, q queryer, query string, set func(key string, count int)) error {
	return groupCount(ctx, q, query, func(scan func(...any) error) error {
		var key string
		var count int
		if err := scan(&key, &count); err != nil {
			return err
		}
		set(key, count)
		return nil
	})
}

// DatabaseHealth captures diagnostic information about the record store.
type DatabaseHealth struct {
	DBPath            string   `json:"db_path"`
	DatabaseExists    bool     `json:"database_exists"`
	DatabaseReadable  bool     `json:"database_readable"`
	DirectoryWritable bool     `json:"directory_writable"`
	SchemaVersion     uint     `json:"schema_version"`
	TablesMissing     []string `json:"tables_missing,omitempty"`
	IntegrityCheck    bool     `json:"integrity_check"`
	TotalFiles        int      `json:"total_files"`
	TotalOperations   int      `json:"total_operations"`
	Error             string   `json:"error,omitempty"`
}

var expectedTables = []string{"store_header", "files", "stage_slots", "stage_events", "operations", "operation_files"}

// CheckHealth returns diagnostic information about the record store.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	ctx = ensureContext(ctx)
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("store path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat store: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("store path %q is a directory", s.path)
	}
	health.DatabaseExists = true
	health.DirectoryWritable = unix.Access(filepath.Dir(s.path), unix.W_OK) == nil

	if s.db == nil {
		return health, errors.New("store connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping store: %w", err)
	}
	health.DatabaseReadable = true

	present := map[string]struct{}{}
	rows, err := s.db.QueryContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("query table info: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			health.Error = err.Error()
			return health, fmt.Errorf("scan table info: %w", err)
		}
		present[name] = struct{}{}
	}
	rows.Close()
	for _, table := range expectedTables {
		if _, ok := present[table]; !ok {
			health.TablesMissing = append(health.TablesMissing, table)
		}
	}

	if len(health.TablesMissing) == 0 {
		header, err := readHeader(connCtx, s.db)
		if err != nil {
			health.Error = err.Error()
			return health, err
		}
		health.SchemaVersion = header.SchemaVersion
		health.TotalFiles = header.TotalFiles
		health.TotalOperations = header.TotalOperations
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
