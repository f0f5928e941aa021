package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"pipetrack/internal/fileutil"
	"pipetrack/internal/store"
)

// CSV table names written by WriteCSV.
const (
	FilesCSV      = "files.csv"
	OperationsCSV = "operations.csv"
)

var fileColumns = []string{
	"file_id", "path", "filename", "directory", "extension", "size_bytes", "exists",
	"created_in_db", "last_modified", "current_stage", "num_operations",
}

var operationColumns = []string{
	"operation_id", "timestamp", "operation_type", "process_name", "num_inputs", "num_outputs",
	"status", "duration_seconds", "user", "hostname",
}

// Snapshotter produces a consistent copy of the store.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*store.Dump, error)
}

// WriteCSV writes files.csv and operations.csv into dir from one consistent
// snapshot and returns the written paths. Each file is replaced atomically.
func WriteCSV(ctx context.Context, src Snapshotter, dir string) ([]string, error) {
	dump, err := src.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	touches := map[string]int{}
	for _, op := range dump.Operations {
		seen := map[string]bool{}
		for _, id := range append(append([]string{}, op.InputIDs...), op.OutputIDs...) {
			if !seen[id] {
				seen[id] = true
				touches[id]++
			}
		}
	}

	filesPath := filepath.Join(dir, FilesCSV)
	if err := fileutil.WriteFileAtomic(filesPath, 0o644, func(w io.Writer) error {
		return writeFiles(w, dump.Files, touches)
	}); err != nil {
		return nil, fmt.Errorf("write %s: %w", FilesCSV, err)
	}
	opsPath := filepath.Join(dir, OperationsCSV)
	if err := fileutil.WriteFileAtomic(opsPath, 0o644, func(w io.Writer) error {
		return writeOperations(w, dump.Operations)
	}); err != nil {
		return nil, fmt.Errorf("write %s: %w", OperationsCSV, err)
	}
	return []string{filesPath, opsPath}, nil
}

func writeFiles(w io.Writer, files []store.FileRecord, touches map[string]int) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(fileColumns); err != nil {
		return err
	}
	for _, rec := range files {
		row := []string{
			rec.ID,
			rec.CanonicalPath,
			rec.Filename,
			rec.Directory,
			rec.Extension,
			strconv.FormatInt(rec.SizeBytes, 10),
			strconv.FormatBool(rec.Exists),
			formatTime(rec.FirstSeenAt),
			formatTime(rec.LastModifiedAt),
			string(rec.CurrentStage),
			strconv.Itoa(touches[rec.ID]),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeOperations(w io.Writer, ops []store.OperationRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(operationColumns); err != nil {
		return err
	}
	for _, op := range ops {
		row := []string{
			op.ID,
			formatTime(op.StartedAt),
			op.Type,
			op.ProcessName,
			strconv.Itoa(len(op.InputIDs)),
			strconv.Itoa(len(op.OutputIDs)),
			string(op.Outcome),
			strconv.FormatFloat(op.DurationSeconds, 'f', -1, 64),
			op.User,
			op.Hostname,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
