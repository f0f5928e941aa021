package store

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Stage names a phase of the processing pipeline. The order is advisory.
type Stage string

const (
	StageRawAcquisition Stage = "raw_acquisition"
	StageRawCopy        Stage = "raw_copy"
	StageBidsification  Stage = "bidsification"
	StageMaxfilter      Stage = "maxfilter"
	StagePreprocessing  Stage = "preprocessing"
	StageAnalysis       Stage = "analysis"
	StageValidation     Stage = "validation"
	StageReporting      Stage = "reporting"
	StageArchived       Stage = "archived"
)

var allStages = []Stage{
	StageRawAcquisition,
	StageRawCopy,
	StageBidsification,
	StageMaxfilter,
	StagePreprocessing,
	StageAnalysis,
	StageValidation,
	StageReporting,
	StageArchived,
}

var stageOrder = func() map[Stage]int {
	m := make(map[Stage]int, len(allStages))
	for i, stage := range allStages {
		m[stage] = i
	}
	return m
}()

// Stages returns every stage in pipeline order.
func Stages() []Stage {
	out := make([]Stage, len(allStages))
	copy(out, allStages)
	return out
}

// ParseStage converts user input into a Stage.
func ParseStage(value string) (Stage, error) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := stageOrder[normalized]; ok {
		return normalized, nil
	}
	return "", fmt.Errorf("%w: unknown stage %q", ErrInvalidInput, value)
}

// Order returns the advisory pipeline position of the stage, or -1.
func (s Stage) Order() int {
	if idx, ok := stageOrder[s]; ok {
		return idx
	}
	return -1
}

// Status is the state of one stage of one file.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var allStatuses = []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed}

// Statuses returns every stage status.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts user input into a Status. in_progress is accepted as
// running for older stage scripts.
func ParseStatus(value string) (Status, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "in_progress", "in-progress":
		return StatusRunning, nil
	}
	for _, status := range allStatuses {
		if string(status) == normalized {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, value)
}

// Outcome is the result of one logged operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// ParseOutcome converts user input into an Outcome.
func ParseOutcome(value string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "success", "succeeded", "ok", "completed":
		return OutcomeSuccess, nil
	case "failure", "failed", "error":
		return OutcomeFailure, nil
	case "partial":
		return OutcomePartial, nil
	default:
		return "", fmt.Errorf("%w: unknown outcome %q", ErrInvalidInput, value)
	}
}

// StageStatus returns the stage status implied by the outcome on outputs.
func (o Outcome) StageStatus() Status {
	if o == OutcomeFailure {
		return StatusFailed
	}
	return StatusCompleted
}

// StageEntry is the latest result recorded for one stage of one file.
type StageEntry struct {
	Stage      Stage             `json:"stage" yaml:"stage"`
	Status     Status            `json:"status" yaml:"status"`
	RecordedAt time.Time         `json:"recorded_at" yaml:"recorded_at"`
	Metadata   map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// sameResult reports whether two entries carry the same status and metadata.
func (e StageEntry) sameResult(other StageEntry) bool {
	return e.Status == other.Status && maps.Equal(e.Metadata, other.Metadata)
}

// StageEvent is one row of the append-only stage audit trail.
type StageEvent struct {
	Seq        int64  `json:"seq" yaml:"seq"`
	FileID     string `json:"file_id" yaml:"file_id"`
	StageEntry `yaml:",inline"`
}

// Hints are identity hints derived from metadata or the filename.
type Hints struct {
	Participant string `json:"participant,omitempty" yaml:"participant,omitempty"`
	Session     string `json:"session,omitempty" yaml:"session,omitempty"`
	Task        string `json:"task,omitempty" yaml:"task,omitempty"`
}

// IsZero reports whether no hint is set.
func (h Hints) IsZero() bool {
	return h.Participant == "" && h.Session == "" && h.Task == ""
}

// FileRecord is the persisted representation of one tracked artifact.
type FileRecord struct {
	ID              string               `json:"id" yaml:"id"`
	CanonicalPath   string               `json:"canonical_path" yaml:"canonical_path"`
	Filename        string               `json:"filename" yaml:"filename"`
	Directory       string               `json:"directory" yaml:"directory"`
	Extension       string               `json:"extension" yaml:"extension"`
	SizeBytes       int64                `json:"size_bytes" yaml:"size_bytes"`
	ContentChecksum string               `json:"content_checksum,omitempty" yaml:"content_checksum,omitempty"`
	Exists          bool                 `json:"exists" yaml:"exists"`
	FirstSeenAt     time.Time            `json:"first_seen_at" yaml:"first_seen_at"`
	LastModifiedAt  time.Time            `json:"last_modified_at" yaml:"last_modified_at"`
	CurrentStage    Stage                `json:"current_stage,omitempty" yaml:"current_stage,omitempty"`
	StageHistory    map[Stage]StageEntry `json:"stage_history" yaml:"stage_history"`
	Metadata        map[string]string    `json:"metadata" yaml:"metadata"`
	Hints           Hints                `json:"hints" yaml:"hints"`
	UpdatedAt       time.Time            `json:"updated_at" yaml:"updated_at"`
}

// Stage returns the entry recorded for stage, if any.
func (r *FileRecord) Stage(stage Stage) (StageEntry, bool) {
	if r == nil || r.StageHistory == nil {
		return StageEntry{}, false
	}
	entry, ok := r.StageHistory[stage]
	return entry, ok
}

// OrderedStages returns the recorded stage entries in pipeline order.
func (r *FileRecord) OrderedStages() []StageEntry {
	if r == nil {
		return nil
	}
	out := make([]StageEntry, 0, len(r.StageHistory))
	for _, stage := range allStages {
		if entry, ok := r.StageHistory[stage]; ok {
			out = append(out, entry)
		}
	}
	return out
}

// OperationRecord is an immutable log entry describing one processing action.
type OperationRecord struct {
	ID              string            `json:"id" yaml:"id"`
	Type            string            `json:"operation_type" yaml:"operation_type"`
	ProcessName     string            `json:"process_name" yaml:"process_name"`
	InputIDs        []string          `json:"input_ids" yaml:"input_ids"`
	OutputIDs       []string          `json:"output_ids" yaml:"output_ids"`
	Parameters      map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	StartedAt       time.Time         `json:"started_at" yaml:"started_at"`
	DurationSeconds float64           `json:"duration_seconds" yaml:"duration_seconds"`
	Outcome         Outcome           `json:"outcome" yaml:"outcome"`
	ErrorMessage    string            `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	User            string            `json:"user,omitempty" yaml:"user,omitempty"`
	Hostname        string            `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	RecordedAt      time.Time         `json:"recorded_at" yaml:"recorded_at"`
}

// Header summarizes the store.
type Header struct {
	CreatedAt       time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"updated_at"`
	SchemaVersion   uint      `json:"schema_version" yaml:"schema_version"`
	TotalFiles      int       `json:"total_files" yaml:"total_files"`
	TotalOperations int       `json:"total_operations" yaml:"total_operations"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	IDs              []string
	Extension        string
	Stage            Stage
	Status           Status
	CurrentStage     Stage
	Participant      string
	Session          string
	Task             string
	Exists           *bool
	FilenameContains string
	OperationType    string
	Limit            int
}

func cloneMetadata(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	maps.Copy(out, src)
	return out
}
