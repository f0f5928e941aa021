package oplog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/google/uuid"

	"pipetrack/internal/logging"
	"pipetrack/internal/store"
	"pipetrack/internal/tracker"
)

// Stage metadata keys written on every output of an operation.
const (
	OperationIDKey   = "operation_id"
	OperationTypeKey = "operation_type"
)

// typeStages maps operation types onto the stage their outputs reach. Stage
// names map to themselves.
var typeStages = func() map[string]store.Stage {
	m := map[string]store.Stage{
		"copy":       store.StageRawCopy,
		"bidsify":    store.StageBidsification,
		"convert":    store.StageBidsification,
		"maxfilter":  store.StageMaxfilter,
		"filter":     store.StageMaxfilter,
		"headpos":    store.StageMaxfilter,
		"hpi":        store.StageMaxfilter,
		"preprocess": store.StagePreprocessing,
		"analyze":    store.StageAnalysis,
		"analyse":    store.StageAnalysis,
		"validate":   store.StageValidation,
		"report":     store.StageReporting,
		"archive":    store.StageArchived,
	}
	for _, stage := range store.Stages() {
		m[string(stage)] = stage
	}
	return m
}()

// StageForType returns the stage implied by an operation type.
func StageForType(opType string) (store.Stage, bool) {
	stage, ok := typeStages[strings.ToLower(strings.TrimSpace(opType))]
	return stage, ok
}

// Entry describes one operation to record.
type Entry struct {
	// ID makes the call idempotent when set. A random id is used otherwise.
	ID           string
	Type         string
	ProcessName  string
	Inputs       []string
	Outputs      []string
	Parameters   map[string]string
	StartedAt    time.Time
	Duration     time.Duration
	Outcome      store.Outcome
	ErrorMessage string
	// Stage overrides the stage implied by Type.
	Stage store.Stage
	// Metadata is merged into every output record.
	Metadata map[string]string
}

// Logger appends operations through a tracker.
type Logger struct {
	tracker  *tracker.Tracker
	store    *store.Store
	logger   *slog.Logger
	user     string
	hostname string
}

// New constructs an operation logger. User and hostname are captured once.
func New(tr *tracker.Tracker, logger *slog.Logger) *Logger {
	return &Logger{
		tracker:  tr,
		store:    tr.Store(),
		logger:   logging.NewComponentLogger(logger, "oplog"),
		user:     currentUser(),
		hostname: currentHost(),
	}
}

// LogOperation records entry and returns its operation id. Every input and
// output path is registered first; outputs then receive the implied stage
// entry with a status derived from the outcome. An operation type that implies
// no stage is still recorded; its outputs are registered without a stage
// entry and a warning is logged. Replaying an id that is
// already recorded leaves the stored operation untouched and only re-applies
// the output stage entries, which the store treats as no-ops.
func (l *Logger) LogOperation(ctx context.Context, entry Entry) (string, error) {
	opType := strings.ToLower(strings.TrimSpace(entry.Type))
	if opType == "" {
		return "", fmt.Errorf("%w: operation type is required", store.ErrInvalidInput)
	}
	stage, err := resolveStage(opType, entry.Stage)
	if err != nil {
		return "", err
	}
	outcome, err := store.ParseOutcome(string(entry.Outcome))
	if err != nil {
		return "", err
	}
	if len(entry.Inputs) == 0 && len(entry.Outputs) == 0 {
		return "", fmt.Errorf("%w: operation %s names no files", store.ErrInvalidInput, opType)
	}

	id := strings.TrimSpace(entry.ID)
	if id == "" {
		id = uuid.NewString()
	}
	ctx = logging.WithOperationID(ctx, id)
	logger := logging.WithContext(ctx, l.logger)

	existing, err := l.store.GetOperation(ctx, id)
	switch {
	case err == nil:
		logger.Debug("operation already recorded", logging.String("operation_type", existing.Type))
		return id, l.stampOutputs(ctx, existing.ID, existing.Type, stage, existing.Outcome, entry)
	case !errors.Is(err, store.ErrNotFound):
		return "", err
	}

	inputIDs, err := l.ensureAll(ctx, entry.Inputs)
	if err != nil {
		return "", fmt.Errorf("register inputs: %w", err)
	}
	outputIDs, err := l.ensureAll(ctx, entry.Outputs)
	if err != nil {
		return "", fmt.Errorf("register outputs: %w", err)
	}

	startedAt := entry.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	record := store.OperationRecord{
		ID:              id,
		Type:            opType,
		ProcessName:     firstNonEmpty(entry.ProcessName, opType),
		InputIDs:        inputIDs,
		OutputIDs:       outputIDs,
		Parameters:      entry.Parameters,
		StartedAt:       startedAt.UTC(),
		DurationSeconds: entry.Duration.Seconds(),
		Outcome:         outcome,
		ErrorMessage:    entry.ErrorMessage,
		User:            l.user,
		Hostname:        l.hostname,
	}
	inserted, err := l.store.AppendOperation(ctx, record)
	if err != nil {
		return "", err
	}
	if inserted {
		logger.Info("operation logged",
			logging.String("operation_type", opType),
			logging.String(logging.FieldStage, string(stage)),
			logging.String("outcome", string(outcome)),
			logging.Int("inputs", len(inputIDs)),
			logging.Int("outputs", len(outputIDs)),
		)
	}
	return id, l.stampOutputs(ctx, id, opType, stage, outcome, entry)
}

// resolveStage returns the explicit stage, or the one implied by opType. An
// empty stage means none is known.
func resolveStage(opType string, override store.Stage) (store.Stage, error) {
	if override != "" {
		return store.ParseStage(string(override))
	}
	stage, _ := StageForType(opType)
	return stage, nil
}

func (l *Logger) ensureAll(ctx context.Context, paths []string) ([]string, error) {
	ids := make([]string, 0, len(paths))
	for _, p := range paths {
		rec, err := l.tracker.Ensure(ctx, p, nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

func (l *Logger) stampOutputs(ctx context.Context, id, opType string, stage store.Stage, outcome store.Outcome, entry Entry) error {
	metadata := maps.Clone(entry.Metadata)
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata[OperationIDKey] = id
	metadata[OperationTypeKey] = opType

	if stage == "" {
		if len(entry.Outputs) > 0 {
			logging.WarnWithContext(logging.WithContext(ctx, l.logger), "operation type implies no stage; outputs left without stage entry", "operation_stage_unknown",
				logging.String("operation_type", opType),
				logging.Int("outputs", len(entry.Outputs)),
				logging.String(logging.FieldErrorHint, "pass --stage (Entry.Stage) to record the outputs' stage"),
				logging.String(logging.FieldImpact, "outputs have no stage transition for this operation"),
			)
		}
		return nil
	}
	status := outcome.StageStatus()
	for _, p := range entry.Outputs {
		if _, err := l.tracker.RegisterOrUpdate(ctx, p, stage, status, metadata); err != nil {
			return fmt.Errorf("record output %s: %w", p, err)
		}
	}
	return nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return firstNonEmpty(os.Getenv("USER"), os.Getenv("USERNAME"))
}

func currentHost() string {
	host, err := os.Hostname()
	if err != nil {
		return ""
	}
	return host
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
