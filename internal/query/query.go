package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"pipetrack/internal/store"
)

// RecentWindow bounds the recent-activity counters in Summary.
const RecentWindow = 24 * time.Hour

// Service runs queries against a record store.
type Service struct {
	store *store.Store
	now   func() time.Time
}

// New constructs a query service.
func New(st *store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

// Search returns the records matching filter ordered by path. Stage and
// status values are validated.
func (s *Service) Search(ctx context.Context, filter store.Filter) ([]*store.FileRecord, error) {
	if filter.Stage != "" {
		stage, err := store.ParseStage(string(filter.Stage))
		if err != nil {
			return nil, err
		}
		filter.Stage = stage
	}
	if filter.CurrentStage != "" {
		stage, err := store.ParseStage(string(filter.CurrentStage))
		if err != nil {
			return nil, err
		}
		filter.CurrentStage = stage
	}
	if filter.Status != "" {
		status, err := store.ParseStatus(string(filter.Status))
		if err != nil {
			return nil, err
		}
		filter.Status = status
	}
	if ext := strings.TrimSpace(filter.Extension); ext != "" && !strings.HasPrefix(ext, ".") {
		filter.Extension = "." + ext
	}
	return s.store.List(ctx, filter)
}

// Summary is the dashboard view of the store.
type Summary struct {
	GeneratedAt time.Time    `json:"generated_at" yaml:"generated_at"`
	Header      store.Header `json:"header" yaml:"header"`
	Stats       store.Stats  `json:"stats" yaml:"stats"`
}

// Summary returns totals and grouped counts. Recent counters cover the last
// RecentWindow.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	now := s.now().UTC()
	header, err := s.store.Header(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.Stats(ctx, now.Add(-RecentWindow))
	if err != nil {
		return nil, err
	}
	return &Summary{GeneratedAt: now, Header: header, Stats: stats}, nil
}

// ParticipantSummary describes the progress of one participant's files.
type ParticipantSummary struct {
	Participant       string              `json:"participant" yaml:"participant"`
	TotalFiles        int                 `json:"total_files" yaml:"total_files"`
	StageDistribution map[store.Stage]int `json:"stage_distribution" yaml:"stage_distribution"`
	Failed            map[store.Stage]int `json:"failed,omitempty" yaml:"failed,omitempty"`
	Files             []*store.FileRecord `json:"files" yaml:"files"`
}

// ParticipantSummary groups a participant's files by current stage and counts
// failed stage slots. An unknown participant yields an empty summary.
func (s *Service) ParticipantSummary(ctx context.Context, participant string) (*ParticipantSummary, error) {
	participant = strings.TrimSpace(participant)
	if participant == "" {
		return nil, fmt.Errorf("%w: participant is required", store.ErrInvalidInput)
	}
	files, err := s.store.List(ctx, store.Filter{Participant: participant})
	if err != nil {
		return nil, err
	}
	summary := &ParticipantSummary{
		Participant:       participant,
		TotalFiles:        len(files),
		StageDistribution: map[store.Stage]int{},
		Failed:            map[store.Stage]int{},
		Files:             files,
	}
	for _, rec := range files {
		summary.StageDistribution[rec.CurrentStage]++
		for _, entry := range rec.StageHistory {
			if entry.Status == store.StatusFailed {
				summary.Failed[entry.Stage]++
			}
		}
	}
	return summary, nil
}

// History returns the stage audit trail of fileID in recording order.
func (s *Service) History(ctx context.Context, fileID string) ([]store.StageEvent, error) {
	if _, err := s.store.Get(ctx, fileID); err != nil {
		return nil, err
	}
	return s.store.StageEvents(ctx, fileID)
}

// Operations returns every operation that read or wrote fileID, oldest first.
func (s *Service) Operations(ctx context.Context, fileID string) ([]*store.OperationRecord, error) {
	if _, err := s.store.Get(ctx, fileID); err != nil {
		return nil, err
	}
	return s.store.OperationsTouching(ctx, fileID)
}

// Inconsistency reports lineage data that cannot be reconciled.
type Inconsistency struct {
	Kind        string `json:"kind" yaml:"kind"`
	FileID      string `json:"file_id" yaml:"file_id"`
	OperationID string `json:"operation_id" yaml:"operation_id"`
	Detail      string `json:"detail" yaml:"detail"`
}

// InconsistencyCycle marks an operation whose input is already on the
// traversal path.
const InconsistencyCycle = "cycle"

// Chain is the ancestry of one file.
type Chain struct {
	FileID          string                   `json:"file_id" yaml:"file_id"`
	Operations      []*store.OperationRecord `json:"operations" yaml:"operations"`
	Inconsistencies []Inconsistency          `json:"inconsistencies,omitempty" yaml:"inconsistencies,omitempty"`
}

// Chain walks from fileID back through the operations that produced it and
// their inputs. Operations are returned oldest first. A cycle stops the walk
// on that branch and is reported as an inconsistency. A file no operation
// produced has an empty chain.
func (s *Service) Chain(ctx context.Context, fileID string) (*Chain, error) {
	if _, err := s.store.Get(ctx, fileID); err != nil {
		return nil, err
	}
	w := &chainWalker{
		store:   s.store,
		onPath:  map[string]bool{},
		done:    map[string]bool{},
		seenOps: map[string]bool{},
		chain:   &Chain{FileID: fileID, Operations: []*store.OperationRecord{}},
	}
	if err := w.visit(ctx, fileID); err != nil {
		return nil, err
	}
	sort.SliceStable(w.chain.Operations, func(i, j int) bool {
		a, b := w.chain.Operations[i], w.chain.Operations[j]
		if a.StartedAt.Equal(b.StartedAt) {
			return a.ID < b.ID
		}
		return a.StartedAt.Before(b.StartedAt)
	})
	return w.chain, nil
}

type chainWalker struct {
	store   *store.Store
	onPath  map[string]bool
	done    map[string]bool
	seenOps map[string]bool
	chain   *Chain
}

func (w *chainWalker) visit(ctx context.Context, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.onPath[fileID] = true
	defer func() {
		w.onPath[fileID] = false
		w.done[fileID] = true
	}()

	ops, err := w.store.OperationsProducing(ctx, fileID)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if w.seenOps[op.ID] {
			continue
		}
		w.seenOps[op.ID] = true
		w.chain.Operations = append(w.chain.Operations, op)
		for _, input := range op.InputIDs {
			switch {
			case w.onPath[input]:
				w.chain.Inconsistencies = append(w.chain.Inconsistencies, Inconsistency{
					Kind:        InconsistencyCycle,
					FileID:      input,
					OperationID: op.ID,
					Detail:      fmt.Sprintf("operation %s consumes %s, which is already downstream of it", op.ID, input),
				})
			case w.done[input]:
			default:
				if err := w.visit(ctx, input); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
