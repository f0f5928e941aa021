package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"pipetrack/internal/config"
	"pipetrack/internal/fileinfo"
	"pipetrack/internal/fileutil"
	"pipetrack/internal/identity"
	"pipetrack/internal/logging"
	"pipetrack/internal/store"
)

// ObservedPathKey is the stage metadata key recording the path a stage saw
// when fallback matching merged it into an existing record.
const ObservedPathKey = "observed_path"

// Tracker registers files and their stage transitions.
type Tracker struct {
	store     *store.Store
	resolver  *identity.Resolver
	logger    *slog.Logger
	checksums bool
	fallback  bool
}

// New constructs a tracker backed by st.
func New(st *store.Store, cfg *config.Config, logger *slog.Logger) *Tracker {
	t := &Tracker{
		store:    st,
		resolver: identity.FromConfig(cfg),
		logger:   logging.NewComponentLogger(logger, "tracker"),
	}
	if cfg != nil {
		t.checksums = cfg.Identity.Checksums
		t.fallback = cfg.Identity.FallbackMatch
	}
	return t
}

// Store exposes the backing record store.
func (t *Tracker) Store() *store.Store {
	return t.store
}

// Resolver exposes the identity resolver used by the tracker.
func (t *Tracker) Resolver() *identity.Resolver {
	return t.resolver
}

// RegisterOrUpdate records stage/status for the file at path and merges
// metadata into its record, creating the record on first sight. The returned
// record reflects the durable merged state.
func (t *Tracker) RegisterOrUpdate(ctx context.Context, path string, stage store.Stage, status store.Status, metadata map[string]string) (*store.FileRecord, error) {
	parsedStage, err := store.ParseStage(string(stage))
	if err != nil {
		return nil, err
	}
	parsedStatus, err := store.ParseStatus(string(status))
	if err != nil {
		return nil, err
	}
	entry := &store.StageEntry{Stage: parsedStage, Status: parsedStatus, Metadata: cloneMap(metadata)}
	return t.register(ctx, path, entry, metadata)
}

// Ensure registers path without recording a stage entry. Existing records
// only get their filesystem facts refreshed and metadata merged.
func (t *Tracker) Ensure(ctx context.Context, path string, metadata map[string]string) (*store.FileRecord, error) {
	return t.register(ctx, path, nil, metadata)
}

// Archive marks the file at path as archived.
func (t *Tracker) Archive(ctx context.Context, path string) (*store.FileRecord, error) {
	return t.RegisterOrUpdate(ctx, path, store.StageArchived, store.StatusCompleted, nil)
}

// Get returns the record for path.
func (t *Tracker) Get(ctx context.Context, path string) (*store.FileRecord, error) {
	return t.resolver.Lookup(ctx, t.store, path)
}

// RecordBestEffort is RegisterOrUpdate for callers that must keep going when
// tracking fails. Failures are logged and reported as a nil record.
func (t *Tracker) RecordBestEffort(ctx context.Context, path string, stage store.Stage, status store.Status, metadata map[string]string) *store.FileRecord {
	rec, err := t.RegisterOrUpdate(ctx, path, stage, status, metadata)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, t.logger), "stage tracking failed", "tracking_failed",
			logging.String(logging.FieldPath, path),
			logging.String(logging.FieldStage, string(stage)),
			logging.String("status", string(status)),
			logging.String("error_kind", store.Kind(err)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "re-run the stage or `pipetrack register` once the store is reachable"),
			logging.String(logging.FieldImpact, "stage transition missing from provenance history"),
		)
		return nil
	}
	return rec
}

func (t *Tracker) register(ctx context.Context, path string, entry *store.StageEntry, metadata map[string]string) (*store.FileRecord, error) {
	id, canonical, err := t.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	displayName := filepath.Base(strings.TrimSpace(path))
	info := fileinfo.Extract(displayName)

	rec := store.FileRecord{
		ID:            id,
		CanonicalPath: canonical,
		Filename:      filepath.Base(canonical),
		Directory:     filepath.Dir(canonical),
		Extension:     strings.ToLower(filepath.Ext(canonical)),
		Metadata:      cloneMap(metadata),
		Hints: store.Hints{
			Participant: info.Participant,
			Session:     info.Session,
			Task:        info.Task,
		},
	}
	if err := t.stat(path, &rec); err != nil {
		return nil, err
	}

	if t.fallback {
		matched, err := t.fallbackTarget(ctx, id, rec.Filename, hintsFor(rec))
		if err != nil {
			return nil, err
		}
		if matched != nil {
			if entry != nil {
				if entry.Metadata == nil {
					entry.Metadata = map[string]string{}
				}
				entry.Metadata[ObservedPathKey] = canonical
			}
			rec.ID = matched.ID
			rec.CanonicalPath = matched.CanonicalPath
			rec.Filename = matched.Filename
			rec.Directory = matched.Directory
		}
	}
	if entry != nil {
		rec.StageHistory = map[store.Stage]store.StageEntry{entry.Stage: *entry}
	}

	merged, err := t.store.Upsert(ctx, rec)
	if err != nil {
		return nil, err
	}

	logCtx := logging.WithFileID(ctx, merged.ID)
	if entry != nil {
		logCtx = logging.WithStage(logCtx, string(entry.Stage))
	}
	logger := logging.WithContext(logCtx, t.logger)
	if entry != nil {
		logger.Info("stage recorded",
			logging.String("status", string(entry.Status)),
			logging.String(logging.FieldPath, merged.CanonicalPath),
		)
	} else {
		logger.Debug("file registered", logging.String(logging.FieldPath, merged.CanonicalPath))
	}
	t.maybeBackup(ctx)
	return merged, nil
}

// stat refreshes filesystem facts. A missing file is registered with
// Exists=false so stages can record outputs before they are written.
func (t *Tracker) stat(path string, rec *store.FileRecord) error {
	target, err := config.ExpandPath(strings.TrimSpace(path))
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			rec.Exists = false
			return nil
		}
		return fmt.Errorf("stat %s: %w", target, err)
	}
	rec.Exists = true
	rec.LastModifiedAt = info.ModTime().UTC()
	if info.IsDir() {
		return nil
	}
	rec.SizeBytes = info.Size()
	if t.checksums {
		sum, err := fileutil.SHA256File(target)
		if err != nil {
			return fmt.Errorf("checksum %s: %w", target, err)
		}
		rec.ContentChecksum = sum
	}
	return nil
}

// fallbackTarget returns the record to merge into when the exact identity
// is unknown but exactly one record matches by hints and filename.
func (t *Tracker) fallbackTarget(ctx context.Context, id, filename string, hints store.Hints) (*store.FileRecord, error) {
	if _, err := t.store.Get(ctx, id); err == nil {
		return nil, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	matches, err := t.store.FindByHints(ctx, hints, filename)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		logging.WarnWithContext(t.logger, "ambiguous fallback match; registering as a new file", "fallback_ambiguous",
			logging.String("filename", filename),
			logging.Int("candidates", len(matches)),
			logging.String(logging.FieldErrorHint, "register with an explicit participant/session/task or the canonical path"),
			logging.String(logging.FieldImpact, "a second record may exist for the same artifact"),
		)
		return nil, nil
	}
}

// FindByPathOrMetadata returns the record for path, or failing that the
// single record whose hints and filename match. Hints left empty are derived
// from the filename. Several candidates yield ErrAmbiguousMatch.
func (t *Tracker) FindByPathOrMetadata(ctx context.Context, path string, hints store.Hints) (*store.FileRecord, error) {
	rec, err := t.resolver.Lookup(ctx, t.store, path)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	canonical, err := t.resolver.Canonicalize(path)
	if err != nil {
		return nil, err
	}
	// Stored filenames come from the canonical path, which may be case-folded.
	filename := filepath.Base(canonical)
	if hints.Participant == "" {
		info := fileinfo.Extract(filepath.Base(strings.TrimSpace(path)))
		hints = store.Hints{Participant: info.Participant, Session: firstSet(hints.Session, info.Session), Task: firstSet(hints.Task, info.Task)}
	}
	matches, err := t.store.FindByHints(ctx, hints, filename)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: no record for %s", store.ErrNotFound, path)
	case 1:
		return matches[0], nil
	default:
		candidates := make([]string, 0, len(matches))
		for _, m := range matches {
			candidates = append(candidates, m.CanonicalPath)
		}
		return nil, fmt.Errorf("%w: %d records match %s: %s", store.ErrAmbiguousMatch, len(matches), filename, strings.Join(candidates, ", "))
	}
}

func (t *Tracker) maybeBackup(ctx context.Context) {
	info, created, err := t.store.MaybeBackup(ctx)
	if err != nil {
		logging.WarnWithContext(t.logger, "cadence backup failed", "backup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run `pipetrack backup create` and check backup_dir permissions"),
			logging.String(logging.FieldImpact, "no fresh snapshot to recover from"),
		)
		return
	}
	if created {
		t.logger.Info("backup written",
			logging.String(logging.FieldEventType, "backup_created"),
			logging.String(logging.FieldPath, info.Path),
		)
	}
}

// hintsFor returns the hints a record would carry after merging metadata.
func hintsFor(rec store.FileRecord) store.Hints {
	return store.Hints{
		Participant: firstSet(rec.Metadata["participant"], rec.Hints.Participant),
		Session:     firstSet(rec.Metadata["session"], rec.Hints.Session),
		Task:        firstSet(rec.Metadata["task"], rec.Hints.Task),
	}
}

func firstSet(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func cloneMap(src map[string]string) map[string]string {
	if src == nil {
		return map[string]string{}
	}
	return maps.Clone(src)
}
