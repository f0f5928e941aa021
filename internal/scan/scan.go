package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"pipetrack/internal/config"
	"pipetrack/internal/logging"
	"pipetrack/internal/store"
	"pipetrack/internal/tracker"
)

// Options selects the files to register and the stage entry to record.
type Options struct {
	Root    string
	Pattern string
	// Stage is optional; without it files are registered with no stage entry.
	Stage    store.Stage
	Status   store.Status
	Metadata map[string]string
	// Hidden includes dot-directories below Root.
	Hidden bool
}

// FileError records a file that could not be registered.
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Result summarises a scan.
type Result struct {
	Root       string      `json:"root"`
	Pattern    string      `json:"pattern"`
	Matched    int         `json:"matched"`
	Registered int         `json:"registered"`
	Failed     []FileError `json:"failed,omitempty"`
}

// Scanner registers existing files with a bounded worker pool.
type Scanner struct {
	tracker *tracker.Tracker
	logger  *slog.Logger
	workers int
	pattern string
}

// New constructs a scanner using the scan settings in cfg.
func New(tr *tracker.Tracker, cfg *config.Config, logger *slog.Logger) *Scanner {
	s := &Scanner{
		tracker: tr,
		logger:  logging.NewComponentLogger(logger, "scan"),
		workers: 1,
		pattern: "*",
	}
	if cfg != nil {
		if cfg.Scan.Workers > 0 {
			s.workers = cfg.Scan.Workers
		}
		if cfg.Scan.Pattern != "" {
			s.pattern = cfg.Scan.Pattern
		}
	}
	return s
}

// Scan walks opts.Root and registers every matching file.
func (s *Scanner) Scan(ctx context.Context, opts Options) (*Result, error) {
	root := strings.TrimSpace(opts.Root)
	if root == "" {
		return nil, fmt.Errorf("%w: scan root is required", store.ErrInvalidInput)
	}
	pattern := opts.Pattern
	if pattern == "" {
		pattern = s.pattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %v", store.ErrInvalidInput, pattern, err)
	}
	if opts.Stage != "" && opts.Status == "" {
		opts.Status = store.StatusCompleted
	}

	paths, err := collect(ctx, root, pattern, opts.Hidden)
	if err != nil {
		return nil, err
	}
	result := &Result{Root: root, Pattern: pattern, Matched: len(paths)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, path := range paths {
		g.Go(func() error {
			err := s.register(gctx, path, opts)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				result.Registered++
				return nil
			}
			if fatal(err) {
				return err
			}
			result.Failed = append(result.Failed, FileError{Path: path, Error: err.Error()})
			logging.WarnWithContext(s.logger, "scan registration failed", "scan_file_failed",
				logging.String(logging.FieldPath, path),
				logging.Error(err),
				logging.String("error_kind", store.Kind(err)),
				logging.String(logging.FieldErrorHint, "re-run the scan once the file is readable"),
				logging.String(logging.FieldImpact, "file not tracked"),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	s.logger.Info("scan finished",
		logging.String(logging.FieldEventType, "scan_complete"),
		logging.String(logging.FieldPath, root),
		logging.Int("matched", result.Matched),
		logging.Int("registered", result.Registered),
		logging.Int("failed", len(result.Failed)),
	)
	return result, nil
}

func (s *Scanner) register(ctx context.Context, path string, opts Options) error {
	if opts.Stage == "" {
		_, err := s.tracker.Ensure(ctx, path, opts.Metadata)
		return err
	}
	_, err := s.tracker.RegisterOrUpdate(ctx, path, opts.Stage, opts.Status, opts.Metadata)
	return err
}

func collect(ctx context.Context, root, pattern string, hidden bool) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && !hidden && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: scan root %s", store.ErrNotFound, root)
		}
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return paths, nil
}

func fatal(err error) bool {
	return errors.Is(err, store.ErrBusy) || store.IsFatal(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
