package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"pipetrack/internal/config"
	"pipetrack/internal/store"
)

// namespace scopes file ids so they never collide with other UUIDv5 users.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("pipetrack:file"))

// Case modes accepted by NewResolver.
const (
	CaseAuto        = "auto"
	CaseSensitive   = "sensitive"
	CaseInsensitive = "insensitive"
)

// Resolver canonicalizes paths and derives record ids.
type Resolver struct {
	foldCase bool
}

// NewResolver builds a resolver for the given case mode. Auto folds case on
// platforms whose default filesystems are case-insensitive.
func NewResolver(caseMode string) *Resolver {
	fold := false
	switch strings.ToLower(strings.TrimSpace(caseMode)) {
	case CaseInsensitive:
		fold = true
	case CaseSensitive:
	default:
		fold = runtime.GOOS == "darwin" || runtime.GOOS == "windows"
	}
	return &Resolver{foldCase: fold}
}

// FromConfig builds a resolver from the identity section of cfg.
func FromConfig(cfg *config.Config) *Resolver {
	if cfg == nil {
		return NewResolver(CaseAuto)
	}
	return NewResolver(cfg.Identity.CaseMode)
}

// Canonicalize returns the canonical form of path. The file does not have to
// exist; symlinks are resolved on the longest prefix that does.
func (r *Resolver) Canonicalize(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty path", store.ErrInvalidInput)
	}
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("%w: path contains NUL byte", store.ErrInvalidInput)
	}

	expanded, err := config.ExpandPath(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: expand %q: %v", store.ErrInvalidInput, path, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("%w: absolute path for %q: %v", store.ErrInvalidInput, path, err)
	}
	canonical := resolveExistingPrefix(filepath.Clean(abs))
	if r.foldCase {
		canonical = cases.Fold().String(canonical)
	}
	return canonical, nil
}

// resolveExistingPrefix evaluates symlinks on the deepest existing ancestor
// of path and re-appends the components that do not exist yet.
func resolveExistingPrefix(path string) string {
	var missing []string
	current := path
	for {
		if _, err := os.Lstat(current); err == nil {
			break
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}

	resolved, err := filepath.EvalSymlinks(current)
	if err != nil {
		return path
	}
	for i := len(missing) - 1; i >= 0; i-- {
		resolved = filepath.Join(resolved, missing[i])
	}
	return resolved
}

// ID derives the record id for an already canonical path.
func ID(canonical string) string {
	return uuid.NewSHA1(namespace, []byte(canonical)).String()
}

// Resolve canonicalizes path and returns its id alongside the canonical form.
func (r *Resolver) Resolve(path string) (string, string, error) {
	canonical, err := r.Canonicalize(path)
	if err != nil {
		return "", "", err
	}
	return ID(canonical), canonical, nil
}

// Getter fetches records by id.
type Getter interface {
	Get(ctx context.Context, id string) (*store.FileRecord, error)
}

// Lookup resolves path and loads its record. A stored record whose path
// differs from the resolved one is reported as an identity collision instead
// of being returned for the wrong file.
func (r *Resolver) Lookup(ctx context.Context, getter Getter, path string) (*store.FileRecord, error) {
	id, canonical, err := r.Resolve(path)
	if err != nil {
		return nil, err
	}
	rec, err := getter.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, canonical)
		}
		return nil, err
	}
	if rec.CanonicalPath != canonical {
		return nil, fmt.Errorf("%w: id %s is stored for %q, resolved %q", store.ErrIdentityCollision, id, rec.CanonicalPath, canonical)
	}
	return rec, nil
}
