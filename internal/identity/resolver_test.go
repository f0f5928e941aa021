package identity_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pipetrack/internal/identity"
	"pipetrack/internal/store"
)

func TestResolveIsDeterministicAcrossSpellings(t *testing.T) {
	dir := t.TempDir()
	r := identity.NewResolver(identity.CaseSensitive)

	spellings := []string{
		filepath.Join(dir, "p01", "raw.fif"),
		filepath.Join(dir, "p01", "..", "p01", "raw.fif"),
		filepath.Join(dir, "p01", ".", "raw.fif") + string(filepath.Separator),
		"  " + filepath.Join(dir, "p01", "raw.fif"),
	}
	wantID, wantCanonical, err := r.Resolve(spellings[0])
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	for _, p := range spellings[1:] {
		id, canonical, err := r.Resolve(p)
		if err != nil {
			t.Fatalf("Resolve(%q) failed: %v", p, err)
		}
		if id != wantID || canonical != wantCanonical {
			t.Fatalf("Resolve(%q) = %s %s, want %s %s", p, id, canonical, wantID, wantCanonical)
		}
	}
	if identity.ID(wantCanonical) != wantID {
		t.Fatal("ID must be a pure function of the canonical path")
	}
}

func TestResolveRelativePath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	r := identity.NewResolver(identity.CaseSensitive)

	idRel, _, err := r.Resolve("raw.fif")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	idAbs, _, err := r.Resolve(filepath.Join(dir, "raw.fif"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if idRel != idAbs {
		t.Fatalf("relative and absolute spellings disagree: %s vs %s", idRel, idAbs)
	}
}

func TestCanonicalizeResolvesSymlinkedPrefix(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	link := filepath.Join(dir, "mount")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	r := identity.NewResolver(identity.CaseSensitive)

	viaLink, err := r.Canonicalize(filepath.Join(link, "sub-01", "not-yet.fif"))
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}
	direct, err := r.Canonicalize(filepath.Join(target, "sub-01", "not-yet.fif"))
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}
	if viaLink != direct {
		t.Fatalf("symlinked prefix not resolved: %q vs %q", viaLink, direct)
	}
	if !strings.HasSuffix(direct, filepath.Join("sub-01", "not-yet.fif")) {
		t.Fatalf("missing components dropped: %q", direct)
	}
}

func TestCanonicalizeFoldsCaseWhenInsensitive(t *testing.T) {
	dir := t.TempDir()
	insensitive := identity.NewResolver(identity.CaseInsensitive)
	sensitive := identity.NewResolver(identity.CaseSensitive)

	upper := filepath.Join(dir, "Sub-01", "RAW.fif")
	lower := filepath.Join(dir, "sub-01", "raw.fif")

	a, _, _ := insensitive.Resolve(upper)
	b, _, _ := insensitive.Resolve(lower)
	if a != b {
		t.Fatal("insensitive resolver should fold case")
	}
	c, _, _ := sensitive.Resolve(upper)
	d, _, _ := sensitive.Resolve(lower)
	if c == d {
		t.Fatal("sensitive resolver must keep case distinct")
	}
}

func TestCanonicalizeRejectsInvalidPaths(t *testing.T) {
	r := identity.NewResolver(identity.CaseSensitive)
	for _, p := range []string{"", "   ", "/data/bad\x00name.fif"} {
		if _, err := r.Canonicalize(p); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("Canonicalize(%q) = %v, want ErrInvalidInput", p, err)
		}
	}
}

type fakeGetter map[string]*store.FileRecord

func (f fakeGetter) Get(_ context.Context, id string) (*store.FileRecord, error) {
	rec, ok := f[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

func TestLookupConfirmsCanonicalPath(t *testing.T) {
	dir := t.TempDir()
	r := identity.NewResolver(identity.CaseSensitive)
	path := filepath.Join(dir, "raw.fif")
	id, canonical, err := r.Resolve(path)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	getter := fakeGetter{id: {ID: id, CanonicalPath: canonical}}
	rec, err := r.Lookup(context.Background(), getter, path)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if rec.ID != id {
		t.Fatalf("unexpected record %s", rec.ID)
	}

	getter[id] = &store.FileRecord{ID: id, CanonicalPath: "/elsewhere/raw.fif"}
	if _, err := r.Lookup(context.Background(), getter, path); !errors.Is(err, store.ErrIdentityCollision) {
		t.Fatalf("expected identity collision, got %v", err)
	}

	if _, err := r.Lookup(context.Background(), fakeGetter{}, path); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
