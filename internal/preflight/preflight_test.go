package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pipetrack/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckLedgerFile(t *testing.T) {
	dir := t.TempDir()
	if r := CheckLedgerFile("ledger", filepath.Join(dir, "copy_results.json")); !r.Passed || !strings.Contains(r.Detail, "not present") {
		t.Fatalf("missing ledger should pass: %+v", r)
	}
	if r := CheckLedgerFile("ledger", dir); r.Passed {
		t.Fatal("directory should not pass as ledger file")
	}
}

func TestCheckStore_Fresh(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	result := CheckStore(context.Background(), cfg)
	if !result.Passed {
		t.Fatalf("expected fresh store to pass, got: %s", result.Detail)
	}
}

func TestCheckStore_Corrupt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteText(t, cfg.Paths.StorePath, strings.Repeat("garbage ", 1024))
	result := CheckStore(context.Background(), cfg)
	if result.Passed {
		t.Fatal("expected corrupt store to fail")
	}
	if !strings.Contains(result.Detail, "corrupt") {
		t.Fatalf("expected corrupt classification, got: %s", result.Detail)
	}
}

func TestRunAll(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.MkdirAll(cfg.Paths.ProjectRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	results := RunAll(context.Background(), cfg)
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if !AllPassed(results) {
		for _, r := range results {
			t.Logf("%s: passed=%v %s", r.Name, r.Passed, r.Detail)
		}
		t.Fatal("expected all checks to pass")
	}
	if RunAll(context.Background(), nil) != nil {
		t.Fatal("expected nil results for nil config")
	}
}
