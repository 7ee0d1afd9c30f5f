package workdir

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFSManagerResolve(t *testing.T) {
	base := t.TempDir()
	mgr, err := NewFSManager(base)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	tests := []struct {
		in   string
		want string
	}{
		{"", base},
		{".", base},
		{"s", filepath.Join(base, "s")},
		{"s/tools/../lib", filepath.Join(base, "s", "lib")},
	}
	for _, tt := range tests {
		got, err := mgr.Resolve(tt.in)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	abs := filepath.Join(t.TempDir(), "elsewhere")
	got, err := mgr.Resolve(abs)
	if err != nil || got != abs {
		t.Fatalf("Resolve(abs) = %q, %v; want %q", got, err, abs)
	}
}

func TestNewFSManagerRejectsEmpty(t *testing.T) {
	if _, err := NewFSManager("  "); err == nil {
		t.Fatal("expected error for empty build directory")
	}
}

func TestFSManagerExists(t *testing.T) {
	base := t.TempDir()
	mgr, err := NewFSManager(base)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	ctx := context.Background()

	missing := filepath.Join(base, "missing")
	ok, err := mgr.Exists(ctx, missing)
	if err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v; want false, nil", ok, err)
	}

	if err := mgr.Ensure(ctx, missing); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	ok, err = mgr.Exists(ctx, missing)
	if err != nil || !ok {
		t.Fatalf("Exists(created) = %v, %v; want true, nil", ok, err)
	}

	file := filepath.Join(base, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	ok, err = mgr.Exists(ctx, file)
	if err != nil || ok {
		t.Fatalf("Exists(file) = %v, %v; want false, nil", ok, err)
	}
}

func TestFSManagerRemoveReadOnlyTree(t *testing.T) {
	base := t.TempDir()
	mgr, err := NewFSManager(base)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	ctx := context.Background()

	tree := filepath.Join(base, "s", "src")
	if err := os.MkdirAll(tree, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	file := filepath.Join(tree, "main.cs")
	if err := os.WriteFile(file, []byte("class A {}"), 0o444); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.Chmod(tree, 0o555); err != nil {
		t.Fatalf("Chmod() error = %v", err)
	}

	if err := mgr.Remove(ctx, filepath.Join(base, "s")); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "s")); !os.IsNotExist(err) {
		t.Fatalf("tree should be gone, err = %v", err)
	}
}

func TestFSManagerRemoveMissingIsNoop(t *testing.T) {
	base := t.TempDir()
	mgr, err := NewFSManager(base)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	if err := mgr.Remove(context.Background(), filepath.Join(base, "nope")); err != nil {
		t.Fatalf("Remove(missing) error = %v", err)
	}
}

func TestValidateRemovable(t *testing.T) {
	for _, p := range []string{"", "relative/dir", string(filepath.Separator)} {
		if err := validateRemovable(p); err == nil {
			t.Fatalf("validateRemovable(%q) expected error", p)
		}
	}
	if err := validateRemovable(filepath.Join(t.TempDir(), "x")); err != nil {
		t.Fatalf("validateRemovable(tmp) error = %v", err)
	}
}

func TestFSManagerHonoursCancelledContext(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := mgr.Exists(ctx, mgr.BaseDir()); err == nil {
		t.Fatal("Exists() expected context error")
	}
	if err := mgr.Remove(ctx, mgr.BaseDir()); err == nil {
		t.Fatal("Remove() expected context error")
	}
}
