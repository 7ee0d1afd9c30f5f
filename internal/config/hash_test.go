package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLockDryRun(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, minimalYAML)

	report, err := Lock(configPath, true)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if report.Written {
		t.Fatal("report.Written = true, want false in dry-run")
	}
	if len(report.Hash) != 64 {
		t.Fatalf("hash %q is not a hex BLAKE3-256 digest", report.Hash)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ChecksumFile)); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestLockThenLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, minimalYAML)

	report, err := Lock(configPath, false)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if !report.Written {
		t.Fatal("report.Written = false, want true")
	}

	manifest, err := LoadChecksums(tmpDir)
	if err != nil {
		t.Fatalf("LoadChecksums() failed: %v", err)
	}
	if manifest.Hashes[DefaultFile] != report.Hash {
		t.Fatalf("manifest hash = %q, want %q", manifest.Hashes[DefaultFile], report.Hash)
	}

	if _, err := Load(configPath); err != nil {
		t.Fatalf("Load() after lock failed: %v", err)
	}

	if err := os.WriteFile(configPath, []byte(minimalYAML+"  mode: full\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err = Load(configPath)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("Load() after edit error = %v, want ErrChecksumMismatch", err)
	}
}

func TestVerifyChecksumWithoutManifest(t *testing.T) {
	configPath := writeConfig(t, t.TempDir(), minimalYAML)
	if err := VerifyChecksum(configPath); err != nil {
		t.Fatalf("VerifyChecksum() without manifest = %v, want nil", err)
	}
}

func TestVerifyChecksumFileNotInManifest(t *testing.T) {
	tmpDir := t.TempDir()
	other := filepath.Join(tmpDir, "other.yaml")
	if err := os.WriteFile(other, []byte(minimalYAML), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Lock(other, false); err != nil {
		t.Fatal(err)
	}

	configPath := writeConfig(t, tmpDir, minimalYAML)
	if err := VerifyChecksum(configPath); err == nil {
		t.Fatal("expected error for config missing from manifest")
	}

	// Locking a second file keeps the first entry.
	if _, err := Lock(configPath, false); err != nil {
		t.Fatal(err)
	}
	manifest, err := LoadChecksums(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(manifest.Hashes) != 2 {
		t.Fatalf("len(manifest.Hashes) = %d, want 2", len(manifest.Hashes))
	}
}

func TestLoadChecksumsUnsupportedVersion(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, ChecksumFile), []byte("version: 2\nhashes: {}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadChecksums(tmpDir); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}
