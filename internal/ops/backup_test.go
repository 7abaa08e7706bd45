package ops

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func TestBackupRestoreDatabase_RoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	dbPath := filepath.Join(dataDir, "reeve.db")

	files := map[string]string{
		"reeve.db":     "main database bytes",
		"reeve.db-wal": "wal bytes",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dataDir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := BackupDatabase(dbPath, archive); err != nil {
		t.Fatalf("backup failed: %v", err)
	}
	if _, err := os.Stat(archive); err != nil {
		t.Fatalf("archive missing: %v", err)
	}

	restoreDir := filepath.Join(t.TempDir(), "restore")
	if err := RestoreDatabase(archive, restoreDir); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	for name, want := range files {
		b, err := os.ReadFile(filepath.Join(restoreDir, name))
		if err != nil {
			t.Fatalf("read restored %s: %v", name, err)
		}
		if string(b) != want {
			t.Fatalf("restored %s mismatch: want %q got %q", name, want, string(b))
		}
	}
	// No -shm existed, so none should be restored.
	if _, err := os.Stat(filepath.Join(restoreDir, "reeve.db-shm")); !os.IsNotExist(err) {
		t.Fatalf("unexpected shm file after restore")
	}
}

func TestBackupDatabase_MissingDatabase(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := BackupDatabase(filepath.Join(t.TempDir(), "missing.db"), archive); err == nil {
		t.Fatalf("expected backup of missing database to fail")
	}
}

func TestRestoreDatabase_RejectsPathTraversal(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "bad.tar.gz")
	f, err := os.Create(archive)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{
		Name:     "../escape.db",
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len("bad")),
	}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := tw.Write([]byte("bad")); err != nil {
		t.Fatalf("write body: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	if err := RestoreDatabase(archive, filepath.Join(t.TempDir(), "out")); err == nil {
		t.Fatalf("expected restore to reject path traversal archive")
	}
}
