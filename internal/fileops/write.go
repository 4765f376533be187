// file: internal/fileops/write.go
// version: 1.0.0
// guid: 8f7e6d5c-4b3a-2918-7f6e-5d4c3b2a1908

// Package fileops writes published data files so that readers and
// watchers never observe a partially written file.
package fileops

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// TempSuffix marks in-progress writes. Watchers ignore such files.
const TempSuffix = ".tmp"

// WriteOptions configures WriteFile.
type WriteOptions struct {
	Perm os.FileMode
	// BackupDir receives a copy of a file that is being replaced. Empty
	// disables backups.
	BackupDir string
	// MaxBackups limits the backups kept per file; zero keeps all.
	MaxBackups int
}

// WriteFile replaces path with data. The data goes to a sibling temporary
// file first, is synced and verified against its SHA256, and is then
// renamed over path. It returns the checksum of the written file.
func WriteFile(path string, data []byte, opts WriteOptions) (string, error) {
	perm := opts.Perm
	if perm == 0 {
		perm = 0644
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	if opts.BackupDir != "" {
		if _, err := backup(path, opts.BackupDir, opts.MaxBackups); err != nil {
			return "", err
		}
	}

	tmp := path + TempSuffix
	if err := writeSynced(tmp, data, perm); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}

	want := HashBytes(data)
	if ok, err := VerifyFileIntegrity(tmp, want); err != nil || !ok {
		_ = os.Remove(tmp)
		if err == nil {
			err = fmt.Errorf("checksum mismatch")
		}
		return "", fmt.Errorf("failed to verify %s: %w", filepath.Base(path), err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return want, nil
}

func writeSynced(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// backup copies an existing path into dir and prunes old backups of the
// same file. It returns the backup path, or "" when path does not exist.
func backup(path, dir string, max int) (string, error) {
	src, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open %s for backup: %w", path, err)
	}
	defer src.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	name := fmt.Sprintf("%s.%s.backup", filepath.Base(path), time.Now().Format("20060102_150405.000000000"))
	dst := filepath.Join(dir, name)

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to copy backup: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	if err := pruneBackups(dir, filepath.Base(path), max); err != nil {
		log.Printf("[WARN] failed to prune backups of %s: %v", path, err)
	}
	return dst, nil
}

// Backups lists the backups of the file named base in dir, oldest first.
func Backups(dir, base string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, base+".*.backup"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func pruneBackups(dir, base string, max int) error {
	if max <= 0 {
		return nil
	}
	matches, err := Backups(dir, base)
	if err != nil {
		return err
	}
	for i := 0; i < len(matches)-max; i++ {
		if err := os.Remove(matches[i]); err != nil {
			return err
		}
	}
	return nil
}
