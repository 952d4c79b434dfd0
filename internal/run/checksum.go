package run

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"MarketPull/internal/domain/models"
)

// ComputeChecksums walks the run directory and digests every regular file
// except the ledger itself and in-flight staging/temp files. Paths are
// relative to the run directory, slash-separated, and sorted, so the ledger
// bytes are identical across machines for identical content.
func ComputeChecksums(r *models.Run) ([]models.ChecksumEntry, error) {
	var entries []models.ChecksumEntry
	err := filepath.WalkDir(r.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(r.Dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if excludedFromLedger(rel) {
			return nil
		}
		sum, err := hashFile(path)
		if err != nil {
			return err
		}
		entries = append(entries, models.ChecksumEntry{SHA256: sum, Path: rel})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("compute checksums for %s: %w", r.ID, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func excludedFromLedger(rel string) bool {
	if rel == ChecksumFile || rel == LockFile {
		return true
	}
	return strings.HasSuffix(rel, ".partial") || strings.HasSuffix(rel, ".tmp")
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteChecksums writes the ledger in the conventional sha256sum layout:
// one "<hex>  <path>" line per artifact, two spaces, LF terminated.
func WriteChecksums(r *models.Run, entries []models.ChecksumEntry) error {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.SHA256)
		b.WriteString("  ")
		b.WriteString(e.Path)
		b.WriteByte('\n')
	}
	path := filepath.Join(r.Dir, ChecksumFile)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", ChecksumFile, err)
	}
	return nil
}

// ReadChecksums parses the ledger back into entries.
func ReadChecksums(r *models.Run) ([]models.ChecksumEntry, error) {
	f, err := os.Open(filepath.Join(r.Dir, ChecksumFile))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ChecksumFile, err)
	}
	defer f.Close()

	var entries []models.ChecksumEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		sum, rel, ok := strings.Cut(line, "  ")
		if !ok || len(sum) != 64 {
			return nil, fmt.Errorf("%s: malformed line %q", ChecksumFile, line)
		}
		entries = append(entries, models.ChecksumEntry{SHA256: sum, Path: rel})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", ChecksumFile, err)
	}
	return entries, nil
}

// VerifyChecksums recomputes every ledgered digest and compares. All
// mismatches are collected before reporting so the caller sees the full
// damage, not just the first file.
func VerifyChecksums(r *models.Run) error {
	entries, err := ReadChecksums(r)
	if err != nil {
		return err
	}
	var mismatched []string
	for _, e := range entries {
		path := filepath.Join(r.Dir, filepath.FromSlash(e.Path))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return &models.MissingArtifactError{RunID: r.ID, Path: e.Path}
		}
		sum, err := hashFile(path)
		if err != nil {
			return fmt.Errorf("verify %s: %w", e.Path, err)
		}
		if sum != e.SHA256 {
			mismatched = append(mismatched, e.Path)
		}
	}
	if len(mismatched) > 0 {
		return &models.ChecksumMismatchError{RunID: r.ID, Paths: mismatched}
	}
	return nil
}
