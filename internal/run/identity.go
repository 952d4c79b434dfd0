// Package run owns the integrity contract of a collection run: identity,
// derived lifecycle status, the checksum ledger, and the manifest. Everything
// here works off the run directory alone so a run can be audited on any
// machine that has the files.
package run

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"MarketPull/internal/domain/models"
)

const (
	ChecksumFile = "checksums.sha256"
	ManifestFile = "manifest.json"
)

var runIDPattern = regexp.MustCompile(`^\d{8}T\d{6}Z$`)

// NewRunID renders t as a second-resolution UTC run identifier
// (e.g. 20260823T141502Z). Identifiers sort lexicographically by time.
func NewRunID(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// ValidRunID reports whether id matches the run identifier format.
func ValidRunID(id string) bool {
	return runIDPattern.MatchString(id)
}

// Manager creates, opens, and finalizes runs under a fixed root directory.
type Manager struct {
	root string
}

func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// Root returns the runs root directory.
func (m *Manager) Root() string { return m.root }

// Create allocates a new run directory for id. An existing non-empty
// directory is a conflict: runs are never silently reused or overwritten.
// An existing empty directory is adopted, so a crash between mkdir and the
// first artifact does not burn the identifier.
func (m *Manager) Create(id string) (*models.Run, error) {
	if !ValidRunID(id) {
		return nil, fmt.Errorf("invalid run id %q", id)
	}
	dir := filepath.Join(m.root, id)

	entries, err := os.ReadDir(dir)
	switch {
	case err == nil && len(entries) > 0:
		return nil, &models.RunIDConflictError{RunID: id, Dir: dir}
	case err != nil && !os.IsNotExist(err):
		return nil, fmt.Errorf("inspect run dir %s: %w", dir, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir %s: %w", dir, err)
	}
	return &models.Run{ID: id, Dir: dir, CreatedUTC: time.Now().UTC()}, nil
}

// Open returns an existing run by id.
func (m *Manager) Open(id string) (*models.Run, error) {
	if !ValidRunID(id) {
		return nil, fmt.Errorf("invalid run id %q", id)
	}
	dir := filepath.Join(m.root, id)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open run %s: %w", id, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open run %s: %s is not a directory", id, dir)
	}
	return &models.Run{ID: id, Dir: dir, CreatedUTC: info.ModTime().UTC()}, nil
}

// Latest returns the most recent run under the root, or an error if none exist.
func (m *Manager) Latest() (*models.Run, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("list runs in %s: %w", m.root, err)
	}
	latest := ""
	for _, e := range entries {
		if e.IsDir() && ValidRunID(e.Name()) && e.Name() > latest {
			latest = e.Name()
		}
	}
	if latest == "" {
		return nil, fmt.Errorf("no runs found in %s", m.root)
	}
	return m.Open(latest)
}

// Status derives the lifecycle state from the run directory. A run is
// finalized once its checksum ledger exists, collected once a manifest with
// data artifacts exists, and collecting otherwise. Nothing is stored, so
// the answer can never disagree with the files.
func (m *Manager) Status(r *models.Run) models.RunStatus {
	if _, err := os.Stat(filepath.Join(r.Dir, ChecksumFile)); err == nil {
		return models.StatusFinalized
	}
	man, err := LoadManifest(r)
	if err == nil && len(man.Artifacts.Data) > 0 {
		return models.StatusCollected
	}
	return models.StatusCollecting
}

// Finalize seals the run: it validates the manifest, checks every referenced
// artifact exists, writes the checksum ledger, and verifies the ledger it
// just wrote. Finalize is one-way and idempotent; re-finalizing a sealed run
// re-verifies it and returns the stored manifest without rewriting anything.
func (m *Manager) Finalize(r *models.Run) (*models.Manifest, error) {
	man, err := LoadManifest(r)
	if err != nil {
		return nil, &models.RunNotPublishableError{RunID: r.ID, Err: err}
	}
	if err := ValidateManifest(r, man); err != nil {
		return nil, &models.RunNotPublishableError{RunID: r.ID, Err: err}
	}

	if m.Status(r) == models.StatusFinalized {
		if err := VerifyChecksums(r); err != nil {
			return nil, &models.RunNotPublishableError{RunID: r.ID, Err: err}
		}
		return man, nil
	}

	entries, err := ComputeChecksums(r)
	if err != nil {
		return nil, &models.RunNotPublishableError{RunID: r.ID, Err: err}
	}
	if err := ensureCovered(r, man, entries); err != nil {
		return nil, &models.RunNotPublishableError{RunID: r.ID, Err: err}
	}
	if err := WriteChecksums(r, entries); err != nil {
		return nil, &models.RunNotPublishableError{RunID: r.ID, Err: err}
	}
	if err := VerifyChecksums(r); err != nil {
		return nil, &models.RunNotPublishableError{RunID: r.ID, Err: err}
	}
	return man, nil
}

// ensureCovered checks every manifest-referenced artifact appears in the
// computed ledger entries.
func ensureCovered(r *models.Run, man *models.Manifest, entries []models.ChecksumEntry) error {
	have := make(map[string]bool, len(entries))
	for _, e := range entries {
		have[e.Path] = true
	}
	for _, p := range man.Artifacts.All() {
		if !have[p] {
			return &models.MissingArtifactError{RunID: r.ID, Path: p}
		}
	}
	return nil
}

// Verify re-checks a finalized run end to end: manifest validity, artifact
// presence, and checksum agreement.
func (m *Manager) Verify(r *models.Run) error {
	man, err := LoadManifest(r)
	if err != nil {
		return err
	}
	if err := ValidateManifest(r, man); err != nil {
		return err
	}
	if err := VerifyChecksums(r); err != nil {
		return err
	}
	ledger, err := ReadChecksums(r)
	if err != nil {
		return err
	}
	return ensureCovered(r, man, ledger)
}

// IsConflict reports whether err is a run identifier conflict.
func IsConflict(err error) bool {
	var conflict *models.RunIDConflictError
	return errors.As(err, &conflict)
}
