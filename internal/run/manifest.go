package run

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/pkg/util"

	json "github.com/goccy/go-json"
)

// NewManifest builds the skeleton manifest for a fresh run. Artifact slices
// start empty but non-nil so the serialized form always carries arrays, and
// rebuilding over identical state yields identical bytes.
func NewManifest(r *models.Run, repository string, git models.GitInfo, env *models.Environment) *models.Manifest {
	return &models.Manifest{
		RunID:        r.ID,
		GeneratedUTC: util.ISOUTCNow(),
		Repository:   repository,
		Git:          git,
		Artifacts: models.ArtifactSet{
			Data:    []string{},
			Figures: []string{},
			Tables:  []string{},
			Logs:    []string{},
		},
		Environment: env,
	}
}

// SaveManifest serializes the manifest with stable field order and replaces
// manifest.json atomically.
func SaveManifest(r *models.Run, man *models.Manifest) error {
	b, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	b = append(b, '\n')

	path := filepath.Join(r.Dir, ManifestFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", ManifestFile, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", ManifestFile, err)
	}
	return nil
}

// LoadManifest reads and parses manifest.json.
func LoadManifest(r *models.Run) (*models.Manifest, error) {
	b, err := os.ReadFile(filepath.Join(r.Dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ManifestFile, err)
	}
	var man models.Manifest
	if err := json.Unmarshal(b, &man); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ManifestFile, err)
	}
	return &man, nil
}

// RegisterArtifact appends an artifact path to the manifest set for its kind,
// skipping paths already registered. Registration order is preserved.
func RegisterArtifact(man *models.Manifest, a models.Artifact) {
	var set *[]string
	switch a.Kind {
	case models.ArtifactData:
		set = &man.Artifacts.Data
	case models.ArtifactFigure:
		set = &man.Artifacts.Figures
	case models.ArtifactTable:
		set = &man.Artifacts.Tables
	case models.ArtifactLog:
		set = &man.Artifacts.Logs
	default:
		return
	}
	for _, p := range *set {
		if p == a.RelativePath {
			return
		}
	}
	*set = append(*set, a.RelativePath)
}

// ValidateManifest checks the structural contract and stops at the first
// violation: identifier format, UTC timestamp, at least one data artifact,
// and a backing file for every referenced path.
func ValidateManifest(r *models.Run, man *models.Manifest) error {
	if man.RunID != r.ID {
		return &models.ManifestInvalidError{
			RunID: r.ID, Field: "run_id",
			Reason: fmt.Sprintf("manifest names %q", man.RunID),
		}
	}
	if !ValidRunID(man.RunID) {
		return &models.ManifestInvalidError{
			RunID: r.ID, Field: "run_id",
			Reason: fmt.Sprintf("%q does not match YYYYMMDDTHHMMSSZ", man.RunID),
		}
	}
	if !strings.HasSuffix(man.GeneratedUTC, "Z") {
		return &models.ManifestInvalidError{
			RunID: r.ID, Field: "generated_utc",
			Reason: fmt.Sprintf("%q is not UTC", man.GeneratedUTC),
		}
	}
	if _, err := time.Parse(time.RFC3339, man.GeneratedUTC); err != nil {
		return &models.ManifestInvalidError{
			RunID: r.ID, Field: "generated_utc",
			Reason: fmt.Sprintf("%q is not ISO-8601", man.GeneratedUTC),
		}
	}
	if man.Repository == "" {
		return &models.ManifestInvalidError{RunID: r.ID, Field: "repository", Reason: "empty"}
	}
	if man.Git.Commit == "" {
		return &models.ManifestInvalidError{RunID: r.ID, Field: "git.commit", Reason: "empty"}
	}
	if len(man.Artifacts.Data) == 0 {
		return &models.ManifestInvalidError{
			RunID: r.ID, Field: "artifacts.data",
			Reason: "a run without data artifacts is not publishable",
		}
	}
	for _, rel := range man.Artifacts.All() {
		if rel == "" || strings.HasPrefix(rel, "/") || strings.Contains(rel, "..") {
			return &models.ManifestInvalidError{
				RunID: r.ID, Field: "artifacts",
				Reason: fmt.Sprintf("path %q escapes the run directory", rel),
			}
		}
		if _, err := os.Stat(filepath.Join(r.Dir, filepath.FromSlash(rel))); err != nil {
			return &models.MissingArtifactError{RunID: r.ID, Path: rel}
		}
	}
	return nil
}
