package repository

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"MarketPull/internal/domain/models"

	json "github.com/goccy/go-json"
)

const checkpointDir = "checkpoints"

// CheckpointStore persists per-stream collection cursors inside the run
// directory. Each save is an atomic replace flushed to disk, so the
// checkpoint on disk always describes a fully persisted page.
type CheckpointStore struct{}

func NewCheckpointStore() *CheckpointStore { return &CheckpointStore{} }

// Load returns the checkpoint for a stream, or nil if none exists yet.
func (s *CheckpointStore) Load(run *models.Run, stream string) (*models.Checkpoint, error) {
	b, err := os.ReadFile(s.path(run, stream))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", stream, err)
	}
	var ckpt models.Checkpoint
	if err := json.Unmarshal(b, &ckpt); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", stream, err)
	}
	return &ckpt, nil
}

// Save durably replaces the checkpoint for ckpt.Stream.
func (s *CheckpointStore) Save(run *models.Run, ckpt *models.Checkpoint) error {
	dir := filepath.Join(run.Dir, checkpointDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir checkpoints: %w", err)
	}
	b, err := json.MarshalIndent(ckpt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s: %w", ckpt.Stream, err)
	}
	return writeAtomic(s.path(run, ckpt.Stream), func(w io.Writer) error {
		_, werr := w.Write(append(b, '\n'))
		return werr
	})
}

func (s *CheckpointStore) path(run *models.Run, stream string) string {
	return filepath.Join(run.Dir, checkpointDir, stream+".json")
}
