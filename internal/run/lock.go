package run

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"MarketPull/internal/domain/models"
)

// LockFile marks the run directory as owned by an in-flight collector. The
// file itself is advisory; ownership is the flock held on it.
const LockFile = "collect.lock"

// AcquireLock takes exclusive ownership of the run directory for the calling
// process. A second collector targeting the same run fails fast with
// RunIDConflict instead of interleaving writes. The flock dies with the
// process, so a crashed collector never blocks a later resume.
func AcquireLock(r *models.Run) (func() error, error) {
	path := filepath.Join(r.Dir, LockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run lock %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, &models.RunIDConflictError{RunID: r.ID, Dir: r.Dir, InFlight: true}
	}

	release := func() error {
		unlockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		closeErr := f.Close()
		_ = os.Remove(path)
		if unlockErr != nil {
			return fmt.Errorf("release run lock %s: %w", path, unlockErr)
		}
		return closeErr
	}
	return release, nil
}
