package run

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"MarketPull/internal/domain/models"
)

func newTestRun(t *testing.T) (*Manager, *models.Run) {
	t.Helper()
	m := NewManager(t.TempDir())
	r, err := m.Create(NewRunID(time.Date(2026, 8, 23, 14, 15, 2, 0, time.UTC)))
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return m, r
}

func writeArtifact(t *testing.T, r *models.Run, rel, content string) {
	t.Helper()
	path := filepath.Join(r.Dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func seedManifest(t *testing.T, r *models.Run) *models.Manifest {
	t.Helper()
	writeArtifact(t, r, "ohlcv_binance_BTCUSDT_1m.csv", "ts,dt_utc,open,high,low,close,volume\n")
	man := NewManifest(r, "MarketPull", models.GitInfo{Commit: "abc123"}, nil)
	RegisterArtifact(man, models.Artifact{Kind: models.ArtifactData, RelativePath: "ohlcv_binance_BTCUSDT_1m.csv"})
	if err := SaveManifest(r, man); err != nil {
		t.Fatalf("save manifest: %v", err)
	}
	return man
}

func TestRunIDFormat(t *testing.T) {
	id := NewRunID(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if id != "20260101T000000Z" {
		t.Fatalf("unexpected run id %q", id)
	}
	if !ValidRunID(id) {
		t.Fatalf("generated id must validate")
	}
	for _, bad := range []string{"", "2026-01-01T000000Z", "20260101T000000", "20260101t000000z"} {
		if ValidRunID(bad) {
			t.Fatalf("%q should not validate", bad)
		}
	}
}

func TestCreateConflictsOnNonEmptyDir(t *testing.T) {
	m, r := newTestRun(t)
	writeArtifact(t, r, "ohlcv.csv", "data")

	_, err := m.Create(r.ID)
	var conflict *models.RunIDConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected RunIDConflictError, got %v", err)
	}
	if conflict.RunID != r.ID {
		t.Fatalf("conflict names wrong run: %s", conflict.RunID)
	}
}

func TestCreateAdoptsEmptyDir(t *testing.T) {
	m, r := newTestRun(t)
	again, err := m.Create(r.ID)
	if err != nil {
		t.Fatalf("empty dir should be adopted: %v", err)
	}
	if again.Dir != r.Dir {
		t.Fatalf("expected same dir, got %s", again.Dir)
	}
}

func TestAcquireLockIsExclusive(t *testing.T) {
	_, r := newTestRun(t)

	unlock, err := AcquireLock(r)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	_, err = AcquireLock(r)
	var conflict *models.RunIDConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second owner must conflict, got %v", err)
	}
	if conflict.RunID != r.ID || !conflict.InFlight {
		t.Fatalf("conflict must name the in-flight run: %+v", conflict)
	}

	if err := unlock(); err != nil {
		t.Fatalf("release: %v", err)
	}
	unlock2, err := AcquireLock(r)
	if err != nil {
		t.Fatalf("released run must be lockable again: %v", err)
	}
	if err := unlock2(); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestChecksumLedgerRoundTrip(t *testing.T) {
	_, r := newTestRun(t)
	writeArtifact(t, r, "a.csv", "alpha\n")
	writeArtifact(t, r, "tables/summary.csv", "beta\n")
	writeArtifact(t, r, "trades.partial", "in-flight\n")
	writeArtifact(t, r, LockFile, "")

	entries, err := ComputeChecksums(r)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("staging and lock files must be excluded, got %d entries", len(entries))
	}
	if entries[0].Path != "a.csv" || entries[1].Path != "tables/summary.csv" {
		t.Fatalf("entries must be path-sorted: %+v", entries)
	}
	if err := WriteChecksums(r, entries); err != nil {
		t.Fatalf("write: %v", err)
	}

	back, err := ReadChecksums(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(back) != len(entries) {
		t.Fatalf("round trip lost entries")
	}
	for i := range back {
		if back[i] != entries[i] {
			t.Fatalf("entry %d changed: %+v vs %+v", i, back[i], entries[i])
		}
	}
	if err := VerifyChecksums(r); err != nil {
		t.Fatalf("untouched run must verify: %v", err)
	}
}

func TestVerifyDetectsFlippedByte(t *testing.T) {
	_, r := newTestRun(t)
	writeArtifact(t, r, "a.csv", "alpha\n")
	writeArtifact(t, r, "b.csv", "beta\n")

	entries, err := ComputeChecksums(r)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if err := WriteChecksums(r, entries); err != nil {
		t.Fatalf("write: %v", err)
	}

	writeArtifact(t, r, "b.csv", "betA\n")

	err = VerifyChecksums(r)
	var mismatch *models.ChecksumMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ChecksumMismatchError, got %v", err)
	}
	if len(mismatch.Paths) != 1 || mismatch.Paths[0] != "b.csv" {
		t.Fatalf("mismatch must name the damaged file: %+v", mismatch.Paths)
	}
}

func TestVerifyDetectsMissingArtifact(t *testing.T) {
	_, r := newTestRun(t)
	writeArtifact(t, r, "a.csv", "alpha\n")
	entries, _ := ComputeChecksums(r)
	if err := WriteChecksums(r, entries); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Remove(filepath.Join(r.Dir, "a.csv")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	var missing *models.MissingArtifactError
	if err := VerifyChecksums(r); !errors.As(err, &missing) {
		t.Fatalf("expected MissingArtifactError, got %v", err)
	}
}

func TestManifestSerializationIsStable(t *testing.T) {
	_, r := newTestRun(t)
	man := seedManifest(t, r)

	first, err := os.ReadFile(filepath.Join(r.Dir, ManifestFile))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if err := SaveManifest(r, man); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	second, err := os.ReadFile(filepath.Join(r.Dir, ManifestFile))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("serialization over identical state must be byte-identical")
	}
}

func TestValidateManifestRejectsEmptyData(t *testing.T) {
	_, r := newTestRun(t)
	man := NewManifest(r, "MarketPull", models.GitInfo{Commit: "abc123"}, nil)

	err := ValidateManifest(r, man)
	var invalid *models.ManifestInvalidError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ManifestInvalidError, got %v", err)
	}
	if invalid.Field != "artifacts.data" {
		t.Fatalf("expected artifacts.data violation, got %s", invalid.Field)
	}
}

func TestValidateManifestRejectsDanglingPath(t *testing.T) {
	_, r := newTestRun(t)
	man := NewManifest(r, "MarketPull", models.GitInfo{Commit: "abc123"}, nil)
	RegisterArtifact(man, models.Artifact{Kind: models.ArtifactData, RelativePath: "ghost.csv"})

	var missing *models.MissingArtifactError
	if err := ValidateManifest(r, man); !errors.As(err, &missing) {
		t.Fatalf("expected MissingArtifactError, got %v", err)
	}
	if missing.Path != "ghost.csv" {
		t.Fatalf("wrong path: %s", missing.Path)
	}
}

func TestFinalizeSealsAndIsIdempotent(t *testing.T) {
	m, r := newTestRun(t)
	seedManifest(t, r)

	if got := m.Status(r); got != models.StatusCollected {
		t.Fatalf("expected collected before finalize, got %s", got)
	}

	man, err := m.Finalize(r)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if got := m.Status(r); got != models.StatusFinalized {
		t.Fatalf("expected finalized, got %s", got)
	}

	ledger, err := os.ReadFile(filepath.Join(r.Dir, ChecksumFile))
	if err != nil {
		t.Fatalf("ledger must exist: %v", err)
	}

	again, err := m.Finalize(r)
	if err != nil {
		t.Fatalf("re-finalize must be idempotent: %v", err)
	}
	if again.RunID != man.RunID {
		t.Fatalf("re-finalize returned a different manifest")
	}
	ledgerAgain, _ := os.ReadFile(filepath.Join(r.Dir, ChecksumFile))
	if string(ledger) != string(ledgerAgain) {
		t.Fatalf("re-finalize must not rewrite the ledger")
	}
}

func TestFinalizeRefusesTamperedRun(t *testing.T) {
	m, r := newTestRun(t)
	seedManifest(t, r)
	if _, err := m.Finalize(r); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	writeArtifact(t, r, "ohlcv_binance_BTCUSDT_1m.csv", "tampered\n")

	_, err := m.Finalize(r)
	var blocked *models.RunNotPublishableError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected RunNotPublishableError, got %v", err)
	}
	var mismatch *models.ChecksumMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("cause must be the checksum mismatch, got %v", err)
	}
}

func TestStatusDerivedFromDirectory(t *testing.T) {
	m, r := newTestRun(t)
	if got := m.Status(r); got != models.StatusCollecting {
		t.Fatalf("fresh run must be collecting, got %s", got)
	}
}

func TestLatestPicksNewestRun(t *testing.T) {
	m := NewManager(t.TempDir())
	for _, id := range []string{"20260101T000000Z", "20260301T000000Z", "20260201T000000Z"} {
		if _, err := m.Create(id); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	r, err := m.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if r.ID != "20260301T000000Z" {
		t.Fatalf("expected newest run, got %s", r.ID)
	}
}
