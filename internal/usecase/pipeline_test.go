package usecase

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/repository"
	"MarketPull/internal/run"
)

// Drives a full run through collect, proxies, summary, and finalize, then
// verifies the sealed directory like an external auditor would.
func TestPipelineEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	ex := newFakeExchange()
	c, r := newTestCollector(t, cfg, ex)
	m := run.NewManager(filepath.Dir(r.Dir))

	if err := c.Collect(context.Background(), r); err != nil {
		t.Fatalf("collect: %v", err)
	}

	store := repository.NewFileStore()
	pb := NewProxyBuilder(cfg, store, noopMetrics{}, testLogger(t))
	if err := pb.Build(r); err != nil {
		t.Fatalf("proxies: %v", err)
	}

	sum := NewSummarizer(cfg, store, testLogger(t))
	if err := sum.Build(r); err != nil {
		t.Fatalf("summary: %v", err)
	}

	man, err := m.Finalize(r)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if m.Status(r) != models.StatusFinalized {
		t.Fatalf("run must be finalized")
	}
	if err := m.Verify(r); err != nil {
		t.Fatalf("sealed run must verify: %v", err)
	}

	eda := man.Parameters.EDA
	if eda == nil {
		t.Fatalf("proxy parameters must be recorded")
	}
	wantSeries := []string{"rv_30", "rv_120", "drawdown", "interarrival", "intensity_60s"}
	if len(eda.Series) != len(wantSeries) {
		t.Fatalf("expected series %v, got %v", wantSeries, eda.Series)
	}
	for i, s := range wantSeries {
		if eda.Series[i] != s {
			t.Fatalf("series %d: expected %s, got %s", i, s, eda.Series[i])
		}
	}

	ds := man.Parameters.DataSummary
	if ds == nil || ds.BarRows != 1440 || ds.TradeRows != 8640 {
		t.Fatalf("unexpected summary parameters: %+v", ds)
	}
	if ds.BarGaps != 0 {
		t.Fatalf("synthetic grid has no gaps, got %d", ds.BarGaps)
	}

	if len(man.Artifacts.Tables) != 1 || man.Artifacts.Tables[0] != "tables/summary.csv" {
		t.Fatalf("summary table must be registered: %v", man.Artifacts.Tables)
	}
	if len(man.Artifacts.Logs) != 2 {
		t.Fatalf("both stage logs must be registered: %v", man.Artifacts.Logs)
	}

	// The ledger must cover the manifest-referenced artifacts and skip the
	// ledger itself.
	ledger, err := os.ReadFile(filepath.Join(r.Dir, run.ChecksumFile))
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	text := string(ledger)
	if strings.Contains(text, run.ChecksumFile) {
		t.Fatalf("ledger must not list itself")
	}
	for _, rel := range man.Artifacts.All() {
		if !strings.Contains(text, "  "+rel+"\n") {
			t.Fatalf("ledger missing %s", rel)
		}
	}

	// Proxy artifacts keep warm-up values empty, not zero.
	rv, err := os.ReadFile(filepath.Join(r.Dir, "proxy_rv_30.csv"))
	if err != nil {
		t.Fatalf("read rv series: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(rv)), "\n")
	if lines[0] != "ts,value" {
		t.Fatalf("unexpected proxy header %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], ",") {
		t.Fatalf("warm-up row must have an empty value: %q", lines[1])
	}
}

func TestProxiesRequireCollection(t *testing.T) {
	cfg := testConfig(t)
	_, r := newTestCollector(t, cfg, newFakeExchange())

	pb := NewProxyBuilder(cfg, repository.NewFileStore(), noopMetrics{}, testLogger(t))
	if err := pb.Build(r); err == nil {
		t.Fatalf("proxies before collection must fail")
	}
}
