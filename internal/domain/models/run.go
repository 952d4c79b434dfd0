package models

import "time"

// RunStatus is the lifecycle state of a run. It is derived from the run
// directory contents, never stored: a finalized run is one whose checksum
// ledger exists, a collected run has data artifacts registered, anything
// else is still collecting.
type RunStatus string

const (
	StatusCollecting RunStatus = "collecting"
	StatusCollected  RunStatus = "collected"
	StatusFinalized  RunStatus = "finalized"
)

// Run is one identified collection+derivation cycle rooted at Dir.
type Run struct {
	ID         string
	Dir        string
	CreatedUTC time.Time
}

// Stream names for the two independent collection tasks.
const (
	StreamOHLCV  = "ohlcv"
	StreamTrades = "trades"
)

// Checkpoint is the durable cursor for one collection stream. It is flushed
// after every successfully staged page so an interrupted collection resumes
// without re-fetching or re-persisting completed work. SinceMS/UntilMS pin
// the collection window at first collection, so a resume after a process
// restart completes the original window instead of a freshly computed one.
// StagedBytes is the size of the staging file after the last durable page;
// on resume the stage is truncated back to it, discarding any torn tail.
type Checkpoint struct {
	Stream      string `json:"stream"`
	Cursor      int64  `json:"cursor"`
	SinceMS     int64  `json:"since_ms"`
	UntilMS     int64  `json:"until_ms"`
	Rows        int64  `json:"rows"`
	StagedBytes int64  `json:"staged_bytes"`
	Truncated   bool   `json:"truncated"`
	Done        bool   `json:"done"`
	UpdatedUTC  string `json:"updated_utc"`
}

// ArtifactKind classifies run artifacts for the manifest.
type ArtifactKind string

const (
	ArtifactData   ArtifactKind = "data"
	ArtifactFigure ArtifactKind = "figure"
	ArtifactTable  ArtifactKind = "table"
	ArtifactLog    ArtifactKind = "log"
)

// Artifact is one file produced into the run directory.
type Artifact struct {
	Kind         ArtifactKind
	RelativePath string
	ByteSize     int64
}

// ChecksumEntry is one line of checksums.sha256.
type ChecksumEntry struct {
	SHA256 string
	Path   string
}

// Manifest is the machine-readable provenance record of a run. Field order
// matters: serialization must be byte-identical across rebuilds over
// identical state.
type Manifest struct {
	RunID        string       `json:"run_id"`
	GeneratedUTC string       `json:"generated_utc"`
	Repository   string       `json:"repository"`
	Git          GitInfo      `json:"git"`
	Parameters   Parameters   `json:"parameters"`
	Artifacts    ArtifactSet  `json:"artifacts"`
	Environment  *Environment `json:"environment,omitempty"`
}

// GitInfo pins the code state the run was produced from.
type GitInfo struct {
	Commit        string `json:"commit"`
	RepositoryURL string `json:"repository_url"`
	Dirty         bool   `json:"dirty"`
}

// Environment fingerprints the toolchain and host for reproducibility.
type Environment struct {
	GoVersion string   `json:"go_version"`
	OS        string   `json:"os"`
	Arch      string   `json:"arch"`
	Hostname  string   `json:"hostname"`
	Modules   []string `json:"modules,omitempty"`
}

// Parameters records the declared inputs of each pipeline stage.
type Parameters struct {
	DataCollection *DataCollectionParams `json:"data_collection,omitempty"`
	EDA            *ProxyParams          `json:"eda,omitempty"`
	DataSummary    *SummaryParams        `json:"data_summary,omitempty"`
}

// WindowParams is an explicit UTC collection window.
type WindowParams struct {
	SinceUTC string `json:"since_utc"`
	UntilUTC string `json:"until_utc"`
	Days     int    `json:"days"`
}

// DataCollectionParams records what was collected and under which limits.
// Truncated is always explicit: a max_trades cut is recorded, never silent.
type DataCollectionParams struct {
	Exchange    string       `json:"exchange"`
	Symbol      string       `json:"symbol"`
	Timeframe   string       `json:"timeframe"`
	OHLCVWindow WindowParams `json:"ohlcv_window"`
	Trades      TradesParams `json:"trades"`
}

// TradesParams is the trades leg of the collection parameters.
type TradesParams struct {
	Enabled   bool          `json:"enabled"`
	Window    *WindowParams `json:"window"`
	MaxTrades int64         `json:"max_trades"`
	Rows      int64         `json:"rows"`
	Truncated bool          `json:"truncated"`
}

// ProxyParams records the declared parameters of the proxy derivation stage.
type ProxyParams struct {
	GeneratedUTC        string   `json:"generated_utc"`
	VolWindows          []int    `json:"vol_windows"`
	IntensityBinSeconds int      `json:"intensity_bin_seconds"`
	Series              []string `json:"series"`
}

// SummaryParams records the data summary stage output.
type SummaryParams struct {
	GeneratedUTC string `json:"generated_utc"`
	BarRows      int64  `json:"bar_rows"`
	BarGaps      int64  `json:"bar_gaps"`
	TradeRows    int64  `json:"trade_rows"`
}

// ArtifactSet groups manifest-referenced artifact paths by kind. Slices are
// kept non-nil so the manifest always serializes them as arrays.
type ArtifactSet struct {
	Data    []string `json:"data"`
	Figures []string `json:"figures"`
	Tables  []string `json:"tables"`
	Logs    []string `json:"logs"`
}

// All returns every referenced path, in manifest order.
func (s ArtifactSet) All() []string {
	out := make([]string, 0, len(s.Data)+len(s.Figures)+len(s.Tables)+len(s.Logs))
	out = append(out, s.Data...)
	out = append(out, s.Figures...)
	out = append(out, s.Tables...)
	out = append(out, s.Logs...)
	return out
}
