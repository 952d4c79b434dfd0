package repository

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"MarketPull/internal/domain/models"
)

// Fixed artifact schemas. These are bit-exact contracts consumed by
// downstream reporting collaborators; do not reorder.
var (
	barHeader   = []string{"ts", "dt_utc", "open", "high", "low", "close", "volume"}
	tradeHeader = []string{"ts", "dt_utc", "price", "amount", "side", "trade_id"}
	proxyHeader = []string{"ts", "value"}
)

const stageSuffix = ".partial"

// FileStore persists run artifacts as fixed-schema CSV files. Collection
// streams append pages to a staging file that is atomically promoted
// (renamed) once the stream completes, so checksum computation never sees a
// half-written artifact under its final name.
type FileStore struct{}

func NewFileStore() *FileStore { return &FileStore{} }

// StageBars appends a page of bars to the staging file for name and returns
// the staged size in bytes after a durable flush.
func (s *FileStore) StageBars(run *models.Run, name string, bars []models.OHLCVBar) (int64, error) {
	rows := make([][]string, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, []string{
			strconv.FormatInt(b.TS, 10),
			b.DtUTC(),
			formatFloat(b.Open),
			formatFloat(b.High),
			formatFloat(b.Low),
			formatFloat(b.Close),
			formatFloat(b.Volume),
		})
	}
	return s.appendStage(run, name, barHeader, rows)
}

// StageTrades appends a page of trades to the staging file for name.
func (s *FileStore) StageTrades(run *models.Run, name string, trades []models.Trade) (int64, error) {
	rows := make([][]string, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, []string{
			strconv.FormatInt(t.TS, 10),
			t.DtUTC(),
			formatFloat(t.Price),
			formatFloat(t.Amount),
			t.Side,
			t.TradeID,
		})
	}
	return s.appendStage(run, name, tradeHeader, rows)
}

// TruncateStage cuts the staging file back to bytes, discarding any torn
// tail left by a crash after the last durable checkpoint.
func (s *FileStore) TruncateStage(run *models.Run, name string, bytes int64) error {
	path := filepath.Join(run.Dir, name+stageSuffix)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if bytes == 0 {
			return nil
		}
		return fmt.Errorf("stage %s: expected %d bytes, file missing", name, bytes)
	}
	if err := os.Truncate(path, bytes); err != nil {
		return fmt.Errorf("truncate stage %s: %w", name, err)
	}
	return nil
}

// Promote renames the staging file to its final artifact name. The rename is
// atomic; after it the artifact is at rest and eligible for checksumming.
func (s *FileStore) Promote(run *models.Run, name string) (models.Artifact, error) {
	stage := filepath.Join(run.Dir, name+stageSuffix)
	final := filepath.Join(run.Dir, name)
	if err := os.Rename(stage, final); err != nil {
		return models.Artifact{}, fmt.Errorf("promote %s: %w", name, err)
	}
	if err := syncDir(run.Dir); err != nil {
		return models.Artifact{}, err
	}
	info, err := os.Stat(final)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("stat %s: %w", name, err)
	}
	return models.Artifact{Kind: models.ArtifactData, RelativePath: name, ByteSize: info.Size()}, nil
}

// StatArtifact returns the artifact record for an already promoted file.
func (s *FileStore) StatArtifact(run *models.Run, name string) (models.Artifact, error) {
	info, err := os.Stat(filepath.Join(run.Dir, name))
	if err != nil {
		return models.Artifact{}, err
	}
	return models.Artifact{Kind: models.ArtifactData, RelativePath: name, ByteSize: info.Size()}, nil
}

// ReadBars reads a promoted bar artifact.
func (s *FileStore) ReadBars(run *models.Run, name string) ([]models.OHLCVBar, error) {
	return readBarFile(filepath.Join(run.Dir, name))
}

// ReadTrades reads a promoted trade artifact.
func (s *FileStore) ReadTrades(run *models.Run, name string) ([]models.Trade, error) {
	return readTradeFile(filepath.Join(run.Dir, name))
}

// ReadStagedBars reads the staging file for resume (seen-set reload).
func (s *FileStore) ReadStagedBars(run *models.Run, name string) ([]models.OHLCVBar, error) {
	return readBarFile(filepath.Join(run.Dir, name+stageSuffix))
}

// ReadStagedTrades reads the staging file for resume.
func (s *FileStore) ReadStagedTrades(run *models.Run, name string) ([]models.Trade, error) {
	return readTradeFile(filepath.Join(run.Dir, name+stageSuffix))
}

// WriteProxySeries writes a derived series atomically. Missing points keep
// an empty value field rather than being interpolated or dropped.
func (s *FileStore) WriteProxySeries(run *models.Run, name string, pts []models.ProxyPoint) (models.Artifact, error) {
	path := filepath.Join(run.Dir, name)
	err := writeAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(proxyHeader); err != nil {
			return err
		}
		for _, p := range pts {
			val := ""
			if !p.Missing {
				val = formatFloat(p.Value)
			}
			if err := cw.Write([]string{strconv.FormatInt(p.TS, 10), val}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return models.Artifact{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return models.Artifact{}, err
	}
	return models.Artifact{Kind: models.ArtifactData, RelativePath: name, ByteSize: info.Size()}, nil
}

// WriteTable writes a table artifact (relative path, e.g. "tables/summary.csv")
// atomically, creating parent directories as needed.
func (s *FileStore) WriteTable(run *models.Run, rel string, header []string, rows [][]string) (models.Artifact, error) {
	path := filepath.Join(run.Dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return models.Artifact{}, fmt.Errorf("mkdir for %s: %w", rel, err)
	}
	err := writeAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		for _, row := range rows {
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return models.Artifact{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return models.Artifact{}, err
	}
	return models.Artifact{Kind: models.ArtifactTable, RelativePath: rel, ByteSize: info.Size()}, nil
}

func (s *FileStore) appendStage(run *models.Run, name string, header []string, rows [][]string) (int64, error) {
	path := filepath.Join(run.Dir, name+stageSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open stage %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat stage %s: %w", name, err)
	}

	cw := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := cw.Write(header); err != nil {
			return 0, fmt.Errorf("write header %s: %w", name, err)
		}
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return 0, fmt.Errorf("write row %s: %w", name, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush stage %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("sync stage %s: %w", name, err)
	}

	info, err = f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat stage %s: %w", name, err)
	}
	return info.Size(), nil
}

func readBarFile(path string) ([]models.OHLCVBar, error) {
	records, err := readCSV(path, len(barHeader))
	if err != nil {
		return nil, err
	}
	bars := make([]models.OHLCVBar, 0, len(records))
	for _, rec := range records {
		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse ts %q: %w", rec[0], err)
		}
		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			vals[i], err = strconv.ParseFloat(rec[i+2], 64)
			if err != nil {
				return nil, fmt.Errorf("parse %s %q: %w", barHeader[i+2], rec[i+2], err)
			}
		}
		bars = append(bars, models.OHLCVBar{
			TS: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
		})
	}
	return bars, nil
}

func readTradeFile(path string) ([]models.Trade, error) {
	records, err := readCSV(path, len(tradeHeader))
	if err != nil {
		return nil, err
	}
	trades := make([]models.Trade, 0, len(records))
	for _, rec := range records {
		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse ts %q: %w", rec[0], err)
		}
		price, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", rec[2], err)
		}
		amount, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", rec[3], err)
		}
		trades = append(trades, models.Trade{
			TS: ts, Price: price, Amount: amount, Side: rec[4], TradeID: rec[5],
		})
	}
	return trades, nil
}

func readCSV(path string, fields int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = fields
	all, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all[1:], nil // drop header
}

// writeAtomic stages content under a temporary name and renames into place,
// so a crash never exposes a half-written file at the final path.
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return syncDir(filepath.Dir(path))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
