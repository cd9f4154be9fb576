package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/IshaanNene/calsync/internal/types"
)

// Exporter writes stored matches to a secondary sink.
type Exporter interface {
	Export(records []*types.MatchRecord) error
	Close() error
	Name() string
}

// csvColumns is the fixed column order of CSV exports.
var csvColumns = []string{
	"match_id", "date", "time", "home_team", "away_team", "home_score", "away_score",
	"venue", "round", "pool_name", "season", "extraction_method",
}

func csvRow(rec *types.MatchRecord) []string {
	return []string{
		rec.MatchID, rec.Date, types.Deref(rec.Time), rec.HomeTeam, rec.AwayTeam,
		types.Deref(rec.HomeScore), types.Deref(rec.AwayScore), rec.Venue,
		types.Deref(rec.Round), rec.PoolName, rec.Season, rec.ExtractionMethod,
	}
}

// --- JSON Export ---

// JSONExporter buffers records and writes them as a JSON array on Close.
// Records with a repeated match id replace the earlier copy.
type JSONExporter struct {
	path    string
	index   map[string]int
	records []*types.MatchRecord
	mu      sync.Mutex
	logger  *slog.Logger
}

// NewJSONExporter creates a new JSON file exporter.
func NewJSONExporter(outputPath string, logger *slog.Logger) (*JSONExporter, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &JSONExporter{
		path:   outputPath,
		index:  make(map[string]int),
		logger: logger.With("component", "json_export"),
	}, nil
}

func (e *JSONExporter) Name() string { return "json" }

func (e *JSONExporter) Export(records []*types.MatchRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range records {
		if i, ok := e.index[rec.MatchID]; ok {
			e.records[i] = rec
			continue
		}
		e.index[rec.MatchID] = len(e.records)
		e.records = append(e.records, rec)
	}
	e.logger.Debug("records buffered", "count", len(records), "total", len(e.records))
	return nil
}

func (e *JSONExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.Create(e.path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	out := e.records
	if out == nil {
		out = []*types.MatchRecord{}
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}

	e.logger.Info("JSON written", "path", e.path, "matches", len(e.records))
	return nil
}

// --- JSONL Export ---

// JSONLExporter streams one JSON object per record.
type JSONLExporter struct {
	path   string
	file   *os.File
	enc    *json.Encoder
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewJSONLExporter creates a new JSONL file exporter.
func NewJSONLExporter(outputPath string, logger *slog.Logger) (*JSONLExporter, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return &JSONLExporter{
		path:   outputPath,
		file:   f,
		enc:    json.NewEncoder(f),
		logger: logger.With("component", "jsonl_export"),
	}, nil
}

func (e *JSONLExporter) Name() string { return "jsonl" }

func (e *JSONLExporter) Export(records []*types.MatchRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range records {
		if err := e.enc.Encode(rec); err != nil {
			return fmt.Errorf("encode JSONL: %w", err)
		}
		e.count++
	}
	return nil
}

func (e *JSONLExporter) Close() error {
	e.logger.Info("JSONL written", "path", e.path, "matches", e.count)
	return e.file.Close()
}

// --- CSV Export ---

// CSVExporter writes one row per record under a fixed header.
type CSVExporter struct {
	path   string
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewCSVExporter creates a new CSV file exporter and writes the header.
func NewCSVExporter(outputPath string, logger *slog.Logger) (*CSVExporter, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvColumns); err != nil {
		f.Close()
		return nil, fmt.Errorf("write CSV header: %w", err)
	}
	return &CSVExporter{
		path:   outputPath,
		file:   f,
		writer: w,
		logger: logger.With("component", "csv_export"),
	}, nil
}

func (e *CSVExporter) Name() string { return "csv" }

func (e *CSVExporter) Export(records []*types.MatchRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range records {
		if err := e.writer.Write(csvRow(rec)); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
		e.count++
	}
	e.writer.Flush()
	return e.writer.Error()
}

func (e *CSVExporter) Close() error {
	e.logger.Info("CSV written", "path", e.path, "matches", e.count)
	e.writer.Flush()
	return e.file.Close()
}

// NewFileExporter creates the file exporter for an export type.
func NewFileExporter(exportType, outputPath string, logger *slog.Logger) (Exporter, error) {
	switch exportType {
	case "json":
		return NewJSONExporter(outputPath, logger)
	case "jsonl":
		return NewJSONLExporter(outputPath, logger)
	case "csv":
		return NewCSVExporter(outputPath, logger)
	default:
		return nil, fmt.Errorf("unsupported export type: %s", exportType)
	}
}
