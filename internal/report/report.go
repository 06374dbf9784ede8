package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"

	"github.com/lehigh-university-libraries/autotagger/internal/jobs"
)

// Row is one recognized hit.
type Row struct {
	JobID      string `parquet:"job_id" json:"jobId" yaml:"jobid"`
	AssetID    string `parquet:"asset_id" json:"assetId" yaml:"assetid"`
	Page       int32  `parquet:"page" json:"page" yaml:"page"`
	Success    bool   `parquet:"success" json:"success" yaml:"success"`
	Quiet      bool   `parquet:"quiet" json:"quiet" yaml:"quiet"`
	Error      string `parquet:"error" json:"error,omitempty" yaml:"error,omitempty"`
	DurationMS int64  `parquet:"duration_ms" json:"durationMs" yaml:"durationms"`
}

// Summary describes a finished batch run.
type Summary struct {
	JobID        string     `json:"jobId" yaml:"jobid"`
	Query        string     `json:"query" yaml:"query"`
	State        jobs.State `json:"state" yaml:"state"`
	SuccessCount int64      `json:"successCount" yaml:"successcount"`
	FailedCount  int64      `json:"failedCount" yaml:"failedcount"`
	Failure      string     `json:"failure,omitempty" yaml:"failure,omitempty"`
	CreatedAt    time.Time  `json:"createdAt" yaml:"createdat"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty" yaml:"finishedat,omitempty"`
	Rows         []Row      `json:"rows" yaml:"rows"`
}

// FromJob builds a summary of job and its per-hit outcomes.
func FromJob(job *jobs.Job) Summary {
	snap := job.Snapshot()
	s := Summary{
		JobID:        snap.ID,
		Query:        snap.Query,
		State:        snap.State,
		SuccessCount: snap.SuccessCount,
		FailedCount:  snap.FailedCount,
		Failure:      snap.Failure,
		CreatedAt:    snap.CreatedAt,
		FinishedAt:   snap.FinishedAt,
	}
	for _, o := range job.Outcomes() {
		s.Rows = append(s.Rows, Row{
			JobID:      snap.ID,
			AssetID:    o.AssetID,
			Page:       int32(o.Page),
			Success:    o.Success,
			Quiet:      o.Quiet,
			Error:      o.Error,
			DurationMS: o.Duration.Milliseconds(),
		})
	}
	return s
}

// Write stores s at path. The format follows the extension: .parquet holds
// the rows only, .yaml/.yml and .json hold the whole summary.
func Write(path string, s Summary) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".parquet":
		err = writeParquet(path, s.Rows)
	case ".yaml", ".yml":
		err = writeYAML(path, s)
	case ".json":
		err = writeJSON(path, s)
	default:
		return fmt.Errorf("unsupported report format: %s (supported: .parquet, .yaml, .json)", ext)
	}
	if err != nil {
		return err
	}

	slog.Info("Report written", "path", path, "rows", len(s.Rows))
	return nil
}

func writeParquet(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}
	defer f.Close()

	writer := parquet.NewGenericWriter[Row](f)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return f.Close()
}

func writeYAML(path string, s Summary) error {
	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write YAML file: %w", err)
	}
	return nil
}

func writeJSON(path string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}
	return nil
}
