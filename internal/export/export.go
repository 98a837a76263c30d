// Package export renders query results as CSV or PDF files. Two exports of
// the same result set are byte-identical: rows arrive already ordered by
// question id, the column layout is fixed, and the PDF creation date is
// pinned. Files are written to a temp path and renamed into place, so a
// failed or cancelled export leaves no partial file behind.
package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/config"
	apperrors "github.com/zambia-civic-lab/orderpaper-miner/pkg/errors"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/metrics"
)

// Export formats.
const (
	FormatCSV = "csv"
	FormatPDF = "pdf"
)

// excerptRunes bounds the text column in exports.
const excerptRunes = 100

// Exporter renders result sets into the configured output directory.
type Exporter struct {
	cfg     config.ExportConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates an Exporter. m may be nil.
func New(cfg config.ExportConfig, m *metrics.Metrics) *Exporter {
	if cfg.RowsPerPage <= 0 {
		cfg.RowsPerPage = 24
	}
	return &Exporter{
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "exporter"),
	}
}

// Write renders the questions in the given format to w.
func (e *Exporter) Write(ctx context.Context, w io.Writer, format string, questions []question.Question) error {
	switch format {
	case FormatCSV:
		return e.writeCSV(ctx, w, questions)
	case FormatPDF:
		return e.writePDF(ctx, w, questions)
	default:
		return fmt.Errorf("%w: unknown format %q", apperrors.ErrExportFailed, format)
	}
}

// ExportFile writes the questions into a new file under the output
// directory, atomically. name must not contain path separators.
func (e *Exporter) ExportFile(ctx context.Context, format, name string, questions []question.Question) (string, error) {
	path, err := e.exportFile(ctx, format, name, questions)
	if e.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		e.metrics.ExportsTotal.WithLabelValues(format, status).Inc()
	}
	return path, err
}

func (e *Exporter) exportFile(ctx context.Context, format, name string, questions []question.Question) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("%w: invalid export name %q", apperrors.ErrExportFailed, name)
	}
	if err := os.MkdirAll(e.cfg.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	finalPath := filepath.Join(e.cfg.OutputDir, fmt.Sprintf("%s.%s", name, format))
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp export file: %w", err)
	}
	if err := e.Write(ctx, f, format, questions); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: %v", apperrors.ErrExportFailed, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("syncing export file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing export file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming export file: %w", err)
	}
	e.logger.Info("export written", "path", finalPath, "format", format, "rows", len(questions))
	return finalPath, nil
}
