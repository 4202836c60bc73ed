package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/VulnRadar/vulnradar/engine/domain"
)

// Write persists the report under dir as a single JSON artifact and
// returns the resolved path. The write is atomic: the report lands in a
// temp file first and is renamed into place, so readers never observe a
// partial document. When name is empty one is derived from the current
// time, unique across concurrent runs.
func Write(rep domain.ConsolidatedReport, dir, name string) (string, error) {
	if name == "" {
		name = fmt.Sprintf("scan_report_%s.json", time.Now().Format("20060102_150405.000000000"))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report: mkdir %s: %v: %w", dir, err, domain.ErrReportWriteFailed)
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: marshal: %v: %w", err, domain.ErrReportWriteFailed)
	}

	tmp, err := os.CreateTemp(dir, ".report-*.json")
	if err != nil {
		return "", fmt.Errorf("report: temp file: %v: %w", err, domain.ErrReportWriteFailed)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("report: write: %v: %w", err, domain.ErrReportWriteFailed)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("report: close: %v: %w", err, domain.ErrReportWriteFailed)
	}

	dst := filepath.Join(dir, name)
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("report: rename to %s: %v: %w", dst, err, domain.ErrReportWriteFailed)
	}
	return dst, nil
}
