package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alexisbeaulieu97/autoflow/internal/model"
)

// FileName is the name of the JSON report inside the report folder.
const FileName = "report.json"

// WriteJSON writes the final report into dir and returns its path.
func WriteJSON(dir string, report *model.FinalReport) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report folder: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// ReadJSON loads a report written by WriteJSON.
func ReadJSON(path string) (*model.FinalReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report model.FinalReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return &report, nil
}
