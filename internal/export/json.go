// Package export writes and reads the JSON report of a merge run.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MergeReport is the top-level JSON report written next to the merged tree.
type MergeReport struct {
	RunID      string            `json:"runId"`
	StartedAt  string            `json:"startedAt"`
	FinishedAt string            `json:"finishedAt,omitempty"`
	Engine     string            `json:"engine"`
	FullTFLite bool              `json:"fullTflite"`
	Impulses   []ImpulseExport   `json:"impulses"`
	Steps      []StepExport      `json:"steps"`
	Warnings   []WarningExport   `json:"warnings,omitempty"`
	Collisions []CollisionExport `json:"collisions,omitempty"`
	Archive    string            `json:"archive,omitempty"`
	Published  string            `json:"published,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// ImpulseExport describes one merged impulse.
type ImpulseExport struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
	Suffix   string `json:"suffix,omitempty"`
	// DeployVersion is the deployment version found in the merged variable
	// table, when known.
	DeployVersion string `json:"deployVersion,omitempty"`
}

// StepExport records the outcome of one step for one impulse.
type StepExport struct {
	Step    string `json:"step"`
	Impulse string `json:"impulse,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// WarningExport is a recoverable problem that did not stop the run.
type WarningExport struct {
	Step    string `json:"step"`
	Impulse string `json:"impulse,omitempty"`
	File    string `json:"file,omitempty"`
	Message string `json:"message"`
}

// CollisionExport is a symbol defined more than once in the merged tree.
type CollisionExport struct {
	Name      string   `json:"name"`
	Locations []string `json:"locations"`
}

// WriteReport writes r as indented JSON to path.
func WriteReport(path string, r *MergeReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("export: marshal report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("export: write %s: %w", path, err)
	}
	return nil
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (*MergeReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r MergeReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("export: decode %s: %w", path, err)
	}
	return &r, nil
}
