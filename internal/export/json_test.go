package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReport_ReadReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "merge-report.json")
	want := &MergeReport{
		RunID:    "run-1",
		Engine:   "eon",
		Impulses: []ImpulseExport{{ID: "100", Position: 0}, {ID: "200", Position: 1, Suffix: "_200", DeployVersion: "3"}},
		Steps:    []StepExport{{Step: "ops", Impulse: "200", Status: "complete"}},
		Warnings: []WarningExport{{Step: "yolov5", Impulse: "200", File: "a.h", Message: "missing"}},
	}

	require.NoError(t, WriteReport(path, want))

	got, err := ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWriteReport_OmitsEmptySections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.json")
	require.NoError(t, WriteReport(path, &MergeReport{RunID: "x"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "warnings")
	assert.NotContains(t, string(data), "collisions")
	assert.Contains(t, string(data), `"runId": "x"`)
}

func TestReadReport_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := ReadReport(path)
	assert.Error(t, err)
}
