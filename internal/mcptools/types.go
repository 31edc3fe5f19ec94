package mcptools

import "github.com/dusk-indust/impulsemerge/internal/status"

// --- MCP Tool Types for serve-mcp ---
// Merges run in local mode only: the impulse libraries must already be
// extracted under the tmp directory.

// MergeImpulsesInput is the input for the merge_impulses MCP tool.
type MergeImpulsesInput struct {
	ProjectIDs     []string `json:"projectIds" jsonschema:"project ids in merge order; the first one is the base impulse"`
	TmpDirectory   string   `json:"tmpDirectory,omitempty" jsonschema:"directory holding one extracted library per project id (default: server setting)"`
	OutDirectory   string   `json:"outDirectory,omitempty" jsonschema:"directory receiving the merged tree, deploy.zip and the report (default: server setting)"`
	Engine         string   `json:"engine,omitempty" jsonschema:"inference engine the libraries were built for: eon or tflite"`
	FullTFLite     bool     `json:"fullTflite,omitempty" jsonschema:"switch the merged tree to full TensorFlow Lite (engine tflite only)"`
	DriverTemplate string   `json:"driverTemplate,omitempty" jsonschema:"path of a driver template overriding the embedded one"`
}

// MergeImpulsesOutput is the result of the merge_impulses MCP tool.
type MergeImpulsesOutput struct {
	RunID      string   `json:"runId"`
	Status     string   `json:"status"` // "completed" or "failed"
	TargetDir  string   `json:"targetDir,omitempty"`
	Archive    string   `json:"archive,omitempty"`
	Published  string   `json:"published,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Collisions []string `json:"collisions,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// GetMergeStatusInput is the input for the get_merge_status MCP tool.
type GetMergeStatusInput struct {
	OutDirectory string `json:"outDirectory,omitempty" jsonschema:"output directory of a merge run (default: server setting)"`
}

// GetMergeStatusOutput is the result of the get_merge_status MCP tool.
type GetMergeStatusOutput struct {
	Complete bool               `json:"complete"`
	Status   status.MergeStatus `json:"status"`
}

// ReconcileMetadataInput is the input for the reconcile_metadata MCP tool.
type ReconcileMetadataInput struct {
	Source      string `json:"source" jsonschema:"contents of the model_metadata.h being merged in"`
	Destination string `json:"destination" jsonschema:"contents of the model_metadata.h being merged into"`
}

// ReconcileMetadataOutput is the result of the reconcile_metadata MCP tool.
type ReconcileMetadataOutput struct {
	Merged string `json:"merged"`
}
