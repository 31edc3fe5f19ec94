package mcptools

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/dusk-indust/impulsemerge/internal/merge"
	"github.com/dusk-indust/impulsemerge/internal/orchestrator"
	"github.com/dusk-indust/impulsemerge/internal/status"
	"github.com/dusk-indust/impulsemerge/internal/textedit"
)

// Defaults fill in tool inputs the caller leaves empty.
type Defaults struct {
	TmpDirectory string
	OutDirectory string
	Engine       orchestrator.Engine
}

// MergeService handles MCP tool calls for serve-mcp.
type MergeService struct {
	defaults  Defaults
	publisher orchestrator.Publisher
	logger    *zap.Logger
}

// NewMergeService creates a MergeService. publisher may be nil.
func NewMergeService(defaults Defaults, publisher orchestrator.Publisher, logger *zap.Logger) *MergeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults.Engine == "" {
		defaults.Engine = orchestrator.EngineEON
	}
	return &MergeService{defaults: defaults, publisher: publisher, logger: logger}
}

// MergeImpulses merges already extracted impulse libraries. Invalid input is a
// tool error; a failed run is reported in the output.
func (s *MergeService) MergeImpulses(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input MergeImpulsesInput,
) (*mcp.CallToolResult, MergeImpulsesOutput, error) {
	engine := s.defaults.Engine
	if input.Engine != "" {
		e, err := orchestrator.ParseEngine(input.Engine)
		if err != nil {
			return nil, MergeImpulsesOutput{}, err
		}
		engine = e
	}

	cfg := orchestrator.Config{
		Impulses:       orchestrator.LocalImpulses(orDefault(input.TmpDirectory, s.defaults.TmpDirectory), input.ProjectIDs),
		OutDir:         orDefault(input.OutDirectory, s.defaults.OutDirectory),
		Engine:         engine,
		FullTFLite:     input.FullTFLite,
		DriverTemplate: input.DriverTemplate,
	}
	if err := cfg.Validate(); err != nil {
		return nil, MergeImpulsesOutput{}, err
	}

	opts := []orchestrator.Option{orchestrator.WithLogger(s.logger)}
	if s.publisher != nil {
		opts = append(opts, orchestrator.WithPublisher(s.publisher))
	}
	p := orchestrator.NewPipeline(cfg, opts...)
	defer p.Close()

	res, err := p.Run(ctx)
	if err != nil {
		return nil, MergeImpulsesOutput{
			RunID:   p.Config().RunID,
			Status:  "failed",
			Message: err.Error(),
		}, nil
	}

	out := MergeImpulsesOutput{
		RunID:     res.Report.RunID,
		Status:    "completed",
		TargetDir: res.TargetDir,
		Archive:   res.Archive,
		Published: res.Report.Published,
	}
	for _, w := range res.Report.Warnings {
		out.Warnings = append(out.Warnings, formatWarning(w.Step, w.Impulse, w.File, w.Message))
	}
	for _, c := range res.Report.Collisions {
		out.Collisions = append(out.Collisions, c.Name)
	}
	return nil, out, nil
}

// GetMergeStatus inspects the output directory of a merge run.
func (s *MergeService) GetMergeStatus(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input GetMergeStatusInput,
) (*mcp.CallToolResult, GetMergeStatusOutput, error) {
	dir := orDefault(input.OutDirectory, s.defaults.OutDirectory)
	if dir == "" {
		return nil, GetMergeStatusOutput{}, errors.New("outDirectory is required")
	}
	st, err := status.Inspect(dir)
	if err != nil {
		return nil, GetMergeStatusOutput{}, err
	}
	return nil, GetMergeStatusOutput{Complete: st.Complete(), Status: *st}, nil
}

// ReconcileMetadata merges two model_metadata.h files without touching disk.
func (s *MergeService) ReconcileMetadata(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input ReconcileMetadataInput,
) (*mcp.CallToolResult, ReconcileMetadataOutput, error) {
	if input.Source == "" || input.Destination == "" {
		return nil, ReconcileMetadataOutput{}, errors.New("source and destination are required")
	}
	merged, err := merge.NewReconciler().Reconcile(textedit.Split(input.Source), textedit.Split(input.Destination))
	if err != nil {
		return nil, ReconcileMetadataOutput{}, err
	}
	return nil, ReconcileMetadataOutput{Merged: merged.String()}, nil
}

func formatWarning(step, impulse, file, msg string) string {
	subject := step
	if impulse != "" {
		subject += " [" + impulse + "]"
	}
	if file != "" {
		return fmt.Sprintf("%s %s: %s", subject, file, msg)
	}
	return subject + ": " + msg
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
