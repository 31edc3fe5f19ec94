package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dusk-indust/impulsemerge/internal/archive"
	"github.com/dusk-indust/impulsemerge/internal/export"
	"github.com/dusk-indust/impulsemerge/internal/merge"
	"github.com/dusk-indust/impulsemerge/internal/symbols"
	"github.com/dusk-indust/impulsemerge/internal/templatedata"
	"github.com/dusk-indust/impulsemerge/internal/textedit"
)

// Compile-time interface check.
var _ Runner = (*Pipeline)(nil)

// Publisher uploads the merged archive and returns where it can be fetched.
type Publisher interface {
	Publish(ctx context.Context, runID, path string) (string, error)
}

// Result is the outcome of a successful run.
type Result struct {
	Report    *export.MergeReport
	TargetDir string
	Archive   string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithPublisher uploads the archive at the end of the run.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) {
		p.publisher = pub
	}
}

// WithReconciler replaces the metadata reconciler and its policy table.
func WithReconciler(r *merge.Reconciler) Option {
	return func(p *Pipeline) {
		p.reconciler = r
	}
}

// Pipeline merges the configured impulse trees into one target tree. Impulses
// are folded into the target one at a time in configuration order; the base
// impulse is copied and never suffixed. Non-base impulse trees are modified
// in place.
type Pipeline struct {
	cfg        Config
	logger     *zap.Logger
	progress   *ProgressReporter
	reconciler *merge.Reconciler
	publisher  Publisher
	extractor  *symbols.Extractor

	report   *export.MergeReport
	baseVars textedit.Lines
	// yoloFor is the impulse whose suffix the result-struct categories carry.
	yoloFor string
}

// NewPipeline creates a Pipeline for cfg.
func NewPipeline(cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		logger:     zap.NewNop(),
		progress:   NewProgressReporter(),
		reconciler: merge.NewReconciler(),
		extractor:  symbols.NewExtractor(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cfg.RunID == "" {
		p.cfg.RunID = uuid.NewString()
	}
	return p
}

// Config returns the effective configuration, including the generated run id.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Progress returns a channel that emits progress events.
func (p *Pipeline) Progress() <-chan ProgressEvent {
	return p.progress.Subscribe()
}

// Close shuts down the progress reporter.
func (p *Pipeline) Close() {
	p.progress.Close()
}

// Run executes the merge. A fatal error stops the run and leaves the
// partially written target in place; the report is still written when the
// output directory is known.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	p.report = &export.MergeReport{
		RunID:      p.cfg.RunID,
		StartedAt:  time.Now().UTC().Format(time.RFC3339),
		Engine:     string(p.cfg.Engine),
		FullTFLite: p.cfg.FullTFLite,
	}
	for _, imp := range p.cfg.Impulses {
		ie := export.ImpulseExport{ID: imp.ID, Position: imp.Position}
		if imp.Position > 0 {
			ie.Suffix = merge.Suffix(imp.ID)
		}
		p.report.Impulses = append(p.report.Impulses, ie)
	}

	log := p.logger.With(zap.String("run_id", p.cfg.RunID))
	log.Info("merge started", zap.Strings("impulses", p.cfg.IDs()), zap.String("engine", string(p.cfg.Engine)))

	runErr := p.run(ctx)
	p.report.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	if runErr != nil {
		p.report.Error = runErr.Error()
	}

	if p.cfg.OutDir != "" {
		if err := export.WriteReport(p.cfg.ReportPath(), p.report); err != nil {
			log.Warn("write report", zap.Error(err))
		}
	}
	if runErr != nil {
		log.Error("merge failed", zap.Error(runErr))
		return nil, runErr
	}

	log.Info("merge finished",
		zap.String("archive", p.cfg.ArchivePath()),
		zap.Int("warnings", len(p.report.Warnings)),
		zap.Int("collisions", len(p.report.Collisions)))
	return &Result{Report: p.report, TargetDir: p.cfg.TargetDir(), Archive: p.cfg.ArchivePath()}, nil
}

func (p *Pipeline) run(ctx context.Context) error {
	if err := p.cfg.Validate(); err != nil {
		return err
	}
	if err := p.do(ctx, StepPreflight, "", p.preflight); err != nil {
		return err
	}
	if err := p.do(ctx, StepCopyBase, p.cfg.Base().ID, p.copyBase); err != nil {
		return err
	}

	for _, imp := range p.cfg.Impulses[1:] {
		if err := p.foldImpulse(ctx, imp); err != nil {
			return err
		}
	}

	if p.cfg.FullTFLite {
		if err := p.do(ctx, StepFullTFLite, "", p.fullTFLite); err != nil {
			return err
		}
	} else {
		p.skip(StepFullTFLite, "")
	}

	steps := []struct {
		step Step
		fn   func() error
	}{
		{StepTemplate, p.generateDriver},
		{StepAudit, p.audit},
		{StepArchive, p.writeArchive},
	}
	for _, s := range steps {
		if err := p.do(ctx, s.step, "", s.fn); err != nil {
			return err
		}
	}

	if p.publisher == nil {
		p.skip(StepPublish, "")
		return nil
	}
	return p.do(ctx, StepPublish, "", func() error {
		url, err := p.publisher.Publish(ctx, p.cfg.RunID, p.cfg.ArchivePath())
		if err != nil {
			return err
		}
		p.report.Published = url
		return nil
	})
}

// preflight runs the version gate for every impulse against the base before
// anything is written.
func (p *Pipeline) preflight() error {
	base := p.cfg.Base()
	baseMeta, err := textedit.ReadFile(base.Path(PathMetadata))
	if err != nil {
		return fmt.Errorf("pipeline: read base metadata: %w", err)
	}
	p.baseVars, err = textedit.ReadFile(base.Path(PathVariables))
	if err != nil {
		return fmt.Errorf("pipeline: read base variables: %w", err)
	}

	for _, imp := range p.cfg.Impulses[1:] {
		meta, err := textedit.ReadFile(imp.Path(PathMetadata))
		if err != nil {
			return fmt.Errorf("pipeline: read metadata of impulse %s: %w", imp.ID, err)
		}
		if err := merge.CheckVersion(meta, baseMeta); err != nil {
			return fmt.Errorf("pipeline: impulse %s: %w", imp.ID, err)
		}
	}
	return nil
}

func (p *Pipeline) copyBase() error {
	target := p.cfg.TargetDir()
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("pipeline: clear %s: %w", target, err)
	}
	if err := archive.CopyTree(p.cfg.Base().Root, target); err != nil {
		return fmt.Errorf("pipeline: copy base impulse: %w", err)
	}
	return nil
}

func (p *Pipeline) generateDriver() error {
	tmpl, err := p.driverTemplate()
	if err != nil {
		return fmt.Errorf("pipeline: load driver template: %w", err)
	}
	vars, err := textedit.ReadFile(p.targetPath(PathVariables))
	if err != nil {
		return fmt.Errorf("pipeline: read merged variables: %w", err)
	}

	versions := merge.ScanImpulseVersions(vars)
	for i := range p.report.Impulses {
		p.report.Impulses[i].DeployVersion = versions[p.report.Impulses[i].ID]
	}

	out, err := merge.GenerateDriver(tmpl, p.cfg.IDs(), versions)
	if err != nil {
		return fmt.Errorf("pipeline: generate driver: %w", err)
	}

	path := p.targetPath(PathDriver)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return textedit.WriteFile(path, out)
}

func (p *Pipeline) driverTemplate() (textedit.Lines, error) {
	if p.cfg.DriverTemplate != "" {
		return textedit.ReadFile(p.cfg.DriverTemplate)
	}
	return templatedata.Driver()
}

func (p *Pipeline) audit() error {
	collisions, err := CheckCollisions(p.cfg.TargetDir(), p.extractor)
	if err != nil {
		p.warn(StepAudit, "", "", "symbol audit failed: "+err.Error())
		return nil
	}
	for _, c := range collisions {
		p.report.Collisions = append(p.report.Collisions, toCollisionExport(c))
		p.warn(StepAudit, "", "", "duplicate definition: "+c.String())
	}
	return nil
}

func (p *Pipeline) writeArchive() error {
	if err := archive.ZipDir(p.cfg.TargetDir(), p.cfg.ArchivePath()); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	p.report.Archive = p.cfg.ArchivePath()
	return nil
}

// do runs one step, records its outcome and emits progress.
func (p *Pipeline) do(ctx context.Context, step Step, impulse string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.progress.Emit(ProgressEvent{Step: step, Impulse: impulse, Status: ProgressWorking})
	p.logger.Debug("step started", zap.String("step", step.String()), zap.String("impulse", impulse))

	if err := fn(); err != nil {
		p.record(step, impulse, ProgressFailed, err.Error())
		p.progress.Emit(ProgressEvent{Step: step, Impulse: impulse, Status: ProgressFailed, Message: err.Error()})
		return err
	}
	p.record(step, impulse, ProgressComplete, "")
	p.progress.Emit(ProgressEvent{Step: step, Impulse: impulse, Status: ProgressComplete})
	return nil
}

func (p *Pipeline) skip(step Step, impulse string) {
	p.record(step, impulse, ProgressSkipped, "")
	p.progress.Emit(ProgressEvent{Step: step, Impulse: impulse, Status: ProgressSkipped})
}

func (p *Pipeline) record(step Step, impulse string, status ProgressStatus, msg string) {
	p.report.Steps = append(p.report.Steps, export.StepExport{
		Step:    step.String(),
		Impulse: impulse,
		Status:  string(status),
		Message: msg,
	})
}

// warn records a recoverable problem. The run continues.
func (p *Pipeline) warn(step Step, impulse, file, msg string) {
	p.logger.Warn(msg,
		zap.String("step", step.String()),
		zap.String("impulse", impulse),
		zap.String("file", file))
	p.report.Warnings = append(p.report.Warnings, export.WarningExport{
		Step:    step.String(),
		Impulse: impulse,
		File:    file,
		Message: msg,
	})
	p.progress.Emit(ProgressEvent{Step: step, Impulse: impulse, Status: ProgressWarning, Message: msg})
}

// suffixFile applies patterns to the file at path in place. Failures are
// recorded as warnings and reported as false.
func (p *Pipeline) suffixFile(step Step, impulse, path string, patterns []merge.IdentifierPattern, suffix string) bool {
	err := textedit.EditFile(path, func(l textedit.Lines) (textedit.Lines, error) {
		return merge.SuffixLines(l, patterns, suffix), nil
	})
	switch {
	case errors.Is(err, fs.ErrNotExist):
		p.warn(step, impulse, path, "file not found, skipped")
		return false
	case err != nil:
		p.warn(step, impulse, path, err.Error())
		return false
	}
	return true
}

func (p *Pipeline) targetPath(rel string) string {
	return Impulse{Root: p.cfg.TargetDir()}.Path(rel)
}

func toCollisionExport(c symbols.Collision) export.CollisionExport {
	locs := make([]string, len(c.Definitions))
	for i, d := range c.Definitions {
		locs[i] = fmt.Sprintf("%s:%d", d.File, d.Line)
	}
	return export.CollisionExport{Name: c.Name, Locations: locs}
}
