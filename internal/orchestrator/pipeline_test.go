package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/impulsemerge/internal/archive"
	"github.com/dusk-indust/impulsemerge/internal/export"
	"github.com/dusk-indust/impulsemerge/internal/merge"
	"github.com/dusk-indust/impulsemerge/internal/textedit"
)

// copyFixtures copies the fixture impulse trees into a temp dir, since a run
// modifies non-base trees in place. Tests run from internal/orchestrator/, so
// the fixtures live at ../../testdata/...
func copyFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, archive.CopyTree("../../testdata/fixtures/impulses", dir))
	return dir
}

func fixtureConfig(t *testing.T, engine Engine, ids ...string) Config {
	t.Helper()
	if len(ids) == 0 {
		ids = []string{"100", "200"}
	}
	return Config{
		Impulses: LocalImpulses(copyFixtures(t), ids),
		OutDir:   t.TempDir(),
		Engine:   engine,
		RunID:    "test-run",
	}
}

func readLines(t *testing.T, path string) textedit.Lines {
	t.Helper()
	lines, err := textedit.ReadFile(path)
	require.NoError(t, err, "reading %s", path)
	return lines
}

func macro(t *testing.T, lines textedit.Lines, name string) (string, bool) {
	t.Helper()
	m, ok := merge.ParseMacros(lines).Get(name)
	return m.Value, ok
}

// editFixture rewrites one file of an impulse tree before the run.
func editFixture(t *testing.T, imp Impulse, rel, old, repl string) {
	t.Helper()
	require.NoError(t, textedit.EditFile(imp.Path(rel), func(l textedit.Lines) (textedit.Lines, error) {
		out, n := l.ReplaceContaining(old, repl)
		require.Positive(t, n, "%s not found in %s", old, rel)
		return out, nil
	}))
}

func warningsFor(r *export.MergeReport, step Step) []export.WarningExport {
	var out []export.WarningExport
	for _, w := range r.Warnings {
		if w.Step == step.String() {
			out = append(out, w)
		}
	}
	return out
}

type stubPublisher struct {
	url   string
	err   error
	runID string
	path  string
}

func (s *stubPublisher) Publish(_ context.Context, runID, path string) (string, error) {
	s.runID, s.path = runID, path
	return s.url, s.err
}

func TestPipeline_Run_TwoImpulses(t *testing.T) {
	cfg := fixtureConfig(t, EngineTFLite)
	p := NewPipeline(cfg)
	defer p.Close()

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	target := res.TargetDir
	assert.Equal(t, filepath.Join(cfg.OutDir, TargetDirName), target)

	t.Run("ops are intersected", func(t *testing.T) {
		ops := readLines(t, filepath.Join(target, PathOpsDefine))
		assert.GreaterOrEqual(t, ops.Index("EI_TFLITE_DISABLE_ADD_IN_F32", 0), 0)
		assert.GreaterOrEqual(t, ops.Index("EI_TFLITE_DISABLE_TANH_IN_F32", 0), 0)
		assert.Equal(t, -1, ops.Index("CONV_2D_IN_F32", 0))
		assert.Equal(t, -1, ops.Index("SOFTMAX_IN_F32", 0))
	})

	t.Run("resolvers are unioned", func(t *testing.T) {
		res := readLines(t, filepath.Join(target, PathResolver))
		for _, op := range []string{"AddFullyConnected", "AddReshape", "AddSoftmax"} {
			assert.GreaterOrEqual(t, res.Index(op, 0), 0, op)
		}
		assert.GreaterOrEqual(t, res.Index("MicroMutableOpResolver<3>", 0), 0)
	})

	t.Run("metadata is reconciled", func(t *testing.T) {
		meta := readLines(t, filepath.Join(target, PathMetadata))
		v, _ := macro(t, meta, merge.MacroLabelCount)
		assert.Equal(t, "3", v)
		v, _ = macro(t, meta, merge.MacroAnomalyType)
		assert.Equal(t, "EI_ANOMALY_TYPE_GMM", v)
		v, _ = macro(t, meta, merge.MacroLastLayer)
		assert.Equal(t, "EI_CLASSIFIER_LAST_LAYER_YOLOV5", v)
		v, _ = macro(t, meta, "EI_CLASSIFIER_PROJECT_ID")
		assert.Equal(t, "100", v)

		_, ok := macro(t, meta, "EI_CLASSIFIER_LOAD_FFT_128")
		assert.True(t, ok)
		_, ok = macro(t, meta, "EI_CLASSIFIER_LOAD_FFT_64")
		assert.False(t, ok)
	})

	t.Run("model files are suffixed and copied", func(t *testing.T) {
		for _, name := range []string{"tflite_learn_5_compiled.cpp", "tflite_learn_5_200_compiled.cpp", "tflite_learn_5_200_compiled.h"} {
			assert.FileExists(t, filepath.Join(target, DirModel, name))
		}
		src := readLines(t, filepath.Join(target, DirModel, "tflite_learn_5_200_compiled.cpp"))
		assert.GreaterOrEqual(t, src.Index("tflite_learn_5_200_init(", 0), 0)
		assert.GreaterOrEqual(t, src.IndexExact(`#include "tflite-model/tflite_learn_5_200_compiled.h"`), 0)
	})

	t.Run("variables are spliced", func(t *testing.T) {
		vars := readLines(t, filepath.Join(target, PathVariables))
		assert.GreaterOrEqual(t, vars.IndexExact(`#include "tflite-model/tflite_learn_5_200_compiled.h"`), 0)
		assert.GreaterOrEqual(t, vars.Index("ei_classifier_inferencing_categories_200[]", 0), 0)
		assert.GreaterOrEqual(t, vars.IndexExact("ei_impulse_handle_t& ei_default_impulse = impulse_handle_100_5;"), 0)
		assert.Equal(t, map[string]string{"100": "5", "200": "3"}, merge.ScanImpulseVersions(vars))
	})

	t.Run("yolov5 result struct uses the impulse categories", func(t *testing.T) {
		fill := readLines(t, filepath.Join(target, PathFillResult))
		assert.GreaterOrEqual(t, fill.Index("ei_classifier_inferencing_categories_200[0]", 0), 0)
	})

	t.Run("driver is generated", func(t *testing.T) {
		driver := readLines(t, filepath.Join(target, PathDriver))
		assert.GreaterOrEqual(t, driver.Index("process_impulse(&impulse_handle_100_5", 0), 0)
		assert.GreaterOrEqual(t, driver.Index("process_impulse(&impulse_handle_200_3", 0), 0)
	})

	t.Run("archive contains the merged tree", func(t *testing.T) {
		entries, err := archive.Entries(res.Archive)
		require.NoError(t, err)
		assert.Contains(t, entries, PathDriver)
		assert.Contains(t, entries, "tflite-model/tflite_learn_5_200_compiled.cpp")
	})

	t.Run("report is written", func(t *testing.T) {
		report, err := export.ReadReport(cfg.ReportPath())
		require.NoError(t, err)
		assert.Equal(t, "test-run", report.RunID)
		assert.Empty(t, report.Error)
		require.Len(t, report.Impulses, 2)
		assert.Equal(t, export.ImpulseExport{ID: "100", Position: 0, DeployVersion: "5"}, report.Impulses[0])
		assert.Equal(t, export.ImpulseExport{ID: "200", Position: 1, Suffix: "_200", DeployVersion: "3"}, report.Impulses[1])
		assert.Equal(t, res.Archive, report.Archive)
		assert.Contains(t, report.Steps, export.StepExport{Step: "full-tflite", Status: "skipped"})
		assert.Contains(t, report.Steps, export.StepExport{Step: "publish", Status: "skipped"})
	})
}

func TestPipeline_Run_SingleImpulse(t *testing.T) {
	cfg := fixtureConfig(t, EngineEON, "100")
	p := NewPipeline(cfg)
	defer p.Close()

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	driver := readLines(t, filepath.Join(res.TargetDir, PathDriver))
	assert.GreaterOrEqual(t, driver.Index("process_impulse(&impulse_handle_100_5", 0), 0)

	// The base tree is copied unchanged.
	base := readLines(t, cfg.Base().Path(PathVariables))
	assert.Equal(t, base, readLines(t, filepath.Join(res.TargetDir, PathVariables)))
}

func TestPipeline_Run_EONSkipsResolver(t *testing.T) {
	cfg := fixtureConfig(t, EngineEON)
	p := NewPipeline(cfg)
	defer p.Close()

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	resolver := readLines(t, filepath.Join(res.TargetDir, PathResolver))
	assert.Equal(t, -1, resolver.Index("AddReshape", 0))
	assert.Contains(t, res.Report.Steps, export.StepExport{Step: "resolver", Impulse: "200", Status: "skipped"})
}

func TestPipeline_Run_VersionMismatch(t *testing.T) {
	cfg := fixtureConfig(t, EngineEON)
	editFixture(t, cfg.Impulses[1], PathMetadata, "EI_STUDIO_VERSION_MINOR", "#define EI_STUDIO_VERSION_MINOR 59")

	p := NewPipeline(cfg)
	defer p.Close()

	_, err := p.Run(context.Background())
	require.ErrorIs(t, err, merge.ErrVersionMismatch)
	assert.True(t, merge.IsFatal(err))

	// Nothing is written before the gate passes.
	_, statErr := os.Stat(cfg.TargetDir())
	assert.True(t, errors.Is(statErr, os.ErrNotExist))

	report, err := export.ReadReport(cfg.ReportPath())
	require.NoError(t, err)
	assert.Contains(t, report.Error, "version")
}

func TestPipeline_Run_TypeMismatch(t *testing.T) {
	cfg := fixtureConfig(t, EngineEON)
	editFixture(t, cfg.Impulses[0], PathMetadata, merge.MacroAnomalyType, "#define EI_CLASSIFIER_HAS_ANOMALY EI_ANOMALY_TYPE_KMEANS")

	p := NewPipeline(cfg)
	defer p.Close()

	_, err := p.Run(context.Background())
	require.ErrorIs(t, err, merge.ErrTypeMismatch)
	assert.True(t, merge.IsFatal(err))
}

func TestPipeline_Run_YOLOv5Base(t *testing.T) {
	// With a YOLOv5 base the result struct keeps the base categories.
	cfg := fixtureConfig(t, EngineEON, "200", "100")
	p := NewPipeline(cfg)
	defer p.Close()

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	fill := readLines(t, filepath.Join(res.TargetDir, PathFillResult))
	assert.GreaterOrEqual(t, fill.Index("ei_classifier_inferencing_categories[0]", 0), 0)
}

func TestPipeline_Run_FullTFLite(t *testing.T) {
	cfg := fixtureConfig(t, EngineTFLite)
	cfg.FullTFLite = true
	p := NewPipeline(cfg)
	defer p.Close()

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	target := res.TargetDir

	meta := readLines(t, filepath.Join(target, PathMetadata))
	assert.GreaterOrEqual(t, meta.IndexExact(merge.FullTFLiteDefine), 0)

	cmake := readLines(t, filepath.Join(target, PathZephyrCMake))
	for _, rw := range merge.BuildScriptRewrites {
		assert.GreaterOrEqual(t, cmake.IndexExact(rw.Replace), 0)
	}

	engine := readLines(t, filepath.Join(target, PathEngineFull))
	assert.Equal(t, -1, engine.IndexExact(merge.DeprecatedEngineLine))
	assert.Equal(t, -1, engine.IndexExact(merge.OpsIncludeLine))
	for _, id := range []string{"100", "200"} {
		assert.GreaterOrEqual(t, engine.IndexExact(`#include "tflite-model/trained_model_ops_define_`+id+`.h"`), 0, id)
		assert.FileExists(t, filepath.Join(target, DirModel, "trained_model_ops_define_"+id+".h"))
	}
	assert.Empty(t, warningsFor(res.Report, StepFullTFLite))
}

func TestPipeline_Run_MissingModelFile(t *testing.T) {
	cfg := fixtureConfig(t, EngineEON)
	require.NoError(t, os.Remove(filepath.Join(cfg.Impulses[1].Path(DirModel), "tflite_learn_5_compiled.cpp")))

	p := NewPipeline(cfg)
	defer p.Close()

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(res.TargetDir, DirModel, "tflite_learn_5_200_compiled.cpp"))
	assert.FileExists(t, filepath.Join(res.TargetDir, DirModel, "tflite_learn_5_200_compiled.h"))
}

func TestPipeline_Run_Publish(t *testing.T) {
	cfg := fixtureConfig(t, EngineEON)
	pub := &stubPublisher{url: "s3://artifacts/test-run/deploy.zip"}
	p := NewPipeline(cfg, WithPublisher(pub))
	defer p.Close()

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-run", pub.runID)
	assert.Equal(t, cfg.ArchivePath(), pub.path)
	assert.Equal(t, pub.url, res.Report.Published)
}

func TestPipeline_Run_PublishFailure(t *testing.T) {
	cfg := fixtureConfig(t, EngineEON)
	pub := &stubPublisher{err: errors.New("bucket unreachable")}
	p := NewPipeline(cfg, WithPublisher(pub))
	defer p.Close()

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unreachable")
	assert.FileExists(t, cfg.ArchivePath())
}

func TestPipeline_Run_InvalidConfig(t *testing.T) {
	p := NewPipeline(Config{OutDir: t.TempDir(), Engine: EngineEON})
	defer p.Close()

	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPipeline_Run_Canceled(t *testing.T) {
	cfg := fixtureConfig(t, EngineEON)
	p := NewPipeline(cfg)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_RunIDGenerated(t *testing.T) {
	p := NewPipeline(Config{})
	defer p.Close()
	assert.Len(t, p.Config().RunID, 36)
}

func TestPipeline_ProgressEvents(t *testing.T) {
	cfg := fixtureConfig(t, EngineEON)
	p := NewPipeline(cfg)

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	p.Close()

	var events []ProgressEvent
	for ev := range p.Progress() {
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	assert.Equal(t, ProgressEvent{Step: StepPreflight, Status: ProgressWorking}, events[0])
	assert.Contains(t, events, ProgressEvent{Step: StepVariables, Impulse: "200", Status: ProgressComplete})
	assert.Contains(t, events, ProgressEvent{Step: StepArchive, Status: ProgressComplete})
	assert.Equal(t, ProgressEvent{Step: StepPublish, Status: ProgressSkipped}, events[len(events)-1])
}
