package status

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/impulsemerge/internal/archive"
	"github.com/dusk-indust/impulsemerge/internal/export"
	"github.com/dusk-indust/impulsemerge/internal/orchestrator"
)

// mergeFixtures runs a full merge of the fixture impulses and returns the
// output directory. Tests run from internal/status/.
func mergeFixtures(t *testing.T, ids ...string) string {
	t.Helper()
	tmp := t.TempDir()
	require.NoError(t, archive.CopyTree("../../testdata/fixtures/impulses", tmp))

	out := t.TempDir()
	p := orchestrator.NewPipeline(orchestrator.Config{
		Impulses: orchestrator.LocalImpulses(tmp, ids),
		OutDir:   out,
		Engine:   orchestrator.EngineEON,
	})
	defer p.Close()
	_, err := p.Run(context.Background())
	require.NoError(t, err)
	return out
}

func TestInspect_MergedOutput(t *testing.T) {
	out := mergeFixtures(t, "200", "100")

	st, err := Inspect(out)
	require.NoError(t, err)
	assert.True(t, st.Complete())
	assert.True(t, st.HasTarget)
	assert.True(t, st.HasDriver)
	assert.Equal(t, []ImpulseInfo{
		{ID: "200", DeployVersion: "3", Base: true},
		{ID: "100", DeployVersion: "5"},
	}, st.Impulses)
	assert.Equal(t, "3", st.LabelCount)
	assert.Equal(t, 128, st.FFTSize)
	assert.Equal(t, "EI_CLASSIFIER_LAST_LAYER_YOLOV5", st.LastLayer)
	assert.Equal(t, "EI_ANOMALY_TYPE_GMM", st.AnomalyType)
	assert.False(t, st.FullTFLite)
	assert.Equal(t, filepath.Join(out, orchestrator.ArchiveName), st.Archive)
	assert.Positive(t, st.ArchiveEntries)
	require.NotNil(t, st.Report)
	assert.Len(t, st.Report.Impulses, 2)
}

func TestInspect_WithoutReport(t *testing.T) {
	out := mergeFixtures(t, "100", "200")
	require.NoError(t, os.Remove(filepath.Join(out, orchestrator.ReportName)))

	st, err := Inspect(out)
	require.NoError(t, err)
	assert.Nil(t, st.Report)
	assert.Equal(t, []ImpulseInfo{
		{ID: "100", DeployVersion: "5", Base: true},
		{ID: "200", DeployVersion: "3"},
	}, st.Impulses)
}

func TestInspect_FailedRun(t *testing.T) {
	out := t.TempDir()
	require.NoError(t, export.WriteReport(filepath.Join(out, orchestrator.ReportName), &export.MergeReport{
		RunID: "r1",
		Error: "merge: firmware SDK version mismatch",
	}))

	st, err := Inspect(out)
	require.NoError(t, err)
	assert.False(t, st.Complete())
	assert.False(t, st.HasTarget)
	assert.Empty(t, st.Archive)
	assert.Equal(t, "r1", st.Report.RunID)
}

func TestInspect_Errors(t *testing.T) {
	_, err := Inspect(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = Inspect(file)
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, orchestrator.ReportName), []byte("{"), 0o644))
	_, err = Inspect(dir)
	assert.Error(t, err)
}
