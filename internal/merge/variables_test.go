package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/impulsemerge/internal/textedit"
)

func variablesFile(id, version string) textedit.Lines {
	return textedit.Lines{
		"#ifndef _EI_CLASSIFIER_MODEL_VARIABLES_H_",
		"#define _EI_CLASSIFIER_MODEL_VARIABLES_H_",
		`#include "model_metadata.h"`,
		`#include "tflite-model/tflite_learn_5.h"`,
		"",
		`const char* ei_classifier_inferencing_categories[] = { "no", "yes" };`,
		"",
		"const ei_impulse_t impulse_" + id + "_" + version + " = {",
		"    .project_id = " + id + ",",
		"};",
		"",
		"ei_impulse_handle_t impulse_handle_" + id + "_" + version + " = ei_impulse_handle_t( &impulse_" + id + "_" + version + " );",
		"ei_impulse_handle_t& ei_default_impulse = impulse_handle_" + id + "_" + version + ";",
		"",
		"#endif",
	}
}

func TestSpliceVariables(t *testing.T) {
	dst := variablesFile("100", "5")
	src := SuffixLines(variablesFile("200", "3"), VariablePatterns, Suffix("200"))

	out, err := SpliceVariables(src, dst)
	require.NoError(t, err)

	inc := out.IndexExact(`#include "tflite-model/tflite_learn_5_200.h"`)
	require.GreaterOrEqual(t, inc, 0)
	assert.Equal(t, `#include "tflite-model/tflite_learn_5.h"`, out[inc-1])

	cat := out.Index("ei_classifier_inferencing_categories_200", 0)
	handle := out.Index("ei_impulse_handle_t& ei_default_impulse", 0)
	require.GreaterOrEqual(t, cat, 0)
	assert.Less(t, cat, handle)

	// The default handle still points at the base impulse and is not
	// duplicated.
	assert.Equal(t, "ei_impulse_handle_t& ei_default_impulse = impulse_handle_100_5;", out[handle])
	assert.Equal(t, -1, out.Index("ei_default_impulse", handle+1))

	versions := ScanImpulseVersions(out)
	assert.Equal(t, map[string]string{"100": "5", "200": "3"}, versions)
}

func TestSpliceVariables_SkipsExistingIncludes(t *testing.T) {
	dst := variablesFile("100", "5")
	src := variablesFile("200", "3")

	out, err := SpliceVariables(src, dst)
	require.NoError(t, err)
	assert.Len(t, out, len(dst)+(12-5)+2)
}

func TestSpliceVariables_MissingAnchors(t *testing.T) {
	good := variablesFile("100", "5")

	noStart := good.Clone()
	noStart[5] = "// categories removed"

	noEnd := good.Clone()
	noEnd[12] = "// handle removed"

	tests := []struct {
		name     string
		src, dst textedit.Lines
	}{
		{"source without categories", noStart, good},
		{"source without handle", noEnd, good},
		{"destination without handle", good, noEnd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SpliceVariables(tt.src, tt.dst)
			assert.ErrorIs(t, err, ErrAnchorNotFound)
		})
	}
}
