package merge

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/impulsemerge/internal/textedit"
)

func resolverFile(ops ...string) textedit.Lines {
	out := textedit.Lines{
		"#ifndef EI_CLASSIFIER_TFLITE_RESOLVER",
		"#define EI_CLASSIFIER_TFLITE_RESOLVER \\",
		"    static tflite::MicroMutableOpResolver<" + strconv.Itoa(len(ops)) + "> resolver; \\",
	}
	for _, op := range ops {
		out = append(out, "    resolver.Add"+op+"(); \\")
	}
	return append(out, "#endif")
}

func TestUnionResolvers_Coverage(t *testing.T) {
	a := resolverFile("Conv2D", "Softmax")
	b := resolverFile("Conv2D", "Reshape", "Softmax")

	got := UnionResolvers(a, b)

	keys := make(map[string]bool)
	for _, line := range got {
		keys[resolverKey(line)] = true
	}
	for _, line := range append(a.Clone(), b...) {
		assert.True(t, keys[resolverKey(line)], "missing %q", line)
	}
	assert.LessOrEqual(t, len(got), len(a)+len(b))
	assert.Equal(t, "#endif", got[len(got)-1])
}

func TestUnionResolvers_OrderAndContinuations(t *testing.T) {
	a := resolverFile("Conv2D", "Softmax")
	b := resolverFile("Conv2D", "Reshape", "Softmax")

	got := UnionResolvers(a, b)

	conv := got.Index("resolver.AddConv2D", 0)
	reshape := got.Index("resolver.AddReshape", 0)
	softmax := got.Index("resolver.AddSoftmax", 0)
	require.True(t, conv >= 0 && reshape >= 0 && softmax >= 0)
	assert.Less(t, conv, reshape)
	assert.Less(t, reshape, softmax)

	// Last registration precedes #endif and carries no continuation.
	assert.Equal(t, "    resolver.AddSoftmax();", got[softmax])
	assert.True(t, strings.HasSuffix(got[conv], " \\"))
	assert.True(t, strings.HasSuffix(got[reshape], " \\"))
}

func TestUnionResolvers_Identical(t *testing.T) {
	a := resolverFile("Conv2D")
	got := UnionResolvers(a, a)
	assert.Len(t, got, len(a))
}

func TestUnionResolvers_DoesNotAliasInput(t *testing.T) {
	a := resolverFile("Conv2D")
	before := a.Clone()
	_ = UnionResolvers(a, resolverFile("Softmax"))
	assert.Equal(t, before, a)
}

func TestNormalizeResolverCapacity(t *testing.T) {
	in := textedit.Lines{
		"#define EI_CLASSIFIER_TFLITE_RESOLVER \\",
		"    static tflite::MicroMutableOpResolver<2> resolver; \\",
		"    resolver.AddConv2D(); \\",
		"    static tflite::MicroMutableOpResolver<1> resolver; \\",
		"    resolver.AddReshape(); \\",
		"    resolver.AddSoftmax();",
		"#endif",
	}

	got := NormalizeResolverCapacity(in)
	assert.Len(t, got, len(in)-1)
	assert.Equal(t, "    static tflite::MicroMutableOpResolver<3> resolver; \\", got[1])
}
