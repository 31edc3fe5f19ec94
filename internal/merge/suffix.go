package merge

import (
	"regexp"
	"strings"

	"github.com/dusk-indust/impulsemerge/internal/textedit"
)

// IdentifierPattern describes one impulse-scoped symbol family.
type IdentifierPattern struct {
	Name string
	Expr *regexp.Regexp
	// NotFollowedBy rejects a match whose trailing text starts with this
	// string. RE2 has no lookahead, so the guard lives here.
	NotFollowedBy string
}

func pattern(name, expr string) IdentifierPattern {
	return IdentifierPattern{Name: name, Expr: regexp.MustCompile(expr)}
}

// Pattern registry. Families must never overlap in a way that suffixes the
// same token twice; the suffixer does not check this.
var (
	// LearnBlockPatterns apply to compiled model files in tflite-model/.
	LearnBlockPatterns = []IdentifierPattern{
		pattern("learn-block", `tflite_learn_\d+`),
	}

	// VariablePatterns apply to model-parameters/model_variables.h. Anomaly
	// impulses legitimately lack some of these families.
	VariablePatterns = []IdentifierPattern{
		pattern("learn-block", `tflite_learn_\d+`),
		pattern("graph-config", `tflite_graph_\d+`),
		pattern("categories", `ei_classifier_inferencing_categories`),
		pattern("dsp-config", `ei_dsp_config_\d+`),
		pattern("dsp-blocks", `ei_dsp_blocks`),
		pattern("learning-blocks", `ei_learning_blocks`),
		pattern("learning-block-config", `ei_learning_block_config_\d+`),
		pattern("learning-block-inputs", `ei_learning_block_\d+_inputs`),
		{Name: "nms", Expr: regexp.MustCompile(`ei_object_detection_nms`), NotFollowedBy: "_config"},
		pattern("calibration", `ei_calibration`),
	}

	// CategoriesPattern is used by the YOLOv5 result-struct patch.
	CategoriesPattern = []IdentifierPattern{
		pattern("categories", `ei_classifier_inferencing_categories`),
	}

	// OpsIncludePattern rewrites the ops-define include of the full
	// TensorFlow Lite engine header.
	OpsIncludePattern = []IdentifierPattern{
		pattern("ops-include", `#include\s+"tflite-model/trained_model_ops_define\.h"`),
	}
)

var includeExtRe = regexp.MustCompile(`\.(?:hpp|h|cpp|cc)\b`)

// Suffix derives the per-impulse suffix from an impulse identifier.
func Suffix(id string) string {
	return "_" + id
}

// SuffixLines appends suffix to every match of every pattern, applying the
// patterns in order over the progressively rewritten lines.
func SuffixLines(lines textedit.Lines, patterns []IdentifierPattern, suffix string) textedit.Lines {
	out := lines.Clone()
	for _, p := range patterns {
		for i, line := range out {
			out[i] = suffixLine(line, p, suffix)
		}
	}
	return out
}

func suffixLine(line string, p IdentifierPattern, suffix string) string {
	locs := p.Expr.FindAllStringIndex(line, -1)
	if len(locs) == 0 {
		return line
	}

	var b strings.Builder
	prev := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		b.WriteString(line[prev:start])
		prev = end

		matched := line[start:end]
		rest := line[end:]
		switch {
		case p.NotFollowedBy != "" && strings.HasPrefix(rest, p.NotFollowedBy):
			b.WriteString(matched)
		case strings.Contains(matched, "include"):
			b.WriteString(suffixInclude(matched, suffix))
		case alreadySuffixed(rest, suffix):
			b.WriteString(matched)
		default:
			b.WriteString(matched)
			b.WriteString(suffix)
		}
	}
	b.WriteString(line[prev:])
	return b.String()
}

// suffixInclude places the suffix between the file name and its extension,
// so `#include "foo.h"` becomes `#include "foo_ID.h"`.
func suffixInclude(matched, suffix string) string {
	locs := includeExtRe.FindAllStringIndex(matched, -1)
	if len(locs) == 0 {
		return matched
	}
	at := locs[len(locs)-1][0]
	if strings.HasSuffix(matched[:at], suffix) {
		return matched
	}
	return matched[:at] + suffix + matched[at:]
}

func alreadySuffixed(rest, suffix string) bool {
	if !strings.HasPrefix(rest, suffix) {
		return false
	}
	if len(rest) == len(suffix) {
		return true
	}
	c := rest[len(suffix)]
	return c < '0' || c > '9'
}
