package merge

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/impulsemerge/internal/textedit"
)

// YOLOv5Marker appears in the variable table of impulses whose last layer is
// YOLOv5.
const YOLOv5Marker = "YOLOV5"

// HasYOLOv5 reports whether a variable table belongs to a YOLOv5 impulse.
func HasYOLOv5(variables textedit.Lines) bool {
	return variables.Index(YOLOv5Marker, 0) >= 0
}

// Full TensorFlow Lite patch constants.
const (
	FullTFLiteDefine     = "#define " + MacroUseFullTFLite + " 1"
	DeprecatedEngineLine = `#include "tensorflow/lite/micro/micro_error_reporter.h"`
	OpsIncludeMarker     = `#include "tflite-model/trained_model_ops_define`
	OpsIncludeLine       = `#include "tflite-model/trained_model_ops_define.h"`
)

// BuildScriptRewrites maps a source-glob line of the Zephyr build script to
// its full TensorFlow Lite replacement. Keys are matched as substrings.
var BuildScriptRewrites = []struct {
	Match, Replace string
}{
	{
		Match:   `"../../tensorflow/lite/micro/kernels" "*.cc"`,
		Replace: `RECURSIVE_FIND_FILE_APPEND(EI_SOURCE_FILES "../../tensorflow-lite/tensorflow/lite/kernels" "*.cc")`,
	},
	{
		Match:   `"../../tensorflow/lite/micro" "*.cc"`,
		Replace: `RECURSIVE_FIND_FILE_APPEND(EI_SOURCE_FILES "../../tensorflow-lite/tensorflow/lite" "*.cc")`,
	},
}

// InsertDefine places define after the last #include that precedes the first
// #define which is not an include-guard body. The file is unchanged when no
// such #define exists or define is already present. A file without any
// #include is an error.
func InsertDefine(lines textedit.Lines, define string) (textedit.Lines, bool, error) {
	if lines.IndexExact(define) >= 0 {
		return lines.Clone(), false, nil
	}

	includeIdx, defineIdx := -1, -1
	for i, line := range lines {
		if strings.HasPrefix(line, "#include") {
			includeIdx = i
		}
		if strings.HasPrefix(line, "#define") && (i == 0 || !strings.HasPrefix(strings.TrimSpace(lines[i-1]), "#ifndef")) {
			defineIdx = i
			break
		}
	}
	if includeIdx < 0 {
		return nil, false, fmt.Errorf("insert %q: no #include line", define)
	}
	if defineIdx < 0 {
		return lines.Clone(), false, nil
	}
	return lines.Insert(includeIdx+1, define), true, nil
}

// PatchBuildScript rewrites the embedded-subset source globs to the full
// library layout and reports how many lines changed.
func PatchBuildScript(lines textedit.Lines) (textedit.Lines, int) {
	out := lines
	total := 0
	for _, rw := range BuildScriptRewrites {
		var n int
		out, n = out.ReplaceContaining(rw.Match, rw.Replace)
		total += n
	}
	return out, total
}

// OpsIncludeFor returns the suffixed ops-define include line found in an
// impulse's engine header after suffixing, if any.
func OpsIncludeFor(engineHeader textedit.Lines, suffix string) (string, bool) {
	for _, line := range SuffixLines(engineHeader, OpsIncludePattern, suffix) {
		if strings.Contains(line, OpsIncludeMarker) && strings.Contains(line, suffix+".h") {
			return strings.TrimSpace(line), true
		}
	}
	return "", false
}

// UnionOpsIncludes inserts the union of the per-impulse ops-define include
// lines once, after the last ops-define include of the base engine header,
// and removes the unsuffixed include. It returns false when the header has no
// ops-define include to anchor on.
func UnionOpsIncludes(base textedit.Lines, includes []string) (textedit.Lines, bool) {
	var union []string
	seen := make(map[string]bool, len(includes))
	for _, inc := range includes {
		if !seen[inc] {
			seen[inc] = true
			union = append(union, inc)
		}
	}

	out := make(textedit.Lines, 0, len(base)+len(union))
	for _, line := range base {
		if !seen[strings.TrimSpace(line)] {
			out = append(out, line)
		}
	}

	at := out.LastIndex(OpsIncludeMarker)
	if at < 0 {
		return base.Clone(), false
	}
	out = out.Insert(at+1, union...)
	out, _ = out.RemoveContaining(OpsIncludeLine)
	return out, true
}
