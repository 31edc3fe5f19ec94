package merge

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dusk-indust/impulsemerge/internal/textedit"
)

// Anchors of the model variables table.
var (
	// VariablesStartAnchor matches the categories array declaration that opens
	// an impulse's variable block.
	VariablesStartAnchor = regexp.MustCompile(`const\s+char\s*\*\s*ei_classifier_inferencing_categories`)

	// VariablesEndAnchor matches the default handle reference that closes it.
	VariablesEndAnchor = regexp.MustCompile(`ei_impulse_handle_t\s*&\s*ei_default_impulse`)
)

// LearnBlockIncludeMarker identifies a local learn-block include line.
const LearnBlockIncludeMarker = `#include "tflite-model/tflite_learn_`

// SpliceVariables copies the variable block of src (from the categories
// declaration up to, not including, the default handle reference) into dst
// just before dst's own handle reference, and adds src's learn-block include
// lines after the last learn-block include of dst.
func SpliceVariables(src, dst textedit.Lines) (textedit.Lines, error) {
	start := indexMatch(src, VariablesStartAnchor, 0)
	if start < 0 {
		return nil, fmt.Errorf("%w: source has no categories declaration", ErrAnchorNotFound)
	}
	end := indexMatch(src, VariablesEndAnchor, start+1)
	if end < 0 {
		return nil, fmt.Errorf("%w: source has no default impulse handle after the categories declaration", ErrAnchorNotFound)
	}
	if indexMatch(dst, VariablesEndAnchor, 0) < 0 {
		return nil, fmt.Errorf("%w: destination has no default impulse handle", ErrAnchorNotFound)
	}

	var includes []string
	for _, line := range src[:start] {
		if strings.Contains(line, LearnBlockIncludeMarker) && dst.IndexExact(line) < 0 {
			includes = append(includes, line)
		}
	}

	out := dst.Clone()
	if len(includes) > 0 {
		at := out.LastIndex(LearnBlockIncludeMarker)
		if at < 0 {
			at = out.LastIndex("#include")
		}
		if at < 0 {
			return nil, fmt.Errorf("%w: destination has no include lines", ErrAnchorNotFound)
		}
		out = out.Insert(at+1, includes...)
	}

	block := make([]string, 0, end-start+2)
	block = append(block, "")
	block = append(block, src[start:end]...)
	block = append(block, "")

	at := indexMatch(out, VariablesEndAnchor, 0)
	return out.Insert(at, block...), nil
}

func indexMatch(lines textedit.Lines, re *regexp.Regexp, from int) int {
	for i := from; i < len(lines); i++ {
		if re.MatchString(lines[i]) {
			return i
		}
	}
	return -1
}
