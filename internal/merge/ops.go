package merge

import (
	"strings"

	"github.com/dusk-indust/impulsemerge/internal/textedit"
)

// IntersectOps keeps the lines of first that also occur in second, in the
// order of first. Lines are compared after trimming surrounding whitespace.
// The merged firmware can only register kernel operators every impulse
// compiles in; an empty result is valid.
func IntersectOps(first, second textedit.Lines) textedit.Lines {
	inSecond := make(map[string]bool, len(second))
	for _, line := range second {
		inSecond[strings.TrimSpace(line)] = true
	}

	out := make(textedit.Lines, 0, len(first))
	for _, line := range first {
		if inSecond[strings.TrimSpace(line)] {
			out = append(out, strings.TrimRight(line, " \t"))
		}
	}
	return out
}
