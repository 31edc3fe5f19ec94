package merge

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dusk-indust/impulsemerge/internal/textedit"
)

// ResolverCallPrefix starts every operator registration statement in the
// resolver chain.
const ResolverCallPrefix = "resolver.Add"

var resolverCapacityRe = regexp.MustCompile(`MicroMutableOpResolver<(\d+)>`)

// UnionResolvers returns the ordered union of two resolver files. All lines of
// first are kept in order; each line of second that is not yet present is
// inserted directly after the nearest preceding line of second already in the
// result, so trailing guards stay last. Lines compare without surrounding
// whitespace or a trailing continuation marker.
//
// Registration statements are then re-threaded: each one ends with a
// continuation marker unless the next line is a preprocessor directive (or
// there is no next line), in which case the marker is stripped.
func UnionResolvers(first, second textedit.Lines) textedit.Lines {
	out := first.Clone()
	present := make(map[string]bool, len(out))
	for _, line := range out {
		present[resolverKey(line)] = true
	}

	anchor := -1
	for _, line := range second {
		key := resolverKey(line)
		if present[key] {
			anchor = indexOfKey(out, key, anchor+1)
			continue
		}
		anchor++
		out = out.Insert(anchor, line)
		present[key] = true
	}

	return threadContinuations(out)
}

// NormalizeResolverCapacity keeps the first resolver declaration, drops any
// later duplicate (a union of two impulses carries one per impulse) and sets
// its template capacity to the number of registration statements.
func NormalizeResolverCapacity(lines textedit.Lines) textedit.Lines {
	count := 0
	for _, line := range lines {
		if isRegistration(line) {
			count++
		}
	}

	out := make(textedit.Lines, 0, len(lines))
	seen := false
	for _, line := range lines {
		if !resolverCapacityRe.MatchString(line) {
			out = append(out, line)
			continue
		}
		if seen {
			continue
		}
		seen = true
		if count > 0 {
			line = resolverCapacityRe.ReplaceAllString(line, "MicroMutableOpResolver<"+strconv.Itoa(count)+">")
		}
		out = append(out, line)
	}
	return out
}

func threadContinuations(lines textedit.Lines) textedit.Lines {
	for i, line := range lines {
		if !isRegistration(line) {
			continue
		}
		base := stripContinuation(line)
		if i+1 >= len(lines) || strings.HasPrefix(strings.TrimSpace(lines[i+1]), "#") {
			lines[i] = base
		} else {
			lines[i] = base + " \\"
		}
	}
	return lines
}

func isRegistration(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), ResolverCallPrefix)
}

func stripContinuation(line string) string {
	line = strings.TrimRight(line, " \t")
	line = strings.TrimSuffix(line, "\\")
	return strings.TrimRight(line, " \t")
}

func resolverKey(line string) string {
	return strings.TrimSpace(stripContinuation(line))
}

// indexOfKey finds key at or after from, falling back to the first occurrence
// anywhere.
func indexOfKey(lines textedit.Lines, key string, from int) int {
	first := -1
	for i, line := range lines {
		if resolverKey(line) != key {
			continue
		}
		if i >= from {
			return i
		}
		if first < 0 {
			first = i
		}
	}
	return first
}
