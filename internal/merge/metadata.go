package merge

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dusk-indust/impulsemerge/internal/textedit"
)

var defineRe = regexp.MustCompile(`^\s*#\s*define\s+([A-Za-z_]\w*)(?:\s+(.*))?$`)

// Macro is one `#define NAME VALUE` line of a metadata header.
type Macro struct {
	Name  string
	Value string
	Line  int

	// byte range of Value inside the line
	start, end int
}

// MacroTable indexes the object-like macros of a metadata header. When a
// macro is defined more than once the first definition wins.
type MacroTable struct {
	byName map[string]Macro
	order  []string
}

// ParseMacros builds a MacroTable from lines. Include guards and other
// value-less defines are skipped.
func ParseMacros(lines textedit.Lines) MacroTable {
	t := MacroTable{byName: make(map[string]Macro)}
	for i, line := range lines {
		m := defineRe.FindStringSubmatchIndex(line)
		if m == nil || m[4] < 0 {
			continue
		}
		name := line[m[2]:m[3]]
		if _, dup := t.byName[name]; dup {
			continue
		}
		start, end := m[4], m[5]
		value := line[start:end]
		if !strings.HasPrefix(value, `"`) {
			if c := commentStart(value); c >= 0 {
				end = start + c
			}
		}
		for end > start && (line[end-1] == ' ' || line[end-1] == '\t') {
			end--
		}
		if end == start {
			continue
		}
		t.byName[name] = Macro{Name: name, Value: line[start:end], Line: i, start: start, end: end}
		t.order = append(t.order, name)
	}
	return t
}

func commentStart(s string) int {
	idx := -1
	for _, tok := range []string{"//", "/*"} {
		if i := strings.Index(s, tok); i >= 0 && (idx < 0 || i < idx) {
			idx = i
		}
	}
	return idx
}

// Get returns the macro called name.
func (t MacroTable) Get(name string) (Macro, bool) {
	m, ok := t.byName[name]
	return m, ok
}

// Names returns the macro names in line order.
func (t MacroTable) Names() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Int parses the macro's value as an integer literal.
func (m Macro) Int() (int64, error) {
	v := strings.TrimRight(trimValue(m.Value), "uUlL")
	n, err := strconv.ParseInt(v, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s = %q", ErrBadMacroValue, m.Name, m.Value)
	}
	return n, nil
}

// maxResolveDepth bounds how many macro references Resolve follows.
const maxResolveDepth = 8

// Resolve returns the numeric value of m. A value naming another macro of
// the same header, such as EI_CLASSIFIER_IMAGE_SCALING_0_255, is followed
// until it reaches an integer literal.
func (t MacroTable) Resolve(m Macro) (int64, error) {
	cur := m
	for range maxResolveDepth {
		if n, err := cur.Int(); err == nil {
			return n, nil
		}
		next, ok := t.Get(trimValue(cur.Value))
		if !ok || next.Name == cur.Name {
			break
		}
		cur = next
	}
	return 0, fmt.Errorf("%w: %s = %q", ErrBadMacroValue, m.Name, m.Value)
}

// withValue renders the macro's line with a new value, keeping the original
// alignment and any trailing comment.
func (m Macro) withValue(line, value string) string {
	return line[:m.start] + value + line[m.end:]
}

// ReadVersion extracts the firmware SDK version macros.
func ReadVersion(t MacroTable) Version {
	get := func(name string) string {
		if m, ok := t.Get(name); ok {
			return trimValue(m.Value)
		}
		return ""
	}
	return Version{
		Major: get(MacroVersionMajor),
		Minor: get(MacroVersionMinor),
		Patch: get(MacroVersionPatch),
	}
}

// CheckVersion is the version gate: impulses built against different SDK
// generations cannot be merged.
func CheckVersion(src, dst textedit.Lines) error {
	sv, dv := ReadVersion(ParseMacros(src)), ReadVersion(ParseMacros(dst))
	if sv != dv {
		return &VersionMismatchError{Source: sv, Destination: dv}
	}
	return nil
}

// Reconciler merges metadata headers according to an explicit policy table.
type Reconciler struct {
	Policies Policies
}

// NewReconciler returns a Reconciler using DefaultPolicies.
func NewReconciler() *Reconciler {
	return &Reconciler{Policies: DefaultPolicies()}
}

// Reconcile folds the configuration of src into dst and returns the new dst.
// It fails on a version mismatch, an unknown type value or a type conflict.
func (r *Reconciler) Reconcile(src, dst textedit.Lines) (textedit.Lines, error) {
	if err := CheckVersion(src, dst); err != nil {
		return nil, err
	}

	srcT, dstT := ParseMacros(src), ParseMacros(dst)
	if err := r.checkTypes(dstT); err != nil {
		return nil, err
	}
	out := dst.Clone()
	var appended []string

	for _, name := range srcT.Names() {
		policy, ok := r.Policies[name]
		if !ok {
			continue
		}
		sm, _ := srcT.Get(name)

		switch policy.Kind {
		case TakeMax, TakeMin, TypeEquality:
		default:
			continue
		}

		dm, inDst := dstT.Get(name)
		if !inDst {
			if policy.Kind == TypeEquality {
				if _, ok := policy.Types.Lookup(sm.Value); !ok {
					return nil, unknownType(name, sm.Value, policy.Types)
				}
			}
			appended = append(appended, src[sm.Line])
			continue
		}

		value, err := combine(name, policy, srcT, dstT, sm, dm)
		if err != nil {
			return nil, err
		}
		if value != dm.Value {
			out[dm.Line] = dm.withValue(out[dm.Line], value)
		}
	}

	if len(appended) > 0 {
		out = out.Insert(sentinelIndex(out), appended...)
	}

	return selectFFTSize(srcT, out), nil
}

// checkTypes rejects destination type values outside their lookup table,
// including macros the source does not define.
func (r *Reconciler) checkTypes(dstT MacroTable) error {
	for _, name := range dstT.Names() {
		policy, ok := r.Policies[name]
		if !ok || policy.Kind != TypeEquality {
			continue
		}
		m, _ := dstT.Get(name)
		if _, ok := policy.Types.Lookup(m.Value); !ok {
			return unknownType(name, m.Value, policy.Types)
		}
	}
	return nil
}

func combine(name string, policy Policy, srcT, dstT MacroTable, sm, dm Macro) (string, error) {
	if policy.Kind == TypeEquality {
		return combineTypes(name, policy.Types, sm.Value, dm.Value)
	}

	sv, err := srcT.Resolve(sm)
	if err != nil {
		return "", err
	}
	dv, err := dstT.Resolve(dm)
	if err != nil {
		return "", err
	}
	if (policy.Kind == TakeMax && sv > dv) || (policy.Kind == TakeMin && sv < dv) {
		return sm.Value, nil
	}
	return dm.Value, nil
}

func combineTypes(name string, table *TypeTable, src, dst string) (string, error) {
	sn, ok := table.Lookup(src)
	if !ok {
		return "", unknownType(name, src, table)
	}
	dn, ok := table.Lookup(dst)
	if !ok {
		return "", unknownType(name, dst, table)
	}
	switch {
	case sn == dn:
		return dst, nil
	case table.IsSentinel(dn):
		return src, nil
	case table.IsSentinel(sn):
		return dst, nil
	default:
		return "", &TypeMismatchError{Macro: name, Source: sn, Destination: dn}
	}
}

func unknownType(name, value string, table *TypeTable) error {
	return fmt.Errorf("%w: %s = %s is not a known %s type", ErrUnknownType, name, strings.TrimSpace(value), table.Family)
}

// selectFFTSize removes every FFT size flag from dst and emits a single flag
// for the largest table either side asks for.
func selectFFTSize(srcT MacroTable, dst textedit.Lines) textedit.Lines {
	dstT := ParseMacros(dst)

	highest := -1
	for i, name := range FFTSizeMacros {
		for _, t := range []MacroTable{srcT, dstT} {
			if m, ok := t.Get(name); ok {
				if n, err := m.Int(); err == nil && n == 1 {
					highest = i
				}
			}
		}
	}

	isFFT := make(map[string]bool, len(FFTSizeMacros))
	for _, name := range FFTSizeMacros {
		isFFT[name] = true
	}

	out := make(textedit.Lines, 0, len(dst)+1)
	insertAt := -1
	for _, line := range dst {
		if m := defineRe.FindStringSubmatch(line); m != nil && isFFT[m[1]] {
			if insertAt < 0 {
				insertAt = len(out)
			}
			continue
		}
		out = append(out, line)
	}

	if highest < 0 {
		return out
	}
	if insertAt < 0 {
		insertAt = sentinelIndex(out)
	}
	return out.Insert(insertAt, "#define "+FFTSizeMacros[highest]+" 1")
}

// sentinelIndex is the position of the closing include-guard #endif, or the
// end of the file.
func sentinelIndex(lines textedit.Lines) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "#endif") {
			return i
		}
	}
	return len(lines)
}
