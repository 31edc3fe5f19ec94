package merge

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dusk-indust/impulsemerge/internal/textedit"
)

// Driver template markers, in insertion order.
const (
	MarkerSignalDeclaration = "// get_signal declaration inserted here"
	MarkerRawFeatures       = "// raw features array inserted here"
	MarkerProcessImpulse    = "// process_impulse inserted here"
	MarkerCallbacks         = "// callback functions inserted here"
)

var impulseVersionRe = regexp.MustCompile(`impulse_(\d+)_(\d+)`)

// ScanImpulseVersions maps impulse ids to deployment version ids found in a
// merged variable table. A later occurrence of the same impulse id wins.
func ScanImpulseVersions(variables textedit.Lines) map[string]string {
	out := make(map[string]string)
	for _, line := range variables {
		for _, m := range impulseVersionRe.FindAllStringSubmatch(line, -1) {
			out[m[1]] = m[2]
		}
	}
	return out
}

// DriverFragments holds the generated text for each template marker.
type DriverFragments struct {
	SignalDeclarations []string
	RawFeatures        []string
	ProcessImpulse     []string
	Callbacks          []string
}

// BuildFragments generates the per-impulse call-site code for impulses in
// run order.
func BuildFragments(order []string, versions map[string]string) (DriverFragments, error) {
	f := DriverFragments{
		SignalDeclarations: []string{""},
		RawFeatures:        []string{""},
		ProcessImpulse:     []string{""},
		Callbacks:          []string{""},
	}
	for _, id := range order {
		version, ok := versions[id]
		if !ok {
			return DriverFragments{}, fmt.Errorf("%w: no impulse_%s_<version> declaration", ErrImpulseNotFound, id)
		}

		f.SignalDeclarations = append(f.SignalDeclarations,
			fmt.Sprintf("static int get_signal_data_%s(size_t offset, size_t length, float *out_ptr);", id))

		f.RawFeatures = append(f.RawFeatures,
			fmt.Sprintf("static const float features_%s[] = { ... }; // copy features from project %s", id, id))

		f.ProcessImpulse = append(f.ProcessImpulse, strings.Split(fmt.Sprintf(`
    // new process_impulse call for project ID %[1]s
    signal.total_length = impulse_%[1]s_%[2]s.dsp_input_frame_size;
    signal.get_data = &get_signal_data_%[1]s;
    res = process_impulse(&impulse_handle_%[1]s_%[2]s, &signal, &result, false);
    printf("process_impulse for project %[1]s returned: %%d\r\n", res);
    display_custom_results(&result, &impulse_%[1]s_%[2]s);
`, id, version), "\n")...)

		f.Callbacks = append(f.Callbacks, strings.Split(fmt.Sprintf(`
static int get_signal_data_%[1]s(size_t offset, size_t length, float *out_ptr) {
    for (size_t i = 0; i < length; i++) {
        out_ptr[i] = (features_%[1]s + offset)[i];
    }
    return EIDSP_OK;
}
`, id), "\n")...)
	}
	return f, nil
}

// GenerateDriver injects the call-site code for every impulse into the driver
// template, directly below the first occurrence of each marker. Marker lines
// are kept. Every marker must be present.
func GenerateDriver(template textedit.Lines, order []string, versions map[string]string) (textedit.Lines, error) {
	frags, err := BuildFragments(order, versions)
	if err != nil {
		return nil, err
	}

	out := template.Clone()
	for _, ins := range []struct {
		marker string
		lines  []string
	}{
		{MarkerSignalDeclaration, frags.SignalDeclarations},
		{MarkerRawFeatures, frags.RawFeatures},
		{MarkerProcessImpulse, frags.ProcessImpulse},
		{MarkerCallbacks, frags.Callbacks},
	} {
		idx := indexTrimmed(out, ins.marker)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q", ErrMarkerNotFound, ins.marker)
		}
		out = out.Insert(idx+1, ins.lines...)
	}
	return out, nil
}

func indexTrimmed(lines textedit.Lines, line string) int {
	for i, s := range lines {
		if strings.TrimSpace(s) == line {
			return i
		}
	}
	return -1
}
