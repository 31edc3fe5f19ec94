package merge

import (
	"strconv"
	"strings"
)

// PolicyKind selects how two impulses' values of one macro combine.
type PolicyKind int

const (
	TakeMax PolicyKind = iota
	TakeMin
	TypeEquality
	MustBeEqual
	HighestPowerOfTwoFlag
)

func (k PolicyKind) String() string {
	switch k {
	case TakeMax:
		return "take-max"
	case TakeMin:
		return "take-min"
	case TypeEquality:
		return "type-equality"
	case MustBeEqual:
		return "must-be-equal"
	case HighestPowerOfTwoFlag:
		return "highest-power-of-two-flag"
	default:
		return "unknown"
	}
}

// Policy is the merge rule for one macro. Types is set for TypeEquality.
type Policy struct {
	Kind  PolicyKind
	Types *TypeTable
}

// Policies maps macro names to their merge rule.
type Policies map[string]Policy

// TypeTable is a fixed name to integer lookup for an enum-valued macro.
type TypeTable struct {
	Family   string
	Sentinel string // the "none/unknown" entry
	Values   map[string]int
}

// Lookup resolves raw, either a table name or its integer literal, to the
// canonical table name.
func (t *TypeTable) Lookup(raw string) (string, bool) {
	raw = trimValue(raw)
	if _, ok := t.Values[raw]; ok {
		return raw, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return "", false
	}
	for name, v := range t.Values {
		if v == n {
			return name, true
		}
	}
	return "", false
}

// IsSentinel reports whether name is the table's none/unknown entry.
func (t *TypeTable) IsSentinel(name string) bool {
	return name == t.Sentinel
}

// Version macros checked by the version gate.
const (
	MacroVersionMajor = "EI_STUDIO_VERSION_MAJOR"
	MacroVersionMinor = "EI_STUDIO_VERSION_MINOR"
	MacroVersionPatch = "EI_STUDIO_VERSION_PATCH"
)

// Reconciled configuration macros.
const (
	MacroLabelCount         = "EI_CLASSIFIER_LABEL_COUNT"
	MacroSingleFeatureInput = "EI_CLASSIFIER_SINGLE_FEATURE_INPUT"
	MacroLastLayer          = "EI_CLASSIFIER_OBJECT_DETECTION_LAST_LAYER"
	MacroAnomalyType        = "EI_CLASSIFIER_HAS_ANOMALY"
	MacroUseFullTFLite      = "EI_CLASSIFIER_USE_FULL_TFLITE"
)

// FFTSizeMacros is ordered from smallest to largest table.
var FFTSizeMacros = []string{
	"EI_CLASSIFIER_LOAD_FFT_32",
	"EI_CLASSIFIER_LOAD_FFT_64",
	"EI_CLASSIFIER_LOAD_FFT_128",
	"EI_CLASSIFIER_LOAD_FFT_256",
	"EI_CLASSIFIER_LOAD_FFT_512",
	"EI_CLASSIFIER_LOAD_FFT_1024",
	"EI_CLASSIFIER_LOAD_FFT_2048",
	"EI_CLASSIFIER_LOAD_FFT_4096",
}

// LastLayerTypes lists the object detection post-processing algorithms.
var LastLayerTypes = TypeTable{
	Family:   "object detection last layer",
	Sentinel: "EI_CLASSIFIER_LAST_LAYER_UNKNOWN",
	Values: map[string]int{
		"EI_CLASSIFIER_LAST_LAYER_UNKNOWN":         -1,
		"EI_CLASSIFIER_LAST_LAYER_SSD":             1,
		"EI_CLASSIFIER_LAST_LAYER_FOMO":            2,
		"EI_CLASSIFIER_LAST_LAYER_YOLOV5":          3,
		"EI_CLASSIFIER_LAST_LAYER_YOLOX":           4,
		"EI_CLASSIFIER_LAST_LAYER_YOLOV5_V5_DRPAI": 5,
		"EI_CLASSIFIER_LAST_LAYER_TAO_RETINANET":   6,
		"EI_CLASSIFIER_LAST_LAYER_TAO_SSD":         7,
		"EI_CLASSIFIER_LAST_LAYER_TAO_YOLOV3":      8,
		"EI_CLASSIFIER_LAST_LAYER_TAO_YOLOV4":      9,
		"EI_CLASSIFIER_LAST_LAYER_YOLOV2":          10,
		"EI_CLASSIFIER_LAST_LAYER_YOLOV7":          11,
		"EI_CLASSIFIER_LAST_LAYER_YOLO_PRO":        12,
		"EI_CLASSIFIER_LAST_LAYER_TAO_YOLOV4_TF":   13,
		"EI_CLASSIFIER_LAST_LAYER_FOMO_AD":         14,
	},
}

// AnomalyTypes lists the anomaly detection algorithms.
var AnomalyTypes = TypeTable{
	Family:   "anomaly detection",
	Sentinel: "EI_ANOMALY_TYPE_UNKNOWN",
	Values: map[string]int{
		"EI_ANOMALY_TYPE_UNKNOWN":    0,
		"EI_ANOMALY_TYPE_KMEANS":     1,
		"EI_ANOMALY_TYPE_GMM":        2,
		"EI_ANOMALY_TYPE_VISUAL_GMM": 3,
	},
}

// DefaultPolicies returns a fresh copy of the merge policy table. Scalar
// macros merge by maximum; only the single-feature-input flag merges by
// minimum.
func DefaultPolicies() Policies {
	p := Policies{
		MacroVersionMajor: {Kind: MustBeEqual},
		MacroVersionMinor: {Kind: MustBeEqual},
		MacroVersionPatch: {Kind: MustBeEqual},

		MacroLabelCount:                        {Kind: TakeMax},
		"EI_CLASSIFIER_HAS_VISUAL_ANOMALY":     {Kind: TakeMax},
		"EI_CLASSIFIER_QUANTIZATION_ENABLED":   {Kind: TakeMax},
		"EI_CLASSIFIER_IMAGE_SCALING":          {Kind: TakeMax},
		"EI_CLASSIFIER_CALCULATE_FFT":          {Kind: TakeMax},
		"EI_CLASSIFIER_CALCULATE_WAVELET":      {Kind: TakeMax},
		"EI_CLASSIFIER_OBJECT_DETECTION":       {Kind: TakeMax},
		"EI_CLASSIFIER_OBJECT_DETECTION_COUNT": {Kind: TakeMax},
		"EI_CLASSIFIER_HAS_FFT_INFO":           {Kind: TakeMax},
		"EI_CLASSIFIER_NON_STANDARD_FFT_SIZES": {Kind: TakeMax},

		MacroSingleFeatureInput: {Kind: TakeMin},

		MacroLastLayer:   {Kind: TypeEquality, Types: &LastLayerTypes},
		MacroAnomalyType: {Kind: TypeEquality, Types: &AnomalyTypes},
	}
	for _, name := range FFTSizeMacros {
		p[name] = Policy{Kind: HighestPowerOfTwoFlag}
	}
	return p
}

// trimValue strips whitespace and redundant outer parentheses.
func trimValue(raw string) string {
	v := strings.TrimSpace(raw)
	for len(v) >= 2 && v[0] == '(' && v[len(v)-1] == ')' {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	return v
}
