package orchestrator

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dusk-indust/impulsemerge/internal/studio"
)

// Output layout under Config.OutDir.
const (
	TargetDirName = "output"
	ArchiveName   = "deploy.zip"
	ReportName    = "merge-report.json"
)

// Files of an impulse tree, relative to its root.
const (
	DirModel        = "tflite-model"
	PathOpsDefine   = "tflite-model/trained_model_ops_define.h"
	PathResolver    = "tflite-model/tflite-resolver.h"
	PathVariables   = "model-parameters/model_variables.h"
	PathMetadata    = "model-parameters/model_metadata.h"
	PathEngineFull  = "edge-impulse-sdk/classifier/inferencing_engines/tflite_full.h"
	PathFillResult  = "edge-impulse-sdk/classifier/ei_fill_result_struct.h"
	PathZephyrCMake = "edge-impulse-sdk/cmake/zephyr/CMakeLists.txt"
	PathDriver      = "source/main.cpp"
)

// ErrInvalidConfig marks configuration that cannot start a run.
var ErrInvalidConfig = errors.New("invalid configuration")

// Engine is the inference engine the impulse libraries were built for.
type Engine string

const (
	EngineEON    Engine = "eon"
	EngineTFLite Engine = "tflite"
)

// ParseEngine validates an engine name.
func ParseEngine(s string) (Engine, error) {
	switch e := Engine(strings.ToLower(strings.TrimSpace(s))); e {
	case EngineEON, EngineTFLite:
		return e, nil
	default:
		return "", fmt.Errorf("%w: unknown engine %q (want eon or tflite)", ErrInvalidConfig, s)
	}
}

// StudioName is the engine identifier used by the Studio deployment API.
func (e Engine) StudioName() string {
	if e == EngineTFLite {
		return studio.EngineTFLite
	}
	return studio.EngineEON
}

// Impulse is one extracted library tree taking part in a run.
type Impulse struct {
	// ID is the Studio project id. It names the impulse's suffix.
	ID string

	// Position is the impulse's index in the run. Position 0 is the base.
	Position int

	// Root is the directory the library archive was extracted to.
	Root string
}

// Path returns the absolute path of rel inside the impulse tree.
func (i Impulse) Path(rel string) string {
	return filepath.Join(i.Root, filepath.FromSlash(rel))
}

// Config holds runtime configuration for a merge run.
type Config struct {
	// Impulses in run order. The first one is the base impulse.
	Impulses []Impulse

	// OutDir receives the merged tree, the archive and the report.
	OutDir string

	// Engine selects whether resolvers are merged.
	Engine Engine

	// FullTFLite switches the merged tree to the full TensorFlow Lite
	// library. Requires EngineTFLite.
	FullTFLite bool

	// DriverTemplate optionally overrides the embedded driver template.
	DriverTemplate string

	// RunID identifies the run in the report and in published object keys.
	RunID string
}

// Base returns the impulse whose tree becomes the merge target.
func (c Config) Base() Impulse {
	return c.Impulses[0]
}

// TargetDir is the directory of the merged tree.
func (c Config) TargetDir() string {
	return filepath.Join(c.OutDir, TargetDirName)
}

// ArchivePath is the location of the zipped merged tree.
func (c Config) ArchivePath() string {
	return filepath.Join(c.OutDir, ArchiveName)
}

// ReportPath is the location of the run report.
func (c Config) ReportPath() string {
	return filepath.Join(c.OutDir, ReportName)
}

// IDs returns the impulse ids in run order.
func (c Config) IDs() []string {
	ids := make([]string, len(c.Impulses))
	for i, imp := range c.Impulses {
		ids[i] = imp.ID
	}
	return ids
}

// Validate checks the configuration before any file is touched.
func (c Config) Validate() error {
	if len(c.Impulses) == 0 {
		return fmt.Errorf("%w: at least one impulse is required", ErrInvalidConfig)
	}
	if c.OutDir == "" {
		return fmt.Errorf("%w: output directory is required", ErrInvalidConfig)
	}
	if _, err := ParseEngine(string(c.Engine)); err != nil {
		return err
	}
	if c.FullTFLite && c.Engine != EngineTFLite {
		return fmt.Errorf("%w: full TensorFlow Lite requires engine tflite", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Impulses))
	for _, imp := range c.Impulses {
		if !isDecimal(imp.ID) {
			return fmt.Errorf("%w: impulse id %q is not a project number", ErrInvalidConfig, imp.ID)
		}
		if seen[imp.ID] {
			return fmt.Errorf("%w: duplicate project id %s", ErrInvalidConfig, imp.ID)
		}
		seen[imp.ID] = true
		if imp.Root == "" {
			return fmt.Errorf("%w: impulse %s has no root directory", ErrInvalidConfig, imp.ID)
		}
	}
	return nil
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// LocalImpulses builds impulses from already extracted trees laid out as
// <tmpDir>/<projectID>.
func LocalImpulses(tmpDir string, projectIDs []string) []Impulse {
	out := make([]Impulse, len(projectIDs))
	for i, id := range projectIDs {
		out[i] = Impulse{ID: id, Position: i, Root: filepath.Join(tmpDir, id)}
	}
	return out
}

// ParseQuantizationMap parses a comma separated list with one entry per
// impulse. "0" selects float32, anything else int8.
func ParseQuantizationMap(s string) []bool {
	parts := SplitList(s)
	out := make([]bool, len(parts))
	for i, p := range parts {
		out[i] = p != "0"
	}
	return out
}

// SplitList splits a comma separated flag value, dropping blanks and spaces.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(s, " ", ""), ",") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ModelType maps a quantization choice to the Studio model type.
func ModelType(quantized bool) string {
	if quantized {
		return studio.ModelInt8
	}
	return studio.ModelFloat32
}
