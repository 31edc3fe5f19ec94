package orchestrator

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/dusk-indust/impulsemerge/internal/symbols"
)

// auditGlobs select the merged files whose definitions end up in one link.
var auditGlobs = []string{
	PathVariables,
	DirModel + "/*.h",
	DirModel + "/*.cpp",
	DirModel + "/*.cc",
}

// CheckCollisions performs a lightweight symbol scan of a merged tree. It
// reports file-scope names that are defined twice, which the suffixing should
// have prevented. Findings are advisory; the caller decides whether to block.
func CheckCollisions(targetDir string, ex *symbols.Extractor) ([]symbols.Collision, error) {
	var files []string
	for _, g := range auditGlobs {
		matches, err := filepath.Glob(filepath.Join(targetDir, filepath.FromSlash(g)))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	var defs []symbols.Definition
	for _, path := range files {
		source, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(targetDir, path)
		if err != nil {
			rel = path
		}
		found, err := ex.Definitions(filepath.ToSlash(rel), source)
		if err != nil {
			return nil, err
		}
		defs = append(defs, found...)
	}
	return symbols.Collisions(defs), nil
}
