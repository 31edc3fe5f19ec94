// Package templatedata embeds the C++ driver template that the merge step
// fills in with one call site per impulse. The embedded filesystem is rooted
// at "driver/".
package templatedata

import (
	"embed"

	"github.com/dusk-indust/impulsemerge/internal/textedit"
)

// DriverFS contains the embedded driver sources.
//
//go:embed driver/*
var DriverFS embed.FS

// DriverPath is the template's path inside DriverFS. The generated file is
// written to source/main.cpp of the merged tree.
const DriverPath = "driver/main.cpp"

// Driver returns the driver template as lines.
func Driver() (textedit.Lines, error) {
	data, err := DriverFS.ReadFile(DriverPath)
	if err != nil {
		return nil, err
	}
	return textedit.Split(string(data)), nil
}
