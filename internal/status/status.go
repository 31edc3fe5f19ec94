package status

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dusk-indust/impulsemerge/internal/archive"
	"github.com/dusk-indust/impulsemerge/internal/export"
	"github.com/dusk-indust/impulsemerge/internal/merge"
	"github.com/dusk-indust/impulsemerge/internal/orchestrator"
	"github.com/dusk-indust/impulsemerge/internal/textedit"
)

// ImpulseInfo is one impulse found in a merged tree.
type ImpulseInfo struct {
	ID            string `json:"id"`
	DeployVersion string `json:"deployVersion"`
	Base          bool   `json:"base,omitempty"`
}

// MergeStatus describes what a merge run left in its output directory.
type MergeStatus struct {
	OutDir    string        `json:"outDir"`
	HasTarget bool          `json:"hasTarget"`
	HasDriver bool          `json:"hasDriver"`
	Impulses  []ImpulseInfo `json:"impulses,omitempty"`

	LabelCount  string `json:"labelCount,omitempty"`
	FFTSize     int    `json:"fftSize,omitempty"`
	LastLayer   string `json:"lastLayer,omitempty"`
	AnomalyType string `json:"anomalyType,omitempty"`
	FullTFLite  bool   `json:"fullTflite,omitempty"`

	Archive        string `json:"archive,omitempty"`
	ArchiveEntries int    `json:"archiveEntries,omitempty"`

	Report *export.MergeReport `json:"report,omitempty"`
}

// Complete reports whether the run produced every output and did not fail.
func (s *MergeStatus) Complete() bool {
	if s.Report != nil && s.Report.Error != "" {
		return false
	}
	return s.HasTarget && s.HasDriver && s.Archive != ""
}

// Inspect reads the merged tree, archive and report under outDir. Missing
// pieces are reported as absent; only an unreadable outDir is an error.
func Inspect(outDir string) (*MergeStatus, error) {
	info, err := os.Stat(outDir)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("status: %s is not a directory", outDir)
	}

	st := &MergeStatus{OutDir: outDir}
	if r, err := export.ReadReport(filepath.Join(outDir, orchestrator.ReportName)); err == nil {
		st.Report = r
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("status: %w", err)
	}

	target := filepath.Join(outDir, orchestrator.TargetDirName)
	if fi, err := os.Stat(target); err == nil && fi.IsDir() {
		st.HasTarget = true
		st.inspectTarget(target)
	}

	archivePath := filepath.Join(outDir, orchestrator.ArchiveName)
	if entries, err := archive.Entries(archivePath); err == nil {
		st.Archive = archivePath
		st.ArchiveEntries = len(entries)
	}
	return st, nil
}

func (s *MergeStatus) inspectTarget(target string) {
	path := func(rel string) string { return filepath.Join(target, filepath.FromSlash(rel)) }

	if _, err := os.Stat(path(orchestrator.PathDriver)); err == nil {
		s.HasDriver = true
	}

	if vars, err := textedit.ReadFile(path(orchestrator.PathVariables)); err == nil {
		s.Impulses = s.impulses(merge.ScanImpulseVersions(vars), vars)
	}

	meta, err := textedit.ReadFile(path(orchestrator.PathMetadata))
	if err != nil {
		return
	}
	table := merge.ParseMacros(meta)
	if m, ok := table.Get(merge.MacroLabelCount); ok {
		s.LabelCount = m.Value
	}
	if m, ok := table.Get(merge.MacroLastLayer); ok {
		s.LastLayer = m.Value
	}
	if m, ok := table.Get(merge.MacroAnomalyType); ok {
		s.AnomalyType = m.Value
	}
	if m, ok := table.Get(merge.MacroUseFullTFLite); ok {
		s.FullTFLite = m.Value == "1"
	}
	for _, name := range merge.FFTSizeMacros {
		if m, ok := table.Get(name); ok && m.Value == "1" {
			s.FFTSize, _ = strconv.Atoi(name[strings.LastIndex(name, "_")+1:])
		}
	}
}

// impulses orders the found impulses like the report does, or numerically
// when there is no report. The base is the impulse behind the default handle.
func (s *MergeStatus) impulses(versions map[string]string, vars textedit.Lines) []ImpulseInfo {
	var ids []string
	if s.Report != nil {
		for _, imp := range s.Report.Impulses {
			if _, ok := versions[imp.ID]; ok {
				ids = append(ids, imp.ID)
			}
		}
	}
	if len(ids) != len(versions) {
		ids = ids[:0]
		for id := range versions {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			a, _ := strconv.Atoi(ids[i])
			b, _ := strconv.Atoi(ids[j])
			return a < b
		})
	}

	base := ""
	for _, line := range vars {
		if !merge.VariablesEndAnchor.MatchString(line) {
			continue
		}
		for id, v := range versions {
			if strings.Contains(line, "impulse_handle_"+id+"_"+v+";") {
				base = id
			}
		}
		break
	}

	out := make([]ImpulseInfo, len(ids))
	for i, id := range ids {
		out[i] = ImpulseInfo{ID: id, DeployVersion: versions[id], Base: id == base}
	}
	return out
}
