package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dusk-indust/impulsemerge/internal/archive"
	"github.com/dusk-indust/impulsemerge/internal/merge"
	"github.com/dusk-indust/impulsemerge/internal/textedit"
)

// foldImpulse merges one non-base impulse into the target tree.
func (p *Pipeline) foldImpulse(ctx context.Context, imp Impulse) error {
	if err := p.do(ctx, StepOps, imp.ID, func() error { return p.mergeOps(imp) }); err != nil {
		return err
	}

	if p.cfg.Engine == EngineTFLite {
		if err := p.do(ctx, StepResolver, imp.ID, func() error { return p.mergeResolver(imp) }); err != nil {
			return err
		}
	} else {
		p.skip(StepResolver, imp.ID)
	}

	steps := []struct {
		step Step
		fn   func(Impulse) error
	}{
		{StepMetadata, p.mergeMetadata},
		{StepModelFiles, p.mergeModelFiles},
		{StepVariables, p.mergeVariables},
		{StepYOLOv5, p.patchYOLOv5},
	}
	for _, s := range steps {
		if err := p.do(ctx, s.step, imp.ID, func() error { return s.fn(imp) }); err != nil {
			return err
		}
	}
	return nil
}

// foldFile replaces the target's copy of rel with fn(impulse file, target file).
func (p *Pipeline) foldFile(imp Impulse, rel string, fn func(src, dst textedit.Lines) (textedit.Lines, error)) error {
	src, err := textedit.ReadFile(imp.Path(rel))
	if err != nil {
		return fmt.Errorf("pipeline: impulse %s: %w", imp.ID, err)
	}
	if err := textedit.EditFile(p.targetPath(rel), func(dst textedit.Lines) (textedit.Lines, error) {
		return fn(src, dst)
	}); err != nil {
		return fmt.Errorf("pipeline: impulse %s: %s: %w", imp.ID, rel, err)
	}
	return nil
}

func (p *Pipeline) mergeOps(imp Impulse) error {
	return p.foldFile(imp, PathOpsDefine, func(src, dst textedit.Lines) (textedit.Lines, error) {
		return merge.IntersectOps(dst, src), nil
	})
}

func (p *Pipeline) mergeResolver(imp Impulse) error {
	return p.foldFile(imp, PathResolver, func(src, dst textedit.Lines) (textedit.Lines, error) {
		return merge.NormalizeResolverCapacity(merge.UnionResolvers(dst, src)), nil
	})
}

func (p *Pipeline) mergeMetadata(imp Impulse) error {
	return p.foldFile(imp, PathMetadata, p.reconciler.Reconcile)
}

// mergeModelFiles suffixes the impulse's compiled model and learn-block files,
// renames them after the suffix and copies them into the target.
func (p *Pipeline) mergeModelFiles(imp Impulse) error {
	dir := imp.Path(DirModel)
	entries, err := os.ReadDir(dir)
	if err != nil {
		p.warn(StepModelFiles, imp.ID, dir, err.Error())
		return nil
	}

	suffix := merge.Suffix(imp.ID)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		renamed, ok := modelFileName(name, suffix)
		if !ok {
			continue
		}

		src := filepath.Join(dir, name)
		if !p.suffixFile(StepModelFiles, imp.ID, src, merge.LearnBlockPatterns, suffix) {
			continue
		}
		if renamed != name {
			dst := filepath.Join(dir, renamed)
			if err := os.Rename(src, dst); err != nil {
				p.warn(StepModelFiles, imp.ID, src, err.Error())
				continue
			}
			src = dst
		}
		if err := archive.CopyFile(src, filepath.Join(p.targetPath(DirModel), renamed)); err != nil {
			p.warn(StepModelFiles, imp.ID, src, err.Error())
		}
	}
	return nil
}

// modelFileName returns the suffixed name of a per-impulse model file and
// whether the file is one. Names that already carry the suffix are kept.
func modelFileName(name, suffix string) (string, bool) {
	switch {
	case strings.Contains(name, "compiled"):
		if strings.Contains(name, suffix+"_compiled") {
			return name, true
		}
		return strings.ReplaceAll(name, "_compiled", suffix+"_compiled"), true
	case strings.HasPrefix(name, "tflite_learn_"):
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		if strings.HasSuffix(stem, suffix) {
			return name, true
		}
		return stem + suffix + ext, true
	default:
		return "", false
	}
}

// mergeVariables suffixes the impulse's variable table in place and splices
// it into the target's.
func (p *Pipeline) mergeVariables(imp Impulse) error {
	p.suffixFile(StepVariables, imp.ID, imp.Path(PathVariables), merge.VariablePatterns, merge.Suffix(imp.ID))
	return p.foldFile(imp, PathVariables, merge.SpliceVariables)
}
