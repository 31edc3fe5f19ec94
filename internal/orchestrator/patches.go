package orchestrator

import (
	"errors"
	"io/fs"

	"github.com/dusk-indust/impulsemerge/internal/archive"
	"github.com/dusk-indust/impulsemerge/internal/merge"
	"github.com/dusk-indust/impulsemerge/internal/textedit"
)

// patchYOLOv5 points the shared result-struct filler at a YOLOv5 impulse's
// categories when the base impulse is not YOLOv5 itself. Only one impulse
// can own the patched symbol.
func (p *Pipeline) patchYOLOv5(imp Impulse) error {
	vars, err := textedit.ReadFile(imp.Path(PathVariables))
	if err != nil {
		p.warn(StepYOLOv5, imp.ID, imp.Path(PathVariables), err.Error())
		return nil
	}
	if !merge.HasYOLOv5(vars) || merge.HasYOLOv5(p.baseVars) {
		return nil
	}
	if p.yoloFor != "" {
		p.warn(StepYOLOv5, imp.ID, PathFillResult, "result struct already patched for impulse "+p.yoloFor)
		return nil
	}
	if p.suffixFile(StepYOLOv5, imp.ID, p.targetPath(PathFillResult), merge.CategoriesPattern, merge.Suffix(imp.ID)) {
		p.yoloFor = imp.ID
	}
	return nil
}

// fullTFLite switches the merged tree from the embedded interpreter subset to
// the full TensorFlow Lite library. Every edit is recoverable.
func (p *Pipeline) fullTFLite() error {
	metaPath := p.targetPath(PathMetadata)
	err := textedit.EditFile(metaPath, func(l textedit.Lines) (textedit.Lines, error) {
		out, _, err := merge.InsertDefine(l, merge.FullTFLiteDefine)
		return out, err
	})
	if err != nil {
		p.warn(StepFullTFLite, "", metaPath, err.Error())
	}

	cmakePath := p.targetPath(PathZephyrCMake)
	err = textedit.EditFile(cmakePath, func(l textedit.Lines) (textedit.Lines, error) {
		out, n := merge.PatchBuildScript(l)
		if n == 0 {
			p.warn(StepFullTFLite, "", cmakePath, "no source glob to rewrite")
		}
		return out, nil
	})
	if err != nil {
		p.warn(StepFullTFLite, "", cmakePath, err.Error())
	}

	enginePath := p.targetPath(PathEngineFull)
	engine, err := textedit.ReadFile(enginePath)
	if err != nil {
		p.warn(StepFullTFLite, "", enginePath, err.Error())
		return nil
	}
	engine, _ = engine.RemoveContaining(merge.DeprecatedEngineLine)

	var includes []string
	for _, imp := range p.cfg.Impulses {
		suffix := merge.Suffix(imp.ID)
		inc, ok := merge.OpsIncludeFor(engine, suffix)
		if !ok {
			p.warn(StepFullTFLite, imp.ID, enginePath, "no ops-define include to suffix")
			continue
		}
		dst := p.targetPath(DirModel + "/trained_model_ops_define" + suffix + ".h")
		if err := archive.CopyFile(imp.Path(PathOpsDefine), dst); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				err = errors.New("ops-define file not found")
			}
			p.warn(StepFullTFLite, imp.ID, imp.Path(PathOpsDefine), err.Error())
			continue
		}
		includes = append(includes, inc)
	}

	if len(includes) > 0 {
		merged, ok := merge.UnionOpsIncludes(engine, includes)
		if !ok {
			p.warn(StepFullTFLite, "", enginePath, "ops-define include anchor not found")
		} else {
			engine = merged
		}
	}
	if err := textedit.WriteFile(enginePath, engine); err != nil {
		p.warn(StepFullTFLite, "", enginePath, err.Error())
	}
	return nil
}
