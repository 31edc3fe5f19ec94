package orchestrator

import "context"

// Step identifies one phase of a merge run.
type Step int

const (
	StepPreflight Step = iota
	StepCopyBase
	StepOps
	StepResolver
	StepMetadata
	StepModelFiles
	StepVariables
	StepYOLOv5
	StepFullTFLite
	StepTemplate
	StepAudit
	StepArchive
	StepPublish
)

func (s Step) String() string {
	names := [...]string{
		"preflight",
		"copy-base",
		"ops",
		"resolver",
		"metadata",
		"model-files",
		"variables",
		"yolov5",
		"full-tflite",
		"template",
		"audit",
		"archive",
		"publish",
	}
	if s >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// ProgressEvent is emitted during a merge run. Impulse is empty for steps
// that act on the merged tree as a whole.
type ProgressEvent struct {
	Step    Step
	Impulse string
	Status  ProgressStatus
	Message string
}

// ProgressStatus is the state of a step.
type ProgressStatus string

const (
	ProgressWorking  ProgressStatus = "working"
	ProgressComplete ProgressStatus = "complete"
	ProgressSkipped  ProgressStatus = "skipped"
	ProgressWarning  ProgressStatus = "warning"
	ProgressFailed   ProgressStatus = "failed"
)

// Runner executes a merge run.
type Runner interface {
	// Run merges every configured impulse into the target tree.
	Run(ctx context.Context) (*Result, error)

	// Progress returns a channel that emits progress events.
	Progress() <-chan ProgressEvent
}
