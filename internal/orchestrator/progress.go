package orchestrator

import "fmt"

// ProgressReporter emits progress events through a buffered channel.
type ProgressReporter struct {
	ch chan ProgressEvent
}

// NewProgressReporter creates a ProgressReporter with a buffered channel of size 64.
func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{
		ch: make(chan ProgressEvent, 64),
	}
}

// Emit sends a progress event in a non-blocking fashion.
// If the channel is full, the event is silently dropped.
func (pr *ProgressReporter) Emit(event ProgressEvent) {
	select {
	case pr.ch <- event:
	default:
	}
}

// Subscribe returns a read-only channel for consuming progress events.
func (pr *ProgressReporter) Subscribe() <-chan ProgressEvent {
	return pr.ch
}

// Close closes the progress event channel.
func (pr *ProgressReporter) Close() {
	close(pr.ch)
}

// FormatProgress formats a ProgressEvent as a human-readable status line.
func FormatProgress(event ProgressEvent) string {
	subject := event.Step.String()
	if event.Impulse != "" {
		subject += " [" + event.Impulse + "]"
	}
	switch event.Status {
	case ProgressWorking:
		return fmt.Sprintf("  ● %s...", subject)
	case ProgressComplete:
		return fmt.Sprintf("  ✓ %s complete", subject)
	case ProgressSkipped:
		return fmt.Sprintf("  ○ %s skipped", subject)
	case ProgressWarning:
		return fmt.Sprintf("  ! %s: %s", subject, event.Message)
	case ProgressFailed:
		return fmt.Sprintf("  ✗ %s failed: %s", subject, event.Message)
	default:
		return fmt.Sprintf("  ? %s (unknown status)", subject)
	}
}

// FormatRunHeader formats the header printed before a run.
// Returns: "[{runID}] merging {n} impulses ({engine})"
func FormatRunHeader(cfg Config) string {
	return fmt.Sprintf("[%s] merging %d impulses (%s)", cfg.RunID, len(cfg.Impulses), cfg.Engine)
}
