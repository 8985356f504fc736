// Package scheduler decides when buffered audio justifies another inference pass.
package scheduler

// Scheduler counts samples appended since the last trigger. It never runs
// inference itself; the session calls Fire and then invokes the model.
type Scheduler struct {
	trigger int
	minimum int
	pending int
}

// New creates a scheduler that triggers after trigger new samples and only
// allows inference once at least minimum samples are buffered.
func New(trigger, minimum int) *Scheduler {
	if trigger < 1 {
		trigger = 1
	}
	if minimum < 1 {
		minimum = 1
	}
	return &Scheduler{trigger: trigger, minimum: minimum}
}

// OnChunkAppended records n new samples and reports whether the trigger
// threshold has been reached.
func (s *Scheduler) OnChunkAppended(n int) bool {
	if n > 0 {
		s.pending += n
	}
	return s.pending >= s.trigger
}

// OnFlushOrStop always triggers, regardless of pending samples.
func (s *Scheduler) OnFlushOrStop() bool {
	return true
}

// Fire resets the pending counter and reports whether buffered samples are
// enough to run inference. The counter is reset even when inference is
// skipped or later fails.
func (s *Scheduler) Fire(buffered int) bool {
	s.pending = 0
	return buffered >= s.minimum
}

func (s *Scheduler) Pending() int {
	return s.pending
}

func (s *Scheduler) Trigger() int {
	return s.trigger
}
