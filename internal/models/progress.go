package models

import (
	"math"
	"time"
)

// ProgressPatch is a single module-completion event.
type ProgressPatch struct {
	Completed bool
	WatchTime int64
}

// CompletionPercentage returns round(100*completed/total) clamped to [0,100].
func CompletionPercentage(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

// CompletedModuleCount counts modules of the course that are marked complete.
// Progress rows for modules no longer in the course are ignored.
func CompletedModuleCount(progress []ModuleProgress, courseModuleIDs []string) int {
	done := make(map[string]bool, len(progress))
	for _, p := range progress {
		if p.Completed {
			done[p.ModuleID] = true
		}
	}
	count := 0
	for _, id := range courseModuleIDs {
		if done[id] {
			count++
		}
	}
	return count
}

// FindModuleProgress returns the progress entry for moduleID, if present.
func FindModuleProgress(progress []ModuleProgress, moduleID string) (ModuleProgress, bool) {
	for _, p := range progress {
		if p.ModuleID == moduleID {
			return p, true
		}
	}
	return ModuleProgress{}, false
}

// WithModuleProgress applies patch to moduleID and returns a new enrollment.
// Completion and watch time only ever move forward, so any replay or
// reordering of patches converges on the same state.
func WithModuleProgress(e Enrollment, moduleID string, patch ProgressPatch, courseModuleIDs []string, now time.Time) Enrollment {
	next := e.Clone()

	idx := -1
	for i := range next.Progress {
		if next.Progress[i].ModuleID == moduleID {
			idx = i
			break
		}
	}
	if idx == -1 {
		next.Progress = append(next.Progress, ModuleProgress{
			EnrollmentID: e.ID,
			ModuleID:     moduleID,
			Position:     len(next.Progress),
		})
		idx = len(next.Progress) - 1
	}

	entry := next.Progress[idx]
	entry.Completed = entry.Completed || patch.Completed
	if entry.Completed && entry.CompletedAt == nil {
		ts := now
		entry.CompletedAt = &ts
	}
	if patch.WatchTime > entry.WatchTime {
		entry.WatchTime = patch.WatchTime
	}
	next.Progress[idx] = entry

	total := len(courseModuleIDs)
	done := CompletedModuleCount(next.Progress, courseModuleIDs)
	next.CompletionPercentage = CompletionPercentage(done, total)

	if total > 0 && done == total && !next.Completed {
		next.Completed = true
	}
	if next.Completed && next.CompletedAt == nil {
		ts := now
		next.CompletedAt = &ts
	}
	return next
}
