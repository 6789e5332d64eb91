package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var courseModules = []string{"m1", "m2", "m3"}

func TestCompletionPercentage(t *testing.T) {
	cases := []struct {
		completed, total, want int
	}{
		{0, 0, 0},
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{5, 3, 100},
		{-1, 3, 0},
		{1, 8, 13},
	}
	for _, tc := range cases {
		got := CompletionPercentage(tc.completed, tc.total)
		assert.Equal(t, tc.want, got, "completed=%d total=%d", tc.completed, tc.total)
		assert.GreaterOrEqual(t, got, 0)
		assert.LessOrEqual(t, got, 100)
	}
}

func TestWithModuleProgressCreatesEntryLazily(t *testing.T) {
	now := time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)
	base := Enrollment{ID: "enr-1"}

	next := WithModuleProgress(base, "m1", ProgressPatch{Completed: true, WatchTime: 300}, courseModules, now)

	require.Len(t, next.Progress, 1)
	assert.Empty(t, base.Progress, "input must not be mutated")
	assert.Equal(t, "m1", next.Progress[0].ModuleID)
	assert.True(t, next.Progress[0].Completed)
	assert.Equal(t, int64(300), next.Progress[0].WatchTime)
	require.NotNil(t, next.Progress[0].CompletedAt)
	assert.Equal(t, now, *next.Progress[0].CompletedAt)
	assert.Equal(t, 33, next.CompletionPercentage)
	assert.False(t, next.Completed)
	assert.Nil(t, next.CompletedAt)
}

func TestWithModuleProgressDuplicateCompletionKeepsMaxWatchTime(t *testing.T) {
	now := time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)

	first := WithModuleProgress(Enrollment{ID: "enr-1"}, "m1", ProgressPatch{Completed: true, WatchTime: 300}, courseModules, now)
	second := WithModuleProgress(first, "m1", ProgressPatch{Completed: true, WatchTime: 150}, courseModules, later)

	entry, ok := FindModuleProgress(second.Progress, "m1")
	require.True(t, ok)
	assert.Equal(t, int64(300), entry.WatchTime)
	assert.True(t, entry.Completed)
	assert.Equal(t, now, *entry.CompletedAt)
}

func TestWithModuleProgressIsIdempotent(t *testing.T) {
	now := time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)
	patch := ProgressPatch{Completed: true, WatchTime: 120}

	once := WithModuleProgress(Enrollment{ID: "enr-1"}, "m2", patch, courseModules, now)
	twice := WithModuleProgress(once, "m2", patch, courseModules, now.Add(time.Minute))

	assert.Equal(t, once, twice)
}

func TestWithModuleProgressOrderIndependent(t *testing.T) {
	now := time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)
	for _, pair := range [][2]int64{{100, 250}, {250, 100}, {0, 0}, {42, 42}} {
		a := WithModuleProgress(Enrollment{ID: "e"}, "m1", ProgressPatch{WatchTime: pair[0]}, courseModules, now)
		a = WithModuleProgress(a, "m1", ProgressPatch{WatchTime: pair[1]}, courseModules, now)

		b := WithModuleProgress(Enrollment{ID: "e"}, "m1", ProgressPatch{WatchTime: pair[1]}, courseModules, now)
		b = WithModuleProgress(b, "m1", ProgressPatch{WatchTime: pair[0]}, courseModules, now)

		want := pair[0]
		if pair[1] > want {
			want = pair[1]
		}
		assert.Equal(t, want, a.Progress[0].WatchTime)
		assert.Equal(t, a, b)
	}
}

func TestWithModuleProgressCompletionNeverRegresses(t *testing.T) {
	now := time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)
	done := WithModuleProgress(Enrollment{ID: "e"}, "m1", ProgressPatch{Completed: true}, courseModules, now)
	after := WithModuleProgress(done, "m1", ProgressPatch{Completed: false, WatchTime: 10}, courseModules, now)

	assert.True(t, after.Progress[0].Completed)
	assert.Equal(t, int64(10), after.Progress[0].WatchTime)
}

func TestWithModuleProgressSetsCourseCompletionOnce(t *testing.T) {
	t0 := time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)
	e := Enrollment{ID: "e"}
	for i, id := range courseModules {
		e = WithModuleProgress(e, id, ProgressPatch{Completed: true}, courseModules, t0.Add(time.Duration(i)*time.Minute))
	}
	require.True(t, e.Completed)
	assert.Equal(t, 100, e.CompletionPercentage)
	completedAt := *e.CompletedAt
	assert.Equal(t, t0.Add(2*time.Minute), completedAt)

	e = WithModuleProgress(e, "m1", ProgressPatch{Completed: true, WatchTime: 999}, courseModules, t0.Add(time.Hour))
	assert.Equal(t, completedAt, *e.CompletedAt)
}

func TestWithModuleProgressIgnoresModulesOutsideCourse(t *testing.T) {
	now := time.Now()
	e := Enrollment{ID: "e", Progress: []ModuleProgress{{ModuleID: "legacy", Completed: true}}}
	e = WithModuleProgress(e, "m1", ProgressPatch{Completed: true}, []string{"m1", "m2"}, now)

	assert.Equal(t, 50, e.CompletionPercentage)
	assert.False(t, e.Completed)
}
