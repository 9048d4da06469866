package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msto63/emubench/internal/cleanup"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "cleanup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(id string, trigger cleanup.Trigger, outcome cleanup.Outcome, started time.Time) *cleanup.Run {
	run := &cleanup.Run{
		ID:         id,
		Trigger:    trigger,
		Outcome:    outcome,
		StartedAt:  started,
		FinishedAt: started.Add(4 * time.Second),
		Timeout:    30 * time.Second,
		Steps: []cleanup.StepResult{
			{Step: cleanup.StepServer, Subsystem: "automation-server", Status: cleanup.StatusForced, Message: "stopped by SIGKILL", Duration: 3 * time.Second},
			{Step: cleanup.StepEmulator, Subsystem: "emulator", Status: cleanup.StatusSkipped, Message: "nothing to terminate"},
			{Step: cleanup.StepBridge, Subsystem: "device-bridge", Status: cleanup.StatusSucceeded, Message: "daemon restarted"},
			{Step: cleanup.StepVerify, Subsystem: "all", Status: cleanup.StatusSucceeded},
		},
	}
	if outcome == cleanup.OutcomeEmergencyFallback {
		run.EmergencySteps = []cleanup.StepResult{
			{Step: cleanup.StepVirtualization, Subsystem: "virtualization", Status: cleanup.StatusForced},
		}
	}
	return run
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "cleanup.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.FileExists(t, path)
}

func TestRecordAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2025, 12, 9, 8, 30, 0, 0, time.UTC)
	want := sampleRun("run-1", cleanup.TriggerInterrupt, cleanup.OutcomeCompleted, started)

	require.NoError(t, s.Record(ctx, want))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Trigger, got.Trigger)
	assert.Equal(t, want.Outcome, got.Outcome)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, 4*time.Second, got.Duration())
	assert.Equal(t, want.Timeout, got.Timeout)
	assert.Equal(t, want.Steps, got.Steps)
	assert.Empty(t, got.EmergencySteps)
}

func TestRecord_DuplicateID(t *testing.T) {
	s := openTestStore(t)
	run := sampleRun("run-1", cleanup.TriggerManual, cleanup.OutcomeCompleted, time.Now())

	require.NoError(t, s.Record(context.Background(), run))
	assert.Error(t, s.Record(context.Background(), run))
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 12, 9, 8, 0, 0, 0, time.UTC)

	runs := []*cleanup.Run{
		sampleRun("a", cleanup.TriggerCompletion, cleanup.OutcomeCompleted, base),
		sampleRun("b", cleanup.TriggerInterrupt, cleanup.OutcomeEmergencyFallback, base.Add(time.Hour)),
		sampleRun("c", cleanup.TriggerCompletion, cleanup.OutcomeCompleted, base.Add(2*time.Hour)),
	}
	for _, r := range runs {
		require.NoError(t, s.Record(ctx, r))
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all newest first", Filter{}, []string{"c", "b", "a"}},
		{"limit", Filter{Limit: 2}, []string{"c", "b"}},
		{"by trigger", Filter{Trigger: cleanup.TriggerCompletion}, []string{"c", "a"}},
		{"by outcome", Filter{Outcome: cleanup.OutcomeEmergencyFallback}, []string{"b"}},
		{"since", Filter{Since: base.Add(30 * time.Minute)}, []string{"c", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	b, err := s.Get(ctx, "b")
	require.NoError(t, err)
	require.Len(t, b.EmergencySteps, 1)
	assert.Equal(t, cleanup.StepVirtualization, b.EmergencySteps[0].Step)
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Record(ctx, sampleRun("a", cleanup.TriggerCompletion, cleanup.OutcomeCompleted, now)))
	require.NoError(t, s.Record(ctx, sampleRun("b", cleanup.TriggerCompletion, cleanup.OutcomeCompleted, now)))
	require.NoError(t, s.Record(ctx, sampleRun("c", cleanup.TriggerInterrupt, cleanup.OutcomeEmergencyFallback, now)))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[cleanup.Outcome]int{
		cleanup.OutcomeCompleted:         2,
		cleanup.OutcomeEmergencyFallback: 1,
	}, stats)
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Record(ctx, sampleRun("old", cleanup.TriggerManual, cleanup.OutcomeCompleted, now.Add(-48*time.Hour))))
	require.NoError(t, s.Record(ctx, sampleRun("new", cleanup.TriggerManual, cleanup.OutcomeCompleted, now)))

	n, err := s.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	runs, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "new", runs[0].ID)
}

func TestStore_IsCleanupRecorder(t *testing.T) {
	var _ cleanup.Recorder = (*Store)(nil)
}
