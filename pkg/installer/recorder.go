package installer

import (
	"context"

	"github.com/openfroyo/installer/pkg/continuation"
	"github.com/openfroyo/installer/pkg/stores"
)

// TaskRecorder stores continuation tasks in the attempt history.
type TaskRecorder struct {
	Store stores.Store
}

var _ continuation.Recorder = TaskRecorder{}

// RecordContinuationTask implements continuation.Recorder.
func (r TaskRecorder) RecordContinuationTask(ctx context.Context, task *continuation.Task) error {
	return r.Store.UpsertContinuationTask(ctx, storeTask(task))
}

// UpdateContinuationTask implements continuation.Recorder.
func (r TaskRecorder) UpdateContinuationTask(ctx context.Context, task *continuation.Task) error {
	return r.Store.UpsertContinuationTask(ctx, storeTask(task))
}

func storeTask(task *continuation.Task) *stores.ContinuationTask {
	st := &stores.ContinuationTask{
		Name:        task.Name,
		Backend:     task.Backend,
		ScriptPath:  task.ScriptPath,
		CommandLine: task.CommandLine,
		State:       string(task.State),
		ExitCode:    task.ExitCode,
		CreatedAt:   task.CreatedAt.UTC(),
	}
	if task.AttemptID != "" {
		id := task.AttemptID
		st.AttemptID = &id
	}
	if task.Output != "" {
		out := task.Output
		st.Output = &out
	}
	return st
}
