package orchestration

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/slidekick/slidekick-core/core/commands"
)

// taskCompletion is the single terminal event of one background task. It is
// delivered into the upstream-event loop, the only place session state and
// the client transport are touched.
type taskCompletion struct {
	taskID  string
	command string
	payload map[string]any
	err     error
}

// backgroundRunner executes at most one long-latency command handler at a
// time, off the live loop. A second spawn while one is in flight is rejected
// with ErrBusy rather than queued.
type backgroundRunner struct {
	mu     sync.Mutex
	active bool

	completions chan taskCompletion
	done        chan struct{}
	closeOnce   sync.Once
}

func newBackgroundRunner() *backgroundRunner {
	return &backgroundRunner{
		completions: make(chan taskCompletion, 1),
		done:        make(chan struct{}),
	}
}

// spawn schedules run and returns immediately with a task identifier. The
// task keeps running if the session's context is cancelled; its completion
// is simply swallowed when nobody is left to receive it.
func (r *backgroundRunner) spawn(ctx context.Context, command string, run func(context.Context) (map[string]any, error)) (string, error) {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return "", fmt.Errorf("a background command is already running: %w", commands.ErrBusy)
	}
	r.active = true
	r.mu.Unlock()

	taskID := uuid.NewString()
	taskCtx := context.WithoutCancel(ctx)

	go func() {
		taskCtx, span := tracer.Start(taskCtx, "run background command")
		defer span.End()

		payload, err := run(taskCtx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		r.mu.Lock()
		r.active = false
		r.mu.Unlock()

		select {
		case r.completions <- taskCompletion{taskID: taskID, command: command, payload: payload, err: err}:
		case <-r.done:
			logger.Info("discarding background completion for a closed session",
				"command", command, "task_id", taskID)
		}
	}()

	return taskID, nil
}

// Completions is drained by the upstream-event loop.
func (r *backgroundRunner) Completions() <-chan taskCompletion {
	return r.completions
}

// Close detaches any in-flight task. The task itself is not aborted; its
// completion is dropped.
func (r *backgroundRunner) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}
