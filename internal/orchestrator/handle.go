package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lukman83/watchfinder/internal/models"
)

// ErrAlreadyRunning is returned by Start while another run is active.
var ErrAlreadyRunning = errors.New("scrape already in progress")

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Snapshot is a point-in-time copy of a RunHandle.
type Snapshot struct {
	ID         string                `json:"id,omitempty"`
	State      State                 `json:"state"`
	Running    bool                  `json:"running"`
	Pages      int                   `json:"pages,omitempty"`
	TargetYear int                   `json:"target_year,omitempty"`
	Sources    []string              `json:"sources,omitempty"`
	StartedAt  *time.Time            `json:"started_at,omitempty"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
	Progress   *models.Progress      `json:"progress,omitempty"`
	Result     *models.CombinedStats `json:"last_result,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// RunHandle owns the single background run a server allows at a time.
// It goes idle -> running -> completed or failed, and can be started
// again once the previous run has finished.
type RunHandle struct {
	orch *Orchestrator

	mu   sync.Mutex
	snap Snapshot
	done chan struct{}
}

func NewRunHandle(o *Orchestrator) *RunHandle {
	return &RunHandle{orch: o, snap: Snapshot{State: StateIdle}}
}

// Start launches a run in the background and returns its first snapshot.
// The run lives as long as ctx, not as long as the caller's request.
func (h *RunHandle) Start(ctx context.Context, opts RunOptions) (Snapshot, error) {
	h.mu.Lock()
	if h.snap.State == StateRunning {
		h.mu.Unlock()
		return Snapshot{}, ErrAlreadyRunning
	}
	opts = h.orch.Resolve(ctx, opts)
	now := time.Now().UTC()
	h.snap = Snapshot{
		ID:         uuid.NewString(),
		State:      StateRunning,
		Running:    true,
		Pages:      opts.Pages,
		TargetYear: opts.TargetYear,
		Sources:    opts.Sources,
		StartedAt:  &now,
	}
	h.done = make(chan struct{})
	started := h.snap
	done := h.done
	h.mu.Unlock()

	caller := opts.Progress
	opts.Progress = func(p models.Progress) {
		h.mu.Lock()
		h.snap.Progress = &p
		h.mu.Unlock()
		if caller != nil {
			caller(p)
		}
	}

	go func() {
		defer close(done)
		result, err := h.run(ctx, opts)
		h.finish(result, err)
	}()
	return started, nil
}

func (h *RunHandle) run(ctx context.Context, opts RunOptions) (result models.CombinedStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run panicked: %v", r)
		}
	}()
	result = h.orch.Run(ctx, opts)
	return result, ctx.Err()
}

func (h *RunHandle) finish(result models.CombinedStats, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now().UTC()
	h.snap.FinishedAt = &now
	h.snap.Running = false
	h.snap.Result = &result
	if err != nil {
		h.snap.State = StateFailed
		h.snap.Error = err.Error()
		h.orch.logger.Error("run failed", "run", h.snap.ID, "err", err)
		return
	}
	h.snap.State = StateCompleted
	h.orch.logger.Info("run completed", "run", h.snap.ID,
		"new", result.New, "updated", result.Updated, "errors", result.Errors, "blocked", result.Blocked)
}

func (h *RunHandle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.snap
	if s.Progress != nil {
		p := *s.Progress
		s.Progress = &p
	}
	return s
}

// Wait blocks until the current run finishes or ctx is done. It returns
// immediately when nothing has been started.
func (h *RunHandle) Wait(ctx context.Context) (Snapshot, error) {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return h.Snapshot(), ctx.Err()
		}
	}
	return h.Snapshot(), nil
}
