// ABOUTME: Transient registry of in-flight and finished tool runs
// ABOUTME: Side-channel presentation state correlated by tool event id, never persisted

package stream

import (
	"encoding/json"
	"sync"
	"time"
)

// ToolStatus is the lifecycle state of one tool run.
type ToolStatus string

const (
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// ToolRun is one tool invocation as observed on the stream. Runs live only
// in memory; they are presentation state, not part of the message log.
type ToolRun struct {
	ID         string
	Name       string
	Args       json.RawMessage
	Result     json.RawMessage
	Status     ToolStatus
	Cached     bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// ToolRegistry correlates tool_call events to their tool_result by id.
type ToolRegistry struct {
	mu    sync.RWMutex
	runs  map[string]*ToolRun
	order []string
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{runs: make(map[string]*ToolRun)}
}

// Begin records a tool_call as running. A repeated id resets the existing
// entry rather than duplicating it.
func (r *ToolRegistry) Begin(ev *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[ev.ID]; !exists {
		r.order = append(r.order, ev.ID)
	}
	r.runs[ev.ID] = &ToolRun{
		ID:        ev.ID,
		Name:      ev.Name,
		Args:      ev.Args,
		Status:    ToolRunning,
		Cached:    ev.Cached,
		StartedAt: time.Now(),
	}
}

// Complete closes the run matching a tool_result. Returns false when no
// matching tool_call was seen; the result is then dropped as unmatched.
func (r *ToolRegistry) Complete(ev *Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[ev.ID]
	if !ok {
		return false
	}
	run.Result = ev.Result
	run.Cached = run.Cached || ev.Cached
	run.FinishedAt = time.Now()
	if ev.Success {
		run.Status = ToolCompleted
	} else {
		run.Status = ToolError
	}
	return true
}

// Get returns a copy of the run with the given id.
func (r *ToolRegistry) Get(id string) (ToolRun, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return ToolRun{}, false
	}
	return *run, true
}

// Runs returns all runs in first-seen order.
func (r *ToolRegistry) Runs() []ToolRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolRun, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.runs[id])
	}
	return out
}

// Clear drops all runs. Called on conversation teardown so stale indicators
// do not leak into the next session.
func (r *ToolRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = make(map[string]*ToolRun)
	r.order = nil
}
