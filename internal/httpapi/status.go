package httpapi

import (
	"sync"

	"github.com/fszontagh/sdcpp-orchestrator/internal/jobqueue"
	"github.com/fszontagh/sdcpp-orchestrator/internal/lifecycle"
	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

// StatusSource composes the server_status payload from the live
// components. It exists as its own type because the event bus needs a
// StatusProvider before the store/worker it reports on can be
// constructed (they in turn need the bus), so it is created empty and
// bound once wiring is complete.
type StatusSource struct {
	wsPort int

	mu        sync.RWMutex
	lifecycle *lifecycle.Lifecycle
	store     *jobqueue.Store
	worker    *jobqueue.Worker
}

// NewStatusSource creates an unbound StatusSource.
func NewStatusSource(wsPort int) *StatusSource {
	return &StatusSource{wsPort: wsPort}
}

// Bind attaches the components the snapshot reads from. Must be called
// before the first WebSocket client connects.
func (s *StatusSource) Bind(lc *lifecycle.Lifecycle, store *jobqueue.Store, worker *jobqueue.Worker) {
	s.mu.Lock()
	s.lifecycle = lc
	s.store = store
	s.worker = worker
	s.mu.Unlock()
}

// SnapshotStatus implements eventbus.StatusProvider. It reads only
// atomic flags and mutex-guarded snapshot strings, never the inference
// slot, so it answers promptly even mid-generation.
func (s *StatusSource) SnapshotStatus() any {
	s.mu.RLock()
	lc, store, worker := s.lifecycle, s.store, s.worker
	s.mu.RUnlock()

	out := map[string]any{"ws_port": s.wsPort}
	if lc != nil {
		out["model"] = lc.Status()
		out["upscaler"] = lc.UpscalerStatus()
	}
	if store != nil {
		out["queue_length"] = store.QueueLength()
	}
	if worker != nil {
		jobID, progress := worker.CurrentProgress()
		if jobID != "" {
			out["current_job"] = map[string]any{
				"job_id": jobID, "step": progress.Step, "total_steps": progress.Total,
			}
		}
	}
	return out
}

// healthSnapshot is the GET /health response: ws_port, the upscaler
// status, and the flat model fields the UI polls for. Unlike the
// server_status payload it carries no queue length or current job.
func (s *StatusSource) healthSnapshot() map[string]any {
	s.mu.RLock()
	lc := s.lifecycle
	s.mu.RUnlock()

	out := map[string]any{
		"status":  "ok",
		"ws_port": s.wsPort,
	}
	var snap diffusion.LoadedSnapshot
	if lc != nil {
		snap = lc.Status()
		out["upscaler"] = lc.UpscalerStatus()
	}
	out["model_loaded"] = snap.Loaded
	out["model_loading"] = snap.Loading
	out["loading_progress"] = map[string]int{"step": snap.LoadStep, "total": snap.LoadTotal}
	out["model_name"] = snap.ModelName
	out["model_architecture"] = snap.Architecture
	out["components"] = snap.Components
	if snap.LastError != "" {
		out["last_load_error"] = snap.LastError
	}
	return out
}
