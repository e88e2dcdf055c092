// Package jobqueue holds the job store plus pending FIFO (C4) and the
// single worker goroutine that drains it (C5).
package jobqueue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fszontagh/sdcpp-orchestrator/internal/eventbus"
	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

// Store is the job map plus the pending FIFO, persisted to a single JSON
// file. All mutation happens under mu; callers always receive clones so
// nothing outside the package can mutate a job in place.
type Store struct {
	mu      sync.Mutex
	jobs    map[string]*diffusion.Job
	pending []string

	path              string
	recycleBinEnabled bool
	retention         time.Duration

	bus    *eventbus.Bus
	logger *slog.Logger

	notifyCh chan struct{}
}

// NewStore builds an empty Store. Call LoadState before serving traffic
// to recover any jobs persisted by a previous run.
func NewStore(path string, recycleBinEnabled bool, retention time.Duration, bus *eventbus.Bus, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		jobs:              make(map[string]*diffusion.Job),
		path:              path,
		recycleBinEnabled: recycleBinEnabled,
		retention:         retention,
		bus:               bus,
		logger:            logger,
		notifyCh:          make(chan struct{}, 1),
	}
}

// persistedState is the on-disk shape: a flat array of every job,
// regardless of status.
type persistedState struct {
	Items []*diffusion.Job `json:"items"`
}

// LoadState reads the persisted file, if any. Any Processing job is
// reset to Pending and re-queued (recovery from a crash mid-job); any
// Pending job is re-queued in its original order. Expired recycle-bin
// entries are purged immediately.
func (s *Store) LoadState() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read job state: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("parse job state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range state.Items {
		if job.Status == diffusion.StatusProcessing {
			job.Status = diffusion.StatusPending
			job.StartedAt = nil
			s.pending = append(s.pending, job.JobID)
		} else if job.Status == diffusion.StatusPending {
			s.pending = append(s.pending, job.JobID)
		}
		s.jobs[job.JobID] = job
	}

	s.purgeExpiredLocked()
	s.logger.Info("loaded job state", "count", len(s.jobs), "pending", len(s.pending))
	return nil
}

// Save writes the full job map to disk atomically.
func (s *Store) Save() error {
	s.mu.Lock()
	items := make([]*diffusion.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		items = append(items, job)
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })

	raw, err := json.MarshalIndent(persistedState{Items: items}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create job state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write job state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("persist job state: %w", err)
	}
	return nil
}

// Add enqueues a new job and returns its clone.
func (s *Store) Add(jobType diffusion.JobType, params map[string]any, modelSettings diffusion.LoadedSnapshot) *diffusion.Job {
	job := &diffusion.Job{
		JobID:         uuid.NewString(),
		Type:          jobType,
		Status:        diffusion.StatusPending,
		Params:        params,
		ModelSettings: modelSettings,
		CreatedAt:     time.Now().UTC(),
	}

	s.mu.Lock()
	s.jobs[job.JobID] = job
	s.pending = append(s.pending, job.JobID)
	qlen := len(s.pending)
	s.mu.Unlock()

	s.signal()
	s.publish(diffusion.EventJobAdded, job.JobID, map[string]any{"job_id": job.JobID, "queue_length": qlen})
	return job.Clone()
}

// AddDownload creates a model_download job (queued immediately) and its
// companion model_hash job (held back, not queued, until the worker
// fills in its file_path on download success).
func (s *Store) AddDownload(params map[string]any) (downloadJob, hashJob *diffusion.Job) {
	now := time.Now().UTC()
	downloadID := uuid.NewString()
	hashID := uuid.NewString()

	hashParams := map[string]any{"file_path": "", "download_job_id": downloadID}
	if modelType, ok := params["model_type"]; ok {
		hashParams["model_type"] = modelType
	}

	download := &diffusion.Job{
		JobID: downloadID, Type: diffusion.JobModelDownload, Status: diffusion.StatusPending,
		Params: params, CreatedAt: now, LinkedJobID: hashID,
	}
	hash := &diffusion.Job{
		JobID: hashID, Type: diffusion.JobModelHash, Status: diffusion.StatusPending,
		Params: hashParams, CreatedAt: now, LinkedJobID: downloadID,
	}

	s.mu.Lock()
	s.jobs[downloadID] = download
	s.jobs[hashID] = hash
	s.pending = append(s.pending, downloadID)
	qlen := len(s.pending)
	s.mu.Unlock()

	s.signal()
	s.publish(diffusion.EventJobAdded, downloadID, map[string]any{"job_id": downloadID, "type": "model_download", "queue_length": qlen})
	return download.Clone(), hash.Clone()
}

// QueueHash inserts an already-created hash job into the pending FIFO,
// used by the worker once the linked download job has written
// file_path.
func (s *Store) QueueHash(hashID string) {
	s.mu.Lock()
	if job, ok := s.jobs[hashID]; ok && job.Status == diffusion.StatusPending {
		s.pending = append(s.pending, hashID)
	}
	s.mu.Unlock()
	s.signal()
}

// Get returns a clone of the job, or false if absent.
func (s *Store) Get(id string) (*diffusion.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

// Update replaces the stored job's mutable fields by applying fn to a
// clone, then writing it back. Used by the worker to record progress,
// terminal status, and outputs without exposing the map to callers.
func (s *Store) Update(id string, fn func(job *diffusion.Job)) (*diffusion.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	fn(job)
	return job.Clone(), true
}

// Cancel marks a Pending job Cancelled and removes it from the FIFO.
// Only Pending jobs are cancellable; calling Cancel on any other status
// is a clean no-op (ok=false, err=nil), not an error.
func (s *Store) Cancel(id string) (ok bool, err error) {
	s.mu.Lock()
	job, exists := s.jobs[id]
	if !exists {
		s.mu.Unlock()
		return false, fmt.Errorf("job not found: %s", id)
	}
	if job.Status != diffusion.StatusPending {
		s.mu.Unlock()
		return false, nil
	}
	job.Status = diffusion.StatusCancelled
	now := time.Now().UTC()
	job.CompletedAt = &now
	s.removePendingLocked(id)
	s.mu.Unlock()

	s.publish(diffusion.EventJobCancelled, id, map[string]string{"job_id": id})
	return true, nil
}

// Delete applies recycle-bin semantics: if enabled, tombstones the job
// (previous_status recorded, status set to Deleted); if disabled,
// removes it outright. A Processing job can never be deleted since the
// worker holds the only reference to the in-flight state.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job not found: %s", id)
	}
	if job.Status == diffusion.StatusProcessing {
		s.mu.Unlock()
		return fmt.Errorf("cannot delete a processing job")
	}
	if s.recycleBinEnabled {
		job.PreviousStatus = job.Status
		job.Status = diffusion.StatusDeleted
		now := time.Now().UTC()
		job.DeletedAt = &now
	} else {
		delete(s.jobs, id)
	}
	s.removePendingLocked(id)
	s.mu.Unlock()

	s.publish(diffusion.EventJobDeleted, id, map[string]any{"job_id": id, "soft_delete": s.recycleBinEnabled})
	return nil
}

// Restore undoes Delete: the job must currently be Deleted.
func (s *Store) Restore(id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job not found: %s", id)
	}
	if job.Status != diffusion.StatusDeleted {
		s.mu.Unlock()
		return fmt.Errorf("job is not in the recycle bin: %s", id)
	}
	job.Status = job.PreviousStatus
	job.PreviousStatus = ""
	job.DeletedAt = nil
	s.mu.Unlock()

	s.publish(diffusion.EventJobRestored, id, map[string]string{"job_id": id})
	return nil
}

// Purge removes the record unconditionally, except a Processing job,
// which can never be purged out from under the worker.
func (s *Store) Purge(id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job not found: %s", id)
	}
	if job.Status == diffusion.StatusProcessing {
		s.mu.Unlock()
		return fmt.Errorf("cannot purge a processing job")
	}
	delete(s.jobs, id)
	s.removePendingLocked(id)
	s.mu.Unlock()
	return nil
}

// ClearCompleted moves (or removes) every Completed/Failed/Cancelled job
// per the recycle-bin setting, and returns the count affected.
func (s *Store) ClearCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	cleared := 0
	for id, job := range s.jobs {
		switch job.Status {
		case diffusion.StatusCompleted, diffusion.StatusFailed, diffusion.StatusCancelled:
			if s.recycleBinEnabled {
				job.PreviousStatus = job.Status
				job.Status = diffusion.StatusDeleted
				job.DeletedAt = &now
			} else {
				delete(s.jobs, id)
			}
			cleared++
		}
	}
	return cleared
}

// PurgeExpired removes Deleted entries older than the retention window.
// Retention <= 0 disables expiry (nothing is purged this way).
func (s *Store) PurgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeExpiredLocked()
}

func (s *Store) purgeExpiredLocked() int {
	if s.retention <= 0 {
		return 0
	}
	now := time.Now().UTC()
	purged := 0
	for id, job := range s.jobs {
		if job.Status != diffusion.StatusDeleted || job.DeletedAt == nil {
			continue
		}
		if now.Sub(*job.DeletedAt) > s.retention {
			delete(s.jobs, id)
			purged++
		}
	}
	return purged
}

// ClearRecycleBin removes every Deleted entry regardless of age.
func (s *Store) ClearRecycleBin() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for id, job := range s.jobs {
		if job.Status == diffusion.StatusDeleted {
			delete(s.jobs, id)
			purged++
		}
	}
	return purged
}

// QueueLength reports the current pending FIFO depth.
func (s *Store) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Store) removePendingLocked(id string) {
	for i, pid := range s.pending {
		if pid == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (s *Store) signal() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

func (s *Store) publish(eventType diffusion.EventType, jobID string, data any) {
	if s.bus != nil {
		s.bus.Broadcast(eventType, jobID, data)
	}
}

// Dequeue blocks until a Pending job is available or stop is closed. It
// pops ids from the front of the FIFO under the store lock, skipping any
// id whose job is no longer Pending (cancelled/deleted between enqueue
// and dequeue), and marks the winner Processing before returning it.
func (s *Store) Dequeue(stop <-chan struct{}) (*diffusion.Job, bool) {
	for {
		if job, ok := s.popNextPending(); ok {
			return job, true
		}
		select {
		case <-s.notifyCh:
		case <-stop:
			return nil, false
		}
	}
}

func (s *Store) popNextPending() (*diffusion.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) > 0 {
		id := s.pending[0]
		s.pending = s.pending[1:]
		job, ok := s.jobs[id]
		if !ok || job.Status != diffusion.StatusPending {
			continue
		}
		job.Status = diffusion.StatusProcessing
		now := time.Now().UTC()
		job.StartedAt = &now
		job.Progress = diffusion.Progress{}
		clone := job.Clone()
		s.publish(diffusion.EventJobStatusChanged, id, map[string]any{
			"job_id": id, "status": job.Status, "previous_status": diffusion.StatusPending,
		})
		return clone, true
	}
	return nil, false
}
