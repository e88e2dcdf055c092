package jobqueue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

func newTestStore(t *testing.T, recycleBin bool, retention time.Duration) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue_state.json")
	return NewStore(path, recycleBin, retention, nil, nil)
}

func TestStoreAddAndGet(t *testing.T) {
	s := newTestStore(t, false, 0)
	job := s.Add(diffusion.JobTxt2Img, map[string]any{"prompt": "a cat"}, diffusion.LoadedSnapshot{})

	got, ok := s.Get(job.JobID)
	if !ok {
		t.Fatalf("expected job to be found")
	}
	if got.Status != diffusion.StatusPending {
		t.Fatalf("expected pending status, got %s", got.Status)
	}
	if s.QueueLength() != 1 {
		t.Fatalf("expected queue length 1, got %d", s.QueueLength())
	}
}

func TestStoreGetReturnsCloneNotLiveReference(t *testing.T) {
	s := newTestStore(t, false, 0)
	job := s.Add(diffusion.JobTxt2Img, map[string]any{"prompt": "a cat"}, diffusion.LoadedSnapshot{})

	got, _ := s.Get(job.JobID)
	got.Status = diffusion.StatusCompleted

	reGot, _ := s.Get(job.JobID)
	if reGot.Status != diffusion.StatusPending {
		t.Fatalf("mutating a clone must not affect stored job, got status %s", reGot.Status)
	}
}

func TestStoreDequeuePopsInFIFOOrder(t *testing.T) {
	s := newTestStore(t, false, 0)
	first := s.Add(diffusion.JobTxt2Img, map[string]any{"prompt": "1"}, diffusion.LoadedSnapshot{})
	second := s.Add(diffusion.JobTxt2Img, map[string]any{"prompt": "2"}, diffusion.LoadedSnapshot{})

	stop := make(chan struct{})
	job, ok := s.Dequeue(stop)
	if !ok || job.JobID != first.JobID {
		t.Fatalf("expected first job dequeued first, got %+v", job)
	}
	if job.Status != diffusion.StatusProcessing {
		t.Fatalf("expected dequeued job marked processing, got %s", job.Status)
	}

	job2, ok := s.Dequeue(stop)
	if !ok || job2.JobID != second.JobID {
		t.Fatalf("expected second job dequeued second, got %+v", job2)
	}
}

func TestStoreDequeueUnblocksOnStop(t *testing.T) {
	s := newTestStore(t, false, 0)
	stop := make(chan struct{})
	close(stop)

	_, ok := s.Dequeue(stop)
	if ok {
		t.Fatalf("expected Dequeue to report no job once stopped")
	}
}

func TestStoreCancelOnlyAffectsPending(t *testing.T) {
	s := newTestStore(t, false, 0)
	job := s.Add(diffusion.JobTxt2Img, map[string]any{}, diffusion.LoadedSnapshot{})

	ok, err := s.Cancel(job.JobID)
	if err != nil || !ok {
		t.Fatalf("expected cancel to succeed, got ok=%v err=%v", ok, err)
	}
	got, _ := s.Get(job.JobID)
	if got.Status != diffusion.StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", got.Status)
	}
	if s.QueueLength() != 0 {
		t.Fatalf("expected cancelled job removed from queue, length=%d", s.QueueLength())
	}

	ok, err = s.Cancel(job.JobID)
	if err != nil || ok {
		t.Fatalf("expected cancelling a non-pending job to be a no-op, got ok=%v err=%v", ok, err)
	}
}

func TestStoreCancelMissingJobErrors(t *testing.T) {
	s := newTestStore(t, false, 0)
	if _, err := s.Cancel("missing"); err == nil {
		t.Fatalf("expected error for missing job")
	}
}

func TestStoreDeleteWithRecycleBinTombstones(t *testing.T) {
	s := newTestStore(t, true, time.Hour)
	job := s.Add(diffusion.JobTxt2Img, map[string]any{}, diffusion.LoadedSnapshot{})

	if err := s.Delete(job.JobID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, ok := s.Get(job.JobID)
	if !ok {
		t.Fatalf("expected tombstoned job to still exist")
	}
	if got.Status != diffusion.StatusDeleted || got.PreviousStatus != diffusion.StatusPending {
		t.Fatalf("unexpected tombstone state: %+v", got)
	}

	if err := s.Restore(job.JobID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, _ = s.Get(job.JobID)
	if got.Status != diffusion.StatusPending {
		t.Fatalf("expected restored status pending, got %s", got.Status)
	}
}

func TestStoreDeleteWithoutRecycleBinRemoves(t *testing.T) {
	s := newTestStore(t, false, 0)
	job := s.Add(diffusion.JobTxt2Img, map[string]any{}, diffusion.LoadedSnapshot{})

	if err := s.Delete(job.JobID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.Get(job.JobID); ok {
		t.Fatalf("expected job removed outright when recycle bin disabled")
	}
}

func TestStoreDeleteProcessingJobFails(t *testing.T) {
	s := newTestStore(t, false, 0)
	s.Add(diffusion.JobTxt2Img, map[string]any{}, diffusion.LoadedSnapshot{})
	job, _ := s.Dequeue(make(chan struct{}))

	if err := s.Delete(job.JobID); err == nil {
		t.Fatalf("expected deleting a processing job to fail")
	}
}

func TestStorePurgeExpiredRespectsRetention(t *testing.T) {
	s := newTestStore(t, true, time.Millisecond)
	job := s.Add(diffusion.JobTxt2Img, map[string]any{}, diffusion.LoadedSnapshot{})
	if err := s.Delete(job.JobID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	purged := s.PurgeExpired()
	if purged != 1 {
		t.Fatalf("expected 1 expired entry purged, got %d", purged)
	}
	if _, ok := s.Get(job.JobID); ok {
		t.Fatalf("expected purged job gone")
	}
}

func TestStoreSaveAndLoadStateRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue_state.json")
	s := NewStore(path, false, 0, nil, nil)
	s.Add(diffusion.JobTxt2Img, map[string]any{"prompt": "a cat"}, diffusion.LoadedSnapshot{})
	if err := s.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded := NewStore(path, false, 0, nil, nil)
	if err := reloaded.LoadState(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if reloaded.QueueLength() != 1 {
		t.Fatalf("expected 1 job requeued after reload, got %d", reloaded.QueueLength())
	}
}

func TestStoreAddDownloadLinksHashJob(t *testing.T) {
	s := newTestStore(t, false, 0)
	download, hash := s.AddDownload(map[string]any{"url": "https://example.com/model.safetensors"})

	if download.LinkedJobID != hash.JobID {
		t.Fatalf("expected download linked to hash job")
	}
	if hash.Status != diffusion.StatusPending {
		t.Fatalf("expected hash job pending, got %s", hash.Status)
	}
	if s.QueueLength() != 1 {
		t.Fatalf("expected only download job queued initially, got %d", s.QueueLength())
	}

	s.QueueHash(hash.JobID)
	if s.QueueLength() != 2 {
		t.Fatalf("expected hash job queued after QueueHash, got %d", s.QueueLength())
	}
}

func TestStoreUpdateMutatesInPlace(t *testing.T) {
	s := newTestStore(t, false, 0)
	job := s.Add(diffusion.JobTxt2Img, map[string]any{}, diffusion.LoadedSnapshot{})

	updated, ok := s.Update(job.JobID, func(j *diffusion.Job) {
		j.Status = diffusion.StatusCompleted
		j.Outputs = []string{"out.png"}
	})
	if !ok {
		t.Fatalf("expected update to find job")
	}
	if updated.Status != diffusion.StatusCompleted || len(updated.Outputs) != 1 {
		t.Fatalf("unexpected updated job: %+v", updated)
	}
}

func TestStoreClearCompletedHonoursRecycleBin(t *testing.T) {
	s := newTestStore(t, true, time.Hour)
	job := s.Add(diffusion.JobTxt2Img, map[string]any{}, diffusion.LoadedSnapshot{})
	s.Update(job.JobID, func(j *diffusion.Job) { j.Status = diffusion.StatusCompleted })

	cleared := s.ClearCompleted()
	if cleared != 1 {
		t.Fatalf("expected 1 job cleared, got %d", cleared)
	}
	got, ok := s.Get(job.JobID)
	if !ok || got.Status != diffusion.StatusDeleted {
		t.Fatalf("expected completed job tombstoned, got %+v", got)
	}
}
