package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

// enqueueHandler returns the POST handler for one generation-shaped job
// type. All five share the same shape: validate the kind-specific
// required params, snapshot the loaded-context settings, enqueue, 202.
func (s *Server) enqueueHandler(jobType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params map[string]any
		if !decodeBody(w, r, &params) {
			return
		}
		if err := validateJobParams(diffusion.JobType(jobType), params); err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}

		job := s.deps.Store.Add(diffusion.JobType(jobType), params, s.deps.Lifecycle.Status())
		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id":   job.JobID,
			"status":   job.Status,
			"position": s.deps.Store.QueueLength(),
		})
	}
}

func validateJobParams(jobType diffusion.JobType, params map[string]any) error {
	str := func(key string) string {
		v, _ := params[key].(string)
		return v
	}
	switch jobType {
	case diffusion.JobTxt2Img, diffusion.JobTxt2Vid:
		if str("prompt") == "" {
			return fmt.Errorf("prompt is required")
		}
	case diffusion.JobImg2Img:
		if str("prompt") == "" {
			return fmt.Errorf("prompt is required")
		}
		if str("input_image") == "" {
			return fmt.Errorf("input_image is required")
		}
	case diffusion.JobUpscale:
		if str("input_path") == "" {
			return fmt.Errorf("input_path is required")
		}
	case diffusion.JobConvert:
		for _, key := range []string{"input_path", "output_path", "output_type"} {
			if str(key) == "" {
				return fmt.Errorf("%s is required", key)
			}
		}
	}
	return nil
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := diffusion.JobFilter{
		Status:       diffusion.JobStatus(q.Get("status")),
		Type:         diffusion.JobType(q.Get("type")),
		Search:       q.Get("search"),
		Architecture: q.Get("architecture"),
		Model:        q.Get("model"),
	}
	if v := q.Get("before_timestamp"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before_timestamp %q", v)
			return
		}
		filter.BeforeTimestamp = &ts
	}
	if v := q.Get("after_timestamp"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after_timestamp %q", v)
			return
		}
		filter.AfterTimestamp = &ts
	}

	limit := intQuery(q.Get("limit"), 50)

	if q.Get("group_by") == "date" {
		page := intQuery(q.Get("page"), 1)
		writeJSON(w, http.StatusOK, s.deps.Store.ListGroupedByDate(filter, page, limit))
		return
	}

	offset := intQuery(q.Get("offset"), 0)
	writeJSON(w, http.StatusOK, s.deps.Store.List(filter, offset, limit))
}

func intQuery(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.deps.Store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found: %s", r.PathValue("id"))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleDeleteJob implements the dual semantics of DELETE /queue/{id}: a
// pending job is cancelled; a terminal job is soft-deleted into the
// recycle bin (or removed outright when the bin is disabled). With
// ?permanent=true the record is purged regardless of the bin.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if r.URL.Query().Get("permanent") == "true" {
		if err := s.deps.Store.Purge(id); err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "purged": true})
		return
	}

	cancelled, err := s.deps.Store.Cancel(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}
	if cancelled {
		writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "cancelled": true})
		return
	}

	if err := s.deps.Store.Delete(id); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "deleted": true})
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		JobIDs []string `json:"job_ids"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.JobIDs) == 0 {
		writeError(w, http.StatusBadRequest, "job_ids is required")
		return
	}

	deleted := 0
	failures := make(map[string]string)
	for _, id := range body.JobIDs {
		if cancelled, err := s.deps.Store.Cancel(id); err == nil && cancelled {
			deleted++
			continue
		} else if err != nil {
			failures[id] = err.Error()
			continue
		}
		if err := s.deps.Store.Delete(id); err != nil {
			failures[id] = err.Error()
			continue
		}
		deleted++
	}

	resp := map[string]any{"deleted": deleted}
	if len(failures) > 0 {
		resp["failures"] = failures
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRestoreJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Store.Restore(id); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	job, _ := s.deps.Store.Get(id)
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleClearRecycleBin(w http.ResponseWriter, r *http.Request) {
	purged := s.deps.Store.ClearRecycleBin()
	writeJSON(w, http.StatusOK, map[string]int{"purged": purged})
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	cleared := s.deps.Store.ClearCompleted()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

// handleJobPreview serves the latest in-memory preview JPEG. It reads
// the preview buffer directly and never touches the worker or the store,
// so it can't block an in-flight generation.
func (s *Server) handleJobPreview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	frame, ok := s.deps.Previews.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no preview available for job %s", id)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Preview-Width", strconv.Itoa(frame.Width))
	w.Header().Set("X-Preview-Height", strconv.Itoa(frame.Height))
	w.Header().Set("X-Preview-Step", strconv.Itoa(frame.Step))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame.JPEG)
}
