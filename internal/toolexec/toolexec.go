// Package toolexec implements the backend half of the assistant's tool
// bridge (C9): a closed set of read-only tools that execute inside this
// server and return their result in the same chat turn, as opposed to
// frontend tools the UI must perform itself.
package toolexec

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fszontagh/sdcpp-orchestrator/internal/catalog"
	"github.com/fszontagh/sdcpp-orchestrator/internal/jobqueue"
	"github.com/fszontagh/sdcpp-orchestrator/internal/lifecycle"
	"github.com/fszontagh/sdcpp-orchestrator/internal/registry"
	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

// Names lists the closed set of backend tool names the assistant may call.
// Anything outside this set is a frontend action the UI must perform.
var Names = map[string]struct{}{
	"get_status":        {},
	"get_models":        {},
	"get_architectures": {},
	"get_job":           {},
	"search_jobs":       {},
	"list_jobs":         {},
}

// IsBackendTool reports whether name should be intercepted by Execute
// rather than forwarded to the UI as a frontend action.
func IsBackendTool(name string) bool {
	_, ok := Names[name]
	return ok
}

// Executor holds read-only references to the components backend tools
// may query. It never mutates state.
type Executor struct {
	store     *jobqueue.Store
	lifecycle *lifecycle.Lifecycle
	registry  *registry.Registry
	catalog   *catalog.Catalog
}

// New builds an Executor from the live components it reads from.
func New(store *jobqueue.Store, lc *lifecycle.Lifecycle, reg *registry.Registry, cat *catalog.Catalog) *Executor {
	return &Executor{store: store, lifecycle: lc, registry: reg, catalog: cat}
}

// Execute dispatches name to its handler and marshals the result to JSON.
// An unknown name is the caller's bug (it should have checked
// IsBackendTool first) and is reported as an error, not silently ignored.
func (e *Executor) Execute(name string, params json.RawMessage) (json.RawMessage, error) {
	switch name {
	case "get_status":
		return e.getStatus()
	case "get_models":
		return e.getModels()
	case "get_architectures":
		return e.getArchitectures()
	case "get_job":
		return e.getJob(params)
	case "search_jobs":
		return e.searchJobs(params)
	case "list_jobs":
		return e.listJobs(params)
	default:
		return nil, fmt.Errorf("toolexec: not a backend tool: %q", name)
	}
}

func (e *Executor) getStatus() (json.RawMessage, error) {
	page := e.store.List(diffusion.JobFilter{}, 0, 10)
	recent := make([]map[string]any, 0, len(page.Items))
	for _, job := range page.Items {
		prompt, _ := job.Params["prompt"].(string)
		recent = append(recent, map[string]any{
			"id":                job.JobID,
			"type":              job.Type,
			"status":            job.Status,
			"prompt":            prompt,
			"model_name":        job.ModelSettings.ModelName,
			"model_architecture": job.ModelSettings.Architecture,
		})
	}

	return marshal(map[string]any{
		"model_info":     e.lifecycle.Status(),
		"upscaler_info":  e.lifecycle.UpscalerStatus(),
		"queue_stats":    map[string]any{"pending": e.store.QueueLength(), "total": page.TotalCount},
		"recent_jobs":    recent,
	})
}

func (e *Executor) getModels() (json.RawMessage, error) {
	grouped := make(map[diffusion.Kind][]diffusion.ModelDescriptor, len(diffusion.AllKinds))
	for _, kind := range diffusion.AllKinds {
		grouped[kind] = e.registry.List(diffusion.ModelFilter{Kind: kind})
	}
	status := e.lifecycle.Status()
	return marshal(map[string]any{
		"models":            grouped,
		"loaded_model":      status.ModelName,
		"loaded_model_type": status.ModelKind,
	})
}

func (e *Executor) getArchitectures() (json.RawMessage, error) {
	presets := e.catalog.All()
	sort.Slice(presets, func(i, j int) bool { return presets[i].ID < presets[j].ID })
	return marshal(map[string]any{"architectures": presets})
}

func (e *Executor) getJob(params json.RawMessage) (json.RawMessage, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("get_job: invalid params: %w", err)
	}
	job, ok := e.store.Get(req.ID)
	if !ok {
		return nil, fmt.Errorf("get_job: not found: %s", req.ID)
	}
	return marshal(job)
}

func (e *Executor) searchJobs(params json.RawMessage) (json.RawMessage, error) {
	var req struct {
		Prompt       string `json:"prompt"`
		Status       string `json:"status"`
		Type         string `json:"type"`
		Architecture string `json:"architecture"`
		Model        string `json:"model"`
		Limit        int    `json:"limit"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("search_jobs: invalid params: %w", err)
		}
	}
	filter := diffusion.JobFilter{
		Status:       diffusion.JobStatus(req.Status),
		Type:         diffusion.JobType(req.Type),
		Search:       req.Prompt,
		Architecture: req.Architecture,
		Model:        req.Model,
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	page := e.store.List(filter, 0, limit)
	return marshal(page)
}

// listJobs returns minimal {id, type, status} entries — no heavy payload —
// for cheap assistant-side browsing of the queue.
func (e *Executor) listJobs(params json.RawMessage) (json.RawMessage, error) {
	var req struct {
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("list_jobs: invalid params: %w", err)
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	page := e.store.List(diffusion.JobFilter{}, req.Offset, limit)
	items := make([]map[string]any, 0, len(page.Items))
	for _, job := range page.Items {
		items = append(items, map[string]any{"id": job.JobID, "type": job.Type, "status": job.Status})
	}
	return marshal(map[string]any{
		"items":   items,
		"offset":  page.Offset,
		"limit":   page.Limit,
		"total":   page.TotalCount,
		"has_more": page.HasMore,
	})
}

func marshal(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return raw, nil
}
