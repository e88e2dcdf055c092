package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/fszontagh/sdcpp-orchestrator/internal/config"
	"github.com/fszontagh/sdcpp-orchestrator/internal/lifecycle"
	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	search := q.Get("search")
	if search == "" {
		search = q.Get("name")
	}
	filter := diffusion.ModelFilter{
		Kind:      diffusion.Kind(q.Get("type")),
		Extension: q.Get("extension"),
		Search:    search,
	}
	models := s.deps.Registry.List(filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"models": models,
		"count":  len(models),
	})
}

func (s *Server) handleRefreshModels(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Registry.Scan(); err != nil {
		writeError(w, http.StatusInternalServerError, "rescan failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": s.deps.Registry.CountByKind()})
}

func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	var params diffusion.ModelLoadParams
	if !decodeBody(w, r, &params) {
		return
	}
	if params.ModelKind == "" {
		params.ModelKind = diffusion.KindCheckpoint
	}
	applySDDefaults(&params, s.deps.Config.SDDefaults)

	if err := s.deps.Lifecycle.Load(r.Context(), params); err != nil {
		var verr *lifecycle.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, "%v", err)
		} else {
			writeError(w, http.StatusInternalServerError, "%v", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Lifecycle.Status())
}

// applySDDefaults fills load params the caller omitted from the config's
// sd_defaults section. The boolean toggles only apply when the config
// turns them on; a request can't turn a default off because JSON false
// and "absent" are indistinguishable, matching the original behavior.
func applySDDefaults(p *diffusion.ModelLoadParams, d config.SDDefaultsConfig) {
	if p.NThreads == 0 {
		p.NThreads = d.NThreads
	}
	p.KeepClipOnCPU = p.KeepClipOnCPU || d.KeepClipOnCPU
	p.KeepVAEOnCPU = p.KeepVAEOnCPU || d.KeepVAEOnCPU
	p.FlashAttn = p.FlashAttn || d.FlashAttn
	p.OffloadToCPU = p.OffloadToCPU || d.OffloadToCPU
}

func (s *Server) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Lifecycle.Unload(); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unloaded": true})
}

func (s *Server) handleHashModel(w http.ResponseWriter, r *http.Request) {
	kind := diffusion.Kind(r.PathValue("type"))
	name := r.PathValue("name")

	if _, ok := s.deps.Registry.Get(kind, name); !ok {
		writeError(w, http.StatusNotFound, "model not found: kind=%s name=%s", kind, name)
		return
	}
	sum, err := s.deps.Registry.Hash(kind, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"type": string(kind), "name": name, "sha256": sum})
}

func (s *Server) handleDownloadModel(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	if !decodeBody(w, r, &params) {
		return
	}
	source, _ := params["source"].(string)
	modelType, _ := params["model_type"].(string)
	switch source {
	case "civitai", "huggingface", "url":
	default:
		writeError(w, http.StatusBadRequest, "source must be one of civitai|huggingface|url")
		return
	}
	if modelType == "" {
		writeError(w, http.StatusBadRequest, "model_type is required")
		return
	}

	downloadJob, hashJob := s.deps.Store.AddDownload(params)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"download_job_id": downloadJob.JobID,
		"hash_job_id":     hashJob.JobID,
		"status":          downloadJob.Status,
	})
}

func (s *Server) handleCivitaiProbe(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	idPart, versionPart, _ := strings.Cut(raw, ":")
	modelID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid civitai id %q", raw)
		return
	}
	var versionID int64
	if versionPart != "" {
		versionID, err = strconv.ParseInt(versionPart, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid civitai version in %q", raw)
			return
		}
	}

	meta, err := s.deps.Download.ProbeCivitai(r.Context(), modelID, versionID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleHuggingFaceProbe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	repoID := q.Get("repo_id")
	if repoID == "" {
		writeError(w, http.StatusBadRequest, "repo_id is required")
		return
	}
	meta, err := s.deps.Download.ProbeHuggingFace(r.Context(), repoID, q.Get("filename"), q.Get("revision"))
	if err != nil {
		writeError(w, http.StatusBadGateway, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleLoadUpscaler(w http.ResponseWriter, r *http.Request) {
	var params diffusion.UpscalerLoadParams
	if !decodeBody(w, r, &params) {
		return
	}
	if params.ModelName == "" {
		writeError(w, http.StatusBadRequest, "model_name is required")
		return
	}
	if err := s.deps.Lifecycle.LoadUpscaler(r.Context(), params); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Lifecycle.UpscalerStatus())
}

func (s *Server) handleUnloadUpscaler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Lifecycle.UnloadUpscaler(); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unloaded": true})
}

func (s *Server) handleArchitectures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"architectures": s.deps.Catalog.All(),
		"current":       s.deps.Lifecycle.Status().Architecture,
	})
}
