package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/fszontagh/sdcpp-orchestrator/internal/jobqueue"
	"github.com/fszontagh/sdcpp-orchestrator/internal/settings"
)

func (s *Server) handleGetPreviewSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Worker.PreviewSettings())
}

func (s *Server) handlePutPreviewSettings(w http.ResponseWriter, r *http.Request) {
	var p jobqueue.PreviewSettings
	if !decodeBody(w, r, &p) {
		return
	}
	switch p.Mode {
	case "none", "proj", "tae", "vae":
	default:
		writeError(w, http.StatusBadRequest, "mode must be one of none|proj|tae|vae")
		return
	}
	if p.MaxSize <= 0 {
		p.MaxSize = 256
	}
	if p.Quality <= 0 || p.Quality > 100 {
		p.Quality = 75
	}
	s.deps.Worker.SetPreviewSettings(p)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetGenerationSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.Get().Generation)
}

func (s *Server) handlePutGenerationSettings(w http.ResponseWriter, r *http.Request) {
	var gen settings.GenerationSettings
	if !decodeBody(w, r, &gen) {
		return
	}
	doc := s.deps.Settings.Get()
	doc.Generation = gen
	if err := s.deps.Settings.Save(doc); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, gen)
}

// generationMode selects the per-mode sub-document; ok is false for an
// unknown mode.
func generationMode(gen *settings.GenerationSettings, mode string) (*json.RawMessage, bool) {
	switch mode {
	case "txt2img":
		return &gen.Txt2Img, true
	case "img2img":
		return &gen.Img2Img, true
	case "txt2vid":
		return &gen.Txt2Vid, true
	}
	return nil, false
}

func (s *Server) handleGetGenerationMode(w http.ResponseWriter, r *http.Request) {
	doc := s.deps.Settings.Get()
	sub, ok := generationMode(&doc.Generation, r.PathValue("mode"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown generation mode %q", r.PathValue("mode"))
		return
	}
	if len(*sub) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(*sub)
}

func (s *Server) handlePutGenerationMode(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if !decodeBody(w, r, &raw) {
		return
	}
	doc := s.deps.Settings.Get()
	sub, ok := generationMode(&doc.Generation, r.PathValue("mode"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown generation mode %q", r.PathValue("mode"))
		return
	}
	*sub = raw
	if err := s.deps.Settings.Save(doc); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	ui := s.deps.Settings.Get().UI
	if len(ui) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(ui)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if !decodeBody(w, r, &raw) {
		return
	}
	doc := s.deps.Settings.Get()
	doc.UI = raw
	if err := s.deps.Settings.Save(doc); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func (s *Server) handleResetSettings(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Settings.Reset(); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}
