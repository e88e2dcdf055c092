// Package httpapi is the request surface (C12): a thin adapter mapping
// HTTP verbs onto the registry, lifecycle, job store, settings, catalog,
// and assistant components, plus the WebSocket listener the event bus
// fans out through. Handlers validate and translate; every rule worth
// testing lives in the component packages.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fszontagh/sdcpp-orchestrator/internal/assistant"
	"github.com/fszontagh/sdcpp-orchestrator/internal/catalog"
	"github.com/fszontagh/sdcpp-orchestrator/internal/config"
	"github.com/fszontagh/sdcpp-orchestrator/internal/download"
	"github.com/fszontagh/sdcpp-orchestrator/internal/eventbus"
	"github.com/fszontagh/sdcpp-orchestrator/internal/jobqueue"
	"github.com/fszontagh/sdcpp-orchestrator/internal/lifecycle"
	"github.com/fszontagh/sdcpp-orchestrator/internal/previewbuf"
	"github.com/fszontagh/sdcpp-orchestrator/internal/promptenhance"
	"github.com/fszontagh/sdcpp-orchestrator/internal/registry"
	"github.com/fszontagh/sdcpp-orchestrator/internal/sdruntime"
	"github.com/fszontagh/sdcpp-orchestrator/internal/settings"
)

// AssistantFactory rebuilds the assistant client after a settings change.
// Returning nil disables the assistant (cfg.Enabled false or no endpoint).
type AssistantFactory func(cfg config.AssistantConfig) *assistant.Client

// Deps groups everything the request surface adapts.
type Deps struct {
	Config    *config.Config
	Registry  *registry.Registry
	Lifecycle *lifecycle.Lifecycle
	Store     *jobqueue.Store
	Worker    *jobqueue.Worker
	Previews  *previewbuf.Buffer
	Bus       *eventbus.Bus
	Catalog   *catalog.Catalog
	Settings  *settings.Store
	Download  *download.Client
	Enhancer  *promptenhance.Enhancer
	Status    *StatusSource
	Caps      sdruntime.Capabilities

	Assistant        *assistant.Client
	AssistantFactory AssistantFactory

	Logger *slog.Logger
}

// Server owns the two listeners: the REST API on server.port and the
// WebSocket endpoint on server.ws_port.
type Server struct {
	deps   Deps
	logger *slog.Logger

	apiServer *http.Server
	wsServer  *http.Server

	listenerMu  sync.Mutex
	apiListener net.Listener
	wsListener  net.Listener

	assistantMu  sync.RWMutex
	assistantCfg config.AssistantConfig
	assistant    *assistant.Client
}

// New builds a Server. Call Start to begin listening.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		deps:         deps,
		logger:       logger,
		assistantCfg: deps.Config.Assistant,
		assistant:    deps.Assistant,
	}
}

// Handler returns the REST API mux, exposed for httptest-based tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /options", s.handleOptions)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /models", s.handleListModels)
	mux.HandleFunc("POST /models/refresh", s.handleRefreshModels)
	mux.HandleFunc("POST /models/load", s.handleLoadModel)
	mux.HandleFunc("POST /models/unload", s.handleUnloadModel)
	mux.HandleFunc("GET /models/hash/{type}/{name...}", s.handleHashModel)
	mux.HandleFunc("POST /models/download", s.handleDownloadModel)
	mux.HandleFunc("GET /models/civitai/{id}", s.handleCivitaiProbe)
	mux.HandleFunc("GET /models/huggingface", s.handleHuggingFaceProbe)

	mux.HandleFunc("POST /upscaler/load", s.handleLoadUpscaler)
	mux.HandleFunc("POST /upscaler/unload", s.handleUnloadUpscaler)

	mux.HandleFunc("POST /txt2img", s.enqueueHandler("txt2img"))
	mux.HandleFunc("POST /img2img", s.enqueueHandler("img2img"))
	mux.HandleFunc("POST /txt2vid", s.enqueueHandler("txt2vid"))
	mux.HandleFunc("POST /upscale", s.enqueueHandler("upscale"))
	mux.HandleFunc("POST /convert", s.enqueueHandler("convert"))

	mux.HandleFunc("GET /queue", s.handleListQueue)
	mux.HandleFunc("GET /queue/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /queue/jobs", s.handleBulkDelete)
	mux.HandleFunc("DELETE /queue/recycle-bin", s.handleClearRecycleBin)
	mux.HandleFunc("POST /queue/clear-completed", s.handleClearCompleted)
	mux.HandleFunc("DELETE /queue/{id}", s.handleDeleteJob)
	mux.HandleFunc("POST /queue/{id}/restore", s.handleRestoreJob)
	mux.HandleFunc("GET /jobs/{id}/preview", s.handleJobPreview)

	mux.HandleFunc("GET /architectures", s.handleArchitectures)

	mux.HandleFunc("GET /preview/settings", s.handleGetPreviewSettings)
	mux.HandleFunc("PUT /preview/settings", s.handlePutPreviewSettings)
	mux.HandleFunc("GET /settings/generation", s.handleGetGenerationSettings)
	mux.HandleFunc("PUT /settings/generation", s.handlePutGenerationSettings)
	mux.HandleFunc("GET /settings/generation/{mode}", s.handleGetGenerationMode)
	mux.HandleFunc("PUT /settings/generation/{mode}", s.handlePutGenerationMode)
	mux.HandleFunc("GET /settings/preferences", s.handleGetPreferences)
	mux.HandleFunc("PUT /settings/preferences", s.handlePutPreferences)
	mux.HandleFunc("POST /settings/reset", s.handleResetSettings)

	mux.HandleFunc("POST /assistant/chat", s.handleAssistantChat)
	mux.HandleFunc("POST /assistant/chat/stream", s.handleAssistantChatStream)
	mux.HandleFunc("GET /assistant/history", s.handleAssistantHistory)
	mux.HandleFunc("DELETE /assistant/history", s.handleAssistantClearHistory)
	mux.HandleFunc("GET /assistant/settings", s.handleGetAssistantSettings)
	mux.HandleFunc("PUT /assistant/settings", s.handlePutAssistantSettings)
	mux.HandleFunc("GET /assistant/status", s.handleAssistantStatus)
	mux.HandleFunc("GET /assistant/model-info", s.handleAssistantModelInfo)
	mux.HandleFunc("POST /assistant/enhance", s.handleEnhancePrompt)

	mux.HandleFunc("GET /output/", s.handleOutputBrowser)
	mux.HandleFunc("GET /thumb/", s.handleThumbnail)
	if s.deps.Config.Paths.WebUI != "" {
		mux.Handle("GET /ui/", http.StripPrefix("/ui/", http.FileServer(http.Dir(s.deps.Config.Paths.WebUI))))
	}

	return mux
}

// wsHandler returns the WebSocket mux served on ws_port.
func (s *Server) wsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	return mux
}

// Start opens both listeners and begins serving. It returns once both
// listeners are bound, so a port conflict fails fast at startup.
func (s *Server) Start() error {
	apiAddr := fmt.Sprintf("%s:%d", s.deps.Config.Server.Host, s.deps.Config.Server.Port)
	wsAddr := fmt.Sprintf("%s:%d", s.deps.Config.Server.Host, s.deps.Config.Server.WSPort)

	apiListener, err := net.Listen("tcp", apiAddr)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", apiAddr, err)
	}
	wsListener, err := net.Listen("tcp", wsAddr)
	if err != nil {
		apiListener.Close()
		return fmt.Errorf("ws listen %s: %w", wsAddr, err)
	}

	s.apiServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.wsServer = &http.Server{Handler: s.wsHandler()}

	s.listenerMu.Lock()
	s.apiListener = apiListener
	s.wsListener = wsListener
	s.listenerMu.Unlock()

	go func() {
		if err := s.apiServer.Serve(apiListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", err)
		}
	}()
	go func() {
		if err := s.wsServer.Serve(wsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ws server error", "error", err)
		}
	}()

	s.logger.Info("listening", "api", apiAddr, "ws", wsAddr)
	return nil
}

// CloseListeners is phase one of shutdown: it only closes the listening
// sockets so no new connections are accepted. Safe to call from a signal
// handler's goroutine.
func (s *Server) CloseListeners() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.apiListener != nil {
		s.apiListener.Close()
		s.apiListener = nil
	}
	if s.wsListener != nil {
		s.wsListener.Close()
		s.wsListener = nil
	}
}

// Shutdown is phase two: drain in-flight requests with a bounded wait.
func (s *Server) Shutdown(ctx context.Context) {
	s.CloseListeners()
	if s.apiServer != nil {
		if err := s.apiServer.Shutdown(ctx); err != nil {
			s.logger.Warn("api server shutdown", "error", err)
		}
	}
	if s.wsServer != nil {
		if err := s.wsServer.Shutdown(ctx); err != nil {
			s.logger.Warn("ws server shutdown", "error", err)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Status.healthSnapshot())
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Caps)
}
