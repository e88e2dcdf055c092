// Command server is the orchestration server wrapping the native
// image/video diffusion library: REST + WebSocket API, model lifecycle
// management, a persistent single-consumer job queue, live previews, and
// the embedded assistant bridge.
//
// Start it with:
//
//	server serve --config config.json
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fszontagh/sdcpp-orchestrator/internal/assistant"
	"github.com/fszontagh/sdcpp-orchestrator/internal/catalog"
	"github.com/fszontagh/sdcpp-orchestrator/internal/config"
	"github.com/fszontagh/sdcpp-orchestrator/internal/download"
	"github.com/fszontagh/sdcpp-orchestrator/internal/errcapture"
	"github.com/fszontagh/sdcpp-orchestrator/internal/eventbus"
	"github.com/fszontagh/sdcpp-orchestrator/internal/httpapi"
	"github.com/fszontagh/sdcpp-orchestrator/internal/jobqueue"
	"github.com/fszontagh/sdcpp-orchestrator/internal/lifecycle"
	"github.com/fszontagh/sdcpp-orchestrator/internal/previewbuf"
	"github.com/fszontagh/sdcpp-orchestrator/internal/promptenhance"
	"github.com/fszontagh/sdcpp-orchestrator/internal/registry"
	"github.com/fszontagh/sdcpp-orchestrator/internal/sdruntime"
	"github.com/fszontagh/sdcpp-orchestrator/internal/settings"
	"github.com/fszontagh/sdcpp-orchestrator/internal/toolexec"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Diffusion orchestration server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})
	return root
}

func newServeCmd() *cobra.Command {
	var (
		configPath   string
		catalogPath  string
		logLevel     string
		hostOverride string
		portOverride int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestration server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if hostOverride != "" {
				cfg.Server.Host = hostOverride
			}
			if portOverride != 0 {
				cfg.Server.Port = portOverride
			}
			return serve(cfg, catalogPath, logLevel)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.json", "path to the JSON config file")
	cmd.Flags().StringVar(&catalogPath, "architectures", "model_architectures.json", "path to the architecture preset file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")
	cmd.Flags().StringVar(&hostOverride, "host", "", "override server.host")
	cmd.Flags().IntVar(&portOverride, "port", 0, "override server.port")
	return cmd
}

// toolBridge adapts the concrete tool executor to the interface the
// assistant client depends on (kept separate to avoid an import cycle).
type toolBridge struct {
	exec *toolexec.Executor
}

func (b *toolBridge) IsBackendTool(name string) bool { return toolexec.IsBackendTool(name) }

func (b *toolBridge) Execute(name string, params json.RawMessage) (json.RawMessage, error) {
	return b.exec.Execute(name, params)
}

func serve(cfg *config.Config, catalogPath, logLevel string) error {
	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	// The native library is linked by the embedding build; this binary
	// runs every non-GPU feature and fails generation jobs cleanly.
	var engine sdruntime.Engine = sdruntime.NewUnavailableEngine("")

	status := httpapi.NewStatusSource(cfg.Server.WSPort)
	bus := eventbus.New(status, logger)
	go bus.Run()

	reg := registry.New(cfg.Paths, logger)
	if err := reg.Scan(); err != nil {
		return fmt.Errorf("initial model scan: %w", err)
	}

	errRing := errcapture.New()
	lc := lifecycle.New(engine, reg, bus, logger)

	// retention 0 behaves identically to the recycle bin being disabled
	retention := time.Duration(cfg.RecycleBin.RetentionMinutes) * time.Minute
	binEnabled := cfg.RecycleBin.Enabled && retention > 0

	store := jobqueue.NewStore(
		filepath.Join(cfg.Paths.Output, "queue_state.json"),
		binEnabled, retention, bus, logger,
	)
	if err := store.LoadState(); err != nil {
		return fmt.Errorf("recover job state: %w", err)
	}

	previews := previewbuf.New()
	dl := download.New(cfg.Paths, logger)

	worker := jobqueue.New(jobqueue.Config{
		Store:      store,
		Lifecycle:  lc,
		Registry:   reg,
		Previews:   previews,
		Errors:     errRing,
		Bus:        bus,
		Engine:     engine,
		Downloader: dl,
		OutputDir:  cfg.Paths.Output,
		Preview: jobqueue.PreviewSettings{
			Enabled: cfg.Preview.Enabled,
			Mode:    cfg.Preview.Mode,
			MaxSize: cfg.Preview.MaxSize,
			Quality: cfg.Preview.Quality,
		},
		Logger: logger,
	})
	go worker.Run()

	status.Bind(lc, store, worker)

	cat, err := catalog.Load(catalogPath, logger)
	if err != nil {
		return fmt.Errorf("load architecture catalog: %w", err)
	}
	if err := cat.Watch(); err != nil {
		logger.Warn("architecture catalog watcher unavailable", "error", err)
	}

	userSettings, err := settings.Load(filepath.Join(cfg.Paths.Output, "user_settings.json"))
	if err != nil {
		return fmt.Errorf("load user settings: %w", err)
	}

	tools := &toolBridge{exec: toolexec.New(store, lc, reg, cat)}

	assistantFactory := func(acfg config.AssistantConfig) *assistant.Client {
		if !acfg.Enabled || acfg.Endpoint == "" {
			return nil
		}
		provider := assistant.NewProvider(acfg.Endpoint, acfg.APIKey, acfg.Model)
		history := assistant.NewHistory(
			filepath.Join(cfg.Paths.Output, "assistant_history.json"),
			acfg.MaxHistoryTurns, logger,
		)
		if err := history.Load(); err != nil {
			logger.Warn("assistant history unreadable, starting fresh", "error", err)
		}
		return assistant.NewClient(provider, history, tools,
			acfg.SystemPrompt, acfg.Model, acfg.Temperature, acfg.MaxTokens, logger)
	}

	var enhancer *promptenhance.Enhancer
	if cfg.Assistant.Enabled && cfg.Assistant.Endpoint != "" {
		provider := assistant.NewProvider(cfg.Assistant.Endpoint, cfg.Assistant.APIKey, cfg.Assistant.Model)
		enhancer = promptenhance.New(provider,
			filepath.Join(cfg.Paths.Output, "ollama_history.json"),
			cfg.Assistant.MaxHistoryTurns, cfg.Assistant.Model, logger)
		if err := enhancer.Load(); err != nil {
			logger.Warn("prompt-enhancement history unreadable, starting fresh", "error", err)
		}
	}

	server := httpapi.New(httpapi.Deps{
		Config:           cfg,
		Registry:         reg,
		Lifecycle:        lc,
		Store:            store,
		Worker:           worker,
		Previews:         previews,
		Bus:              bus,
		Catalog:          cat,
		Settings:         userSettings,
		Download:         dl,
		Enhancer:         enhancer,
		Status:           status,
		Caps:             sdruntime.EngineCapabilities(engine),
		Assistant:        assistantFactory(cfg.Assistant),
		AssistantFactory: assistantFactory,
		Logger:           logger,
	})
	server.RegisterMetrics(prometheus.DefaultRegisterer)

	if err := server.Start(); err != nil {
		return err
	}
	logger.Info("server started", "version", version)

	binStop := make(chan struct{})
	if binEnabled {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if purged := store.PurgeExpired(); purged > 0 {
						logger.Info("purged expired recycle-bin entries", "count", purged)
					}
				case <-binStop:
					return
				}
			}
		}()
	}

	// Two-phase shutdown: the first signal stops accepting new work and
	// requests a bus stop; a second signal force-exits.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("shutdown requested")
	close(binStop)
	server.CloseListeners()
	bus.RequestStop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
		worker.Stop()
		bus.Stop()
		cat.Stop()
		if err := lc.Unload(); err != nil {
			logger.Warn("unload model on shutdown", "error", err)
		}
		if err := lc.UnloadUpscaler(); err != nil {
			logger.Warn("unload upscaler on shutdown", "error", err)
		}
		if err := store.Save(); err != nil {
			logger.Warn("persist job state on shutdown", "error", err)
		}
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-sigCh:
		logger.Warn("second signal received, forcing exit")
		os.Exit(1)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
