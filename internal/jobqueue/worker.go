package jobqueue

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/fszontagh/sdcpp-orchestrator/internal/errcapture"
	"github.com/fszontagh/sdcpp-orchestrator/internal/eventbus"
	"github.com/fszontagh/sdcpp-orchestrator/internal/lifecycle"
	"github.com/fszontagh/sdcpp-orchestrator/internal/previewbuf"
	"github.com/fszontagh/sdcpp-orchestrator/internal/registry"
	"github.com/fszontagh/sdcpp-orchestrator/internal/sdruntime"
	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

// Downloader fetches a model file from an external source (civitai,
// huggingface, or a raw URL). It is an injected collaborator: the
// download transport itself is out of scope for the worker.
type Downloader interface {
	Download(ctx context.Context, params map[string]any, onProgress func(downloaded, total int64)) (filePath string, err error)
}

// Worker is the single goroutine that drains the store's pending FIFO.
// Exactly one Worker runs per process.
type Worker struct {
	store      *Store
	lifecycle  *lifecycle.Lifecycle
	registry   *registry.Registry
	previews   *previewbuf.Buffer
	errors     *errcapture.Ring
	bus        *eventbus.Bus
	engine     sdruntime.Engine
	downloader Downloader
	outputDir  string

	previewMu  sync.RWMutex
	previewCfg PreviewSettings

	logger *slog.Logger

	progressMu   sync.Mutex
	currentJobID string
	progress     diffusion.Progress

	stopCh chan struct{}
	doneCh chan struct{}
}

// PreviewSettings is the worker's live-preview configuration. It can be
// replaced at runtime via SetPreviewSettings; the worker reads a copy at
// the start of each job, so a change never affects a job mid-flight.
type PreviewSettings struct {
	Enabled bool   `json:"enabled"`
	Mode    string `json:"mode"` // none | proj | tae | vae
	MaxSize int    `json:"max_size"`
	Quality int    `json:"quality"`
}

// Config groups the worker's construction-time dependencies.
type Config struct {
	Store          *Store
	Lifecycle      *lifecycle.Lifecycle
	Registry       *registry.Registry
	Previews       *previewbuf.Buffer
	Errors         *errcapture.Ring
	Bus            *eventbus.Bus
	Engine     sdruntime.Engine
	Downloader Downloader
	OutputDir  string
	Preview    PreviewSettings
	Logger     *slog.Logger
}

// New builds a Worker from cfg.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:          cfg.Store,
		lifecycle:      cfg.Lifecycle,
		registry:       cfg.Registry,
		previews:       cfg.Previews,
		errors:         cfg.Errors,
		bus:            cfg.Bus,
		engine:     cfg.Engine,
		downloader: cfg.Downloader,
		outputDir:  cfg.OutputDir,
		previewCfg: cfg.Preview,
		logger:     logger,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Run drains the pending FIFO until Stop is called. It must run on its
// own goroutine. An in-flight job runs to completion: stop only takes
// effect at the next dequeue attempt, matching the native library's lack
// of mid-step cancellation.
func (w *Worker) Run() {
	defer close(w.doneCh)
	for {
		job, ok := w.store.Dequeue(w.stopCh)
		if !ok {
			return
		}
		w.process(job)
	}
}

// Stop requests shutdown and waits up to 5s for the in-flight job (if
// any) to finish, then returns regardless — the caller detaches.
func (w *Worker) Stop() {
	close(w.stopCh)
	select {
	case <-w.doneCh:
	case <-time.After(5 * time.Second):
		w.logger.Warn("worker did not stop within timeout, detaching")
	}
}

// PreviewSettings returns the current live-preview configuration.
func (w *Worker) PreviewSettings() PreviewSettings {
	w.previewMu.RLock()
	defer w.previewMu.RUnlock()
	return w.previewCfg
}

// SetPreviewSettings replaces the live-preview configuration. The change
// takes effect at the next job.
func (w *Worker) SetPreviewSettings(p PreviewSettings) {
	w.previewMu.Lock()
	w.previewCfg = p
	w.previewMu.Unlock()
}

// CurrentProgress reports the in-flight job's progress for HTTP polling,
// without touching the store lock.
func (w *Worker) CurrentProgress() (jobID string, progress diffusion.Progress) {
	w.progressMu.Lock()
	defer w.progressMu.Unlock()
	return w.currentJobID, w.progress
}

func (w *Worker) process(job *diffusion.Job) {
	w.progressMu.Lock()
	w.currentJobID = job.JobID
	w.progress = diffusion.Progress{}
	w.progressMu.Unlock()

	onProgress := func(step, total int) {
		w.progressMu.Lock()
		w.progress = diffusion.Progress{Step: step, Total: total}
		w.progressMu.Unlock()
		w.publish(diffusion.EventJobProgress, job.JobID, map[string]any{"job_id": job.JobID, "step": step, "total_steps": total})
	}

	preview := w.PreviewSettings()

	var onPreview sdruntime.PreviewFunc
	if preview.Enabled && preview.Mode != "none" {
		frameCount := 0
		onPreview = func(step, _, width, height int, isNoisy bool, frame []byte) {
			frameCount++
			jpegBytes, w2, h2, err := w.encodePreview(frame, width, height, preview)
			if err != nil {
				w.logger.Warn("preview encode failed", "job_id", job.JobID, "error", err)
				return
			}
			w.previews.Set(job.JobID, previewbuf.Frame{JPEG: jpegBytes, Width: w2, Height: h2, Step: step, FrameCount: frameCount, IsNoisy: isNoisy})
			w.publish(diffusion.EventJobPreview, job.JobID, diffusion.PreviewEventData{
				JobID: job.JobID, Step: step, FrameCount: frameCount, Width: w2, Height: h2,
				IsNoisy: isNoisy, PreviewURL: fmt.Sprintf("/jobs/%s/preview", job.JobID),
			})
		}
	}

	var (
		outputs []string
		failErr error
	)

	switch job.Type {
	case diffusion.JobTxt2Img, diffusion.JobImg2Img, diffusion.JobTxt2Vid:
		outputs, failErr = w.runGeneration(job, onProgress, onPreview)
	case diffusion.JobUpscale:
		outputs, failErr = w.runUpscale(job, onProgress)
	case diffusion.JobConvert:
		failErr = w.runConvert(job)
	case diffusion.JobModelDownload:
		outputs, failErr = w.runModelDownload(job, onProgress)
	case diffusion.JobModelHash:
		outputs, failErr = w.runModelHash(job, onProgress)
	default:
		failErr = fmt.Errorf("unknown job type: %s", job.Type)
	}

	w.finalize(job.JobID, outputs, failErr)

	w.progressMu.Lock()
	w.currentJobID = ""
	w.progressMu.Unlock()
	w.previews.Clear(job.JobID)

	if err := w.store.Save(); err != nil {
		w.logger.Error("failed to persist job state", "error", err)
	}
}

// finalize writes the terminal status back into the job record. Any
// error becomes Failed with the exception message, followed by any
// recent Error Capture entries in parentheses.
func (w *Worker) finalize(jobID string, outputs []string, failErr error) {
	w.store.Update(jobID, func(job *diffusion.Job) {
		now := time.Now().UTC()
		job.CompletedAt = &now
		job.Progress = diffusion.Progress{Step: 1, Total: 1}
		if failErr != nil {
			msg := failErr.Error()
			if captured := w.errors.GetAndClear(); captured != "" {
				msg = msg + " (" + captured + ")"
			}
			job.Status = diffusion.StatusFailed
			job.ErrorMessage = msg
			w.publish(diffusion.EventJobStatusChanged, jobID, map[string]any{"job_id": jobID, "status": job.Status, "error": msg})
			return
		}
		job.Status = diffusion.StatusCompleted
		job.Outputs = outputs
		w.publish(diffusion.EventJobStatusChanged, jobID, map[string]any{"job_id": jobID, "status": job.Status})
	})
}

func (w *Worker) runGeneration(job *diffusion.Job, onProgress sdruntime.ProgressFunc, onPreview sdruntime.PreviewFunc) ([]string, error) {
	prompt, _ := job.Params["prompt"].(string)
	cleanedPrompt, loraTags := ExtractLoRATags(prompt)
	params := cloneParams(job.Params)
	params["prompt"] = cleanedPrompt
	if len(loraTags) > 0 {
		params["lora_tags"] = loraTags
	}

	var result sdruntime.GenerateResult
	err := w.lifecycle.WithContext(func(ctx sdruntime.Context) error {
		r, genErr := w.engine.Generate(context.Background(), ctx, sdruntime.GenerateRequest{
			JobType: string(job.Type), Params: params,
		}, onProgress, onPreview)
		if genErr != nil {
			return genErr
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	jobDir := filepath.Join(w.outputDir, job.JobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := writeJobConfig(jobDir, job, params); err != nil {
		return nil, fmt.Errorf("write config.json: %w", err)
	}
	return result.OutputPaths, nil
}

func (w *Worker) runUpscale(job *diffusion.Job, onProgress sdruntime.ProgressFunc) ([]string, error) {
	inputPath, _ := job.Params["input_path"].(string)
	var result sdruntime.GenerateResult
	err := w.lifecycle.WithUpscalerContext(func(ctx sdruntime.UpscalerContext) error {
		r, upErr := w.engine.Upscale(context.Background(), ctx, sdruntime.UpscaleRequest{
			InputPath: inputPath, Params: cloneParams(job.Params),
		}, onProgress)
		if upErr != nil {
			return upErr
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upscale: %w", err)
	}
	return result.OutputPaths, nil
}

func (w *Worker) runConvert(job *diffusion.Job) error {
	inputPath, _ := job.Params["input_path"].(string)
	outputPath, _ := job.Params["output_path"].(string)
	outputType, _ := job.Params["output_type"].(string)
	if inputPath == "" || outputPath == "" || outputType == "" {
		return fmt.Errorf("convert requires input_path, output_path, and output_type")
	}

	if err := w.engine.Convert(context.Background(), sdruntime.ConvertRequest{
		InputPath: inputPath, OutputPath: outputPath, OutputType: outputType,
	}); err != nil {
		return fmt.Errorf("convert: %w", err)
	}

	if err := w.registry.Scan(); err != nil {
		w.logger.Warn("registry rescan after convert failed", "error", err)
	}
	return nil
}

func (w *Worker) runModelDownload(job *diffusion.Job, onProgress sdruntime.ProgressFunc) ([]string, error) {
	if w.downloader == nil {
		return nil, fmt.Errorf("no downloader configured")
	}
	filePath, err := w.downloader.Download(context.Background(), cloneParams(job.Params), func(downloaded, total int64) {
		pct := 0
		if total > 0 {
			pct = int(downloaded * 100 / total)
		}
		onProgress(pct, 100)
	})
	if err != nil {
		if job.LinkedJobID != "" {
			w.store.Update(job.LinkedJobID, func(hashJob *diffusion.Job) {
				now := time.Now().UTC()
				hashJob.Status = diffusion.StatusFailed
				hashJob.ErrorMessage = err.Error()
				hashJob.CompletedAt = &now
			})
		}
		return nil, fmt.Errorf("download model: %w", err)
	}

	if job.LinkedJobID != "" {
		w.store.Update(job.LinkedJobID, func(hashJob *diffusion.Job) {
			hashJob.Params["file_path"] = filePath
		})
		w.store.QueueHash(job.LinkedJobID)
	}

	if err := w.registry.Scan(); err != nil {
		w.logger.Warn("registry rescan after download failed", "error", err)
	}
	return []string{filePath}, nil
}

func (w *Worker) runModelHash(job *diffusion.Job, onProgress sdruntime.ProgressFunc) ([]string, error) {
	filePath, _ := job.Params["file_path"].(string)
	if filePath == "" {
		return nil, fmt.Errorf("model_hash job missing file_path")
	}
	onProgress(0, 100)

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("hash: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash: %w", err)
	}
	onProgress(100, 100)
	return []string{hex.EncodeToString(h.Sum(nil))}, nil
}

// encodePreview resizes the raw RGB frame down to maxSize (aspect
// preserved) and JPEG-encodes it at the configured quality.
func (w *Worker) encodePreview(rgb []byte, srcW, srcH int, preview PreviewSettings) (jpegBytes []byte, outW, outH int, err error) {
	if srcW <= 0 || srcH <= 0 || len(rgb) < srcW*srcH*3 {
		return nil, 0, 0, fmt.Errorf("invalid preview frame %dx%d", srcW, srcH)
	}

	src := image.NewRGBA(image.Rect(0, 0, srcW, srcH))
	for y := 0; y < srcH; y++ {
		for x := 0; x < srcW; x++ {
			i := (y*srcW + x) * 3
			src.Set(x, y, rgbColor(rgb[i], rgb[i+1], rgb[i+2]))
		}
	}

	outW, outH = scaleToMax(srcW, srcH, preview.MaxSize)
	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	quality := preview.Quality
	if quality <= 0 {
		quality = 75
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, 0, 0, err
	}
	return buf.Bytes(), outW, outH, nil
}

func scaleToMax(w, h, max int) (int, int) {
	if max <= 0 || (w <= max && h <= max) {
		return w, h
	}
	if w >= h {
		return max, h * max / w
	}
	return w * max / h, max
}

func writeJobConfig(jobDir string, job *diffusion.Job, materializedParams map[string]any) error {
	doc := map[string]any{
		"job_id":         job.JobID,
		"type":           job.Type,
		"created_at":     job.CreatedAt,
		"params":         materializedParams,
		"model_settings": job.ModelSettings,
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(jobDir, "config.json"), raw, 0o644)
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func (w *Worker) publish(eventType diffusion.EventType, jobID string, data any) {
	if w.bus != nil {
		w.bus.Broadcast(eventType, jobID, data)
	}
}

func rgbColor(r, g, b byte) color.RGBA {
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
