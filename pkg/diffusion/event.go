package diffusion

import "time"

// EventType names a broadcastable event kind.
type EventType string

const (
	EventJobAdded           EventType = "job_added"
	EventJobStatusChanged   EventType = "job_status_changed"
	EventJobProgress        EventType = "job_progress"
	EventJobPreview         EventType = "job_preview"
	EventJobCancelled       EventType = "job_cancelled"
	EventJobDeleted         EventType = "job_deleted"
	EventJobRestored        EventType = "job_restored"
	EventModelLoadingProgress EventType = "model_loading_progress"
	EventModelLoaded        EventType = "model_loaded"
	EventModelLoadFailed    EventType = "model_load_failed"
	EventModelUnloaded      EventType = "model_unloaded"
	EventUpscalerLoaded     EventType = "upscaler_loaded"
	EventUpscalerUnloaded   EventType = "upscaler_unloaded"
	EventServerStatus       EventType = "server_status"
)

// Event is the envelope broadcast to every WebSocket subscriber.
type Event struct {
	Type      EventType `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// PreviewEventData is the metadata-only payload published for
// job_preview; the JPEG bytes themselves are never broadcast, only
// fetchable via GET /jobs/{id}/preview.
type PreviewEventData struct {
	JobID      string `json:"job_id"`
	Step       int    `json:"step"`
	FrameCount int    `json:"frame_count"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	IsNoisy    bool   `json:"is_noisy"`
	PreviewURL string `json:"preview_url"`
}
