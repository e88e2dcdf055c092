package diffusion

import "time"

// JobType is the kind of work a Job represents.
type JobType string

const (
	JobTxt2Img        JobType = "txt2img"
	JobImg2Img        JobType = "img2img"
	JobTxt2Vid        JobType = "txt2vid"
	JobUpscale        JobType = "upscale"
	JobConvert        JobType = "convert"
	JobModelDownload  JobType = "model_download"
	JobModelHash      JobType = "model_hash"
)

// JobStatus is a node in the job state machine described in spec §3.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
	StatusDeleted    JobStatus = "deleted"
)

// Progress reports the loader/worker step counters. Both fields are raw
// values forwarded from the native progress callback.
type Progress struct {
	Step  int `json:"step"`
	Total int `json:"total_steps"`
}

// Job is a single unit of queued work. ModelSettings is a *copy* of the
// loaded-context snapshot taken at enqueue time, never a live reference —
// this is what lets the UI replay a job's exact configuration later even
// after the model has since been swapped out.
type Job struct {
	JobID         string         `json:"job_id"`
	Type          JobType        `json:"type"`
	Status        JobStatus      `json:"status"`
	Params        map[string]any `json:"params"`
	ModelSettings LoadedSnapshot `json:"model_settings"`
	Progress      Progress       `json:"progress"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Outputs      []string `json:"outputs,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	LinkedJobID  string   `json:"linked_job_id,omitempty"`

	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	PreviousStatus JobStatus  `json:"previous_status,omitempty"`
}

// Clone returns a deep copy safe to hand out from under the store lock.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.ModelSettings = j.ModelSettings.Clone()
	if j.Params != nil {
		out.Params = make(map[string]any, len(j.Params))
		for k, v := range j.Params {
			out.Params[k] = v
		}
	}
	if j.Outputs != nil {
		out.Outputs = append([]string(nil), j.Outputs...)
	}
	return &out
}

// JobFilter narrows a queue listing. Zero values mean "no constraint" for
// every field except the implicit "exclude Deleted unless Status ==
// StatusDeleted" rule applied by the store.
type JobFilter struct {
	Status          JobStatus
	Type            JobType
	Search          string
	Architecture    string
	Model           string
	BeforeTimestamp *int64
	AfterTimestamp  *int64
}

// Page is an offset/limit paginated listing result.
type Page struct {
	Items         []*Job `json:"items"`
	TotalCount    int    `json:"total_count"`
	FilteredCount int    `json:"filtered_count"`
	Offset        int    `json:"offset"`
	Limit         int    `json:"limit"`
	HasMore       bool   `json:"has_more"`
}

// DateGroup is one day's worth of jobs in a grouped listing.
type DateGroup struct {
	Date      string `json:"date"`  // YYYY-MM-DD
	Label     string `json:"label"` // "Today" / "Yesterday" / "Mon D, YYYY"
	Timestamp int64  `json:"timestamp"`
	Count     int    `json:"count"`
	Items     []*Job `json:"items"`
}

// GroupedPage is a date-grouped, page-based listing result.
type GroupedPage struct {
	Groups     []DateGroup `json:"groups"`
	TotalCount int         `json:"total_count"`
	Page       int         `json:"page"`
	TotalPages int         `json:"total_pages"`
	Limit      int         `json:"limit"`
	HasMore    bool        `json:"has_more"`
	HasPrev    bool        `json:"has_prev"`
}
