package domain

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Result is returned to HTTP and serverless callers for both outcomes.
type Result struct {
	Status        string  `json:"status"`
	Message       string  `json:"message,omitempty"`
	OutputURL     string  `json:"output_url,omitempty"`
	ObjectKey     string  `json:"s3_key,omitempty"`
	JobID         string  `json:"job_id,omitempty"`
	UserID        string  `json:"user_id,omitempty"`
	OutputBytes   int64   `json:"video_size_bytes,omitempty"`
	ContentType   string  `json:"content_type,omitempty"`
	FrameCount    int     `json:"frame_count,omitempty"`
	RenderSeconds float64 `json:"render_time_seconds,omitempty"`
	LocalPath     string  `json:"local_path,omitempty"`
	Error         string  `json:"error,omitempty"`
	Kind          Kind    `json:"error_kind,omitempty"`
	Cached        bool    `json:"cached,omitempty"`
}

// Failed fills the failure fields from err and returns r.
func (r *Result) Failed(err error) *Result {
	r.Status = StatusFailed
	r.Error = err.Error()
	r.Kind = KindOf(err)
	return r
}
