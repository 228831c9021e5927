package model

import "time"

// JobRecord is the persisted unit of state for one tracked download.
// JSON keys match the on-disk state file format; changing a tag here
// changes which older state files can still be loaded.
type JobRecord struct {
	ID         string            `json:"-"`
	Status     Status            `json:"status"`
	Progress   float64           `json:"progress"`
	URL        string            `json:"url"`
	FilePath   *string           `json:"filePath"`
	Error      *string           `json:"error"`
	CreatedAt  float64           `json:"createdAt"`
	UpdatedAt  float64           `json:"updatedAt"`
	RetryCount int               `json:"retryCount"`
	Metadata   map[string]string `json:"metadata"`
}

// Clone returns a deep copy so callers never hold a reference into
// the store's live map.
func (r JobRecord) Clone() JobRecord {
	out := r
	if r.FilePath != nil {
		fp := *r.FilePath
		out.FilePath = &fp
	}
	if r.Error != nil {
		e := *r.Error
		out.Error = &e
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Touch stamps UpdatedAt with the current wall clock.
func (r *JobRecord) Touch() {
	r.UpdatedAt = float64(time.Now().UnixMilli()) / 1000
}

// Age reports how long ago the record was last updated.
func (r JobRecord) Age(now time.Time) time.Duration {
	updated := time.Unix(0, int64(r.UpdatedAt*float64(time.Second)))
	return now.Sub(updated)
}

// SetError moves the record to an error state, clearing the completed
// file path so the filePath/error exclusivity invariant holds.
func (r *JobRecord) SetError(msg string) {
	r.Status = StatusError
	r.Error = &msg
	r.FilePath = nil
	r.Touch()
}

// SetCompleted marks the record completed with its artifact path.
func (r *JobRecord) SetCompleted(filePath string) {
	r.Status = StatusCompleted
	r.Progress = 100
	r.FilePath = &filePath
	r.Error = nil
	r.Touch()
}
