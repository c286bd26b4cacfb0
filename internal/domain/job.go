package domain

import (
	"time"
)

// JobStatus represents the lifecycle state of an enrichment job.
// Values include JobStatusPending, JobStatusProcessing, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether moving from s to next keeps the lifecycle
// monotonic. Re-asserting the current non-terminal state is allowed so an
// interrupted job can be resumed while processing.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusPending || next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusProcessing || next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// EnrichmentOptions selects which enrichment groups are copied into outcomes.
type EnrichmentOptions struct {
	IncludeGeolocation bool `json:"include_geolocation"`
	IncludeDomain      bool `json:"include_domain"`
	IncludeCompany     bool `json:"include_company"`
	IncludeNetwork     bool `json:"include_network"`
}

// AllEnrichments enables every enrichment group.
func AllEnrichments() EnrichmentOptions {
	return EnrichmentOptions{
		IncludeGeolocation: true,
		IncludeDomain:      true,
		IncludeCompany:     true,
		IncludeNetwork:     true,
	}
}

// Job represents one batch enrichment submission and its progress.
//
// ProcessedRows always equals SuccessfulRows+FailedRows, and Checkpoint never
// exceeds ProcessedRows. TotalRows stays nil until the source stream has been
// fully read.
type Job struct {
	ID         string `gorm:"type:text;primaryKey" json:"id"`
	SourceName string `gorm:"type:text" json:"source_name"`
	SourceKey  string `gorm:"type:text;not null" json:"-"`
	IPColumn   string `gorm:"type:text;not null" json:"ip_column"`

	EnrichmentOptions `gorm:"embedded"`

	Columns StringArray `gorm:"type:text" json:"columns"`

	TotalRows      *int `json:"total_rows"`
	ProcessedRows  int  `gorm:"default:0" json:"processed_rows"`
	SuccessfulRows int  `gorm:"default:0" json:"successful_rows"`
	FailedRows     int  `gorm:"default:0" json:"failed_rows"`
	FilteredRows   int  `gorm:"default:0" json:"filtered_rows"`

	Status                  JobStatus `gorm:"type:text;index;default:pending" json:"status"`
	Error                   *string   `gorm:"type:text" json:"error,omitempty"`
	Checkpoint              int       `gorm:"default:0" json:"checkpoint"`
	PartialResultsAvailable bool      `gorm:"default:false" json:"partial_results_available"`

	EnrichedKey string `gorm:"type:text" json:"-"`
	FilteredKey string `gorm:"type:text" json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string {
	return "enrichment_jobs"
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	c := *j
	c.Columns = append(StringArray(nil), j.Columns...)
	if j.TotalRows != nil {
		v := *j.TotalRows
		c.TotalRows = &v
	}
	if j.Error != nil {
		v := *j.Error
		c.Error = &v
	}
	if j.StartedAt != nil {
		v := *j.StartedAt
		c.StartedAt = &v
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// JobUpdate carries a partial set of job fields. Nil fields are left untouched.
type JobUpdate struct {
	Status                  *JobStatus
	Error                   *string
	Columns                 StringArray
	TotalRows               *int
	ProcessedRows           *int
	SuccessfulRows          *int
	FailedRows              *int
	FilteredRows            *int
	Checkpoint              *int
	PartialResultsAvailable *bool
	EnrichedKey             *string
	FilteredKey             *string
	StartedAt               *time.Time
	CompletedAt             *time.Time
}

// WithTally sets every counter from t.
func (u JobUpdate) WithTally(t Tally) JobUpdate {
	processed, successful, failed, filtered := t.Processed(), t.Successful, t.Failed, t.Filtered
	u.ProcessedRows = &processed
	u.SuccessfulRows = &successful
	u.FailedRows = &failed
	u.FilteredRows = &filtered
	return u
}

// ColumnValues maps the update onto database column names.
func (u JobUpdate) ColumnValues() map[string]interface{} {
	values := make(map[string]interface{})
	if u.Status != nil {
		values["status"] = *u.Status
	}
	if u.Error != nil {
		values["error"] = *u.Error
	}
	if u.Columns != nil {
		values["columns"] = u.Columns
	}
	if u.TotalRows != nil {
		values["total_rows"] = *u.TotalRows
	}
	if u.ProcessedRows != nil {
		values["processed_rows"] = *u.ProcessedRows
	}
	if u.SuccessfulRows != nil {
		values["successful_rows"] = *u.SuccessfulRows
	}
	if u.FailedRows != nil {
		values["failed_rows"] = *u.FailedRows
	}
	if u.FilteredRows != nil {
		values["filtered_rows"] = *u.FilteredRows
	}
	if u.Checkpoint != nil {
		values["checkpoint"] = *u.Checkpoint
	}
	if u.PartialResultsAvailable != nil {
		values["partial_results_available"] = *u.PartialResultsAvailable
	}
	if u.EnrichedKey != nil {
		values["enriched_key"] = *u.EnrichedKey
	}
	if u.FilteredKey != nil {
		values["filtered_key"] = *u.FilteredKey
	}
	if u.StartedAt != nil {
		values["started_at"] = *u.StartedAt
	}
	if u.CompletedAt != nil {
		values["completed_at"] = *u.CompletedAt
	}
	return values
}

// Apply copies the non-nil fields of u onto j.
func (u JobUpdate) Apply(j *Job) {
	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.Error != nil {
		v := *u.Error
		j.Error = &v
	}
	if u.Columns != nil {
		j.Columns = append(StringArray(nil), u.Columns...)
	}
	if u.TotalRows != nil {
		v := *u.TotalRows
		j.TotalRows = &v
	}
	if u.ProcessedRows != nil {
		j.ProcessedRows = *u.ProcessedRows
	}
	if u.SuccessfulRows != nil {
		j.SuccessfulRows = *u.SuccessfulRows
	}
	if u.FailedRows != nil {
		j.FailedRows = *u.FailedRows
	}
	if u.FilteredRows != nil {
		j.FilteredRows = *u.FilteredRows
	}
	if u.Checkpoint != nil {
		j.Checkpoint = *u.Checkpoint
	}
	if u.PartialResultsAvailable != nil {
		j.PartialResultsAvailable = *u.PartialResultsAvailable
	}
	if u.EnrichedKey != nil {
		j.EnrichedKey = *u.EnrichedKey
	}
	if u.FilteredKey != nil {
		j.FilteredKey = *u.FilteredKey
	}
	if u.StartedAt != nil {
		v := *u.StartedAt
		j.StartedAt = &v
	}
	if u.CompletedAt != nil {
		v := *u.CompletedAt
		j.CompletedAt = &v
	}
}

// Tally accumulates per-row outcome counts for a job.
type Tally struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Filtered   int `json:"filtered"`
}

// Processed returns the number of rows that reached an outcome.
func (t Tally) Processed() int {
	return t.Successful + t.Failed
}

// Add counts one outcome.
func (t *Tally) Add(o EnrichmentOutcome) {
	if o.Success {
		t.Successful++
	} else {
		t.Failed++
	}
	if o.ConsumerISP {
		t.Filtered++
	}
}
