package models

import "time"

type ImportType string

const (
	ImportStudents         ImportType = "students"
	ImportBuses            ImportType = "buses"
	ImportTransportDetails ImportType = "transport_details"
	ImportLunchDetails     ImportType = "lunch_details"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// RowIssue pins an error or warning to a row/column of the uploaded file.
// Row numbering is 1-based over data rows, the header row excluded.
type RowIssue struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

// ImportRow is one parsed data row, keyed by canonical column name.
// Unknown columns are dropped at parse time.
type ImportRow struct {
	Number int
	Values map[string]string
}

// ImportValidation is the result of a dry-run parse: structural problems
// plus a small sample of rows for the upload preview.
type ImportValidation struct {
	Type      ImportType  `json:"type"`
	TotalRows int         `json:"total_rows"`
	Errors    []RowIssue  `json:"errors,omitempty"`
	Warnings  []RowIssue  `json:"warnings,omitempty"`
	Sample    []ImportRow `json:"sample,omitempty"`
}

func (v ImportValidation) OK() bool { return len(v.Errors) == 0 }

type ImportJob struct {
	ID             string     `db:"id"`
	Type           ImportType `db:"type"`
	Status         JobStatus  `db:"status"`
	TotalRows      int        `db:"total_rows"`
	ProcessedRows  int        `db:"processed_rows"`
	SuccessfulRows int        `db:"successful_rows"`
	FailedRows     int        `db:"failed_rows"`
	Errors         []RowIssue
	Warnings       []RowIssue
	// FailureReason is set only on unrecoverable (job-level) failure.
	FailureReason string     `db:"failure_reason"`
	StartedAt     *time.Time `db:"started_at"`
	CompletedAt   *time.Time `db:"completed_at"`
}

func (j ImportJob) ProgressPercentage() float64 {
	if j.TotalRows == 0 {
		return 0
	}
	return float64(j.ProcessedRows) / float64(j.TotalRows) * 100
}

// SuccessRate communicates batch quality separately from completion:
// a job completes even when some rows failed.
func (j ImportJob) SuccessRate() float64 {
	if j.TotalRows == 0 {
		return 0
	}
	return float64(j.SuccessfulRows) / float64(j.TotalRows)
}
