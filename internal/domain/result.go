package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// StringArray stores a string slice as JSON text.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Field is one named cell of a source row.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RowData is the ordered column->value content of a source row.
type RowData []Field

// Get returns the value of the first field called name.
func (r RowData) Get(name string) (string, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Values returns the cell values in column order.
func (r RowData) Values() []string {
	values := make([]string, len(r))
	for i, f := range r {
		values[i] = f.Value
	}
	return values
}

// Value implements the driver.Valuer interface for database serialization.
func (r RowData) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]Field(r))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (r *RowData) Scan(value interface{}) error {
	if value == nil {
		*r = RowData{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan RowData")
		}
		bytes = []byte(str)
	}
	var fields []Field
	if err := json.Unmarshal(bytes, &fields); err != nil {
		return err
	}
	*r = fields
	return nil
}

// ResultRecord is the durable pairing of a source row and its outcome.
// (JobID, RowIndex) is unique and RowIndex grows in stream order.
type ResultRecord struct {
	ID          uint              `gorm:"primaryKey;autoIncrement" json:"-"`
	JobID       string            `gorm:"type:text;not null;uniqueIndex:idx_results_job_row,priority:1" json:"job_id"`
	RowIndex    int               `gorm:"not null;uniqueIndex:idx_results_job_row,priority:2" json:"row_index"`
	IP          string            `gorm:"type:text" json:"ip"`
	Success     bool              `json:"success"`
	ConsumerISP bool              `gorm:"index" json:"consumer_isp"`
	Row         RowData           `gorm:"type:text" json:"row"`
	Outcome     EnrichmentOutcome `gorm:"type:text" json:"outcome"`
	CreatedAt   time.Time         `json:"created_at"`
}

// TableName returns the database table name for ResultRecord.
func (ResultRecord) TableName() string {
	return "enrichment_results"
}

// NewResultRecord pairs a row with its outcome.
func NewResultRecord(jobID string, rowIndex int, row RowData, outcome EnrichmentOutcome) ResultRecord {
	return ResultRecord{
		JobID:       jobID,
		RowIndex:    rowIndex,
		IP:          outcome.IP,
		Success:     outcome.Success,
		ConsumerISP: outcome.ConsumerISP,
		Row:         row,
		Outcome:     outcome,
	}
}

// ResultSummary aggregates persisted results for one job.
type ResultSummary struct {
	Count int
	Tally Tally
}
