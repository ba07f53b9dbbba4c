package types

import (
	"time"

	"gorm.io/datatypes"
)

type ImportType string

const (
	ImportTypeWebhook ImportType = "webhook"
	ImportTypeFile    ImportType = "file_upload"
)

type ImportStatus string

const (
	ImportStatusCompleted ImportStatus = "completed"
	ImportStatusPartial   ImportStatus = "partial"
	ImportStatusFailed    ImportStatus = "failed"
)

// RecordError identifies a record that failed inside an import run.
type RecordError struct {
	Ticket string `json:"ticket"`
	Error  string `json:"error"`
}

// ImportRun is the write-once audit row for one pipeline invocation.
type ImportRun struct {
	ID           string         `gorm:"primaryKey" json:"id"`
	UserID       string         `gorm:"not null;index" json:"user_id"`
	ConnectionID *string        `gorm:"index" json:"connection_id"`
	ImportType   ImportType     `gorm:"not null" json:"import_type"`
	SourceName   string         `json:"source_name"`
	Imported     int            `json:"imported"`
	Skipped      int            `json:"skipped"`
	Errored      int            `json:"errored"`
	Status       ImportStatus   `gorm:"not null" json:"status"`
	ErrorDetails datatypes.JSON `json:"error_details"`
	Metadata     datatypes.JSON `json:"metadata"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
}

func (ImportRun) TableName() string {
	return "import_history"
}
