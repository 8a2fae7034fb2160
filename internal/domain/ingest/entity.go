package ingest

import (
	"time"

	"opsdash/internal/domain"

	"gorm.io/datatypes"
)

type ImportStatus string

const (
	ImportSuccess ImportStatus = "success"
	ImportFailed  ImportStatus = "failed"
)

// StatusCancelled is the canonical spelling every cancellation variant is
// normalized to before a record is stored.
const StatusCancelled = "cancelled"

// Record is one operational event as persisted. ExternalID is the identifier
// supplied by the upstream client and the upsert target.
type Record struct {
	ExternalID  string         `gorm:"column:external_id;primaryKey" json:"id"`
	AssetID     string         `gorm:"column:asset_id;index" json:"asset,omitempty"`
	AssetType   string         `gorm:"column:asset_type" json:"type,omitempty"`
	Party       string         `gorm:"column:party" json:"party,omitempty"`
	Status      string         `gorm:"column:status;index" json:"status,omitempty"`
	ArrivalAt   *time.Time     `gorm:"column:arrival_at" json:"arrival,omitempty"`
	DepartureAt *time.Time     `gorm:"column:departure_at" json:"departure,omitempty"`
	EffortHours *float64       `gorm:"column:effort_hours" json:"effortHours,omitempty"`
	Raw         datatypes.JSON `gorm:"column:raw" json:"-"`
	ImportLogID string         `gorm:"column:import_log_id;index" json:"importLogId"`
	ImportedAt  time.Time      `gorm:"column:imported_at" json:"importedAt"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"-"`
	UpdatedAt   time.Time      `gorm:"column:updated_at" json:"-"`
}

func (Record) TableName() string { return "operational_records" }

// ImportLog is the append-only audit row written for every commit attempt.
type ImportLog struct {
	ID             string         `gorm:"column:id;primaryKey" json:"id"`
	ImportedAt     time.Time      `gorm:"column:imported_at;index" json:"importedAt"`
	RecordCount    int            `gorm:"column:record_count" json:"recordCount"`
	Source         string         `gorm:"column:source" json:"source"`
	FileName       *string        `gorm:"column:file_name" json:"fileName,omitempty"`
	ImportedBy     int64          `gorm:"column:imported_by;not null" json:"importedBy"`
	Status         ImportStatus   `gorm:"column:status;not null" json:"status"`
	ErrorDetail    *string        `gorm:"column:error_detail" json:"errorDetail,omitempty"`
	IdempotencyKey *string        `gorm:"column:idempotency_key;index" json:"idempotencyKey,omitempty"`
	Summary        datatypes.JSON `gorm:"column:summary" json:"summary,omitempty"`

	Importer *domain.User `gorm:"foreignKey:ImportedBy;references:ID" json:"-"`
}

func (ImportLog) TableName() string { return "import_logs" }
