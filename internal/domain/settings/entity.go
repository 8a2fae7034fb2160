package settings

import (
	"time"
)

// settingsRowID is the primary key of the single settings row.
const settingsRowID = 1

// Settings are the admin-tunable ingestion limits. They are read fresh on
// every request so a change applies without a restart.
type Settings struct {
	ID                     int64     `gorm:"column:id;primaryKey" json:"-"`
	MaxPayloadBytes        int64     `gorm:"column:max_payload_bytes" json:"maxPayloadBytes"`
	RateLimitWindowSeconds int       `gorm:"column:rate_limit_window_seconds" json:"rateLimitWindowSeconds"`
	RateLimitMax           int       `gorm:"column:rate_limit_max" json:"rateLimitMax"`
	ChunkTTLSeconds        int       `gorm:"column:chunk_ttl_seconds" json:"chunkTtlSeconds"`
	DefaultEffortHours     float64   `gorm:"column:default_effort_hours" json:"defaultEffortHours"`
	UpdatedBy              *int64    `gorm:"column:updated_by" json:"updatedBy,omitempty"`
	UpdatedAt              time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (Settings) TableName() string { return "ingest_settings" }

func (s Settings) RateLimitWindow() time.Duration {
	return time.Duration(s.RateLimitWindowSeconds) * time.Second
}

func (s Settings) ChunkTTL() time.Duration {
	return time.Duration(s.ChunkTTLSeconds) * time.Second
}
