package gormstore

import (
	"time"

	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PointEvent mirrors the point_events table. Seq grows with every insert and
// orders events that share occurred_at.
type PointEvent struct {
	Seq        int64                             `gorm:"column:seq;primaryKey;autoIncrement"`
	EventID    string                            `gorm:"type:uuid;not null;uniqueIndex:idx_point_events_event_id"`
	Payer      string                            `gorm:"not null;index:idx_point_events_payer"`
	Points     int64                             `gorm:"not null"`
	OccurredAt time.Time                         `gorm:"not null;index:idx_point_events_occurred"`
	Metadata   datatypes.JSONType[ledger.Origin] `gorm:"not null"`
	CreatedAt  time.Time                         `gorm:"not null"`
}

func (PointEvent) TableName() string { return "point_events" }

func (event *PointEvent) BeforeCreate(tx *gorm.DB) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	return nil
}
