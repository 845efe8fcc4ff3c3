package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncKind represents what a sync run synchronizes
type SyncKind string

const (
	SyncKindFull           SyncKind = "FULL"
	SyncKindProducts       SyncKind = "PRODUCTS"
	SyncKindInventory      SyncKind = "INVENTORY"
	SyncKindQuickInventory SyncKind = "QUICK_INVENTORY"
	SyncKindPrices         SyncKind = "PRICES"
	SyncKindImages         SyncKind = "IMAGES"
)

// SyncStatus represents the status of a sync run
type SyncStatus string

const (
	SyncStatusRunning   SyncStatus = "RUNNING"
	SyncStatusCompleted SyncStatus = "COMPLETED"
	SyncStatusFailed    SyncStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed
func (s SyncStatus) IsTerminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusFailed
}

// TriggerType represents what triggered the sync
type TriggerType string

const (
	TriggerManual    TriggerType = "MANUAL"
	TriggerScheduled TriggerType = "SCHEDULED"
)

// SyncRun records one sync invocation from start to its terminal state
type SyncRun struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	Kind        SyncKind    `gorm:"type:varchar(50);not null;index:idx_sync_runs_kind" json:"kind"`
	Status      SyncStatus  `gorm:"type:varchar(50);not null;index:idx_sync_runs_status" json:"status"`
	TriggeredBy TriggerType `gorm:"type:varchar(50);not null" json:"triggeredBy"`

	StartedAt    time.Time  `gorm:"not null" json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	TotalRecords int        `json:"totalRecords"`
	ErrorMessage string     `gorm:"type:text" json:"errorMessage,omitempty"`
	Details      JSONB      `gorm:"type:jsonb" json:"details,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (SyncRun) TableName() string {
	return "sync_runs"
}

func (r *SyncRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Duration returns how long the run took, or has been running
func (r *SyncRun) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}
