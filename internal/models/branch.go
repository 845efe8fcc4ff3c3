package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Branch is a physical store location mirrored from a POS storage.
type Branch struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalID string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_branches_external_id" json:"externalId"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	Address    string    `gorm:"type:varchar(500)" json:"address,omitempty"`

	// Locally configured, never overwritten by sync
	Latitude          *float64 `gorm:"type:decimal(10,7)" json:"latitude,omitempty"`
	Longitude         *float64 `gorm:"type:decimal(10,7)" json:"longitude,omitempty"`
	DeliveryAvailable bool     `json:"deliveryAvailable"`
	PickupAvailable   bool     `json:"pickupAvailable"`

	IsActive     bool       `gorm:"index:idx_branches_active" json:"isActive"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (Branch) TableName() string {
	return "branches"
}

func (b *Branch) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
