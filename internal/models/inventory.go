package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductInventory is the stock of one product at one branch. A missing row
// means zero stock.
type ProductInventory struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_product_inventory_product_branch" json:"productId"`
	BranchID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_product_inventory_product_branch;index:idx_product_inventory_branch" json:"branchId"`
	Quantity     decimal.Decimal `gorm:"type:decimal(14,3);not null" json:"quantity"`
	Unit         string          `gorm:"type:varchar(20)" json:"unit,omitempty"`
	LastSyncedAt time.Time       `json:"lastSyncedAt"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func (ProductInventory) TableName() string {
	return "product_inventory"
}

func (i *ProductInventory) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
