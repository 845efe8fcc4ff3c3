package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Classification describes how a product is measured when sold
type Classification string

const (
	ClassificationPiece  Classification = "PIECE"
	ClassificationWeight Classification = "WEIGHT"
	ClassificationVolume Classification = "VOLUME"
)

// Category is a POS menu category
type Category struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalID  string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_categories_external_id" json:"externalId"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	DisplayName string    `gorm:"type:varchar(255)" json:"displayName,omitempty"`
	SortOrder   int       `json:"sortOrder"`
	IsActive    bool      `gorm:"index:idx_categories_active" json:"isActive"`

	// Local-only fields
	Description string `gorm:"type:text" json:"description,omitempty"`
	ImageURL    string `gorm:"type:varchar(1000)" json:"imageUrl,omitempty"`

	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (Category) TableName() string {
	return "categories"
}

func (c *Category) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// CustomQuantity describes the real-world amount one orderable unit represents,
// e.g. QuantityPerUnit 0.05 with Unit "g" means one unit is 50 g.
type CustomQuantity struct {
	QuantityPerUnit decimal.Decimal `json:"quantityPerUnit"`
	Unit            string          `json:"unit"`
	Step            decimal.Decimal `json:"step"`
}

func (q CustomQuantity) Value() (driver.Value, error) {
	return json.Marshal(q)
}

func (q *CustomQuantity) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	raw, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, q)
}

// BundleItem is one component of a composite product
type BundleItem struct {
	ProductID uuid.UUID       `json:"productId"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// BundleItems is the ordered component list of a bundle product
type BundleItems []BundleItem

func (b BundleItems) Value() (driver.Value, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return json.Marshal(b)
}

func (b *BundleItems) Scan(value interface{}) error {
	if value == nil {
		*b = nil
		return nil
	}
	raw, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, b)
}

// Product is a sellable item. POS-backed products carry an ExternalID; bundles
// are local-only and resolve to their components at dispatch time.
type Product struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalID   *string    `gorm:"type:varchar(64);uniqueIndex:idx_products_external_id" json:"externalId,omitempty"`
	IngredientID *string    `gorm:"type:varchar(64);index:idx_products_ingredient" json:"ingredientId,omitempty"`
	CategoryID   *uuid.UUID `gorm:"type:uuid;index:idx_products_category" json:"categoryId,omitempty"`
	Category     *Category  `gorm:"foreignKey:CategoryID" json:"category,omitempty"`

	Name        string `gorm:"type:varchar(255);not null" json:"name"`
	DisplayName string `gorm:"type:varchar(255)" json:"displayName,omitempty"`
	Slug        string `gorm:"type:varchar(255);index:idx_products_slug" json:"slug,omitempty"`

	// Price is stored per POS base unit (per kg, per litre or per piece)
	Price          decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"price"`
	OriginalPrice  decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"originalPrice"`
	Classification Classification      `gorm:"type:varchar(20)" json:"classification"`
	IsActive       bool                `gorm:"index:idx_products_active" json:"isActive"`
	ImageURL       string              `gorm:"type:varchar(1000)" json:"imageUrl,omitempty"`
	Attributes     JSONB               `gorm:"type:jsonb" json:"attributes,omitempty"`

	CustomQuantity *CustomQuantity `gorm:"type:jsonb" json:"customQuantity,omitempty"`
	Bundle         BundleItems     `gorm:"type:jsonb" json:"bundle,omitempty"`

	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (Product) TableName() string {
	return "products"
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// IsBundle reports whether the product resolves to components when ordered
func (p *Product) IsBundle() bool {
	return len(p.Bundle) > 0
}

// POSProductID returns the POS product id used for ordering, or "" for
// bundles and unmapped products.
func (p *Product) POSProductID() string {
	if p.IsBundle() || p.ExternalID == nil {
		return ""
	}
	return *p.ExternalID
}
