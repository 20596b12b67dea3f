package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pass is a monthly parking product for a garage. Price is the current
// monthly amount; StripeProductID/StripePriceID point at the provider-side
// objects backing recurring billing. Price changes go through the pricing
// service, which archives the old remote price and appends a
// PassPriceHistory row.
type Pass struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	GarageID        uint            `gorm:"not null;index" json:"garage_id"`
	Name            string          `gorm:"type:varchar(150);not null" json:"name"`
	Description     string          `gorm:"type:text" json:"description"`
	Price           decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	StripeProductID string          `gorm:"type:varchar(191);default:null" json:"stripe_product_id,omitempty"`
	StripePriceID   string          `gorm:"type:varchar(191);default:null" json:"stripe_price_id,omitempty"`
	IsActive        bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Garage *Garage `gorm:"foreignKey:GarageID" json:"garage,omitempty"`
}
