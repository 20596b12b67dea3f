package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PassPriceHistory is an append-only ledger of pass price changes. OldPrice
// is null for the first-ever change. Rows are never updated or deleted.
type PassPriceHistory struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	PassID           uint             `gorm:"not null;index" json:"pass_id"`
	OldPrice         *decimal.Decimal `gorm:"type:decimal(10,2);default:null" json:"old_price,omitempty"`
	NewPrice         decimal.Decimal  `gorm:"type:decimal(10,2);not null" json:"new_price"`
	OldStripePriceID string           `gorm:"type:varchar(191);default:null" json:"old_stripe_price_id,omitempty"`
	NewStripePriceID string           `gorm:"type:varchar(191);default:null" json:"new_stripe_price_id,omitempty"`
	ChangedBy        string           `gorm:"type:varchar(150);default:null" json:"changed_by,omitempty"`
	ChangeReason     string           `gorm:"type:text" json:"change_reason,omitempty"`
	EffectiveDate    time.Time        `gorm:"type:timestamp;not null;index" json:"effective_date"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
}
