package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusSucceeded  = "succeeded"
	PaymentStatusFailed     = "failed"
	PaymentStatusProcessing = "processing"
	PaymentStatusCanceled   = "canceled"
)

// Payment is one settled or failed charge. Rows are created when an
// invoice-paid event first references a payment intent and updated in place
// by later succeeded/failed events for the same intent. NetAmount must equal
// Amount - StripeFee.
type Payment struct {
	ID                    uint            `gorm:"primaryKey" json:"id"`
	StripePaymentIntentID string          `gorm:"type:varchar(191);default:null;index:ux_payments_stripe_pi,unique" json:"stripe_payment_intent_id,omitempty"`
	SubscriptionID        uint            `gorm:"not null;index" json:"subscription_id"`
	GarageID              uint            `gorm:"not null;index" json:"garage_id"`
	Amount                decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	StripeFee             decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"stripe_fee"`
	NetAmount             decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"net_amount"`
	Status                string          `gorm:"type:varchar(32);not null;default:'processing';index" json:"status"`
	Currency              string          `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	PaymentDate           time.Time       `gorm:"type:timestamp;not null" json:"payment_date"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Subscription *Subscription `gorm:"foreignKey:SubscriptionID" json:"subscription,omitempty"`
}
