package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusUnpaid   = "unpaid"
	SubscriptionStatusTrialing = "trialing"
)

const (
	RenewalStatusPending    = "pending"
	RenewalStatusProcessing = "processing"
	RenewalStatusCompleted  = "completed"
	RenewalStatusFailed     = "failed"
)

// Subscription is a user's recurring entitlement to a pass at a garage,
// mirrored against the provider-side subscription. StripeSubscriptionID is
// unique once set and never changes. Rows are never deleted; cancellation is
// a status transition and stamps CanceledAt.
type Subscription struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	UserID               uint            `gorm:"not null;index" json:"user_id"`
	GarageID             uint            `gorm:"not null;index" json:"garage_id"`
	PassID               uint            `gorm:"not null;index" json:"pass_id"`
	StripeSubscriptionID string          `gorm:"type:varchar(191);default:null;index:ux_subscriptions_stripe_sub,unique" json:"stripe_subscription_id,omitempty"`
	StripePriceID        string          `gorm:"type:varchar(191);default:null" json:"stripe_price_id,omitempty"`
	Status               string          `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	CurrentPeriodStart   *time.Time      `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time      `gorm:"type:timestamp;default:null;index" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool            `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt           *time.Time      `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	MonthlyAmount        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"monthly_amount"`
	RenewalStatus        string          `gorm:"type:varchar(32);not null;default:'pending'" json:"renewal_status"`
	RenewalAttemptedAt   *time.Time      `gorm:"type:timestamp;default:null" json:"renewal_attempted_at,omitempty"`
	NextRenewalDate      *time.Time      `gorm:"type:timestamp;default:null" json:"next_renewal_date,omitempty"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	User   *User   `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Garage *Garage `gorm:"foreignKey:GarageID" json:"garage,omitempty"`
	Pass   *Pass   `gorm:"foreignKey:PassID" json:"pass,omitempty"`
}

// IsTerminal reports whether the subscription can never bill again.
func (s *Subscription) IsTerminal() bool {
	return s.Status == SubscriptionStatusCanceled
}
