package models

import "time"

const (
	WebhookStatusPending    = "pending"
	WebhookStatusProcessing = "processing"
	WebhookStatusProcessed  = "processed"
	WebhookStatusFailed     = "failed"
)

// WebhookEvent is the idempotency ledger: one row per provider event id,
// inserted at most once. The full payload is retained for audit/replay even
// though only id and type are needed for routing. Status only ever moves
// forward; nothing transitions out of "processed".
type WebhookEvent struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	StripeEventID string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_stripe_event,unique" json:"stripe_event_id"`
	EventType     string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Status        string     `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	Payload       string     `gorm:"type:longtext;not null" json:"-"`
	ProcessedAt   *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ErrorMessage  string     `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount    int        `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
