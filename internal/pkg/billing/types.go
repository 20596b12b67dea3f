package billing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors surfaced to callers. Invalid state transitions are
// rejections, not crashes; controllers map them to 4xx responses.
var (
	ErrUserNotFound                = errors.New("user not found")
	ErrPassNotFound                = errors.New("pass not found")
	ErrSubscriptionNotFound        = errors.New("subscription not found")
	ErrAlreadyCanceled             = errors.New("subscription is already canceled")
	ErrNotScheduledForCancellation = errors.New("subscription is not scheduled for cancellation")
	ErrNoRemoteSubscription        = errors.New("subscription has no remote billing counterpart")
	ErrPriceUnchanged              = errors.New("new price equals the current pass price")
)

// CancellationResult reports the outcome of a cancellation-flow call.
type CancellationResult struct {
	SubscriptionID    uint       `json:"subscription_id"`
	Status            string     `json:"status"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
	CanceledAt        *time.Time `json:"canceled_at,omitempty"`
	Message           string     `json:"message,omitempty"`
	// AlreadyScheduled marks the idempotent no-op case: the subscription was
	// already flagged and no remote call was made.
	AlreadyScheduled bool `json:"already_scheduled,omitempty"`
}

const (
	RenewalOutcomeRenewed   = "renewed"
	RenewalOutcomeFailed    = "failed"
	RenewalOutcomeCancelled = "cancelled"
)

// RenewalResult is one item of a due-renewal batch. Failures are recorded
// per item and never abort the batch.
type RenewalResult struct {
	SubscriptionID uint   `json:"subscription_id"`
	Outcome        string `json:"outcome"`
	Error          string `json:"error,omitempty"`
}

const (
	MigrationOutcomeMigrated = "migrated"
	MigrationOutcomeFailed   = "failed"
	MigrationOutcomeSkipped  = "skipped"
)

// MigrationResult is one item of a bulk price migration.
type MigrationResult struct {
	SubscriptionID uint   `json:"subscription_id"`
	Outcome        string `json:"outcome"`
	Error          string `json:"error,omitempty"`
}

// BulkMigrationResult aggregates per-subscription migration outcomes.
type BulkMigrationResult struct {
	Migrated int               `json:"migrated"`
	Skipped  int               `json:"skipped"`
	Failed   int               `json:"failed"`
	Results  []MigrationResult `json:"results"`
}

// PriceChangeResult separates the committed price change from the optional
// follow-up subscription migration: a migration failure does not roll back
// the price change.
type PriceChangeResult struct {
	PassID           uint                 `json:"pass_id"`
	OldPrice         decimal.Decimal      `json:"old_price"`
	NewPrice         decimal.Decimal      `json:"new_price"`
	OldStripePriceID string               `json:"old_stripe_price_id,omitempty"`
	NewStripePriceID string               `json:"new_stripe_price_id,omitempty"`
	HistoryID        uint                 `json:"history_id"`
	Migration        *BulkMigrationResult `json:"migration,omitempty"`
	MigrationError   string               `json:"migration_error,omitempty"`
}

// MigrationPreviewItem is one row of a zero-side-effect dry run over a
// pass's subscriptions.
type MigrationPreviewItem struct {
	SubscriptionID uint            `json:"subscription_id"`
	UserID         uint            `json:"user_id"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	NewPrice       decimal.Decimal `json:"new_price"`
	Difference     decimal.Decimal `json:"difference"`
	WouldChange    bool            `json:"would_change"`
}

// DispatchResult reports how an inbound event was handled.
type DispatchResult struct {
	EventID   uint   `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
	EventType string `json:"event_type"`
}

func decimalToCents(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func centsToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
