package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tobiasmeyr/parkpass/app/models"
)

// Repository provides the DB operations used by the billing services.
type Repository interface {
	// Idempotency ledger.
	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkEventProcessing(id uint) error
	MarkEventProcessed(id uint) error
	MarkEventFailed(id uint, message string) error
	IncrementEventRetry(id uint) error

	GetUserByID(id uint) (*models.User, error)
	GetUserByEmail(email string) (*models.User, error)
	GetUserByStripeCustomerID(customerID string) (*models.User, error)
	GetUserByPaymentMethodID(paymentMethodID string) (*models.User, error)
	SaveUser(u *models.User) error

	GetPassByID(id uint) (*models.Pass, error)
	SavePass(p *models.Pass) error

	GetSubscriptionByID(id uint) (*models.Subscription, error)
	GetSubscriptionByStripeID(stripeSubscriptionID string) (*models.Subscription, error)
	CreateSubscription(sub *models.Subscription) error
	SaveSubscription(sub *models.Subscription) error
	// OverwriteSubscriptionRemoteState replaces the remote-owned field set of
	// the row keyed by the provider subscription id. Last writer wins.
	OverwriteSubscriptionRemoteState(stripeSubscriptionID string, fields SubscriptionRemoteState) (bool, error)
	ListSubscriptionsByPass(passID uint) ([]models.Subscription, error)
	FindExpiringSubscriptions(daysAhead int) ([]models.Subscription, error)

	CreatePaymentIfNotExists(p *models.Payment) (bool, *models.Payment, error)
	GetPaymentByStripeIntentID(intentID string) (*models.Payment, error)
	SavePayment(p *models.Payment) error

	CreatePriceHistory(h *models.PassPriceHistory) error
	ListPriceHistoryByPass(passID uint) ([]models.PassPriceHistory, error)
}

// SubscriptionRemoteState is the explicit field set a subscription sync is
// permitted to overwrite. Nothing outside this set is touched.
type SubscriptionRemoteState struct {
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// CreateWebhookEventIfNotExists inserts the ledger entry or, when the event
// id was seen before, returns the stored entry untouched. The unique index on
// stripe_event_id makes this atomic against concurrent deliveries; there is
// deliberately no read-before-write.
func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("stripe_event_id = ?", event.StripeEventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkEventProcessing(id uint) error {
	return r.db.Model(&models.WebhookEvent{}).
		Where("id = ? AND status <> ?", id, models.WebhookStatusProcessed).
		Update("status", models.WebhookStatusProcessing).Error
}

func (r *gormRepository) MarkEventProcessed(id uint) error {
	now := time.Now()
	return r.db.Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.WebhookStatusProcessed,
			"processed_at":  &now,
			"error_message": "",
		}).Error
}

// MarkEventFailed records the handler error. Processed entries are final and
// never demoted.
func (r *gormRepository) MarkEventFailed(id uint, message string) error {
	return r.db.Model(&models.WebhookEvent{}).
		Where("id = ? AND status <> ?", id, models.WebhookStatusProcessed).
		Updates(map[string]interface{}{
			"status":        models.WebhookStatusFailed,
			"error_message": message,
		}).Error
}

func (r *gormRepository) IncrementEventRetry(id uint) error {
	return r.db.Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("retry_count", gorm.Expr("retry_count + 1")).Error
}

func (r *gormRepository) GetUserByID(id uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetUserByEmail(email string) (*models.User, error) {
	var u models.User
	if err := r.db.Where("email = ?", email).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetUserByStripeCustomerID(customerID string) (*models.User, error) {
	var u models.User
	if err := r.db.Where("stripe_customer_id = ?", customerID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetUserByPaymentMethodID(paymentMethodID string) (*models.User, error) {
	var u models.User
	if err := r.db.Where("payment_method_id = ?", paymentMethodID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) SaveUser(u *models.User) error {
	return r.db.Save(u).Error
}

func (r *gormRepository) GetPassByID(id uint) (*models.Pass, error) {
	var p models.Pass
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) SavePass(p *models.Pass) error {
	return r.db.Save(p).Error
}

func (r *gormRepository) GetSubscriptionByID(id uint) (*models.Subscription, error) {
	var s models.Subscription
	if err := r.db.First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) GetSubscriptionByStripeID(stripeSubscriptionID string) (*models.Subscription, error) {
	var s models.Subscription
	if err := r.db.Where("stripe_subscription_id = ?", stripeSubscriptionID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) CreateSubscription(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

// OverwriteSubscriptionRemoteState is a single-row full overwrite of the
// remote-owned fields, so redelivered or out-of-order events converge on the
// provider's authoritative state instead of incrementing anything. Returns
// false when no local row references the provider subscription id.
func (r *gormRepository) OverwriteSubscriptionRemoteState(stripeSubscriptionID string, fields SubscriptionRemoteState) (bool, error) {
	tx := r.db.Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		Updates(map[string]interface{}{
			"status":               fields.Status,
			"current_period_start": fields.CurrentPeriodStart,
			"current_period_end":   fields.CurrentPeriodEnd,
			"cancel_at_period_end": fields.CancelAtPeriodEnd,
			"canceled_at":          fields.CanceledAt,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ListSubscriptionsByPass(passID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("pass_id = ?", passID).Order("id").Find(&subs).Error
	return subs, err
}

// FindExpiringSubscriptions selects non-terminal subscriptions whose current
// period ends within the lookahead window.
func (r *gormRepository) FindExpiringSubscriptions(daysAhead int) ([]models.Subscription, error) {
	cutoff := time.Now().AddDate(0, 0, daysAhead)
	var subs []models.Subscription
	err := r.db.
		Where("status NOT IN ?", []string{models.SubscriptionStatusCanceled, models.SubscriptionStatusUnpaid}).
		Where("current_period_end IS NOT NULL AND current_period_end <= ?", cutoff).
		Order("current_period_end").
		Find(&subs).Error
	return subs, err
}

// CreatePaymentIfNotExists inserts a payment keyed by its payment intent id,
// or returns the stored row when a previous event already created it. Same
// unique-insert mechanics as the webhook ledger.
func (r *gormRepository) CreatePaymentIfNotExists(p *models.Payment) (bool, *models.Payment, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_payment_intent_id"}},
		DoNothing: true,
	}).Create(p)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.Payment
	if err := r.db.Where("stripe_payment_intent_id = ?", p.StripePaymentIntentID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetPaymentByStripeIntentID(intentID string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.Where("stripe_payment_intent_id = ?", intentID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) SavePayment(p *models.Payment) error {
	return r.db.Save(p).Error
}

func (r *gormRepository) CreatePriceHistory(h *models.PassPriceHistory) error {
	return r.db.Create(h).Error
}

func (r *gormRepository) ListPriceHistoryByPass(passID uint) ([]models.PassPriceHistory, error) {
	var rows []models.PassPriceHistory
	err := r.db.Where("pass_id = ?", passID).Order("effective_date, id").Find(&rows).Error
	return rows, err
}
