package billing

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tobiasmeyr/parkpass/app/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "billing_test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Garage{},
		&models.Pass{},
		&models.Subscription{},
		&models.Payment{},
		&models.PassPriceHistory{},
		&models.WebhookEvent{},
	)
	if err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, email, stripeCustomerID string) *models.User {
	t.Helper()
	u := &models.User{
		Name:             "Test User",
		Email:            email,
		Role:             models.ROLE_USER,
		StripeCustomerID: stripeCustomerID,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func seedGarageAndPass(t *testing.T, db *gorm.DB, price string) (*models.Garage, *models.Pass) {
	t.Helper()
	g := &models.Garage{Name: "Central Garage", City: "Springfield", Capacity: 120, IsActive: true}
	if err := db.Create(g).Error; err != nil {
		t.Fatalf("seed garage: %v", err)
	}
	p := &models.Pass{
		GarageID:        g.ID,
		Name:            "Monthly Pass",
		Price:           mustDecimal(t, price),
		StripeProductID: "prod_test",
		StripePriceID:   "price_current",
		IsActive:        true,
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("seed pass: %v", err)
	}
	return g, p
}

func seedSubscription(t *testing.T, db *gorm.DB, user *models.User, pass *models.Pass, stripeSubID string) *models.Subscription {
	t.Helper()
	start := time.Now().Add(-20 * 24 * time.Hour)
	end := time.Now().Add(10 * 24 * time.Hour)
	s := &models.Subscription{
		UserID:               user.ID,
		GarageID:             pass.GarageID,
		PassID:               pass.ID,
		StripeSubscriptionID: stripeSubID,
		StripePriceID:        pass.StripePriceID,
		Status:               models.SubscriptionStatusActive,
		CurrentPeriodStart:   &start,
		CurrentPeriodEnd:     &end,
		MonthlyAmount:        pass.Price,
		RenewalStatus:        models.RenewalStatusPending,
	}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return s
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

// mockGateway is an in-memory PaymentGateway that records call counts so
// tests can assert which remote operations ran.
type mockGateway struct {
	createCustomerCalls     int
	createSubscriptionCalls int
	getSubscriptionCalls    int
	setCancelCalls          int
	cancelCalls             int
	createProductCalls      int
	createPriceCalls        int
	archivePriceCalls       int
	itemIDCalls             int
	updatePriceCalls        int

	archivedPriceIDs []string
	lastProrate      bool

	remoteSubs     map[string]*stripe.Subscription
	failGetSub     map[string]bool
	failUpdateSub  map[string]bool
	createPriceErr error
	priceSeq       int
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		remoteSubs:    map[string]*stripe.Subscription{},
		failGetSub:    map[string]bool{},
		failUpdateSub: map[string]bool{},
	}
}

func activeRemoteSub(id string) *stripe.Subscription {
	return &stripe.Subscription{
		ID:                 id,
		Status:             stripe.SubscriptionStatusActive,
		CurrentPeriodStart: time.Now().Unix(),
		CurrentPeriodEnd:   time.Now().Add(30 * 24 * time.Hour).Unix(),
	}
}

func (m *mockGateway) CreateCustomer(ctx context.Context, name, email string) (*stripe.Customer, error) {
	m.createCustomerCalls++
	return &stripe.Customer{ID: "cus_test", Email: email, Name: name}, nil
}

func (m *mockGateway) GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error) {
	return &stripe.Customer{ID: customerID}, nil
}

func (m *mockGateway) UpdateCustomerEmail(ctx context.Context, customerID, email string) (*stripe.Customer, error) {
	return &stripe.Customer{ID: customerID, Email: email}, nil
}

func (m *mockGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	return nil
}

func (m *mockGateway) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	return nil
}

func (m *mockGateway) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	return nil
}

func (m *mockGateway) CreateProduct(ctx context.Context, name, description string) (*stripe.Product, error) {
	m.createProductCalls++
	return &stripe.Product{ID: "prod_new", Name: name}, nil
}

func (m *mockGateway) CreatePrice(ctx context.Context, productID string, unitAmountCents int64, currency string) (*stripe.Price, error) {
	if m.createPriceErr != nil {
		return nil, m.createPriceErr
	}
	m.createPriceCalls++
	m.priceSeq++
	return &stripe.Price{
		ID:         fmt.Sprintf("price_new_%d", m.priceSeq),
		UnitAmount: unitAmountCents,
	}, nil
}

func (m *mockGateway) ArchivePrice(ctx context.Context, priceID string) error {
	m.archivePriceCalls++
	m.archivedPriceIDs = append(m.archivedPriceIDs, priceID)
	return nil
}

func (m *mockGateway) GetPrice(ctx context.Context, priceID string) (*stripe.Price, error) {
	return &stripe.Price{ID: priceID}, nil
}

func (m *mockGateway) CreateSubscription(ctx context.Context, customerID, priceID string) (*stripe.Subscription, error) {
	m.createSubscriptionCalls++
	return activeRemoteSub("sub_new"), nil
}

func (m *mockGateway) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	m.getSubscriptionCalls++
	if m.failGetSub[subscriptionID] {
		return nil, fmt.Errorf("remote lookup failed for %s", subscriptionID)
	}
	if sub, ok := m.remoteSubs[subscriptionID]; ok {
		return sub, nil
	}
	return activeRemoteSub(subscriptionID), nil
}

func (m *mockGateway) SubscriptionItemID(ctx context.Context, subscriptionID string) (string, error) {
	m.itemIDCalls++
	return "si_test", nil
}

func (m *mockGateway) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, itemID, priceID string, prorate bool) (*stripe.Subscription, error) {
	if m.failUpdateSub[subscriptionID] {
		return nil, fmt.Errorf("remote price update failed for %s", subscriptionID)
	}
	m.updatePriceCalls++
	m.lastProrate = prorate
	return &stripe.Subscription{ID: subscriptionID}, nil
}

func (m *mockGateway) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*stripe.Subscription, error) {
	m.setCancelCalls++
	return &stripe.Subscription{ID: subscriptionID, CancelAtPeriodEnd: cancel}, nil
}

func (m *mockGateway) CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	m.cancelCalls++
	return &stripe.Subscription{
		ID:         subscriptionID,
		Status:     stripe.SubscriptionStatusCanceled,
		CanceledAt: time.Now().Unix(),
	}, nil
}

func (m *mockGateway) VerifyWebhook(payload []byte, signatureHeader string) (stripe.Event, error) {
	return stripe.Event{}, nil
}
