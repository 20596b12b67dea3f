package billing

import (
	"context"

	"github.com/stripe/stripe-go/v78"
)

// PaymentGateway is the typed surface of the remote billing provider used by
// the billing services. Every call is request/response against the provider's
// API; any returned error means "remote state unknown" and callers must not
// assume the operation either succeeded or failed.
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, name, email string) (*stripe.Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error)
	UpdateCustomerEmail(ctx context.Context, customerID, email string) (*stripe.Customer, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error

	CreateProduct(ctx context.Context, name, description string) (*stripe.Product, error)
	CreatePrice(ctx context.Context, productID string, unitAmountCents int64, currency string) (*stripe.Price, error)
	// ArchivePrice deactivates a price; provider prices are never deleted.
	ArchivePrice(ctx context.Context, priceID string) error
	GetPrice(ctx context.Context, priceID string) (*stripe.Price, error)

	CreateSubscription(ctx context.Context, customerID, priceID string) (*stripe.Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	// SubscriptionItemID resolves the billing item carrying the price on a
	// single-item subscription.
	SubscriptionItemID(ctx context.Context, subscriptionID string) (string, error)
	// UpdateSubscriptionPrice swaps the subscription's billing item onto a new
	// price. With prorate=true the provider issues a prorated adjustment
	// charge to the customer.
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID, itemID, priceID string, prorate bool) (*stripe.Subscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*stripe.Subscription, error)
	// CancelSubscription cancels immediately, not at period end.
	CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)

	// VerifyWebhook authenticates a raw event delivery against the shared
	// signing secret and decodes it. Failures must be rejected before any
	// processing happens.
	VerifyWebhook(payload []byte, signatureHeader string) (stripe.Event, error)
}
