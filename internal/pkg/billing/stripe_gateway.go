package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/customer"
	"github.com/stripe/stripe-go/v78/paymentmethod"
	"github.com/stripe/stripe-go/v78/price"
	"github.com/stripe/stripe-go/v78/product"
	"github.com/stripe/stripe-go/v78/subscription"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/tobiasmeyr/parkpass/internal/pkg/env"
)

// StripeGateway implements PaymentGateway against the Stripe API via
// stripe-go. Create calls carry an idempotency key so a retried request
// cannot produce a second remote object.
type StripeGateway struct {
	webhookSecret string
}

// NewStripeGateway configures the global stripe-go client key and returns a
// gateway bound to the given webhook signing secret.
func NewStripeGateway(apiKey, webhookSecret string) *StripeGateway {
	stripe.Key = strings.TrimSpace(apiKey)
	return &StripeGateway{webhookSecret: strings.TrimSpace(webhookSecret)}
}

// NewStripeGatewayFromEnv builds a gateway from STRIPE_SECRET_KEY and
// STRIPE_WEBHOOK_SECRET.
func NewStripeGatewayFromEnv() *StripeGateway {
	return NewStripeGateway(
		env.GetEnv("STRIPE_SECRET_KEY", ""),
		env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
	)
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, name, email string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{
		Name:  stripe.String(name),
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())
	return customer.New(params)
}

func (g *StripeGateway) GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	return customer.Get(customerID, params)
}

func (g *StripeGateway) UpdateCustomerEmail(ctx context.Context, customerID, email string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	return customer.Update(customerID, params)
}

func (g *StripeGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx
	_, err := customer.Update(customerID, params)
	return err
}

func (g *StripeGateway) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	_, err := paymentmethod.Attach(paymentMethodID, params)
	return err
}

func (g *StripeGateway) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx
	_, err := paymentmethod.Detach(paymentMethodID, params)
	return err
}

func (g *StripeGateway) CreateProduct(ctx context.Context, name, description string) (*stripe.Product, error) {
	params := &stripe.ProductParams{Name: stripe.String(name)}
	if description != "" {
		params.Description = stripe.String(description)
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())
	return product.New(params)
}

func (g *StripeGateway) CreatePrice(ctx context.Context, productID string, unitAmountCents int64, currency string) (*stripe.Price, error) {
	params := &stripe.PriceParams{
		Product:    stripe.String(productID),
		UnitAmount: stripe.Int64(unitAmountCents),
		Currency:   stripe.String(strings.ToLower(currency)),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())
	return price.New(params)
}

func (g *StripeGateway) ArchivePrice(ctx context.Context, priceID string) error {
	params := &stripe.PriceParams{Active: stripe.Bool(false)}
	params.Context = ctx
	_, err := price.Update(priceID, params)
	return err
}

func (g *StripeGateway) GetPrice(ctx context.Context, priceID string) (*stripe.Price, error) {
	params := &stripe.PriceParams{}
	params.Context = ctx
	return price.Get(priceID, params)
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, customerID, priceID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())
	return subscription.New(params)
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	return subscription.Get(subscriptionID, params)
}

func (g *StripeGateway) SubscriptionItemID(ctx context.Context, subscriptionID string) (string, error) {
	sub, err := g.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return "", err
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return "", errors.New("stripe subscription has no billing items")
	}
	return sub.Items.Data[0].ID, nil
}

func (g *StripeGateway) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, itemID, priceID string, prorate bool) (*stripe.Subscription, error) {
	behavior := "none"
	if prorate {
		behavior = "create_prorations"
	}
	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(itemID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String(behavior),
	}
	params.Context = ctx
	return subscription.Update(subscriptionID, params)
}

func (g *StripeGateway) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancel)}
	params.Context = ctx
	return subscription.Update(subscriptionID, params)
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	return subscription.Cancel(subscriptionID, params)
}

func (g *StripeGateway) VerifyWebhook(payload []byte, signatureHeader string) (stripe.Event, error) {
	if g.webhookSecret == "" {
		return stripe.Event{}, errors.New("stripe webhook secret is not configured")
	}
	return webhook.ConstructEvent(payload, signatureHeader, g.webhookSecret)
}
