package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"gorm.io/gorm"

	"github.com/tobiasmeyr/parkpass/app/models"
)

// Event handlers. Every write is an idempotent full overwrite keyed by the
// provider object id, so a redelivery after a partial failure converges on
// the same local state.

func (d *Dispatcher) handleCustomerUpserted(ctx context.Context, event stripe.Event) error {
	_ = ctx
	var cus stripe.Customer
	if err := json.Unmarshal(event.Data.Raw, &cus); err != nil {
		return fmt.Errorf("decode customer payload: %w", err)
	}

	user, err := d.repo.GetUserByStripeCustomerID(cus.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) && cus.Email != "" {
		// First sync for this customer: link it by email.
		user, err = d.repo.GetUserByEmail(cus.Email)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fiberlog.Infof("stripe webhook: no local user for customer %s", cus.ID)
		return nil
	}
	if err != nil {
		return err
	}

	user.StripeCustomerID = cus.ID
	if cus.Email != "" {
		user.Email = cus.Email
	}
	return d.repo.SaveUser(user)
}

func (d *Dispatcher) handleCustomerDeleted(ctx context.Context, event stripe.Event) error {
	_ = ctx
	var cus stripe.Customer
	if err := json.Unmarshal(event.Data.Raw, &cus); err != nil {
		return fmt.Errorf("decode customer payload: %w", err)
	}

	user, err := d.repo.GetUserByStripeCustomerID(cus.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	user.StripeCustomerID = ""
	user.PaymentMethodID = ""
	user.PaymentMethodBrand = ""
	user.PaymentMethodLast4 = ""
	return d.repo.SaveUser(user)
}

func (d *Dispatcher) handlePaymentMethodAttached(ctx context.Context, event stripe.Event) error {
	_ = ctx
	var pm stripe.PaymentMethod
	if err := json.Unmarshal(event.Data.Raw, &pm); err != nil {
		return fmt.Errorf("decode payment method payload: %w", err)
	}
	if pm.Customer == nil || pm.Customer.ID == "" {
		return nil
	}

	user, err := d.repo.GetUserByStripeCustomerID(pm.Customer.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fiberlog.Infof("stripe webhook: no local user for customer %s (payment method %s)", pm.Customer.ID, pm.ID)
		return nil
	}
	if err != nil {
		return err
	}

	user.PaymentMethodID = pm.ID
	if pm.Card != nil {
		user.PaymentMethodBrand = string(pm.Card.Brand)
		user.PaymentMethodLast4 = pm.Card.Last4
	}
	return d.repo.SaveUser(user)
}

func (d *Dispatcher) handlePaymentMethodDetached(ctx context.Context, event stripe.Event) error {
	_ = ctx
	var pm stripe.PaymentMethod
	if err := json.Unmarshal(event.Data.Raw, &pm); err != nil {
		return fmt.Errorf("decode payment method payload: %w", err)
	}

	// Detached payloads no longer carry the customer; match on the stored
	// payment method id instead.
	user, err := d.findUserByPaymentMethodID(pm.ID)
	if err != nil || user == nil {
		return err
	}

	user.PaymentMethodID = ""
	user.PaymentMethodBrand = ""
	user.PaymentMethodLast4 = ""
	return d.repo.SaveUser(user)
}

func (d *Dispatcher) findUserByPaymentMethodID(pmID string) (*models.User, error) {
	if pmID == "" {
		return nil, nil
	}
	user, err := d.repo.GetUserByPaymentMethodID(pmID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return user, err
}

func (d *Dispatcher) handleSubscriptionUpserted(ctx context.Context, event stripe.Event) error {
	_ = ctx
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("decode subscription payload: %w", err)
	}

	state := remoteStateFromStripe(&sub)
	found, err := d.repo.OverwriteSubscriptionRemoteState(sub.ID, state)
	if err != nil {
		return err
	}
	if !found {
		fiberlog.Infof("stripe webhook: no local subscription for %s", sub.ID)
	}
	return nil
}

func (d *Dispatcher) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	_ = ctx
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("decode subscription payload: %w", err)
	}

	state := remoteStateFromStripe(&sub)
	state.Status = models.SubscriptionStatusCanceled
	state.CancelAtPeriodEnd = false
	if state.CanceledAt == nil {
		now := time.Now()
		state.CanceledAt = &now
	}

	_, err := d.repo.OverwriteSubscriptionRemoteState(sub.ID, state)
	return err
}

func (d *Dispatcher) handlePaymentIntentSucceeded(ctx context.Context, event stripe.Event) error {
	return d.overwritePaymentStatus(ctx, event, models.PaymentStatusSucceeded)
}

func (d *Dispatcher) handlePaymentIntentFailed(ctx context.Context, event stripe.Event) error {
	return d.overwritePaymentStatus(ctx, event, models.PaymentStatusFailed)
}

func (d *Dispatcher) overwritePaymentStatus(ctx context.Context, event stripe.Event, status string) error {
	_ = ctx
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return fmt.Errorf("decode payment intent payload: %w", err)
	}

	payment, err := d.repo.GetPaymentByStripeIntentID(pi.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// The invoice event creates the row; intent events arriving first are
		// absorbed when the invoice event lands.
		return nil
	}
	if err != nil {
		return err
	}

	payment.Status = status
	return d.repo.SavePayment(payment)
}

func (d *Dispatcher) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	return d.recordInvoicePayment(ctx, event, models.PaymentStatusSucceeded)
}

func (d *Dispatcher) handleInvoicePaymentFailed(ctx context.Context, event stripe.Event) error {
	return d.recordInvoicePayment(ctx, event, models.PaymentStatusFailed)
}

func (d *Dispatcher) recordInvoicePayment(ctx context.Context, event stripe.Event, status string) error {
	_ = ctx
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("decode invoice payload: %w", err)
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		// One-off invoices are outside the subscription ledger.
		return nil
	}
	if inv.PaymentIntent == nil || inv.PaymentIntent.ID == "" {
		fiberlog.Infof("stripe webhook: invoice %s has no payment intent", inv.ID)
		return nil
	}

	sub, err := d.repo.GetSubscriptionByStripeID(inv.Subscription.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fiberlog.Infof("stripe webhook: invoice %s references unknown subscription %s", inv.ID, inv.Subscription.ID)
		return nil
	}
	if err != nil {
		return err
	}

	amountCents := inv.AmountPaid
	if status == models.PaymentStatusFailed {
		amountCents = inv.AmountDue
	}
	amount := centsToDecimal(amountCents)
	fee := invoiceProcessorFee(&inv, amount, status)

	payment := &models.Payment{
		StripePaymentIntentID: inv.PaymentIntent.ID,
		SubscriptionID:        sub.ID,
		GarageID:              sub.GarageID,
		Amount:                amount,
		StripeFee:             fee,
		NetAmount:             amount.Sub(fee),
		Status:                status,
		Currency:              string(inv.Currency),
		PaymentDate:           invoicePaymentDate(&inv),
	}

	created, stored, err := d.repo.CreatePaymentIfNotExists(payment)
	if err != nil {
		return err
	}
	if created {
		return nil
	}

	// Later event for a known intent: overwrite outcome fields in place.
	stored.Status = status
	stored.Amount = amount
	stored.StripeFee = fee
	stored.NetAmount = amount.Sub(fee)
	return d.repo.SavePayment(stored)
}

// invoiceProcessorFee pulls the real fee off the charge's balance
// transaction when the payload carries one. Webhook payloads usually do not,
// so the standard card fee is estimated and replaced once an event with the
// settled transaction arrives. Failed charges carry no fee.
func invoiceProcessorFee(inv *stripe.Invoice, amount decimal.Decimal, status string) decimal.Decimal {
	if status != models.PaymentStatusSucceeded || amount.IsZero() {
		return decimal.Zero
	}
	if inv.Charge != nil && inv.Charge.BalanceTransaction != nil && inv.Charge.BalanceTransaction.Fee > 0 {
		return centsToDecimal(inv.Charge.BalanceTransaction.Fee)
	}
	return estimateCardFee(amount)
}

// estimateCardFee applies the standard 2.9% + $0.30 card rate.
func estimateCardFee(amount decimal.Decimal) decimal.Decimal {
	rate := decimal.NewFromFloat(0.029)
	fixed := decimal.NewFromFloat(0.30)
	return amount.Mul(rate).Add(fixed).Round(2)
}

func invoicePaymentDate(inv *stripe.Invoice) time.Time {
	if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		return time.Unix(inv.StatusTransitions.PaidAt, 0)
	}
	if inv.Created > 0 {
		return time.Unix(inv.Created, 0)
	}
	return time.Now()
}

// remoteStateFromStripe maps a provider subscription onto the locally
// overwritable field set.
func remoteStateFromStripe(sub *stripe.Subscription) SubscriptionRemoteState {
	state := SubscriptionRemoteState{
		Status:             subscriptionStatusFromStripe(sub.Status),
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CanceledAt:         unixTime(sub.CanceledAt),
	}
	// Stripe stamps canceled_at the moment a period-end cancellation is
	// scheduled, while the subscription is still active. Locally the
	// timestamp accompanies the canceled status and nothing else.
	if state.Status != models.SubscriptionStatusCanceled {
		state.CanceledAt = nil
	} else if state.CanceledAt == nil {
		now := time.Now()
		state.CanceledAt = &now
	}
	return state
}

func subscriptionStatusFromStripe(status stripe.SubscriptionStatus) string {
	switch status {
	case stripe.SubscriptionStatusActive:
		return models.SubscriptionStatusActive
	case stripe.SubscriptionStatusTrialing:
		return models.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusPastDue:
		return models.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return models.SubscriptionStatusCanceled
	default:
		// incomplete, unpaid, paused: not entitling, not terminal.
		return models.SubscriptionStatusUnpaid
	}
}

func unixTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0)
	return &t
}
