package billing

import (
	"context"
	"fmt"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v78"

	"github.com/tobiasmeyr/parkpass/app/models"
)

// A processing entry younger than this is an in-flight concurrent delivery;
// older ones are a crashed attempt and become retryable again.
const processingStaleAfter = 15 * time.Minute

type eventHandler func(ctx context.Context, event stripe.Event) error

// Dispatcher routes verified, de-duplicated provider events to their
// category handler and drives the ledger state machine around each handler
// invocation: pending -> processing -> processed/failed.
type Dispatcher struct {
	repo     Repository
	handlers map[string]eventHandler
}

// NewDispatcher creates a dispatcher with the full handler table registered.
func NewDispatcher(repo Repository) *Dispatcher {
	d := &Dispatcher{repo: repo}
	d.handlers = map[string]eventHandler{
		"customer.created":                d.handleCustomerUpserted,
		"customer.updated":                d.handleCustomerUpserted,
		"customer.deleted":                d.handleCustomerDeleted,
		"payment_method.attached":         d.handlePaymentMethodAttached,
		"payment_method.detached":         d.handlePaymentMethodDetached,
		"payment_method.updated":          d.handlePaymentMethodAttached,
		"customer.subscription.created":   d.handleSubscriptionUpserted,
		"customer.subscription.updated":   d.handleSubscriptionUpserted,
		"customer.subscription.deleted":   d.handleSubscriptionDeleted,
		"payment_intent.succeeded":        d.handlePaymentIntentSucceeded,
		"payment_intent.payment_failed":   d.handlePaymentIntentFailed,
		"invoice.paid":                    d.handleInvoicePaid,
		"invoice.payment_succeeded":       d.handleInvoicePaid,
		"invoice.payment_failed":          d.handleInvoicePaymentFailed,
	}
	return d
}

// Dispatch processes one verified event delivery. Redeliveries of an already
// processed event id, or one another delivery is processing right now, return
// a duplicate result without invoking any handler; entries that previously
// failed stay retryable and are re-run with the retry counter bumped, as are
// processing entries whose attempt went stale without recording an outcome.
// A handler error is recorded on the ledger entry and returned so the
// transport answers non-2xx and the provider redelivers.
func (d *Dispatcher) Dispatch(ctx context.Context, event stripe.Event, rawPayload []byte) (*DispatchResult, error) {
	entry := &models.WebhookEvent{
		StripeEventID: event.ID,
		EventType:     string(event.Type),
		Status:        models.WebhookStatusPending,
		Payload:       string(rawPayload),
	}

	created, stored, err := d.repo.CreateWebhookEventIfNotExists(entry)
	if err != nil {
		return nil, fmt.Errorf("record webhook event: %w", err)
	}

	result := &DispatchResult{EventID: stored.ID, EventType: string(event.Type)}

	if !created {
		switch {
		case stored.Status == models.WebhookStatusProcessed:
			result.Duplicate = true
			return result, nil
		case stored.Status == models.WebhookStatusProcessing && time.Since(stored.UpdatedAt) < processingStaleAfter:
			result.Duplicate = true
			return result, nil
		default:
			// failed, pending or a stale processing entry: the previous
			// attempt did not complete, so this delivery is a retry, not a
			// duplicate.
			if err := d.repo.IncrementEventRetry(stored.ID); err != nil {
				return nil, fmt.Errorf("increment retry count: %w", err)
			}
		}
	}

	if err := d.repo.MarkEventProcessing(stored.ID); err != nil {
		return nil, fmt.Errorf("mark event processing: %w", err)
	}

	handler, ok := d.handlers[string(event.Type)]
	if !ok {
		// Unhandled categories are not errors; accept and move on.
		fiberlog.Infof("stripe webhook: ignoring unhandled event type %s (%s)", event.Type, event.ID)
		if err := d.repo.MarkEventProcessed(stored.ID); err != nil {
			return nil, fmt.Errorf("mark event processed: %w", err)
		}
		return result, nil
	}

	if handlerErr := handler(ctx, event); handlerErr != nil {
		if err := d.repo.MarkEventFailed(stored.ID, handlerErr.Error()); err != nil {
			fiberlog.Errorf("stripe webhook: mark failed for %s: %v", event.ID, err)
		}
		return result, fmt.Errorf("handle %s (%s): %w", event.Type, event.ID, handlerErr)
	}

	if err := d.repo.MarkEventProcessed(stored.ID); err != nil {
		return nil, fmt.Errorf("mark event processed: %w", err)
	}
	return result, nil
}
