package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v78"
	"gorm.io/gorm"

	"github.com/tobiasmeyr/parkpass/app/models"
)

// SubscriptionService implements the subscription lifecycle: subscribe,
// cancellation flows, reactivation, manual renewal and the bulk due-renewal
// scan. Remote and local writes are a best-effort two-step sequence; when the
// local write fails after a successful remote call the systems diverge until
// the next inbound event carries the authoritative remote state.
type SubscriptionService struct {
	repo    Repository
	gateway PaymentGateway
}

// NewSubscriptionService creates a lifecycle service from injected
// dependencies.
func NewSubscriptionService(repo Repository, gateway PaymentGateway) *SubscriptionService {
	return &SubscriptionService{repo: repo, gateway: gateway}
}

// NewSubscriptionServiceFromDB wires the service with the GORM repository.
func NewSubscriptionServiceFromDB(db *gorm.DB, gateway PaymentGateway) *SubscriptionService {
	return NewSubscriptionService(NewRepository(db), gateway)
}

// Subscribe creates the remote subscription for a user on a pass and inserts
// the local row mirroring it. The user's provider customer is created on
// first use. MonthlyAmount snapshots the pass price at subscription time.
func (s *SubscriptionService) Subscribe(ctx context.Context, userID, passID uint) (*models.Subscription, error) {
	user, err := s.repo.GetUserByID(userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	pass, err := s.repo.GetPassByID(passID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPassNotFound
	}
	if err != nil {
		return nil, err
	}
	if pass.StripePriceID == "" {
		return nil, fmt.Errorf("pass %d has no billing price configured", pass.ID)
	}

	if user.StripeCustomerID == "" {
		cus, err := s.gateway.CreateCustomer(ctx, user.Name, user.Email)
		if err != nil {
			return nil, fmt.Errorf("create stripe customer: %w", err)
		}
		user.StripeCustomerID = cus.ID
		if err := s.repo.SaveUser(user); err != nil {
			return nil, err
		}
	}

	remote, err := s.gateway.CreateSubscription(ctx, user.StripeCustomerID, pass.StripePriceID)
	if err != nil {
		return nil, fmt.Errorf("create stripe subscription: %w", err)
	}

	sub := &models.Subscription{
		UserID:               user.ID,
		GarageID:             pass.GarageID,
		PassID:               pass.ID,
		StripeSubscriptionID: remote.ID,
		StripePriceID:        pass.StripePriceID,
		Status:               subscriptionStatusFromStripe(remote.Status),
		CurrentPeriodStart:   unixTime(remote.CurrentPeriodStart),
		CurrentPeriodEnd:     unixTime(remote.CurrentPeriodEnd),
		MonthlyAmount:        pass.Price,
		RenewalStatus:        models.RenewalStatusPending,
		NextRenewalDate:      unixTime(remote.CurrentPeriodEnd),
	}
	if err := s.repo.CreateSubscription(sub); err != nil {
		// Remote subscription exists but the local insert failed; the next
		// subscription webhook cannot heal a missing row, so surface loudly.
		fiberlog.Errorf("subscribe: local insert failed after remote create %s: %v", remote.ID, err)
		return nil, err
	}
	return sub, nil
}

// CancelAtPeriodEnd schedules cancellation for the end of the current
// billing period. Re-calling on an already scheduled subscription is an
// idempotent no-op success and performs no remote call.
func (s *SubscriptionService) CancelAtPeriodEnd(ctx context.Context, id uint) (*CancellationResult, error) {
	sub, err := s.getSubscription(id)
	if err != nil {
		return nil, err
	}
	if sub.Status == models.SubscriptionStatusCanceled {
		return nil, ErrAlreadyCanceled
	}
	if sub.CancelAtPeriodEnd {
		return &CancellationResult{
			SubscriptionID:    sub.ID,
			Status:            "scheduled_for_cancellation",
			CancelAtPeriodEnd: true,
			CurrentPeriodEnd:  sub.CurrentPeriodEnd,
			Message:           "subscription is already scheduled for cancellation",
			AlreadyScheduled:  true,
		}, nil
	}
	if sub.StripeSubscriptionID == "" {
		return nil, ErrNoRemoteSubscription
	}

	if _, err := s.gateway.SetCancelAtPeriodEnd(ctx, sub.StripeSubscriptionID, true); err != nil {
		return nil, fmt.Errorf("schedule cancellation: %w", err)
	}

	sub.CancelAtPeriodEnd = true
	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, err
	}

	return &CancellationResult{
		SubscriptionID:    sub.ID,
		Status:            "scheduled_for_cancellation",
		CancelAtPeriodEnd: true,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		Message:           "subscription will cancel at the end of the current period",
	}, nil
}

// Reactivate clears a scheduled period-end cancellation. Canceled
// subscriptions are terminal and cannot be reactivated.
func (s *SubscriptionService) Reactivate(ctx context.Context, id uint) (*CancellationResult, error) {
	sub, err := s.getSubscription(id)
	if err != nil {
		return nil, err
	}
	if sub.Status == models.SubscriptionStatusCanceled {
		return nil, ErrAlreadyCanceled
	}
	if !sub.CancelAtPeriodEnd {
		return nil, ErrNotScheduledForCancellation
	}
	if sub.StripeSubscriptionID == "" {
		return nil, ErrNoRemoteSubscription
	}

	if _, err := s.gateway.SetCancelAtPeriodEnd(ctx, sub.StripeSubscriptionID, false); err != nil {
		return nil, fmt.Errorf("reactivate subscription: %w", err)
	}

	sub.CancelAtPeriodEnd = false
	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, err
	}

	return &CancellationResult{
		SubscriptionID:    sub.ID,
		Status:            "reactivated",
		CancelAtPeriodEnd: false,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
	}, nil
}

// CancelImmediately hard-cancels the remote subscription and marks the local
// row canceled now.
func (s *SubscriptionService) CancelImmediately(ctx context.Context, id uint) (*CancellationResult, error) {
	sub, err := s.getSubscription(id)
	if err != nil {
		return nil, err
	}
	if sub.Status == models.SubscriptionStatusCanceled {
		return nil, ErrAlreadyCanceled
	}

	if sub.StripeSubscriptionID != "" {
		if _, err := s.gateway.CancelSubscription(ctx, sub.StripeSubscriptionID); err != nil {
			return nil, fmt.Errorf("cancel subscription: %w", err)
		}
	}

	now := time.Now()
	sub.Status = models.SubscriptionStatusCanceled
	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = &now
	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, err
	}

	return &CancellationResult{
		SubscriptionID:    sub.ID,
		Status:            models.SubscriptionStatusCanceled,
		CancelAtPeriodEnd: false,
		CanceledAt:        sub.CanceledAt,
	}, nil
}

// Renew pulls the remote subscription's current status and period and
// overwrites the local row, updating the renewal bookkeeping.
func (s *SubscriptionService) Renew(ctx context.Context, id uint) (*models.Subscription, error) {
	sub, err := s.getSubscription(id)
	if err != nil {
		return nil, err
	}
	if sub.StripeSubscriptionID == "" {
		return nil, ErrNoRemoteSubscription
	}

	now := time.Now()
	sub.RenewalStatus = models.RenewalStatusProcessing
	sub.RenewalAttemptedAt = &now
	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, err
	}

	remote, err := s.gateway.GetSubscription(ctx, sub.StripeSubscriptionID)
	if err != nil {
		sub.RenewalStatus = models.RenewalStatusFailed
		if saveErr := s.repo.SaveSubscription(sub); saveErr != nil {
			fiberlog.Errorf("renew: record failure for subscription %d: %v", sub.ID, saveErr)
		}
		return nil, fmt.Errorf("fetch remote subscription: %w", err)
	}

	s.applyRemoteState(sub, remote)
	sub.RenewalStatus = models.RenewalStatusCompleted
	sub.NextRenewalDate = sub.CurrentPeriodEnd
	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ProcessDueRenewals scans for subscriptions expiring within daysAhead days
// and renews each one independently. One subscription's failure never
// affects another's outcome; the caller gets a per-item result list.
func (s *SubscriptionService) ProcessDueRenewals(ctx context.Context, daysAhead int) ([]RenewalResult, error) {
	due, err := s.repo.FindExpiringSubscriptions(daysAhead)
	if err != nil {
		return nil, fmt.Errorf("find expiring subscriptions: %w", err)
	}

	results := make([]RenewalResult, 0, len(due))
	for i := range due {
		sub := &due[i]
		results = append(results, s.renewOne(ctx, sub))
	}
	return results, nil
}

func (s *SubscriptionService) renewOne(ctx context.Context, sub *models.Subscription) RenewalResult {
	now := time.Now()
	sub.RenewalStatus = models.RenewalStatusProcessing
	sub.RenewalAttemptedAt = &now
	if err := s.repo.SaveSubscription(sub); err != nil {
		return RenewalResult{SubscriptionID: sub.ID, Outcome: RenewalOutcomeFailed, Error: err.Error()}
	}

	if sub.StripeSubscriptionID == "" {
		sub.RenewalStatus = models.RenewalStatusFailed
		_ = s.repo.SaveSubscription(sub)
		return RenewalResult{SubscriptionID: sub.ID, Outcome: RenewalOutcomeFailed, Error: ErrNoRemoteSubscription.Error()}
	}

	remote, err := s.gateway.GetSubscription(ctx, sub.StripeSubscriptionID)
	if err != nil {
		sub.RenewalStatus = models.RenewalStatusFailed
		if saveErr := s.repo.SaveSubscription(sub); saveErr != nil {
			fiberlog.Errorf("renewal batch: record failure for subscription %d: %v", sub.ID, saveErr)
		}
		return RenewalResult{SubscriptionID: sub.ID, Outcome: RenewalOutcomeFailed, Error: err.Error()}
	}

	s.applyRemoteState(sub, remote)
	sub.RenewalStatus = models.RenewalStatusCompleted
	sub.NextRenewalDate = sub.CurrentPeriodEnd
	if err := s.repo.SaveSubscription(sub); err != nil {
		return RenewalResult{SubscriptionID: sub.ID, Outcome: RenewalOutcomeFailed, Error: err.Error()}
	}

	if sub.Status == models.SubscriptionStatusCanceled {
		return RenewalResult{SubscriptionID: sub.ID, Outcome: RenewalOutcomeCancelled}
	}
	return RenewalResult{SubscriptionID: sub.ID, Outcome: RenewalOutcomeRenewed}
}

// applyRemoteState overwrites the remote-owned fields from the provider
// object, stamping canceled_at when the remote reports the subscription
// gone.
func (s *SubscriptionService) applyRemoteState(sub *models.Subscription, remote *stripe.Subscription) {
	state := remoteStateFromStripe(remote)
	sub.Status = state.Status
	sub.CurrentPeriodStart = state.CurrentPeriodStart
	sub.CurrentPeriodEnd = state.CurrentPeriodEnd
	sub.CancelAtPeriodEnd = state.CancelAtPeriodEnd
	sub.CanceledAt = state.CanceledAt
}

func (s *SubscriptionService) getSubscription(id uint) (*models.Subscription, error) {
	sub, err := s.repo.GetSubscriptionByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}
