package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tobiasmeyr/parkpass/app/models"
)

func TestSubscribeCreatesCustomerOnFirstUse(t *testing.T) {
	db := newTestDB(t)
	gw := newMockGateway()
	svc := NewSubscriptionService(NewRepository(db), gw)

	user := seedUser(t, db, "driver@example.com", "")
	_, pass := seedGarageAndPass(t, db, "150.00")

	sub, err := svc.Subscribe(context.Background(), user.ID, pass.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if gw.createCustomerCalls != 1 {
		t.Fatalf("createCustomerCalls = %d, want 1", gw.createCustomerCalls)
	}
	if gw.createSubscriptionCalls != 1 {
		t.Fatalf("createSubscriptionCalls = %d, want 1", gw.createSubscriptionCalls)
	}

	var savedUser models.User
	db.First(&savedUser, user.ID)
	if savedUser.StripeCustomerID != "cus_test" {
		t.Fatalf("customer id not persisted, got %q", savedUser.StripeCustomerID)
	}

	if sub.StripeSubscriptionID != "sub_new" {
		t.Fatalf("subscription id = %q", sub.StripeSubscriptionID)
	}
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("status = %q, want active", sub.Status)
	}
	if !sub.MonthlyAmount.Equal(pass.Price) {
		t.Fatalf("monthly amount %s must snapshot the pass price %s", sub.MonthlyAmount, pass.Price)
	}
	if sub.CurrentPeriodEnd == nil || sub.NextRenewalDate == nil {
		t.Fatalf("period end and next renewal date must be set")
	}
}

func TestSubscribeReusesExistingCustomer(t *testing.T) {
	db := newTestDB(t)
	gw := newMockGateway()
	svc := NewSubscriptionService(NewRepository(db), gw)

	user := seedUser(t, db, "driver@example.com", "cus_existing")
	_, pass := seedGarageAndPass(t, db, "150.00")

	if _, err := svc.Subscribe(context.Background(), user.ID, pass.ID); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if gw.createCustomerCalls != 0 {
		t.Fatalf("must not create a customer for an already linked user")
	}
}

func TestSubscribeUnknownUser(t *testing.T) {
	db := newTestDB(t)
	svc := NewSubscriptionService(NewRepository(db), newMockGateway())
	_, pass := seedGarageAndPass(t, db, "150.00")

	if _, err := svc.Subscribe(context.Background(), 999, pass.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestCancelAtPeriodEndIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	gw := newMockGateway()
	svc := NewSubscriptionService(NewRepository(db), gw)

	user := seedUser(t, db, "driver@example.com", "cus_1")
	_, pass := seedGarageAndPass(t, db, "150.00")
	sub := seedSubscription(t, db, user, pass, "sub_remote")

	first, err := svc.CancelAtPeriodEnd(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if first.AlreadyScheduled {
		t.Fatalf("first cancel must not report already scheduled")
	}
	if gw.setCancelCalls != 1 {
		t.Fatalf("setCancelCalls = %d, want 1", gw.setCancelCalls)
	}

	second, err := svc.CancelAtPeriodEnd(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if !second.AlreadyScheduled {
		t.Fatalf("repeat cancel must report already scheduled")
	}
	if gw.setCancelCalls != 1 {
		t.Fatalf("repeat cancel made a remote call, setCancelCalls = %d", gw.setCancelCalls)
	}

	var got models.Subscription
	db.First(&got, sub.ID)
	if !got.CancelAtPeriodEnd {
		t.Fatalf("cancel_at_period_end not persisted")
	}
	if got.Status != models.SubscriptionStatusActive {
		t.Fatalf("scheduling cancellation must not change status, got %q", got.Status)
	}
}

func TestCancelAtPeriodEndRejectsCanceled(t *testing.T) {
	db := newTestDB(t)
	svc := NewSubscriptionService(NewRepository(db), newMockGateway())

	user := seedUser(t, db, "driver@example.com", "cus_1")
	_, pass := seedGarageAndPass(t, db, "150.00")
	sub := seedSubscription(t, db, user, pass, "sub_remote")
	db.Model(sub).Update("status", models.SubscriptionStatusCanceled)

	if _, err := svc.CancelAtPeriodEnd(context.Background(), sub.ID); !errors.Is(err, ErrAlreadyCanceled) {
		t.Fatalf("err = %v, want ErrAlreadyCanceled", err)
	}
}

func TestReactivateClearsScheduledCancellation(t *testing.T) {
	db := newTestDB(t)
	gw := newMockGateway()
	svc := NewSubscriptionService(NewRepository(db), gw)

	user := seedUser(t, db, "driver@example.com", "cus_1")
	_, pass := seedGarageAndPass(t, db, "150.00")
	sub := seedSubscription(t, db, user, pass, "sub_remote")

	if _, err := svc.Reactivate(context.Background(), sub.ID); !errors.Is(err, ErrNotScheduledForCancellation) {
		t.Fatalf("err = %v, want ErrNotScheduledForCancellation", err)
	}

	db.Model(sub).Update("cancel_at_period_end", true)
	result, err := svc.Reactivate(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if result.CancelAtPeriodEnd {
		t.Fatalf("reactivation must clear the flag")
	}
	if gw.setCancelCalls != 1 {
		t.Fatalf("setCancelCalls = %d, want 1", gw.setCancelCalls)
	}

	var got models.Subscription
	db.First(&got, sub.ID)
	if got.CancelAtPeriodEnd {
		t.Fatalf("cancel_at_period_end still set after reactivation")
	}
}

func TestCancelImmediately(t *testing.T) {
	db := newTestDB(t)
	gw := newMockGateway()
	svc := NewSubscriptionService(NewRepository(db), gw)

	user := seedUser(t, db, "driver@example.com", "cus_1")
	_, pass := seedGarageAndPass(t, db, "150.00")
	sub := seedSubscription(t, db, user, pass, "sub_remote")
	db.Model(sub).Update("cancel_at_period_end", true)

	result, err := svc.CancelImmediately(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if gw.cancelCalls != 1 {
		t.Fatalf("cancelCalls = %d, want 1", gw.cancelCalls)
	}
	if result.CanceledAt == nil {
		t.Fatalf("result missing canceled_at")
	}

	var got models.Subscription
	db.First(&got, sub.ID)
	if got.Status != models.SubscriptionStatusCanceled {
		t.Fatalf("status = %q, want canceled", got.Status)
	}
	if got.CanceledAt == nil {
		t.Fatalf("canceled subscription must carry canceled_at")
	}
	if got.CancelAtPeriodEnd {
		t.Fatalf("immediate cancel must clear cancel_at_period_end")
	}

	if _, err := svc.CancelImmediately(context.Background(), sub.ID); !errors.Is(err, ErrAlreadyCanceled) {
		t.Fatalf("repeat cancel err = %v, want ErrAlreadyCanceled", err)
	}
}

func TestRenewPullsRemoteState(t *testing.T) {
	db := newTestDB(t)
	gw := newMockGateway()
	svc := NewSubscriptionService(NewRepository(db), gw)

	user := seedUser(t, db, "driver@example.com", "cus_1")
	_, pass := seedGarageAndPass(t, db, "150.00")
	sub := seedSubscription(t, db, user, pass, "sub_remote")

	remote := activeRemoteSub("sub_remote")
	remote.CurrentPeriodEnd = time.Now().Add(40 * 24 * time.Hour).Unix()
	gw.remoteSubs["sub_remote"] = remote

	renewed, err := svc.Renew(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if renewed.RenewalStatus != models.RenewalStatusCompleted {
		t.Fatalf("renewal status = %q, want completed", renewed.RenewalStatus)
	}
	if renewed.RenewalAttemptedAt == nil {
		t.Fatalf("renewal attempt timestamp missing")
	}
	if renewed.CurrentPeriodEnd == nil || renewed.CurrentPeriodEnd.Unix() != remote.CurrentPeriodEnd {
		t.Fatalf("period end not taken from the remote subscription")
	}
	if renewed.NextRenewalDate == nil || !renewed.NextRenewalDate.Equal(*renewed.CurrentPeriodEnd) {
		t.Fatalf("next renewal date must track the new period end")
	}
}

func TestRenewRemoteFailureMarksFailed(t *testing.T) {
	db := newTestDB(t)
	gw := newMockGateway()
	svc := NewSubscriptionService(NewRepository(db), gw)

	user := seedUser(t, db, "driver@example.com", "cus_1")
	_, pass := seedGarageAndPass(t, db, "150.00")
	sub := seedSubscription(t, db, user, pass, "sub_remote")
	gw.failGetSub["sub_remote"] = true

	if _, err := svc.Renew(context.Background(), sub.ID); err == nil {
		t.Fatalf("expected an error from the remote lookup")
	}

	var got models.Subscription
	db.First(&got, sub.ID)
	if got.RenewalStatus != models.RenewalStatusFailed {
		t.Fatalf("renewal status = %q, want failed", got.RenewalStatus)
	}
}

func TestProcessDueRenewalsIsolatesFailures(t *testing.T) {
	db := newTestDB(t)
	gw := newMockGateway()
	svc := NewSubscriptionService(NewRepository(db), gw)

	user := seedUser(t, db, "driver@example.com", "cus_1")
	_, pass := seedGarageAndPass(t, db, "150.00")

	soon := time.Now().Add(24 * time.Hour)
	var ids []uint
	for i := 1; i <= 5; i++ {
		sub := seedSubscription(t, db, user, pass, fmt.Sprintf("sub_due_%d", i))
		db.Model(sub).Update("current_period_end", soon)
		ids = append(ids, sub.ID)
	}
	gw.failGetSub["sub_due_3"] = true

	results, err := svc.ProcessDueRenewals(context.Background(), 3)
	if err != nil {
		t.Fatalf("process due renewals: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}

	renewed, failed := 0, 0
	for _, r := range results {
		switch r.Outcome {
		case RenewalOutcomeRenewed:
			renewed++
		case RenewalOutcomeFailed:
			failed++
			if r.SubscriptionID != ids[2] {
				t.Fatalf("wrong subscription failed: %d", r.SubscriptionID)
			}
			if r.Error == "" {
				t.Fatalf("failed result missing error")
			}
		}
	}
	if renewed != 4 || failed != 1 {
		t.Fatalf("renewed = %d, failed = %d, want 4/1", renewed, failed)
	}

	var failedSub models.Subscription
	db.First(&failedSub, ids[2])
	if failedSub.RenewalStatus != models.RenewalStatusFailed {
		t.Fatalf("failed subscription renewal status = %q", failedSub.RenewalStatus)
	}

	var okSub models.Subscription
	db.First(&okSub, ids[0])
	if okSub.RenewalStatus != models.RenewalStatusCompleted {
		t.Fatalf("renewed subscription renewal status = %q", okSub.RenewalStatus)
	}
}

func TestProcessDueRenewalsReportsCancellations(t *testing.T) {
	db := newTestDB(t)
	gw := newMockGateway()
	svc := NewSubscriptionService(NewRepository(db), gw)

	user := seedUser(t, db, "driver@example.com", "cus_1")
	_, pass := seedGarageAndPass(t, db, "150.00")
	sub := seedSubscription(t, db, user, pass, "sub_ending")
	db.Model(sub).Update("current_period_end", time.Now().Add(24*time.Hour))

	remote := activeRemoteSub("sub_ending")
	remote.Status = "canceled"
	remote.CanceledAt = time.Now().Unix()
	gw.remoteSubs["sub_ending"] = remote

	results, err := svc.ProcessDueRenewals(context.Background(), 3)
	if err != nil {
		t.Fatalf("process due renewals: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != RenewalOutcomeCancelled {
		t.Fatalf("results = %+v, want one cancelled outcome", results)
	}

	var got models.Subscription
	db.First(&got, sub.ID)
	if got.Status != models.SubscriptionStatusCanceled {
		t.Fatalf("status = %q, want canceled", got.Status)
	}
	if got.CanceledAt == nil {
		t.Fatalf("canceled subscription must carry canceled_at")
	}
}
