package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tobiasmeyr/parkpass/internal/pkg/billing"
	"github.com/tobiasmeyr/parkpass/internal/pkg/database"
	"github.com/tobiasmeyr/parkpass/internal/pkg/env"
)

const billingCallTimeout = 30 * time.Second

func subscriptionService() *billing.SubscriptionService {
	return billing.NewSubscriptionServiceFromDB(database.GetDB(), billing.NewStripeGatewayFromEnv())
}

// HandleSubscribe creates a subscription for a user on a pass.
func HandleSubscribe(c *fiber.Ctx) error {
	var req struct {
		UserID uint `json:"user_id"`
		PassID uint `json:"pass_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.UserID == 0 || req.PassID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "user_id and pass_id are required"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), billingCallTimeout)
	defer cancel()

	sub, err := subscriptionService().Subscribe(ctx, req.UserID, req.PassID)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// HandleCancelAtPeriodEnd schedules cancellation for the end of the current
// billing period. Repeat calls are idempotent no-op successes.
func HandleCancelAtPeriodEnd(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "invalid subscription id"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), billingCallTimeout)
	defer cancel()

	result, err := subscriptionService().CancelAtPeriodEnd(ctx, id)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// HandleReactivate clears a scheduled period-end cancellation.
func HandleReactivate(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "invalid subscription id"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), billingCallTimeout)
	defer cancel()

	result, err := subscriptionService().Reactivate(ctx, id)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// HandleCancelImmediately hard-cancels a subscription now.
func HandleCancelImmediately(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "invalid subscription id"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), billingCallTimeout)
	defer cancel()

	result, err := subscriptionService().CancelImmediately(ctx, id)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// HandleRenew re-syncs one subscription from the remote provider state.
func HandleRenew(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "invalid subscription id"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), billingCallTimeout)
	defer cancel()

	sub, err := subscriptionService().Renew(ctx, id)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(sub)
}

// HandleProcessDueRenewals runs the due-renewal batch on demand. The same
// logic runs daily from the scheduler.
func HandleProcessDueRenewals(c *fiber.Ctx) error {
	daysAhead, err := strconv.Atoi(c.Query("days_ahead", env.GetEnv("RENEWAL_LOOKAHEAD_DAYS", "3")))
	if err != nil || daysAhead < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "days_ahead must be a non-negative integer"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Minute)
	defer cancel()

	results, err := subscriptionService().ProcessDueRenewals(ctx, daysAhead)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "renewal_batch_failed", "message": err.Error()})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"count": len(results), "results": results})
}

func parseIDParam(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id parameter")
	}
	return uint(id), nil
}

// billingErrorResponse maps billing sentinel errors onto HTTP statuses.
// Invalid state transitions are client errors, not server crashes.
func billingErrorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, billing.ErrUserNotFound),
		errors.Is(err, billing.ErrPassNotFound),
		errors.Is(err, billing.ErrSubscriptionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": err.Error()})
	case errors.Is(err, billing.ErrAlreadyCanceled),
		errors.Is(err, billing.ErrNotScheduledForCancellation),
		errors.Is(err, billing.ErrNoRemoteSubscription),
		errors.Is(err, billing.ErrPriceUnchanged):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "invalid_state", "message": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error()})
	}
}
