package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/tobiasmeyr/parkpass/internal/pkg/billing"
	"github.com/tobiasmeyr/parkpass/internal/pkg/database"
)

func pricingService() *billing.PricingService {
	return billing.NewPricingServiceFromDB(database.GetDB(), billing.NewStripeGatewayFromEnv())
}

// HandleUpdatePassPrice changes a pass's monthly price and, unless
// skip_migration is set, migrates all of its subscriptions onto the new
// price. The response separates the committed price change from the
// migration outcome.
func HandleUpdatePassPrice(c *fiber.Ctx) error {
	passID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "invalid pass id"})
	}

	var req struct {
		NewPrice      string `json:"new_price"`
		ChangedBy     string `json:"changed_by"`
		ChangeReason  string `json:"change_reason"`
		SkipMigration bool   `json:"skip_migration"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "invalid request body"})
	}

	newPrice, err := decimal.NewFromString(strings.TrimSpace(req.NewPrice))
	if err != nil || newPrice.IsNegative() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "new_price must be a non-negative decimal"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Minute)
	defer cancel()

	result, err := pricingService().UpdatePassPrice(ctx, passID, newPrice, req.ChangedBy, req.ChangeReason, req.SkipMigration)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// HandlePreviewPriceMigration is the dry run before a bulk migration; it
// never writes anything.
func HandlePreviewPriceMigration(c *fiber.Ctx) error {
	passID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "invalid pass id"})
	}

	items, err := pricingService().PreviewPriceMigration(c.UserContext(), passID)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"count": len(items), "items": items})
}

// HandleMigratePassSubscriptions re-runs the bulk migration for a pass, e.g.
// after some items failed during a price change.
func HandleMigratePassSubscriptions(c *fiber.Ctx) error {
	passID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "invalid pass id"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Minute)
	defer cancel()

	result, err := pricingService().MigrateAllSubscriptionsForPass(ctx, passID)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// HandleMigrateSubscription migrates one subscription onto its pass's
// current price.
func HandleMigrateSubscription(c *fiber.Ctx) error {
	subID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "invalid subscription id"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), billingCallTimeout)
	defer cancel()

	result, err := pricingService().MigrateSubscriptionToCurrentPrice(ctx, subID)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// HandleListPassPriceHistory returns the append-only price change ledger for
// a pass in effective-date order.
func HandleListPassPriceHistory(c *fiber.Ctx) error {
	passID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "invalid pass id"})
	}

	repo := billing.NewRepository(database.GetDB())
	rows, err := repo.ListPriceHistoryByPass(passID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": err.Error()})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"count": len(rows), "history": rows})
}

// HandlePublishPass creates the provider product/price backing a pass so it
// can be sold.
func HandlePublishPass(c *fiber.Ctx) error {
	passID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "invalid pass id"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), billingCallTimeout)
	defer cancel()

	pass, err := pricingService().EnsureRemoteProduct(ctx, passID)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(pass)
}
