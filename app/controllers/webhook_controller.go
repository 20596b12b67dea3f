package controllers

import (
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/gofiber/fiber/v2"

	"github.com/tobiasmeyr/parkpass/internal/pkg/billing"
	"github.com/tobiasmeyr/parkpass/internal/pkg/database"
)

// HandleStripeWebhook ingests asynchronous provider events. The exact raw
// request body is verified against the Stripe-Signature header before
// anything else happens; unverifiable deliveries never reach the dispatcher
// or the ledger. Handler failures answer non-2xx so Stripe redelivers.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := c.Body()
	signature := c.Get("Stripe-Signature")

	gateway := billing.NewStripeGatewayFromEnv()
	event, err := gateway.VerifyWebhook(rawBody, signature)
	if err != nil {
		fiberlog.Warnf("stripe webhook: signature verification failed: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	dispatcher := billing.NewDispatcher(billing.NewRepository(database.GetDB()))
	result, err := dispatcher.Dispatch(c.UserContext(), event, rawBody)
	if err != nil {
		fiberlog.Errorf("stripe webhook: processing %s failed: %v", event.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
	}
	if result.Duplicate {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
