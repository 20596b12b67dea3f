package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/tobiasmeyr/parkpass/app/controllers"
	"github.com/tobiasmeyr/parkpass/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// Webhook delivery is authenticated by its signature, not by API key,
	// and must not be rate limited below the provider's retry schedule.
	app.Post("/webhooks/stripe", controllers.HandleStripeWebhook)

	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "parkpass api",
		})
	})

	v1 := api.Group("/v1", middleware.AdminAPIKeyMiddleware())

	v1.Post("/subscriptions", controllers.HandleSubscribe)
	v1.Post("/subscriptions/:id/cancel-at-period-end", controllers.HandleCancelAtPeriodEnd)
	v1.Post("/subscriptions/:id/reactivate", controllers.HandleReactivate)
	v1.Post("/subscriptions/:id/cancel", controllers.HandleCancelImmediately)
	v1.Post("/subscriptions/:id/renew", controllers.HandleRenew)
	v1.Post("/subscriptions/:id/migrate-price", controllers.HandleMigrateSubscription)
	v1.Post("/renewals/process", controllers.HandleProcessDueRenewals)

	v1.Put("/passes/:id/price", controllers.HandleUpdatePassPrice)
	v1.Get("/passes/:id/price-migration/preview", controllers.HandlePreviewPriceMigration)
	v1.Post("/passes/:id/price-migration", controllers.HandleMigratePassSubscriptions)
	v1.Get("/passes/:id/price-history", controllers.HandleListPassPriceHistory)
	v1.Post("/passes/:id/publish", controllers.HandlePublishPass)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
