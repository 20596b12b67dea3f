package scheduler

import (
	"context"
	"strconv"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/tobiasmeyr/parkpass/internal/pkg/billing"
	"github.com/tobiasmeyr/parkpass/internal/pkg/database"
	"github.com/tobiasmeyr/parkpass/internal/pkg/env"
)

// Start launches the background cron that scans for due renewals. Schedule
// and lookahead come from RENEWAL_CRON / RENEWAL_LOOKAHEAD_DAYS.
func Start() *cron.Cron {
	schedule := env.GetEnv("RENEWAL_CRON", "@daily")
	daysAhead, err := strconv.Atoi(env.GetEnv("RENEWAL_LOOKAHEAD_DAYS", "3"))
	if err != nil || daysAhead < 0 {
		daysAhead = 3
	}

	c := cron.New()
	_, err = c.AddFunc(schedule, func() {
		runDueRenewals(daysAhead)
	})
	if err != nil {
		fiberlog.Errorf("scheduler: invalid RENEWAL_CRON %q: %v", schedule, err)
		return c
	}

	c.Start()
	fiberlog.Infof("scheduler: due-renewal scan registered (%s, %d days ahead)", schedule, daysAhead)
	return c
}

func runDueRenewals(daysAhead int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	svc := billing.NewSubscriptionServiceFromDB(database.GetDB(), billing.NewStripeGatewayFromEnv())
	results, err := svc.ProcessDueRenewals(ctx, daysAhead)
	if err != nil {
		fiberlog.Errorf("scheduler: due-renewal scan failed: %v", err)
		return
	}

	var renewed, failed, cancelled int
	for _, r := range results {
		switch r.Outcome {
		case billing.RenewalOutcomeRenewed:
			renewed++
		case billing.RenewalOutcomeCancelled:
			cancelled++
		default:
			failed++
		}
	}
	fiberlog.Infof("scheduler: due-renewal scan done: %d renewed, %d cancelled, %d failed", renewed, cancelled, failed)
}
