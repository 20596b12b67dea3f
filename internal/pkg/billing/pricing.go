package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tobiasmeyr/parkpass/app/models"
)

// PricingService implements pass price changes and the migration of existing
// subscriptions onto a pass's current price. A price change touches two
// systems of record: the remote price objects are created/archived first and
// local writes follow; a later bulk-migration failure never rolls back the
// committed price change.
type PricingService struct {
	repo    Repository
	gateway PaymentGateway
}

// NewPricingService creates a pricing service from injected dependencies.
func NewPricingService(repo Repository, gateway PaymentGateway) *PricingService {
	return &PricingService{repo: repo, gateway: gateway}
}

// NewPricingServiceFromDB wires the service with the GORM repository.
func NewPricingServiceFromDB(db *gorm.DB, gateway PaymentGateway) *PricingService {
	return NewPricingService(NewRepository(db), gateway)
}

// UpdatePassPrice changes a pass's monthly price. The new remote price is
// created and the old one archived before any local write; a remote failure
// aborts the whole operation. The history row and pass update commit
// together with the price change, then - unless skipMigration - every
// subscription on the pass is migrated onto the new price.
func (p *PricingService) UpdatePassPrice(ctx context.Context, passID uint, newPrice decimal.Decimal, changedBy, changeReason string, skipMigration bool) (*PriceChangeResult, error) {
	pass, err := p.repo.GetPassByID(passID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPassNotFound
	}
	if err != nil {
		return nil, err
	}

	// Exact decimal comparison; no tolerance.
	if pass.Price.Equal(newPrice) {
		return nil, ErrPriceUnchanged
	}

	oldPrice := pass.Price
	oldStripePriceID := pass.StripePriceID
	newStripePriceID := ""

	if pass.StripeProductID != "" {
		created, err := p.gateway.CreatePrice(ctx, pass.StripeProductID, decimalToCents(newPrice), "usd")
		if err != nil {
			return nil, fmt.Errorf("create stripe price: %w", err)
		}
		newStripePriceID = created.ID

		if oldStripePriceID != "" {
			if err := p.gateway.ArchivePrice(ctx, oldStripePriceID); err != nil {
				// The new price exists remotely; archiving is retryable and
				// does not block the price change.
				fiberlog.Errorf("update pass price: archive old price %s: %v", oldStripePriceID, err)
			}
		}
	}

	// A pass that never had a price yet gets a null old price in history.
	// A zero price with recorded changes behind it is a real price, so the
	// zero value alone is not the signal.
	var oldPriceRef *decimal.Decimal
	if !oldPrice.IsZero() {
		oldPriceRef = &oldPrice
	} else {
		prior, err := p.repo.ListPriceHistoryByPass(pass.ID)
		if err != nil {
			return nil, fmt.Errorf("read price history: %w", err)
		}
		if len(prior) > 0 {
			oldPriceRef = &oldPrice
		}
	}
	history := &models.PassPriceHistory{
		PassID:           pass.ID,
		OldPrice:         oldPriceRef,
		NewPrice:         newPrice,
		OldStripePriceID: oldStripePriceID,
		NewStripePriceID: newStripePriceID,
		ChangedBy:        changedBy,
		ChangeReason:     changeReason,
		EffectiveDate:    time.Now(),
	}
	if err := p.repo.CreatePriceHistory(history); err != nil {
		return nil, fmt.Errorf("record price history: %w", err)
	}

	pass.Price = newPrice
	if newStripePriceID != "" {
		pass.StripePriceID = newStripePriceID
	}
	if err := p.repo.SavePass(pass); err != nil {
		return nil, fmt.Errorf("update pass: %w", err)
	}

	result := &PriceChangeResult{
		PassID:           pass.ID,
		OldPrice:         oldPrice,
		NewPrice:         newPrice,
		OldStripePriceID: oldStripePriceID,
		NewStripePriceID: pass.StripePriceID,
		HistoryID:        history.ID,
	}

	if skipMigration {
		return result, nil
	}

	migration, err := p.MigrateAllSubscriptionsForPass(ctx, pass.ID)
	if err != nil {
		// Price change is already committed; report the migration failure
		// separately instead of failing the whole call.
		result.MigrationError = err.Error()
		return result, nil
	}
	result.Migration = migration
	return result, nil
}

// MigrateSubscriptionToCurrentPrice moves one subscription onto its pass's
// current remote price with proration enabled, so the provider issues a
// prorated adjustment charge to the customer. Subscriptions already on the
// current price are skipped.
func (p *PricingService) MigrateSubscriptionToCurrentPrice(ctx context.Context, subscriptionID uint) (*MigrationResult, error) {
	sub, err := p.repo.GetSubscriptionByID(subscriptionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}

	pass, err := p.repo.GetPassByID(sub.PassID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPassNotFound
	}
	if err != nil {
		return nil, err
	}

	if sub.StripePriceID == pass.StripePriceID {
		return &MigrationResult{SubscriptionID: sub.ID, Outcome: MigrationOutcomeSkipped}, nil
	}

	if sub.StripeSubscriptionID != "" && pass.StripePriceID != "" {
		itemID, err := p.gateway.SubscriptionItemID(ctx, sub.StripeSubscriptionID)
		if err != nil {
			return nil, fmt.Errorf("resolve billing item: %w", err)
		}
		if _, err := p.gateway.UpdateSubscriptionPrice(ctx, sub.StripeSubscriptionID, itemID, pass.StripePriceID, true); err != nil {
			return nil, fmt.Errorf("update remote price: %w", err)
		}
	}

	sub.StripePriceID = pass.StripePriceID
	sub.MonthlyAmount = pass.Price
	if err := p.repo.SaveSubscription(sub); err != nil {
		return nil, err
	}
	return &MigrationResult{SubscriptionID: sub.ID, Outcome: MigrationOutcomeMigrated}, nil
}

// MigrateAllSubscriptionsForPass migrates every subscription on a pass onto
// the pass's current price, continuing past individual failures. Items are
// independent; a failed subscription leaves the rest untouched.
func (p *PricingService) MigrateAllSubscriptionsForPass(ctx context.Context, passID uint) (*BulkMigrationResult, error) {
	if _, err := p.repo.GetPassByID(passID); errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPassNotFound
	} else if err != nil {
		return nil, err
	}

	subs, err := p.repo.ListSubscriptionsByPass(passID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	out := &BulkMigrationResult{Results: make([]MigrationResult, 0, len(subs))}
	for i := range subs {
		res, err := p.MigrateSubscriptionToCurrentPrice(ctx, subs[i].ID)
		if err != nil {
			res = &MigrationResult{SubscriptionID: subs[i].ID, Outcome: MigrationOutcomeFailed, Error: err.Error()}
		}
		switch res.Outcome {
		case MigrationOutcomeMigrated:
			out.Migrated++
		case MigrationOutcomeSkipped:
			out.Skipped++
		default:
			out.Failed++
		}
		out.Results = append(out.Results, *res)
	}
	return out, nil
}

// PreviewPriceMigration is a pure read: for every subscription on the pass
// it reports current vs. new price and whether a migration would change
// anything. No remote calls, no writes.
func (p *PricingService) PreviewPriceMigration(ctx context.Context, passID uint) ([]MigrationPreviewItem, error) {
	_ = ctx
	pass, err := p.repo.GetPassByID(passID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPassNotFound
	}
	if err != nil {
		return nil, err
	}

	subs, err := p.repo.ListSubscriptionsByPass(passID)
	if err != nil {
		return nil, err
	}

	items := make([]MigrationPreviewItem, 0, len(subs))
	for i := range subs {
		sub := &subs[i]
		items = append(items, MigrationPreviewItem{
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			CurrentPrice:   sub.MonthlyAmount,
			NewPrice:       pass.Price,
			Difference:     pass.Price.Sub(sub.MonthlyAmount),
			WouldChange:    sub.StripePriceID != pass.StripePriceID,
		})
	}
	return items, nil
}

// EnsureRemoteProduct creates the provider product backing a pass when it
// does not exist yet, together with the initial price. Used when a pass is
// first put on sale.
func (p *PricingService) EnsureRemoteProduct(ctx context.Context, passID uint) (*models.Pass, error) {
	pass, err := p.repo.GetPassByID(passID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPassNotFound
	}
	if err != nil {
		return nil, err
	}
	if pass.StripeProductID != "" && pass.StripePriceID != "" {
		return pass, nil
	}

	if pass.StripeProductID == "" {
		prod, err := p.gateway.CreateProduct(ctx, pass.Name, pass.Description)
		if err != nil {
			return nil, fmt.Errorf("create stripe product: %w", err)
		}
		pass.StripeProductID = prod.ID
	}
	if pass.StripePriceID == "" {
		price, err := p.gateway.CreatePrice(ctx, pass.StripeProductID, decimalToCents(pass.Price), "usd")
		if err != nil {
			return nil, fmt.Errorf("create stripe price: %w", err)
		}
		pass.StripePriceID = price.ID
	}
	if err := p.repo.SavePass(pass); err != nil {
		return nil, err
	}
	return pass, nil
}
