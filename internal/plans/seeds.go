package plans

import (
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/pitchside/pitchside-backend/pkg/db/models"
	"github.com/pitchside/pitchside-backend/pkg/enums"
)

// Seed plans exist as in-memory defaults until first use. Resolve materializes
// them into the catalog so foreign keys can reference a durable row.
var seedPlans = map[string]func() *models.Plan{
	"free": func() *models.Plan {
		monthly := enums.BillingIntervalMonthly
		return &models.Plan{
			Code:         "free",
			Name:         "Free Plan",
			Status:       enums.PlanStatusActive,
			PriceAmount:  decimal.Zero,
			CurrencyCode: "usd",
			Interval:     &monthly,
			MaxPlayers:   25,
			Features:     pq.StringArray{"player_roster", "match_schedule"},
		}
	},
	"starter": func() *models.Plan {
		monthly := enums.BillingIntervalMonthly
		return &models.Plan{
			Code:         "starter",
			Name:         "Starter Plan",
			Status:       enums.PlanStatusActive,
			PriceAmount:  decimal.NewFromFloat(29.99),
			CurrencyCode: "usd",
			Interval:     &monthly,
			MaxPlayers:   100,
			Features:     pq.StringArray{"player_roster", "match_schedule", "document_vault"},
		}
	},
	"pro": func() *models.Plan {
		monthly := enums.BillingIntervalMonthly
		annual := decimal.NewFromFloat(499.99)
		return &models.Plan{
			Code:              "pro",
			Name:              "Pro Plan",
			Status:            enums.PlanStatusActive,
			PriceAmount:       decimal.NewFromFloat(49.99),
			AnnualPriceAmount: &annual,
			CurrencyCode:      "usd",
			Interval:          &monthly,
			MaxPlayers:        models.PlayerLimitUnlimited,
			Features:          pq.StringArray{"player_roster", "match_schedule", "document_vault", "analytics"},
		}
	},
}

// SeedPlan returns a fresh copy of the seed definition for the code, if any.
func SeedPlan(code string) (*models.Plan, bool) {
	factory, ok := seedPlans[code]
	if !ok {
		return nil, false
	}
	return factory(), true
}
