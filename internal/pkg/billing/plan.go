package billing

import (
	"math"
	"strconv"
	"strings"

	"github.com/andersonlima/PedeAi/internal/pkg/env"
)

// PlanUnknown is stored when neither the price id nor the amount matches
// a configured plan.
const PlanUnknown = "Desconhecido"

const (
	PlanNameTrial   = "Plano Teste"
	PlanNameMonthly = "Plano Mensal"
	PlanNameAnnual  = "Plano Anual"
)

// PlanConfig holds the three configured provider price ids and the BRL
// price charged for each plan.
type PlanConfig struct {
	TrialPriceID   string
	MonthlyPriceID string
	AnnualPriceID  string

	TrialPrice   float64
	MonthlyPrice float64
	AnnualPrice  float64
}

func PlanConfigFromEnv() PlanConfig {
	return PlanConfig{
		TrialPriceID:   strings.TrimSpace(env.GetEnv("STRIPE_PRICE_TRIAL", "")),
		MonthlyPriceID: strings.TrimSpace(env.GetEnv("STRIPE_PRICE_MONTHLY", "")),
		AnnualPriceID:  strings.TrimSpace(env.GetEnv("STRIPE_PRICE_ANNUAL", "")),
		TrialPrice:     envFloat("PLAN_PRICE_TRIAL", 0),
		MonthlyPrice:   envFloat("PLAN_PRICE_MONTHLY", 29.90),
		AnnualPrice:    envFloat("PLAN_PRICE_ANNUAL", 299.00),
	}
}

// PriceIDForPlanType maps a checkout plan_type to its configured price id.
func (c PlanConfig) PriceIDForPlanType(planType string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(planType)) {
	case "trial":
		return c.TrialPriceID, c.TrialPriceID != ""
	case "monthly":
		return c.MonthlyPriceID, c.MonthlyPriceID != ""
	case "annual":
		return c.AnnualPriceID, c.AnnualPriceID != ""
	default:
		return "", false
	}
}

// Identify resolves a provider price id to a plan name and price. An
// unmatched id falls back to an amount heuristic against the configured
// plan prices; if that also fails the plan is PlanUnknown with the
// amount-derived price.
func (c PlanConfig) Identify(priceID string, unitAmountCents int64) (string, float64) {
	switch strings.TrimSpace(priceID) {
	case "":
	case c.TrialPriceID:
		return PlanNameTrial, c.TrialPrice
	case c.MonthlyPriceID:
		return PlanNameMonthly, c.MonthlyPrice
	case c.AnnualPriceID:
		return PlanNameAnnual, c.AnnualPrice
	}

	amount := float64(unitAmountCents) / 100
	if unitAmountCents > 0 {
		switch {
		case centsEqual(amount, c.TrialPrice):
			return PlanNameTrial, c.TrialPrice
		case centsEqual(amount, c.MonthlyPrice):
			return PlanNameMonthly, c.MonthlyPrice
		case centsEqual(amount, c.AnnualPrice):
			return PlanNameAnnual, c.AnnualPrice
		}
	}
	return PlanUnknown, amount
}

func centsEqual(a, b float64) bool {
	if b <= 0 {
		return false
	}
	return math.Abs(a-b) < 0.005
}

func envFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(env.GetEnv(key, ""))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

// isEntitlingStatus reports whether a provider subscription status grants
// access to the platform.
func isEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return true
	default:
		return false
	}
}
