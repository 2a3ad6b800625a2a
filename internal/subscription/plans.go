package subscription

import "time"

// Plan identifies a pricing tier.
type Plan string

const (
	PlanMonthly    Plan = "monthly"
	PlanQuarterly  Plan = "quarterly"
	PlanSemiannual Plan = "semiannual"
	PlanYearly     Plan = "yearly"
)

// PlanConfig defines the duration and price of a tier.
type PlanConfig struct {
	Plan     Plan
	Duration time.Duration
	Price    string // USD, fixed-point string
}

// Plans is the hardcoded plan catalogue.
var Plans = map[Plan]PlanConfig{
	PlanMonthly: {
		Plan:     PlanMonthly,
		Duration: 30 * 24 * time.Hour,
		Price:    "3.99",
	},
	PlanQuarterly: {
		Plan:     PlanQuarterly,
		Duration: 90 * 24 * time.Hour,
		Price:    "9.99",
	},
	PlanSemiannual: {
		Plan:     PlanSemiannual,
		Duration: 180 * 24 * time.Hour,
		Price:    "17.99",
	},
	PlanYearly: {
		Plan:     PlanYearly,
		Duration: 365 * 24 * time.Hour,
		Price:    "29.99",
	},
}

// ValidPlan returns true if the plan name is recognised.
func ValidPlan(p Plan) bool {
	_, ok := Plans[p]
	return ok
}

// PlanDuration returns the paid period for a plan, or false for unknown plans.
func PlanDuration(p Plan) (time.Duration, bool) {
	cfg, ok := Plans[p]
	if !ok {
		return 0, false
	}
	return cfg.Duration, true
}
