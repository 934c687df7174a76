package license

import "fmt"

// Tier names. Records carry these as plain strings; unknown values are
// rejected at validation time.
const (
	TierTrial      = "trial"
	TierStandard   = "standard"
	TierEnterprise = "enterprise"
	TierLifetime   = "lifetime"
)

// TierLimits is the quota and feature bundle of one tier.
type TierLimits struct {
	MaxPages       int  `json:"max_pages"`
	HWIDRequired   bool `json:"hwid_required"`
	AIImages       bool `json:"ai_images"`
	Quizzes        bool `json:"quizzes"`
	Translation    bool `json:"translation"`
	CustomBranding bool `json:"custom_branding"`
}

// tierTable is the static tier policy. Shipped as code, never derived
// at runtime.
var tierTable = map[string]TierLimits{
	TierTrial: {
		MaxPages: 10,
	},
	TierStandard: {
		MaxPages:    50,
		Quizzes:     true,
		Translation: true,
	},
	TierEnterprise: {
		MaxPages:       300,
		HWIDRequired:   true,
		AIImages:       true,
		Quizzes:        true,
		Translation:    true,
		CustomBranding: true,
	},
	TierLifetime: {
		MaxPages:       300,
		HWIDRequired:   true,
		AIImages:       true,
		Quizzes:        true,
		Translation:    true,
		CustomBranding: true,
	},
}

// LimitsFor returns the limits bundle for a tier name.
func LimitsFor(tier string) (TierLimits, error) {
	limits, ok := tierTable[tier]
	if !ok {
		return TierLimits{}, fmt.Errorf("unknown tier %q", tier)
	}
	return limits, nil
}

// Tiers lists the known tier names in ascending order of entitlement.
func Tiers() []string {
	return []string{TierTrial, TierStandard, TierEnterprise, TierLifetime}
}

// IsValidTier reports whether the name is a known tier.
func IsValidTier(tier string) bool {
	_, ok := tierTable[tier]
	return ok
}
