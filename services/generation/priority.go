package generation

// Fixed tier to priority table. An unknown tier falls back to the basic
// value.
var tierPriorities = map[string]int{
	"free":       1,
	"basic":      3,
	"standard":   5,
	"pro":        9,
	"premium":    9,
	"enterprise": 9,
}

const defaultTierPriority = 3

func PriorityForTier(tier string) int {
	if p, ok := tierPriorities[tier]; ok {
		return p
	}
	return defaultTierPriority
}

// EffectivePriority caps the tier-resolved priority at the broker's
// configured maximum.
func EffectivePriority(tier string, maxPriority int) int {
	p := PriorityForTier(tier)
	if maxPriority > 0 && p > maxPriority {
		return maxPriority
	}
	return p
}
