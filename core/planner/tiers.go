package planner

import (
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/exportmon/exportmon/core/model"
)

// TierScale classifies intensity values into tiers using the quartiles of
// the forecast's own distribution. It is the fallback for feeds that carry
// no index string.
type TierScale struct {
	q25, q50, q75 float64
	ok            bool
}

// NewTierScale derives a scale from the given periods.
func NewTierScale(periods []model.Period) TierScale {
	if len(periods) == 0 {
		return TierScale{}
	}
	values := make([]float64, 0, len(periods))
	for _, p := range periods {
		values = append(values, p.Intensity)
	}
	sort.Float64s(values)
	return TierScale{
		q25: stat.Quantile(0.25, stat.Empirical, values, nil),
		q50: stat.Quantile(0.50, stat.Empirical, values, nil),
		q75: stat.Quantile(0.75, stat.Empirical, values, nil),
		ok:  true,
	}
}

// Classify maps an intensity value onto a tier.
func (s TierScale) Classify(v float64) model.IntensityTier {
	if !s.ok {
		return model.TierModerate
	}
	switch {
	case v <= s.q25:
		return model.TierVeryLow
	case v <= s.q50:
		return model.TierLow
	case v <= s.q75:
		return model.TierModerate
	default:
		return model.TierHigh
	}
}

// TierFromIndex maps a feed-supplied index string onto a tier. The feed's
// own classification wins over the derived scale when present.
func TierFromIndex(index string) (model.IntensityTier, bool) {
	switch strings.ToLower(strings.TrimSpace(index)) {
	case "very low":
		return model.TierVeryLow, true
	case "low":
		return model.TierLow, true
	case "moderate", "medium":
		return model.TierModerate, true
	case "high", "very high":
		return model.TierHigh, true
	}
	return "", false
}

// TierFor resolves a period's tier, preferring the feed index.
func TierFor(p model.Period, scale TierScale) model.IntensityTier {
	if tier, ok := TierFromIndex(p.Index); ok {
		return tier
	}
	return scale.Classify(p.Intensity)
}
