package scorer

import "github.com/opensource-finance/kestrel/internal/domain"

// FallbackThreshold is the bot probability above which the heuristic reports
// is_bot.
const FallbackThreshold = 0.6

// fallbackScore starts from a neutral 0.5 and shifts it by fixed amounts for
// each legitimacy or automation signal.
func fallbackScore(fv domain.FeatureVector) domain.MLVerdict {
	var score float64

	if fv[domain.FeatureHasProfileImage] == 1 {
		score -= 0.1
	}
	if fv[domain.FeatureHasBio] == 1 {
		score -= 0.1
	}
	if fv[domain.FeatureHasVerifiedBadge] == 1 {
		score -= 0.3
	}
	if fv[domain.FeatureAccountAgeDays] > 30 {
		score -= 0.15
	}

	if fv[domain.FeatureUsernameRandomPattern] == 1 {
		score += 0.2
	}
	if fv[domain.FeaturePostFrequency] > 20 {
		score += 0.2
	}
	if fv[domain.FeatureDuplicateContentRatio] > 0.5 {
		score += 0.25
	}
	if fv[domain.FeatureURLRatio] > 0.7 {
		score += 0.2
	}
	if fv[domain.FeatureFollowerFollowingRatio] < 0.1 {
		score += 0.15
	}

	p := clamp01(score + 0.5)
	return domain.MLVerdict{
		IsBot:      p > FallbackThreshold,
		Confidence: p,
	}
}
