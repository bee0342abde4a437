package rules

import "github.com/opensource-finance/kestrel/internal/domain"

type predicate func(cfg domain.RuleConfig, fv domain.FeatureVector) bool

// builtinPredicates maps each built-in family to its pure evaluation function.
var builtinPredicates = map[domain.RuleKind]predicate{
	domain.KindNewAccountHighActivity: func(cfg domain.RuleConfig, fv domain.FeatureVector) bool {
		return fv[domain.FeatureAccountAgeDays] < cfg.MinAccountAgeDays &&
			fv[domain.FeaturePostFrequency] > cfg.SuspiciousPostFrequency
	},
	domain.KindPoorFollowerRatio: func(cfg domain.RuleConfig, fv domain.FeatureVector) bool {
		return fv[domain.FeatureFollowerFollowingRatio] < cfg.MinFollowerFollowingRatio
	},
	domain.KindMissingProfileElements: func(cfg domain.RuleConfig, fv domain.FeatureVector) bool {
		return fv[domain.FeatureHasProfileImage] == 0 ||
			fv[domain.FeatureHasBio] == 0 ||
			fv[domain.FeatureBioLength] < cfg.MinBioLength
	},
	domain.KindRandomUsername: func(_ domain.RuleConfig, fv domain.FeatureVector) bool {
		return fv[domain.FeatureUsernameRandomPattern] == 1
	},
	domain.KindExcessivePosting: func(cfg domain.RuleConfig, fv domain.FeatureVector) bool {
		return fv[domain.FeaturePostFrequency] > cfg.MaxPostFrequency
	},
	domain.KindDuplicateContent: func(cfg domain.RuleConfig, fv domain.FeatureVector) bool {
		return fv[domain.FeatureDuplicateContentRatio] > cfg.MaxDuplicateRatio
	},
	domain.KindURLSpam: func(cfg domain.RuleConfig, fv domain.FeatureVector) bool {
		return fv[domain.FeatureURLRatio] > cfg.MaxURLRatio
	},
	// Zero means no measurement, not an instant reply.
	domain.KindFastReplyTime: func(cfg domain.RuleConfig, fv domain.FeatureVector) bool {
		rt := fv[domain.FeatureAvgReplyTime]
		return rt > 0 && rt < cfg.FastReplySeconds
	},
	domain.KindLowInteractionDiversity: func(cfg domain.RuleConfig, fv domain.FeatureVector) bool {
		return fv[domain.FeatureInteractionDiversity] < cfg.MinInteractionDiversity
	},
}
