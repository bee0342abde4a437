package domain

import (
	"encoding/json"
	"fmt"
)

// Feature identifies one entry of the fixed feature contract.
type Feature int

// The feature contract. Order is canonical and is the order models are trained in.
const (
	FeatureAccountAgeDays Feature = iota
	FeatureHasProfileImage
	FeatureHasBio
	FeatureBioLength
	FeatureHasVerifiedBadge
	FeatureUsernameHasNumbers
	FeatureUsernameLength
	FeatureUsernameRandomPattern
	FeatureFollowerCount
	FeatureFollowingCount
	FeatureFollowerFollowingRatio
	FeaturePostFollowerRatio
	FeatureAvgPostLength
	FeaturePostFrequency
	FeatureDuplicateContentRatio
	FeatureURLRatio
	FeatureHashtagRatio
	FeatureAvgReplyTime
	FeatureInteractionDiversity

	NumFeatures int = iota
)

var featureNames = [NumFeatures]string{
	FeatureAccountAgeDays:         "account_age_days",
	FeatureHasProfileImage:        "has_profile_image",
	FeatureHasBio:                 "has_bio",
	FeatureBioLength:              "bio_length",
	FeatureHasVerifiedBadge:       "has_verified_badge",
	FeatureUsernameHasNumbers:     "username_has_numbers",
	FeatureUsernameLength:         "username_length",
	FeatureUsernameRandomPattern:  "username_random_pattern",
	FeatureFollowerCount:          "follower_count",
	FeatureFollowingCount:         "following_count",
	FeatureFollowerFollowingRatio: "follower_following_ratio",
	FeaturePostFollowerRatio:      "post_follower_ratio",
	FeatureAvgPostLength:          "avg_post_length",
	FeaturePostFrequency:          "post_frequency",
	FeatureDuplicateContentRatio:  "duplicate_content_ratio",
	FeatureURLRatio:               "url_ratio",
	FeatureHashtagRatio:           "hashtag_ratio",
	FeatureAvgReplyTime:           "avg_reply_time",
	FeatureInteractionDiversity:   "interaction_diversity",
}

var featureByName = func() map[string]Feature {
	m := make(map[string]Feature, NumFeatures)
	for i, name := range featureNames {
		m[name] = Feature(i)
	}
	return m
}()

// String returns the contract name of the feature.
func (f Feature) String() string {
	if f < 0 || int(f) >= NumFeatures {
		return fmt.Sprintf("feature(%d)", int(f))
	}
	return featureNames[f]
}

// FeatureNames returns the canonical feature order.
func FeatureNames() []string {
	names := make([]string, NumFeatures)
	copy(names, featureNames[:])
	return names
}

// LookupFeature resolves a contract name.
func LookupFeature(name string) (Feature, bool) {
	f, ok := featureByName[name]
	return f, ok
}

// FeatureVector holds one value per feature. Being an array, every key of the
// contract is always present.
type FeatureVector [NumFeatures]float64

// Get returns the value of a feature.
func (v FeatureVector) Get(f Feature) float64 {
	return v[f]
}

// Map returns the vector keyed by feature name.
func (v FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, NumFeatures)
	for i, name := range featureNames {
		m[name] = v[i]
	}
	return m
}

// MarshalJSON encodes the vector as an object keyed by feature name.
func (v FeatureVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Map())
}

// UnmarshalJSON decodes an object keyed by feature name. The object must carry
// every contract name and nothing else.
func (v *FeatureVector) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	var out FeatureVector
	for name, val := range m {
		f, ok := LookupFeature(name)
		if !ok {
			return &ValidationError{Field: "features", Reason: fmt.Sprintf("unknown feature %q", name)}
		}
		out[f] = val
	}
	if len(m) != NumFeatures {
		for _, name := range featureNames {
			if _, ok := m[name]; !ok {
				return &ValidationError{Field: "features", Reason: fmt.Sprintf("missing feature %q", name)}
			}
		}
	}
	*v = out
	return nil
}
