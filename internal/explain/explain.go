// Package explain renders detection results as human-readable text.
package explain

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// TopFeatures is the number of contributing features listed.
const TopFeatures = 5

// baseline describes a typical legitimate account. Deviation is measured in
// units of scale so features with different ranges are comparable.
var baseline = [domain.NumFeatures]struct{ value, scale float64 }{
	domain.FeatureAccountAgeDays:         {365, 365},
	domain.FeatureHasProfileImage:        {1, 1},
	domain.FeatureHasBio:                 {1, 1},
	domain.FeatureBioLength:              {60, 60},
	domain.FeatureHasVerifiedBadge:       {0, 1},
	domain.FeatureUsernameHasNumbers:     {0, 1},
	domain.FeatureUsernameLength:         {10, 10},
	domain.FeatureUsernameRandomPattern:  {0, 1},
	domain.FeatureFollowerCount:          {300, 300},
	domain.FeatureFollowingCount:         {300, 300},
	domain.FeatureFollowerFollowingRatio: {1, 1},
	domain.FeaturePostFollowerRatio:      {1, 1},
	domain.FeatureAvgPostLength:          {100, 100},
	domain.FeaturePostFrequency:          {2, 2},
	domain.FeatureDuplicateContentRatio:  {0, 0.5},
	domain.FeatureURLRatio:               {0.2, 0.5},
	domain.FeatureHashtagRatio:           {0.5, 1},
	domain.FeatureAvgReplyTime:           {600, 600},
	domain.FeatureInteractionDiversity:   {0.8, 0.5},
}

// Contribution is one feature's deviation from the legitimate baseline.
type Contribution struct {
	Feature   string  `json:"feature"`
	Value     float64 `json:"value"`
	Baseline  float64 `json:"baseline"`
	Deviation float64 `json:"deviation"`
}

// TopContributors ranks features by scaled distance from the baseline, largest
// first. Ties keep canonical feature order. An unknown reply time has no
// deviation.
func TopContributors(fv domain.FeatureVector, k int) []Contribution {
	names := domain.FeatureNames()
	all := make([]Contribution, domain.NumFeatures)
	for i, v := range fv {
		b := baseline[i]
		dev := math.Abs(v-b.value) / b.scale
		if domain.Feature(i) == domain.FeatureAvgReplyTime && v == features.UnknownReplyTimeSeconds {
			dev = 0
		}
		all[i] = Contribution{Feature: names[i], Value: v, Baseline: b.value, Deviation: dev}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Deviation > all[j].Deviation
	})

	if k > len(all) {
		k = len(all)
	}
	if k < 0 {
		k = 0
	}
	return all[:k]
}

// Generator renders explanations using a rule catalogue for descriptions.
type Generator struct {
	descriptions map[string]string
}

// NewGenerator returns a Generator. descriptions maps rule ids to text; ids
// missing from it are printed verbatim.
func NewGenerator(descriptions map[string]string) *Generator {
	d := make(map[string]string, len(descriptions))
	for k, v := range descriptions {
		d[k] = v
	}
	return &Generator{descriptions: d}
}

// Explain renders result. The output is deterministic for a given result.
func (g *Generator) Explain(result *domain.DetectionResult) string {
	var b strings.Builder

	username := result.Username
	if username == "" {
		username = "unknown"
	}
	fmt.Fprintf(&b, "Detection result for user '%s'\n", username)
	b.WriteString(strings.Repeat("=", 60) + "\n\n")

	if result.IsBot {
		fmt.Fprintf(&b, "BOT DETECTED (confidence: %s)\n\n", percent(result.Confidence))
	} else {
		fmt.Fprintf(&b, "Likely legitimate user (bot score: %s)\n\n", percent(result.Confidence))
	}
	fmt.Fprintf(&b, "Detection method: %s\n\n", result.Method)

	triggered := 0
	if r := result.Details.Rules; r != nil {
		triggered = len(r.TriggeredRules)
		b.WriteString("Rule-based analysis:\n")
		fmt.Fprintf(&b, "  Score: %s\n", percent(r.Confidence))
		if triggered > 0 {
			b.WriteString("  Triggered rules:\n")
			for _, id := range r.TriggeredRules {
				fmt.Fprintf(&b, "    - %s\n", g.describe(id))
			}
		} else {
			b.WriteString("  No rules triggered\n")
		}
		b.WriteString("\n")
	}

	if m := result.Details.ML; m != nil {
		class := "Legitimate"
		if m.IsBot {
			class = "Bot"
		}
		b.WriteString("Machine learning analysis:\n")
		fmt.Fprintf(&b, "  Bot probability: %s\n", percent(m.Confidence))
		fmt.Fprintf(&b, "  Classification: %s\n", class)
		if triggered == 0 {
			b.WriteString("  The statistical model drove this decision; no rules triggered.\n")
		}
		b.WriteString("\n")
	}

	fv := result.Features
	b.WriteString("Key features:\n")
	fmt.Fprintf(&b, "  Account age: %.0f days\n", fv[domain.FeatureAccountAgeDays])
	fmt.Fprintf(&b, "  Profile image: %s\n", yesNo(fv[domain.FeatureHasProfileImage]))
	fmt.Fprintf(&b, "  Bio: %s\n", yesNo(fv[domain.FeatureHasBio]))
	fmt.Fprintf(&b, "  Followers: %.0f\n", fv[domain.FeatureFollowerCount])
	fmt.Fprintf(&b, "  Following: %.0f\n", fv[domain.FeatureFollowingCount])
	fmt.Fprintf(&b, "  Post frequency: %.2f posts/day\n\n", fv[domain.FeaturePostFrequency])

	b.WriteString("Top contributing features:\n")
	for i, c := range TopContributors(fv, TopFeatures) {
		fmt.Fprintf(&b, "  %d. %s = %s (typical %s)\n", i+1, c.Feature, number(c.Value), number(c.Baseline))
	}

	return b.String()
}

func (g *Generator) describe(id string) string {
	if d, ok := g.descriptions[id]; ok && d != "" {
		return d
	}
	return id
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func yesNo(v float64) string {
	if v != 0 {
		return "Yes"
	}
	return "No"
}

func number(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}
