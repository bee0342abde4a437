// Package features derives the fixed feature vector from raw account records.
package features

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"golang.org/x/text/cases"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// UnknownReplyTimeSeconds stands in for an absent average reply time. It is large
// enough that missing data never reads as suspiciously fast.
const UnknownReplyTimeSeconds = 86400.0

var (
	urlPattern     = regexp.MustCompile(`https?://\S+|www\.\S+`)
	hashtagPattern = regexp.MustCompile(`#\w+`)
)

// Extractor turns account records into feature vectors. It holds no mutable state
// and is safe for concurrent use.
type Extractor struct {
	now func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock overrides the reference time used for account age.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		e.now = now
	}
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract computes the feature vector of rec. It never fails: missing or
// unparseable optional data falls back to documented defaults.
func (e *Extractor) Extract(rec *domain.AccountRecord) domain.FeatureVector {
	var fv domain.FeatureVector

	age := e.accountAgeDays(rec.CreatedAt)
	fv[domain.FeatureAccountAgeDays] = age

	fv[domain.FeatureHasProfileImage] = boolToFloat(rec.HasProfileImage)
	fv[domain.FeatureHasBio] = boolToFloat(strings.TrimSpace(rec.Bio) != "")
	fv[domain.FeatureBioLength] = float64(utf8.RuneCountInString(rec.Bio))
	fv[domain.FeatureHasVerifiedBadge] = boolToFloat(rec.Verified)

	fv[domain.FeatureUsernameLength] = float64(utf8.RuneCountInString(rec.Username))
	fv[domain.FeatureUsernameHasNumbers] = boolToFloat(hasDigit(rec.Username))
	fv[domain.FeatureUsernameRandomPattern] = boolToFloat(IsRandomUsername(rec.Username))

	posts := float64(nonNegative(rec.PostCount))
	followers := float64(nonNegative(rec.FollowerCount))
	following := float64(nonNegative(rec.FollowingCount))

	fv[domain.FeatureFollowerCount] = followers
	fv[domain.FeatureFollowingCount] = following
	fv[domain.FeatureFollowerFollowingRatio] = followers / math.Max(following, 1)
	fv[domain.FeaturePostFollowerRatio] = posts / math.Max(followers, 1)

	fv[domain.FeatureAvgPostLength] = avgPostLength(rec.RecentPosts)
	fv[domain.FeaturePostFrequency] = posts / math.Max(age, 1)
	fv[domain.FeatureDuplicateContentRatio] = duplicateRatio(rec.RecentPosts)
	fv[domain.FeatureURLRatio] = urlRatio(rec.RecentPosts)
	fv[domain.FeatureHashtagRatio] = hashtagRatio(rec.RecentPosts)

	fv[domain.FeatureAvgReplyTime] = UnknownReplyTimeSeconds
	if rt := rec.AvgReplyTimeSeconds; rt != nil && *rt >= 0 && !math.IsNaN(*rt) && !math.IsInf(*rt, 0) {
		fv[domain.FeatureAvgReplyTime] = *rt
	}
	fv[domain.FeatureInteractionDiversity] = interactionDiversity(rec.Interactions)

	return fv
}

// accountAgeDays returns whole days since creation, clamped at zero.
func (e *Extractor) accountAgeDays(createdAt string) float64 {
	created, err := ParseTimestamp(createdAt)
	if err != nil {
		return 0
	}
	days := math.Floor(e.now().Sub(created).Hours() / 24)
	if days < 0 || math.IsNaN(days) {
		return 0
	}
	return days
}

// MinTimestampYear is the earliest year accepted in account records.
const MinTimestampYear = 1970

// ParseTimestamp parses the timestamp formats accepted in account records.
// Values without a zone are read as UTC. Bare numbers shorter than a compact
// date (20060102) are rejected, as are years before MinTimestampYear. Future
// times are accepted; extraction clamps their age to zero.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if isShortNumber(s) {
		return time.Time{}, fmt.Errorf("timestamp %q has no date", s)
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	if t.Year() < MinTimestampYear {
		return time.Time{}, fmt.Errorf("timestamp %q is before %d", s, MinTimestampYear)
	}
	return t, nil
}

// isShortNumber reports whether s is only digits and dots with fewer than eight
// digits, such as "2024" or "1.5".
func isShortNumber(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
		default:
			return false
		}
	}
	return digits < 8
}

func avgPostLength(posts []domain.Post) float64 {
	if len(posts) == 0 {
		return 0
	}
	total := 0
	for _, p := range posts {
		total += utf8.RuneCountInString(p.Content)
	}
	return float64(total) / float64(len(posts))
}

// duplicateRatio is the fraction of posts whose normalised content also appears
// in another post of the same list.
func duplicateRatio(posts []domain.Post) float64 {
	if len(posts) < 2 {
		return 0
	}
	folder := cases.Fold()
	normalized := make([]string, len(posts))
	counts := make(map[string]int, len(posts))
	for i, p := range posts {
		n := folder.String(strings.TrimSpace(p.Content))
		normalized[i] = n
		counts[n]++
	}
	dup := 0
	for _, n := range normalized {
		if counts[n] > 1 {
			dup++
		}
	}
	return float64(dup) / float64(len(posts))
}

func urlRatio(posts []domain.Post) float64 {
	if len(posts) == 0 {
		return 0
	}
	n := 0
	for _, p := range posts {
		if urlPattern.MatchString(p.Content) {
			n++
		}
	}
	return float64(n) / float64(len(posts))
}

func hashtagRatio(posts []domain.Post) float64 {
	if len(posts) == 0 {
		return 0
	}
	n := 0
	for _, p := range posts {
		n += len(hashtagPattern.FindAllStringIndex(p.Content, -1))
	}
	return float64(n) / float64(len(posts))
}

// interactionDiversity is distinct counterparts over total interactions.
// No interactions means no evidence, which scores as fully diverse.
func interactionDiversity(in *domain.Interactions) float64 {
	total := in.Total()
	if total == 0 {
		return 1.0
	}
	seen := make(map[string]struct{}, total)
	for _, id := range in.Replies {
		seen[id] = struct{}{}
	}
	for _, id := range in.Mentions {
		seen[id] = struct{}{}
	}
	return float64(len(seen)) / float64(total)
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
