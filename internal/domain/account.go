package domain

// AccountRecord is the raw account data submitted for detection.
// Timestamps are kept in their wire form and parsed during validation,
// so a malformed value is reported per record instead of failing a whole decode.
type AccountRecord struct {
	Username        string `json:"username" yaml:"username" validate:"required"`
	CreatedAt       string `json:"created_at" yaml:"created_at" validate:"required"`
	HasProfileImage bool   `json:"has_profile_image" yaml:"has_profile_image"`
	Bio             string `json:"bio" yaml:"bio"`
	Verified        bool   `json:"verified" yaml:"verified"`

	PostCount      int64 `json:"post_count" yaml:"post_count" validate:"gte=0"`
	FollowerCount  int64 `json:"follower_count" yaml:"follower_count" validate:"gte=0"`
	FollowingCount int64 `json:"following_count" yaml:"following_count" validate:"gte=0"`

	// RecentPosts keeps submission order.
	RecentPosts []Post `json:"recent_posts,omitempty" yaml:"recent_posts" validate:"dive"`

	// AvgReplyTimeSeconds is nil when unknown.
	AvgReplyTimeSeconds *float64 `json:"avg_reply_time_seconds,omitempty" yaml:"avg_reply_time_seconds" validate:"omitempty,gte=0"`

	Interactions *Interactions `json:"interactions,omitempty" yaml:"interactions"`
}

// Post is a single recent post of an account.
type Post struct {
	Content   string `json:"content" yaml:"content"`
	Timestamp string `json:"timestamp,omitempty" yaml:"timestamp"`
}

// Interactions lists counterpart account ids the account replied to or mentioned.
type Interactions struct {
	Replies  []string `json:"replies,omitempty" yaml:"replies"`
	Mentions []string `json:"mentions,omitempty" yaml:"mentions"`
}

// Total returns the number of interactions across replies and mentions.
func (i *Interactions) Total() int {
	if i == nil {
		return 0
	}
	return len(i.Replies) + len(i.Mentions)
}

// LabeledAccount pairs an account with its ground-truth label (1 = bot).
// Used by training and benchmarking.
type LabeledAccount struct {
	Label   int           `json:"label" yaml:"label"`
	Account AccountRecord `json:"account" yaml:"account"`
}
