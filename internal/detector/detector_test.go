package detector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/scorer"
)

var refNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) string {
	return refNow.AddDate(0, 0, -d).Format(time.RFC3339)
}

func floatPtr(f float64) *float64 { return &f }

func newTestDetector(t *testing.T, cfg *domain.Config, opts ...Option) *Detector {
	t.Helper()
	opts = append([]Option{WithExtractor(features.NewExtractor(features.WithClock(func() time.Time { return refNow })))}, opts...)
	d, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("failed to create detector: %v", err)
	}
	return d
}

// newBotAccount is a two-day-old account with no profile and heavy posting.
func newBotAccount(name string) *domain.AccountRecord {
	return &domain.AccountRecord{
		Username:       name,
		CreatedAt:      daysAgo(2),
		PostCount:      500,
		FollowerCount:  3,
		FollowingCount: 900,
	}
}

// establishedAccount is a verified year-old account with a complete profile.
func establishedAccount(name string) *domain.AccountRecord {
	return &domain.AccountRecord{
		Username:        name,
		CreatedAt:       daysAgo(365),
		HasProfileImage: true,
		Bio:             "Coffee, trail running and open data. Views my own.",
		Verified:        true,
		PostCount:       250,
		FollowerCount:   450,
		FollowingCount:  320,
		RecentPosts: []domain.Post{
			{Content: "Morning run along the river, 10k done", Timestamp: daysAgo(1)},
			{Content: "New blog post on civic datasets https://example.org/post", Timestamp: daysAgo(3)},
			{Content: "Anyone tried the new bakery on 5th? #local", Timestamp: daysAgo(4)},
			{Content: "Great talk today about public transport planning", Timestamp: daysAgo(6)},
		},
		AvgReplyTimeSeconds: floatPtr(120),
		Interactions: &domain.Interactions{
			Replies:  []string{"ana", "li", "tom"},
			Mentions: []string{"sam", "ana"},
		},
	}
}

func TestDetectNewHighActivityAccount(t *testing.T) {
	d := newTestDetector(t, nil)

	result, err := d.Detect(context.Background(), newBotAccount("sarah_news"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if !result.IsBot {
		t.Errorf("expected is_bot=true, got %+v", result)
	}
	if result.Method != domain.MethodCombined {
		t.Errorf("expected combined method, got %s", result.Method)
	}

	r := result.Details.Rules
	if r == nil {
		t.Fatal("expected rule details")
	}
	for _, id := range []string{"new_account_high_activity", "poor_follower_ratio", "missing_profile_elements"} {
		if !contains(r.TriggeredRules, id) {
			t.Errorf("expected %s to trigger, got %v", id, r.TriggeredRules)
		}
	}
	if r.Confidence <= 0.6 {
		t.Errorf("expected rule confidence > 0.6, got %.3f", r.Confidence)
	}
	if result.Features[domain.FeatureAccountAgeDays] != 2 {
		t.Errorf("expected account age 2, got %.1f", result.Features[domain.FeatureAccountAgeDays])
	}
}

func TestDetectEstablishedAccount(t *testing.T) {
	d := newTestDetector(t, nil)

	result, err := d.Detect(context.Background(), establishedAccount("maria_schmidt"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if result.IsBot {
		t.Errorf("expected is_bot=false, got %+v", result)
	}
	if result.Confidence >= 0.3 {
		t.Errorf("expected confidence < 0.3, got %.3f", result.Confidence)
	}
	if n := len(result.Details.Rules.TriggeredRules); n != 0 {
		t.Errorf("expected no triggered rules, got %v", result.Details.Rules.TriggeredRules)
	}
}

func TestDetectBatchIsolatesFailures(t *testing.T) {
	d := newTestDetector(t, nil)

	bad := establishedAccount("broken")
	bad.CreatedAt = "31/31/2024 not a date"

	recs := []*domain.AccountRecord{newBotAccount("first"), bad, establishedAccount("third")}
	results := d.DetectBatch(context.Background(), recs)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[0].Result == nil || results[0].Result.Username != "first" {
		t.Errorf("entry 0: unexpected %+v", results[0])
	}
	if results[1].Err == nil || results[1].Result != nil {
		t.Errorf("entry 1: expected error entry, got %+v", results[1])
	}
	if !errors.Is(results[1].Err, domain.ErrValidation) {
		t.Errorf("entry 1: expected ErrValidation, got %v", results[1].Err)
	}
	if results[2].Err != nil || results[2].Result == nil || results[2].Result.Username != "third" {
		t.Errorf("entry 2: unexpected %+v", results[2])
	}
}

func TestDetectBatchPreservesOrder(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Workers = 4
	d := newTestDetector(t, cfg)

	recs := make([]*domain.AccountRecord, 100)
	for i := range recs {
		if i%2 == 0 {
			recs[i] = newBotAccount(fmt.Sprintf("acct_%d", i))
		} else {
			recs[i] = establishedAccount(fmt.Sprintf("acct_%d", i))
		}
	}

	results := d.DetectBatch(context.Background(), recs)
	for i, r := range results {
		if r.Index != i {
			t.Errorf("entry %d has index %d", i, r.Index)
		}
		if r.Err != nil {
			t.Fatalf("entry %d failed: %v", i, r.Err)
		}
		if want := fmt.Sprintf("acct_%d", i); r.Result.Username != want {
			t.Errorf("entry %d: expected %s, got %s", i, want, r.Result.Username)
		}
		if r.Result.IsBot != (i%2 == 0) {
			t.Errorf("entry %d: unexpected verdict %v", i, r.Result.IsBot)
		}
	}
}

func TestDetectBatchMatchesDetect(t *testing.T) {
	d := newTestDetector(t, nil)
	ctx := context.Background()

	recs := []*domain.AccountRecord{newBotAccount("a"), establishedAccount("b")}
	results := d.DetectBatch(ctx, recs)

	for i, rec := range recs {
		single, err := d.Detect(ctx, rec)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if single.Confidence != results[i].Result.Confidence || single.IsBot != results[i].Result.IsBot {
			t.Errorf("entry %d: batch and single results differ", i)
		}
	}
}

func TestDetectBatchCancelled(t *testing.T) {
	d := newTestDetector(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	recs := []*domain.AccountRecord{newBotAccount("a"), newBotAccount("b"), newBotAccount("c")}
	results := d.DetectBatch(ctx, recs)

	if len(results) != len(recs) {
		t.Fatalf("expected %d results, got %d", len(recs), len(results))
	}
	for i, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("entry %d: expected context.Canceled, got %v", i, r.Err)
		}
	}
}

func TestMethodSelection(t *testing.T) {
	t.Run("RulesOnly", func(t *testing.T) {
		cfg := domain.DefaultConfig()
		cfg.UseML = false
		d := newTestDetector(t, cfg)

		result, err := d.Detect(context.Background(), newBotAccount("x"))
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if result.Method != domain.MethodRuleOnly || result.Details.ML != nil || result.Details.Rules == nil {
			t.Errorf("unexpected result %+v", result)
		}
		if result.Confidence != result.Details.Rules.Confidence {
			t.Error("rule_only confidence should pass through")
		}
	})

	t.Run("MLOnly", func(t *testing.T) {
		cfg := domain.DefaultConfig()
		cfg.UseRules = false
		d := newTestDetector(t, cfg)

		result, err := d.Detect(context.Background(), newBotAccount("x"))
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if result.Method != domain.MethodMLOnly || result.Details.Rules != nil || result.Details.ML == nil {
			t.Errorf("unexpected result %+v", result)
		}
	})

	t.Run("Neither", func(t *testing.T) {
		cfg := domain.DefaultConfig()
		cfg.UseML = false
		cfg.UseRules = false
		if _, err := New(cfg); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}

func trainingSamples() []domain.LabeledAccount {
	var out []domain.LabeledAccount
	for i := 0; i < 15; i++ {
		bot := newBotAccount(fmt.Sprintf("bot%07d", i))
		bot.PostCount = int64(300 + 20*i)
		bot.RecentPosts = []domain.Post{
			{Content: "Win big https://spam.example"},
			{Content: "Win big https://spam.example"},
		}
		human := establishedAccount(fmt.Sprintf("person_%d", i))
		human.FollowerCount = int64(400 + 10*i)
		out = append(out,
			domain.LabeledAccount{Label: 1, Account: *bot},
			domain.LabeledAccount{Label: 0, Account: *human},
		)
	}
	return out
}

func TestTrainSwapsScorer(t *testing.T) {
	d := newTestDetector(t, nil)
	ctx := context.Background()

	if d.Scorer().Mode() != scorer.ModeFallback {
		t.Fatal("expected fallback before training")
	}

	model, err := d.Train(ctx, trainingSamples(), scorer.TrainOptions{Algorithm: scorer.AlgorithmForest, Trees: 20})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if d.Scorer().Mode() != scorer.ModeTrained || d.Scorer().Model() != model {
		t.Fatal("expected trained scorer after training")
	}

	probe := trainingSamples()[0].Account
	result, err := d.Detect(ctx, &probe)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if !result.IsBot {
		t.Errorf("expected bot after training, got %+v", result)
	}

	imp, ok := d.FeatureImportance()
	if !ok || len(imp) != domain.NumFeatures {
		t.Errorf("expected feature importance, got %v %v", imp, ok)
	}

	d.SwapModel(nil)
	if d.Scorer().Mode() != scorer.ModeFallback {
		t.Error("expected fallback after SwapModel(nil)")
	}
}

func TestTrainRejectsBadInput(t *testing.T) {
	d := newTestDetector(t, nil)
	ctx := context.Background()

	samples := trainingSamples()
	samples[3].Account.CreatedAt = ""
	if _, err := d.Train(ctx, samples, scorer.TrainOptions{}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}

	oneClass := []domain.LabeledAccount{{Label: 1, Account: *newBotAccount("a")}}
	if _, err := d.Train(ctx, oneClass, scorer.TrainOptions{}); !errors.Is(err, domain.ErrTrainingData) {
		t.Errorf("expected ErrTrainingData, got %v", err)
	}
	if d.Scorer().Mode() != scorer.ModeFallback {
		t.Error("failed training must not replace the scorer")
	}
}

func TestConcurrentDetectDuringSwap(t *testing.T) {
	d := newTestDetector(t, nil)
	ctx := context.Background()

	model, err := scorer.Train(
		[]domain.FeatureVector{{1}, {2}, {3}, {4}},
		[]int{0, 0, 1, 1},
		scorer.TrainOptions{Algorithm: scorer.AlgorithmLinear},
	)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := d.Detect(ctx, newBotAccount("c")); err != nil {
					t.Errorf("Detect failed: %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			d.SwapModel(model)
		} else {
			d.SwapModel(nil)
		}
	}
	wg.Wait()
}

func TestUpdateRules(t *testing.T) {
	d := newTestDetector(t, nil)

	table := []domain.Rule{{ID: "reply-bot", Kind: domain.KindFastReplyTime, Weight: 1, Description: "Replies instantly"}}
	if err := d.UpdateRules(domain.DefaultRuleConfig(), table); err != nil {
		t.Fatalf("UpdateRules failed: %v", err)
	}
	if d.Engine().RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", d.Engine().RulesCount())
	}

	bad := []domain.Rule{{ID: "x", Kind: domain.KindExpression, Weight: 1, Expression: "nope("}}
	if err := d.UpdateRules(domain.DefaultRuleConfig(), bad); err == nil {
		t.Error("expected error for invalid rule")
	}
	if d.Engine().RulesCount() != 1 {
		t.Error("failed update must keep the previous engine")
	}
}

func TestExplainRecord(t *testing.T) {
	d := newTestDetector(t, nil)

	text, result, err := d.ExplainRecord(context.Background(), newBotAccount("sarah_news"))
	if err != nil {
		t.Fatalf("ExplainRecord failed: %v", err)
	}
	if !result.IsBot {
		t.Error("expected bot")
	}
	for _, want := range []string{"sarah_news", "BOT DETECTED", "New account with suspicious posting frequency"} {
		if !strings.Contains(text, want) {
			t.Errorf("explanation missing %q:\n%s", want, text)
		}
	}
}

func TestModelPersistenceWithoutStore(t *testing.T) {
	d := newTestDetector(t, nil)
	ctx := context.Background()

	if _, err := d.LoadModel(ctx, "default"); !errors.Is(err, ErrNoStore) {
		t.Errorf("expected ErrNoStore, got %v", err)
	}
	if _, err := d.SaveModel(ctx, "default"); !errors.Is(err, ErrNoStore) {
		t.Errorf("expected ErrNoStore, got %v", err)
	}
}

// memStore is an in-memory ModelStore.
type memStore struct {
	mu        sync.Mutex
	artifacts map[string][][]byte
}

func (m *memStore) Save(_ context.Context, name string, artifact []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.artifacts == nil {
		m.artifacts = make(map[string][][]byte)
	}
	m.artifacts[name] = append(m.artifacts[name], artifact)
	return int64(len(m.artifacts[name])), nil
}

func (m *memStore) Load(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.artifacts[name]
	if len(versions) == 0 {
		return nil, errors.New("not found")
	}
	return versions[len(versions)-1], nil
}

func (m *memStore) List(context.Context) ([]domain.ArtifactInfo, error) { return nil, nil }
func (m *memStore) Ping(context.Context) error                         { return nil }
func (m *memStore) Close() error                                       { return nil }

func TestSaveAndLoadModel(t *testing.T) {
	store := &memStore{}
	d := newTestDetector(t, nil, WithStore(store))
	ctx := context.Background()

	if _, err := d.SaveModel(ctx, "default"); !errors.Is(err, ErrNoModel) {
		t.Errorf("expected ErrNoModel in fallback mode, got %v", err)
	}

	model, err := d.Train(ctx, trainingSamples(), scorer.TrainOptions{Algorithm: scorer.AlgorithmLinear})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	version, err := d.SaveModel(ctx, "default")
	if err != nil || version != 1 {
		t.Fatalf("SaveModel: version=%d err=%v", version, err)
	}

	before, _ := d.Detect(ctx, newBotAccount("probe"))

	other := newTestDetector(t, nil, WithStore(store))
	loaded, err := other.LoadModel(ctx, "default")
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	if loaded.ID != model.ID {
		t.Errorf("expected model %s, got %s", model.ID, loaded.ID)
	}

	after, _ := other.Detect(ctx, newBotAccount("probe"))
	if before.Confidence != after.Confidence {
		t.Errorf("loaded model scores differ: %v vs %v", before.Confidence, after.Confidence)
	}
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
