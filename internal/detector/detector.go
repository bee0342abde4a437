// Package detector runs the full classification pipeline over single accounts
// and batches, and owns the model lifecycle.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/fusion"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scorer"
)

var tracer = otel.Tracer("kestrel-detector")

// ErrNoStore is returned by model persistence calls when no store is attached.
var ErrNoStore = errors.New("detector: no model store configured")

// ErrNoModel is returned by SaveModel when the scorer runs in fallback mode.
var ErrNoModel = errors.New("detector: no trained model")

// Detector classifies accounts. Detection reads immutable snapshots and never
// locks; Train, SwapModel and UpdateRules publish new snapshots atomically.
type Detector struct {
	extractor *features.Extractor
	validator *features.Validator
	policy    *fusion.Policy
	store     domain.ModelStore

	useML    bool
	useRules bool
	workers  int

	engine atomic.Pointer[rules.Engine]
	scorer atomic.Pointer[scorer.Scorer]

	// mu serialises writers of engine and scorer.
	mu sync.Mutex
}

// Option configures a Detector.
type Option func(*Detector)

// WithExtractor replaces the default feature extractor.
func WithExtractor(ex *features.Extractor) Option {
	return func(d *Detector) {
		d.extractor = ex
	}
}

// WithStore attaches a model store for LoadModel and SaveModel.
func WithStore(store domain.ModelStore) Option {
	return func(d *Detector) {
		d.store = store
	}
}

// WithScorer starts the detector with s instead of the fallback heuristic.
func WithScorer(s *scorer.Scorer) Option {
	return func(d *Detector) {
		if s != nil {
			d.scorer.Store(s)
		}
	}
}

// New builds a Detector from cfg. A nil cfg selects domain.DefaultConfig.
func New(cfg *domain.Config, opts ...Option) (*Detector, error) {
	if cfg == nil {
		cfg = domain.DefaultConfig()
	}
	if !cfg.UseML && !cfg.UseRules {
		return nil, &domain.ValidationError{Field: "use_ml", Reason: "at least one of use_ml and use_rules must be enabled"}
	}

	engine, err := rules.NewEngine(cfg.RuleConfig(), cfg.RuleTable())
	if err != nil {
		return nil, fmt.Errorf("failed to build rule engine: %w", err)
	}

	policy, err := fusion.NewPolicy(cfg.FusionConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to build fusion policy: %w", err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	d := &Detector{
		extractor: features.NewExtractor(),
		validator: features.NewValidator(),
		policy:    policy,
		useML:     cfg.UseML,
		useRules:  cfg.UseRules,
		workers:   workers,
	}
	d.engine.Store(engine)
	d.scorer.Store(scorer.NewFallback())

	for _, opt := range opts {
		opt(d)
	}

	slog.Debug("detector created",
		"use_ml", d.useML,
		"use_rules", d.useRules,
		"workers", d.workers,
		"rules", engine.RulesCount(),
		"scorer_mode", d.scorer.Load().Mode().String(),
	)

	return d, nil
}

// Detect classifies one account: validate, extract, evaluate rules and scorer,
// then fuse.
func (d *Detector) Detect(ctx context.Context, rec *domain.AccountRecord) (*domain.DetectionResult, error) {
	ctx, span := tracer.Start(ctx, "detector.Detect")
	defer span.End()

	start := time.Now()

	result, err := d.detect(ctx, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		detectionErrorCount.WithLabelValues(errorReason(err)).Inc()
		return nil, err
	}

	span.SetAttributes(
		attribute.String("kestrel.username", result.Username),
		attribute.String("kestrel.method", string(result.Method)),
		attribute.Bool("kestrel.is_bot", result.IsBot),
		attribute.Float64("kestrel.confidence", result.Confidence),
	)

	verdict := "legitimate"
	if result.IsBot {
		verdict = "bot"
	}
	detectionCount.WithLabelValues(string(result.Method), verdict).Inc()
	detectionDuration.WithLabelValues(string(result.Method)).Observe(time.Since(start).Seconds())

	return result, nil
}

func (d *Detector) detect(ctx context.Context, rec *domain.AccountRecord) (*domain.DetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.validator.Validate(rec); err != nil {
		return nil, err
	}

	fv := d.extractor.Extract(rec)

	result := &domain.DetectionResult{
		Username: rec.Username,
		Features: fv,
	}

	if d.useRules {
		v := d.engine.Load().Evaluate(fv)
		result.Details.Rules = &v
	}
	if d.useML {
		v := d.scorer.Load().Score(fv)
		result.Details.ML = &v
	}

	decision, err := d.policy.Combine(result.Details.Rules, result.Details.ML)
	if err != nil {
		return nil, err
	}
	result.IsBot = decision.IsBot
	result.Confidence = decision.Confidence
	result.Method = decision.Method

	return result, nil
}

// DetectBatch classifies recs with at most Workers concurrent detections.
// Results keep input order and each input yields exactly one entry; a failing
// record only affects its own entry. Once ctx is cancelled no further records
// are scheduled and their entries carry ctx.Err().
func (d *Detector) DetectBatch(ctx context.Context, recs []*domain.AccountRecord) []domain.BatchResult {
	batchID := uuid.New().String()
	ctx, span := tracer.Start(ctx, "detector.DetectBatch",
		trace.WithAttributes(
			attribute.String("kestrel.batch_id", batchID),
			attribute.Int("kestrel.batch_size", len(recs)),
		),
	)
	defer span.End()

	start := time.Now()
	batchSize.Observe(float64(len(recs)))

	results := make([]domain.BatchResult, len(recs))
	for i := range results {
		results[i].Index = i
	}

	var g errgroup.Group
	g.SetLimit(d.workers)

	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(recs); j++ {
				results[j].Err = err
			}
			break
		}

		g.Go(func() error {
			res, err := d.Detect(ctx, rec)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Result = res
			return nil
		})
	}
	_ = g.Wait()

	var failed, bots int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
		case r.Result.IsBot:
			bots++
		}
	}
	span.SetAttributes(attribute.Int("kestrel.failed", failed), attribute.Int("kestrel.bots", bots))

	slog.Info("batch processed",
		"batch_id", batchID,
		"size", len(recs),
		"bots", bots,
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return results
}

// Train extracts features from labelled accounts, fits a model and swaps it in.
// Detections keep running against the previous scorer until the swap.
func (d *Detector) Train(ctx context.Context, samples []domain.LabeledAccount, opts scorer.TrainOptions) (*scorer.Model, error) {
	ctx, span := tracer.Start(ctx, "detector.Train")
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()

	vectors := make([]domain.FeatureVector, len(samples))
	labels := make([]int, len(samples))
	for i := range samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := d.validator.Validate(&samples[i].Account); err != nil {
			return nil, fmt.Errorf("training sample %d: %w", i, err)
		}
		vectors[i] = d.extractor.Extract(&samples[i].Account)
		labels[i] = samples[i].Label
	}

	model, err := scorer.Train(vectors, labels, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s, err := scorer.New(model)
	if err != nil {
		return nil, err
	}
	d.scorer.Store(s)

	trainingDuration.WithLabelValues(string(model.Algorithm)).Observe(time.Since(start).Seconds())
	modelSwapCount.WithLabelValues(scorer.ModeTrained.String()).Inc()

	slog.Info("model trained",
		"model_id", model.ID,
		"algorithm", model.Algorithm,
		"samples", model.TrainingSamples,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return model, nil
}

// SwapModel replaces the scorer with one backed by model. A nil model restores
// the fallback heuristic.
func (d *Detector) SwapModel(model *scorer.Model) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := scorer.NewFallback()
	if model != nil {
		s, _ = scorer.New(model)
	}
	d.scorer.Store(s)
	modelSwapCount.WithLabelValues(s.Mode().String()).Inc()

	slog.Info("scorer replaced", "mode", s.Mode().String())
}

// UpdateRules rebuilds the rule engine. On error the current engine stays in
// place.
func (d *Detector) UpdateRules(cfg domain.RuleConfig, table []domain.Rule) error {
	engine, err := rules.NewEngine(cfg, table)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.engine.Store(engine)
	d.mu.Unlock()

	ruleReloadCount.Inc()
	slog.Info("rules updated", "rules", engine.RulesCount())
	return nil
}

// LoadModel loads the latest artifact stored under name and swaps it in.
func (d *Detector) LoadModel(ctx context.Context, name string) (*scorer.Model, error) {
	if d.store == nil {
		return nil, ErrNoStore
	}

	data, err := d.store.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %q: %w", name, err)
	}

	model, err := scorer.Load(data)
	if err != nil {
		return nil, err
	}

	d.SwapModel(model)
	return model, nil
}

// SaveModel persists the current model under name and returns its version.
func (d *Detector) SaveModel(ctx context.Context, name string) (int64, error) {
	if d.store == nil {
		return 0, ErrNoStore
	}

	model := d.scorer.Load().Model()
	if model == nil {
		return 0, ErrNoModel
	}

	data, err := scorer.Save(model)
	if err != nil {
		return 0, err
	}

	version, err := d.store.Save(ctx, name, data)
	if err != nil {
		return 0, fmt.Errorf("failed to save model %q: %w", name, err)
	}

	slog.Info("model saved",
		"name", name,
		"model_id", model.ID,
		"version", version,
		"bytes", len(data),
	)
	return version, nil
}

// Explain renders a result using the current rule catalogue.
func (d *Detector) Explain(result *domain.DetectionResult) string {
	return explain.NewGenerator(d.engine.Load().Descriptions()).Explain(result)
}

// ExplainRecord detects rec and renders the result.
func (d *Detector) ExplainRecord(ctx context.Context, rec *domain.AccountRecord) (string, *domain.DetectionResult, error) {
	result, err := d.Detect(ctx, rec)
	if err != nil {
		return "", nil, err
	}
	return d.Explain(result), result, nil
}

// FeatureImportance returns the current model's importances, or false in
// fallback mode.
func (d *Detector) FeatureImportance() ([]scorer.Importance, bool) {
	model := d.scorer.Load().Model()
	if model == nil {
		return nil, false
	}
	return model.FeatureImportance(), true
}

// Engine returns the current rule engine.
func (d *Detector) Engine() *rules.Engine {
	return d.engine.Load()
}

// Scorer returns the current scorer.
func (d *Detector) Scorer() *scorer.Scorer {
	return d.scorer.Load()
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
