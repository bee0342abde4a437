package scorer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// FormatVersion is the artifact layout version written by Save.
const FormatVersion = 1

type artifact struct {
	FormatVersion   int             `json:"format_version"`
	ID              string          `json:"id"`
	Algorithm       Algorithm       `json:"algorithm"`
	FeatureOrder    []string        `json:"feature_order"`
	CreatedAt       time.Time       `json:"created_at"`
	TrainingSamples int             `json:"training_samples"`
	Linear          *linearArtifact `json:"linear,omitempty"`
	Forest          *forestArtifact `json:"forest,omitempty"`
	Importances     []float64       `json:"importances"`
}

// Per-feature arrays below are aligned with artifact.FeatureOrder.
type linearArtifact struct {
	Intercept float64   `json:"intercept"`
	Means     []float64 `json:"means"`
	Scales    []float64 `json:"scales"`
	Weights   []float64 `json:"weights"`
}

type forestArtifact struct {
	Trees []treeArtifact `json:"trees"`
}

type treeArtifact struct {
	Nodes []nodeArtifact `json:"nodes"`
}

type nodeArtifact struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

// Save serialises a model. Loading the result yields a model whose scores are
// identical for every input.
func Save(m *Model) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("save model: nil model")
	}

	a := artifact{
		FormatVersion:   FormatVersion,
		ID:              m.ID,
		Algorithm:       m.Algorithm,
		FeatureOrder:    domain.FeatureNames(),
		CreatedAt:       m.CreatedAt,
		TrainingSamples: m.TrainingSamples,
		Importances:     m.importances[:],
	}

	switch m.Algorithm {
	case AlgorithmLinear:
		a.Linear = &linearArtifact{
			Intercept: m.linear.Intercept,
			Means:     m.linear.Means[:],
			Scales:    m.linear.Scales[:],
			Weights:   m.linear.Weights[:],
		}
	case AlgorithmForest:
		fa := &forestArtifact{Trees: make([]treeArtifact, len(m.forest.Trees))}
		for i, t := range m.forest.Trees {
			nodes := make([]nodeArtifact, len(t.Nodes))
			for j, n := range t.Nodes {
				nodes[j] = nodeArtifact(n)
			}
			fa.Trees[i] = treeArtifact{Nodes: nodes}
		}
		a.Forest = fa
	default:
		return nil, fmt.Errorf("save model: unknown algorithm %q", m.Algorithm)
	}

	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}
	return data, nil
}

// Load reconstructs a model from an artifact. Recorded feature names are
// resolved against the current contract, so an artifact whose order differs from
// the canonical one still loads correctly.
func Load(data []byte) (*Model, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, &domain.ModelCompatibilityError{Reason: fmt.Sprintf("malformed artifact: %v", err)}
	}

	incompatible := func(format string, args ...any) error {
		return &domain.ModelCompatibilityError{ModelID: a.ID, Reason: fmt.Sprintf(format, args...)}
	}

	if a.FormatVersion != FormatVersion {
		return nil, incompatible("unsupported format version %d", a.FormatVersion)
	}
	if !a.Algorithm.Valid() {
		return nil, incompatible("unknown algorithm %q", a.Algorithm)
	}

	perm, err := resolveFeatureOrder(a.FeatureOrder)
	if err != nil {
		return nil, incompatible("%v", err)
	}

	m := &Model{
		ID:              a.ID,
		Algorithm:       a.Algorithm,
		CreatedAt:       a.CreatedAt,
		TrainingSamples: a.TrainingSamples,
	}

	if len(a.Importances) != len(perm) {
		return nil, incompatible("expected %d importances, got %d", len(perm), len(a.Importances))
	}
	for k, v := range a.Importances {
		m.importances[perm[k]] = v
	}

	switch a.Algorithm {
	case AlgorithmLinear:
		if a.Linear == nil {
			return nil, incompatible("missing linear parameters")
		}
		lm, err := loadLinear(a.Linear, perm)
		if err != nil {
			return nil, incompatible("%v", err)
		}
		m.linear = lm
	case AlgorithmForest:
		if a.Forest == nil {
			return nil, incompatible("missing forest parameters")
		}
		fm, err := loadForest(a.Forest, perm)
		if err != nil {
			return nil, incompatible("%v", err)
		}
		m.forest = fm
	}

	return m, nil
}

// resolveFeatureOrder maps each artifact position to its canonical feature index.
func resolveFeatureOrder(order []string) ([]int, error) {
	perm := make([]int, len(order))
	seen := make(map[domain.Feature]bool, len(order))

	for k, name := range order {
		f, ok := domain.LookupFeature(name)
		if !ok {
			return nil, fmt.Errorf("unknown feature %q", name)
		}
		if seen[f] {
			return nil, fmt.Errorf("duplicate feature %q", name)
		}
		seen[f] = true
		perm[k] = int(f)
	}

	for i, name := range domain.FeatureNames() {
		if !seen[domain.Feature(i)] {
			return nil, fmt.Errorf("missing feature %q", name)
		}
	}
	return perm, nil
}

func loadLinear(la *linearArtifact, perm []int) (*linearModel, error) {
	n := len(perm)
	if len(la.Means) != n || len(la.Scales) != n || len(la.Weights) != n {
		return nil, fmt.Errorf("linear parameters do not match %d features", n)
	}

	lm := &linearModel{Intercept: la.Intercept}
	for k, f := range perm {
		if !(la.Scales[k] > 0) {
			return nil, fmt.Errorf("non-positive scale for feature %q", domain.Feature(f))
		}
		lm.Means[f] = la.Means[k]
		lm.Scales[f] = la.Scales[k]
		lm.Weights[f] = la.Weights[k]
	}
	return lm, nil
}

func loadForest(fa *forestArtifact, perm []int) (*forestModel, error) {
	if len(fa.Trees) == 0 {
		return nil, fmt.Errorf("forest has no trees")
	}

	fm := &forestModel{Trees: make([]tree, len(fa.Trees))}
	for i, ta := range fa.Trees {
		if len(ta.Nodes) == 0 {
			return nil, fmt.Errorf("tree %d has no nodes", i)
		}
		nodes := make([]node, len(ta.Nodes))
		for j, na := range ta.Nodes {
			n := node(na)
			if n.Left >= 0 {
				// Children always follow their parent, which also rules out cycles.
				if n.Left <= j || n.Right <= j || n.Left >= len(ta.Nodes) || n.Right >= len(ta.Nodes) {
					return nil, fmt.Errorf("tree %d node %d has invalid children", i, j)
				}
				if n.Feature < 0 || n.Feature >= len(perm) {
					return nil, fmt.Errorf("tree %d node %d has invalid feature index %d", i, j, n.Feature)
				}
				n.Feature = perm[n.Feature]
			}
			nodes[j] = n
		}
		fm.Trees[i] = tree{Nodes: nodes}
	}
	return fm, nil
}
