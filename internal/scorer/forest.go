package scorer

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// forestModel is a bagged ensemble of CART trees.
type forestModel struct {
	Trees []tree
}

type tree struct {
	Nodes []node
}

// node is a split when Left >= 0, otherwise a leaf carrying the positive
// fraction of its training samples.
type node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
}

func (fm *forestModel) probability(fv domain.FeatureVector) float64 {
	if len(fm.Trees) == 0 {
		return 0
	}
	var sum float64
	for i := range fm.Trees {
		sum += fm.Trees[i].predict(fv)
	}
	return sum / float64(len(fm.Trees))
}

func (t *tree) predict(fv domain.FeatureVector) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if fv[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

func trainForest(xs []domain.FeatureVector, ys []float64, opts TrainOptions) (*forestModel, domain.FeatureVector) {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	var imp domain.FeatureVector
	fm := &forestModel{Trees: make([]tree, 0, opts.Trees)}

	for t := 0; t < opts.Trees; t++ {
		sample := make([]int, len(xs))
		for i := range sample {
			sample[i] = rng.IntN(len(xs))
		}

		b := &treeBuilder{
			xs:         xs,
			ys:         ys,
			opts:       opts,
			rng:        rng,
			importance: &imp,
		}
		b.build(sample, 0)
		fm.Trees = append(fm.Trees, tree{Nodes: b.nodes})
	}

	return fm, normalize(imp)
}

type treeBuilder struct {
	xs         []domain.FeatureVector
	ys         []float64
	opts       TrainOptions
	rng        *rand.Rand
	importance *domain.FeatureVector
	nodes      []node
}

type split struct {
	feature   int
	threshold float64
	gain      float64
}

func (b *treeBuilder) build(idx []int, depth int) int {
	var pos float64
	for _, i := range idx {
		pos += b.ys[i]
	}
	n := float64(len(idx))

	id := len(b.nodes)
	b.nodes = append(b.nodes, node{Left: -1, Right: -1, Value: pos / n})

	if depth >= b.opts.MaxDepth || len(idx) < 2*b.opts.MinSamplesLeaf || pos == 0 || pos == n {
		return id
	}

	best, ok := b.bestSplit(idx, pos)
	if !ok {
		return id
	}

	var left, right []int
	for _, i := range idx {
		if b.xs[i][best.feature] <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	b.importance[best.feature] += n * best.gain

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)

	b.nodes[id].Feature = best.feature
	b.nodes[id].Threshold = best.threshold
	b.nodes[id].Left = l
	b.nodes[id].Right = r
	return id
}

// bestSplit scans a random subset of features for the threshold with the
// largest Gini decrease.
func (b *treeBuilder) bestSplit(idx []int, pos float64) (split, bool) {
	n := float64(len(idx))
	parent := gini(pos / n)

	var best split
	found := false

	candidates := b.rng.Perm(domain.NumFeatures)[:b.opts.featuresPerSplit()]
	sorted := make([]int, len(idx))

	for _, f := range candidates {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(i, j int) bool {
			return b.xs[sorted[i]][f] < b.xs[sorted[j]][f]
		})

		var leftPos float64
		for k := 1; k < len(sorted); k++ {
			leftPos += b.ys[sorted[k-1]]

			lo, hi := b.xs[sorted[k-1]][f], b.xs[sorted[k]][f]
			if lo == hi {
				continue
			}
			if k < b.opts.MinSamplesLeaf || len(sorted)-k < b.opts.MinSamplesLeaf {
				continue
			}

			nl, nr := float64(k), n-float64(k)
			child := (nl*gini(leftPos/nl) + nr*gini((pos-leftPos)/nr)) / n
			gain := parent - child
			if gain > 1e-12 && (!found || gain > best.gain) {
				threshold := lo + (hi-lo)/2
				if threshold >= hi {
					threshold = lo
				}
				best = split{feature: f, threshold: threshold, gain: gain}
				found = true
			}
		}
	}

	return best, found
}

func gini(p float64) float64 {
	return 2 * p * (1 - p)
}

// featuresPerSplit defaults to ceil(sqrt(NumFeatures)).
func (o TrainOptions) featuresPerSplit() int {
	if o.FeatureFraction <= 0 {
		return int(math.Ceil(math.Sqrt(float64(domain.NumFeatures))))
	}
	k := int(math.Round(o.FeatureFraction * float64(domain.NumFeatures)))
	return max(1, min(k, domain.NumFeatures))
}
