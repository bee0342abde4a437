package scorer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// linearModel is an L2-regularised logistic regression over standardised
// features.
type linearModel struct {
	Intercept float64
	Means     domain.FeatureVector
	Scales    domain.FeatureVector
	Weights   domain.FeatureVector
}

func (lm *linearModel) probability(fv domain.FeatureVector) float64 {
	z := lm.Intercept
	for i := range fv {
		z += lm.Weights[i] * (fv[i] - lm.Means[i]) / lm.Scales[i]
	}
	return sigmoid(z)
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// softplus is log(1 + e^z) without overflow.
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

// trainLinear minimises the mean log-loss plus an L2 penalty on the weights
// with L-BFGS from a zero start. The optimiser runs serially, so the result
// depends only on the data and options.
func trainLinear(xs []domain.FeatureVector, ys []float64, opts TrainOptions) (*linearModel, domain.FeatureVector, error) {
	n := float64(len(xs))
	lm := &linearModel{}

	column := make([]float64, len(xs))
	for j := 0; j < domain.NumFeatures; j++ {
		for i, x := range xs {
			column[i] = x[j]
		}
		mean, std := stat.PopMeanStdDev(column, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		lm.Means[j], lm.Scales[j] = mean, std
	}

	// Row i is [1, standardised features...]; the leading 1 carries the intercept.
	rows := make([][]float64, len(xs))
	for i, x := range xs {
		row := make([]float64, domain.NumFeatures+1)
		row[0] = 1
		for j := range x {
			row[j+1] = (x[j] - lm.Means[j]) / lm.Scales[j]
		}
		rows[i] = row
	}

	problem := optimize.Problem{
		Func: func(w []float64) float64 {
			var loss float64
			for i, row := range rows {
				z := floats.Dot(w, row)
				loss += softplus(z) - ys[i]*z
			}
			penalty := floats.Dot(w[1:], w[1:])
			return loss/n + opts.L2/2*penalty
		},
		Grad: func(grad, w []float64) {
			for k := range grad {
				grad[k] = 0
			}
			for i, row := range rows {
				residual := sigmoid(floats.Dot(w, row)) - ys[i]
				floats.AddScaled(grad, residual, row)
			}
			floats.Scale(1/n, grad)
			floats.AddScaled(grad[1:], opts.L2, w[1:])
		},
	}

	settings := &optimize.Settings{
		MajorIterations:   opts.Iterations,
		GradientThreshold: 1e-8,
	}

	result, err := optimize.Minimize(problem, make([]float64, domain.NumFeatures+1), settings, &optimize.LBFGS{})
	if result == nil {
		return nil, domain.FeatureVector{}, &domain.TrainingDataError{Reason: fmt.Sprintf("logistic regression failed: %v", err)}
	}
	// A failed line search still leaves the best point found in result.X.
	for _, w := range result.X {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, domain.FeatureVector{}, &domain.TrainingDataError{Reason: "logistic regression diverged"}
		}
	}

	lm.Intercept = result.X[0]
	copy(lm.Weights[:], result.X[1:])

	var imp domain.FeatureVector
	for j, w := range lm.Weights {
		imp[j] = math.Abs(w)
	}
	return lm, normalize(imp), nil
}
