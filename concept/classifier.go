package concept

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"golang.org/x/sync/errgroup"
)

const (
	fbeta          = 0.5
	remapMidpoint  = 0.4999
	trainEpochs    = 400
	learningRate   = 0.5
	regularization = 1e-3
)

// LogisticRegression is a linear classifier over embedding vectors.
type LogisticRegression struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// Margin returns the linear score w·x + b.
func (m *LogisticRegression) Margin(x []float32) float64 {
	z := m.Bias
	for i := 0; i < len(x) && i < len(m.Weights); i++ {
		z += m.Weights[i] * float64(x[i])
	}
	return z
}

// Probability returns the positive-class probability of x.
func (m *LogisticRegression) Probability(x []float32) float64 {
	return sigmoid(m.Margin(x))
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// trainLogistic fits weighted, L2-regularized logistic regression by full
// batch gradient descent.
func trainLogistic(x [][]float32, y []float64, w []float64) *LogisticRegression {
	dim := 0
	if len(x) > 0 {
		dim = len(x[0])
	}
	m := &LogisticRegression{Weights: make([]float64, dim)}
	var total float64
	for _, wi := range w {
		total += wi
	}
	if total == 0 {
		return m
	}
	grad := make([]float64, dim)
	for epoch := 0; epoch < trainEpochs; epoch++ {
		for j := range grad {
			grad[j] = 0
		}
		var gradBias float64
		for i, xi := range x {
			diff := w[i] * (m.Probability(xi) - y[i]) / total
			for j, v := range xi {
				grad[j] += diff * float64(v)
			}
			gradBias += diff
		}
		for j := range m.Weights {
			m.Weights[j] -= learningRate * (grad[j] + regularization*m.Weights[j])
		}
		m.Bias -= learningRate * gradBias
	}
	return m
}

// Metrics are cross-validated classification metrics at the F0.5-optimal threshold.
type Metrics struct {
	F05       float64 `json:"f05"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	ROCAUC    float64 `json:"roc_auc"`
	Threshold float64 `json:"threshold"`
}

// Classifier scores vectors for one draft. A fallback classifier has too few
// labels to fit and scores uniformly at random.
type Classifier struct {
	Model    *LogisticRegression `json:"model,omitempty"`
	Metrics  *Metrics            `json:"metrics,omitempty"`
	Fallback bool                `json:"fallback,omitempty"`
}

// Score returns display scores: probabilities remapped so the decision
// threshold lands just below 0.5.
func (c *Classifier) Score(vectors [][]float32) []float64 {
	out := make([]float64, len(vectors))
	if c == nil || c.Fallback || c.Model == nil {
		for i := range out {
			out[i] = rand.Float64()
		}
		return out
	}
	threshold := 0.5
	if c.Metrics != nil {
		threshold = c.Metrics.Threshold
	}
	for i, v := range vectors {
		out[i] = remap(c.Model.Probability(v), threshold)
	}
	return out
}

// remap interpolates [0, threshold, 1] onto [0, remapMidpoint, 1].
func remap(score, threshold float64) float64 {
	if threshold <= 0 || threshold >= 1 {
		return score
	}
	if score <= threshold {
		return score / threshold * remapMidpoint
	}
	return remapMidpoint + (score-threshold)/(1-threshold)*(1-remapMidpoint)
}

type sample struct {
	vector   []float32
	label    bool
	negative bool
}

// classWeights returns per-sample weights inversely proportional to the
// sample's class size, rescaled to sum to the sample count. Injected
// negatives form their own class.
func classWeights(samples []sample) []float64 {
	class := func(s sample) int {
		switch {
		case s.negative:
			return 2
		case s.label:
			return 1
		}
		return 0
	}
	var counts [3]int
	for _, s := range samples {
		counts[class(s)]++
	}
	weights := make([]float64, len(samples))
	var sum float64
	for i, s := range samples {
		weights[i] = 1 / float64(counts[class(s)])
		sum += weights[i]
	}
	for i := range weights {
		weights[i] *= float64(len(samples)) / sum
	}
	return weights
}

func distinctLabels(samples []sample) int {
	var pos, neg bool
	for _, s := range samples {
		if s.label {
			pos = true
		} else {
			neg = true
		}
	}
	n := 0
	if pos {
		n++
	}
	if neg {
		n++
	}
	return n
}

// fitClassifier trains a classifier on samples, cross-validating over
// min(len(samples), maxFolds) folds in parallel.
func fitClassifier(ctx context.Context, samples []sample, maxFolds int, seed int64) (*Classifier, error) {
	if distinctLabels(samples) < 2 {
		return &Classifier{Fallback: true}, nil
	}
	x := make([][]float32, len(samples))
	y := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = s.vector
		if s.label {
			y[i] = 1
		}
	}
	weights := classWeights(samples)

	folds := maxFolds
	if len(samples) < folds {
		folds = len(samples)
	}
	var metrics *Metrics
	if folds >= 2 {
		scores := make([]float64, len(samples))
		fold := make([]int, len(samples))
		for i, p := range rand.New(rand.NewSource(seed)).Perm(len(samples)) {
			fold[p] = i % folds
		}
		g, gctx := errgroup.WithContext(ctx)
		for f := 0; f < folds; f++ {
			f := f
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				var tx [][]float32
				var ty, tw []float64
				for i := range samples {
					if fold[i] != f {
						tx, ty, tw = append(tx, x[i]), append(ty, y[i]), append(tw, weights[i])
					}
				}
				model := trainLogistic(tx, ty, tw)
				for i := range samples {
					if fold[i] == f {
						scores[i] = model.Probability(x[i])
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		labels := make([]bool, len(samples))
		for i, s := range samples {
			labels[i] = s.label
		}
		m := evaluate(labels, scores)
		metrics = &m
	}
	return &Classifier{Model: trainLogistic(x, y, weights), Metrics: metrics}, nil
}

// evaluate picks the threshold maximizing F-beta and reports precision,
// recall and ROC-AUC.
func evaluate(labels []bool, scores []float64) Metrics {
	candidates := append([]float64(nil), scores...)
	sort.Float64s(candidates)
	best := Metrics{Threshold: 0.5, F05: -1}
	for i, t := range candidates {
		if i > 0 && t == candidates[i-1] {
			continue
		}
		var tp, fp, fn float64
		for j, s := range scores {
			predicted := s >= t
			switch {
			case predicted && labels[j]:
				tp++
			case predicted && !labels[j]:
				fp++
			case !predicted && labels[j]:
				fn++
			}
		}
		var precision, recall, f float64
		if tp > 0 {
			precision = tp / (tp + fp)
			recall = tp / (tp + fn)
			b2 := fbeta * fbeta
			f = (1 + b2) * precision * recall / (b2*precision + recall)
		}
		if f > best.F05 {
			best = Metrics{F05: f, Precision: precision, Recall: recall, Threshold: t}
		}
	}
	best.ROCAUC = rocAUC(labels, scores)
	return best
}

// rocAUC is the probability a positive outranks a negative, ties counting half.
func rocAUC(labels []bool, scores []float64) float64 {
	var pairs, wins float64
	for i := range scores {
		if !labels[i] {
			continue
		}
		for j := range scores {
			if labels[j] {
				continue
			}
			pairs++
			switch {
			case scores[i] > scores[j]:
				wins++
			case scores[i] == scores[j]:
				wins += 0.5
			}
		}
	}
	if pairs == 0 {
		return 0
	}
	return wins / pairs
}
