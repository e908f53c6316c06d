package concept

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/viant/curator/errs"
	"github.com/viant/curator/schema"
	"github.com/viant/curator/signal"
	"github.com/viant/curator/vector"
)

const (
	// ScoreSignalName is the registry name of the concept classifier signal.
	ScoreSignalName = "concept_score"
	// LabelsSignalName is the registry name of the concept label overlay signal.
	LabelsSignalName = "concept_labels"
)

// RegisterSignals registers the concept signals bound to manager.
func RegisterSignals(manager *Manager) {
	signal.Register(ScoreSignalName, func() signal.Signal { return &ScoreSignal{manager: manager} })
	signal.Register(LabelsSignalName, func() signal.Signal { return &LabelsSignal{manager: manager} })
}

// ScoreSignal scores every span of an embedding with a concept classifier.
type ScoreSignal struct {
	Namespace     string `json:"namespace"`
	ConceptName   string `json:"concept_name"`
	EmbeddingName string `json:"embedding"`
	Draft         string `json:"draft,omitempty"`

	manager *Manager
}

func (s *ScoreSignal) Name() string      { return ScoreSignalName }
func (s *ScoreSignal) Kind() signal.Kind { return signal.KindVector }
func (s *ScoreSignal) Embedding() string { return s.EmbeddingName }
func (s *ScoreSignal) Fields() *schema.Field {
	return signal.SpanFields(schema.Child{Name: "score", Field: schema.Scalar(schema.Float32)})
}

// ComputedKey embeds the concept version, so a persisted score is never
// confused with one computed from a different set of examples.
func (s *ScoreSignal) ComputedKey() (string, error) {
	if s.manager == nil {
		return "", errs.DependencyUnavailable("concept_score: no concept manager")
	}
	version, err := s.manager.concepts.Version(context.Background(), s.Namespace, s.ConceptName)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s/%s/%s/v%d", s.Namespace, s.ConceptName, s.EmbeddingName, version)
	if s.Draft != "" && s.Draft != DefaultDraft {
		key += "/" + s.Draft
	}
	return key, nil
}

func (s *ScoreSignal) model(ctx context.Context) (*Model, error) {
	if s.manager == nil {
		return nil, errs.DependencyUnavailable("concept_score: no concept manager")
	}
	if s.Namespace == "" || s.ConceptName == "" || s.EmbeddingName == "" {
		return nil, errs.InvalidArgument("concept_score: namespace, concept_name and embedding are required")
	}
	return s.manager.Sync(ctx, s.Namespace, s.ConceptName, s.EmbeddingName)
}

// VectorCompute scores the spans of each key; keys without spans yield nil.
func (s *ScoreSignal) VectorCompute(ctx context.Context, keys []vector.PathKey, idx *vector.Index) ([]interface{}, error) {
	model, err := s.model(ctx)
	if err != nil {
		return nil, err
	}
	return s.score(model, keys, idx)
}

func (s *ScoreSignal) score(model *Model, keys []vector.PathKey, idx *vector.Index) ([]interface{}, error) {
	out := make([]interface{}, len(keys))
	for i, key := range keys {
		if !idx.Has(key) {
			continue
		}
		spans, err := idx.Get([]vector.PathKey{key})
		if err != nil {
			return nil, err
		}
		vectors := make([][]float32, len(spans[0]))
		for j, sv := range spans[0] {
			vectors[j] = sv.Vector
		}
		scores := model.Score(s.Draft, vectors)
		items := make([]interface{}, len(spans[0]))
		for j, sv := range spans[0] {
			items[j] = signal.SpanValue(sv.Span.Start, sv.Span.End, map[string]interface{}{"score": scores[j]})
		}
		out[i] = items
	}
	return out, nil
}

// VectorComputeTopK ranks keys by their best span score. The classifier is
// monotonic in w·x, so candidates come from the index ranked by the weights.
func (s *ScoreSignal) VectorComputeTopK(ctx context.Context, k int, idx *vector.Index, keys []vector.PathKey) ([]signal.Keyed, error) {
	model, err := s.model(ctx)
	if err != nil {
		return nil, err
	}
	classifier := model.Classifier(s.Draft)
	var candidates []vector.PathKey
	if classifier.Fallback || classifier.Model == nil {
		candidates = keys
		if candidates == nil {
			candidates = idx.Keys()
		}
	} else {
		query := make([]float32, len(classifier.Model.Weights))
		for i, w := range classifier.Model.Weights {
			query[i] = float32(w)
		}
		results, err := idx.TopK(query, k, keys)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			candidates = append(candidates, r.Key)
		}
	}
	items, err := s.score(model, candidates, idx)
	if err != nil {
		return nil, err
	}
	out := make([]signal.Keyed, 0, len(candidates))
	for i, key := range candidates {
		if items[i] == nil {
			continue
		}
		out = append(out, signal.Keyed{Key: key, Item: items[i], Score: bestScore(items[i])})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func bestScore(item interface{}) float64 {
	best := 0.0
	for i, v := range item.([]interface{}) {
		score, _ := v.(map[string]interface{})["score"].(float64)
		if i == 0 || score > best {
			best = score
		}
	}
	return best
}

// LabelsSignal overlays the labels of a concept's examples on texts that
// contain them.
type LabelsSignal struct {
	Namespace   string `json:"namespace"`
	ConceptName string `json:"concept_name"`
	Draft       string `json:"draft,omitempty"`

	manager *Manager
}

func (s *LabelsSignal) Name() string      { return LabelsSignalName }
func (s *LabelsSignal) Kind() signal.Kind { return signal.KindPlain }
func (s *LabelsSignal) Fields() *schema.Field {
	return signal.SpanFields(
		schema.Child{Name: "label", Field: schema.Scalar(schema.Bool)},
		schema.Child{Name: "draft", Field: schema.Scalar(schema.String)},
	)
}

// Compute returns a span per occurrence of an example text, ordered by offset.
func (s *LabelsSignal) Compute(ctx context.Context, values []interface{}) ([]interface{}, error) {
	if s.manager == nil {
		return nil, errs.DependencyUnavailable("concept_labels: no concept manager")
	}
	c, err := s.manager.concepts.Get(ctx, s.Namespace, s.ConceptName)
	if err != nil {
		return nil, err
	}
	view := DraftView(c, s.Draft)
	ids := sortedIDs(view)
	out := make([]interface{}, len(values))
	for i, v := range values {
		text, ok := v.(string)
		if !ok {
			continue
		}
		type match struct {
			start, end int
			example    Example
		}
		var matches []match
		for _, id := range ids {
			e := view[id]
			if e.Text == nil || *e.Text == "" {
				continue
			}
			for offset := 0; offset < len(text); {
				at := strings.Index(text[offset:], *e.Text)
				if at < 0 {
					break
				}
				start := offset + at
				matches = append(matches, match{start: start, end: start + len(*e.Text), example: e})
				offset = start + len(*e.Text)
			}
		}
		sort.SliceStable(matches, func(a, b int) bool { return matches[a].start < matches[b].start })
		items := make([]interface{}, len(matches))
		for j, m := range matches {
			items[j] = signal.SpanValue(m.start, m.end, map[string]interface{}{"label": m.example.Label, "draft": m.example.DraftName()})
		}
		out[i] = items
	}
	return out, nil
}
