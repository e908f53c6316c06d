package vector

import (
	"github.com/viant/curator/config"
	"github.com/viant/curator/errs"
	"github.com/viant/curator/index"
	"github.com/viant/curator/index/bruteforce"
	"github.com/viant/curator/index/cover"
	"github.com/viant/curator/internal/cover/tree"
)

const (
	autoCoverMinSpans           = 4000
	autoCoverMinDim             = 64
	autoCoverMinDensity float64 = 16
)

// ResolveKind turns "auto" into a concrete store kind for the given span
// count and dimensionality.
func ResolveKind(kind string, spans, dim int) string {
	if kind != config.VectorStoreAuto && kind != "" {
		return kind
	}
	if spans >= autoCoverMinSpans && dim >= autoCoverMinDim && float64(spans)/float64(dim) >= autoCoverMinDensity {
		return config.VectorStoreCover
	}
	return config.VectorStoreExact
}

// NewStore creates an empty store of a concrete kind.
func NewStore(kind string, cfg config.Vector) (index.Store, error) {
	switch kind {
	case config.VectorStoreExact:
		return bruteforce.New(), nil
	case config.VectorStoreCover:
		return cover.New(cover.Options{
			Base:   cfg.CoverBase,
			Bound:  tree.ParseBoundStrategy(cfg.CoverBound),
			Budget: cfg.CoverBudget,
		}), nil
	}
	return nil, errs.InvalidArgument("vector: unknown store kind %q", kind)
}
