package engine

import (
	"database/sql/driver"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	sqlite "modernc.org/sqlite"

	"github.com/viant/curator/schema"
)

// RegisterFunctions registers curate_bin, vec_cosine and vec_l2 with the
// driver. Only connections opened after this call see them; duplicate
// registration errors are ignored.
func RegisterFunctions() error {
	_ = sqlite.RegisterDeterministicScalarFunction("curate_bin", 2, curateBinImpl)
	_ = sqlite.RegisterDeterministicScalarFunction("vec_cosine", 2, vecCosineImpl)
	_ = sqlite.RegisterDeterministicScalarFunction("vec_l2", 2, vecL2Impl)
	return nil
}

var binCache sync.Map

func parseBins(spec string) ([]schema.Bin, error) {
	if cached, ok := binCache.Load(spec); ok {
		return cached.([]schema.Bin), nil
	}
	var bins []schema.Bin
	if err := json.Unmarshal([]byte(spec), &bins); err != nil {
		return nil, fmt.Errorf("curate_bin: invalid bins: %w", err)
	}
	if err := schema.ValidateBins(bins); err != nil {
		return nil, err
	}
	binCache.Store(spec, bins)
	return bins, nil
}

func asFloat(arg driver.Value) (float64, bool) {
	switch v := arg.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, !math.IsNaN(v)
	case string:
		var f float64
		if _, err := fmt.Sscan(strings.TrimSpace(v), &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

// curateBinImpl maps a numeric value to its bin name; NULL, NaN and
// non-numeric values map to NULL.
func curateBinImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("curate_bin: expected 2 arguments, got %d", len(args))
	}
	spec, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("curate_bin: bins must be TEXT, got %T", args[1])
	}
	bins, err := parseBins(spec)
	if err != nil {
		return nil, err
	}
	value, ok := asFloat(args[0])
	if !ok {
		return nil, nil
	}
	name, ok := schema.BinFor(bins, value)
	if !ok {
		return nil, nil
	}
	return name, nil
}

func asEmbedding(arg driver.Value) ([]float32, error) {
	switch v := arg.(type) {
	case nil:
		return nil, nil
	case []byte:
		return decodeEmbedding(v)
	default:
		return nil, fmt.Errorf("vec: unsupported argument type %T for embedding; want BLOB", arg)
	}
}

func embeddingPair(name string, args []driver.Value) ([]float32, []float32, error) {
	if len(args) != 2 {
		return nil, nil, fmt.Errorf("%s: expected 2 arguments, got %d", name, len(args))
	}
	a, err := asEmbedding(args[0])
	if err != nil {
		return nil, nil, err
	}
	b, err := asEmbedding(args[1])
	if err != nil {
		return nil, nil, err
	}
	if a != nil && b != nil && len(a) != len(b) {
		return nil, nil, fmt.Errorf("%s: dim mismatch %d vs %d", name, len(a), len(b))
	}
	return a, b, nil
}

// vecCosineImpl returns cosine similarity, 0 when either side has no magnitude.
func vecCosineImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	a, b, err := embeddingPair("vec_cosine", args)
	if err != nil || a == nil || b == nil {
		return nil, err
	}
	var dot, na2, nb2 float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na2 += float64(a[i]) * float64(a[i])
		nb2 += float64(b[i]) * float64(b[i])
	}
	if na2 == 0 || nb2 == 0 {
		return 0.0, nil
	}
	return dot / (math.Sqrt(na2) * math.Sqrt(nb2)), nil
}

func vecL2Impl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	a, b, err := embeddingPair("vec_l2", args)
	if err != nil || a == nil || b == nil {
		return nil, err
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// decodeEmbedding mirrors vector.DecodeEmbedding.
func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vec: invalid embedding blob length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
