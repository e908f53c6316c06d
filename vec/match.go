package vec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"modernc.org/sqlite/vtab"

	"github.com/viant/curator/vector"
)

// decodeMatch reads a query vector from an embedding BLOB or from text
// holding a JSON array, a base64 embedding blob or comma separated floats.
func decodeMatch(v vtab.Value) ([]float32, error) {
	var (
		query []float32
		err   error
	)
	switch val := v.(type) {
	case []byte:
		query, err = vector.DecodeEmbedding(val)
	case string:
		query, err = decodeMatchString(val)
	default:
		return nil, fmt.Errorf("curator_knn: expected MATCH arg as BLOB or TEXT, got %T", v)
	}
	if err != nil {
		return nil, err
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("curator_knn: MATCH vector is empty")
	}
	return query, nil
}

func decodeMatchString(raw string) ([]float32, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("curator_knn: MATCH string is empty")
	}
	if strings.HasPrefix(s, "[") {
		var floats []float64
		if err := json.Unmarshal([]byte(s), &floats); err != nil {
			return nil, fmt.Errorf("curator_knn: invalid MATCH array: %w", err)
		}
		return toFloat32(floats), nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		if query, err := vector.DecodeEmbedding(b); err == nil {
			return query, nil
		}
	}
	var floats []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 32)
		if err != nil {
			return nil, fmt.Errorf("curator_knn: MATCH must be a JSON array, base64 embedding or CSV floats: %w", err)
		}
		floats = append(floats, f)
	}
	return toFloat32(floats), nil
}

func toFloat32(floats []float64) []float32 {
	out := make([]float32, len(floats))
	for i, f := range floats {
		out[i] = float32(f)
	}
	return out
}
