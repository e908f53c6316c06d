package schema

import (
	"math"
	"strconv"

	"github.com/viant/curator/errs"
)

// Bin is a named half-open interval [Start, End). A nil Start is unbounded
// below and a nil End is unbounded above.
type Bin struct {
	Name  string   `json:"name"`
	Start *float64 `json:"start,omitempty"`
	End   *float64 `json:"end,omitempty"`
}

func (b Bin) label(i int) string {
	if b.Name == "" {
		return strconv.Itoa(i)
	}
	return b.Name
}

// NamedBins returns a copy of bins where every unnamed bin is named by its index.
func NamedBins(bins []Bin) []Bin {
	if bins == nil {
		return nil
	}
	out := make([]Bin, len(bins))
	for i, b := range bins {
		b.Name = b.label(i)
		out[i] = b
	}
	return out
}

// ValidateBins checks that bins are ordered, contiguous, unbounded at both
// ends, and uniquely named once unnamed bins take their index as name.
func ValidateBins(bins []Bin) error {
	if len(bins) < 2 {
		return errs.InvalidArgument("bins: need at least two bins, got %d", len(bins))
	}
	seen := make(map[string]int, len(bins))
	for i, b := range bins {
		name := b.label(i)
		if j, ok := seen[name]; ok {
			return errs.InvalidArgument("bins: bins %d and %d are both named %q", j, i, name)
		}
		seen[name] = i
	}
	if bins[0].Start != nil {
		return errs.InvalidArgument("bins: first bin %q must be unbounded below", bins[0].Name)
	}
	last := bins[len(bins)-1]
	if last.End != nil {
		return errs.InvalidArgument("bins: last bin %q must be unbounded above", last.Name)
	}
	for i := 0; i < len(bins)-1; i++ {
		cur, next := bins[i], bins[i+1]
		if cur.End == nil || next.Start == nil {
			return errs.InvalidArgument("bins: inner boundary between %q and %q must be bounded", cur.Name, next.Name)
		}
		if *cur.End != *next.Start {
			return errs.InvalidArgument("bins: %q ends at %v but %q starts at %v", cur.Name, *cur.End, next.Name, *next.Start)
		}
		if cur.Start != nil && *cur.Start >= *cur.End {
			return errs.InvalidArgument("bins: %q is empty", cur.Name)
		}
	}
	return nil
}

// BinsFromBoundaries builds unnamed bins from inner boundaries: n boundaries
// yield n+1 bins named by their index.
func BinsFromBoundaries(boundaries []float64) []Bin {
	bins := make([]Bin, 0, len(boundaries)+1)
	for i := 0; i <= len(boundaries); i++ {
		b := Bin{Name: strconv.Itoa(i)}
		if i > 0 {
			start := boundaries[i-1]
			b.Start = &start
		}
		if i < len(boundaries) {
			end := boundaries[i]
			b.End = &end
		}
		bins = append(bins, b)
	}
	return bins
}

// AutoBins returns equal-width bins spanning [min, max] with count bins.
func AutoBins(min, max float64, count int) []Bin {
	if count < 2 || math.IsNaN(min) || math.IsNaN(max) || max <= min {
		return BinsFromBoundaries([]float64{min})
	}
	width := (max - min) / float64(count)
	boundaries := make([]float64, 0, count-1)
	for i := 1; i < count; i++ {
		boundaries = append(boundaries, min+width*float64(i))
	}
	return BinsFromBoundaries(boundaries)
}

// BinFor returns the name of the bin containing v, or false for NaN. An
// unnamed bin is named by its index.
func BinFor(bins []Bin, v float64) (string, bool) {
	if math.IsNaN(v) {
		return "", false
	}
	for i, b := range bins {
		if b.Start != nil && v < *b.Start {
			continue
		}
		if b.End != nil && v >= *b.End {
			continue
		}
		return b.label(i), true
	}
	return "", false
}
