package vector

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeEmbedding encodes a vector as a little-endian float32 BLOB; the
// length is derived from the BLOB size on decode.
func EncodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	b := make([]byte, 0, len(vec)*4)
	for _, v := range vec {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}
	return b
}

// DecodeEmbedding decodes a BLOB produced by EncodeEmbedding.
func DecodeEmbedding(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector: invalid embedding blob length %d (not multiple of 4)", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

// EncodeMatrix encodes equal or ragged rows as [n u32]([len u32][float32...])*.
func EncodeMatrix(rows [][]float32) []byte {
	size := 4
	for _, r := range rows {
		size += 4 + 4*len(r)
	}
	b := make([]byte, 0, size)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(rows)))
	for _, r := range rows {
		b = binary.LittleEndian.AppendUint32(b, uint32(len(r)))
		b = append(b, EncodeEmbedding(r)...)
	}
	return b
}

// DecodeMatrix reverses EncodeMatrix.
func DecodeMatrix(b []byte) ([][]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b) < 4 {
		return nil, fmt.Errorf("vector: truncated matrix header")
	}
	n := int(binary.LittleEndian.Uint32(b))
	off := 4
	rows := make([][]float32, n)
	for i := range rows {
		if off+4 > len(b) {
			return nil, fmt.Errorf("vector: truncated matrix row %d", i)
		}
		dim := int(binary.LittleEndian.Uint32(b[off:]))
		off += 4
		if off+4*dim > len(b) {
			return nil, fmt.Errorf("vector: truncated matrix row %d", i)
		}
		row, err := DecodeEmbedding(b[off : off+4*dim])
		if err != nil {
			return nil, err
		}
		rows[i] = row
		off += 4 * dim
	}
	return rows, nil
}

// CosineSimilarity returns the cosine similarity of a and b, 0 when either
// has zero magnitude.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector: cosine similarity dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na2, nb2 float64
	for i := range a {
		va, vb := float64(a[i]), float64(b[i])
		dot += va * vb
		na2 += va * va
		nb2 += vb * vb
	}
	if na2 == 0 || nb2 == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na2) * math.Sqrt(nb2)), nil
}
