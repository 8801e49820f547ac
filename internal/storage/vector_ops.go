package storage

import (
	"container/heap"
	"encoding/binary"
	"math"
	"sort"
	"strings"
)

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// sameDirectionEpsilon absorbs float64 rounding for vectors that point the
// same way, e.g. a record compared with its own vector.
const sameDirectionEpsilon = 1e-12

// cosineDistance returns 1 - cos(a, b), clamped to [0, 2]. A zero vector
// has no direction and sits at distance 1 from everything. Distances below
// sameDirectionEpsilon are exactly 0, so equal-direction records tie and
// order by id.
func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 1
	}

	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	d := 1 - cos
	if d < sameDirectionEpsilon {
		return 0
	}
	return min(d, 2)
}

// CosineDistance is exported for callers that score vectors outside the store
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 1
	}
	return cosineDistance(a, b)
}

// candidate is a record id with its distance to the query
type candidate struct {
	id       int64
	distance float64
}

// worse reports whether a ranks after b
func worse(a, b candidate) bool {
	if a.distance != b.distance {
		return a.distance > b.distance
	}
	return a.id > b.id
}

// candidateHeap keeps the worst retained candidate on top so it can be
// evicted when a better one arrives.
type candidateHeap []candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}

// topK retains the k best candidates seen by offer
type topK struct {
	k int
	h candidateHeap
}

func newTopK(k int) *topK {
	return &topK{k: k, h: make(candidateHeap, 0, k)}
}

func (t *topK) offer(c candidate) {
	if len(t.h) < t.k {
		heap.Push(&t.h, c)
		return
	}
	if worse(t.h[0], c) {
		t.h[0] = c
		heap.Fix(&t.h, 0)
	}
}

// sorted returns the retained candidates, best first
func (t *topK) sorted() []candidate {
	out := append([]candidate(nil), t.h...)
	sort.Slice(out, func(i, j int) bool {
		return worse(out[j], out[i])
	})
	return out
}

// applyFilters appends WHERE conditions for filters to query
func applyFilters(query string, args []any, filters *SearchFilters) (string, []any) {
	if filters == nil {
		return query, args
	}

	if len(filters.ChunkTypes) > 0 {
		placeholders := make([]string, len(filters.ChunkTypes))
		for i, ct := range filters.ChunkTypes {
			placeholders[i] = "?"
			args = append(args, string(ct))
		}
		query += " AND chunk_type IN (" + strings.Join(placeholders, ",") + ")"
	}

	if filters.FilePattern != "" {
		query += " AND file_path GLOB ?"
		args = append(args, filters.FilePattern)
	}

	if filters.NameContains != "" {
		query += " AND instr(name, ?) > 0"
		args = append(args, filters.NameContains)
	}

	return query, args
}
