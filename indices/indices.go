// Package indices tracks which flattened positions in a batch of
// query-aligned class targets belong to real objects.
//
// A batch of B samples with object counts k_0..k_{B-1} flattens to
// sum(k_i) real objects. Each sample owns a contiguous range of the
// global indices 0..total-1, in batch order: a batch with counts
// (1, 3, 1) maps to [0], [1 2 3], [4]. The downstream bipartite
// matcher uses this mapping to link cost matrix rows back to target
// slots.
package indices

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ObjectIndices is the per-sample object index mapping in CSR layout:
// sample i owns Flat[Offsets[i]:Offsets[i+1]]. The flat layout avoids a
// per-sample allocation and keeps the mapping contiguous in memory.
type ObjectIndices struct {
	// Offsets has length B+1; Offsets[0] is always 0 and Offsets[B] is
	// the total object count.
	Offsets []int64
	// Flat holds the global object indices 0..total-1 in order.
	Flat []int64
}

// FromCounts builds the mapping from per-sample object counts via a
// prefix sum over the counts.
func FromCounts(counts []int) ObjectIndices {
	offsets := make([]int64, len(counts)+1)
	for i, k := range counts {
		offsets[i+1] = offsets[i] + int64(k)
	}

	flat := make([]int64, offsets[len(counts)])
	for i := range flat {
		flat[i] = int64(i)
	}

	return ObjectIndices{Offsets: offsets, Flat: flat}
}

// Track derives the mapping from a batch class target tensor of shape
// [B,Q,1] or [B,Q]. A slot holds a real object iff its value differs
// from sentinel, which must be the configured "no object" class
// (num_classes) used to pad the batch.
//
// Returns:
// - ObjectIndices: One contiguous index range per sample, batch order.
// - error: Error if the tensor is not float32 or not [B,Q]/[B,Q,1].
func Track(batchCls *tensor.Dense, sentinel float32) (ObjectIndices, error) {
	shape := batchCls.Shape()
	switch {
	case len(shape) == 2:
	case len(shape) == 3 && shape[2] == 1:
	default:
		return ObjectIndices{}, errors.Errorf("class target must have shape [B,Q] or [B,Q,1], got %v", shape)
	}

	data, ok := batchCls.Data().([]float32)
	if !ok {
		return ObjectIndices{}, errors.Errorf("class target must be float32, got %v", batchCls.Dtype())
	}

	batchSize, numQueries := shape[0], shape[1]
	counts := make([]int, batchSize)
	for i := 0; i < batchSize; i++ {
		sample := data[i*numQueries : (i+1)*numQueries]
		k := 0
		for _, v := range sample {
			if v != sentinel {
				k++
			}
		}
		counts[i] = k
	}

	return FromCounts(counts), nil
}

// Len returns the number of samples in the batch.
func (o ObjectIndices) Len() int { return len(o.Offsets) - 1 }

// Total returns the number of real objects across the batch.
func (o ObjectIndices) Total() int { return len(o.Flat) }

// Sample returns sample i's global object indices as a view into the
// flat array. The slice must be treated as read-only.
func (o ObjectIndices) Sample(i int) []int64 {
	return o.Flat[o.Offsets[i]:o.Offsets[i+1]]
}

// PerSample materializes the mapping as a nested slice, one entry per
// sample. Samples without objects get empty (non-nil) slices.
func (o ObjectIndices) PerSample() [][]int64 {
	out := make([][]int64, o.Len())
	for i := range out {
		sample := o.Sample(i)
		out[i] = make([]int64, len(sample))
		copy(out[i], sample)
	}
	return out
}
