// Package posenc generates the sinusoidal positional encodings fed to
// the transformer alongside the backbone feature map.
//
// The encoding is a pure function of the feature map shape [H,W] and a
// per-axis feature count F (half the transformer dimension). Each grid
// cell gets 2F channels: F encoding its y position followed by F
// encoding its x position. Every channel uses sin, including the
// odd-indexed ones; the classic alternating sin/cos scheme is
// deliberately not used here, matching the network this feeds.
package posenc

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ConfigError reports an invalid generator configuration. It is raised
// at construction, before any batch processing can run.
type ConfigError struct {
	// Field names the bad parameter.
	Field string
	// Value is the rejected value.
	Value int
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("positional encoding %s must be positive, got %d", e.Field, e.Value)
}

// Generator holds the one-time-computed base encoding for a fixed
// (H, W, F) configuration. The base is immutable after construction
// and may be shared read-only across any number of concurrent batch
// preparations.
type Generator struct {
	height      int
	width       int
	numPosFeats int
	base        []float32 // H*W rows of 2F channels, row-major
}

// New computes the base encoding for a height*width feature map with
// numPosFeats channels per axis (dim_transformer / 2).
//
// Identical arguments always produce a bit-identical encoding, so one
// Generator can serve a whole training run.
//
// Returns:
// - *Generator: The generator holding the [H*W, 2F] base encoding.
// - error: A *ConfigError if any dimension is not positive.
func New(height, width, numPosFeats int) (*Generator, error) {
	switch {
	case height <= 0:
		return nil, &ConfigError{Field: "height", Value: height}
	case width <= 0:
		return nil, &ConfigError{Field: "width", Value: width}
	case numPosFeats <= 0:
		return nil, &ConfigError{Field: "feature count", Value: numPosFeats}
	}

	// div(2m) == div(2m+1): channel pairs share a wavelength.
	div := make([]float32, numPosFeats)
	for j := range div {
		div[j] = math32.Pow(10000, float32(2*(j/2))/float32(numPosFeats))
	}

	// Grid positions are 1-indexed: cell (h,w) encodes (h+1, w+1).
	base := make([]float32, height*width*2*numPosFeats)
	for h := 0; h < height; h++ {
		for w := 0; w < width; w++ {
			row := base[(h*width+w)*2*numPosFeats:]
			for j, d := range div {
				row[j] = math32.Sin(float32(h+1) / d)
				row[numPosFeats+j] = math32.Sin(float32(w+1) / d)
			}
		}
	}

	return &Generator{
		height:      height,
		width:       width,
		numPosFeats: numPosFeats,
		base:        base,
	}, nil
}

// Rows returns the number of encoded positions, H*W.
func (g *Generator) Rows() int { return g.height * g.width }

// Dim returns the channel count per position, 2F.
func (g *Generator) Dim() int { return 2 * g.numPosFeats }

// Batch replicates the base encoding across batchSize, producing a
// float32 tensor of shape [B, H*W, 2F]. Replication is the only
// batch-dependent step; the per-position values are never recomputed.
func (g *Generator) Batch(batchSize int) (*tensor.Dense, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batchSize)
	}

	backing := make([]float32, batchSize*len(g.base))
	for b := 0; b < batchSize; b++ {
		copy(backing[b*len(g.base):], g.base)
	}

	return tensor.New(
		tensor.WithShape(batchSize, g.Rows(), g.Dim()),
		tensor.WithBacking(backing),
	), nil
}
