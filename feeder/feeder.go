// Package feeder assembles per-sample labels into the batch tensors a
// DETR-style training loop consumes: query-aligned class and bounding
// box targets, the global object index mapping for bipartite matching,
// and the cached positional encoding.
package feeder

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detr/indices"
	"github.com/nvr-ai/go-detr/labels"
	"github.com/nvr-ai/go-detr/posenc"
	"github.com/nvr-ai/go-detr/targets"
)

// Config configures a Feeder.
type Config struct {
	// NumQueries is the number of prediction slots per image.
	NumQueries int
	// NumClasses is the number of object classes; NumClasses itself is
	// the sentinel "no object" padding value.
	NumClasses int
	// FeatureMapHeight and FeatureMapWidth describe the backbone
	// feature map the positional encoding covers.
	FeatureMapHeight int
	FeatureMapWidth  int
	// DimTransformer is the transformer model dimension. Each axis of
	// the positional encoding gets DimTransformer/2 channels, so it
	// must be even.
	DimTransformer int
	// Workers bounds the per-sample encoding fan-out. Zero means
	// GOMAXPROCS.
	Workers int
	// TruncateOverflow keeps the first NumQueries objects of an
	// over-capacity sample instead of rejecting the batch.
	TruncateOverflow bool
	// Logger receives truncation warnings. Nil means slog.Default.
	Logger *slog.Logger
}

// Batch is one training batch's target data.
type Batch struct {
	// Class is the class target tensor, float32, shape [B, Q, 1].
	Class *tensor.Dense
	// BBox is the bounding box target tensor, float32, shape [B, Q, 4].
	BBox *tensor.Dense
	// Indices maps each sample to its global object index range.
	Indices indices.ObjectIndices
	// PositionalEncoding has shape [B, H*W, DimTransformer] and is
	// identical across every batch of a run. It is shared between
	// batches of the same size and must be treated as read-only.
	PositionalEncoding *tensor.Dense
}

// Feeder prepares training batches. It carries no mutable state across
// calls other than the positional encoding cache, so one Feeder can
// serve concurrent batch preparations.
type Feeder struct {
	encoder *targets.Encoder
	posGen  *posenc.Generator
	workers int

	// Positional encodings replicated per batch size, built once and
	// then shared read-only.
	mu       sync.Mutex
	posCache map[int]*tensor.Dense
}

// New validates cfg and builds a Feeder, including the one-time
// positional encoding base for the configured feature map shape.
func New(cfg Config) (*Feeder, error) {
	if cfg.DimTransformer <= 0 || cfg.DimTransformer%2 != 0 {
		return nil, errors.Errorf("transformer dimension must be positive and even, got %d", cfg.DimTransformer)
	}

	var opts []targets.Option
	if cfg.TruncateOverflow {
		opts = append(opts, targets.WithTruncateOverflow())
	}
	if cfg.Logger != nil {
		opts = append(opts, targets.WithLogger(cfg.Logger))
	}
	encoder, err := targets.NewEncoder(cfg.NumQueries, cfg.NumClasses, opts...)
	if err != nil {
		return nil, err
	}

	posGen, err := posenc.New(cfg.FeatureMapHeight, cfg.FeatureMapWidth, cfg.DimTransformer/2)
	if err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	return &Feeder{
		encoder:  encoder,
		posGen:   posGen,
		workers:  workers,
		posCache: make(map[int]*tensor.Dense),
	}, nil
}

// Prepare converts one batch of per-sample label sets into aligned
// target tensors. Samples are encoded in parallel across a bounded
// worker pool; each worker writes its own sample's span of the shared
// backing arrays, so gathering preserves batch order. Index tracking
// then folds over the samples sequentially. The first error aborts the
// batch.
//
// Arguments:
// - ctx: Context ending the fan-out early if cancelled.
// - samples: One label set per sample, batch order.
//
// Returns:
// - *Batch: The aligned batch tensors.
// - error: A capacity, format, or context error; never a partial batch.
func (f *Feeder) Prepare(ctx context.Context, samples [][]labels.Object) (*Batch, error) {
	batchSize := len(samples)
	if batchSize == 0 {
		return nil, errors.New("empty batch")
	}

	numQueries := f.encoder.NumQueries()
	clsBacking := make([]float32, batchSize*numQueries)
	bboxBacking := make([]float32, batchSize*numQueries*4)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for i := range samples {
		i := i // per-iteration copy; required while go.mod targets go < 1.22
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cls := clsBacking[i*numQueries : (i+1)*numQueries]
			bbox := bboxBacking[i*numQueries*4 : (i+1)*numQueries*4]
			return errors.Wrapf(f.encoder.EncodeInto(samples[i], cls, bbox), "sample %d", i)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cls := tensor.New(tensor.WithShape(batchSize, numQueries, 1), tensor.WithBacking(clsBacking))
	bbox := tensor.New(tensor.WithShape(batchSize, numQueries, 4), tensor.WithBacking(bboxBacking))

	objIndices, err := indices.Track(cls, f.encoder.Sentinel())
	if err != nil {
		return nil, err
	}

	pos, err := f.positionalEncoding(batchSize)
	if err != nil {
		return nil, err
	}

	return &Batch{
		Class:              cls,
		BBox:               bbox,
		Indices:            objIndices,
		PositionalEncoding: pos,
	}, nil
}

// positionalEncoding returns the cached replicated encoding for
// batchSize, building it on first use.
func (f *Feeder) positionalEncoding(batchSize int) (*tensor.Dense, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if pos, ok := f.posCache[batchSize]; ok {
		return pos, nil
	}
	pos, err := f.posGen.Batch(batchSize)
	if err != nil {
		return nil, err
	}
	f.posCache[batchSize] = pos
	return pos, nil
}
