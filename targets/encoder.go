// Package targets aligns per-sample ground-truth labels with the fixed
// query slots of a DETR-style detection head.
//
// Each sample's variable-length object list becomes a pair of
// fixed-length target tensors: a [Q,1] class target and a [Q,4]
// bounding box target, both float32. The first k slots hold the
// sample's objects in input order; the remaining slots are padded with
// the sentinel class (num_classes, "no object"). Slot position implies
// object identity downstream, so the encoder never reorders.
package targets

import (
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detr/labels"
)

// boxFields is the per-object coordinate count (x, y, w, h).
const boxFields = 4

// CapacityError reports a sample with more labeled objects than the
// model has query slots. Objects beyond slot Q-1 cannot be represented;
// without the truncation opt-in the sample is rejected outright.
type CapacityError struct {
	// Objects is the number of labeled objects in the sample.
	Objects int
	// Queries is the configured number of query slots.
	Queries int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("sample has %d objects but only %d query slots", e.Objects, e.Queries)
}

// Encoder converts one sample's labels into query-aligned target
// tensors. It is stateless apart from configuration and safe for
// concurrent use.
type Encoder struct {
	numQueries int
	numClasses int
	sentinel   float32
	truncate   bool
	logger     *slog.Logger
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithTruncateOverflow keeps the first Q objects of an over-capacity
// sample instead of rejecting it. Every truncation logs a warning.
func WithTruncateOverflow() Option {
	return func(e *Encoder) { e.truncate = true }
}

// WithLogger sets the logger used for truncation warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Encoder) { e.logger = logger }
}

// NewEncoder creates an Encoder for numQueries query slots and
// numClasses object classes. The sentinel "no object" value is
// numClasses itself.
//
// Returns:
// - *Encoder: The configured encoder.
// - error: Error if numQueries or numClasses is not positive.
func NewEncoder(numQueries, numClasses int, opts ...Option) (*Encoder, error) {
	if numQueries <= 0 {
		return nil, errors.Errorf("num queries must be positive, got %d", numQueries)
	}
	if numClasses <= 0 {
		return nil, errors.Errorf("num classes must be positive, got %d", numClasses)
	}

	e := &Encoder{
		numQueries: numQueries,
		numClasses: numClasses,
		sentinel:   float32(numClasses),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// NumQueries returns the configured number of query slots.
func (e *Encoder) NumQueries() int { return e.numQueries }

// Sentinel returns the padding value marking a slot as "no object".
func (e *Encoder) Sentinel() float32 { return e.sentinel }

// Encode converts objs into a [Q,1] class target and a [Q,4] bounding
// box target. Slots 0..k-1 carry the objects in input order; slots
// k..Q-1 are sentinel padding across every component.
//
// Arguments:
// - objs: The sample's labeled objects, in source order.
//
// Returns:
// - *tensor.Dense: Class target of shape [Q,1], float32.
// - *tensor.Dense: Bounding box target of shape [Q,4], float32.
// - error: A *CapacityError if len(objs) > Q and truncation is off.
func (e *Encoder) Encode(objs []labels.Object) (*tensor.Dense, *tensor.Dense, error) {
	cls := make([]float32, e.numQueries)
	bbox := make([]float32, e.numQueries*boxFields)

	if err := e.EncodeInto(objs, cls, bbox); err != nil {
		return nil, nil, err
	}

	clsT := tensor.New(tensor.WithShape(e.numQueries, 1), tensor.WithBacking(cls))
	bboxT := tensor.New(tensor.WithShape(e.numQueries, boxFields), tensor.WithBacking(bbox))
	return clsT, bboxT, nil
}

// EncodeInto is the allocation-free form of Encode. It fills cls
// (length Q) and bbox (length Q*4, row-major) in place, so batch
// callers can point it at their sample's span of a shared backing
// array.
func (e *Encoder) EncodeInto(objs []labels.Object, cls, bbox []float32) error {
	if len(cls) != e.numQueries {
		return errors.Errorf("class target length %d does not match %d queries", len(cls), e.numQueries)
	}
	if len(bbox) != e.numQueries*boxFields {
		return errors.Errorf("bbox target length %d does not match %d queries", len(bbox), e.numQueries)
	}

	if len(objs) > e.numQueries {
		if !e.truncate {
			return &CapacityError{Objects: len(objs), Queries: e.numQueries}
		}
		e.logger.Warn("truncating over-capacity sample",
			"objects", len(objs),
			"queries", e.numQueries)
		objs = objs[:e.numQueries]
	}

	for i := range cls {
		cls[i] = e.sentinel
	}
	for i := range bbox {
		bbox[i] = e.sentinel
	}

	for idx, obj := range objs {
		cls[idx] = float32(obj.Class)
		bbox[idx*boxFields+0] = obj.X
		bbox[idx*boxFields+1] = obj.Y
		bbox[idx*boxFields+2] = obj.W
		bbox[idx*boxFields+3] = obj.H
	}

	return nil
}
