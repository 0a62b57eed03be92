package targets

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detr/labels"
)

func TestNewEncoderRejectsBadConfig(t *testing.T) {
	_, err := NewEncoder(0, 2)
	assert.Error(t, err, "zero queries should be rejected at construction")

	_, err = NewEncoder(5, 0)
	assert.Error(t, err, "zero classes should be rejected at construction")

	_, err = NewEncoder(-1, 2)
	assert.Error(t, err, "negative queries should be rejected at construction")
}

func TestEncode(t *testing.T) {
	enc, err := NewEncoder(5, 2)
	require.NoError(t, err)

	objs := []labels.Object{
		{Class: 0, X: 0.5, Y: 0.5, W: 0.2, H: 0.2},
		{Class: 1, X: 0.1, Y: 0.1, W: 0.05, H: 0.05},
	}

	cls, bbox, err := enc.Encode(objs)
	require.NoError(t, err)

	assert.Equal(t, tensor.Shape{5, 1}, cls.Shape(), "class target should have shape [Q,1]")
	assert.Equal(t, tensor.Shape{5, 4}, bbox.Shape(), "bbox target should have shape [Q,4]")

	clsData := cls.Data().([]float32)
	assert.Equal(t, []float32{0, 1, 2, 2, 2}, clsData, "real classes left-packed, sentinel padding after")

	bboxData := bbox.Data().([]float32)
	assert.Equal(t, []float32{0.5, 0.5, 0.2, 0.2}, bboxData[0:4], "slot 0 should hold the first object's box")
	assert.Equal(t, []float32{0.1, 0.1, 0.05, 0.05}, bboxData[4:8], "slot 1 should hold the second object's box")
	for slot := 2; slot < 5; slot++ {
		assert.Equal(t, []float32{2, 2, 2, 2}, bboxData[slot*4:slot*4+4], "padding slots should repeat the sentinel across all coordinates")
	}
}

func TestEncodeEmptySample(t *testing.T) {
	enc, err := NewEncoder(3, 7)
	require.NoError(t, err)

	cls, bbox, err := enc.Encode(nil)
	require.NoError(t, err, "a sample without objects is valid")

	for _, v := range cls.Data().([]float32) {
		assert.Equal(t, float32(7), v, "every class slot should be sentinel")
	}
	for _, v := range bbox.Data().([]float32) {
		assert.Equal(t, float32(7), v, "every bbox component should be sentinel")
	}
}

// Order preservation is load-bearing: slot position implies object
// identity for the index tracker and the matcher.
func TestEncodeOrderPreserved(t *testing.T) {
	enc, err := NewEncoder(8, 10)
	require.NoError(t, err)

	objs := []labels.Object{
		{Class: 4}, {Class: 9}, {Class: 0}, {Class: 4},
	}
	cls, _, err := enc.Encode(objs)
	require.NoError(t, err)

	clsData := cls.Data().([]float32)
	for i, obj := range objs {
		assert.Equal(t, float32(obj.Class), clsData[i], "slot %d should hold input object %d", i, i)
	}
}

func TestEncodeCapacityError(t *testing.T) {
	enc, err := NewEncoder(2, 3)
	require.NoError(t, err)

	objs := make([]labels.Object, 4)
	_, _, err = enc.Encode(objs)
	require.Error(t, err, "more objects than queries must not be silent")

	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 4, capErr.Objects)
	assert.Equal(t, 2, capErr.Queries)
}

func TestEncodeTruncateOverflow(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	enc, err := NewEncoder(2, 3, WithTruncateOverflow(), WithLogger(logger))
	require.NoError(t, err)

	objs := []labels.Object{{Class: 0}, {Class: 1}, {Class: 2}}
	cls, _, err := enc.Encode(objs)
	require.NoError(t, err, "truncation opt-in should keep the sample")

	assert.Equal(t, []float32{0, 1}, cls.Data().([]float32), "first Q objects should survive truncation")
	assert.Contains(t, buf.String(), "truncating over-capacity sample", "truncation should warn")
}

func TestEncodeIntoRejectsWrongLengths(t *testing.T) {
	enc, err := NewEncoder(4, 2)
	require.NoError(t, err)

	assert.Error(t, enc.EncodeInto(nil, make([]float32, 3), make([]float32, 16)), "short class backing should be rejected")
	assert.Error(t, enc.EncodeInto(nil, make([]float32, 4), make([]float32, 15)), "short bbox backing should be rejected")
}
