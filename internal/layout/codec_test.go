package layout

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/born-ml/squeezedet/internal/config"
	"github.com/born-ml/squeezedet/internal/parallel"
	"github.com/born-ml/squeezedet/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCodec(t *testing.T, anchors, bbox, classes int, opts ...Option) *Codec {
	t.Helper()
	c, err := New(config.Config{AnchorsPerGrid: anchors, NumBBoxAttrs: bbox, NumClasses: classes}, opts...)
	require.NoError(t, err)
	return c
}

// randomPacked fills a packed tensor with values that are distinct bit patterns,
// including negative zero and NaN, so byte-exact round trips are observable.
func randomPacked(t *testing.T, rng *rand.Rand, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32)
	require.NoError(t, err)
	data := raw.AsFloat32()
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	data[0] = float32(math.Copysign(0, -1))
	if len(data) > 1 {
		data[1] = float32(math.NaN())
	}
	return raw
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for _, anchors := range []int{1, 3, 9} {
		for _, bbox := range []int{1, 4} {
			for _, classes := range []int{1, 5} {
				name := fmt.Sprintf("A%d_B%d_C%d", anchors, bbox, classes)
				t.Run(name, func(t *testing.T) {
					c := newCodec(t, anchors, bbox, classes)
					packed := randomPacked(t, rng, c.PackedShape(2, 3, 5))

					blocks, err := c.Decode(packed)
					require.NoError(t, err)

					out, err := c.Encode(blocks)
					require.NoError(t, err)

					assert.Equal(t, packed.Shape(), out.Shape())
					assert.Equal(t, packed.Data(), out.Data(), "encode(decode(x)) must be bit-exact")
				})
			}
		}
	}
}

func TestRoundTrip_Float64Sequential(t *testing.T) {
	c := newCodec(t, 3, 4, 2, WithParallel(parallel.Sequential()))

	shape := c.PackedShape(1, 2, 2)
	values := make([]float64, shape.NumElements())
	for i := range values {
		values[i] = float64(i) - 10.5
	}
	packed, err := tensor.FromSlice(values, shape)
	require.NoError(t, err)

	blocks, err := c.Decode(packed)
	require.NoError(t, err)
	out, err := c.Encode(blocks)
	require.NoError(t, err)

	assert.Equal(t, values, out.AsFloat64())
}

func TestDecode_SlotOrdering(t *testing.T) {
	const anchors, bbox, classes = 3, 4, 5
	c := newCodec(t, anchors, bbox, classes)

	batch, height, width := 2, 2, 3
	packed, err := tensor.NewRaw(c.PackedShape(batch, height, width), tensor.Float32)
	require.NoError(t, err)

	// Every channel of slot k holds the value k.
	plane := height * width
	data := packed.AsFloat32()
	for n := 0; n < batch; n++ {
		for ch := 0; ch < c.Config().NumOutChannels(); ch++ {
			slot, _ := c.SlotOf(ch)
			base := (n*c.Config().NumOutChannels() + ch) * plane
			for p := 0; p < plane; p++ {
				data[base+p] = float32(slot)
			}
		}
	}

	blocks, err := c.Decode(packed)
	require.NoError(t, err)

	bboxShape, classShape, scoreShape := c.BlockShapes(batch, height, width)
	require.Equal(t, bboxShape, blocks.BBox.Shape())
	require.Equal(t, classShape, blocks.Class.Shape())
	require.Equal(t, scoreShape, blocks.Score.Shape())

	checkAttrs := func(name string, block *tensor.RawTensor, first int) {
		s := block.Shape()
		vals := block.AsFloat32()
		for n := 0; n < s[0]; n++ {
			for a := 0; a < s[1]; a++ {
				for j := 0; j < s[2]; j++ {
					base := ((n*s[1]+a)*s[2] + j) * plane
					for p := 0; p < plane; p++ {
						assert.Equal(t, float32(first+j), vals[base+p], "%s[n=%d a=%d attr=%d p=%d]", name, n, a, j, p)
					}
				}
			}
		}
	}

	checkAttrs("bbox", blocks.BBox, 0)
	checkAttrs("class", blocks.Class, bbox)
	checkAttrs("score", blocks.Score, bbox+classes)
}

func TestDecode_AnchorPlacement(t *testing.T) {
	// Channel index encodes (slot, anchor); decode must route anchor a of slot k
	// to block[a][k-offset].
	c := newCodec(t, 3, 1, 1)

	shape := c.PackedShape(1, 1, 1)
	values := make([]float32, shape.NumElements())
	for ch := range values {
		slot, anchor := c.SlotOf(ch)
		values[ch] = float32(10*slot + anchor)
	}
	packed, err := tensor.FromSlice(values, shape)
	require.NoError(t, err)

	blocks, err := c.Decode(packed)
	require.NoError(t, err)

	assert.Equal(t, []float32{0, 1, 2}, blocks.BBox.AsFloat32())
	assert.Equal(t, []float32{10, 11, 12}, blocks.Class.AsFloat32())
	assert.Equal(t, []float32{20, 21, 22}, blocks.Score.AsFloat32())
}

func TestDecode_SingleCellExample(t *testing.T) {
	c := newCodec(t, 1, 1, 1)

	pred, err := tensor.FromSlice([]float32{2.0, 0.7, 0.9}, tensor.Shape{1, 3, 1, 1})
	require.NoError(t, err)

	blocks, err := c.Decode(pred)
	require.NoError(t, err)

	assert.Equal(t, []float32{2.0}, blocks.BBox.AsFloat32())
	assert.Equal(t, []float32{0.7}, blocks.Class.AsFloat32())
	assert.Equal(t, []float32{0.9}, blocks.Score.AsFloat32())
	assert.Equal(t, tensor.Shape{1, 1, 1, 1, 1}, blocks.Score.Shape(), "confidence keeps its attribute axis")
}

func TestDecode_DoesNotAlias(t *testing.T) {
	c := newCodec(t, 1, 1, 1)

	pred, err := tensor.FromSlice([]float32{2.0, 0.7, 0.9}, tensor.Shape{1, 3, 1, 1})
	require.NoError(t, err)

	blocks, err := c.Decode(pred)
	require.NoError(t, err)

	blocks.BBox.AsFloat32()[0] = -1
	assert.Equal(t, float32(2.0), pred.AsFloat32()[0])
}

func TestDecode_Errors(t *testing.T) {
	c := newCodec(t, 3, 4, 1) // 18 channels

	tests := []struct {
		name      string
		shape     tensor.Shape
		wantShape bool
		wantCfg   bool
	}{
		{"not divisible", tensor.Shape{1, 17, 2, 2}, true, false},
		{"wrong slot count", tensor.Shape{1, 21, 2, 2}, false, true},
		{"rank 3", tensor.Shape{18, 2, 2}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := tensor.NewRaw(tt.shape, tensor.Float32)
			require.NoError(t, err)

			_, err = c.Decode(packed)
			require.Error(t, err)
			assert.Equal(t, tt.wantShape, isShapeMismatch(err), "shape mismatch: %v", err)
			assert.Equal(t, tt.wantCfg, isConfiguration(err), "configuration: %v", err)
		})
	}

	_, err := c.Decode(nil)
	require.Error(t, err)
}

func TestEncode_Errors(t *testing.T) {
	c := newCodec(t, 2, 4, 3)

	good := func() Blocks {
		packed, err := tensor.NewRaw(c.PackedShape(1, 2, 2), tensor.Float32)
		require.NoError(t, err)
		blocks, err := c.Decode(packed)
		require.NoError(t, err)
		return blocks
	}

	t.Run("missing block", func(t *testing.T) {
		b := good()
		b.Score = nil
		_, err := c.Encode(b)
		require.Error(t, err)
	})

	t.Run("wrong class count", func(t *testing.T) {
		b := good()
		cls, err := tensor.NewRaw(tensor.Shape{1, 2, 5, 2, 2}, tensor.Float32)
		require.NoError(t, err)
		b.Class = cls
		_, err = c.Encode(b)
		assert.True(t, isConfiguration(err), "%v", err)
	})

	t.Run("grid disagreement", func(t *testing.T) {
		b := good()
		score, err := tensor.NewRaw(tensor.Shape{1, 2, 1, 2, 3}, tensor.Float32)
		require.NoError(t, err)
		b.Score = score
		_, err = c.Encode(b)
		assert.True(t, isShapeMismatch(err), "%v", err)
	})

	t.Run("dtype disagreement", func(t *testing.T) {
		b := good()
		score, err := tensor.NewRaw(tensor.Shape{1, 2, 1, 2, 2}, tensor.Float64)
		require.NoError(t, err)
		b.Score = score
		_, err = c.Encode(b)
		require.Error(t, err)
	})

	t.Run("rank 4 block", func(t *testing.T) {
		b := good()
		bbox, err := tensor.NewRaw(tensor.Shape{1, 2, 4, 2}, tensor.Float32)
		require.NoError(t, err)
		b.BBox = bbox
		_, err = c.Encode(b)
		assert.True(t, isShapeMismatch(err), "%v", err)
	})
}

func TestChannelAddressing(t *testing.T) {
	c := newCodec(t, 9, 4, 3)

	for ch := 0; ch < c.Config().NumOutChannels(); ch++ {
		slot, anchor := c.SlotOf(ch)
		assert.Equal(t, ch, c.ChannelOf(slot, anchor))
		assert.Less(t, anchor, 9)
		assert.Less(t, slot, 8)
	}
	assert.Equal(t, 9*7+2, c.ChannelOf(7, 2))
	assert.Equal(t, tensor.Shape{4, 72, 22, 76}, c.PackedShape(4, 22, 76))
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(config.Config{AnchorsPerGrid: 0, NumBBoxAttrs: 4, NumClasses: 3})
	assert.True(t, isConfiguration(err))
}
