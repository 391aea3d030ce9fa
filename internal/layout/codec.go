// Package layout transcodes between the packed detector-head tensor and its
// bounding-box, class and confidence blocks.
//
// The packed tensor has shape (batch, A*S, height, width) where A is the
// number of anchors per grid cell and S = bbox attributes + classes + 1. The
// channel axis is attribute-major, anchor-minor: slot k occupies channels
// [k*A, (k+1)*A), one channel per anchor.
//
// Decoded blocks have shape (batch, A, K, height, width), where K is the
// number of slots the block holds. The confidence block keeps K = 1.
package layout

import (
	"fmt"

	"github.com/born-ml/squeezedet/internal/config"
	"github.com/born-ml/squeezedet/internal/parallel"
	"github.com/born-ml/squeezedet/internal/tensor"
)

// Blocks holds the three decoded sub-tensors of a packed tensor.
type Blocks struct {
	BBox  *tensor.RawTensor // (batch, A, NumBBoxAttrs, H, W)
	Class *tensor.RawTensor // (batch, A, NumClasses, H, W)
	Score *tensor.RawTensor // (batch, A, 1, H, W)
}

// Codec decodes and encodes packed tensors for one configuration.
// A Codec holds no tensor data and is safe for concurrent use.
type Codec struct {
	cfg config.Config
	par parallel.Config
}

// Option configures a Codec.
type Option func(*Codec)

// WithParallel sets the fan-out used for slot copies.
func WithParallel(p parallel.Config) Option {
	return func(c *Codec) {
		c.par = p
	}
}

// New creates a Codec for cfg.
func New(cfg config.Config, opts ...Option) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Codec{cfg: cfg, par: parallel.DefaultConfig()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the codec's configuration.
func (c *Codec) Config() config.Config {
	return c.cfg
}

// PackedShape returns the packed tensor shape for the given grid.
func (c *Codec) PackedShape(batch, height, width int) tensor.Shape {
	return tensor.Shape{batch, c.cfg.NumOutChannels(), height, width}
}

// ChannelOf returns the packed channel holding attribute slot for anchor.
func (c *Codec) ChannelOf(slot, anchor int) int {
	return slot*c.cfg.AnchorsPerGrid + anchor
}

// SlotOf returns the attribute slot and anchor stored in a packed channel.
func (c *Codec) SlotOf(channel int) (slot, anchor int) {
	return channel / c.cfg.AnchorsPerGrid, channel % c.cfg.AnchorsPerGrid
}

// CheckPacked validates a packed tensor shape against the configuration.
//
// A channel count not divisible by the anchors per grid cell is a
// ShapeMismatchError; a divisible count with the wrong number of slots is a
// ConfigurationError.
func (c *Codec) CheckPacked(op string, shape tensor.Shape) error {
	if len(shape) != 4 {
		return &tensor.ShapeMismatchError{Op: op, Got: shape.Clone(), Detail: "packed tensor must have rank 4 (batch, channel, height, width)"}
	}
	if err := shape.Validate(); err != nil {
		return &tensor.ShapeMismatchError{Op: op, Got: shape.Clone(), Detail: err.Error()}
	}

	channels := shape[1]
	if channels%c.cfg.AnchorsPerGrid != 0 {
		return &tensor.ShapeMismatchError{
			Op:     op,
			Got:    shape.Clone(),
			Detail: fmt.Sprintf("%d channels not divisible by %d anchors per grid", channels, c.cfg.AnchorsPerGrid),
		}
	}
	if slots := channels / c.cfg.AnchorsPerGrid; slots != c.cfg.NumSlots() {
		return &config.ConfigurationError{
			Config:   c.cfg,
			Channels: channels,
			Detail:   fmt.Sprintf("%s: %d attribute slots, want %d", op, slots, c.cfg.NumSlots()),
		}
	}
	return nil
}

// Decode splits a packed tensor into its bbox, class and confidence blocks.
// The result is freshly allocated; packed is not modified.
func (c *Codec) Decode(packed *tensor.RawTensor) (Blocks, error) {
	if packed == nil {
		return Blocks{}, fmt.Errorf("decode: nil tensor")
	}
	shape := packed.Shape()
	if err := c.CheckPacked("decode", shape); err != nil {
		return Blocks{}, err
	}

	batch, height, width := shape[0], shape[2], shape[3]
	blocks, err := c.allocBlocks(batch, height, width, packed.DType())
	if err != nil {
		return Blocks{}, fmt.Errorf("decode: %w", err)
	}

	slots := c.slotViews(blocks)
	parallel.ForBatch(batch, len(slots), func(n, k int) {
		c.copySlot(packed, slots[k], n, k, false)
	}, c.par)

	return blocks, nil
}

// Encode is the inverse of Decode: it concatenates every attribute slice of
// bbox, class and confidence, in that order, along the channel axis.
func (c *Codec) Encode(blocks Blocks) (*tensor.RawTensor, error) {
	if err := c.checkBlocks(blocks); err != nil {
		return nil, err
	}

	bs := blocks.BBox.Shape()
	batch, height, width := bs[0], bs[3], bs[4]
	packed, err := tensor.NewRaw(c.PackedShape(batch, height, width), blocks.BBox.DType())
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	slots := c.slotViews(blocks)
	parallel.ForBatch(batch, len(slots), func(n, k int) {
		c.copySlot(packed, slots[k], n, k, true)
	}, c.par)

	return packed, nil
}

// BlockShapes returns the decoded shapes for a packed grid.
func (c *Codec) BlockShapes(batch, height, width int) (bbox, class, score tensor.Shape) {
	a := c.cfg.AnchorsPerGrid
	return tensor.Shape{batch, a, c.cfg.NumBBoxAttrs, height, width},
		tensor.Shape{batch, a, c.cfg.NumClasses, height, width},
		tensor.Shape{batch, a, 1, height, width}
}

func (c *Codec) allocBlocks(batch, height, width int, dtype tensor.DataType) (Blocks, error) {
	bboxShape, classShape, scoreShape := c.BlockShapes(batch, height, width)

	bbox, err := tensor.NewRaw(bboxShape, dtype)
	if err != nil {
		return Blocks{}, err
	}
	class, err := tensor.NewRaw(classShape, dtype)
	if err != nil {
		return Blocks{}, err
	}
	score, err := tensor.NewRaw(scoreShape, dtype)
	if err != nil {
		return Blocks{}, err
	}
	return Blocks{BBox: bbox, Class: class, Score: score}, nil
}

func (c *Codec) checkBlocks(blocks Blocks) error {
	if blocks.BBox == nil || blocks.Class == nil || blocks.Score == nil {
		return fmt.Errorf("encode: missing block")
	}

	parts := []struct {
		name  string
		t     *tensor.RawTensor
		attrs int
	}{
		{"bbox", blocks.BBox, c.cfg.NumBBoxAttrs},
		{"class", blocks.Class, c.cfg.NumClasses},
		{"score", blocks.Score, 1},
	}

	ref := blocks.BBox.Shape()
	for _, p := range parts {
		s := p.t.Shape()
		if len(s) != 5 {
			return &tensor.ShapeMismatchError{
				Op: "encode", Got: s.Clone(),
				Detail: p.name + " block must have rank 5 (batch, anchor, attr, height, width)",
			}
		}
		if p.t.DType() != blocks.BBox.DType() {
			return fmt.Errorf("encode: %s block dtype %s, bbox block dtype %s", p.name, p.t.DType(), blocks.BBox.DType())
		}
		if s[1] != c.cfg.AnchorsPerGrid || s[2] != p.attrs {
			return &config.ConfigurationError{
				Config: c.cfg,
				Detail: fmt.Sprintf("encode: %s block has %d anchors x %d attributes, want %d x %d",
					p.name, s[1], s[2], c.cfg.AnchorsPerGrid, p.attrs),
			}
		}
		if len(ref) == 5 && (s[0] != ref[0] || s[3] != ref[3] || s[4] != ref[4]) {
			return &tensor.ShapeMismatchError{
				Op: "encode", Want: ref.Clone(), Got: s.Clone(),
				Detail: p.name + " block disagrees with bbox block on batch, height or width",
			}
		}
	}
	return nil
}

// slotView addresses one attribute slice of a block.
type slotView struct {
	block *tensor.RawTensor
	attr  int
}

// slotViews lists one view per packed slot, in channel order. Every block
// contributes one view per attribute, so the size-1 confidence block still
// yields exactly one view.
func (c *Codec) slotViews(blocks Blocks) []slotView {
	views := make([]slotView, 0, c.cfg.NumSlots())
	for _, b := range []*tensor.RawTensor{blocks.BBox, blocks.Class, blocks.Score} {
		attrs := b.Shape()[2]
		for j := 0; j < attrs; j++ {
			views = append(views, slotView{block: b, attr: j})
		}
	}
	return views
}

// copySlot moves slot k of batch item n between the packed tensor and its
// block view. Each anchor's plane of height*width elements is contiguous on
// both sides, so whole planes are copied as bytes.
//
//	packed offset: ((n*channels + k*A + a) * HW) elements
//	block offset:  (((n*A + a) * K + attr) * HW) elements
func (c *Codec) copySlot(packed *tensor.RawTensor, v slotView, n, k int, toPacked bool) {
	ps := packed.Shape()
	channels := ps[1]
	plane := ps[2] * ps[3] * packed.DType().Size()
	anchors := c.cfg.AnchorsPerGrid
	attrs := v.block.Shape()[2]

	pdata := packed.Data()
	bdata := v.block.Data()
	for a := 0; a < anchors; a++ {
		po := (n*channels + k*anchors + a) * plane
		bo := ((n*anchors+a)*attrs + v.attr) * plane
		if toPacked {
			copy(pdata[po:po+plane], bdata[bo:bo+plane])
		} else {
			copy(bdata[bo:bo+plane], pdata[po:po+plane])
		}
	}
}
