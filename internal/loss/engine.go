// Package loss computes the gradient of the detector's multi-task loss with
// respect to the packed head tensor.
//
// The gradient is assembled from three independent rules applied to the
// decoded blocks:
//
//	bbox:  2 * (pred - label)
//	class: pred * log(1 - label) + pred * log(label)
//	score: pred                               (config.ScorePassthrough)
//	       2 * (pred - IOU(pred_bbox, label_bbox))  (config.ScoreIOU)
//
// No rule masks anchors without a ground-truth assignment and no rule clamps
// or filters non-finite values.
package loss

import (
	"fmt"

	"github.com/born-ml/squeezedet/internal/box"
	"github.com/born-ml/squeezedet/internal/config"
	"github.com/born-ml/squeezedet/internal/layout"
	"github.com/born-ml/squeezedet/internal/parallel"
	"github.com/born-ml/squeezedet/internal/tensor"
)

// Engine computes packed gradients for one configuration.
// It holds no tensor data and is safe for concurrent use.
type Engine struct {
	cfg   config.Config
	codec *layout.Codec
	iou   box.IOUFunc
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	iou       box.IOUFunc
	customIOU bool
	par       *parallel.Config
}

// WithIOU replaces the IOU collaborator used by config.ScoreIOU.
func WithIOU(f box.IOUFunc) Option {
	return func(o *engineOptions) {
		o.iou = f
		o.customIOU = true
	}
}

// WithParallel sets the fan-out used by the codec.
func WithParallel(p parallel.Config) Option {
	return func(o *engineOptions) {
		o.par = &p
	}
}

// New creates an Engine for cfg.
//
// Example:
//
//	engine, err := loss.New(config.Default())
//	grad, err := engine.Gradient(pred, label)
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	o := engineOptions{iou: box.IOU}
	for _, opt := range opts {
		opt(&o)
	}

	var codecOpts []layout.Option
	if o.par != nil {
		codecOpts = append(codecOpts, layout.WithParallel(*o.par))
	}
	codec, err := layout.New(cfg, codecOpts...)
	if err != nil {
		return nil, err
	}
	if cfg.ScoreRule == config.ScoreIOU {
		switch {
		case o.iou == nil:
			return nil, &config.ConfigurationError{Config: cfg, Detail: "iou score rule without an IOU function"}
		case !o.customIOU && cfg.NumBBoxAttrs != box.NumAttrs:
			return nil, &config.ConfigurationError{
				Config: cfg,
				Detail: fmt.Sprintf("iou score rule needs %d bbox attributes (cx, cy, w, h), got %d", box.NumAttrs, cfg.NumBBoxAttrs),
			}
		}
	}

	return &Engine{cfg: cfg, codec: codec, iou: o.iou}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() config.Config {
	return e.cfg
}

// Codec returns the codec used to decode inputs and encode gradients.
func (e *Engine) Codec() *layout.Codec {
	return e.codec
}

// CheckShapes validates a (prediction, label) shape pair: both must be valid
// packed shapes and agree on every dimension.
func (e *Engine) CheckShapes(pred, label tensor.Shape) error {
	if err := e.codec.CheckPacked("gradient", pred); err != nil {
		return err
	}
	return tensor.CheckSameShape("gradient", pred, label)
}

// Gradient returns d(loss)/d(pred) in packed layout, shaped like pred.
// The label's confidence slot is not read.
func (e *Engine) Gradient(pred, label *tensor.RawTensor) (*tensor.RawTensor, error) {
	grads, err := e.GradientBlocks(pred, label)
	if err != nil {
		return nil, err
	}
	return e.codec.Encode(grads)
}

// GradientBlocks is Gradient without the final encode: it returns the bbox,
// class and score gradients as decoded blocks.
func (e *Engine) GradientBlocks(pred, label *tensor.RawTensor) (layout.Blocks, error) {
	if pred == nil || label == nil {
		return layout.Blocks{}, fmt.Errorf("gradient: nil input")
	}
	if err := e.CheckShapes(pred.Shape(), label.Shape()); err != nil {
		return layout.Blocks{}, err
	}
	if pred.DType() != label.DType() {
		return layout.Blocks{}, fmt.Errorf("gradient: prediction dtype %s, label dtype %s", pred.DType(), label.DType())
	}

	p, err := e.codec.Decode(pred)
	if err != nil {
		return layout.Blocks{}, fmt.Errorf("decode prediction: %w", err)
	}
	l, err := e.codec.Decode(label)
	if err != nil {
		return layout.Blocks{}, fmt.Errorf("decode label: %w", err)
	}

	gradBBox, err := BBoxGradient(p.BBox, l.BBox)
	if err != nil {
		return layout.Blocks{}, err
	}
	gradClass, err := ClassGradient(p.Class, l.Class)
	if err != nil {
		return layout.Blocks{}, err
	}
	gradScore, err := e.ScoreGradient(p.BBox, l.BBox, p.Score)
	if err != nil {
		return layout.Blocks{}, err
	}

	return layout.Blocks{BBox: gradBBox, Class: gradClass, Score: gradScore}, nil
}
