// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package detection computes the SqueezeDet multi-task loss gradient for a
// packed detector head tensor.
//
// # Packed Layout
//
// The head emits one (batch, A*(B+C+1), H, W) tensor, where A is the number
// of anchors per grid cell, B the bounding box attributes and C the classes.
// Channels are attribute-major, anchor-minor: channel slot*A + anchor holds
// attribute slot of anchor. Slots [0, B) are box attributes, [B, B+C) class
// scores and B+C the confidence.
//
// # Example Usage
//
//	engine, err := detection.NewEngine(detection.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// pred and label are (batch, 72, H, W) tensors for the default head.
//	grad, err := engine.Gradient(pred, label)
//	if errors.Is(err, detection.ErrShapeMismatch) {
//	    // pred and label disagree on a dimension
//	}
//
// The gradient has the shape of pred. Its bbox part is 2*(pred-label), its
// class part pred*log(1-label) + pred*log(label) and its confidence part the
// predicted confidence itself. No masking or clamping is applied.
package detection

import (
	"github.com/born-ml/squeezedet/internal/box"
	"github.com/born-ml/squeezedet/internal/config"
	"github.com/born-ml/squeezedet/internal/layout"
	"github.com/born-ml/squeezedet/internal/loss"
	"github.com/born-ml/squeezedet/internal/parallel"
	"github.com/born-ml/squeezedet/internal/tensor"
)

// Config holds the detector head constants.
type Config = config.Config

// ScoreRule selects the confidence gradient rule.
type ScoreRule = config.ScoreRule

// Confidence gradient rules.
const (
	ScorePassthrough = config.ScorePassthrough
	ScoreIOU         = config.ScoreIOU
)

// DefaultConfig returns the KITTI head: 9 anchors, 4 box attributes and
// 3 classes.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads a Config from defaults, SQUEEZEDET_* environment
// variables and, when path is non-empty, a config file.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// Errors.
type (
	// ShapeMismatchError reports tensors that disagree on a dimension.
	ShapeMismatchError = tensor.ShapeMismatchError
	// ConfigurationError reports invalid constants or a packed tensor whose
	// channel count does not match them.
	ConfigurationError = config.ConfigurationError
)

// Sentinels matched by the error types above under errors.Is.
var (
	ErrShapeMismatch = tensor.ErrShapeMismatch
	ErrConfiguration = config.ErrConfiguration
)

// Blocks holds the decoded bbox (N, A, B, H, W), class (N, A, C, H, W) and
// confidence (N, A, 1, H, W) tensors.
type Blocks = layout.Blocks

// Codec converts between packed tensors and Blocks.
type Codec = layout.Codec

// NewCodec creates a Codec for cfg.
func NewCodec(cfg Config) (*Codec, error) {
	return layout.New(cfg)
}

// Engine computes packed gradients.
type Engine = loss.Engine

// EngineOption configures an Engine.
type EngineOption = loss.Option

// IOUFunc computes per-anchor IOU of two bbox blocks.
type IOUFunc = box.IOUFunc

// WithIOU replaces the IOU used by ScoreIOU.
func WithIOU(f IOUFunc) EngineOption {
	return loss.WithIOU(f)
}

// WithWorkers bounds the goroutines used per call; 1 runs sequentially.
func WithWorkers(n int) EngineOption {
	if n <= 1 {
		return loss.WithParallel(parallel.Sequential())
	}
	p := parallel.DefaultConfig()
	p.Enabled = true
	p.NumWorkers = n
	return loss.WithParallel(p)
}

// NewEngine creates an Engine for cfg.
func NewEngine(cfg Config, opts ...EngineOption) (*Engine, error) {
	return loss.New(cfg, opts...)
}

// IOU computes the intersection over union of center-form boxes.
func IOU(pred, label *tensor.RawTensor) (*tensor.RawTensor, error) {
	return box.IOU(pred, label)
}

// MaskNonzero zeroes block at every anchor whose reference box is all zero.
func MaskNonzero(block, reference *tensor.RawTensor) (*tensor.RawTensor, error) {
	return box.MaskNonzero(block, reference)
}

// GradientStats summarizes decoded gradient blocks.
type GradientStats = loss.Summary

// Stats computes per-component norms of decoded gradient blocks.
func Stats(grads Blocks) GradientStats {
	return loss.Stats(grads)
}
