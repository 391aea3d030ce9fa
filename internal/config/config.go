// Package config holds the immutable detector-head constants that every
// codec and gradient engine is built from.
package config

import (
	"fmt"
	"strings"
)

// ScoreRule selects the gradient rule applied to the confidence slot.
type ScoreRule int

const (
	// ScorePassthrough returns the predicted confidence unchanged as its gradient.
	ScorePassthrough ScoreRule = iota
	// ScoreIOU regresses confidence toward the IOU of predicted and label boxes:
	// grad = 2 * (score - IOU(pred_bbox, label_bbox)).
	ScoreIOU
)

// String returns the rule's configuration name.
func (r ScoreRule) String() string {
	switch r {
	case ScorePassthrough:
		return "passthrough"
	case ScoreIOU:
		return "iou"
	default:
		return "unknown"
	}
}

// ParseScoreRule parses a configuration name into a ScoreRule.
func ParseScoreRule(s string) (ScoreRule, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "passthrough":
		return ScorePassthrough, nil
	case "iou":
		return ScoreIOU, nil
	default:
		return 0, &ConfigurationError{Detail: fmt.Sprintf("unknown score rule %q", s)}
	}
}

// Config is the set of constants shared with the upstream feature extractor.
// It is passed by value and never mutated after construction.
type Config struct {
	AnchorsPerGrid int       // Anchors predicted at every grid cell.
	NumBBoxAttrs   int       // Bounding box attributes per anchor.
	NumClasses     int       // Class scores per anchor.
	ScoreRule      ScoreRule // Confidence gradient rule.
}

// Default returns the squeezeDet KITTI head: 9 anchors, 4 box attributes
// (cx, cy, w, h) and 3 classes.
func Default() Config {
	return Config{
		AnchorsPerGrid: 9,
		NumBBoxAttrs:   4,
		NumClasses:     3,
		ScoreRule:      ScorePassthrough,
	}
}

// NumSlots returns the number of attribute slots per anchor:
// bbox attributes, class scores and one confidence value.
func (c Config) NumSlots() int {
	return c.NumBBoxAttrs + c.NumClasses + 1
}

// NumOutChannels returns the channel count of the packed tensor, i.e. the
// filter count of the feature extractor's final convolution.
func (c Config) NumOutChannels() int {
	return c.AnchorsPerGrid * c.NumSlots()
}

// ScoreSlot returns the slot index of the confidence value.
func (c Config) ScoreSlot() int {
	return c.NumBBoxAttrs + c.NumClasses
}

// Validate checks that every constant is positive and the rule is known.
func (c Config) Validate() error {
	switch {
	case c.AnchorsPerGrid <= 0:
		return &ConfigurationError{Config: c, Detail: fmt.Sprintf("anchors per grid must be > 0, got %d", c.AnchorsPerGrid)}
	case c.NumBBoxAttrs <= 0:
		return &ConfigurationError{Config: c, Detail: fmt.Sprintf("bbox attributes must be > 0, got %d", c.NumBBoxAttrs)}
	case c.NumClasses <= 0:
		return &ConfigurationError{Config: c, Detail: fmt.Sprintf("classes must be > 0, got %d", c.NumClasses)}
	case c.ScoreRule != ScorePassthrough && c.ScoreRule != ScoreIOU:
		return &ConfigurationError{Config: c, Detail: fmt.Sprintf("unknown score rule %d", c.ScoreRule)}
	}
	return nil
}

// String returns a compact description of the configuration.
func (c Config) String() string {
	return fmt.Sprintf("anchors=%d bbox=%d classes=%d score=%s",
		c.AnchorsPerGrid, c.NumBBoxAttrs, c.NumClasses, c.ScoreRule)
}
