package main

import (
	"fmt"
	"io"

	"github.com/born-ml/squeezedet/internal/layout"
	"github.com/spf13/cobra"
)

type shapeOptions struct {
	batch    int
	height   int
	width    int
	channels bool
}

func newShapeCmd(a *app) *cobra.Command {
	o := &shapeOptions{}
	cmd := &cobra.Command{
		Use:   "shape",
		Short: "Print packed and decoded shapes for a grid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			codec, err := layout.New(a.cfg)
			if err != nil {
				return err
			}
			return printShapes(cmd.OutOrStdout(), codec, o)
		},
	}

	f := cmd.Flags()
	f.IntVar(&o.batch, "batch", 1, "batch size")
	f.IntVar(&o.height, "height", 1, "grid height")
	f.IntVar(&o.width, "width", 1, "grid width")
	f.BoolVar(&o.channels, "channels", false, "also list the slot and anchor of every channel")
	return cmd
}

func printShapes(w io.Writer, codec *layout.Codec, o *shapeOptions) error {
	if o.batch <= 0 || o.height <= 0 || o.width <= 0 {
		return fmt.Errorf("batch, height and width must be > 0, got %d, %d, %d", o.batch, o.height, o.width)
	}
	cfg := codec.Config()
	bbox, class, score := codec.BlockShapes(o.batch, o.height, o.width)

	fmt.Fprintf(w, "config: %s\n", cfg)
	fmt.Fprintf(w, "packed: %v\n", []int(codec.PackedShape(o.batch, o.height, o.width)))
	fmt.Fprintf(w, "bbox:   %v\n", []int(bbox))
	fmt.Fprintf(w, "class:  %v\n", []int(class))
	fmt.Fprintf(w, "score:  %v\n", []int(score))

	if !o.channels {
		return nil
	}
	for ch := 0; ch < cfg.NumOutChannels(); ch++ {
		slot, anchor := codec.SlotOf(ch)
		fmt.Fprintf(w, "channel %d: %s anchor %d\n", ch, slotName(cfg.NumBBoxAttrs, cfg.NumClasses, slot), anchor)
	}
	return nil
}

// slotName names an attribute slot, e.g. "bbox[2]", "class[0]" or "score".
func slotName(numBBox, numClasses, slot int) string {
	switch {
	case slot < numBBox:
		return fmt.Sprintf("bbox[%d]", slot)
	case slot < numBBox+numClasses:
		return fmt.Sprintf("class[%d]", slot-numBBox)
	default:
		return "score"
	}
}
