package main

import (
	"fmt"

	"github.com/born-ml/squeezedet/internal/box"
	"github.com/born-ml/squeezedet/internal/layout"
	"github.com/born-ml/squeezedet/internal/loss"
	"github.com/born-ml/squeezedet/internal/tensor"
	"github.com/born-ml/squeezedet/internal/tensorio"
	"github.com/spf13/cobra"
)

// Tensor names used in files read and written by the CLI.
const (
	namePred  = "pred"
	nameLabel = "label"
	nameGrad  = "grad"
	nameBBox  = "bbox"
	nameClass = "class"
	nameScore = "score"
)

type gradOptions struct {
	predPath  string
	labelPath string
	outPath   string
	predName  string
	labelName string
	mask      bool
}

func newGradCmd(a *app) *cobra.Command {
	o := &gradOptions{}
	cmd := &cobra.Command{
		Use:   "grad",
		Short: "Compute the detection loss gradient of a prediction against a label",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.runGrad(o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.predPath, "pred", "", "SafeTensors file holding the packed prediction")
	f.StringVar(&o.labelPath, "label", "", "SafeTensors file holding the packed label")
	f.StringVarP(&o.outPath, "out", "o", "", "output SafeTensors file for the gradient")
	f.StringVar(&o.predName, "pred-name", namePred, "tensor name of the prediction")
	f.StringVar(&o.labelName, "label-name", nameLabel, "tensor name of the label")
	f.BoolVar(&o.mask, "mask", false, "zero gradients of anchors whose label box is all zero")
	_ = cmd.MarkFlagRequired("pred")
	_ = cmd.MarkFlagRequired("label")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) runGrad(o *gradOptions) error {
	pred, err := a.loadTensor(o.predPath, o.predName)
	if err != nil {
		return err
	}
	label, err := a.loadTensor(o.labelPath, o.labelName)
	if err != nil {
		return err
	}

	engine, err := loss.New(a.cfg, loss.WithParallel(a.parallelConfig()))
	if err != nil {
		return err
	}
	grads, err := engine.GradientBlocks(pred, label)
	if err != nil {
		return err
	}

	if o.mask {
		grads, err = maskBlocks(engine.Codec(), grads, label)
		if err != nil {
			return err
		}
	}

	grad, err := engine.Codec().Encode(grads)
	if err != nil {
		return err
	}

	s := loss.Stats(grads)
	a.log.Info("gradient computed",
		"shape", []int(grad.Shape()),
		"bbox_norm", s.BBox.Norm,
		"class_norm", s.Class.Norm,
		"class_max_abs", s.Class.MaxAbs,
		"score_mean", s.Score.Mean,
		"masked", o.mask,
	)

	if err := tensorio.WriteFile(o.outPath, map[string]*tensor.RawTensor{nameGrad: grad}, a.metadata()); err != nil {
		return err
	}
	a.log.Info("wrote gradient", "file", o.outPath)
	return nil
}

// maskBlocks zeroes every gradient block at anchors whose label box is all
// zero.
func maskBlocks(codec *layout.Codec, grads layout.Blocks, label *tensor.RawTensor) (layout.Blocks, error) {
	l, err := codec.Decode(label)
	if err != nil {
		return layout.Blocks{}, fmt.Errorf("decode label: %w", err)
	}

	var out layout.Blocks
	for _, b := range []struct {
		src *tensor.RawTensor
		dst **tensor.RawTensor
	}{
		{grads.BBox, &out.BBox},
		{grads.Class, &out.Class},
		{grads.Score, &out.Score},
	} {
		m, err := box.MaskNonzero(b.src, l.BBox)
		if err != nil {
			return layout.Blocks{}, err
		}
		*b.dst = m
	}
	return out, nil
}
