package main

import (
	"github.com/born-ml/squeezedet/internal/layout"
	"github.com/born-ml/squeezedet/internal/tensor"
	"github.com/born-ml/squeezedet/internal/tensorio"
	"github.com/spf13/cobra"
)

type codecOptions struct {
	inPath  string
	outPath string
	name    string
}

func newDecodeCmd(a *app) *cobra.Command {
	o := &codecOptions{}
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Split a packed tensor into bbox, class and score blocks",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.runDecode(o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.inPath, "in", "", "SafeTensors file holding the packed tensor")
	f.StringVarP(&o.outPath, "out", "o", "", "output SafeTensors file for the blocks")
	f.StringVar(&o.name, "name", namePred, "tensor name of the packed tensor")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newEncodeCmd(a *app) *cobra.Command {
	o := &codecOptions{}
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Pack bbox, class and score blocks into one tensor",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.runEncode(o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.inPath, "in", "", "SafeTensors file holding bbox, class and score blocks")
	f.StringVarP(&o.outPath, "out", "o", "", "output SafeTensors file for the packed tensor")
	f.StringVar(&o.name, "name", namePred, "tensor name of the packed tensor")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) runDecode(o *codecOptions) error {
	codec, err := layout.New(a.cfg, layout.WithParallel(a.parallelConfig()))
	if err != nil {
		return err
	}
	packed, err := a.loadTensor(o.inPath, o.name)
	if err != nil {
		return err
	}

	blocks, err := codec.Decode(packed)
	if err != nil {
		return err
	}
	a.log.Info("decoded",
		nameBBox, []int(blocks.BBox.Shape()),
		nameClass, []int(blocks.Class.Shape()),
		nameScore, []int(blocks.Score.Shape()),
	)

	return tensorio.WriteFile(o.outPath, map[string]*tensor.RawTensor{
		nameBBox:  blocks.BBox,
		nameClass: blocks.Class,
		nameScore: blocks.Score,
	}, a.metadata())
}

func (a *app) runEncode(o *codecOptions) error {
	codec, err := layout.New(a.cfg, layout.WithParallel(a.parallelConfig()))
	if err != nil {
		return err
	}

	var blocks layout.Blocks
	for _, b := range []struct {
		name string
		dst  **tensor.RawTensor
	}{
		{nameBBox, &blocks.BBox},
		{nameClass, &blocks.Class},
		{nameScore, &blocks.Score},
	} {
		t, err := a.loadTensor(o.inPath, b.name)
		if err != nil {
			return err
		}
		*b.dst = t
	}

	packed, err := codec.Encode(blocks)
	if err != nil {
		return err
	}
	a.log.Info("encoded", "shape", []int(packed.Shape()))

	return tensorio.WriteFile(o.outPath, map[string]*tensor.RawTensor{o.name: packed}, a.metadata())
}
