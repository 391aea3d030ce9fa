// Package main provides the squeezedet CLI: it computes detection loss
// gradients for packed prediction/label tensors stored as SafeTensors files
// and inspects the packed channel layout.
package main

import (
	"os"
)

const version = "v0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
