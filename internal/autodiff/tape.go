package autodiff

import (
	"fmt"

	"github.com/born-ml/squeezedet/internal/tensor"
	"gonum.org/v1/gonum/floats"
)

// Node is a recorded operation in the computation graph.
type Node interface {
	// Inputs returns the input tensors, in argument order.
	Inputs() []*tensor.RawTensor

	// Outputs returns the output tensors.
	Outputs() []*tensor.RawTensor

	// NeedTopGrad reports whether Backward needs gradients for the outputs.
	NeedTopGrad() bool

	// Backward returns one gradient per input (nil where none flows) given
	// the gradients of the outputs. Entries of outputGrads are nil when the
	// node does not need them.
	Backward(outputGrads []*tensor.RawTensor) ([]*tensor.RawTensor, error)
}

// GradientTape records nodes during the forward pass and computes gradients
// during the backward pass using reverse-mode automatic differentiation.
//
// Usage:
//
//	tape := NewGradientTape()
//	tape.StartRecording()
//	// ... Invoke operators ...
//	gradients, err := tape.Backward(nil)
type GradientTape struct {
	nodes     []Node // Recorded nodes (in execution order)
	recording bool   // Whether tape is currently recording
}

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return &GradientTape{
		nodes: make([]Node, 0, 16),
	}
}

// StartRecording enables node recording.
func (t *GradientTape) StartRecording() {
	t.recording = true
}

// StopRecording disables node recording.
func (t *GradientTape) StopRecording() {
	t.recording = false
}

// IsRecording returns true if the tape is currently recording.
func (t *GradientTape) IsRecording() bool {
	return t.recording
}

// Record adds a node to the tape if the tape is recording.
func (t *GradientTape) Record(n Node) {
	if t.recording {
		t.nodes = append(t.nodes, n)
	}
}

// Clear removes all recorded nodes. Recording state is preserved.
func (t *GradientTape) Clear() {
	t.nodes = t.nodes[:0]
}

// NumOps returns the number of recorded nodes.
func (t *GradientTape) NumOps() int {
	return len(t.nodes)
}

// Backward walks the tape in reverse and returns the accumulated gradient of
// every tensor that received one.
//
// outputGrad seeds the first output of the last node. It may be nil when the
// last node does not need a top gradient, which is the case for loss nodes.
func (t *GradientTape) Backward(outputGrad *tensor.RawTensor) (map[*tensor.RawTensor]*tensor.RawTensor, error) {
	grads := make(map[*tensor.RawTensor]*tensor.RawTensor)
	if len(t.nodes) == 0 {
		return grads, nil
	}

	// Do not record anything the backward pass might trigger.
	wasRecording := t.recording
	t.recording = false
	defer func() {
		t.recording = wasRecording
	}()

	last := t.nodes[len(t.nodes)-1]
	if outputGrad != nil {
		grads[last.Outputs()[0]] = outputGrad
	} else if last.NeedTopGrad() {
		return nil, fmt.Errorf("backward: last node needs an output gradient")
	}

	for i := len(t.nodes) - 1; i >= 0; i-- {
		node := t.nodes[i]
		outputGrads, ok, err := t.collectOutputGrads(node, grads)
		if err != nil {
			return nil, fmt.Errorf("backward: node %d: %w", i, err)
		}
		if !ok {
			continue
		}

		inputGrads, err := node.Backward(outputGrads)
		if err != nil {
			return nil, fmt.Errorf("backward: node %d: %w", i, err)
		}
		if err := accumulate(node.Inputs(), inputGrads, grads); err != nil {
			return nil, err
		}
	}

	return grads, nil
}

// collectOutputGrads gathers the gradients of a node's outputs. Nodes that
// need top gradients are skipped when none of their outputs has one; missing
// entries are filled with zeros.
func (t *GradientTape) collectOutputGrads(node Node, grads map[*tensor.RawTensor]*tensor.RawTensor) ([]*tensor.RawTensor, bool, error) {
	outputs := node.Outputs()
	outputGrads := make([]*tensor.RawTensor, len(outputs))
	if !node.NeedTopGrad() {
		return outputGrads, true, nil
	}

	hasAny := false
	for j, out := range outputs {
		if g, exists := grads[out]; exists {
			outputGrads[j] = g
			hasAny = true
		}
	}
	if !hasAny {
		return nil, false, nil
	}

	for j, out := range outputs {
		if outputGrads[j] != nil {
			continue
		}
		if out == nil {
			return nil, false, fmt.Errorf("output %d is nil", j)
		}
		zero, err := tensor.NewRaw(out.Shape(), out.DType())
		if err != nil {
			return nil, false, fmt.Errorf("zero gradient for output %d: %w", j, err)
		}
		outputGrads[j] = zero
	}
	return outputGrads, true, nil
}

// accumulate adds inputGrads into grads, keyed by input tensor.
func accumulate(inputs, inputGrads []*tensor.RawTensor, grads map[*tensor.RawTensor]*tensor.RawTensor) error {
	for j, input := range inputs {
		if j >= len(inputGrads) {
			break
		}
		g := inputGrads[j]
		if g == nil {
			continue
		}
		existing, ok := grads[input]
		if !ok {
			grads[input] = g
			continue
		}
		if err := tensor.CheckSameShape("accumulate", existing.Shape(), g.Shape()); err != nil {
			return err
		}
		sum := existing.Float64s()
		floats.Add(sum, g.Float64s())
		acc, err := tensor.NewRaw(existing.Shape(), existing.DType())
		if err != nil {
			return err
		}
		acc.SetFloat64s(sum)
		grads[input] = acc
	}
	return nil
}
