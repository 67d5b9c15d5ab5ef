package graph

import (
	"fmt"

	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// Kind tags every operation variant the graph understands.
//
// The set is closed: layer builders select ops by tag instead of
// accepting arbitrary operation constructors.
type Kind int

// The operation kinds.
const (
	KindVariable Kind = iota
	KindLinear
	KindAdd
	KindDropout
	KindBatchNorm
	KindConv2D
	KindMaxPool2D
	KindReLU
	KindSoftmax
	KindFlatten
	KindCrossEntropy
)

// String returns the tag's canonical lower-case name.
func (k Kind) String() string {
	switch k {
	case KindVariable:
		return "variable"
	case KindLinear:
		return "linear"
	case KindAdd:
		return "add"
	case KindDropout:
		return "dropout"
	case KindBatchNorm:
		return "batchnorm"
	case KindConv2D:
		return "conv2d"
	case KindMaxPool2D:
		return "maxpool2d"
	case KindReLU:
		return "relu"
	case KindSoftmax:
		return "softmax"
	case KindFlatten:
		return "flatten"
	case KindCrossEntropy:
		return "crossentropy"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Op is the single polymorphic interface every operation variant
// implements.
//
// Ops are pure with respect to the graph: they read their inputs and
// produce an output; per-call scratch state needed by the backward pass
// (dropout masks, pooling argmax indices, normalization statistics) is
// kept inside the op and fully overwritten by the next forward call.
type Op interface {
	// Kind returns the variant tag.
	Kind() Kind

	// OutShape computes the output shape from the input shapes. It must
	// be a pure function of input shapes and the op's configuration, and
	// is called eagerly at registration time so invalid wiring fails
	// before any forward pass.
	OutShape(inputs []tensor.Shape) (tensor.Shape, error)

	// Forward computes the op's output from the input tensors.
	Forward(inputs []*tensor.Tensor) (*tensor.Tensor, error)

	// Backward distributes the upstream gradient to the op's inputs,
	// returning one gradient per input (nil for inputs that receive no
	// gradient). output is the tensor Forward produced for this cycle.
	Backward(inputs []*tensor.Tensor, output, upstream *tensor.Tensor) ([]*tensor.Tensor, error)
}

// trainAware is implemented by ops whose forward behavior differs
// between training and evaluation (dropout, batch normalization).
type trainAware interface {
	setTraining(training bool)
}

// arity checks an op received the number of inputs it expects.
func arity(kind Kind, inputs int, want int) error {
	if inputs != want {
		return &StateError{
			Op:     kind.String(),
			Detail: fmt.Sprintf("expected %d inputs, got %d", want, inputs),
		}
	}
	return nil
}
