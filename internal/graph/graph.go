package graph

import (
	"fmt"

	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// Node is one registered operation in a graph: an op plus its wiring,
// declared shape, and the per-cycle forward/gradient caches.
type Node struct {
	id        int
	op        Op
	inputs    []*Node
	shape     tensor.Shape
	trainable bool

	output *tensor.Tensor // cached forward value for the current cycle
	grad   *tensor.Tensor // accumulated gradient for the current cycle
}

// ID returns the graph-assigned node index.
func (n *Node) ID() int { return n.id }

// Op returns the node's operation.
func (n *Node) Op() Op { return n.op }

// Shape returns the node's declared output shape.
func (n *Node) Shape() tensor.Shape { return n.shape }

// Trainable reports whether the node participates in the parameter
// vector.
func (n *Node) Trainable() bool { return n.trainable }

// Value returns the node's cached forward output, nil before a forward
// pass.
func (n *Node) Value() *tensor.Tensor { return n.output }

// Grad returns the node's accumulated gradient, nil before a backward
// pass.
func (n *Node) Grad() *tensor.Tensor { return n.grad }

// String identifies the node for error reporting.
func (n *Node) String() string {
	return fmt.Sprintf("node %d (%s) %s", n.id, n.op.Kind(), n.shape)
}

// Graph owns all operation nodes of one network. Registration order is
// execution order; because inputs must be registered before their
// consumers it is a valid topological order.
//
// A Graph is not safe for concurrent use.
type Graph struct {
	nodes      []*Node
	feeder     *Node
	final      *Node
	trainables []*Node

	training    bool
	forwardRun  bool
	backwardRun bool
}

// New creates an empty graph in training mode.
func New() *Graph {
	return &Graph{training: true}
}

// Nodes returns all registered nodes in registration order.
func (g *Graph) Nodes() []*Node { return g.nodes }

// NumNodes returns the number of registered nodes.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// Feeder returns the node that receives external data, nil if none has
// been registered.
func (g *Graph) Feeder() *Node { return g.feeder }

// Final returns the scalar cost node, nil if none has been registered.
func (g *Graph) Final() *Node { return g.final }

// register validates the op against its inputs and appends the node.
func (g *Graph) register(op Op, inputs []*Node, trainable bool) (*Node, error) {
	for _, in := range inputs {
		if in == nil || in.id >= len(g.nodes) || g.nodes[in.id] != in {
			return nil, &StateError{Op: "addOperation", Detail: "input node does not belong to this graph"}
		}
	}
	shapes := make([]tensor.Shape, len(inputs))
	for i, in := range inputs {
		shapes[i] = in.shape
	}
	shape, err := op.OutShape(shapes)
	if err != nil {
		return nil, err
	}
	node := &Node{
		id:        len(g.nodes),
		op:        op,
		inputs:    inputs,
		shape:     shape,
		trainable: trainable,
	}
	if ta, ok := op.(trainAware); ok {
		ta.setTraining(g.training)
	}
	g.nodes = append(g.nodes, node)
	if trainable {
		g.trainables = append(g.trainables, node)
	}
	return node, nil
}

// AddOperation registers a non-trainable op consuming the given input
// nodes and returns its node.
func (g *Graph) AddOperation(op Op, inputs ...*Node) (*Node, error) {
	switch op.Kind() {
	case KindVariable:
		return nil, &StateError{Op: "addOperation", Detail: "use AddVariable or AddFeeder for variables"}
	case KindCrossEntropy:
		return nil, &StateError{Op: "addOperation", Detail: "use AddCost for the final operation"}
	}
	return g.register(op, inputs, false)
}

// AddVariable registers a value-holding node. Trainable variables
// contribute to the flat parameter vector in registration order.
func (g *Graph) AddVariable(value *tensor.Tensor, trainable bool) (*Node, error) {
	return g.register(NewVariable(value), nil, trainable)
}

// AddFeeder registers the node external data is bound to each step.
// Exactly one feeder may exist per graph.
func (g *Graph) AddFeeder(shape tensor.Shape) (*Node, error) {
	if g.feeder != nil {
		return nil, &StateError{Op: "addFeeder", Detail: "graph already has a feeder"}
	}
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	node, err := g.register(newFeeder(shape), nil, false)
	if err != nil {
		return nil, err
	}
	g.feeder = node
	return node, nil
}

// AddCost registers the scalar final operation backpropagation is
// seeded from. At most one final operation may exist.
func (g *Graph) AddCost(op Op, input *Node) (*Node, error) {
	if g.final != nil {
		return nil, &StateError{Op: "addCost", Detail: "graph already has a final operation"}
	}
	node, err := g.register(op, []*Node{input}, false)
	if err != nil {
		return nil, err
	}
	if node.shape.NumElements() != 1 {
		return nil, &ShapeError{Op: "addCost", Got: node.shape.Clone(), Detail: "final operation must reduce to a scalar"}
	}
	g.final = node
	return node, nil
}

// SetTraining switches training-dependent ops (dropout, batchnorm)
// between training and evaluation behavior.
func (g *Graph) SetTraining(training bool) {
	g.training = training
	for _, n := range g.nodes {
		if ta, ok := n.op.(trainAware); ok {
			ta.setTraining(training)
		}
	}
}

// BindData assigns the mini-batch input to the feeder. The batch
// dimension may differ from the declared one.
func (g *Graph) BindData(data *tensor.Tensor) error {
	if g.feeder == nil {
		return &StateError{Op: "bindData", Detail: "graph has no feeder"}
	}
	return g.feeder.op.(*Variable).bind(data)
}

// BindLabels assigns the one-hot labels to the final operation.
func (g *Graph) BindLabels(labels *tensor.Tensor) error {
	if g.final == nil {
		return &StateError{Op: "bindLabels", Detail: "graph has no final operation"}
	}
	return g.final.op.(*CrossEntropy).setLabels(labels)
}

// ResetAll clears every node's cached forward value and gradient.
// Required between mini-batches: the graph is reused and stale caches
// from the previous cycle would corrupt results.
func (g *Graph) ResetAll() {
	for _, n := range g.nodes {
		n.output = nil
		n.grad = nil
	}
	g.forwardRun = false
	g.backwardRun = false
}

// FeedForward evaluates every node in registration order and returns
// the scalar cost.
func (g *Graph) FeedForward() (float64, error) {
	if g.final == nil {
		return 0, &StateError{Op: "feedForward", Detail: "graph has no final operation"}
	}
	inputs := make([]*tensor.Tensor, 0, 4)
	for _, n := range g.nodes {
		inputs = inputs[:0]
		for _, in := range n.inputs {
			inputs = append(inputs, in.output)
		}
		out, err := n.op.Forward(inputs)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", n, err)
		}
		n.output = out
	}
	g.forwardRun = true
	g.backwardRun = false
	return g.final.output.Data()[0], nil
}

// EvalTo evaluates nodes in registration order up to and including
// target and returns its value. Used for inference, where the cost
// node (and therefore a label binding) is not wanted.
func (g *Graph) EvalTo(target *Node) (*tensor.Tensor, error) {
	if target == nil || target.id >= len(g.nodes) || g.nodes[target.id] != target {
		return nil, &StateError{Op: "evalTo", Detail: "target node does not belong to this graph"}
	}
	inputs := make([]*tensor.Tensor, 0, 4)
	for _, n := range g.nodes[:target.id+1] {
		inputs = inputs[:0]
		for _, in := range n.inputs {
			inputs = append(inputs, in.output)
		}
		out, err := n.op.Forward(inputs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n, err)
		}
		n.output = out
	}
	return target.output, nil
}

// FeedBackward seeds the final operation's gradient with one and
// distributes gradients in reverse registration order.
func (g *Graph) FeedBackward() error {
	if !g.forwardRun {
		return &StateError{Op: "feedBackward", Detail: "backward requires a forward pass first"}
	}

	seed, err := tensor.Full(tensor.Shape{1}, 1)
	if err != nil {
		return err
	}
	g.final.grad = seed

	inputs := make([]*tensor.Tensor, 0, 4)
	for i := len(g.nodes) - 1; i >= 0; i-- {
		n := g.nodes[i]
		if n.grad == nil || len(n.inputs) == 0 {
			// Node feeds nothing downstream of the cost, or has no
			// inputs to distribute to.
			continue
		}
		inputs = inputs[:0]
		for _, in := range n.inputs {
			inputs = append(inputs, in.output)
		}
		grads, err := n.op.Backward(inputs, n.output, n.grad)
		if err != nil {
			return fmt.Errorf("%s: %w", n, err)
		}
		for j, in := range n.inputs {
			if grads[j] == nil {
				continue
			}
			if in.grad == nil {
				in.grad = grads[j].Clone()
				continue
			}
			dst, src := in.grad.Data(), grads[j].Data()
			for k := range dst {
				dst[k] += src[k]
			}
		}
	}
	g.backwardRun = true
	return nil
}

// NumParameters returns the length of the flat parameter vector.
func (g *Graph) NumParameters() int {
	total := 0
	for _, n := range g.trainables {
		total += n.shape.NumElements()
	}
	return total
}

// UnrollParameters flattens every trainable node's values into one
// vector, in registration order. This order is the contract shared with
// UnrollGradients and AttachParameters.
func (g *Graph) UnrollParameters() []float64 {
	out := make([]float64, 0, g.NumParameters())
	for _, n := range g.trainables {
		out = append(out, n.op.(*Variable).value.Data()...)
	}
	return out
}

// UnrollGradients flattens the trainable nodes' accumulated gradients
// in the same order as UnrollParameters. Trainable nodes the cost does
// not depend on contribute zeros.
func (g *Graph) UnrollGradients() ([]float64, error) {
	if !g.backwardRun {
		return nil, &StateError{Op: "unrollGradients", Detail: "gradients requested before a backward pass"}
	}
	out := make([]float64, 0, g.NumParameters())
	for _, n := range g.trainables {
		if n.grad == nil {
			out = append(out, make([]float64, n.shape.NumElements())...)
			continue
		}
		out = append(out, n.grad.Data()...)
	}
	return out, nil
}

// AttachParameters restores a flat parameter vector into the trainable
// nodes, exactly mirroring the UnrollParameters order.
func (g *Graph) AttachParameters(params []float64) error {
	want := g.NumParameters()
	if len(params) != want {
		return &ShapeError{
			Op:     "attachParameters",
			Detail: fmt.Sprintf("vector length %d does not match %d trainable values", len(params), want),
		}
	}
	offset := 0
	for _, n := range g.trainables {
		data := n.op.(*Variable).value.Data()
		copy(data, params[offset:offset+len(data)])
		offset += len(data)
	}
	return nil
}

// StateDict returns the trainable values keyed by node index, for the
// persistence layer.
func (g *Graph) StateDict() map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor, len(g.trainables))
	for _, n := range g.trainables {
		out[fmt.Sprintf("node.%d", n.id)] = n.op.(*Variable).value.Clone()
	}
	return out
}

// LoadStateDict restores trainable values from a node-index-keyed map.
func (g *Graph) LoadStateDict(state map[string]*tensor.Tensor) error {
	for _, n := range g.trainables {
		key := fmt.Sprintf("node.%d", n.id)
		t, ok := state[key]
		if !ok {
			return &StateError{Op: "loadStateDict", Detail: "missing " + key}
		}
		value := n.op.(*Variable).value
		if !t.Shape().Equal(value.Shape()) {
			return &ShapeError{Op: "loadStateDict", Want: value.Shape().Clone(), Got: t.Shape().Clone(), Detail: key}
		}
		copy(value.Data(), t.Data())
	}
	return nil
}
