// Package graph implements the computation graph a network is built
// from: a closed set of tagged operation nodes plus the container that
// owns them.
//
// Nodes are registered in construction order, which is also a valid
// topological order because an operation's inputs must exist before the
// operation itself. A full training step against a graph is:
//
//	g.BindData(batch)
//	g.ResetAll()
//	g.BindLabels(labels)
//	g.AttachParameters(params)
//	cost, _ := g.FeedForward()
//	_ = g.FeedBackward()
//	grads, _ := g.UnrollGradients()
//
// Graphs are not safe for concurrent use: per-node forward and gradient
// caches are mutated in place. Workers that want parallelism must each
// own an independent graph built from the same architecture descriptor.
package graph
