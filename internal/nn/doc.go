// Package nn composes graph operations into layers.
//
// The two builders, AddDense and AddConv, append a full layer to a
// graph (linear map or convolution, bias, optional dropout, optional
// batch normalization, activation, optional pooling) and return the
// terminal node as the next layer's input. Layer hyperparameters are
// validated eagerly: a bad configuration fails before any node is
// registered with the graph.
//
// A network architecture is described by an ordered []LayerSpec, which
// Build replays into a graph. The same descriptor is persisted next to
// the parameters so a saved model can be reconstructed without the
// code that originally assembled it.
package nn
