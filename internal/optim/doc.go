// Package optim implements the adaptive first-order minimizer that
// drives training.
//
// The optimizer owns the flat parameter vector for the duration of an
// update step and knows nothing about graphs: it is handed a
// CostGradientFunc mapping (parameters, data, labels) to
// (cost, gradient) and iterates mini-batch descent over it.
//
// Update rule (Adam, Kingma & Ba 2014):
//
//	m_t = beta1*m_{t-1} + (1-beta1)*g
//	v_t = beta2*v_{t-1} + (1-beta2)*g^2
//	p  -= lr * (m_t/(1-beta1^t)) / (sqrt(v_t/(1-beta2^t)) + eps)
package optim
