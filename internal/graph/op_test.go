package graph

import (
	"errors"
	"math"
	"testing"

	"github.com/gradnet-ml/gradnet/internal/tensor"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) < eps
}

// TestLinear_Forward checks y = x·Wᵀ against hand-computed values.
func TestLinear_Forward(t *testing.T) {
	lin := NewLinear()

	// x [2, 3], W [2, 3]
	x, _ := tensor.FromSlice([]float64{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	w, _ := tensor.FromSlice([]float64{1, 0, 1, 0, 1, 0}, tensor.Shape{2, 3})

	shape, err := lin.OutShape([]tensor.Shape{x.Shape(), w.Shape()})
	if err != nil {
		t.Fatalf("OutShape: %v", err)
	}
	if !shape.Equal(tensor.Shape{2, 2}) {
		t.Errorf("OutShape: expected (2, 2), got %v", shape)
	}

	out, err := lin.Forward([]*tensor.Tensor{x, w})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	// Row 0: 1+3=4, 2; Row 1: 4+6=10, 5
	want := []float64{4, 2, 10, 5}
	for i, v := range out.Data() {
		if v != want[i] {
			t.Errorf("Forward[%d]: expected %f, got %f", i, want[i], v)
		}
	}
}

// TestLinear_Backward checks dx = dy·W and dW = dyᵀ·x.
func TestLinear_Backward(t *testing.T) {
	lin := NewLinear()
	x, _ := tensor.FromSlice([]float64{1, 2}, tensor.Shape{1, 2})
	w, _ := tensor.FromSlice([]float64{3, 4}, tensor.Shape{1, 2})
	dy, _ := tensor.FromSlice([]float64{1}, tensor.Shape{1, 1})

	grads, err := lin.Backward([]*tensor.Tensor{x, w}, nil, dy)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	dx, dw := grads[0], grads[1]

	wantDx := []float64{3, 4}
	for i, v := range dx.Data() {
		if v != wantDx[i] {
			t.Errorf("dx[%d]: expected %f, got %f", i, wantDx[i], v)
		}
	}
	wantDw := []float64{1, 2}
	for i, v := range dw.Data() {
		if v != wantDw[i] {
			t.Errorf("dw[%d]: expected %f, got %f", i, wantDw[i], v)
		}
	}
}

func TestLinear_ShapeMismatch(t *testing.T) {
	lin := NewLinear()
	_, err := lin.OutShape([]tensor.Shape{{2, 3}, {4, 5}})
	var se *ShapeError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ShapeError, got %v", err)
	}
}

// TestAdd_BiasBroadcast covers the (out,) against (batch, out) bias
// pattern of dense layers.
func TestAdd_BiasBroadcast(t *testing.T) {
	add := NewAdd()
	x, _ := tensor.FromSlice([]float64{1, 2, 3, 4}, tensor.Shape{2, 2})
	b, _ := tensor.FromSlice([]float64{10, 20}, tensor.Shape{2})

	out, err := add.Forward([]*tensor.Tensor{x, b})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	want := []float64{11, 22, 13, 24}
	for i, v := range out.Data() {
		if v != want[i] {
			t.Errorf("Forward[%d]: expected %f, got %f", i, want[i], v)
		}
	}

	dy, _ := tensor.FromSlice([]float64{1, 1, 1, 1}, tensor.Shape{2, 2})
	grads, err := add.Backward([]*tensor.Tensor{x, b}, nil, dy)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	// The bias gradient sums over the batch.
	wantDb := []float64{2, 2}
	for i, v := range grads[1].Data() {
		if v != wantDb[i] {
			t.Errorf("db[%d]: expected %f, got %f", i, wantDb[i], v)
		}
	}
}

// TestAdd_ChannelBroadcast covers the (1, C, 1, 1) against
// (batch, C, H, W) bias pattern of conv layers.
func TestAdd_ChannelBroadcast(t *testing.T) {
	add := NewAdd()
	x, _ := tensor.New(tensor.Shape{2, 2, 2, 2})
	b, _ := tensor.FromSlice([]float64{1, 2}, tensor.Shape{1, 2, 1, 1})

	out, err := add.Forward([]*tensor.Tensor{x, b})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	// Channel 0 positions get 1, channel 1 positions get 2.
	want := []float64{1, 1, 1, 1, 2, 2, 2, 2, 1, 1, 1, 1, 2, 2, 2, 2}
	for i, v := range out.Data() {
		if v != want[i] {
			t.Errorf("Forward[%d]: expected %f, got %f", i, want[i], v)
		}
	}
}

func TestAdd_Incompatible(t *testing.T) {
	add := NewAdd()
	_, err := add.OutShape([]tensor.Shape{{2, 3}, {4}})
	var se *ShapeError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ShapeError, got %v", err)
	}
}

func TestReLU(t *testing.T) {
	relu := NewReLU()
	x, _ := tensor.FromSlice([]float64{-1, 0, 2, -3}, tensor.Shape{2, 2})

	out, err := relu.Forward([]*tensor.Tensor{x})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	want := []float64{0, 0, 2, 0}
	for i, v := range out.Data() {
		if v != want[i] {
			t.Errorf("Forward[%d]: expected %f, got %f", i, want[i], v)
		}
	}

	dy, _ := tensor.FromSlice([]float64{1, 1, 1, 1}, tensor.Shape{2, 2})
	grads, _ := relu.Backward([]*tensor.Tensor{x}, out, dy)
	wantDx := []float64{0, 0, 1, 0}
	for i, v := range grads[0].Data() {
		if v != wantDx[i] {
			t.Errorf("dx[%d]: expected %f, got %f", i, wantDx[i], v)
		}
	}
}

func TestSoftmax_RowsSumToOne(t *testing.T) {
	sm := NewSoftmax()
	// Large values exercise the max-subtraction stabilization.
	x, _ := tensor.FromSlice([]float64{1000, 1001, 1002, -5, 0, 5}, tensor.Shape{2, 3})

	out, err := sm.Forward([]*tensor.Tensor{x})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	od := out.Data()
	for i := 0; i < 2; i++ {
		sum := od[i*3] + od[i*3+1] + od[i*3+2]
		if !almostEqual(sum, 1.0, 1e-12) {
			t.Errorf("row %d: probabilities sum to %f, expected 1", i, sum)
		}
	}
	for i, v := range od {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("out[%d] is not finite: %f", i, v)
		}
	}
	// Within each row the largest logit gets the largest probability.
	if !(od[2] > od[1] && od[1] > od[0]) {
		t.Error("probabilities do not preserve logit ordering")
	}
}

// TestSoftmaxCrossEntropy_Gradient verifies the composed gradient
// reduces to (p - y) / batch.
func TestSoftmaxCrossEntropy_Gradient(t *testing.T) {
	sm := NewSoftmax()
	ce := NewCrossEntropy()

	logits, _ := tensor.FromSlice([]float64{0.5, -0.2, 0.1, 1.0, 0.0, -1.0}, tensor.Shape{2, 3})
	labels, _ := tensor.FromSlice([]float64{0, 1, 0, 1, 0, 0}, tensor.Shape{2, 3})
	if err := ce.setLabels(labels); err != nil {
		t.Fatalf("setLabels: %v", err)
	}

	p, err := sm.Forward([]*tensor.Tensor{logits})
	if err != nil {
		t.Fatalf("softmax forward: %v", err)
	}
	if _, err := ce.Forward([]*tensor.Tensor{p}); err != nil {
		t.Fatalf("cost forward: %v", err)
	}

	seed, _ := tensor.Full(tensor.Shape{1}, 1)
	ceGrads, err := ce.Backward([]*tensor.Tensor{p}, nil, seed)
	if err != nil {
		t.Fatalf("cost backward: %v", err)
	}
	smGrads, err := sm.Backward([]*tensor.Tensor{logits}, p, ceGrads[0])
	if err != nil {
		t.Fatalf("softmax backward: %v", err)
	}

	pd, yd, gd := p.Data(), labels.Data(), smGrads[0].Data()
	for i := range gd {
		want := (pd[i] - yd[i]) / 2
		if !almostEqual(gd[i], want, 1e-10) {
			t.Errorf("dlogits[%d]: expected %g, got %g", i, want, gd[i])
		}
	}
}

func TestCrossEntropy_KnownValue(t *testing.T) {
	ce := NewCrossEntropy()
	p, _ := tensor.FromSlice([]float64{0.5, 0.5, 0.25, 0.75}, tensor.Shape{2, 2})
	y, _ := tensor.FromSlice([]float64{1, 0, 0, 1}, tensor.Shape{2, 2})
	if err := ce.setLabels(y); err != nil {
		t.Fatalf("setLabels: %v", err)
	}

	out, err := ce.Forward([]*tensor.Tensor{p})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	want := -(math.Log(0.5) + math.Log(0.75)) / 2
	if !almostEqual(out.Data()[0], want, 1e-12) {
		t.Errorf("cost: expected %g, got %g", want, out.Data()[0])
	}
}

func TestCrossEntropy_UnboundLabels(t *testing.T) {
	ce := NewCrossEntropy()
	p, _ := tensor.Full(tensor.Shape{1, 2}, 0.5)
	_, err := ce.Forward([]*tensor.Tensor{p})
	var se *StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StateError, got %v", err)
	}
}

func TestMaxPool2D_ForwardValues(t *testing.T) {
	pool := NewMaxPool2D(2, 2, 2)

	// [1, 1, 4, 4] with sequential values 1-16.
	data := make([]float64, 16)
	for i := range data {
		data[i] = float64(i + 1)
	}
	x, _ := tensor.FromSlice(data, tensor.Shape{1, 1, 4, 4})

	out, err := pool.Forward([]*tensor.Tensor{x})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !out.Shape().Equal(tensor.Shape{1, 1, 2, 2}) {
		t.Fatalf("Forward shape: expected (1, 1, 2, 2), got %v", out.Shape())
	}
	want := []float64{6, 8, 14, 16}
	for i, v := range out.Data() {
		if v != want[i] {
			t.Errorf("Forward[%d]: expected %f, got %f", i, want[i], v)
		}
	}

	// The gradient routes to the argmax positions only.
	dy, _ := tensor.FromSlice([]float64{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})
	grads, err := pool.Backward([]*tensor.Tensor{x}, out, dy)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	dxd := grads[0].Data()
	if dxd[5] != 1 || dxd[7] != 2 || dxd[13] != 3 || dxd[15] != 4 {
		t.Errorf("gradient not routed to maxima: %v", dxd)
	}
	var total float64
	for _, v := range dxd {
		total += v
	}
	if total != 10 {
		t.Errorf("gradient mass: expected 10, got %f", total)
	}
}

func TestMaxPool2D_OutShape(t *testing.T) {
	tests := []struct {
		poolH, poolW, stride int
		in, want             tensor.Shape
	}{
		{2, 2, 2, tensor.Shape{8, 20, 28, 28}, tensor.Shape{8, 20, 14, 14}},
		{2, 2, 2, tensor.Shape{8, 50, 14, 14}, tensor.Shape{8, 50, 7, 7}},
		{3, 3, 2, tensor.Shape{1, 1, 7, 7}, tensor.Shape{1, 1, 3, 3}},
	}
	for _, tt := range tests {
		pool := NewMaxPool2D(tt.poolH, tt.poolW, tt.stride)
		got, err := pool.OutShape([]tensor.Shape{tt.in})
		if err != nil {
			t.Errorf("OutShape(%v): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("OutShape(%v): expected %v, got %v", tt.in, tt.want, got)
		}
	}

	pool := NewMaxPool2D(5, 5, 1)
	if _, err := pool.OutShape([]tensor.Shape{{1, 1, 3, 3}}); err == nil {
		t.Error("expected error for window larger than input")
	}
}

func TestConv2D_OutShape(t *testing.T) {
	tests := []struct {
		stride   int
		padding  Padding
		x, w     tensor.Shape
		want     tensor.Shape
		wantFail bool
	}{
		// SAME preserves spatial dims at stride 1.
		{1, PaddingSame, tensor.Shape{8, 1, 28, 28}, tensor.Shape{20, 1, 5, 5}, tensor.Shape{8, 20, 28, 28}, false},
		// SAME with stride 2 gives ceil(dim/stride).
		{2, PaddingSame, tensor.Shape{4, 3, 7, 7}, tensor.Shape{6, 3, 3, 3}, tensor.Shape{4, 6, 4, 4}, false},
		// VALID shrinks by kernel-1 at stride 1.
		{1, PaddingValid, tensor.Shape{2, 1, 28, 28}, tensor.Shape{6, 1, 5, 5}, tensor.Shape{2, 6, 24, 24}, false},
		// VALID rejects a filter larger than the input.
		{1, PaddingValid, tensor.Shape{1, 1, 3, 3}, tensor.Shape{1, 1, 5, 5}, nil, true},
		// Channel mismatch.
		{1, PaddingSame, tensor.Shape{1, 3, 8, 8}, tensor.Shape{4, 2, 3, 3}, nil, true},
	}
	for _, tt := range tests {
		conv := NewConv2D(tt.stride, tt.padding)
		got, err := conv.OutShape([]tensor.Shape{tt.x, tt.w})
		if tt.wantFail {
			if err == nil {
				t.Errorf("OutShape(%v, %v): expected error", tt.x, tt.w)
			}
			continue
		}
		if err != nil {
			t.Errorf("OutShape(%v, %v): %v", tt.x, tt.w, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("OutShape(%v, %v): expected %v, got %v", tt.x, tt.w, tt.want, got)
		}
	}
}

func TestConv2D_UnknownPadding(t *testing.T) {
	conv := NewConv2D(1, Padding("SOME"))
	_, err := conv.OutShape([]tensor.Shape{{1, 1, 4, 4}, {1, 1, 3, 3}})
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
}

// TestConv2D_IdentityKernel convolves with a kernel whose only non-zero
// element is the center, which must reproduce the input under SAME
// padding.
func TestConv2D_IdentityKernel(t *testing.T) {
	conv := NewConv2D(1, PaddingSame)

	data := make([]float64, 16)
	for i := range data {
		data[i] = float64(i)
	}
	x, _ := tensor.FromSlice(data, tensor.Shape{1, 1, 4, 4})

	kernel := make([]float64, 9)
	kernel[4] = 1 // center of the 3x3 kernel
	w, _ := tensor.FromSlice(kernel, tensor.Shape{1, 1, 3, 3})

	out, err := conv.Forward([]*tensor.Tensor{x, w})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !out.Shape().Equal(x.Shape()) {
		t.Fatalf("Forward shape: expected %v, got %v", x.Shape(), out.Shape())
	}
	for i, v := range out.Data() {
		if v != data[i] {
			t.Errorf("Forward[%d]: expected %f, got %f", i, data[i], v)
		}
	}
}

// TestConv2D_SumKernel checks a VALID all-ones kernel against the
// window sums.
func TestConv2D_SumKernel(t *testing.T) {
	conv := NewConv2D(1, PaddingValid)
	x, _ := tensor.FromSlice([]float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, tensor.Shape{1, 1, 3, 3})
	w, _ := tensor.Full(tensor.Shape{1, 1, 2, 2}, 1)

	out, err := conv.Forward([]*tensor.Tensor{x, w})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	want := []float64{12, 16, 24, 28}
	for i, v := range out.Data() {
		if v != want[i] {
			t.Errorf("Forward[%d]: expected %f, got %f", i, want[i], v)
		}
	}

	// With an all-ones upstream, dW accumulates the window sums and dx
	// counts how many windows cover each position.
	dy, _ := tensor.Full(tensor.Shape{1, 1, 2, 2}, 1)
	grads, err := conv.Backward([]*tensor.Tensor{x, w}, out, dy)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	wantDw := []float64{12, 16, 24, 28}
	for i, v := range grads[1].Data() {
		if v != wantDw[i] {
			t.Errorf("dw[%d]: expected %f, got %f", i, wantDw[i], v)
		}
	}
	wantDx := []float64{1, 2, 1, 2, 4, 2, 1, 2, 1}
	for i, v := range grads[0].Data() {
		if v != wantDx[i] {
			t.Errorf("dx[%d]: expected %f, got %f", i, wantDx[i], v)
		}
	}
}

func TestDropout_TrainAndEval(t *testing.T) {
	x, _ := tensor.Full(tensor.Shape{1, 1000}, 1)

	d := NewDropout(0.5, 7)
	out, err := d.Forward([]*tensor.Tensor{x})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	zeros, kept := 0, 0
	for _, v := range out.Data() {
		switch v {
		case 0:
			zeros++
		case 2: // survivors scaled by 1/(1-0.5)
			kept++
		default:
			t.Fatalf("unexpected output value %f", v)
		}
	}
	if zeros == 0 || kept == 0 {
		t.Errorf("expected a mix of dropped and kept elements, got %d/%d", zeros, kept)
	}
	// Roughly half should survive.
	if kept < 400 || kept > 600 {
		t.Errorf("kept %d of 1000 at rate 0.5", kept)
	}

	// The backward mask matches the forward mask.
	dy, _ := tensor.Full(tensor.Shape{1, 1000}, 1)
	grads, err := d.Backward([]*tensor.Tensor{x}, out, dy)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	for i, v := range grads[0].Data() {
		if (v == 0) != (out.Data()[i] == 0) {
			t.Fatalf("gradient mask diverges from forward mask at %d", i)
		}
	}

	// Evaluation mode is the identity.
	d.setTraining(false)
	evalOut, err := d.Forward([]*tensor.Tensor{x})
	if err != nil {
		t.Fatalf("eval Forward: %v", err)
	}
	for i, v := range evalOut.Data() {
		if v != 1 {
			t.Fatalf("eval output[%d]: expected 1, got %f", i, v)
		}
	}
}

func TestFlatten(t *testing.T) {
	fl := NewFlatten()
	shape, err := fl.OutShape([]tensor.Shape{{2, 3, 4, 5}})
	if err != nil {
		t.Fatalf("OutShape: %v", err)
	}
	if !shape.Equal(tensor.Shape{2, 60}) {
		t.Errorf("OutShape: expected (2, 60), got %v", shape)
	}

	x, _ := tensor.Full(tensor.Shape{2, 2, 2, 2}, 3)
	out, err := fl.Forward([]*tensor.Tensor{x})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !out.Shape().Equal(tensor.Shape{2, 8}) {
		t.Errorf("Forward shape: expected (2, 8), got %v", out.Shape())
	}

	dy, _ := tensor.Full(tensor.Shape{2, 8}, 1)
	grads, err := fl.Backward([]*tensor.Tensor{x}, out, dy)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	if !grads[0].Shape().Equal(x.Shape()) {
		t.Errorf("Backward shape: expected %v, got %v", x.Shape(), grads[0].Shape())
	}
}

func TestBatchNorm_NormalizesBatch(t *testing.T) {
	bn := NewBatchNorm()

	// [4, 2]: each column has its own mean and variance.
	x, _ := tensor.FromSlice([]float64{
		1, 10,
		2, 20,
		3, 30,
		4, 40,
	}, tensor.Shape{4, 2})
	gamma, _ := tensor.Full(tensor.Shape{1, 2}, 1)
	beta, _ := tensor.New(tensor.Shape{1, 2})

	out, err := bn.Forward([]*tensor.Tensor{x, beta, gamma})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	// Per column: mean 0, variance ~1.
	od := out.Data()
	for col := 0; col < 2; col++ {
		var mean float64
		for row := 0; row < 4; row++ {
			mean += od[row*2+col]
		}
		mean /= 4
		if !almostEqual(mean, 0, 1e-9) {
			t.Errorf("column %d mean: expected 0, got %g", col, mean)
		}
		var variance float64
		for row := 0; row < 4; row++ {
			d := od[row*2+col] - mean
			variance += d * d
		}
		variance /= 4
		if !almostEqual(variance, 1, 1e-3) {
			t.Errorf("column %d variance: expected ~1, got %g", col, variance)
		}
	}
}
