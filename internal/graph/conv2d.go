package graph

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// Padding selects how a convolution treats the input border.
type Padding string

// The supported padding modes.
const (
	// PaddingSame zero-pads so the spatial dimensions are preserved
	// (for stride 1; in general the output is ceil(dim/stride)).
	PaddingSame Padding = "SAME"
	// PaddingValid applies no padding; each output dimension shrinks by
	// filterDim-1 at stride 1.
	PaddingValid Padding = "VALID"
)

// Valid reports whether the mode is one of the supported constants.
func (p Padding) Valid() bool {
	return p == PaddingSame || p == PaddingValid
}

// Conv2D performs 2D convolution via im2col: input patches are unrolled
// into a matrix so the convolution becomes a single matrix product.
//
// Inputs: x [batch, channels, H, W], w [filters, channels, KH, KW].
// Output: [batch, filters, outH, outW].
//
// Reference: "High Performance Convolutional Neural Networks for
// Document Processing" (Chellapilla et al., 2006).
type Conv2D struct {
	stride  int
	padding Padding

	col []float64 // im2col buffer from the last forward, reused by Backward
}

// NewConv2D creates a convolution op. The padding mode must be one of
// the Padding constants and the stride positive; layer builders
// validate both before constructing the op.
func NewConv2D(stride int, padding Padding) *Conv2D {
	return &Conv2D{stride: stride, padding: padding}
}

// Kind returns KindConv2D.
func (c *Conv2D) Kind() Kind { return KindConv2D }

// Stride returns the configured stride.
func (c *Conv2D) Stride() int { return c.stride }

// PaddingMode returns the configured padding mode.
func (c *Conv2D) PaddingMode() Padding { return c.padding }

// geometry resolves output spatial dims and top/left padding for the
// given input and kernel spatial dims.
func (c *Conv2D) geometry(h, w, kh, kw int) (outH, outW, padTop, padLeft int, err error) {
	switch c.padding {
	case PaddingSame:
		outH = (h + c.stride - 1) / c.stride
		outW = (w + c.stride - 1) / c.stride
		padTop = max((outH-1)*c.stride+kh-h, 0) / 2
		padLeft = max((outW-1)*c.stride+kw-w, 0) / 2
	case PaddingValid:
		outH = (h-kh)/c.stride + 1
		outW = (w-kw)/c.stride + 1
		if h < kh || w < kw {
			return 0, 0, 0, 0, &ShapeError{
				Op:     "conv2d",
				Got:    tensor.Shape{kh, kw},
				Detail: fmt.Sprintf("filter exceeds %dx%d input under VALID padding", h, w),
			}
		}
	default:
		return 0, 0, 0, 0, &ConfigurationError{Op: "conv2d", Field: "padding", Detail: string(c.padding)}
	}
	if outH <= 0 || outW <= 0 {
		return 0, 0, 0, 0, &ShapeError{
			Op:     "conv2d",
			Detail: fmt.Sprintf("non-positive output size %dx%d", outH, outW),
		}
	}
	return outH, outW, padTop, padLeft, nil
}

// OutShape validates input/filter compatibility and resolves the output
// spatial dimensions for the configured padding mode.
func (c *Conv2D) OutShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := arity(KindConv2D, len(inputs), 2); err != nil {
		return nil, err
	}
	x, w := inputs[0], inputs[1]
	if len(x) != 4 {
		return nil, &ShapeError{Op: "conv2d", Got: x.Clone(), Detail: "input must be 4D [batch, channels, H, W]"}
	}
	if len(w) != 4 {
		return nil, &ShapeError{Op: "conv2d", Got: w.Clone(), Detail: "filter must be 4D [filters, channels, KH, KW]"}
	}
	if x[1] != w[1] {
		return nil, &ShapeError{Op: "conv2d", Want: tensor.Shape{w[0], x[1], w[2], w[3]}, Got: w.Clone(), Detail: "filter channels do not match input channels"}
	}
	outH, outW, _, _, err := c.geometry(x[2], x[3], w[2], w[3])
	if err != nil {
		return nil, err
	}
	return tensor.Shape{x[0], w[0], outH, outW}, nil
}

// im2col unrolls input patches into col, a [n*outH*outW, ch*kh*kw]
// row-major matrix. Out-of-bounds (padded) positions contribute zero.
func im2col(col, x []float64, n, ch, h, w, kh, kw, outH, outW, stride, padTop, padLeft int) {
	colWidth := ch * kh * kw
	for b := 0; b < n; b++ {
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				row := (b*outH+oh)*outW + ow
				base := row * colWidth
				for cc := 0; cc < ch; cc++ {
					for i := 0; i < kh; i++ {
						ih := oh*stride + i - padTop
						for j := 0; j < kw; j++ {
							iw := ow*stride + j - padLeft
							idx := base + (cc*kh+i)*kw + j
							if ih >= 0 && ih < h && iw >= 0 && iw < w {
								col[idx] = x[((b*ch+cc)*h+ih)*w+iw]
							} else {
								col[idx] = 0
							}
						}
					}
				}
			}
		}
	}
}

// col2im scatters column gradients back to input positions, the adjoint
// of im2col.
func col2im(dx, col []float64, n, ch, h, w, kh, kw, outH, outW, stride, padTop, padLeft int) {
	colWidth := ch * kh * kw
	for b := 0; b < n; b++ {
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				row := (b*outH+oh)*outW + ow
				base := row * colWidth
				for cc := 0; cc < ch; cc++ {
					for i := 0; i < kh; i++ {
						ih := oh*stride + i - padTop
						if ih < 0 || ih >= h {
							continue
						}
						for j := 0; j < kw; j++ {
							iw := ow*stride + j - padLeft
							if iw < 0 || iw >= w {
								continue
							}
							dx[((b*ch+cc)*h+ih)*w+iw] += col[base+(cc*kh+i)*kw+j]
						}
					}
				}
			}
		}
	}
}

// Forward computes the convolution as col·Wᵀ.
func (c *Conv2D) Forward(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, w := inputs[0], inputs[1]
	xs, ws := x.Shape(), w.Shape()
	n, ch, h, wd := xs[0], xs[1], xs[2], xs[3]
	filters, kh, kw := ws[0], ws[2], ws[3]

	outH, outW, padTop, padLeft, err := c.geometry(h, wd, kh, kw)
	if err != nil {
		return nil, err
	}

	colRows := n * outH * outW
	colWidth := ch * kh * kw
	if len(c.col) != colRows*colWidth {
		c.col = make([]float64, colRows*colWidth)
	}
	im2col(c.col, x.Data(), n, ch, h, wd, kh, kw, outH, outW, c.stride, padTop, padLeft)

	// col [colRows, colWidth] · wflat [filters, colWidth]ᵀ
	prod := make([]float64, colRows*filters)
	colM := mat.NewDense(colRows, colWidth, c.col)
	wM := mat.NewDense(filters, colWidth, w.Data())
	prodM := mat.NewDense(colRows, filters, prod)
	prodM.Mul(colM, wM.T())

	out, err := tensor.New(tensor.Shape{n, filters, outH, outW})
	if err != nil {
		return nil, err
	}
	od := out.Data()
	for b := 0; b < n; b++ {
		for f := 0; f < filters; f++ {
			for p := 0; p < outH*outW; p++ {
				od[((b*filters+f)*outH*outW)+p] = prod[(b*outH*outW+p)*filters+f]
			}
		}
	}
	return out, nil
}

// Backward distributes the upstream gradient to the input (via col2im)
// and to the filter weights.
func (c *Conv2D) Backward(inputs []*tensor.Tensor, output, upstream *tensor.Tensor) ([]*tensor.Tensor, error) {
	x, w := inputs[0], inputs[1]
	xs, ws := x.Shape(), w.Shape()
	n, ch, h, wd := xs[0], xs[1], xs[2], xs[3]
	filters, kh, kw := ws[0], ws[2], ws[3]
	outH, outW := output.Shape()[2], output.Shape()[3]

	_, _, padTop, padLeft, err := c.geometry(h, wd, kh, kw)
	if err != nil {
		return nil, err
	}

	colRows := n * outH * outW
	colWidth := ch * kh * kw
	if len(c.col) != colRows*colWidth {
		return nil, &StateError{Op: "conv2d", Detail: "backward called without a matching forward"}
	}

	// Rearrange upstream (n, filters, outH, outW) -> [colRows, filters].
	dyFlat := make([]float64, colRows*filters)
	ud := upstream.Data()
	for b := 0; b < n; b++ {
		for f := 0; f < filters; f++ {
			for p := 0; p < outH*outW; p++ {
				dyFlat[(b*outH*outW+p)*filters+f] = ud[((b*filters+f)*outH*outW)+p]
			}
		}
	}

	dw, err := tensor.New(w.Shape())
	if err != nil {
		return nil, err
	}
	dyM := mat.NewDense(colRows, filters, dyFlat)
	colM := mat.NewDense(colRows, colWidth, c.col)
	dwM := mat.NewDense(filters, colWidth, dw.Data())
	dwM.Mul(dyM.T(), colM)

	dcol := make([]float64, colRows*colWidth)
	wM := mat.NewDense(filters, colWidth, w.Data())
	dcolM := mat.NewDense(colRows, colWidth, dcol)
	dcolM.Mul(dyM, wM)

	dx, err := tensor.New(x.Shape())
	if err != nil {
		return nil, err
	}
	col2im(dx.Data(), dcol, n, ch, h, wd, kh, kw, outH, outW, c.stride, padTop, padLeft)

	return []*tensor.Tensor{dx, dw}, nil
}
