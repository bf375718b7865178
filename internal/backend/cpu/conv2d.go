package cpu

import (
	"fmt"

	"github.com/born-ml/ptq/internal/tensor"
)

// convGeometry is the resolved layout of a 2D convolution.
type convGeometry struct {
	n, cIn, h, w      int
	cOut, kh, kw      int
	hOut, wOut        int
	strideH, strideW  int
	padTop, padLeft   int
	dilateH, dilateW  int
	group             int
	cInGroup, cOutGrp int
}

// resolveConvParams fills defaults for missing attributes.
func resolveConvParams(p tensor.ConvParams) (strides, pads, dilations []int, group int) {
	strides = p.Strides
	if len(strides) == 0 {
		strides = []int{1, 1}
	}
	pads = p.Pads
	if len(pads) == 0 {
		pads = []int{0, 0, 0, 0}
	}
	dilations = p.Dilations
	if len(dilations) == 0 {
		dilations = []int{1, 1}
	}
	group = p.Group
	if group <= 0 {
		group = 1
	}
	if len(strides) != 2 || len(pads) != 4 || len(dilations) != 2 {
		panic(fmt.Sprintf("conv: only 2D convolutions are supported (strides=%v pads=%v dilations=%v)", strides, pads, dilations))
	}
	return strides, pads, dilations, group
}

// Conv2D performs a grouped, dilated 2D convolution.
//
// Input shape: [N, C_in, H, W]
// Kernel shape: [C_out, C_in/group, K_h, K_w]
// Bias shape: [C_out] (optional)
// Output shape: [N, C_out, H_out, W_out]
func (cpu *CPUBackend) Conv2D(input, kernel, bias *tensor.RawTensor, p tensor.ConvParams) *tensor.RawTensor {
	inShape, kShape := input.Shape(), kernel.Shape()
	if len(inShape) != 4 {
		panic(fmt.Sprintf("conv2d: input must be 4D [N,C,H,W], got %dD", len(inShape)))
	}
	if len(kShape) != 4 {
		panic(fmt.Sprintf("conv2d: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", len(kShape)))
	}

	strides, pads, dilations, group := resolveConvParams(p)
	g := convGeometry{
		n: inShape[0], cIn: inShape[1], h: inShape[2], w: inShape[3],
		cOut: kShape[0], kh: kShape[2], kw: kShape[3],
		strideH: strides[0], strideW: strides[1],
		padTop: pads[0], padLeft: pads[1],
		dilateH: dilations[0], dilateW: dilations[1],
		group: group,
	}
	if g.cIn%group != 0 || g.cOut%group != 0 || kShape[1] != g.cIn/group {
		panic(fmt.Sprintf("conv2d: input channels %d, kernel %v incompatible with group %d", g.cIn, kShape, group))
	}
	g.cInGroup, g.cOutGrp = g.cIn/group, g.cOut/group
	g.hOut = (g.h+pads[0]+pads[2]-g.dilateH*(g.kh-1)-1)/g.strideH + 1
	g.wOut = (g.w+pads[1]+pads[3]-g.dilateW*(g.kw-1)-1)/g.strideW + 1
	if g.hOut <= 0 || g.wOut <= 0 {
		panic(fmt.Sprintf("conv2d: invalid output dimensions: out_h=%d, out_w=%d", g.hOut, g.wOut))
	}

	biasData := checkBias("conv2d", bias, g.cOut)
	output := newFloat32("conv2d", tensor.Shape{g.n, g.cOut, g.hOut, g.wOut})
	conv2dFloat32(output.AsFloat32(), float32Data(input), float32Data(kernel), biasData, g)
	return output
}

func conv2dFloat32(out, in, kernel, bias []float32, g convGeometry) {
	for b := 0; b < g.n; b++ {
		for oc := 0; oc < g.cOut; oc++ {
			grp := oc / g.cOutGrp
			var base float32
			if bias != nil {
				base = bias[oc]
			}
			for oy := 0; oy < g.hOut; oy++ {
				for ox := 0; ox < g.wOut; ox++ {
					sum := base
					for ic := 0; ic < g.cInGroup; ic++ {
						c := grp*g.cInGroup + ic
						for ky := 0; ky < g.kh; ky++ {
							iy := oy*g.strideH - g.padTop + ky*g.dilateH
							if iy < 0 || iy >= g.h {
								continue
							}
							for kx := 0; kx < g.kw; kx++ {
								ix := ox*g.strideW - g.padLeft + kx*g.dilateW
								if ix < 0 || ix >= g.w {
									continue
								}
								sum += in[((b*g.cIn+c)*g.h+iy)*g.w+ix] *
									kernel[((oc*g.cInGroup+ic)*g.kh+ky)*g.kw+kx]
							}
						}
					}
					out[((b*g.cOut+oc)*g.hOut+oy)*g.wOut+ox] = sum
				}
			}
		}
	}
}

// ConvTranspose2D performs a grouped 2D transposed convolution.
//
// Input shape: [N, C_in, H, W]
// Kernel shape: [C_in, C_out/group, K_h, K_w]
// Output shape: [N, C_out, H_out, W_out] with
// H_out = (H-1)*stride - pad_top - pad_bottom + dilation*(K_h-1) + 1.
func (cpu *CPUBackend) ConvTranspose2D(input, kernel, bias *tensor.RawTensor, p tensor.ConvParams) *tensor.RawTensor {
	inShape, kShape := input.Shape(), kernel.Shape()
	if len(inShape) != 4 || len(kShape) != 4 {
		panic(fmt.Sprintf("conv_transpose2d: expected 4D input and kernel, got %v and %v", inShape, kShape))
	}

	strides, pads, dilations, group := resolveConvParams(p)
	g := convGeometry{
		n: inShape[0], cIn: inShape[1], h: inShape[2], w: inShape[3],
		kh: kShape[2], kw: kShape[3],
		strideH: strides[0], strideW: strides[1],
		padTop: pads[0], padLeft: pads[1],
		dilateH: dilations[0], dilateW: dilations[1],
		group: group,
	}
	if kShape[0] != g.cIn || g.cIn%group != 0 {
		panic(fmt.Sprintf("conv_transpose2d: input channels %d incompatible with kernel %v and group %d", g.cIn, kShape, group))
	}
	g.cInGroup, g.cOutGrp = g.cIn/group, kShape[1]
	g.cOut = g.cOutGrp * group
	g.hOut = (g.h-1)*g.strideH - pads[0] - pads[2] + g.dilateH*(g.kh-1) + 1
	g.wOut = (g.w-1)*g.strideW - pads[1] - pads[3] + g.dilateW*(g.kw-1) + 1
	if g.hOut <= 0 || g.wOut <= 0 {
		panic(fmt.Sprintf("conv_transpose2d: invalid output dimensions: out_h=%d, out_w=%d", g.hOut, g.wOut))
	}

	biasData := checkBias("conv_transpose2d", bias, g.cOut)
	output := newFloat32("conv_transpose2d", tensor.Shape{g.n, g.cOut, g.hOut, g.wOut})
	out := output.AsFloat32()
	in, k := float32Data(input), float32Data(kernel)

	for b := 0; b < g.n; b++ {
		for ic := 0; ic < g.cIn; ic++ {
			grp := ic / g.cInGroup
			for iy := 0; iy < g.h; iy++ {
				for ix := 0; ix < g.w; ix++ {
					v := in[((b*g.cIn+ic)*g.h+iy)*g.w+ix]
					for j := 0; j < g.cOutGrp; j++ {
						oc := grp*g.cOutGrp + j
						for ky := 0; ky < g.kh; ky++ {
							oy := iy*g.strideH - g.padTop + ky*g.dilateH
							if oy < 0 || oy >= g.hOut {
								continue
							}
							for kx := 0; kx < g.kw; kx++ {
								ox := ix*g.strideW - g.padLeft + kx*g.dilateW
								if ox < 0 || ox >= g.wOut {
									continue
								}
								out[((b*g.cOut+oc)*g.hOut+oy)*g.wOut+ox] += v * k[((ic*g.cOutGrp+j)*g.kh+ky)*g.kw+kx]
							}
						}
					}
				}
			}
		}
	}

	if biasData != nil {
		plane := g.hOut * g.wOut
		for b := 0; b < g.n; b++ {
			for oc := 0; oc < g.cOut; oc++ {
				seg := out[(b*g.cOut+oc)*plane : (b*g.cOut+oc+1)*plane]
				for i := range seg {
					seg[i] += biasData[oc]
				}
			}
		}
	}
	return output
}

// checkBias validates an optional per-output-channel bias.
func checkBias(op string, bias *tensor.RawTensor, channels int) []float32 {
	if bias == nil {
		return nil
	}
	if bias.NumElements() != channels {
		panic(fmt.Sprintf("%s: bias has %d elements, want %d", op, bias.NumElements(), channels))
	}
	return float32Data(bias)
}
