package tensor

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// wideAccum selects the 4-accumulator gemv path. Wider accumulation chains
// only pay off when the target has vector units the compiler can use.
var wideAccum = cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD || runtime.GOARCH == "arm64"

// Features describes the vector capabilities the kernels were selected for.
// Surfaced by the CLI version command for bug reports.
func Features() string {
	switch {
	case cpu.X86.HasAVX512F:
		return "avx512"
	case cpu.X86.HasAVX2:
		return "avx2"
	case cpu.ARM64.HasASIMD || runtime.GOARCH == "arm64":
		return "asimd"
	default:
		return "generic"
	}
}

// Gemv computes out = x*W + bias, where x is a vector of length W.Rows,
// W is [Rows x Cols] and out/bias have length W.Cols. bias may be nil.
func Gemv(out []float32, x []float32, w *Mat, bias []float32) {
	if bias != nil {
		copy(out, bias)
	} else {
		for j := range out {
			out[j] = 0
		}
	}
	if wideAccum {
		gemvUnrolled(out, x, w)
		return
	}
	for i, xi := range x {
		if xi == 0 {
			continue
		}
		row := w.Row(i)
		for j, wv := range row {
			out[j] += xi * wv
		}
	}
}

// gemvUnrolled processes four input rows per pass so independent
// accumulator chains can be kept in registers.
func gemvUnrolled(out []float32, x []float32, w *Mat) {
	n := len(x)
	i := 0
	for ; i+4 <= n; i += 4 {
		x0, x1, x2, x3 := x[i], x[i+1], x[i+2], x[i+3]
		r0 := w.Row(i)
		r1 := w.Row(i + 1)
		r2 := w.Row(i + 2)
		r3 := w.Row(i + 3)
		for j := range out {
			out[j] += x0*r0[j] + x1*r1[j] + x2*r2[j] + x3*r3[j]
		}
	}
	for ; i < n; i++ {
		xi := x[i]
		row := w.Row(i)
		for j := range out {
			out[j] += xi * row[j]
		}
	}
}

// Dot returns the inner product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i, v := range a {
		sum += v * b[i]
	}
	return sum
}

// Axpy computes y += alpha*x.
func Axpy(alpha float32, x, y []float32) {
	if alpha == 0 {
		return
	}
	for i, v := range x {
		y[i] += alpha * v
	}
}
