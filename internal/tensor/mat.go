package tensor

import "math"

// Mat is a dense row-major float32 matrix. Row data is contiguous, so a
// single row can be handed out as a slice without copying.
type Mat struct {
	Rows, Cols int
	Data       []float32
}

// NewMat allocates a zeroed Rows x Cols matrix.
func NewMat(rows, cols int) Mat {
	return Mat{Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

// Row returns the i-th row as a slice aliasing the underlying storage.
func (m *Mat) Row(i int) []float32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// CopyFrom copies src into m. Shapes must match.
func (m *Mat) CopyFrom(src *Mat) {
	copy(m.Data, src.Data)
}

// Clone returns a deep copy of m.
func (m *Mat) Clone() Mat {
	out := NewMat(m.Rows, m.Cols)
	copy(out.Data, m.Data)
	return out
}

// GatherRows writes src rows selected by index into dst. dst and src must
// not alias. len(index) must equal dst.Rows.
func GatherRows(dst, src *Mat, index []int) {
	for i, j := range index {
		copy(dst.Row(i), src.Row(j))
	}
}

// FillRand fills m with deterministic pseudo-random values in [-0.5, 0.5)
// derived from seed. A simple LCG keeps the fill reproducible across
// platforms without pulling in math/rand state.
func FillRand(m *Mat, seed int64) {
	state := uint64(seed)*6364136223846793005 + 1442695040888963407
	for i := range m.Data {
		state = state*6364136223846793005 + 1442695040888963407
		m.Data[i] = float32(state>>40)/float32(1<<24) - 0.5
	}
}

// Argmax returns the index of the largest value in x. Ties resolve to the
// lowest index. Panics on an empty slice.
func Argmax(x []float32) int {
	if len(x) == 0 {
		panic("tensor: argmax of empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}

// Max returns the largest value in x. Panics on an empty slice.
func Max(x []float32) float32 {
	return x[Argmax(x)]
}

// LogSoftmax converts logits to log-probabilities in place.
func LogSoftmax(x []float32) {
	maxv := Max(x)
	var sum float64
	for _, v := range x {
		sum += math.Exp(float64(v - maxv))
	}
	logSum := float32(math.Log(sum)) + maxv
	for i := range x {
		x[i] -= logSum
	}
}

// Softmax converts scores to probabilities in place.
func Softmax(x []float32) {
	maxv := Max(x)
	var sum float64
	for i, v := range x {
		e := math.Exp(float64(v - maxv))
		x[i] = float32(e)
		sum += e
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// LogAddExp returns log(exp(a)+exp(b)) without overflowing for large
// negative inputs. -Inf operands are handled as zero probability mass.
func LogAddExp(a, b float32) float32 {
	if a < b {
		a, b = b, a
	}
	if math.IsInf(float64(b), -1) {
		return a
	}
	return a + float32(math.Log1p(math.Exp(float64(b-a))))
}
