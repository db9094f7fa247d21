package score

import (
	"math"
	"testing"

	"github.com/auriga-dsp/auriga/internal/tensor"
)

// Frame posteriors small enough to verify against alignment enumeration
// by hand: two frames over classes blank=0, a=1, b=2, end=3.
func ctcFixture(t *testing.T) (*CTCPrefixScorer, Memory) {
	t.Helper()
	probs := [][]float64{
		{0.5, 0.3, 0.1, 0.1},
		{0.5, 0.25, 0.15, 0.1},
	}
	x := tensor.NewMat(2, 4)
	for ti, row := range probs {
		for v, p := range row {
			x.Row(ti)[v] = float32(math.Log(p))
		}
	}
	c, err := NewCTCPrefixScorer(0, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	mem, err := c.Reset([]*tensor.Mat{&x}, []int{2})
	if err != nil {
		t.Fatal(err)
	}
	return c, mem
}

func approx(t *testing.T, got float32, want float64, what string) {
	t.Helper()
	if math.Abs(float64(got)-want) > 1e-5 {
		t.Fatalf("%s = %f, want %f", what, got, want)
	}
}

func TestCTCEmptyPrefixScores(t *testing.T) {
	t.Parallel()

	c, mem := ctcFixture(t)
	lp := tensor.NewMat(1, 4)
	out, _, err := c.Score([]int{-1}, mem, nil, &lp)
	if err != nil {
		t.Fatal(err)
	}
	row := out.Row(0)

	// p(prefix "a") = p(a,*) + p(blank,a) = 0.3 + 0.5*0.25.
	approx(t, row[1], math.Log(0.425), "candidate a")
	// End closes the empty transcript: the all-blank alignment.
	approx(t, row[3], math.Log(0.25), "candidate end")
	if !math.IsInf(float64(row[0]), -1) {
		t.Fatalf("blank candidate %f, want -Inf", row[0])
	}
}

func TestCTCAdvanceAndRescore(t *testing.T) {
	t.Parallel()

	c, mem := ctcFixture(t)
	mem = c.Permute(mem, []int{0}, []int{1}) // extend prefix with a

	row0 := mem.(*ctcMemory).rows[0]
	approx(t, row0.psi, math.Log(0.425), "prefix probability of a")

	lp := tensor.NewMat(1, 4)
	out, _, err := c.Score([]int{1}, mem, nil, &lp)
	if err != nil {
		t.Fatal(err)
	}
	row := out.Row(0)

	// "aa" needs a separating blank, impossible in two frames.
	if !math.IsInf(float64(row[1]), -1) {
		t.Fatalf("candidate aa %f, want -Inf", row[1])
	}
	// p(prefix "ab") = p(a,b) = 0.3*0.15, relative to the prefix.
	approx(t, row[2], math.Log(0.045)-math.Log(0.425), "candidate b after a")
	// p(exactly "a") = p(a,a) + p(a,blank) + p(blank,a) = 0.35.
	approx(t, row[3], math.Log(0.35)-math.Log(0.425), "end after a")
}

func TestCTCPermuteCopiesFrozenRows(t *testing.T) {
	t.Parallel()

	c, mem := ctcFixture(t)
	// End and blank candidates carry state through unchanged.
	mem = c.Permute(mem, []int{0}, []int{3})
	row := mem.(*ctcMemory).rows[0]
	if row.last != -1 || row.psi != 0 {
		t.Fatalf("frozen row advanced: last %d, psi %f", row.last, row.psi)
	}
}

func TestCTCResetValidation(t *testing.T) {
	t.Parallel()

	x := tensor.NewMat(2, 4)
	c, err := NewCTCPrefixScorer(0, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Reset([]*tensor.Mat{&x}, []int{1, 2}); err == nil {
		t.Fatal("length count mismatch accepted")
	}
	narrow, err := NewCTCPrefixScorer(9, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := narrow.Reset([]*tensor.Mat{&x}, []int{2}); err == nil {
		t.Fatal("blank outside posterior classes accepted")
	}
	empty := tensor.NewMat(0, 4)
	if _, err := c.Reset([]*tensor.Mat{&empty}, []int{0}); err == nil {
		t.Fatal("zero-frame state accepted")
	}
}

func TestCTCProjectionHook(t *testing.T) {
	t.Parallel()

	posteriors := tensor.NewMat(3, 4)
	tensor.FillRand(&posteriors, 5)
	for ti := 0; ti < 3; ti++ {
		tensor.LogSoftmax(posteriors.Row(ti))
	}
	project := func(st *tensor.Mat) *tensor.Mat { return &posteriors }

	c, err := NewCTCPrefixScorer(0, 3, project)
	if err != nil {
		t.Fatal(err)
	}
	// Encoder states with a non-vocabulary width only work through the
	// projection.
	enc := tensor.NewMat(3, 7)
	mem, err := c.Reset([]*tensor.Mat{&enc}, []int{3})
	if err != nil {
		t.Fatal(err)
	}
	lp := tensor.NewMat(1, 4)
	if _, _, err := c.Score([]int{-1}, mem, nil, &lp); err != nil {
		t.Fatal(err)
	}
}

func TestCTCConstructorValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewCTCPrefixScorer(-1, 3, nil); err == nil {
		t.Fatal("negative blank accepted")
	}
	if _, err := NewCTCPrefixScorer(2, 2, nil); err == nil {
		t.Fatal("blank/end collision accepted")
	}
}
