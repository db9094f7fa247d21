package score

import (
	"math"
	"testing"

	"github.com/auriga-dsp/auriga/internal/tensor"
)

func TestCoveragePenalizesRevisits(t *testing.T) {
	t.Parallel()

	c, err := NewCoverageScorer(3, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	mem, err := c.Reset(nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	attn := tensor.NewMat(1, 2)
	attn.Row(0)[0] = 1 // full mass on frame 0

	lp := tensor.NewMat(1, 3)
	out, mem, err := c.Score([]int{0}, mem, &attn, &lp)
	if err != nil {
		t.Fatal(err)
	}
	// Coverage [1, 0]: 0.5 above threshold, averaged over 1 step.
	for _, v := range out.Row(0) {
		if math.Abs(float64(v)- -0.5) > 1e-6 {
			t.Fatalf("step 1 penalty %f, want -0.5", v)
		}
	}

	out, _, err = c.Score([]int{0}, mem, &attn, &lp)
	if err != nil {
		t.Fatal(err)
	}
	// Coverage [2, 0]: 1.5 above threshold, averaged over 2 steps.
	for _, v := range out.Row(0) {
		if math.Abs(float64(v)- -0.75) > 1e-6 {
			t.Fatalf("step 2 penalty %f, want -0.75", v)
		}
	}
}

func TestCoverageRequiresAttention(t *testing.T) {
	t.Parallel()

	c, err := NewCoverageScorer(3, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	mem, _ := c.Reset(nil, nil)
	lp := tensor.NewMat(1, 3)
	if _, _, err := c.Score([]int{0}, mem, nil, &lp); err == nil {
		t.Fatal("missing attention accepted")
	}
}

func TestCoveragePermuteFollowsRouting(t *testing.T) {
	t.Parallel()

	c, err := NewCoverageScorer(2, 0)
	if err != nil {
		t.Fatal(err)
	}
	mem, _ := c.Reset(nil, nil)

	attn := tensor.NewMat(2, 2)
	attn.Row(0)[0] = 1
	attn.Row(1)[1] = 1
	lp := tensor.NewMat(2, 2)
	_, mem, err = c.Score([]int{0, 0}, mem, &attn, &lp)
	if err != nil {
		t.Fatal(err)
	}

	// Both rows adopt row 1's coverage.
	mem = c.Permute(mem, []int{1, 1}, []int{0, 0})
	cov := mem.(*coverageMemory).cov
	for r := 0; r < 2; r++ {
		if cov.Row(r)[0] != 0 || cov.Row(r)[1] != 1 {
			t.Fatalf("row %d coverage %v, want [0 1]", r, cov.Row(r))
		}
	}
}
