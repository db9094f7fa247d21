package score

import (
	"errors"

	"github.com/auriga-dsp/auriga/internal/tensor"
)

// CoverageScorer penalizes hypotheses whose accumulated attention piles
// onto the same encoder frames. Per-beam memory is the running sum of
// attention rows; the penalty is the total mass above the threshold,
// averaged over decoding steps, applied uniformly to every candidate.
type CoverageScorer struct {
	vocabSize int
	threshold float32
}

type coverageMemory struct {
	cov  *tensor.Mat
	step int
}

// NewCoverageScorer builds a coverage scorer over vocabSize candidates.
// A threshold of 0 means every revisit is penalized; 0.5 is the usual
// operating point.
func NewCoverageScorer(vocabSize int, threshold float32) (*CoverageScorer, error) {
	if vocabSize < 1 {
		return nil, errors.New("score: coverage needs a positive vocab size")
	}
	if threshold < 0 {
		return nil, errors.New("score: negative coverage threshold")
	}
	return &CoverageScorer{vocabSize: vocabSize, threshold: threshold}, nil
}

func (c *CoverageScorer) Reset(states []*tensor.Mat, lens []int) (Memory, error) {
	// Coverage shape follows the first attention matrix, unknown here.
	return &coverageMemory{}, nil
}

func (c *CoverageScorer) Score(tokens []int, mem Memory, attn *tensor.Mat, logProbs *tensor.Mat) (*tensor.Mat, Memory, error) {
	if attn == nil {
		return nil, mem, errors.New("score: coverage requires model attention")
	}
	m, ok := mem.(*coverageMemory)
	if !ok {
		return nil, mem, errors.New("score: foreign coverage memory")
	}
	if m.cov == nil {
		cov := tensor.NewMat(attn.Rows, attn.Cols)
		m.cov = &cov
	}
	m.step++
	for i := range attn.Data {
		m.cov.Data[i] += attn.Data[i]
	}

	out := tensor.NewMat(attn.Rows, c.vocabSize)
	for r := 0; r < attn.Rows; r++ {
		var over float32
		for _, v := range m.cov.Row(r) {
			if v > c.threshold {
				over += v - c.threshold
			}
		}
		penalty := -over / float32(m.step)
		row := out.Row(r)
		for v := range row {
			row[v] = penalty
		}
	}
	return &out, m, nil
}

func (c *CoverageScorer) Permute(mem Memory, index []int, candidates []int) Memory {
	m, ok := mem.(*coverageMemory)
	if !ok || m.cov == nil {
		return mem
	}
	next := tensor.NewMat(m.cov.Rows, m.cov.Cols)
	tensor.GatherRows(&next, m.cov, index)
	m.cov = &next
	return m
}
