package search

import "math"

var negInf = float32(math.Inf(-1))

// aliveHypotheses is a flat arena over all live search paths: token
// sequences, per-token log-probabilities and cumulative scores for
// rows = batch*beam hypotheses. Rows are addressed by flat index; growth
// and predecessor routing are gather-and-append passes over a double
// buffer, so the per-step cost is a copy, not an allocation.
type aliveHypotheses struct {
	rows   int
	maxLen int
	length int // tokens appended so far

	seq    []int     // rows x maxLen arena
	logp   []float32 // rows x maxLen arena
	scores []float32 // rows

	seqNext  []int
	logpNext []float32
}

// newAliveHypotheses seeds the arena: every score starts at -Inf except
// the first beam of each batch element, which starts at zero. The first
// selection therefore can only extend the seed beams, which forces K
// distinct continuations of a single path per element.
func newAliveHypotheses(rows, maxLen int, beamOffset []int) *aliveHypotheses {
	if maxLen < 1 {
		maxLen = 1
	}
	h := &aliveHypotheses{
		rows:     rows,
		maxLen:   maxLen,
		seq:      make([]int, rows*maxLen),
		logp:     make([]float32, rows*maxLen),
		scores:   make([]float32, rows),
		seqNext:  make([]int, rows*maxLen),
		logpNext: make([]float32, rows*maxLen),
	}
	for i := range h.scores {
		h.scores[i] = negInf
	}
	for _, off := range beamOffset {
		h.scores[off] = 0
	}
	return h
}

// seqRow returns row i's tokens so far. The slice aliases the arena and
// is only valid until the next append.
func (h *aliveHypotheses) seqRow(i int) []int {
	return h.seq[i*h.maxLen : i*h.maxLen+h.length]
}

// logpRow returns row i's per-token log-probabilities so far.
func (h *aliveHypotheses) logpRow(i int) []float32 {
	return h.logp[i*h.maxLen : i*h.maxLen+h.length]
}

// append routes every row to its chosen predecessor and extends it with
// one token: row i becomes pred[i]'s sequence plus tokens[i]. The gather
// goes into the spare buffer, then the buffers swap.
func (h *aliveHypotheses) append(pred []int, tokens []int, tokLogp []float32) {
	for i := 0; i < h.rows; i++ {
		src := pred[i] * h.maxLen
		dst := i * h.maxLen
		copy(h.seqNext[dst:dst+h.length], h.seq[src:src+h.length])
		copy(h.logpNext[dst:dst+h.length], h.logp[src:src+h.length])
		h.seqNext[dst+h.length] = tokens[i]
		h.logpNext[dst+h.length] = tokLogp[i]
	}
	h.seq, h.seqNext = h.seqNext, h.seq
	h.logp, h.logpNext = h.logpNext, h.logp
	h.length++
}
