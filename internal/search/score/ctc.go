package score

import (
	"errors"
	"fmt"
	"math"

	"github.com/auriga-dsp/auriga/internal/tensor"
)

var negInf = float32(math.Inf(-1))

// CTCPrefixScorer scores candidate tokens with the CTC prefix
// probability over the encoder frames: the contribution for candidate c
// is log p(prefix+c...) - log p(prefix...). Per-beam memory holds the
// CTC forward variables of the current prefix, split by whether the
// alignment ends in a blank or a non-blank frame, so extending a prefix
// by one token is a single pass over the frames.
type CTCPrefixScorer struct {
	blank int
	eos   int

	// project maps one encoder state matrix [frames x dim] to frame-level
	// log-posteriors [frames x vocab]. When nil the states are taken to be
	// log-posteriors already.
	project func(*tensor.Mat) *tensor.Mat
}

type ctcRow struct {
	x    *tensor.Mat // frame log-posteriors, shared between sibling beams
	T    int         // valid frames
	rn   []float32   // forward variable, alignment ends in non-blank
	rb   []float32   // forward variable, alignment ends in blank
	last int         // last prefix token, -1 for the empty prefix
	psi  float32     // prefix log-probability, the scoring baseline
}

type ctcMemory struct {
	rows []ctcRow
}

// NewCTCPrefixScorer builds a prefix scorer with the given blank and end
// token indices. project may be nil, see the field doc.
func NewCTCPrefixScorer(blankIndex, eosIndex int, project func(*tensor.Mat) *tensor.Mat) (*CTCPrefixScorer, error) {
	if blankIndex < 0 || eosIndex < 0 {
		return nil, errors.New("score: ctc token indices must be non-negative")
	}
	if blankIndex == eosIndex {
		return nil, errors.New("score: ctc blank and end token collide")
	}
	return &CTCPrefixScorer{blank: blankIndex, eos: eosIndex, project: project}, nil
}

// BlankIndex returns the blank token index.
func (c *CTCPrefixScorer) BlankIndex() int { return c.blank }

func (c *CTCPrefixScorer) Reset(states []*tensor.Mat, lens []int) (Memory, error) {
	if len(lens) != len(states) {
		return nil, fmt.Errorf("score: %d lengths for %d state rows", len(lens), len(states))
	}
	mem := &ctcMemory{rows: make([]ctcRow, len(states))}
	for i, st := range states {
		x := st
		if c.project != nil {
			x = c.project(st)
		}
		if x.Rows < 1 {
			return nil, fmt.Errorf("score: ctc state row %d has no frames", i)
		}
		if c.blank >= x.Cols {
			return nil, fmt.Errorf("score: blank index %d outside %d posterior classes", c.blank, x.Cols)
		}
		T := lens[i]
		if T < 1 {
			T = 1
		}
		if T > x.Rows {
			T = x.Rows
		}
		// Empty prefix: every alignment so far is all-blank.
		rn := make([]float32, T)
		rb := make([]float32, T)
		var cum float32
		for t := 0; t < T; t++ {
			cum += x.Row(t)[c.blank]
			rn[t] = negInf
			rb[t] = cum
		}
		mem.rows[i] = ctcRow{x: x, T: T, rn: rn, rb: rb, last: -1, psi: 0}
	}
	return mem, nil
}

// Score returns the prefix-probability gain of every candidate token.
// The blank candidate never extends a visible prefix and is pinned at
// -Inf; the end candidate closes the prefix exactly, so it uses the
// total probability instead of the prefix probability.
func (c *CTCPrefixScorer) Score(tokens []int, mem Memory, attn *tensor.Mat, logProbs *tensor.Mat) (*tensor.Mat, Memory, error) {
	m, ok := mem.(*ctcMemory)
	if !ok {
		return nil, mem, errors.New("score: foreign ctc memory")
	}
	if len(m.rows) != logProbs.Rows {
		return nil, mem, fmt.Errorf("score: ctc memory has %d rows, step has %d", len(m.rows), logProbs.Rows)
	}
	vocab := logProbs.Cols
	out := tensor.NewMat(logProbs.Rows, vocab)
	for i := range m.rows {
		row := &m.rows[i]
		if row.x.Cols < vocab {
			return nil, mem, fmt.Errorf("score: ctc posteriors cover %d classes, vocab is %d", row.x.Cols, vocab)
		}
		T := row.T
		// phi(t) folds the two prefix endings; the candidate repeating the
		// last token may only attach after a blank.
		phiBoth := make([]float32, T)
		for t := 0; t < T; t++ {
			phiBoth[t] = tensor.LogAddExp(row.rb[t], row.rn[t])
		}
		exact := tensor.LogAddExp(row.rn[T-1], row.rb[T-1])

		dst := out.Row(i)
		for v := 0; v < vocab; v++ {
			switch v {
			case c.blank:
				dst[v] = negInf
			case c.eos:
				dst[v] = exact - row.psi
			default:
				psi := negInf
				if row.last == -1 {
					psi = row.x.Row(0)[v]
				}
				for t := 1; t < T; t++ {
					phi := phiBoth[t-1]
					if v == row.last {
						phi = row.rb[t-1]
					}
					psi = tensor.LogAddExp(psi, phi+row.x.Row(t)[v])
				}
				dst[v] = psi - row.psi
			}
		}
	}
	return &out, m, nil
}

// Permute routes the forward variables to the selected predecessors and
// advances each with its chosen token. Rows whose candidate is the end
// or blank token carry their predecessor state unchanged; those beams
// are finished or frozen and will not be scored meaningfully again.
func (c *CTCPrefixScorer) Permute(mem Memory, index []int, candidates []int) Memory {
	m, ok := mem.(*ctcMemory)
	if !ok {
		return mem
	}
	next := make([]ctcRow, len(index))
	for i, j := range index {
		prev := &m.rows[j]
		tok := candidates[i]
		if tok == c.eos || tok == c.blank {
			next[i] = ctcRow{
				x:    prev.x,
				T:    prev.T,
				rn:   append([]float32(nil), prev.rn...),
				rb:   append([]float32(nil), prev.rb...),
				last: prev.last,
				psi:  prev.psi,
			}
			continue
		}
		next[i] = advancePrefix(prev, tok, c.blank)
	}
	m.rows = next
	return m
}

// advancePrefix runs the CTC forward recursion for prefix+tok over the
// valid frames, producing the extended row's forward variables and its
// prefix log-probability.
func advancePrefix(prev *ctcRow, tok, blank int) ctcRow {
	T := prev.T
	rn := make([]float32, T)
	rb := make([]float32, T)

	rn[0] = negInf
	if prev.last == -1 {
		rn[0] = prev.x.Row(0)[tok]
	}
	rb[0] = negInf
	psi := rn[0]

	for t := 1; t < T; t++ {
		phi := tensor.LogAddExp(prev.rb[t-1], prev.rn[t-1])
		if tok == prev.last {
			phi = prev.rb[t-1]
		}
		xt := prev.x.Row(t)
		rb[t] = tensor.LogAddExp(rn[t-1], rb[t-1]) + xt[blank]
		rn[t] = tensor.LogAddExp(rn[t-1], phi) + xt[tok]
		psi = tensor.LogAddExp(psi, phi+xt[tok])
	}

	return ctcRow{x: prev.x, T: T, rn: rn, rb: rb, last: tok, psi: psi}
}
