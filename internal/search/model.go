// Package search implements greedy and beam search decoding for
// autoregressive encoder/decoder models. The model being decoded is an
// opaque collaborator reached through the Model contract; the searchers
// only decide which token sequences survive each step and when decoding
// terminates.
package search

import (
	"errors"
	"fmt"
	"math"

	"github.com/auriga-dsp/auriga/internal/tensor"
)

// ErrPermuteUnsupported is returned by Model.Permute when a backend keeps
// no per-row decoder state and therefore cannot reorder it. Beam search
// treats this as fatal: silently skipping the permutation would let beams
// continue on another beam's state.
var ErrPermuteUnsupported = errors.New("search: model does not support memory permutation")

// Memory is opaque per-row decoder state owned by the model backend
// (hidden states, token history, attention context). The searchers never
// inspect it; they only thread it through Step and Permute. Its row
// ordering must track the searcher's row ordering at all times.
type Memory any

// Model is the step contract every decodable backend satisfies.
//
// Step must be pure with respect to row ordering: the i-th input token and
// the i-th memory row fully determine the i-th output row. No hidden
// global ordering may leak in, otherwise beam routing breaks.
type Model interface {
	// VocabSize returns the number of output tokens.
	VocabSize() int

	// Reset returns the initial decoder memory for n parallel rows.
	Reset(n int) Memory

	// Step advances every row by one token. It returns per-row
	// log-probabilities over the vocabulary [n x vocab], the next memory,
	// and the attention distribution over encoder frames [n x frames].
	// Attention may be nil for backends that expose none.
	Step(tokens []int, mem Memory, enc *Encoded) (*tensor.Mat, Memory, *tensor.Mat, error)

	// Permute reorders the row dimension of mem so that row i afterwards
	// holds what row index[i] held before. Backends with no per-row state
	// return ErrPermuteUnsupported.
	Permute(mem Memory, index []int) (Memory, error)
}

// BoundsClamper is implemented by backends with an absolute decoding
// limit independent of the encoder length (fixed-prefix decoders with a
// hard positional cap). The searcher calls it with the ratio-derived
// bounds and uses whatever comes back.
type BoundsClamper interface {
	ClampDecodeBounds(minRatio, maxRatio float64, minSteps, maxSteps int) (int, int)
}

// Encoded holds the encoder output consumed during one search call.
// States[i] is the [frames x dim] representation for row i; Lens[i] is
// how many leading frames of it are valid.
type Encoded struct {
	States []*tensor.Mat
	Lens   []int
}

// NewEncoded builds an Encoded from per-element encoder states and
// relative lengths in [0, 1]. All elements must be padded to the same
// number of frames; the valid length is round(frames * relLen).
func NewEncoded(states []tensor.Mat, relLens []float64) (*Encoded, error) {
	if len(states) == 0 {
		return nil, errors.New("search: empty batch")
	}
	if len(relLens) != len(states) {
		return nil, fmt.Errorf("search: %d relative lengths for %d batch elements", len(relLens), len(states))
	}
	frames := states[0].Rows
	enc := &Encoded{
		States: make([]*tensor.Mat, len(states)),
		Lens:   make([]int, len(states)),
	}
	for i := range states {
		if states[i].Rows != frames {
			return nil, fmt.Errorf("search: batch element %d has %d frames, want %d", i, states[i].Rows, frames)
		}
		rel := relLens[i]
		if rel < 0 || rel > 1 {
			return nil, fmt.Errorf("search: relative length %f out of [0,1] at element %d", rel, i)
		}
		enc.States[i] = &states[i]
		enc.Lens[i] = int(math.Round(float64(frames) * rel))
	}
	return enc, nil
}

// Batch returns the number of rows.
func (e *Encoded) Batch() int { return len(e.States) }

// MaxFrames returns the padded frame count shared by all rows.
func (e *Encoded) MaxFrames() int { return e.States[0].Rows }

// inflate repeats every row `times` consecutive times, the layout beam
// search expects: rows [b*times, (b+1)*times) all view batch element b.
// The underlying state matrices are shared, not copied.
func (e *Encoded) inflate(times int) *Encoded {
	out := &Encoded{
		States: make([]*tensor.Mat, 0, len(e.States)*times),
		Lens:   make([]int, 0, len(e.Lens)*times),
	}
	for i := range e.States {
		for k := 0; k < times; k++ {
			out.States = append(out.States, e.States[i])
			out.Lens = append(out.Lens, e.Lens[i])
		}
	}
	return out
}

// decodeBounds derives the minimum and maximum decoding step counts from
// the encoder frame count and the configured ratios, then lets the model
// clamp them if it carries a hard cap of its own.
func decodeBounds(m Model, minRatio, maxRatio float64, frames int) (int, int) {
	minSteps := int(math.Round(float64(frames) * minRatio))
	maxSteps := int(math.Round(float64(frames) * maxRatio))
	if c, ok := m.(BoundsClamper); ok {
		minSteps, maxSteps = c.ClampDecodeBounds(minRatio, maxRatio, minSteps, maxSteps)
	}
	return minSteps, maxSteps
}
