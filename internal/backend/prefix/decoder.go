// Package prefix wraps a history-conditioned decoder whose prompts start
// with a fixed token prefix (task and language markers) and whose
// positional embedding imposes a hard cap on total sequence length. The
// cap, not the encoder length, bounds how long decoding may run.
package prefix

import (
	"errors"
	"fmt"

	"github.com/auriga-dsp/auriga/internal/backend/transformer"
	"github.com/auriga-dsp/auriga/internal/search"
	"github.com/auriga-dsp/auriga/internal/tensor"
)

// Decoder seeds every row's history with the prefix tokens before the
// first step and clamps the decode bounds to the positional budget.
type Decoder struct {
	inner        *transformer.Decoder
	prefixTokens []int
	maxPositions int
}

// New builds a prefix decoder around an existing history decoder. The
// prefix must leave room for at least one generated token under
// maxPositions.
func New(inner *transformer.Decoder, prefixTokens []int, maxPositions int) (*Decoder, error) {
	if inner == nil {
		return nil, errors.New("prefix: nil inner decoder")
	}
	if maxPositions <= len(prefixTokens) {
		return nil, fmt.Errorf("prefix: %d positions cannot fit %d prefix tokens and output", maxPositions, len(prefixTokens))
	}
	return &Decoder{
		inner:        inner,
		prefixTokens: append([]int(nil), prefixTokens...),
		maxPositions: maxPositions,
	}, nil
}

func (d *Decoder) VocabSize() int { return d.inner.VocabSize() }

func (d *Decoder) Reset(n int) search.Memory {
	mem := d.inner.Reset(n)
	hist, _ := mem.([][]int)
	for i := range hist {
		hist[i] = append(hist[i], d.prefixTokens...)
	}
	return hist
}

func (d *Decoder) Step(tokens []int, mem search.Memory, enc *search.Encoded) (*tensor.Mat, search.Memory, *tensor.Mat, error) {
	return d.inner.Step(tokens, mem, enc)
}

func (d *Decoder) Permute(mem search.Memory, index []int) (search.Memory, error) {
	return d.inner.Permute(mem, index)
}

// ClampDecodeBounds rescales the ratio-derived bounds onto the token
// budget remaining after the prefix and the start token.
func (d *Decoder) ClampDecodeBounds(minRatio, maxRatio float64, minSteps, maxSteps int) (int, int) {
	budget := d.maxPositions - len(d.prefixTokens) - 1
	min := int(minRatio * float64(budget))
	max := int(maxRatio * float64(budget))
	if max > budget {
		max = budget
	}
	return min, max
}
