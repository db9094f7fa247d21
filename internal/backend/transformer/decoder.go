// Package transformer adapts history-conditioned decoders to the search
// step contract. The actual network is injected as a function over the
// full token history, which is how transformer decoders consume input;
// this package owns the history bookkeeping, temperature scaling and
// normalization around it.
package transformer

import (
	"errors"
	"fmt"

	"github.com/auriga-dsp/auriga/internal/search"
	"github.com/auriga-dsp/auriga/internal/tensor"
)

// DecodeFunc maps per-row token histories and the encoder output to raw
// logits [rows x vocab]. Histories must not be retained after the call.
type DecodeFunc func(histories [][]int, enc *search.Encoded) (*tensor.Mat, error)

// Decoder drives a DecodeFunc one token at a time. Memory is the token
// history per row, so permutation is exact: a beam adopting another
// beam's path re-decodes from that path's full history.
type Decoder struct {
	vocab       int
	temperature float32
	decode      DecodeFunc
}

// New builds a decoder. temperature scales logits before normalization;
// 1 leaves them untouched.
func New(vocab int, temperature float32, decode DecodeFunc) (*Decoder, error) {
	if vocab < 2 {
		return nil, fmt.Errorf("transformer: vocab %d", vocab)
	}
	if temperature <= 0 {
		return nil, fmt.Errorf("transformer: temperature %f", temperature)
	}
	if decode == nil {
		return nil, errors.New("transformer: nil decode function")
	}
	return &Decoder{vocab: vocab, temperature: temperature, decode: decode}, nil
}

func (d *Decoder) VocabSize() int { return d.vocab }

func (d *Decoder) Reset(n int) search.Memory {
	hist := make([][]int, n)
	for i := range hist {
		hist[i] = make([]int, 0, 8)
	}
	return hist
}

func (d *Decoder) Step(tokens []int, mem search.Memory, enc *search.Encoded) (*tensor.Mat, search.Memory, *tensor.Mat, error) {
	hist, ok := mem.([][]int)
	if !ok {
		return nil, mem, nil, errors.New("transformer: foreign memory")
	}
	if len(hist) != len(tokens) {
		return nil, mem, nil, fmt.Errorf("transformer: %d tokens for %d history rows", len(tokens), len(hist))
	}
	for i, tok := range tokens {
		hist[i] = append(hist[i], tok)
	}
	logits, err := d.decode(hist, enc)
	if err != nil {
		return nil, mem, nil, fmt.Errorf("transformer: decode: %w", err)
	}
	if logits.Rows != len(hist) || logits.Cols != d.vocab {
		return nil, mem, nil, fmt.Errorf("transformer: decode returned [%d x %d], want [%d x %d]", logits.Rows, logits.Cols, len(hist), d.vocab)
	}
	if d.temperature != 1 {
		inv := 1 / d.temperature
		for i := range logits.Data {
			logits.Data[i] *= inv
		}
	}
	for r := 0; r < logits.Rows; r++ {
		tensor.LogSoftmax(logits.Row(r))
	}
	return logits, hist, nil, nil
}

// Permute copies the selected predecessor histories. Rows are deep
// copies: sibling beams extending the same predecessor must not share a
// backing array.
func (d *Decoder) Permute(mem search.Memory, index []int) (search.Memory, error) {
	hist, ok := mem.([][]int)
	if !ok {
		return mem, errors.New("transformer: foreign memory")
	}
	next := make([][]int, len(index))
	for i, j := range index {
		next[i] = append(make([]int, 0, len(hist[j])+1), hist[j]...)
	}
	return next, nil
}
