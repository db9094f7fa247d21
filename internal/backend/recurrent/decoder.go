// Package recurrent implements a compact attention decoder backend: an
// embedding table, a tanh recurrence, content-based attention over the
// encoder frames and a projection to vocabulary log-probabilities. It is
// small enough to run deterministically in tests yet exercises the full
// step contract, including real attention and memory permutation.
package recurrent

import (
	"errors"
	"fmt"
	"math"

	"github.com/auriga-dsp/auriga/internal/search"
	"github.com/auriga-dsp/auriga/internal/tensor"
)

// Decoder holds the parameters. Encoder frames must have dimension
// Hidden so content attention can dot them against the decoder state.
type Decoder struct {
	Vocab  int
	Hidden int

	Emb tensor.Mat // [Vocab x Hidden]
	Wx  tensor.Mat // [Hidden x Hidden] input to hidden
	Wh  tensor.Mat // [Hidden x Hidden] hidden to hidden
	Bh  []float32  // [Hidden]
	Wo  tensor.Mat // [2*Hidden x Vocab] concat(state, context) to logits
	Bo  []float32  // [Vocab]
}

type memory struct {
	h tensor.Mat // [rows x Hidden]
}

// New builds a decoder with weights filled deterministically from seed.
func New(vocab, hidden int, seed int64) (*Decoder, error) {
	if vocab < 2 || hidden < 1 {
		return nil, fmt.Errorf("recurrent: vocab %d, hidden %d", vocab, hidden)
	}
	d := &Decoder{
		Vocab:  vocab,
		Hidden: hidden,
		Emb:    tensor.NewMat(vocab, hidden),
		Wx:     tensor.NewMat(hidden, hidden),
		Wh:     tensor.NewMat(hidden, hidden),
		Bh:     make([]float32, hidden),
		Wo:     tensor.NewMat(2*hidden, vocab),
		Bo:     make([]float32, vocab),
	}
	tensor.FillRand(&d.Emb, seed+11)
	tensor.FillRand(&d.Wx, seed+23)
	tensor.FillRand(&d.Wh, seed+37)
	tensor.FillRand(&d.Wo, seed+53)
	return d, nil
}

func (d *Decoder) VocabSize() int { return d.Vocab }

func (d *Decoder) Reset(n int) search.Memory {
	return &memory{h: tensor.NewMat(n, d.Hidden)}
}

// Step advances every row: embed the token, run the recurrence, attend
// over the row's valid encoder frames and project to log-probabilities.
// The returned attention matrix is [rows x frames] with zero mass on
// padded frames.
func (d *Decoder) Step(tokens []int, mem search.Memory, enc *search.Encoded) (*tensor.Mat, search.Memory, *tensor.Mat, error) {
	m, ok := mem.(*memory)
	if !ok {
		return nil, mem, nil, errors.New("recurrent: foreign memory")
	}
	n := len(tokens)
	if m.h.Rows != n || len(enc.States) != n {
		return nil, mem, nil, fmt.Errorf("recurrent: %d tokens, %d memory rows, %d encoder rows", n, m.h.Rows, len(enc.States))
	}
	frames := enc.MaxFrames()

	next := tensor.NewMat(n, d.Hidden)
	attn := tensor.NewMat(n, frames)
	lp := tensor.NewMat(n, d.Vocab)

	pre := make([]float32, d.Hidden)
	cat := make([]float32, 2*d.Hidden)
	for i := 0; i < n; i++ {
		tok := tokens[i]
		if tok < 0 || tok >= d.Vocab {
			return nil, mem, nil, fmt.Errorf("recurrent: token %d outside vocab %d", tok, d.Vocab)
		}
		st := enc.States[i]
		if st.Cols != d.Hidden {
			return nil, mem, nil, fmt.Errorf("recurrent: encoder dim %d, want %d", st.Cols, d.Hidden)
		}

		tensor.Gemv(pre, d.Emb.Row(tok), &d.Wx, d.Bh)
		h := next.Row(i)
		tensor.Gemv(h, m.h.Row(i), &d.Wh, nil)
		for j := range h {
			h[j] = float32(math.Tanh(float64(h[j] + pre[j])))
		}

		valid := enc.Lens[i]
		if valid < 1 {
			valid = 1
		}
		aRow := attn.Row(i)
		for t := 0; t < valid; t++ {
			aRow[t] = tensor.Dot(h, st.Row(t))
		}
		tensor.Softmax(aRow[:valid])

		ctx := cat[d.Hidden:]
		for j := range ctx {
			ctx[j] = 0
		}
		for t := 0; t < valid; t++ {
			tensor.Axpy(aRow[t], st.Row(t), ctx)
		}
		copy(cat[:d.Hidden], h)

		out := lp.Row(i)
		tensor.Gemv(out, cat, &d.Wo, d.Bo)
		tensor.LogSoftmax(out)
	}

	return &lp, &memory{h: next}, &attn, nil
}

// Permute gathers the hidden-state rows into the predecessor order.
func (d *Decoder) Permute(mem search.Memory, index []int) (search.Memory, error) {
	m, ok := mem.(*memory)
	if !ok {
		return mem, errors.New("recurrent: foreign memory")
	}
	next := tensor.NewMat(m.h.Rows, m.h.Cols)
	tensor.GatherRows(&next, &m.h, index)
	return &memory{h: next}, nil
}
