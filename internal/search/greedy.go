package search

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/auriga-dsp/auriga/internal/tensor"
)

// GreedySearcher decodes one path per batch element by taking the argmax
// token at every step. It is fully deterministic: identical inputs and
// model produce identical outputs.
type GreedySearcher struct {
	model Model
	cfg   Config
}

// NewGreedySearcher builds a greedy searcher. Beam-specific options in
// cfg (beam size, EOS threshold, attention shift) are ignored.
func NewGreedySearcher(model Model, cfg Config) (*GreedySearcher, error) {
	if model == nil {
		return nil, errors.New("search: nil model")
	}
	cfg = cfg.withDefaults()
	if cfg.MinDecodeRatio < 0 || cfg.MaxDecodeRatio < cfg.MinDecodeRatio {
		return nil, fmt.Errorf("search: invalid decode ratios [%f, %f]", cfg.MinDecodeRatio, cfg.MaxDecodeRatio)
	}
	return &GreedySearcher{model: model, cfg: cfg}, nil
}

// Search runs greedy decoding over one batch of encoder states. A row
// that emits the end token is held at the end token from the following
// step on, with a zero per-token score; decoding stops once every row
// has ended or the maximum step bound is reached.
func (g *GreedySearcher) Search(ctx context.Context, states []tensor.Mat, relLens []float64) (*Result, error) {
	enc, err := NewEncoded(states, relLens)
	if err != nil {
		return nil, err
	}
	batch := enc.Batch()
	_, maxSteps := decodeBounds(g.model, g.cfg.MinDecodeRatio, g.cfg.MaxDecodeRatio, enc.MaxFrames())
	if maxSteps < 1 {
		return nil, fmt.Errorf("search: max decode steps is %d", maxSteps)
	}

	mem := g.model.Reset(batch)
	inp := make([]int, batch)
	for i := range inp {
		inp[i] = g.cfg.BOSIndex
	}
	hasEnded := make([]bool, batch)

	preds := make([][]int, batch)
	scores := make([][]float32, batch)
	for i := range preds {
		preds[i] = make([]int, 0, maxSteps)
		scores[i] = make([]float32, 0, maxSteps)
	}

	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lp, next, _, err := g.model.Step(inp, mem, enc)
		if err != nil {
			return nil, fmt.Errorf("search: step %d: %w", step, err)
		}
		mem = next

		allEnded := true
		for r := 0; r < batch; r++ {
			row := lp.Row(r)
			best := argmaxRow(row)
			if hasEnded[r] {
				// Ended rows are held at the end token with a neutral
				// score; the model still sees their argmax token so its
				// state evolution matches a batch that kept running.
				preds[r] = append(preds[r], g.cfg.EOSIndex)
				scores[r] = append(scores[r], 0)
			} else {
				preds[r] = append(preds[r], best)
				scores[r] = append(scores[r], row[best])
			}
			inp[r] = best
			if best == g.cfg.EOSIndex {
				hasEnded[r] = true
			}
			if !hasEnded[r] {
				allEnded = false
			}
		}
		if allEnded {
			break
		}
	}

	return g.extract(preds, scores), nil
}

// extract truncates each row at its first end token and reports the
// relative length abs(pos-1)/steps expected by downstream consumers.
func (g *GreedySearcher) extract(preds [][]int, scores [][]float32) *Result {
	batch := len(preds)
	res := &Result{
		Hyps:       make([][]int, batch),
		RelLengths: make([]float64, batch),
		Scores:     make([]float32, batch),
		LogProbs:   make([][]float32, batch),
	}
	for r := 0; r < batch; r++ {
		steps := len(preds[r])
		cut := steps
		for i, tok := range preds[r] {
			if tok == g.cfg.EOSIndex {
				cut = i
				break
			}
		}
		res.Hyps[r] = append([]int(nil), preds[r][:cut]...)
		res.LogProbs[r] = append([]float32(nil), scores[r][:cut]...)
		res.RelLengths[r] = math.Abs(float64(cut)-1) / float64(steps)
		var sum float32
		for _, v := range scores[r] {
			sum += v
		}
		res.Scores[r] = sum
	}
	return res
}

func argmaxRow(row []float32) int {
	best := 0
	bestV := row[0]
	for i := 1; i < len(row); i++ {
		if row[i] > bestV {
			bestV = row[i]
			best = i
		}
	}
	return best
}
