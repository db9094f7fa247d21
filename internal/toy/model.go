// Package toy provides deterministic, seed-driven fixtures: encoder
// states, frame posteriors and a ready-to-search pipeline. Nothing here
// is trained; the point is reproducible inputs for tests, the CLI demo
// and the HTTP service.
package toy

import (
	"github.com/auriga-dsp/auriga/internal/backend/recurrent"
	"github.com/auriga-dsp/auriga/internal/tensor"
)

// Encode returns batch encoder state matrices [frames x dim] filled
// deterministically from seed, one distinct fill per element.
func Encode(batch, frames, dim int, seed int64) []tensor.Mat {
	states := make([]tensor.Mat, batch)
	for i := range states {
		states[i] = tensor.NewMat(frames, dim)
		tensor.FillRand(&states[i], seed+int64(i)*101)
	}
	return states
}

// Posteriors returns a [frames x vocab] matrix of normalized frame
// log-posteriors derived from seed, shaped like the output of a CTC
// head.
func Posteriors(frames, vocab int, seed int64) tensor.Mat {
	m := tensor.NewMat(frames, vocab)
	tensor.FillRand(&m, seed)
	for t := 0; t < frames; t++ {
		tensor.LogSoftmax(m.Row(t))
	}
	return m
}

// Pipeline bundles a seeded decoder with matching encoder geometry.
type Pipeline struct {
	Model  *recurrent.Decoder
	Frames int
	seed   int64
}

// NewPipeline builds a pipeline whose decoder and encoder states share
// one seed, so two pipelines with equal parameters are interchangeable.
func NewPipeline(vocab, hidden, frames int, seed int64) (*Pipeline, error) {
	model, err := recurrent.New(vocab, hidden, seed)
	if err != nil {
		return nil, err
	}
	return &Pipeline{Model: model, Frames: frames, seed: seed}, nil
}

// Encode produces batch encoder states for this pipeline's decoder,
// all at full relative length.
func (p *Pipeline) Encode(batch int) ([]tensor.Mat, []float64) {
	states := Encode(batch, p.Frames, p.Model.Hidden, p.seed+1000)
	relLens := make([]float64, batch)
	for i := range relLens {
		relLens[i] = 1
	}
	return states, relLens
}
