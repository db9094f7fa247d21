// Package score fuses auxiliary scoring signals into beam search. Each
// scorer contributes an additive log-domain term over the vocabulary,
// weighted by a configured non-negative weight, and may keep its own
// per-beam memory which the search loop permutes in lockstep with the
// model's.
package score

import (
	"errors"
	"fmt"
	"sort"

	"github.com/auriga-dsp/auriga/internal/tensor"
)

// Memory is opaque per-beam scorer state, threaded and permuted by the
// search loop exactly like model memory.
type Memory any

// Scorer is one auxiliary scoring signal over the full vocabulary.
type Scorer interface {
	// Reset prepares per-beam memory for a new utterance. states and
	// lens are already inflated to one row per beam.
	Reset(states []*tensor.Mat, lens []int) (Memory, error)

	// Score returns this scorer's additive contribution [rows x vocab]
	// for the current step, plus updated memory. attn may be nil when
	// the backend exposes no attention.
	Score(tokens []int, mem Memory, attn *tensor.Mat, logProbs *tensor.Mat) (*tensor.Mat, Memory, error)

	// Permute reorders per-beam memory to follow selection routing:
	// row i afterwards derives from row index[i] extended with token
	// candidates[i].
	Permute(mem Memory, index []int, candidates []int) Memory
}

// BlankIndexer is implemented by scorers built around a sequence
// boundary marker (CTC blank). The search constructor uses it to verify
// the marker cannot collide with the BOS/EOS indices.
type BlankIndexer interface {
	BlankIndex() int
}

// Builder combines named scorers under one weight table. The reserved
// weight name "length" is a per-step constant reward applied without a
// scorer; the name "ctc" additionally drives the attention/CTC weight
// split in the beam searcher.
type Builder struct {
	names   []string
	scorers map[string]Scorer
	weights map[string]float32
}

// NewBuilder validates weights and pairs them with scorers. Every scorer
// must have a weight; weights must be non-negative. A weight with no
// matching scorer is an error unless it is the reserved "length" name.
func NewBuilder(scorers map[string]Scorer, weights map[string]float32) (*Builder, error) {
	for name, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("score: negative weight %f for %q", w, name)
		}
		if name == "length" {
			continue
		}
		if _, ok := scorers[name]; !ok {
			return nil, fmt.Errorf("score: weight for unknown scorer %q", name)
		}
	}
	names := make([]string, 0, len(scorers))
	for name := range scorers {
		if name == "length" {
			return nil, errors.New(`score: "length" is a reserved weight name, not a scorer`)
		}
		if _, ok := weights[name]; !ok {
			return nil, fmt.Errorf("score: scorer %q has no weight", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return &Builder{names: names, scorers: scorers, weights: weights}, nil
}

// Weight returns the configured weight for name, zero if absent.
func (b *Builder) Weight(name string) float32 {
	return b.weights[name]
}

// BlankIndex reports the boundary-marker index of the "ctc" scorer.
func (b *Builder) BlankIndex() (int, bool) {
	s, ok := b.scorers["ctc"]
	if !ok {
		return 0, false
	}
	bi, ok := s.(BlankIndexer)
	if !ok {
		return 0, false
	}
	return bi.BlankIndex(), true
}

// Reset initializes memory for every scorer.
func (b *Builder) Reset(states []*tensor.Mat, lens []int) (Memory, error) {
	mems := make(map[string]Memory, len(b.names))
	for _, name := range b.names {
		mem, err := b.scorers[name].Reset(states, lens)
		if err != nil {
			return nil, fmt.Errorf("score: reset %q: %w", name, err)
		}
		mems[name] = mem
	}
	return mems, nil
}

// Score adds every weighted scorer contribution to logProbs in place and
// returns it. Scorers with a zero weight still run so their memory stays
// aligned, matching the routing contract.
func (b *Builder) Score(tokens []int, mem Memory, attn *tensor.Mat, logProbs *tensor.Mat) (*tensor.Mat, Memory, error) {
	mems, _ := mem.(map[string]Memory)
	for _, name := range b.names {
		contrib, next, err := b.scorers[name].Score(tokens, mems[name], attn, logProbs)
		if err != nil {
			return nil, mem, fmt.Errorf("score: %q: %w", name, err)
		}
		mems[name] = next
		w := b.weights[name]
		if w == 0 {
			continue
		}
		for i := range logProbs.Data {
			logProbs.Data[i] += w * contrib.Data[i]
		}
	}
	if w := b.weights["length"]; w > 0 {
		// Constant per-token reward: every candidate gets it, so longer
		// surviving paths accumulate more.
		for i := range logProbs.Data {
			logProbs.Data[i] += w
		}
	}
	return logProbs, mems, nil
}

// Permute routes every scorer's memory to the selected predecessors.
func (b *Builder) Permute(mem Memory, index []int, candidates []int) Memory {
	mems, _ := mem.(map[string]Memory)
	for _, name := range b.names {
		mems[name] = b.scorers[name].Permute(mems[name], index, candidates)
	}
	return mems
}
