package search

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/auriga-dsp/auriga/internal/search/score"
	"github.com/auriga-dsp/auriga/internal/tensor"
)

// BeamSearcher decodes with width-K beam search. Each step runs the
// model, applies the constraint stages (minimum length, attention shift
// window, EOS threshold), fuses auxiliary scorer signals, selects the
// top-K continuations per batch element, and routes all per-beam memory
// to the chosen predecessors. Finished hypotheses collect in a bounded
// per-element pool and are ranked at the end.
//
// A searcher holds no per-call state: concurrent Search calls on the
// same searcher are safe as long as the model backend is.
type BeamSearcher struct {
	model  Model
	scorer *score.Builder
	cfg    Config

	attnWeight float32
	ctcWeight  float32
}

// NewBeamSearcher validates the configuration and the scorer pairing.
// Incompatible option combinations (length normalization with a length
// reward, a boundary-marker scorer whose blank index collides with the
// BOS or EOS index) are construction errors, never silently accepted.
func NewBeamSearcher(model Model, scorer *score.Builder, cfg Config) (*BeamSearcher, error) {
	if model == nil {
		return nil, errors.New("search: nil model")
	}
	cfg = cfg.withDefaults()
	if cfg.BeamSize < 1 {
		return nil, fmt.Errorf("search: beam size %d", cfg.BeamSize)
	}
	if cfg.TopK < 1 || cfg.TopK > cfg.BeamSize {
		return nil, fmt.Errorf("search: topk %d out of [1, beam size %d]", cfg.TopK, cfg.BeamSize)
	}
	if cfg.MinDecodeRatio < 0 || cfg.MaxDecodeRatio < cfg.MinDecodeRatio {
		return nil, fmt.Errorf("search: invalid decode ratios [%f, %f]", cfg.MinDecodeRatio, cfg.MaxDecodeRatio)
	}
	s := &BeamSearcher{model: model, scorer: scorer, cfg: cfg, attnWeight: 1}
	if scorer != nil {
		if cfg.LengthNormalization && scorer.Weight("length") > 0 {
			return nil, errors.New("search: length normalization is not compatible with length rewarding")
		}
		if w := scorer.Weight("ctc"); w > 0 {
			blank, ok := scorer.BlankIndex()
			if !ok {
				return nil, errors.New("search: ctc weight set but scorer exposes no blank index")
			}
			if blank == cfg.BOSIndex || blank == cfg.EOSIndex || cfg.BOSIndex == cfg.EOSIndex {
				return nil, errors.New("search: blank, bos and eos must be pairwise distinct for joint CTC decoding")
			}
			s.ctcWeight = w
			s.attnWeight = 1 - w
		}
	}
	return s, nil
}

// searchState bundles everything one Search call mutates. Allocated
// fresh per call and dropped at its end; nothing survives across calls.
type searchState struct {
	enc        *Encoded
	batch, nBH int
	vocab      int
	minSteps   int
	maxSteps   int

	alive      *aliveHypotheses
	pools      [][]Hypothesis
	beamOffset []int

	mem       Memory
	scorerMem score.Memory

	inp          []int
	prevAttnPeak []int

	// Per-step scratch.
	sel        *topKList
	pred       []int
	toks       []int
	stepScores []float32
	chosenLogp []float32
}

// Search runs beam search over one batch of encoder states with
// relative valid lengths in [0, 1]. All errors are fatal for the call;
// nothing is retried internally.
func (s *BeamSearcher) Search(ctx context.Context, states []tensor.Mat, relLens []float64) (*Result, error) {
	enc, err := NewEncoded(states, relLens)
	if err != nil {
		return nil, err
	}
	st, err := s.initState(enc)
	if err != nil {
		return nil, err
	}

	for step := 0; step < st.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.fullPools(st.pools) {
			break
		}
		if err := s.searchStep(st, step); err != nil {
			return nil, err
		}
	}

	s.fillPools(st)
	return s.rank(st), nil
}

func (s *BeamSearcher) initState(enc *Encoded) (*searchState, error) {
	batch := enc.Batch()
	k := s.cfg.BeamSize
	nBH := batch * k

	minSteps, maxSteps := decodeBounds(s.model, s.cfg.MinDecodeRatio, s.cfg.MaxDecodeRatio, enc.MaxFrames())
	if maxSteps < 0 {
		maxSteps = 0
	}

	st := &searchState{
		enc:          enc.inflate(k),
		batch:        batch,
		nBH:          nBH,
		vocab:        s.model.VocabSize(),
		minSteps:     minSteps,
		maxSteps:     maxSteps,
		pools:        make([][]Hypothesis, batch),
		beamOffset:   make([]int, batch),
		inp:          make([]int, nBH),
		prevAttnPeak: make([]int, nBH),
		sel:          newTopKList(k),
		pred:         make([]int, nBH),
		toks:         make([]int, nBH),
		stepScores:   make([]float32, nBH),
		chosenLogp:   make([]float32, nBH),
	}
	for b := range st.beamOffset {
		st.beamOffset[b] = b * k
	}
	st.alive = newAliveHypotheses(nBH, maxSteps, st.beamOffset)
	for i := range st.inp {
		st.inp[i] = s.cfg.BOSIndex
	}
	st.mem = s.model.Reset(nBH)
	if s.scorer != nil {
		mem, err := s.scorer.Reset(st.enc.States, st.enc.Lens)
		if err != nil {
			return nil, fmt.Errorf("search: scorer reset: %w", err)
		}
		st.scorerMem = mem
	}
	return st, nil
}

func (s *BeamSearcher) searchStep(st *searchState, step int) error {
	var lp, attn *tensor.Mat
	if s.attnWeight > 0 {
		out, mem, at, err := s.model.Step(st.inp, st.mem, st.enc)
		if err != nil {
			return fmt.Errorf("search: step %d: %w", step, err)
		}
		st.mem = mem
		if out.Rows != st.nBH || out.Cols != st.vocab {
			return fmt.Errorf("search: step %d returned [%d x %d] log-probs, want [%d x %d]", step, out.Rows, out.Cols, st.nBH, st.vocab)
		}
		lp, attn = out, at
		if s.attnWeight != 1 {
			for i := range lp.Data {
				lp.Data[i] *= s.attnWeight
			}
		}
	} else {
		// Pure auxiliary-scorer decoding: the base model never runs and
		// contributes a flat zero distribution.
		zero := tensor.NewMat(st.nBH, st.vocab)
		lp = &zero
	}

	// The clone keeps the pre-constraint values; per-token log-probs in
	// the hypothesis arena must not carry masking sentinels.
	clone := lp.Clone()

	if s.cfg.UsingMaxAttnShift && attn != nil {
		s.maskAttnShift(st, lp, attn)
	}
	if step < st.minSteps {
		for i := 0; i < st.nBH; i++ {
			lp.Row(i)[s.cfg.EOSIndex] = s.cfg.MinusInf
		}
	}
	if s.cfg.UsingEOSThreshold {
		s.maskEOSThreshold(st, lp)
	}
	if s.scorer != nil {
		fused, mem, err := s.scorer.Score(st.inp, st.scorerMem, attn, lp)
		if err != nil {
			return fmt.Errorf("search: scorer step %d: %w", step, err)
		}
		lp = fused
		st.scorerMem = mem
	}

	s.selectTopK(st, lp, step)

	if s.attnWeight > 0 {
		mem, err := s.model.Permute(st.mem, st.pred)
		if err != nil {
			return fmt.Errorf("search: memory permutation: %w", err)
		}
		st.mem = mem
	}
	if s.scorer != nil {
		st.scorerMem = s.scorer.Permute(st.scorerMem, st.pred, st.toks)
	}
	if s.cfg.UsingMaxAttnShift {
		permuteInts(st.prevAttnPeak, st.pred)
	}

	for i := 0; i < st.nBH; i++ {
		st.chosenLogp[i] = clone.Row(st.pred[i])[st.toks[i]]
	}
	st.alive.append(st.pred, st.toks, st.chosenLogp)

	// Terminator: move freshly ended beams into their pool and freeze
	// them at -Inf so they can never win selection again. Index slots
	// stay stable; nothing is removed.
	for i := 0; i < st.nBH; i++ {
		if st.toks[i] != s.cfg.EOSIndex {
			continue
		}
		b := i / s.cfg.BeamSize
		if len(st.pools[b]) < s.cfg.BeamSize {
			st.pools[b] = append(st.pools[b], Hypothesis{
				Tokens:   append([]int(nil), st.alive.seqRow(i)...),
				LogProbs: append([]float32(nil), st.alive.logpRow(i)...),
				Score:    st.stepScores[i],
			})
		}
		st.alive.scores[i] = negInf
	}

	copy(st.inp, st.toks)
	return nil
}

// maskAttnShift computes each row's attention peak and masks the whole
// row when the peak jumped out of the window around the previous peak.
func (s *BeamSearcher) maskAttnShift(st *searchState, lp, attn *tensor.Mat) {
	shift := s.cfg.MaxAttnShift
	for i := 0; i < st.nBH; i++ {
		peak := tensor.Argmax(attn.Row(i))
		ok := peak <= st.prevAttnPeak[i]+shift && peak > st.prevAttnPeak[i]-shift
		st.prevAttnPeak[i] = peak
		if !ok {
			row := lp.Row(i)
			for v := range row {
				row[v] = s.cfg.MinusInf
			}
		}
	}
}

// maskEOSThreshold blocks the end token on rows where its log-probability
// does not exceed threshold * max(log-probability). See Config for why
// the comparison looks inverted.
func (s *BeamSearcher) maskEOSThreshold(st *searchState, lp *tensor.Mat) {
	for i := 0; i < st.nBH; i++ {
		row := lp.Row(i)
		if row[s.cfg.EOSIndex] <= s.cfg.EOSThreshold*tensor.Max(row) {
			row[s.cfg.EOSIndex] = s.cfg.MinusInf
		}
	}
}

// selectTopK picks the K best (beam, token) continuations per batch
// element from the flattened beam*vocab candidate space. Candidate score
// is the predecessor's cumulative score plus the candidate log-prob,
// divided by (step+1) under length normalization for ranking only. Ties
// resolve to the lowest flat candidate index. The flat winner index
// decomposes into predecessor (index / vocab, offset by the element's
// beam base) and token (index % vocab).
func (s *BeamSearcher) selectTopK(st *searchState, lp *tensor.Mat, step int) {
	k := s.cfg.BeamSize
	norm := float32(1)
	if s.cfg.LengthNormalization {
		norm = 1 / float32(step+1)
	}
	for b := 0; b < st.batch; b++ {
		st.sel.reset()
		for beam := 0; beam < k; beam++ {
			row := st.beamOffset[b] + beam
			base := st.alive.scores[row]
			lpRow := lp.Row(row)
			flat := beam * st.vocab
			for v := 0; v < st.vocab; v++ {
				st.sel.push(flat+v, (base+lpRow[v])*norm)
			}
		}
		for rank := 0; rank < k; rank++ {
			i := st.beamOffset[b] + rank
			flat := st.sel.idx[rank]
			st.stepScores[i] = st.sel.val[rank]
			st.toks[i] = flat % st.vocab
			st.pred[i] = flat/st.vocab + st.beamOffset[b]
			// Ranking used the normalized score; the stored cumulative
			// magnitude never does.
			st.alive.scores[i] = st.stepScores[i]
			if s.cfg.LengthNormalization {
				st.alive.scores[i] *= float32(step + 1)
			}
		}
	}
}

func (s *BeamSearcher) fullPools(pools [][]Hypothesis) bool {
	for _, p := range pools {
		if len(p) < s.cfg.BeamSize {
			return false
		}
	}
	return true
}

// fillPools force-completes under-populated pools at the step limit by
// treating every live beam as if it had just emitted the end token. The
// partial sequences are used as-is; this guarantees at least one result
// per batch element and is not an error.
func (s *BeamSearcher) fillPools(st *searchState) {
	if s.fullPools(st.pools) {
		return
	}
	for i := 0; i < st.nBH; i++ {
		b := i / s.cfg.BeamSize
		if len(st.pools[b]) >= s.cfg.BeamSize {
			continue
		}
		st.pools[b] = append(st.pools[b], Hypothesis{
			Tokens:   append([]int(nil), st.alive.seqRow(i)...),
			LogProbs: append([]float32(nil), st.alive.logpRow(i)...),
			Score:    st.stepScores[i],
		})
	}
}

// rank orders every pool by final score descending, keeps the requested
// top-K, and derives the shared relative-length convention from the
// longest completed hypothesis.
func (s *BeamSearcher) rank(st *searchState) *Result {
	maxLen := 1
	for _, pool := range st.pools {
		for _, h := range pool {
			if len(h.Tokens) > maxLen {
				maxLen = len(h.Tokens)
			}
		}
	}

	res := &Result{
		Hyps:       make([][]int, st.batch),
		RelLengths: make([]float64, st.batch),
		Scores:     make([]float32, st.batch),
		LogProbs:   make([][]float32, st.batch),
	}
	if s.cfg.ReturnTopK {
		res.TopK = make([][]Hypothesis, st.batch)
	}

	sel := newTopKList(s.cfg.TopK)
	for b := 0; b < st.batch; b++ {
		sel.reset()
		for i, h := range st.pools[b] {
			sel.push(i, h.Score)
		}
		ranked := make([]Hypothesis, len(sel.idx))
		for r, i := range sel.idx {
			h := st.pools[b][i]
			h.RelLength = math.Abs(float64(len(h.Tokens))-1) / float64(maxLen)
			ranked[r] = h
		}
		if s.cfg.ReturnTopK {
			res.TopK[b] = ranked
		}

		best := ranked[0]
		cut := int(math.Round(best.RelLength * float64(maxLen)))
		if cut > len(best.Tokens) {
			cut = len(best.Tokens)
		}
		res.Hyps[b] = best.Tokens[:cut]
		res.RelLengths[b] = best.RelLength
		res.Scores[b] = best.Score
		res.LogProbs[b] = best.LogProbs
	}
	return res
}

func permuteInts(x []int, index []int) {
	tmp := make([]int, len(x))
	for i, j := range index {
		tmp[i] = x[j]
	}
	copy(x, tmp)
}
