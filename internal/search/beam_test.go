package search

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/auriga-dsp/auriga/internal/search/score"
	"github.com/auriga-dsp/auriga/internal/tensor"
)

// fakeModel is a scripted backend. Memory is a lineage id per row so
// tests can observe how beams are routed; logits is called per row with
// the decode step, row index, input token and the row's lineage id.
type fakeModel struct {
	vocab  int
	frames int
	step   int

	logits     func(step, row, tok, id int) []float32
	attnPeak   func(step, row int) int
	permutes   [][]int
	permuteErr error
}

func (f *fakeModel) VocabSize() int { return f.vocab }

func (f *fakeModel) Reset(n int) Memory {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

func (f *fakeModel) Step(tokens []int, mem Memory, enc *Encoded) (*tensor.Mat, Memory, *tensor.Mat, error) {
	ids := mem.([]int)
	lp := tensor.NewMat(len(tokens), f.vocab)
	for r, tok := range tokens {
		copy(lp.Row(r), f.logits(f.step, r, tok, ids[r]))
	}
	var attn *tensor.Mat
	if f.attnPeak != nil {
		a := tensor.NewMat(len(tokens), f.frames)
		for r := range tokens {
			a.Row(r)[f.attnPeak(f.step, r)] = 1
		}
		attn = &a
	}
	f.step++
	return &lp, ids, attn, nil
}

func (f *fakeModel) Permute(mem Memory, index []int) (Memory, error) {
	if f.permuteErr != nil {
		return mem, f.permuteErr
	}
	ids := mem.([]int)
	f.permutes = append(f.permutes, append([]int(nil), index...))
	next := make([]int, len(index))
	for i, j := range index {
		next[i] = ids[j]
	}
	return next, nil
}

// rowConst builds a logit row with a default value and point overrides.
func rowConst(vocab int, def float32, overrides map[int]float32) []float32 {
	row := make([]float32, vocab)
	for i := range row {
		row[i] = def
	}
	for k, v := range overrides {
		row[k] = v
	}
	return row
}

func encStates(batch, frames, dim int) ([]tensor.Mat, []float64) {
	states := make([]tensor.Mat, batch)
	relLens := make([]float64, batch)
	for i := range states {
		states[i] = tensor.NewMat(frames, dim)
		relLens[i] = 1
	}
	return states, relLens
}

// Shared vocabulary for the scripted tests: 0 = start, 1 = end, 2 and 3
// are content tokens.
func baseConfig() Config {
	return Config{
		BOSIndex:       0,
		EOSIndex:       1,
		MinDecodeRatio: 0,
		MaxDecodeRatio: 1,
		BeamSize:       2,
		TopK:           1,
	}
}

func TestBeamEndsOnEOSAndTrimsIt(t *testing.T) {
	t.Parallel()

	model := &fakeModel{vocab: 4, logits: func(step, row, tok, id int) []float32 {
		if step == 0 {
			return rowConst(4, -5, map[int]float32{2: -0.1, 3: -0.3})
		}
		return rowConst(4, -5, map[int]float32{1: -0.01, 2: -0.1})
	}}
	cfg := baseConfig()
	cfg.BeamSize = 1
	s, err := NewBeamSearcher(model, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	states, relLens := encStates(1, 5, 2)
	res, err := s.Search(context.Background(), states, relLens)
	if err != nil {
		t.Fatal(err)
	}

	if model.step != 2 {
		t.Fatalf("decoded %d steps, want early stop at 2", model.step)
	}
	// The completed hypothesis is [2, end]; the reported sequence drops
	// the trailing end token.
	if len(res.Hyps[0]) != 1 || res.Hyps[0][0] != 2 {
		t.Fatalf("hyp %v, want [2]", res.Hyps[0])
	}
	if len(res.LogProbs[0]) != 2 {
		t.Fatalf("logprobs %v, want two entries", res.LogProbs[0])
	}
	want := float32(-0.1 + -0.01)
	if diff := res.Scores[0] - want; diff > 1e-5 || diff < -1e-5 {
		t.Fatalf("score %f, want %f", res.Scores[0], want)
	}
}

func TestBeamMinimumStepsMaskEnd(t *testing.T) {
	t.Parallel()

	model := &fakeModel{vocab: 4, logits: func(step, row, tok, id int) []float32 {
		return rowConst(4, -1, map[int]float32{1: -0.01})
	}}
	cfg := baseConfig()
	cfg.BeamSize = 1
	cfg.MinDecodeRatio = 0.5
	s, err := NewBeamSearcher(model, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	states, relLens := encStates(1, 4, 2)
	res, err := s.Search(context.Background(), states, relLens)
	if err != nil {
		t.Fatal(err)
	}

	// minSteps = round(4*0.5) = 2, so the end token is first allowed at
	// step 2 and the completed hypothesis carries three tokens.
	if len(res.LogProbs[0]) != 3 {
		t.Fatalf("logprobs %v, want three entries", res.LogProbs[0])
	}
	last := res.LogProbs[0][2]
	if diff := last - -0.01; diff > 1e-5 || diff < -1e-5 {
		t.Fatalf("end token logprob %f, want -0.01", last)
	}
}

func TestBeamEOSThresholdBlocksWeakEnd(t *testing.T) {
	t.Parallel()

	// End token at -0.2 against a -0.1 maximum: the threshold comparison
	// is in the log domain, so -0.2 <= 1.5*-0.1 blocks it.
	logits := func(step, row, tok, id int) []float32 {
		return rowConst(4, -5, map[int]float32{2: -0.1, 1: -0.2, 3: -0.25})
	}

	run := func(useThreshold bool) *fakeModel {
		model := &fakeModel{vocab: 4, logits: logits}
		cfg := baseConfig()
		cfg.UsingEOSThreshold = useThreshold
		s, err := NewBeamSearcher(model, nil, cfg)
		if err != nil {
			t.Fatal(err)
		}
		states, relLens := encStates(1, 3, 2)
		if _, err := s.Search(context.Background(), states, relLens); err != nil {
			t.Fatal(err)
		}
		return model
	}

	if got := run(false).step; got != 2 {
		t.Fatalf("without threshold decoded %d steps, want pools full at 2", got)
	}
	if got := run(true).step; got != 3 {
		t.Fatalf("with threshold decoded %d steps, want the full 3", got)
	}
}

func TestBeamForcedFillWithoutEnd(t *testing.T) {
	t.Parallel()

	model := &fakeModel{vocab: 4, logits: func(step, row, tok, id int) []float32 {
		return rowConst(4, -5, map[int]float32{2: -0.1, 3: -0.3})
	}}
	s, err := NewBeamSearcher(model, nil, baseConfig())
	if err != nil {
		t.Fatal(err)
	}
	states, relLens := encStates(1, 3, 2)
	res, err := s.Search(context.Background(), states, relLens)
	if err != nil {
		t.Fatal(err)
	}

	// No beam ever produced the end token; the pool is force-filled from
	// the live beams. Completed length 3 over a longest hypothesis of 3
	// reports relative length 2/3, so one trailing token is dropped.
	if len(res.LogProbs[0]) != 3 {
		t.Fatalf("logprobs %v, want three entries", res.LogProbs[0])
	}
	if len(res.Hyps[0]) != 2 || res.Hyps[0][0] != 2 || res.Hyps[0][1] != 2 {
		t.Fatalf("hyp %v, want [2 2]", res.Hyps[0])
	}
}

func TestBeamDeterministicTieBreak(t *testing.T) {
	t.Parallel()

	newSearcher := func() (*BeamSearcher, *fakeModel) {
		model := &fakeModel{vocab: 5, logits: func(step, row, tok, id int) []float32 {
			return rowConst(5, -1, nil)
		}}
		cfg := baseConfig()
		cfg.EOSIndex = 4
		s, err := NewBeamSearcher(model, nil, cfg)
		if err != nil {
			t.Fatal(err)
		}
		return s, model
	}

	states, relLens := encStates(1, 3, 2)
	s1, _ := newSearcher()
	r1, err := s1.Search(context.Background(), states, relLens)
	if err != nil {
		t.Fatal(err)
	}
	s2, _ := newSearcher()
	r2, err := s2.Search(context.Background(), states, relLens)
	if err != nil {
		t.Fatal(err)
	}

	// All candidates tie, so every selection resolves to the lowest flat
	// index: the surviving best path is all token 0.
	for _, tok := range r1.Hyps[0] {
		if tok != 0 {
			t.Fatalf("hyp %v, want all zeros", r1.Hyps[0])
		}
	}
	if r1.Scores[0] != r2.Scores[0] || len(r1.Hyps[0]) != len(r2.Hyps[0]) {
		t.Fatalf("runs diverge: %v/%f vs %v/%f", r1.Hyps[0], r1.Scores[0], r2.Hyps[0], r2.Scores[0])
	}
}

func TestBeamRoutesMemoryToPredecessors(t *testing.T) {
	t.Parallel()

	model := &fakeModel{vocab: 4, logits: func(step, row, tok, id int) []float32 {
		if step == 0 {
			return rowConst(4, -5, map[int]float32{2: -0.1, 3: -0.2})
		}
		// Each beam prefers continuing its own token, keeping lineages
		// separable.
		if tok == 2 {
			return rowConst(4, -1, map[int]float32{2: -0.1})
		}
		return rowConst(4, -1, map[int]float32{3: -0.15})
	}}
	s, err := NewBeamSearcher(model, nil, baseConfig())
	if err != nil {
		t.Fatal(err)
	}
	states, relLens := encStates(1, 3, 2)
	if _, err := s.Search(context.Background(), states, relLens); err != nil {
		t.Fatal(err)
	}

	if len(model.permutes) < 2 {
		t.Fatalf("recorded %d permutations", len(model.permutes))
	}
	// Step 0: only the seed beam is viable, so both rows extend it.
	if model.permutes[0][0] != 0 || model.permutes[0][1] != 0 {
		t.Fatalf("step 0 routing %v, want [0 0]", model.permutes[0])
	}
	// Step 1: each beam continues itself.
	if model.permutes[1][0] != 0 || model.permutes[1][1] != 1 {
		t.Fatalf("step 1 routing %v, want [0 1]", model.permutes[1])
	}
	for _, perm := range model.permutes {
		for _, j := range perm {
			if j < 0 || j >= 2 {
				t.Fatalf("routing index %d out of range", j)
			}
		}
	}
}

func TestBeamPermuteFailureIsFatal(t *testing.T) {
	t.Parallel()

	model := &fakeModel{
		vocab:      4,
		permuteErr: ErrPermuteUnsupported,
		logits: func(step, row, tok, id int) []float32 {
			return rowConst(4, -1, nil)
		},
	}
	s, err := NewBeamSearcher(model, nil, baseConfig())
	if err != nil {
		t.Fatal(err)
	}
	states, relLens := encStates(1, 3, 2)
	_, err = s.Search(context.Background(), states, relLens)
	if !errors.Is(err, ErrPermuteUnsupported) {
		t.Fatalf("err = %v, want ErrPermuteUnsupported", err)
	}
}

func TestBeamAttentionShiftMasksJumps(t *testing.T) {
	t.Parallel()

	run := func(useShift bool) float32 {
		model := &fakeModel{
			vocab:  4,
			frames: 60,
			logits: func(step, row, tok, id int) []float32 {
				return rowConst(4, -2, map[int]float32{2: -0.1, 1: -3})
			},
			attnPeak: func(step, row int) int {
				if step == 0 {
					return 0
				}
				return 50
			},
		}
		cfg := baseConfig()
		cfg.BeamSize = 1
		cfg.MaxDecodeRatio = 0.05
		cfg.UsingMaxAttnShift = useShift
		cfg.MaxAttnShift = 3
		s, err := NewBeamSearcher(model, nil, cfg)
		if err != nil {
			t.Fatal(err)
		}
		states, relLens := encStates(1, 60, 2)
		res, err := s.Search(context.Background(), states, relLens)
		if err != nil {
			t.Fatal(err)
		}
		return res.Scores[0]
	}

	if got := run(true); got > -1e19 {
		t.Fatalf("masked run score %f, want sentinel magnitude", got)
	}
	if got := run(false); got < -10 {
		t.Fatalf("unmasked run score %f, want small magnitude", got)
	}
}

func TestBeamLengthNormalization(t *testing.T) {
	t.Parallel()

	run := func(normalize bool) *Result {
		model := &fakeModel{vocab: 4, logits: func(step, row, tok, id int) []float32 {
			if step < 2 {
				return rowConst(4, -9, map[int]float32{2: -1})
			}
			return rowConst(4, -9, map[int]float32{1: -0.2, 2: -1})
		}}
		cfg := baseConfig()
		cfg.BeamSize = 1
		cfg.LengthNormalization = normalize
		s, err := NewBeamSearcher(model, nil, cfg)
		if err != nil {
			t.Fatal(err)
		}
		states, relLens := encStates(1, 5, 2)
		res, err := s.Search(context.Background(), states, relLens)
		if err != nil {
			t.Fatal(err)
		}
		return res
	}

	raw := run(false)
	if diff := float64(raw.Scores[0]) - -2.2; math.Abs(diff) > 1e-5 {
		t.Fatalf("raw score %f, want -2.2", raw.Scores[0])
	}
	norm := run(true)
	if diff := float64(norm.Scores[0]) - -2.2/3; math.Abs(diff) > 1e-5 {
		t.Fatalf("normalized score %f, want %f", norm.Scores[0], -2.2/3)
	}
	// Per-token log-probabilities are identical either way.
	for i, v := range norm.LogProbs[0] {
		if v != raw.LogProbs[0][i] {
			t.Fatalf("logprobs diverge at %d: %f vs %f", i, v, raw.LogProbs[0][i])
		}
	}
}

func TestBeamReturnTopK(t *testing.T) {
	t.Parallel()

	model := &fakeModel{vocab: 4, logits: func(step, row, tok, id int) []float32 {
		if step == 0 {
			return rowConst(4, -5, map[int]float32{2: -0.1, 3: -0.3})
		}
		return rowConst(4, -5, map[int]float32{1: -0.01, 2: -0.1})
	}}
	cfg := baseConfig()
	cfg.TopK = 2
	cfg.ReturnTopK = true
	s, err := NewBeamSearcher(model, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	states, relLens := encStates(1, 5, 2)
	res, err := s.Search(context.Background(), states, relLens)
	if err != nil {
		t.Fatal(err)
	}

	if len(res.TopK[0]) != 2 {
		t.Fatalf("returned %d hypotheses, want 2", len(res.TopK[0]))
	}
	if res.TopK[0][0].Score < res.TopK[0][1].Score {
		t.Fatalf("hypotheses out of order: %f then %f", res.TopK[0][0].Score, res.TopK[0][1].Score)
	}
	if res.TopK[0][0].Score != res.Scores[0] {
		t.Fatalf("best score %f disagrees with Scores %f", res.TopK[0][0].Score, res.Scores[0])
	}
}

func TestBeamZeroFrameInputCompletesEmpty(t *testing.T) {
	t.Parallel()

	model := &fakeModel{vocab: 4, logits: func(step, row, tok, id int) []float32 {
		t.Fatal("model stepped with no decode budget")
		return nil
	}}
	s, err := NewBeamSearcher(model, nil, baseConfig())
	if err != nil {
		t.Fatal(err)
	}
	states := []tensor.Mat{tensor.NewMat(0, 2)}
	res, err := s.Search(context.Background(), states, []float64{0})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hyps[0]) != 0 {
		t.Fatalf("hyp %v, want empty", res.Hyps[0])
	}
}

func TestBeamContextCancellation(t *testing.T) {
	t.Parallel()

	model := &fakeModel{vocab: 4, logits: func(step, row, tok, id int) []float32 {
		return rowConst(4, -1, nil)
	}}
	s, err := NewBeamSearcher(model, nil, baseConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	states, relLens := encStates(1, 3, 2)
	if _, err := s.Search(ctx, states, relLens); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type stubScorer struct{ blank int }

func (s stubScorer) Reset(states []*tensor.Mat, lens []int) (score.Memory, error) { return nil, nil }

func (s stubScorer) Score(tokens []int, mem score.Memory, attn *tensor.Mat, logProbs *tensor.Mat) (*tensor.Mat, score.Memory, error) {
	out := tensor.NewMat(logProbs.Rows, logProbs.Cols)
	return &out, mem, nil
}

func (s stubScorer) Permute(mem score.Memory, index []int, candidates []int) score.Memory {
	return mem
}

type stubBlankScorer struct{ stubScorer }

func (s stubBlankScorer) BlankIndex() int { return s.blank }

func TestNewBeamSearcherRejectsBadConfig(t *testing.T) {
	t.Parallel()

	model := &fakeModel{vocab: 4, logits: func(step, row, tok, id int) []float32 { return nil }}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero beam", func(c *Config) { c.BeamSize = 0 }},
		{"topk above beam", func(c *Config) { c.TopK = 3 }},
		{"negative min ratio", func(c *Config) { c.MinDecodeRatio = -0.1 }},
		{"max ratio below min", func(c *Config) { c.MinDecodeRatio = 0.9; c.MaxDecodeRatio = 0.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig()
			tt.mutate(&cfg)
			if _, err := NewBeamSearcher(model, nil, cfg); err == nil {
				t.Fatal("config accepted")
			}
		})
	}
}

func TestNewBeamSearcherScorerConflicts(t *testing.T) {
	t.Parallel()

	model := &fakeModel{vocab: 4, logits: func(step, row, tok, id int) []float32 { return nil }}

	t.Run("length reward with normalization", func(t *testing.T) {
		t.Parallel()
		b, err := score.NewBuilder(nil, map[string]float32{"length": 0.5})
		if err != nil {
			t.Fatal(err)
		}
		cfg := baseConfig()
		cfg.LengthNormalization = true
		if _, err := NewBeamSearcher(model, b, cfg); err == nil {
			t.Fatal("conflicting configuration accepted")
		}
	})

	t.Run("ctc weight without blank index", func(t *testing.T) {
		t.Parallel()
		b, err := score.NewBuilder(
			map[string]score.Scorer{"ctc": stubScorer{}},
			map[string]float32{"ctc": 0.3},
		)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := NewBeamSearcher(model, b, baseConfig()); err == nil {
			t.Fatal("missing blank index accepted")
		}
	})

	t.Run("blank collides with start token", func(t *testing.T) {
		t.Parallel()
		b, err := score.NewBuilder(
			map[string]score.Scorer{"ctc": stubBlankScorer{stubScorer{blank: 0}}},
			map[string]float32{"ctc": 0.3},
		)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := NewBeamSearcher(model, b, baseConfig()); err == nil {
			t.Fatal("index collision accepted")
		}
	})
}
