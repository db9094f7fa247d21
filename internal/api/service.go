package api

import (
	"context"
	"fmt"

	"github.com/auriga-dsp/auriga/internal/search"
	"github.com/auriga-dsp/auriga/internal/search/score"
	"github.com/auriga-dsp/auriga/internal/tensor"
	"github.com/auriga-dsp/auriga/internal/toy"
	"github.com/auriga-dsp/auriga/internal/version"
)

// Token index conventions shared by the seeded pipeline.
const (
	bosIndex   = 0
	eosIndex   = 1
	blankIndex = 2

	maxBatch = 32
)

// DecodeService runs searches over the seeded pipeline. Requests are
// self-contained: the encoder input derives from the request seed, so a
// run is reproducible from its stored parameters.
type DecodeService struct {
	pipe      *toy.Pipeline
	modelName string
}

func NewDecodeService(pipe *toy.Pipeline, modelName string) *DecodeService {
	return &DecodeService{pipe: pipe, modelName: modelName}
}

// Info reports engine diagnostics for the info endpoint.
func (s *DecodeService) Info() EngineInfo {
	return EngineInfo{
		Object:    "engine",
		Model:     s.modelName,
		VocabSize: s.pipe.Model.VocabSize(),
		Features:  tensor.Features(),
		Version:   version.String(),
	}
}

// Decode validates the request, assembles the searcher and runs it.
// Configuration problems surface as ErrInvalidRequest; anything else is
// an internal failure.
func (s *DecodeService) Decode(ctx context.Context, req *DecodeRequest) ([]DecodeResult, string, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = "beam"
	}
	if strategy != "beam" && strategy != "greedy" {
		return nil, "", newInvalidRequest(fmt.Sprintf("unknown strategy %q", strategy))
	}
	batch := req.Batch
	if batch == 0 {
		batch = 1
	}
	if batch < 1 || batch > maxBatch {
		return nil, "", newInvalidRequest(fmt.Sprintf("batch %d out of [1, %d]", batch, maxBatch))
	}

	cfg := s.searchConfig(req)
	seed := s.inputSeed(req)

	states := toy.Encode(batch, s.pipe.Frames, s.pipe.Model.Hidden, seed)
	relLens := make([]float64, batch)
	for i := range relLens {
		relLens[i] = 1
	}

	var res *search.Result
	switch strategy {
	case "greedy":
		g, err := search.NewGreedySearcher(s.pipe.Model, cfg)
		if err != nil {
			return nil, "", newInvalidRequest(err.Error())
		}
		res, err = g.Search(ctx, states, relLens)
		if err != nil {
			return nil, "", fmt.Errorf("greedy decode: %w", err)
		}
	case "beam":
		builder, err := s.scorers(req, seed)
		if err != nil {
			return nil, "", err
		}
		b, err := search.NewBeamSearcher(s.pipe.Model, builder, cfg)
		if err != nil {
			return nil, "", newInvalidRequest(err.Error())
		}
		res, err = b.Search(ctx, states, relLens)
		if err != nil {
			return nil, "", fmt.Errorf("beam decode: %w", err)
		}
	}

	return toResults(res), strategy, nil
}

func (s *DecodeService) searchConfig(req *DecodeRequest) search.Config {
	cfg := search.Config{
		BOSIndex:       bosIndex,
		EOSIndex:       eosIndex,
		MinDecodeRatio: 0,
		MaxDecodeRatio: 1,
		BeamSize:       4,
		TopK:           1,
		ReturnTopK:     req.ReturnTopK,
	}
	if req.BeamSize != nil {
		cfg.BeamSize = *req.BeamSize
	}
	if req.TopK != nil {
		cfg.TopK = *req.TopK
	}
	if req.LengthNormalization != nil {
		cfg.LengthNormalization = *req.LengthNormalization
	}
	if req.EOSThreshold != nil {
		cfg.UsingEOSThreshold = true
		cfg.EOSThreshold = *req.EOSThreshold
	}
	if req.MaxAttnShift != nil {
		cfg.UsingMaxAttnShift = true
		cfg.MaxAttnShift = *req.MaxAttnShift
	}
	if req.MinDecodeRatio != nil {
		cfg.MinDecodeRatio = *req.MinDecodeRatio
	}
	if req.MaxDecodeRatio != nil {
		cfg.MaxDecodeRatio = *req.MaxDecodeRatio
	}
	return cfg
}

func (s *DecodeService) inputSeed(req *DecodeRequest) int64 {
	if req.Seed != nil {
		return *req.Seed
	}
	return 1
}

func (s *DecodeService) scorers(req *DecodeRequest, seed int64) (*score.Builder, error) {
	if req.CTCWeight == 0 && req.CoverageWeight == 0 {
		return nil, nil
	}
	scorers := make(map[string]score.Scorer)
	weights := make(map[string]float32)
	vocab := s.pipe.Model.VocabSize()

	if req.CTCWeight != 0 {
		post := toy.Posteriors(s.pipe.Frames, vocab, seed+7)
		project := func(st *tensor.Mat) *tensor.Mat { return &post }
		ctc, err := score.NewCTCPrefixScorer(blankIndex, eosIndex, project)
		if err != nil {
			return nil, newInvalidRequest(err.Error())
		}
		scorers["ctc"] = ctc
		weights["ctc"] = req.CTCWeight
	}
	if req.CoverageWeight != 0 {
		cov, err := score.NewCoverageScorer(vocab, 0.5)
		if err != nil {
			return nil, newInvalidRequest(err.Error())
		}
		scorers["coverage"] = cov
		weights["coverage"] = req.CoverageWeight
	}

	builder, err := score.NewBuilder(scorers, weights)
	if err != nil {
		return nil, newInvalidRequest(err.Error())
	}
	return builder, nil
}

func toResults(res *search.Result) []DecodeResult {
	out := make([]DecodeResult, len(res.Hyps))
	for b := range res.Hyps {
		out[b] = DecodeResult{
			Tokens:    res.Hyps[b],
			Score:     res.Scores[b],
			RelLength: res.RelLengths[b],
			LogProbs:  res.LogProbs[b],
		}
		if res.TopK != nil {
			for _, h := range res.TopK[b] {
				out[b].TopK = append(out[b].TopK, DecodeHypothesis{
					Tokens:    h.Tokens,
					Score:     h.Score,
					RelLength: h.RelLength,
					LogProbs:  h.LogProbs,
				})
			}
		}
	}
	return out
}
