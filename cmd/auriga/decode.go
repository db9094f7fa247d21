package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/auriga-dsp/auriga/internal/logger"
	"github.com/auriga-dsp/auriga/internal/search"
	"github.com/auriga-dsp/auriga/internal/search/score"
	"github.com/auriga-dsp/auriga/internal/tensor"
	"github.com/auriga-dsp/auriga/internal/toy"
)

func decodeCmd() *cli.Command {
	var (
		strategy     string
		batch        int64
		beamSize     int64
		topK         int64
		lengthNorm   bool
		eosThreshold float64
		maxAttnShift int64
		minRatio     float64
		maxRatio     float64
		ctcWeight    float64
		covWeight    float64
	)

	return &cli.Command{
		Name:  "decode",
		Usage: "Run a search over seeded inputs and print the hypotheses",
		Flags: append(commonEngineFlags(),
			&cli.StringFlag{
				Name:        "strategy",
				Usage:       "search strategy (beam, greedy)",
				Value:       "beam",
				Destination: &strategy,
			},
			&cli.Int64Flag{
				Name:        "batch",
				Aliases:     []string{"b"},
				Usage:       "batch size",
				Value:       1,
				Destination: &batch,
			},
			&cli.Int64Flag{
				Name:        "beam-size",
				Aliases:     []string{"k"},
				Usage:       "beam width",
				Value:       8,
				Destination: &beamSize,
			},
			&cli.Int64Flag{
				Name:        "topk",
				Usage:       "hypotheses to print per input",
				Value:       1,
				Destination: &topK,
			},
			&cli.BoolFlag{
				Name:        "length-norm",
				Usage:       "rank by score per token",
				Destination: &lengthNorm,
			},
			&cli.Float64Flag{
				Name:        "eos-threshold",
				Usage:       "block weak end tokens below this ratio of the best log-prob (0 disables)",
				Destination: &eosThreshold,
			},
			&cli.Int64Flag{
				Name:        "max-attn-shift",
				Usage:       "window for attention peak movement (0 disables)",
				Destination: &maxAttnShift,
			},
			&cli.Float64Flag{
				Name:        "min-decode-ratio",
				Usage:       "minimum output length as a ratio of input frames",
				Destination: &minRatio,
			},
			&cli.Float64Flag{
				Name:        "max-decode-ratio",
				Usage:       "maximum output length as a ratio of input frames",
				Value:       1,
				Destination: &maxRatio,
			},
			&cli.Float64Flag{
				Name:        "ctc-weight",
				Usage:       "joint CTC prefix scoring weight in [0, 1]",
				Destination: &ctcWeight,
			},
			&cli.Float64Flag{
				Name:        "coverage-weight",
				Usage:       "coverage penalty weight",
				Destination: &covWeight,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fileCfg := LoadConfig()
			applyEngineConfig(cmd, fileCfg)
			applyDecodeConfig(cmd, fileCfg, &beamSize, &topK, &lengthNorm,
				&eosThreshold, &maxAttnShift, &minRatio, &maxRatio, &ctcWeight, &covWeight)
			log := logger.FromContext(ctx)

			pipe, err := toy.NewPipeline(int(vocabSize), int(hiddenDim), int(frames), seed)
			if err != nil {
				return err
			}
			cfg := search.Config{
				BOSIndex:            0,
				EOSIndex:            1,
				MinDecodeRatio:      minRatio,
				MaxDecodeRatio:      maxRatio,
				BeamSize:            int(beamSize),
				TopK:                int(topK),
				ReturnTopK:          topK > 1,
				LengthNormalization: lengthNorm,
			}
			if eosThreshold != 0 {
				cfg.UsingEOSThreshold = true
				cfg.EOSThreshold = float32(eosThreshold)
			}
			if maxAttnShift != 0 {
				cfg.UsingMaxAttnShift = true
				cfg.MaxAttnShift = int(maxAttnShift)
			}

			states, relLens := pipe.Encode(int(batch))

			var res *search.Result
			switch strategy {
			case "greedy":
				g, err := search.NewGreedySearcher(pipe.Model, cfg)
				if err != nil {
					return err
				}
				res, err = g.Search(ctx, states, relLens)
				if err != nil {
					return err
				}
			case "beam":
				builder, err := buildScorers(pipe, float32(ctcWeight), float32(covWeight))
				if err != nil {
					return err
				}
				b, err := search.NewBeamSearcher(pipe.Model, builder, cfg)
				if err != nil {
					return err
				}
				res, err = b.Search(ctx, states, relLens)
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown strategy %q", strategy)
			}

			log.Info("decode finished", "strategy", strategy, "batch", batch)
			printResult(res)
			return nil
		},
	}
}

func buildScorers(pipe *toy.Pipeline, ctcWeight, covWeight float32) (*score.Builder, error) {
	if ctcWeight == 0 && covWeight == 0 {
		return nil, nil
	}
	scorers := make(map[string]score.Scorer)
	weights := make(map[string]float32)
	vocab := pipe.Model.VocabSize()
	if ctcWeight != 0 {
		post := toy.Posteriors(pipe.Frames, vocab, seed+7)
		ctc, err := score.NewCTCPrefixScorer(2, 1, func(st *tensor.Mat) *tensor.Mat { return &post })
		if err != nil {
			return nil, err
		}
		scorers["ctc"] = ctc
		weights["ctc"] = ctcWeight
	}
	if covWeight != 0 {
		cov, err := score.NewCoverageScorer(vocab, 0.5)
		if err != nil {
			return nil, err
		}
		scorers["coverage"] = cov
		weights["coverage"] = covWeight
	}
	return score.NewBuilder(scorers, weights)
}

func printResult(res *search.Result) {
	for b := range res.Hyps {
		fmt.Printf("input %d: score=%.4f rel_length=%.3f tokens=%v\n", b, res.Scores[b], res.RelLengths[b], res.Hyps[b])
		if res.TopK == nil {
			continue
		}
		for r, h := range res.TopK[b] {
			if r == 0 {
				continue
			}
			fmt.Printf("  alt %d: score=%.4f tokens=%v\n", r, h.Score, h.Tokens)
		}
	}
}
