package main

import "github.com/urfave/cli/v3"

var (
	vocabSize int64
	hiddenDim int64
	frames    int64
	seed      int64
)

func commonEngineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "vocab",
			Usage:       "vocabulary size of the seeded decoder",
			Value:       32,
			Destination: &vocabSize,
		},
		&cli.Int64Flag{
			Name:        "hidden",
			Usage:       "decoder hidden size",
			Value:       16,
			Destination: &hiddenDim,
		},
		&cli.Int64Flag{
			Name:        "frames",
			Usage:       "encoder frames per input",
			Value:       20,
			Destination: &frames,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Aliases:     []string{"s"},
			Usage:       "seed for weights and inputs",
			Value:       1,
			Destination: &seed,
		},
	}
}
