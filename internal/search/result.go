package search

// Config holds the immutable parameters of one searcher. It is read-only
// for the duration of every Search call.
type Config struct {
	// BOSIndex seeds the first decoder input; EOSIndex terminates a
	// hypothesis. They may coincide (some recipes reuse one marker).
	BOSIndex int
	EOSIndex int

	// Decode step bounds as fractions of the encoder frame count.
	MinDecodeRatio float64
	MaxDecodeRatio float64

	// BeamSize is the number of parallel hypotheses per batch element.
	// Ignored by the greedy searcher.
	BeamSize int

	// TopK is how many ranked hypotheses to keep per batch element.
	// Defaults to 1 and must not exceed BeamSize.
	TopK int
	// ReturnTopK exposes the full ranked list on Result.TopK.
	ReturnTopK bool

	// UsingEOSThreshold gates hypothesis termination on the end token
	// log-probability exceeding EOSThreshold * max(log-probability).
	// The comparison is a ratio of log-probabilities, not probabilities,
	// and the default threshold of 1.5 together with negative log-probs
	// makes the inequality deliberately inverted-looking. Preserved as-is
	// from the reference recipe; do not "fix".
	UsingEOSThreshold bool
	EOSThreshold      float32

	// LengthNormalization divides candidate scores by (step+1) before
	// top-K selection and multiplies the survivors back, so it affects
	// ranking only, never the stored cumulative magnitude.
	LengthNormalization bool

	// UsingMaxAttnShift blocks a beam for one step when its attention
	// peak jumped more than MaxAttnShift frames from the previous peak.
	UsingMaxAttnShift bool
	MaxAttnShift      int

	// MinusInf is the sentinel used to mask candidates out of selection.
	// Defaults to -1e20. Distinct from the -Inf used to freeze finished
	// beams.
	MinusInf float32
}

// withDefaults fills unset optional fields.
func (c Config) withDefaults() Config {
	if c.TopK == 0 {
		c.TopK = 1
	}
	if c.EOSThreshold == 0 {
		c.EOSThreshold = 1.5
	}
	if c.MaxAttnShift == 0 {
		c.MaxAttnShift = 60
	}
	if c.MinusInf == 0 {
		c.MinusInf = -1e20
	}
	return c
}

// Hypothesis is one finished decoding result: the token sequence (ending
// with the end token unless it was force-completed at the step limit),
// its per-token log-probabilities and final score, and the relative
// length abs(len-1)/maxLen shared with downstream length heuristics.
type Hypothesis struct {
	Tokens    []int
	LogProbs  []float32
	Score     float32
	RelLength float64
}

// Result is the output of one search call.
//
// Hyps holds the best sequence per batch element with the relative-length
// truncation convention applied: round(RelLength * maxLen) tokens, which
// drops the trailing end token. RelLengths, Scores and LogProbs are the
// matching per-element length, final score and untruncated per-token
// log-probabilities. TopK is only populated when Config.ReturnTopK is
// set, ranked best-first.
type Result struct {
	Hyps       [][]int
	RelLengths []float64
	Scores     []float32
	LogProbs   [][]float32
	TopK       [][]Hypothesis
}
