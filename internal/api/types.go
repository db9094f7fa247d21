package api

// DecodeRequest configures one decoding run over seeded inputs. Pointer
// fields distinguish "absent" from zero so the service can apply its
// defaults.
type DecodeRequest struct {
	Strategy string `json:"strategy"` // "greedy" or "beam", default "beam"
	Batch    int    `json:"batch"`
	Seed     *int64 `json:"seed,omitempty"`

	BeamSize            *int     `json:"beam_size,omitempty"`
	TopK                *int     `json:"topk,omitempty"`
	ReturnTopK          bool     `json:"return_topk,omitempty"`
	LengthNormalization *bool    `json:"length_normalization,omitempty"`
	EOSThreshold        *float32 `json:"eos_threshold,omitempty"`
	MaxAttnShift        *int     `json:"max_attn_shift,omitempty"`
	MinDecodeRatio      *float64 `json:"min_decode_ratio,omitempty"`
	MaxDecodeRatio      *float64 `json:"max_decode_ratio,omitempty"`

	CTCWeight      float32 `json:"ctc_weight,omitempty"`
	CoverageWeight float32 `json:"coverage_weight,omitempty"`
}

// DecodeHypothesis is one ranked hypothesis in the response.
type DecodeHypothesis struct {
	Tokens    []int     `json:"tokens"`
	Score     float32   `json:"score"`
	RelLength float64   `json:"rel_length"`
	LogProbs  []float32 `json:"log_probs,omitempty"`
}

// DecodeResult is the decoded output for one batch element.
type DecodeResult struct {
	Tokens    []int              `json:"tokens"`
	Score     float32            `json:"score"`
	RelLength float64            `json:"rel_length"`
	LogProbs  []float32          `json:"log_probs"`
	TopK      []DecodeHypothesis `json:"topk,omitempty"`
}

// DecodeResponse is the stored and returned record of one run.
type DecodeResponse struct {
	ID        string         `json:"id"`
	Object    string         `json:"object"`
	CreatedAt int64          `json:"created_at"`
	Model     string         `json:"model"`
	Strategy  string         `json:"strategy"`
	Results   []DecodeResult `json:"results"`
}

// DeleteDecodeResp acknowledges a deletion.
type DeleteDecodeResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

// EngineInfo describes the running engine for diagnostics.
type EngineInfo struct {
	Object    string `json:"object"`
	Model     string `json:"model"`
	VocabSize int    `json:"vocab_size"`
	Features  string `json:"features"`
	Version   string `json:"version"`
}

// ResponseError is the error payload shape shared by all endpoints.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
