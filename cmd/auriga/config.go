package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the configuration file (~/.config/auriga/config.yaml).
// All fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	// Engine defaults
	Vocab  *int64 `yaml:"vocab"`
	Hidden *int64 `yaml:"hidden"`
	Frames *int64 `yaml:"frames"`
	Seed   *int64 `yaml:"seed"`

	// Search defaults
	BeamSize            *int64   `yaml:"beam_size"`
	TopK                *int64   `yaml:"topk"`
	LengthNormalization *bool    `yaml:"length_normalization"`
	EOSThreshold        *float64 `yaml:"eos_threshold"`
	MaxAttnShift        *int64   `yaml:"max_attn_shift"`
	MinDecodeRatio      *float64 `yaml:"min_decode_ratio"`
	MaxDecodeRatio      *float64 `yaml:"max_decode_ratio"`
	CTCWeight           *float64 `yaml:"ctc_weight"`
	CoverageWeight      *float64 `yaml:"coverage_weight"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "auriga", "config.yaml")
}

// applyEngineConfig applies config file defaults to the shared engine
// variables when the corresponding CLI flag was not explicitly set.
func applyEngineConfig(c *cli.Command, cfg Config) {
	if cfg.Vocab != nil && !c.IsSet("vocab") {
		vocabSize = *cfg.Vocab
	}
	if cfg.Hidden != nil && !c.IsSet("hidden") {
		hiddenDim = *cfg.Hidden
	}
	if cfg.Frames != nil && !c.IsSet("frames") {
		frames = *cfg.Frames
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		seed = *cfg.Seed
	}
}

// applyDecodeConfig applies config file search defaults to decode
// command variables.
func applyDecodeConfig(c *cli.Command, cfg Config,
	beamSize, topK *int64, lengthNorm *bool, eosThreshold *float64,
	maxAttnShift *int64, minRatio, maxRatio, ctcWeight, covWeight *float64,
) {
	if cfg.BeamSize != nil && !c.IsSet("beam-size") {
		*beamSize = *cfg.BeamSize
	}
	if cfg.TopK != nil && !c.IsSet("topk") {
		*topK = *cfg.TopK
	}
	if cfg.LengthNormalization != nil && !c.IsSet("length-norm") {
		*lengthNorm = *cfg.LengthNormalization
	}
	if cfg.EOSThreshold != nil && !c.IsSet("eos-threshold") {
		*eosThreshold = *cfg.EOSThreshold
	}
	if cfg.MaxAttnShift != nil && !c.IsSet("max-attn-shift") {
		*maxAttnShift = *cfg.MaxAttnShift
	}
	if cfg.MinDecodeRatio != nil && !c.IsSet("min-decode-ratio") {
		*minRatio = *cfg.MinDecodeRatio
	}
	if cfg.MaxDecodeRatio != nil && !c.IsSet("max-decode-ratio") {
		*maxRatio = *cfg.MaxDecodeRatio
	}
	if cfg.CTCWeight != nil && !c.IsSet("ctc-weight") {
		*ctcWeight = *cfg.CTCWeight
	}
	if cfg.CoverageWeight != nil && !c.IsSet("coverage-weight") {
		*covWeight = *cfg.CoverageWeight
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyEngineConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
