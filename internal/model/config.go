package model

import "fmt"

// Config holds the architecture hyperparameters. All fields are required
// for reproducible construction; a config round-tripped through a
// checkpoint rebuilds an identical parameter set.
type Config struct {
	DModel    int     `yaml:"d_model" json:"d_model"`
	NLayers   int     `yaml:"n_layers" json:"n_layers"`
	NHeads    int     `yaml:"n_heads" json:"n_heads"`
	NKVHeads  int     `yaml:"n_kv_heads" json:"n_kv_heads"`
	DFF       int     `yaml:"d_ff" json:"d_ff"`
	VocabSize int     `yaml:"vocab_size" json:"vocab_size"`
	MaxSeqLen int     `yaml:"max_seq_length" json:"max_seq_length"`
	NormEps   float64 `yaml:"norm_eps" json:"norm_eps"`
	RopeTheta float64 `yaml:"rope_theta" json:"rope_theta"`
	Dropout   float64 `yaml:"dropout" json:"dropout"`
}

// DefaultConfig mirrors the 150M "balanced" preset.
func DefaultConfig() Config {
	return Config{
		DModel:    768,
		NLayers:   12,
		NHeads:    12,
		NKVHeads:  4,
		DFF:       2048,
		VocabSize: 32000,
		MaxSeqLen: 1024,
		NormEps:   1e-5,
		RopeTheta: 10000.0,
		Dropout:   0.0,
	}
}

// HeadDim returns the per-head embedding width.
func (c Config) HeadDim() int { return c.DModel / c.NHeads }

// KVRepeat returns how many query heads share each key/value head.
func (c Config) KVRepeat() int { return c.NHeads / c.NKVHeads }

func (c Config) Validate() error {
	if c.DModel <= 0 || c.NLayers <= 0 || c.NHeads <= 0 || c.NKVHeads <= 0 {
		return fmt.Errorf("model config: dimensions must be positive")
	}
	if c.DFF <= 0 || c.VocabSize <= 0 || c.MaxSeqLen <= 0 {
		return fmt.Errorf("model config: dimensions must be positive")
	}
	if c.DModel%c.NHeads != 0 {
		return fmt.Errorf("model config: d_model %d not divisible by n_heads %d", c.DModel, c.NHeads)
	}
	if c.NHeads%c.NKVHeads != 0 {
		return fmt.Errorf("model config: n_heads %d not divisible by n_kv_heads %d", c.NHeads, c.NKVHeads)
	}
	if c.HeadDim()%2 != 0 {
		return fmt.Errorf("model config: head dim %d must be even for rotary embedding", c.HeadDim())
	}
	if c.NormEps <= 0 {
		return fmt.Errorf("model config: norm_eps must be positive")
	}
	if c.RopeTheta <= 0 {
		return fmt.Errorf("model config: rope_theta must be positive")
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("model config: dropout %g out of range [0,1)", c.Dropout)
	}
	return nil
}
