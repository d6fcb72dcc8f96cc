package train

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wwessex/smart-tool/internal/model"
)

// Stage names accepted in config files and on the command line.
const (
	StagePretrain = "pretrain"
	StageSFT      = "sft"
	StageDPO      = "dpo"
)

// Config is one training stage loaded from a YAML file. Unknown keys are
// rejected so a typo in a run config fails loudly instead of silently
// training with defaults.
type Config struct {
	Stage string `yaml:"stage"`
	Seed  int64  `yaml:"seed"`

	Model      model.Config     `yaml:"model"`
	Optimizer  OptimizerConfig  `yaml:"optimizer"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Batch      BatchConfig      `yaml:"batch"`
	DPO        DPOConfig        `yaml:"dpo"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Data       DataConfig       `yaml:"data"`

	GradClip float64 `yaml:"gradient_clipping"`
	LogEvery int     `yaml:"log_every_steps"`
	LogLevel string  `yaml:"log_level"`
}

type OptimizerConfig struct {
	LR          float64 `yaml:"learning_rate"`
	Beta1       float64 `yaml:"beta1"`
	Beta2       float64 `yaml:"beta2"`
	Eps         float64 `yaml:"eps"`
	WeightDecay float64 `yaml:"weight_decay"`
}

type ScheduleConfig struct {
	TotalSteps  int     `yaml:"total_steps"`
	WarmupSteps int     `yaml:"warmup_steps"`
	MinLR       float64 `yaml:"min_learning_rate"`
}

type BatchConfig struct {
	MicroBatchSize int `yaml:"micro_batch_size"`
	AccumSteps     int `yaml:"gradient_accumulation_steps"`
}

type DPOConfig struct {
	Beta           float64 `yaml:"beta"`
	LabelSmoothing float64 `yaml:"label_smoothing"`
}

type CheckpointConfig struct {
	Dir       string `yaml:"output_dir"`
	LoadFrom  string `yaml:"load_from"`
	SaveEvery int    `yaml:"save_every_steps"`
	KeepLastN int    `yaml:"keep_last_n"`
}

type DataConfig struct {
	Paths []string `yaml:"paths"`
	// MaskPrompt controls whether SFT excludes prompt tokens from the
	// loss. Defaults to true; set false to train on the full sequence.
	MaskPrompt *bool `yaml:"mask_input"`
}

// DefaultConfig returns a runnable pretrain stage around the default
// model preset.
func DefaultConfig() Config {
	return Config{
		Stage: StagePretrain,
		Seed:  42,
		Model: model.DefaultConfig(),
		Optimizer: OptimizerConfig{
			LR:          3e-4,
			Beta1:       0.9,
			Beta2:       0.95,
			Eps:         1e-8,
			WeightDecay: 0.1,
		},
		Schedule: ScheduleConfig{
			TotalSteps:  1000,
			WarmupSteps: 100,
			MinLR:       3e-5,
		},
		Batch: BatchConfig{
			MicroBatchSize: 4,
			AccumSteps:     8,
		},
		DPO: DPOConfig{Beta: 0.1},
		Checkpoint: CheckpointConfig{
			Dir:       "runs/default",
			SaveEvery: 500,
			KeepLastN: 3,
		},
		GradClip: 1.0,
		LogEvery: 10,
		LogLevel: "info",
	}
}

// LoadConfig reads a stage config from path, layered over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// MaskPrompt reports whether SFT should exclude prompt tokens from the
// loss.
func (c *Config) MaskPrompt() bool {
	if c.Data.MaskPrompt == nil {
		return true
	}
	return *c.Data.MaskPrompt
}

func (c *Config) Validate() error {
	switch c.Stage {
	case StagePretrain, StageSFT, StageDPO:
	default:
		return fmt.Errorf("unknown stage %q", c.Stage)
	}
	if err := c.Model.Validate(); err != nil {
		return err
	}
	if c.Optimizer.LR <= 0 {
		return fmt.Errorf("learning_rate must be positive")
	}
	if c.Optimizer.Beta1 < 0 || c.Optimizer.Beta1 >= 1 ||
		c.Optimizer.Beta2 < 0 || c.Optimizer.Beta2 >= 1 {
		return fmt.Errorf("adam betas must be in [0,1)")
	}
	if c.Optimizer.Eps <= 0 {
		return fmt.Errorf("optimizer eps must be positive")
	}
	if c.Schedule.TotalSteps <= 0 {
		return fmt.Errorf("total_steps must be positive")
	}
	if c.Schedule.WarmupSteps < 0 || c.Schedule.WarmupSteps > c.Schedule.TotalSteps {
		return fmt.Errorf("warmup_steps %d out of range for %d total steps",
			c.Schedule.WarmupSteps, c.Schedule.TotalSteps)
	}
	if c.Schedule.MinLR < 0 || c.Schedule.MinLR > c.Optimizer.LR {
		return fmt.Errorf("min_learning_rate must be in [0, learning_rate]")
	}
	if c.Batch.MicroBatchSize <= 0 {
		return fmt.Errorf("micro_batch_size must be positive")
	}
	if c.Batch.AccumSteps <= 0 {
		return fmt.Errorf("gradient_accumulation_steps must be positive")
	}
	if c.GradClip < 0 {
		return fmt.Errorf("gradient_clipping must be non-negative")
	}
	if c.Stage == StageDPO {
		if c.DPO.Beta <= 0 {
			return fmt.Errorf("dpo beta must be positive")
		}
		if c.DPO.LabelSmoothing < 0 || c.DPO.LabelSmoothing >= 0.5 {
			return fmt.Errorf("dpo label_smoothing %g out of range [0,0.5)", c.DPO.LabelSmoothing)
		}
	}
	if c.Checkpoint.Dir == "" {
		return fmt.Errorf("checkpoint output_dir is required")
	}
	if c.Checkpoint.KeepLastN < 0 {
		return fmt.Errorf("keep_last_n must be non-negative")
	}
	return nil
}
