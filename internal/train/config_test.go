package train

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stage.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigLayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `
stage: sft
optimizer:
  learning_rate: 1.0e-4
checkpoint:
  output_dir: runs/sft
data:
  paths: [data/sft.jsonl]
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Stage != StageSFT {
		t.Fatalf("stage %q want sft", cfg.Stage)
	}
	if cfg.Optimizer.LR != 1e-4 {
		t.Fatalf("lr %v want 1e-4", cfg.Optimizer.LR)
	}
	// Untouched fields keep their defaults.
	if cfg.Optimizer.Beta2 != 0.95 {
		t.Fatalf("beta2 %v want default 0.95", cfg.Optimizer.Beta2)
	}
	if !cfg.MaskPrompt() {
		t.Fatal("mask_input should default to true")
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
stage: pretrain
checkpoint:
  output_dir: runs/x
optimizer:
  learning_rte: 1.0e-4
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestLoadConfigMaskInputOptOut(t *testing.T) {
	path := writeConfig(t, `
stage: sft
checkpoint:
  output_dir: runs/sft
data:
  mask_input: false
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaskPrompt() {
		t.Fatal("mask_input: false not honoured")
	}
}

func TestConfigValidate(t *testing.T) {
	base := DefaultConfig()
	if err := base.Validate(); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad stage", func(c *Config) { c.Stage = "finetune" }},
		{"zero lr", func(c *Config) { c.Optimizer.LR = 0 }},
		{"beta out of range", func(c *Config) { c.Optimizer.Beta1 = 1.0 }},
		{"zero total steps", func(c *Config) { c.Schedule.TotalSteps = 0 }},
		{"warmup exceeds total", func(c *Config) { c.Schedule.WarmupSteps = c.Schedule.TotalSteps + 1 }},
		{"min lr above base", func(c *Config) { c.Schedule.MinLR = c.Optimizer.LR * 2 }},
		{"zero micro batch", func(c *Config) { c.Batch.MicroBatchSize = 0 }},
		{"zero accum", func(c *Config) { c.Batch.AccumSteps = 0 }},
		{"negative clip", func(c *Config) { c.GradClip = -1 }},
		{"no checkpoint dir", func(c *Config) { c.Checkpoint.Dir = "" }},
		{"dpo zero beta", func(c *Config) { c.Stage = StageDPO; c.DPO.Beta = 0 }},
		{"dpo smoothing too big", func(c *Config) { c.Stage = StageDPO; c.DPO.LabelSmoothing = 0.5 }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
