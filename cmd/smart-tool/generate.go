package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/wwessex/smart-tool/internal/checkpoint"
	"github.com/wwessex/smart-tool/internal/dataset"
	"github.com/wwessex/smart-tool/internal/generate"
	"github.com/wwessex/smart-tool/internal/logger"
	"github.com/wwessex/smart-tool/internal/logits"
	"github.com/wwessex/smart-tool/internal/model"
)

func generateCmd() *cli.Command {
	var (
		ckptPath string
		prompt   string
		steps    int64
		temp     float64
		topK     int64
		topP     float64
		seed     int64
	)

	return &cli.Command{
		Name:  "generate",
		Usage: "Sample a completion from a trained checkpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "checkpoint",
				Aliases:     []string{"m"},
				Usage:       "checkpoint file or run directory",
				Required:    true,
				Destination: &ckptPath,
			},
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "prompt text",
				Required:    true,
				Destination: &prompt,
			},
			&cli.Int64Flag{
				Name:        "steps",
				Aliases:     []string{"n"},
				Usage:       "number of tokens to generate",
				Value:       128,
				Destination: &steps,
			},
			&cli.Float64Flag{
				Name:        "temp",
				Aliases:     []string{"temperature", "t"},
				Usage:       "sampling temperature (0 = greedy)",
				Value:       0.8,
				Destination: &temp,
			},
			&cli.Int64Flag{
				Name:        "top-k",
				Usage:       "top-k sampling parameter",
				Value:       40,
				Destination: &topK,
			},
			&cli.Float64Flag{
				Name:        "top-p",
				Usage:       "top-p sampling parameter",
				Value:       0.95,
				Destination: &topP,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "sampling seed",
				Value:       42,
				Destination: &seed,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			m, err := loadModel(ckptPath, log)
			if err != nil {
				return err
			}

			tok := dataset.NewByteTokenizer(m.Config.VocabSize)
			ids := tok.EncodeAll(prompt)
			if len(ids) >= m.Config.MaxSeqLen {
				return fmt.Errorf("prompt of %d tokens leaves no room in a %d-token context",
					len(ids), m.Config.MaxSeqLen)
			}

			out, err := generate.Run(ctx, m, ids, generate.Options{
				MaxNewTokens: int(steps),
				Sampler: logits.SamplerConfig{
					Seed:        seed,
					Temperature: float32(temp),
					TopK:        int(topK),
					TopP:        float32(topP),
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, generate.Decode(out[len(ids):]))
			return nil
		},
	}
}

// loadModel rebuilds a model from the config stored in a checkpoint and
// loads its weights strictly.
func loadModel(path string, log logger.Logger) (*model.Model, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, "latest.st")
	}
	meta, err := checkpoint.ReadMeta(path)
	if err != nil {
		return nil, err
	}
	m, err := model.New(meta.Config, 0)
	if err != nil {
		return nil, fmt.Errorf("rebuild model from checkpoint config: %w", err)
	}
	if _, err := checkpoint.LoadInto(path, m, checkpoint.LoadOptions{Log: log}); err != nil {
		return nil, err
	}
	return m, nil
}
