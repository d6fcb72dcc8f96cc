package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/wwessex/smart-tool/internal/checkpoint"
)

func inspectCmd() *cli.Command {
	var (
		ckptPath string
		tensors  bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Print a checkpoint's metadata and tensor inventory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "checkpoint",
				Aliases:     []string{"m"},
				Usage:       "checkpoint file or run directory",
				Required:    true,
				Destination: &ckptPath,
			},
			&cli.BoolFlag{
				Name:        "tensors",
				Usage:       "list every tensor with its shape",
				Destination: &tensors,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := ckptPath
			if fi, err := os.Stat(path); err == nil && fi.IsDir() {
				path = filepath.Join(path, "latest.st")
			}
			meta, err := checkpoint.ReadMeta(path)
			if err != nil {
				return err
			}

			cfgJSON, err := json.MarshalIndent(meta.Config, "", "  ")
			if err != nil {
				return err
			}
			fmt.Printf("checkpoint: %s\n", path)
			fmt.Printf("stage:      %s\n", meta.Stage)
			fmt.Printf("step:       %d\n", meta.Step)
			fmt.Printf("run id:     %s\n", meta.RunID)
			fmt.Printf("config:     %s\n", cfgJSON)

			if tensors {
				infos, err := checkpoint.ListTensors(path)
				if err != nil {
					return err
				}
				fmt.Printf("tensors:    %d\n", len(infos))
				for _, ti := range infos {
					fmt.Printf("  %-28s %s %v\n", ti.Name, ti.Dtype, ti.Shape)
				}
			}
			return nil
		},
	}
}
