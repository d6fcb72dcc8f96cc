package train

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/wwessex/smart-tool/internal/checkpoint"
	"github.com/wwessex/smart-tool/internal/dataset"
	"github.com/wwessex/smart-tool/internal/logger"
	"github.com/wwessex/smart-tool/internal/model"
	"github.com/wwessex/smart-tool/internal/tensor"
)

// Runner drives one training stage: it owns the model, optimizer,
// schedule and checkpoint manager, and exposes a Tracker for the status
// server.
type Runner struct {
	cfg     *Config
	log     logger.Logger
	model   *model.Model
	opt     *AdamW
	sched   Schedule
	ckpts   *checkpoint.Manager
	tracker *Tracker

	startStep int
}

// NewRunner builds a runner from a validated stage config. When the
// config names a checkpoint to load and that file is missing, training
// starts from randomly initialised weights with a warning; a missing
// file is a normal first run, while a corrupt or mismatched file is not.
func NewRunner(cfg *Config, log logger.Logger) (*Runner, error) {
	m, err := model.New(cfg.Model, cfg.Seed)
	if err != nil {
		return nil, err
	}
	ckpts, err := checkpoint.NewManager(cfg.Checkpoint.Dir, cfg.Checkpoint.KeepLastN, log)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:     cfg,
		log:     log,
		model:   m,
		opt:     NewAdamW(m.Parameters(), cfg.Optimizer),
		sched:   newSchedule(cfg.Optimizer, cfg.Schedule),
		ckpts:   ckpts,
		tracker: NewTracker(cfg.Stage, cfg.Schedule.TotalSteps),
	}
	if cfg.Checkpoint.LoadFrom != "" {
		if err := r.restore(cfg.Checkpoint.LoadFrom); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Model exposes the policy being trained, for generation and inspection.
func (r *Runner) Model() *model.Model { return r.model }

// Tracker exposes run progress for the status server.
func (r *Runner) Tracker() *Tracker { return r.tracker }

func (r *Runner) restore(from string) error {
	path := from
	if fi, err := os.Stat(from); err == nil && fi.IsDir() {
		path = filepath.Join(from, "latest.st")
	}
	meta, err := checkpoint.LoadInto(path, r.model, checkpoint.LoadOptions{Log: r.log})
	if errors.Is(err, fs.ErrNotExist) {
		r.log.Warn("checkpoint not found, starting from randomly initialised weights", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	r.startStep = meta.Step
	r.log.Info("restored checkpoint", "path", path, "step", meta.Step, "run_id", meta.RunID)
	return nil
}

// Run dispatches to the loop for the configured stage.
func (r *Runner) Run(ctx context.Context) error {
	switch r.cfg.Stage {
	case StagePretrain, StageSFT:
		src, err := BuildLMSource(r.cfg, r.log)
		if err != nil {
			return err
		}
		pf := dataset.NewPrefetcher(ctx, src, 2)
		defer pf.Close()
		return r.RunLM(ctx, pf)
	case StageDPO:
		src, err := BuildPairSource(r.cfg, r.log)
		if err != nil {
			return err
		}
		return r.RunDPO(ctx, src)
	default:
		return fmt.Errorf("unknown stage %q", r.cfg.Stage)
	}
}

// RunLM trains with the next-token objective. Pretraining and SFT share
// this loop; they differ only in how the source builds labels.
func (r *Runner) RunLM(ctx context.Context, src dataset.Source) error {
	params := r.model.Parameters()
	accum := r.cfg.Batch.AccumSteps
	invAccum := 1 / float64(accum)

	r.log.Info("starting run",
		"stage", r.cfg.Stage, "run_id", r.tracker.RunID(),
		"from_step", r.startStep, "total_steps", r.sched.TotalSteps)

	for step := r.startStep; step < r.sched.TotalSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.model.ZeroGrad()
		var stepLoss float64
		for a := 0; a < accum; a++ {
			batch, err := src.Next(ctx)
			if err != nil {
				return fmt.Errorf("next batch: %w", err)
			}
			logits, caches, err := r.model.ForwardTrain(batch.Inputs)
			if err != nil {
				return err
			}
			loss, grads, err := r.model.LossGrad(logits, batch.Labels)
			if err != nil {
				return err
			}
			scaleGrads(grads, invAccum)
			r.model.Backward(grads, caches)
			stepLoss += loss * invAccum
		}
		gradNorm := ClipGradNorm(params, r.cfg.GradClip)
		lr := r.sched.LR(step)
		r.opt.Step(params, lr)
		if err := r.finishStep(step+1, stepLoss, lr, gradNorm); err != nil {
			return err
		}
	}
	return r.saveFinal()
}

// RunDPO trains with the preference objective against a frozen clone of
// the starting policy. The clone is made here, after any checkpoint
// restore, so the reference is exactly the model DPO starts from.
func (r *Runner) RunDPO(ctx context.Context, src dataset.PairSource) error {
	ref := r.model.Clone()
	d := DPO{Beta: r.cfg.DPO.Beta, LabelSmoothing: r.cfg.DPO.LabelSmoothing}
	params := r.model.Parameters()
	accum := r.cfg.Batch.AccumSteps

	r.log.Info("starting run",
		"stage", r.cfg.Stage, "run_id", r.tracker.RunID(),
		"from_step", r.startStep, "total_steps", r.sched.TotalSteps,
		"beta", d.Beta)

	for step := r.startStep; step < r.sched.TotalSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.model.ZeroGrad()
		var stepLoss, stepAcc float64
		for a := 0; a < accum; a++ {
			pairs, err := src.Next(ctx)
			if err != nil {
				return fmt.Errorf("next pair batch: %w", err)
			}
			loss, acc, err := r.dpoMicroStep(d, ref, pairs, accum)
			if err != nil {
				return err
			}
			stepLoss += loss / float64(accum)
			stepAcc += acc / float64(accum)
		}
		gradNorm := ClipGradNorm(params, r.cfg.GradClip)
		lr := r.sched.LR(step)
		r.opt.Step(params, lr)
		if err := r.finishStep(step+1, stepLoss, lr, gradNorm, "pref_acc", stepAcc); err != nil {
			return err
		}
	}
	return r.saveFinal()
}

// dpoMicroStep accumulates preference gradients for one micro-batch and
// returns the mean loss and the fraction of pairs where the policy
// already prefers the chosen response.
func (r *Runner) dpoMicroStep(d DPO, ref *model.Model, pairs []dataset.Pair, accum int) (loss, acc float64, err error) {
	chosen := make([][]int, len(pairs))
	rejected := make([][]int, len(pairs))
	for i, p := range pairs {
		chosen[i] = p.Chosen
		rejected[i] = p.Rejected
	}

	chosenLogits, chosenCaches, err := r.model.ForwardTrain(chosen)
	if err != nil {
		return 0, 0, err
	}
	rejectedLogits, rejectedCaches, err := r.model.ForwardTrain(rejected)
	if err != nil {
		return 0, 0, err
	}
	// The reference never trains: plain forward, no caches, no gradients.
	refChosen, err := ref.Forward(chosen, nil)
	if err != nil {
		return 0, 0, err
	}
	refRejected, err := ref.Forward(rejected, nil)
	if err != nil {
		return 0, 0, err
	}

	chosenGrads := make([]tensor.Mat, len(pairs))
	rejectedGrads := make([]tensor.Mat, len(pairs))
	inv := 1 / float64(len(pairs)*accum)
	for i, p := range pairs {
		pc := ResponseLogProb(&chosenLogits[i], p.Chosen, p.PromptLen)
		pr := ResponseLogProb(&rejectedLogits[i], p.Rejected, p.PromptLen)
		rc := ResponseLogProb(&refChosen.Logits[i], p.Chosen, p.PromptLen)
		rr := ResponseLogProb(&refRejected.Logits[i], p.Rejected, p.PromptLen)

		pairLoss, margin, dMargin := d.lossGrad(pc, pr, rc, rr)
		loss += pairLoss / float64(len(pairs))
		if margin > 0 {
			acc += 1 / float64(len(pairs))
		}

		// dLoss/d(policy chosen logprob) = dMargin * beta, rejected the
		// negative; a term c * logprob back-propagates with scale -c.
		c := dMargin * d.Beta * inv
		chosenGrads[i] = responseLogProbGrad(&chosenLogits[i], p.Chosen, p.PromptLen, -c)
		rejectedGrads[i] = responseLogProbGrad(&rejectedLogits[i], p.Rejected, p.PromptLen, c)
	}
	r.model.Backward(chosenGrads, chosenCaches)
	r.model.Backward(rejectedGrads, rejectedCaches)
	return loss, acc, nil
}

func (r *Runner) finishStep(step int, loss, lr, gradNorm float64, extra ...any) error {
	r.tracker.Update(step, loss, lr, gradNorm)
	if r.cfg.LogEvery > 0 && step%r.cfg.LogEvery == 0 {
		args := []any{"step", step, "loss", loss, "lr", lr, "grad_norm", gradNorm}
		args = append(args, extra...)
		r.log.Info("train step", args...)
	}
	if r.cfg.Checkpoint.SaveEvery > 0 && step%r.cfg.Checkpoint.SaveEvery == 0 {
		if _, err := r.ckpts.SaveStep(r.model, r.meta(step)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) saveFinal() error {
	_, err := r.ckpts.SaveFinal(r.model, r.meta(r.sched.TotalSteps))
	return err
}

func (r *Runner) meta(step int) checkpoint.Meta {
	return checkpoint.Meta{
		Step:   step,
		RunID:  r.tracker.RunID(),
		Stage:  r.cfg.Stage,
		Config: r.cfg.Model,
	}
}

func scaleGrads(grads []tensor.Mat, s float64) {
	f := float32(s)
	for i := range grads {
		for j := range grads[i].Data {
			grads[i].Data[j] *= f
		}
	}
}
