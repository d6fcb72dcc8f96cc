package train

import "math"

// Schedule is linear warmup into cosine decay. Steps are the optimizer
// steps already taken, so step 0 is the first update.
type Schedule struct {
	BaseLR      float64
	MinLR       float64
	WarmupSteps int
	TotalSteps  int
}

func newSchedule(opt OptimizerConfig, sc ScheduleConfig) Schedule {
	return Schedule{
		BaseLR:      opt.LR,
		MinLR:       sc.MinLR,
		WarmupSteps: sc.WarmupSteps,
		TotalSteps:  sc.TotalSteps,
	}
}

// LR returns the learning rate for the given step. Warmup ramps linearly
// from BaseLR/WarmupSteps to BaseLR; afterwards the rate follows half a
// cosine down to MinLR at TotalSteps and stays there.
func (s Schedule) LR(step int) float64 {
	if s.WarmupSteps > 0 && step < s.WarmupSteps {
		return s.BaseLR * float64(step+1) / float64(s.WarmupSteps)
	}
	if step >= s.TotalSteps || s.TotalSteps == s.WarmupSteps {
		return s.MinLR
	}
	progress := float64(step-s.WarmupSteps) / float64(s.TotalSteps-s.WarmupSteps)
	return s.MinLR + 0.5*(s.BaseLR-s.MinLR)*(1+math.Cos(math.Pi*progress))
}
