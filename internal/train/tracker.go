package train

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a point-in-time view of a training run, safe to hand to the
// status server or a log line.
type Snapshot struct {
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage"`
	Step       int       `json:"step"`
	TotalSteps int       `json:"total_steps"`
	Loss       float64   `json:"loss"`
	LR         float64   `json:"learning_rate"`
	GradNorm   float64   `json:"grad_norm"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Tracker records run progress under a mutex so the training goroutine
// can publish and the status server can read concurrently.
type Tracker struct {
	mu sync.Mutex
	s  Snapshot
}

func NewTracker(stage string, totalSteps int) *Tracker {
	now := time.Now()
	return &Tracker{s: Snapshot{
		RunID:      uuid.NewString(),
		Stage:      stage,
		TotalSteps: totalSteps,
		StartedAt:  now,
		UpdatedAt:  now,
	}}
}

func (t *Tracker) Update(step int, loss, lr, gradNorm float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Step = step
	t.s.Loss = loss
	t.s.LR = lr
	t.s.GradNorm = gradNorm
	t.s.UpdatedAt = time.Now()
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}

// RunID is stable for the lifetime of the tracker.
func (t *Tracker) RunID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s.RunID
}
