package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/wwessex/smart-tool/internal/logger"
	"github.com/wwessex/smart-tool/internal/model"
)

const (
	latestName = "latest.st"
	finalName  = "final.st"
)

// Manager owns one run's checkpoint directory: periodic step snapshots
// named step_NNNNNN.st, a final.st written at the end of training, and a
// latest.st symlink that always points at the newest file. Old step
// snapshots beyond keepLastN are pruned; final.st never is.
type Manager struct {
	dir       string
	keepLastN int
	log       logger.Logger
}

func NewManager(dir string, keepLastN int, log logger.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Manager{dir: dir, keepLastN: keepLastN, log: log}, nil
}

// StepPath returns the on-disk name for a step snapshot.
func (g *Manager) StepPath(step int) string {
	return filepath.Join(g.dir, fmt.Sprintf("step_%06d.st", step))
}

// FinalPath returns the on-disk name of the end-of-training snapshot.
func (g *Manager) FinalPath() string {
	return filepath.Join(g.dir, finalName)
}

// SaveStep writes a step snapshot, repoints latest.st, and prunes old
// snapshots.
func (g *Manager) SaveStep(m *model.Model, meta Meta) (string, error) {
	path := g.StepPath(meta.Step)
	if err := Save(path, m, meta); err != nil {
		return "", err
	}
	if err := g.updateLatest(filepath.Base(path)); err != nil {
		return "", err
	}
	if err := g.prune(); err != nil {
		return "", err
	}
	g.log.Info("saved checkpoint", "path", path, "step", meta.Step)
	return path, nil
}

// SaveFinal writes final.st and points latest.st at it.
func (g *Manager) SaveFinal(m *model.Model, meta Meta) (string, error) {
	path := g.FinalPath()
	if err := Save(path, m, meta); err != nil {
		return "", err
	}
	if err := g.updateLatest(finalName); err != nil {
		return "", err
	}
	g.log.Info("saved final checkpoint", "path", path, "step", meta.Step)
	return path, nil
}

// Latest resolves latest.st to a concrete checkpoint file.
func (g *Manager) Latest() (string, bool) {
	link := filepath.Join(g.dir, latestName)
	target, err := os.Readlink(link)
	if err != nil {
		return "", false
	}
	path := filepath.Join(g.dir, target)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

func (g *Manager) updateLatest(target string) error {
	link := filepath.Join(g.dir, latestName)
	tmp := link + ".tmp"
	os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("update latest alias: %w", err)
	}
	return os.Rename(tmp, link)
}

func (g *Manager) prune() error {
	if g.keepLastN <= 0 {
		return nil
	}
	steps, err := filepath.Glob(filepath.Join(g.dir, "step_*.st"))
	if err != nil {
		return err
	}
	if len(steps) <= g.keepLastN {
		return nil
	}
	// Zero-padded step numbers sort lexically.
	sort.Strings(steps)
	for _, path := range steps[:len(steps)-g.keepLastN] {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("prune checkpoint: %w", err)
		}
		g.log.Debug("pruned checkpoint", "path", path)
	}
	return nil
}
