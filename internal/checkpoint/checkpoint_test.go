package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wwessex/smart-tool/internal/logger"
	"github.com/wwessex/smart-tool/internal/model"
)

func tinyModel(t *testing.T, layers int, seed int64) *model.Model {
	t.Helper()
	m, err := model.New(model.Config{
		DModel: 8, NLayers: layers, NHeads: 2, NKVHeads: 1,
		DFF: 16, VocabSize: 16, MaxSeqLen: 8,
		NormEps: 1e-5, RopeTheta: 10000.0,
	}, seed)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestSaveLoadRoundTrip(t *testing.T) {
	src := tinyModel(t, 2, 1)
	path := filepath.Join(t.TempDir(), "ckpt.st")

	meta := Meta{Step: 42, RunID: "run-1", Stage: "pretrain", Config: src.Config}
	if err := Save(path, src, meta); err != nil {
		t.Fatal(err)
	}

	dst := tinyModel(t, 2, 99)
	got, err := LoadInto(path, dst, LoadOptions{Log: logger.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	if got.Step != 42 || got.RunID != "run-1" || got.Stage != "pretrain" {
		t.Fatalf("metadata mismatch: %+v", got)
	}
	if got.Config != src.Config {
		t.Fatalf("config did not round-trip: %+v", got.Config)
	}

	sp := src.Parameters()
	dp := dst.Parameters()
	for i := range sp {
		for j := range sp[i].W.Data {
			if sp[i].W.Data[j] != dp[i].W.Data[j] {
				t.Fatalf("%s differs at %d after load", sp[i].Name, j)
			}
		}
	}
}

func TestLoadIntoStrictRejectsMismatch(t *testing.T) {
	small := tinyModel(t, 1, 1)
	path := filepath.Join(t.TempDir(), "ckpt.st")
	if err := Save(path, small, Meta{Config: small.Config}); err != nil {
		t.Fatal(err)
	}

	big := tinyModel(t, 2, 1)
	if _, err := LoadInto(path, big, LoadOptions{Log: logger.Discard()}); err == nil {
		t.Fatal("strict load must fail when the model has tensors the checkpoint lacks")
	}
}

func TestLoadIntoAllowPartial(t *testing.T) {
	small := tinyModel(t, 1, 5)
	path := filepath.Join(t.TempDir(), "ckpt.st")
	if err := Save(path, small, Meta{Config: small.Config}); err != nil {
		t.Fatal(err)
	}

	big := tinyModel(t, 2, 6)
	var layer1 *model.Param
	for _, p := range big.Parameters() {
		if p.Name == "blk.1.attn_q.weight" {
			layer1 = p
		}
	}
	if layer1 == nil {
		t.Fatal("second-layer parameter not found")
	}
	before := layer1.W.Clone()

	if _, err := LoadInto(path, big, LoadOptions{AllowPartial: true, Log: logger.Discard()}); err != nil {
		t.Fatal(err)
	}

	// Shared tensors were overwritten.
	sp := small.Parameters()[0]
	bp := big.Parameters()[0]
	for j := range sp.W.Data {
		if sp.W.Data[j] != bp.W.Data[j] {
			t.Fatalf("shared tensor %s not loaded", sp.Name)
		}
	}
	// Second-layer tensors absent from the file keep their initialisation.
	for j := range before.Data {
		if before.Data[j] != layer1.W.Data[j] {
			t.Fatal("tensor missing from checkpoint was modified")
		}
	}
}

func TestLoadIntoRejectsWrongShape(t *testing.T) {
	src := tinyModel(t, 1, 1)
	path := filepath.Join(t.TempDir(), "ckpt.st")
	if err := Save(path, src, Meta{Config: src.Config}); err != nil {
		t.Fatal(err)
	}

	other, err := model.New(model.Config{
		DModel: 8, NLayers: 1, NHeads: 2, NKVHeads: 1,
		DFF: 16, VocabSize: 32, MaxSeqLen: 8, // bigger vocab, same names
		NormEps: 1e-5, RopeTheta: 10000.0,
	}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := LoadInto(path, other, LoadOptions{Log: logger.Discard()}); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	m := tinyModel(t, 1, 1)
	_, err := LoadInto(filepath.Join(t.TempDir(), "absent.st"), m, LoadOptions{Log: logger.Discard()})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !os.IsNotExist(err) {
		t.Fatalf("want not-exist error, got %v", err)
	}
}

func TestReadMeta(t *testing.T) {
	m := tinyModel(t, 1, 1)
	path := filepath.Join(t.TempDir(), "ckpt.st")
	if err := Save(path, m, Meta{Step: 7, RunID: "abc", Stage: "dpo", Config: m.Config}); err != nil {
		t.Fatal(err)
	}
	meta, err := ReadMeta(path)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Step != 7 || meta.RunID != "abc" || meta.Stage != "dpo" {
		t.Fatalf("meta %+v", meta)
	}
}

func TestManagerPrunesAndAliases(t *testing.T) {
	dir := t.TempDir()
	mg, err := NewManager(dir, 2, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	m := tinyModel(t, 1, 1)

	for _, step := range []int{10, 20, 30} {
		if _, err := mg.SaveStep(m, Meta{Step: step, Config: m.Config}); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := os.Stat(mg.StepPath(10)); err == nil {
		t.Fatal("oldest snapshot should have been pruned")
	}
	for _, step := range []int{20, 30} {
		if _, err := os.Stat(mg.StepPath(step)); err != nil {
			t.Fatalf("snapshot for step %d missing: %v", step, err)
		}
	}

	latest, ok := mg.Latest()
	if !ok {
		t.Fatal("latest alias unresolved")
	}
	if latest != mg.StepPath(30) {
		t.Fatalf("latest %q want step 30 snapshot", latest)
	}

	if _, err := mg.SaveFinal(m, Meta{Step: 31, Config: m.Config}); err != nil {
		t.Fatal(err)
	}
	latest, ok = mg.Latest()
	if !ok || latest != mg.FinalPath() {
		t.Fatalf("latest %q want final snapshot", latest)
	}
	// Final is never pruned even with step snapshots around.
	if _, err := os.Stat(mg.FinalPath()); err != nil {
		t.Fatal("final snapshot missing")
	}
}

func TestManagerKeepAllWhenZero(t *testing.T) {
	dir := t.TempDir()
	mg, err := NewManager(dir, 0, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	m := tinyModel(t, 1, 1)
	for _, step := range []int{1, 2, 3} {
		if _, err := mg.SaveStep(m, Meta{Step: step, Config: m.Config}); err != nil {
			t.Fatal(err)
		}
	}
	for _, step := range []int{1, 2, 3} {
		if _, err := os.Stat(mg.StepPath(step)); err != nil {
			t.Fatalf("keep_last_n=0 must keep everything, step %d missing", step)
		}
	}
}
