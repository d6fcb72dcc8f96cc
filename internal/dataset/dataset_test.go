package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/wwessex/smart-tool/internal/logger"
	"github.com/wwessex/smart-tool/internal/model"
)

func TestByteTokenizerEncodePadsAndTruncates(t *testing.T) {
	tok := NewByteTokenizer(32000)

	ids := tok.Encode("ab", 4)
	if len(ids) != 4 {
		t.Fatalf("length %d want 4", len(ids))
	}
	if ids[0] != int('a') || ids[1] != int('b') {
		t.Fatalf("unexpected ids %v", ids[:2])
	}
	if ids[2] != PadToken || ids[3] != PadToken {
		t.Fatalf("tail not padded: %v", ids)
	}

	ids = tok.Encode("abcdef", 3)
	if len(ids) != 3 || ids[2] != int('c') {
		t.Fatalf("truncation wrong: %v", ids)
	}
}

func TestByteTokenizerFoldsIntoVocab(t *testing.T) {
	tok := NewByteTokenizer(16)
	for _, id := range tok.EncodeAll("The quick brown fox") {
		if id < 0 || id >= 16 {
			t.Fatalf("id %d outside vocabulary", id)
		}
	}
}

func TestReadSFTSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sft.jsonl")
	body := `{"system":"s","user":"u1","assistant":"a1"}
not json at all
{"user":"missing assistant"}
{"user":"u2","assistant":"a2"}
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	records, err := ReadSFT([]string{path}, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records want 2: %+v", len(records), records)
	}
	if records[0].User != "u1" || records[1].Assistant != "a2" {
		t.Fatalf("wrong records survived: %+v", records)
	}
}

func TestReadSFTAllBadIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sft.jsonl")
	if err := os.WriteFile(path, []byte("garbage\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSFT([]string{path}, logger.Discard()); err == nil {
		t.Fatal("expected error when no records are usable")
	}
}

func TestReadPreferences(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.jsonl")
	body := `{"prompt":"p","chosen":"c","rejected":"r","score":0.9}
{"prompt":"p2","chosen":"c2","rejected":"r2"}
{"prompt":"","chosen":"c","rejected":"r"}
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	records, err := ReadPreferences([]string{path}, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records want 2", len(records))
	}
	if records[0].Score == nil || *records[0].Score != 0.9 {
		t.Fatalf("score not carried through: %+v", records[0])
	}
}

func TestEncodeSFTMasksPrompt(t *testing.T) {
	tok := NewByteTokenizer(32000)
	rec := SFTRecord{User: "hi", Assistant: "yo"}
	const maxLen = 10

	ex := EncodeSFT(tok, rec, maxLen, true)
	promptLen := len(rec.PromptText()) // "hi\n\n" = 4

	for i := 0; i < promptLen; i++ {
		if ex.Labels[i] != model.IgnoreIndex {
			t.Fatalf("prompt label %d not masked: %d", i, ex.Labels[i])
		}
	}
	for i := promptLen; i < maxLen; i++ {
		if ex.Labels[i] != ex.Input[i] {
			t.Fatalf("response label %d mismatches input: %d vs %d", i, ex.Labels[i], ex.Input[i])
		}
	}

	unmasked := EncodeSFT(tok, rec, maxLen, false)
	for i := range unmasked.Labels {
		if unmasked.Labels[i] != unmasked.Input[i] {
			t.Fatalf("unmasked labels must equal inputs at %d", i)
		}
	}
}

func TestEncodeSFTSystemPrefix(t *testing.T) {
	rec := SFTRecord{System: "be brief", User: "q", Assistant: "a"}
	if got := rec.FullText(); got != "be brief\n\nq\n\na" {
		t.Fatalf("full text %q", got)
	}
	rec.System = ""
	if got := rec.FullText(); got != "q\n\na" {
		t.Fatalf("full text without system %q", got)
	}
}

func TestEncodePairSharesPrompt(t *testing.T) {
	tok := NewByteTokenizer(32000)
	rec := PreferenceRecord{Prompt: "pick", Chosen: "aa", Rejected: "zz"}
	pair := EncodePair(tok, rec, 12)

	if pair.PromptLen != len("pick\n") {
		t.Fatalf("prompt len %d want %d", pair.PromptLen, len("pick\n"))
	}
	for i := 0; i < pair.PromptLen; i++ {
		if pair.Chosen[i] != pair.Rejected[i] {
			t.Fatalf("prompt prefix diverges at %d", i)
		}
	}
	if pair.Chosen[pair.PromptLen] == pair.Rejected[pair.PromptLen] {
		t.Fatal("responses should differ after the prompt")
	}
}

func TestExampleSourceCycles(t *testing.T) {
	examples := []Example{
		{Input: []int{1}, Labels: []int{1}},
		{Input: []int{2}, Labels: []int{2}},
		{Input: []int{3}, Labels: []int{3}},
	}
	src, err := NewExampleSource(examples, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	b1, _ := src.Next(ctx)
	b2, _ := src.Next(ctx)
	if b1.Inputs[0][0] != 1 || b1.Inputs[1][0] != 2 {
		t.Fatalf("first batch %v", b1.Inputs)
	}
	// Wraps around after the third example.
	if b2.Inputs[0][0] != 3 || b2.Inputs[1][0] != 1 {
		t.Fatalf("second batch did not cycle: %v", b2.Inputs)
	}
}

func TestChunkSourceWindowsCorpus(t *testing.T) {
	corpus := []int{1, 2, 3, 4, 5, 6, 7}
	src, err := NewChunkSource(corpus, 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	b, _ := src.Next(ctx)
	if got := b.Inputs[0]; got[0] != 1 || got[2] != 3 {
		t.Fatalf("first window %v", got)
	}
	if b.Labels[0][0] != b.Inputs[0][0] {
		t.Fatal("pretraining labels must equal inputs")
	}
	b, _ = src.Next(ctx)
	if got := b.Inputs[0]; got[0] != 4 {
		t.Fatalf("second window %v", got)
	}
	// Tail shorter than a window wraps to the start.
	b, _ = src.Next(ctx)
	if got := b.Inputs[0]; got[0] != 1 {
		t.Fatalf("wrap window %v", got)
	}
}

func TestChunkSourceRejectsTinyCorpus(t *testing.T) {
	if _, err := NewChunkSource([]int{1, 2}, 3, 1); err == nil {
		t.Fatal("expected error for corpus shorter than one window")
	}
}

func TestSyntheticSourceAvoidsPadToken(t *testing.T) {
	src := NewSyntheticSource(16, 8, 2, 1)
	b, err := src.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, seq := range b.Inputs {
		if len(seq) != 8 {
			t.Fatalf("sequence length %d want 8", len(seq))
		}
		for _, id := range seq {
			if id == PadToken {
				t.Fatal("synthetic stream emitted the pad token")
			}
			if id < 0 || id >= 16 {
				t.Fatalf("id %d outside vocabulary", id)
			}
		}
	}
}

func TestPrefetcherDeliversAndStops(t *testing.T) {
	src := NewSyntheticSource(16, 4, 1, 2)
	ctx := context.Background()

	p := NewPrefetcher(ctx, src, 2)
	defer p.Close()

	for i := 0; i < 5; i++ {
		b, err := p.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(b.Inputs) != 1 {
			t.Fatalf("batch size %d want 1", len(b.Inputs))
		}
	}
}

func TestPrefetcherHonoursCancellation(t *testing.T) {
	src := NewSyntheticSource(16, 4, 1, 3)
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPrefetcher(ctx, src, 1)
	cancel()

	// Drain until the cancellation surfaces; buffered batches may still
	// arrive first.
	for i := 0; i < 10; i++ {
		if _, err := p.Next(ctx); err != nil {
			return
		}
	}
	t.Fatal("cancelled prefetcher kept delivering batches")
}

func TestLoadCorpus(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	os.WriteFile(a, []byte("ab"), 0o644)
	os.WriteFile(b, []byte("cd"), 0o644)

	tok := NewByteTokenizer(32000)
	corpus, err := LoadCorpus([]string{a, b}, tok)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{'a', 'b', 'c', 'd'}
	if len(corpus) != 4 {
		t.Fatalf("corpus %v", corpus)
	}
	for i := range want {
		if corpus[i] != want[i] {
			t.Fatalf("corpus[%d]=%d want %d", i, corpus[i], want[i])
		}
	}
}
