package dataset

import (
	"fmt"
	"math/rand"
	"os"

	"context"
)

// Batch is one micro-batch of sequences for the language-model
// objectives.
type Batch struct {
	Inputs [][]int
	Labels [][]int
}

// Source yields micro-batches until the context is cancelled. Sources
// cycle over their data, so epochs are implicit and the training loop
// decides when to stop.
type Source interface {
	Next(ctx context.Context) (Batch, error)
}

// PairSource yields preference micro-batches.
type PairSource interface {
	Next(ctx context.Context) ([]Pair, error)
}

// ExampleSource cycles over a fixed set of encoded examples.
type ExampleSource struct {
	examples  []Example
	batchSize int
	pos       int
}

func NewExampleSource(examples []Example, batchSize int) (*ExampleSource, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("no examples")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	return &ExampleSource{examples: examples, batchSize: batchSize}, nil
}

func (s *ExampleSource) Next(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	b := Batch{
		Inputs: make([][]int, s.batchSize),
		Labels: make([][]int, s.batchSize),
	}
	for i := 0; i < s.batchSize; i++ {
		ex := s.examples[s.pos]
		s.pos = (s.pos + 1) % len(s.examples)
		b.Inputs[i] = ex.Input
		b.Labels[i] = ex.Labels
	}
	return b, nil
}

// PairSliceSource cycles over a fixed set of encoded preference pairs.
type PairSliceSource struct {
	pairs     []Pair
	batchSize int
	pos       int
}

func NewPairSource(pairs []Pair, batchSize int) (*PairSliceSource, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no preference pairs")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	return &PairSliceSource{pairs: pairs, batchSize: batchSize}, nil
}

func (s *PairSliceSource) Next(ctx context.Context) ([]Pair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Pair, s.batchSize)
	for i := 0; i < s.batchSize; i++ {
		out[i] = s.pairs[s.pos]
		s.pos = (s.pos + 1) % len(s.pairs)
	}
	return out, nil
}

// ChunkSource windows a tokenized corpus into fixed-length pretraining
// sequences with labels equal to inputs.
type ChunkSource struct {
	corpus    []int
	seqLen    int
	batchSize int
	pos       int
}

// LoadCorpus reads raw text files and tokenizes them into one stream.
func LoadCorpus(paths []string, tok ByteTokenizer) ([]int, error) {
	var corpus []int
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read corpus: %w", err)
		}
		corpus = append(corpus, tok.EncodeAll(string(data))...)
	}
	return corpus, nil
}

func NewChunkSource(corpus []int, seqLen, batchSize int) (*ChunkSource, error) {
	if seqLen <= 0 || batchSize <= 0 {
		return nil, fmt.Errorf("sequence and batch sizes must be positive")
	}
	if len(corpus) < seqLen {
		return nil, fmt.Errorf("corpus of %d tokens is shorter than one %d-token window", len(corpus), seqLen)
	}
	return &ChunkSource{corpus: corpus, seqLen: seqLen, batchSize: batchSize}, nil
}

func (s *ChunkSource) Next(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	b := Batch{
		Inputs: make([][]int, s.batchSize),
		Labels: make([][]int, s.batchSize),
	}
	for i := 0; i < s.batchSize; i++ {
		if s.pos+s.seqLen > len(s.corpus) {
			s.pos = 0
		}
		window := s.corpus[s.pos : s.pos+s.seqLen]
		s.pos += s.seqLen
		b.Inputs[i] = window
		b.Labels[i] = window
	}
	return b, nil
}

// SyntheticSource emits random token sequences. It exists so the full
// training stack can be exercised without any dataset on disk.
type SyntheticSource struct {
	rng       *rand.Rand
	vocabSize int
	seqLen    int
	batchSize int
}

func NewSyntheticSource(vocabSize, seqLen, batchSize int, seed int64) *SyntheticSource {
	return &SyntheticSource{
		rng:       rand.New(rand.NewSource(seed)),
		vocabSize: vocabSize,
		seqLen:    seqLen,
		batchSize: batchSize,
	}
}

func (s *SyntheticSource) Next(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	b := Batch{
		Inputs: make([][]int, s.batchSize),
		Labels: make([][]int, s.batchSize),
	}
	for i := 0; i < s.batchSize; i++ {
		seq := make([]int, s.seqLen)
		for t := range seq {
			// Skip the pad token so synthetic data looks like text.
			seq[t] = 1 + s.rng.Intn(s.vocabSize-1)
		}
		b.Inputs[i] = seq
		b.Labels[i] = seq
	}
	return b, nil
}
