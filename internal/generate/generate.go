package generate

import (
	"context"
	"fmt"

	"github.com/wwessex/smart-tool/internal/dataset"
	"github.com/wwessex/smart-tool/internal/logits"
	"github.com/wwessex/smart-tool/internal/model"
)

// Options controls one completion.
type Options struct {
	MaxNewTokens int
	Sampler      logits.SamplerConfig
}

// Run extends prompt with up to MaxNewTokens sampled tokens, stopping
// early at the model's context limit or when the sampler emits the pad
// token. Returns the full sequence, prompt included.
func Run(ctx context.Context, m *model.Model, prompt []int, opts Options) ([]int, error) {
	if len(prompt) == 0 {
		return nil, fmt.Errorf("empty prompt")
	}
	if opts.MaxNewTokens <= 0 {
		return nil, fmt.Errorf("max new tokens must be positive")
	}
	sampler := logits.NewSampler(opts.Sampler)

	seq := append([]int(nil), prompt...)
	for i := 0; i < opts.MaxNewTokens && len(seq) < m.Config.MaxSeqLen; i++ {
		if err := ctx.Err(); err != nil {
			return seq, err
		}
		out, err := m.Forward([][]int{seq}, nil)
		if err != nil {
			return nil, err
		}
		tok := sampler.Sample(out.Logits[0].Row(len(seq) - 1))
		if tok == dataset.PadToken {
			break
		}
		seq = append(seq, tok)
	}
	return seq, nil
}

// Decode renders byte-tokenized ids back to text. Ids outside the byte
// range and pad tokens become nothing; the byte tokenizer folds the
// vocabulary, so this is lossy for vocabularies under 256.
func Decode(ids []int) string {
	buf := make([]byte, 0, len(ids))
	for _, id := range ids {
		if id > dataset.PadToken && id < 256 {
			buf = append(buf, byte(id))
		}
	}
	return string(buf)
}
