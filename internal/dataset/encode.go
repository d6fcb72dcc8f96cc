package dataset

import (
	"github.com/wwessex/smart-tool/internal/model"
)

// Example is one tokenized training sequence with its per-position
// labels. Labels equal the inputs except where masked out with
// model.IgnoreIndex.
type Example struct {
	Input  []int
	Labels []int
}

// Pair is one tokenized preference pair. Chosen and Rejected share the
// same prompt prefix of PromptLen tokens; only tokens after the prefix
// are scored by the preference objective.
type Pair struct {
	Chosen    []int
	Rejected  []int
	PromptLen int
}

// PromptText renders the conversation prefix up to but excluding the
// assistant turn.
func (r SFTRecord) PromptText() string {
	if r.System == "" {
		return r.User + "\n\n"
	}
	return r.System + "\n\n" + r.User + "\n\n"
}

// FullText renders the whole conversation, prompt plus assistant
// response.
func (r SFTRecord) FullText() string {
	return r.PromptText() + r.Assistant
}

// EncodeSFT tokenizes one conversation. With maskPrompt the label
// positions covering the prompt are excluded from the loss, so training
// only teaches the response.
func EncodeSFT(tok ByteTokenizer, r SFTRecord, maxLen int, maskPrompt bool) Example {
	ids := tok.Encode(r.FullText(), maxLen)
	labels := append([]int(nil), ids...)
	if maskPrompt {
		promptLen := len(r.PromptText())
		if promptLen > maxLen {
			promptLen = maxLen
		}
		for i := 0; i < promptLen; i++ {
			labels[i] = model.IgnoreIndex
		}
	}
	return Example{Input: ids, Labels: labels}
}

// EncodePair tokenizes one preference pair. Both completions get the
// identical prompt prefix, so their log-prob difference isolates the
// response.
func EncodePair(tok ByteTokenizer, r PreferenceRecord, maxLen int) Pair {
	prompt := r.Prompt + "\n"
	promptLen := len(prompt)
	if promptLen > maxLen {
		promptLen = maxLen
	}
	return Pair{
		Chosen:    tok.Encode(prompt+r.Chosen, maxLen),
		Rejected:  tok.Encode(prompt+r.Rejected, maxLen),
		PromptLen: promptLen,
	}
}
