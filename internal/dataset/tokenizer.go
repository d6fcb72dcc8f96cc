package dataset

// PadToken fills sequences out to a fixed length. It is a real vocabulary
// entry the model can emit, but the objectives never pay loss on it.
const PadToken = 0

// ByteTokenizer maps UTF-8 bytes onto the model vocabulary by modular
// folding. It needs no vocabulary file and round-trips any training text,
// which is all the trainer requires; swapping in a learned tokenizer is a
// data-preparation change, not a trainer change.
type ByteTokenizer struct {
	VocabSize int
}

func NewByteTokenizer(vocabSize int) ByteTokenizer {
	return ByteTokenizer{VocabSize: vocabSize}
}

// Encode converts text to ids, truncating at maxLen and padding the tail
// with PadToken so every sequence in a batch has the same length.
func (t ByteTokenizer) Encode(text string, maxLen int) []int {
	ids := make([]int, maxLen)
	for i := 0; i < maxLen; i++ {
		if i < len(text) {
			ids[i] = int(text[i]) % t.VocabSize
		} else {
			ids[i] = PadToken
		}
	}
	return ids
}

// EncodeAll converts text without truncation or padding. Used to build a
// pretraining corpus that is then windowed.
func (t ByteTokenizer) EncodeAll(text string) []int {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i]) % t.VocabSize
	}
	return ids
}
