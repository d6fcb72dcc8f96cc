package train

import "github.com/wwessex/smart-tool/internal/model"

// MaskedLabels copies ids and replaces the first promptLen positions with
// the ignore marker so supervised fine-tuning only pays loss on the
// response. promptLen clamps to the sequence bounds; a prompt that fills
// the whole window masks everything, which the loss rejects downstream.
func MaskedLabels(ids []int, promptLen int) []int {
	labels := append([]int(nil), ids...)
	if promptLen > len(labels) {
		promptLen = len(labels)
	}
	for i := 0; i < promptLen; i++ {
		labels[i] = model.IgnoreIndex
	}
	return labels
}
