package train

import (
	"github.com/wwessex/smart-tool/internal/dataset"
	"github.com/wwessex/smart-tool/internal/logger"
)

// BuildLMSource constructs the batch source for the next-token stages.
// Pretraining windows raw text files into fixed-length chunks, or falls
// back to a synthetic stream when no paths are configured; SFT reads
// JSONL conversations and masks the prompt unless configured otherwise.
func BuildLMSource(cfg *Config, log logger.Logger) (dataset.Source, error) {
	tok := dataset.NewByteTokenizer(cfg.Model.VocabSize)

	switch cfg.Stage {
	case StageSFT:
		records, err := dataset.ReadSFT(cfg.Data.Paths, log)
		if err != nil {
			return nil, err
		}
		examples := make([]dataset.Example, len(records))
		for i, rec := range records {
			examples[i] = dataset.EncodeSFT(tok, rec, cfg.Model.MaxSeqLen, cfg.MaskPrompt())
		}
		log.Info("loaded sft dataset", "examples", len(examples), "mask_prompt", cfg.MaskPrompt())
		return dataset.NewExampleSource(examples, cfg.Batch.MicroBatchSize)

	default:
		if len(cfg.Data.Paths) == 0 {
			log.Warn("no data paths configured, using synthetic pretraining stream")
			return dataset.NewSyntheticSource(
				cfg.Model.VocabSize, cfg.Model.MaxSeqLen, cfg.Batch.MicroBatchSize, cfg.Seed), nil
		}
		corpus, err := dataset.LoadCorpus(cfg.Data.Paths, tok)
		if err != nil {
			return nil, err
		}
		log.Info("loaded pretraining corpus", "tokens", len(corpus))
		return dataset.NewChunkSource(corpus, cfg.Model.MaxSeqLen, cfg.Batch.MicroBatchSize)
	}
}

// BuildPairSource constructs the preference-pair source for DPO.
func BuildPairSource(cfg *Config, log logger.Logger) (dataset.PairSource, error) {
	tok := dataset.NewByteTokenizer(cfg.Model.VocabSize)
	records, err := dataset.ReadPreferences(cfg.Data.Paths, log)
	if err != nil {
		return nil, err
	}
	pairs := make([]dataset.Pair, len(records))
	for i, rec := range records {
		pairs[i] = dataset.EncodePair(tok, rec, cfg.Model.MaxSeqLen)
	}
	log.Info("loaded preference dataset", "pairs", len(pairs))
	return dataset.NewPairSource(pairs, cfg.Batch.MicroBatchSize)
}
