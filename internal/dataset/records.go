package dataset

import (
	"bufio"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/wwessex/smart-tool/internal/logger"
)

// SFTRecord is one supervised fine-tuning conversation in JSONL form.
type SFTRecord struct {
	System    string `json:"system"`
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// PreferenceRecord is one preference pair for DPO in JSONL form. Score is
// carried through for dataset tooling but not used by the objective.
type PreferenceRecord struct {
	Prompt   string   `json:"prompt"`
	Chosen   string   `json:"chosen"`
	Rejected string   `json:"rejected"`
	Score    *float64 `json:"score,omitempty"`
}

// scanner buffer large enough for long single-line documents.
const maxLineBytes = 4 << 20

// ReadSFT loads SFT records from JSONL files. Malformed lines and records
// missing a user or assistant turn are skipped with a warning, never a
// hard failure: one bad row should not kill an overnight run.
func ReadSFT(paths []string, log logger.Logger) ([]SFTRecord, error) {
	var out []SFTRecord
	for _, path := range paths {
		skipped := 0
		err := eachLine(path, func(lineNo int, line []byte) {
			var rec SFTRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				skipped++
				log.Warn("skipping malformed sft record", "path", path, "line", lineNo, "error", err)
				return
			}
			if rec.User == "" || rec.Assistant == "" {
				skipped++
				log.Warn("skipping incomplete sft record", "path", path, "line", lineNo)
				return
			}
			out = append(out, rec)
		})
		if err != nil {
			return nil, err
		}
		if skipped > 0 {
			log.Warn("sft file had bad records", "path", path, "skipped", skipped)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable sft records in %v", paths)
	}
	return out, nil
}

// ReadPreferences loads DPO preference pairs from JSONL files with the
// same skip-and-warn policy as ReadSFT.
func ReadPreferences(paths []string, log logger.Logger) ([]PreferenceRecord, error) {
	var out []PreferenceRecord
	for _, path := range paths {
		skipped := 0
		err := eachLine(path, func(lineNo int, line []byte) {
			var rec PreferenceRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				skipped++
				log.Warn("skipping malformed preference record", "path", path, "line", lineNo, "error", err)
				return
			}
			if rec.Prompt == "" || rec.Chosen == "" || rec.Rejected == "" {
				skipped++
				log.Warn("skipping incomplete preference record", "path", path, "line", lineNo)
				return
			}
			out = append(out, rec)
		})
		if err != nil {
			return nil, err
		}
		if skipped > 0 {
			log.Warn("preference file had bad records", "path", path, "skipped", skipped)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable preference records in %v", paths)
	}
	return out, nil
}

func eachLine(path string, fn func(lineNo int, line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		fn(lineNo, line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}
