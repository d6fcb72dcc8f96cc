package checkpoint

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/wwessex/smart-tool/internal/logger"
	"github.com/wwessex/smart-tool/internal/model"
)

// Checkpoints use the safetensors container layout: an 8-byte
// little-endian header length, a JSON header mapping tensor names to
// dtype/shape/offsets, then the raw payload. Run metadata travels in the
// header's __metadata__ block, so a file is self-describing: the model
// config needed to rebuild the architecture rides with the weights.

// Meta is the run metadata stored alongside the tensors.
type Meta struct {
	Step   int
	RunID  string
	Stage  string
	Config model.Config
}

type headerEntry struct {
	Dtype   string `json:"dtype"`
	Shape   []int  `json:"shape"`
	Offsets [2]int `json:"data_offsets"`
}

// Save writes the model's parameters and metadata to path. The file is
// written to a temp name and renamed so a crash mid-write never leaves a
// truncated checkpoint under the final name.
func Save(path string, m *model.Model, meta Meta) error {
	params := m.Parameters()
	names := make([]string, len(params))
	byName := make(map[string]*model.Param, len(params))
	for i, p := range params {
		names[i] = p.Name
		byName[p.Name] = p
	}
	sort.Strings(names)

	cfgJSON, err := json.Marshal(meta.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	header := map[string]any{
		"__metadata__": map[string]string{
			"step":   strconv.Itoa(meta.Step),
			"run_id": meta.RunID,
			"stage":  meta.Stage,
			"config": string(cfgJSON),
		},
	}

	offset := 0
	for _, name := range names {
		p := byName[name]
		size := len(p.W.Data) * 4
		header[name] = headerEntry{
			Dtype:   "F32",
			Shape:   []int{p.W.R, p.W.C},
			Offsets: [2]int{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer os.Remove(tmp)

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerJSON)))
	if _, err := f.Write(lenBuf[:]); err != nil {
		f.Close()
		return fmt.Errorf("write header length: %w", err)
	}
	if _, err := f.Write(headerJSON); err != nil {
		f.Close()
		return fmt.Errorf("write header: %w", err)
	}

	buf := make([]byte, 0, 1<<16)
	for _, name := range names {
		p := byName[name]
		buf = buf[:0]
		for _, v := range p.W.Data {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
		if _, err := f.Write(buf); err != nil {
			f.Close()
			return fmt.Errorf("write tensor %s: %w", name, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadOptions controls how strictly a checkpoint must match the model.
type LoadOptions struct {
	// AllowPartial loads the intersection of checkpoint and model
	// tensors instead of failing on mismatched name sets. Every skipped
	// tensor is logged.
	AllowPartial bool
	Log          logger.Logger
}

// LoadInto copies a checkpoint's tensors into the model's parameters.
// By default the checkpoint and model must carry exactly the same tensor
// names with the same shapes; silent partial loads hide corrupted or
// mismatched files.
func LoadInto(path string, m *model.Model, opts LoadOptions) (Meta, error) {
	log := opts.Log
	if log == nil {
		log = logger.Default()
	}

	header, payload, err := readFile(path)
	if err != nil {
		return Meta{}, err
	}
	meta, err := parseMeta(header)
	if err != nil {
		return Meta{}, fmt.Errorf("%s: %w", path, err)
	}

	entries := make(map[string]headerEntry)
	for name, raw := range header {
		if name == "__metadata__" {
			continue
		}
		var e headerEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return Meta{}, fmt.Errorf("%s: tensor %s: %w", path, name, err)
		}
		entries[name] = e
	}

	params := m.Parameters()
	byName := make(map[string]*model.Param, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}

	if !opts.AllowPartial {
		for name := range entries {
			if _, ok := byName[name]; !ok {
				return Meta{}, fmt.Errorf("%s: unexpected tensor %s", path, name)
			}
		}
		for name := range byName {
			if _, ok := entries[name]; !ok {
				return Meta{}, fmt.Errorf("%s: missing tensor %s", path, name)
			}
		}
	}

	loaded := 0
	for name, e := range entries {
		p, ok := byName[name]
		if !ok {
			log.Warn("checkpoint tensor not in model, skipping", "tensor", name)
			continue
		}
		if e.Dtype != "F32" {
			return Meta{}, fmt.Errorf("%s: tensor %s has dtype %s, want F32", path, name, e.Dtype)
		}
		if len(e.Shape) != 2 || e.Shape[0] != p.W.R || e.Shape[1] != p.W.C {
			return Meta{}, fmt.Errorf("%s: tensor %s has shape %v, want [%d %d]",
				path, name, e.Shape, p.W.R, p.W.C)
		}
		want := len(p.W.Data) * 4
		if e.Offsets[1]-e.Offsets[0] != want || e.Offsets[0] < 0 || e.Offsets[1] > len(payload) {
			return Meta{}, fmt.Errorf("%s: tensor %s has bad data offsets %v", path, name, e.Offsets)
		}
		raw := payload[e.Offsets[0]:e.Offsets[1]]
		for i := range p.W.Data {
			p.W.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		loaded++
	}
	if opts.AllowPartial {
		for name := range byName {
			if _, ok := entries[name]; !ok {
				log.Warn("model tensor not in checkpoint, keeping current weights", "tensor", name)
			}
		}
		log.Info("partial checkpoint load", "path", path, "loaded", loaded, "model_tensors", len(byName))
	}
	return meta, nil
}

// TensorInfo describes one tensor in a checkpoint header.
type TensorInfo struct {
	Name  string
	Dtype string
	Shape []int
}

// ListTensors returns the checkpoint's tensor inventory sorted by name,
// without loading any weights.
func ListTensors(path string) ([]TensorInfo, error) {
	header, _, err := readFile(path)
	if err != nil {
		return nil, err
	}
	var out []TensorInfo
	for name, raw := range header {
		if name == "__metadata__" {
			continue
		}
		var e headerEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("%s: tensor %s: %w", path, name, err)
		}
		out = append(out, TensorInfo{Name: name, Dtype: e.Dtype, Shape: e.Shape})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ReadMeta returns a checkpoint's metadata without touching any weights.
func ReadMeta(path string) (Meta, error) {
	header, _, err := readFile(path)
	if err != nil {
		return Meta{}, err
	}
	meta, err := parseMeta(header)
	if err != nil {
		return Meta{}, fmt.Errorf("%s: %w", path, err)
	}
	return meta, nil
}

func readFile(path string) (map[string]json.RawMessage, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var lenBuf [8]byte
	if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
		return nil, nil, fmt.Errorf("%s: read header length: %w", path, err)
	}
	headerLen := binary.LittleEndian.Uint64(lenBuf[:])
	if headerLen == 0 || headerLen > 64<<20 {
		return nil, nil, fmt.Errorf("%s: implausible header length %d", path, headerLen)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerJSON); err != nil {
		return nil, nil, fmt.Errorf("%s: read header: %w", path, err)
	}
	var header map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, nil, fmt.Errorf("%s: parse header: %w", path, err)
	}

	payload, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: read payload: %w", path, err)
	}
	return header, payload, nil
}

func parseMeta(header map[string]json.RawMessage) (Meta, error) {
	raw, ok := header["__metadata__"]
	if !ok {
		return Meta{}, fmt.Errorf("checkpoint has no metadata block")
	}
	var kv map[string]string
	if err := json.Unmarshal(raw, &kv); err != nil {
		return Meta{}, fmt.Errorf("parse metadata: %w", err)
	}
	meta := Meta{RunID: kv["run_id"], Stage: kv["stage"]}
	if s := kv["step"]; s != "" {
		step, err := strconv.Atoi(s)
		if err != nil {
			return Meta{}, fmt.Errorf("bad step %q in metadata", s)
		}
		meta.Step = step
	}
	if c := kv["config"]; c != "" {
		if err := json.Unmarshal([]byte(c), &meta.Config); err != nil {
			return Meta{}, fmt.Errorf("parse config in metadata: %w", err)
		}
	}
	return meta, nil
}
