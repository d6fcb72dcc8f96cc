package model

import "fmt"

// Checkpoint tensor names follow the GGUF convention so downstream export
// and quantisation tooling can consume snapshots without a translation
// table. These names are a contract: internal refactors must keep them.
const (
	TokenEmbedName = "token_embd.weight"
	OutputNormName = "output_norm.weight"
)

func attnNormName(layer int) string { return fmt.Sprintf("blk.%d.attn_norm.weight", layer) }
func attnQName(layer int) string    { return fmt.Sprintf("blk.%d.attn_q.weight", layer) }
func attnKName(layer int) string    { return fmt.Sprintf("blk.%d.attn_k.weight", layer) }
func attnVName(layer int) string    { return fmt.Sprintf("blk.%d.attn_v.weight", layer) }
func attnOutName(layer int) string  { return fmt.Sprintf("blk.%d.attn_output.weight", layer) }
func ffnNormName(layer int) string  { return fmt.Sprintf("blk.%d.ffn_norm.weight", layer) }
func ffnGateName(layer int) string  { return fmt.Sprintf("blk.%d.ffn_gate.weight", layer) }
func ffnUpName(layer int) string    { return fmt.Sprintf("blk.%d.ffn_up.weight", layer) }
func ffnDownName(layer int) string  { return fmt.Sprintf("blk.%d.ffn_down.weight", layer) }
