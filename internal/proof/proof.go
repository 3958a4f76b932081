// Package proof decodes membrane proof files.
//
// A membrane proof file lists base64 proofs for the cells of one app, keyed
// by cell nick. Decoding is all-or-nothing: one bad entry rejects the file.
package proof

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrDecode marks every failure returned by Decode.
var ErrDecode = errors.New("decode membrane proofs")

// Payload is one membrane proof for a single cell.
type Payload struct {
	CellNick string `yaml:"cell_nick" json:"cell_nick"`
	// Proof is the base64 (standard alphabet, padded) encoded proof.
	Proof string `yaml:"proof" json:"proof"`
}

// File is every membrane proof for one app.
type File struct {
	Payload []Payload `yaml:"payload" json:"payload"`
}

// Map holds decoded proof bytes keyed by cell nick.
type Map map[string][]byte

// Len returns the number of entries in the file.
func (f File) Len() int { return len(f.Payload) }

// Decode turns f into a Map. Proofs must be canonical padded base64 with
// no line breaks. An empty file yields an empty, non-nil map. On any error
// the returned map is nil.
func Decode(f File) (Map, error) {
	out := make(Map, len(f.Payload))
	for i, p := range f.Payload {
		nick := strings.TrimSpace(p.CellNick)
		if nick == "" {
			return nil, fmt.Errorf("%w: entry %d: cell_nick is required", ErrDecode, i)
		}
		if _, exists := out[nick]; exists {
			return nil, fmt.Errorf("%w: entry %d: duplicate cell_nick %q", ErrDecode, i, nick)
		}
		if strings.ContainsAny(p.Proof, "\r\n") {
			return nil, fmt.Errorf("%w: entry %d (cell_nick %q): line break in proof", ErrDecode, i, nick)
		}
		raw, err := base64.StdEncoding.Strict().DecodeString(p.Proof)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d (cell_nick %q): %w", ErrDecode, i, nick, err)
		}
		out[nick] = raw
	}
	return out, nil
}

// Parse reads a proof file from YAML or JSON bytes.
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse membrane proof file: %w", err)
	}
	return f, nil
}

// LoadFile reads and parses the proof file at path.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read membrane proof file: %w", err)
	}
	return Parse(data)
}

// Single builds a file holding one proof.
func Single(cellNick, proof string) File {
	return File{Payload: []Payload{{CellNick: cellNick, Proof: proof}}}
}
