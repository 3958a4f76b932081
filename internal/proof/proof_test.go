package proof

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDecodeEmpty(t *testing.T) {
	got, err := Decode(File{})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got == nil {
		t.Fatal("Decode() returned nil map for empty input")
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}

func TestDecodeSingleEntry(t *testing.T) {
	got, err := Decode(Single("test", "rGpvaW5pbmcgY29kZQ=="))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	want := []byte("\xacjoining code")
	if !bytes.Equal(got["test"], want) {
		t.Fatalf("test proof = %q, want %q", got["test"], want)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
}

func TestDecodeRejectsWholeFile(t *testing.T) {
	tests := []struct {
		name string
		file File
	}{
		{
			name: "invalid base64 only",
			file: Single("x", "not-base64!"),
		},
		{
			name: "invalid after valid",
			file: File{Payload: []Payload{
				{CellNick: "ok", Proof: "AA=="},
				{CellNick: "x", Proof: "not-base64!"},
			}},
		},
		{
			name: "duplicate cell nick",
			file: File{Payload: []Payload{
				{CellNick: "test", Proof: "AA=="},
				{CellNick: "test", Proof: "AQ=="},
			}},
		},
		{
			name: "missing cell nick",
			file: Single(" ", "AA=="),
		},
		{
			name: "embedded newline",
			file: Single("x", "AA\n=="),
		},
		{
			name: "embedded carriage return",
			file: Single("x", "AA\r\n=="),
		},
		{
			name: "non-canonical padding bits",
			file: Single("x", "AB=="),
		},
		{
			name: "missing padding",
			file: Single("x", "AA"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.file)
			if !errors.Is(err, ErrDecode) {
				t.Fatalf("Decode() error = %v, want ErrDecode", err)
			}
			if got != nil {
				t.Fatalf("Decode() map = %v, want nil", got)
			}
		})
	}
}

func TestLoadFileYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "proofs.yaml")
	jsonPath := filepath.Join(dir, "proofs.json")
	if err := os.WriteFile(yamlPath, []byte("payload:\n  - cell_nick: elemental-chat\n    proof: AA==\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(jsonPath, []byte(`{"payload":[{"cell_nick":"elemental-chat","proof":"AA=="}]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{yamlPath, jsonPath} {
		f, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile(%s) error = %v", path, err)
		}
		if f.Len() != 1 || f.Payload[0].CellNick != "elemental-chat" || f.Payload[0].Proof != "AA==" {
			t.Fatalf("LoadFile(%s) = %+v", path, f)
		}
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("LoadFile() error = nil, want error")
	}
}
