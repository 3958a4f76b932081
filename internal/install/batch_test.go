package install

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"happinstall/internal/proof"
)

func TestPresetHosting(t *testing.T) {
	b, err := Preset(PresetHosting, "/dnas")
	if err != nil {
		t.Fatalf("Preset() error = %v", err)
	}
	wantIDs := []string{
		ElementalChatAppID,
		TestAppID,
		HostingAppID,
		ElementalChatAppID + "::servicelogger",
		TestAppID + "::servicelogger",
	}
	if got := b.AppIDs(); !reflect.DeepEqual(got, wantIDs) {
		t.Fatalf("AppIDs() = %v, want %v", got, wantIDs)
	}
	if got, want := b.Apps[2].BundlePath, "/dnas/holo-hosting-app.happ"; got != want {
		t.Fatalf("hosting bundle = %q, want %q", got, want)
	}
	for _, app := range b.Apps {
		m, err := proof.Decode(app.Proofs)
		if err != nil {
			t.Fatalf("%s: Decode() error = %v", app.InstalledAppID, err)
		}
		if got, want := string(m["test"]), "\xacjoining code"; got != want {
			t.Fatalf("%s: proof = %q, want %q", app.InstalledAppID, got, want)
		}
		if app.Source != "" {
			t.Fatalf("%s: source = %q, want inline bundle", app.InstalledAppID, app.Source)
		}
	}
	if err := b.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestPresetHarness(t *testing.T) {
	b, err := Preset(PresetHarness, "")
	if err != nil {
		t.Fatalf("Preset() error = %v", err)
	}
	if got, want := len(b.Apps), 5; got != want {
		t.Fatalf("len(Apps) = %d, want %d", got, want)
	}
	if got, want := b.Apps[4].InstalledAppID, HostingAppID; got != want {
		t.Fatalf("last app = %q, want %q", got, want)
	}
	if got, want := b.Apps[0].BundlePath, filepath.Join(DefaultDNAsDir, "elemental-chat.happ"); got != want {
		t.Fatalf("chat bundle = %q, want %q", got, want)
	}
	chat, err := proof.Decode(b.Apps[0].Proofs)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got := chat["elemental-chat"]; !reflect.DeepEqual(got, []byte{0}) {
		t.Fatalf("chat proof = %v, want [0]", got)
	}
	for _, app := range b.Apps[2:] {
		if app.Proofs.Len() != 0 {
			t.Fatalf("%s: proofs = %v, want none", app.InstalledAppID, app.Proofs)
		}
		if app.Source != SourcePath {
			t.Fatalf("%s: source = %q, want path", app.InstalledAppID, app.Source)
		}
	}
}

func TestPresetUnknown(t *testing.T) {
	if _, err := Preset("nope", ""); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("Preset() error = %v, want ErrUnknownPreset", err)
	}
}

func TestLoadBatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "proofs.yaml"), "payload:\n  - cell_nick: chat\n    proof: AA==\n")
	writeFile(t, filepath.Join(dir, "batch.yaml"), `
name: hosting
source: path
apps:
  - installed_app_id: chat
    bundle: dnas/chat.happ
    membrane_proofs_file: proofs.yaml
  - installed_app_id: test
    bundle: /abs/test.happ
    source: bundle
    membrane_proofs:
      - cell_nick: test
        proof: rGpvaW5pbmcgY29kZQ==
  - bundle: dnas/anon.happ
`)

	b, err := LoadBatch(filepath.Join(dir, "batch.yaml"))
	if err != nil {
		t.Fatalf("LoadBatch() error = %v", err)
	}
	want := Batch{Name: "hosting", Apps: []AppDescriptor{
		{InstalledAppID: "chat", BundlePath: filepath.Join(dir, "dnas/chat.happ"), Proofs: proof.Single("chat", "AA=="), Source: SourcePath},
		{InstalledAppID: "test", BundlePath: "/abs/test.happ", Proofs: proof.Single("test", "rGpvaW5pbmcgY29kZQ=="), Source: SourceBundle},
		{BundlePath: filepath.Join(dir, "dnas/anon.happ"), Source: SourcePath},
	}}
	if !reflect.DeepEqual(b, want) {
		t.Fatalf("LoadBatch() = %+v, want %+v", b, want)
	}
	if got, want := b.Apps[2].Label(), "anon.happ"; got != want {
		t.Fatalf("Label() = %q, want %q", got, want)
	}
}

func TestLoadBatchRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"duplicate id", "apps:\n  - installed_app_id: a\n    bundle: a.happ\n  - installed_app_id: a\n    bundle: b.happ\n"},
		{"unknown source", "apps:\n  - bundle: a.happ\n    source: carrier-pigeon\n"},
		{"exclusive proofs", "apps:\n  - bundle: a.happ\n    membrane_proofs_file: p.yaml\n    membrane_proofs:\n      - cell_nick: x\n        proof: AA==\n"},
		{"missing proofs file", "apps:\n  - bundle: a.happ\n    membrane_proofs_file: p.yaml\n"},
		{"not yaml", "apps: [\n"},
	}
	for _, tt := range tests {
		path := filepath.Join(t.TempDir(), "batch.yaml")
		writeFile(t, path, tt.body)
		if _, err := LoadBatch(path); err == nil {
			t.Fatalf("%s: LoadBatch() error = nil, want error", tt.name)
		}
	}
}

func TestLoadBatchDefaultsName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staging.yaml")
	writeFile(t, path, "apps: []\n")
	b, err := LoadBatch(path)
	if err != nil {
		t.Fatalf("LoadBatch() error = %v", err)
	}
	if b.Name != "staging" {
		t.Fatalf("Name = %q, want staging", b.Name)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
