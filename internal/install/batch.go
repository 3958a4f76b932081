package install

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"happinstall/internal/proof"
)

// SourceMode selects how a bundle reaches the conductor.
type SourceMode string

const (
	// SourceBundle sends the decoded bundle inline.
	SourceBundle SourceMode = "bundle"
	// SourcePath sends the bundle's absolute path for the conductor to read.
	SourcePath SourceMode = "path"
)

func (m SourceMode) IsValid() bool {
	return m == "" || m == SourceBundle || m == SourcePath
}

// AppDescriptor is one app to install.
type AppDescriptor struct {
	// InstalledAppID is the requested id. Empty lets the conductor choose.
	InstalledAppID string
	BundlePath     string
	Proofs         proof.File
	Source         SourceMode
}

// Label names the app in progress output.
func (a AppDescriptor) Label() string {
	if a.InstalledAppID != "" {
		return a.InstalledAppID
	}
	return filepath.Base(a.BundlePath)
}

// Batch is an ordered list of apps installed under one agent key.
type Batch struct {
	Name string
	Apps []AppDescriptor
}

// AppIDs returns the requested ids in order.
func (b Batch) AppIDs() []string {
	ids := make([]string, len(b.Apps))
	for i, app := range b.Apps {
		ids[i] = app.InstalledAppID
	}
	return ids
}

// Validate checks that requested ids are unique and source modes known.
func (b Batch) Validate() error {
	seen := make(map[string]int, len(b.Apps))
	for i, app := range b.Apps {
		if !app.Source.IsValid() {
			return fmt.Errorf("batch %q: app %d: unknown source %q", b.Name, i+1, app.Source)
		}
		if app.InstalledAppID == "" {
			continue
		}
		if prev, ok := seen[app.InstalledAppID]; ok {
			return fmt.Errorf("batch %q: app %d: installed_app_id %q already used by app %d", b.Name, i+1, app.InstalledAppID, prev+1)
		}
		seen[app.InstalledAppID] = i
	}
	return nil
}

const (
	PresetHosting = "hosting"
	PresetHarness = "harness"

	// DefaultDNAsDir is where the presets look for bundles.
	DefaultDNAsDir = "../../dnas"

	ElementalChatAppID  = "uhCkklzn8qJaPj2t-sbQmGLdEMaaRHtr_cCqWsmP6nlboU4dDJHRH"
	TestAppID           = "uhCkkCQHxC8aG3v3qwD_5Velo1IHE1RdxEr9-tuNSK15u73m1LPOo"
	HostingAppID        = "holo-hosting-happ"
	ServiceLoggerSuffix = "::servicelogger"

	testProof = "rGpvaW5pbmcgY29kZQ=="
)

// ErrUnknownPreset is returned by Preset for names it does not know.
var ErrUnknownPreset = errors.New("unknown batch preset")

// Presets lists the built-in batch names.
func Presets() []string { return []string{PresetHosting, PresetHarness} }

// Preset returns a built-in batch with bundles under dnasDir.
func Preset(name, dnasDir string) (Batch, error) {
	if dnasDir == "" {
		dnasDir = DefaultDNAsDir
	}
	happ := func(file string) string { return filepath.Join(dnasDir, file) }

	switch name {
	case PresetHosting:
		test := proof.Single("test", testProof)
		return Batch{Name: PresetHosting, Apps: []AppDescriptor{
			{InstalledAppID: ElementalChatAppID, BundlePath: happ("elemental-chat.happ"), Proofs: test},
			{InstalledAppID: TestAppID, BundlePath: happ("test.happ"), Proofs: test},
			{InstalledAppID: HostingAppID, BundlePath: happ("holo-hosting-app.happ"), Proofs: test},
			{InstalledAppID: ElementalChatAppID + ServiceLoggerSuffix, BundlePath: happ("servicelogger.happ"), Proofs: test},
			{InstalledAppID: TestAppID + ServiceLoggerSuffix, BundlePath: happ("servicelogger.happ"), Proofs: test},
		}}, nil
	case PresetHarness:
		return Batch{Name: PresetHarness, Apps: []AppDescriptor{
			{InstalledAppID: ElementalChatAppID, BundlePath: happ("elemental-chat.happ"), Proofs: proof.Single("elemental-chat", "AA=="), Source: SourcePath},
			{InstalledAppID: TestAppID, BundlePath: happ("test.happ"), Proofs: proof.Single("test", testProof), Source: SourcePath},
			{InstalledAppID: ElementalChatAppID + ServiceLoggerSuffix, BundlePath: happ("servicelogger.happ"), Source: SourcePath},
			{InstalledAppID: TestAppID + ServiceLoggerSuffix, BundlePath: happ("servicelogger.happ"), Source: SourcePath},
			{InstalledAppID: HostingAppID, BundlePath: happ("holo-hosting-app.happ"), Source: SourcePath},
		}}, nil
	default:
		return Batch{}, fmt.Errorf("%w %q (known: %s)", ErrUnknownPreset, name, strings.Join(Presets(), ", "))
	}
}

type batchFile struct {
	Name   string     `yaml:"name"`
	Source SourceMode `yaml:"source"`
	Apps   []batchApp `yaml:"apps"`
}

type batchApp struct {
	InstalledAppID     string          `yaml:"installed_app_id"`
	Bundle             string          `yaml:"bundle"`
	Source             SourceMode      `yaml:"source"`
	MembraneProofs     []proof.Payload `yaml:"membrane_proofs"`
	MembraneProofsFile string          `yaml:"membrane_proofs_file"`
}

// LoadBatch reads a YAML batch file. Relative bundle and proof file paths
// are resolved against the batch file's directory.
func LoadBatch(path string) (Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Batch{}, fmt.Errorf("read batch file: %w", err)
	}
	var f batchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Batch{}, fmt.Errorf("parse batch file %s: %w", path, err)
	}

	base := filepath.Dir(path)
	rel := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	b := Batch{Name: f.Name, Apps: make([]AppDescriptor, 0, len(f.Apps))}
	if b.Name == "" {
		b.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	for i, a := range f.Apps {
		if a.MembraneProofsFile != "" && len(a.MembraneProofs) > 0 {
			return Batch{}, fmt.Errorf("batch file %s: app %d: membrane_proofs and membrane_proofs_file are exclusive", path, i+1)
		}
		app := AppDescriptor{
			InstalledAppID: a.InstalledAppID,
			BundlePath:     rel(a.Bundle),
			Proofs:         proof.File{Payload: a.MembraneProofs},
			Source:         a.Source,
		}
		if app.Source == "" {
			app.Source = f.Source
		}
		if a.MembraneProofsFile != "" {
			pf, err := proof.LoadFile(rel(a.MembraneProofsFile))
			if err != nil {
				return Batch{}, fmt.Errorf("batch file %s: app %d: %w", path, i+1, err)
			}
			app.Proofs = pf
		}
		b.Apps = append(b.Apps, app)
	}
	if err := b.Validate(); err != nil {
		return Batch{}, err
	}
	return b, nil
}
