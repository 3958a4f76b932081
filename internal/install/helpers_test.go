package install_test

import (
	"os"
	"path/filepath"
	"testing"

	"happinstall/internal/admin"
	"happinstall/internal/bundle"
	"happinstall/internal/install"
	"happinstall/internal/proof"
)

// writeBundle writes a minimal .happ file named name into dir.
func writeBundle(t *testing.T, dir, name string) string {
	t.Helper()
	manifest, err := bundle.NewManifest(name)
	if err != nil {
		t.Fatalf("NewManifest() error = %v", err)
	}
	path := filepath.Join(dir, name+bundle.Extension)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create bundle: %v", err)
	}
	defer f.Close()
	if err := bundle.Encode(f, &bundle.Bundle{Manifest: manifest, Resources: map[string][]byte{"dna": {1, 2, 3}}}); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return path
}

// batchOf builds a batch with one bundle per id, each carrying the test proof.
func batchOf(t *testing.T, ids ...string) install.Batch {
	t.Helper()
	dir := t.TempDir()
	b := install.Batch{Name: "test"}
	for _, id := range ids {
		b.Apps = append(b.Apps, install.AppDescriptor{
			InstalledAppID: id,
			BundlePath:     writeBundle(t, dir, id),
			Proofs:         proof.Single("test", "rGpvaW5pbmcgY29kZQ=="),
		})
	}
	return b
}

// failInstallOf answers the install request for id with a conductor error.
func failInstallOf(id string) func(admin.Request) (admin.Response, bool) {
	return func(req admin.Request) (admin.Response, bool) {
		p, ok := req.Data.(admin.InstallAppBundlePayload)
		if !ok || p.InstalledAppID != id {
			return admin.Response{}, false
		}
		return admin.Response{Type: admin.ResponseError, Data: &admin.ExternalError{Type: "AppAlreadyInstalled", Message: id}}, true
	}
}

func installIDs(payloads []admin.InstallAppBundlePayload) []string {
	out := make([]string, len(payloads))
	for i, p := range payloads {
		out[i] = p.InstalledAppID
	}
	return out
}
