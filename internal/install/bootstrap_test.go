package install_test

import (
	"context"
	"errors"
	"testing"

	"happinstall/internal/adapter/fake"
	"happinstall/internal/install"
)

func TestBootstrapSuccessReleasesSession(t *testing.T) {
	batch := batchOf(t, "a", "b", "c")
	conductor := fake.NewConductor()
	prov := &fake.Provisioner{Path: "/tmp/sandbox"}
	opener := &fake.Opener{Session: conductor}

	res, err := install.Bootstrap(context.Background(), prov, opener, install.Runner{}, batch)
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if res.Completed != 3 {
		t.Fatalf("Completed = %d, want 3", res.Completed)
	}
	calls := opener.Calls("Open")
	if len(calls) != 1 || calls[0].Args[0] != "/tmp/sandbox" {
		t.Fatalf("Open calls = %v, want one for /tmp/sandbox", calls)
	}
	if got := conductor.Closes(); got != 1 {
		t.Fatalf("Close calls = %d, want 1", got)
	}
}

func TestBootstrapReleasesSessionOnEveryFailure(t *testing.T) {
	tests := []struct {
		name string
		kind install.Kind
		mut  func(b *install.Batch, c *fake.Conductor)
	}{
		{"protocol", install.KindProtocol, func(_ *install.Batch, c *fake.Conductor) { c.Respond = failInstallOf("b") }},
		{"bundle", install.KindBundleResolution, func(b *install.Batch, _ *fake.Conductor) { b.Apps[2].BundlePath = "" }},
		{"proof", install.KindProofDecode, func(b *install.Batch, _ *fake.Conductor) { b.Apps[0].Proofs.Payload[0].Proof = "!!" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := batchOf(t, "a", "b", "c")
			conductor := fake.NewConductor()
			tt.mut(&batch, conductor)

			_, err := install.Bootstrap(context.Background(), &fake.Provisioner{Path: "sb"}, &fake.Opener{Session: conductor}, install.Runner{}, batch)
			if got := install.KindOf(err); got != tt.kind {
				t.Fatalf("KindOf(err) = %s, want %s (err = %v)", got, tt.kind, err)
			}
			if got := conductor.Closes(); got != 1 {
				t.Fatalf("Close calls = %d, want 1", got)
			}
		})
	}
}

func TestBootstrapProvisionFailure(t *testing.T) {
	prov := &fake.Provisioner{Err: errors.New("disk full")}
	opener := &fake.Opener{Session: fake.NewConductor()}

	_, err := install.Bootstrap(context.Background(), prov, opener, install.Runner{}, batchOf(t, "a"))
	if got, want := install.KindOf(err), install.KindProvision; got != want {
		t.Fatalf("KindOf(err) = %s, want %s", got, want)
	}
	if len(opener.Calls("")) != 0 {
		t.Fatalf("Open called after provision failure: %v", opener.Calls(""))
	}
}

func TestBootstrapOpenFailure(t *testing.T) {
	opener := &fake.Opener{Err: errors.New("conductor exited")}

	_, err := install.Bootstrap(context.Background(), &fake.Provisioner{Path: "sb"}, opener, install.Runner{}, batchOf(t, "a"))
	if got, want := install.KindOf(err), install.KindChannel; got != want {
		t.Fatalf("KindOf(err) = %s, want %s", got, want)
	}
}

func TestBootstrapCloseFailure(t *testing.T) {
	closeErr := errors.New("conductor did not stop")

	t.Run("after success", func(t *testing.T) {
		conductor := fake.NewConductor()
		conductor.CloseErr = closeErr
		res, err := install.Bootstrap(context.Background(), &fake.Provisioner{Path: "sb"}, &fake.Opener{Session: conductor}, install.Runner{}, batchOf(t, "a"))
		if got, want := install.KindOf(err), install.KindChannel; got != want {
			t.Fatalf("KindOf(err) = %s, want %s", got, want)
		}
		if !errors.Is(err, closeErr) {
			t.Fatalf("error = %v, want wrapped close error", err)
		}
		if res.Completed != 1 {
			t.Fatalf("Completed = %d, want 1", res.Completed)
		}
	})

	t.Run("after failure", func(t *testing.T) {
		conductor := fake.NewConductor()
		conductor.CloseErr = closeErr
		conductor.Respond = failInstallOf("a")
		_, err := install.Bootstrap(context.Background(), &fake.Provisioner{Path: "sb"}, &fake.Opener{Session: conductor}, install.Runner{}, batchOf(t, "a"))
		if got, want := install.KindOf(err), install.KindProtocol; got != want {
			t.Fatalf("KindOf(err) = %s, want %s", got, want)
		}
	})
}

func TestBootstrapRejectsInvalidBatch(t *testing.T) {
	batch := batchOf(t, "a", "b")
	batch.Apps[1].InstalledAppID = "a"
	prov := &fake.Provisioner{Path: "sb"}

	_, err := install.Bootstrap(context.Background(), prov, &fake.Opener{Session: fake.NewConductor()}, install.Runner{}, batch)
	if got, want := install.KindOf(err), install.KindConfig; got != want {
		t.Fatalf("KindOf(err) = %s, want %s", got, want)
	}
	if got := prov.Calls(""); len(got) != 0 {
		t.Fatalf("Provision called for invalid batch: %v", got)
	}
}
