package fake

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"happinstall/internal/admin"
)

func TestCallRecorderFiltersByMethod(t *testing.T) {
	var r CallRecorder
	r.record("Provision")
	r.record("Open", "/tmp/a")
	r.record("Open", "/tmp/b")

	if got := len(r.Calls("")); got != 3 {
		t.Fatalf("Calls(\"\") = %d calls, want 3", got)
	}
	opens := r.Calls("Open")
	if len(opens) != 2 || opens[1].Args[0] != "/tmp/b" {
		t.Fatalf("Calls(Open) = %v", opens)
	}
	if got := r.Calls("Close"); len(got) != 0 {
		t.Fatalf("Calls(Close) = %v, want none", got)
	}
	if got, want := r.Methods(), []string{"Provision", "Open", "Open"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Methods() = %v, want %v", got, want)
	}
}

func TestConductorInstallAndActivate(t *testing.T) {
	ctx := context.Background()
	c := NewConductor()

	resp, err := c.Command(ctx, admin.Request{Type: admin.RequestGenerateAgentPubKey})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	key, ok := resp.Data.(admin.AgentPubKey)
	if !ok || len(key) != 39 {
		t.Fatalf("generate data = %#v", resp.Data)
	}

	install := func(id string) admin.Response {
		t.Helper()
		resp, err := c.Command(ctx, admin.Request{
			Type: admin.RequestInstallAppBundle,
			Data: admin.InstallAppBundlePayload{InstalledAppID: id, AgentKey: key},
		})
		if err != nil {
			t.Fatalf("install %q: %v", id, err)
		}
		return resp
	}

	if got := install("chat"); got.Type != admin.ResponseAppBundleInstalled {
		t.Fatalf("install chat = %v", got.Type)
	}
	unnamed := install("")
	info, ok := unnamed.Data.(admin.InstalledAppInfo)
	if !ok || info.InstalledAppID != "app-2" {
		t.Fatalf("unnamed install data = %#v", unnamed.Data)
	}
	if got := install("chat"); got.Type != admin.ResponseError {
		t.Fatalf("duplicate install = %v, want error", got.Type)
	}

	resp, err = c.Command(ctx, admin.Request{Type: admin.RequestActivateApp, Data: admin.ActivateAppPayload{InstalledAppID: "ghost"}})
	if err != nil || resp.Type != admin.ResponseError {
		t.Fatalf("activate ghost = %v, %v", resp.Type, err)
	}
	resp, err = c.Command(ctx, admin.Request{Type: admin.RequestActivateApp, Data: admin.ActivateAppPayload{InstalledAppID: "chat"}})
	if err != nil || resp.Type != admin.ResponseAppActivated {
		t.Fatalf("activate chat = %v, %v", resp.Type, err)
	}
	if !c.Active["chat"] {
		t.Fatal("chat not active")
	}
	if got, want := c.ActivatedIDs(), []string{"ghost", "chat"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ActivatedIDs() = %v, want %v", got, want)
	}
	if got := len(c.InstallPayloads()); got != 3 {
		t.Fatalf("InstallPayloads() = %d, want 3", got)
	}
}

func TestConductorClosedAndInjectedErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	c := NewConductor()
	c.CommandErr = func(req admin.Request) error {
		if req.Type == admin.RequestActivateApp {
			return boom
		}
		return nil
	}

	if _, err := c.Command(ctx, admin.Request{Type: admin.RequestActivateApp, Data: admin.ActivateAppPayload{}}); !errors.Is(err, boom) {
		t.Fatalf("activate err = %v, want boom", err)
	}

	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := c.Command(ctx, admin.Request{Type: admin.RequestGenerateAgentPubKey}); !errors.Is(err, admin.ErrClosed) {
		t.Fatalf("command after close err = %v, want ErrClosed", err)
	}
	if got, want := c.RequestTypes(), []string{admin.RequestActivateApp, admin.RequestGenerateAgentPubKey}; !reflect.DeepEqual(got, want) {
		t.Fatalf("RequestTypes() = %v, want %v", got, want)
	}
	if got := c.Closes(); got != 1 {
		t.Fatalf("Closes() = %d, want 1", got)
	}
}
