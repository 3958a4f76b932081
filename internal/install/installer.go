package install

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"happinstall/internal/admin"
	"happinstall/internal/bundle"
	"happinstall/internal/proof"
)

// Installer turns one AppDescriptor into an install_app_bundle request.
// The zero value is ready to use.
type Installer struct {
	// UID is passed to the conductor as the network seed for every app.
	UID string
}

// Resolve locates the app bundle and prepares the request source. It sends
// no request.
func (in Installer) Resolve(app AppDescriptor) (admin.AppBundleSource, error) {
	path, err := bundle.Locate(app.BundlePath)
	if err != nil {
		return admin.AppBundleSource{}, &Error{Kind: KindBundleResolution, Index: -1, Err: err}
	}

	if app.Source == SourcePath {
		abs, err := filepath.Abs(path)
		if err != nil {
			return admin.AppBundleSource{}, &Error{Kind: KindBundleResolution, Index: -1, Err: fmt.Errorf("resolve bundle path: %w", err)}
		}
		return admin.AppBundleSource{Path: abs}, nil
	}

	b, err := bundle.Resolve(path)
	if err != nil {
		return admin.AppBundleSource{}, &Error{Kind: KindBundleResolution, Index: -1, Err: err}
	}
	return admin.AppBundleSource{Bundle: b}, nil
}

// Submit sends exactly one install_app_bundle request and returns the
// installed app id the conductor reports, which may differ from the one
// requested.
func (in Installer) Submit(ctx context.Context, ch admin.Commander, agent admin.AgentPubKey, app AppDescriptor, src admin.AppBundleSource, proofs proof.Map) (string, error) {
	if proofs == nil {
		proofs = proof.Map{}
	}
	info, err := admin.InstallAppBundle(ctx, ch, admin.InstallAppBundlePayload{
		InstalledAppID: app.InstalledAppID,
		AgentKey:       agent,
		Source:         src,
		MembraneProofs: proofs,
		UID:            in.UID,
	})
	if err != nil {
		if ue, ok := asUnexpected(err); ok {
			return "", &Error{Kind: KindProtocol, Index: -1, Err: unexpected(ue.Expected, ue.Got)}
		}
		return "", &Error{Kind: KindChannel, Index: -1, Err: err}
	}
	if info.InstalledAppID == "" {
		return "", &Error{Kind: KindProtocol, Index: -1, Err: &ProtocolError{
			Expected: admin.ResponseAppBundleInstalled,
			Variant:  admin.ResponseAppBundleInstalled,
			Detail:   "installed_app_id is empty",
		}}
	}
	return info.InstalledAppID, nil
}

// Install resolves the bundle and submits it in one call.
func (in Installer) Install(ctx context.Context, ch admin.Commander, agent admin.AgentPubKey, app AppDescriptor, proofs proof.Map) (string, error) {
	src, err := in.Resolve(app)
	if err != nil {
		return "", err
	}
	return in.Submit(ctx, ch, agent, app, src, proofs)
}

// Activate sends activate_app for installedAppID. Any failure, transport
// included, is KindActivation.
func Activate(ctx context.Context, ch admin.Commander, installedAppID string) error {
	err := admin.ActivateApp(ctx, ch, installedAppID)
	if err == nil {
		return nil
	}
	if ue, ok := asUnexpected(err); ok {
		err = fmt.Errorf("activate app %q: %w", installedAppID, unexpected(ue.Expected, ue.Got))
	}
	return &Error{Kind: KindActivation, Index: -1, Err: err}
}

func unexpected(expected string, resp admin.Response) *ProtocolError {
	pe := &ProtocolError{Expected: expected, Variant: resp.Type}
	if pe.Variant == "" {
		pe.Variant = "<empty>"
	}
	if e := resp.Err(); e != nil {
		pe.Detail = e.Error()
	}
	return pe
}

func asUnexpected(err error) (*admin.UnexpectedResponseError, bool) {
	var ue *admin.UnexpectedResponseError
	ok := errors.As(err, &ue)
	return ue, ok
}

// asProtocolError reports the ProtocolError in err's chain, if any.
func asProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	ok := errors.As(err, &pe)
	return pe, ok
}
