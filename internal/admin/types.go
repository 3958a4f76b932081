package admin

import (
	"encoding/base64"
	"fmt"

	"happinstall/internal/bundle"

	"github.com/vmihailenco/msgpack/v5"
)

// Request variants understood by the conductor admin interface.
const (
	RequestGenerateAgentPubKey = "generate_agent_pub_key"
	RequestInstallAppBundle    = "install_app_bundle"
	RequestActivateApp         = "activate_app"
)

// Response variants.
const (
	ResponseError                = "error"
	ResponseAgentPubKeyGenerated = "agent_pub_key_generated"
	ResponseAppBundleInstalled   = "app_bundle_installed"
	ResponseAppActivated         = "app_activated"
)

// AgentPubKey is the raw 39 byte agent public key hash.
type AgentPubKey []byte

// String renders the key in its "u"-prefixed URL-safe base64 text form.
func (k AgentPubKey) String() string {
	if len(k) == 0 {
		return ""
	}
	return "u" + base64.RawURLEncoding.EncodeToString(k)
}

// Clone returns a copy that does not alias k.
func (k AgentPubKey) Clone() AgentPubKey {
	if k == nil {
		return nil
	}
	out := make(AgentPubKey, len(k))
	copy(out, k)
	return out
}

// Request is one admin request: a variant name plus its payload.
type Request struct {
	Type string `msgpack:"type"`
	Data any    `msgpack:"data,omitempty"`
}

// AppBundleSource selects where the conductor reads the bundle from.
// Exactly one field is set.
type AppBundleSource struct {
	Bundle *bundle.Bundle `msgpack:"bundle,omitempty"`
	Path   string         `msgpack:"path,omitempty"`
}

// InstallAppBundlePayload is the body of an install_app_bundle request.
// On the wire the source is flattened: its bundle or path key sits beside
// agent_key.
type InstallAppBundlePayload struct {
	// InstalledAppID is optional; the conductor assigns one when empty.
	InstalledAppID string
	AgentKey       AgentPubKey
	Source         AppBundleSource
	MembraneProofs map[string][]byte
	UID            string
}

type installAppBundleWire struct {
	InstalledAppID string            `msgpack:"installed_app_id,omitempty"`
	AgentKey       AgentPubKey       `msgpack:"agent_key"`
	Bundle         *bundle.Bundle    `msgpack:"bundle,omitempty"`
	Path           string            `msgpack:"path,omitempty"`
	MembraneProofs map[string][]byte `msgpack:"membrane_proofs"`
	UID            string            `msgpack:"uid,omitempty"`
}

func (p InstallAppBundlePayload) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(installAppBundleWire{
		InstalledAppID: p.InstalledAppID,
		AgentKey:       p.AgentKey,
		Bundle:         p.Source.Bundle,
		Path:           p.Source.Path,
		MembraneProofs: p.MembraneProofs,
		UID:            p.UID,
	})
}

func (p *InstallAppBundlePayload) DecodeMsgpack(dec *msgpack.Decoder) error {
	var w installAppBundleWire
	if err := dec.Decode(&w); err != nil {
		return err
	}
	*p = InstallAppBundlePayload{
		InstalledAppID: w.InstalledAppID,
		AgentKey:       w.AgentKey,
		Source:         AppBundleSource{Bundle: w.Bundle, Path: w.Path},
		MembraneProofs: w.MembraneProofs,
		UID:            w.UID,
	}
	return nil
}

// ActivateAppPayload is the body of an activate_app request.
type ActivateAppPayload struct {
	InstalledAppID string `msgpack:"installed_app_id"`
}

func GenerateAgentPubKeyRequest() Request {
	return Request{Type: RequestGenerateAgentPubKey}
}

func InstallAppBundleRequest(p InstallAppBundlePayload) Request {
	if p.MembraneProofs == nil {
		p.MembraneProofs = map[string][]byte{}
	}
	return Request{Type: RequestInstallAppBundle, Data: p}
}

func ActivateAppRequest(installedAppID string) Request {
	return Request{Type: RequestActivateApp, Data: ActivateAppPayload{InstalledAppID: installedAppID}}
}

// Response is one admin response. Data holds the decoded payload for known
// variants: AgentPubKey, InstalledAppInfo, *ExternalError, or nil.
// Unknown variants keep their raw msgpack payload.
type Response struct {
	Type string
	Data any
}

// InstalledCell names one cell of an installed app.
type InstalledCell struct {
	// CellID is the (dna hash, agent key) pair.
	CellID   [][]byte `msgpack:"cell_id"`
	CellNick string   `msgpack:"cell_nick"`
}

// InstalledAppInfo is returned by a successful install.
type InstalledAppInfo struct {
	InstalledAppID string          `msgpack:"installed_app_id"`
	CellData       []InstalledCell `msgpack:"cell_data"`
}

// ExternalError is the conductor's error response body.
type ExternalError struct {
	Type    string
	Message string
}

func (e *ExternalError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message == "" {
		return e.Type
	}
	return e.Type + ": " + e.Message
}

// AgentPubKey returns the key of an agent_pub_key_generated response.
func (r Response) AgentPubKey() (AgentPubKey, bool) {
	if r.Type != ResponseAgentPubKeyGenerated {
		return nil, false
	}
	k, ok := r.Data.(AgentPubKey)
	return k, ok && len(k) > 0
}

// InstalledApp returns the info of an app_bundle_installed response.
func (r Response) InstalledApp() (InstalledAppInfo, bool) {
	if r.Type != ResponseAppBundleInstalled {
		return InstalledAppInfo{}, false
	}
	info, ok := r.Data.(InstalledAppInfo)
	return info, ok
}

// Err returns the conductor error carried by an error response.
func (r Response) Err() *ExternalError {
	if r.Type != ResponseError {
		return nil
	}
	e, _ := r.Data.(*ExternalError)
	if e == nil {
		return &ExternalError{Type: "unknown"}
	}
	return e
}

// Describe renders the variant and, for errors, the conductor message.
func (r Response) Describe() string {
	if e := r.Err(); e != nil {
		return r.Type + " (" + e.Error() + ")"
	}
	if r.Type == "" {
		return "<empty>"
	}
	return r.Type
}

// UnexpectedResponseError reports a response of the wrong variant.
type UnexpectedResponseError struct {
	Expected string
	Got      Response
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("expected %s response, got %s", e.Expected, e.Got.Describe())
}

type tagged struct {
	Type string             `msgpack:"type"`
	Data msgpack.RawMessage `msgpack:"data"`
}
