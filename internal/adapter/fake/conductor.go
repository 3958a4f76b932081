package fake

import (
	"context"
	"fmt"
	"sync"

	"happinstall/internal/admin"
	"happinstall/internal/install"
)

var (
	_ install.Session     = (*Conductor)(nil)
	_ install.Provisioner = (*Provisioner)(nil)
	_ install.Opener      = (*Opener)(nil)
)

// Conductor is an in-memory admin endpoint. It answers generate, install
// and activate requests like a real conductor and records every request.
type Conductor struct {
	CallRecorder
	mu        sync.Mutex
	AgentKey  admin.AgentPubKey
	Installed map[string]admin.InstallAppBundlePayload
	Active    map[string]bool
	requests  []admin.Request
	closes    int

	// AssignID picks the installed id returned for a requested id.
	// Nil echoes the requested id, or names unnamed apps app-N.
	AssignID func(requested string) string
	// Respond overrides the answer to req when it returns true.
	Respond func(req admin.Request) (admin.Response, bool)
	// CommandErr injects a transport failure for req.
	CommandErr func(req admin.Request) error
	CloseErr   error
}

// NewConductor creates a Conductor with a fixed agent key.
func NewConductor() *Conductor {
	key := make(admin.AgentPubKey, 39)
	copy(key, []byte{0x84, 0x20, 0x24})
	for i := 3; i < len(key); i++ {
		key[i] = byte(i)
	}
	return &Conductor{
		AgentKey:  key,
		Installed: make(map[string]admin.InstallAppBundlePayload),
		Active:    make(map[string]bool),
	}
}

func (c *Conductor) Command(ctx context.Context, req admin.Request) (admin.Response, error) {
	c.record("Command", req.Type)
	c.mu.Lock()
	c.requests = append(c.requests, req)
	closed := c.closes > 0
	c.mu.Unlock()

	if closed {
		return admin.Response{}, admin.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return admin.Response{}, err
	}
	if c.CommandErr != nil {
		if err := c.CommandErr(req); err != nil {
			return admin.Response{}, err
		}
	}
	if c.Respond != nil {
		if resp, ok := c.Respond(req); ok {
			return resp, nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch req.Type {
	case admin.RequestGenerateAgentPubKey:
		return admin.Response{Type: admin.ResponseAgentPubKeyGenerated, Data: c.AgentKey.Clone()}, nil
	case admin.RequestInstallAppBundle:
		p, ok := req.Data.(admin.InstallAppBundlePayload)
		if !ok {
			return ErrorResponse("Deserialization", "bad install payload"), nil
		}
		id := c.assign(p.InstalledAppID)
		if _, exists := c.Installed[id]; exists {
			return ErrorResponse("AppAlreadyInstalled", id), nil
		}
		c.Installed[id] = p
		return admin.Response{Type: admin.ResponseAppBundleInstalled, Data: admin.InstalledAppInfo{InstalledAppID: id}}, nil
	case admin.RequestActivateApp:
		p, ok := req.Data.(admin.ActivateAppPayload)
		if !ok {
			return ErrorResponse("Deserialization", "bad activate payload"), nil
		}
		if _, exists := c.Installed[p.InstalledAppID]; !exists {
			return ErrorResponse("AppNotInstalled", p.InstalledAppID), nil
		}
		c.Active[p.InstalledAppID] = true
		return admin.Response{Type: admin.ResponseAppActivated}, nil
	default:
		return ErrorResponse("Unimplemented", req.Type), nil
	}
}

func (c *Conductor) assign(requested string) string {
	if c.AssignID != nil {
		return c.AssignID(requested)
	}
	if requested != "" {
		return requested
	}
	return fmt.Sprintf("app-%d", len(c.Installed)+1)
}

// Close marks the conductor released. Later commands fail with admin.ErrClosed.
func (c *Conductor) Close(context.Context) error {
	c.record("Close")
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return c.CloseErr
}

// Closes returns how many times Close was called.
func (c *Conductor) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Requests returns every request received, in order.
func (c *Conductor) Requests() []admin.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]admin.Request(nil), c.requests...)
}

// RequestTypes returns the variant of every request received, in order.
func (c *Conductor) RequestTypes() []string {
	reqs := c.Requests()
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.Type
	}
	return out
}

// InstallPayloads returns the payload of every install request, in order.
func (c *Conductor) InstallPayloads() []admin.InstallAppBundlePayload {
	var out []admin.InstallAppBundlePayload
	for _, r := range c.Requests() {
		if p, ok := r.Data.(admin.InstallAppBundlePayload); ok {
			out = append(out, p)
		}
	}
	return out
}

// ActivatedIDs returns the id of every activate request, in order.
func (c *Conductor) ActivatedIDs() []string {
	var out []string
	for _, r := range c.Requests() {
		if p, ok := r.Data.(admin.ActivateAppPayload); ok {
			out = append(out, p.InstalledAppID)
		}
	}
	return out
}

// ErrorResponse builds a conductor error response.
func ErrorResponse(errType, msg string) admin.Response {
	return admin.Response{Type: admin.ResponseError, Data: &admin.ExternalError{Type: errType, Message: msg}}
}

// Provisioner returns a fixed sandbox path.
type Provisioner struct {
	CallRecorder
	Path string
	Err  error
}

func (p *Provisioner) Provision(context.Context) (string, error) {
	p.record("Provision")
	if p.Err != nil {
		return "", p.Err
	}
	return p.Path, nil
}

// Opener hands out Session for every sandbox.
type Opener struct {
	CallRecorder
	Session install.Session
	Err     error
}

func (o *Opener) Open(_ context.Context, sandboxPath string) (install.Session, error) {
	o.record("Open", sandboxPath)
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Session, nil
}
