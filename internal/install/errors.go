package install

import (
	"errors"
	"fmt"
)

// Kind classifies why a run failed.
type Kind uint8

const (
	KindUnknown Kind = iota + 1
	KindConfig
	KindProvision
	KindChannel
	KindProofDecode
	KindBundleResolution
	KindProtocol
	KindActivation
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindConfig:
		return "config"
	case KindProvision:
		return "provision"
	case KindChannel:
		return "channel"
	case KindProofDecode:
		return "proof_decode"
	case KindBundleResolution:
		return "bundle_resolution"
	case KindProtocol:
		return "protocol"
	case KindActivation:
		return "activation"
	default:
		return "unknown"
	}
}

func (k Kind) IsValid() bool {
	switch k {
	case KindUnknown,
		KindConfig,
		KindProvision,
		KindChannel,
		KindProofDecode,
		KindBundleResolution,
		KindProtocol,
		KindActivation:
		return true
	default:
		return false
	}
}

// Error is a classified run failure. AppID, Index and State are set when the
// failure belongs to one app of the batch.
type Error struct {
	Kind  Kind
	AppID string
	Index int
	State AppState
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.AppID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("app %q (#%d) failed after %s: %v", e.AppID, e.Index+1, e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap classifies err as kind. Nil stays nil and an err that already
// carries a Kind is returned unchanged.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var ie *Error
	if errors.As(err, &ie) {
		return err
	}
	return &Error{Kind: kind, Index: -1, Err: err}
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) && ie.Kind.IsValid() {
		return ie.Kind
	}
	return KindUnknown
}

// ProtocolError reports an admin response of the wrong variant.
type ProtocolError struct {
	Expected string
	Variant  string
	// Detail is the conductor's message for error responses.
	Detail string
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("expected %s response, got %s", e.Expected, e.Variant)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}
