package admin

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Websocket envelope kinds.
const (
	wireRequest  = "Request"
	wireResponse = "Response"
	wireSignal   = "Signal"
)

// maxMessageSize bounds a single inbound websocket message. Admin responses
// are small; 16 MiB is generous.
const maxMessageSize = 16 << 20

// wireMessage is the websocket envelope around every request and response.
// Data holds the msgpack encoded admin request or response.
type wireMessage struct {
	Type string `msgpack:"type"`
	ID   uint64 `msgpack:"id"`
	Data []byte `msgpack:"data"`
}

func encodeWire(kind string, id uint64, data []byte) ([]byte, error) {
	out, err := msgpack.Marshal(wireMessage{Type: kind, ID: id, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", kind, err)
	}
	return out, nil
}

func decodeWire(raw []byte) (wireMessage, error) {
	var m wireMessage
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return wireMessage{}, fmt.Errorf("decode envelope: %w", err)
	}
	return m, nil
}

// EncodeRequest serializes an admin request body.
func EncodeRequest(req Request) ([]byte, error) {
	out, err := msgpack.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", req.Type, err)
	}
	return out, nil
}

// DecodeRequest parses an admin request body, decoding the payload of known
// variants into their typed form.
func DecodeRequest(raw []byte) (Request, error) {
	var t tagged
	if err := msgpack.Unmarshal(raw, &t); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}

	req := Request{Type: t.Type}
	switch t.Type {
	case RequestGenerateAgentPubKey:
	case RequestInstallAppBundle:
		var p InstallAppBundlePayload
		if err := msgpack.Unmarshal(t.Data, &p); err != nil {
			return Request{}, fmt.Errorf("decode %s payload: %w", t.Type, err)
		}
		req.Data = p
	case RequestActivateApp:
		var p ActivateAppPayload
		if err := msgpack.Unmarshal(t.Data, &p); err != nil {
			return Request{}, fmt.Errorf("decode %s payload: %w", t.Type, err)
		}
		req.Data = p
	default:
		req.Data = t.Data
	}
	return req, nil
}

type externalErrorWire struct {
	Type string `msgpack:"type"`
	Data any    `msgpack:"data"`
}

// EncodeResponse serializes an admin response body.
func EncodeResponse(resp Response) ([]byte, error) {
	data := resp.Data
	if e, ok := data.(*ExternalError); ok && e != nil {
		data = externalErrorWire{Type: e.Type, Data: e.Message}
	}
	out, err := msgpack.Marshal(struct {
		Type string `msgpack:"type"`
		Data any    `msgpack:"data"`
	}{Type: resp.Type, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s response: %w", resp.Type, err)
	}
	return out, nil
}

// DecodeResponse parses an admin response body.
func DecodeResponse(raw []byte) (Response, error) {
	var t tagged
	if err := msgpack.Unmarshal(raw, &t); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if t.Type == "" {
		return Response{}, fmt.Errorf("decode response: missing type")
	}

	resp := Response{Type: t.Type}
	switch t.Type {
	case ResponseAgentPubKeyGenerated:
		var k []byte
		if err := msgpack.Unmarshal(t.Data, &k); err != nil {
			return Response{}, fmt.Errorf("decode %s payload: %w", t.Type, err)
		}
		resp.Data = AgentPubKey(k)
	case ResponseAppBundleInstalled:
		var info InstalledAppInfo
		if err := msgpack.Unmarshal(t.Data, &info); err != nil {
			return Response{}, fmt.Errorf("decode %s payload: %w", t.Type, err)
		}
		resp.Data = info
	case ResponseAppActivated:
	case ResponseError:
		var w externalErrorWire
		if err := msgpack.Unmarshal(t.Data, &w); err != nil {
			return Response{}, fmt.Errorf("decode %s payload: %w", t.Type, err)
		}
		e := &ExternalError{Type: w.Type}
		switch msg := w.Data.(type) {
		case nil:
		case string:
			e.Message = msg
		default:
			e.Message = fmt.Sprint(msg)
		}
		resp.Data = e
	default:
		resp.Data = t.Data
	}
	return resp, nil
}
