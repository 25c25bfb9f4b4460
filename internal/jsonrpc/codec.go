package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Kind classifies a decoded wire message.
type Kind int

const (
	KindRequest Kind = iota
	KindNotification
	KindResponse
)

// Message is the decoded form of one line of wire input. Exactly one of
// Request/Notification/Response is populated, selected by Kind.
type Message struct {
	Kind         Kind
	Request      *Request
	Notification *Notification
	Response     *Response
}

// Decode parses one JSON object (one line) into a classified Message.
// It rejects input that is neither a well-formed Request, Notification,
// nor Response.
func Decode(line []byte) (*Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("jsonrpc: parse error: %w", err)
	}

	_, hasMethod := raw["method"]
	_, hasID := raw["id"]
	_, hasResult := raw["result"]
	_, hasError := raw["error"]

	switch {
	case hasMethod && hasID:
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			return nil, fmt.Errorf("jsonrpc: invalid request: %w", err)
		}
		return &Message{Kind: KindRequest, Request: &req}, nil
	case hasMethod:
		var note Notification
		if err := json.Unmarshal(line, &note); err != nil {
			return nil, fmt.Errorf("jsonrpc: invalid notification: %w", err)
		}
		return &Message{Kind: KindNotification, Notification: &note}, nil
	case hasResult || hasError:
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("jsonrpc: invalid response: %w", err)
		}
		if resp.Result != nil && resp.Error != nil {
			return nil, fmt.Errorf("jsonrpc: response carries both result and error")
		}
		return &Message{Kind: KindResponse, Response: &resp}, nil
	default:
		return nil, fmt.Errorf("jsonrpc: message is neither request, notification, nor response")
	}
}

// Encode serializes a Request, Notification, or Response (or any value
// implementing the same field shape) to a single JSON line without a
// trailing newline; the transport is responsible for framing.
func Encode(v any) ([]byte, error) {
	switch m := v.(type) {
	case *Response:
		if m.Result != nil && m.Error != nil {
			return nil, fmt.Errorf("jsonrpc: cannot encode response with both result and error")
		}
		return json.Marshal(m)
	default:
		return json.Marshal(v)
	}
}
