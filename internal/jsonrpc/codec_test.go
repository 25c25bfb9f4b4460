package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestDecodeClassification(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Kind
		wantErr bool
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, KindRequest, false},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, KindNotification, false},
		{"response result", `{"jsonrpc":"2.0","id":1,"result":{}}`, KindResponse, false},
		{"response error", `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"no"}}`, KindResponse, false},
		{"both result and error", `{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`, 0, true},
		{"neither", `{"jsonrpc":"2.0"}`, 0, true},
		{"not an object", `[1,2,3]`, 0, true},
		{"garbage", `{not json`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msg.Kind != tt.want {
				t.Fatalf("kind = %v, want %v", msg.Kind, tt.want)
			}
		})
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	for _, raw := range []string{`"a"`, `1`, `7`} {
		line := `{"jsonrpc":"2.0","id":` + raw + `,"method":"ping"}`
		msg, err := Decode([]byte(line))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		resp, err := NewResult(msg.Request.ID, map[string]string{"ok": "true"})
		if err != nil {
			t.Fatalf("new result: %v", err)
		}
		out, err := Encode(resp)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		var decoded map[string]json.RawMessage
		if err := json.Unmarshal(out, &decoded); err != nil {
			t.Fatalf("unmarshal encoded: %v", err)
		}
		if string(decoded["id"]) != raw {
			t.Errorf("id = %s, want %s", decoded["id"], raw)
		}
		if _, ok := decoded["error"]; ok {
			t.Errorf("expected no error field in success response")
		}
	}
}

func TestResponseNeverSerializesBothFields(t *testing.T) {
	resp := &Response{JSONRPC: Version, ID: 1, Result: json.RawMessage(`{}`)}
	out, err := Encode(resp)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["error"]; ok {
		t.Fatalf("error field must be omitted, not null, when absent")
	}

	errResp := NewError(1, CodeMethodNotFound, "method not found: foo", nil)
	out, err = Encode(errResp)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded = nil
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["result"]; ok {
		t.Fatalf("result field must be omitted, not null, when absent")
	}
}

func TestUnknownIDSentinel(t *testing.T) {
	if UnknownID != "unknown" {
		t.Fatalf("UnknownID changed; transport relies on the literal value")
	}
}
