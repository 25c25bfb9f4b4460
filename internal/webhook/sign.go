package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// canonicalJSON renders a compact, key-sorted JSON encoding so the same
// logical payload always signs to the same bytes.
func canonicalJSON(v map[string]any) ([]byte, error) {
	return canonicalValue(v)
}

func canonicalValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte("{")
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := canonicalValue(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		buf := []byte("[")
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := canonicalValue(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(val)
	}
}

// sign computes sha256=<hex> over the canonical JSON of payload using
// secret, per spec.md §4.I: the signature field is appended after
// computation and is never itself signed over.
func sign(payload map[string]any, secret string) (string, error) {
	canon, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canon)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the signature over payload (with "signature"
// stripped, as it would have been at sign time) and compares it to sig.
func Verify(payload map[string]any, secret, sig string) bool {
	stripped := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == "signature" {
			continue
		}
		stripped[k] = v
	}
	want, err := sign(stripped, secret)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(sig))
}
