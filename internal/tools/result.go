package tools

import "encoding/json"

// ContentPart is one typed part of a tool result. Only "text" parts are
// ever emitted, per spec.md §3 — structured data is appended to the text
// as a fenced JSON block rather than carried as a separate part type.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the tool-result envelope spec.md §3/§4.C describe: a list of
// content parts plus an error flag. It carries no wire-level metadata of
// its own — the protocol engine wraps it in {content, isError}.
type Result struct {
	Content []ContentPart `json:"content"`
	IsError bool          `json:"isError"`
}

func textResult(text string) *Result {
	return &Result{Content: []ContentPart{{Type: "text", Text: text}}}
}

// Success builds a successful result. If data is non-nil it is appended
// to text as a fenced JSON block, per spec.md §4.E's result formatting.
func Success(text string, data any) *Result {
	return textResult(appendJSONBlock(text, data))
}

// Fail builds an is_error=true result whose text begins with "Error: ",
// with error_code and details embedded in the same fenced-JSON-block
// convention as a successful result, per spec.md §4.E.
func Fail(code, message string, details any) *Result {
	body := map[string]any{"error_code": code}
	if details != nil {
		body["details"] = details
	}
	r := textResult(appendJSONBlock("Error: "+message, body))
	r.IsError = true
	return r
}

func appendJSONBlock(text string, data any) string {
	if data == nil {
		return text
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil || string(raw) == "null" {
		return text
	}
	return text + "\n\n```json\n" + string(raw) + "\n```"
}
