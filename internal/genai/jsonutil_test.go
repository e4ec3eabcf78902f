// v2
// internal/genai/jsonutil_test.go

package genai

import (
	"encoding/json"
	"testing"
)

func TestExtractJSONFromCodeFence(t *testing.T) {
	got := ExtractJSON("```json\n{\"a\":1}\n```")
	if got != "{\"a\":1}" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractJSONBareObject(t *testing.T) {
	got := ExtractJSON("Here is the verdict: {\"riskLevel\": \"low\"} hope that helps")
	var parsed map[string]string
	if err := json.Unmarshal([]byte(got), &parsed); err != nil {
		t.Fatalf("extracted %q is not valid JSON: %v", got, err)
	}
	if parsed["riskLevel"] != "low" {
		t.Fatalf("riskLevel = %q", parsed["riskLevel"])
	}
}

func TestExtractJSONRepairsTrailingCommas(t *testing.T) {
	got := ExtractJSON("{\"a\": 1, \"b\": [1, 2,],}")
	var parsed map[string]any
	if err := json.Unmarshal([]byte(got), &parsed); err != nil {
		t.Fatalf("extracted %q is not valid JSON: %v", got, err)
	}
}

func TestExtractJSONStripsComments(t *testing.T) {
	in := "{\n\"url\": \"http://example.com\", // not part of the value\n\"n\": 2\n}"
	got := ExtractJSON(in)
	var parsed struct {
		URL string `json:"url"`
		N   int    `json:"n"`
	}
	if err := json.Unmarshal([]byte(got), &parsed); err != nil {
		t.Fatalf("extracted %q is not valid JSON: %v", got, err)
	}
	if parsed.URL != "http://example.com" {
		t.Fatalf("url = %q, comment stripping damaged the string value", parsed.URL)
	}
}

func TestExtractJSONNoObject(t *testing.T) {
	if got := ExtractJSON("no structured content here"); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}
