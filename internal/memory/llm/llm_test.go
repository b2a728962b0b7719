package llm

import (
	"context"
	"testing"
)

func TestExtractJSON_RawObject(t *testing.T) {
	got := ExtractJSON(`{"facts": ["a", "b"]}`)
	want := `{"facts": ["a", "b"]}`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractJSON_FencedJSONBlock(t *testing.T) {
	input := "Here is the result:\n```json\n{\"facts\": []}\n```\nThanks."
	got := ExtractJSON(input)
	if got != `{"facts": []}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSON_FencedPlainBlock(t *testing.T) {
	input := "```\n{\"memory\": []}\n```"
	got := ExtractJSON(input)
	if got != `{"memory": []}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSON_EmbeddedInProse(t *testing.T) {
	input := "Sure, the facts are {\"facts\": [\"x\"]} as requested."
	got := ExtractJSON(input)
	if got != `{"facts": ["x"]}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSON_ArrayFallback(t *testing.T) {
	input := "values: [1, 2, 3] done"
	got := ExtractJSON(input)
	if got != "[1, 2, 3]" {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSON_NoJSONReturnsRaw(t *testing.T) {
	input := "no json here at all"
	if got := ExtractJSON(input); got != input {
		t.Errorf("got %q, want raw passthrough", got)
	}
}

func TestGenerateJSON_ParsesExtractedPayload(t *testing.T) {
	backend := &stubLLM{response: "```json\n{\"facts\": [\"likes coffee\"]}\n```"}
	var out struct {
		Facts []string `json:"facts"`
	}
	if err := GenerateJSON(context.Background(), backend, nil, GenerateOptions{}, &out); err != nil {
		t.Fatalf("generate json: %v", err)
	}
	if len(out.Facts) != 1 || out.Facts[0] != "likes coffee" {
		t.Fatalf("unexpected facts: %+v", out.Facts)
	}
	if !backend.gotJSONMode {
		t.Error("expected GenerateJSON to force JSONMode on the request")
	}
}

type stubLLM struct {
	response    string
	gotJSONMode bool
}

func (s *stubLLM) ModelName() string { return "stub" }

func (s *stubLLM) Generate(_ context.Context, _ []Message, opts GenerateOptions) (string, error) {
	s.gotJSONMode = opts.JSONMode
	return s.response, nil
}
