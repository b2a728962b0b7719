// Package llm implements the LLM capability (spec §4.M4): chat-style
// generation used by fact extraction and reconciliation, with a JSON-mode
// helper for callers that need a parsed structure back.
package llm

import (
	"context"
	"strings"

	"github.com/bytedance/sonic"
)

// Kind is the closed set of LLM failure modes (spec §7
// LLM{Api|Network|RateLimited|InvalidResponse|JsonParse|NotConfigured}),
// ported from the original mem0-rust LLMError enum (llms/traits.rs).
type Kind string

const (
	KindAPI           Kind = "api"
	KindNetwork       Kind = "network"
	KindRateLimited   Kind = "rate_limited"
	KindInvalidResp   Kind = "invalid_response"
	KindJSONParse     Kind = "json_parse"
	KindNotConfigured Kind = "not_configured"
)

// Error carries a closed Kind for LLM failures.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "llm " + string(e.Kind) + ": " + e.Msg + ": " + e.Err.Error()
	}
	return "llm " + string(e.Kind) + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// RateLimited reports whether err is a rate-limit LLM error.
func RateLimited(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindRateLimited
}

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// GenerateOptions tunes a single Generate call, mirroring the original
// GenerateOptions in llms/traits.rs.
type GenerateOptions struct {
	Temperature float32
	MaxTokens   int
	JSONMode    bool
}

// LLM is the capability interface spec §4.M4 describes.
type LLM interface {
	Generate(ctx context.Context, messages []Message, opts GenerateOptions) (string, error)
	ModelName() string
}

// GenerateJSON forces JSON mode, extracts the JSON payload from whatever
// prose wrapping the model adds, and unmarshals it into out. Ports
// generate_json<T> from llms/traits.rs.
func GenerateJSON(ctx context.Context, l LLM, messages []Message, opts GenerateOptions, out any) error {
	opts.JSONMode = true
	raw, err := l.Generate(ctx, messages, opts)
	if err != nil {
		return err
	}
	extracted := ExtractJSON(raw)
	if err := sonic.UnmarshalString(extracted, out); err != nil {
		return &Error{Kind: KindJSONParse, Msg: "parse model JSON output", Err: err}
	}
	return nil
}

// ExtractJSON pulls a JSON value out of an LLM's raw text response, trying
// progressively looser strategies. Ported verbatim (logic, not prose) from
// extract_json in the original mem0-rust llms/traits.rs:
//  1. a fenced ```json ... ``` block
//  2. a fenced ``` ... ``` block (skipping a bare language-identifier line)
//  3. the widest raw {...} substring (first '{' to last '}')
//  4. the widest raw [...] substring (first '[' to last ']')
//  5. the raw string itself, untouched
func ExtractJSON(s string) string {
	if block, ok := fencedBlock(s, "```json"); ok {
		return block
	}
	if block, ok := fencedBlock(s, "```"); ok {
		return block
	}
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		return s[i : j+1]
	}
	if i, j := strings.Index(s, "["), strings.LastIndex(s, "]"); i >= 0 && j > i {
		return s[i : j+1]
	}
	return s
}

func fencedBlock(s, fence string) (string, bool) {
	start := strings.Index(s, fence)
	if start < 0 {
		return "", false
	}
	rest := s[start+len(fence):]
	// Skip a bare language-identifier line (e.g. "```\njson\n{...}").
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine != "" && !strings.ContainsAny(firstLine, "{}[]\"") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}
