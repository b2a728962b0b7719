package llm

import (
	"context"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI is an LLM backed by go-openai, styled after the provider wiring in
// this module's corpus (liteclaw's internal/agent/llm/openai.go): a tuned
// *http.Client bypassing the system proxy, and a custom base URL for
// OpenAI-compatible local/self-hosted endpoints.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI constructs an OpenAI-backed LLM. baseURL may be empty to use the
// default OpenAI endpoint.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{
		Timeout: 120 * time.Second,
		Transport: &http.Transport{
			Proxy: nil,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAI) ModelName() string { return o.model }

func (o *OpenAI) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: convertMessages(messages),
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	}
	if opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Kind: KindInvalidResp, Msg: "no choices returned"}
	}
	return resp.Choices[0].Message.Content, nil
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func classifyErr(err error) error {
	var apiErr *openai.APIError
	if ok := asOpenAIAPIError(err, &apiErr); ok {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return &Error{Kind: KindRateLimited, Msg: "rate limited", Err: err}
		}
		return &Error{Kind: KindAPI, Msg: "api error", Err: err}
	}
	return &Error{Kind: KindNetwork, Msg: "request failed", Err: err}
}

func asOpenAIAPIError(err error, target **openai.APIError) bool {
	e, ok := err.(*openai.APIError)
	if ok {
		*target = e
	}
	return ok
}
