package services

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// ProviderParams carries the per-request connection settings for the
// completion provider. Credentials are request-scoped, not process
// state.
type ProviderParams struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	TopP        float64
}

// ProviderMessage mirrors OpenAI-style chat message payloads.
type ProviderMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionStream yields incremental text fragments from the provider.
// Recv returns io.EOF once the stream is exhausted. Fragments may be
// empty when a chunk carries no content.
type CompletionStream interface {
	Recv() (string, error)
	Close() error
}

// CompletionProvider opens a streaming completion over a message list.
// Any backend exposing an ordered stream of text fragments satisfies it.
type CompletionProvider interface {
	Stream(ctx context.Context, params ProviderParams, messages []ProviderMessage) (CompletionStream, error)
}

// OpenAIProvider talks to any OpenAI-compatible chat completions API.
type OpenAIProvider struct{}

func NewOpenAIProvider() *OpenAIProvider {
	return &OpenAIProvider{}
}

func (p *OpenAIProvider) Stream(ctx context.Context, params ProviderParams, messages []ProviderMessage) (CompletionStream, error) {
	cfg := openai.DefaultConfig(params.APIKey)
	if params.BaseURL != "" {
		cfg.BaseURL = params.BaseURL
	}
	client := openai.NewClientWithConfig(cfg)

	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	stream, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       params.Model,
		Messages:    msgs,
		Temperature: float32(params.Temperature),
		TopP:        float32(params.TopP),
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}

	return &openaiStream{stream: stream}, nil
}

type openaiStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openaiStream) Recv() (string, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}
