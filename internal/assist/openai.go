// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assist

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"

	"github.com/jeranaias/screencap/internal/config"
	"github.com/jeranaias/screencap/internal/ollama"
)

// ErrNoAPIKey is returned when the openai provider is selected without a key.
var ErrNoAPIKey = errors.New("assist.openai_key is not set (or OPENAI_API_KEY)")

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	client  openai.Client
	model   string
	baseURL string
	log     zerolog.Logger
}

// NewOpenAIProvider builds a provider. The SDK's own retries are disabled;
// the Assistant owns the retry policy.
func NewOpenAIProvider(apiKey, baseURL, model, userAgent string, httpClient *http.Client, log zerolog.Logger) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if userAgent != "" {
		opts = append(opts, option.WithHeader("User-Agent", userAgent))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAIProvider{
		client:  openai.NewClient(opts...),
		model:   model,
		baseURL: baseURL,
		log:     log.With().Str("provider", "openai").Logger(),
	}, nil
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request, onDelta func(string)) (string, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(req))
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			sb.WriteString(choice.Delta.Content)
			if onDelta != nil {
				onDelta(choice.Delta.Content)
			}
		}
	}
	if err := stream.Err(); err != nil {
		p.log.Debug().Err(err).Int("received", sb.Len()).Msg("stream ended with error")
		return sb.String(), err
	}
	return sb.String(), nil
}

// Transient treats rate limits, server errors and network failures as retryable.
func (p *OpenAIProvider) Transient(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Ping lists models, which exercises the key and the base URL.
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	_, err := p.client.Models.List(ctx)
	return err
}

func (p *OpenAIProvider) params(req Request) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, t := range req.History {
		if t.Role == "assistant" {
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		} else {
			msgs = append(msgs, openai.UserMessage(t.Content))
		}
	}
	if len(req.Image) == 0 {
		msgs = append(msgs, openai.UserMessage(req.Prompt))
	} else {
		mime := req.ImageType
		if mime == "" {
			mime = "image/png"
		}
		dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Image)
		msgs = append(msgs, openai.ChatCompletionMessageParamUnion{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
						{OfText: &openai.ChatCompletionContentPartTextParam{Text: req.Prompt}},
						{OfImageURL: &openai.ChatCompletionContentPartImageParam{
							ImageURL: openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL},
						}},
					},
				},
			},
		})
	}
	return openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: msgs,
	}
}

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(cfg config.AssistConfig, userAgent string, log zerolog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", "ollama":
		client := ollama.NewClientWithConfig(&ollama.ClientConfig{
			BaseURL:      cfg.OllamaURL,
			DefaultModel: cfg.OllamaModel,
			UserAgent:    userAgent,
		})
		return NewOllamaProvider(client, cfg.OllamaModel), nil
	case "openai":
		return NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, userAgent, nil, log)
	default:
		return nil, fmt.Errorf("unknown assist provider %q", cfg.Provider)
	}
}
