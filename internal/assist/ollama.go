// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assist

import (
	"context"
	"fmt"

	"github.com/jeranaias/screencap/internal/ollama"
)

// OllamaProvider runs prompts against a local Ollama vision model.
type OllamaProvider struct {
	client *ollama.Client
	model  string
}

// NewOllamaProvider wraps an Ollama client. An empty model uses the client's default.
func NewOllamaProvider(client *ollama.Client, model string) *OllamaProvider {
	if model == "" {
		model = client.GetDefaultModel()
	}
	return &OllamaProvider{client: client, model: model}
}

func (p *OllamaProvider) Name() string  { return "ollama" }
func (p *OllamaProvider) Model() string { return p.model }

func (p *OllamaProvider) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := p.client.Chat(ctx, p.model, ollamaMessages(req))
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

func (p *OllamaProvider) Stream(ctx context.Context, req Request, onDelta func(string)) (string, error) {
	return p.client.ChatStream(ctx, p.model, ollamaMessages(req), func(ch ollama.StreamChunk) {
		if ch.Content != "" && onDelta != nil {
			onDelta(ch.Content)
		}
	})
}

func (p *OllamaProvider) Transient(err error) bool {
	return ollama.IsTransient(err)
}

// Ping checks that Ollama is up and the model has been pulled.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	if err := p.client.CheckRunning(ctx); err != nil {
		return err
	}
	ok, err := p.client.ModelExists(ctx, p.model)
	if err != nil {
		return err
	}
	if !ok {
		return &ollama.ClientError{
			Type:    ollama.ErrTypeModelNotFound,
			Message: fmt.Sprintf("model %q is not pulled; run: ollama pull %s", p.model, p.model),
		}
	}
	return nil
}

func ollamaMessages(req Request) []ollama.Message {
	msgs := make([]ollama.Message, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, ollama.NewSystemMessage(req.System))
	}
	for _, t := range req.History {
		if t.Role == "assistant" {
			msgs = append(msgs, ollama.NewAssistantMessage(t.Content))
		} else {
			msgs = append(msgs, ollama.NewUserMessage(t.Content))
		}
	}
	if len(req.Image) > 0 {
		msgs = append(msgs, ollama.NewUserMessage(req.Prompt, req.Image))
	} else {
		msgs = append(msgs, ollama.NewUserMessage(req.Prompt))
	}
	return msgs
}
