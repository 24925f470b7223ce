// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// The client covers the endpoints screencap uses: a liveness probe, model
// listing, and chat completions with optional base64 image attachments for
// vision models.
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: "http://127.0.0.1:11434"})
//	resp, err := client.Chat(ctx, "llava:7b", []ollama.Message{
//	    ollama.NewUserMessage("What is on my screen?", pngBytes),
//	})
//
// For streaming responses:
//
//	text, err := client.ChatStream(ctx, model, messages, func(c ollama.StreamChunk) {
//	    fmt.Print(c.Content)
//	})
package ollama
