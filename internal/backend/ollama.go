package backend

import (
	"encoding/json"
	"net/http"

	"gollms/internal/core"
	"gollms/internal/stream"
)

// ollamaAdapter speaks the native Ollama API: /api/chat for chat and
// /api/tags for listing, with newline-delimited JSON streaming framing.
type ollamaAdapter struct{}

func (a *ollamaAdapter) Kind() Kind { return KindOllama }

type ollamaChatRequest struct {
	Model    string             `json:"model"`
	Messages []core.WireMessage `json:"messages"`
	Stream   bool               `json:"stream"`
}

func (a *ollamaAdapter) ChatRequest(model string, messages []core.WireMessage, streaming bool) Request {
	return Request{
		Method: http.MethodPost,
		Path:   "/api/chat",
		Body:   ollamaChatRequest{Model: model, Messages: messages, Stream: streaming},
	}
}

func (a *ollamaAdapter) ModelsRequest() Request {
	return Request{Method: http.MethodGet, Path: "/api/tags"}
}

func (a *ollamaAdapter) DecodeModels(body []byte) ([]core.ModelDescriptor, error) {
	var resp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, core.NewDecodeError("failed to parse tags response", err)
	}
	models := make([]core.ModelDescriptor, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, core.ModelDescriptor{ID: m.Name})
	}
	return models, nil
}

func (a *ollamaAdapter) DecodeChat(body []byte) string {
	var resp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.Message.Content
}

func (a *ollamaAdapter) Dialect() stream.Dialect { return stream.DialectNDJSON }
