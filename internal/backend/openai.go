package backend

import (
	"encoding/json"
	"net/http"

	"gollms/internal/core"
	"gollms/internal/stream"
)

// openaiAdapter speaks the OpenAI-compatible HTTP API: /v1/chat/completions
// for chat and /v1/models for listing, with SSE streaming framing.
type openaiAdapter struct{}

func (a *openaiAdapter) Kind() Kind { return KindOpenAI }

type openaiChatRequest struct {
	Model    string             `json:"model"`
	Messages []core.WireMessage `json:"messages"`
	Stream   bool               `json:"stream"`
}

func (a *openaiAdapter) ChatRequest(model string, messages []core.WireMessage, streaming bool) Request {
	return Request{
		Method: http.MethodPost,
		Path:   "/v1/chat/completions",
		Body:   openaiChatRequest{Model: model, Messages: messages, Stream: streaming},
	}
}

func (a *openaiAdapter) ModelsRequest() Request {
	return Request{Method: http.MethodGet, Path: "/v1/models"}
}

func (a *openaiAdapter) DecodeModels(body []byte) ([]core.ModelDescriptor, error) {
	var resp struct {
		Data []core.ModelDescriptor `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, core.NewDecodeError("failed to parse models response", err)
	}
	return resp.Data, nil
}

func (a *openaiAdapter) DecodeChat(body []byte) string {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}

func (a *openaiAdapter) Dialect() stream.Dialect { return stream.DialectSSE }
