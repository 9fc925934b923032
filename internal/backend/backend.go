// Package backend maps logical client operations onto the wire dialect of a
// concrete inference server. Each supported dialect is one Adapter
// implementation; adding a backend means adding an adapter and registering
// it, without touching the orchestrating client.
package backend

import (
	"fmt"
	"net/http"
	"slices"

	"gollms/internal/core"
	"gollms/internal/stream"
)

// Kind names a supported backend dialect.
type Kind string

const (
	KindOpenAI Kind = "openai"
	KindOllama Kind = "ollama"
	KindLollms Kind = "lollms"
)

// Request describes one dialect-specific HTTP request: the path is joined
// onto the configured base URL and the body is JSON-marshaled when non-nil.
type Request struct {
	Method string
	Path   string
	Body   any
}

// Adapter translates logical operations into dialect-specific requests and
// decodes the dialect's response framing.
type Adapter interface {
	// Kind identifies the dialect.
	Kind() Kind

	// ChatRequest builds a chat completion request for the given model and
	// already-stripped wire messages.
	ChatRequest(model string, messages []core.WireMessage, streaming bool) Request

	// ModelsRequest builds the model listing request.
	ModelsRequest() Request

	// DecodeModels extracts model descriptors from a listing response body.
	DecodeModels(body []byte) ([]core.ModelDescriptor, error)

	// DecodeChat extracts the assistant text from a non-streamed chat
	// response body, defaulting to empty text when absent.
	DecodeChat(body []byte) string

	// Dialect reports the streaming framing this backend uses.
	Dialect() stream.Dialect
}

var registry = map[Kind]func() Adapter{
	KindOpenAI: func() Adapter { return &openaiAdapter{} },
	KindOllama: func() Adapter { return &ollamaAdapter{} },
	KindLollms: func() Adapter { return &lollmsAdapter{} },
}

// New returns the adapter for the given kind.
func New(kind Kind) (Adapter, error) {
	newAdapter, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown backend kind: %q", kind)
	}
	return newAdapter(), nil
}

// Kinds returns every registered backend kind, sorted.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Extended endpoints. These are dialect-independent paths served only by
// backends with the extended surface enabled; the client gates on the
// configuration flag before building them.

type extendedTextRequest struct {
	Text  string `json:"text,omitempty"`
	Model string `json:"model,omitempty"`
}

type extractTextRequest struct {
	File     string `json:"file"`
	Filename string `json:"filename"`
}

// TokenizeRequest builds a request against the extended tokenize endpoint.
func TokenizeRequest(text, model string) Request {
	return Request{
		Method: http.MethodPost,
		Path:   "/lollms/v1/tokenize",
		Body:   extendedTextRequest{Text: text, Model: model},
	}
}

// ContextSizeRequest builds a request against the extended context-size
// endpoint.
func ContextSizeRequest(model string) Request {
	return Request{
		Method: http.MethodPost,
		Path:   "/lollms/v1/context_size",
		Body:   extendedTextRequest{Model: model},
	}
}

// ExtractTextRequest builds a request against the text extraction endpoint.
// The file content is base64-encoded by the caller.
func ExtractTextRequest(fileB64, filename string) Request {
	return Request{
		Method: http.MethodPost,
		Path:   "/v1/extract_text",
		Body:   extractTextRequest{File: fileB64, Filename: filename},
	}
}

// ImageRequest builds an image generation request. Count is fixed to one
// image returned as base64.
func ImageRequest(prompt string) Request {
	return Request{
		Method: http.MethodPost,
		Path:   "/v1/images/generations",
		Body: core.ImageRequest{
			Prompt:         prompt,
			N:              1,
			ResponseFormat: "b64_json",
		},
	}
}
