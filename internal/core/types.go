// Package core provides shared types and errors for the inference client.
package core

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentPart is one element of a multipart message body. Text parts carry
// Text; image parts carry an ImageURL reference.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image by URL or data URI.
type ImageURL struct {
	URL string `json:"url"`
}

// Message is a chat message as held by the caller. Content is either a plain
// string or an ordered list of parts; when Parts is non-empty it takes
// precedence on the wire. ID, StartTime, Model and SkipInPrompt are caller
// bookkeeping and are never serialized into a request payload.
type Message struct {
	Role         Role          `json:"role"`
	Content      string        `json:"content,omitempty"`
	Parts        []ContentPart `json:"parts,omitempty"`
	ID           string        `json:"id,omitempty"`
	StartTime    int64         `json:"startTime,omitempty"`
	Model        string        `json:"model,omitempty"`
	SkipInPrompt bool          `json:"skipInPrompt,omitempty"`
}

// WireMessage is the shape actually serialized into a chat request body:
// role plus content, nothing else. Content marshals as a string for plain
// messages and as a part array for multipart messages.
type WireMessage struct {
	Role    Role `json:"role"`
	Content any  `json:"content"`
}

// WireMessages converts caller-side messages to their wire form. Messages
// flagged SkipInPrompt are dropped; the rest keep role and content unchanged,
// in original order.
func WireMessages(msgs []Message) []WireMessage {
	out := make([]WireMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.SkipInPrompt {
			continue
		}
		wm := WireMessage{Role: m.Role}
		if len(m.Parts) > 0 {
			wm.Content = m.Parts
		} else {
			wm.Content = m.Content
		}
		out = append(out, wm)
	}
	return out
}

// ModelDescriptor identifies one model offered by a backend.
type ModelDescriptor struct {
	ID string `json:"id"`
}

// TokenizeResult is the outcome of a tokenize operation. Estimated is true
// when the count was computed locally instead of by the server.
type TokenizeResult struct {
	Count     int   `json:"count"`
	IDs       []int `json:"ids"`
	Estimated bool  `json:"estimated"`
}

// ContextSizeResult is the outcome of a context-size lookup.
type ContextSizeResult struct {
	Size      int  `json:"size"`
	Estimated bool `json:"estimated"`
}

// ImageRequest is the body of an image generation request.
type ImageRequest struct {
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format"`
}

// ImageResponse is the body of an image generation response.
type ImageResponse struct {
	Data []ImageData `json:"data"`
}

// ImageData is a single generated image, base64-encoded or referenced by URL.
type ImageData struct {
	B64JSON string `json:"b64_json,omitempty"`
	URL     string `json:"url,omitempty"`
}

// ConnectionSummary reports the outcome of a connection test.
type ConnectionSummary struct {
	OK         bool   `json:"ok"`
	Message    string `json:"message"`
	ModelCount int    `json:"model_count"`
}
