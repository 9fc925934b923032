package gollms

import (
	"gollms/internal/backend"
	"gollms/internal/core"
)

// BackendKind selects which server dialect a configuration targets.
type BackendKind = backend.Kind

// Supported backend kinds.
const (
	BackendOpenAI = backend.KindOpenAI
	BackendOllama = backend.KindOllama
	BackendLollms = backend.KindLollms
)

// Role identifies the author of a chat message.
type Role = core.Role

// Message roles.
const (
	RoleSystem    = core.RoleSystem
	RoleUser      = core.RoleUser
	RoleAssistant = core.RoleAssistant
)

// Message is a chat message as held by the caller.
type Message = core.Message

// ContentPart is one element of a multipart message body.
type ContentPart = core.ContentPart

// ImageURL references an image by URL or data URI.
type ImageURL = core.ImageURL

// ModelDescriptor identifies one model offered by a backend.
type ModelDescriptor = core.ModelDescriptor

// TokenizeResult is the outcome of a tokenize operation.
type TokenizeResult = core.TokenizeResult

// ContextSizeResult is the outcome of a context-size lookup.
type ContextSizeResult = core.ContextSizeResult

// ConnectionSummary reports the outcome of a connection test.
type ConnectionSummary = core.ConnectionSummary

// RequestError is the typed failure surfaced by client operations.
type RequestError = core.RequestError

// Error kinds carried by RequestError.
const (
	KindNetwork = core.KindNetwork
	KindHTTP    = core.KindHTTP
	KindTimeout = core.KindTimeout
	KindDecode  = core.KindDecode
)
