// Package gollms is a unified inference client for OpenAI-compatible,
// native Ollama and extended Lollms backends. One Client exposes chat
// (batch or streamed), model listing, tokenization, context-size lookup,
// text extraction and image generation over whichever dialect the
// configuration selects.
package gollms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gollms/internal/backend"
	"gollms/internal/core"
	"gollms/internal/httpclient"
	"gollms/internal/lifecycle"
	"gollms/internal/modelcache"
	"gollms/internal/observability"
	"gollms/internal/stream"
)

const (
	// DefaultContextSize is returned when the context-size endpoint is
	// unavailable or disabled.
	DefaultContextSize = 4096

	// estimationDivisor backs the local token estimate: roughly four
	// characters per token.
	estimationDivisor = 4

	// ExtractionDisabledText is the fixed result of ExtractText when
	// extended endpoints are off.
	ExtractionDisabledText = "text extraction is disabled"

	defaultTimeout = 120 * time.Second
)

// Config describes one backend target. It is immutable for the lifetime of
// a Client; constructing a Client against a different BaseURL naturally
// invalidates any persisted model list, because cached snapshots record the
// endpoint they came from.
type Config struct {
	// BaseURL is the server root, without a trailing slash.
	BaseURL string

	// APIKey is sent as a bearer token on every request.
	APIKey string

	// Kind selects the wire dialect.
	Kind BackendKind

	// Model is the default model for chat and tokenize operations.
	Model string

	// TLSSkipVerify disables certificate and hostname verification.
	TLSSkipVerify bool

	// TLSCACertPath is an optional extra CA certificate (PEM). Surrounding
	// quotes are stripped before use.
	TLSCACertPath string

	// TLSPinnedCertSHA256 optionally pins the server certificate.
	TLSPinnedCertSHA256 string

	// UseExtendedEndpoints enables the tokenize, context-size and text
	// extraction endpoints. When false those operations answer locally.
	UseExtendedEndpoints bool

	// RequestTimeout bounds every request. Zero means defaultTimeout.
	RequestTimeout time.Duration
}

func (c Config) timeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return defaultTimeout
}

// Client is the orchestrator callers interact with. Safe for concurrent
// use; each in-flight call owns its own decoder and cancellation lifecycle.
type Client struct {
	cfg     Config
	adapter backend.Adapter
	http    *http.Client
	store   modelcache.Store
	cache   *modelcache.Cache
	logger  *slog.Logger
	metrics *observability.Hooks
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the TLS-configured default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithStore attaches a persistent store for the model-list cache.
func WithStore(store modelcache.Store) Option {
	return func(c *Client) { c.store = store }
}

// WithLogger replaces the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics enables Prometheus instrumentation of client operations.
func WithMetrics(hooks *observability.Hooks) Option {
	return func(c *Client) { c.metrics = hooks }
}

// New creates a client for the configured backend.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	cfg.TLSCACertPath = strings.Trim(cfg.TLSCACertPath, `"'`)

	adapter, err := backend.New(cfg.Kind)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		adapter: adapter,
		logger:  slog.Default().With("backend", string(cfg.Kind)),
	}
	for _, opt := range opts {
		opt(c)
	}
	// Built after the options, so the cache sees the final logger and store
	// regardless of option order. No store leaves only the in-memory layer.
	c.cache = modelcache.New(cfg.BaseURL, c.store, c.fetchModels, c.logger)

	if c.http == nil {
		hcfg := httpclient.DefaultConfig()
		hcfg.TLS = httpclient.TLSOptions{
			SkipVerify:       cfg.TLSSkipVerify,
			CACertPath:       cfg.TLSCACertPath,
			PinnedCertSHA256: cfg.TLSPinnedCertSHA256,
		}
		hc, err := httpclient.New(hcfg)
		if err != nil {
			return nil, err
		}
		c.http = hc
	}

	return c, nil
}

// Close releases the cache's persistent store, if any.
func (c *Client) Close() error {
	return c.cache.Close()
}

// TestConnection attempts a forced model refresh and reports the outcome as
// a summary. It never returns an error.
func (c *Client) TestConnection(ctx context.Context) ConnectionSummary {
	models, err := c.Models(ctx, true)
	if err != nil {
		return ConnectionSummary{
			OK:      false,
			Message: fmt.Sprintf("connection to %s failed: %v", c.cfg.BaseURL, err),
		}
	}
	return ConnectionSummary{
		OK:         true,
		Message:    fmt.Sprintf("connected to %s (%d models)", c.cfg.BaseURL, len(models)),
		ModelCount: len(models),
	}
}

// Models returns the model list, served from cache unless force is set.
// A failed refresh falls back to the last persisted list when one exists.
func (c *Client) Models(ctx context.Context, force bool) (models []ModelDescriptor, err error) {
	defer c.observe("models", time.Now(), &err)
	return c.cache.Get(ctx, force)
}

// InvalidateModels drops the cached model list from memory and from the
// persistent store.
func (c *Client) InvalidateModels(ctx context.Context) error {
	return c.cache.Invalidate(ctx)
}

// fetchModels is the cache's network path.
func (c *Client) fetchModels(ctx context.Context) ([]core.ModelDescriptor, error) {
	ctrl := lifecycle.New(ctx, c.cfg.timeout())
	defer ctrl.Release()

	body, err := c.do(ctrl.Context(), c.adapter.ModelsRequest())
	if err != nil {
		return nil, ctrl.Resolve(err)
	}
	return c.adapter.DecodeModels(body)
}

// Tokenize counts tokens in text. With extended endpoints disabled it
// answers locally with the character estimate and never touches the
// network; with them enabled, any failure falls back to the same estimate.
func (c *Client) Tokenize(ctx context.Context, text, model string) (res TokenizeResult, err error) {
	defer c.observe("tokenize", time.Now(), &err)

	if !c.cfg.UseExtendedEndpoints {
		return estimateTokens(text), nil
	}
	if model == "" {
		model = c.cfg.Model
	}

	ctrl := lifecycle.New(ctx, c.cfg.timeout())
	defer ctrl.Release()

	body, reqErr := c.do(ctrl.Context(), backend.TokenizeRequest(text, model))
	if reqErr != nil {
		c.logger.Warn("tokenize request failed, using estimation", "error", ctrl.Resolve(reqErr))
		return estimateTokens(text), nil
	}

	var resp struct {
		Count  int   `json:"count"`
		Tokens []int `json:"tokens"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Warn("tokenize response malformed, using estimation", "error", err)
		return estimateTokens(text), nil
	}
	if resp.Count == 0 {
		resp.Count = len(resp.Tokens)
	}
	return TokenizeResult{Count: resp.Count, IDs: resp.Tokens, Estimated: false}, nil
}

func estimateTokens(text string) TokenizeResult {
	count := (len(text) + estimationDivisor - 1) / estimationDivisor
	return TokenizeResult{Count: count, IDs: []int{}, Estimated: true}
}

// ContextSize looks up the model's context window. Disabled or failing
// lookups fall back to DefaultContextSize.
func (c *Client) ContextSize(ctx context.Context, model string) (res ContextSizeResult, err error) {
	defer c.observe("context_size", time.Now(), &err)

	if !c.cfg.UseExtendedEndpoints {
		return ContextSizeResult{Size: DefaultContextSize, Estimated: true}, nil
	}
	if model == "" {
		model = c.cfg.Model
	}

	ctrl := lifecycle.New(ctx, c.cfg.timeout())
	defer ctrl.Release()

	body, reqErr := c.do(ctrl.Context(), backend.ContextSizeRequest(model))
	if reqErr != nil {
		c.logger.Warn("context size request failed, using default", "error", ctrl.Resolve(reqErr))
		return ContextSizeResult{Size: DefaultContextSize, Estimated: true}, nil
	}

	var resp struct {
		ContextSize int `json:"context_size"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.ContextSize <= 0 {
		return ContextSizeResult{Size: DefaultContextSize, Estimated: true}, nil
	}
	return ContextSizeResult{Size: resp.ContextSize, Estimated: false}, nil
}

// ExtractText sends base64-encoded file content for server-side text
// extraction. Unlike tokenization there is no safe local fallback, so HTTP
// failures surface as errors. With extended endpoints disabled it returns
// ExtractionDisabledText.
func (c *Client) ExtractText(ctx context.Context, fileB64, filename string) (text string, err error) {
	defer c.observe("extract_text", time.Now(), &err)

	if !c.cfg.UseExtendedEndpoints {
		return ExtractionDisabledText, nil
	}

	ctrl := lifecycle.New(ctx, c.cfg.timeout())
	defer ctrl.Release()

	body, reqErr := c.do(ctrl.Context(), backend.ExtractTextRequest(fileB64, filename))
	if reqErr != nil {
		return "", ctrl.Resolve(reqErr)
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", core.NewDecodeError("failed to parse extraction response", err)
	}
	return resp.Text, nil
}

// GenerateImage requests a single image and returns its base64 payload.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (b64 string, err error) {
	defer c.observe("image", time.Now(), &err)

	ctrl := lifecycle.New(ctx, c.cfg.timeout())
	defer ctrl.Release()

	body, reqErr := c.do(ctrl.Context(), backend.ImageRequest(prompt))
	if reqErr != nil {
		return "", ctrl.Resolve(reqErr)
	}

	var resp core.ImageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", core.NewDecodeError("failed to parse image response", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", core.NewDecodeError("response contains no image data", nil)
	}
	return resp.Data[0].B64JSON, nil
}

// ChatOption customizes one Chat call.
type ChatOption func(*chatOptions)

type chatOptions struct {
	onDelta func(string)
	model   string
}

// OnDelta streams incremental text fragments to fn as they arrive. Its
// presence switches the request to streaming mode.
func OnDelta(fn func(delta string)) ChatOption {
	return func(o *chatOptions) { o.onDelta = fn }
}

// WithModel overrides the configured model for this call.
func WithModel(model string) ChatOption {
	return func(o *chatOptions) { o.model = model }
}

// Chat sends a chat completion request and returns the full response text.
// Messages flagged SkipInPrompt never reach the wire; bookkeeping fields
// are stripped from the rest. Cancel via ctx; the configured timeout races
// the caller's signal, and the error reports which of the two fired.
func (c *Client) Chat(ctx context.Context, messages []Message, opts ...ChatOption) (text string, err error) {
	defer c.observe("chat", time.Now(), &err)

	var o chatOptions
	for _, opt := range opts {
		opt(&o)
	}
	model := o.model
	if model == "" {
		model = c.cfg.Model
	}

	streaming := o.onDelta != nil
	req := c.adapter.ChatRequest(model, core.WireMessages(messages), streaming)

	ctrl := lifecycle.New(ctx, c.cfg.timeout())
	defer ctrl.Release()

	ctx, requestID := core.EnsureRequestID(ctrl.Context())
	log := c.logger.With("request_id", requestID, "model", model, "streaming", streaming)
	log.Debug("sending chat request")

	if !streaming {
		body, reqErr := c.do(ctx, req)
		if reqErr != nil {
			return "", ctrl.Resolve(reqErr)
		}
		return c.adapter.DecodeChat(body), nil
	}

	rc, reqErr := c.doStream(ctx, req)
	if reqErr != nil {
		return "", ctrl.Resolve(reqErr)
	}
	defer rc.Close()

	decoder := stream.NewDecoder(c.adapter.Dialect(), log)
	var accumulated strings.Builder
	buf := make([]byte, 4096)

	for {
		n, readErr := rc.Read(buf)
		if n > 0 {
			for _, ev := range decoder.Ingest(buf[:n]) {
				if ev.Delta != "" {
					accumulated.WriteString(ev.Delta)
					o.onDelta(ev.Delta)
				}
			}
		}
		if decoder.Done() {
			break
		}
		if readErr != nil {
			if readErr == io.EOF {
				for _, ev := range decoder.Flush() {
					if ev.Delta != "" {
						accumulated.WriteString(ev.Delta)
						o.onDelta(ev.Delta)
					}
				}
				if decoder.Done() {
					break
				}
				// The server closed the stream without its completion
				// signal; partial text must not be reported as success.
				return "", core.NewDecodeError("stream ended without completion signal", io.ErrUnexpectedEOF)
			}
			// A mid-stream abort usually surfaces as an opaque read error;
			// the controller's context knows which source fired.
			if ctxErr := ctrl.Context().Err(); ctxErr != nil {
				return "", ctrl.Resolve(ctxErr)
			}
			return "", ctrl.Resolve(classifyTransportError(readErr))
		}
	}

	log.Debug("chat stream complete", "chars", accumulated.Len())
	return accumulated.String(), nil
}

// do executes a non-streaming request and returns the response body.
func (c *Client) do(ctx context.Context, req backend.Request) ([]byte, error) {
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, core.ParseServerError(resp.StatusCode, body)
	}
	return body, nil
}

// doStream executes a streaming request and hands back the raw body.
// Non-2xx responses are drained and converted to typed errors here, so the
// caller only ever reads event frames.
func (c *Client) doStream(ctx context.Context, req backend.Request) (io.ReadCloser, error) {
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			body = []byte("failed to read error response")
		}
		resp.Body.Close()
		return nil, core.ParseServerError(resp.StatusCode, body)
	}
	return resp.Body, nil
}

// send builds and executes one HTTP request against the configured base URL.
func (c *Client) send(ctx context.Context, req backend.Request) (*http.Response, error) {
	var bodyReader io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, core.NewDecodeError("failed to marshal request", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.cfg.BaseURL+req.Path, bodyReader)
	if err != nil {
		return nil, core.NewDecodeError("failed to create request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if requestID := core.GetRequestID(ctx); requestID != "" {
		httpReq.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return resp, nil
}

// classifyTransportError wraps transport failures as network errors while
// letting context cancellation and deadline errors pass through for the
// lifecycle controller to classify.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.NewNetworkError(err.Error(), err)
}

// observe records metrics and logs for one finished operation.
func (c *Client) observe(operation string, start time.Time, errp *error) {
	elapsed := time.Since(start)
	outcome := observability.OutcomeSuccess

	err := *errp
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		outcome = observability.OutcomeCanceled
	default:
		outcome = observability.OutcomeError
		var reqErr *core.RequestError
		if errors.As(err, &reqErr) && reqErr.Kind == core.KindTimeout {
			outcome = observability.OutcomeTimeout
		}
		c.logger.Warn("operation failed", "operation", operation, "error", err, "elapsed", elapsed)
	}

	c.metrics.Observe(operation, outcome, elapsed)
}
