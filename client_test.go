package gollms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gollms/internal/modelcache"
)

func newTestClient(t *testing.T, kind BackendKind, handler http.Handler, mutate func(*Config)) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := Config{
		BaseURL:        server.URL,
		APIKey:         "test-key",
		Kind:           kind,
		Model:          "test-model",
		RequestTimeout: 5 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	client, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Kind: BackendOpenAI})
	require.Error(t, err, "missing base URL")

	_, err = New(Config{BaseURL: "http://localhost", Kind: BackendKind("grpc")})
	require.Error(t, err, "unknown backend kind")

	// Trailing slash and quoted CA path are normalized.
	c, err := New(Config{BaseURL: "http://localhost:11434/", Kind: BackendOllama})
	require.NoError(t, err)
	require.Equal(t, "http://localhost:11434", c.cfg.BaseURL)
}

func TestChat_NonStreamed(t *testing.T) {
	tests := []struct {
		kind     BackendKind
		wantPath string
		respBody string
	}{
		{BackendOpenAI, "/v1/chat/completions", `{"choices":[{"message":{"content":"Hello!"}}]}`},
		{BackendOllama, "/api/chat", `{"message":{"role":"assistant","content":"Hello!"},"done":true}`},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			var gotPath, gotAuth string
			var gotBody []byte
			client := newTestClient(t, tt.kind, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotAuth = r.Header.Get("Authorization")
				gotBody, _ = io.ReadAll(r.Body)
				fmt.Fprint(w, tt.respBody)
			}), nil)

			text, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
			require.NoError(t, err)
			assert.Equal(t, "Hello!", text)
			assert.Equal(t, tt.wantPath, gotPath)
			assert.Equal(t, "Bearer test-key", gotAuth)
			assert.Contains(t, string(gotBody), `"stream":false`)
			assert.Contains(t, string(gotBody), `"model":"test-model"`)
		})
	}
}

func TestChat_Streamed(t *testing.T) {
	tests := []struct {
		kind   BackendKind
		frames []string
	}{
		{BackendOllama, []string{
			`{"message":{"content":"Hi"}}` + "\n",
			`{"message":{"content":"!"}}` + "\n",
			`{"done":true}` + "\n",
		}},
		{BackendOpenAI, []string{
			"data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n",
			"data: {\"choices\":[{\"delta\":{\"content\":\"!\"}}]}\n\n",
			"data: [DONE]\n",
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			client := newTestClient(t, tt.kind, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				assert.Contains(t, string(body), `"stream":true`)
				flusher := w.(http.Flusher)
				for _, frame := range tt.frames {
					fmt.Fprint(w, frame)
					flusher.Flush()
				}
			}), nil)

			var deltas []string
			text, err := client.Chat(context.Background(),
				[]Message{{Role: RoleUser, Content: "hi"}},
				OnDelta(func(d string) { deltas = append(deltas, d) }),
			)
			require.NoError(t, err)
			assert.Equal(t, []string{"Hi", "!"}, deltas)
			assert.Equal(t, strings.Join(deltas, ""), text,
				"final text must equal the concatenation of every delta in order")
		})
	}
}

func TestChat_SkipInPromptNeverOnWire(t *testing.T) {
	var gotBody []byte
	client := newTestClient(t, BackendOpenAI, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}), nil)

	messages := []Message{
		{Role: RoleSystem, Content: "visible system"},
		{Role: RoleUser, Content: "hidden scratchpad", SkipInPrompt: true},
		{Role: RoleUser, Content: "visible question", ID: "m-1", StartTime: 123, Model: "x"},
	}
	_, err := client.Chat(context.Background(), messages)
	require.NoError(t, err)

	body := string(gotBody)
	assert.NotContains(t, body, "hidden scratchpad")
	assert.NotContains(t, body, "m-1")
	assert.NotContains(t, body, "startTime")
	assert.Contains(t, body, "visible system")
	assert.Contains(t, body, "visible question")

	var payload struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	require.Len(t, payload.Messages, 2)
	assert.Equal(t, "system", payload.Messages[0].Role)
	assert.Equal(t, "user", payload.Messages[1].Role)
}

func TestChat_HTTPErrorMessage(t *testing.T) {
	client := newTestClient(t, BackendOpenAI, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}), nil)

	_, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
	assert.Contains(t, err.Error(), "401")
}

func TestChat_Timeout(t *testing.T) {
	client := newTestClient(t, BackendOpenAI, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background read and can
		// observe the client disconnect; otherwise r.Context() is never
		// canceled and Server.Close deadlocks in cleanup.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}), func(cfg *Config) {
		cfg.RequestTimeout = 50 * time.Millisecond
	})

	_, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestChat_UserCancelMidStream(t *testing.T) {
	client := newTestClient(t, BackendOpenAI, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body first so the server can observe the client's
		// cancellation (see TestChat_Timeout).
		io.Copy(io.Discard, r.Body)
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := client.Chat(ctx, []Message{{Role: RoleUser, Content: "hi"}},
		OnDelta(func(string) { cancel() }),
	)
	require.ErrorIs(t, err, context.Canceled,
		"user cancel must surface as the abort signal, not as a failure")
	assert.NotContains(t, err.Error(), "timed out")
}

func TestChat_PrematureEndOfStream(t *testing.T) {
	client := newTestClient(t, BackendOpenAI, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Deltas but no [DONE]: the server died mid-answer.
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
	}), nil)

	_, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}},
		OnDelta(func(string) {}),
	)
	require.Error(t, err, "partial text must not be reported as success")
	assert.Contains(t, err.Error(), "completion signal")
}

func TestTokenize_EstimationWhenDisabled(t *testing.T) {
	client := newTestClient(t, BackendLollms, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("tokenize must not reach the network when extended endpoints are off")
	}), nil)

	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 100), 25},
	}
	for _, tt := range tests {
		res, err := client.Tokenize(context.Background(), tt.text, "")
		require.NoError(t, err)
		assert.Equal(t, tt.want, res.Count, "text length %d", len(tt.text))
		assert.True(t, res.Estimated)
		assert.Empty(t, res.IDs)
	}
}

func TestTokenize_ExtendedEndpoint(t *testing.T) {
	var gotPath string
	client := newTestClient(t, BackendLollms, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"count":3,"tokens":[15339,11,1917]}`)
	}), func(cfg *Config) {
		cfg.UseExtendedEndpoints = true
	})

	res, err := client.Tokenize(context.Background(), "hello, world", "")
	require.NoError(t, err)
	assert.Equal(t, "/lollms/v1/tokenize", gotPath)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, []int{15339, 11, 1917}, res.IDs)
	assert.False(t, res.Estimated)
}

func TestTokenize_FallsBackToEstimationOnFailure(t *testing.T) {
	client := newTestClient(t, BackendLollms, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), func(cfg *Config) {
		cfg.UseExtendedEndpoints = true
	})

	res, err := client.Tokenize(context.Background(), "abcdefgh", "")
	require.NoError(t, err, "estimation fallback is never surfaced as an error")
	assert.Equal(t, 2, res.Count)
	assert.True(t, res.Estimated)
}

func TestContextSize(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		client := newTestClient(t, BackendLollms, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("unexpected network call")
		}), nil)
		res, err := client.ContextSize(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, DefaultContextSize, res.Size)
		assert.True(t, res.Estimated)
	})

	t.Run("server value", func(t *testing.T) {
		client := newTestClient(t, BackendLollms, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/lollms/v1/context_size", r.URL.Path)
			fmt.Fprint(w, `{"context_size":32768}`)
		}), func(cfg *Config) {
			cfg.UseExtendedEndpoints = true
		})
		res, err := client.ContextSize(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, 32768, res.Size)
		assert.False(t, res.Estimated)
	})

	t.Run("failure falls back to default", func(t *testing.T) {
		client := newTestClient(t, BackendLollms, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}), func(cfg *Config) {
			cfg.UseExtendedEndpoints = true
		})
		res, err := client.ContextSize(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, DefaultContextSize, res.Size)
		assert.True(t, res.Estimated)
	})
}

func TestExtractText(t *testing.T) {
	t.Run("disabled returns sentinel", func(t *testing.T) {
		client := newTestClient(t, BackendLollms, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("unexpected network call")
		}), nil)
		text, err := client.ExtractText(context.Background(), "QUJD", "doc.pdf")
		require.NoError(t, err)
		assert.Equal(t, ExtractionDisabledText, text)
	})

	t.Run("proxies to endpoint", func(t *testing.T) {
		client := newTestClient(t, BackendLollms, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/extract_text", r.URL.Path)
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), `"filename":"doc.pdf"`)
			fmt.Fprint(w, `{"text":"extracted content"}`)
		}), func(cfg *Config) {
			cfg.UseExtendedEndpoints = true
		})
		text, err := client.ExtractText(context.Background(), "QUJD", "doc.pdf")
		require.NoError(t, err)
		assert.Equal(t, "extracted content", text)
	})

	t.Run("http failure surfaces", func(t *testing.T) {
		client := newTestClient(t, BackendLollms, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"error":{"message":"unsupported file type"}}`)
		}), func(cfg *Config) {
			cfg.UseExtendedEndpoints = true
		})
		_, err := client.ExtractText(context.Background(), "QUJD", "doc.bin")
		require.Error(t, err, "extraction has no safe default")
		assert.Contains(t, err.Error(), "unsupported file type")
	})
}

func TestGenerateImage(t *testing.T) {
	t.Run("returns first image payload", func(t *testing.T) {
		client := newTestClient(t, BackendLollms, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/images/generations", r.URL.Path)
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), `"n":1`)
			assert.Contains(t, string(body), `"response_format":"b64_json"`)
			fmt.Fprint(w, `{"data":[{"b64_json":"aW1hZ2U="},{"b64_json":"c2Vjb25k"}]}`)
		}), nil)
		b64, err := client.GenerateImage(context.Background(), "a lighthouse")
		require.NoError(t, err)
		assert.Equal(t, "aW1hZ2U=", b64)
	})

	t.Run("fails without image data", func(t *testing.T) {
		client := newTestClient(t, BackendLollms, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"data":[]}`)
		}), nil)
		_, err := client.GenerateImage(context.Background(), "nothing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no image data")
	})
}

func TestModels_AndConnection(t *testing.T) {
	calls := 0
	client := newTestClient(t, BackendOllama, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/api/tags", r.URL.Path)
		fmt.Fprint(w, `{"models":[{"name":"llama3:8b"},{"name":"mistral"}]}`)
	}), nil)

	models, err := client.Models(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3:8b", models[0].ID)

	// Cached on the second unforced call.
	_, err = client.Models(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	summary := client.TestConnection(context.Background())
	assert.True(t, summary.OK)
	assert.Equal(t, 2, summary.ModelCount)
	assert.Contains(t, summary.Message, "2 models")
	assert.Equal(t, 2, calls, "connection test forces a refresh")
}

func TestTestConnection_NeverErrors(t *testing.T) {
	client, err := New(Config{
		BaseURL:        "http://127.0.0.1:1", // nothing listens here
		Kind:           BackendOpenAI,
		RequestTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	defer client.Close()

	summary := client.TestConnection(context.Background())
	assert.False(t, summary.OK)
	assert.Contains(t, summary.Message, "failed")
}

func TestNew_OptionOrderDoesNotChangeCacheLogger(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	store := modelcache.NewFileStore(filepath.Join(t.TempDir(), "models.json"))
	require.NoError(t, store.Set(context.Background(), &modelcache.Snapshot{
		Endpoint:  server.URL,
		UpdatedAt: time.Now().UTC(),
		Models:    []ModelDescriptor{{ID: "cached"}},
	}))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	// WithStore before WithLogger: the cache must still log through the
	// logger supplied afterwards.
	client, err := New(Config{
		BaseURL:        server.URL,
		Kind:           BackendOllama,
		RequestTimeout: time.Second,
	}, WithStore(store), WithLogger(logger))
	require.NoError(t, err)
	defer client.Close()

	models, err := client.Models(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Contains(t, buf.String(), "model fetch failed",
		"the stale-fallback warning must reach the configured logger")
}

func TestModels_StaleFallbackThroughStore(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "models.json")

	healthy := true
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"models":[{"name":"llama3"}]}`)
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	cfg := Config{BaseURL: server.URL, Kind: BackendOllama, RequestTimeout: time.Second}

	client, err := New(cfg, WithStore(modelcache.NewFileStore(storePath)))
	require.NoError(t, err)
	_, err = client.Models(context.Background(), true)
	require.NoError(t, err)
	client.Close()

	// A fresh client against the now-failing endpoint still serves the
	// persisted list on a forced refresh.
	healthy = false
	client, err = New(cfg, WithStore(modelcache.NewFileStore(storePath)))
	require.NoError(t, err)
	defer client.Close()

	models, err := client.Models(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "llama3", models[0].ID)
}
