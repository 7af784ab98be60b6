package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// requestSpec is one HTTP invocation shape: where to POST, with which
// headers, and what JSON body.
type requestSpec struct {
	endpoint string
	headers  map[string]string
	body     any
}

// httpVariant supplies the per-endpoint request shape and response
// extraction; httpCore owns transport, timeout, and retry.
type httpVariant interface {
	buildRequest(model, prompt string) requestSpec
	parseResponse(body []byte) (string, error)
}

// Retry policy shared by every HTTP adapter: exponential backoff from
// backoffBase capped at backoffCap, retrying only network errors, 5xx,
// and 429. Other 4xx responses fail immediately with the body logged.
const (
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 10 * time.Second
)

// httpCore is the shared engine behind the HTTP adapter variants.
type httpCore struct {
	name           string
	baseURL        string
	timeout        time.Duration
	maxRetries     int
	maxPromptChars int
	variant        httpVariant
	client         *http.Client
	logger         *slog.Logger

	// backoffBase is overridable in tests to keep retry paths fast.
	backoffBase time.Duration
}

func newHTTPCore(name, baseURL string, timeout time.Duration, maxRetries, maxPromptChars int, variant httpVariant, logger *slog.Logger) *httpCore {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &httpCore{
		name:           name,
		baseURL:        baseURL,
		timeout:        timeout,
		maxRetries:     maxRetries,
		maxPromptChars: maxPromptChars,
		variant:        variant,
		client:         &http.Client{Timeout: timeout},
		logger:         logger,
		backoffBase:    defaultBackoffBase,
	}
}

func (c *httpCore) Name() string { return c.name }

func (c *httpCore) Timeout() time.Duration { return c.timeout }

// Invoke POSTs the variant's request shape, retrying transient failures.
func (c *httpCore) Invoke(ctx context.Context, req Request) (string, error) {
	prompt := composePrompt(req)
	if err := checkLength(prompt, c.maxPromptChars); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	spec := c.variant.buildRequest(req.Model, prompt)
	payload, err := json.Marshal(spec.body)
	if err != nil {
		return "", newError(KindFatal, "marshal request: %v", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.backoff(callCtx, attempt); err != nil {
				return "", err
			}
		}

		text, retryable, err := c.post(callCtx, spec, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
		c.logger.Debug("http adapter retrying",
			"adapter", c.name, "attempt", attempt+1, "error", err)
	}
	return "", lastErr
}

// post performs one attempt. The second return reports whether the failure
// qualifies for a retry.
func (c *httpCore) post(ctx context.Context, spec requestSpec, payload []byte) (text string, retryable bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+spec.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", false, newError(KindFatal, "create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range spec.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", false, newError(KindTimeout, "%s timed out after %s", spec.endpoint, c.timeout)
		}
		return "", true, newError(KindTransient, "request %s: %v", spec.endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", true, newError(KindTransient, "read response: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		text, err := c.variant.parseResponse(body)
		if err != nil {
			return "", false, newError(KindFatal, "parse response: %v", err)
		}
		return text, false, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", true, newError(KindTransient, "%s status %d", spec.endpoint, resp.StatusCode)
	default:
		// Non-retryable 4xx: the body usually names the actual problem
		// (bad model id, malformed request, expired key).
		c.logger.Error("http adapter client error",
			"adapter", c.name, "status", resp.StatusCode, "body", truncateBody(body, 1024))
		return "", false, newError(KindFatal, "%s status %d", spec.endpoint, resp.StatusCode)
	}
}

func (c *httpCore) backoff(ctx context.Context, attempt int) error {
	delay := c.backoffBase << (attempt - 1)
	if delay > defaultBackoffCap {
		delay = defaultBackoffCap
	}
	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return newError(KindTimeout, "timed out during retry backoff")
		}
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func truncateBody(body []byte, n int) string {
	if len(body) > n {
		body = body[:n]
	}
	return string(body)
}

// ── Generate-style local endpoint ──────────────────────────────────────────────

// GenerateHTTPAdapter POSTs to an Ollama-style /api/generate endpoint.
type GenerateHTTPAdapter struct {
	*httpCore
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// NewGenerateHTTP builds the generate-style HTTP adapter.
func NewGenerateHTTP(name, baseURL string, timeout time.Duration, maxRetries, maxPromptChars int, logger *slog.Logger) *GenerateHTTPAdapter {
	a := &GenerateHTTPAdapter{}
	a.httpCore = newHTTPCore(name, baseURL, timeout, maxRetries, maxPromptChars, a, logger)
	return a
}

func (a *GenerateHTTPAdapter) buildRequest(model, prompt string) requestSpec {
	return requestSpec{
		endpoint: "/api/generate",
		body:     generateRequest{Model: model, Prompt: prompt, Stream: false},
	}
}

func (a *GenerateHTTPAdapter) parseResponse(body []byte) (string, error) {
	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if out.Response == "" {
		return "", fmt.Errorf("empty response field")
	}
	return out.Response, nil
}

// ── OpenAI-compatible chat endpoints ───────────────────────────────────────────

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func parseChatResponse(body []byte) (string, error) {
	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return out.Choices[0].Message.Content, nil
}

// ChatHTTPAdapter POSTs to a local OpenAI-compatible /v1/chat/completions
// endpoint without authentication.
type ChatHTTPAdapter struct {
	*httpCore
}

// NewChatHTTP builds the local chat HTTP adapter.
func NewChatHTTP(name, baseURL string, timeout time.Duration, maxRetries, maxPromptChars int, logger *slog.Logger) *ChatHTTPAdapter {
	a := &ChatHTTPAdapter{}
	a.httpCore = newHTTPCore(name, baseURL, timeout, maxRetries, maxPromptChars, a, logger)
	return a
}

func (a *ChatHTTPAdapter) buildRequest(model, prompt string) requestSpec {
	return requestSpec{
		endpoint: "/v1/chat/completions",
		body: chatRequest{
			Model:       model,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			Temperature: 0.7,
			Stream:      false,
		},
	}
}

func (a *ChatHTTPAdapter) parseResponse(body []byte) (string, error) {
	return parseChatResponse(body)
}

// HostedChatAdapter POSTs to a hosted OpenAI-compatible /chat/completions
// endpoint with bearer authentication. The Authorization header is emitted
// even when the key resolved empty: the server's 401 is the observable
// signal that the environment variable was missing.
type HostedChatAdapter struct {
	*httpCore
	apiKey string
}

// NewHostedChat builds the hosted chat HTTP adapter.
func NewHostedChat(name, baseURL, apiKey string, timeout time.Duration, maxRetries, maxPromptChars int, logger *slog.Logger) *HostedChatAdapter {
	a := &HostedChatAdapter{apiKey: apiKey}
	a.httpCore = newHTTPCore(name, baseURL, timeout, maxRetries, maxPromptChars, a, logger)
	if apiKey == "" {
		logger.Warn("hosted adapter has no api key; requests will be unauthenticated", "adapter", name)
	}
	return a
}

func (a *HostedChatAdapter) buildRequest(model, prompt string) requestSpec {
	return requestSpec{
		endpoint: "/chat/completions",
		headers:  map[string]string{"Authorization": "Bearer " + a.apiKey},
		body: chatRequest{
			Model:       model,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			Temperature: 0.7,
			Stream:      false,
		},
	}
}

func (a *HostedChatAdapter) parseResponse(body []byte) (string, error) {
	return parseChatResponse(body)
}
