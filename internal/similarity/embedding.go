package similarity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider returns dense vectors for text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// EmbeddingCache holds previously computed vectors. *cache.TwoTier
// satisfies it; a nil cache disables memoization.
type EmbeddingCache interface {
	GetEmbedding(text string) ([]float64, bool)
	PutEmbedding(text string, vec []float64)
}

// OllamaProvider calls a local Ollama server's embedding API.
// Embeddings stay on the local machine; nothing leaves the network.
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaProvider creates a provider against baseURL (default
// http://localhost:11434). Model should be an embedding model such as
// "nomic-embed-text" or "mxbai-embed-large".
func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed generates a single embedding vector from text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	reqBody, err := json.Marshal(embedRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("similarity: marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("similarity: create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("similarity: send embed request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("similarity: embed status %d: %s", resp.StatusCode, string(body))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("similarity: decode embed response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("similarity: empty embedding returned")
	}
	return result.Embedding, nil
}

// Reachable reports whether the server answers its tags endpoint
// within 2 seconds. Used once at backend selection.
func (p *OllamaProvider) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Embedding scores texts by cosine similarity of dense vectors.
type Embedding struct {
	provider Provider
	cache    EmbeddingCache
}

// NewEmbedding creates the dense backend. cache may be nil.
func NewEmbedding(provider Provider, cache EmbeddingCache) *Embedding {
	return &Embedding{provider: provider, cache: cache}
}

// Name identifies the backend in logs and stats.
func (e *Embedding) Name() string { return "embedding" }

// Score embeds both texts (consulting the cache first) and returns the
// cosine similarity clamped to [0,1].
func (e *Embedding) Score(ctx context.Context, a, b string) (float64, error) {
	va, err := e.vector(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := e.vector(ctx, b)
	if err != nil {
		return 0, err
	}
	return clamp01(Cosine(va, vb)), nil
}

func (e *Embedding) vector(ctx context.Context, text string) ([]float64, error) {
	if e.cache != nil {
		if vec, ok := e.cache.GetEmbedding(text); ok {
			return vec, nil
		}
	}
	vec, err := e.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.PutEmbedding(text, vec)
	}
	return vec, nil
}
