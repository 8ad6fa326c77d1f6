// Package retrieval is the boundary to the external context-retrieval
// capability. Failures never surface to the user: the chat falls back to an
// empty context.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Retriever returns knowledge-base context relevant to a query, scoped to an
// assistant's document store. An empty string means no context is available.
type Retriever interface {
	Retrieve(ctx context.Context, storePath, query string) (string, error)
}

// HTTPRetriever calls a retrieval sidecar over HTTP.
type HTTPRetriever struct {
	baseURL string
	client  *http.Client
}

// NewHTTP creates a retriever against the given sidecar base URL.
func NewHTTP(baseURL string) *HTTPRetriever {
	return &HTTPRetriever{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type retrieveRequest struct {
	Store string `json:"store"`
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type retrieveResponse struct {
	Chunks []string `json:"chunks"`
}

// Retrieve asks the sidecar for the most relevant document chunks and joins
// them into a single context block.
func (r *HTTPRetriever) Retrieve(ctx context.Context, storePath, query string) (string, error) {
	if storePath == "" {
		return "", nil
	}

	body, err := json.Marshal(retrieveRequest{Store: storePath, Query: query, TopK: 4})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/retrieve", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("retrieval service returned status: %s", resp.Status)
	}

	var result retrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return strings.Join(result.Chunks, "\n\n"), nil
}

// Noop is a Retriever that always returns an empty context. Used when no
// retrieval sidecar is configured.
type Noop struct{}

// Retrieve implements Retriever.
func (Noop) Retrieve(context.Context, string, string) (string, error) {
	return "", nil
}

// Safe wraps a Retriever so failures are logged and downgraded to an empty
// context instead of an error.
func Safe(ctx context.Context, r Retriever, storePath, query string) string {
	text, err := r.Retrieve(ctx, storePath, query)
	if err != nil {
		slog.Error("context retrieval failed", "store", storePath, "error", err)
		return ""
	}
	return text
}
