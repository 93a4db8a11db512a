// Package rag provides a synchronous client for the knowledge-base RAG backend.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/piyush97/resonance/internal/domain"
)

// DefaultAssistantID is used when the caller omits an assistant id.
const DefaultAssistantID = "default"

// Answerer produces a grounded answer with citations for a query.
type Answerer interface {
	Answer(ctx context.Context, query, assistantID string, history []domain.HistoryEntry) (string, []domain.SourceCitation, error)
}

// Client is the HTTP client for the KB service chat endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new KB service client. An empty apiKey means
// requests go out unauthenticated (local/dev default).
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// chatRequest is the request body for the KB chat endpoint.
type chatRequest struct {
	Query               string                `json:"query"`
	AssistantID         string                `json:"assistant_id"`
	ConversationHistory []domain.HistoryEntry `json:"conversation_history"`
	SystemPrompt        string                `json:"system_prompt,omitempty"`
}

// chatResponse is the response body from the KB chat endpoint.
type chatResponse struct {
	Response string                  `json:"response"`
	Sources  []domain.SourceCitation `json:"sources"`
}

// UpstreamError reports a failed KB service call. It carries only the
// HTTP status; upstream response bodies may contain internal detail and
// are never relayed.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("KB service error (%d)", e.StatusCode)
}

// Answer issues one synchronous call to the KB service. No retries:
// retry policy belongs to the caller, not the client.
func (c *Client) Answer(ctx context.Context, query, assistantID string, history []domain.HistoryEntry) (string, []domain.SourceCitation, error) {
	if assistantID == "" {
		assistantID = DefaultAssistantID
	}
	if history == nil {
		history = []domain.HistoryEntry{}
	}

	body, err := json.Marshal(chatRequest{
		Query:               query,
		AssistantID:         assistantID,
		ConversationHistory: history,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/knowledge-base/chat", bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", nil, &UpstreamError{StatusCode: 0}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, &UpstreamError{StatusCode: resp.StatusCode}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, &UpstreamError{StatusCode: resp.StatusCode}
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", nil, &UpstreamError{StatusCode: resp.StatusCode}
	}

	// Sources pass through exactly as provided, no re-ranking or truncation.
	return result.Response, result.Sources, nil
}

// Healthy probes the KB service health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// setHeaders sets common request headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
