// ABOUTME: Shared HTTP plumbing for collaborator clients
// ABOUTME: Applies per-call deadlines and maps transport and status failures to CollaboratorError

package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/reclama-gateway/internal/conversation"
)

const (
	// DefaultTimeout bounds a single collaborator call.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 32 << 20
)

// Endpoint describes an HTTP collaborator.
type Endpoint struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type httpClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

func newHTTPClient(ep Endpoint, client *http.Client) *httpClient {
	if ep.Timeout <= 0 {
		ep.Timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	return &httpClient{
		baseURL: strings.TrimSuffix(ep.BaseURL, "/"),
		apiKey:  ep.APIKey,
		timeout: ep.Timeout,
		client:  client,
	}
}

func (c *httpClient) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimPrefix(path, "/")
}

// do sends one request under the client deadline. Any failure comes back
// as a CollaboratorError of kind.
func (c *httpClient) do(ctx context.Context, kind conversation.FailureKind, op, method, path, contentType string, body io.Reader) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, &conversation.CollaboratorError{Kind: kind, Op: op, Permanent: true, Err: fmt.Errorf("creating request: %w", err)}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, conversation.NewCollaboratorError(kind, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, conversation.NewCollaboratorError(kind, op, fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &conversation.CollaboratorError{
			Kind:      kind,
			Op:        op,
			Permanent: isPermanentStatus(resp.StatusCode),
			Err:       fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200)),
		}
	}
	return data, nil
}

func (c *httpClient) postJSON(ctx context.Context, kind conversation.FailureKind, op, path string, in any) ([]byte, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, &conversation.CollaboratorError{Kind: kind, Op: op, Permanent: true, Err: fmt.Errorf("marshaling request: %w", err)}
	}
	return c.do(ctx, kind, op, http.MethodPost, path, "application/json", bytes.NewReader(body))
}

// isPermanentStatus reports whether the remote will keep rejecting the same
// request. Timeouts and rate limits are worth another attempt.
func isPermanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
