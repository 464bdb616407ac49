// ABOUTME: HTTP client for the conversational AI backend
// ABOUTME: One session per conversation and category; reset drops it

package collab

import (
	"context"
	"errors"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/2389/reclama-gateway/internal/classifier"
	"github.com/2389/reclama-gateway/internal/conversation"
)

// AssistantClient implements Assistant.
//
//	POST /respond        {"sessionId","text","category"} -> {"content": "..."}
//	POST /sessions/reset {"sessionId","category"}
type AssistantClient struct {
	http *httpClient
}

// NewAssistantClient creates an assistant client. client may be nil.
func NewAssistantClient(ep Endpoint, client *http.Client) *AssistantClient {
	return &AssistantClient{http: newHTTPClient(ep, client)}
}

type assistantRequest struct {
	SessionID string              `json:"sessionId"`
	Text      string              `json:"text,omitempty"`
	Category  classifier.Category `json:"category"`
}

// Respond implements Assistant.
func (a *AssistantClient) Respond(ctx context.Context, conversationID, text string, category classifier.Category) (Reply, error) {
	const op = "respond"
	data, err := a.http.postJSON(ctx, conversation.FailureAssistant, op, "respond", assistantRequest{
		SessionID: conversationID,
		Text:      text,
		Category:  category,
	})
	if err != nil {
		return Reply{}, err
	}
	content := gjson.GetBytes(data, "content").String()
	if content == "" {
		return Reply{}, conversation.NewCollaboratorError(conversation.FailureAssistant, op, errors.New("empty reply"))
	}
	return Reply{Content: content}, nil
}

// ResetSession implements Assistant.
func (a *AssistantClient) ResetSession(ctx context.Context, conversationID string, category classifier.Category) error {
	_, err := a.http.postJSON(ctx, conversation.FailureAssistant, "reset_session", "sessions/reset", assistantRequest{
		SessionID: conversationID,
		Category:  category,
	})
	return err
}
