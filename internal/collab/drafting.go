// ABOUTME: HTTP client for the legal drafting service
// ABOUTME: Sends the conversation history and customer profile, returns a structured claim

package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/reclama-gateway/internal/conversation"
)

// DraftingClient implements Drafter.
//
//	POST /drafts  DraftRequest -> Draft
type DraftingClient struct {
	http *httpClient
}

// NewDraftingClient creates a drafting client. client may be nil.
func NewDraftingClient(ep Endpoint, client *http.Client) *DraftingClient {
	return &DraftingClient{http: newHTTPClient(ep, client)}
}

// Draft implements Drafter.
func (d *DraftingClient) Draft(ctx context.Context, req DraftRequest) (*Draft, error) {
	const op = "draft"
	data, err := d.http.postJSON(ctx, conversation.FailureDrafting, op, "drafts", req)
	if err != nil {
		return nil, err
	}
	var draft Draft
	if err := json.Unmarshal(data, &draft); err != nil {
		return nil, &conversation.CollaboratorError{Kind: conversation.FailureDrafting, Op: op, Permanent: true, Err: fmt.Errorf("decoding draft: %w", err)}
	}
	if draft.CompanyName == "" && len(draft.Facts) == 0 && draft.Petition == "" {
		return nil, conversation.NewCollaboratorError(conversation.FailureDrafting, op, errors.New("empty draft"))
	}
	return &draft, nil
}
