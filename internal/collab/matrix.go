// ABOUTME: Matrix channel client built on mautrix
// ABOUTME: Rooms are user addresses; media ids are mxc:// content URIs

package collab

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/reclama-gateway/internal/conversation"
)

// Matrix implements Channel over a Matrix homeserver.
type Matrix struct {
	client  *mautrix.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewMatrix wraps an authenticated mautrix client. Each homeserver call is
// bounded by timeout, or DefaultTimeout when it is not positive.
func NewMatrix(client *mautrix.Client, timeout time.Duration, logger *slog.Logger) *Matrix {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Matrix{client: client, timeout: timeout, logger: logger.With("component", "matrix-channel")}
}

func (m *Matrix) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.timeout)
}

// SendText implements Channel.
func (m *Matrix) SendText(ctx context.Context, address, text string) (string, error) {
	ctx, cancel := m.call(ctx)
	defer cancel()
	resp, err := m.client.SendText(ctx, id.RoomID(address), text)
	if err != nil {
		return "", conversation.NewCollaboratorError(conversation.FailureDelivery, "send_text", err)
	}
	return resp.EventID.String(), nil
}

// SendVoice uploads the clip to the media repo and posts an m.audio event.
func (m *Matrix) SendVoice(ctx context.Context, address string, audio []byte, mimeType string) (string, error) {
	ctx, cancel := m.call(ctx)
	defer cancel()
	up, err := m.client.UploadBytes(ctx, audio, mimeType)
	if err != nil {
		return "", conversation.NewCollaboratorError(conversation.FailureDelivery, "upload_media", err)
	}
	content := &event.MessageEventContent{
		MsgType: event.MsgAudio,
		Body:    "voice reply",
		URL:     up.ContentURI.CUString(),
		Info: &event.FileInfo{
			MimeType: mimeType,
			Size:     len(audio),
		},
	}
	resp, err := m.client.SendMessageEvent(ctx, id.RoomID(address), event.EventMessage, content)
	if err != nil {
		return "", conversation.NewCollaboratorError(conversation.FailureDelivery, "send_voice", err)
	}
	return resp.EventID.String(), nil
}

// FetchMedia implements Channel.
func (m *Matrix) FetchMedia(ctx context.Context, mediaID string) ([]byte, error) {
	uri, err := id.ParseContentURI(mediaID)
	if err != nil {
		return nil, &conversation.CollaboratorError{
			Kind:      conversation.FailureMediaFetch,
			Op:        "fetch_media",
			Permanent: true,
			Err:       fmt.Errorf("parsing %q: %w", mediaID, err),
		}
	}
	ctx, cancel := m.call(ctx)
	defer cancel()
	data, err := m.client.DownloadBytes(ctx, uri)
	if err != nil {
		return nil, conversation.NewCollaboratorError(conversation.FailureMediaFetch, "fetch_media", err)
	}
	return data, nil
}

// MarkRead sends a read receipt for the event in the room.
func (m *Matrix) MarkRead(ctx context.Context, address, messageID string) error {
	ctx, cancel := m.call(ctx)
	defer cancel()
	if err := m.client.MarkRead(ctx, id.RoomID(address), id.EventID(messageID)); err != nil {
		return conversation.NewCollaboratorError(conversation.FailureDelivery, "mark_read", err)
	}
	return nil
}
