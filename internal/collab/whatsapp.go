// ABOUTME: WhatsApp Cloud API channel client
// ABOUTME: Sends text and voice, downloads media and marks messages read, with an outbound rate limit

package collab

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/2389/reclama-gateway/internal/conversation"
)

// DefaultGraphURL is the Cloud API base used when none is configured.
const DefaultGraphURL = "https://graph.facebook.com/v21.0"

// WhatsAppConfig configures the Cloud API client.
type WhatsAppConfig struct {
	Endpoint
	PhoneNumberID string
	// SendsPerSecond throttles outbound calls. Zero disables the limit.
	SendsPerSecond float64
}

// WhatsApp implements Channel over the WhatsApp Cloud API.
type WhatsApp struct {
	http    *httpClient
	phoneID string
	limiter *rate.Limiter
}

// NewWhatsApp creates a Cloud API channel. client may be nil.
func NewWhatsApp(cfg WhatsAppConfig, client *http.Client) *WhatsApp {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGraphURL
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SendsPerSecond > 0 {
		burst := int(cfg.SendsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.SendsPerSecond), burst)
	}
	return &WhatsApp{
		http:    newHTTPClient(cfg.Endpoint, client),
		phoneID: cfg.PhoneNumberID,
		limiter: limiter,
	}
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID string `json:"id"`
}

type waMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             *waText  `json:"text,omitempty"`
	Audio            *waMedia `json:"audio,omitempty"`
}

// SendText implements Channel.
func (w *WhatsApp) SendText(ctx context.Context, address, text string) (string, error) {
	return w.send(ctx, "send_text", waMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               address,
		Type:             "text",
		Text:             &waText{Body: text},
	})
}

// SendVoice uploads audio and sends it as a voice message.
func (w *WhatsApp) SendVoice(ctx context.Context, address string, audio []byte, mimeType string) (string, error) {
	mediaID, err := w.upload(ctx, audio, mimeType)
	if err != nil {
		return "", err
	}
	return w.send(ctx, "send_voice", waMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               address,
		Type:             "audio",
		Audio:            &waMedia{ID: mediaID},
	})
}

func (w *WhatsApp) send(ctx context.Context, op string, msg waMessage) (string, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return "", conversation.NewCollaboratorError(conversation.FailureDelivery, op, err)
	}
	data, err := w.http.postJSON(ctx, conversation.FailureDelivery, op, w.phoneID+"/messages", msg)
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(data, "messages.0.id").String(), nil
}

func (w *WhatsApp) upload(ctx context.Context, audio []byte, mimeType string) (string, error) {
	const op = "upload_media"
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("messaging_product", "whatsapp")
	_ = mw.WriteField("type", mimeType)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="reply.ogg"`)
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err == nil {
		_, err = part.Write(audio)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return "", &conversation.CollaboratorError{Kind: conversation.FailureDelivery, Op: op, Permanent: true, Err: err}
	}

	data, err := w.http.do(ctx, conversation.FailureDelivery, op, http.MethodPost, w.phoneID+"/media", mw.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(data, "id").String()
	if id == "" {
		return "", conversation.NewCollaboratorError(conversation.FailureDelivery, op, errors.New("upload returned no media id"))
	}
	return id, nil
}

// FetchMedia resolves the media id to a download URL and fetches it.
func (w *WhatsApp) FetchMedia(ctx context.Context, mediaID string) ([]byte, error) {
	const op = "fetch_media"
	meta, err := w.http.do(ctx, conversation.FailureMediaFetch, op, http.MethodGet, mediaID, "", nil)
	if err != nil {
		return nil, err
	}
	url := gjson.GetBytes(meta, "url").String()
	if url == "" {
		return nil, conversation.NewCollaboratorError(conversation.FailureMediaFetch, op, fmt.Errorf("media %s has no url", mediaID))
	}
	return w.http.do(ctx, conversation.FailureMediaFetch, op, http.MethodGet, url, "", nil)
}

// MarkRead implements Channel.
func (w *WhatsApp) MarkRead(ctx context.Context, _ string, messageID string) error {
	_, err := w.http.postJSON(ctx, conversation.FailureDelivery, "mark_read", w.phoneID+"/messages", map[string]string{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	})
	return err
}
