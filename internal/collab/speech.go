// ABOUTME: HTTP client for the speech service
// ABOUTME: Multipart upload for transcription, JSON request for synthesis

package collab

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/2389/reclama-gateway/internal/conversation"
)

// SpeechClient implements Speech against a transcription/synthesis service.
//
//	POST /transcriptions  multipart(file, mime_type) -> {"text": "..."}
//	POST /synthesize      {"text": "..."}            -> audio bytes
type SpeechClient struct {
	http *httpClient
}

// NewSpeechClient creates a speech client. client may be nil.
func NewSpeechClient(ep Endpoint, client *http.Client) *SpeechClient {
	return &SpeechClient{http: newHTTPClient(ep, client)}
}

// Transcribe implements Speech.
func (s *SpeechClient) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	const op = "transcribe"
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("mime_type", mimeType)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="audio"`)
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err == nil {
		_, err = part.Write(audio)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return "", &conversation.CollaboratorError{Kind: conversation.FailureTranscription, Op: op, Permanent: true, Err: err}
	}

	data, err := s.http.do(ctx, conversation.FailureTranscription, op, http.MethodPost, "transcriptions", mw.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(gjson.GetBytes(data, "text").String())
	if text == "" {
		return "", &conversation.CollaboratorError{Kind: conversation.FailureTranscription, Op: op, Permanent: true, Err: errors.New("empty transcription")}
	}
	return text, nil
}

// Synthesize implements Speech.
func (s *SpeechClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	const op = "synthesize"
	audio, err := s.http.postJSON(ctx, conversation.FailureSynthesis, op, "synthesize", map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, conversation.NewCollaboratorError(conversation.FailureSynthesis, op, errors.New("empty audio"))
	}
	return audio, nil
}
