// ABOUTME: HTTP entry point for channel webhooks: verification handshake and deliveries
// ABOUTME: Rejected envelopes get a 4xx JSON error; accepted ones always answer 200 with counts

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/2389/reclama-gateway/internal/conversation"
)

// maxBodySize bounds a single delivery.
const maxBodySize = 4 << 20

// HandlerConfig configures the HTTP handler.
type HandlerConfig struct {
	// VerifyToken answers the GET subscription handshake.
	VerifyToken string
	// AppSecret enables X-Hub-Signature-256 checks when set.
	AppSecret string
}

// Handler serves GET (handshake) and POST (delivery) on the webhook path.
type Handler struct {
	ingestor *Ingestor
	cfg      HandlerConfig
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(ingestor *Ingestor, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		ingestor: ingestor,
		cfg:      cfg,
		logger:   logger.With("component", "webhook-http"),
	}
}

// ingestResponse is the outward summary. Per-message detail stays on the
// event bus.
type ingestResponse struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerify(w, r)
	case http.MethodPost:
		h.handleDelivery(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleVerify answers the subscription handshake by echoing hub.challenge.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || h.cfg.VerifyToken == "" || q.Get("hub.verify_token") != h.cfg.VerifyToken {
		h.logger.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
		sendJSONError(w, http.StatusForbidden, "verification failed")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxBodySize {
		sendJSONError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	if h.cfg.AppSecret != "" {
		if err := VerifySignature(h.cfg.AppSecret, r.Header.Get(SignatureHeader), body); err != nil {
			h.logger.Warn("webhook signature rejected", "error", err)
			sendJSONError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		sendJSONError(w, http.StatusBadRequest, conversation.ErrInvalidPayload.Error()+": "+err.Error())
		return
	}

	// A provider that hangs up early must not abort retries halfway; each
	// collaborator call carries its own deadline.
	sum, err := h.ingestor.Ingest(context.WithoutCancel(r.Context()), &p)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, conversation.ErrInvalidPayload) {
			status = http.StatusBadRequest
		}
		sendJSONError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ingestResponse{Processed: sum.Processed, Errors: sum.Errors})
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
