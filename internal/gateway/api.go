// ABOUTME: HTTP routes for the webhook, health checks and the observer API
// ABOUTME: Lists, inspects, closes, resets and heartbeats live conversations and reads the archive

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/2389/reclama-gateway/internal/auth"
	"github.com/2389/reclama-gateway/internal/conversation"
	"github.com/2389/reclama-gateway/internal/document"
	"github.com/2389/reclama-gateway/internal/store"
	"github.com/2389/reclama-gateway/internal/webhook"
)

const maxLoginBody = 4 << 10

// ConversationSummary is one row of GET /api/conversations.
type ConversationSummary struct {
	ConversationID    string    `json:"conversationId"`
	UserAddress       string    `json:"userAddress"`
	CustomerName      string    `json:"customerName,omitempty"`
	Status            string    `json:"status"`
	Category          string    `json:"category,omitempty"`
	MessageCount      int       `json:"messageCount"`
	DocumentGenerated bool      `json:"documentGenerated"`
	StartTime         time.Time `json:"startTime"`
	LastUpdateTime    time.Time `json:"lastUpdateTime"`
	LastHeartbeat     time.Time `json:"lastHeartbeat,omitzero"`
}

// StatsResponse is the JSON response for GET /api/stats.
type StatsResponse struct {
	ActiveConversations   int   `json:"activeConversations"`
	ArchivedConversations int   `json:"archivedConversations"`
	Observers             int   `json:"observers"`
	Subscribers           int   `json:"subscribers"`
	EventsPublished       int64 `json:"eventsPublished"`
	EventsDropped         int64 `json:"eventsDropped"`
	DedupeEntries         int   `json:"dedupeEntries"`
}

// LoginRequest is the JSON body for POST /api/login.
type LoginRequest struct {
	Password string `json:"password"`
}

// LoginResponse carries a freshly minted observer token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	// The provider authenticates with the verify token and payload signature
	mux.Handle("/webhook", webhook.NewHandler(g.ingestor, webhook.HandlerConfig{
		VerifyToken: g.config.Webhook.VerifyToken,
		AppSecret:   g.config.Webhook.AppSecret,
	}, g.logger))

	if g.verifier != nil && g.config.Auth.PasswordHash != "" {
		mux.HandleFunc("POST /api/login", g.handleLogin)
	}

	// Observer API - auth required if JWT secret is configured
	guard := auth.RequireToken(nil)
	if g.verifier != nil {
		guard = auth.RequireToken(g.verifier)
	}
	api := http.NewServeMux()
	api.HandleFunc("GET /api/conversations", g.handleListConversations)
	api.HandleFunc("GET /api/conversations/{id}", g.handleGetConversation)
	api.HandleFunc("POST /api/conversations/{id}/close", g.handleCloseConversation)
	api.HandleFunc("POST /api/conversations/{id}/reset", g.handleResetConversation)
	api.HandleFunc("POST /api/conversations/{id}/heartbeat", g.handleHeartbeat)
	api.HandleFunc("GET /api/conversations/{id}/document", g.handleDocument)
	api.HandleFunc("GET /api/archive", g.handleListArchive)
	api.HandleFunc("GET /api/archive/{archiveId}", g.handleGetArchive)
	api.HandleFunc("GET /api/stats", g.handleStats)
	api.Handle("GET /ws", g.hub)

	mux.Handle("/api/", guard(api))
	mux.Handle("/ws", guard(api))
}

func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	snaps := g.service.Snapshots()
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].LastUpdateTime.After(snaps[j].LastUpdateTime)
	})

	out := make([]ConversationSummary, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, ConversationSummary{
			ConversationID:    s.ConversationID,
			UserAddress:       s.UserAddress,
			CustomerName:      s.Metadata.Customer.Name,
			Status:            string(s.Status),
			Category:          string(s.Category),
			MessageCount:      len(s.Messages),
			DocumentGenerated: s.Metadata.Document != nil && s.Metadata.Document.Generated,
			StartTime:         s.StartTime,
			LastUpdateTime:    s.LastUpdateTime,
			LastHeartbeat:     s.LastHeartbeat,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

func (g *Gateway) lookup(w http.ResponseWriter, r *http.Request) (*conversation.Record, bool) {
	rec, ok := g.service.Get(r.PathValue("id"))
	if !ok {
		sendJSONError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	return rec, true
}

func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	rec, ok := g.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec.Snapshot())
}

func (g *Gateway) handleCloseConversation(w http.ResponseWriter, r *http.Request) {
	rec, ok := g.lookup(w, r)
	if !ok {
		return
	}

	// Wait for any in-flight turn so the archive sees its outcome
	rec.LockTurn()
	g.service.CloseRecord(r.Context(), rec, conversation.CloseExplicit)
	rec.UnlockTurn()
	g.dedupe.Forget(rec.ID())

	g.logger.Info("conversation closed via API", "conversation_id", rec.ID(), "by", subject(r))
	writeJSON(w, http.StatusOK, map[string]any{"closed": true, "conversationId": rec.ID()})
}

func (g *Gateway) handleResetConversation(w http.ResponseWriter, r *http.Request) {
	rec, ok := g.lookup(w, r)
	if !ok {
		return
	}
	reset := g.processor.Reset(r.Context(), rec)
	g.logger.Info("conversation reset via API", "conversation_id", rec.ID(), "reset", reset, "by", subject(r))
	writeJSON(w, http.StatusOK, map[string]any{"reset": reset, "conversationId": rec.ID()})
}

func (g *Gateway) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.service.Heartbeat(id); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleDocument(w http.ResponseWriter, r *http.Request) {
	rec, ok := g.lookup(w, r)
	if !ok {
		return
	}
	doc := rec.Metadata().Document
	if doc == nil || !doc.Generated || doc.Markdown == "" {
		sendJSONError(w, http.StatusNotFound, "no document generated")
		return
	}

	body, err := document.HTML(doc.Markdown)
	if err != nil {
		g.logger.Error("failed to render document", "conversation_id", rec.ID(), "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to render document")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "<!doctype html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head><body>\n%s</body></html>\n",
		html.EscapeString("Reclamación "+doc.Company), body)
}

func (g *Gateway) handleListArchive(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	list, err := g.archive.ListArchived(r.Context(), r.URL.Query().Get("conversation"), limit)
	if err != nil {
		g.logger.Error("failed to list archive", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to list archive")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": list})
}

func (g *Gateway) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	ac, err := g.archive.GetArchived(r.Context(), r.PathValue("archiveId"))
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "archive not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to read archive", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	writeJSON(w, http.StatusOK, ac)
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	archived, err := g.archive.CountArchived(r.Context())
	if err != nil {
		g.logger.Warn("failed to count archive", "error", err)
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		ActiveConversations:   g.service.Registry().Count(),
		ArchivedConversations: archived,
		Observers:             g.hub.Count(),
		Subscribers:           g.broadcaster.SubscriberCount(),
		EventsPublished:       g.bus.Published(),
		EventsDropped:         g.bus.Dropped(),
		DedupeEntries:         g.dedupe.Len(),
	})
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !g.logins.Allow() {
		sendJSONError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := auth.CheckPassword(g.config.Auth.PasswordHash, req.Password); err != nil {
		g.logger.Warn("dashboard login failed", "remote_addr", r.RemoteAddr)
		sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	ttl := g.config.Auth.TokenTTL
	token, err := g.verifier.Generate("dashboard", ttl)
	if err != nil {
		g.logger.Error("failed to mint token", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: time.Now().Add(ttl).UTC()})
}

func subject(r *http.Request) string {
	if ac := auth.FromContext(r.Context()); ac != nil {
		return ac.Subject
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response with proper encoding.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
