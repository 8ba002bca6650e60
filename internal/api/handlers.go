// Package api provides the HTTP surface around the collaboration core:
// token issuance, document create/fetch, health and stats.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"collabtext/internal/auth"
	"collabtext/internal/editor"
	"collabtext/internal/store"
)

// Handler bundles the dependencies of the HTTP surface.
type Handler struct {
	service *editor.Service
	store   store.DocumentStore
	tokens  *auth.TokenService
}

// NewRouter builds the chi router for the whole HTTP surface, websocket
// endpoint included.
func NewRouter(service *editor.Service, st store.DocumentStore, tokens *auth.TokenService) http.Handler {
	h := &Handler{service: service, store: st, tokens: tokens}

	r := chi.NewRouter()
	r.Post("/auth/login", h.Login)
	r.Post("/docs", h.CreateDocument)
	r.Get("/docs/{id}", h.GetDocument)
	r.Get("/docs/{id}/presence", h.Presence)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Get("/ws", service.HandleWebSocket)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type loginRequest struct {
	UserID string `json:"userId"`
}

type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

// Login mints a bearer token for the given identity. Demo-grade auth:
// production deployments substitute a real identity provider.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	token, err := h.tokens.Mint(req.UserID)
	if err != nil {
		log.Printf("[API] token mint failed for %s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to mint token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token, UserID: req.UserID})
}

type createDocumentRequest struct {
	Content string `json:"content"`
}

type createDocumentResponse struct {
	DocID string `json:"docId"`
}

// CreateDocument inserts a new durable record with the seed content.
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if r.Body != nil {
		// Empty body means empty seed content.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	id, err := h.store.Create(r.Context(), req.Content)
	if err != nil {
		log.Printf("[API] document create failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create document")
		return
	}

	writeJSON(w, http.StatusCreated, createDocumentResponse{DocID: id})
}

type documentResponse struct {
	Content string `json:"content"`
	Version int    `json:"version"`
}

// GetDocument returns a snapshot, preferring the live authority over the
// durable record so reads observe unpersisted edits.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	content, version, err := h.service.Registry().Snapshot(r.Context(), id)
	if errors.Is(err, editor.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		log.Printf("[API] document fetch failed for %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch document")
		return
	}

	writeJSON(w, http.StatusOK, documentResponse{Content: content, Version: version})
}

type presenceResponse struct {
	Users   []string       `json:"users"`
	Cursors map[string]int `json:"cursors"`
}

// Presence returns who is on a document and where their cursors are.
// Presence is ephemeral and advisory: an unknown document simply has
// nobody on it.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	users, err := h.service.Presence().ListUsers(r.Context(), id)
	if err != nil {
		log.Printf("[API] presence list failed for %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch presence")
		return
	}

	cursors, err := h.service.Presence().GetCursors(r.Context(), id)
	if err != nil {
		log.Printf("[API] cursor snapshot failed for %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch presence")
		return
	}

	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, presenceResponse{Users: users, Cursors: cursors})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Stats reports hub membership counts.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
