// ABOUTME: HTTP API handlers for login, dialog CRUD, message exchange and worker pull/push
// ABOUTME: JSON request/response structs, validation and error-to-status mapping

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/deepbot/deepbot-gateway/internal/auth"
	"github.com/deepbot/deepbot-gateway/internal/dialog"
	"github.com/deepbot/deepbot-gateway/internal/identity"
	"github.com/deepbot/deepbot-gateway/internal/store"
)

// Dialog name and message content bounds, enforced at the API edge before
// any store call.
const (
	minDialogNameLen     = 3
	maxDialogNameLen     = 20
	maxMessageContentLen = 2000
)

// LoginRequest is the JSON request body for POST /api/auth/login.
type LoginRequest struct {
	Credential string `json:"credential"`
}

// LoginResponse is the JSON response for a successful login.
type LoginResponse struct {
	Token      string `json:"token"`
	UserID     string `json:"user_id"`
	Email      string `json:"email,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Picture    string `json:"picture,omitempty"`
}

// ProfileResponse is the JSON response for GET /api/me.
type ProfileResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Picture    string `json:"picture,omitempty"`
}

// CreateDialogRequest is the JSON request body for POST /api/dialogs.
type CreateDialogRequest struct {
	Name string `json:"name"`
}

// RenameDialogRequest is the JSON request body for POST /api/dialogs/{id}/rename.
type RenameDialogRequest struct {
	Name string `json:"name"`
}

// DialogResponse is one dialog in list and create responses.
type DialogResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ContextMessage is one role-tagged message in a dialog's history.
type ContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DialogContextResponse is the JSON response for GET /api/dialogs/{id}.
type DialogContextResponse struct {
	DialogID string           `json:"dialog_id"`
	Messages []ContextMessage `json:"messages"`
}

// FlagResponse is the JSON response for GET /api/dialogs/{id}/flag.
type FlagResponse struct {
	Busy bool `json:"busy"`
}

// SendRequest is the JSON request body for POST /api/send.
type SendRequest struct {
	DialogID string `json:"dialog_id"`
	Content  string `json:"content"`
}

// SendResponse carries the AI reply back to the blocked sender.
type SendResponse struct {
	Reply string `json:"reply"`
}

// PendingMessageResponse is one row of the worker's pull feed.
type PendingMessageResponse struct {
	DialogID string `json:"dialog_id"`
	UserID   string `json:"user_id"`
	Content  string `json:"content"`
}

// WorkerMessagesResponse is the JSON response for GET /api/worker/messages.
type WorkerMessagesResponse struct {
	Messages []PendingMessageResponse `json:"messages"`
}

// WorkerReplyRequest is the JSON request body for POST /api/worker/reply.
type WorkerReplyRequest struct {
	DialogID string `json:"dialog_id"`
	Content  string `json:"content"`
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendJSON writes a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("encoding response", "error", err)
	}
}

// decodeJSON decodes a request body into dst, rejecting invalid JSON.
func decodeJSON(r io.Reader, dst interface{}) error {
	if err := json.NewDecoder(r).Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// validateDialogName enforces the 3-20 character bound.
func validateDialogName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < minDialogNameLen || n > maxDialogNameLen {
		return errors.New("name must be 3-20 characters")
	}
	return nil
}

// validateMessageContent enforces the 1-2000 character bound.
func validateMessageContent(content string) error {
	n := utf8.RuneCountInString(content)
	if n < 1 || n > maxMessageContentLen {
		return errors.New("content must be 1-2000 characters")
	}
	return nil
}

// handleLogin handles POST /api/auth/login. The external credential goes
// through the identity gate, the user is found or created, and a session
// token comes back.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Credential == "" {
		g.sendJSONError(w, http.StatusBadRequest, "credential is required")
		return
	}

	ident, err := g.gate.Verify(r.Context(), req.Credential)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredential) {
			g.sendJSONError(w, http.StatusForbidden, "forbidden")
			return
		}
		g.logger.Error("verifying credential", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	user, err := g.findOrCreateUser(r, ident)
	if err != nil {
		g.logger.Error("resolving user", "external_id", ident.ExternalID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	token, err := g.sessions.Generate(user.ID, g.config.Auth.SessionTTL)
	if err != nil {
		g.logger.Error("generating session token", "user_id", user.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("user logged in", "user_id", user.ID)
	g.sendJSON(w, http.StatusOK, LoginResponse{
		Token:      token,
		UserID:     user.ID,
		Email:      user.Email,
		GivenName:  user.GivenName,
		FamilyName: user.FamilyName,
		Picture:    user.Picture,
	})
}

// findOrCreateUser looks up a user by external id, creating the record on
// first login. A concurrent first login loses the insert race and falls back
// to the lookup.
func (g *Gateway) findOrCreateUser(r *http.Request, ident *identity.Identity) (*store.User, error) {
	ctx := r.Context()

	user, err := g.store.FindUserByExternalID(ctx, ident.ExternalID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	user = &store.User{
		ID:         uuid.New().String(),
		ExternalID: ident.ExternalID,
		Email:      ident.Email,
		GivenName:  ident.GivenName,
		FamilyName: ident.FamilyName,
		Picture:    ident.Picture,
		CreatedAt:  time.Now().UTC(),
	}
	err = g.store.CreateUser(ctx, user)
	if errors.Is(err, store.ErrDuplicateUser) {
		return g.store.FindUserByExternalID(ctx, ident.ExternalID)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// handleMe handles GET /api/me.
func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := auth.UserFromContext(r.Context())
	user, err := g.store.GetUser(r.Context(), userID)
	if err != nil {
		g.logger.Error("loading user profile", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, ProfileResponse{
		ID:         user.ID,
		Email:      user.Email,
		GivenName:  user.GivenName,
		FamilyName: user.FamilyName,
		Picture:    user.Picture,
	})
}

// handleDialogs handles GET (list) and POST (create) on /api/dialogs.
func (g *Gateway) handleDialogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleListDialogs(w, r)
	case http.MethodPost:
		g.handleCreateDialog(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handleListDialogs(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFromContext(r.Context())

	dialogs, err := g.store.ListDialogs(r.Context(), userID)
	if err != nil {
		g.logger.Error("listing dialogs", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]DialogResponse, 0, len(dialogs))
	for _, d := range dialogs {
		response = append(response, DialogResponse{ID: d.ID, Name: d.Name})
	}
	g.sendJSON(w, http.StatusOK, response)
}

func (g *Gateway) handleCreateDialog(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFromContext(r.Context())

	var req CreateDialogRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateDialogName(req.Name); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	allowed, err := g.quota.CanCreateDialog(r.Context(), userID)
	if err != nil {
		g.logger.Error("checking dialog quota", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !allowed {
		g.sendJSONError(w, http.StatusForbidden, dialog.ErrQuotaExceeded.Error())
		return
	}

	now := time.Now().UTC()
	d := &store.Dialog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      req.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.store.CreateDialog(r.Context(), d); err != nil {
		g.logger.Error("creating dialog", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("dialog created", "user_id", userID, "dialog_id", d.ID)
	g.sendJSON(w, http.StatusCreated, DialogResponse{ID: d.ID, Name: d.Name})
}

// handleDialogRoutes dispatches /api/dialogs/{id}, /api/dialogs/{id}/rename
// and /api/dialogs/{id}/flag.
func (g *Gateway) handleDialogRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/dialogs/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		dialogID := parts[0]
		switch r.Method {
		case http.MethodGet:
			g.handleDialogContext(w, r, dialogID)
		case http.MethodDelete:
			g.handleDeleteDialog(w, r, dialogID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "rename":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.handleRenameDialog(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "flag":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.handleDialogFlag(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (g *Gateway) handleDialogContext(w http.ResponseWriter, r *http.Request, dialogID string) {
	userID := auth.UserFromContext(r.Context())

	owns, err := g.ownership.Owns(r.Context(), userID, dialogID)
	if err != nil {
		g.logger.Error("checking ownership", "dialog_id", dialogID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !owns {
		g.sendJSONError(w, http.StatusForbidden, "forbidden")
		return
	}

	msgs, err := g.store.ListMessages(r.Context(), dialogID)
	if err != nil {
		g.logger.Error("listing messages", "dialog_id", dialogID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	context := make([]ContextMessage, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.AuthorID == store.AIAuthorID {
			role = "ai"
		}
		context = append(context, ContextMessage{Role: role, Content: m.Content})
	}
	g.sendJSON(w, http.StatusOK, DialogContextResponse{DialogID: dialogID, Messages: context})
}

func (g *Gateway) handleRenameDialog(w http.ResponseWriter, r *http.Request, dialogID string) {
	userID := auth.UserFromContext(r.Context())

	var req RenameDialogRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateDialogName(req.Name); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := g.store.RenameDialog(r.Context(), userID, dialogID, req.Name)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err != nil {
		g.logger.Error("renaming dialog", "dialog_id", dialogID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, DialogResponse{ID: dialogID, Name: req.Name})
}

func (g *Gateway) handleDeleteDialog(w http.ResponseWriter, r *http.Request, dialogID string) {
	userID := auth.UserFromContext(r.Context())

	err := g.store.DeleteDialog(r.Context(), userID, dialogID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err != nil {
		g.logger.Error("deleting dialog", "dialog_id", dialogID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("dialog deleted", "user_id", userID, "dialog_id", dialogID)
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleDialogFlag(w http.ResponseWriter, r *http.Request, dialogID string) {
	userID := auth.UserFromContext(r.Context())

	busy, err := g.store.GetBusy(r.Context(), userID, dialogID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err != nil {
		g.logger.Error("reading busy flag", "dialog_id", dialogID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, FlagResponse{Busy: busy})
}

// handleSend handles POST /api/send. The call blocks until the AI reply
// arrives or the reply timeout fires.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := auth.UserFromContext(r.Context())

	var req SendRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DialogID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "dialog_id is required")
		return
	}
	if err := validateMessageContent(req.Content); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := g.coordinator.Submit(r.Context(), userID, req.DialogID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, dialog.ErrUnauthorized):
			g.sendJSONError(w, http.StatusForbidden, "forbidden")
		case errors.Is(err, dialog.ErrDialogBusy):
			g.sendJSONError(w, http.StatusConflict, "dialog already awaiting reply")
		case errors.Is(err, dialog.ErrReplyTimeout):
			g.sendJSONError(w, http.StatusGatewayTimeout, "timed out waiting for reply")
		default:
			g.logger.Error("submitting message", "dialog_id", req.DialogID, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	g.sendJSON(w, http.StatusOK, SendResponse{Reply: reply})
}

// handleWorkerMessages handles GET /api/worker/messages: the worker's pull
// feed of latest unanswered messages across busy dialogs.
func (g *Gateway) handleWorkerMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	pending, err := g.coordinator.Pull(r.Context())
	if err != nil {
		g.logger.Error("pulling pending messages", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := WorkerMessagesResponse{Messages: make([]PendingMessageResponse, 0, len(pending))}
	for _, p := range pending {
		response.Messages = append(response.Messages, PendingMessageResponse{
			DialogID: p.DialogID,
			UserID:   p.UserID,
			Content:  p.Content,
		})
	}
	g.sendJSON(w, http.StatusOK, response)
}

// handleWorkerReply handles POST /api/worker/reply: persists the AI reply,
// clears the dialog's busy flag and releases the blocked sender.
func (g *Gateway) handleWorkerReply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req WorkerReplyRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DialogID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "dialog_id is required")
		return
	}
	if err := validateMessageContent(req.Content); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := g.coordinator.Push(r.Context(), req.DialogID, req.Content)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "dialog not found")
		return
	}
	if err != nil {
		g.logger.Error("pushing reply", "dialog_id", req.DialogID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
