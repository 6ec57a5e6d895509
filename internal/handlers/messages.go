package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pliu/inbox/internal/messaging"
	"github.com/pliu/inbox/internal/middleware"
)

const selfMessageMessage = "Recepient cannot be currently authenticated user."

type SendMessageRequest struct {
	Content string `json:"content"`
	UserTo  string `json:"userTo"`
}

type MarkReadRequest struct {
	MessageIDs []string `json:"messageIds"`
}

// MessageHandler serves the /api/messages routes. Every route sits behind
// middleware.Auth, so the user id is always in the request context.
type MessageHandler struct {
	Service *messaging.Service
}

func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusForbidden, middleware.ForbiddenMessage)
	}
	return userID, ok
}

// Inbox lists the latest message of each conversation of the current user.
func (h *MessageHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	page := messaging.NormalizePage(r.URL.Query().Get("page"))
	threads, more, err := h.Service.ListInbox(r.Context(), userID, page)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	setNextLink(w, r, page, more)
	writeJSON(w, http.StatusOK, threads)
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	msg, err := h.Service.Send(r.Context(), userID, req.UserTo, req.Content)
	switch {
	case errors.Is(err, messaging.ErrSelfMessage):
		writeMessage(w, http.StatusForbidden, selfMessageMessage)
	case errors.Is(err, messaging.ErrEmptyContent):
		writeMessage(w, http.StatusBadRequest, "Message content is required.")
	case errors.Is(err, messaging.ErrRecipientNotFound):
		writeMessage(w, http.StatusNotFound, "Recepient not found.")
	case err != nil:
		writeInternalError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, msg)
	}
}

// Thread returns one page of the conversation with the user in the path.
func (h *MessageHandler) Thread(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	otherID := mux.Vars(r)["userId"]
	page := messaging.NormalizePage(r.URL.Query().Get("page"))

	messages, more, err := h.Service.ListThread(r.Context(), userID, otherID, page)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	setNextLink(w, r, page, more)
	writeJSON(w, http.StatusOK, messages)
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	n, err := h.Service.MarkRead(r.Context(), userID, req.MessageIDs)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func setNextLink(w http.ResponseWriter, r *http.Request, page int, more bool) {
	if !more {
		return
	}
	next := *r.URL
	q := next.Query()
	q.Set("page", strconv.Itoa(page+1))
	next.RawQuery = q.Encode()
	w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next"`, next.RequestURI()))
}
