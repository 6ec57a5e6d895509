package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/pliu/inbox/internal/auth"
	"github.com/pliu/inbox/internal/models"
	"github.com/pliu/inbox/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const invalidCredentialsMessage = "Invalid username or password."

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SignupRequest struct {
	Credentials
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Public      *bool  `json:"public"`
}

type AuthHandler struct {
	Store    store.Store
	Sessions *auth.Sessions
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "Username and password are required.")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	user := &models.User{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Password:    string(hashedPassword),
		Public:      req.Public == nil || *req.Public,
	}
	if user.DisplayName == "" {
		user.DisplayName = user.Username
	}

	if err := h.Store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeMessage(w, http.StatusConflict, "Username already exists.")
			return
		}
		writeInternalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeMessage(w, http.StatusBadRequest, invalidCredentialsMessage)
		return
	}

	user, err := h.Store.GetUserByUsername(r.Context(), strings.TrimSpace(creds.Username))
	if errors.Is(err, store.ErrNotFound) {
		writeMessage(w, http.StatusBadRequest, invalidCredentialsMessage)
		return
	}
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(creds.Password)); err != nil {
		writeMessage(w, http.StatusBadRequest, invalidCredentialsMessage)
		return
	}

	if err := h.Sessions.Login(w, r, user.ID); err != nil {
		writeInternalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) Signout(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Logout(w, r); err != nil {
		writeInternalError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Signed out.")
}
