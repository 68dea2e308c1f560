package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"kami.app/kami-server/internal/auth"
	"kami.app/kami-server/internal/core"
	"kami.app/kami-server/internal/store"
)

const minPasswordLength = 6

type APIHandler struct {
	sessions *auth.SessionManager
	registry *core.GodRegistry
	ledger   *core.Ledger
	chat     *core.ChatService
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewAPIHandler(sessions *auth.SessionManager, registry *core.GodRegistry, ledger *core.Ledger, chat *core.ChatService, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		sessions: sessions,
		registry: registry,
		ledger:   ledger,
		chat:     chat,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// currentUser is only valid behind AuthMiddleware.
func currentUser(r *http.Request) *store.User {
	user, _ := UserFromContext(r.Context())
	return user
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	User  *store.User `json:"user"`
	Token string      `json:"token"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		h.sendError(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	user, token, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.sendError(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}
	if err != nil {
		h.internalError(w, r, "Login failed", err)
		return
	}

	h.sendJSON(w, LoginResponse{User: user, Token: token}, http.StatusOK)
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UserResponse struct {
	User *store.User `json:"user"`
}

func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		h.sendError(w, "Username, email and password are required", http.StatusBadRequest)
		return
	}
	if len(req.Password) < minPasswordLength {
		h.sendError(w, fmt.Sprintf("Password must be at least %d characters", minPasswordLength), http.StatusBadRequest)
		return
	}

	user, err := h.sessions.Register(r.Context(), req.Username, req.Email, req.Password)
	if errors.Is(err, auth.ErrDuplicateAccount) {
		h.sendError(w, "Email or username is already registered", http.StatusConflict)
		return
	}
	if err != nil {
		h.internalError(w, r, "Registration failed", err)
		return
	}

	h.sendJSON(w, UserResponse{User: user}, http.StatusOK)
}

type VerifyRequest struct {
	Token string `json:"token"`
}

func (h *APIHandler) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Token == "" {
		h.sendError(w, "Token is required", http.StatusBadRequest)
		return
	}

	user, ok := h.resolve(w, r, req.Token)
	if !ok {
		return
	}
	h.sendJSON(w, UserResponse{User: user}, http.StatusOK)
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context(), tokenFromContext(r.Context())); err != nil {
		h.internalError(w, r, "Logout failed", err)
		return
	}
	h.sendJSON(w, SuccessResponse{Success: true}, http.StatusOK)
}

type ChatRequest struct {
	GodID   string `json:"godId"`
	Message string `json:"message"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.GodID == "" || strings.TrimSpace(req.Message) == "" {
		h.sendError(w, "God ID and message are required", http.StatusBadRequest)
		return
	}

	reply, err := h.chat.Chat(r.Context(), currentUser(r), req.GodID, req.Message)
	if errors.Is(err, store.ErrNotFound) {
		h.sendError(w, "God not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.internalError(w, r, "Failed to process chat", err)
		return
	}

	h.sendJSON(w, reply, http.StatusOK)
}

type MessagesResponse struct {
	Messages []store.Message `json:"messages"`
}

// CommunityMessagesHandler returns the whole timeline of a god.
func (h *APIHandler) CommunityMessagesHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := h.ledger.ListByGod(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.internalError(w, r, "Failed to load messages", err)
		return
	}
	h.sendJSON(w, MessagesResponse{Messages: messages}, http.StatusOK)
}

type CommunityPostRequest struct {
	Message     string            `json:"message"`
	MessageType store.MessageType `json:"messageType"`
}

func (h *APIHandler) CommunityPostHandler(w http.ResponseWriter, r *http.Request) {
	var req CommunityPostRequest
	if err := decodeJSON(r, &req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.sendError(w, "Message is required", http.StatusBadRequest)
		return
	}
	if req.MessageType != "" && req.MessageType != store.MessageTypeBeliever {
		h.sendError(w, "Only believer messages can be posted to the community", http.StatusBadRequest)
		return
	}

	_, err := h.chat.PostBelieverMessage(r.Context(), currentUser(r), chi.URLParam(r, "id"), req.Message)
	if errors.Is(err, store.ErrNotFound) {
		h.sendError(w, "God not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.internalError(w, r, "Failed to post message", err)
		return
	}

	h.sendJSON(w, SuccessResponse{Success: true}, http.StatusOK)
}

// OwnMessagesHandler returns the caller's own exchanges with a god.
func (h *APIHandler) OwnMessagesHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := h.ledger.ListByUserAndGod(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		h.internalError(w, r, "Failed to load messages", err)
		return
	}
	h.sendJSON(w, MessagesResponse{Messages: messages}, http.StatusOK)
}

type GodResponse struct {
	God *store.God `json:"god"`
}

func (h *APIHandler) GetGodHandler(w http.ResponseWriter, r *http.Request) {
	god, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		h.sendError(w, "God not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.internalError(w, r, "Failed to load god", err)
		return
	}
	h.sendJSON(w, GodResponse{God: god}, http.StatusOK)
}

type CreateGodRequest struct {
	core.GodInput
	// Token is accepted when the Authorization header is missing.
	Token string `json:"token"`
}

type CreateGodResponse struct {
	Success    bool       `json:"success"`
	GodID      string     `json:"godId"`
	God        *store.God `json:"god"`
	NewBalance int64      `json:"newBalance"`
}

func (h *APIHandler) CreateGodHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateGodRequest
	if err := decodeJSON(r, &req); err != nil {
		if bearerToken(r) == "" {
			h.sendError(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		h.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	token := bearerToken(r)
	if token == "" {
		token = req.Token
	}
	if token == "" {
		h.sendError(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	user, ok := h.resolve(w, r, token)
	if !ok {
		return
	}

	god, balance, err := h.registry.Create(r.Context(), user, req.GodInput)
	switch {
	case errors.Is(err, core.ErrValidation):
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, store.ErrInsufficientBalance):
		h.sendError(w, fmt.Sprintf("Creating a god costs %d saisen. Current balance: %d saisen", core.CreationCost, balance), http.StatusBadRequest)
		return
	case err != nil:
		h.internalError(w, r, "Failed to create god", err)
		return
	}

	h.sendJSON(w, CreateGodResponse{
		Success:    true,
		GodID:      god.ID,
		God:        god,
		NewBalance: balance,
	}, http.StatusOK)
}

type GodsResponse struct {
	Gods []store.God `json:"gods"`
}

func (h *APIHandler) MyGodsHandler(w http.ResponseWriter, r *http.Request) {
	gods, err := h.registry.ListByCreator(r.Context(), currentUser(r).ID)
	if err != nil {
		h.internalError(w, r, "Failed to load gods", err)
		return
	}
	h.sendJSON(w, GodsResponse{Gods: gods}, http.StatusOK)
}

func (h *APIHandler) ListGodsHandler(w http.ResponseWriter, r *http.Request) {
	gods, err := h.registry.ListAll(r.Context())
	if err != nil {
		h.internalError(w, r, "Failed to load gods", err)
		return
	}
	h.sendJSON(w, GodsResponse{Gods: gods}, http.StatusOK)
}

// RecentMessage is an exchange annotated with the god's display name.
type RecentMessage struct {
	store.Message
	GodName string `json:"godName"`
}

type RecentMessagesResponse struct {
	Messages []RecentMessage `json:"messages"`
}

func (h *APIHandler) RecentMessagesHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := h.ledger.ListByUser(r.Context(), currentUser(r).ID, core.DefaultRecentLimit)
	if err != nil {
		h.internalError(w, r, "Failed to load messages", err)
		return
	}
	gods, err := h.registry.ListAll(r.Context())
	if err != nil {
		h.internalError(w, r, "Failed to load gods", err)
		return
	}

	names := make(map[string]string, len(gods))
	for _, g := range gods {
		names[g.ID] = g.Name
	}

	recent := make([]RecentMessage, 0, len(messages))
	for _, m := range messages {
		recent = append(recent, RecentMessage{Message: m, GodName: names[m.GodID]})
	}
	h.sendJSON(w, RecentMessagesResponse{Messages: recent}, http.StatusOK)
}

type WalletResponse struct {
	Balance int64 `json:"balance"`
}

func (h *APIHandler) WalletHandler(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, WalletResponse{Balance: currentUser(r).SaisenBalance}, http.StatusOK)
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
