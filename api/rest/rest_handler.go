package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/zlnvch/codeverse/models"
	"github.com/zlnvch/codeverse/service"
)

type Handler struct {
	Service *service.Service
	Logger  *zap.Logger
}

func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{Service: svc, Logger: logger}
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerResponse struct {
	Id       string `json:"id"`
	Username string `json:"username"`
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.Service.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	h.sendResponse(w, registerResponse{Id: user.Id, Username: user.Username})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type oauthLoginRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserId       string `json:"user_id"`
	Username     string `json:"username"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, accessToken, refreshToken, err := h.Service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.sendResponse(w, loginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken.Token,
		UserId:       user.Id,
		Username:     user.Username,
	})
}

func (h *Handler) HandleOauthLogin(w http.ResponseWriter, r *http.Request) {
	var req oauthLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, accessToken, refreshToken, err := h.Service.OAuthLogin(r.Context(), req.Provider, req.Code)
	if err != nil {
		h.Logger.Debug("oauth login failed", zap.String("provider", req.Provider), zap.Error(err))
		h.writeServiceError(w, err)
		return
	}

	h.sendResponse(w, loginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken.Token,
		UserId:       user.Id,
		Username:     user.Username,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
}

func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	_, accessToken, err := h.Service.RedeemRefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.sendResponse(w, refreshResponse{AccessToken: accessToken})
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// HandleLogout revokes a single refresh token. Unknown tokens are a 400,
// matching the external contract; the access token stays valid until it
// expires.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.Service.RevokeRefreshToken(r.Context(), req.RefreshToken); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			http.Error(w, "unknown refresh token", http.StatusBadRequest)
			return
		}
		h.writeServiceError(w, err)
		return
	}

	h.sendResponse(w, messageResponse{Message: "success"})
}

func (h *Handler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	user, err := h.authenticate(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if err := h.Service.RevokeAllForUser(r.Context(), user.Id); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.sendResponse(w, messageResponse{Message: "success"})
}

type getUserResponse struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	Provider string `json:"provider,omitempty"`
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.authenticate(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.sendResponse(w, getUserResponse{Id: user.Id, Username: user.Username, Provider: user.Provider})

	case http.MethodDelete:
		if err := h.Service.DeleteAccount(r.Context(), user); err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.sendResponse(w, messageResponse{Message: "success"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type createDocumentRequest struct {
	Title    string `json:"title"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

type listDocumentsResponse struct {
	Owned  []models.Document `json:"owned"`
	Shared []models.Document `json:"shared"`
}

func (h *Handler) HandleDocuments(w http.ResponseWriter, r *http.Request) {
	user, err := h.authenticate(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		owned, shared, err := h.Service.ListDocuments(r.Context(), user)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		if owned == nil {
			owned = []models.Document{}
		}
		if shared == nil {
			shared = []models.Document{}
		}
		h.sendResponse(w, listDocumentsResponse{Owned: owned, Shared: shared})

	case http.MethodPost:
		var req createDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		doc, err := h.Service.CreateDocument(r.Context(), user, req.Title, req.Language, req.Content)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		h.sendResponse(w, doc)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type updateDocumentRequest struct {
	Title    string `json:"title"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

func (h *Handler) HandleDocument(w http.ResponseWriter, r *http.Request) {
	user, err := h.authenticate(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	docId := r.PathValue("id")

	switch r.Method {
	case http.MethodGet:
		doc, err := h.Service.GetDocument(r.Context(), user, docId)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.sendResponse(w, doc)

	case http.MethodPut:
		var req updateDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		doc, err := h.Service.UpdateDocument(r.Context(), user, docId, req.Title, req.Language, req.Content)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.sendResponse(w, doc)

	case http.MethodDelete:
		if err := h.Service.DeleteDocument(r.Context(), user, docId); err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.sendResponse(w, messageResponse{Message: "success"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type shareRequest struct {
	Username string `json:"username"`
}

func (h *Handler) HandleShare(w http.ResponseWriter, r *http.Request) {
	user, err := h.authenticate(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	docId := r.PathValue("id")

	var req shareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.Service.GrantShare(r.Context(), user, docId, req.Username); err != nil {
		h.writeServiceError(w, err)
		return
	}

	doc, err := h.Service.GetDocument(r.Context(), user, docId)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.sendResponse(w, doc)
}

func (h *Handler) authenticate(r *http.Request) (models.User, error) {
	return h.Service.Authenticate(r.Context(), h.getTokenFromAuthHeader(r))
}

func (h *Handler) sendResponse(w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, service.ErrNotAuthorized):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, service.ErrUsernameTaken):
		http.Error(w, "username already taken", http.StatusConflict)
	case errors.Is(err, service.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.Logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) getTokenFromAuthHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, prefix)
}
