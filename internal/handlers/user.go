package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/taskforge/apiserver/internal/images"
	"github.com/taskforge/apiserver/internal/services"
	"github.com/taskforge/apiserver/types"
)

const (
	maxAvatarBytes     = 1_000_000
	maxMultipartMemory = 4 << 20
	formFieldAvatar    = "avatar"
)

// userUpdatableFields is the fixed allow-list for profile patches.
var userUpdatableFields = []string{"name", "email", "password", "age"}

// avatarExtensions are the accepted upload filename extensions.
var avatarExtensions = []string{".jpg", ".jpeg", ".png"}

// UserHandler provides account, session, and avatar endpoints.
type UserHandler struct {
	users  *services.UserService
	tokens *services.TokenService
}

// NewUserHandler constructs a UserHandler with the provided dependencies.
func NewUserHandler(users *services.UserService, tokens *services.TokenService) *UserHandler {
	return &UserHandler{
		users:  users,
		tokens: tokens,
	}
}

// UserRouter registers user routes on the given router.
func UserRouter(r chi.Router, users *services.UserService, tokens *services.TokenService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewUserHandler(users, tokens)

	r.Post("/", handler.Signup)
	r.Post("/login", handler.Login)
	r.Get("/{userID}/avatar", handler.GetAvatar)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/logout", handler.Logout)
		r.Post("/logoutAll", handler.LogoutAll)
		r.Get("/me", handler.Me)
		r.Patch("/me", handler.UpdateMe)
		r.Delete("/me", handler.DeleteMe)
		r.Post("/me/avatar", handler.UploadAvatar)
		r.Delete("/me/avatar", handler.DeleteAvatar)
	})
}

// Signup creates a new account and opens its first session.
func (h *UserHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var input services.SignupInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.users.Signup(r.Context(), input)
	if err != nil {
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": verrs})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	token, err := h.tokens.Issue(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	writeJSON(w, http.StatusCreated, AuthResponse{User: user, Token: token})
}

// Login verifies credentials and opens a new session. Bad credentials get a
// 400 with a deliberately vague message.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			writeError(w, http.StatusBadRequest, "unable to login")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to login")
		return
	}

	token, err := h.tokens.Issue(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{User: user, Token: token})
}

// Logout revokes the session token used for this request.
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "please authenticate")
		return
	}
	token, err := tokenFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "please authenticate")
		return
	}

	if err := h.tokens.Revoke(r.Context(), user.ID, token); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to logout")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// LogoutAll revokes every session token the user holds.
func (h *UserHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "please authenticate")
		return
	}

	if err := h.tokens.RevokeAll(r.Context(), user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to logout")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Me returns the current authenticated user.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "please authenticate")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateMe applies an allow-listed patch to the caller's profile.
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "please authenticate")
		return
	}

	body, err := decodeAllowListed(r, userUpdatableFields...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var patch services.UserPatch
	if err := json.Unmarshal(body, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	updated, err := h.users.UpdateProfile(r.Context(), user, patch)
	if err != nil {
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": verrs})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update user")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// DeleteMe removes the caller's account; tasks and sessions go with it.
func (h *UserHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "please authenticate")
		return
	}

	if err := h.users.Delete(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UploadAvatar accepts a jpg/jpeg/png of at most one megabyte and stores it
// as the caller's avatar, normalized to a square PNG.
func (h *UserHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "please authenticate")
		return
	}

	data, err := parseAvatarUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.users.SetAvatar(r.Context(), user, data); err != nil {
		if errors.Is(err, images.ErrInvalidImage) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to store avatar")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// DeleteAvatar removes the caller's avatar.
func (h *UserHandler) DeleteAvatar(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "please authenticate")
		return
	}

	if _, err := h.users.ClearAvatar(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete avatar")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetAvatar serves any user's avatar PNG. No authentication is required;
// a missing user or missing avatar both yield 404.
func (h *UserHandler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "userID"))
	if err != nil || id < 1 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	avatar, err := h.users.Avatar(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(avatar)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	User  types.User `json:"user"`
	Token string     `json:"token"`
}

func parseAvatarUpload(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, errors.New("invalid multipart form")
	}

	file, header, err := r.FormFile(formFieldAvatar)
	if err != nil {
		return nil, errors.New("avatar file is required")
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !contains(avatarExtensions, ext) {
		return nil, errors.New("please upload an image")
	}

	data, err := readFileLimited(file, maxAvatarBytes)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}
