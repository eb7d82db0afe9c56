package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keypointlab/infantposebackend/models"
	"github.com/keypointlab/infantposebackend/repository"
)

type AuthHandler struct {
	UserRepo       repository.UserRepository
	JWTSecret      []byte
	JWTExpiryHours int
}

func NewAuthHandler(userRepo repository.UserRepository, jwtSecret string, jwtExpiryHours int) *AuthHandler {
	return &AuthHandler{UserRepo: userRepo, JWTSecret: []byte(jwtSecret), JWTExpiryHours: jwtExpiryHours}
}

type LoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string      `json:"token"`
	User      models.User `json:"user"`
	ExpiresAt time.Time   `json:"expires_at"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload LoginPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", "invalid request payload")
		return
	}

	user, err := h.UserRepo.GetByUsername(payload.Username)
	if err != nil {
		WriteAPIError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		return
	}

	if !user.CheckPassword(payload.Password) {
		WriteAPIError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		return
	}

	expirationTime := time.Now().Add(time.Duration(h.JWTExpiryHours) * time.Hour)
	claims := &jwt.RegisteredClaims{
		Subject:   fmt.Sprint(user.ID),
		ExpiresAt: jwt.NewNumericDate(expirationTime),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		Issuer:    "infantposebackend",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(h.JWTSecret)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, "token_error", "failed to generate token")
		return
	}

	userForResponse := *user
	userForResponse.PasswordHash = ""

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     tokenString,
		User:      userForResponse,
		ExpiresAt: expirationTime,
	})
}

type RegisterPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// Register creates a new account. Accounts start unapproved; an admin must
// approve them before any workflow action succeeds.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload RegisterPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", "invalid request payload: "+err.Error())
		return
	}

	if payload.Username == "" || payload.Password == "" {
		WriteAPIError(w, http.StatusBadRequest, "missing_fields", "username and password are required")
		return
	}

	role := models.Role(payload.Role)
	switch role {
	case "":
		role = models.RoleAnnotator
	case models.RoleAnnotator, models.RoleVerifier:
		// self-registerable roles
	default:
		WriteAPIError(w, http.StatusBadRequest, "invalid_role", "role must be ANNOTATOR or VERIFIER")
		return
	}

	if _, err := h.UserRepo.GetByUsername(payload.Username); err == nil {
		WriteAPIError(w, http.StatusConflict, "username_taken", "username is already in use")
		return
	}

	newUser := &models.User{
		Username:             payload.Username,
		Email:                payload.Email,
		Role:                 role,
		IsApproved:           false,
		MaxConcurrentBatches: models.DefaultMaxConcurrentBatches,
	}
	if err := newUser.SetPassword(payload.Password); err != nil {
		WriteAPIError(w, http.StatusInternalServerError, "password_error", "failed to hash password")
		return
	}

	if err := h.UserRepo.Create(newUser); err != nil {
		WriteAPIError(w, http.StatusInternalServerError, "create_failed", "failed to create user")
		return
	}

	created := *newUser
	created.PasswordHash = ""
	writeJSON(w, http.StatusCreated, created)
}

// Me returns the authenticated user from the request context.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		WriteAPIError(w, http.StatusUnauthorized, "unauthenticated", "no authenticated user")
		return
	}
	userForResponse := *user
	userForResponse.PasswordHash = ""
	writeJSON(w, http.StatusOK, userForResponse)
}
