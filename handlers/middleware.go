package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keypointlab/infantposebackend/models"
	"github.com/keypointlab/infantposebackend/permissions"
	"github.com/keypointlab/infantposebackend/repository"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	// UserContextKey is the key used to store the user object in the request context.
	UserContextKey ContextKey = "user"
)

// UserFromContext extracts the authenticated user placed by AuthMiddleware.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	return user, ok && user != nil
}

// AuthMiddleware creates a middleware handler for JWT authentication.
// It verifies the token and, if valid, fetches the user and adds them to the request context.
func AuthMiddleware(userRepo repository.UserRepository, jwtSecret []byte, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			WriteAPIError(w, http.StatusUnauthorized, "unauthenticated", "authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			WriteAPIError(w, http.StatusUnauthorized, "unauthenticated", "authorization header format must be Bearer {token}")
			return
		}
		tokenString := parts[1]

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			WriteAPIError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
			return
		}

		var userID uint
		if _, err := fmt.Sscan(claims.Subject, &userID); err != nil {
			log.Printf("auth: malformed token subject '%s': %v", claims.Subject, err)
			WriteAPIError(w, http.StatusUnauthorized, "invalid_token", "invalid user ID in token")
			return
		}

		user, err := userRepo.GetByID(userID)
		if err != nil {
			// the user may have been deleted after the token was issued
			WriteAPIError(w, http.StatusUnauthorized, "invalid_token", "user not found")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAction checks that the authenticated user's role allows the given
// action and that the account is approved. It must run after AuthMiddleware.
func RequireAction(action permissions.Action, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			WriteAPIError(w, http.StatusInternalServerError, "internal_error", "user not found in context")
			return
		}

		if !user.IsApproved {
			WriteAPIError(w, http.StatusForbidden, "not_approved", "account is awaiting admin approval")
			return
		}

		if !permissions.Allowed(user.Role, action) {
			WriteAPIError(w, http.StatusForbidden, "forbidden",
				fmt.Sprintf("role %s may not perform %s", user.Role, action))
			return
		}

		next.ServeHTTP(w, r)
	})
}
