package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

type contextKey string

const bidderIDKey contextKey = "bidderID"

// BidderIDFromContext returns the authenticated bidder id, if any.
func BidderIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(bidderIDKey).(string)
	return id, ok && id != ""
}

// AuthMiddleware requires a valid bearer token and stores the verified
// bidder id in the request context.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		bidderID, err := ValidateToken(parts[1])
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), bidderIDKey, bidderID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ValidateToken verifies a JWT and extracts the bidder identity claim.
// The realtime layer uses it for socket authentication as well.
func ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}

	bidderID, _ := claims["bidder_id"].(string)
	if bidderID == "" {
		// Older tokens carry user_id.
		bidderID = fmt.Sprintf("%v", claims["user_id"])
	}
	if bidderID == "" || bidderID == "<nil>" {
		return "", fmt.Errorf("token carries no identity claim")
	}
	return bidderID, nil
}

// SecurityHeaders sets the standard hardening headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
