package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/EslamTharwaat/remove-image-background/config"
	"github.com/EslamTharwaat/remove-image-background/pkg/logger"
)

// StaticTokenClient is the client id recorded for requests that use the
// shared API token instead of a JWT.
const StaticTokenClient = "api-token"

// Claims represents the JWT claims
type Claims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// GenerateToken issues a JWT for an API client
func GenerateToken(clientID string, cfg *config.AuthConfig) (string, time.Time, error) {
	if cfg.JWTSecret == "" {
		return "", time.Time{}, errors.New("jwt secret is not configured")
	}
	now := time.Now()
	expiresAt := now.Add(time.Duration(cfg.TokenExpireHours) * time.Hour)

	claims := Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// ParseToken validates an HS256 token signed with secret.
func ParseToken(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// APIAuth accepts either the static API token or a JWT as a bearer token.
// With require_auth off every request passes through.
func APIAuth(cfg *config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.RequireAuth {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "Authorization header required")
			return
		}

		scheme, tokenString, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
			unauthorized(c, "Invalid authorization header format")
			return
		}

		clientID := ""
		switch {
		case cfg.APIToken != "" && subtle.ConstantTimeCompare([]byte(tokenString), []byte(cfg.APIToken)) == 1:
			clientID = StaticTokenClient
		case cfg.JWTSecret != "":
			claims, err := ParseToken(tokenString, cfg.JWTSecret)
			if err != nil {
				unauthorized(c, "Invalid or expired token")
				return
			}
			clientID = claims.ClientID
		default:
			unauthorized(c, "Invalid API token")
			return
		}

		c.Set("client_id", clientID)
		ctx := context.WithValue(c.Request.Context(), logger.ClientKey, clientID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   msg,
	})
}

// GetClientID returns the authenticated client, or "" when auth is off.
func GetClientID(c *gin.Context) string {
	return c.GetString("client_id")
}
