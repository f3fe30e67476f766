package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EslamTharwaat/remove-image-background/config"
	"github.com/EslamTharwaat/remove-image-background/middleware"
	"github.com/EslamTharwaat/remove-image-background/pkg/logger"
)

type AuthHandler struct {
	config *config.Config
}

func NewAuthHandler(cfg *config.Config) *AuthHandler {
	return &AuthHandler{config: cfg}
}

type TokenRequest struct {
	ClientID     string `json:"client_id" binding:"required"`
	ClientSecret string `json:"client_secret" binding:"required"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt string `json:"expires_at"`
	ClientID  string `json:"client_id"`
}

// Token exchanges API client credentials for a JWT
func (h *AuthHandler) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request"})
		return
	}

	client := h.config.FindClient(req.ClientID)
	if client == nil || subtle.ConstantTimeCompare([]byte(client.Secret), []byte(req.ClientSecret)) != 1 {
		logger.Warn(c.Request.Context(), "rejected token request", "client_id", req.ClientID)
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid client credentials"})
		return
	}

	token, expiresAt, err := middleware.GenerateToken(client.ID, &h.config.Auth)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to generate token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt.Format("2006-01-02T15:04:05Z07:00"),
		ClientID:  client.ID,
	})
}

// Me returns the client the request authenticated as
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"client_id":     middleware.GetClientID(c),
		"auth_required": h.config.Auth.RequireAuth,
	})
}
