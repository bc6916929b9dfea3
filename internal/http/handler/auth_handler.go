package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/config"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/domain"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/http/middleware"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/service"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/token"
)

// Session cookies. HttpOnly always; Secure follows config and must be on in
// production.
const (
	AccessCookie  = "es_access_token"
	RefreshCookie = "es_refresh_token"
)

// AuthHandler serves the authentication and profile endpoints.
type AuthHandler struct {
	Sessions *service.SessionService
	Cfg      config.Config
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(sessions *service.SessionService, cfg config.Config) *AuthHandler {
	return &AuthHandler{Sessions: sessions, Cfg: cfg}
}

func (h *AuthHandler) Signup(c *gin.Context) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}

	user, pair, err := h.Sessions.Signup(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	h.setSessionCookies(c, pair)
	c.JSON(http.StatusCreated, gin.H{
		"user":         userResponse(user),
		"token_type":   "Bearer",
		"expires_in":   pair.ExpiresIn,
		"access_token": pair.AccessToken,
	})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Password) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Email and password are required."})
		return
	}

	user, pair, err := h.Sessions.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	h.setSessionCookies(c, pair)
	c.JSON(http.StatusOK, gin.H{
		"user":         userResponse(user),
		"token_type":   "Bearer",
		"expires_in":   pair.ExpiresIn,
		"access_token": pair.AccessToken,
	})
}

// Logout clears both session cookies. The revoke is best effort: an expired
// or missing access token still clears the cookies so the client lands in a
// clean anonymous state.
func (h *AuthHandler) Logout(c *gin.Context) {
	if raw, err := c.Cookie(AccessCookie); err == nil && raw != "" {
		if userID, err := h.Sessions.Authenticate(c.Request.Context(), raw); err == nil {
			h.Sessions.Revoke(c.Request.Context(), userID)
		}
	}
	h.clearSessionCookies(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out."})
}

// Refresh exchanges the refresh cookie for a fresh token pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	raw, err := c.Cookie(RefreshCookie)
	if err != nil || raw == "" {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if bindErr := c.ShouldBindJSON(&req); bindErr != nil || strings.TrimSpace(req.RefreshToken) == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token_invalid", "error_description": "Refresh token missing."})
			return
		}
		raw = req.RefreshToken
	}

	user, pair, err := h.Sessions.RefreshSession(c.Request.Context(), raw)
	if err != nil {
		h.clearSessionCookies(c)
		respondError(c, err)
		return
	}

	h.setSessionCookies(c, pair)
	c.JSON(http.StatusOK, gin.H{
		"user":         userResponse(user),
		"token_type":   "Bearer",
		"expires_in":   pair.ExpiresIn,
		"access_token": pair.AccessToken,
	})
}

func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "error_description": "Session required."})
		return
	}

	user, err := h.Sessions.Profile(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userResponse(user)})
}

func (h *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Email is required."})
		return
	}

	if err := h.Sessions.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		var svcErr *service.Error
		if errors.As(err, &svcErr) && svcErr.Code == service.CodeInvalidRequest {
			respondError(c, err)
			return
		}
		// Internal failures degrade to the uniform response; details go to
		// the request log only.
		_ = c.Error(err)
	}

	c.JSON(http.StatusOK, gin.H{"message": "If the account exists, password reset instructions have been sent."})
}

func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Token and password are required."})
		return
	}

	if err := h.Sessions.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		respondError(c, err)
		return
	}

	// Every session issued before the reset is now invalid; drop this
	// client's cookies too.
	h.clearSessionCookies(c)
	c.JSON(http.StatusOK, gin.H{"message": "Password updated. Please log in again."})
}

func (h *AuthHandler) RequestVerifyEmail(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "error_description": "Session required."})
		return
	}

	if err := h.Sessions.RequestEmailVerification(c.Request.Context(), userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Verification email sent."})
}

func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "error_description": "Session required."})
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}

	if err := h.Sessions.VerifyEmail(c.Request.Context(), userID, req.Token); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Email verified."})
}

func (h *AuthHandler) setSessionCookies(c *gin.Context, pair token.Pair) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessCookie, pair.AccessToken, pair.ExpiresIn, "/", h.Cfg.CookieDomain, h.Cfg.CookieSecure, true)
	c.SetCookie(RefreshCookie, pair.RefreshToken, int(h.Cfg.RefreshTokenTTL.Seconds()), "/", h.Cfg.CookieDomain, h.Cfg.CookieSecure, true)
}

func (h *AuthHandler) clearSessionCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessCookie, "", -1, "/", h.Cfg.CookieDomain, h.Cfg.CookieSecure, true)
	c.SetCookie(RefreshCookie, "", -1, "/", h.Cfg.CookieDomain, h.Cfg.CookieSecure, true)
}

func respondError(c *gin.Context, err error) {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		c.JSON(svcErr.Status, gin.H{"error": svcErr.Code, "error_description": svcErr.Description})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Something went wrong."})
}

func userResponse(user domain.User) gin.H {
	return gin.H{
		"id":             strconv.FormatInt(user.ID, 10),
		"email":          user.Email,
		"email_verified": user.EmailVerified,
		"name":           user.Name,
		"about_me":       user.AboutMe,
		"phone":          user.Phone,
		"avatar_url":     user.AvatarURL,
		"online":         user.Online,
	}
}
