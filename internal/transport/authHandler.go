package transport

import (
	"errors"
	"net/http"

	"github.com/ds124wfegd/appointly/internal/entity"
	"github.com/ds124wfegd/appointly/internal/service"
	"github.com/ds124wfegd/appointly/internal/transport/middleware"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	auth    service.AuthService
	limiter service.RateLimiter
}

func NewAuthHandler(auth service.AuthService, limiter service.RateLimiter) *AuthHandler {
	return &AuthHandler{auth: auth, limiter: limiter}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	identity := c.ClientIP()
	res, err := h.auth.Login(c.Request.Context(), req.Username, req.Password, identity)
	if err != nil {
		if errors.Is(err, entity.ErrAuthBlocked) {
			_, left := h.limiter.IsBlocked(c.Request.Context(), identity)
			middleware.TooManyRequests(c, entity.RateDecision{RetryAfter: left})
			return
		}
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "logged in", res)
}
