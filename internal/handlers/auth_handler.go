package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pos-sync-service/internal/services"
)

// AuthHandler handles phone verification code endpoints
type AuthHandler struct {
	verification *services.VerificationService
	exposeCodes  bool
}

// NewAuthHandler creates a new auth handler. When exposeCodes is set the
// issued code is returned in the response, for environments without SMS.
func NewAuthHandler(verification *services.VerificationService, exposeCodes bool) *AuthHandler {
	return &AuthHandler{verification: verification, exposeCodes: exposeCodes}
}

// IssueCodeRequest is the body of a code request
type IssueCodeRequest struct {
	Phone string `json:"phone" binding:"required"`
}

// VerifyCodeRequest is the body of a code check
type VerifyCodeRequest struct {
	Phone string `json:"phone" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// IssueCode generates a verification code for a phone number
func (h *AuthHandler) IssueCode(c *gin.Context) {
	var req IssueCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	code, err := h.verification.Issue(c.Request.Context(), req.Phone)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"message": "verification code issued"}
	if h.exposeCodes {
		resp["code"] = code
	}
	c.JSON(http.StatusAccepted, resp)
}

// VerifyCode checks a verification code
func (h *AuthHandler) VerifyCode(c *gin.Context) {
	var req VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.verification.Verify(c.Request.Context(), req.Phone, req.Code)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"verified": true})
	case errors.Is(err, services.ErrInvalidCode):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrTooManyAttempts):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
