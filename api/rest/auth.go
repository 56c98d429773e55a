package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/thc1967/codex-quest-manager-sub000/cache"
	"github.com/thc1967/codex-quest-manager-sub000/config"
	mw "github.com/thc1967/codex-quest-manager-sub000/middleware"
	"github.com/thc1967/codex-quest-manager-sub000/model"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AuthHandler handles authentication REST endpoints.
type AuthHandler struct {
	db        *gorm.DB
	cache     cache.Cache
	sec       config.SecurityConfig
	directors map[string]bool
	logger    *zap.Logger
}

// NewAuthHandler creates a new AuthHandler. Accounts whose username is in
// directors are promoted to the director role when they sign in.
func NewAuthHandler(db *gorm.DB, c cache.Cache, sec config.SecurityConfig, directors []string, logger *zap.Logger) *AuthHandler {
	set := make(map[string]bool, len(directors))
	for _, name := range directors {
		set[name] = true
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{db: db, cache: c, sec: sec, directors: set, logger: logger}
}

type loginRequest struct {
	Username string `json:"username" binding:"required,min=2,max=32"`
	Password string `json:"password" binding:"required,min=4,max=64"`
}

// Login handles POST /api/auth/login.
// Auto-registers on first login if the username does not exist.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var acc model.Account
	err := h.db.Where("username = ?", req.Username).First(&acc).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), 12)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		acc = model.Account{
			Username:     req.Username,
			PasswordHash: string(hash),
			DisplayName:  req.Username,
			Role:         model.RolePlayer,
			Status:       1,
		}
		if createErr := h.db.Create(&acc).Error; createErr != nil {
			// Another request registered the same name first.
			if isUniqueViolation(createErr) {
				c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
			}
			return
		}
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	} else {
		if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if acc.Status == 0 {
			c.JSON(http.StatusForbidden, gin.H{"error": "account banned"})
			return
		}
	}

	updates := map[string]interface{}{
		"last_login_at": time.Now(),
		"last_login_ip": c.ClientIP(),
	}
	role := acc.Role
	promote := h.directors[acc.Username] && !acc.IsDirector()
	if promote {
		updates["role"] = model.RoleDirector
	}
	// The token carries only a role that was persisted.
	if err := h.db.Model(&acc).Updates(updates).Error; err != nil {
		acc.Role = role
		h.logger.Warn("login bookkeeping failed",
			zap.Int64("account_id", acc.ID),
			zap.Bool("promote", promote),
			zap.Error(err))
	} else if promote {
		acc.Role = model.RoleDirector
	}

	token, err := h.issue(c.Request.Context(), &acc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"account_id": acc.ID,
		"director":   acc.IsDirector(),
	})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	token := mw.GetToken(c)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(token))
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh. The role is re-read so a
// promotion or demotion takes effect with the new token.
func (h *AuthHandler) Refresh(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var acc model.Account
	if err := h.db.First(&acc, accountID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown account"})
		return
	}
	if acc.Status == 0 {
		c.JSON(http.StatusForbidden, gin.H{"error": "account banned"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(mw.GetToken(c)))

	token, err := h.issue(c.Request.Context(), &acc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "director": acc.IsDirector()})
}

// issue signs a token for acc and records its session in the cache.
func (h *AuthHandler) issue(ctx context.Context, acc *model.Account) (string, error) {
	token, err := mw.GenerateToken(acc.ID, acc.IsDirector(), h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.cache.Set(ctx, mw.SessionKey(token), strconv.FormatInt(acc.ID, 10), h.sec.JWTTTLH); err != nil {
		return "", err
	}
	return token, nil
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
