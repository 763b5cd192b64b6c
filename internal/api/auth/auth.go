package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"taskhub/internal/model"
	"taskhub/internal/pkg/metrics"
	"taskhub/internal/pkg/notify"
	"taskhub/internal/store"

	"github.com/gin-gonic/gin"
)

// AccountRegistry 提供注册所需的账户写入。
type AccountRegistry interface {
	CreateAccount(ctx context.Context, account *model.Account) error
}

// Handler 提供注册与登录接口。
type Handler struct {
	accounts AccountRegistry
	authn    *Authenticator
	mailer   notify.Notifier
	logger   *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(accounts AccountRegistry, authn *Authenticator, mailer notify.Notifier, logger *slog.Logger) *Handler {
	return &Handler{
		accounts: accounts,
		authn:    authn,
		mailer:   mailer,
		logger:   logger,
	}
}

type registerRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// loginRequest 同时支持表单与 JSON 提交。
type loginRequest struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// accountResponse 是账户的对外视图，永远不包含密码哈希。
type accountResponse struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Register 创建新账户。
//
// POST /accounts
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(strings.ToLower(req.Email))

	hash, err := HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	account := model.Account{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	}
	if err := h.accounts.CreateAccount(c.Request.Context(), &account); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "username or email already exists"})
			return
		}
		if h.logger != nil {
			h.logger.Error("create account failed", slog.String("username", username), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create account failed"})
		return
	}

	// 欢迎邮件尽力而为，失败不影响注册结果
	if h.mailer != nil {
		if err := h.mailer.SendWelcome(c.Request.Context(), email, username); err != nil && h.logger != nil {
			h.logger.Warn("send welcome email failed", slog.String("email", email), slog.String("error", err.Error()))
		}
	}

	if h.logger != nil {
		h.logger.Info("account registered", slog.String("username", username))
	}
	c.JSON(http.StatusCreated, accountResponse{
		ID:        account.ID,
		Username:  account.Username,
		Email:     account.Email,
		CreatedAt: account.CreatedAt,
	})
}

// Login 校验凭据并返回访问令牌。
//
// POST /login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	username := strings.TrimSpace(req.Username)

	token, err := h.authn.Login(c.Request.Context(), username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			metrics.LoginFailureTotal.Inc()
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if h.logger != nil {
			h.logger.Error("sign token failed", slog.String("username", username), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	metrics.LoginSuccessTotal.Inc()
	if h.logger != nil {
		h.logger.Info("account logged in", slog.String("username", username))
	}
	c.JSON(http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}
