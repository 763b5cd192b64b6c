package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"taskhub/internal/api/auth"
	"taskhub/internal/api/middleware"
	"taskhub/internal/model"
	"taskhub/internal/pkg/metrics"
	"taskhub/internal/store"

	"github.com/gin-gonic/gin"
)

// accountResponse 是账户的对外视图，永远不包含密码哈希。
type accountResponse struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type updateAccountRequest struct {
	Email    *string `json:"email" binding:"omitempty,email"`
	Password *string `json:"password" binding:"omitempty,min=6"`
}

func toAccountResponse(a *model.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Username:  a.Username,
		Email:     a.Email,
		CreatedAt: a.CreatedAt,
	}
}

// handleListAccounts 返回账户列表。
//
// GET /accounts?skip&limit
func (s *Server) handleListAccounts(c *gin.Context) {
	skip, limit := parsePagination(c)

	accounts, err := s.accounts.ListAccounts(c.Request.Context(), skip, limit)
	if err != nil {
		s.logger.Error("list accounts failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list accounts failed"})
		return
	}

	resp := make([]accountResponse, 0, len(accounts))
	for i := range accounts {
		resp = append(resp, toAccountResponse(&accounts[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// handleGetAccount 返回单个账户的公开视图。
//
// GET /accounts/:id
func (s *Server) handleGetAccount(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	account, err := s.accounts.AccountByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		s.logger.Error("get account failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get account failed"})
		return
	}

	c.JSON(http.StatusOK, toAccountResponse(account))
}

// handleUpdateAccount 修改账户资料（仅限本人）。
//
// PUT /accounts/:id
func (s *Server) handleUpdateAccount(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}
	caller := middleware.CurrentAccount(c)
	if err := auth.RequireOwner(id, caller.ID); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
		return
	}

	var req updateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*req.Email))
		if email == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
			return
		}
		updates["email"] = email
	}
	if req.Password != nil {
		// 密码只有在变更时才重新哈希
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
			return
		}
		updates["password_hash"] = hash
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no updates"})
		return
	}

	if err := s.accounts.UpdateAccount(c.Request.Context(), id, updates); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already exists"})
			return
		}
		s.logger.Error("update account failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update account failed"})
		return
	}

	account, err := s.accounts.AccountByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		s.logger.Error("load account failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load account failed"})
		return
	}
	c.JSON(http.StatusOK, toAccountResponse(account))
}

// handleDeleteAccount 注销账户并级联删除其全部任务（仅限本人）。
//
// DELETE /accounts/:id
func (s *Server) handleDeleteAccount(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}
	caller := middleware.CurrentAccount(c)
	if err := auth.RequireOwner(id, caller.ID); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
		return
	}

	if err := s.lifecycle.DeleteAccount(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		s.logger.Error("delete account failed",
			slog.Uint64("account_id", uint64(id)),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete account failed"})
		return
	}

	metrics.AccountDeletedTotal.Inc()
	if s.logger != nil {
		s.logger.Info("account deleted", slog.Uint64("account_id", uint64(id)))
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
