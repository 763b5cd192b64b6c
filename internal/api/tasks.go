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
	"taskhub/internal/pkg/dedup"
	"taskhub/internal/pkg/metrics"
	"taskhub/internal/store"

	"github.com/gin-gonic/gin"
)

// createTaskRequest 创建任务的请求参数。
type createTaskRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

type updateTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

type taskResponse struct {
	ID          uint      `json:"id"`
	OwnerID     uint      `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toTaskResponse(t *model.Task) taskResponse {
	return taskResponse{
		ID:          t.ID,
		OwnerID:     t.OwnerID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// handleCreateTask 处理创建任务的请求，调用者成为任务所有者。
//
// POST /tasks
func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caller := middleware.CurrentAccount(c)

	title := strings.TrimSpace(req.Title)
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid title"})
		return
	}

	fingerprint := dedup.Fingerprint(caller.ID, title, req.Description)
	dup, err := s.deduper.IsDuplicate(c.Request.Context(), fingerprint)
	if err != nil {
		s.logger.Error("dedup check failed", slog.String("error", err.Error()))
	} else if dup {
		s.logger.Info("task deduplicated", slog.Uint64("owner_id", uint64(caller.ID)))
		metrics.TaskDuplicatePreventedTotal.Inc()
		c.JSON(http.StatusOK, gin.H{"status": "skipped_duplicate"})
		return
	}

	task := model.Task{
		OwnerID:     caller.ID,
		Title:       title,
		Description: req.Description,
	}
	if err := s.tasks.CreateTask(c.Request.Context(), &task); err != nil {
		s.logger.Error("create task failed", slog.String("error", err.Error()))
		// 写入失败时清除指纹，否则窗口内的重试会被当作重复提交吞掉
		if delErr := s.deduper.Delete(c.Request.Context(), fingerprint); delErr != nil {
			s.logger.Warn("dedup delete failed", slog.String("error", delErr.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create task failed"})
		return
	}

	metrics.TaskCreatedTotal.Inc()
	c.JSON(http.StatusCreated, toTaskResponse(&task))
}

// handleListTasks 返回调用者拥有的任务列表。
//
// GET /tasks?skip&limit
func (s *Server) handleListTasks(c *gin.Context) {
	caller := middleware.CurrentAccount(c)
	skip, limit := parsePagination(c)

	tasks, err := s.tasks.ListTasksByOwner(c.Request.Context(), caller.ID, skip, limit)
	if err != nil {
		s.logger.Error("list tasks failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list tasks failed"})
		return
	}

	resp := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		resp = append(resp, toTaskResponse(&tasks[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// loadOwnedTask 加载任务并执行所有权检查，失败时写好响应并返回 nil。
func (s *Server) loadOwnedTask(c *gin.Context) *model.Task {
	id, ok := parseIDParam(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return nil
	}

	task, err := s.tasks.TaskByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return nil
		}
		s.logger.Error("load task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load task failed"})
		return nil
	}

	caller := middleware.CurrentAccount(c)
	if err := auth.RequireOwner(task.OwnerID, caller.ID); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
		return nil
	}
	return task
}

// handleGetTask 返回单条任务（仅限所有者）。
//
// GET /tasks/:id
func (s *Server) handleGetTask(c *gin.Context) {
	task := s.loadOwnedTask(c)
	if task == nil {
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(task))
}

// handleUpdateTask 修改任务（仅限所有者）。
//
// PUT /tasks/:id
func (s *Server) handleUpdateTask(c *gin.Context) {
	task := s.loadOwnedTask(c)
	if task == nil {
		return
	}

	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid title"})
			return
		}
		updates["title"] = title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Completed != nil {
		updates["completed"] = *req.Completed
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no updates"})
		return
	}

	if err := s.tasks.UpdateTask(c.Request.Context(), task.ID, updates); err != nil {
		s.logger.Error("update task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update task failed"})
		return
	}

	updated, err := s.tasks.TaskByID(c.Request.Context(), task.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		s.logger.Error("load task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load task failed"})
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(updated))
}

// handleDeleteTask 删除任务并清理去重窗口（仅限所有者）。
//
// DELETE /tasks/:id
func (s *Server) handleDeleteTask(c *gin.Context) {
	task := s.loadOwnedTask(c)
	if task == nil {
		return
	}

	if err := s.tasks.DeleteTask(c.Request.Context(), task.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		s.logger.Error("delete task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete task failed"})
		return
	}

	// 清除指纹，使相同内容可以立即重新创建
	fingerprint := dedup.Fingerprint(task.OwnerID, task.Title, task.Description)
	if err := s.deduper.Delete(c.Request.Context(), fingerprint); err != nil {
		s.logger.Warn("dedup delete failed", slog.String("error", err.Error()))
	}

	c.JSON(http.StatusOK, gin.H{"deleted": task.ID})
}
