package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"taskhub/internal/api/auth"
	"taskhub/internal/api/middleware"
	"taskhub/internal/config"
	"taskhub/internal/model"
	"taskhub/internal/pkg/dedup"
	"taskhub/internal/pkg/mailqueue"
	"taskhub/internal/pkg/metrics"
	"taskhub/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、认证组件以及 Gin 路由引擎。
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	rdb       *redis.Client
	router    *gin.Engine
	auth      *auth.Handler
	authn     *auth.Authenticator
	accounts  AccountStore
	tasks     TaskStore
	lifecycle LifecycleCoordinator
	deduper   Deduper
}

// AccountStore 是账户读写的持久化抽象。
type AccountStore interface {
	AccountByID(ctx context.Context, id uint) (*model.Account, error)
	ListAccounts(ctx context.Context, offset, limit int) ([]model.Account, error)
	UpdateAccount(ctx context.Context, id uint, updates map[string]interface{}) error
}

// TaskStore 是任务读写的持久化抽象。
type TaskStore interface {
	CreateTask(ctx context.Context, task *model.Task) error
	TaskByID(ctx context.Context, id uint) (*model.Task, error)
	ListTasksByOwner(ctx context.Context, ownerID uint, offset, limit int) ([]model.Task, error)
	UpdateTask(ctx context.Context, id uint, updates map[string]interface{}) error
	DeleteTask(ctx context.Context, id uint) error
}

// LifecycleCoordinator 负责账户及其任务的原子级联删除。
type LifecycleCoordinator interface {
	DeleteAccount(ctx context.Context, id uint) error
}

// Deduper 抑制短时间窗口内完全相同的任务提交。
type Deduper interface {
	IsDuplicate(ctx context.Context, fingerprint string) (bool, error)
	Delete(ctx context.Context, fingerprint string) error
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis
// 3. 组装认证、存储、级联删除组件
// 4. 初始化 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.Account{}, &model.Task{}); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	accounts := store.NewAccounts(db)
	tasks := store.NewTasks(db)
	lifecycle := store.NewLifecycle(db, logger)
	deduper := dedup.NewDeduplicator(rdb, time.Duration(cfg.App.DedupWindow)*time.Second)
	// 欢迎邮件只入队，由 mailer 进程异步投递
	mailer := mailqueue.NewProducer(rdb, logger)

	tokens := auth.NewTokenIssuer(cfg.Security.JWTSecret, cfg.Security.TokenTTL)
	authn := auth.NewAuthenticator(accounts, tokens, logger)

	// 初始化 Prometheus 指标
	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		rdb:       rdb,
		router:    r,
		auth:      auth.NewHandler(accounts, authn, mailer, logger),
		authn:     authn,
		accounts:  accounts,
		tasks:     tasks,
		lifecycle: lifecycle,
		deduper:   deduper,
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)

	s.router.POST("/accounts", s.auth.Register)
	s.router.POST("/login", s.auth.Login)

	authed := s.router.Group("/")
	authed.Use(middleware.AuthMiddleware(s.authn))
	authed.GET("/accounts", s.handleListAccounts)
	authed.GET("/accounts/:id", s.handleGetAccount)
	authed.PUT("/accounts/:id", s.handleUpdateAccount)
	authed.DELETE("/accounts/:id", s.handleDeleteAccount)
	authed.POST("/tasks", s.handleCreateTask)
	authed.GET("/tasks", s.handleListTasks)
	authed.GET("/tasks/:id", s.handleGetTask)
	authed.PUT("/tasks/:id", s.handleUpdateTask)
	authed.DELETE("/tasks/:id", s.handleDeleteTask)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// parsePagination 解析 skip/limit 查询参数并做范围钳制。
func parsePagination(c *gin.Context) (skip, limit int) {
	skip = parseQueryInt(c, "skip", 0)
	if skip < 0 {
		skip = 0
	}
	limit = parseQueryInt(c, "limit", 20)
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return skip, limit
}

// parseQueryInt 解析查询参数中的整数值。
//
// 参数:
//
//	c: Gin 上下文
//	key: 参数名
//	def: 默认值
//
// 返回值:
//
//	int: 解析后的整数或默认值
func parseQueryInt(c *gin.Context, key string, def int) int {
	val := c.Query(key)
	if val == "" {
		return def
	}
	iv, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return iv
}

// parseIDParam 解析路径参数中的资源 ID。
func parseIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
