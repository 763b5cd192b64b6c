package store

import (
	"context"
	"errors"
	"strings"

	"taskhub/internal/model"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// 持久层边界统一翻译出的哨兵错误；上层只依赖这两个值做状态码映射。
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Accounts 提供账户的持久化操作。
type Accounts struct {
	db *gorm.DB
}

// NewAccounts 创建账户存储。
func NewAccounts(db *gorm.DB) *Accounts {
	return &Accounts{db: db}
}

// CreateAccount 写入新账户，唯一约束冲突翻译为 ErrDuplicate。
func (s *Accounts) CreateAccount(ctx context.Context, account *model.Account) error {
	return translate(s.db.WithContext(ctx).Create(account).Error)
}

// AccountByID 按 ID 查询账户。
func (s *Accounts) AccountByID(ctx context.Context, id uint) (*model.Account, error) {
	var account model.Account
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

// AccountByUsername 按用户名查询账户。
func (s *Accounts) AccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	var account model.Account
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&account).Error; err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

// ListAccounts 按 ID 升序返回一页账户。
func (s *Accounts) ListAccounts(ctx context.Context, offset, limit int) ([]model.Account, error) {
	accounts := []model.Account{}
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&accounts).Error; err != nil {
		return nil, translate(err)
	}
	return accounts, nil
}

// UpdateAccount 更新账户的指定字段。
func (s *Accounts) UpdateAccount(ctx context.Context, id uint, updates map[string]interface{}) error {
	return translate(s.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Updates(updates).Error)
}

// Tasks 提供任务的持久化操作。
type Tasks struct {
	db *gorm.DB
}

// NewTasks 创建任务存储。
func NewTasks(db *gorm.DB) *Tasks {
	return &Tasks{db: db}
}

// CreateTask 写入新任务。
func (s *Tasks) CreateTask(ctx context.Context, task *model.Task) error {
	return translate(s.db.WithContext(ctx).Create(task).Error)
}

// TaskByID 按 ID 查询任务。
func (s *Tasks) TaskByID(ctx context.Context, id uint) (*model.Task, error) {
	var task model.Task
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, translate(err)
	}
	return &task, nil
}

// ListTasksByOwner 按创建顺序返回某账户的一页任务。
func (s *Tasks) ListTasksByOwner(ctx context.Context, ownerID uint, offset, limit int) ([]model.Task, error) {
	tasks := []model.Task{}
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&tasks).Error; err != nil {
		return nil, translate(err)
	}
	return tasks, nil
}

// UpdateTask 更新任务的指定字段。
func (s *Tasks) UpdateTask(ctx context.Context, id uint, updates map[string]interface{}) error {
	return translate(s.db.WithContext(ctx).
		Model(&model.Task{}).
		Where("id = ?", id).
		Updates(updates).Error)
}

// DeleteTask 删除单条任务，不存在时返回 ErrNotFound。
func (s *Tasks) DeleteTask(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Task{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// translate 将底层驱动错误翻译为存储层哨兵错误。
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || isDuplicateErr(err) {
		return ErrDuplicate
	}
	return err
}

// isDuplicateErr 识别 MySQL 与 SQLite（测试环境）的唯一约束冲突。
func isDuplicateErr(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry")
}
