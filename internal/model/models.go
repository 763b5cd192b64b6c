package model

import (
	"time"
)

// Task 表示账户拥有的一条待办任务。
//
// 每条任务在创建时绑定到当前登录的账户（OwnerID），之后所有者不可变更；
// 任务只能被其所有者读取、修改、删除，或随账户注销被级联删除。
type Task struct {
	ID        uint      `gorm:"primaryKey"` // 任务唯一标识
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	OwnerID     uint    `gorm:"index;not null"`     // 所属账户 ID
	Owner       Account `gorm:"foreignKey:OwnerID"` // 所属账户
	Title       string  `gorm:"not null"`           // 任务标题
	Description string  `gorm:"type:varchar(1024)"` // 任务描述
	Completed   bool    `gorm:"default:false"`      // 是否已完成
}
