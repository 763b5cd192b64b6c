package model

import "time"

// Account 表示系统账户。
//
// Username 和 Email 在存活账户中全局唯一；PasswordHash 是自描述的
// bcrypt 哈希（算法、cost、盐均嵌入其中），除此之外不保存任何明文凭据。
type Account struct {
	ID           uint      `gorm:"primaryKey"`                             // 账户 ID
	Username     string    `gorm:"type:varchar(64);uniqueIndex;not null"`  // 用户名（唯一）
	Email        string    `gorm:"type:varchar(191);uniqueIndex;not null"` // 邮箱（唯一）
	PasswordHash string    `gorm:"not null"`                               // bcrypt 哈希
	CreatedAt    time.Time // 创建时间

	Tasks []Task `gorm:"foreignKey:OwnerID"`
}
