package model

import "time"

// ClientCredential 上游 client_id 的持久化健康状态
type ClientCredential struct {
	ID         string    `gorm:"primaryKey;size:128" json:"id"`
	Healthy    bool      `gorm:"not null;default:true" json:"healthy"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (ClientCredential) TableName() string {
	return "client_credentials"
}
