package repository

import (
	"context"

	"hlsrelay/core/credential"
	"hlsrelay/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CredentialRepository 凭证状态数据访问接口，同时满足 credential.Store
type CredentialRepository interface {
	LoadAll(ctx context.Context) ([]credential.State, error)
	Save(ctx context.Context, state credential.State) error
}

// gormCredentialRepository GORM 实现
type gormCredentialRepository struct {
	db *gorm.DB
}

// NewGormCredentialRepository 创建 GORM 凭证仓库
func NewGormCredentialRepository(db *gorm.DB) CredentialRepository {
	return &gormCredentialRepository{db: db}
}

// LoadAll 读取全部凭证状态
func (r *gormCredentialRepository) LoadAll(ctx context.Context) ([]credential.State, error) {
	var rows []model.ClientCredential
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}

	states := make([]credential.State, 0, len(rows))
	for _, row := range rows {
		states = append(states, credential.State{
			ID:         row.ID,
			Healthy:    row.Healthy,
			LastUsedAt: row.LastUsedAt,
		})
	}
	return states, nil
}

// Save 插入或更新单个凭证状态
func (r *gormCredentialRepository) Save(ctx context.Context, state credential.State) error {
	row := model.ClientCredential{
		ID:         state.ID,
		Healthy:    state.Healthy,
		LastUsedAt: state.LastUsedAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"healthy", "last_used_at", "updated_at"}),
		}).
		Create(&row).Error
}
