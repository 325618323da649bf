package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"VoiceFM/model"
)

// TrackRepository 曲目元数据与播放次数
type TrackRepository interface {
	Remember(ctx context.Context, t model.Track) error
	Lookup(ctx context.Context, id string) (*model.Track, error)
	RecordPlay(ctx context.Context, t model.Track) error
	TopPlayed(ctx context.Context, limit int) ([]*model.TrackRecord, error)
}

// gormTrackRepository GORM 实现
type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository 创建 GORM 曲目仓库
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

// Remember 写入或更新曲目元数据，不影响播放统计
func (r *gormTrackRepository) Remember(ctx context.Context, t model.Track) error {
	rec := model.RecordFor(t)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "track_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "artist", "album", "duration", "updated_at"}),
		}).
		Create(&rec).Error
}

// Lookup 根据曲目ID查询，不存在时返回 nil
func (r *gormTrackRepository) Lookup(ctx context.Context, id string) (*model.Track, error) {
	var rec model.TrackRecord
	err := r.db.WithContext(ctx).Where("track_id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	t := rec.Track()
	return &t, nil
}

// RecordPlay 播放次数加一，曲目不存在时先插入
func (r *gormTrackRepository) RecordPlay(ctx context.Context, t model.Track) error {
	now := time.Now()
	rec := model.RecordFor(t)
	rec.PlayCount = 1
	rec.LastPlayedAt = &now
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "track_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"play_count":     gorm.Expr("play_count + 1"),
				"last_played_at": now,
				"updated_at":     now,
			}),
		}).
		Create(&rec).Error
}

// TopPlayed 按播放次数倒序
func (r *gormTrackRepository) TopPlayed(ctx context.Context, limit int) ([]*model.TrackRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	var records []*model.TrackRecord
	err := r.db.WithContext(ctx).
		Where("play_count > 0").
		Order("play_count DESC").
		Order("last_played_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
