package model

import "time"

// TrackRecord 曲目元数据与播放统计，按曲目 ID 唯一
type TrackRecord struct {
	ID           uint       `gorm:"primaryKey;autoIncrement" json:"-"`
	TrackID      string     `gorm:"type:varchar(191);uniqueIndex;not null" json:"trackId"`
	Title        string     `gorm:"type:varchar(255)" json:"title"`
	Artist       string     `gorm:"type:varchar(255)" json:"artist"`
	Album        string     `gorm:"type:varchar(255)" json:"album"`
	Duration     float64    `json:"duration"`
	PlayCount    int64      `gorm:"default:0;not null" json:"playCount"`
	LastPlayedAt *time.Time `json:"lastPlayedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// TableName 指定表名
func (TrackRecord) TableName() string {
	return "voice_tracks"
}

// Track 转换为播放用曲目，LocalPath 不入库
func (r TrackRecord) Track() Track {
	return Track{
		ID:              r.TrackID,
		Title:           r.Title,
		Artist:          r.Artist,
		Album:           r.Album,
		DurationSeconds: r.Duration,
	}
}

// RecordFor 由曲目构造数据库记录
func RecordFor(t Track) TrackRecord {
	return TrackRecord{
		TrackID:  t.ID,
		Title:    t.Title,
		Artist:   t.Artist,
		Album:    t.Album,
		Duration: t.DurationSeconds,
	}
}
