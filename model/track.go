package model

import "time"

// Track 曲库中的一首曲目，时长以毫秒存储
type Track struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Title      string    `json:"title" gorm:"size:255;not null"`
	Artist     string    `json:"artist" gorm:"size:255"`
	Album      string    `json:"album" gorm:"size:255"`
	ObjectKey  string    `json:"-" gorm:"size:512"`            // MinIO 中的对象路径
	FilePath   string    `json:"-" gorm:"size:512"`            // 本地文件路径，ObjectKey 为空时使用
	DurationMs int64     `json:"durationMs" gorm:"not null"`   // 毫秒
	State      int8      `json:"state" gorm:"default:1;index"` // 0=软删除, 1=正常
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Track) TableName() string {
	return "tracks"
}
