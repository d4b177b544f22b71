package model

import "time"

// 频道状态
const (
	ChannelStopped int8 = 0
	ChannelPlaying int8 = 1
)

// Channel 电台频道。StartedAtMs/StartedFromMs 是循环时钟的持久化形式。
type Channel struct {
	ID            int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	OwnerID       int64     `json:"ownerId" gorm:"index;not null"`
	Name          string    `json:"name" gorm:"size:100;not null"`
	Status        int8      `json:"status" gorm:"default:0"`        // 1=播放中, 0=停止
	StartedAtMs   int64     `json:"startedAtMs" gorm:"default:0"`   // 循环起点（Unix 毫秒）
	StartedFromMs int64     `json:"startedFromMs" gorm:"default:0"` // 从循环中的哪个位置开始
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Channel) TableName() string {
	return "channels"
}

// ChannelTrack 频道播放列表中的一项
type ChannelTrack struct {
	ID           int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	ChannelID    int64  `json:"channelId" gorm:"index;not null"`
	TrackID      int64  `json:"trackId" gorm:"not null"`
	UniqueID     string `json:"uniqueId" gorm:"size:36;uniqueIndex"`
	Order        int    `json:"order" gorm:"column:t_order;not null"`
	TimeOffsetMs int64  `json:"timeOffsetMs" gorm:"not null"`

	Track Track `json:"track" gorm:"foreignKey:TrackID"`
}

// TableName 指定表名
func (ChannelTrack) TableName() string {
	return "channel_tracks"
}
