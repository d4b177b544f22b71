package repository

import (
	"context"
	"errors"
	"fmt"

	"LoopFM/core/schedule"
	"LoopFM/model"

	"gorm.io/gorm"
)

// ChannelRepository 频道读模型与时钟回写（MySQL）
type ChannelRepository struct {
	db *gorm.DB
}

// NewChannelRepository 创建频道仓库
func NewChannelRepository(db *gorm.DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

func (r *ChannelRepository) channel(ctx context.Context, id int64) (*model.Channel, error) {
	var ch model.Channel
	err := r.db.WithContext(ctx).First(&ch, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", model.ErrChannelNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel %d: %w", id, err)
	}
	return &ch, nil
}

// LoadTimeline 按 t_order 读取频道的播放列表
func (r *ChannelRepository) LoadTimeline(ctx context.Context, channelID int64) ([]schedule.Entry, error) {
	if _, err := r.channel(ctx, channelID); err != nil {
		return nil, err
	}

	var rows []model.ChannelTrack
	err := r.db.WithContext(ctx).
		Preload("Track").
		Where("channel_id = ?", channelID).
		Order("t_order ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load tracks for channel %d: %w", channelID, err)
	}

	entries := make([]schedule.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, schedule.Entry{
			UniqueID: row.UniqueID,
			Order:    row.Order,
			Offset:   row.TimeOffsetMs,
			Track: schedule.Track{
				ID:       row.Track.ID,
				Title:    row.Track.Title,
				Artist:   row.Track.Artist,
				Album:    row.Track.Album,
				Duration: row.Track.DurationMs,
			},
		})
	}
	return entries, nil
}

// LoadClock 读取持久化的循环时钟
func (r *ChannelRepository) LoadClock(ctx context.Context, channelID int64) (schedule.Clock, error) {
	ch, err := r.channel(ctx, channelID)
	if err != nil {
		return schedule.Clock{}, err
	}
	return ClockOf(ch), nil
}

// SaveClock 回写循环时钟
func (r *ChannelRepository) SaveClock(ctx context.Context, channelID int64, clock schedule.Clock) error {
	status := model.ChannelStopped
	if clock.Active {
		status = model.ChannelPlaying
	}
	res := r.db.WithContext(ctx).Model(&model.Channel{}).
		Where("id = ?", channelID).
		Updates(map[string]interface{}{
			"status":          status,
			"started_at_ms":   clock.LoopStart,
			"started_from_ms": clock.RestartOffset,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to save clock for channel %d: %w", channelID, res.Error)
	}
	return nil
}

// ChannelOwner 频道所有者 ID
func (r *ChannelRepository) ChannelOwner(ctx context.Context, channelID int64) (int64, error) {
	ch, err := r.channel(ctx, channelID)
	if err != nil {
		return 0, err
	}
	return ch.OwnerID, nil
}

// ListChannels 所有频道，按 ID 排序
func (r *ChannelRepository) ListChannels(ctx context.Context) ([]model.Channel, error) {
	var list []model.Channel
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return list, nil
}

// ClockOf 把频道行转换为循环时钟
func ClockOf(ch *model.Channel) schedule.Clock {
	return schedule.Clock{
		Active:        ch.Status == model.ChannelPlaying,
		LoopStart:     ch.StartedAtMs,
		RestartOffset: ch.StartedFromMs,
	}
}
