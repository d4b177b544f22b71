package repository

import (
	"context"
	"errors"
	"fmt"

	"LoopFM/logger"
	"LoopFM/model"

	"gorm.io/gorm"
)

// TrackRepository defines the interface for track data operations.
type TrackRepository interface {
	GetTrackByID(ctx context.Context, id int64) (*model.Track, error)
	ListTracks(ctx context.Context) ([]*model.Track, error)
	TracksMissingDuration(ctx context.Context) ([]*model.Track, error)
	UpdateTrackDuration(ctx context.Context, trackID int64, durationMs int64) error
}

// gormTrackRepository implements TrackRepository with GORM.
type gormTrackRepository struct {
	db *gorm.DB
}

// NewTrackRepository creates a new TrackRepository.
func NewTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

// GetTrackByID retrieves a track by its ID. Returns nil, nil when not found.
func (r *gormTrackRepository) GetTrackByID(ctx context.Context, id int64) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).Where("id = ? AND state = 1", id).First(&track).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track by ID %d: %w", id, err)
	}
	return &track, nil
}

// ListTracks retrieves all live tracks ordered by ID.
func (r *gormTrackRepository) ListTracks(ctx context.Context) ([]*model.Track, error) {
	var tracks []*model.Track
	if err := r.db.WithContext(ctx).Where("state = 1").Order("id ASC").Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	return tracks, nil
}

// TracksMissingDuration 时长未知的曲目，需要 ffprobe 补全
func (r *gormTrackRepository) TracksMissingDuration(ctx context.Context) ([]*model.Track, error) {
	var tracks []*model.Track
	err := r.db.WithContext(ctx).Where("state = 1 AND duration_ms <= 0").Order("id ASC").Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks without duration: %w", err)
	}
	return tracks, nil
}

// UpdateTrackDuration updates the duration (ms) for a given track ID.
func (r *gormTrackRepository) UpdateTrackDuration(ctx context.Context, trackID int64, durationMs int64) error {
	err := r.db.WithContext(ctx).Model(&model.Track{}).
		Where("id = ?", trackID).
		Update("duration_ms", durationMs).Error
	if err != nil {
		return fmt.Errorf("failed to update duration for track ID %d: %w", trackID, err)
	}
	logger.Info("Track duration updated", logger.Int64("trackId", trackID), logger.Int64("durationMs", durationMs))
	return nil
}
