package server

import (
	"context"
	"fmt"

	"LoopFM/cache"
	"LoopFM/config"
	"LoopFM/core/audio"
	"LoopFM/core/channel"
	"LoopFM/db"
	"LoopFM/logger"
	"LoopFM/model"
	"LoopFM/repository"
	"LoopFM/storage"
)

// ChannelLister 列出所有频道
type ChannelLister interface {
	ListChannels(ctx context.Context) ([]model.Channel, error)
}

// Backend 频道数据来源：读模型、变更通知和曲目音频地址
type Backend struct {
	Store    channel.Store
	Feed     channel.ChangeFeed // 可能为 nil
	Sources  audio.SourceResolver
	Channels ChannelLister

	closers []func() error
}

// Close 释放数据库和 Redis 连接
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn("关闭后端连接失败", logger.ErrorField(err))
		}
	}
}

// OpenBackend 配置了 CatalogPath 时使用本地目录文件，否则连接 MySQL，
// Redis 可用时在其上叠加时钟缓存和变更通知。
func OpenBackend(ctx context.Context, cfg *config.Config) (*Backend, error) {
	if cfg.CatalogPath != "" {
		return openCatalog(ctx, cfg)
	}
	return openDatabase(ctx, cfg)
}

func openCatalog(ctx context.Context, cfg *config.Config) (*Backend, error) {
	prober := audio.NewProber(cfg.FFmpegPath)
	catalog, err := repository.NewCatalogStore(ctx, cfg.CatalogPath, prober.Duration)
	if err != nil {
		return nil, err
	}
	logger.Info("使用本地频道目录", logger.String("path", cfg.CatalogPath))
	return &Backend{Store: catalog, Feed: catalog, Sources: catalog, Channels: catalog}, nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*Backend, error) {
	if err := db.ConnectGormDB(cfg); err != nil {
		return nil, err
	}
	b := &Backend{closers: []func() error{db.CloseGormDB}}

	if err := db.AutoMigrateModels(&model.Track{}, &model.Channel{}, &model.ChannelTrack{}); err != nil {
		b.Close()
		return nil, err
	}

	channels := repository.NewChannelRepository(db.GormDB)
	b.Store = channels
	b.Channels = channels

	if err := db.ConnectRedis(cfg); err != nil {
		// 没有 Redis 时直接读写 MySQL，也不会收到其他实例的变更通知
		logger.Warn("Redis 不可用，禁用时钟缓存", logger.ErrorField(err))
	} else {
		b.closers = append(b.closers, db.CloseRedis)
		clocks := cache.NewClockCache(channels, db.RedisClient)
		b.Store = clocks
		b.Feed = clocks
	}

	objects, err := storage.NewTrackObjects(cfg)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("初始化 MinIO 失败: %w", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		logger.Warn("MinIO 存储桶不可用，只能播放本地文件", logger.ErrorField(err))
	}
	b.Sources = audio.NewLibrarySource(repository.NewTrackRepository(db.GormDB), objects)
	return b, nil
}
