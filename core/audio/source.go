package audio

import (
	"context"
	"fmt"

	"LoopFM/model"
)

// SourceResolver 把曲目 ID 解析为 ffmpeg 可以读取的地址
type SourceResolver interface {
	SourceURL(ctx context.Context, trackID int64) (string, error)
}

// TrackLookup 按 ID 查询曲目，不存在时返回 nil, nil
type TrackLookup interface {
	GetTrackByID(ctx context.Context, id int64) (*model.Track, error)
}

// Presigner 生成对象存储的临时下载地址
type Presigner interface {
	PresignedURL(ctx context.Context, key string) (string, error)
}

// LibrarySource 曲库来源：对象存储中的曲目使用预签名地址，其余使用本地路径
type LibrarySource struct {
	tracks  TrackLookup
	objects Presigner
}

// NewLibrarySource objects 可以为 nil，此时只支持本地文件
func NewLibrarySource(tracks TrackLookup, objects Presigner) *LibrarySource {
	return &LibrarySource{tracks: tracks, objects: objects}
}

// SourceURL 实现 SourceResolver
func (s *LibrarySource) SourceURL(ctx context.Context, trackID int64) (string, error) {
	track, err := s.tracks.GetTrackByID(ctx, trackID)
	if err != nil {
		return "", err
	}
	if track == nil {
		return "", fmt.Errorf("track %d not found", trackID)
	}

	switch {
	case track.ObjectKey != "" && s.objects != nil:
		return s.objects.PresignedURL(ctx, track.ObjectKey)
	case track.FilePath != "":
		return track.FilePath, nil
	default:
		return "", fmt.Errorf("track %d has no audio source", trackID)
	}
}
