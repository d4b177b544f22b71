package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"LoopFM/config"
	"LoopFM/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

// TrackObjects 存放曲目音频的存储桶。编码器通过预签名 URL 直接读取对象。
type TrackObjects struct {
	client *minio.Client
	bucket string
	region string
	expiry time.Duration
}

// NewTrackObjects 创建 MinIO 客户端，不检查连接
func NewTrackObjects(cfg *config.Config) (*TrackObjects, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &TrackObjects{
		client: client,
		bucket: cfg.MinioBucket,
		region: cfg.MinioRegion,
		expiry: expiry,
	}, nil
}

// Bucket 存储桶名称
func (t *TrackObjects) Bucket() string { return t.bucket }

// EnsureBucket 检查存储桶，不存在时创建
func (t *TrackObjects) EnsureBucket(ctx context.Context) error {
	exists, err := t.client.BucketExists(ctx, t.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if exists {
		logger.Debug("存储桶已存在", logger.String("bucket", t.bucket))
		return nil
	}

	if err := t.client.MakeBucket(ctx, t.bucket, minio.MakeBucketOptions{Region: t.region}); err != nil {
		return fmt.Errorf("创建存储桶失败: %w", err)
	}
	logger.Info("成功创建存储桶", logger.String("bucket", t.bucket))
	return nil
}

// PresignedURL 生成对象的临时下载地址
func (t *TrackObjects) PresignedURL(ctx context.Context, key string) (string, error) {
	u, err := t.client.PresignedGetObject(ctx, t.bucket, key, t.expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("生成预签名地址失败 %s: %w", key, err)
	}
	return u.String(), nil
}

// List 列出前缀下的对象并统计
func (t *TrackObjects) List(ctx context.Context, prefix string, recursive bool) ([]ObjectInfo, *BucketStats, error) {
	stats := &BucketStats{}
	var objects []ObjectInfo

	objectCh := t.client.ListObjects(ctx, t.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: recursive,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("列出对象时出错: %w", object.Err)
		}

		stats.TotalObjects++
		stats.TotalSize += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
			ETag:         object.ETag,
		})
	}
	return objects, stats, nil
}
