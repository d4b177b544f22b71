package cmd

import (
	"context"
	"fmt"
	"time"

	"LoopFM/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix    string
	minioStats     bool
	minioRecursive bool
	minioPresign   string
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO曲目存储桶管理",
	Long:  `查看存放曲目音频的MinIO存储桶，支持列出文件、查看统计信息，以及为编码器生成预签名地址。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		objects, err := storage.NewTrackObjects(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if minioPresign != "" {
			u, err := objects.PresignedURL(ctx, minioPresign)
			if err != nil {
				return err
			}
			fmt.Println(u)
			return nil
		}

		list, stats, err := objects.List(ctx, minioPrefix, minioRecursive)
		if err != nil {
			return err
		}
		if !minioStats {
			fmt.Printf("\n%-60s %12s %s\n", "对象", "大小", "修改时间")
			for _, o := range list {
				fmt.Printf("%-60s %12s %s\n", o.Key, formatSize(o.Size), o.LastModified.Format("2006-01-02 15:04:05"))
			}
		}
		fmt.Printf("\n共 %d 个对象，总大小 %s", stats.TotalObjects, formatSize(stats.TotalSize))
		if !stats.LastModified.IsZero() {
			fmt.Printf("，最近修改 %s", stats.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
		return nil
	},
}

// formatSize 格式化文件大小
func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤文件")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "只显示统计信息")
	minioCmd.Flags().BoolVarP(&minioRecursive, "recursive", "r", false, "递归列出子目录")
	minioCmd.Flags().StringVar(&minioPresign, "presign", "", "为指定对象生成预签名下载地址")

	minioCmd.Example = `  # 列出所有曲目
  loopfm_server minio -r

  # 按前缀过滤并只看统计
  loopfm_server minio -p "audio/" -s

  # 生成编码器使用的预签名地址
  loopfm_server minio --presign audio/1.mp3`
}
