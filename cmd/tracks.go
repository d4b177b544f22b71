package cmd

import (
	"context"
	"fmt"
	"time"

	"LoopFM/core/audio"
	"LoopFM/db"
	"LoopFM/repository"
	"LoopFM/storage"

	"github.com/spf13/cobra"
)

var probeDryRun bool

var tracksCmd = &cobra.Command{
	Use:   "tracks",
	Short: "曲目库维护",
}

var tracksProbeCmd = &cobra.Command{
	Use:   "probe",
	Short: "用 ffprobe 补全缺少时长的曲目",
	Long:  `时长为 0 的曲目无法参与排期。该命令读取每首曲目的音频（MinIO 对象或本地文件），写回毫秒时长。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.ConnectGormDB(cfg); err != nil {
			return err
		}
		defer db.CloseGormDB()

		objects, err := storage.NewTrackObjects(cfg)
		if err != nil {
			return err
		}
		tracks := repository.NewTrackRepository(db.GormDB)
		sources := audio.NewLibrarySource(tracks, objects)
		prober := audio.NewProber(cfg.FFmpegPath)

		ctx := context.Background()
		missing, err := tracks.TracksMissingDuration(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("共 %d 首曲目缺少时长\n", len(missing))

		var failed int
		for _, t := range missing {
			probeCtx, cancel := context.WithTimeout(ctx, time.Minute)
			src, err := sources.SourceURL(probeCtx, t.ID)
			var ms int64
			if err == nil {
				ms, err = prober.Duration(probeCtx, src)
			}
			cancel()
			if err != nil {
				failed++
				fmt.Printf("  [失败] %d %s: %v\n", t.ID, t.Title, err)
				continue
			}

			fmt.Printf("  %d %s: %s\n", t.ID, t.Title, formatMs(ms))
			if probeDryRun {
				continue
			}
			if err := tracks.UpdateTrackDuration(ctx, t.ID, ms); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d 首曲目读取时长失败", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tracksCmd)
	tracksCmd.AddCommand(tracksProbeCmd)

	tracksProbeCmd.Flags().BoolVar(&probeDryRun, "dry-run", false, "只打印结果，不写回数据库")
}
