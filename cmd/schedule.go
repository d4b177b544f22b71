package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"LoopFM/core/channel"
	"LoopFM/core/schedule"
	"LoopFM/server"

	"github.com/spf13/cobra"
)

var (
	scheduleCatalog string
	windowBefore    time.Duration
	windowAfter     time.Duration
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "查询频道排期",
	Long:  `不启动服务器，直接从配置的数据源计算频道当前播放的曲目或前后的排期。`,
}

// withBackend 打开数据源并为命令创建一个不带编码器的管理器
func withBackend(fn func(ctx context.Context, b *server.Backend, m *channel.Manager) error) error {
	if scheduleCatalog != "" {
		cfg.CatalogPath = scheduleCatalog
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backend, err := server.OpenBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	m := channel.NewManager(backend.Store)
	defer m.Close()
	return fn(ctx, backend, m)
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出所有频道及其状态",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(ctx context.Context, b *server.Backend, m *channel.Manager) error {
			channels, err := b.Channels.ListChannels(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%6s  %-24s %8s  %10s  %6s  %s\n", "ID", "名称", "所有者", "状态", "曲目数", "循环时长")
			for _, ch := range channels {
				s, err := m.Session(ctx, ch.ID)
				if err != nil {
					fmt.Printf("%6d  %-24s %8d  加载失败: %v\n", ch.ID, ch.Name, ch.OwnerID, err)
					continue
				}
				tl := s.Timeline()
				fmt.Printf("%6d  %-24s %8d  %10s  %6d  %s\n",
					ch.ID, ch.Name, ch.OwnerID, s.Status(), tl.Len(), formatMs(tl.Duration()))
			}
			return nil
		})
	},
}

func parseChannelID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("无效的频道 ID: %s", arg)
	}
	return id, nil
}

var scheduleNowCmd = &cobra.Command{
	Use:   "now <channel-id>",
	Short: "当前播放的曲目",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseChannelID(args[0])
		if err != nil {
			return err
		}
		return withBackend(func(ctx context.Context, _ *server.Backend, m *channel.Manager) error {
			np, err := m.NowPlaying(ctx, id)
			if errors.Is(err, schedule.ErrNotPlaying) {
				fmt.Printf("频道 %d 当前没有播放\n", id)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("频道 %d 正在播放: %s - %s (track %d)\n", id, np.Artist, np.Title, np.TrackID)
			fmt.Printf("曲目进度: %s / %s，循环位置: %s\n",
				formatMs(np.OffsetMs), formatMs(np.DurationMs), formatMs(np.LoopPositionMs))
			return nil
		})
	},
}

var scheduleWindowCmd = &cobra.Command{
	Use:   "window <channel-id>",
	Short: "当前位置前后的排期",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseChannelID(args[0])
		if err != nil {
			return err
		}
		return withBackend(func(ctx context.Context, _ *server.Backend, m *channel.Manager) error {
			entries, err := m.Window(ctx, id, windowBefore.Milliseconds(), windowAfter.Milliseconds())
			if errors.Is(err, schedule.ErrNotPlaying) {
				fmt.Printf("频道 %d 当前没有播放\n", id)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("频道 %d，前 %s 后 %s，共 %d 首:\n", id, windowBefore, windowAfter, len(entries))
			for _, e := range entries {
				fmt.Printf("  %10s  %8s  %s - %s (track %d)\n",
					formatMs(e.TimeOffsetMs), formatMs(e.DurationMs), e.Artist, e.Title, e.TrackID)
			}
			return nil
		})
	},
}

// formatMs 毫秒格式化为 m:ss.mmm
func formatMs(ms int64) string {
	return fmt.Sprintf("%d:%02d.%03d", ms/60000, (ms/1000)%60, ms%1000)
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleListCmd, scheduleNowCmd, scheduleWindowCmd)

	scheduleCmd.PersistentFlags().StringVarP(&scheduleCatalog, "catalog", "c", "", "本地频道目录文件（TOML）")
	scheduleWindowCmd.Flags().DurationVarP(&windowBefore, "before", "b", 15*time.Second, "当前位置之前的时长")
	scheduleWindowCmd.Flags().DurationVarP(&windowAfter, "after", "a", time.Minute, "当前位置之后的时长")

	scheduleCmd.Example = `  # 使用本地目录查询频道 1 当前播放的曲目
  loopfm_server schedule now 1 -c channels.toml

  # 查询频道 1 前 30 秒到后 5 分钟的排期
  loopfm_server schedule window 1 -b 30s -a 5m`
}
