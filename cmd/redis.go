package cmd

import (
	"context"
	"fmt"
	"time"

	"LoopFM/cache"
	"LoopFM/db"

	"github.com/spf13/cobra"
)

var (
	redisChannel    int64
	redisNotify     bool
	redisInvalidate bool
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试与时钟缓存查看",
	Long:  `测试Redis连接是否成功并进行基本读写操作；指定频道时查看缓存的播放时钟，可以删除缓存或发布变更通知。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		if err := db.ConnectRedis(cfg); err != nil {
			return fmt.Errorf("无法连接到Redis: %w", err)
		}
		defer db.CloseRedis()
		fmt.Println("Redis连接成功！")

		if err := db.TestRedis(); err != nil {
			return fmt.Errorf("Redis操作测试失败: %w", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		if redisChannel <= 0 {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		clocks := cache.NewClockCache(nil, db.RedisClient)

		clock, ok, err := clocks.Cached(ctx, redisChannel)
		if err != nil {
			return fmt.Errorf("读取频道 %d 的时钟缓存失败: %w", redisChannel, err)
		}
		if ok {
			fmt.Printf("频道 %d 时钟: active=%t loop_start_ms=%d restart_offset=%d\n",
				redisChannel, clock.Active, clock.LoopStart, clock.RestartOffset)
		} else {
			fmt.Printf("频道 %d 没有缓存的时钟\n", redisChannel)
		}

		if redisInvalidate {
			if err := clocks.Invalidate(ctx, redisChannel); err != nil {
				return fmt.Errorf("删除时钟缓存失败: %w", err)
			}
			fmt.Println("时钟缓存已删除")
		}
		if redisNotify {
			if err := clocks.Notify(ctx, redisChannel); err != nil {
				return fmt.Errorf("发布变更通知失败: %w", err)
			}
			fmt.Printf("已发布频道 %d 的变更通知\n", redisChannel)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)

	redisCmd.Flags().Int64Var(&redisChannel, "channel", 0, "查看指定频道的时钟缓存")
	redisCmd.Flags().BoolVar(&redisInvalidate, "invalidate", false, "删除该频道的时钟缓存")
	redisCmd.Flags().BoolVar(&redisNotify, "notify", false, "发布该频道的变更通知，各实例重新加载")
}
