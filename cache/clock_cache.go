package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"LoopFM/core/channel"
	"LoopFM/core/schedule"
	"LoopFM/logger"

	"github.com/go-redis/redis/v8"
)

const (
	// ChangedTopic 频道变更通知的 pub/sub 主题，消息内容为频道 ID
	ChangedTopic = "loopfm:channel:changed"

	clockTTL = 24 * time.Hour
)

func clockKey(channelID int64) string {
	return fmt.Sprintf("loopfm:channel:%d:clock", channelID)
}

// ClockCache 在 Store 之上用 Redis 缓存时钟，并广播变更通知。
// 数据库是权威来源，Redis 出错只记录日志。
type ClockCache struct {
	channel.Store
	rdb *redis.Client
}

// NewClockCache 包装 next
func NewClockCache(next channel.Store, rdb *redis.Client) *ClockCache {
	return &ClockCache{Store: next, rdb: rdb}
}

// LoadClock 优先读取缓存，未命中时回源并写入缓存
func (c *ClockCache) LoadClock(ctx context.Context, channelID int64) (schedule.Clock, error) {
	fields, err := c.rdb.HGetAll(ctx, clockKey(channelID)).Result()
	if err != nil {
		logger.Warn("读取时钟缓存失败", logger.Channel(channelID), logger.ErrorField(err))
	} else if clock, ok := decodeClock(fields); ok {
		return clock, nil
	}

	clock, err := c.Store.LoadClock(ctx, channelID)
	if err != nil {
		return schedule.Clock{}, err
	}
	c.cache(ctx, channelID, clock)
	return clock, nil
}

// ReloadClock 跳过缓存直接回源，并用结果覆盖缓存。
// 数据库中的时钟可能被其他进程直接修改，刷新频道时以它为准。
func (c *ClockCache) ReloadClock(ctx context.Context, channelID int64) (schedule.Clock, error) {
	clock, err := c.Store.LoadClock(ctx, channelID)
	if err != nil {
		return schedule.Clock{}, err
	}
	c.cache(ctx, channelID, clock)
	return clock, nil
}

// SaveClock 先写数据库，再更新缓存并发布变更通知
func (c *ClockCache) SaveClock(ctx context.Context, channelID int64, clock schedule.Clock) error {
	if err := c.Store.SaveClock(ctx, channelID, clock); err != nil {
		return err
	}
	c.cache(ctx, channelID, clock)
	if err := c.Notify(ctx, channelID); err != nil {
		logger.Warn("发布频道变更失败", logger.Channel(channelID), logger.ErrorField(err))
	}
	return nil
}

func (c *ClockCache) cache(ctx context.Context, channelID int64, clock schedule.Clock) {
	key := clockKey(channelID)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, encodeClock(clock))
		pipe.Expire(ctx, key, clockTTL)
		return nil
	})
	if err != nil {
		logger.Warn("写入时钟缓存失败", logger.Channel(channelID), logger.ErrorField(err))
	}
}

// Invalidate 删除缓存的时钟，下次读取时回源
func (c *ClockCache) Invalidate(ctx context.Context, channelID int64) error {
	return c.rdb.Del(ctx, clockKey(channelID)).Err()
}

// Cached 返回缓存中的时钟，不回源
func (c *ClockCache) Cached(ctx context.Context, channelID int64) (schedule.Clock, bool, error) {
	fields, err := c.rdb.HGetAll(ctx, clockKey(channelID)).Result()
	if err != nil {
		return schedule.Clock{}, false, err
	}
	clock, ok := decodeClock(fields)
	return clock, ok, nil
}

// Notify 发布频道变更通知
func (c *ClockCache) Notify(ctx context.Context, channelID int64) error {
	return c.rdb.Publish(ctx, ChangedTopic, strconv.FormatInt(channelID, 10)).Err()
}

// Changes 订阅频道变更通知，ctx 结束时关闭返回的 channel
func (c *ClockCache) Changes(ctx context.Context) (<-chan int64, error) {
	sub := c.rdb.Subscribe(ctx, ChangedTopic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", ChangedTopic, err)
	}

	out := make(chan int64, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				id, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					logger.Warn("忽略无效的频道变更通知", logger.String("payload", msg.Payload))
					continue
				}
				select {
				case out <- id:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func encodeClock(c schedule.Clock) map[string]interface{} {
	active := "0"
	if c.Active {
		active = "1"
	}
	return map[string]interface{}{
		"active":         active,
		"loop_start_ms":  strconv.FormatInt(c.LoopStart, 10),
		"restart_offset": strconv.FormatInt(c.RestartOffset, 10),
	}
}

func decodeClock(fields map[string]string) (schedule.Clock, bool) {
	active, ok1 := fields["active"]
	start, ok2 := fields["loop_start_ms"]
	offset, ok3 := fields["restart_offset"]
	if !ok1 || !ok2 || !ok3 {
		return schedule.Clock{}, false
	}
	loopStart, err := strconv.ParseInt(start, 10, 64)
	if err != nil {
		return schedule.Clock{}, false
	}
	restart, err := strconv.ParseInt(offset, 10, 64)
	if err != nil {
		return schedule.Clock{}, false
	}
	return schedule.Clock{Active: active == "1", LoopStart: loopStart, RestartOffset: restart}, true
}
