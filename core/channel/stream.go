package channel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"LoopFM/core/broadcast"
	"LoopFM/logger"
)

var (
	errIdle         = errors.New("no listeners")
	errCasterClosed = errors.New("broadcast closed")
)

// Attach 加入频道广播。没有正在运行的广播时创建一个新的，并启动编码循环。
// 新订阅者只会收到加入之后产生的数据块。
func (s *Session) Attach() (*broadcast.Subscriber, error) {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	// 广播可能恰好因空闲被关闭，重试一次
	for attempt := 0; attempt < 2; attempt++ {
		if s.caster == nil || s.caster.Closed() {
			s.caster = broadcast.New(
				broadcast.WithBuffer(s.buffer),
				broadcast.WithName("channel-"+strconv.FormatInt(s.id, 10)),
			)
			s.startLoop(s.caster)
		}
		sub, err := s.caster.Join()
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, broadcast.ErrClosed) {
			return nil, err
		}
		s.caster = nil
	}
	return nil, broadcast.ErrClosed
}

// Detach 离开广播，可以重复调用
func (s *Session) Detach(sub *broadcast.Subscriber) {
	sub.Leave()
}

// Listeners 当前订阅者数量
func (s *Session) Listeners() int {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()
	if s.caster == nil {
		return 0
	}
	return s.caster.Count()
}

// Publish 向当前广播推送一个数据块，返回收到的订阅者数量。
// 没有配置编码器时由调用方驱动广播。
func (s *Session) Publish(chunk []byte) int {
	s.broadcastMu.Lock()
	caster := s.caster
	s.broadcastMu.Unlock()
	if caster == nil {
		return 0
	}
	return caster.Publish(chunk)
}

func (s *Session) startLoop(caster *broadcast.Multicaster) {
	if s.newEncoder == nil {
		return
	}
	enc := s.newEncoder(s)
	go func() {
		_ = s.RunBroadcast(s.loopCtx, caster, enc)
	}()
}

// RunBroadcast 运行编码器并把数据块推送给 caster 的订阅者。
// 编码器出错时以 ErrUpstreamEncoder 关闭广播，所有订阅者收到错误；
// ctx 取消或空闲超时时正常结束。
func (s *Session) RunBroadcast(ctx context.Context, caster *broadcast.Multicaster, enc Encoder) error {
	logger.Info("频道广播启动", logger.Channel(s.id))

	encCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var idled atomic.Bool
	if s.idleTimeout > 0 {
		go s.watchIdle(encCtx, caster, func() {
			idled.Store(true)
			cancel()
		})
	}

	err := enc.Encode(encCtx, func(chunk []byte) error {
		if caster.Closed() {
			return errCasterClosed
		}
		caster.Publish(chunk)
		return nil
	})

	switch {
	case idled.Load():
		logger.Info("频道广播停止", logger.Channel(s.id), logger.String("reason", errIdle.Error()))
		return nil
	case errors.Is(err, errCasterClosed):
		logger.Info("频道广播停止", logger.Channel(s.id), logger.String("reason", err.Error()))
		return nil
	case ctx.Err() != nil:
		caster.Close(ctx.Err())
		logger.Info("频道广播停止", logger.Channel(s.id), logger.String("reason", "shutdown"))
		return nil
	}

	if err == nil {
		err = errors.New("encoder exited")
	}
	wrapped := fmt.Errorf("%w: %v", ErrUpstreamEncoder, err)
	caster.Close(wrapped)
	logger.Error("频道编码器异常退出，断开所有收听者", logger.Channel(s.id), logger.ErrorField(err))
	return wrapped
}

// watchIdle 没有订阅者持续 idleTimeout 后关闭广播并调用 stop，与编码器是否产出数据无关
func (s *Session) watchIdle(ctx context.Context, caster *broadcast.Multicaster, stop func()) {
	period := s.idleTimeout / 4
	if period < time.Millisecond {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var idleSince time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if caster.Closed() {
				return
			}
			if caster.Count() > 0 {
				idleSince = time.Time{}
				continue
			}
			if idleSince.IsZero() {
				idleSince = now
				continue
			}
			if now.Sub(idleSince) >= s.idleTimeout && caster.CloseIfEmpty(errIdle) {
				stop()
				return
			}
		}
	}
}

// Close 停止编码并断开所有订阅者
func (s *Session) Close() {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopLoops()
	if s.caster != nil {
		s.caster.Close(ErrSessionClosed)
	}
}
