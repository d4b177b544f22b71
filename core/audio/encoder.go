package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"

	"LoopFM/core/schedule"
	"LoopFM/logger"
)

// minSegment 剩余时长小于该值时不再启动 ffmpeg，直接等到下一首
const minSegment = 250 * time.Millisecond

// Playhead 频道的播放位置及其变化通知
type Playhead interface {
	ID() int64
	Now() time.Time
	NowPlaying(now time.Time) (schedule.NowPlaying, error)
	Changed() <-chan struct{}
}

// EncoderConfig ffmpeg 编码参数
type EncoderConfig struct {
	FFmpegPath string
	Bitrate    string // e.g., "192k"
	ChunkSize  int
	IdlePoll   time.Duration
}

func (c EncoderConfig) withDefaults() EncoderConfig {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.Bitrate == "" {
		c.Bitrate = "192k"
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 4096
	}
	if c.IdlePoll <= 0 {
		c.IdlePoll = time.Second
	}
	return c
}

type segmentFunc func(ctx context.Context, source string, np schedule.NowPlaying, emit func([]byte) error) error

// FFmpegEncoder 跟随频道播放位置，把当前曲目从对应偏移开始实时编码为 MP3。
// 曲目结束后重新解析；时钟或时间线变化时中止当前 ffmpeg 并从新位置开始。
type FFmpegEncoder struct {
	cfg     EncoderConfig
	head    Playhead
	sources SourceResolver
	play    segmentFunc
}

// NewFFmpegEncoder creates a new FFmpegEncoder.
func NewFFmpegEncoder(cfg EncoderConfig, head Playhead, sources SourceResolver) *FFmpegEncoder {
	e := &FFmpegEncoder{
		cfg:     cfg.withDefaults(),
		head:    head,
		sources: sources,
	}
	e.play = e.playSegment
	return e
}

// Encode 一直运行到 ctx 取消或出错。emit 返回错误时立即结束。
func (e *FFmpegEncoder) Encode(ctx context.Context, emit func([]byte) error) error {
	channelID := e.head.ID()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// 先取通知再解析，避免漏掉解析期间发生的变化
		changed := e.head.Changed()
		np, err := e.head.NowPlaying(e.head.Now())
		if errors.Is(err, schedule.ErrNotPlaying) {
			if err := e.idle(ctx, changed, e.cfg.IdlePoll); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		remaining := time.Duration(np.Remaining()) * time.Millisecond
		if remaining < minSegment {
			if err := e.idle(ctx, changed, remaining); err != nil {
				return err
			}
			continue
		}

		src, err := e.sources.SourceURL(ctx, np.Entry.Track.ID)
		if err != nil {
			return fmt.Errorf("resolve source for track %d: %w", np.Entry.Track.ID, err)
		}

		logger.Debug("开始编码曲目",
			logger.Channel(channelID),
			logger.Int64("trackId", np.Entry.Track.ID),
			logger.Int64("offsetMs", np.Offset))

		start := time.Now()
		segCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- e.play(segCtx, src, np, emit) }()

		select {
		case err := <-done:
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
			// 源文件比记录的时长短时提前结束，等到排定的结束时间
			if left := remaining - time.Since(start); left > minSegment {
				if err := e.idle(ctx, changed, left); err != nil {
					return err
				}
			}
		case <-changed:
			cancel()
			<-done
			logger.Debug("播放位置变化，重新开始编码", logger.Channel(channelID))
		case <-ctx.Done():
			cancel()
			<-done
			return ctx.Err()
		}
	}
}

// idle 等待变化通知或超时
func (e *FFmpegEncoder) idle(ctx context.Context, changed <-chan struct{}, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-changed:
	case <-timer.C:
	}
	return nil
}

// segmentArgs 从曲目内偏移开始按实时速率编码，最多编码到曲目结束
func segmentArgs(source string, np schedule.NowPlaying, bitrate string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-ss", seconds(np.Offset),
		"-re",
		"-i", source,
		"-t", seconds(np.Remaining()),
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", bitrate,
		"-f", "mp3",
		"pipe:1",
	}
}

func seconds(ms int64) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}

// playSegment 运行一次 ffmpeg，把标准输出按块交给 emit
func (e *FFmpegEncoder) playSegment(ctx context.Context, source string, np schedule.NowPlaying, emit func([]byte) error) error {
	cmd := exec.CommandContext(ctx, e.cfg.FFmpegPath, segmentArgs(source, np, e.cfg.Bitrate)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}

	emitErr := pipeChunks(stdout, e.cfg.ChunkSize, emit)
	if emitErr != nil {
		// 停止读取后 ffmpeg 会阻塞在写管道上
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	switch {
	case emitErr != nil:
		return emitErr
	case ctx.Err() != nil:
		return nil
	case waitErr != nil:
		return fmt.Errorf("ffmpeg exited for %s: %w: %s", source, waitErr, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

// pipeChunks 按 chunkSize 读取 r，每块复制一份交给 emit，读到 EOF 返回 nil
func pipeChunks(r io.Reader, chunkSize int, emit func([]byte) error) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if emitErr := emit(chunk); emitErr != nil {
				return emitErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// 进程被终止时管道读取报错，由 Wait 的结果决定
			return nil
		}
	}
}
