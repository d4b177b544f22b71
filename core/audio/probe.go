package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Prober 用 ffprobe 读取音频时长
type Prober struct {
	ffprobePath string
}

// NewProber 在 ffmpeg 同目录下查找 ffprobe
func NewProber(ffmpegPath string) *Prober {
	return &Prober{ffprobePath: strings.Replace(ffmpegPath, "ffmpeg", "ffprobe", 1)}
}

// Duration 返回音频时长（毫秒）。input 可以是本地路径或 URL。
func (p *Prober) Duration(ctx context.Context, input string) (int64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		input,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe execution failed for %s: %w\nFFprobe Error: %s", input, err, stderr.String())
	}
	ms, err := parseProbeDuration(out.Bytes())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", input, err)
	}
	return ms, nil
}

func parseProbeDuration(out []byte) (int64, error) {
	var probeData ffprobeOutput
	if err := json.Unmarshal(out, &probeData); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output: %w\nFFprobe Output: %s", err, out)
	}
	if probeData.Format.Duration == "" {
		return 0, fmt.Errorf("duration not found in ffprobe output\nFFprobe Output: %s", out)
	}

	seconds, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration string %q: %w", probeData.Format.Duration, err)
	}
	ms := int64(math.Round(seconds * 1000))
	if ms <= 0 {
		return 0, fmt.Errorf("non-positive duration %q", probeData.Format.Duration)
	}
	return ms, nil
}
