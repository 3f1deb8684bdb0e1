package media

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	errprocess "video_processing_service/pkg/err"
)

// Prober answers questions about a media file with ffprobe
type Prober struct {
	runner  Runner
	ffprobe string
}

// NewProber create Prober
func NewProber(runner Runner, ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{runner: runner, ffprobe: ffprobePath}
}

// HasAudio 有任何音軌即回傳 true
func (p *Prober) HasAudio(ctx context.Context, path string) (bool, error) {
	out, err := p.runner.Run(ctx, "", p.ffprobe,
		"-loglevel", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		"-i", path,
	)
	if err != nil {
		return false, err
	}
	return len(bytes.TrimSpace(out)) > 0, nil
}

// Duration container duration in seconds
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	out, err := p.runner.Run(ctx, "", p.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}

	raw := strings.TrimSpace(string(out))
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil || d < 0 {
		return 0, errprocess.New(errprocess.ErrToolExecution,
			fmt.Sprintf("file[%s] unreadable duration %q", path, raw), err)
	}
	return d, nil
}

// FrameSize width and height of the first video stream
func (p *Prober) FrameSize(ctx context.Context, path string) (int, int, error) {
	out, err := p.runner.Run(ctx, "", p.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		path,
	)
	if err != nil {
		return 0, 0, err
	}

	raw := strings.TrimSpace(string(out))
	var w, h int
	if _, err := fmt.Sscanf(raw, "%dx%d", &w, &h); err != nil {
		return 0, 0, errprocess.New(errprocess.ErrToolExecution,
			fmt.Sprintf("file[%s] unreadable frame size %q", path, raw), err)
	}
	return w, h, nil
}
