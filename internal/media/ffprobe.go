package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/stwalsh4118/couchcast/internal/logger"
)

// DefaultProbeTimeout bounds a single ffprobe run
const DefaultProbeTimeout = 30 * time.Second

// Common errors
var (
	ErrProbeNotFound = errors.New("ffprobe not found in PATH")
	ErrInvalidFile   = errors.New("invalid or corrupted video file")
	ErrTimeout       = errors.New("ffprobe execution timed out")
)

// probeOutput is the subset of ffprobe's JSON we read
type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width,omitempty"`
		Height    int    `json:"height,omitempty"`
		Duration  string `json:"duration,omitempty"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

// AssetInfo is what a probe learns about a downloaded asset
type AssetInfo struct {
	Duration   int64 // seconds
	VideoCodec string
	AudioCodec string
	Width      int
	Height     int
	FileSize   int64
}

// Prober runs ffprobe against local files
type Prober struct {
	binary  string
	timeout time.Duration
}

// NewProber creates a prober for the given ffprobe binary, "ffprobe" when empty
func NewProber(binary string, timeout time.Duration) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{binary: binary, timeout: timeout}
}

// Available reports whether the ffprobe binary can be found
func (p *Prober) Available() bool {
	_, err := exec.LookPath(p.binary)
	return err == nil
}

// Probe executes ffprobe on the given file and returns what it found
func (p *Prober) Probe(ctx context.Context, filePath string) (*AssetInfo, error) {
	if !p.Available() {
		return nil, ErrProbeNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx,
		p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)

	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidFile, exitErr.Stderr)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	info, err := parseProbeOutput(output)
	if err != nil {
		return nil, err
	}

	logger.Log.Debug().
		Str("file_path", filePath).
		Int64("duration", info.Duration).
		Str("video_codec", info.VideoCodec).
		Str("audio_codec", info.AudioCodec).
		Msg("Probed asset")

	return info, nil
}

// parseProbeOutput converts ffprobe JSON into AssetInfo
func parseProbeOutput(raw []byte) (*AssetInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &AssetInfo{}
	var streamDuration string
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
				info.Width = s.Width
				info.Height = s.Height
				streamDuration = s.Duration
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}

	// Stream duration first, then the container's
	for _, d := range []string{streamDuration, out.Format.Duration} {
		if d == "" {
			continue
		}
		if f, err := strconv.ParseFloat(d, 64); err == nil && f > 0 {
			info.Duration = int64(f)
			break
		}
	}

	if out.Format.Size != "" {
		if size, err := strconv.ParseInt(out.Format.Size, 10, 64); err == nil {
			info.FileSize = size
		}
	}

	if info.Duration == 0 {
		return nil, fmt.Errorf("%w: could not determine duration", ErrInvalidFile)
	}
	return info, nil
}
