package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Static errors for media operations.
var (
	// ErrUnsupportedMedia is returned when an item is neither an image nor a video.
	ErrUnsupportedMedia = errors.New("unsupported media type")
	// ErrNoSegments is returned when no segment paths are provided for joining.
	ErrNoSegments = errors.New("no segment paths provided")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
)

// scaleFilter is shared by both normalizers so every segment agrees on
// geometry and sample aspect ratio before concatenation.
var scaleFilter = fmt.Sprintf("scale=%d:%d,setsar=1", TargetWidth, TargetHeight)

// FFmpegProcessor implements Processor using the ffmpeg CLI.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// Empty paths default to "ffmpeg" and "ffprobe" (found via PATH).
func NewFFmpegProcessor(ffmpegPath, ffprobePath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Verify interface implementation at compile time.
var _ Processor = (*FFmpegProcessor)(nil)

// Normalize converts item into a uniform segment at dst.
func (p *FFmpegProcessor) Normalize(ctx context.Context, item Item, dst string) error {
	switch item.Kind {
	case KindImage:
		return p.runFFmpeg(ctx, imageArgs(item.Path, dst))
	case KindVideo:
		return p.runFFmpeg(ctx, videoArgs(item.Path, dst))
	default:
		return fmt.Errorf("%w: item %d (%s)", ErrUnsupportedMedia, item.Ordinal, item.MIMEType)
	}
}

// imageArgs loops a still image into a silent clip of ImageDuration.
func imageArgs(src, dst string) []string {
	return []string{
		"-y",
		"-loop", "1", // Repeat the single frame
		"-i", src,
		"-t", strconv.Itoa(int(ImageDuration.Seconds())),
		"-r", strconv.Itoa(TargetFPS),
		"-vf", scaleFilter + ",format=" + PixelFormat,
		"-c:v", "libx264",
		"-pix_fmt", PixelFormat,
		"-an",
		dst,
	}
}

// videoArgs re-encodes a video to the target format, keeping its full length.
func videoArgs(src, dst string) []string {
	return []string{
		"-y",
		"-i", src,
		"-vf", fmt.Sprintf("%s,fps=%d,format=%s", scaleFilter, TargetFPS, PixelFormat),
		"-r", strconv.Itoa(TargetFPS),
		"-c:v", "libx264",
		"-pix_fmt", PixelFormat,
		"-c:a", "aac",
		dst,
	}
}

// Concat joins segments through the concat demuxer, forcing a re-encode so
// that residual differences between segments cannot break the join.
func (p *FFmpegProcessor) Concat(ctx context.Context, segmentPaths []string, manifestPath, dst string) error {
	if len(segmentPaths) == 0 {
		return ErrNoSegments
	}

	if err := createManifest(manifestPath, segmentPaths); err != nil {
		return err
	}

	args := []string{
		"-y",
		"-f", "concat", // Use concat demuxer
		"-safe", "0", // Allow absolute paths
		"-i", manifestPath,
		"-c:v", "libx264",
		"-pix_fmt", PixelFormat,
		"-r", strconv.Itoa(TargetFPS),
		"-an", // The soundtrack is muxed in later
		dst,
	}
	return p.runFFmpeg(ctx, args)
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// Info describes the first video stream and container of a media file.
type Info struct {
	Width    int
	Height   int
	FPS      float64
	Duration float64 // seconds
	HasAudio bool
	HasVideo bool
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe and returns the stream properties of path.
func (p *FFmpegProcessor) Probe(ctx context.Context, path string) (Info, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "stream=codec_type,width,height,r_frame_rate:format=duration",
		"-of", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Info{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return Info{}, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	return parseProbeOutput(stdout.Bytes())
}

// parseProbeOutput decodes ffprobe JSON output into an Info.
func parseProbeOutput(data []byte) (Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Info{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	var info Info
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if info.HasVideo {
				continue
			}
			info.HasVideo = true
			info.Width = s.Width
			info.Height = s.Height
			info.FPS = parseFrameRate(s.RFrameRate)
		case "audio":
			info.HasAudio = true
		}
	}

	if d := strings.TrimSpace(out.Format.Duration); d != "" {
		dur, err := strconv.ParseFloat(d, 64)
		if err != nil {
			return Info{}, fmt.Errorf("parse duration: %w", err)
		}
		info.Duration = dur
	}

	return info, nil
}

// parseFrameRate converts an ffprobe rational such as "30000/1001" to a float.
func parseFrameRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
