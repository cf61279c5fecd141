package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/maauso/montage-api/internal/media"
)

// ErrDurationNotFound is returned when ffmpeg output carries no Duration line.
var ErrDurationNotFound = errors.New("could not parse duration from ffmpeg output")

// durationRe matches "Duration: HH:MM:SS.frac" in ffmpeg's stderr banner.
var durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)

// FFmpegMuxer implements Muxer using ffmpeg CLI.
type FFmpegMuxer struct {
	ffmpegPath string
}

// NewFFmpegMuxer creates a new FFmpegMuxer.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
func NewFFmpegMuxer(ffmpegPath string) *FFmpegMuxer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegMuxer{ffmpegPath: ffmpegPath}
}

// Verify interface implementation at compile time.
var _ Muxer = (*FFmpegMuxer)(nil)

// Mux implements Muxer.Mux. The video is stream-copied since it is already
// normalized; only the audio is re-encoded.
func (m *FFmpegMuxer) Mux(ctx context.Context, videoPath, audioPath, dst string) error {
	args := muxArgs(videoPath, audioPath, dst)

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &media.FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

func muxArgs(videoPath, audioPath, dst string) []string {
	return []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		dst,
	}
}

// Duration returns the duration of a media file in seconds, read from the
// banner ffmpeg prints when probing an input.
func (m *FFmpegMuxer) Duration(ctx context.Context, path string) (float64, error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, m.ffmpegPath,
		"-i", path,
		"-hide_banner",
		"-f", "null", "-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg writes duration info to stderr and may exit non-zero for a null sink
	_ = cmd.Run()
	if ctx.Err() != nil {
		return 0, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
	}

	return parseDuration(stderr.String())
}

// parseDuration extracts the first Duration line from ffmpeg stderr.
func parseDuration(output string) (float64, error) {
	matches := durationRe.FindStringSubmatch(output)
	if len(matches) < 5 {
		return 0, ErrDurationNotFound
	}

	hours, _ := strconv.ParseFloat(matches[1], 64)
	minutes, _ := strconv.ParseFloat(matches[2], 64)
	seconds, _ := strconv.ParseFloat(matches[3], 64)
	frac, _ := strconv.ParseFloat(matches[4], 64)

	// Fraction precision varies between builds
	divisor := 1.0
	for i := 0; i < len(matches[4]); i++ {
		divisor *= 10
	}

	return hours*3600 + minutes*60 + seconds + frac/divisor, nil
}
