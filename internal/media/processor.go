// Package media provides per-item normalization and concatenation of
// photos and videos into a uniform 1280x720 / 30fps video track.
package media

import "context"

// Processor defines the interface for the video stages of a render.
// Implementations should use ffmpeg or similar tools for media manipulation.
type Processor interface {
	// Normalize converts one media item into a uniform segment written to dst.
	// Images become silent fixed-duration clips; videos are re-encoded to the
	// target resolution, frame rate and pixel format without trimming.
	// Returns ErrUnsupportedMedia for items that are neither image nor video.
	Normalize(ctx context.Context, item Item, dst string) error

	// Concat writes a concat manifest for segmentPaths to manifestPath and
	// joins the segments, in the given order, into a single silent video at dst.
	// The output is always re-encoded to the target format.
	Concat(ctx context.Context, segmentPaths []string, manifestPath, dst string) error

	// Probe reports the stream properties and duration of a media file.
	Probe(ctx context.Context, path string) (Info, error)
}
