// Package audio provides the soundtrack stage of a render: muxing the
// recorded audio clip onto the merged video track.
package audio

import "context"

// Muxer defines the interface for combining a video track with an audio track.
type Muxer interface {
	// Mux copies the first video stream of videoPath and re-encodes the first
	// audio stream of audioPath into dst. The output ends with the shorter of
	// the two inputs.
	Mux(ctx context.Context, videoPath, audioPath, dst string) error

	// Duration returns the duration of a media file in seconds.
	Duration(ctx context.Context, path string) (float64, error)
}
