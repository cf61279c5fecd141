package media

import (
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Fixed output properties of every segment and of the merged track.
const (
	TargetWidth   = 1280
	TargetHeight  = 720
	TargetFPS     = 30
	PixelFormat   = "yuv420p"
	ImageDuration = 3 * time.Second
)

// Kind classifies a media item by its MIME type.
type Kind string

const (
	// KindImage is any image/* item; it becomes a fixed-duration still clip.
	KindImage Kind = "image"
	// KindVideo is any video/* item; it is re-encoded to the target format.
	KindVideo Kind = "video"
	// KindUnsupported is everything else; such items are skipped.
	KindUnsupported Kind = "unsupported"
)

// Supported reports whether items of this kind produce a segment.
func (k Kind) Supported() bool {
	return k == KindImage || k == KindVideo
}

// KindFromMIME classifies a MIME type by its top-level type.
func KindFromMIME(mimeType string) Kind {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mt, "image/"):
		return KindImage
	case strings.HasPrefix(mt, "video/"):
		return KindVideo
	default:
		return KindUnsupported
	}
}

// ResolveMIME returns the declared MIME type, or sniffs the file content when
// the client declared nothing useful.
func ResolveMIME(declared, path string) (string, error) {
	d := strings.TrimSpace(declared)
	if d != "" && !strings.EqualFold(d, "application/octet-stream") {
		return d, nil
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect mime type: %w", err)
	}
	return mt.String(), nil
}

// Item is one uploaded photo or video, in the position the user chose.
type Item struct {
	// Ordinal is the zero-based position in the user's ordering.
	Ordinal int
	// Kind is derived from MIMEType.
	Kind Kind
	// Path is the location of the uploaded original in the intake directory.
	Path string
	// MIMEType is the declared or sniffed content type.
	MIMEType string
	// Name is the client-side file name, for reporting only.
	Name string
}

// NewItem builds an Item and classifies it from its MIME type.
func NewItem(ordinal int, path, mimeType, name string) Item {
	return Item{
		Ordinal:  ordinal,
		Kind:     KindFromMIME(mimeType),
		Path:     path,
		MIMEType: mimeType,
		Name:     name,
	}
}

// Segment is the normalized output of one Item.
type Segment struct {
	// Ordinal is the ordinal of the source item.
	Ordinal int
	// Path is the normalized clip inside the render workspace.
	Path string
}

// SegmentPaths returns the paths of segments in order.
func SegmentPaths(segments []Segment) []string {
	paths := make([]string, len(segments))
	for i, seg := range segments {
		paths[i] = seg.Path
	}
	return paths
}

// SegmentFileName returns the workspace file name for the segment of ordinal.
func SegmentFileName(ordinal int) string {
	return fmt.Sprintf("segment_%03d.mp4", ordinal)
}
