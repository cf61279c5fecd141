// Package render provides the Render aggregate, which tracks one request
// through the normalize → concat → mux → deliver pipeline, together with
// its repository and the orchestrating Service.
package render

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/montage-api/internal/render/id"
)

// Status represents the current stage of a Render.
type Status string

const (
	// StatusReceived indicates the uploads are accepted and no tool has run yet.
	StatusReceived Status = "RECEIVED"
	// StatusNormalizing indicates items are being converted into segments.
	StatusNormalizing Status = "NORMALIZING"
	// StatusConcatenating indicates segments are being joined.
	StatusConcatenating Status = "CONCATENATING"
	// StatusMuxing indicates the soundtrack is being muxed in.
	StatusMuxing Status = "MUXING"
	// StatusDelivering indicates the final artifact is being streamed.
	StatusDelivering Status = "DELIVERING"
	// StatusCleanedUp indicates delivery finished and every temporary file is gone.
	StatusCleanedUp Status = "CLEANED_UP"
	// StatusCleanupPartialFailure indicates delivery finished but some files could not be removed.
	StatusCleanupPartialFailure Status = "CLEANUP_PARTIAL_FAILURE"
	// StatusFailed indicates the render stopped before the artifact was delivered.
	StatusFailed Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusReceived:              {StatusNormalizing, StatusFailed},
	StatusNormalizing:           {StatusConcatenating, StatusFailed},
	StatusConcatenating:         {StatusMuxing, StatusFailed},
	StatusMuxing:                {StatusDelivering, StatusFailed},
	StatusDelivering:            {StatusCleanedUp, StatusCleanupPartialFailure, StatusFailed},
	StatusCleanedUp:             {},
	StatusCleanupPartialFailure: {},
	StatusFailed:                {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SkippedItem records an upload that was dropped because it is neither an
// image nor a video.
type SkippedItem struct {
	Ordinal  int    `json:"ordinal"`
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mime_type"`
}

// Render represents one montage request.
type Render struct {
	mu sync.RWMutex

	// ID is the unique identifier, also used for workspace and output names.
	ID string
	// Status is the current stage.
	Status Status
	// ItemCount is the number of media items received.
	ItemCount int
	// Skipped lists items dropped as unsupported.
	Skipped []SkippedItem
	// Error contains the failure message if the render failed.
	Error string
	// OutputPath is the retained final artifact.
	OutputPath string
	// ArtifactURL is the S3 URL when publishing is enabled.
	ArtifactURL string
	// CreatedAt is when the render was received.
	CreatedAt time.Time
	// UpdatedAt is when the render last changed.
	UpdatedAt time.Time
	// StartedAt is when normalization started.
	StartedAt time.Time
	// CompletedAt is when the render reached a terminal state.
	CompletedAt time.Time
}

// New creates a Render with a generated ID in RECEIVED status.
func New() *Render {
	return NewWithID(id.Generate())
}

// NewWithID creates a Render with the specified ID in RECEIVED status.
func NewWithID(renderID string) *Render {
	now := time.Now()
	return &Render{
		ID:        renderID,
		Status:    StatusReceived,
		Skipped:   make([]SkippedItem, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the render status.
// Returns ErrInvalidTransition if the transition is not allowed.
func (r *Render) TransitionTo(status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !canTransition(r.Status, status) {
		return ErrInvalidTransition
	}

	r.Status = status
	r.UpdatedAt = time.Now()

	switch status {
	case StatusNormalizing:
		r.StartedAt = r.UpdatedAt
	case StatusCleanedUp, StatusCleanupPartialFailure, StatusFailed:
		r.CompletedAt = r.UpdatedAt
	}

	return nil
}

// Fail transitions the render to FAILED with an error message.
func (r *Render) Fail(errMsg string) error {
	r.mu.Lock()
	r.Error = errMsg
	r.mu.Unlock()
	return r.TransitionTo(StatusFailed)
}

// GetStatus returns the current status (thread-safe).
func (r *Render) GetStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status
}

// SetItemCount records how many media items were received.
func (r *Render) SetItemCount(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ItemCount = n
	r.UpdatedAt = time.Now()
}

// AddSkipped records an unsupported item.
func (r *Render) AddSkipped(item SkippedItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Skipped = append(r.Skipped, item)
	r.UpdatedAt = time.Now()
}

// SetOutput sets the output path and optional published URL.
func (r *Render) SetOutput(outputPath, artifactURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.OutputPath = outputPath
	r.ArtifactURL = artifactURL
	r.UpdatedAt = time.Now()
}

// IsTerminal returns true if the render is in a terminal state.
func (r *Render) IsTerminal() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status == StatusCleanedUp ||
		r.Status == StatusCleanupPartialFailure ||
		r.Status == StatusFailed
}

// Clone creates a deep copy of the render for safe reads.
func (r *Render) Clone() *Render {
	r.mu.RLock()
	defer r.mu.RUnlock()

	skipped := make([]SkippedItem, len(r.Skipped))
	copy(skipped, r.Skipped)

	return &Render{
		ID:          r.ID,
		Status:      r.Status,
		ItemCount:   r.ItemCount,
		Skipped:     skipped,
		Error:       r.Error,
		OutputPath:  r.OutputPath,
		ArtifactURL: r.ArtifactURL,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}
