// Package server provides the HTTP server for the montage API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"mime/multipart"
	"time"
)

// RenderForm is the parsed multipart body of POST /render.
type RenderForm struct {
	// Media are the photos and videos, in the order the client sent them.
	Media []*multipart.FileHeader `validate:"required,min=1"`
	// Audio is the soundtrack.
	Audio *multipart.FileHeader `validate:"required"`
}

// SkippedItemResponse describes an upload that was dropped as unsupported.
type SkippedItemResponse struct {
	// Ordinal is the zero-based position of the item in the request.
	Ordinal int `json:"ordinal"`
	// Name is the client-side file name.
	Name string `json:"name,omitempty"`
	// MIMEType is the declared or detected content type.
	MIMEType string `json:"mime_type"`
}

// RenderResponse is the HTTP response for getting render details.
type RenderResponse struct {
	// ID is the unique identifier for the render.
	ID string `json:"id"`
	// Status is the current render status.
	Status string `json:"status"`
	// ItemCount is the number of media items received.
	ItemCount int `json:"item_count"`
	// Skipped lists the items dropped as unsupported.
	Skipped []SkippedItemResponse `json:"skipped"`
	// Error contains the failure message if the render failed.
	Error string `json:"error,omitempty"`
	// OutputFile is the file name of the retained artifact.
	OutputFile string `json:"output_file,omitempty"`
	// ArtifactURL is the S3 URL of the artifact, if published.
	ArtifactURL string `json:"artifact_url,omitempty"`
	// CreatedAt is when the render was received.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the render last changed.
	UpdatedAt time.Time `json:"updated_at"`
	// CompletedAt is when the render reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListRendersResponse is the HTTP response for listing renders.
type ListRendersResponse struct {
	Renders []RenderResponse `json:"renders"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
