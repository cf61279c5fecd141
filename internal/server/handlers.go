package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/montage-api/internal/media"
	"github.com/maauso/montage-api/internal/render"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeNoMedia          = "NO_MEDIA"
	CodeNoAudio          = "NO_AUDIO"
	CodeTooManyMedia     = "TOO_MANY_MEDIA"
	CodeInvalidForm      = "INVALID_FORM"
	CodeUploadTooLarge   = "UPLOAD_TOO_LARGE"
	CodeNoValidMedia     = "NO_VALID_MEDIA"
	CodeProcessingFailed = "PROCESSING_FAILED"
	CodeRenderNotFound   = "RENDER_NOT_FOUND"
)

const (
	defaultMaxMediaItems  = 50
	defaultMaxUploadBytes = 512 << 20
	// multipartMemory is how much of a form is kept in memory before parts
	// spill to temporary files.
	multipartMemory = 32 << 20
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        *render.Service
	validator      *validator.Validate
	logger         *slog.Logger
	maxMediaItems  int
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxMediaItems limits how many media parts a single render may carry.
func WithMaxMediaItems(n int) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxMediaItems = n
		}
	}
}

// WithMaxUploadBytes limits the size of a POST /render body.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *render.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:        service,
		validator:      validator.New(),
		logger:         logger,
		maxMediaItems:  defaultMaxMediaItems,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateRender handles POST /render requests.
//
// The body is a multipart form with one or more "media" parts, in display
// order, and one "audio" part. On success the rendered MP4 is streamed back
// as an attachment.
func (h *Handlers) CreateRender(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", maxErr.Limit), CodeUploadTooLarge)
			return
		}
		h.logger.Warn("failed to parse multipart form", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid multipart form", CodeInvalidForm)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	form := RenderForm{Media: r.MultipartForm.File["media"]}
	if audio := r.MultipartForm.File["audio"]; len(audio) > 0 {
		form.Audio = audio[0]
	}

	if status, msg, code := h.validateForm(form); code != "" {
		writeError(w, status, msg, code)
		return
	}

	ctx := r.Context()

	rnd, err := h.service.Create(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create render", CodeProcessingFailed)
		return
	}

	in, intake, err := h.saveUploads(ctx, rnd, form)
	if err != nil {
		h.service.Abort(ctx, rnd, intake, err)
		writeError(w, http.StatusInternalServerError, "failed to store uploads", CodeProcessingFailed)
		return
	}

	res, err := h.service.Process(ctx, rnd, in)
	if err != nil {
		if errors.Is(err, render.ErrNoValidMedia) {
			writeError(w, http.StatusBadRequest, "no image or video items in request", CodeNoValidMedia)
			return
		}
		h.logger.Error("render failed",
			slog.String("render_id", rnd.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to render video", CodeProcessingFailed)
		return
	}

	if err := h.deliver(w, r, res); err != nil {
		h.service.FailDelivery(ctx, res, err)
		writeError(w, http.StatusInternalServerError, "failed to read rendered video", CodeProcessingFailed)
		return
	}

	// Cleanup failures are logged by the service and never change the response.
	_ = h.service.Finish(ctx, res)
}

// validateForm checks presence and limits before anything touches disk.
// It returns an empty code when the form is acceptable.
func (h *Handlers) validateForm(form RenderForm) (status int, msg, code string) {
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Audio" {
			return http.StatusBadRequest, "audio file is required", CodeNoAudio
		}
		return http.StatusBadRequest, "at least one media file is required", CodeNoMedia
	}

	if err := h.validator.Var(form.Media, "max="+strconv.Itoa(h.maxMediaItems)); err != nil {
		return http.StatusBadRequest,
			fmt.Sprintf("at most %d media files are allowed", h.maxMediaItems), CodeTooManyMedia
	}

	return 0, "", ""
}

// saveUploads copies every part into the render's intake directory and
// builds the pipeline input. It returns the paths written so far, even on error.
func (h *Handlers) saveUploads(ctx context.Context, rnd *render.Render, form RenderForm) (render.Input, []string, error) {
	var (
		in     render.Input
		intake []string
	)

	for i, fh := range form.Media {
		path, err := h.saveUpload(ctx, rnd, fmt.Sprintf("media_%03d%s", i, safeExt(fh.Filename)), fh)
		if err != nil {
			return in, intake, err
		}
		intake = append(intake, path)

		mimeType, err := media.ResolveMIME(fh.Header.Get("Content-Type"), path)
		if err != nil {
			return in, intake, err
		}
		in.Items = append(in.Items, media.NewItem(i, path, mimeType, filepath.Base(fh.Filename)))
	}

	path, err := h.saveUpload(ctx, rnd, "audio"+safeExt(form.Audio.Filename), form.Audio)
	if err != nil {
		return in, intake, err
	}
	intake = append(intake, path)
	in.AudioPath = path

	return in, intake, nil
}

func (h *Handlers) saveUpload(ctx context.Context, rnd *render.Render, name string, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer func() { _ = f.Close() }()

	return h.service.SaveUpload(ctx, rnd, name, f)
}

// deliver streams the final artifact as an attachment. It returns an error
// only if nothing has been written to w; an interrupted stream is logged.
func (h *Handlers) deliver(w http.ResponseWriter, r *http.Request, res *render.Result) error {
	f, err := h.service.OpenArtifact(r.Context(), res)
	if err != nil {
		h.logger.Error("failed to open artifact",
			slog.String("render_id", res.RenderID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	name := res.RenderID + ".mp4"
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-Render-ID", res.RenderID)
	if len(res.Skipped) > 0 {
		ordinals := make([]string, len(res.Skipped))
		for i, s := range res.Skipped {
			ordinals[i] = strconv.Itoa(s.Ordinal)
		}
		w.Header().Set("X-Skipped-Items", strings.Join(ordinals, ","))
	}
	if res.ArtifactURL != "" {
		w.Header().Set("X-Artifact-URL", res.ArtifactURL)
	}

	if rs, ok := f.(io.ReadSeeker); ok {
		http.ServeContent(w, r, name, time.Time{}, rs)
		return nil
	}

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		h.logger.Warn("artifact stream interrupted",
			slog.String("render_id", res.RenderID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// GetRender handles GET /renders/{id} requests.
func (h *Handlers) GetRender(w http.ResponseWriter, r *http.Request) {
	renderID := r.PathValue("id")
	if renderID == "" {
		writeError(w, http.StatusBadRequest, "render ID is required", "MISSING_RENDER_ID")
		return
	}

	found, err := h.service.Get(r.Context(), renderID)
	if err != nil {
		if errors.Is(err, render.ErrRenderNotFound) {
			writeError(w, http.StatusNotFound, "render not found", CodeRenderNotFound)
			return
		}
		h.logger.Error("failed to get render",
			slog.String("render_id", renderID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get render", "RENDER_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toRenderResponse(found))
}

// ListRenders handles GET /renders requests.
func (h *Handlers) ListRenders(w http.ResponseWriter, r *http.Request) {
	renders, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list renders", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list renders", "RENDER_FETCH_FAILED")
		return
	}

	resp := ListRendersResponse{Renders: make([]RenderResponse, 0, len(renders))}
	for _, rnd := range renders {
		resp.Renders = append(resp.Renders, toRenderResponse(rnd))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toRenderResponse(rnd *render.Render) RenderResponse {
	resp := RenderResponse{
		ID:          rnd.ID,
		Status:      string(rnd.Status),
		ItemCount:   rnd.ItemCount,
		Skipped:     make([]SkippedItemResponse, 0, len(rnd.Skipped)),
		Error:       rnd.Error,
		ArtifactURL: rnd.ArtifactURL,
		CreatedAt:   rnd.CreatedAt,
		UpdatedAt:   rnd.UpdatedAt,
	}
	for _, s := range rnd.Skipped {
		resp.Skipped = append(resp.Skipped, SkippedItemResponse{
			Ordinal:  s.Ordinal,
			Name:     s.Name,
			MIMEType: s.MIMEType,
		})
	}
	if rnd.OutputPath != "" {
		resp.OutputFile = filepath.Base(rnd.OutputPath)
	}
	if !rnd.CompletedAt.IsZero() {
		completed := rnd.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}

// safeExt returns the lowercased extension of name if it is short and
// alphanumeric, and "" otherwise.
func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
