package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/montage-api/internal/media"
	"github.com/maauso/montage-api/internal/metrics"
	"github.com/maauso/montage-api/internal/render"
	"github.com/maauso/montage-api/internal/storage"
)

// mockProcessor implements media.Processor for testing.
type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) Normalize(ctx context.Context, item media.Item, dst string) error {
	args := m.Called(ctx, item, dst)
	return args.Error(0)
}

func (m *mockProcessor) Concat(ctx context.Context, segmentPaths []string, manifestPath, dst string) error {
	args := m.Called(ctx, segmentPaths, manifestPath, dst)
	return args.Error(0)
}

func (m *mockProcessor) Probe(ctx context.Context, path string) (media.Info, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(media.Info), args.Error(1)
}

// mockMuxer implements audio.Muxer for testing.
type mockMuxer struct {
	mock.Mock
}

func (m *mockMuxer) Mux(ctx context.Context, videoPath, audioPath, dst string) error {
	args := m.Called(ctx, videoPath, audioPath, dst)
	return args.Error(0)
}

func (m *mockMuxer) Duration(ctx context.Context, path string) (float64, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(float64), args.Error(1)
}

type testEnv struct {
	handlers  *Handlers
	router    http.Handler
	processor *mockProcessor
	muxer     *mockMuxer
	store     *storage.LocalStorage
}

func newTestEnv(t *testing.T, opts ...HandlerOption) *testEnv {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewLocalStorage(storage.Dirs{
		Intake: filepath.Join(root, "uploads"),
		Temp:   filepath.Join(root, "temp"),
		Output: filepath.Join(root, "output"),
	})
	require.NoError(t, err)

	processor := &mockProcessor{}
	muxer := &mockMuxer{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	svc := render.NewService(render.NewMemoryRepository(), processor, muxer, store, logger)
	h := NewHandlers(svc, logger, opts...)

	return &testEnv{
		handlers:  h,
		router:    NewRouter(h, logger, DefaultConfig()),
		processor: processor,
		muxer:     muxer,
		store:     store,
	}
}

// expectSuccess makes every stage succeed, writing placeholder outputs.
func (e *testEnv) expectSuccess() {
	write := func(idx int, content string) func(mock.Arguments) {
		return func(args mock.Arguments) {
			_ = os.WriteFile(args.String(idx), []byte(content), 0600)
		}
	}
	e.processor.On("Normalize", mock.Anything, mock.Anything, mock.Anything).Run(write(2, "segment")).Return(nil)
	e.processor.On("Concat", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(write(3, "merged")).Return(nil)
	e.processor.On("Probe", mock.Anything, mock.Anything).Return(media.Info{Width: 1280, Height: 720, Duration: 6}, nil)
	e.muxer.On("Duration", mock.Anything, mock.Anything).Return(4.0, nil)
	e.muxer.On("Mux", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(write(3, "final-mp4")).Return(nil)
}

type part struct {
	field       string
	filename    string
	contentType string
	body        string
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.filename))
		if p.contentType != "" {
			hdr.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = io.WriteString(w, p.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postRender(t *testing.T, e *testEnv, parts ...part) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, parts...)
	req := httptest.NewRequest(http.MethodPost, "/render", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

// assertNoFiles verifies that nothing was left in the intake and temp directories.
func assertNoFiles(t *testing.T, e *testEnv) {
	t.Helper()
	for _, dir := range []string{e.store.Dirs().Intake, e.store.Dirs().Temp} {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, "expected %s to be empty", dir)
	}
}

var (
	jpegPart  = part{field: "media", filename: "beach.jpg", contentType: "image/jpeg", body: "jpeg"}
	mp4Part   = part{field: "media", filename: "waves.mp4", contentType: "video/mp4", body: "mp4"}
	textPart  = part{field: "media", filename: "notes.txt", contentType: "text/plain", body: "hello"}
	audioPart = part{field: "audio", filename: "voice.m4a", contentType: "audio/mp4", body: "m4a"}
)

func TestHealth(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	e.handlers.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestCreateRender_Success(t *testing.T) {
	e := newTestEnv(t)
	e.expectSuccess()

	rec := postRender(t, e, jpegPart, mp4Part, audioPart)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	renderID := rec.Header().Get("X-Render-ID")
	require.NotEmpty(t, renderID)
	assert.Equal(t, fmt.Sprintf("attachment; filename=%q", renderID+".mp4"), rec.Header().Get("Content-Disposition"))
	assert.Empty(t, rec.Header().Get("X-Skipped-Items"))
	assert.Equal(t, "final-mp4", rec.Body.String())

	// Uploads and intermediates are gone; the artifact is retained.
	assertNoFiles(t, e)
	assert.FileExists(t, e.store.OutputPath(renderID))

	// Items reach the pipeline in request order with their declared kinds.
	var kinds []media.Kind
	for _, call := range e.processor.Calls {
		if call.Method == "Normalize" {
			kinds = append(kinds, call.Arguments.Get(1).(media.Item).Kind)
		}
	}
	assert.Equal(t, []media.Kind{media.KindImage, media.KindVideo}, kinds)
}

func TestCreateRender_SkippedItemsHeader(t *testing.T) {
	e := newTestEnv(t)
	e.expectSuccess()

	rec := postRender(t, e, textPart, jpegPart, textPart, audioPart)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0,2", rec.Header().Get("X-Skipped-Items"))
	e.processor.AssertNumberOfCalls(t, "Normalize", 1)
}

func TestCreateRender_NoMedia(t *testing.T) {
	e := newTestEnv(t)

	rec := postRender(t, e, audioPart)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, CodeNoMedia, resp.Code)
	assert.NotEmpty(t, resp.Error)

	assertNoFiles(t, e)
	e.processor.AssertNotCalled(t, "Normalize", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateRender_NoAudio(t *testing.T) {
	e := newTestEnv(t)

	rec := postRender(t, e, jpegPart)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeNoAudio, decodeError(t, rec).Code)

	assertNoFiles(t, e)
	e.processor.AssertNotCalled(t, "Normalize", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateRender_NoMediaAndNoAudio(t *testing.T) {
	e := newTestEnv(t)

	rec := postRender(t, e)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeNoMedia, decodeError(t, rec).Code)
}

func TestCreateRender_TooManyMedia(t *testing.T) {
	e := newTestEnv(t, WithMaxMediaItems(2))

	rec := postRender(t, e, jpegPart, jpegPart, jpegPart, audioPart)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeTooManyMedia, decodeError(t, rec).Code)
	assertNoFiles(t, e)
}

func TestCreateRender_AllUnsupported(t *testing.T) {
	e := newTestEnv(t)

	rec := postRender(t, e, textPart, textPart, audioPart)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeNoValidMedia, decodeError(t, rec).Code)

	assertNoFiles(t, e)
	e.processor.AssertNotCalled(t, "Normalize", mock.Anything, mock.Anything, mock.Anything)
	e.muxer.AssertNotCalled(t, "Mux", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateRender_SniffsUndeclaredType(t *testing.T) {
	e := newTestEnv(t)
	e.expectSuccess()

	png := "\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00"
	rec := postRender(t, e,
		part{field: "media", filename: "photo", contentType: "application/octet-stream", body: png},
		audioPart,
	)

	require.Equal(t, http.StatusOK, rec.Code)
	call := e.processor.Calls[0]
	assert.Equal(t, media.KindImage, call.Arguments.Get(1).(media.Item).Kind)
}

func TestCreateRender_ProcessingFailed(t *testing.T) {
	e := newTestEnv(t)
	e.processor.On("Normalize", mock.Anything, mock.Anything, mock.Anything).
		Return(&media.FFmpegError{Args: []string{"-i", "x"}, Stderr: "Invalid data found", Err: errors.New("exit status 1")})

	rec := postRender(t, e, jpegPart, audioPart)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, CodeProcessingFailed, resp.Code)
	assert.NotContains(t, resp.Error, "Invalid data found")

	assertNoFiles(t, e)
}

func TestCreateRender_ArtifactUnreadable(t *testing.T) {
	e := newTestEnv(t)
	e.processor.On("Normalize", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	e.processor.On("Concat", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	e.processor.On("Probe", mock.Anything, mock.Anything).Return(media.Info{}, nil)
	e.muxer.On("Duration", mock.Anything, mock.Anything).Return(4.0, nil)
	// Mux reports success without writing the artifact.
	e.muxer.On("Mux", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	delivered := testutil.ToFloat64(metrics.RendersTotal.WithLabelValues(metrics.OutcomeDelivered))
	failed := testutil.ToFloat64(metrics.RendersTotal.WithLabelValues(metrics.OutcomeFailed))

	rec := postRender(t, e, jpegPart, audioPart)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeProcessingFailed, decodeError(t, rec).Code)
	assertNoFiles(t, e)

	renders, err := e.handlers.service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, renders, 1)
	assert.Equal(t, render.StatusFailed, renders[0].Status)
	assert.Contains(t, renders[0].Error, "deliver artifact")
	assert.False(t, renders[0].CompletedAt.IsZero())

	assert.InDelta(t, delivered, testutil.ToFloat64(metrics.RendersTotal.WithLabelValues(metrics.OutcomeDelivered)), 0)
	assert.InDelta(t, failed+1, testutil.ToFloat64(metrics.RendersTotal.WithLabelValues(metrics.OutcomeFailed)), 0)
}

func TestCreateRender_InvalidForm(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/render", strings.NewReader(`{"media": []}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidForm, decodeError(t, rec).Code)
}

func TestCreateRender_UploadTooLarge(t *testing.T) {
	e := newTestEnv(t, WithMaxUploadBytes(64))

	big := part{field: "media", filename: "big.jpg", contentType: "image/jpeg", body: strings.Repeat("x", 1024)}
	rec := postRender(t, e, big, audioPart)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, CodeUploadTooLarge, decodeError(t, rec).Code)
}

func TestGetRender(t *testing.T) {
	e := newTestEnv(t)
	e.expectSuccess()

	rec := postRender(t, e, jpegPart, textPart, audioPart)
	require.Equal(t, http.StatusOK, rec.Code)
	renderID := rec.Header().Get("X-Render-ID")

	req := httptest.NewRequest(http.MethodGet, "/renders/"+renderID, nil)
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp RenderResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, renderID, resp.ID)
	assert.Equal(t, string(render.StatusCleanedUp), resp.Status)
	assert.Equal(t, 2, resp.ItemCount)
	require.Len(t, resp.Skipped, 1)
	assert.Equal(t, 1, resp.Skipped[0].Ordinal)
	assert.Equal(t, "notes.txt", resp.Skipped[0].Name)
	assert.Equal(t, renderID+".mp4", resp.OutputFile)
	assert.NotNil(t, resp.CompletedAt)
}

func TestGetRender_NotFound(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/renders/nonexistent", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeRenderNotFound, decodeError(t, rec).Code)
}

func TestListRenders(t *testing.T) {
	e := newTestEnv(t)

	rec := postRender(t, e, textPart, audioPart)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/renders", nil)
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListRendersResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Renders, 1)
	assert.Equal(t, string(render.StatusFailed), resp.Renders[0].Status)
	assert.Equal(t, "no valid media items", resp.Renders[0].Error)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)

	// Record at least one request before scraping.
	e.router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "montage_http_requests_total")
}

func TestSafeExt(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"photo.JPG", ".jpg"},
		{"clip.mp4", ".mp4"},
		{"noext", ""},
		{"weird.j p g", ""},
		{"archive.verylongext", ""},
		{"trail.", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, safeExt(tt.name))
		})
	}
}
