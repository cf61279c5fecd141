package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/maauso/montage-api/internal/audio"
	"github.com/maauso/montage-api/internal/media"
	"github.com/maauso/montage-api/internal/metrics"
	"github.com/maauso/montage-api/internal/storage"
)

// ErrNoValidMedia is returned when every media item of a render is unsupported.
var ErrNoValidMedia = errors.New("no valid media items")

const (
	defaultMaxConcurrentRenders = 2
	manifestFileName            = "concat.txt"
	mergedFileName              = "merged.mp4"
	artifactKeyPrefix           = "renders/"
)

// Pipeline stage names used in logs and metrics.
const (
	stageNormalize = "normalize"
	stageConcat    = "concat"
	stageMux       = "mux"
	stagePublish   = "publish"
)

// Input contains the uploaded files of a render.
type Input struct {
	// Items are the media items in the user's order.
	Items []media.Item
	// AudioPath is the uploaded soundtrack in the intake directory.
	AudioPath string
}

// intakePaths returns every uploaded file of the input.
func (in Input) intakePaths() []string {
	paths := make([]string, 0, len(in.Items)+1)
	for _, item := range in.Items {
		paths = append(paths, item.Path)
	}
	if in.AudioPath != "" {
		paths = append(paths, in.AudioPath)
	}
	return paths
}

// Result is a render that is ready to be delivered.
// It must be passed to Service.Finish once delivery ends.
type Result struct {
	// RenderID identifies the render.
	RenderID string
	// OutputPath is the final artifact on local disk.
	OutputPath string
	// ArtifactURL is set when the artifact was published to S3.
	ArtifactURL string
	// Skipped lists the items that were dropped as unsupported.
	Skipped []SkippedItem

	render    *Render
	intake    []string
	workspace string
}

// Option configures a Service.
type Option func(*Service)

// WithMaxConcurrentRenders bounds how many renders run the pipeline at once.
func WithMaxConcurrentRenders(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithToolTimeout bounds each ffmpeg invocation. Zero disables the limit.
func WithToolTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.toolTimeout = d
		}
	}
}

// WithPublishToS3 uploads every final artifact to S3 before delivery.
func WithPublishToS3(enabled bool) Option {
	return func(s *Service) {
		s.publishToS3 = enabled
	}
}

// Service orchestrates the render pipeline: normalize every item, concatenate
// the segments, mux the soundtrack, then hand the artifact over for delivery.
//
// Each render gets its own workspace under the temp directory. The intake
// files and the workspace are removed on every exit path; only the final
// artifact in the output directory is retained.
type Service struct {
	repo      Repository
	processor media.Processor
	muxer     audio.Muxer
	store     storage.Storage
	logger    *slog.Logger

	sem         *semaphore.Weighted
	toolTimeout time.Duration
	publishToS3 bool
}

// NewService creates a new render Service.
func NewService(
	repo Repository,
	processor media.Processor,
	muxer audio.Muxer,
	store storage.Storage,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:      repo,
		processor: processor,
		muxer:     muxer,
		store:     store,
		logger:    logger,
		sem:       semaphore.NewWeighted(defaultMaxConcurrentRenders),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create creates a new render in RECEIVED status and persists it.
func (s *Service) Create(ctx context.Context) (*Render, error) {
	r := New()

	if err := s.repo.Save(ctx, r); err != nil {
		s.logger.Error("failed to save render",
			slog.String("render_id", r.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("save render: %w", err)
	}

	s.logger.Info("render received", slog.String("render_id", r.ID))
	return r, nil
}

// Get retrieves a render by ID.
func (s *Service) Get(ctx context.Context, id string) (*Render, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns every known render.
func (s *Service) List(ctx context.Context) ([]*Render, error) {
	return s.repo.List(ctx)
}

// SaveUpload stores one uploaded file in the intake directory of r.
func (s *Service) SaveUpload(ctx context.Context, r *Render, name string, data io.Reader) (string, error) {
	path, err := s.store.SaveIntake(ctx, r.ID, name, data)
	if err != nil {
		return "", fmt.Errorf("save upload %s: %w", name, err)
	}
	return path, nil
}

// OpenArtifact opens the final artifact of res for delivery.
// The caller is responsible for closing the returned ReadCloser.
func (s *Service) OpenArtifact(ctx context.Context, res *Result) (io.ReadCloser, error) {
	return s.store.Open(ctx, res.OutputPath)
}

// Abort fails a render that never reached the pipeline, for example because
// its uploads could not be stored, and removes the given intake files.
func (s *Service) Abort(ctx context.Context, r *Render, intake []string, cause error) {
	s.fail(ctx, r, intake, "", cause)
}

// Process runs the pipeline for r and returns the final artifact.
//
// The render waits for a free pipeline slot first. Unsupported items are
// skipped and recorded on the render; if none remain, ErrNoValidMedia is
// returned. Stages run sequentially and the first failure stops the pipeline.
// On any error the render is FAILED and all of its temporary files are gone.
func (s *Service) Process(ctx context.Context, r *Render, in Input) (*Result, error) {
	logger := s.logger.With(slog.String("render_id", r.ID))
	intake := in.intakePaths()

	r.SetItemCount(len(in.Items))

	queued := time.Now()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		err = fmt.Errorf("wait for pipeline slot: %w", err)
		s.fail(ctx, r, intake, "", err)
		return nil, err
	}
	defer s.sem.Release(1)
	metrics.RenderQueueTime.Observe(time.Since(queued).Seconds())
	metrics.RendersInProgress.Inc()
	defer metrics.RendersInProgress.Dec()

	valid := s.filterSupported(logger, r, in.Items)
	if len(valid) == 0 {
		s.fail(ctx, r, intake, "", ErrNoValidMedia)
		return nil, ErrNoValidMedia
	}

	workspace, err := s.store.NewWorkspace(ctx, r.ID)
	if err != nil {
		err = fmt.Errorf("create workspace: %w", err)
		s.fail(ctx, r, intake, "", err)
		return nil, err
	}

	result, err := s.run(ctx, logger, r, valid, in.AudioPath, workspace)
	if err != nil {
		s.fail(ctx, r, intake, workspace, err)
		return nil, err
	}

	result.render = r
	result.intake = intake
	result.workspace = workspace
	return result, nil
}

// run executes normalize, concat and mux inside workspace.
func (s *Service) run(ctx context.Context, logger *slog.Logger, r *Render, items []media.Item, audioPath, workspace string) (*Result, error) {
	// Normalize
	if err := s.transition(ctx, r, StatusNormalizing); err != nil {
		return nil, err
	}
	segments, err := s.normalize(ctx, logger, items, workspace)
	if err != nil {
		return nil, err
	}

	// Concatenate
	if err := s.transition(ctx, r, StatusConcatenating); err != nil {
		return nil, err
	}
	merged := filepath.Join(workspace, mergedFileName)
	if err := s.concat(ctx, logger, segments, workspace, merged); err != nil {
		return nil, err
	}

	// Mux
	if err := s.transition(ctx, r, StatusMuxing); err != nil {
		return nil, err
	}
	output := s.store.OutputPath(r.ID)
	if err := s.mux(ctx, logger, merged, audioPath, output); err != nil {
		return nil, err
	}

	artifactURL := s.publish(ctx, logger, r.ID, output)
	r.SetOutput(output, artifactURL)

	if err := s.transition(ctx, r, StatusDelivering); err != nil {
		return nil, err
	}

	logger.Info("render ready for delivery",
		slog.String("output", output),
		slog.Int("segments", len(segments)),
	)

	return &Result{
		RenderID:    r.ID,
		OutputPath:  output,
		ArtifactURL: artifactURL,
		Skipped:     r.Clone().Skipped,
	}, nil
}

// filterSupported drops unsupported items, recording each one on r.
func (s *Service) filterSupported(logger *slog.Logger, r *Render, items []media.Item) []media.Item {
	valid := make([]media.Item, 0, len(items))
	skipped := 0
	for _, item := range items {
		metrics.RecordItem(string(item.Kind))
		if !item.Kind.Supported() {
			logger.Warn("skipping unsupported media item",
				slog.Int("ordinal", item.Ordinal),
				slog.String("name", item.Name),
				slog.String("mime_type", item.MIMEType),
			)
			r.AddSkipped(SkippedItem{
				Ordinal:  item.Ordinal,
				Name:     item.Name,
				MIMEType: item.MIMEType,
			})
			skipped++
			continue
		}
		valid = append(valid, item)
	}
	if skipped > 0 {
		metrics.RecordSkipped(skipped)
	}
	return valid
}

// normalize converts items one by one, in order, into workspace segments.
func (s *Service) normalize(ctx context.Context, logger *slog.Logger, items []media.Item, workspace string) ([]media.Segment, error) {
	start := time.Now()
	segments := make([]media.Segment, 0, len(items))

	for _, item := range items {
		dst := filepath.Join(workspace, media.SegmentFileName(item.Ordinal))

		toolCtx, cancel := s.toolContext(ctx)
		err := s.processor.Normalize(toolCtx, item, dst)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("normalize item %d: %w", item.Ordinal, err)
		}

		logger.Debug("item normalized",
			slog.Int("ordinal", item.Ordinal),
			slog.String("kind", string(item.Kind)),
		)
		segments = append(segments, media.Segment{Ordinal: item.Ordinal, Path: dst})
	}

	s.recordStage(logger, stageNormalize, start)
	return segments, nil
}

// concat joins segments into merged through a manifest in workspace.
func (s *Service) concat(ctx context.Context, logger *slog.Logger, segments []media.Segment, workspace, merged string) error {
	start := time.Now()
	manifest := filepath.Join(workspace, manifestFileName)

	toolCtx, cancel := s.toolContext(ctx)
	defer cancel()

	if err := s.processor.Concat(toolCtx, media.SegmentPaths(segments), manifest, merged); err != nil {
		return fmt.Errorf("concatenate segments: %w", err)
	}

	s.recordStage(logger, stageConcat, start)
	s.logMerged(ctx, logger, merged)
	return nil
}

// logMerged reports the stream properties of the joined video.
func (s *Service) logMerged(ctx context.Context, logger *slog.Logger, merged string) {
	toolCtx, cancel := s.toolContext(ctx)
	defer cancel()

	info, err := s.processor.Probe(toolCtx, merged)
	if err != nil {
		logger.Warn("could not probe merged video", slog.String("error", err.Error()))
		return
	}
	logger.Info("segments joined",
		slog.Float64("video_seconds", info.Duration),
		slog.Int("width", info.Width),
		slog.Int("height", info.Height),
	)
}

// mux lays the soundtrack over merged, writing output.
func (s *Service) mux(ctx context.Context, logger *slog.Logger, merged, audioPath, output string) error {
	start := time.Now()

	durCtx, durCancel := s.toolContext(ctx)
	d, err := s.muxer.Duration(durCtx, audioPath)
	durCancel()
	if err != nil {
		logger.Warn("could not read audio duration", slog.String("error", err.Error()))
	} else {
		logger.Info("muxing soundtrack", slog.Float64("audio_seconds", d))
	}

	toolCtx, cancel := s.toolContext(ctx)
	defer cancel()

	if err := s.muxer.Mux(toolCtx, merged, audioPath, output); err != nil {
		return fmt.Errorf("mux audio: %w", err)
	}

	s.recordStage(logger, stageMux, start)
	return nil
}

// publish uploads output to S3 when enabled. A failed upload is logged and
// the render is still delivered from local disk.
func (s *Service) publish(ctx context.Context, logger *slog.Logger, renderID, output string) string {
	if !s.publishToS3 {
		return ""
	}
	start := time.Now()

	f, err := s.store.Open(ctx, output)
	if err != nil {
		logger.Warn("failed to open artifact for upload", slog.String("error", err.Error()))
		metrics.RecordStorageOperation("s3_upload", "error")
		return ""
	}
	defer func() { _ = f.Close() }()

	url, err := s.store.UploadToS3(ctx, artifactKeyPrefix+renderID+".mp4", f)
	if err != nil {
		logger.Warn("failed to publish artifact", slog.String("error", err.Error()))
		metrics.RecordStorageOperation("s3_upload", "error")
		return ""
	}

	metrics.RecordStorageOperation("s3_upload", "success")
	s.recordStage(logger, stagePublish, start)
	logger.Info("artifact published", slog.String("url", url))
	return url
}

// Finish removes the uploads and the workspace of a delivered render and
// moves it to CLEANED_UP, or CLEANUP_PARTIAL_FAILURE if anything could not be
// removed. The final artifact is kept. Cleanup failures are logged and
// returned joined; they never affect the delivered response.
func (s *Service) Finish(ctx context.Context, res *Result) error {
	ctx = context.WithoutCancel(ctx)
	r := res.render
	logger := s.logger.With(slog.String("render_id", res.RenderID))

	err := s.cleanup(ctx, logger, res.RenderID, res.intake, res.workspace)

	status := StatusCleanedUp
	outcome := metrics.OutcomeDelivered
	if err != nil {
		status = StatusCleanupPartialFailure
		outcome = metrics.OutcomeCleanupPartial
	}

	if tErr := s.transition(ctx, r, status); tErr != nil {
		logger.Error("failed to finish render", slog.String("error", tErr.Error()))
	}
	metrics.RecordRender(outcome)

	logger.Info("render finished", slog.String("status", string(status)))
	return err
}

// FailDelivery marks a render FAILED when its artifact could not be handed to
// the client. Uploads, workspace and artifact are removed like on any other
// failure. Use it instead of Finish.
func (s *Service) FailDelivery(ctx context.Context, res *Result, cause error) {
	s.fail(ctx, res.render, res.intake, res.workspace, fmt.Errorf("deliver artifact: %w", cause))
}

// fail removes every temporary file of r and marks it FAILED.
func (s *Service) fail(ctx context.Context, r *Render, intake []string, workspace string, cause error) {
	ctx = context.WithoutCancel(ctx)
	logger := s.logger.With(slog.String("render_id", r.ID))

	logger.Error("render failed", slog.String("error", cause.Error()))

	_ = s.cleanup(ctx, logger, r.ID, intake, workspace)
	if workspace != "" {
		if err := s.store.RemoveOutput(ctx, r.ID); err != nil {
			logger.Warn("failed to remove partial output", slog.String("error", err.Error()))
			metrics.RecordCleanupFailure()
		}
	}

	if err := r.Fail(cause.Error()); err != nil {
		logger.Error("failed to mark render as failed",
			slog.String("status", string(r.GetStatus())),
			slog.String("error", err.Error()),
		)
	}
	s.save(ctx, logger, r)

	if errors.Is(cause, ErrNoValidMedia) {
		metrics.RecordRender(metrics.OutcomeRejected)
	} else {
		metrics.RecordRender(metrics.OutcomeFailed)
	}
}

// cleanup deletes the intake files and, if set, the workspace. Each failure
// is logged; all of them are returned joined.
func (s *Service) cleanup(ctx context.Context, logger *slog.Logger, renderID string, intake []string, workspace string) error {
	var errs []error

	if err := s.store.RemoveIntake(ctx, renderID, intake); err != nil {
		logger.Warn("failed to remove uploads", slog.String("error", err.Error()))
		metrics.RecordCleanupFailure()
		errs = append(errs, err)
	}

	if workspace != "" {
		if err := s.store.RemoveWorkspace(ctx, workspace); err != nil {
			logger.Warn("failed to remove workspace",
				slog.String("workspace", workspace),
				slog.String("error", err.Error()),
			)
			metrics.RecordCleanupFailure()
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// transition moves r to status and persists it.
func (s *Service) transition(ctx context.Context, r *Render, status Status) error {
	if err := r.TransitionTo(status); err != nil {
		return fmt.Errorf("transition %s to %s: %w", r.GetStatus(), status, err)
	}
	s.save(ctx, s.logger.With(slog.String("render_id", r.ID)), r)
	s.logger.Debug("render status changed",
		slog.String("render_id", r.ID),
		slog.String("status", string(status)),
	)
	return nil
}

// save persists r, logging failures. The in-memory aggregate stays authoritative
// for the running pipeline.
func (s *Service) save(ctx context.Context, logger *slog.Logger, r *Render) {
	if err := s.repo.Save(ctx, r); err != nil {
		logger.Error("failed to save render", slog.String("error", err.Error()))
	}
}

// toolContext derives the context for one ffmpeg invocation.
func (s *Service) toolContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.toolTimeout > 0 {
		return context.WithTimeout(ctx, s.toolTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Service) recordStage(logger *slog.Logger, stage string, start time.Time) {
	elapsed := time.Since(start)
	metrics.RecordStage(stage, elapsed.Seconds())
	logger.Info("stage complete",
		slog.String("stage", stage),
		slog.Duration("duration", elapsed),
	)
}
