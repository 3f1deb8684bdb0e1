package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"video_processing_service/internal/streaming/domain"
	"video_processing_service/internal/streaming/media"
	"video_processing_service/internal/streaming/repository"
	errprocess "video_processing_service/pkg/err"
	"video_processing_service/pkg/logger"
	"video_processing_service/pkg/storagekey"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Transcoder 將原始影片轉成 HLS 產物
type Transcoder interface {
	Convert(ctx context.Context, inputPath, outputDir string) (*domain.ConversionResult, error)
}

// WorkerMetrics 轉檔流程的觀測點
type WorkerMetrics interface {
	JobStarted()
	JobFinished(outcome string, elapsed time.Duration)
	ArtifactUploaded(bytes int64)
}

type nopMetrics struct{}

func (nopMetrics) JobStarted()                       {}
func (nopMetrics) JobFinished(string, time.Duration) {}
func (nopMetrics) ArtifactUploaded(int64)            {}

// WorkerOptions processing worker setting
type WorkerOptions struct {
	Policy            domain.RetryPolicy
	ScratchDir        string
	UploadParallelism int
	Metrics           WorkerMetrics
}

// ProcessingWorker 處理一則 hand-off 事件的完整流程
type ProcessingWorker struct {
	store      repository.JobStore
	storage    repository.StorageGateway
	transcoder Transcoder
	opts       WorkerOptions

	now func() time.Time
}

const (
	sourceFileName = "source"
	hlsDirName     = "hls"

	// 失敗原因欄位的長度上限
	maxFailureReason  = 2000
	markFailedTimeout = 10 * time.Second
)

// NewProcessingWorker create ProcessingWorker
func NewProcessingWorker(store repository.JobStore,
	storage repository.StorageGateway,
	transcoder Transcoder,
	opts WorkerOptions,
) *ProcessingWorker {
	if opts.ScratchDir == "" {
		opts.ScratchDir = filepath.Join(os.TempDir(), "transcode")
	}
	if opts.UploadParallelism < 1 {
		opts.UploadParallelism = 1
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	return &ProcessingWorker{
		store:      store,
		storage:    storage,
		transcoder: transcoder,
		opts:       opts,
		now:        time.Now,
	}
}

// Handle 取得工作、轉檔、上傳、完成。回傳的錯誤交給傳輸層決定是否重送
func (w *ProcessingWorker) Handle(ctx context.Context, ev domain.HandoffEvent) error {
	log := logger.Log.With(zap.String("request_id", ev.RequestID))

	req, err := w.store.ClaimRequest(ctx, ev.RequestID, w.now(), w.opts.Policy)
	if err != nil {
		if errors.Is(err, errprocess.ErrConflict) {
			log.Info("request not startable, skipped", zap.Error(err))
		} else {
			log.Error("claim request failed", zap.Error(err))
		}
		return err
	}

	log = log.With(
		zap.String("job_id", req.ID),
		zap.String("video_id", req.VideoID),
		zap.Int("attempt", req.Attempts),
	)
	log.Info("processing started")
	w.opts.Metrics.JobStarted()
	started := time.Now()

	if err := w.run(ctx, req, log); err != nil {
		if ctx.Err() != nil {
			// 關機或取消不算一次失敗
			w.release(ctx, req, log, err)
			w.opts.Metrics.JobFinished("released", time.Since(started))
			return err
		}
		w.fail(ctx, req, log, err)
		w.opts.Metrics.JobFinished("failed", time.Since(started))
		return err
	}

	w.opts.Metrics.JobFinished("finished", time.Since(started))
	log.Info("processing finished", zap.Duration("elapsed", time.Since(started)))
	return nil
}

// scratchDir 每次 claim 各自一個目錄，被回收的舊執行不會碰到新的檔案
func (w *ProcessingWorker) scratchDir(req *domain.ProcessingRequest) string {
	return filepath.Join(w.opts.ScratchDir, req.VideoID, strconv.Itoa(req.Attempts))
}

func (w *ProcessingWorker) run(ctx context.Context, req *domain.ProcessingRequest, log *logger.LogInfo) error {
	scratch := w.scratchDir(req)
	// 同一次 attempt 先前 crash 留下的目錄
	if err := os.RemoveAll(scratch); err != nil {
		return fmt.Errorf("scratch[%s] reset : %w", scratch, err)
	}
	hlsDir := filepath.Join(scratch, hlsDirName)
	if err := os.MkdirAll(hlsDir, 0o755); err != nil {
		return fmt.Errorf("scratch[%s] create : %w", scratch, err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Warn("scratch cleanup failed", zap.String("scratch", scratch), zap.Error(err))
			return
		}
		// 其他 attempt 仍在使用時目錄非空，Remove 會失敗
		_ = os.Remove(filepath.Dir(scratch))
	}()

	source := filepath.Join(scratch, sourceFileName)
	if err := w.download(ctx, req.VideoID, source); err != nil {
		return err
	}

	result, err := w.transcoder.Convert(ctx, source, hlsDir)
	if err != nil {
		return err
	}
	if len(result.Segments()) == 0 {
		return errprocess.New(errprocess.ErrToolExecution,
			fmt.Sprintf("video[%s] conversion produced no segments", req.VideoID), nil)
	}

	if err := w.upload(ctx, req.VideoID, result); err != nil {
		return err
	}
	return w.finalize(ctx, req)
}

func (w *ProcessingWorker) download(ctx context.Context, videoID, dst string) error {
	rc, err := w.storage.Get(ctx, videoID, true)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("file[%s] create : %w", dst, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return errprocess.New(errprocess.ErrStorage, fmt.Sprintf("objectName[%s] download", storagekey.Temp(videoID)), err)
	}
	return f.Close()
}

type artifactUpload struct {
	path        string
	key         string
	contentType string
}

func artifactsOf(videoID string, result *domain.ConversionResult) []artifactUpload {
	uploads := []artifactUpload{{
		path:        result.MasterPlaylistPath,
		key:         storagekey.MasterPlaylist(videoID),
		contentType: storagekey.MasterContentType,
	}}
	for _, p := range result.SubFilePaths {
		name := filepath.Base(p)
		uploads = append(uploads, artifactUpload{
			path:        p,
			key:         storagekey.SubFile(videoID, name),
			contentType: storagekey.ContentType(name),
		})
	}
	if result.ThumbnailPath != "" {
		uploads = append(uploads, artifactUpload{
			path:        result.ThumbnailPath,
			key:         storagekey.Thumbnail(videoID),
			contentType: storagekey.ContentType(storagekey.ThumbnailFileName),
		})
	}
	return uploads
}

// upload 全部成功才返回 nil，任一失敗會取消其餘上傳
func (w *ProcessingWorker) upload(ctx context.Context, videoID string, result *domain.ConversionResult) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.UploadParallelism)

	for _, a := range artifactsOf(videoID, result) {
		a := a
		g.Go(func() error {
			f, err := os.Open(a.path)
			if err != nil {
				return fmt.Errorf("file[%s] open : %w", a.path, err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("file[%s] stat : %w", a.path, err)
			}
			if err := w.storage.Put(gctx, a.key, f, info.Size(), a.contentType); err != nil {
				return err
			}
			w.opts.Metrics.ArtifactUploaded(info.Size())
			return nil
		})
	}
	return g.Wait()
}

func (w *ProcessingWorker) finalize(ctx context.Context, req *domain.ProcessingRequest) error {
	return w.store.Transaction(ctx, func(tx repository.JobTx) error {
		ok, err := tx.TransitionRequest(req.ID, req.Attempts, domain.StatusProcessing, domain.StatusFinished)
		if err != nil {
			return err
		}
		if !ok {
			return errprocess.New(errprocess.ErrConflict,
				fmt.Sprintf("request[%s] attempt[%d] no longer holds the claim", req.ID, req.Attempts), nil)
		}

		ok, err = tx.MarkVideoProcessed(req.VideoID)
		if err != nil {
			return err
		}
		if !ok {
			return errprocess.New(errprocess.ErrNotFound, fmt.Sprintf("video[%s] not found", req.VideoID), nil)
		}
		return nil
	})
}

// fail 記錄診斷資訊並把工作標為 Failed，標記失敗不影響原本的錯誤
func (w *ProcessingWorker) fail(ctx context.Context, req *domain.ProcessingRequest, log *logger.LogInfo, cause error) {
	fields := []zap.Field{zap.Error(cause)}
	var toolErr *media.ToolError
	if errors.As(cause, &toolErr) {
		fields = append(fields,
			zap.String("program", toolErr.Program),
			zap.Int("exit_code", toolErr.ExitCode),
			zap.Bool("timed_out", toolErr.TimedOut),
			zap.String("stderr", toolErr.Stderr),
		)
	}
	log.Error("processing failed", fields...)

	reason := cause.Error()
	if len(reason) > maxFailureReason {
		reason = reason[:maxFailureReason]
	}

	// 原本的 ctx 可能已取消，仍要寫回狀態
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markFailedTimeout)
	defer cancel()
	marked, err := w.store.MarkFailed(markCtx, req.ID, req.Attempts, reason)
	switch {
	case err != nil:
		log.Error("mark failed failed", zap.Error(err))
	case !marked:
		log.Warn("claim superseded or request left Processing, status unchanged")
	}
}

// release 把工作交還給下一次投遞，不計入重試次數
func (w *ProcessingWorker) release(ctx context.Context, req *domain.ProcessingRequest, log *logger.LogInfo, cause error) {
	log.Warn("processing interrupted, releasing claim", zap.Error(cause))

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markFailedTimeout)
	defer cancel()
	released, err := w.store.ReleaseClaim(releaseCtx, req.ID, req.Attempts)
	switch {
	case err != nil:
		log.Error("release claim failed", zap.Error(err))
	case !released:
		log.Warn("claim superseded or request left Processing, status unchanged")
	}
}
