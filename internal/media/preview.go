package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/kimhsiao/arcache/internal/logging"
)

// PreviewWriter persists an encoded preview.
type PreviewWriter interface {
	StoreBytes(path string, data []byte) (int64, error)
}

// PreviewJob represents a preview generation job.
type PreviewJob struct {
	ID          string
	SourcePath  string
	PreviewPath string
	CreatedAt   time.Time
	Callback    func(error)
}

// PreviewQueue renders square JPEG previews of accepted marker images in the
// background so registration never waits on resampling.
type PreviewQueue struct {
	jobs      chan *PreviewJob
	workers   int
	size      int
	writer    PreviewWriter
	wg        sync.WaitGroup
	stopCh    chan struct{}
	mu        sync.Mutex
	isRunning bool
	stats     *PreviewStats
}

// PreviewStats holds preview generation statistics.
type PreviewStats struct {
	TotalProcessed int
	SuccessCount   int
	FailureCount   int
	PendingCount   int
	AvgDurationMs  int64
}

// NewPreviewQueue creates a preview queue rendering size×size previews.
func NewPreviewQueue(queueSize, workers, size int, writer PreviewWriter) *PreviewQueue {
	return &PreviewQueue{
		jobs:    make(chan *PreviewJob, queueSize),
		workers: workers,
		size:    size,
		writer:  writer,
		stopCh:  make(chan struct{}),
		stats:   &PreviewStats{},
	}
}

// Start starts the workers. Calling Start on a running queue is a no-op.
func (q *PreviewQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.isRunning {
		q.mu.Unlock()
		return
	}
	q.isRunning = true
	q.stopCh = make(chan struct{})
	stopCh := q.stopCh
	q.mu.Unlock()

	logging.Info("Starting preview queue",
		map[string]interface{}{
			"workers":    q.workers,
			"queue_size": cap(q.jobs),
			"size":       q.size,
		})

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, stopCh, i)
	}
}

// Stop stops the workers and waits for in-flight jobs.
func (q *PreviewQueue) Stop() {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return
	}
	q.isRunning = false
	close(q.stopCh)
	q.mu.Unlock()

	q.wg.Wait()

	stats := q.GetStats()
	logging.Info("Preview queue stopped",
		map[string]interface{}{
			"total_processed": stats.TotalProcessed,
			"success_count":   stats.SuccessCount,
			"failure_count":   stats.FailureCount,
		})
}

// Generate enqueues a preview without blocking and returns the job id.
func (q *PreviewQueue) Generate(sourcePath, previewPath string, callback func(error)) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.isRunning {
		return "", fmt.Errorf("preview queue is not running")
	}

	job := &PreviewJob{
		ID:          fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(sourcePath)),
		SourcePath:  sourcePath,
		PreviewPath: previewPath,
		CreatedAt:   time.Now(),
		Callback:    callback,
	}

	select {
	case q.jobs <- job:
		q.stats.PendingCount++
		logging.Debug("Preview job enqueued",
			map[string]interface{}{
				"job_id":       job.ID,
				"source_path":  sourcePath,
				"preview_path": previewPath,
			})
		return job.ID, nil
	default:
		return "", fmt.Errorf("preview queue is full (capacity: %d)", cap(q.jobs))
	}
}

// GenerateSync renders a preview on the calling goroutine.
func (q *PreviewQueue) GenerateSync(ctx context.Context, sourcePath, previewPath string) error {
	start := time.Now()
	err := q.render(ctx, sourcePath, previewPath)
	q.record(err, time.Since(start).Milliseconds(), false)
	return err
}

func (q *PreviewQueue) worker(ctx context.Context, stopCh <-chan struct{}, workerID int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case job := <-q.jobs:
			q.processJob(ctx, job, workerID)
		}
	}
}

func (q *PreviewQueue) processJob(ctx context.Context, job *PreviewJob, workerID int) {
	start := time.Now()
	err := q.render(ctx, job.SourcePath, job.PreviewPath)
	duration := time.Since(start).Milliseconds()
	q.record(err, duration, true)

	if job.Callback != nil {
		go job.Callback(err)
	}

	if err != nil {
		logging.Error("Preview generation failed", err,
			map[string]interface{}{
				"job_id":      job.ID,
				"worker_id":   workerID,
				"duration_ms": duration,
				"source_path": job.SourcePath,
			})
		return
	}
	logging.Debug("Preview generated",
		map[string]interface{}{
			"job_id":       job.ID,
			"worker_id":    workerID,
			"duration_ms":  duration,
			"preview_path": job.PreviewPath,
		})
}

func (q *PreviewQueue) record(err error, durationMs int64, queued bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if queued && q.stats.PendingCount > 0 {
		q.stats.PendingCount--
	}
	q.stats.TotalProcessed++
	if err != nil {
		q.stats.FailureCount++
	} else {
		q.stats.SuccessCount++
	}
	total := q.stats.AvgDurationMs*int64(q.stats.TotalProcessed-1) + durationMs
	q.stats.AvgDurationMs = total / int64(q.stats.TotalProcessed)
}

// render decodes the source, fills a size×size square and hands the JPEG to the writer.
func (q *PreviewQueue) render(ctx context.Context, sourcePath, previewPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to read source image: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	preview := imaging.Thumbnail(img, q.size, q.size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, preview, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("failed to encode preview: %w", err)
	}
	if _, err := q.writer.StoreBytes(previewPath, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to store preview: %w", err)
	}
	return nil
}

// GetStats returns a copy of the statistics.
func (q *PreviewQueue) GetStats() *PreviewStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := *q.stats
	return &s
}

// IsRunning returns whether the queue is running.
func (q *PreviewQueue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isRunning
}

// GetPendingCount returns the number of queued jobs.
func (q *PreviewQueue) GetPendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats.PendingCount
}

// Clear drops all queued jobs and returns how many were dropped.
func (q *PreviewQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cleared := 0
	for {
		select {
		case <-q.jobs:
			cleared++
		default:
			q.stats.PendingCount = 0
			if cleared > 0 {
				logging.Info("Cleared pending preview jobs",
					map[string]interface{}{"cleared": cleared})
			}
			return cleared
		}
	}
}
