// Package download turns pending queue items into local assets with bounded concurrency.
package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/couchcast/internal/db"
	"github.com/stwalsh4118/couchcast/internal/logger"
	"github.com/stwalsh4118/couchcast/internal/media"
	"github.com/stwalsh4118/couchcast/internal/metrics"
	"github.com/stwalsh4118/couchcast/internal/models"
	"github.com/stwalsh4118/couchcast/internal/notify"
	"github.com/stwalsh4118/couchcast/internal/ytdlp"
	"golang.org/x/sync/semaphore"
)

// InterruptedMessage is recorded on items a previous run left downloading
const InterruptedMessage = "download interrupted by restart"

// Extractor reads source metadata
type Extractor interface {
	Extract(ctx context.Context, url string) (*ytdlp.Metadata, error)
}

// Downloader fetches a source into a local file
type Downloader interface {
	Download(ctx context.Context, url, outputTemplate string) (ytdlp.Result, error)
}

// Prober reads the duration of a local asset
type Prober interface {
	Probe(ctx context.Context, path string) (*media.AssetInfo, error)
}

// Config holds coordinator settings
type Config struct {
	Directory       string
	PollInterval    time.Duration
	BatchSize       int
	MaxConcurrent   int
	MinFreeBytes    uint64 // 0 disables the check
	ShutdownGrace   time.Duration
	ExtractTimeout  time.Duration
	DownloadTimeout time.Duration
}

// Coordinator polls for pending items and downloads them
type Coordinator struct {
	items      *db.ItemRepository
	extractor  Extractor
	downloader Downloader
	prober     Prober
	notifier   notify.Notifier
	cfg        Config
	sem        *semaphore.Weighted

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
	wg       sync.WaitGroup

	freeSpace func(path string) (uint64, error)
	now       func() time.Time
}

// NewCoordinator creates a coordinator. extractor and prober may be nil.
func NewCoordinator(items *db.ItemRepository, extractor Extractor, downloader Downloader, prober Prober, notifier notify.Notifier, cfg Config) *Coordinator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = cfg.MaxConcurrent
	}

	return &Coordinator{
		items:      items,
		extractor:  extractor,
		downloader: downloader,
		prober:     prober,
		notifier:   notifier,
		cfg:        cfg,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		inFlight:   make(map[uuid.UUID]struct{}),
		freeSpace:  availableSpace,
		now:        time.Now,
	}
}

// Run recovers interrupted downloads and polls until ctx is cancelled.
// On cancellation it waits up to the shutdown grace for running downloads.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := os.MkdirAll(c.cfg.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	if err := c.Recover(ctx); err != nil {
		return err
	}

	logger.Log.Info().
		Str("directory", c.cfg.Directory).
		Int("max_concurrent", c.cfg.MaxConcurrent).
		Dur("poll_interval", c.cfg.PollInterval).
		Msg("Download coordinator started")

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	c.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			c.drain()
			return nil
		case <-ticker.C:
			c.Poll(ctx)
		}
	}
}

// Recover moves items left downloading by a crash to Error
func (c *Coordinator) Recover(ctx context.Context) error {
	failed, err := c.items.FailInterrupted(ctx, InterruptedMessage)
	if err != nil {
		return err
	}
	if failed > 0 {
		logger.Log.Warn().Int64("items", failed).Msg("Marked interrupted downloads as failed")
		c.notifier.QueueChanged()
	}
	return nil
}

// Poll dispatches a worker for every pending item not already in flight
func (c *Coordinator) Poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if c.cfg.MinFreeBytes > 0 {
		available, err := c.freeSpace(c.cfg.Directory)
		if err != nil {
			logger.Log.Warn().Err(err).Str("directory", c.cfg.Directory).Msg("Could not check free disk space, skipping downloads")
			return
		}
		if available < c.cfg.MinFreeBytes {
			logger.Log.Warn().
				Uint64("available_bytes", available).
				Uint64("required_bytes", c.cfg.MinFreeBytes).
				Msg("Low disk space, skipping downloads")
			return
		}
	}

	pending, err := c.items.ListByStatus(ctx, models.StatusPending, c.cfg.BatchSize)
	if err != nil {
		logger.Log.Error().Err(err).Msg("Failed to list pending items")
		return
	}

	for _, item := range pending {
		if !c.claimSlot(item.ID) {
			continue
		}
		c.wg.Add(1)
		go c.worker(ctx, item.ID)
	}
}

// InFlight returns how many items have a worker, running or waiting for a permit
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

func (c *Coordinator) claimSlot(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inFlight[id]; ok {
		return false
	}
	c.inFlight[id] = struct{}{}
	return true
}

func (c *Coordinator) releaseSlot(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, id)
}

// worker waits for a permit and downloads one item.
// A worker cancelled while waiting leaves the item Pending.
func (c *Coordinator) worker(ctx context.Context, id uuid.UUID) {
	defer c.wg.Done()
	defer c.releaseSlot(id)

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer c.sem.Release(1)

	if ctx.Err() != nil {
		return
	}

	// Running downloads outlive shutdown
	c.download(context.WithoutCancel(ctx), id)
}

func (c *Coordinator) download(ctx context.Context, id uuid.UUID) {
	item, err := c.items.GetByID(ctx, id)
	if err != nil {
		logger.Log.Error().Err(err).Str("item_id", id.String()).Msg("Failed to load item for download")
		return
	}
	if item.Status != models.StatusPending {
		return
	}

	claimed, err := c.items.Transition(ctx, id, models.StatusPending, models.StatusDownloading)
	if err != nil {
		logger.Log.Error().Err(err).Str("item_id", id.String()).Msg("Failed to claim item for download")
		return
	}
	if !claimed {
		return
	}

	metrics.DownloadStarted()
	c.notifier.DownloadStarted(id)
	c.notifier.QueueChanged()

	logger.Log.Info().
		Str("item_id", id.String()).
		Str("url", item.URL).
		Msg("Download started")

	meta := c.fillMetadata(ctx, item)

	title := ""
	if item.Title != nil {
		title = *item.Title
	}
	template := filepath.Join(c.cfg.Directory, SafeFileName(title, c.now())+".%(ext)s")

	dctx := ctx
	if c.cfg.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, c.cfg.DownloadTimeout)
		defer cancel()
	}

	started := c.now()
	result, err := c.downloader.Download(dctx, item.URL, template)
	if err != nil {
		result = ytdlp.Result{ErrorMessage: err.Error()}
	}
	if !result.Success {
		msg := result.ErrorMessage
		if msg == "" {
			msg = "download failed"
		}
		c.fail(ctx, item, msg)
		return
	}

	moved, err := c.items.MarkDownloaded(ctx, id, result.FinalPath, c.now())
	if err != nil {
		logger.Log.Error().Err(err).Str("item_id", id.String()).Msg("Failed to mark item as downloaded")
		c.fail(ctx, item, fmt.Sprintf("failed to record download: %v", err))
		return
	}
	if !moved {
		c.fail(ctx, item, "item left downloading before the download was recorded")
		return
	}

	metrics.DownloadFinished("success")
	logger.Log.Info().
		Str("item_id", id.String()).
		Str("file_path", result.FinalPath).
		Dur("took", c.now().Sub(started)).
		Msg("Download completed")

	c.notifier.DownloadCompleted(id)
	c.notifier.QueueChanged()

	if item.Duration == nil && (meta == nil || meta.DurationSeconds() == nil) {
		c.fillDuration(ctx, item, result.FinalPath)
	}
}

// fillMetadata extracts and stores title, thumbnail and duration for an untitled item.
// Failures are logged and otherwise ignored.
func (c *Coordinator) fillMetadata(ctx context.Context, item *models.QueueItem) *ytdlp.Metadata {
	if item.Title != nil || c.extractor == nil {
		return nil
	}

	ectx := ctx
	if c.cfg.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, c.cfg.ExtractTimeout)
		defer cancel()
	}

	meta, err := c.extractor.Extract(ectx, item.URL)
	if err != nil {
		logger.Log.Warn().Err(err).Str("item_id", item.ID.String()).Msg("Metadata extraction failed, downloading anyway")
		return nil
	}
	if meta == nil {
		return nil
	}

	if meta.Title != "" {
		item.Title = &meta.Title
	}
	if meta.Thumbnail != "" {
		item.ThumbnailURL = &meta.Thumbnail
	}
	if d := meta.DurationSeconds(); d != nil {
		item.Duration = d
	}

	if err := c.items.UpdateMetadata(ctx, item.ID, item.Title, item.ThumbnailURL, item.Duration); err != nil {
		logger.Log.Warn().Err(err).Str("item_id", item.ID.String()).Msg("Failed to store extracted metadata")
	}
	return meta
}

// fillDuration probes the downloaded asset when extraction gave no duration
func (c *Coordinator) fillDuration(ctx context.Context, item *models.QueueItem, path string) {
	if c.prober == nil {
		return
	}

	info, err := c.prober.Probe(ctx, path)
	if err != nil {
		logger.Log.Debug().Err(err).Str("item_id", item.ID.String()).Msg("Could not probe downloaded asset")
		return
	}

	item.Duration = &info.Duration
	if err := c.items.UpdateMetadata(ctx, item.ID, item.Title, item.ThumbnailURL, item.Duration); err != nil {
		logger.Log.Warn().Err(err).Str("item_id", item.ID.String()).Msg("Failed to store probed duration")
	}
}

func (c *Coordinator) fail(ctx context.Context, item *models.QueueItem, msg string) {
	metrics.DownloadFinished("failed")
	logger.Log.Warn().
		Str("item_id", item.ID.String()).
		Str("url", item.URL).
		Str("error", msg).
		Msg("Download failed")

	if _, err := c.items.MarkFailed(ctx, item.ID, models.StatusDownloading, msg); err != nil {
		logger.Log.Error().Err(err).Str("item_id", item.ID.String()).Msg("Failed to mark download as failed")
	}
	c.notifier.DownloadFailed(item.ID, msg)
	c.notifier.QueueChanged()
}

// drain waits for running downloads, up to the shutdown grace
func (c *Coordinator) drain() {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Log.Info().Msg("Download coordinator stopped")
	case <-time.After(c.cfg.ShutdownGrace):
		logger.Log.Warn().
			Int("in_flight", c.InFlight()).
			Dur("grace", c.cfg.ShutdownGrace).
			Msg("Download coordinator stopped with downloads still running")
	}
}
