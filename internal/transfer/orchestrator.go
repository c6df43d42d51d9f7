package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/mbfetch/mbfetch/internal/download"
	"github.com/mbfetch/mbfetch/internal/extract"
	"github.com/mbfetch/mbfetch/internal/progress"
	"github.com/mbfetch/mbfetch/internal/store"
)

// ErrTransferInProgress is returned by Start while another transfer is live.
// Transfers are never queued.
var ErrTransferInProgress = errors.New("transfer already in progress")

// tickInterval throttles intermediate progress events. Phase changes and
// terminal events always go out.
const tickInterval = 150 * time.Millisecond

// Request describes one download-and-optionally-extract action.
type Request struct {
	URL       string
	AssetName string
	Size      int64 // expected size from the catalog, 0 when unknown
	OutputDir string
	Extract   bool
}

// Handle follows one live transfer. Events is single-consumer; the channel
// closes after the terminal event. Done closes once the worker has fully
// finished, including the history write.
type Handle struct {
	ID string

	reporter *progress.Reporter
	cancel   context.CancelFunc
	done     chan struct{}
}

// Events returns the transfer's progress event stream.
func (h *Handle) Events() <-chan progress.Event {
	return h.reporter.Events()
}

// Done returns a channel closed when the worker goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Snapshot returns the most recent progress event.
func (h *Handle) Snapshot() progress.Event {
	return h.reporter.Snapshot()
}

// Downloader is the slice of download.Client the orchestrator uses.
type Downloader interface {
	Download(ctx context.Context, opts download.Options) (int64, error)
}

// Extractor is the subset of extract.Extractor the orchestrator uses.
type Extractor interface {
	CountEntries(archivePath string) (int, error)
	Extract(ctx context.Context, archivePath, outputDir string, total int, onEntry extract.ProgressFunc) (int, error)
}

// Orchestrator sequences download then extraction for one transfer at a
// time. At most one worker goroutine is live; a second Start is rejected,
// never queued.
type Orchestrator struct {
	downloader Downloader
	extractor  Extractor
	store      *store.Store // optional, nil disables history
	logger     *slog.Logger

	mu     sync.Mutex
	active *Handle
	latest *progress.Reporter
}

// NewOrchestrator creates an Orchestrator. The store may be nil, in which
// case no transfer history is recorded.
func NewOrchestrator(dl Downloader, ex Extractor, st *store.Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		downloader: dl,
		extractor:  ex,
		store:      st,
		logger:     logger,
	}
}

// Start launches a transfer worker and returns immediately. It returns
// ErrTransferInProgress while a previous transfer is still live.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Handle, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("transfer request missing URL")
	}
	if req.AssetName == "" || req.AssetName != filepath.Base(req.AssetName) {
		return nil, fmt.Errorf("invalid asset name: %q", req.AssetName)
	}
	if req.OutputDir == "" {
		return nil, fmt.Errorf("transfer request missing output directory")
	}

	o.mu.Lock()
	if o.active != nil {
		o.mu.Unlock()
		return nil, ErrTransferInProgress
	}

	id := uuid.NewString()
	reporter := progress.NewReporter(id)
	workerCtx, cancelWorker := context.WithCancel(ctx)
	h := &Handle{
		ID:       id,
		reporter: reporter,
		cancel:   cancelWorker,
		done:     make(chan struct{}),
	}
	o.active = h
	o.latest = reporter
	o.mu.Unlock()

	o.logger.Info("starting transfer",
		slog.String("transfer_id", id),
		slog.String("asset", req.AssetName),
		slog.String("url", req.URL),
		slog.Bool("extract", req.Extract))

	go o.run(workerCtx, h, req)
	return h, nil
}

// Cancel cancels the live transfer, if any. It reports whether a transfer
// was live to cancel.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return false
	}
	o.active.cancel()
	return true
}

// Active reports whether a transfer is currently live.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil
}

// Status returns the latest progress snapshot. Before any transfer has
// started it returns an Idle event.
func (o *Orchestrator) Status() progress.Event {
	o.mu.Lock()
	reporter := o.latest
	o.mu.Unlock()
	if reporter == nil {
		return progress.Event{Phase: progress.PhaseIdle, Percent: progress.IndeterminatePercent}
	}
	return reporter.Snapshot()
}

// ActiveProgress returns the most recent reporter, or nil before the first
// transfer. The reporter stays available after completion so observers can
// read the terminal snapshot; it is replaced when the next transfer starts.
func (o *Orchestrator) ActiveProgress() *progress.Reporter {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.latest
}

// ExtractDir returns the extraction target for an asset name: a directory
// named after the archive without its extension, under outputDir.
func ExtractDir(outputDir, assetName string) string {
	stem := strings.TrimSuffix(assetName, filepath.Ext(assetName))
	return filepath.Join(outputDir, stem)
}

// run executes one transfer: download, then optionally count and extract.
// It always emits exactly one terminal event and then releases the
// single-flight slot.
func (o *Orchestrator) run(ctx context.Context, h *Handle, req Request) {
	defer close(h.done)
	defer func() {
		o.mu.Lock()
		o.active = nil
		o.mu.Unlock()
	}()
	defer h.cancel()

	destPath := filepath.Join(req.OutputDir, req.AssetName)
	extractDir := ""
	if req.Extract {
		extractDir = ExtractDir(req.OutputDir, req.AssetName)
	}

	rec := &store.TransferRecord{
		TransferID: h.ID,
		AssetName:  req.AssetName,
		URL:        req.URL,
		DestPath:   destPath,
		ExtractDir: extractDir,
		Status:     "running",
		StartedAt:  time.Now().UTC(),
	}
	if o.store != nil {
		if err := o.store.CreateTransfer(rec); err != nil {
			o.logger.Warn("failed to record transfer start", "transfer_id", h.ID, "error", err)
		}
	}

	startPercent := progress.IndeterminatePercent
	if req.Size > 0 {
		startPercent = 0
	}
	h.reporter.Report(progress.Event{
		Phase:      progress.PhaseDownloading,
		Percent:    startPercent,
		BytesTotal: req.Size,
		Message:    "downloading " + req.AssetName,
	})

	written, err := o.downloader.Download(ctx, download.Options{
		URL:      req.URL,
		DestPath: destPath,
		Progress: o.downloadTick(h, req.Size),
	})
	rec.BytesWritten = written
	if err != nil {
		o.fail(h, rec, download.Reason(err), err)
		return
	}

	extracted := 0
	if req.Extract {
		h.reporter.Report(progress.Event{
			Phase:     progress.PhaseCountingEntries,
			Percent:   progress.IndeterminatePercent,
			BytesDone: written,
			Message:   "counting archive entries",
		})

		// A count failure degrades progress to indeterminate, it does not
		// fail the transfer.
		total, err := o.extractor.CountEntries(destPath)
		if err != nil {
			o.logger.Warn("entry count unavailable",
				"transfer_id", h.ID, "archive", destPath, "error", err)
			total = 0
		}

		if ctx.Err() != nil {
			o.fail(h, rec, progress.ReasonCancelled, ctx.Err())
			return
		}

		extractPercent := progress.IndeterminatePercent
		if total > 0 {
			extractPercent = 0
		}
		h.reporter.Report(progress.Event{
			Phase:        progress.PhaseExtracting,
			Percent:      extractPercent,
			EntriesTotal: total,
			Message:      "extracting to " + extractDir,
		})

		extracted, err = o.extractor.Extract(ctx, destPath, extractDir, total, o.extractTick(h))
		rec.EntriesExtracted = int64(extracted)
		if err != nil {
			o.fail(h, rec, extract.Reason(err), err)
			return
		}
	}

	rec.Status = "done"
	rec.FinishedAt = time.Now().UTC()
	if o.store != nil {
		if err := o.store.UpdateTransfer(rec); err != nil {
			o.logger.Warn("failed to record transfer finish", "transfer_id", h.ID, "error", err)
		}
	}

	message := fmt.Sprintf("downloaded %s (%s)", req.AssetName, humanize.IBytes(uint64(written)))
	if req.Extract {
		message = fmt.Sprintf("extracted %d entries to %s", extracted, extractDir)
	}
	h.reporter.Report(progress.Event{
		Phase:       progress.PhaseDone,
		Percent:     100,
		BytesDone:   written,
		BytesTotal:  written,
		EntriesDone: extracted,
		Terminal:    true,
		Message:     message,
	})

	o.logger.Info("transfer complete",
		slog.String("transfer_id", h.ID),
		slog.String("asset", req.AssetName),
		slog.Int64("bytes", written),
		slog.Int("entries", extracted))
}

// downloadTick returns a throttled download progress callback. When the
// response carries no content length, the catalog's expected size stands in
// as the denominator; with neither, progress stays indeterminate.
func (o *Orchestrator) downloadTick(h *Handle, expectedSize int64) download.ProgressFunc {
	var lastTick time.Time
	return func(written, total int64) {
		if total <= 0 && expectedSize > 0 {
			total = expectedSize
		}
		if total < 0 {
			total = 0
		}
		final := total > 0 && written >= total
		if !final && time.Since(lastTick) < tickInterval {
			return
		}
		lastTick = time.Now()

		percent := progress.IndeterminatePercent
		if total > 0 {
			percent = float64(written) * 100 / float64(total)
			if percent > 100 {
				percent = 100
			}
		}
		h.reporter.Report(progress.Event{
			Phase:      progress.PhaseDownloading,
			Percent:    percent,
			BytesDone:  written,
			BytesTotal: total,
		})
	}
}

// extractTick returns a throttled per-entry progress callback.
func (o *Orchestrator) extractTick(h *Handle) extract.ProgressFunc {
	var lastTick time.Time
	return func(done, total int) {
		final := total > 0 && done >= total
		if !final && time.Since(lastTick) < tickInterval {
			return
		}
		lastTick = time.Now()

		percent := progress.IndeterminatePercent
		if total > 0 {
			percent = float64(done) * 100 / float64(total)
			if percent > 100 {
				percent = 100
			}
		}
		h.reporter.Report(progress.Event{
			Phase:        progress.PhaseExtracting,
			Percent:      percent,
			EntriesDone:  done,
			EntriesTotal: total,
		})
	}
}

// fail records the failure and emits the terminal Failed event.
func (o *Orchestrator) fail(h *Handle, rec *store.TransferRecord, reason progress.FailureReason, cause error) {
	rec.Status = "failed"
	rec.Reason = string(reason)
	rec.ErrorMessage = cause.Error()
	rec.FinishedAt = time.Now().UTC()
	if o.store != nil {
		if err := o.store.UpdateTransfer(rec); err != nil {
			o.logger.Warn("failed to record transfer failure", "transfer_id", h.ID, "error", err)
		}
	}

	h.reporter.Report(progress.Event{
		Phase:       progress.PhaseFailed,
		Percent:     progress.IndeterminatePercent,
		BytesDone:   rec.BytesWritten,
		EntriesDone: int(rec.EntriesExtracted),
		Terminal:    true,
		Reason:      reason,
		Message:     cause.Error(),
	})

	o.logger.Error("transfer failed",
		slog.String("transfer_id", h.ID),
		slog.String("asset", rec.AssetName),
		slog.String("reason", string(reason)),
		slog.String("error", cause.Error()))
}
