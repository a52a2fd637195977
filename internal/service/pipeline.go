// Package service orchestrates the message pipeline: archive, extract,
// deduplicate cross-posts, notify.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/domain"
	"github.com/Yuanja/watch-tracker-sub002/internal/biz/usecase"
	"github.com/Yuanja/watch-tracker-sub002/internal/metrics"
)

// Pipeline runs extraction work on a bounded pool. When the queue is full a
// submit runs the job inline, so bursts slow the producer down instead of
// dropping messages or growing without bound.
type Pipeline struct {
	archiveUC   *usecase.ArchiveUsecase
	extractUC   *usecase.ExtractionUsecase
	crossPostUC *usecase.CrossPostUsecase
	notifyUC    *usecase.NotificationUsecase
	recorder    metrics.Recorder
	logger      *slog.Logger

	queue chan *domain.RawMessage
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPipeline creates a pipeline with the given worker count and queue depth.
func NewPipeline(
	archiveUC *usecase.ArchiveUsecase,
	extractUC *usecase.ExtractionUsecase,
	crossPostUC *usecase.CrossPostUsecase,
	notifyUC *usecase.NotificationUsecase,
	recorder metrics.Recorder,
	logger *slog.Logger,
	workers, queueDepth int,
) *Pipeline {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}

	p := &Pipeline{
		archiveUC:   archiveUC,
		extractUC:   extractUC,
		crossPostUC: crossPostUC,
		notifyUC:    notifyUC,
		recorder:    recorder,
		logger:      logger,
		queue:       make(chan *domain.RawMessage, queueDepth),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Ingest archives one inbound message and, when it is new, queues it for
// extraction. Duplicates are counted and dropped without error.
func (p *Pipeline) Ingest(ctx context.Context, in *usecase.InboundMessage) error {
	msg, err := p.archiveUC.Archive(ctx, in)
	if err != nil {
		return err
	}
	if msg == nil {
		p.recorder.RecordMessageArchived(true)
		return nil
	}

	p.recorder.RecordMessageArchived(false)
	p.Submit(msg)
	return nil
}

// Submit queues a message for extraction. A full queue runs the job on the
// caller's goroutine instead of blocking or dropping.
func (p *Pipeline) Submit(msg *domain.RawMessage) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.process(msg)
		return
	}

	select {
	case p.queue <- msg:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		p.recorder.RecordQueueSaturation()
		p.logger.Warn("pipeline queue full, processing inline", "message_id", msg.ID)
		p.process(msg)
	}
}

// RetrySweep re-queues unprocessed messages and retries outstanding media
// downloads. Intended to run periodically and at startup.
func (p *Pipeline) RetrySweep(ctx context.Context, limit int) {
	msgs, err := p.archiveUC.RetryMediaFetch(ctx, limit)
	if err != nil {
		p.logger.Warn("media retry sweep failed", "error", err)
	} else if msgs > 0 {
		p.logger.Info("media retry sweep fetched files", "count", msgs)
	}

	pending, err := p.extractUC.ListUnprocessed(ctx, limit)
	if err != nil {
		p.logger.Warn("retry sweep failed to list messages", "error", err)
		return
	}
	for _, msg := range pending {
		p.Submit(msg)
	}
}

// RunSweeper blocks, running RetrySweep on the interval until ctx ends.
func (p *Pipeline) RunSweeper(ctx context.Context, interval time.Duration, limit int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RetrySweep(ctx, limit)
		}
	}
}

// Close stops accepting queued work and waits for in-flight jobs. Messages
// submitted after Close run inline on the submitter.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for msg := range p.queue {
		p.process(msg)
	}
}

// process runs the full post-archive path for one message. Errors inside are
// absorbed by the usecases; the pipeline only observes outcomes.
func (p *Pipeline) process(msg *domain.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	start := time.Now()
	outcome, listings, usage := p.extractUC.Process(ctx, msg)
	p.recorder.RecordExtractionLatency(time.Since(start))
	p.recorder.RecordExtraction(string(outcome))
	p.recorder.RecordTokens(usage.Model, usage.TotalTokens())

	for _, l := range listings {
		if l.Status != domain.StatusActive {
			continue
		}

		survivor, removed, err := p.crossPostUC.DeduplicateExactRepeats(ctx, l)
		if err != nil {
			p.logger.Warn("cross-post pass failed", "listing_id", l.ID, "error", err)
			survivor = l
		}
		if removed > 0 {
			p.recorder.RecordCrossPostCollapsed(removed)
		}

		// Only the surviving posting triggers alerts, and only when this
		// message produced it; a collapsed repeat was already announced.
		if survivor.ID != l.ID {
			continue
		}
		matched := p.notifyUC.Dispatch(ctx, survivor)
		if matched > 0 {
			p.recorder.RecordNotification(matched)
		}
	}
}
