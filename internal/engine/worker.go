package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/siteguard/siteguard-core/internal/config"
	"github.com/siteguard/siteguard-core/internal/models"
	"github.com/siteguard/siteguard-core/internal/monitoring"
	"github.com/siteguard/siteguard-core/internal/queue"
	"github.com/siteguard/siteguard-core/internal/storage"
	"github.com/siteguard/siteguard-core/pkg/logger"
)

// AlertSink receives ids of freshly persisted results. Implementations
// must swallow their own failures: the handoff is fire-and-forget.
type AlertSink interface {
	HandleResult(ctx context.Context, resultID string)
}

const (
	defaultConcurrency  = 8
	dequeueIdleDelay    = 250 * time.Millisecond
	alertHandoffTimeout = 30 * time.Second
)

// Pool is the bounded worker pool draining the check job queue. Every
// worker shares one token-bucket limiter so the fleet-wide execution rate
// stays inside the configured budget regardless of concurrency.
type Pool struct {
	queue      queue.Queue
	store      storage.Store
	dispatcher *Dispatcher
	recorder   *Recorder
	alerts     AlertSink
	limiter    *rate.Limiter
	log        logger.Logger

	concurrency int
	wg          sync.WaitGroup
}

func NewPool(cfg config.WorkerConfig, q queue.Queue, store storage.Store, dispatcher *Dispatcher, recorder *Recorder, alerts AlertSink, log logger.Logger) *Pool {
	if log == nil {
		log = logger.NewNop()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 && cfg.RateWindowSec > 0 {
		limiter = rate.NewLimiter(
			rate.Limit(float64(cfg.RateLimit)/cfg.RateWindow().Seconds()),
			cfg.RateLimit)
	}

	return &Pool{
		queue:       q,
		store:       store,
		dispatcher:  dispatcher,
		recorder:    recorder,
		alerts:      alerts,
		limiter:     limiter,
		log:         log,
		concurrency: concurrency,
	}
}

// Start launches the workers. They run until ctx is canceled; Wait blocks
// until the last in-flight job finishes.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.log.Info("worker pool started",
		"concurrency", p.concurrency,
		"rate_limit", p.limiter.Limit())
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			p.log.Debug("worker stopping", "worker", id)
			return
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				sleepCtx(ctx, dequeueIdleDelay)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.log.Error("dequeue failed", "worker", id, "error", err)
			sleepCtx(ctx, dequeueIdleDelay)
			continue
		}

		if err := p.limiter.Wait(ctx); err != nil {
			// Shutdown caught us holding a job: put it back.
			requeueCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if reqErr := p.queue.Enqueue(requeueCtx, job); reqErr != nil {
				p.log.Error("failed to requeue job on shutdown", "job_id", job.ID, "error", reqErr)
			}
			cancel()
			return
		}

		p.process(ctx, job)
	}
}

// process runs one job end to end. Probe failures become results; only
// infrastructure failures hand the job back for retry.
func (p *Pool) process(ctx context.Context, job *models.CheckJob) {
	start := time.Now()

	check, err := p.store.GetCheck(ctx, job.OrganizationID, job.CheckID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Deleted while queued: complete without a trace.
			p.complete(ctx, job)
			monitoring.RecordJobProcessed("unknown", "dropped", time.Since(start))
			return
		}
		p.failJob(ctx, job, fmt.Errorf("load check %s: %w", job.CheckID, err))
		return
	}

	if !check.Enabled || check.Type.AgentExecuted() {
		// Disabled checks and agent-executed types never run here, and a
		// skipped run leaves no result row behind.
		p.complete(ctx, job)
		monitoring.RecordJobProcessed(string(check.Type), "skipped", time.Since(start))
		return
	}

	site, err := p.store.GetSite(ctx, job.OrganizationID, job.SiteID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			p.complete(ctx, job)
			monitoring.RecordJobProcessed(string(check.Type), "dropped", time.Since(start))
			return
		}
		p.failJob(ctx, job, fmt.Errorf("load site %s: %w", job.SiteID, err))
		return
	}

	outcome := p.dispatcher.Dispatch(ctx, check, site)

	resultID, err := p.recorder.Record(ctx, job, outcome)
	if err != nil {
		p.failJob(ctx, job, fmt.Errorf("record result: %w", err))
		return
	}
	if resultID != "" {
		p.handoff(resultID)
	}

	p.complete(ctx, job)
	monitoring.RecordJobProcessed(string(check.Type), string(outcome.Status), time.Since(start))
}

// failJob handles infrastructure failures: persist a best-effort ERROR
// result, still attempt the alert handoff, then hand the job back to the
// queue for retry with backoff.
func (p *Pool) failJob(ctx context.Context, job *models.CheckJob, cause error) {
	outcome := &models.ExecutionOutcome{
		Status:  models.StatusError,
		Message: cause.Error(),
	}
	if resultID, recErr := p.recorder.Record(ctx, job, outcome); recErr == nil && resultID != "" {
		p.handoff(resultID)
	}

	retried, err := p.queue.Fail(ctx, job, cause)
	if err != nil {
		p.log.Error("failed to record job failure", "job_id", job.ID, "error", err)
	}
	p.log.Warn("check job failed",
		"job_id", job.ID,
		"check_id", job.CheckID,
		"retried", retried,
		"error", cause)
	monitoring.RecordJobProcessed("unknown", "infra_error", 0)
}

func (p *Pool) complete(ctx context.Context, job *models.CheckJob) {
	if err := p.queue.Complete(ctx, job); err != nil {
		p.log.Warn("failed to mark job completed", "job_id", job.ID, "error", err)
	}
}

// handoff pushes the result id to the alert gate on its own goroutine and
// deadline. Whatever happens downstream never reaches the worker.
func (p *Pool) handoff(resultID string) {
	if p.alerts == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("alert handoff panicked", "result_id", resultID, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), alertHandoffTimeout)
		defer cancel()
		p.alerts.HandleResult(ctx, resultID)
	}()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
