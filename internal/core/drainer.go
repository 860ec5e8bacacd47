package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"mailpilot/internal/notify"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron validates a 5-field cron expression for the drain cadence.
func ParseCron(expr string) (cron.Schedule, error) {
	if strings.HasPrefix(strings.TrimSpace(expr), "@") {
		return nil, fmt.Errorf("only 5-field cron expressions are supported")
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// Drainer invokes the queue on a cron cadence and keeps draining while the
// backlog reports more work. The queue stays single-shot; the drainer is
// just one possible caller.
type Drainer struct {
	queue    *Queue
	opts     BatchOptions
	logger   *slog.Logger
	notifier notify.Notifier

	cron     *cron.Cron
	draining atomic.Bool
	ctx      context.Context
}

// NewDrainer constructs a drainer that processes batches with opts on the
// given cron expression. notifier may be nil.
func NewDrainer(queue *Queue, opts BatchOptions, expr string, logger *slog.Logger, notifier notify.Notifier) (*Drainer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	schedule, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = &notify.NoOpNotifier{}
	}
	d := &Drainer{
		queue:    queue,
		opts:     opts,
		logger:   logger,
		notifier: notifier,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
	d.cron.Schedule(schedule, cron.FuncJob(d.tick))
	return d, nil
}

// Start begins the cadence. ctx is used for the batch runs.
func (d *Drainer) Start(ctx context.Context) {
	d.ctx = ctx
	d.cron.Start()
}

// Stop halts the cadence and returns a context that is done once an
// in-flight tick's dispatch has finished.
func (d *Drainer) Stop() context.Context {
	return d.cron.Stop()
}

// tick drains the backlog. A tick that fires while the previous drain is
// still running is skipped.
func (d *Drainer) tick() {
	if !d.draining.CompareAndSwap(false, true) {
		d.logger.Info("previous drain still running, skipping tick")
		return
	}
	defer d.draining.Store(false)

	ctx := d.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	var processed, failed int
	for {
		if ctx.Err() != nil {
			break
		}
		result, err := d.queue.ProcessBatch(ctx, d.opts)
		if err != nil {
			d.logger.Error("drain batch", "err", err)
			break
		}
		processed += result.ProcessedCount
		failed += result.FailedCount
		d.logger.Info("drained batch",
			"processed", result.ProcessedCount,
			"failed", result.FailedCount,
			"remaining", result.RemainingCount)
		if !result.HasMore || result.ProcessedCount == 0 {
			break
		}
	}
	if failed > 0 {
		body := fmt.Sprintf("%d of %d tasks failed", failed, processed)
		if err := d.notifier.Send(ctx, "mailpilot drain finished with failures", body); err != nil {
			d.logger.Warn("send drain notification", "err", err)
		}
	}
}
