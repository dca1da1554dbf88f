// Package notify delivers progress of long-running operations to a chat-like
// medium without flooding it.
package notify

import (
	"context"
	"sync"
	"time"

	"factorio-server-manager/logger"

	"go.uber.org/zap"
)

// DefaultInterval is the minimum spacing between two unforced deliveries.
const DefaultInterval = 3 * time.Second

// MaxMessageLength is the longest text handed to a Sink.
const MaxMessageLength = 2000

// MessageRef identifies a delivered message so it can be edited later.
type MessageRef string

// Sink is the outbound side of a transport.
type Sink interface {
	Send(ctx context.Context, text string) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string) error
}

// Reporter coalesces progress messages: within one interval only the last
// unforced message is delivered. Forced messages are delivered immediately.
// All deliveries of a Reporter edit the same message once one was sent.
type Reporter struct {
	sink     Sink
	interval time.Duration
	log      *zap.SugaredLogger

	mu        sync.Mutex
	pending   *string
	lastFlush time.Time
	timer     *time.Timer
	gen       uint64 // bumped whenever the scheduled timer is replaced or cancelled
	sent      MessageRef
	hasSent   bool
	delivered int
}

// NewReporter returns a Reporter writing to sink. interval <= 0 uses DefaultInterval.
func NewReporter(sink Sink, interval time.Duration, log *zap.SugaredLogger) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{
		sink:      sink,
		interval:  interval,
		log:       logger.OrNop(log),
		lastFlush: time.Now(),
	}
}

// Report queues message for delivery. With force it is delivered before
// Report returns and any scheduled delivery is cancelled.
func (r *Reporter) Report(message string, force bool) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = &message
	if force {
		if r.timer != nil {
			r.timer.Stop()
			r.timer = nil
			r.gen++
		}
		r.flushLocked()
		return
	}

	if r.timer != nil {
		return
	}
	delay := max(0, r.interval-time.Since(r.lastFlush))
	r.gen++
	gen := r.gen
	r.timer = time.AfterFunc(delay, func() { r.scheduledFlush(gen) })
}

func (r *Reporter) scheduledFlush(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return // cancelled by a forced report
	}
	r.flushLocked()
}

func (r *Reporter) flushLocked() {
	r.timer = nil
	if r.pending == nil {
		return
	}
	text := Truncate(*r.pending, MaxMessageLength)
	r.pending = nil
	r.lastFlush = time.Now()

	ctx := context.Background()
	if r.hasSent {
		if err := r.sink.Edit(ctx, r.sent, text); err != nil {
			r.log.Warnw("Failed to edit progress message", zap.Error(err))
			return
		}
	} else {
		ref, err := r.sink.Send(ctx, text)
		if err != nil {
			r.log.Warnw("Failed to send progress message", zap.Error(err))
			return
		}
		r.sent, r.hasSent = ref, true
	}
	r.delivered++
}

// Flush delivers any pending message now.
func (r *Reporter) Flush() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.gen++
	}
	r.flushLocked()
}

// Delivered is the number of messages handed to the sink so far.
func (r *Reporter) Delivered() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delivered
}

// Status markers prepended by the helpers below.
const (
	MarkRunning = "🟡"
	MarkSuccess = "🟢"
	MarkFailure = "🔴"
)

// Running reports an in-progress step. It may be coalesced away.
func (r *Reporter) Running(format string, args ...any) {
	r.Report(MarkRunning+"   "+sprintf(format, args...), false)
}

// Success reports a finished step. It may be coalesced away.
func (r *Reporter) Success(format string, args ...any) {
	r.Report(MarkSuccess+"   "+sprintf(format, args...), false)
}

// Done reports a final outcome and delivers it immediately.
func (r *Reporter) Done(format string, args ...any) {
	r.Report(MarkSuccess+"   "+sprintf(format, args...), true)
}

// Fail reports a failure and delivers it immediately.
func (r *Reporter) Fail(format string, args ...any) {
	r.Report(MarkFailure+"   "+sprintf(format, args...), true)
}

// Print delivers text as is, immediately.
func (r *Reporter) Print(text string) {
	r.Report(text, true)
}
