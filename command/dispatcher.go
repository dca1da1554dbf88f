package command

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"factorio-server-manager/domain"
	"factorio-server-manager/logger"
	"factorio-server-manager/metrics"
	"factorio-server-manager/notify"
	"factorio-server-manager/profile"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Request is one inbound command from a transport.
type Request struct {
	ID           string
	Conversation string
	Author       string
	// Roles the author holds on the transport, if it has any.
	Roles []string
	Text         string
	Sink         notify.Sink
	// Done, when set, receives the outcome once the command finished.
	Done chan<- error
}

// Authorizer decides whether an author other than the owner may run commands.
type Authorizer interface {
	Authorized(ctx context.Context, author string, roles []string) (bool, error)
}

// DispatcherOptions configures a Dispatcher. With a nil Access only the
// owner may run commands.
type DispatcherOptions struct {
	Registry       *Registry
	Access         Authorizer
	Sessions       *profile.Sessions
	Prefix         string
	Owner          string
	Workers        int
	QueueSize      int
	ReportInterval time.Duration
	Log            *zap.SugaredLogger
}

// Dispatcher queues requests and runs them on a pool of workers so that no
// transport blocks on a long pipeline.
type Dispatcher struct {
	reg      *Registry
	access   Authorizer
	sessions *profile.Sessions
	prefix   string
	owner    string
	workers  int
	interval time.Duration
	log      *zap.SugaredLogger

	queue   chan Request
	pending atomic.Int64
}

// NewDispatcher returns a Dispatcher. Call Run to start the workers.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 64
	}
	return &Dispatcher{
		reg:      opts.Registry,
		access:   opts.Access,
		sessions: opts.Sessions,
		prefix:   opts.Prefix,
		owner:    opts.Owner,
		workers:  workers,
		interval: opts.ReportInterval,
		log:      logger.OrNop(opts.Log),
		queue:    make(chan Request, size),
	}
}

// Submit queues req and returns its id. It blocks while the queue is full.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	select {
	case d.queue <- req:
		metrics.SetQueueDepth(int(d.pending.Add(1)))
		return req.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Run processes the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case req := <-d.queue:
					metrics.SetQueueDepth(int(d.pending.Add(-1)))
					err := d.Handle(ctx, req)
					if req.Done != nil {
						req.Done <- err
					}
				}
			}
		})
	}
	return g.Wait()
}

// Handle runs one request synchronously. Failures are delivered to the
// request's sink and returned.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (err error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	log := d.log.With(zap.String("request", req.ID), zap.String("conversation", req.Conversation))
	r := notify.NewReporter(req.Sink, d.interval, log)
	start := time.Now()
	name := "unknown"

	defer func() {
		if p := recover(); p != nil {
			log.Errorw("Command panicked", zap.Any("panic", p), zap.Stack("stack"))
			err = fmt.Errorf("internal error: %v", p)
		}
		metrics.RecordCommand(name, err == nil, time.Since(start))
		if err != nil {
			log.Errorw("Command failed", zap.String("command", name), zap.Error(err))
			r.Fail("%s", userMessage(err))
			return
		}
		r.Flush()
		log.Infow("Command finished", zap.String("command", name), zap.Duration("took", time.Since(start)))
	}()

	if err := d.authorize(ctx, req); err != nil {
		return err
	}

	tokens := strings.Fields(strings.TrimPrefix(strings.TrimSpace(req.Text), d.prefix))
	desc, args, err := d.reg.Lookup(tokens)
	if err != nil {
		return err
	}
	name = desc.Name()
	if err := desc.checkArity(len(args)); err != nil {
		return err
	}
	if desc.OwnerOnly && req.Author != d.owner {
		return fmt.Errorf("%w: %s is reserved to the owner", domain.ErrUnauthorized, name)
	}

	log.Infow("Running command", zap.String("command", name), zap.Strings("args", args), zap.String("author", req.Author))
	return desc.Handler(&Context{
		Context:  ctx,
		Session:  d.sessions.Get(req.Conversation),
		Reporter: r,
		Args:     args,
	})
}

// authorize lets the owner through, then anyone on the allow-list.
func (d *Dispatcher) authorize(ctx context.Context, req Request) error {
	if req.Author == d.owner {
		return nil
	}
	if d.access != nil {
		ok, err := d.access.Authorized(ctx, req.Author, req.Roles)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s may not run commands", domain.ErrUnauthorized, req.Author)
}

func userMessage(err error) string {
	return "Error: " + err.Error()
}
