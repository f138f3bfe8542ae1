package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/xaenox/support-router/internal/routing"
	"go.uber.org/zap"
)

// Router is the part of the routing engine the dispatcher drives.
type Router interface {
	Route(ctx context.Context, req routing.RouteRequest) (*routing.Outcome, error)
}

// OutcomeHandler receives the result of every dispatched request.
type OutcomeHandler func(ctx context.Context, req routing.RouteRequest, out *routing.Outcome, err error)

type Config struct {
	Workers        int
	QueueSize      int
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:        4,
		QueueSize:      256,
		RequestTimeout: 10 * time.Second,
	}
}

// Dispatcher feeds re-routing requests into the engine from a bounded queue.
type Dispatcher struct {
	router   Router
	handle   OutcomeHandler
	config   Config
	requests chan routing.RouteRequest
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(router Router, handle OutcomeHandler, config Config, logger *zap.Logger) *Dispatcher {
	def := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = def.RequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		router:   router,
		handle:   handle,
		config:   config,
		requests: make(chan routing.RouteRequest, config.QueueSize),
		logger:   logger,
	}
}

// Submit enqueues a request without blocking. It returns false when the queue
// is full or the dispatcher has stopped.
func (d *Dispatcher) Submit(req routing.RouteRequest) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}
	select {
	case d.requests <- req:
		return true
	default:
		d.logger.Warn("Dispatch queue full, dropping request",
			zap.String("conversation_id", req.ConversationID))
		return false
	}
}

func (d *Dispatcher) Pending() int {
	return len(d.requests)
}

// Run starts the workers and blocks until ctx is done. Requests already queued
// when ctx ends are processed before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range d.requests {
				d.process(req)
			}
		}()
	}

	<-ctx.Done()

	d.mu.Lock()
	d.closed = true
	close(d.requests)
	d.mu.Unlock()

	wg.Wait()
	return nil
}

func (d *Dispatcher) process(req routing.RouteRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.RequestTimeout)
	defer cancel()

	out, err := d.router.Route(ctx, req)
	if err != nil {
		d.logger.Warn("Dispatched routing request failed",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err))
	}
	if d.handle != nil {
		d.handle(ctx, req, out, err)
	}
}
