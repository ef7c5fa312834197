package game

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// All engine writes are fire-and-forget: queued here, attempted once, and
// dropped with a log line on failure. The lifecycle is read-driven, so a lost
// write only means this client's view lags until the next snapshot; nothing
// retries and nothing blocks the event loop.

const (
	outboxDepth   = 64
	writeDeadline = 5 * time.Second
)

type outboxOp struct {
	name string
	do   func(ctx context.Context) error
}

type outbox struct {
	log  *slog.Logger
	ops  chan outboxOp
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func newOutbox(log *slog.Logger) *outbox {
	ob := &outbox{
		log:  log,
		ops:  make(chan outboxOp, outboxDepth),
		done: make(chan struct{}),
	}
	go ob.run()
	return ob
}

func (ob *outbox) run() {
	defer close(ob.done)
	for op := range ob.ops {
		ctx, cancel := context.WithTimeout(context.Background(), writeDeadline)
		if err := op.do(ctx); err != nil {
			ob.log.Warn("store write failed", "op", op.name, "error", err)
		}
		cancel()
	}
}

// enqueue hands a write to the worker. A full or closed queue drops the op:
// at-most-once delivery, same as a failed write.
func (ob *outbox) enqueue(name string, do func(ctx context.Context) error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if ob.closed {
		ob.log.Warn("outbox closed, dropping write", "op", name)
		return
	}
	select {
	case ob.ops <- outboxOp{name: name, do: do}:
	default:
		ob.log.Warn("outbox full, dropping write", "op", name)
	}
}

func (ob *outbox) close() {
	ob.mu.Lock()
	if ob.closed {
		ob.mu.Unlock()
		return
	}
	ob.closed = true
	ob.mu.Unlock()
	close(ob.ops)
	<-ob.done
}
