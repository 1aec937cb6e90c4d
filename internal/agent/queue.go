// ABOUTME: Per-session run-to-completion turn queue
// ABOUTME: Turn N+1 for a session never starts composing before turn N finalizes

package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/patron-gateway/internal/session"
)

// queueDepth bounds how many turns one session can have waiting. The
// gateway's per-sender rate limit makes a deeper backlog unreachable in
// practice.
const queueDepth = 64

// ErrQueueFull means the session already has queueDepth messages waiting.
var ErrQueueFull = errors.New("session queue full")

// ErrQueueClosed means the orchestrator is shutting down.
var ErrQueueClosed = errors.New("queue closed")

// turnFunc executes one complete turn.
type turnFunc func(ctx context.Context, channel, sessionID string, msg session.Message)

// item is one queued inbound message.
type item struct {
	channel string
	msg     session.Message
}

// Queue serializes turns per session. Each session gets its own worker that
// runs one turn to completion before starting the next, so two messages sent
// before the first reply completes cannot interleave history reads or double
// their tool side effects. Different sessions run in parallel.
type Queue struct {
	run         turnFunc
	turnTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	workers map[string]chan item
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates the queue. Workers spawn lazily per session on first
// Enqueue and live until Close; sessions are never reaped, matching the
// registry's process-lifetime sessions.
func NewQueue(run turnFunc, turnTimeout time.Duration, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		run:         run,
		turnTimeout: turnTimeout,
		logger:      logger,
		workers:     make(map[string]chan item),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Enqueue hands one inbound message to the session's worker, preserving
// arrival order. Never blocks the caller: a saturated backlog returns
// ErrQueueFull instead of stalling the gateway's route path.
func (q *Queue) Enqueue(channel, sessionID string, msg session.Message) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	ch, ok := q.workers[sessionID]
	if !ok {
		ch = make(chan item, queueDepth)
		q.workers[sessionID] = ch
		q.wg.Add(1)
		go q.worker(sessionID, ch)
	}
	q.mu.Unlock()

	select {
	case ch <- item{channel: channel, msg: msg}:
		return nil
	default:
		q.logger.Warn("session queue full, dropping message",
			"session_id", sessionID,
			"message_id", msg.ID)
		return ErrQueueFull
	}
}

// Close stops accepting work, cancels in-flight turns, and waits for the
// workers to exit. An abandoned turn unwinds via its cancelled context.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

// worker drains one session's backlog in arrival order.
func (q *Queue) worker(sessionID string, ch chan item) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case it := <-ch:
			q.runOne(sessionID, it)
		}
	}
}

// runOne executes one turn bounded by the turn timeout. A stalled turn is
// abandoned rather than waited on: cancelling its context sends it down the
// provider-failure path while the worker moves to the next message, so one
// wedged network call cannot block the session's queue forever.
func (q *Queue) runOne(sessionID string, it item) {
	tctx, cancel := context.WithTimeout(q.ctx, q.turnTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.run(tctx, it.channel, sessionID, it.msg)
	}()

	select {
	case <-done:
	case <-tctx.Done():
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			q.logger.Error("turn timed out, unblocking session queue",
				"session_id", sessionID,
				"message_id", it.msg.ID,
				"timeout", q.turnTimeout)
		}
	}
}
