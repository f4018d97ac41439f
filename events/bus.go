// Package events implements the in-process domain event bus described in
// spec.md §9: handlers only ever see an event after the transaction that
// produced it has committed, and dispatch happens on a bounded worker pool
// so a slow handler cannot stall the producer. There is no third-party
// pub/sub library anywhere in the reference set (the teacher wires
// components together with direct RPC calls instead) — this is the one
// ambient concern built on the standard library alone; see DESIGN.md.
package events

import (
	"context"
	"fmt"
	"sync"

	blog "github.com/iland112/local-pkd-sub003/log"
	"github.com/iland112/local-pkd-sub003/metrics"
)

// Bus is a thread-safe, synchronous-publish/asynchronous-dispatch event bus.
type Bus struct {
	log   blog.Logger
	stats metrics.Scope

	mu       sync.RWMutex
	handlers map[string][]func(ctx context.Context, payload interface{})

	work chan task
	wg   sync.WaitGroup
}

type task struct {
	ctx     context.Context
	handler func(ctx context.Context, payload interface{})
	name    string
	payload interface{}
}

// NewBus creates a Bus with workers goroutines draining its dispatch queue.
// queueDepth bounds backpressure per spec.md §5: a full queue blocks
// Publish, which in turn blocks whatever upstream loop is publishing.
func NewBus(workers, queueDepth int, log blog.Logger, stats metrics.Scope) *Bus {
	if workers < 1 {
		workers = 1
	}
	b := &Bus{
		log:      log,
		stats:    stats,
		handlers: make(map[string][]func(ctx context.Context, payload interface{})),
		work:     make(chan task, queueDepth),
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.drain()
	}
	return b
}

// Subscribe registers handler to run whenever eventName is published.
func (b *Bus) Subscribe(eventName string, handler func(ctx context.Context, payload interface{})) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

// Publish enqueues eventName for dispatch to every subscribed handler.
// Callers MUST only call Publish after the transaction that produced the
// event's payload has committed — Publish itself does not know about
// transactions, so the caller (upload/, parse/, validate/) is responsible
// for sequencing it correctly, exactly as spec.md §9 describes for the
// "transactional event listener" translation.
func (b *Bus) Publish(ctx context.Context, eventName string, payload interface{}) {
	b.mu.RLock()
	handlers := b.handlers[eventName]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}
	b.stats.Inc(fmt.Sprintf("events.%s.published", eventName), 1)
	for _, h := range handlers {
		b.work <- task{ctx: ctx, handler: h, name: eventName, payload: payload}
	}
}

func (b *Bus) drain() {
	defer b.wg.Done()
	for t := range b.work {
		b.runOne(t)
	}
}

func (b *Bus) runOne(t task) {
	defer func() {
		if r := recover(); r != nil {
			b.log.AuditErr(fmt.Sprintf("event handler for %s panicked: %v", t.name, r))
			b.stats.Inc(fmt.Sprintf("events.%s.handler_panic", t.name), 1)
		}
	}()
	t.handler(t.ctx, t.payload)
	b.stats.Inc(fmt.Sprintf("events.%s.handled", t.name), 1)
}

// Close stops accepting new work and waits for in-flight handlers to drain.
func (b *Bus) Close() {
	close(b.work)
	b.wg.Wait()
}
