// Package orchestrator decides when the sync engine and photo consumer run
// and exposes an aggregate status snapshot for display surfaces.
package orchestrator

import (
	"context"
	"sync"

	"github.com/auditcore/fieldsync/internal/connectivity"
	"github.com/auditcore/fieldsync/internal/engine"
	"github.com/auditcore/fieldsync/internal/logging"
	"github.com/auditcore/fieldsync/internal/photo"
	"github.com/auditcore/fieldsync/internal/queue"
)

// Status is the aggregate snapshot display surfaces poll.
type Status struct {
	IsOnline     bool `json:"isOnline"`
	PendingCount int  `json:"pendingCount"`
	StuckCount   int  `json:"stuckCount"`
	IsSyncing    bool `json:"isSyncing"`
	PhotoPending int  `json:"photoPending"`
	PhotoStuck   int  `json:"photoStuck"`
}

// Orchestrator owns the sync engine, the photo consumer and their trigger
// policy: one mutation drain followed by one photo pass whenever
// connectivity returns after having been lost during this session, plus
// manual flushes.
type Orchestrator struct {
	engine   *engine.Engine
	consumer *photo.Consumer
	queue    *queue.Queue
	photoQ   *photo.Queue
	monitor  connectivity.Monitor

	mu         sync.Mutex
	wasOffline bool
	observers  map[int]func(Status)
	nextObs    int
	unsubs     []func()
	wg         sync.WaitGroup
}

// New wires the orchestrator. Call Start to begin reacting to connectivity
// transitions.
func New(eng *engine.Engine, consumer *photo.Consumer, q *queue.Queue, photoQ *photo.Queue, monitor connectivity.Monitor) *Orchestrator {
	return &Orchestrator{
		engine:    eng,
		consumer:  consumer,
		queue:     q,
		photoQ:    photoQ,
		monitor:   monitor,
		observers: make(map[int]func(Status)),
	}
}

// Start subscribes to connectivity transitions and queue change
// notifications. Stop releases the subscriptions and waits for any
// in-flight triggered sync.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.unsubs = append(o.unsubs, o.monitor.Subscribe(func(online bool) {
		o.onConnectivity(ctx, online)
	}))
	o.unsubs = append(o.unsubs, o.queue.Subscribe(o.broadcast))
	o.unsubs = append(o.unsubs, o.photoQ.Subscribe(o.broadcast))
}

// Stop unsubscribes and waits for triggered work to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	unsubs := o.unsubs
	o.unsubs = nil
	o.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	o.wg.Wait()
}

// onConnectivity implements the trigger policy: only an offline-to-online
// transition after a recorded offline period fires a sync.
func (o *Orchestrator) onConnectivity(ctx context.Context, online bool) {
	o.mu.Lock()
	if !online {
		o.wasOffline = true
		o.mu.Unlock()
		o.broadcast()
		return
	}
	resume := o.wasOffline
	o.wasOffline = false
	o.mu.Unlock()

	o.broadcast()
	if !resume {
		return
	}

	logging.Info("connectivity restored, flushing queues")
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.flush(ctx)
	}()
}

// Flush triggers one mutation drain followed by one photo pass.
func (o *Orchestrator) Flush(ctx context.Context) *engine.DrainResult {
	return o.flush(ctx)
}

func (o *Orchestrator) flush(ctx context.Context) *engine.DrainResult {
	result, err := o.engine.Drain(ctx)
	if err != nil {
		logging.Error("drain failed", err)
	}
	if err := o.consumer.Process(ctx); err != nil {
		logging.Error("photo pass failed", err)
	}
	o.broadcast()
	return result
}

// Status recomputes the aggregate snapshot on demand.
func (o *Orchestrator) Status() Status {
	return Status{
		IsOnline:     o.monitor.IsOnline(),
		PendingCount: o.queue.PendingCount(),
		StuckCount:   o.queue.StuckCount(),
		IsSyncing:    o.engine.Draining() || o.consumer.Processing(),
		PhotoPending: o.photoQ.PendingCount(),
		PhotoStuck:   o.photoQ.StuckCount(),
	}
}

// Subscribe registers a status observer, invoked with a fresh snapshot
// after every queue mutation or connectivity change. The returned function
// unsubscribes.
func (o *Orchestrator) Subscribe(fn func(Status)) func() {
	o.mu.Lock()
	id := o.nextObs
	o.nextObs++
	o.observers[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.observers, id)
		o.mu.Unlock()
	}
}

func (o *Orchestrator) broadcast() {
	o.mu.Lock()
	fns := make([]func(Status), 0, len(o.observers))
	for _, fn := range o.observers {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	if len(fns) == 0 {
		return
	}
	status := o.Status()
	for _, fn := range fns {
		fn(status)
	}
}
