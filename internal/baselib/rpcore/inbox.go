package rpcore

import (
	"context"
	"fmt"
	"sync"
)

// scheduler is the narrow slice of Dispatcher an Inbox needs: the ability to
// push itself onto the shared ready-queue. Expressing it as an interface
// keeps Inbox testable without a full Dispatcher.
type scheduler interface {
	schedule(entry *endpointEntry)
}

// Inbox is the per-endpoint FIFO mailbox. It enforces single-threaded,
// in-order delivery to its Endpoint even though many producer goroutines may
// call post concurrently, and even though the Dispatcher's worker pool may
// pick up the inbox from different goroutines across separate process()
// calls.
//
// Concurrency: mu guards every field below. It is held only across queue
// manipulation and is always released before the endpoint callback runs.
type Inbox struct {
	mu sync.Mutex

	name     string
	endpoint Endpoint

	queue []MailboxItem

	// enabled becomes true once the OnStart item has been processed.
	// Items posted before that point still queue normally; this flag
	// exists for observability/tests, delivery order does the real work.
	enabled bool

	// stopped is set by stop() and checked by post() to reject further
	// traffic.
	stopped bool

	// numActiveThreads counts concurrent process() invocations currently
	// past the pop step. It is always 0 or 1 in practice because
	// scheduled prevents a second worker from picking up this inbox
	// while one is active.
	numActiveThreads int

	// scheduled is true while this inbox has an outstanding entry in the
	// dispatcher's ready-queue, so a burst of posts enqueues the entry
	// once rather than once per post.
	scheduled bool

	// stopDone is closed once the OnStop item has been fully delivered
	// and any backlog behind it drained. Dispatcher.Shutdown waits on
	// this for every entry before poisoning the worker pool, so a
	// backlogged endpoint's OnStop is guaranteed to run even though it
	// may take several process() visits to reach (each one re-enqueuing
	// the entry behind newer ready-queue arrivals).
	stopDone chan struct{}
}

// newInbox creates an Inbox for name/endpoint and immediately queues its
// implicit OnStart item, so the endpoint's OnStart callback always precedes
// any other delivery. It does not schedule itself; the caller
// (Dispatcher.Register) does that once the entry is visible in the registry,
// to avoid a worker racing a lookup of an entry that isn't registered yet.
func newInbox(name string, endpoint Endpoint) *Inbox {
	return &Inbox{
		name:     name,
		endpoint: endpoint,
		queue:    []MailboxItem{onStartItem{}},
		stopDone: make(chan struct{}),
	}
}

// post appends item to the queue unless the inbox has been stopped. A
// stopped inbox fails any reply context the item carries with
// ErrEndpointStopped and silently drops one-way items. Reports whether the
// caller must schedule the inbox (false if already scheduled, or if the item
// was rejected).
func (ib *Inbox) post(item MailboxItem) (needsSchedule bool) {
	ib.mu.Lock()
	defer ib.mu.Unlock()

	if ib.stopped {
		log.DebugS(context.Background(), "Post to stopped inbox, rejecting",
			"endpoint", ib.name)
		failReplyIfPresent(item, ErrEndpointStopped)
		return false
	}

	ib.queue = append(ib.queue, item)

	if !ib.scheduled {
		ib.scheduled = true
		return true
	}
	return false
}

// stop marks the inbox stopped and appends the OnStop lifecycle item. It
// returns whether the dispatcher must schedule the inbox (mirrors post's
// contract) so the OnStop item is guaranteed to be delivered even if the
// inbox was otherwise idle.
func (ib *Inbox) stop() (needsSchedule bool) {
	ib.mu.Lock()
	defer ib.mu.Unlock()

	if ib.stopped {
		return false
	}
	ib.stopped = true
	ib.queue = append(ib.queue, onStopItem{})

	if !ib.scheduled {
		ib.scheduled = true
		return true
	}
	return false
}

// process pops exactly one item and dispatches it to the endpoint. It is
// called by a Dispatcher worker
// that just pulled this inbox's entry off the ready-queue. If more work
// remains after handling the item, process re-schedules the entry itself so
// the caller's loop can move on to the next ready entry.
func (ib *Inbox) process(entry *endpointEntry, d scheduler) {
	ib.mu.Lock()
	if len(ib.queue) == 0 {
		// Spurious wake: nothing to do. This can legitimately happen
		// because stop() and post() only schedule once per transition
		// to idle; a worker observing an empty queue here is not a
		// bug, just a race already resolved in the item's favor.
		ib.scheduled = false
		ib.mu.Unlock()
		return
	}
	item := ib.queue[0]
	ib.queue = ib.queue[1:]
	ib.numActiveThreads++
	ib.mu.Unlock()

	ib.dispatch(item)

	ib.mu.Lock()
	ib.numActiveThreads--
	more := len(ib.queue) > 0
	if !more {
		ib.scheduled = false
	}
	ib.mu.Unlock()

	if more {
		d.schedule(entry)
	}
}

// dispatch delivers a single item to the endpoint, recovering from panics
// into Endpoint.OnError. A panicking endpoint does not stop its inbox, but a
// panicked RPC item still has its reply context failed so the caller is not
// left hanging.
func (ib *Inbox) dispatch(item MailboxItem) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("rpcore: endpoint %q panicked: %v",
				ib.name, r)
			ib.endpoint.OnError(err)
			failReplyIfPresent(item, err)
		}
	}()

	ctx := context.Background()

	switch msg := item.(type) {
	case onStartItem:
		ib.mu.Lock()
		ib.enabled = true
		ib.mu.Unlock()
		log.TraceS(ctx, "Inbox delivering OnStart", "endpoint", ib.name)
		ib.endpoint.OnStart(ctx)

	case onStopItem:
		log.TraceS(ctx, "Inbox delivering OnStop", "endpoint", ib.name)
		ib.endpoint.OnStop(ctx)
		ib.drainOnStop()
		close(ib.stopDone)

	case oneWayItem:
		log.TraceS(ctx, "Inbox delivering one-way message",
			"endpoint", ib.name)
		ib.endpoint.Receive(ctx, msg.sender, msg.payload)

	case rpcItem:
		log.TraceS(ctx, "Inbox delivering rpc message",
			"endpoint", ib.name)
		ib.endpoint.ReceiveAndReply(ctx, msg.sender, msg.payload, msg.reply)

	case remoteConnectedItem:
		ib.endpoint.OnConnected(msg.addr)

	case remoteDisconnectedItem:
		ib.endpoint.OnDisconnected(msg.addr)

	case remoteFailureItem:
		ib.endpoint.OnNetworkError(msg.addr, msg.err)

	default:
		panic(fmt.Sprintf("rpcore: unknown mailbox item type %T", item))
	}
}

// drainOnStop fails any items still queued after OnStop has completed: once
// the endpoint has stopped, nothing further is delivered and no reply
// context may be left pending.
// Because post() and stop() share the same mutex, no item can ever be
// appended after onStopItem was enqueued; this exists as a defensive
// safety net documenting that guarantee rather than a path expected to run.
func (ib *Inbox) drainOnStop() {
	ib.mu.Lock()
	remaining := ib.queue
	ib.queue = nil
	ib.mu.Unlock()

	for _, item := range remaining {
		if _, ok := item.(oneWayItem); ok {
			log.DebugS(context.Background(),
				"Dropping one-way item queued behind OnStop",
				"endpoint", ib.name, "item_type", fmt.Sprintf("%T", item))
		}
		failReplyIfPresent(item, ErrEndpointStopped)
	}
}

// isStopped reports whether the inbox has observed a stop request.
func (ib *Inbox) isStopped() bool {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.stopped
}

// stoppedSignal returns the channel closed once this inbox's OnStop item has
// been fully delivered, for Dispatcher.Shutdown to wait on before retiring
// its worker pool.
func (ib *Inbox) stoppedSignal() <-chan struct{} {
	return ib.stopDone
}
