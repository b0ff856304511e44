package rpcore

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// defaultDispatcherThreads is the worker pool size used when
// DispatcherConfig.Threads is zero or negative.
const defaultDispatcherThreads = 5

// defaultDeliverThreads bounds the local-ask completion pool when
// DispatcherConfig.DeliverThreads is zero or negative.
const defaultDeliverThreads = 5

// readyQueueCapacity bounds the shared ready-queue. The queue is a blocking
// FIFO either way (sends block once full); a generous buffer just means
// producers rarely have to wait behind consumers.
const readyQueueCapacity = 4096

// endpointEntry is the Dispatcher's registry record for one endpoint: its
// name, its behavior, the reference handed out to callers, and the Inbox
// driving delivery. Entries are the handles placed on the ready-queue; an
// entry holds no resources beyond the handle itself.
type endpointEntry struct {
	name     string
	endpoint Endpoint
	ref      *EndpointReference
	inbox    *Inbox
}

// poisonEntry is the distinguished ready-queue value that tells a worker to
// exit; Shutdown enqueues one per worker.
var poisonEntry = &endpointEntry{name: "<poison>"}

// DispatcherConfig configures a Dispatcher's worker pool.
type DispatcherConfig struct {
	// Threads is the number of worker goroutines servicing the
	// ready-queue. Values <= 0 default to defaultDispatcherThreads.
	Threads int

	// DeliverThreads bounds the local-ask completion pool: how many
	// PostLocal replies (an endpoint's reply.Reply/Fail call on a
	// locally-originated Ask) may be completing their Promise
	// concurrently. Values <= 0 default to defaultDeliverThreads.
	DeliverThreads int
}

// DefaultDispatcherConfig returns a DispatcherConfig with the default worker
// count.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Threads:        defaultDispatcherThreads,
		DeliverThreads: defaultDeliverThreads,
	}
}

// Dispatcher is the registry plus scheduler at the center of the runtime: it
// owns every locally registered Endpoint's Inbox, and a fixed pool of worker
// goroutines that pull ready inboxes off a shared FIFO and process exactly
// one item per visit.
//
// Locking discipline: registryMu is a short-lived lock guarding entries and
// stopped. It is never held while calling into an Inbox or an Endpoint
// callback, and no caller holding an inbox lock ever acquires it.
type Dispatcher struct {
	registryMu sync.RWMutex
	entries    map[string]*endpointEntry
	// byIdentity supports reverse lookup from an Endpoint instance back to
	// its EndpointReference, e.g. for an endpoint that needs to discover
	// its own address.
	byIdentity map[Endpoint]*EndpointReference
	stopped    bool

	readyQueue chan *endpointEntry
	numWorkers int
	workerWg   sync.WaitGroup

	// deliverPool bounds how many local-ask completions (PostLocal
	// replies) may run concurrently.
	deliverPool *errgroup.Group

	localAddr Address
}

// NewDispatcher creates a Dispatcher bound to localAddr (used to construct
// EndpointReferences for locally registered endpoints) and starts its
// worker pool.
func NewDispatcher(localAddr Address, cfg DispatcherConfig) *Dispatcher {
	threads := cfg.Threads
	if threads <= 0 {
		threads = defaultDispatcherThreads
	}
	deliverThreads := cfg.DeliverThreads
	if deliverThreads <= 0 {
		deliverThreads = defaultDeliverThreads
	}

	deliverPool, _ := errgroup.WithContext(context.Background())
	deliverPool.SetLimit(deliverThreads)

	d := &Dispatcher{
		entries:     make(map[string]*endpointEntry),
		byIdentity:  make(map[Endpoint]*EndpointReference),
		readyQueue:  make(chan *endpointEntry, readyQueueCapacity),
		numWorkers:  threads,
		deliverPool: deliverPool,
		localAddr:   localAddr,
	}

	for i := 0; i < threads; i++ {
		d.workerWg.Add(1)
		go d.worker(i)
	}

	return d
}

// worker is the body of one dispatcher worker goroutine: blocking-take from
// the ready-queue, process one item from the chosen inbox, loop. Workers are
// daemon-like; they exit only once they consume their poison entry during
// Shutdown, never blocking process exit on their own.
func (d *Dispatcher) worker(id int) {
	defer d.workerWg.Done()

	for entry := range d.readyQueue {
		if entry == poisonEntry {
			log.TraceS(context.Background(), "Dispatcher worker exiting",
				"worker_id", id)
			return
		}

		entry.inbox.process(entry, d)
	}
}

// schedule pushes entry onto the ready-queue. It implements the scheduler
// interface Inbox depends on.
func (d *Dispatcher) schedule(entry *endpointEntry) {
	d.readyQueue <- entry
}

// deliver submits fn to the local-ask completion pool, bounding concurrent
// PostLocal reply completions to DispatcherConfig.DeliverThreads. Go blocks
// until a slot is free, so a reply context's Reply/Fail call may briefly
// block the caller (always off the inbox lock) rather than spawn
// unboundedly.
func (d *Dispatcher) deliver(fn func()) {
	d.deliverPool.Go(func() error {
		fn()
		return nil
	})
}

// Register creates a new endpoint entry under name, starts its Inbox (which
// immediately queues OnStart), and returns a local EndpointReference for it.
// Duplicate names and registration after shutdown are rejected without
// mutating any existing entry.
func (d *Dispatcher) Register(
	name string, endpoint Endpoint,
) (*EndpointReference, error) {
	d.registryMu.Lock()
	if d.stopped {
		d.registryMu.Unlock()
		return nil, ErrEnvironmentStopped
	}
	if _, exists := d.entries[name]; exists {
		d.registryMu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrNameAlreadyRegistered, name)
	}

	ref := &EndpointReference{
		name:       name,
		remoteAddr: d.localAddr,
		local:      d,
	}
	inbox := newInbox(name, endpoint)
	// Register schedules the entry itself below, so the scheduled bit is
	// set before the entry becomes visible to posters; otherwise the first
	// post would enqueue a second ready-queue entry for the same inbox.
	inbox.scheduled = true
	entry := &endpointEntry{
		name:     name,
		endpoint: endpoint,
		ref:      ref,
		inbox:    inbox,
	}
	d.entries[name] = entry
	d.byIdentity[endpoint] = ref
	d.registryMu.Unlock()

	log.DebugS(context.Background(), "Endpoint registered", "endpoint", name)

	// The inbox was created with OnStart already queued and its scheduled
	// bit set above, so it always needs its first schedule call here.
	d.schedule(entry)

	return ref, nil
}

// ReferenceFor returns the EndpointReference previously handed out for
// endpoint, if it is still registered.
func (d *Dispatcher) ReferenceFor(endpoint Endpoint) (*EndpointReference, bool) {
	d.registryMu.RLock()
	defer d.registryMu.RUnlock()
	ref, ok := d.byIdentity[endpoint]
	return ref, ok
}

// lookup returns the entry for name under the short-lived registry lock,
// also reporting whether the dispatcher itself has been stopped.
func (d *Dispatcher) lookup(name string) (entry *endpointEntry, stopped, ok bool) {
	d.registryMu.RLock()
	defer d.registryMu.RUnlock()
	if d.stopped {
		return nil, true, false
	}
	entry, ok = d.entries[name]
	return entry, false, ok
}

// PostOneWay posts a fire-and-forget OneWay item to name.
// ErrEnvironmentStopped is the only error ever returned here; a one-way post
// to a missing endpoint has no reply context to fail, so it is logged and
// dropped rather than surfaced.
func (d *Dispatcher) PostOneWay(name string, sender Address, payload []byte) error {
	entry, stopped, ok := d.lookup(name)
	if stopped {
		return ErrEnvironmentStopped
	}
	if !ok {
		log.DebugS(context.Background(), "Dropping one-way post to unknown endpoint",
			"endpoint", name)
		return nil
	}

	if needsSchedule := entry.inbox.post(oneWayItem{
		sender: sender, payload: payload,
	}); needsSchedule {
		d.schedule(entry)
	}
	return nil
}

// PostLocal posts an Rpc item backed by a local Promise and returns its
// Future. Failures (unknown endpoint, stopped environment) are delivered by
// returning an already-failed Future rather than a Go error, so callers have
// a single completion path to observe.
func (d *Dispatcher) PostLocal(
	ctx context.Context, name string, sender Address, payload []byte,
) Future[[]byte] {
	entry, stopped, ok := d.lookup(name)
	if stopped {
		return completedFuture(errBytes(ErrEnvironmentStopped))
	}
	if !ok {
		return completedFuture(errBytes(
			fmt.Errorf("%w: %q", ErrNoSuchEndpoint, name),
		))
	}

	promise := NewPromise[[]byte]()
	reply := newLocalReplyContext(promise, d.deliver)

	if needsSchedule := entry.inbox.post(rpcItem{
		sender: sender, payload: payload, reply: reply,
	}); needsSchedule {
		d.schedule(entry)
	}

	return promise.Future()
}

// PostRemote posts an Rpc item whose reply context adapts the endpoint's
// Reply/Fail calls into transportCallback. Together with PostOneWay, this is
// the sole path remote traffic takes into the dispatcher.
func (d *Dispatcher) PostRemote(
	name string, sender Address, payload []byte,
	transportCallback func(payload []byte, err error),
) {
	entry, stopped, ok := d.lookup(name)
	if stopped {
		transportCallback(nil, ErrEnvironmentStopped)
		return
	}
	if !ok {
		transportCallback(nil, fmt.Errorf("%w: %q", ErrNoSuchEndpoint, name))
		return
	}

	reply := newRemoteReplyContext(transportCallback)
	if needsSchedule := entry.inbox.post(rpcItem{
		sender: sender, payload: payload, reply: reply,
	}); needsSchedule {
		d.schedule(entry)
	}
}

// PostToAll broadcasts a one-way item built from payload to every endpoint
// currently registered. Iteration is a point-in-time snapshot: a
// registration racing with the broadcast is not guaranteed to receive it.
func (d *Dispatcher) PostToAll(sender Address, payload []byte) {
	d.registryMu.RLock()
	snapshot := make([]*endpointEntry, 0, len(d.entries))
	for _, entry := range d.entries {
		snapshot = append(snapshot, entry)
	}
	d.registryMu.RUnlock()

	for _, entry := range snapshot {
		if needsSchedule := entry.inbox.post(oneWayItem{
			sender: sender, payload: payload,
		}); needsSchedule {
			d.schedule(entry)
		}
	}
}

// broadcastLifecycle posts a transport lifecycle item (RemoteConnected/
// RemoteDisconnected/RemoteFailure) to every currently registered endpoint.
// Used by the Outbox to notify endpoints about the peer it serves.
func (d *Dispatcher) broadcastLifecycle(item MailboxItem) {
	d.registryMu.RLock()
	snapshot := make([]*endpointEntry, 0, len(d.entries))
	for _, entry := range d.entries {
		snapshot = append(snapshot, entry)
	}
	d.registryMu.RUnlock()

	for _, entry := range snapshot {
		if needsSchedule := entry.inbox.post(item); needsSchedule {
			d.schedule(entry)
		}
	}
}

// Unregister stops the named endpoint's inbox and removes it from the
// registry. It returns false if no such endpoint was registered. Unlike
// Shutdown, this does not affect any other registered endpoint.
func (d *Dispatcher) Unregister(name string) bool {
	d.registryMu.Lock()
	entry, ok := d.entries[name]
	if ok {
		delete(d.entries, name)
		delete(d.byIdentity, entry.endpoint)
	}
	d.registryMu.Unlock()

	if !ok {
		return false
	}

	if needsSchedule := entry.inbox.stop(); needsSchedule {
		d.schedule(entry)
	}

	log.DebugS(context.Background(), "Endpoint unregistered", "endpoint", name)
	return true
}

// Shutdown marks the dispatcher stopped (rejecting new registrations and
// posts), stops every currently registered endpoint, then shuts down the
// worker pool and waits for every worker to exit.
func (d *Dispatcher) Shutdown() {
	d.registryMu.Lock()
	if d.stopped {
		d.registryMu.Unlock()
		return
	}
	d.stopped = true
	snapshot := make([]*endpointEntry, 0, len(d.entries))
	for _, entry := range d.entries {
		snapshot = append(snapshot, entry)
	}
	d.entries = make(map[string]*endpointEntry)
	d.byIdentity = make(map[Endpoint]*EndpointReference)
	d.registryMu.Unlock()

	log.InfoS(context.Background(), "Dispatcher shutting down",
		"num_endpoints", len(snapshot))

	for _, entry := range snapshot {
		if needsSchedule := entry.inbox.stop(); needsSchedule {
			d.schedule(entry)
		}
	}

	// Wait for every endpoint's OnStop to actually be delivered before
	// poisoning the worker pool. A backlogged endpoint's entry may need
	// several process() visits (one item per visit) to work through its
	// queue and reach the OnStop item behind it; poisoning too early lets
	// workers exit out from under that backlog and strand OnStop
	// undelivered.
	for _, entry := range snapshot {
		<-entry.inbox.stoppedSignal()
	}

	for i := 0; i < d.numWorkers; i++ {
		d.readyQueue <- poisonEntry
	}
	d.workerWg.Wait()
}
