package hub

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"chatterbox/pkg/interfaces"
)

// Hub serialises every state mutation onto one goroutine.
// ARCHITECTURAL DISCOVERY: Inbound frames, disconnects and HTTP-side room
// mutations share one queue, so the router never sees two of them at once
// and a connection's last frame is always handled before its disconnect.
type Hub struct {
	requests chan request // TECHNICAL DISCOVERY: 1000 buffer absorbs message bursts
	router   interfaces.MessageRouter

	mu       sync.RWMutex
	running  bool
	shutdown chan struct{}
	stopped  chan struct{}
}

type requestKind int

const (
	frameRequest requestKind = iota
	closeRequest
	executeRequest
)

type request struct {
	kind  requestKind
	conn  interfaces.Connection
	data  []byte
	fn    func()
	claim *atomic.Int32
	done  chan struct{}
}

// Execute claim states. Whoever moves a claim off pending decides whether
// fn runs: the hub by starting it, the caller by abandoning it.
const (
	claimPending int32 = iota
	claimRunning
	claimAbandoned
)

func NewHub(router interfaces.MessageRouter) *Hub {
	return &Hub{
		requests: make(chan request, 1000),
		router:   router,
	}
}

// Start launches the processing goroutine. It stops on Stop or when ctx ends.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.stopped = make(chan struct{})

	log.Println("Starting message hub...")
	go h.run(ctx, h.shutdown, h.stopped)
	return nil
}

// Stop signals the processing goroutine and waits for it to exit. Requests
// still queued are discarded.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	stopped := h.stopped
	h.mu.Unlock()

	log.Println("Stopping message hub...")
	<-stopped
	return nil
}

func (h *Hub) channels() (shutdown chan struct{}, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.shutdown, h.running
}

// Dispatch queues a raw inbound frame. It blocks while the queue is full,
// which throttles the connection's read pump, and gives up if the
// connection closes or the hub stops first.
func (h *Hub) Dispatch(conn interfaces.Connection, data []byte) error {
	shutdown, ok := h.channels()
	if !ok {
		return ErrHubNotRunning
	}

	select {
	case h.requests <- request{kind: frameRequest, conn: conn, data: data}:
		return nil
	case <-conn.Done():
		return ErrConnectionGone
	case <-shutdown:
		return ErrHubNotRunning
	}
}

// Disconnect queues the session release for conn.
func (h *Hub) Disconnect(conn interfaces.Connection) error {
	shutdown, ok := h.channels()
	if !ok {
		return ErrHubNotRunning
	}

	select {
	case h.requests <- request{kind: closeRequest, conn: conn}:
		return nil
	case <-shutdown:
		return ErrHubNotRunning
	}
}

// Execute runs fn on the hub goroutine and waits for it to finish.
// A nil error means fn ran. ctx only abandons fn while it is still queued;
// once the hub has started fn, Execute waits for it regardless, so an error
// always means fn never ran.
func (h *Hub) Execute(ctx context.Context, fn func()) error {
	shutdown, ok := h.channels()
	if !ok {
		return ErrHubNotRunning
	}

	claim := new(atomic.Int32)
	done := make(chan struct{})
	select {
	case h.requests <- request{kind: executeRequest, fn: fn, claim: claim, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-shutdown:
		return ErrHubNotRunning
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if claim.CompareAndSwap(claimPending, claimAbandoned) {
			return ctx.Err()
		}
		<-done
		return nil
	case <-shutdown:
		if claim.CompareAndSwap(claimPending, claimAbandoned) {
			return ErrHubNotRunning
		}
		<-done
		return nil
	}
}

// QueueLength reports how many requests are waiting.
func (h *Hub) QueueLength() int {
	return len(h.requests)
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	defer log.Println("Hub processing stopped")

	for {
		select {
		case req := <-h.requests:
			h.process(req)

		case <-shutdown:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			h.mu.Lock()
			if h.running {
				h.running = false
				close(h.shutdown)
			}
			h.mu.Unlock()
			return
		}
	}
}

// process handles one request. A panic in the router is logged and the
// hub keeps serving.
func (h *Hub) process(req request) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Hub recovered from panic: %v", r)
		}
		if req.done != nil {
			close(req.done)
		}
	}()

	switch req.kind {
	case frameRequest:
		if err := h.router.HandleEnvelope(req.conn, req.data); err != nil {
			log.Printf("Dropped frame on %s: %v", req.conn.ID(), err)
		}
	case closeRequest:
		h.router.HandleClose(req.conn)
	case executeRequest:
		if req.claim.CompareAndSwap(claimPending, claimRunning) {
			req.fn()
		}
	default:
		panic(fmt.Sprintf("unknown hub request kind %d", req.kind))
	}
}
