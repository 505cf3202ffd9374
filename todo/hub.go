package todo

import (
	"context"
	"sync"

	"todo-app/domain"
)

// Hub shares one live subscription among any number of feeds. The upstream
// feed opens with the first subscriber and closes with the last one, so many
// screens cost a single store subscription. Every other call goes straight
// to the Service.
type Hub struct {
	*Service

	source func(ctx context.Context) (*Feed, error)

	mu       sync.Mutex
	upstream *Feed
	outs     map[chan []domain.Todo]struct{}
	last     []domain.Todo
	haveLast bool
}

// NewHub creates a hub over svc.
func NewHub(svc *Service) *Hub {
	return &Hub{
		Service: svc,
		source:  svc.Subscribe,
		outs:    make(map[chan []domain.Todo]struct{}),
	}
}

// Subscribe returns a feed of the shared snapshots. A late subscriber starts
// with the latest snapshot seen so far. ctx only bounds opening the upstream
// feed, which outlives the caller.
func (h *Hub) Subscribe(ctx context.Context) (*Feed, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.upstream == nil {
		up, err := h.source(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		h.upstream = up
		go h.run(up)
	}
	out := make(chan []domain.Todo, 1)
	if h.haveLast {
		out <- h.last
	}
	h.outs[out] = struct{}{}
	return &Feed{C: out, stop: func() { h.leave(out) }}, nil
}

// Subscribers returns the number of open feeds.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.outs)
}

func (h *Hub) run(up *Feed) {
	for todos := range up.C {
		h.mu.Lock()
		if h.upstream == up {
			h.last, h.haveLast = todos, true
			for out := range h.outs {
				latest(out, todos)
			}
		}
		h.mu.Unlock()
	}

	// the upstream ended on its own; end every feed still attached to it
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.upstream != up {
		return
	}
	for out := range h.outs {
		close(out)
		delete(h.outs, out)
	}
	h.upstream, h.last, h.haveLast = nil, nil, false
}

func (h *Hub) leave(out chan []domain.Todo) {
	h.mu.Lock()
	if _, ok := h.outs[out]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.outs, out)
	close(out)
	var up *Feed
	if len(h.outs) == 0 {
		up = h.upstream
		h.upstream, h.last, h.haveLast = nil, nil, false
	}
	h.mu.Unlock()
	if up != nil {
		up.Close()
	}
}
