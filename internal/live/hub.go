// Package live fans committed project changes out to subscribers, and
// serves them over WebSocket.
package live

import (
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/plotweave/internal/project"
)

// sendBufferSize is the per-subscriber queue length. A subscriber that
// falls this far behind loses messages rather than stalling mutations.
const sendBufferSize = 64

// Subscription receives the changes of one project until closed.
type Subscription struct {
	C <-chan project.Change

	hub       *Hub
	projectID string
	ch        chan project.Change
}

// Close stops delivery and closes C. It is safe to call more than once.
func (s *Subscription) Close() { s.hub.remove(s) }

// Hub implements project.ChangeListener.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
	log    *zap.Logger
}

// NewHub returns an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{subs: make(map[string]map[*Subscription]struct{}), log: logger.Named("LiveHub")}
}

// Subscribe registers interest in projectID. After Close the returned
// subscription's channel is already closed.
func (h *Hub) Subscribe(projectID string) *Subscription {
	ch := make(chan project.Change, sendBufferSize)
	s := &Subscription{C: ch, hub: h, projectID: projectID, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return s
	}
	if h.subs[projectID] == nil {
		h.subs[projectID] = make(map[*Subscription]struct{})
	}
	h.subs[projectID][s] = struct{}{}
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[s.projectID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.projectID)
	}
	close(s.ch)
}

// ProjectChanged delivers c to every subscriber of its project without
// blocking.
func (h *Hub) ProjectChanged(c project.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[c.ProjectID] {
		select {
		case s.ch <- c:
		default:
			h.log.Warn("Subscriber is not keeping up; dropping change.",
				zap.String("project_id", c.ProjectID), zap.String("snapshot_id", c.SnapshotID))
		}
	}
}

// Subscribers returns the number of live subscriptions to projectID.
func (h *Hub) Subscribers(projectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[projectID])
}

// Close ends every subscription. Later subscriptions are closed at once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for s := range set {
			close(s.ch)
		}
	}
	h.subs = make(map[string]map[*Subscription]struct{})
}

var _ project.ChangeListener = (*Hub)(nil)
