package scene

import (
	"slices"

	"github.com/google/uuid"
)

// EventKind names a change to a node.
type EventKind int

const (
	MeshModified EventKind = iota + 1
	ImageDataModified
	TransformModified
	DisplayModified
	NodeRemoved
)

func (k EventKind) String() string {
	switch k {
	case MeshModified:
		return "mesh-modified"
	case ImageDataModified:
		return "image-data-modified"
	case TransformModified:
		return "transform-modified"
	case DisplayModified:
		return "display-modified"
	case NodeRemoved:
		return "node-removed"
	default:
		return "unknown"
	}
}

// Event is a change notification.
type Event struct {
	NodeID string
	Kind   EventKind
}

// Handler receives events for an observed node.
type Handler func(Event)

// Subscription is an explicit observation record. It stays active until
// cancelled or until the observed node is removed.
type Subscription struct {
	id        string
	nodeID    string
	kinds     []EventKind
	fn        Handler
	scene     *Scene
	cancelled bool
}

// ID returns the subscription token.
func (sub *Subscription) ID() string { return sub.id }

// NodeID returns the observed node.
func (sub *Subscription) NodeID() string { return sub.nodeID }

// Active reports whether the subscription still delivers events.
func (sub *Subscription) Active() bool { return sub != nil && !sub.cancelled }

// Cancel stops delivery. It is safe to call more than once and on nil.
func (sub *Subscription) Cancel() {
	if sub == nil || sub.cancelled {
		return
	}
	sub.cancelled = true
	subs := sub.scene.subs[sub.nodeID]
	if i := slices.Index(subs, sub); i >= 0 {
		sub.scene.subs[sub.nodeID] = slices.Delete(subs, i, i+1)
	}
	if len(sub.scene.subs[sub.nodeID]) == 0 {
		delete(sub.scene.subs, sub.nodeID)
	}
}

func (sub *Subscription) wants(k EventKind) bool {
	return len(sub.kinds) == 0 || slices.Contains(sub.kinds, k)
}

// Observe registers fn for events on nodeID. With no kinds, every event is
// delivered.
func (s *Scene) Observe(nodeID string, fn Handler, kinds ...EventKind) (*Subscription, error) {
	if _, err := s.mustGet(nodeID); err != nil {
		return nil, err
	}
	sub := &Subscription{
		id:     uuid.NewString(),
		nodeID: nodeID,
		kinds:  kinds,
		fn:     fn,
		scene:  s,
	}
	s.subs[nodeID] = append(s.subs[nodeID], sub)
	return sub, nil
}

// ObserverCount returns the number of active subscriptions on nodeID.
func (s *Scene) ObserverCount(nodeID string) int {
	return len(s.subs[nodeID])
}

// StartBatch suppresses notifications until the matching EndBatch.
// Batches nest.
func (s *Scene) StartBatch() {
	s.batchDepth++
}

// EndBatch closes a batch. Closing the outermost batch delivers the queued
// events once each, in first-emitted order.
func (s *Scene) EndBatch() {
	if s.batchDepth == 0 {
		return
	}
	s.batchDepth--
	if s.batchDepth > 0 {
		return
	}
	pending := s.pending
	s.pending = nil
	for _, ev := range pending {
		s.deliver(ev)
	}
}

// InBatch reports whether notifications are currently suppressed.
func (s *Scene) InBatch() bool {
	return s.batchDepth > 0
}

func (s *Scene) emit(ev Event) {
	if s.batchDepth > 0 {
		if !slices.Contains(s.pending, ev) {
			s.pending = append(s.pending, ev)
		}
		return
	}
	s.deliver(ev)
}

func (s *Scene) deliver(ev Event) {
	// Handlers may cancel subscriptions or remove nodes while we iterate.
	subs := slices.Clone(s.subs[ev.NodeID])
	for _, sub := range subs {
		if sub.cancelled || !sub.wants(ev.Kind) {
			continue
		}
		sub.fn(ev)
	}
}
