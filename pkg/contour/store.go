package contour

import (
	"fmt"

	"github.com/chazu/rtcontour/pkg/scene"
)

// observedKinds are the events a representation slot listens for.
var observedKinds = []scene.EventKind{
	scene.MeshModified,
	scene.ImageDataModified,
	scene.TransformModified,
	scene.NodeRemoved,
}

// slot is an owned representation: a node ID and its observation. Both are
// set and cleared together.
type slot struct {
	nodeID string
	sub    *scene.Subscription
}

// Store holds the representation slots of one entity.
type Store struct {
	scene   *scene.Scene
	handler scene.Handler
	slots   [len(Types)]slot
}

func newStore(sc *scene.Scene, handler scene.Handler) *Store {
	return &Store{scene: sc, handler: handler}
}

func (s *Store) slot(t RepresentationType) *slot {
	if !t.Valid() {
		return nil
	}
	return &s.slots[int(t)-1]
}

// Get returns the node in slot t. A slot whose node has left the scene is
// reported absent.
func (s *Store) Get(t RepresentationType) (scene.Node, bool) {
	sl := s.slot(t)
	if sl == nil || sl.nodeID == "" {
		return nil, false
	}
	n := s.scene.GetByID(sl.nodeID)
	return n, n != nil
}

// Has reports whether slot t holds a live node.
func (s *Store) Has(t RepresentationType) bool {
	_, ok := s.Get(t)
	return ok
}

// ID returns the node ID in slot t, or "".
func (s *Store) ID(t RepresentationType) string {
	if _, ok := s.Get(t); !ok {
		return ""
	}
	return s.slot(t).nodeID
}

// Model returns the mesh node in slot t.
func (s *Store) Model(t RepresentationType) (*scene.ModelNode, bool) {
	n, ok := s.Get(t)
	if !ok {
		return nil, false
	}
	m, ok := n.(*scene.ModelNode)
	return m, ok
}

// Volume returns the grid node in slot t.
func (s *Store) Volume(t RepresentationType) (*scene.VolumeNode, bool) {
	n, ok := s.Get(t)
	if !ok {
		return nil, false
	}
	v, ok := n.(*scene.VolumeNode)
	return v, ok
}

// Put resolves nodeID, checks that its kind fits t and observes it, all or
// nothing. A node already in the slot is released first.
func (s *Store) Put(t RepresentationType, nodeID string) error {
	sl := s.slot(t)
	if sl == nil {
		return fmt.Errorf("contour: invalid representation type %v", t)
	}
	n := s.scene.GetByID(nodeID)
	if n == nil {
		return fmt.Errorf("contour: %w: %q", scene.ErrNodeNotFound, nodeID)
	}
	want := t.nodeKind()
	if n.Kind() != want {
		return fmt.Errorf("contour: %s representation needs a %s node, got %s", t, want, n.Kind())
	}
	if sl.nodeID == nodeID && sl.sub.Active() {
		return nil
	}
	sub, err := s.scene.Observe(nodeID, s.handler, observedKinds...)
	if err != nil {
		return fmt.Errorf("contour: observe %q: %w", nodeID, err)
	}
	s.Release(t)
	*sl = slot{nodeID: nodeID, sub: sub}
	return nil
}

// Remove cancels the observation of slot t, deletes its node and display
// node from the scene and clears the slot.
func (s *Store) Remove(t RepresentationType) {
	sl := s.slot(t)
	if sl == nil || sl.nodeID == "" {
		return
	}
	id := sl.nodeID
	s.Release(t)
	s.scene.RemoveWithDisplay(id)
}

// Release cancels the observation of slot t and clears it, leaving the
// node in the scene.
func (s *Store) Release(t RepresentationType) {
	sl := s.slot(t)
	if sl == nil {
		return
	}
	sl.sub.Cancel()
	*sl = slot{}
}

// ExistingTypes returns the types with a live node, in slot order.
func (s *Store) ExistingTypes() []RepresentationType {
	var out []RepresentationType
	for _, t := range Types {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// TypeOf returns the slot holding nodeID.
func (s *Store) TypeOf(nodeID string) (RepresentationType, bool) {
	if nodeID == "" {
		return None, false
	}
	for _, t := range Types {
		if s.slot(t).nodeID == nodeID && s.Has(t) {
			return t, true
		}
	}
	return None, false
}
