// Package scene is the node store the contour engine works against: typed
// nodes addressed by typeid, unique naming, reference counting, a
// transform hierarchy, structure-set hierarchy nodes and change
// observation.
package scene

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrNodeNotFound is returned when an ID does not resolve to a node.
var ErrNodeNotFound = errors.New("scene: node not found")

// Scene holds nodes in insertion order. It is not safe for concurrent use.
type Scene struct {
	nodes map[string]Node
	order []string
	refs  map[string]int

	subs       map[string][]*Subscription
	batchDepth int
	pending    []Event
}

// New returns an empty scene.
func New() *Scene {
	return &Scene{
		nodes: make(map[string]Node),
		refs:  make(map[string]int),
		subs:  make(map[string][]*Subscription),
	}
}

// AddNode assigns n an ID and adds it to the scene. A node that already
// belongs to this scene keeps its ID.
func (s *Scene) AddNode(n Node) string {
	b := n.base()
	if b.scene == s && b.id != "" {
		return b.id
	}
	b.id = newNodeID(n.Kind())
	b.scene = s
	s.nodes[b.id] = n
	s.order = append(s.order, b.id)
	return b.id
}

// GetByID returns the node with the given ID, or nil.
func (s *Scene) GetByID(id string) Node {
	if id == "" {
		return nil
	}
	return s.nodes[id]
}

// Has reports whether id resolves to a node.
func (s *Scene) Has(id string) bool {
	return s.GetByID(id) != nil
}

// RemoveNode deletes a node. Observers of the node receive NodeRemoved
// immediately, even inside a batch, and are then cancelled. It reports
// whether the node existed.
func (s *Scene) RemoveNode(id string) bool {
	n, ok := s.nodes[id]
	if !ok {
		return false
	}
	s.deliver(Event{NodeID: id, Kind: NodeRemoved})
	for _, sub := range s.subs[id] {
		sub.cancelled = true
	}
	delete(s.subs, id)
	delete(s.nodes, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	n.base().scene = nil
	return true
}

// Nodes returns all nodes in insertion order.
func (s *Scene) Nodes() []Node {
	out := make([]Node, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.nodes[id])
	}
	return out
}

// NodesByName returns the nodes with the given name in insertion order.
func (s *Scene) NodesByName(name string) []Node {
	var out []Node
	for _, id := range s.order {
		if n := s.nodes[id]; n.Name() == name {
			out = append(out, n)
		}
	}
	return out
}

// NodesByKind returns the nodes of kind k in insertion order.
func (s *Scene) NodesByKind(k Kind) []Node {
	var out []Node
	for _, id := range s.order {
		if n := s.nodes[id]; n.Kind() == k {
			out = append(out, n)
		}
	}
	return out
}

// GenerateUniqueName returns base if no node carries that name, otherwise
// base_1, base_2, ... whichever is free first.
func (s *Scene) GenerateUniqueName(base string) string {
	taken := make(map[string]bool, len(s.nodes))
	for _, n := range s.nodes {
		taken[n.Name()] = true
	}
	if !taken[base] {
		return base
	}
	for i := 1; ; i++ {
		name := base + "_" + strconv.Itoa(i)
		if !taken[name] {
			return name
		}
	}
}

// AddReferencedNodeID records one more reference to id.
func (s *Scene) AddReferencedNodeID(id string) {
	if id != "" {
		s.refs[id]++
	}
}

// RemoveReferencedNodeID drops one reference to id.
func (s *Scene) RemoveReferencedNodeID(id string) {
	if s.refs[id] <= 1 {
		delete(s.refs, id)
		return
	}
	s.refs[id]--
}

// ReferenceCount returns how many references id holds.
func (s *Scene) ReferenceCount(id string) int {
	return s.refs[id]
}

// Model returns the model node with the given ID.
func (s *Scene) Model(id string) (*ModelNode, bool) {
	n, ok := s.GetByID(id).(*ModelNode)
	return n, ok
}

// Volume returns the volume node with the given ID.
func (s *Scene) Volume(id string) (*VolumeNode, bool) {
	n, ok := s.GetByID(id).(*VolumeNode)
	return n, ok
}

// Display returns the display node with the given ID.
func (s *Scene) Display(id string) (*DisplayNode, bool) {
	n, ok := s.GetByID(id).(*DisplayNode)
	return n, ok
}

// Transform returns the transform node with the given ID.
func (s *Scene) Transform(id string) (*TransformNode, bool) {
	n, ok := s.GetByID(id).(*TransformNode)
	return n, ok
}

// ColorTable returns the color table node with the given ID.
func (s *Scene) ColorTable(id string) (*ColorTableNode, bool) {
	n, ok := s.GetByID(id).(*ColorTableNode)
	return n, ok
}

// Hierarchy returns the hierarchy node with the given ID.
func (s *Scene) Hierarchy(id string) (*HierarchyNode, bool) {
	n, ok := s.GetByID(id).(*HierarchyNode)
	return n, ok
}

// DisplayOf returns the display node attached to a model or volume.
func (s *Scene) DisplayOf(id string) (*DisplayNode, bool) {
	switch n := s.GetByID(id).(type) {
	case *ModelNode:
		return s.Display(n.DisplayID)
	case *VolumeNode:
		return s.Display(n.DisplayID)
	}
	return nil, false
}

// RemoveWithDisplay removes a model or volume together with its display
// node.
func (s *Scene) RemoveWithDisplay(id string) {
	if d, ok := s.DisplayOf(id); ok {
		s.RemoveNode(d.ID())
	}
	s.RemoveNode(id)
}

func (s *Scene) mustGet(id string) (Node, error) {
	n := s.GetByID(id)
	if n == nil {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	return n, nil
}
