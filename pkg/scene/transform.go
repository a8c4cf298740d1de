package scene

import (
	"fmt"

	"github.com/chazu/rtcontour/pkg/xform"
)

// TransformToWorld composes the chain from transform node id up to world.
// An empty id is the world frame itself.
func (s *Scene) TransformToWorld(id string) (xform.Transform, error) {
	out := xform.Identity()
	seen := make(map[string]bool)
	for id != "" {
		if seen[id] {
			return xform.Transform{}, fmt.Errorf("scene: transform cycle at %q", id)
		}
		seen[id] = true
		tn, ok := s.Transform(id)
		if !ok {
			return xform.Transform{}, fmt.Errorf("%w: transform %q", ErrNodeNotFound, id)
		}
		out = tn.ToParent().Mul(out)
		id = tn.ParentID
	}
	return out, nil
}

// ParentTransformID returns the transform node a model or volume is
// placed under.
func (s *Scene) ParentTransformID(nodeID string) string {
	switch n := s.GetByID(nodeID).(type) {
	case *ModelNode:
		return n.TransformID
	case *VolumeNode:
		return n.TransformID
	case *TransformNode:
		return n.ParentID
	}
	return ""
}

// NodeToWorld returns the transform from a model's or volume's local frame
// to world.
func (s *Scene) NodeToWorld(nodeID string) (xform.Transform, error) {
	if _, err := s.mustGet(nodeID); err != nil {
		return xform.Transform{}, err
	}
	return s.TransformToWorld(s.ParentTransformID(nodeID))
}

// TransformBetween returns the transform from the frame of transform node
// from to the frame of transform node to.
func (s *Scene) TransformBetween(from, to string) (xform.Transform, error) {
	fromWorld, err := s.TransformToWorld(from)
	if err != nil {
		return xform.Transform{}, err
	}
	toWorld, err := s.TransformToWorld(to)
	if err != nil {
		return xform.Transform{}, err
	}
	worldTo, err := toWorld.Inverse()
	if err != nil {
		return xform.Transform{}, fmt.Errorf("scene: invert %q: %w", to, err)
	}
	return worldTo.Mul(fromWorld), nil
}

// underTransform reports whether the frame chain starting at id passes
// through target.
func (s *Scene) underTransform(id, target string) bool {
	seen := make(map[string]bool)
	for id != "" && !seen[id] {
		if id == target {
			return true
		}
		seen[id] = true
		tn, ok := s.Transform(id)
		if !ok {
			return false
		}
		id = tn.ParentID
	}
	return false
}

// transformChanged notifies a transform node and everything placed under
// it, directly or through nested transforms.
func (s *Scene) transformChanged(id string) {
	s.emit(Event{NodeID: id, Kind: TransformModified})
	for _, nid := range s.order {
		if nid == id {
			continue
		}
		if s.underTransform(s.ParentTransformID(nid), id) {
			s.emit(Event{NodeID: nid, Kind: TransformModified})
		}
	}
}
