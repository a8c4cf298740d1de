package scene

import (
	"github.com/chazu/rtcontour/pkg/colortable"
	"github.com/chazu/rtcontour/pkg/kernel"
	"github.com/chazu/rtcontour/pkg/volume"
	"github.com/chazu/rtcontour/pkg/xform"
)

// Kind identifies the concrete type of a node.
type Kind int

const (
	KindModel Kind = iota
	KindVolume
	KindDisplay
	KindTransform
	KindColorTable
	KindHierarchy
)

func (k Kind) String() string {
	switch k {
	case KindModel:
		return "model"
	case KindVolume:
		return "volume"
	case KindDisplay:
		return "display"
	case KindTransform:
		return "transform"
	case KindColorTable:
		return "color-table"
	case KindHierarchy:
		return "hierarchy"
	default:
		return "unknown"
	}
}

// Node is anything held by a Scene.
type Node interface {
	ID() string
	Name() string
	Kind() Kind
	base() *Base
}

// Base carries the identity shared by all nodes. It is embedded by every
// concrete node type.
type Base struct {
	id    string
	name  string
	scene *Scene
}

// ID returns the node ID, empty until the node is added to a scene.
func (b *Base) ID() string { return b.id }

// Name returns the node name.
func (b *Base) Name() string { return b.name }

// SetName renames the node.
func (b *Base) SetName(name string) { b.name = name }

func (b *Base) base() *Base { return b }

// emit forwards an event for this node to its scene, if any.
func (b *Base) emit(kind EventKind) {
	if b.scene != nil {
		b.scene.emit(Event{NodeID: b.id, Kind: kind})
	}
}

// ModelNode owns a triangle mesh placed in the scene.
type ModelNode struct {
	Base
	mesh            *kernel.Mesh
	TransformID     string
	DisplayID       string
	Visible         bool
	HideFromEditors bool
}

// NewModelNode returns a visible model holding m.
func NewModelNode(name string, m *kernel.Mesh) *ModelNode {
	return &ModelNode{Base: Base{name: name}, mesh: m, Visible: true}
}

func (n *ModelNode) Kind() Kind { return KindModel }

// Mesh returns the payload.
func (n *ModelNode) Mesh() *kernel.Mesh { return n.mesh }

// SetMesh replaces the payload and notifies observers.
func (n *ModelNode) SetMesh(m *kernel.Mesh) {
	n.mesh = m
	n.emit(MeshModified)
}

// Touch notifies observers that the mesh was edited in place.
func (n *ModelNode) Touch() { n.emit(MeshModified) }

// SetTransformID reparents the model and notifies observers.
func (n *ModelNode) SetTransformID(id string) {
	n.TransformID = id
	n.emit(TransformModified)
}

// SetVisible shows or hides the model.
func (n *ModelNode) SetVisible(v bool) {
	n.Visible = v
	n.HideFromEditors = !v
	n.emit(DisplayModified)
}

// VolumeNode owns a voxel grid placed in the scene.
type VolumeNode struct {
	Base
	grid            *volume.Grid
	LabelMap        bool
	TransformID     string
	DisplayID       string
	Visible         bool
	HideFromEditors bool
}

// NewVolumeNode returns a visible volume holding g.
func NewVolumeNode(name string, g *volume.Grid) *VolumeNode {
	return &VolumeNode{Base: Base{name: name}, grid: g, Visible: true}
}

func (n *VolumeNode) Kind() Kind { return KindVolume }

// Grid returns the payload.
func (n *VolumeNode) Grid() *volume.Grid { return n.grid }

// SetGrid replaces the payload and notifies observers.
func (n *VolumeNode) SetGrid(g *volume.Grid) {
	n.grid = g
	n.emit(ImageDataModified)
}

// Touch notifies observers that the voxels were edited in place.
func (n *VolumeNode) Touch() { n.emit(ImageDataModified) }

// SetTransformID reparents the volume and notifies observers.
func (n *VolumeNode) SetTransformID(id string) {
	n.TransformID = id
	n.emit(TransformModified)
}

// SetVisible shows or hides the volume.
func (n *VolumeNode) SetVisible(v bool) {
	n.Visible = v
	n.HideFromEditors = !v
	n.emit(DisplayModified)
}

// DisplayNode holds presentation properties for a model or volume.
type DisplayNode struct {
	Base
	Color                    colortable.RGBA
	Visible                  bool
	SliceIntersectionVisible bool
	BackfaceCulling          bool
	ColorTableID             string
}

// NewDisplayNode returns a visible display node with backface culling on.
func NewDisplayNode(name string) *DisplayNode {
	return &DisplayNode{
		Base:            Base{name: name},
		Color:           colortable.Gray,
		Visible:         true,
		BackfaceCulling: true,
	}
}

func (n *DisplayNode) Kind() Kind { return KindDisplay }

// SetVisibility toggles 3D and slice intersection visibility together.
func (n *DisplayNode) SetVisibility(v bool) {
	n.Visible = v
	n.SliceIntersectionVisible = v
	n.emit(DisplayModified)
}

// TransformNode is a linear transform to its parent frame. An empty
// ParentID means the parent is world.
type TransformNode struct {
	Base
	toParent xform.Transform
	ParentID string
}

// NewTransformNode returns a transform node.
func NewTransformNode(name string, toParent xform.Transform) *TransformNode {
	return &TransformNode{Base: Base{name: name}, toParent: toParent}
}

func (n *TransformNode) Kind() Kind { return KindTransform }

// ToParent returns the transform to the parent frame.
func (n *TransformNode) ToParent() xform.Transform { return n.toParent }

// SetToParent replaces the transform and notifies observers of this node
// and every node placed under it.
func (n *TransformNode) SetToParent(t xform.Transform) {
	n.toParent = t
	if n.scene != nil {
		n.scene.transformChanged(n.id)
	}
}

// ColorTableNode holds a label color table.
type ColorTableNode struct {
	Base
	Table *colortable.Table
}

// NewColorTableNode returns a node holding t; the node takes t's name.
func NewColorTableNode(t *colortable.Table) *ColorTableNode {
	return &ColorTableNode{Base: Base{name: t.Name}, Table: t}
}

func (n *ColorTableNode) Kind() Kind { return KindColorTable }

// HierarchyNode places an associated node (or a contour) under a parent
// hierarchy node, with free-form attributes.
type HierarchyNode struct {
	Base
	ParentID     string
	AssociatedID string
	Attributes   map[string]string
}

// NewHierarchyNode returns a hierarchy node.
func NewHierarchyNode(name, parentID, associatedID string) *HierarchyNode {
	return &HierarchyNode{
		Base:         Base{name: name},
		ParentID:     parentID,
		AssociatedID: associatedID,
		Attributes:   make(map[string]string),
	}
}

func (n *HierarchyNode) Kind() Kind { return KindHierarchy }
