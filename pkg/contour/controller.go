package contour

import (
	"log/slog"

	"github.com/chazu/rtcontour/pkg/scene"
)

// dispatchKey selects the reaction to a change of the active
// representation.
type dispatchKey struct {
	category Category
	kind     scene.EventKind
}

type eventAction func(c *Controller, e *Entity, active RepresentationType)

var eventDispatch = map[dispatchKey]eventAction{
	{CategoryMesh, scene.MeshModified}:      (*Controller).invalidate,
	{CategoryGrid, scene.ImageDataModified}: (*Controller).invalidate,
	{CategoryMesh, scene.TransformModified}: (*Controller).ignore,
	{CategoryGrid, scene.TransformModified}: (*Controller).ignore,
}

// Controller owns the representation state machine of contour entities.
type Controller struct {
	scene  *scene.Scene
	conv   *Converter
	logger *slog.Logger
}

// NewController returns a controller deriving representations with conv.
// A nil logger uses slog.Default().
func NewController(sc *scene.Scene, conv *Converter, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{scene: sc, conv: conv, logger: logger}
}

// Scene returns the scene the controller works on.
func (c *Controller) Scene() *scene.Scene { return c.scene }

// NewEntity returns an entity with no representations and default factors.
func (c *Controller) NewEntity(name, structureName string) *Entity {
	e := &Entity{
		id:                 scene.NewContourID(),
		Name:               name,
		StructureName:      structureName,
		OversamplingFactor: DefaultOversamplingFactor,
		DecimationFactor:   DefaultDecimationFactor,
	}
	e.store = newStore(c.scene, c.handler(e))
	return e
}

// handler routes scene notifications for e's representation nodes.
func (c *Controller) handler(e *Entity) scene.Handler {
	return func(ev scene.Event) {
		if ev.Kind == scene.NodeRemoved {
			c.vanished(e, ev.NodeID)
			return
		}
		// Moving a frame notifies every representation under it; only the
		// active one is of interest.
		if ev.Kind == scene.TransformModified {
			if t, ok := e.store.TypeOf(ev.NodeID); ok && t != e.activeType {
				return
			}
		}
		if err := c.OnSourceDataChanged(e, ev.NodeID, ev.Kind); err != nil {
			c.logger.Warn("ignoring change notification",
				"contour", e.Name, "node", ev.NodeID, "event", ev.Kind, "err", err)
		}
	}
}

// Attach supplies a representation from outside, typically the first
// curve. The first representation of an entity becomes active. Replacing
// the active representation with a different node discards derived ones.
func (c *Controller) Attach(e *Entity, t RepresentationType, nodeID string) error {
	if !t.Valid() {
		return newError(CodeInvalidParameter, e, nil, "cannot attach a %s representation", t)
	}
	previous := e.store.ID(t)
	if err := e.store.Put(t, nodeID); err != nil {
		return newError(CodeInvalidParameter, e, err, "cannot attach %s representation", t)
	}
	if t == Labelmap && previous != nodeID {
		e.index = nil
	}
	switch {
	case e.activeType == None:
		c.show(e, t)
	case e.activeType == t:
		if previous != nodeID {
			c.invalidate(e, t)
		}
		c.show(e, t)
	default:
		c.setVisible(nodeID, false)
	}
	return nil
}

// SetReferenceVolume sets the rasterization target of e and keeps the
// scene reference count in step. An empty id clears it.
func (c *Controller) SetReferenceVolume(e *Entity, id string) error {
	if id == e.referenceVolumeID {
		return nil
	}
	if id != "" {
		if _, ok := c.scene.Volume(id); !ok {
			return newError(CodeInvalidParameter, e, nil, "reference volume %q not found", id)
		}
	}
	if e.referenceVolumeID != "" {
		c.scene.RemoveReferencedNodeID(e.referenceVolumeID)
	}
	e.referenceVolumeID = id
	c.scene.AddReferencedNodeID(id)
	return nil
}

// ActivateByType makes t the single visible representation, deriving it
// from the active one when it is not cached. On failure nothing changes.
func (c *Controller) ActivateByType(e *Entity, t RepresentationType) error {
	if !t.Valid() {
		err := newError(CodeInvalidParameter, e, nil, "cannot activate representation type %s", t)
		c.logger.Warn("activation rejected", "contour", e.Name, "err", err)
		return err
	}
	if t == e.activeType {
		return nil
	}
	if !e.store.Has(t) {
		products, err := c.conv.Convert(e, e.activeType, t)
		if err != nil {
			c.report(e, "activate", err)
			return err
		}
		if err := c.commit(e, products); err != nil {
			c.report(e, "activate", err)
			return err
		}
	}
	c.show(e, t)
	c.logger.Info("activated representation", "contour", e.Name, "type", t)
	return nil
}

// ActivateByIdentity activates the representation held by nodeID.
func (c *Controller) ActivateByIdentity(e *Entity, nodeID string) error {
	t, ok := e.store.TypeOf(nodeID)
	if !ok {
		err := newError(CodeNotReferenced, e, nil, "node %q", nodeID)
		c.report(e, "activate", err)
		return err
	}
	return c.ActivateByType(e, t)
}

// OnSourceDataChanged reacts to a change of a representation payload. Only
// changes of the active representation, of the kind matching its payload,
// are accepted; a data change then discards every other representation.
func (c *Controller) OnSourceDataChanged(e *Entity, nodeID string, kind scene.EventKind) error {
	t, ok := e.store.TypeOf(nodeID)
	if !ok || t != e.activeType {
		return newError(CodeCallerEventMismatch, e, nil,
			"%s from %q, which is not the active %s representation", kind, nodeID, e.activeType)
	}
	action, ok := eventDispatch[dispatchKey{t.Category(), kind}]
	if !ok {
		return newError(CodeCallerEventMismatch, e, nil, "unexpected %s from %s representation", kind, t)
	}
	action(c, e, t)
	return nil
}

// Reconvert derives t afresh even when cached. The new representation
// replaces the old one only if the conversion succeeds.
func (c *Controller) Reconvert(e *Entity, t RepresentationType) error {
	if t == Curve {
		err := newError(CodeNotImplemented, e, nil, "curve representations cannot be derived")
		c.report(e, "reconvert", err)
		return err
	}
	if !t.Valid() {
		err := newError(CodeInvalidParameter, e, nil, "cannot reconvert representation type %s", t)
		c.logger.Warn("reconversion rejected", "contour", e.Name, "err", err)
		return err
	}
	src := c.reconvertSource(e, t)
	if src == None {
		err := newError(CodeUnsupportedConversion, e, nil, "no source representation to derive %s from", t)
		c.report(e, "reconvert", err)
		return err
	}

	products, err := c.conv.Convert(e, src, t)
	if err != nil {
		c.report(e, "reconvert", err)
		return err
	}
	e.store.Remove(t)
	if t == Labelmap {
		e.index = nil
	}
	if err := c.commit(e, products); err != nil {
		c.report(e, "reconvert", err)
		return err
	}
	c.show(e, t)
	c.logger.Info("reconverted representation", "contour", e.Name, "type", t, "source", src)
	return nil
}

// reconvertSource picks the representation a reconversion of t starts
// from: curve when present, otherwise the other derived type.
func (c *Controller) reconvertSource(e *Entity, t RepresentationType) RepresentationType {
	if e.store.Has(Curve) {
		return Curve
	}
	other := Labelmap
	if t == Labelmap {
		other = Surface
	}
	if e.store.Has(other) {
		return other
	}
	return None
}

// commit puts conversion products into their slots.
func (c *Controller) commit(e *Entity, products []Product) error {
	for i, p := range products {
		if err := e.store.Put(p.Type, p.NodeID); err != nil {
			for _, rest := range products[i:] {
				c.scene.RemoveWithDisplay(rest.NodeID)
			}
			return newError(CodeConversionFailed, e, err, "cannot store %s representation", p.Type)
		}
		if p.index != nil {
			e.index = p.index
		}
	}
	return nil
}

// invalidate removes every representation except keep.
func (c *Controller) invalidate(e *Entity, keep RepresentationType) {
	c.scene.StartBatch()
	defer c.scene.EndBatch()

	removed := 0
	for _, t := range Types {
		if t == keep || !e.store.Has(t) {
			continue
		}
		e.store.Remove(t)
		if t == Labelmap {
			e.index = nil
		}
		removed++
	}
	c.conv.Metrics.ObserveInvalidation(removed)
	if removed > 0 {
		c.logger.Info("discarded derived representations", "contour", e.Name, "active", keep, "removed", removed)
	}
}

func (c *Controller) ignore(*Entity, RepresentationType) {}

// vanished clears the slot of a node removed from the scene behind the
// controller's back. Losing the active representation promotes the first
// remaining one.
func (c *Controller) vanished(e *Entity, nodeID string) {
	t, ok := e.store.TypeOf(nodeID)
	if !ok {
		return
	}
	e.store.Release(t)
	if t == Labelmap {
		e.index = nil
	}
	c.logger.Warn("representation node removed from scene", "contour", e.Name, "type", t, "node", nodeID)
	if t != e.activeType {
		return
	}
	e.activeType = None
	if remaining := e.store.ExistingTypes(); len(remaining) > 0 {
		c.show(e, remaining[0])
	}
}

// show makes t the only visible representation and the active one.
func (c *Controller) show(e *Entity, t RepresentationType) {
	c.scene.StartBatch()
	defer c.scene.EndBatch()
	for _, other := range Types {
		if id := e.store.ID(other); id != "" {
			c.setVisible(id, other == t)
		}
	}
	e.activeType = t
}

func (c *Controller) setVisible(nodeID string, v bool) {
	switch n := c.scene.GetByID(nodeID).(type) {
	case *scene.ModelNode:
		n.SetVisible(v)
	case *scene.VolumeNode:
		n.SetVisible(v)
	}
	if d, ok := c.scene.DisplayOf(nodeID); ok {
		d.SetVisibility(v)
	}
}

// IsVisible reports whether slot t holds a shown node.
func (c *Controller) IsVisible(e *Entity, t RepresentationType) bool {
	switch n := c.scene.GetByID(e.store.ID(t)).(type) {
	case *scene.ModelNode:
		return n.Visible
	case *scene.VolumeNode:
		return n.Visible
	}
	return false
}

// Release cancels every observation held for e and drops its reference
// volume count. The representation nodes stay in the scene.
func (c *Controller) Release(e *Entity) {
	for _, t := range Types {
		e.store.Release(t)
	}
	if e.referenceVolumeID != "" {
		c.scene.RemoveReferencedNodeID(e.referenceVolumeID)
		e.referenceVolumeID = ""
	}
	e.index = nil
	e.activeType = None
}

// UpdateReferenceID replaces oldID by newID wherever e refers to it.
func (c *Controller) UpdateReferenceID(e *Entity, oldID, newID string) error {
	if oldID == "" || oldID == newID {
		return nil
	}
	if e.referenceVolumeID == oldID {
		if err := c.SetReferenceVolume(e, newID); err != nil {
			return err
		}
	}
	for _, t := range Types {
		if e.store.slot(t).nodeID != oldID {
			continue
		}
		if err := e.store.Put(t, newID); err != nil {
			return newError(CodeInvalidParameter, e, err, "cannot move %s representation to %q", t, newID)
		}
		if t == Labelmap {
			e.index = nil
		}
	}
	return nil
}

func (c *Controller) report(e *Entity, op string, err error) {
	if isHard(err) {
		c.logger.Error(op+" failed", "contour", e.Name, "code", CodeOf(err), "err", err)
		return
	}
	c.logger.Warn(op+" failed", "contour", e.Name, "code", CodeOf(err), "err", err)
}
