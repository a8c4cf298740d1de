package contour

import "github.com/chazu/rtcontour/pkg/scene"

// Attributes is the persisted form of an entity.
type Attributes struct {
	ID                       string             `json:"id" yaml:"id"`
	Name                     string             `json:"name" yaml:"name"`
	StructureName            string             `json:"structureName,omitempty" yaml:"structureName,omitempty"`
	CurveRepresentationID    string             `json:"curveRepresentationId,omitempty" yaml:"curveRepresentationId,omitempty"`
	LabelmapRepresentationID string             `json:"labelmapRepresentationId,omitempty" yaml:"labelmapRepresentationId,omitempty"`
	SurfaceRepresentationID  string             `json:"surfaceRepresentationId,omitempty" yaml:"surfaceRepresentationId,omitempty"`
	ReferenceVolumeID        string             `json:"referenceVolumeId,omitempty" yaml:"referenceVolumeId,omitempty"`
	ActiveRepresentationType RepresentationType `json:"activeRepresentationType" yaml:"activeRepresentationType"`
	OversamplingFactor       float64            `json:"oversamplingFactor" yaml:"oversamplingFactor"`
	DecimationFactor         float64            `json:"decimationFactor" yaml:"decimationFactor"`
}

// DefaultAttributes returns attributes with the default factors.
func DefaultAttributes() Attributes {
	return Attributes{
		OversamplingFactor: DefaultOversamplingFactor,
		DecimationFactor:   DefaultDecimationFactor,
	}
}

// RepresentationID returns the ID stored for t.
func (a Attributes) RepresentationID(t RepresentationType) string {
	switch t {
	case Curve:
		return a.CurveRepresentationID
	case Labelmap:
		return a.LabelmapRepresentationID
	case Surface:
		return a.SurfaceRepresentationID
	}
	return ""
}

// Attributes captures e for persistence.
func (e *Entity) Attributes() Attributes {
	return Attributes{
		ID:                       e.id,
		Name:                     e.Name,
		StructureName:            e.StructureName,
		CurveRepresentationID:    e.store.ID(Curve),
		LabelmapRepresentationID: e.store.ID(Labelmap),
		SurfaceRepresentationID:  e.store.ID(Surface),
		ReferenceVolumeID:        e.referenceVolumeID,
		ActiveRepresentationType: e.activeType,
		OversamplingFactor:       e.OversamplingFactor,
		DecimationFactor:         e.DecimationFactor,
	}
}

// Restore rebuilds an entity from persisted attributes. IDs that no longer
// resolve to a suitable node are dropped with a warning. Surviving nodes
// are observed and the active one is shown.
func (c *Controller) Restore(a Attributes) (*Entity, error) {
	if !validOversampling(a.OversamplingFactor) {
		return nil, newError(CodeInvalidParameter, nil, nil,
			"oversampling factor %g outside [%g, %g]", a.OversamplingFactor, MinOversamplingFactor, MaxOversamplingFactor)
	}
	if !validDecimation(a.DecimationFactor) {
		return nil, newError(CodeInvalidParameter, nil, nil, "decimation factor %g outside [0, 1)", a.DecimationFactor)
	}
	if a.ActiveRepresentationType < None || a.ActiveRepresentationType > Surface {
		return nil, newError(CodeInvalidParameter, nil, nil, "unknown active representation type %d", int(a.ActiveRepresentationType))
	}
	if a.ID != "" {
		if err := scene.ValidateContourID(a.ID); err != nil {
			return nil, newError(CodeInvalidParameter, nil, err, "cannot restore contour %q", a.Name)
		}
	}

	e := c.NewEntity(a.Name, a.StructureName)
	if a.ID != "" {
		e.id = a.ID
	}
	e.OversamplingFactor = a.OversamplingFactor
	e.DecimationFactor = a.DecimationFactor

	if a.ReferenceVolumeID != "" {
		if err := scene.ValidateNodeID(a.ReferenceVolumeID, scene.KindVolume); err != nil {
			c.logger.Warn("dropping reference volume", "contour", e.Name, "id", a.ReferenceVolumeID, "err", err)
		} else if err := c.SetReferenceVolume(e, a.ReferenceVolumeID); err != nil {
			c.logger.Warn("dropping reference volume", "contour", e.Name, "id", a.ReferenceVolumeID, "err", err)
		}
	}
	for _, t := range Types {
		id := a.RepresentationID(t)
		if id == "" {
			continue
		}
		if err := scene.ValidateNodeID(id, t.nodeKind()); err != nil {
			c.logger.Warn("dropping representation", "contour", e.Name, "type", t, "id", id, "err", err)
			continue
		}
		if err := e.store.Put(t, id); err != nil {
			c.logger.Warn("dropping representation", "contour", e.Name, "type", t, "id", id, "err", err)
		}
	}

	active := a.ActiveRepresentationType
	if active != None && !e.store.Has(active) {
		c.logger.Warn("active representation missing", "contour", e.Name, "type", active)
		active = None
	}
	if active == None {
		if existing := e.store.ExistingTypes(); len(existing) > 0 {
			active = existing[0]
		}
	}
	if active != None {
		c.show(e, active)
	}
	return e, nil
}
