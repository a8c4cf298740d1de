package contour

import (
	"github.com/chazu/rtcontour/pkg/xform"
)

const (
	DefaultOversamplingFactor = 2.0
	DefaultDecimationFactor   = 0.0

	MinOversamplingFactor = 0.01
	MaxOversamplingFactor = 100.0
)

// Entity is one anatomical structure and its cached representations.
// Entities are created by Controller.NewEntity or Controller.Restore.
type Entity struct {
	id            string
	Name          string
	StructureName string

	OversamplingFactor float64
	DecimationFactor   float64

	activeType        RepresentationType
	referenceVolumeID string
	store             *Store

	// index is the model-to-index mapping used when the current label map
	// was rasterized.
	index *indexRecord
}

// indexRecord remembers how a label map was rasterized so that a surface
// extracted from it can be returned to the frame of the source mesh.
type indexRecord struct {
	labelmapID   string
	dims         [3]int
	modelToIndex xform.Transform
	frameID      string // transform node of the source mesh
}

// ID returns the contour ID.
func (e *Entity) ID() string { return e.id }

// ActiveType returns the active representation type.
func (e *Entity) ActiveType() RepresentationType { return e.activeType }

// ReferenceVolumeID returns the rasterization reference volume, or "".
func (e *Entity) ReferenceVolumeID() string { return e.referenceVolumeID }

// Store returns the representation slots.
func (e *Entity) Store() *Store { return e.store }

// RepresentationID returns the node ID held in slot t, or "".
func (e *Entity) RepresentationID(t RepresentationType) string {
	return e.store.ID(t)
}

func validOversampling(f float64) bool {
	return f >= MinOversamplingFactor && f <= MaxOversamplingFactor
}

func validDecimation(f float64) bool {
	return f >= 0 && f < 1
}
