// Package tessellate collects world-space triangle meshes for the visible
// representation of each contour, ready for display or export. Label maps
// are previewed through a surface extractor.
package tessellate

import (
	"fmt"

	"github.com/chazu/rtcontour/pkg/colortable"
	"github.com/chazu/rtcontour/pkg/contour"
	"github.com/chazu/rtcontour/pkg/kernel"
	"github.com/chazu/rtcontour/pkg/scene"
)

// Part is one renderable mesh.
type Part struct {
	Contour string
	Type    contour.RepresentationType
	Color   colortable.RGBA
	Mesh    *kernel.Mesh // world coordinates
}

// Tessellate produces one part per visible representation of contours.
// Meshes are copied into world coordinates; label maps are extracted with
// x at full resolution. The scene is never mutated.
func Tessellate(c *contour.Controller, contours []*contour.Entity, x kernel.Extractor) ([]Part, error) {
	var parts []Part
	for _, e := range contours {
		for _, t := range e.Store().ExistingTypes() {
			if !c.IsVisible(e, t) {
				continue
			}
			p, err := tessellateRepresentation(c.Scene(), e, t, x)
			if err != nil {
				return nil, fmt.Errorf("tessellate: %s %s: %w", e.Name, t, err)
			}
			parts = append(parts, p)
		}
	}
	return parts, nil
}

func tessellateRepresentation(sc *scene.Scene, e *contour.Entity, t contour.RepresentationType, x kernel.Extractor) (Part, error) {
	id := e.RepresentationID(t)
	toWorld, err := sc.NodeToWorld(id)
	if err != nil {
		return Part{}, err
	}

	var local *kernel.Mesh
	var name string
	switch t.Category() {
	case contour.CategoryMesh:
		m, ok := e.Store().Model(t)
		if !ok {
			return Part{}, fmt.Errorf("slot does not hold a model")
		}
		local, name = m.Mesh(), m.Name()

	case contour.CategoryGrid:
		v, ok := e.Store().Volume(t)
		if !ok {
			return Part{}, fmt.Errorf("slot does not hold a volume")
		}
		if x == nil {
			return Part{}, fmt.Errorf("no extractor for label map preview")
		}
		indexMesh, err := x.Extract(v.Grid(), 0)
		if err != nil {
			return Part{}, err
		}
		local, name = indexMesh.Transform(v.Grid().IJKToRAS()), v.Name()

	default:
		return Part{}, fmt.Errorf("unknown representation category")
	}

	mesh := local.Transform(toWorld)
	mesh.PartName = name

	color := colortable.Gray
	if d, ok := sc.DisplayOf(id); ok {
		color = d.Color
	}
	return Part{Contour: e.Name, Type: t, Color: color, Mesh: mesh}, nil
}

// Merge concatenates parts into a single mesh.
func Merge(parts []Part) *kernel.Mesh {
	out := &kernel.Mesh{}
	for _, p := range parts {
		base := uint32(out.VertexCount())
		out.Vertices = append(out.Vertices, p.Mesh.Vertices...)
		out.Normals = append(out.Normals, p.Mesh.Normals...)
		for _, i := range p.Mesh.Indices {
			out.Indices = append(out.Indices, base+i)
		}
	}
	return out
}
