// Package kernel defines the abstract geometry kernel interface and the two
// numeric primitives used to move a structure between its mesh and voxel
// forms. Implementations (sdfx, raster) live in sub-packages so that the
// conversion logic never depends on a particular backend.
package kernel

import (
	v3 "github.com/deadsy/sdfx/vec/v3"

	"github.com/chazu/rtcontour/pkg/volume"
)

// Solid is an opaque handle to a geometry kernel solid.
// Implementations wrap their internal representation.
type Solid interface {
	// BoundingBox returns the axis-aligned bounding box.
	BoundingBox() (min, max [3]float64)
}

// Kernel is the abstract geometry kernel interface. It is used to build
// the externally supplied curve meshes of a structure.
type Kernel interface {
	// Primitives
	Box(x, y, z float64) Solid
	Cylinder(height, radius float64, segments int) Solid
	Sphere(radius float64) Solid

	// Boolean operations
	Union(a, b Solid) Solid
	Difference(a, b Solid) Solid
	Intersection(a, b Solid) Solid

	// Transforms
	Translate(s Solid, x, y, z float64) Solid
	Rotate(s Solid, x, y, z float64) Solid // Euler angles in degrees

	// Mesh output
	ToMesh(s Solid) (*Mesh, error)
}

// RasterGrid describes the sampling lattice a rasterizer fills. Voxel
// (i,j,k) is sampled at (i*Step.X, j*Step.Y, k*Step.Z) in the coordinates
// of the input mesh.
type RasterGrid struct {
	Dims [3]int
	Step v3.Vec
}

// Rasterizer converts a closed mesh into a label volume. Voxels inside the
// mesh get label, all others background. The returned grid carries unit
// spacing; callers attach the physical geometry.
type Rasterizer interface {
	Rasterize(m *Mesh, grid RasterGrid, background, label int32) (*volume.Grid, error)
}

// Extractor converts a label volume into a closed surface mesh expressed
// in the grid's index coordinates. reduction is the target fraction of
// triangles to remove, in [0, 1).
type Extractor interface {
	Extract(g *volume.Grid, reduction float64) (*Mesh, error)
}
