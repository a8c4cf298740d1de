package sdfx

import (
	"errors"
	"fmt"
	"math"

	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"

	"github.com/chazu/rtcontour/pkg/kernel"
	"github.com/chazu/rtcontour/pkg/volume"
)

// Compile-time interface check.
var _ kernel.Extractor = (*Extractor)(nil)

// ErrEmptyVolume is returned when a label volume has no foreground voxels.
var ErrEmptyVolume = errors.New("sdfx: label volume has no foreground voxels")

// Extractor builds closed surfaces from label volumes by running marching
// cubes over the trilinearly interpolated foreground occupancy.
type Extractor struct {
	// Background is the voxel value treated as outside.
	Background int32
}

// NewExtractor returns an extractor with a zero background.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract implements kernel.Extractor. The surface passes halfway between
// foreground and background voxel centers. A positive reduction coarsens
// the marching cubes lattice so that the triangle count drops by roughly
// that fraction.
func (x *Extractor) Extract(g *volume.Grid, reduction float64) (*kernel.Mesh, error) {
	if g == nil {
		return nil, ErrEmptyVolume
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if reduction < 0 || reduction >= 1 {
		return nil, fmt.Errorf("sdfx: reduction must be in [0, 1), got %g", reduction)
	}
	if g.IsEmpty(x.Background) {
		return nil, ErrEmptyVolume
	}

	maxDim := max(g.Dims[0], g.Dims[1], g.Dims[2])
	cells := int(math.Round(float64(maxDim+2) * math.Sqrt(1-reduction)))
	if cells < 2 {
		cells = 2
	}
	return tessellate(&labelField{g: g, background: x.Background}, cells)
}

// labelField is an sdf.SDF3 over grid index space that is negative inside
// the foreground and positive outside, crossing zero at half occupancy.
type labelField struct {
	g          *volume.Grid
	background int32
}

func (f *labelField) occupied(i, j, k int) float64 {
	if !f.g.Contains(i, j, k) {
		return 0
	}
	if f.g.Scalars[f.g.Index(i, j, k)] == f.background {
		return 0
	}
	return 1
}

// Evaluate returns 0.5 minus the trilinear occupancy at p.
func (f *labelField) Evaluate(p v3.Vec) float64 {
	i0, j0, k0 := int(math.Floor(p.X)), int(math.Floor(p.Y)), int(math.Floor(p.Z))
	fx, fy, fz := p.X-float64(i0), p.Y-float64(j0), p.Z-float64(k0)

	var occ float64
	for dk := 0; dk < 2; dk++ {
		wz := fz
		if dk == 0 {
			wz = 1 - fz
		}
		for dj := 0; dj < 2; dj++ {
			wy := fy
			if dj == 0 {
				wy = 1 - fy
			}
			for di := 0; di < 2; di++ {
				wx := fx
				if di == 0 {
					wx = 1 - fx
				}
				if w := wx * wy * wz; w > 0 {
					occ += w * f.occupied(i0+di, j0+dj, k0+dk)
				}
			}
		}
	}
	return 0.5 - occ
}

// BoundingBox pads the grid by one voxel so that foreground touching the
// boundary still closes.
func (f *labelField) BoundingBox() sdf.Box3 {
	return sdf.Box3{
		Min: v3.Vec{X: -1, Y: -1, Z: -1},
		Max: v3.Vec{X: float64(f.g.Dims[0]), Y: float64(f.g.Dims[1]), Z: float64(f.g.Dims[2])},
	}
}
