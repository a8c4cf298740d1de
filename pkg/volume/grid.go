// Package volume defines the voxel grid used for label volumes and
// rasterization reference images.
package volume

import (
	"fmt"
	"math"

	v3 "github.com/deadsy/sdfx/vec/v3"

	"github.com/chazu/rtcontour/pkg/xform"
)

// Grid is a 3D lattice of int32 voxel values with its physical geometry.
// Voxel (i,j,k) sits at Origin + Directions[0]*Spacing.X*i +
// Directions[1]*Spacing.Y*j + Directions[2]*Spacing.Z*k.
type Grid struct {
	Dims       [3]int    `json:"dims"`
	Spacing    v3.Vec    `json:"spacing"`
	Origin     v3.Vec    `json:"origin"`
	Directions [3]v3.Vec `json:"directions"` // unit IJK axes in physical space
	Scalars    []int32   `json:"scalars"`
}

// AxisAligned returns identity direction cosines.
func AxisAligned() [3]v3.Vec {
	return [3]v3.Vec{{X: 1}, {Y: 1}, {Z: 1}}
}

// New allocates a zero-filled grid with unit spacing, zero origin and
// axis-aligned directions.
func New(dims [3]int) (*Grid, error) {
	for a, n := range dims {
		if n <= 0 {
			return nil, fmt.Errorf("volume: dimension %d must be positive, got %d", a, n)
		}
	}
	return &Grid{
		Dims:       dims,
		Spacing:    v3.Vec{X: 1, Y: 1, Z: 1},
		Directions: AxisAligned(),
		Scalars:    make([]int32, dims[0]*dims[1]*dims[2]),
	}, nil
}

// VoxelCount returns the number of voxels.
func (g *Grid) VoxelCount() int {
	return g.Dims[0] * g.Dims[1] * g.Dims[2]
}

// Index returns the flat scalar index of voxel (i,j,k).
func (g *Grid) Index(i, j, k int) int {
	return i + g.Dims[0]*(j+g.Dims[1]*k)
}

// Contains reports whether (i,j,k) is inside the grid.
func (g *Grid) Contains(i, j, k int) bool {
	return i >= 0 && j >= 0 && k >= 0 && i < g.Dims[0] && j < g.Dims[1] && k < g.Dims[2]
}

// At returns the value of voxel (i,j,k), or 0 outside the grid.
func (g *Grid) At(i, j, k int) int32 {
	if !g.Contains(i, j, k) {
		return 0
	}
	return g.Scalars[g.Index(i, j, k)]
}

// Set assigns voxel (i,j,k). Out-of-range writes are ignored.
func (g *Grid) Set(i, j, k int, v int32) {
	if g.Contains(i, j, k) {
		g.Scalars[g.Index(i, j, k)] = v
	}
}

// Count returns how many voxels hold value v.
func (g *Grid) Count(v int32) int {
	n := 0
	for _, s := range g.Scalars {
		if s == v {
			n++
		}
	}
	return n
}

// IsEmpty reports whether every voxel equals background.
func (g *Grid) IsEmpty(background int32) bool {
	return g == nil || g.Count(background) == len(g.Scalars)
}

// CopyOrientation copies origin and direction cosines from ref.
func (g *Grid) CopyOrientation(ref *Grid) {
	g.Origin = ref.Origin
	g.Directions = ref.Directions
}

// IJKToRAS returns the transform from voxel index to physical coordinates.
func (g *Grid) IJKToRAS() xform.Transform {
	return xform.FromAxes(g.Origin, g.Directions, g.Spacing)
}

// RASToIJK returns the transform from physical coordinates to voxel index.
func (g *Grid) RASToIJK() (xform.Transform, error) {
	inv, err := g.IJKToRAS().Inverse()
	if err != nil {
		return xform.Transform{}, fmt.Errorf("volume: invalid grid geometry: %w", err)
	}
	return inv, nil
}

// Validate checks that the scalar buffer matches the dimensions and the
// spacing is positive.
func (g *Grid) Validate() error {
	if len(g.Scalars) != g.VoxelCount() {
		return fmt.Errorf("volume: %d scalars for %v voxels", len(g.Scalars), g.Dims)
	}
	if g.Spacing.X <= 0 || g.Spacing.Y <= 0 || g.Spacing.Z <= 0 {
		return fmt.Errorf("volume: spacing must be positive, got %v", g.Spacing)
	}
	return nil
}

// OversampledDims returns the dimensions of a lattice that samples the
// same extent as dims at factor times the resolution.
func OversampledDims(dims [3]int, factor float64) [3]int {
	var out [3]int
	for a, n := range dims {
		out[a] = int(math.Floor(float64(n-1)*factor)) + 1
		if out[a] < 1 {
			out[a] = 1
		}
	}
	return out
}
