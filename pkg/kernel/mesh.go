package kernel

import (
	"math"

	v3 "github.com/deadsy/sdfx/vec/v3"

	"github.com/chazu/rtcontour/pkg/xform"
)

// Mesh is a triangle mesh.
// All arrays are flat: vertices has 3 floats per vertex (x,y,z),
// normals has 3 floats per vertex, indices has 3 uint32s per triangle.
type Mesh struct {
	Vertices []float32 `json:"vertices"` // [x0,y0,z0, x1,y1,z1, ...]
	Normals  []float32 `json:"normals"`  // [nx0,ny0,nz0, ...]
	Indices  []uint32  `json:"indices"`  // [i0,i1,i2, ...] triangles
	PartName string    `json:"partName"` // which node this came from
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices) / 3
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// IsEmpty returns true if the mesh has no geometry.
func (m *Mesh) IsEmpty() bool {
	return m == nil || len(m.Vertices) == 0 || len(m.Indices) == 0
}

// Vertex returns vertex i as a vector.
func (m *Mesh) Vertex(i int) v3.Vec {
	return v3.Vec{
		X: float64(m.Vertices[3*i]),
		Y: float64(m.Vertices[3*i+1]),
		Z: float64(m.Vertices[3*i+2]),
	}
}

// Triangle returns the three corners of triangle t.
func (m *Mesh) Triangle(t int) [3]v3.Vec {
	return [3]v3.Vec{
		m.Vertex(int(m.Indices[3*t])),
		m.Vertex(int(m.Indices[3*t+1])),
		m.Vertex(int(m.Indices[3*t+2])),
	}
}

// Bounds returns the axis-aligned bounding box of the vertices.
// An empty mesh returns zero vectors.
func (m *Mesh) Bounds() (min, max v3.Vec) {
	if m.IsEmpty() {
		return v3.Vec{}, v3.Vec{}
	}
	min = v3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	max = v3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for i := 0; i < m.VertexCount(); i++ {
		v := m.Vertex(i)
		min = min.Min(v)
		max = max.Max(v)
	}
	return min, max
}

// Clone returns a deep copy.
func (m *Mesh) Clone() *Mesh {
	if m == nil {
		return nil
	}
	return &Mesh{
		Vertices: append([]float32(nil), m.Vertices...),
		Normals:  append([]float32(nil), m.Normals...),
		Indices:  append([]uint32(nil), m.Indices...),
		PartName: m.PartName,
	}
}

// Transform returns a copy of the mesh with every vertex mapped through t.
// Normals are recomputed, and triangle winding is flipped when t mirrors
// space so that normals keep pointing outward.
func (m *Mesh) Transform(t xform.Transform) *Mesh {
	out := &Mesh{
		Vertices: make([]float32, len(m.Vertices)),
		Indices:  append([]uint32(nil), m.Indices...),
		PartName: m.PartName,
	}
	for i := 0; i < m.VertexCount(); i++ {
		p := t.Apply(m.Vertex(i))
		out.Vertices[3*i] = float32(p.X)
		out.Vertices[3*i+1] = float32(p.Y)
		out.Vertices[3*i+2] = float32(p.Z)
	}
	if t.Determinant() < 0 {
		for i := 0; i+2 < len(out.Indices); i += 3 {
			out.Indices[i+1], out.Indices[i+2] = out.Indices[i+2], out.Indices[i+1]
		}
	}
	out.ComputeNormals()
	return out
}

// ComputeNormals fills Normals with area-weighted vertex normals.
func (m *Mesh) ComputeNormals() {
	acc := make([]v3.Vec, m.VertexCount())
	for t := 0; t < m.TriangleCount(); t++ {
		tri := m.Triangle(t)
		n := tri[1].Sub(tri[0]).Cross(tri[2].Sub(tri[0]))
		for j := 0; j < 3; j++ {
			idx := m.Indices[3*t+j]
			acc[idx] = acc[idx].Add(n)
		}
	}
	m.Normals = make([]float32, 0, len(m.Vertices))
	for _, n := range acc {
		if l := n.Length(); l > 0 {
			n = n.DivScalar(l)
		}
		m.Normals = append(m.Normals, float32(n.X), float32(n.Y), float32(n.Z))
	}
}
