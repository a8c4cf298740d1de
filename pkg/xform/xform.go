// Package xform provides 4x4 affine transforms between coordinate frames.
// Transforms compose right to left: a.Mul(b) applies b first, then a.
package xform

import (
	"errors"
	"fmt"
	"math"

	v3 "github.com/deadsy/sdfx/vec/v3"
	"gonum.org/v1/gonum/mat"
)

// ErrSingular is returned when a transform has no inverse.
var ErrSingular = errors.New("xform: singular transform")

// Transform is a row-major homogeneous 4x4 matrix.
type Transform [16]float64

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translate returns a translation by v.
func Translate(v v3.Vec) Transform {
	t := Identity()
	t[3], t[7], t[11] = v.X, v.Y, v.Z
	return t
}

// Scale returns an axis-aligned scaling by v.
func Scale(v v3.Vec) Transform {
	t := Identity()
	t[0], t[5], t[10] = v.X, v.Y, v.Z
	return t
}

// RotateDegrees returns a rotation by Euler angles in degrees, applied
// around X first, then Y, then Z.
func RotateDegrees(x, y, z float64) Transform {
	rx, ry, rz := x*math.Pi/180.0, y*math.Pi/180.0, z*math.Pi/180.0
	cx, sx := math.Cos(rx), math.Sin(rx)
	cy, sy := math.Cos(ry), math.Sin(ry)
	cz, sz := math.Cos(rz), math.Sin(rz)

	rotX := Transform{1, 0, 0, 0, 0, cx, -sx, 0, 0, sx, cx, 0, 0, 0, 0, 1}
	rotY := Transform{cy, 0, sy, 0, 0, 1, 0, 0, -sy, 0, cy, 0, 0, 0, 0, 1}
	rotZ := Transform{cz, -sz, 0, 0, sz, cz, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
	return rotZ.Mul(rotY).Mul(rotX)
}

// FromAxes builds the transform mapping grid index coordinates to a
// physical frame: p = origin + sum(dirs[a] * spacing[a] * index[a]).
func FromAxes(origin v3.Vec, dirs [3]v3.Vec, spacing v3.Vec) Transform {
	s := [3]float64{spacing.X, spacing.Y, spacing.Z}
	t := Identity()
	for a := 0; a < 3; a++ {
		col := dirs[a].MulScalar(s[a])
		t[a] = col.X
		t[4+a] = col.Y
		t[8+a] = col.Z
	}
	t[3], t[7], t[11] = origin.X, origin.Y, origin.Z
	return t
}

// Mul returns t*o, the transform that applies o first and then t.
func (t Transform) Mul(o Transform) Transform {
	var r Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += t[i*4+k] * o[k*4+j]
			}
			r[i*4+j] = sum
		}
	}
	return r
}

// Chain composes transforms listed in application order: the first
// element is applied first.
func Chain(ts ...Transform) Transform {
	r := Identity()
	for _, t := range ts {
		r = t.Mul(r)
	}
	return r
}

// Inverse returns the inverse transform.
func (t Transform) Inverse() (Transform, error) {
	m := mat.NewDense(4, 4, t[:])
	if math.Abs(mat.Det(m)) < 1e-12 {
		return Transform{}, ErrSingular
	}
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return Transform{}, fmt.Errorf("xform: invert: %w", err)
		}
	}
	var r Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			r[i*4+j] = inv.At(i, j)
		}
	}
	return r, nil
}

// Apply transforms a point.
func (t Transform) Apply(p v3.Vec) v3.Vec {
	return v3.Vec{
		X: t[0]*p.X + t[1]*p.Y + t[2]*p.Z + t[3],
		Y: t[4]*p.X + t[5]*p.Y + t[6]*p.Z + t[7],
		Z: t[8]*p.X + t[9]*p.Y + t[10]*p.Z + t[11],
	}
}

// ApplyVector transforms a direction, ignoring translation.
func (t Transform) ApplyVector(v v3.Vec) v3.Vec {
	return v3.Vec{
		X: t[0]*v.X + t[1]*v.Y + t[2]*v.Z,
		Y: t[4]*v.X + t[5]*v.Y + t[6]*v.Z,
		Z: t[8]*v.X + t[9]*v.Y + t[10]*v.Z,
	}
}

// Determinant returns the determinant of the linear part.
func (t Transform) Determinant() float64 {
	return t[0]*(t[5]*t[10]-t[6]*t[9]) -
		t[1]*(t[4]*t[10]-t[6]*t[8]) +
		t[2]*(t[4]*t[9]-t[5]*t[8])
}

// IsIdentity reports whether t equals the identity within tol.
func (t Transform) IsIdentity(tol float64) bool {
	return t.Equals(Identity(), tol)
}

// Equals reports whether all elements of t and o differ by at most tol.
func (t Transform) Equals(o Transform, tol float64) bool {
	for i := range t {
		if math.Abs(t[i]-o[i]) > tol {
			return false
		}
	}
	return true
}
