// Package contour keeps an anatomical structure in up to three
// representations (curve mesh, label map, closed surface), derives missing
// ones on demand and discards derived ones when the active representation
// changes.
package contour

import (
	"fmt"
	"strings"

	"github.com/chazu/rtcontour/pkg/scene"
)

// RepresentationType is one of the three interchangeable encodings of a
// structure. The integer values are persisted.
type RepresentationType int

const (
	None RepresentationType = iota
	Curve
	Labelmap
	Surface
)

// Types lists the real representation types in slot order.
var Types = [...]RepresentationType{Curve, Labelmap, Surface}

func (t RepresentationType) String() string {
	switch t {
	case None:
		return "none"
	case Curve:
		return "curve"
	case Labelmap:
		return "labelmap"
	case Surface:
		return "surface"
	default:
		return fmt.Sprintf("RepresentationType(%d)", int(t))
	}
}

// Valid reports whether t is Curve, Labelmap or Surface.
func (t RepresentationType) Valid() bool {
	return t >= Curve && t <= Surface
}

// ParseRepresentationType accepts the String form, case-insensitively.
func ParseRepresentationType(s string) (RepresentationType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return None, nil
	case "curve", "ribbon":
		return Curve, nil
	case "labelmap", "indexed-labelmap":
		return Labelmap, nil
	case "surface", "closed-surface":
		return Surface, nil
	}
	return None, fmt.Errorf("unknown representation type %q", s)
}

// Category groups representation types by payload.
type Category int

const (
	CategoryNone Category = iota
	CategoryMesh
	CategoryGrid
)

// Category returns the payload category of t.
func (t RepresentationType) Category() Category {
	switch t {
	case Curve, Surface:
		return CategoryMesh
	case Labelmap:
		return CategoryGrid
	}
	return CategoryNone
}

// route names a conversion for diagnostics and metrics.
func route(src, dst RepresentationType) string {
	return src.String() + "->" + dst.String()
}

// nodeKind is the scene node kind that holds a t representation.
func (t RepresentationType) nodeKind() scene.Kind {
	if t.Category() == CategoryGrid {
		return scene.KindVolume
	}
	return scene.KindModel
}
