package engine

import (
	"fmt"
	"math"
	"strings"

	v3 "github.com/deadsy/sdfx/vec/v3"
	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/rtcontour/pkg/colortable"
	"github.com/chazu/rtcontour/pkg/contour"
	"github.com/chazu/rtcontour/pkg/kernel"
	"github.com/chazu/rtcontour/pkg/scene"
	"github.com/chazu/rtcontour/pkg/volume"
	"github.com/chazu/rtcontour/pkg/xform"
)

// ---------------------------------------------------------------------------
// Source preprocessing
// ---------------------------------------------------------------------------

// preprocessSource transforms contour script source code before passing it to
// zygomys. It performs two transformations:
//
//  1. Keyword conversion: :keyword -> "__kw_keyword" (string literal)
//     This avoids the need to register keyword symbols as globals, which
//     would conflict with user-defined variables of the same name.
//
//  2. Kebab-case to underscore: reference-volume -> reference_volume
//     zygomys does not allow hyphens in identifiers (it interprets them
//     as the subtraction operator). This converts kebab-case identifiers
//     to underscore form outside of strings and comments.
//
// Both transformations respect string literal boundaries and line comments.
func preprocessSource(source string) string {
	result := make([]byte, 0, len(source)+len(source)/4)
	b := []byte(source)
	i := 0
	for i < len(b) {
		// Skip double-quoted string literals.
		if b[i] == '"' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '"' {
				if b[i] == '\\' && i+1 < len(b) {
					result = append(result, b[i], b[i+1])
					i += 2
					continue
				}
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Skip backtick-quoted string literals.
		if b[i] == '`' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '`' {
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Convert ; line comments to // comments for zygomys.
		// zygomys uses // for line comments, not the traditional Lisp ;.
		if b[i] == ';' {
			result = append(result, '/', '/')
			i++
			// Skip additional ; characters (;; style).
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Transform :keyword to "__kw_keyword".
		if b[i] == ':' && i+1 < len(b) {
			// Preserve := (assignment operator).
			if b[i+1] == '=' {
				result = append(result, b[i], b[i+1])
				i += 2
				continue
			}
			// Check for keyword: colon followed by a letter.
			if isLetter(b[i+1]) {
				j := i + 1
				for j < len(b) && isKWChar(b[j]) {
					j++
				}
				kwName := string(b[i+1 : j])
				result = append(result, '"')
				result = append(result, []byte(kwPrefix)...)
				result = append(result, []byte(kwName)...)
				result = append(result, '"')
				i = j
				continue
			}
		}
		// Transform kebab-case identifiers: alpha-alpha -> alpha_alpha.
		// Only when hyphen sits between identifier characters (not a minus operator).
		if b[i] == '-' && i > 0 && i+1 < len(b) &&
			isIdentChar(b[i-1]) && isIdentStartChar(b[i+1]) {
			result = append(result, '_')
			i++
			continue
		}
		result = append(result, b[i])
		i++
	}
	return string(result)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

func isIdentStartChar(c byte) bool {
	return isLetter(c)
}

// ---------------------------------------------------------------------------
// Custom Sexp types for passing Go values through the zygomys environment
// ---------------------------------------------------------------------------

// sexpVec3 wraps a point or a vector.
type sexpVec3 struct {
	vec v3.Vec
}

func (v *sexpVec3) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(vec3 %g %g %g)", v.vec.X, v.vec.Y, v.vec.Z)
}
func (v *sexpVec3) Type() *zygo.RegisteredType { return nil }

// sexpNodeRef refers to a scene node created by a builtin.
type sexpNodeRef struct {
	id   string
	kind scene.Kind
	name string
}

func (n *sexpNodeRef) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(%s %q)", n.kind, n.name)
}
func (n *sexpNodeRef) Type() *zygo.RegisteredType { return nil }

// sexpROI is a structure definition waiting to be added to a structure
// set's color table.
type sexpROI struct {
	name  string
	index int
	color colortable.RGBA
}

func (r *sexpROI) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(roi %q :index %d)", r.name, r.index)
}
func (r *sexpROI) Type() *zygo.RegisteredType { return nil }

// sexpSolid wraps a kernel solid used to build a curve mesh.
type sexpSolid struct {
	solid kernel.Solid
	desc  string
}

func (s *sexpSolid) SexpString(ps *zygo.PrintState) string {
	return "(" + s.desc + ")"
}
func (s *sexpSolid) Type() *zygo.RegisteredType { return nil }

// sexpContour wraps a contour entity.
type sexpContour struct {
	e *contour.Entity
}

func (c *sexpContour) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(contour %q :active %s)", c.e.Name, c.e.ActiveType())
}
func (c *sexpContour) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword argument parsing
// ---------------------------------------------------------------------------

// kwPrefix is the marker prepended to keyword names by preprocessSource.
const kwPrefix = "__kw_"

// isKW checks if a Sexp is a preprocessed keyword string.
// Returns the keyword name (without prefix) and true if it is.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], true
	}
	return "", false
}

// kwArgs holds the result of parsing a mixed positional+keyword argument list.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs separates args into keyword and positional arguments.
// A keyword followed by another keyword, or by nothing, is a flag.
func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	i := 0
	for i < len(args) {
		name, ok := isKW(args[i])
		if !ok {
			result.positional = append(result.positional, args[i])
			i++
			continue
		}
		if i+1 < len(args) {
			if _, next := isKW(args[i+1]); !next {
				result.kw[name] = args[i+1]
				i += 2
				continue
			}
		}
		result.kw[name] = zygo.SexpNull
		i++
	}
	return result
}

// float returns keyword k as a number, or def when absent.
func (pa kwArgs) float(fn, k string, def float64) (float64, error) {
	v, ok := pa.kw[k]
	if !ok {
		return def, nil
	}
	f, err := toFloat64(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %s: %w", fn, k, err)
	}
	return f, nil
}

// vec returns keyword k as a vec3, or def when absent.
func (pa kwArgs) vec(fn, k string, def v3.Vec) (v3.Vec, error) {
	v, ok := pa.kw[k]
	if !ok {
		return def, nil
	}
	vec, err := toVec3(v)
	if err != nil {
		return v3.Vec{}, fmt.Errorf("%s: %s: %w", fn, k, err)
	}
	return vec, nil
}

// node returns keyword k as a reference to a node of kind want, or "".
func (pa kwArgs) node(fn, k string, want scene.Kind) (string, error) {
	v, ok := pa.kw[k]
	if !ok {
		return "", nil
	}
	id, err := toNodeRef(v, want)
	if err != nil {
		return "", fmt.Errorf("%s: %s: %w", fn, k, err)
	}
	return id, nil
}

// ---------------------------------------------------------------------------
// Value extraction helpers
// ---------------------------------------------------------------------------

// toFloat64 extracts a float64 from a Sexp (SexpInt or SexpFloat).
func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

// toString extracts a string from a Sexp.
func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

// toKeywordString extracts a keyword name or plain string from a Sexp.
// Handles both preprocessed keywords (__kw_surface) and plain strings ("surface").
func toKeywordString(s zygo.Sexp) (string, error) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", fmt.Errorf("expected keyword or string, got %T (%s)", s, s.SexpString(nil))
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], nil
	}
	return str.S, nil
}

// toRepresentationType converts :curve, :labelmap or :surface.
func toRepresentationType(s zygo.Sexp) (contour.RepresentationType, error) {
	name, err := toKeywordString(s)
	if err != nil {
		return contour.None, fmt.Errorf("expected representation keyword (:curve, :labelmap, :surface): %w", err)
	}
	return contour.ParseRepresentationType(name)
}

// toVec3 extracts a point from a sexpVec3.
func toVec3(s zygo.Sexp) (v3.Vec, error) {
	if v, ok := s.(*sexpVec3); ok {
		return v.vec, nil
	}
	return v3.Vec{}, fmt.Errorf("expected vec3, got %T (%s)", s, s.SexpString(nil))
}

// toNodeRef extracts the ID of a node of kind want.
func toNodeRef(s zygo.Sexp, want scene.Kind) (string, error) {
	ref, ok := s.(*sexpNodeRef)
	if !ok {
		return "", fmt.Errorf("expected %s reference, got %T (%s)", want, s, s.SexpString(nil))
	}
	if ref.kind != want {
		return "", fmt.Errorf("expected %s reference, got %s %q", want, ref.kind, ref.name)
	}
	return ref.id, nil
}

// toSolid extracts a kernel solid.
func toSolid(s zygo.Sexp) (*sexpSolid, error) {
	if sol, ok := s.(*sexpSolid); ok {
		return sol, nil
	}
	return nil, fmt.Errorf("expected solid, got %T (%s)", s, s.SexpString(nil))
}

// toContour extracts a contour entity.
func toContour(s zygo.Sexp) (*contour.Entity, error) {
	if c, ok := s.(*sexpContour); ok {
		return c.e, nil
	}
	return nil, fmt.Errorf("expected contour, got %T (%s)", s, s.SexpString(nil))
}

// toColor converts a vec3 of RGB components in [0,1] to an opaque color.
func toColor(s zygo.Sexp) (colortable.RGBA, error) {
	v, err := toVec3(s)
	if err != nil {
		return colortable.RGBA{}, err
	}
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if c < 0 || c > 1 {
			return colortable.RGBA{}, fmt.Errorf("color components must be in [0,1], got %v", v)
		}
	}
	return colortable.RGBA{R: v.X, G: v.Y, B: v.Z, A: 1}, nil
}

// toDims converts a vec3 of positive whole numbers to grid dimensions.
func toDims(s zygo.Sexp) ([3]int, error) {
	v, err := toVec3(s)
	if err != nil {
		return [3]int{}, err
	}
	var dims [3]int
	for a, f := range []float64{v.X, v.Y, v.Z} {
		if f < 1 || f != math.Trunc(f) {
			return [3]int{}, fmt.Errorf("dimensions must be positive integers, got %v", v)
		}
		dims[a] = int(f)
	}
	return dims, nil
}

// sexpListToSlice converts a SexpPair (Lisp list) or SexpArray to a Go slice.
func sexpListToSlice(s zygo.Sexp) ([]zygo.Sexp, error) {
	switch v := s.(type) {
	case *zygo.SexpPair:
		return zygo.ListToArray(v)
	case *zygo.SexpArray:
		return v.Val, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected list or array, got %T", s)
}

// flatten expands list and array arguments in place so that builtins taking
// a variable number of items accept both (f a b) and (f (list a b)).
func flatten(args []zygo.Sexp) []zygo.Sexp {
	var out []zygo.Sexp
	for _, a := range args {
		switch a.(type) {
		case *zygo.SexpPair, *zygo.SexpArray:
			items, err := sexpListToSlice(a)
			if err == nil {
				out = append(out, flatten(items)...)
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

// place applies the optional :rotate (degrees) and :at keywords to a solid,
// rotating first.
func (s *Session) place(fn string, pa kwArgs, sol kernel.Solid) (kernel.Solid, error) {
	rot, err := pa.vec(fn, "rotate", v3.Vec{})
	if err != nil {
		return nil, err
	}
	at, err := pa.vec(fn, "at", v3.Vec{})
	if err != nil {
		return nil, err
	}
	if rot != (v3.Vec{}) {
		sol = s.kernel.Rotate(sol, rot.X, rot.Y, rot.Z)
	}
	if at != (v3.Vec{}) {
		sol = s.kernel.Translate(sol, at.X, at.Y, at.Z)
	}
	return sol, nil
}

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

type builtinFunc = func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error)

// registerBuiltins installs the contour script builtins into a zygomys
// environment. The builtins populate the session's scene during evaluation.
//
// Source code must be preprocessed with preprocessSource() before evaluation so
// that :keyword tokens are converted to recognizable string literals.
func registerBuiltins(env *zygo.Zlisp, s *Session) {
	sc := s.Scene

	// -----------------------------------------------------------------------
	// (vec3 1 2 3)
	// -----------------------------------------------------------------------
	env.AddFunction("vec3", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("vec3 requires exactly 3 arguments, got %d", len(args))
		}
		var c [3]float64
		for i, a := range args {
			f, err := toFloat64(a)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("vec3: %c: %w", "xyz"[i], err)
			}
			c[i] = f
		}
		return &sexpVec3{vec: v3.Vec{X: c[0], Y: c[1], Z: c[2]}}, nil
	})

	// -----------------------------------------------------------------------
	// (frame "patient" :translate (vec3 0 0 10) :rotate (vec3 0 0 90)
	//        :parent other-frame)
	// -----------------------------------------------------------------------
	env.AddFunction("frame", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) < 1 {
			return zygo.SexpNull, fmt.Errorf("frame requires a name argument")
		}
		frameName, err := toString(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("frame: name: %w", err)
		}
		tr, err := pa.vec("frame", "translate", v3.Vec{})
		if err != nil {
			return zygo.SexpNull, err
		}
		rot, err := pa.vec("frame", "rotate", v3.Vec{})
		if err != nil {
			return zygo.SexpNull, err
		}
		parentID, err := pa.node("frame", "parent", scene.KindTransform)
		if err != nil {
			return zygo.SexpNull, err
		}

		toParent := xform.Translate(tr).Mul(xform.RotateDegrees(rot.X, rot.Y, rot.Z))
		n := scene.NewTransformNode(frameName, toParent)
		n.ParentID = parentID
		id := sc.AddNode(n)
		return &sexpNodeRef{id: id, kind: scene.KindTransform, name: frameName}, nil
	})

	// -----------------------------------------------------------------------
	// (reference-volume "CT" :dims (vec3 10 10 10) :spacing (vec3 1 1 2)
	//                   :origin (vec3 0 0 0) :frame f)
	// -----------------------------------------------------------------------
	env.AddFunction("reference_volume", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) < 1 {
			return zygo.SexpNull, fmt.Errorf("reference-volume requires a name argument")
		}
		volName, err := toString(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("reference-volume: name: %w", err)
		}
		v, ok := pa.kw["dims"]
		if !ok {
			return zygo.SexpNull, fmt.Errorf("reference-volume: :dims is required")
		}
		dims, err := toDims(v)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("reference-volume: dims: %w", err)
		}
		g, err := volume.New(dims)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("reference-volume: %w", err)
		}
		if g.Spacing, err = pa.vec("reference-volume", "spacing", g.Spacing); err != nil {
			return zygo.SexpNull, err
		}
		if g.Origin, err = pa.vec("reference-volume", "origin", v3.Vec{}); err != nil {
			return zygo.SexpNull, err
		}
		if err := g.Validate(); err != nil {
			return zygo.SexpNull, fmt.Errorf("reference-volume: %w", err)
		}
		frameID, err := pa.node("reference-volume", "frame", scene.KindTransform)
		if err != nil {
			return zygo.SexpNull, err
		}

		n := scene.NewVolumeNode(volName, g)
		n.TransformID = frameID
		id := sc.AddNode(n)
		return &sexpNodeRef{id: id, kind: scene.KindVolume, name: volName}, nil
	})

	// -----------------------------------------------------------------------
	// (roi "Heart" :index 5 :color (vec3 0.8 0.1 0.1))
	// -----------------------------------------------------------------------
	env.AddFunction("roi", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) < 1 {
			return zygo.SexpNull, fmt.Errorf("roi requires a name argument")
		}
		roiName, err := toString(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("roi: name: %w", err)
		}
		r := &sexpROI{name: roiName, color: colortable.Gray}
		idx, err := pa.float("roi", "index", 0)
		if err != nil {
			return zygo.SexpNull, err
		}
		if idx < 0 || idx != math.Trunc(idx) {
			return zygo.SexpNull, fmt.Errorf("roi: index must be a non-negative integer, got %v", idx)
		}
		r.index = int(idx)
		if v, ok := pa.kw["color"]; ok {
			if r.color, err = toColor(v); err != nil {
				return zygo.SexpNull, fmt.Errorf("roi: color: %w", err)
			}
		}
		return r, nil
	})

	// -----------------------------------------------------------------------
	// (structure-set "RTSTRUCT" (roi "Lung" :index 2) (roi "Heart" :index 5))
	//
	// Creates the structure-set hierarchy node and the series color table.
	// ROIs without an index get the next free one.
	// -----------------------------------------------------------------------
	env.AddFunction("structure_set", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) < 1 {
			return zygo.SexpNull, fmt.Errorf("structure-set requires a series name")
		}
		series, err := toString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("structure-set: name: %w", err)
		}
		tbl := colortable.New(scene.ColorTableName(series))
		for i, a := range flatten(args[1:]) {
			r, ok := a.(*sexpROI)
			if !ok {
				return zygo.SexpNull, fmt.Errorf("structure-set: item %d: expected roi, got %T (%s)",
					i+1, a, a.SexpString(nil))
			}
			idx := r.index
			if idx == 0 {
				idx = tbl.NextIndex()
			}
			tbl.Set(idx, r.name, r.color)
		}

		set := scene.NewHierarchyNode(series, "", "")
		set.Attributes[scene.AttrSeriesName] = series
		sc.StartBatch()
		id := sc.AddNode(set)
		sc.AddNode(scene.NewColorTableNode(tbl))
		sc.EndBatch()
		return &sexpNodeRef{id: id, kind: scene.KindHierarchy, name: series}, nil
	})

	// -----------------------------------------------------------------------
	// Solids: (box 10 10 20 :at (vec3 ...) :rotate (vec3 ...)),
	// (sphere 5), (cylinder 10 2), (union a b ...), (difference a b ...)
	// -----------------------------------------------------------------------
	env.AddFunction("box", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) != 3 {
			return zygo.SexpNull, fmt.Errorf("box requires 3 side lengths, got %d", len(pa.positional))
		}
		var sides [3]float64
		for i, a := range pa.positional {
			f, err := toFloat64(a)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("box: side %d: %w", i+1, err)
			}
			if f <= 0 {
				return zygo.SexpNull, fmt.Errorf("box: side %d must be positive, got %v", i+1, f)
			}
			sides[i] = f
		}
		sol, err := s.place("box", pa, s.kernel.Box(sides[0], sides[1], sides[2]))
		if err != nil {
			return zygo.SexpNull, err
		}
		return &sexpSolid{solid: sol, desc: fmt.Sprintf("box %g %g %g", sides[0], sides[1], sides[2])}, nil
	})

	env.AddFunction("sphere", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) != 1 {
			return zygo.SexpNull, fmt.Errorf("sphere requires a radius")
		}
		r, err := toFloat64(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("sphere: radius: %w", err)
		}
		if r <= 0 {
			return zygo.SexpNull, fmt.Errorf("sphere: radius must be positive, got %v", r)
		}
		sol, err := s.place("sphere", pa, s.kernel.Sphere(r))
		if err != nil {
			return zygo.SexpNull, err
		}
		return &sexpSolid{solid: sol, desc: fmt.Sprintf("sphere %g", r)}, nil
	})

	env.AddFunction("cylinder", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) != 2 {
			return zygo.SexpNull, fmt.Errorf("cylinder requires a height and a radius")
		}
		h, err := toFloat64(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("cylinder: height: %w", err)
		}
		r, err := toFloat64(pa.positional[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("cylinder: radius: %w", err)
		}
		if h <= 0 || r <= 0 {
			return zygo.SexpNull, fmt.Errorf("cylinder: height and radius must be positive")
		}
		sol, err := s.place("cylinder", pa, s.kernel.Cylinder(h, r, 0))
		if err != nil {
			return zygo.SexpNull, err
		}
		return &sexpSolid{solid: sol, desc: fmt.Sprintf("cylinder %g %g", h, r)}, nil
	})

	boolean := func(op string, combine func(a, b kernel.Solid) kernel.Solid) builtinFunc {
		return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			items := flatten(args)
			if len(items) < 2 {
				return zygo.SexpNull, fmt.Errorf("%s requires at least 2 solids, got %d", op, len(items))
			}
			acc, err := toSolid(items[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: operand 1: %w", op, err)
			}
			sol := acc.solid
			for i, it := range items[1:] {
				next, err := toSolid(it)
				if err != nil {
					return zygo.SexpNull, fmt.Errorf("%s: operand %d: %w", op, i+2, err)
				}
				sol = combine(sol, next.solid)
			}
			return &sexpSolid{solid: sol, desc: fmt.Sprintf("%s of %d", op, len(items))}, nil
		}
	}
	env.AddFunction("union", boolean("union", s.kernel.Union))
	env.AddFunction("difference", boolean("difference", s.kernel.Difference))

	// -----------------------------------------------------------------------
	// (contour "Heart" solid :structure "Heart" :set rs :reference ct
	//          :color (vec3 0.8 0.1 0.1) :frame f
	//          :oversampling 2 :decimation 0.1)
	//
	// Tessellates solid into the curve representation of a new contour.
	// Without :color the curve takes the structure's table color.
	// -----------------------------------------------------------------------
	env.AddFunction("contour", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) != 2 {
			return zygo.SexpNull, fmt.Errorf("contour requires a name and a solid")
		}
		cName, err := toString(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("contour: name: %w", err)
		}
		sol, err := toSolid(pa.positional[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("contour: %w", err)
		}
		structure := cName
		if v, ok := pa.kw["structure"]; ok {
			if structure, err = toString(v); err != nil {
				return zygo.SexpNull, fmt.Errorf("contour: structure: %w", err)
			}
		}
		setID, err := pa.node("contour", "set", scene.KindHierarchy)
		if err != nil {
			return zygo.SexpNull, err
		}
		refID, err := pa.node("contour", "reference", scene.KindVolume)
		if err != nil {
			return zygo.SexpNull, err
		}
		frameID, err := pa.node("contour", "frame", scene.KindTransform)
		if err != nil {
			return zygo.SexpNull, err
		}
		oversampling, err := pa.float("contour", "oversampling", s.defaults.Oversampling)
		if err != nil {
			return zygo.SexpNull, err
		}
		decimation, err := pa.float("contour", "decimation", s.defaults.Decimation)
		if err != nil {
			return zygo.SexpNull, err
		}
		color, found := s.structureColor(setID, structure)
		if v, ok := pa.kw["color"]; ok {
			if color, err = toColor(v); err != nil {
				return zygo.SexpNull, fmt.Errorf("contour: color: %w", err)
			}
			found = true
		}
		if !found {
			color = colortable.Gray
		}

		m, err := s.kernel.ToMesh(sol.solid)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("contour: %s: %w", cName, err)
		}

		sc.StartBatch()
		defer sc.EndBatch()

		curveName := sc.GenerateUniqueName(cName + contour.CurvePostfix)
		disp := scene.NewDisplayNode(curveName + "Display")
		disp.Color = color
		dispID := sc.AddNode(disp)
		curve := scene.NewModelNode(curveName, m)
		curve.DisplayID = dispID
		curve.TransformID = frameID
		curveID := sc.AddNode(curve)

		e := s.Controller.NewEntity(cName, structure)
		e.OversamplingFactor = oversampling
		e.DecimationFactor = decimation
		sc.AddNode(scene.NewHierarchyNode(cName, setID, e.ID()))
		if err := s.Controller.Attach(e, contour.Curve, curveID); err != nil {
			return zygo.SexpNull, fmt.Errorf("contour: %w", err)
		}
		if refID != "" {
			if err := s.Controller.SetReferenceVolume(e, refID); err != nil {
				return zygo.SexpNull, fmt.Errorf("contour: %w", err)
			}
		}
		s.Contours = append(s.Contours, e)
		return &sexpContour{e: e}, nil
	})

	// -----------------------------------------------------------------------
	// (activate heart :labelmap) and (reconvert heart :surface)
	//
	// Conversion failures do not stop the script; they are collected as
	// warnings and the result is the active representation type.
	// -----------------------------------------------------------------------
	transition := func(op string, do func(e *contour.Entity, t contour.RepresentationType) error) builtinFunc {
		return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if len(args) != 2 {
				return zygo.SexpNull, fmt.Errorf("%s requires a contour and a representation type", op)
			}
			e, err := toContour(args[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", op, err)
			}
			t, err := toRepresentationType(args[1])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", op, err)
			}
			if err := do(e, t); err != nil {
				s.warn(e, op, err)
			}
			return &zygo.SexpStr{S: e.ActiveType().String()}, nil
		}
	}
	env.AddFunction("activate", transition("activate", s.Controller.ActivateByType))
	env.AddFunction("reconvert", transition("reconvert", s.Controller.Reconvert))

	// -----------------------------------------------------------------------
	// (touch heart) or (touch heart :curve)
	//
	// Reports an in-place edit of a representation, the active one by
	// default.
	// -----------------------------------------------------------------------
	env.AddFunction("touch", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) < 1 || len(args) > 2 {
			return zygo.SexpNull, fmt.Errorf("touch requires a contour and an optional representation type")
		}
		e, err := toContour(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("touch: %w", err)
		}
		t := e.ActiveType()
		if len(args) == 2 {
			if t, err = toRepresentationType(args[1]); err != nil {
				return zygo.SexpNull, fmt.Errorf("touch: %w", err)
			}
		}
		if m, ok := e.Store().Model(t); ok {
			m.Touch()
		} else if v, ok := e.Store().Volume(t); ok {
			v.Touch()
		} else {
			return zygo.SexpNull, fmt.Errorf("touch: %s has no %s representation", e.Name, t)
		}
		return &zygo.SexpStr{S: e.ActiveType().String()}, nil
	})

	// -----------------------------------------------------------------------
	// (remove heart :surface)
	//
	// Deletes a representation node from the scene, as an editor would.
	// -----------------------------------------------------------------------
	env.AddFunction("remove", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("remove requires a contour and a representation type")
		}
		e, err := toContour(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("remove: %w", err)
		}
		t, err := toRepresentationType(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("remove: %w", err)
		}
		id := e.RepresentationID(t)
		if id == "" {
			return zygo.SexpNull, fmt.Errorf("remove: %s has no %s representation", e.Name, t)
		}
		sc.RemoveWithDisplay(id)
		return &zygo.SexpStr{S: e.ActiveType().String()}, nil
	})

	// -----------------------------------------------------------------------
	// (oversampling heart 3) and (decimation heart 0.2)
	//
	// Factors are checked when a conversion uses them.
	// -----------------------------------------------------------------------
	factor := func(op string, set func(e *contour.Entity, f float64)) builtinFunc {
		return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if len(args) != 2 {
				return zygo.SexpNull, fmt.Errorf("%s requires a contour and a number", op)
			}
			e, err := toContour(args[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", op, err)
			}
			f, err := toFloat64(args[1])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", op, err)
			}
			set(e, f)
			return args[0], nil
		}
	}
	env.AddFunction("oversampling", factor("oversampling", func(e *contour.Entity, f float64) { e.OversamplingFactor = f }))
	env.AddFunction("decimation", factor("decimation", func(e *contour.Entity, f float64) { e.DecimationFactor = f }))

	// (active heart) returns the active representation type.
	env.AddFunction("active", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("active requires a contour")
		}
		e, err := toContour(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("active: %w", err)
		}
		return &zygo.SexpStr{S: e.ActiveType().String()}, nil
	})
}
