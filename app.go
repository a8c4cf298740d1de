package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/chazu/rtcontour/pkg/colortable"
	"github.com/chazu/rtcontour/pkg/contour"
	"github.com/chazu/rtcontour/pkg/engine"
	"github.com/chazu/rtcontour/pkg/kernel"
	"github.com/chazu/rtcontour/pkg/kernel/sdfx"
	"github.com/chazu/rtcontour/pkg/persist"
	"github.com/chazu/rtcontour/pkg/tessellate"
)

// App runs contour scripts and reports the resulting representations.
type App struct {
	engine    *engine.Engine
	extractor kernel.Extractor
	store     *persist.Store // optional
	logger    *slog.Logger
}

// MeshData is the serializable mesh of one visible representation.
type MeshData struct {
	Vertices       []float32 `json:"vertices" yaml:"-"`
	Normals        []float32 `json:"normals" yaml:"-"`
	Indices        []uint32  `json:"indices" yaml:"-"`
	PartName       string    `json:"partName" yaml:"partName"`
	Contour        string    `json:"contour" yaml:"contour"`
	Representation string    `json:"representation" yaml:"representation"`
	Color          string    `json:"color" yaml:"color"`
	Triangles      int       `json:"triangles" yaml:"triangles"`
}

// EvalErrorData is a serializable eval error or warning.
type EvalErrorData struct {
	Line    int    `json:"line" yaml:"line"`
	Col     int    `json:"col" yaml:"col"`
	Message string `json:"message" yaml:"message"`
	Code    string `json:"code,omitempty" yaml:"code,omitempty"`
}

// LabelmapReport describes a label map representation.
type LabelmapReport struct {
	Dims    [3]int     `json:"dims" yaml:"dims"`
	Spacing [3]float64 `json:"spacing" yaml:"spacing"`
	Label   int32      `json:"label" yaml:"label"`
	Voxels  int        `json:"voxels" yaml:"voxels"`
}

// ContourReport summarizes one contour after the script ran.
type ContourReport struct {
	Attributes      contour.Attributes `json:"attributes" yaml:"attributes"`
	Active          string             `json:"active" yaml:"active"`
	Representations []string           `json:"representations" yaml:"representations"`
	Labelmap        *LabelmapReport    `json:"labelmap,omitempty" yaml:"labelmap,omitempty"`
}

// EvalResult is the full result of one script run.
type EvalResult struct {
	Contours []ContourReport `json:"contours" yaml:"contours"`
	Meshes   []MeshData      `json:"meshes" yaml:"meshes"`
	Errors   []EvalErrorData `json:"errors" yaml:"errors"`
	Warnings []EvalErrorData `json:"warnings" yaml:"warnings"`
}

// NewApp creates an App. store may be nil; a nil logger uses
// slog.Default().
func NewApp(eng *engine.Engine, store *persist.Store, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		engine:    eng,
		extractor: sdfx.NewExtractor(),
		store:     store,
		logger:    logger,
	}
}

// Evaluate runs source, collects meshes of the visible representations and
// saves the contour attributes when a store is configured.
func (a *App) Evaluate(ctx context.Context, source string) EvalResult {
	result := EvalResult{
		Contours: []ContourReport{},
		Meshes:   []MeshData{},
		Errors:   []EvalErrorData{},
		Warnings: []EvalErrorData{},
	}

	// Step 1: Evaluate the script into a scene.
	s, evalErrs, err := a.engine.Evaluate(source)
	if err != nil {
		// Fatal error (panic, timeout, etc.)
		a.logger.Error("evaluation failed", "err", err)
		result.Errors = append(result.Errors, EvalErrorData{Message: err.Error()})
		return result
	}
	if len(evalErrs) > 0 {
		for _, e := range evalErrs {
			result.Errors = append(result.Errors, EvalErrorData{Line: e.Line, Col: e.Col, Message: e.Message})
		}
		return result
	}
	for _, w := range s.Warnings {
		result.Warnings = append(result.Warnings, EvalErrorData{Message: w.String(), Code: string(w.Code)})
	}

	// Step 2: Report every contour.
	for _, e := range s.Contours {
		result.Contours = append(result.Contours, reportContour(e))
	}

	// Step 3: Tessellate the visible representations.
	parts, err := tessellate.Tessellate(s.Controller, s.Contours, a.extractor)
	if err != nil {
		a.logger.Error("tessellation failed", "err", err)
		result.Errors = append(result.Errors, EvalErrorData{Message: "tessellation failed: " + err.Error()})
		return result
	}
	for _, p := range parts {
		result.Meshes = append(result.Meshes, MeshData{
			Vertices:       p.Mesh.Vertices,
			Normals:        p.Mesh.Normals,
			Indices:        p.Mesh.Indices,
			PartName:       p.Mesh.PartName,
			Contour:        p.Contour,
			Representation: p.Type.String(),
			Color:          hexColor(p.Color),
			Triangles:      p.Mesh.TriangleCount(),
		})
	}

	// Step 4: Persist the contour attributes.
	if a.store != nil && len(s.Contours) > 0 {
		attrs := make([]contour.Attributes, 0, len(s.Contours))
		for _, e := range s.Contours {
			attrs = append(attrs, e.Attributes())
		}
		if err := a.store.SaveAll(ctx, attrs); err != nil {
			a.logger.Error("saving contours failed", "err", err)
			result.Errors = append(result.Errors, EvalErrorData{Message: "saving contours failed: " + err.Error()})
			return result
		}
		a.logger.Info("saved contours", "count", len(attrs), "db", a.store.Path())
	}

	for _, c := range result.Contours {
		a.logger.Info("contour", "name", c.Attributes.Name, "active", c.Active,
			"representations", c.Representations)
	}
	return result
}

func reportContour(e *contour.Entity) ContourReport {
	r := ContourReport{
		Attributes:      e.Attributes(),
		Active:          e.ActiveType().String(),
		Representations: []string{},
	}
	for _, t := range e.Store().ExistingTypes() {
		r.Representations = append(r.Representations, t.String())
	}
	if v, ok := e.Store().Volume(contour.Labelmap); ok {
		g := v.Grid()
		lr := &LabelmapReport{
			Dims:    g.Dims,
			Spacing: [3]float64{g.Spacing.X, g.Spacing.Y, g.Spacing.Z},
		}
		for _, s := range g.Scalars {
			if s != contour.Background {
				lr.Label = s
				break
			}
		}
		lr.Voxels = g.Count(lr.Label)
		r.Labelmap = lr
	}
	return r
}

// hexColor formats c as #RRGGBB.
func hexColor(c colortable.RGBA) string {
	b := func(v float64) int { return int(math.Round(math.Max(0, math.Min(1, v)) * 255)) }
	return fmt.Sprintf("#%02X%02X%02X", b(c.R), b(c.G), b(c.B))
}
