package contour

import (
	"errors"
	"log/slog"
	"time"

	v3 "github.com/deadsy/sdfx/vec/v3"

	"github.com/chazu/rtcontour/pkg/colortable"
	"github.com/chazu/rtcontour/pkg/kernel"
	"github.com/chazu/rtcontour/pkg/metrics"
	"github.com/chazu/rtcontour/pkg/scene"
	"github.com/chazu/rtcontour/pkg/volume"
	"github.com/chazu/rtcontour/pkg/xform"
)

// Name postfixes of derived representation nodes.
const (
	CurvePostfix    = "_RibbonModel"
	LabelmapPostfix = "_IndexedLabelmap"
	SurfacePostfix  = "_ClosedSurfaceModel"
)

// Background is the label map value outside the structure.
const Background int32 = 0

// DefaultMaxLabelmapVoxels bounds the lattice of a derived label map
// (256 MiB of int32 labels).
const DefaultMaxLabelmapVoxels = 1 << 26

// Product is a representation node created by a conversion.
type Product struct {
	Type   RepresentationType
	NodeID string

	index *indexRecord
}

// Converter derives representations from one another. It creates nodes in
// the scene but never touches an entity's slots; the caller commits the
// products.
type Converter struct {
	scene     *scene.Scene
	raster    kernel.Rasterizer
	extractor kernel.Extractor

	Colors  *colortable.Resolver
	Metrics metrics.Recorder
	Logger  *slog.Logger

	// MaxVoxels is the largest label map lattice a conversion may allocate.
	MaxVoxels int
}

// NewConverter returns a converter using r to fill label maps and x to
// extract surfaces.
func NewConverter(sc *scene.Scene, r kernel.Rasterizer, x kernel.Extractor) *Converter {
	return &Converter{
		scene:     sc,
		raster:    r,
		extractor: x,
		Colors:    colortable.NewResolver(nil),
		Metrics:   metrics.Nop{},
		Logger:    slog.Default(),
		MaxVoxels: DefaultMaxLabelmapVoxels,
	}
}

// Convert derives dst from the src representation of e. Curve->Surface
// goes through a label map, which is also returned when it had to be
// created. On failure every node created by the call is removed again.
func (c *Converter) Convert(e *Entity, src, dst RepresentationType) (products []Product, err error) {
	start := time.Now()
	defer func() {
		c.Metrics.ObserveConversion(route(src, dst), err == nil, time.Since(start))
		if err != nil {
			for _, p := range products {
				c.scene.RemoveWithDisplay(p.NodeID)
			}
			products = nil
		}
	}()

	switch {
	case dst == Labelmap && (src == Curve || src == Surface):
		p, err := c.toLabelmap(e, src)
		if err != nil {
			return nil, err
		}
		return []Product{p}, nil

	case src == Labelmap && dst == Surface:
		vol, ok := e.store.Volume(Labelmap)
		if !ok {
			return nil, newError(CodeConversionFailed, e, nil, "no label map to convert")
		}
		p, err := c.toSurface(e, vol, e.index)
		if err != nil {
			return nil, err
		}
		return []Product{p}, nil

	case src == Curve && dst == Surface:
		vol, ok := e.store.Volume(Labelmap)
		rec := e.index
		if !ok {
			lp, err := c.toLabelmap(e, Curve)
			if err != nil {
				return nil, err
			}
			products = append(products, lp)
			vol, _ = c.scene.Volume(lp.NodeID)
			rec = lp.index
		}
		p, err := c.toSurface(e, vol, rec)
		if err != nil {
			return products, err
		}
		return append(products, p), nil
	}
	return nil, newError(CodeUnsupportedConversion, e, nil, "cannot convert %s to %s", src, dst)
}

// referenceVolume resolves the rasterization target of e.
func (c *Converter) referenceVolume(e *Entity) (*scene.VolumeNode, error) {
	if e.referenceVolumeID == "" {
		return nil, newError(CodeMissingReferenceVolume, e, nil, "no reference volume set")
	}
	ref, ok := c.scene.Volume(e.referenceVolumeID)
	if !ok || ref.Grid() == nil {
		return nil, newError(CodeMissingReferenceVolume, e, nil, "reference volume %q not found", e.referenceVolumeID)
	}
	if err := ref.Grid().Validate(); err != nil {
		return nil, newError(CodeMissingReferenceVolume, e, err, "reference volume %q is invalid", e.referenceVolumeID)
	}
	return ref, nil
}

// modelToReferenceIndex maps the source mesh frame to the voxel index
// space of the reference volume.
func (c *Converter) modelToReferenceIndex(modelID string, ref *scene.VolumeNode) (xform.Transform, error) {
	modelToWorld, err := c.scene.NodeToWorld(modelID)
	if err != nil {
		return xform.Transform{}, err
	}
	refParentToWorld, err := c.scene.NodeToWorld(ref.ID())
	if err != nil {
		return xform.Transform{}, err
	}
	worldToRefParent, err := refParentToWorld.Inverse()
	if err != nil {
		return xform.Transform{}, err
	}
	rasToIJK, err := ref.Grid().RASToIJK()
	if err != nil {
		return xform.Transform{}, err
	}
	return xform.Chain(modelToWorld, worldToRefParent, rasToIJK), nil
}

func (c *Converter) toLabelmap(e *Entity, src RepresentationType) (Product, error) {
	f := e.OversamplingFactor
	if !validOversampling(f) {
		return Product{}, newError(CodeInvalidParameter, e, nil,
			"oversampling factor %g outside [%g, %g]", f, MinOversamplingFactor, MaxOversamplingFactor)
	}
	ref, err := c.referenceVolume(e)
	if err != nil {
		return Product{}, err
	}
	model, ok := e.store.Model(src)
	if !ok || model.Mesh().IsEmpty() {
		return Product{}, newError(CodeConversionFailed, e, nil, "%s representation has no mesh", src)
	}

	var refColor *colortable.RGBA
	if d, ok := c.scene.Display(model.DisplayID); ok {
		col := d.Color
		refColor = &col
	}
	match := c.Colors.ResolveColor(e.StructureName, c.scene, e.id, refColor)

	toRefIndex, err := c.modelToReferenceIndex(model.ID(), ref)
	if err != nil {
		return Product{}, newError(CodeConversionFailed, e, err, "cannot map %s into reference index space", src)
	}
	refGrid := ref.Grid()

	raster := kernel.RasterGrid{Dims: refGrid.Dims, Step: v3.Vec{X: 1, Y: 1, Z: 1}}
	spacing := refGrid.Spacing
	toIndex := toRefIndex
	if f != 1.0 {
		raster.Dims = volume.OversampledDims(refGrid.Dims, f)
		raster.Step = v3.Vec{X: 1 / f, Y: 1 / f, Z: 1 / f}
		spacing = v3.Vec{X: refGrid.Spacing.X / f, Y: refGrid.Spacing.Y / f, Z: refGrid.Spacing.Z / f}
		toIndex = xform.Scale(v3.Vec{X: f, Y: f, Z: f}).Mul(toRefIndex)
	}
	if n := raster.Dims[0] * raster.Dims[1] * raster.Dims[2]; c.MaxVoxels > 0 && n > c.MaxVoxels {
		return Product{}, newError(CodeInvalidParameter, e, nil,
			"label map of %v voxels exceeds the limit of %d; lower the oversampling factor %g", raster.Dims, c.MaxVoxels, f)
	}

	indexMesh := model.Mesh().Transform(toRefIndex)
	grid, err := c.raster.Rasterize(indexMesh, raster, Background, int32(match.Index))
	if err != nil {
		return Product{}, newError(CodeConversionFailed, e, err, "rasterization failed")
	}
	if grid.IsEmpty(Background) {
		return Product{}, newError(CodeConversionFailed, e, nil, "rasterization produced an empty label map")
	}
	grid.Spacing = spacing
	grid.CopyOrientation(refGrid)

	tableID := match.TableID
	if !match.Found {
		tableID = c.scene.GenericLabelTableID()
	}

	c.scene.StartBatch()
	defer c.scene.EndBatch()

	name := c.scene.GenerateUniqueName(e.Name + LabelmapPostfix)
	disp := scene.NewDisplayNode(name + "Display")
	disp.Color = match.Color
	disp.ColorTableID = tableID
	disp.SliceIntersectionVisible = true
	dispID := c.scene.AddNode(disp)

	vol := scene.NewVolumeNode(name, grid)
	vol.LabelMap = true
	vol.TransformID = ref.TransformID
	vol.DisplayID = dispID
	volID := c.scene.AddNode(vol)

	c.Logger.Debug("derived label map",
		"contour", e.Name, "source", src, "node", volID,
		"dims", grid.Dims, "spacing", grid.Spacing, "label", match.Index)

	return Product{
		Type:   Labelmap,
		NodeID: volID,
		index: &indexRecord{
			labelmapID:   volID,
			dims:         grid.Dims,
			modelToIndex: toIndex,
			frameID:      model.TransformID,
		},
	}, nil
}

func (c *Converter) toSurface(e *Entity, vol *scene.VolumeNode, rec *indexRecord) (Product, error) {
	if !validDecimation(e.DecimationFactor) {
		return Product{}, newError(CodeInvalidParameter, e, nil,
			"decimation factor %g outside [0, 1)", e.DecimationFactor)
	}
	grid := vol.Grid()
	if grid == nil || grid.IsEmpty(Background) {
		return Product{}, newError(CodeConversionFailed, e, nil, "label map %q is empty", vol.ID())
	}
	match := c.Colors.ResolveColor(e.StructureName, c.scene, e.id, nil)

	indexMesh, err := c.extractor.Extract(grid, e.DecimationFactor)
	if err != nil {
		return Product{}, newError(CodeConversionFailed, e, err, "surface extraction failed")
	}
	if indexMesh.IsEmpty() {
		return Product{}, newError(CodeConversionFailed, e, nil, "surface extraction produced an empty mesh")
	}

	// Leave index space through the recorded rasterization mapping when it
	// belongs to this label map, otherwise through the grid's own geometry.
	fromIndex := grid.IJKToRAS()
	frameID := vol.TransformID
	if rec != nil && rec.labelmapID == vol.ID() && rec.dims == grid.Dims {
		inv, err := rec.modelToIndex.Inverse()
		if err != nil {
			return Product{}, newError(CodeConversionFailed, e, err, "recorded index mapping is singular")
		}
		fromIndex = inv
		frameID = rec.frameID
	}
	mesh := indexMesh.Transform(fromIndex)
	mesh.PartName = e.Name

	c.scene.StartBatch()
	defer c.scene.EndBatch()

	name := c.scene.GenerateUniqueName(e.Name + SurfacePostfix)
	disp := scene.NewDisplayNode(name + "Display")
	disp.Color = match.Color
	disp.SliceIntersectionVisible = true
	disp.BackfaceCulling = false
	dispID := c.scene.AddNode(disp)

	model := scene.NewModelNode(name, mesh)
	model.TransformID = frameID
	model.DisplayID = dispID
	modelID := c.scene.AddNode(model)

	c.Logger.Debug("derived closed surface",
		"contour", e.Name, "node", modelID, "triangles", mesh.TriangleCount(),
		"decimation", e.DecimationFactor)

	return Product{Type: Surface, NodeID: modelID}, nil
}

// isHard reports whether err should be logged at error level.
func isHard(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return !ce.Soft()
	}
	return true
}
