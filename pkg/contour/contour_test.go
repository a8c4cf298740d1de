package contour

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/rtcontour/pkg/colortable"
	"github.com/chazu/rtcontour/pkg/kernel"
	"github.com/chazu/rtcontour/pkg/kernel/sdfx"
	"github.com/chazu/rtcontour/pkg/raster"
	"github.com/chazu/rtcontour/pkg/scene"
	"github.com/chazu/rtcontour/pkg/volume"
	"github.com/chazu/rtcontour/pkg/xform"
)

// boxMesh returns a closed axis-aligned box between lo and hi.
func boxMesh(lo, hi v3.Vec) *kernel.Mesh {
	corners := []v3.Vec{
		{X: lo.X, Y: lo.Y, Z: lo.Z}, {X: hi.X, Y: lo.Y, Z: lo.Z},
		{X: hi.X, Y: hi.Y, Z: lo.Z}, {X: lo.X, Y: hi.Y, Z: lo.Z},
		{X: lo.X, Y: lo.Y, Z: hi.Z}, {X: hi.X, Y: lo.Y, Z: hi.Z},
		{X: hi.X, Y: hi.Y, Z: hi.Z}, {X: lo.X, Y: hi.Y, Z: hi.Z},
	}
	m := &kernel.Mesh{}
	for _, c := range corners {
		m.Vertices = append(m.Vertices, float32(c.X), float32(c.Y), float32(c.Z))
	}
	m.Indices = []uint32{
		0, 2, 1, 0, 3, 2,
		4, 5, 6, 4, 6, 7,
		0, 1, 5, 0, 5, 4,
		2, 3, 7, 2, 7, 6,
		1, 2, 6, 1, 6, 5,
		0, 4, 7, 0, 7, 3,
	}
	m.ComputeNormals()
	return m
}

// The heart box covers reference indices [2.2, 5.8] on every axis of a
// grid with spacing (1,1,2).
var (
	heartLo    = v3.Vec{X: 2.2, Y: 2.2, Z: 4.4}
	heartHi    = v3.Vec{X: 5.8, Y: 5.8, Z: 11.6}
	heartColor = colortable.RGBA{R: 0.8, G: 0.1, B: 0.1, A: 1}
)

type conversion struct {
	route   string
	success bool
}

type captureRecorder struct {
	mu          sync.Mutex
	conversions []conversion
	removed     int
}

func (r *captureRecorder) ObserveConversion(route string, success bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversions = append(r.conversions, conversion{route, success})
}

func (r *captureRecorder) ObserveInvalidation(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed += n
}

type fixture struct {
	sc      *scene.Scene
	ctrl    *Controller
	rec     *captureRecorder
	logs    *bytes.Buffer
	refID   string
	curveID string
	tableID string
	setID   string
	e       *Entity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sc := scene.New()
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	conv := NewConverter(sc, raster.New(), sdfx.NewExtractor())
	conv.Colors = colortable.NewResolver(logger)
	conv.Logger = logger
	rec := &captureRecorder{}
	conv.Metrics = rec
	ctrl := NewController(sc, conv, logger)

	g, err := volume.New([3]int{10, 10, 10})
	require.NoError(t, err)
	g.Spacing = v3.Vec{X: 1, Y: 1, Z: 2}
	refID := sc.AddNode(scene.NewVolumeNode("CT", g))

	set := scene.NewHierarchyNode("RTSTRUCT", "", "")
	set.Attributes[scene.AttrSeriesName] = "RTSTRUCT"
	setID := sc.AddNode(set)
	tbl := colortable.New(scene.ColorTableName("RTSTRUCT"))
	tbl.Set(2, "Lung", colortable.RGBA{B: 1, A: 1})
	tbl.Set(5, "Heart", heartColor)
	tableID := sc.AddNode(scene.NewColorTableNode(tbl))

	disp := scene.NewDisplayNode("Heart_RibbonModelDisplay")
	disp.Color = heartColor
	dispID := sc.AddNode(disp)
	curve := scene.NewModelNode("Heart_RibbonModel", boxMesh(heartLo, heartHi))
	curve.DisplayID = dispID
	curveID := sc.AddNode(curve)

	e := ctrl.NewEntity("Heart", "Heart")
	sc.AddNode(scene.NewHierarchyNode("Heart", setID, e.ID()))
	require.NoError(t, ctrl.Attach(e, Curve, curveID))
	require.NoError(t, ctrl.SetReferenceVolume(e, refID))

	return &fixture{
		sc: sc, ctrl: ctrl, rec: rec, logs: logs,
		refID: refID, curveID: curveID, tableID: tableID, setID: setID, e: e,
	}
}

func (f *fixture) labelmap(t *testing.T) *scene.VolumeNode {
	t.Helper()
	v, ok := f.e.Store().Volume(Labelmap)
	require.True(t, ok, "labelmap slot is empty")
	return v
}

// visibleTypes returns the representation types whose node is shown.
func (f *fixture) visibleTypes() []RepresentationType {
	var out []RepresentationType
	for _, t := range f.e.Store().ExistingTypes() {
		if f.ctrl.IsVisible(f.e, t) {
			out = append(out, t)
		}
	}
	return out
}

func TestAttachFirstRepresentationBecomesActive(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, Curve, f.e.ActiveType())
	assert.Equal(t, []RepresentationType{Curve}, f.e.Store().ExistingTypes())
	assert.Equal(t, 1, f.sc.ReferenceCount(f.refID))
	assert.Equal(t, 1, f.sc.ObserverCount(f.curveID))

	err := f.ctrl.Attach(f.e, None, f.curveID)
	assert.True(t, errors.Is(err, ErrInvalidParameter))
	err = f.ctrl.Attach(f.e, Labelmap, f.curveID)
	assert.True(t, errors.Is(err, ErrInvalidParameter), "model node in a grid slot")
}

func TestAttachReplacingActiveDiscardsDerived(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.ActivateByType(f.e, Surface))
	require.NoError(t, f.ctrl.ActivateByType(f.e, Curve))
	lmID := f.e.RepresentationID(Labelmap)

	newCurve := f.sc.AddNode(scene.NewModelNode("Heart_RibbonModel_1", boxMesh(heartLo, heartHi)))
	require.NoError(t, f.ctrl.Attach(f.e, Curve, newCurve))

	assert.Equal(t, []RepresentationType{Curve}, f.e.Store().ExistingTypes())
	assert.Equal(t, newCurve, f.e.RepresentationID(Curve))
	assert.False(t, f.sc.Has(lmID))
	assert.Equal(t, 2, f.rec.removed)
	assert.Equal(t, Curve, f.e.ActiveType())
}

func TestHeartScenarioCurveToLabelmap(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.ctrl.ActivateByType(f.e, Labelmap))

	lm := f.labelmap(t)
	g := lm.Grid()
	assert.Equal(t, v3.Vec{X: 0.5, Y: 0.5, Z: 1.0}, g.Spacing)
	assert.Equal(t, [3]int{19, 19, 19}, g.Dims)
	assert.Equal(t, 7*7*7, g.Count(5), "voxels labelled with the resolved index")
	assert.Equal(t, g.VoxelCount()-7*7*7, g.Count(Background))
	assert.True(t, lm.LabelMap)
	assert.Equal(t, "Heart"+LabelmapPostfix, lm.Name())

	disp, ok := f.sc.DisplayOf(lm.ID())
	require.True(t, ok)
	assert.Equal(t, f.tableID, disp.ColorTableID)

	assert.Equal(t, Labelmap, f.e.ActiveType())
	assert.Equal(t, []RepresentationType{Curve, Labelmap}, f.e.Store().ExistingTypes())
	assert.Equal(t, []RepresentationType{Labelmap}, f.visibleTypes())
	assert.True(t, f.sc.Has(f.curveID), "curve is hidden, not deleted")
	curveDisp, _ := f.sc.DisplayOf(f.curveID)
	assert.False(t, curveDisp.Visible)
	assert.False(t, curveDisp.SliceIntersectionVisible)

	assert.Equal(t, []conversion{{"curve->labelmap", true}}, f.rec.conversions)
}

func TestLabelmapSpacingFollowsOversampling(t *testing.T) {
	tests := []struct {
		factor float64
		want   v3.Vec
		voxels int
	}{
		{0.5, v3.Vec{X: 2, Y: 2, Z: 4}, 1},
		{1, v3.Vec{X: 1, Y: 1, Z: 2}, 27},
		{2, v3.Vec{X: 0.5, Y: 0.5, Z: 1}, 343},
		{3, v3.Vec{X: 1.0 / 3, Y: 1.0 / 3, Z: 2.0 / 3}, 11 * 11 * 11},
	}
	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			f := newFixture(t)
			f.e.OversamplingFactor = tt.factor
			require.NoError(t, f.ctrl.ActivateByType(f.e, Labelmap))
			g := f.labelmap(t).Grid()
			assert.Equal(t, tt.want, g.Spacing)
			assert.Equal(t, volume.OversampledDims([3]int{10, 10, 10}, tt.factor), g.Dims)
			assert.Equal(t, tt.voxels, g.Count(5))
		})
	}
}

func TestActivateSameTypeIsNoop(t *testing.T) {
	f := newFixture(t)
	before := len(f.sc.Nodes())
	require.NoError(t, f.ctrl.ActivateByType(f.e, Curve))
	assert.Equal(t, Curve, f.e.ActiveType())
	assert.Len(t, f.sc.Nodes(), before)
	assert.Empty(t, f.rec.conversions)
}

func TestActivateNoneRejected(t *testing.T) {
	f := newFixture(t)
	err := f.ctrl.ActivateByType(f.e, None)
	assert.True(t, errors.Is(err, ErrInvalidParameter))
	assert.Equal(t, Curve, f.e.ActiveType())
	assert.Contains(t, f.logs.String(), "level=WARN")
}

func TestMissingReferenceVolumeLeavesStateUnchanged(t *testing.T) {
	for _, target := range []RepresentationType{Labelmap, Surface} {
		t.Run(target.String(), func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.ctrl.SetReferenceVolume(f.e, ""))
			assert.Equal(t, 0, f.sc.ReferenceCount(f.refID))
			before := len(f.sc.Nodes())

			err := f.ctrl.ActivateByType(f.e, target)
			assert.True(t, errors.Is(err, ErrMissingReferenceVolume))
			assert.Equal(t, CodeMissingReferenceVolume, CodeOf(err))
			assert.Equal(t, Curve, f.e.ActiveType())
			assert.Equal(t, []RepresentationType{Curve}, f.e.Store().ExistingTypes())
			assert.Equal(t, []RepresentationType{Curve}, f.visibleTypes())
			assert.Len(t, f.sc.Nodes(), before)
			assert.Contains(t, f.logs.String(), "level=ERROR")
		})
	}
}

func TestInvalidOversamplingAbortsBeforeConversion(t *testing.T) {
	for _, factor := range []float64{0, 0.009, 100.5, -1} {
		f := newFixture(t)
		f.e.OversamplingFactor = factor
		err := f.ctrl.ActivateByType(f.e, Labelmap)
		assert.True(t, errors.Is(err, ErrInvalidParameter), "factor %g", factor)
		assert.Equal(t, Curve, f.e.ActiveType())
		assert.False(t, f.e.Store().Has(Labelmap))
	}
}

func TestOversizedLabelmapRejectedBeforeRasterizing(t *testing.T) {
	tests := []struct {
		name      string
		factor    float64
		maxVoxels int
	}{
		{"maximum factor", MaxOversamplingFactor, DefaultMaxLabelmapVoxels},
		{"lowered limit", DefaultOversamplingFactor, 19*19*19 - 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ctrl.conv.MaxVoxels = tt.maxVoxels
			f.e.OversamplingFactor = tt.factor
			before := len(f.sc.Nodes())

			err := f.ctrl.ActivateByType(f.e, Labelmap)
			assert.True(t, errors.Is(err, ErrInvalidParameter))
			assert.Contains(t, err.Error(), "exceeds the limit")
			assert.Equal(t, Curve, f.e.ActiveType())
			assert.False(t, f.e.Store().Has(Labelmap))
			assert.Len(t, f.sc.Nodes(), before)
		})
	}
}

func TestOnSourceDataChangedInvalidatesSiblings(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.ActivateByType(f.e, Labelmap))
	lm := f.labelmap(t)

	// The scene delivers the notification through the slot observation.
	lm.Touch()

	assert.Equal(t, []RepresentationType{Labelmap}, f.e.Store().ExistingTypes())
	assert.False(t, f.sc.Has(f.curveID), "stale curve removed from the scene")
	assert.Equal(t, 1, f.rec.removed)

	// Surface can now only come from the label map.
	require.NoError(t, f.ctrl.ActivateByType(f.e, Surface))
	assert.Equal(t, Surface, f.e.ActiveType())
	assert.Equal(t, []RepresentationType{Labelmap, Surface}, f.e.Store().ExistingTypes())
	assert.Equal(t, []RepresentationType{Surface}, f.visibleTypes())
	assert.Equal(t, "labelmap->surface", f.rec.conversions[len(f.rec.conversions)-1].route)
}

func TestActiveCurveEditDiscardsDerived(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.ActivateByType(f.e, Surface))
	require.NoError(t, f.ctrl.ActivateByType(f.e, Curve))
	require.Len(t, f.e.Store().ExistingTypes(), 3)
	lmID, surfID := f.e.RepresentationID(Labelmap), f.e.RepresentationID(Surface)

	curve, _ := f.sc.Model(f.curveID)
	curve.SetMesh(boxMesh(heartLo, heartHi.Add(v3.Vec{X: 1})))

	assert.Equal(t, []RepresentationType{Curve}, f.e.Store().ExistingTypes())
	assert.False(t, f.sc.Has(lmID))
	assert.False(t, f.sc.Has(surfID))
	assert.Equal(t, 0, f.sc.ObserverCount(lmID))
}

func TestTransformChangeDoesNotInvalidate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.ActivateByType(f.e, Labelmap))
	require.NoError(t, f.ctrl.ActivateByType(f.e, Curve))

	tn := scene.NewTransformNode("shift", xform.Translate(v3.Vec{X: 1}))
	tid := f.sc.AddNode(tn)
	curve, _ := f.sc.Model(f.curveID)
	curve.SetTransformID(tid)
	tn.SetToParent(xform.Translate(v3.Vec{X: 2}))

	assert.Equal(t, []RepresentationType{Curve, Labelmap}, f.e.Store().ExistingTypes())
}

func TestMovingFrameOfHiddenRepresentationsIsQuiet(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.ActivateByType(f.e, Labelmap))
	require.NoError(t, f.ctrl.ActivateByType(f.e, Curve))

	tn := scene.NewTransformNode("table", xform.Translate(v3.Vec{X: 1}))
	tid := f.sc.AddNode(tn)
	curve, _ := f.sc.Model(f.curveID)
	curve.SetTransformID(tid)
	f.labelmap(t).SetTransformID(tid)
	f.logs.Reset()

	tn.SetToParent(xform.Translate(v3.Vec{Y: 3}))

	assert.Equal(t, []RepresentationType{Curve, Labelmap}, f.e.Store().ExistingTypes())
	assert.NotContains(t, f.logs.String(), "level=WARN")
	assert.NotContains(t, f.logs.String(), "ignoring change notification")
}

func TestOnSourceDataChangedRejectsMismatches(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.ActivateByType(f.e, Labelmap))
	lmID := f.e.RepresentationID(Labelmap)

	tests := []struct {
		name   string
		nodeID string
		kind   scene.EventKind
	}{
		{"inactive representation", f.curveID, scene.MeshModified},
		{"wrong kind for grid", lmID, scene.MeshModified},
		{"display change", lmID, scene.DisplayModified},
		{"unknown node", "model_unknown", scene.MeshModified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.ctrl.OnSourceDataChanged(f.e, tt.nodeID, tt.kind)
			assert.True(t, errors.Is(err, ErrCallerEventMismatch))
			assert.Equal(t, []RepresentationType{Curve, Labelmap}, f.e.Store().ExistingTypes())
		})
	}

	// An edit of the hidden curve arrives through the scene and is ignored.
	curve, _ := f.sc.Model(f.curveID)
	curve.Touch()
	assert.True(t, f.e.Store().Has(Labelmap))
	assert.Contains(t, f.logs.String(), "ignoring change notification")
}

func TestCurveToSurfaceDerivesLabelmapFirst(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.ActivateByType(f.e, Surface))

	assert.Equal(t, []RepresentationType{Curve, Labelmap, Surface}, f.e.Store().ExistingTypes())
	assert.Equal(t, []RepresentationType{Surface}, f.visibleTypes())
	assert.Equal(t, []conversion{{"curve->surface", true}}, f.rec.conversions)

	surf, ok := f.e.Store().Model(Surface)
	require.True(t, ok)
	assert.Equal(t, "Heart"+SurfacePostfix, surf.Name())
	disp, ok := f.sc.DisplayOf(surf.ID())
	require.True(t, ok)
	assert.Equal(t, heartColor, disp.Color)
	assert.False(t, disp.BackfaceCulling)
	assert.True(t, disp.SliceIntersectionVisible)

	toWorld, err := f.sc.NodeToWorld(surf.ID())
	require.NoError(t, err)
	lo, hi := surf.Mesh().Transform(toWorld).Bounds()
	assert.InDelta(t, heartLo.X, lo.X, 1.0)
	assert.InDelta(t, heartLo.Y, lo.Y, 1.0)
	assert.InDelta(t, heartLo.Z, lo.Z, 1.5)
	assert.InDelta(t, heartHi.X, hi.X, 1.0)
	assert.InDelta(t, heartHi.Y, hi.Y, 1.0)
	assert.InDelta(t, heartHi.Z, hi.Z, 1.5)
}

func TestSurfaceFromLabelmapWithoutRecord(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.ActivateByType(f.e, Labelmap))
	f.e.index = nil

	require.NoError(t, f.ctrl.ActivateByType(f.e, Surface))
	surf, _ := f.e.Store().Model(Surface)
	assert.Equal(t, f.labelmap(t).TransformID, surf.TransformID)
	lo, hi := surf.Mesh().Bounds()
	assert.InDelta(t, heartLo.X, lo.X, 1.0)
	assert.InDelta(t, heartHi.Z, hi.Z, 1.5)
}

func TestInvalidDecimationRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.ActivateByType(f.e, Labelmap))
	before := len(f.sc.Nodes())
	f.e.DecimationFactor = 1
	err := f.ctrl.ActivateByType(f.e, Surface)
	assert.True(t, errors.Is(err, ErrInvalidParameter))
	assert.Equal(t, Labelmap, f.e.ActiveType())
	assert.Len(t, f.sc.Nodes(), before)
}

func TestFailedSecondStepRemovesIntermediateLabelmap(t *testing.T) {
	f := newFixture(t)
	f.e.DecimationFactor = 2
	before := len(f.sc.Nodes())
	err := f.ctrl.ActivateByType(f.e, Surface)
	assert.True(t, errors.Is(err, ErrInvalidParameter))
	assert.Equal(t, []RepresentationType{Curve}, f.e.Store().ExistingTypes())
	assert.Len(t, f.sc.Nodes(), before, "intermediate label map is cleaned up")
}

func TestUnsupportedConversion(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.ActivateByType(f.e, Labelmap))
	f.labelmap(t).Touch() // drop the curve

	err := f.ctrl.ActivateByType(f.e, Curve)
	assert.True(t, errors.Is(err, ErrUnsupportedConversion))
	assert.Equal(t, Labelmap, f.e.ActiveType())
	assert.Contains(t, f.logs.String(), "level=WARN")
}

func TestEmptyRasterizationFails(t *testing.T) {
	f := newFixture(t)
	curve, _ := f.sc.Model(f.curveID)
	far := v3.Vec{X: 100, Y: 100, Z: 100}
	// Hold the edit notification back until after the attempt.
	f.sc.StartBatch()
	curve.SetMesh(boxMesh(far, far.Add(v3.Vec{X: 1, Y: 1, Z: 1})))
	err := f.ctrl.ActivateByType(f.e, Labelmap)
	f.sc.EndBatch()

	assert.True(t, errors.Is(err, ErrConversionFailed))
	assert.Equal(t, Curve, f.e.ActiveType())
}

func TestActivateByIdentity(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.ActivateByType(f.e, Labelmap))

	err := f.ctrl.ActivateByIdentity(f.e, f.refID)
	assert.True(t, errors.Is(err, ErrNotReferenced))
	assert.Equal(t, Labelmap, f.e.ActiveType())

	require.NoError(t, f.ctrl.ActivateByIdentity(f.e, f.curveID))
	assert.Equal(t, Curve, f.e.ActiveType())
	assert.Equal(t, []RepresentationType{Curve}, f.visibleTypes())
}

func TestReconvert(t *testing.T) {
	f := newFixture(t)

	err := f.ctrl.Reconvert(f.e, Curve)
	assert.True(t, errors.Is(err, ErrNotImplemented))
	err = f.ctrl.Reconvert(f.e, None)
	assert.True(t, errors.Is(err, ErrInvalidParameter))

	require.NoError(t, f.ctrl.ActivateByType(f.e, Labelmap))
	oldID := f.e.RepresentationID(Labelmap)
	require.NoError(t, f.ctrl.ActivateByType(f.e, Curve))

	f.e.OversamplingFactor = 1
	require.NoError(t, f.ctrl.Reconvert(f.e, Labelmap))
	newID := f.e.RepresentationID(Labelmap)
	assert.NotEqual(t, oldID, newID)
	assert.False(t, f.sc.Has(oldID))
	assert.Equal(t, Labelmap, f.e.ActiveType())
	assert.Equal(t, v3.Vec{X: 1, Y: 1, Z: 2}, f.labelmap(t).Grid().Spacing)
	assert.Equal(t, "Heart"+LabelmapPostfix+"_1", f.labelmap(t).Name())
}

func TestReconvertFailureKeepsSlots(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.ActivateByType(f.e, Labelmap))
	oldID := f.e.RepresentationID(Labelmap)

	f.e.OversamplingFactor = 1000
	err := f.ctrl.Reconvert(f.e, Labelmap)
	assert.True(t, errors.Is(err, ErrInvalidParameter))
	assert.Equal(t, oldID, f.e.RepresentationID(Labelmap))
	assert.True(t, f.sc.Has(oldID))
	assert.Equal(t, Labelmap, f.e.ActiveType())
	assert.Equal(t, []RepresentationType{Curve, Labelmap}, f.e.Store().ExistingTypes())
}

func TestReconvertSurfaceFromLabelmapWhenCurveGone(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.ActivateByType(f.e, Surface))
	require.NoError(t, f.ctrl.ActivateByType(f.e, Labelmap))
	f.labelmap(t).Touch()
	require.Equal(t, []RepresentationType{Labelmap}, f.e.Store().ExistingTypes())

	require.NoError(t, f.ctrl.Reconvert(f.e, Surface))
	assert.Equal(t, Surface, f.e.ActiveType())
	assert.Equal(t, "labelmap->surface", f.rec.conversions[len(f.rec.conversions)-1].route)

	// With the curve gone a label map is derived from the surface.
	require.NoError(t, f.ctrl.Reconvert(f.e, Labelmap))
	assert.Equal(t, "surface->labelmap", f.rec.conversions[len(f.rec.conversions)-1].route)
	assert.Equal(t, Labelmap, f.e.ActiveType())
	assert.Equal(t, []RepresentationType{Labelmap, Surface}, f.e.Store().ExistingTypes())
}

func TestExternalRemovalPromotesRemaining(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.ActivateByType(f.e, Labelmap))
	lmID := f.e.RepresentationID(Labelmap)

	f.sc.RemoveWithDisplay(lmID)

	assert.Equal(t, Curve, f.e.ActiveType())
	assert.Equal(t, []RepresentationType{Curve}, f.e.Store().ExistingTypes())
	assert.Equal(t, []RepresentationType{Curve}, f.visibleTypes())
}

func TestAttributesRestoreRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.e.DecimationFactor = 0.25
	require.NoError(t, f.ctrl.ActivateByType(f.e, Labelmap))

	attrs := f.e.Attributes()
	assert.Equal(t, f.e.ID(), attrs.ID)
	assert.Equal(t, "Heart", attrs.StructureName)
	assert.Equal(t, f.curveID, attrs.CurveRepresentationID)
	assert.Equal(t, f.e.RepresentationID(Labelmap), attrs.LabelmapRepresentationID)
	assert.Empty(t, attrs.SurfaceRepresentationID)
	assert.Equal(t, f.refID, attrs.ReferenceVolumeID)
	assert.Equal(t, Labelmap, attrs.ActiveRepresentationType)

	f.ctrl.Release(f.e)
	assert.Equal(t, 0, f.sc.ObserverCount(f.curveID))
	assert.Equal(t, 0, f.sc.ReferenceCount(f.refID))

	attrs.SurfaceRepresentationID = "model_gone"
	restored, err := f.ctrl.Restore(attrs)
	require.NoError(t, err)
	assert.Equal(t, attrs.ID, restored.ID())
	assert.Equal(t, Labelmap, restored.ActiveType())
	assert.Equal(t, []RepresentationType{Curve, Labelmap}, restored.Store().ExistingTypes())
	assert.Equal(t, 0.25, restored.DecimationFactor)
	assert.Equal(t, 1, f.sc.ReferenceCount(f.refID))
	assert.Contains(t, f.logs.String(), "dropping representation")

	_, err = f.ctrl.Restore(Attributes{Name: "bad", OversamplingFactor: 0})
	assert.True(t, errors.Is(err, ErrInvalidParameter))
}

func TestRestoreWithMissingActivePicksFirst(t *testing.T) {
	f := newFixture(t)
	attrs := DefaultAttributes()
	attrs.Name = "Copy"
	attrs.CurveRepresentationID = f.curveID
	attrs.ActiveRepresentationType = Surface

	e, err := f.ctrl.Restore(attrs)
	require.NoError(t, err)
	assert.Equal(t, Curve, e.ActiveType())
}

func TestRestoreChecksIDKinds(t *testing.T) {
	f := newFixture(t)
	attrs := DefaultAttributes()
	attrs.Name = "Copy"
	attrs.CurveRepresentationID = f.curveID
	attrs.LabelmapRepresentationID = f.curveID
	attrs.ReferenceVolumeID = f.curveID

	e, err := f.ctrl.Restore(attrs)
	require.NoError(t, err)
	assert.Equal(t, []RepresentationType{Curve}, e.Store().ExistingTypes())
	assert.Empty(t, e.ReferenceVolumeID())
	assert.Contains(t, f.logs.String(), "dropping reference volume")
	assert.Contains(t, f.logs.String(), "dropping representation")

	for _, id := range []string{"Heart", f.refID} {
		attrs := DefaultAttributes()
		attrs.ID = id
		_, err := f.ctrl.Restore(attrs)
		assert.True(t, errors.Is(err, ErrInvalidParameter), "id %q", id)
		assert.True(t, errors.Is(err, scene.ErrBadID), "id %q", id)
	}
}

func TestUpdateReferenceID(t *testing.T) {
	f := newFixture(t)
	g, err := volume.New([3]int{10, 10, 10})
	require.NoError(t, err)
	newRef := f.sc.AddNode(scene.NewVolumeNode("CT copy", g))
	newCurve := f.sc.AddNode(scene.NewModelNode("copy", boxMesh(heartLo, heartHi)))

	require.NoError(t, f.ctrl.UpdateReferenceID(f.e, f.refID, newRef))
	require.NoError(t, f.ctrl.UpdateReferenceID(f.e, f.curveID, newCurve))

	assert.Equal(t, newRef, f.e.ReferenceVolumeID())
	assert.Equal(t, newCurve, f.e.RepresentationID(Curve))
	assert.Equal(t, 0, f.sc.ReferenceCount(f.refID))
	assert.Equal(t, 1, f.sc.ReferenceCount(newRef))
	assert.Equal(t, 0, f.sc.ObserverCount(f.curveID))
	assert.Equal(t, 1, f.sc.ObserverCount(newCurve))
}

func TestUnknownStructureUsesDefaultLabel(t *testing.T) {
	f := newFixture(t)
	f.e.StructureName = "Unknown"
	require.NoError(t, f.ctrl.ActivateByType(f.e, Labelmap))

	g := f.labelmap(t).Grid()
	assert.Equal(t, 343, g.Count(colortable.DefaultIndex))
	disp, _ := f.sc.DisplayOf(f.labelmap(t).ID())
	assert.Equal(t, f.sc.GenericLabelTableID(), disp.ColorTableID)
	assert.Contains(t, f.logs.String(), "structure=Unknown")
}

func TestCurveColorMismatchUsesDefaultLabel(t *testing.T) {
	f := newFixture(t)
	disp, ok := f.sc.DisplayOf(f.curveID)
	require.True(t, ok)
	disp.Color = colortable.RGBA{G: 1, A: 1}

	require.NoError(t, f.ctrl.ActivateByType(f.e, Labelmap))

	g := f.labelmap(t).Grid()
	assert.Equal(t, 343, g.Count(colortable.DefaultIndex))
	assert.Equal(t, 0, g.Count(5), "name match with another color is not taken")
	assert.Contains(t, f.logs.String(), "structure not found in color tables")
}

func TestTransformedSourceAndReference(t *testing.T) {
	f := newFixture(t)

	// Place the curve under a shift and the reference under the same
	// shift: the rasterized voxels must not move.
	shift := xform.Translate(v3.Vec{X: 10, Y: -4, Z: 6})
	tid := f.sc.AddNode(scene.NewTransformNode("shift", shift))
	ref, _ := f.sc.Volume(f.refID)
	ref.TransformID = tid
	curve, _ := f.sc.Model(f.curveID)
	curve.TransformID = tid

	require.NoError(t, f.ctrl.ActivateByType(f.e, Labelmap))
	lm := f.labelmap(t)
	assert.Equal(t, tid, lm.TransformID)
	assert.Equal(t, 343, lm.Grid().Count(5))
	assert.Equal(t, int32(5), lm.Grid().At(5, 5, 5))
	assert.Equal(t, int32(0), lm.Grid().At(4, 5, 5))
}

func TestRepresentationTypeParsing(t *testing.T) {
	tests := []struct {
		in   string
		want RepresentationType
		err  bool
	}{
		{"curve", Curve, false},
		{"Labelmap", Labelmap, false},
		{" surface ", Surface, false},
		{"none", None, false},
		{"mesh", None, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRepresentationType(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, CategoryMesh, Curve.Category())
	assert.Equal(t, CategoryGrid, Labelmap.Category())
	assert.Equal(t, CategoryNone, None.Category())
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Code: CodeConversionFailed, Contour: "Heart", Message: "rasterization failed", Err: cause}
	assert.Equal(t, "CONVERSION_FAILED: rasterization failed (contour: Heart): boom", err.Error())
	assert.True(t, errors.Is(err, ErrConversionFailed))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrNotImplemented))
}
