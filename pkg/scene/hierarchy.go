package scene

import (
	"github.com/chazu/rtcontour/pkg/colortable"
)

// AttrSeriesName is the structure-set hierarchy attribute naming the
// series whose color table labels its structures.
const AttrSeriesName = "SeriesName"

// GenericLabelsName names the color table used by label maps whose
// structure has no table entry.
const GenericLabelsName = "GenericLabels"

// ColorTableName returns the name of the color table belonging to series.
func ColorTableName(series string) string {
	return series + " color table"
}

// Compile-time interface check.
var _ colortable.TableSource = (*Scene)(nil)

// HierarchyFor returns the hierarchy node whose associated ID is id.
func (s *Scene) HierarchyFor(id string) (*HierarchyNode, bool) {
	for _, n := range s.NodesByKind(KindHierarchy) {
		if h := n.(*HierarchyNode); h.AssociatedID == id {
			return h, true
		}
	}
	return nil, false
}

// ColorTablesFor implements colortable.TableSource. The contour's
// hierarchy node must have a parent whose SeriesName attribute is set; the
// tables are every color table named after that series.
func (s *Scene) ColorTablesFor(contourID string) ([]colortable.TableRef, bool) {
	h, ok := s.HierarchyFor(contourID)
	if !ok {
		return nil, false
	}
	parent, ok := s.Hierarchy(h.ParentID)
	if !ok {
		return nil, false
	}
	series := parent.Attributes[AttrSeriesName]
	if series == "" {
		return nil, false
	}
	var refs []colortable.TableRef
	for _, n := range s.NodesByName(ColorTableName(series)) {
		if ct, ok := n.(*ColorTableNode); ok {
			refs = append(refs, colortable.TableRef{ID: ct.ID(), Table: ct.Table})
		}
	}
	return refs, true
}

// GenericLabelTableID returns the generic label color table, creating it
// on first use.
func (s *Scene) GenericLabelTableID() string {
	for _, n := range s.NodesByName(GenericLabelsName) {
		if n.Kind() == KindColorTable {
			return n.ID()
		}
	}
	return s.AddNode(NewColorTableNode(colortable.New(GenericLabelsName)))
}
