package scene

import (
	"errors"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Node IDs are typeids whose prefix names the node kind, for example
// vol_01h455vb4pex5vsknk084sn02q. Contour entities are not nodes but use
// the same scheme so persisted attributes can be checked on load.
const (
	PrefixModel      = "model"
	PrefixVolume     = "vol"
	PrefixDisplay    = "disp"
	PrefixTransform  = "xform"
	PrefixColorTable = "ctbl"
	PrefixHierarchy  = "hier"
	PrefixContour    = "contour"
)

// ErrBadID is returned for IDs that are not typeids of the expected kind.
var ErrBadID = errors.New("scene: malformed id")

var kindPrefixes = map[Kind]string{
	KindModel:      PrefixModel,
	KindVolume:     PrefixVolume,
	KindDisplay:    PrefixDisplay,
	KindTransform:  PrefixTransform,
	KindColorTable: PrefixColorTable,
	KindHierarchy:  PrefixHierarchy,
}

func newNodeID(k Kind) string {
	return typeid.MustGenerate(kindPrefixes[k]).String()
}

// NewContourID returns a fresh contour entity ID.
func NewContourID() string {
	return typeid.MustGenerate(PrefixContour).String()
}

func idPrefix(id string) (string, error) {
	parsed, err := typeid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrBadID, id, err)
	}
	return parsed.Prefix(), nil
}

// KindOf returns the node kind encoded in id.
func KindOf(id string) (Kind, error) {
	prefix, err := idPrefix(id)
	if err != nil {
		return 0, err
	}
	for k, p := range kindPrefixes {
		if p == prefix {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w %q: prefix %q names no node kind", ErrBadID, id, prefix)
}

// ValidateNodeID checks that id is a node ID of kind want.
func ValidateNodeID(id string, want Kind) error {
	k, err := KindOf(id)
	if err != nil {
		return err
	}
	if k != want {
		return fmt.Errorf("%w %q: %s id where a %s was expected", ErrBadID, id, k, want)
	}
	return nil
}

// ValidateContourID checks that id is a contour entity ID.
func ValidateContourID(id string) error {
	prefix, err := idPrefix(id)
	if err != nil {
		return err
	}
	if prefix != PrefixContour {
		return fmt.Errorf("%w %q: expected prefix %q", ErrBadID, id, PrefixContour)
	}
	return nil
}
