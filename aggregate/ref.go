package aggregate

import (
	"fmt"
	"strings"
)

// EntityKind tags what a Ref points at.
type EntityKind string

const (
	KindItem      EntityKind = "item"
	KindCheckItem EntityKind = "check-item"
	KindAggregate EntityKind = "aggregate-pos-data"
)

const refPrefix = "/v1.0/"

// Ref is a typed reference to a persisted entity. The path form
// "/v1.0/<kind>/<id>" only exists at store boundaries.
type Ref struct {
	Kind EntityKind
	ID   string
}

func ItemRef(id string) Ref      { return Ref{Kind: KindItem, ID: id} }
func CheckItemRef(id string) Ref { return Ref{Kind: KindCheckItem, ID: id} }
func AggregateRef(id string) Ref { return Ref{Kind: KindAggregate, ID: id} }

func (r Ref) IsZero() bool { return r.Kind == "" && r.ID == "" }

func (r Ref) String() string {
	if r.IsZero() {
		return ""
	}
	return refPrefix + string(r.Kind) + "/" + r.ID
}

// ParseRef parses the path form. Ids may contain dots ("abc.1") but not "/".
func ParseRef(s string) (Ref, error) {
	rest, ok := strings.CutPrefix(s, refPrefix)
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	kind, id, ok := strings.Cut(rest, "/")
	if !ok || kind == "" || id == "" || strings.Contains(id, "/") {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	return Ref{Kind: EntityKind(kind), ID: id}, nil
}

// MustParseRef is ParseRef for fixtures and tests.
func MustParseRef(s string) Ref {
	r, err := ParseRef(s)
	if err != nil {
		panic(err)
	}
	return r
}
