package aggregate

import (
	"fmt"
	"strings"
)

// Id discriminators of a duplicate pair over a shared base id.
const (
	OriginalSuffix  = ".1"
	DuplicateSuffix = ".2"
)

// Pair is an original item and the duplicate that will be folded into it.
type Pair struct {
	OriginalID       string `json:"original_id" yaml:"original_id"`
	DuplicateID      string `json:"duplicate_id" yaml:"duplicate_id"`
	Name             string `json:"name" yaml:"name"`
	Location         string `json:"location" yaml:"location"`
	SaleDepartment   string `json:"sale_department" yaml:"sale_department"`
	MasterDepartment string `json:"master_department" yaml:"master_department"`
}

func (p Pair) Original() Ref  { return ItemRef(p.OriginalID) }
func (p Pair) Duplicate() Ref { return ItemRef(p.DuplicateID) }

func (p Pair) String() string { return p.OriginalID + "<-" + p.DuplicateID }

// BaseID strips the .1/.2 discriminator. ok is false when id has neither.
func BaseID(id string) (base string, ok bool) {
	if b, found := strings.CutSuffix(id, OriginalSuffix); found {
		return b, b != ""
	}
	if b, found := strings.CutSuffix(id, DuplicateSuffix); found {
		return b, b != ""
	}
	return "", false
}

// Validate checks the id rule: original ends in .1, duplicate in .2, and
// both share the same base id.
func (p Pair) Validate() error {
	if !strings.HasSuffix(p.OriginalID, OriginalSuffix) || !strings.HasSuffix(p.DuplicateID, DuplicateSuffix) {
		return fmt.Errorf("%w: %s / %s", ErrPairMismatch, p.OriginalID, p.DuplicateID)
	}
	ob, ok1 := BaseID(p.OriginalID)
	db, ok2 := BaseID(p.DuplicateID)
	if !ok1 || !ok2 || ob != db {
		return fmt.Errorf("%w: %s / %s", ErrPairMismatch, p.OriginalID, p.DuplicateID)
	}
	return nil
}
