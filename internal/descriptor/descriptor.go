// Package descriptor resolves a mapping document into the immutable registry
// of entity types and relationship descriptors used by the history engine.
//
// Every declared relationship yields one Association (the physical pair
// table) and two directional Descriptors, forward and backward, that share
// it. A Registry is built once and only read afterwards; lookups are safe
// for concurrent use without locking.
package descriptor

import (
	"fmt"

	"github.com/roach88/relhist/internal/mapping"
)

// TableRef identifies a table by namespace and name. Two refs with the same
// name in different namespaces are different tables.
type TableRef struct {
	Namespace string
	Name      string
}

// String returns "namespace.name", or just the name in the default namespace.
func (t TableRef) String() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// Flat returns the single-identifier form used where the database has no
// schemas: "namespace__name", or just the name in the default namespace.
func (t TableRef) Flat() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "__" + t.Name
}

// EntityType is a resolved entity declaration.
type EntityType struct {
	Name         string
	Namespace    string
	Table        TableRef
	VersionTable TableRef
	Versioned    bool
}

// Key returns the qualified entity key used in mappings and lookups.
func (e *EntityType) Key() string {
	return EntityKey(e.Namespace, e.Name)
}

// EntityKey builds "namespace.name", or "name" in the default namespace.
func EntityKey(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// CarriedKind is the type of a carried association column.
type CarriedKind int

const (
	CarriedText CarriedKind = iota
	CarriedInt
	CarriedBool
	CarriedTimestamp
)

func (k CarriedKind) String() string {
	switch k {
	case CarriedText:
		return mapping.TypeText
	case CarriedInt:
		return mapping.TypeInt
	case CarriedBool:
		return mapping.TypeBool
	case CarriedTimestamp:
		return mapping.TypeTimestamp
	}
	return fmt.Sprintf("carried(%d)", int(k))
}

// CarriedColumn is a typed extra column mirrored from the live association row.
type CarriedColumn struct {
	Name string
	Kind CarriedKind
}

// Association is one physical many-to-many pair table.
type Association struct {
	Table       TableRef
	LedgerTable TableRef

	// Left and Right are entity keys.
	Left, Right             string
	LeftColumn, RightColumn string

	Carried []CarriedColumn

	SelfReferential bool
	Excluded        bool
	ExcludedReason  string
}

// CarriedColumn returns the carried column named name.
func (a *Association) CarriedColumn(name string) (CarriedColumn, bool) {
	for _, c := range a.Carried {
		if c.Name == name {
			return c, true
		}
	}
	return CarriedColumn{}, false
}

// Role is the direction a descriptor reads its association in.
type Role int

const (
	// Forward reads from the left column to the right column.
	Forward Role = iota
	// Backward reads from the right column to the left column.
	Backward
)

func (r Role) String() string {
	if r == Backward {
		return "backward"
	}
	return "forward"
}

// Descriptor is one direction of a relationship as seen from its owner type.
type Descriptor struct {
	// Name is the role name on Owner. It may be empty when the mapping
	// declares no role for this direction.
	Name string

	Owner   string
	Partner string
	Role    Role

	Association *Association

	// Inverse is the role name of the opposite direction, if declared.
	Inverse string
}

// Key returns a stable identifier: "owner.name", or "owner#table:role" for
// unnamed directions.
func (d *Descriptor) Key() string {
	if d.Name != "" {
		return d.Owner + "." + d.Name
	}
	return fmt.Sprintf("%s#%s:%s", d.Owner, d.Association.Table, d.Role)
}

// Excluded reports whether the relationship is untracked.
func (d *Descriptor) Excluded() bool {
	return d.Association.Excluded
}

// SelfReferential reports whether both endpoints are the same entity type.
func (d *Descriptor) SelfReferential() bool {
	return d.Association.SelfReferential
}

// OwnerColumn is the ledger column holding the owner's id.
func (d *Descriptor) OwnerColumn() string {
	if d.Role == Backward {
		return d.Association.RightColumn
	}
	return d.Association.LeftColumn
}

// PartnerColumn is the ledger column holding the partner's id.
func (d *Descriptor) PartnerColumn() string {
	if d.Role == Backward {
		return d.Association.LeftColumn
	}
	return d.Association.RightColumn
}

// Physical maps an (owner, partner) pair to the association's (left, right).
func (d *Descriptor) Physical(ownerID, partnerID string) (left, right string) {
	if d.Role == Backward {
		return partnerID, ownerID
	}
	return ownerID, partnerID
}

// Orient maps a physical (left, right) pair to (owner, partner).
func (d *Descriptor) Orient(left, right string) (ownerID, partnerID string) {
	if d.Role == Backward {
		return right, left
	}
	return left, right
}
