// Package history defines the durable records of the history engine:
// transactions, entity versions and association ledger operations.
//
// All records are immutable once written. Ordering within an entity or a
// relationship is by TransactionID ascending.
package history

import (
	"fmt"
	"time"

	"github.com/roach88/relhist/internal/row"
)

// Operation is the kind of change recorded in a version or ledger row.
// The numeric codes are persisted in operation_type columns.
type Operation int

const (
	OpInsert Operation = 0
	OpUpdate Operation = 1
	OpDelete Operation = 2
)

// String returns the lowercase operation name.
func (o Operation) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

// ParseOperation parses the lowercase operation name.
func ParseOperation(s string) (Operation, error) {
	switch s {
	case "insert":
		return OpInsert, nil
	case "update":
		return OpUpdate, nil
	case "delete":
		return OpDelete, nil
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

// Valid reports whether o is one of the persisted codes.
func (o Operation) Valid() bool {
	return o == OpInsert || o == OpUpdate || o == OpDelete
}

// Transaction is one committed unit of work.
type Transaction struct {
	ID         int64     `json:"id"`
	IssuedAt   time.Time `json:"issued_at"`
	Actor      string    `json:"actor,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
}

// EntityVersion is a frozen snapshot of one entity at one transaction.
type EntityVersion struct {
	EntityType    string     `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	TransactionID int64      `json:"transaction_id"`
	Operation     Operation  `json:"operation"`
	Values        row.Values `json:"values"`

	// Index is the 0-based position in the entity's version sequence.
	Index int `json:"index"`
}

// Key identifies a version.
func (v EntityVersion) Key() VersionKey {
	return VersionKey{EntityType: v.EntityType, EntityID: v.EntityID, TransactionID: v.TransactionID}
}

// VersionKey is the comparable identity of an EntityVersion.
type VersionKey struct {
	EntityType    string
	EntityID      string
	TransactionID int64
}

// String renders the key as type:id@tx.
func (k VersionKey) String() string {
	return fmt.Sprintf("%s:%s@%d", k.EntityType, k.EntityID, k.TransactionID)
}

// AssociationOp is one ledger entry, oriented from the owner's side of a
// relationship. Only OpInsert and OpDelete occur.
type AssociationOp struct {
	Relationship  string     `json:"relationship"`
	OwnerID       string     `json:"owner_id"`
	PartnerID     string     `json:"partner_id"`
	TransactionID int64      `json:"transaction_id"`
	Operation     Operation  `json:"operation"`
	Carried       row.Values `json:"carried,omitempty"`
}
