package descriptor

import (
	"fmt"

	"github.com/roach88/relhist/internal/mapping"
)

// ConfigError reports a mapping that cannot be resolved. It is a setup
// defect and never retryable.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Message
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Message)
}

// Excluded reasons.
const (
	ReasonViewOnly    = "view_only"
	ReasonUnversioned = "endpoint not versioned"
)

// reservedColumns may not be used as carried column names.
var reservedColumns = map[string]bool{
	"transaction_id": true,
	"operation_type": true,
}

// Registry is the immutable set of entity types and descriptors.
type Registry struct {
	entities     map[string]*EntityType
	entityOrder  []*EntityType
	associations []*Association
	byRole       map[string]*Descriptor
	owned        map[string][]*Descriptor
}

// Build resolves cfg into a Registry.
func Build(cfg *mapping.Config) (*Registry, error) {
	r := &Registry{
		entities: make(map[string]*EntityType),
		byRole:   make(map[string]*Descriptor),
		owned:    make(map[string][]*Descriptor),
	}

	// Physical tables claimed so far, keyed by flat name so that a mapping
	// valid on Postgres stays valid on SQLite.
	claimed := make(map[string]string)
	claim := func(ref TableRef, owner string) error {
		if prev, ok := claimed[ref.Flat()]; ok {
			return &ConfigError{Field: owner, Message: fmt.Sprintf("table %s already used by %s", ref, prev)}
		}
		claimed[ref.Flat()] = owner
		return nil
	}

	for i, e := range cfg.Entities {
		field := fmt.Sprintf("entities[%d]", i)
		et := &EntityType{
			Name:      e.Name,
			Namespace: e.Namespace,
			Versioned: e.Versioned,
		}
		table := e.Table
		if table == "" {
			table = e.Name
		}
		et.Table = TableRef{Namespace: e.Namespace, Name: table}
		vt := e.VersionTable
		if vt == "" {
			vt = table + "_version"
		}
		et.VersionTable = TableRef{Namespace: e.Namespace, Name: vt}

		key := et.Key()
		if _, dup := r.entities[key]; dup {
			return nil, &ConfigError{Field: field, Message: fmt.Sprintf("duplicate entity %q", key)}
		}
		if err := claim(et.Table, "entity "+key); err != nil {
			return nil, err
		}
		if et.Versioned {
			if err := claim(et.VersionTable, "versions of "+key); err != nil {
				return nil, err
			}
		}
		r.entities[key] = et
		r.entityOrder = append(r.entityOrder, et)
	}

	for i, rel := range cfg.Relationships {
		field := fmt.Sprintf("relationships[%d]", i)
		assoc, err := r.resolveAssociation(field, rel)
		if err != nil {
			return nil, err
		}
		if err := claim(assoc.Table, "association "+assoc.Table.String()); err != nil {
			return nil, err
		}
		if !assoc.Excluded {
			if err := claim(assoc.LedgerTable, "ledger of "+assoc.Table.String()); err != nil {
				return nil, err
			}
		}
		r.associations = append(r.associations, assoc)

		forward := &Descriptor{
			Name:        rel.Forward,
			Owner:       assoc.Left,
			Partner:     assoc.Right,
			Role:        Forward,
			Association: assoc,
			Inverse:     rel.Backward,
		}
		backward := &Descriptor{
			Name:        rel.Backward,
			Owner:       assoc.Right,
			Partner:     assoc.Left,
			Role:        Backward,
			Association: assoc,
			Inverse:     rel.Forward,
		}
		for _, d := range []*Descriptor{forward, backward} {
			if d.Name != "" {
				key := d.Owner + "." + d.Name
				if _, dup := r.byRole[key]; dup {
					return nil, &ConfigError{Field: field, Message: fmt.Sprintf("duplicate role %q", key)}
				}
				r.byRole[key] = d
			}
			r.owned[d.Owner] = append(r.owned[d.Owner], d)
		}
	}

	return r, nil
}

func (r *Registry) resolveAssociation(field string, rel mapping.Relationship) (*Association, error) {
	assoc := &Association{
		Table:       TableRef{Namespace: rel.Namespace, Name: rel.Table},
		LedgerTable: TableRef{Namespace: rel.Namespace, Name: rel.Table + "_version"},
		Left:        rel.Left,
		Right:       rel.Right,
		LeftColumn:  rel.LeftColumn,
		RightColumn: rel.RightColumn,
	}
	assoc.SelfReferential = assoc.Left == assoc.Right

	if rel.LeftColumn == rel.RightColumn {
		return nil, &ConfigError{Field: field, Message: "left_column and right_column must differ"}
	}
	if assoc.SelfReferential && rel.Forward != "" && rel.Forward == rel.Backward {
		return nil, &ConfigError{Field: field, Message: "self-referential roles must have distinct names"}
	}

	seen := map[string]bool{rel.LeftColumn: true, rel.RightColumn: true}
	for j, c := range rel.Carried {
		cfield := fmt.Sprintf("%s.carried[%d]", field, j)
		if c.Name == "" {
			return nil, &ConfigError{Field: cfield, Message: "name is required"}
		}
		if reservedColumns[c.Name] || seen[c.Name] {
			return nil, &ConfigError{Field: cfield, Message: fmt.Sprintf("column %q is reserved or duplicated", c.Name)}
		}
		seen[c.Name] = true
		kind, err := parseCarriedKind(c.Type)
		if err != nil {
			return nil, &ConfigError{Field: cfield, Message: err.Error()}
		}
		assoc.Carried = append(assoc.Carried, CarriedColumn{Name: c.Name, Kind: kind})
	}

	for _, end := range []string{rel.Left, rel.Right} {
		if _, ok := r.entities[end]; !ok {
			return nil, &ConfigError{Field: field, Message: fmt.Sprintf("undeclared entity %q", end)}
		}
	}

	bothVersioned := r.versioned(rel.Left) && r.versioned(rel.Right)
	switch {
	case rel.Track && rel.ViewOnly:
		return nil, &ConfigError{Field: field, Message: "track and view_only are mutually exclusive"}
	case rel.Track && !bothVersioned:
		return nil, &ConfigError{
			Field:   field,
			Message: fmt.Sprintf("track requires both %q and %q to be versioned", rel.Left, rel.Right),
		}
	case rel.ViewOnly:
		assoc.Excluded = true
		assoc.ExcludedReason = ReasonViewOnly
	case !bothVersioned:
		assoc.Excluded = true
		assoc.ExcludedReason = ReasonUnversioned
	}
	return assoc, nil
}

func (r *Registry) versioned(key string) bool {
	return r.entities[key].Versioned
}

func parseCarriedKind(s string) (CarriedKind, error) {
	switch s {
	case mapping.TypeText:
		return CarriedText, nil
	case mapping.TypeInt:
		return CarriedInt, nil
	case mapping.TypeBool:
		return CarriedBool, nil
	case mapping.TypeTimestamp:
		return CarriedTimestamp, nil
	}
	return 0, fmt.Errorf("unknown carried type %q", s)
}

// Entity returns the entity type with the given key.
func (r *Registry) Entity(key string) (*EntityType, bool) {
	et, ok := r.entities[key]
	return et, ok
}

// Entities returns entity types in declaration order.
func (r *Registry) Entities() []*EntityType {
	out := make([]*EntityType, len(r.entityOrder))
	copy(out, r.entityOrder)
	return out
}

// Associations returns every association in declaration order, excluded ones included.
func (r *Registry) Associations() []*Association {
	out := make([]*Association, len(r.associations))
	copy(out, r.associations)
	return out
}

// Lookup returns the descriptor for role name on owner.
func (r *Registry) Lookup(owner, name string) (*Descriptor, bool) {
	d, ok := r.byRole[owner+"."+name]
	return d, ok
}

// Owned returns every descriptor whose owner is the given entity key,
// named or not, in declaration order.
func (r *Registry) Owned(owner string) []*Descriptor {
	ds := r.owned[owner]
	out := make([]*Descriptor, len(ds))
	copy(out, ds)
	return out
}
