// Package mapping reads the history mapping document: which entity types are
// versioned and which many-to-many relationships join them.
//
// Documents are YAML or CUE. Both decode into Config; resolution into
// descriptors happens in package descriptor.
package mapping

// Config is the decoded mapping document.
type Config struct {
	Entities      []Entity       `yaml:"entities" json:"entities"`
	Relationships []Relationship `yaml:"relationships" json:"relationships"`
}

// Entity declares one entity type.
type Entity struct {
	// Name is the entity type name, unique within its namespace.
	Name string `yaml:"name" json:"name"`

	// Namespace is the schema qualifier. Empty means the default namespace.
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`

	// Table is the live table name. Defaults to Name.
	Table string `yaml:"table,omitempty" json:"table,omitempty"`

	// VersionTable overrides the generated "<table>_version" name.
	VersionTable string `yaml:"version_table,omitempty" json:"version_table,omitempty"`

	// Versioned opts the entity type into history.
	Versioned bool `yaml:"versioned" json:"versioned"`
}

// Relationship declares one many-to-many association table.
type Relationship struct {
	Table     string `yaml:"table" json:"table"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`

	// Left and Right are entity keys ("name" or "namespace.name").
	Left  string `yaml:"left" json:"left"`
	Right string `yaml:"right" json:"right"`

	LeftColumn  string `yaml:"left_column" json:"left_column"`
	RightColumn string `yaml:"right_column" json:"right_column"`

	// Forward is the role name on Left; Backward is the role name on Right.
	Forward  string `yaml:"forward,omitempty" json:"forward,omitempty"`
	Backward string `yaml:"backward,omitempty" json:"backward,omitempty"`

	// ViewOnly opts the relationship out of history.
	ViewOnly bool `yaml:"view_only,omitempty" json:"view_only,omitempty"`

	// Track forces tracking; it is an error when an endpoint is not versioned.
	Track bool `yaml:"track,omitempty" json:"track,omitempty"`

	Carried []CarriedColumn `yaml:"carried,omitempty" json:"carried,omitempty"`
}

// CarriedColumn is an extra association column mirrored into the ledger.
type CarriedColumn struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// Carried column types.
const (
	TypeText      = "text"
	TypeInt       = "int"
	TypeBool      = "bool"
	TypeTimestamp = "timestamp"
)
