package mapping

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// LoadError reports a malformed mapping document.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads a mapping document. Files ending in .cue are evaluated as CUE;
// everything else is parsed as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		return ParseCUE(data, path)
	}
	return ParseYAML(data)
}

// ParseYAML decodes a YAML mapping document. Unknown fields are rejected.
func ParseYAML(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse mapping YAML: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCUE evaluates a CUE mapping document against the embedded schema.
// Definitions are closed, so unknown fields are rejected here as well.
func ParseCUE(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile mapping schema: %w", err)
	}

	doc := ctx.CompileBytes(data, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schema.Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, formatCUEError(err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks field presence. Cross-reference checks belong to the
// descriptor registry.
func validate(cfg *Config) error {
	if len(cfg.Entities) == 0 {
		return &LoadError{Field: "entities", Message: "at least one entity is required"}
	}
	for i, e := range cfg.Entities {
		if e.Name == "" {
			return &LoadError{Field: fmt.Sprintf("entities[%d].name", i), Message: "name is required"}
		}
	}
	for i, r := range cfg.Relationships {
		field := fmt.Sprintf("relationships[%d]", i)
		switch {
		case r.Table == "":
			return &LoadError{Field: field + ".table", Message: "table is required"}
		case r.Left == "" || r.Right == "":
			return &LoadError{Field: field, Message: "left and right are required"}
		case r.LeftColumn == "" || r.RightColumn == "":
			return &LoadError{Field: field, Message: "left_column and right_column are required"}
		}
		for j, c := range r.Carried {
			switch c.Type {
			case TypeText, TypeInt, TypeBool, TypeTimestamp:
			default:
				return &LoadError{
					Field:   fmt.Sprintf("%s.carried[%d].type", field, j),
					Message: fmt.Sprintf("unknown type %q (want text, int, bool or timestamp)", c.Type),
				}
			}
		}
	}
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &LoadError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
