package specs

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// Table is a named, ordered list of layer specs plus the number of stage
// inputs that precede them on the output stack.
type Table struct {
	name   string
	inputs int
	specs  []LayerSpec
}

// NewTable validates the records and returns an immutable table. Route
// bounds are checked by the builder, which knows the stack depth.
func NewTable(name string, inputs int, specs []LayerSpec) (*Table, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: table name must not be empty", ErrInvalidSpec)
	}
	if inputs < 1 {
		return nil, fmt.Errorf("%w: table %q needs at least one input, got %d", ErrInvalidSpec, name, inputs)
	}
	t := &Table{name: name, inputs: inputs, specs: make([]LayerSpec, len(specs))}
	for i, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, at(err, name, i)
		}
		t.specs[i] = s.clone()
	}
	return t, nil
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Inputs returns how many stage inputs the table expects.
func (t *Table) Inputs() int {
	return t.inputs
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.specs)
}

// At returns a copy of record i.
func (t *Table) At(i int) LayerSpec {
	return t.specs[i].clone()
}

// Specs returns a copy of all records.
func (t *Table) Specs() []LayerSpec {
	out := make([]LayerSpec, len(t.specs))
	for i, s := range t.specs {
		out[i] = s.clone()
	}
	return out
}

// Catalog maps table names to tables.
type Catalog struct {
	tables map[string]*Table
}

// NewCatalog builds a catalog; later tables replace earlier ones with the
// same name.
func NewCatalog(tables ...*Table) *Catalog {
	c := &Catalog{tables: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		c.tables[t.name] = t
	}
	return c
}

// Load returns the table registered under name.
func (c *Catalog) Load(name string) (*Table, error) {
	t, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConfigNotFound, name)
	}
	return t, nil
}

// Names returns the sorted table names.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.tables))
	for n := range c.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Merge returns a catalog holding c's tables overlaid with other's.
func (c *Catalog) Merge(other *Catalog) *Catalog {
	out := &Catalog{tables: make(map[string]*Table, len(c.tables)+len(other.tables))}
	for n, t := range c.tables {
		out.tables[n] = t
	}
	for n, t := range other.tables {
		out.tables[n] = t
	}
	return out
}

//go:embed variants/*.yaml
var variantFS embed.FS

var (
	builtinOnce sync.Once
	builtin     *Catalog
	builtinErr  error
)

// Builtin returns the catalog of tables shipped with the package.
func Builtin() (*Catalog, error) {
	builtinOnce.Do(func() {
		builtin, builtinErr = loadEmbedded()
	})
	return builtin, builtinErr
}

func loadEmbedded() (*Catalog, error) {
	entries, err := variantFS.ReadDir("variants")
	if err != nil {
		return nil, fmt.Errorf("read embedded variants: %w", err)
	}
	var tables []*Table
	for _, e := range entries {
		data, err := variantFS.ReadFile(path.Join("variants", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		t, err := ParseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Name(), err)
		}
		tables = append(tables, t)
	}
	return NewCatalog(tables...), nil
}

// Load returns a built-in table by name.
func Load(name string) (*Table, error) {
	c, err := Builtin()
	if err != nil {
		return nil, err
	}
	return c.Load(name)
}

// Names returns the names of the built-in tables.
func Names() []string {
	c, err := Builtin()
	if err != nil {
		return nil
	}
	return c.Names()
}
