package module

import (
	"fmt"
	"sort"

	"github.com/user/hostaudit/pkg/engine"
)

// Catalog is the typed registration map from module name to Module and from
// fix ID to its declaration. It is built and validated once at startup.
type Catalog struct {
	modules []Module
	byName  map[string]Module
	fixes   map[string]engine.FixSpec
}

var _ engine.FixLookup = (*Catalog)(nil)

// NewCatalog registers modules and validates their fix declarations.
// overrides may move a fix to a stricter danger class, never a laxer one.
func NewCatalog(modules []Module, overrides map[string]engine.DangerClass) (*Catalog, error) {
	c := &Catalog{
		byName: make(map[string]Module),
		fixes:  make(map[string]engine.FixSpec),
	}
	for _, m := range modules {
		name := m.Name()
		if name == "" {
			return nil, fmt.Errorf("module with empty name")
		}
		if _, dup := c.byName[name]; dup {
			return nil, fmt.Errorf("duplicate module %q", name)
		}
		c.byName[name] = m
		c.modules = append(c.modules, m)

		for _, spec := range m.Fixes() {
			if spec.ID == "" {
				return nil, fmt.Errorf("module %q declares a fix without id", name)
			}
			if prev, dup := c.fixes[spec.ID]; dup {
				return nil, fmt.Errorf("fix %q declared by both %q and %q", spec.ID, prev.ModuleName, name)
			}
			spec.ModuleName = name
			c.fixes[spec.ID] = spec
		}
	}

	for id, class := range overrides {
		spec, ok := c.fixes[id]
		if !ok {
			return nil, fmt.Errorf("class override for %w %q", engine.ErrUnknownFix, id)
		}
		if class < spec.Class {
			return nil, fmt.Errorf("class override for %q would lower it from %s to %s", id, spec.Class, class)
		}
		spec.Class = class
		c.fixes[id] = spec
	}

	for id, spec := range c.fixes {
		if spec.Class == engine.LockoutProtected && len(spec.Targets) == 0 {
			return nil, fmt.Errorf("lockout-protected fix %q must declare file targets for rollback", id)
		}
	}
	return c, nil
}

// Modules returns the registered modules in registration order.
func (c *Catalog) Modules() []Module {
	return append([]Module(nil), c.modules...)
}

// Module returns a module by name.
func (c *Catalog) Module(name string) (Module, bool) {
	m, ok := c.byName[name]
	return m, ok
}

// Names returns the module names in registration order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.modules))
	for _, m := range c.modules {
		names = append(names, m.Name())
	}
	return names
}

// Select returns the named modules in registration order. Unknown names are
// an error.
func (c *Catalog) Select(names []string) ([]Module, error) {
	if len(names) == 0 {
		return c.Modules(), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := c.byName[n]; !ok {
			return nil, fmt.Errorf("unknown module %q (available: %v)", n, c.Names())
		}
		want[n] = true
	}
	var out []Module
	for _, m := range c.modules {
		if want[m.Name()] {
			out = append(out, m)
		}
	}
	return out, nil
}

// LookupFix implements engine.FixLookup.
func (c *Catalog) LookupFix(fixID string) (engine.FixSpec, bool) {
	spec, ok := c.fixes[fixID]
	return spec, ok
}

// Fixes returns every declared fix sorted by ID.
func (c *Catalog) Fixes() []engine.FixSpec {
	out := make([]engine.FixSpec, 0, len(c.fixes))
	for _, s := range c.fixes {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
