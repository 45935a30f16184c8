package probe

import (
	"fmt"
	"sort"
)

// Factory builds a probe from options already checked against its parser.
type Factory func(opts Options) (Probe, error)

type entry struct {
	parser  *ConfigParser
	factory Factory
	help    string
}

// Registry maps probe names to their option schema and factory.
type Registry struct {
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func (r *Registry) Register(name, help string, parser *ConfigParser, factory Factory) {
	if _, exists := r.entries[name]; exists {
		panic(fmt.Sprintf("probe %s registered twice", name))
	}
	if parser == nil {
		parser = NewConfigParser(name)
	}
	r.entries[name] = entry{parser: parser, factory: factory, help: help}
}

// Create parses raw options and instantiates the named probe.
func (r *Registry) Create(name string, raw map[string]any) (Probe, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("unknown probe %q", name)
	}
	opts, err := e.parser.Parse(raw)
	if err != nil {
		return nil, err
	}
	return e.factory(opts)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Parser(name string) (*ConfigParser, bool) {
	e, ok := r.entries[name]
	return e.parser, ok
}

func (r *Registry) Help(name string) string {
	return r.entries[name].help
}
