package browser

import (
	"fmt"
	"strings"
)

type flag struct {
	name     string
	value    string
	hasValue bool
}

// Flags is an ordered multimap of command line switches. Set keeps a single
// entry per name, Add allows repeated switches.
type Flags struct {
	entries []flag
}

func NewFlags() *Flags {
	return &Flags{}
}

// ParseFlags reads switches such as "--enable-logging" or "--v=1".
func ParseFlags(args []string) (*Flags, error) {
	f := NewFlags()
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("invalid flag %q: must start with '-'", arg)
		}
		name, value, hasValue := strings.Cut(arg, "=")
		f.entries = append(f.entries, flag{name: name, value: value, hasValue: hasValue})
	}
	return f, nil
}

// Set replaces all entries for name with a single one. Setting the same
// value twice leaves the flags unchanged.
func (f *Flags) Set(name, value string) {
	f.set(flag{name: name, value: value, hasValue: true})
}

// Enable sets a switch without a value.
func (f *Flags) Enable(name string) {
	f.set(flag{name: name})
}

func (f *Flags) set(fl flag) {
	idx := -1
	kept := f.entries[:0]
	for _, e := range f.entries {
		if e.name == fl.name {
			if idx == -1 {
				idx = len(kept)
				kept = append(kept, fl)
			}
			continue
		}
		kept = append(kept, e)
	}
	if idx == -1 {
		kept = append(kept, fl)
	}
	f.entries = kept
}

// Add appends name=value unless the exact pair is already present.
func (f *Flags) Add(name, value string) {
	for _, e := range f.entries {
		if e.name == name && e.hasValue && e.value == value {
			return
		}
	}
	f.entries = append(f.entries, flag{name: name, value: value, hasValue: true})
}

func (f *Flags) Has(name string) bool {
	for _, e := range f.entries {
		if e.name == name {
			return true
		}
	}
	return false
}

// Get returns the first value recorded for name.
func (f *Flags) Get(name string) (string, bool) {
	for _, e := range f.entries {
		if e.name == name {
			return e.value, true
		}
	}
	return "", false
}

func (f *Flags) Values(name string) []string {
	var values []string
	for _, e := range f.entries {
		if e.name == name && e.hasValue {
			values = append(values, e.value)
		}
	}
	return values
}

func (f *Flags) Len() int { return len(f.entries) }

// Update copies every entry of other into f with Set semantics.
func (f *Flags) Update(other *Flags) {
	if other == nil {
		return
	}
	for _, e := range other.entries {
		f.set(e)
	}
}

func (f *Flags) Clone() *Flags {
	c := &Flags{entries: make([]flag, len(f.entries))}
	copy(c.entries, f.entries)
	return c
}

// Args renders the flags in insertion order.
func (f *Flags) Args() []string {
	args := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		if e.hasValue {
			args = append(args, e.name+"="+e.value)
		} else {
			args = append(args, e.name)
		}
	}
	return args
}

func (f *Flags) String() string {
	return strings.Join(f.Args(), " ")
}
