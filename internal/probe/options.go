package probe

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

type OptionType string

const (
	TypeString     OptionType = "string"
	TypeInt        OptionType = "int"
	TypeFloat      OptionType = "float"
	TypeBool       OptionType = "bool"
	TypeDuration   OptionType = "duration"
	TypeStringList OptionType = "list"
	TypeEnum       OptionType = "enum"
)

type Option struct {
	Name     string
	Type     OptionType
	Default  any
	Required bool
	Help     string
	// Choices lists the accepted values of a TypeEnum option.
	Choices []string
}

// ConfigParser is the option schema of one probe kind.
type ConfigParser struct {
	probe   string
	options []Option
}

func NewConfigParser(probe string, options ...Option) *ConfigParser {
	return &ConfigParser{probe: probe, options: options}
}

func (p *ConfigParser) Options() []Option { return p.options }

// Parse validates raw against the schema and fills in defaults.
func (p *ConfigParser) Parse(raw map[string]any) (Options, error) {
	known := make(map[string]Option, len(p.options))
	for _, o := range p.options {
		known[o.Name] = o
	}
	var unknown []string
	for key := range raw {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &ArgumentTypeError{Probe: p.probe, Reason: "unknown options: " + strings.Join(unknown, ", ")}
	}

	opts := make(Options, len(p.options))
	for _, o := range p.options {
		value, ok := raw[o.Name]
		if !ok || value == nil {
			if o.Required {
				return nil, &ArgumentTypeError{Probe: p.probe, Option: o.Name, Reason: "missing required option"}
			}
			opts[o.Name] = o.Default
			continue
		}
		converted, err := convert(o, value)
		if err != nil {
			return nil, &ArgumentTypeError{Probe: p.probe, Option: o.Name, Reason: err.Error()}
		}
		opts[o.Name] = converted
	}
	return opts, nil
}

func convert(o Option, value any) (any, error) {
	switch o.Type {
	case TypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case TypeEnum:
		s, ok := value.(string)
		if !ok {
			break
		}
		for _, c := range o.Choices {
			if s == c {
				return s, nil
			}
		}
		return nil, fmt.Errorf("%q is not one of %s", s, strings.Join(o.Choices, ", "))
	case TypeInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case float64:
			if v == math.Trunc(v) {
				return int(v), nil
			}
		}
	case TypeFloat:
		switch v := value.(type) {
		case int:
			return float64(v), nil
		case float64:
			return v, nil
		}
	case TypeBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case TypeDuration:
		switch v := value.(type) {
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		case time.Duration:
			return v, nil
		// Plain numbers are seconds.
		case int:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		}
	case TypeStringList:
		switch v := value.(type) {
		case string:
			return []string{v}, nil
		case []string:
			return v, nil
		case []any:
			list := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("list item %v is not a string", item)
				}
				list = append(list, s)
			}
			return list, nil
		}
	default:
		return nil, fmt.Errorf("unsupported option type %s", o.Type)
	}
	return nil, fmt.Errorf("expected %s, got %T", o.Type, value)
}

// Describe renders the schema for help output.
func (p *ConfigParser) Describe() string {
	var b strings.Builder
	for _, o := range p.options {
		fmt.Fprintf(&b, "  %s (%s", o.Name, o.Type)
		if o.Type == TypeEnum {
			fmt.Fprintf(&b, ": %s", strings.Join(o.Choices, "|"))
		}
		b.WriteString(")")
		if o.Required {
			b.WriteString(" required")
		} else if o.Default != nil {
			fmt.Fprintf(&b, " default=%v", o.Default)
		}
		if o.Help != "" {
			fmt.Fprintf(&b, "\n      %s", o.Help)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Options holds parsed values. Accessors return the zero value for options
// without a value.
type Options map[string]any

func (o Options) String(name string) string {
	s, _ := o[name].(string)
	return s
}

func (o Options) Int(name string) int {
	i, _ := o[name].(int)
	return i
}

func (o Options) Float(name string) float64 {
	f, _ := o[name].(float64)
	return f
}

func (o Options) Bool(name string) bool {
	b, _ := o[name].(bool)
	return b
}

func (o Options) Duration(name string) time.Duration {
	d, _ := o[name].(time.Duration)
	return d
}

func (o Options) Strings(name string) []string {
	l, _ := o[name].([]string)
	return l
}
