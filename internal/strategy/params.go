package strategy

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/yanun0323/errors"

	"hft/pkg/exception"
)

// ParamType is the declared type of a strategy parameter.
type ParamType uint8

const (
	ParamInt ParamType = iota + 1
	ParamFloat
	ParamDuration
	ParamBool
)

func (t ParamType) String() string {
	switch t {
	case ParamInt:
		return "int"
	case ParamFloat:
		return "float"
	case ParamDuration:
		return "duration"
	case ParamBool:
		return "bool"
	default:
		return "unknown"
	}
}

// ParamSpec declares one parameter. Min and Max bound numeric values
// (durations in seconds) when Max > Min.
type ParamSpec struct {
	Name     string
	Type     ParamType
	Min      float64
	Max      float64
	Default  any
	Required bool
}

// Params holds validated parameter values keyed by name. Values are int64,
// float64, time.Duration or bool according to their spec.
type Params map[string]any

func (p Params) Int(name string) int64 {
	v, _ := p[name].(int64)
	return v
}

func (p Params) Float(name string) float64 {
	v, _ := p[name].(float64)
	return v
}

func (p Params) Duration(name string) time.Duration {
	v, _ := p[name].(time.Duration)
	return v
}

func (p Params) Bool(name string) bool {
	v, _ := p[name].(bool)
	return v
}

// ValidateParams checks raw against specs and returns typed values with
// defaults filled in. Unknown names, type mismatches, out of range values and
// missing required parameters are config errors.
func ValidateParams(specs []ParamSpec, raw map[string]any) (Params, error) {
	known := make(map[string]ParamSpec, len(specs))
	for _, s := range specs {
		known[s.Name] = s
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := known[name]; !ok {
			return nil, errors.Wrapf(exception.ErrConfigInvalidValue, "unknown parameter %q", name)
		}
	}

	out := make(Params, len(specs))
	for _, s := range specs {
		v, ok := raw[s.Name]
		if !ok || v == nil {
			if s.Required {
				return nil, errors.Wrapf(exception.ErrConfigMissing, "parameter %q", s.Name)
			}
			v = s.Default
		}
		typed, err := coerce(s, v)
		if err != nil {
			return nil, err
		}
		out[s.Name] = typed
	}
	return out, nil
}

func coerce(s ParamSpec, v any) (any, error) {
	bad := func() error {
		return errors.Wrapf(exception.ErrConfigInvalidValue, "parameter %q: %v is not %s", s.Name, v, s.Type)
	}
	switch s.Type {
	case ParamInt:
		var n int64
		switch x := v.(type) {
		case int:
			n = int64(x)
		case int64:
			n = x
		case float64:
			if x != math.Trunc(x) {
				return nil, bad()
			}
			n = int64(x)
		case string:
			parsed, err := strconv.ParseInt(x, 10, 64)
			if err != nil {
				return nil, bad()
			}
			n = parsed
		default:
			return nil, bad()
		}
		return n, checkRange(s, float64(n))
	case ParamFloat:
		var f float64
		switch x := v.(type) {
		case int:
			f = float64(x)
		case int64:
			f = float64(x)
		case float64:
			f = x
		case string:
			parsed, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return nil, bad()
			}
			f = parsed
		default:
			return nil, bad()
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, bad()
		}
		return f, checkRange(s, f)
	case ParamDuration:
		var d time.Duration
		switch x := v.(type) {
		case time.Duration:
			d = x
		case string:
			parsed, err := time.ParseDuration(x)
			if err != nil {
				return nil, bad()
			}
			d = parsed
		default:
			return nil, bad()
		}
		return d, checkRange(s, d.Seconds())
	case ParamBool:
		b, ok := v.(bool)
		if !ok {
			return nil, bad()
		}
		return b, nil
	default:
		return nil, errors.Wrapf(exception.ErrConfigInvalidValue, "parameter %q has no type", s.Name)
	}
}

func checkRange(s ParamSpec, v float64) error {
	if s.Max <= s.Min {
		return nil
	}
	if v < s.Min || v > s.Max {
		return errors.Wrapf(exception.ErrConfigInvalidValue, "parameter %q: %v outside [%v, %v]", s.Name, v, s.Min, s.Max)
	}
	return nil
}
