package perm

import (
	"fmt"
	"sort"
	"strconv"
)

// Variables is a typed info map attached to groups and users: prefix, suffix,
// build flag plus arbitrary string/int/float/bool entries.
type Variables struct {
	vars map[string]any
}

// ParseVariable coerces a raw loaded value into one of the supported
// variable types. Unsupported values are rejected so a load can skip the
// single offending entry.
func ParseVariable(raw any) (any, error) {
	switch v := raw.(type) {
	case string, bool, int, int64, float64:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unsupported variable value %T", ErrInvalidInput, raw)
	}
}

func (v *Variables) ensure() {
	if v.vars == nil {
		v.vars = make(map[string]any)
	}
}

// Set stores a variable value.
func (v *Variables) Set(name string, value any) {
	v.ensure()
	v.vars[name] = value
}

// Remove deletes a variable, reporting whether it existed.
func (v *Variables) Remove(name string) bool {
	if v.vars == nil {
		return false
	}
	_, ok := v.vars[name]
	delete(v.vars, name)
	return ok
}

// Has reports whether the variable exists.
func (v *Variables) Has(name string) bool {
	_, ok := v.vars[name]
	return ok
}

// Get returns the raw variable value.
func (v *Variables) Get(name string) (any, bool) {
	val, ok := v.vars[name]
	return val, ok
}

// String returns the variable as a string, or def when absent.
func (v *Variables) String(name, def string) string {
	val, ok := v.vars[name]
	if !ok {
		return def
	}
	switch t := val.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return def
}

// Bool returns the variable as a bool, or def when absent or untypable.
func (v *Variables) Bool(name string, def bool) bool {
	val, ok := v.vars[name]
	if !ok {
		return def
	}
	switch t := val.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return def
		}
		return b
	}
	return def
}

// Int returns the variable as an int, or def when absent or untypable.
func (v *Variables) Int(name string, def int) int {
	val, ok := v.vars[name]
	if !ok {
		return def
	}
	switch t := val.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return def
		}
		return n
	}
	return def
}

// Float returns the variable as a float64, or def when absent or untypable.
func (v *Variables) Float(name string, def float64) float64 {
	val, ok := v.vars[name]
	if !ok {
		return def
	}
	switch t := val.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return def
		}
		return f
	}
	return def
}

// Names returns the variable names in sorted order.
func (v *Variables) Names() []string {
	names := make([]string, 0, len(v.vars))
	for name := range v.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of stored variables.
func (v *Variables) Len() int { return len(v.vars) }

func (v *Variables) clone() Variables {
	if len(v.vars) == 0 {
		return Variables{}
	}
	out := make(map[string]any, len(v.vars))
	for k, val := range v.vars {
		out[k] = val
	}
	return Variables{vars: out}
}
