// Package protocol implements the recursive capability cultivation engine for recap.
// This file defines the Capability unit and the reflection adapter that
// converts arbitrary Go functions into the canonical executable shape.
package protocol

import (
	"fmt"
	"reflect"
	"time"
)

// Executable is the canonical callable shape every capability presents.
// Arguments are positional; multiple non-error return values collapse
// into a []any.
type Executable func(args ...any) (any, error)

// Capability is a named executable unit in the graph.
type Capability struct {
	Name       string         `json:"name"`
	Exec       Executable     `json:"-"`
	Layer      int            `json:"layer"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Provenance string         `json:"provenance,omitempty"`
	Source     string         `json:"source,omitempty"`
	Signature  string         `json:"signature,omitempty"`
	Params     []string       `json:"parameters,omitempty"`
}

// Call invokes the capability's executable directly, without the engine's
// deadline handling.
func (c *Capability) Call(args ...any) (any, error) {
	return c.Exec(args...)
}

// Summary returns the per-capability structural description used by
// registry analysis and formalization.
func (c *Capability) Summary() CapabilitySummary {
	s := CapabilitySummary{
		Name:         c.Name,
		Layer:        c.Layer,
		Signature:    c.Signature,
		Parameters:   c.Params,
		SourceLength: len(c.Source),
		Provenance:   c.Provenance,
		Metadata:     c.Metadata,
	}
	if c.Source != "" {
		s.Doc = docOf(c.Source)
	}
	return s
}

// CapabilitySummary describes one capability for introspection output.
type CapabilitySummary struct {
	Name         string         `json:"name"`
	Layer        int            `json:"layer"`
	Signature    string         `json:"signature"`
	Doc          string         `json:"doc,omitempty"`
	Parameters   []string       `json:"parameters,omitempty"`
	SourceLength int            `json:"source_length"`
	Provenance   string         `json:"provenance,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// =============================================================================
// FUNCTION ADAPTATION
// =============================================================================
// Cultivated functions keep their natural Go signatures; the adapter bridges
// them to the variadic Executable contract at call time.

var errType = reflect.TypeOf((*error)(nil)).Elem()

// adapted carries everything the adapter learns about a function.
type adapted struct {
	exec      Executable
	signature string
	params    []string
}

// adaptFunc wraps an arbitrary Go function as an Executable. Argument
// count and type mismatches surface as errors from the returned
// Executable, never as panics.
func adaptFunc(fn any) (*adapted, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %T", ErrNotAFunction, fn)
	}
	t := v.Type()

	params := make([]string, t.NumIn())
	for i := 0; i < t.NumIn(); i++ {
		params[i] = t.In(i).String()
	}

	exec := func(args ...any) (any, error) {
		in, err := buildArgs(t, args)
		if err != nil {
			return nil, err
		}
		return splitResults(v.Call(in))
	}

	return &adapted{exec: exec, signature: t.String(), params: params}, nil
}

// buildArgs converts caller arguments to the function's input types.
func buildArgs(t reflect.Type, args []any) ([]reflect.Value, error) {
	fixed := t.NumIn()
	if t.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return nil, fmt.Errorf("expected at least %d args, got %d", fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, fmt.Errorf("expected %d args, got %d", fixed, len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var want reflect.Type
		if i < fixed {
			want = t.In(i)
		} else {
			want = t.In(t.NumIn() - 1).Elem()
		}
		val, err := coerce(arg, want)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		in[i] = val
	}
	return in, nil
}

// coerce makes an argument assignable to the wanted type, converting
// where Go conversion rules allow it.
func coerce(arg any, want reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch want.Kind() {
		case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
			return reflect.Zero(want), nil
		}
		return reflect.Value{}, fmt.Errorf("nil is not assignable to %s", want)
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(want) {
		return v, nil
	}
	if v.Type().ConvertibleTo(want) {
		return v.Convert(want), nil
	}
	return reflect.Value{}, fmt.Errorf("%s is not assignable to %s", v.Type(), want)
}

// splitResults maps Go return values onto the (any, error) contract:
// a trailing error splits off, a single remaining value passes through,
// multiple remaining values collapse into []any.
func splitResults(out []reflect.Value) (any, error) {
	var err error
	if n := len(out); n > 0 && out[n-1].Type().Implements(errType) {
		if !out[n-1].IsNil() {
			err = out[n-1].Interface().(error)
		}
		out = out[:n-1]
	}
	switch len(out) {
	case 0:
		return nil, err
	case 1:
		return out[0].Interface(), err
	default:
		vals := make([]any, len(out))
		for i, v := range out {
			vals[i] = v.Interface()
		}
		return vals, err
	}
}

// Truthy reports whether a value gates a conditional composition open.
// nil, false, zero numbers and empty strings/containers are false;
// everything else is true.
func Truthy(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array, reflect.Chan:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface, reflect.Func:
		return !rv.IsNil()
	}
	return true
}
