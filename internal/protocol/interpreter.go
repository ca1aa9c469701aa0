// Package protocol implements the recursive capability cultivation engine for recap.
// This file implements the source interpreter. Seed content arrives as Go
// source text; instead of shelling out to a compiler, the snippet is
// evaluated in a yaegi interpreter and the declared function is extracted
// as a real function value ready for adaptation.
//
// SAFETY RESTRICTIONS:
// - Only allowlisted stdlib imports (no external dependencies)
// - Imports are checked against the AST before evaluation
// - Each compilation uses a fresh interpreter, so no state bleeds
//   between seeds
package protocol

import (
	"fmt"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Interpreter compiles capability source text into executables.
type Interpreter struct {
	allowed map[string]bool
}

// DefaultAllowlist is the stdlib subset cultivated source may import.
// Filesystem, network, process and unsafe packages stay out.
func DefaultAllowlist() []string {
	return []string{
		"bytes",
		"encoding/base64",
		"encoding/json",
		"errors",
		"fmt",
		"math",
		"regexp",
		"sort",
		"strconv",
		"strings",
		"time",
		"unicode",
	}
}

// NewInterpreter creates an interpreter restricted to the given imports.
// A nil allowlist means DefaultAllowlist.
func NewInterpreter(allowlist []string) *Interpreter {
	if allowlist == nil {
		allowlist = DefaultAllowlist()
	}
	allowed := make(map[string]bool, len(allowlist))
	for _, pkg := range allowlist {
		allowed[pkg] = true
	}
	return &Interpreter{allowed: allowed}
}

// Compiled is a source snippet evaluated into a callable capability core.
type Compiled struct {
	Name      string
	Exec      Executable
	Signature string
	Params    []string
	Doc       string
}

// Compile validates the snippet's imports, evaluates it and extracts the
// first declared function, adapted to the Executable shape. The
// declaration supplies the capability name and parameter names.
func (ip *Interpreter) Compile(src string) (*Compiled, error) {
	fn, err := firstFuncDecl(src)
	if err != nil {
		return nil, err
	}
	if err := ip.checkImports(src); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib symbols: %w", err)
	}

	if _, err := i.Eval(wrapSource(src)); err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}

	v, err := i.Eval(fn.Name.Name)
	if err != nil {
		return nil, fmt.Errorf("function %s not found after evaluation: %w", fn.Name.Name, err)
	}

	ad, err := adaptFunc(v.Interface())
	if err != nil {
		return nil, fmt.Errorf("function %s: %w", fn.Name.Name, err)
	}

	compiled := &Compiled{
		Name:      fn.Name.Name,
		Exec:      ad.exec,
		Signature: ad.signature,
		Params:    paramNames(fn),
	}
	if fn.Doc != nil {
		compiled.Doc = strings.TrimSpace(fn.Doc.Text())
	}
	return compiled, nil
}

// checkImports walks the snippet's import declarations and rejects
// anything outside the allowlist.
func (ip *Interpreter) checkImports(src string) error {
	file, err := parseSource(src)
	if err != nil {
		return fmt.Errorf("parse failed: %w", err)
	}
	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		if !ip.allowed[path] {
			return fmt.Errorf("%w: %s", ErrImportDenied, path)
		}
	}
	return nil
}

// wrapSource wraps a bare snippet in a main package clause so yaegi
// accepts it as a file.
func wrapSource(src string) string {
	if strings.Contains(src, "package ") {
		return src
	}
	return "package main\n\n" + src
}
