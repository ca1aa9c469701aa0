// Package protocol implements the recursive capability cultivation engine for recap.
// This file implements the structural pattern analyzer: it parses capability
// source into an AST and extracts calls, imports, complexity and recursion,
// then aggregates shared symbols across the whole registry.
package protocol

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// PatternAnalyzer reads capability source through the registry. It holds
// no state of its own.
type PatternAnalyzer struct {
	registry *Registry
}

// NewPatternAnalyzer creates an analyzer over the given registry.
func NewPatternAnalyzer(registry *Registry) *PatternAnalyzer {
	return &PatternAnalyzer{registry: registry}
}

// Structure is the structural summary of one capability's source.
type Structure struct {
	Calls        []string `json:"calls"`
	Imports      []string `json:"imports"`
	Complexity   int      `json:"complexity"`
	HasRecursion bool     `json:"has_recursion"`
}

// ExtractStructure parses the capability's source text and extracts the
// invoked symbol set (identifier calls and selector calls), imported
// packages, a node-count complexity proxy, and whether the source calls
// a symbol matching the capability's own name (direct self-recursion
// only). Capabilities without source return ErrNoSource; callers treat
// any error as "excluded from analysis", never as fatal.
func (pa *PatternAnalyzer) ExtractStructure(c *Capability) (*Structure, error) {
	if c == nil || strings.TrimSpace(c.Source) == "" {
		return nil, ErrNoSource
	}
	file, err := parseSource(c.Source)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", c.Name, err)
	}

	st := &Structure{}
	seen := make(map[string]bool)
	ast.Inspect(file, func(n ast.Node) bool {
		if n == nil {
			return false
		}
		st.Complexity++

		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		var symbol string
		switch fn := call.Fun.(type) {
		case *ast.Ident:
			symbol = fn.Name
		case *ast.SelectorExpr:
			symbol = fn.Sel.Name
		}
		if symbol == "" {
			return true
		}
		if !seen[symbol] {
			seen[symbol] = true
			st.Calls = append(st.Calls, symbol)
		}
		if symbol == c.Name {
			st.HasRecursion = true
		}
		return true
	})

	for _, imp := range file.Imports {
		st.Imports = append(st.Imports, strings.Trim(imp.Path.Value, `"`))
	}
	return st, nil
}

// FindCommonPatterns inverts per-capability invoked-symbol sets into
// symbol -> invoking capability names, keeping only symbols invoked by
// two or more capabilities. Sourceless or unparseable capabilities are
// skipped. Capability lists follow registration order.
func (pa *PatternAnalyzer) FindCommonPatterns() map[string][]string {
	usage := make(map[string][]string)
	for _, c := range pa.registry.All() {
		st, err := pa.ExtractStructure(c)
		if err != nil {
			continue
		}
		for _, symbol := range st.Calls {
			usage[symbol] = append(usage[symbol], c.Name)
		}
	}

	patterns := make(map[string][]string)
	for symbol, users := range usage {
		if len(users) >= 2 {
			patterns[symbol] = users
		}
	}
	return patterns
}

// =============================================================================
// SOURCE HELPERS
// =============================================================================

// parseSource parses a capability snippet, wrapping it in a synthetic
// package clause when the snippet is bare function declarations.
func parseSource(src string) (*ast.File, error) {
	code := src
	if !strings.Contains(code, "package ") {
		code = "package main\n\n" + code
	}
	fset := token.NewFileSet()
	return parser.ParseFile(fset, "capability.go", code, parser.ParseComments)
}

// firstFuncDecl returns the first plain function declaration in the
// snippet, skipping methods and main/init.
func firstFuncDecl(src string) (*ast.FuncDecl, error) {
	file, err := parseSource(src)
	if err != nil {
		return nil, err
	}
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil {
			continue
		}
		if fn.Name.Name == "main" || fn.Name.Name == "init" {
			continue
		}
		return fn, nil
	}
	return nil, fmt.Errorf("%w: source declares no function", ErrNotAFunction)
}

// docOf extracts the doc comment of the snippet's function, if any.
func docOf(src string) string {
	fn, err := firstFuncDecl(src)
	if err != nil || fn.Doc == nil {
		return ""
	}
	return strings.TrimSpace(fn.Doc.Text())
}

// paramNames lists the parameter names of a function declaration,
// falling back to the type when a parameter is unnamed.
func paramNames(fn *ast.FuncDecl) []string {
	if fn.Type.Params == nil {
		return nil
	}
	var names []string
	for _, field := range fn.Type.Params.List {
		if len(field.Names) == 0 {
			names = append(names, exprString(field.Type))
			continue
		}
		for _, ident := range field.Names {
			names = append(names, ident.Name)
		}
	}
	return names
}

// exprString renders simple type expressions for parameter listings.
func exprString(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.SelectorExpr:
		return exprString(e.X) + "." + e.Sel.Name
	case *ast.StarExpr:
		return "*" + exprString(e.X)
	case *ast.ArrayType:
		return "[]" + exprString(e.Elt)
	case *ast.Ellipsis:
		return "..." + exprString(e.Elt)
	case *ast.MapType:
		return "map[" + exprString(e.Key) + "]" + exprString(e.Value)
	default:
		return fmt.Sprintf("%T", expr)
	}
}
