// Package expr compiles and evaluates the boolean rule expressions a
// case definition carries: repetition, required and manual activation
// rules, sentry if-parts and planning-table applicability rules.
//
// Expressions are CUE. They are evaluated against a scope with two
// bindings: "file", the current case file contents as a struct, and
// "index", the plan item instance index. The literals "true" and
// "false" (and the empty expression, which takes the rule's default)
// short-circuit without touching the evaluator, so definitions that
// only use constant rules never pay for CUE at runtime.
package expr

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/parser"
)

// Rule is a compiled boolean expression. Rules are immutable and safe
// for concurrent use.
type Rule struct {
	src      string
	constant *bool
	ast      ast.Expr
}

// Scope carries the bindings an evaluation sees.
type Scope struct {
	// File is the case file contents as plain Go values (maps,
	// slices, strings, int64s, bools).
	File any

	// Index is the instance index of the plan item under evaluation.
	Index int
}

var (
	ruleTrue  = true
	ruleFalse = false
)

// Compile parses src into a Rule. An empty src yields a constant rule
// with the given default.
func Compile(src string, def bool) (*Rule, error) {
	switch src {
	case "":
		if def {
			return &Rule{src: src, constant: &ruleTrue}, nil
		}
		return &Rule{src: src, constant: &ruleFalse}, nil
	case "true":
		return &Rule{src: src, constant: &ruleTrue}, nil
	case "false":
		return &Rule{src: src, constant: &ruleFalse}, nil
	}
	parsed, err := parser.ParseExpr("rule", src)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return &Rule{src: src, ast: parsed}, nil
}

// MustCompile is Compile for expressions known to be valid.
func MustCompile(src string, def bool) *Rule {
	r, err := Compile(src, def)
	if err != nil {
		panic(err)
	}
	return r
}

// IsConstant reports whether the rule evaluates without a scope.
func (r *Rule) IsConstant() bool { return r.constant != nil }

// Constant returns the rule's fixed outcome. ok is false for rules
// that need a scope to evaluate.
func (r *Rule) Constant() (outcome, ok bool) {
	if r.constant == nil {
		return false, false
	}
	return *r.constant, true
}

// String returns the source expression.
func (r *Rule) String() string { return r.src }

// Evaluate resolves the rule against the scope. A rule that does not
// reduce to a concrete boolean is an evaluation error.
func (r *Rule) Evaluate(scope Scope) (bool, error) {
	if r.constant != nil {
		return *r.constant, nil
	}
	if scope.File == nil {
		scope.File = map[string]any{}
	}
	ctx := cuecontext.New()
	bindings := ctx.Encode(map[string]any{
		"file":  scope.File,
		"index": scope.Index,
	})
	if err := bindings.Err(); err != nil {
		return false, fmt.Errorf("evaluate %q: encode scope: %w", r.src, err)
	}
	v := ctx.BuildExpr(r.ast, cue.Scope(bindings), cue.InferBuiltins(true))
	if err := v.Err(); err != nil {
		return false, fmt.Errorf("evaluate %q: %w", r.src, err)
	}
	b, err := v.Bool()
	if err != nil {
		return false, fmt.Errorf("evaluate %q: not a boolean: %w", r.src, err)
	}
	return b, nil
}
