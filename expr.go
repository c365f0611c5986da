package graphmodel

import (
	"fmt"
	"strings"
)

// Predicates, ordering keys and projections cannot be expressed as opaque closures
// the way a dynamic runtime would: the translator has to see their structure to
// compile them. This file is the explicit expression form: a small combinator API
// building a tagged tree the translator pattern-matches over deterministically.
// Every literal becomes a bound parameter, never interpolated text.

// Expr is a boolean expression usable in Where clauses.
type Expr interface {
	render(sink *paramSink, alias string) string
}

// ValueExpr is a scalar-valued expression: a property access, a literal or an
// arithmetic combination of the two.
type ValueExpr interface {
	renderValue(sink *paramSink, alias string) string
}

// paramSink collects bound parameter values while an expression tree is rendered.
type paramSink struct {
	params map[string]any
	n      int
}

func newParamSink() *paramSink {
	return &paramSink{params: make(map[string]any)}
}

func (s *paramSink) add(v any) string {
	name := fmt.Sprintf("p%d", s.n)
	s.n++
	s.params[name] = v
	return "$" + name
}

// PropExpr is a reference to a stored property of the current entity, created
// with Prop. Comparison methods on it produce predicates; arithmetic methods
// produce derived value expressions.
type PropExpr struct {
	name string
}

// Prop references a property by its storage label.
func Prop(name string) PropExpr {
	return PropExpr{name: name}
}

func (p PropExpr) renderValue(sink *paramSink, alias string) string {
	return alias + "." + p.name
}

// Lit wraps a literal value for use where a ValueExpr is expected, for example on
// the left side of arithmetic.
func Lit(v any) ValueExpr {
	return litExpr{v: v}
}

type litExpr struct {
	v any
}

func (l litExpr) renderValue(sink *paramSink, alias string) string {
	return sink.add(l.v)
}

// asValue lifts plain Go values into literal expressions so comparison methods
// accept both literals and other property references.
func asValue(v any) ValueExpr {
	if ve, ok := v.(ValueExpr); ok {
		return ve
	}
	return litExpr{v: v}
}

type comparison struct {
	left  ValueExpr
	op    string
	right ValueExpr
}

func (c comparison) render(sink *paramSink, alias string) string {
	return c.left.renderValue(sink, alias) + " " + c.op + " " + c.right.renderValue(sink, alias)
}

// Eq compares the property for equality with a literal or another property.
func (p PropExpr) Eq(v any) Expr { return comparison{p, "=", asValue(v)} }

// Ne compares the property for inequality.
func (p PropExpr) Ne(v any) Expr { return comparison{p, "<>", asValue(v)} }

// Gt tests for strictly greater.
func (p PropExpr) Gt(v any) Expr { return comparison{p, ">", asValue(v)} }

// Gte tests for greater or equal.
func (p PropExpr) Gte(v any) Expr { return comparison{p, ">=", asValue(v)} }

// Lt tests for strictly less.
func (p PropExpr) Lt(v any) Expr { return comparison{p, "<", asValue(v)} }

// Lte tests for less or equal.
func (p PropExpr) Lte(v any) Expr { return comparison{p, "<=", asValue(v)} }

// In tests membership in a list of values, bound as a single list parameter.
func (p PropExpr) In(values ...any) Expr {
	return comparison{p, "IN", litExpr{v: values}}
}

// Contains tests substring containment on string properties.
func (p PropExpr) Contains(v any) Expr { return comparison{p, "CONTAINS", asValue(v)} }

// StartsWith tests a string prefix.
func (p PropExpr) StartsWith(v any) Expr { return comparison{p, "STARTS WITH", asValue(v)} }

// EndsWith tests a string suffix.
func (p PropExpr) EndsWith(v any) Expr { return comparison{p, "ENDS WITH", asValue(v)} }

type nullCheck struct {
	prop    PropExpr
	negated bool
}

func (n nullCheck) render(sink *paramSink, alias string) string {
	if n.negated {
		return n.prop.renderValue(sink, alias) + " IS NOT NULL"
	}
	return n.prop.renderValue(sink, alias) + " IS NULL"
}

// IsNull tests for an absent property.
func (p PropExpr) IsNull() Expr { return nullCheck{prop: p} }

// IsNotNull tests for a present property.
func (p PropExpr) IsNotNull() Expr { return nullCheck{prop: p, negated: true} }

// ArithExpr is an arithmetic combination of value expressions. It supports the
// same comparison methods as PropExpr.
type ArithExpr struct {
	left  ValueExpr
	op    string
	right ValueExpr
}

func (a ArithExpr) renderValue(sink *paramSink, alias string) string {
	return "(" + a.left.renderValue(sink, alias) + " " + a.op + " " + a.right.renderValue(sink, alias) + ")"
}

// Add builds p + v.
func (p PropExpr) Add(v any) ArithExpr { return ArithExpr{p, "+", asValue(v)} }

// Sub builds p - v.
func (p PropExpr) Sub(v any) ArithExpr { return ArithExpr{p, "-", asValue(v)} }

// Mul builds p * v.
func (p PropExpr) Mul(v any) ArithExpr { return ArithExpr{p, "*", asValue(v)} }

// Div builds p / v.
func (p PropExpr) Div(v any) ArithExpr { return ArithExpr{p, "/", asValue(v)} }

func (a ArithExpr) Eq(v any) Expr  { return comparison{a, "=", asValue(v)} }
func (a ArithExpr) Ne(v any) Expr  { return comparison{a, "<>", asValue(v)} }
func (a ArithExpr) Gt(v any) Expr  { return comparison{a, ">", asValue(v)} }
func (a ArithExpr) Gte(v any) Expr { return comparison{a, ">=", asValue(v)} }
func (a ArithExpr) Lt(v any) Expr  { return comparison{a, "<", asValue(v)} }
func (a ArithExpr) Lte(v any) Expr { return comparison{a, "<=", asValue(v)} }

type boolCombinator struct {
	op    string
	exprs []Expr
}

func (b boolCombinator) render(sink *paramSink, alias string) string {
	parts := make([]string, len(b.exprs))
	for i, e := range b.exprs {
		parts[i] = e.render(sink, alias)
	}
	return "(" + strings.Join(parts, " "+b.op+" ") + ")"
}

// boolLiteral is the neutral condition of an empty combinator: true for an
// empty conjunction, false for an empty disjunction.
type boolLiteral bool

func (b boolLiteral) render(*paramSink, string) string {
	if b {
		return "true"
	}
	return "false"
}

// And combines predicates conjunctively. With no operands it is the neutral
// true condition.
func And(exprs ...Expr) Expr {
	switch len(exprs) {
	case 0:
		return boolLiteral(true)
	case 1:
		return exprs[0]
	}
	return boolCombinator{op: "AND", exprs: exprs}
}

// Or combines predicates disjunctively. With no operands it is the neutral
// false condition.
func Or(exprs ...Expr) Expr {
	switch len(exprs) {
	case 0:
		return boolLiteral(false)
	case 1:
		return exprs[0]
	}
	return boolCombinator{op: "OR", exprs: exprs}
}

type notExpr struct {
	inner Expr
}

func (n notExpr) render(sink *paramSink, alias string) string {
	return "NOT (" + n.inner.render(sink, alias) + ")"
}

// Not negates a predicate.
func Not(e Expr) Expr {
	return notExpr{inner: e}
}
