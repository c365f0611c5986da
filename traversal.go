package graphmodel

import (
	"fmt"
	"strings"
)

// TraversalStep is a single relationship-following hop: the relationship type to
// follow, the expected target label, the direction and the depth bounds. Depth
// bounds are validated at construction, never deferred to execution.
type TraversalStep struct {
	RelationshipType string
	TargetLabel      string
	Direction        Direction
	MinDepth         int
	MaxDepth         int
}

// NewTraversalStep builds a validated traversal step. MinDepth must be
// non-negative and MaxDepth at least MinDepth; anything else is a ValidationError.
func NewTraversalStep(relationshipType, targetLabel string, direction Direction, minDepth, maxDepth int) (TraversalStep, error) {
	if relationshipType == "" {
		return TraversalStep{}, &ValidationError{Reason: "relationship type must not be empty"}
	}
	if minDepth < 0 {
		return TraversalStep{}, &ValidationError{Reason: "minimum depth must be non-negative"}
	}
	if maxDepth < minDepth {
		return TraversalStep{}, &ValidationError{Reason: "maximum depth must be greater than or equal to minimum depth"}
	}
	return TraversalStep{
		RelationshipType: relationshipType,
		TargetLabel:      targetLabel,
		Direction:        direction,
		MinDepth:         minDepth,
		MaxDepth:         maxDepth,
	}, nil
}

// pattern renders the step as a Cypher relationship segment followed by its target
// node pattern, e.g. "-[:WORKS_FOR*1..3]->(m1:Company)".
func (s TraversalStep) pattern(targetAlias string) string {
	var b strings.Builder
	depth := ""
	if s.MinDepth != 1 || s.MaxDepth != 1 {
		depth = fmt.Sprintf("*%d..%d", s.MinDepth, s.MaxDepth)
	}
	switch s.Direction {
	case Incoming:
		fmt.Fprintf(&b, "<-[:%s%s]-", s.RelationshipType, depth)
	case Both:
		fmt.Fprintf(&b, "-[:%s%s]-", s.RelationshipType, depth)
	default:
		fmt.Fprintf(&b, "-[:%s%s]->", s.RelationshipType, depth)
	}
	b.WriteString("(" + targetAlias)
	if s.TargetLabel != "" {
		b.WriteString(":" + s.TargetLabel)
	}
	b.WriteString(")")
	return b.String()
}

// TraversalPath is a complete path discovered during traversal: the sequence of
// nodes and the relationships connecting them. A path always has exactly one fewer
// relationship than nodes.
type TraversalPath struct {
	Nodes         []*GraphNode
	Relationships []*GraphEdge
}

// NewTraversalPath builds a validated traversal path.
func NewTraversalPath(nodes []*GraphNode, relationships []*GraphEdge) (TraversalPath, error) {
	if len(nodes) == 0 {
		return TraversalPath{}, &ValidationError{Reason: "path must contain at least one node"}
	}
	if len(relationships) != len(nodes)-1 {
		return TraversalPath{}, &ValidationError{Reason: "path must have exactly one fewer relationship than nodes"}
	}
	return TraversalPath{Nodes: nodes, Relationships: relationships}, nil
}

// Traversal is an ordered list of steps plus an optional overall depth limit and a
// flag controlling whether full paths or only terminal nodes are requested. All
// builder methods return a new value and never mutate the receiver, so a traversal
// can be reused as a template for several variants.
type Traversal struct {
	steps         []TraversalStep
	maxTotalDepth int // -1 when unset
	includePaths  bool
}

// NewTraversal returns an empty traversal with no depth limit.
func NewTraversal() Traversal {
	return Traversal{maxTotalDepth: -1}
}

// AddStep appends a step, returning a new traversal. The step should come from
// NewTraversalStep so its bounds are already validated.
func (t Traversal) AddStep(step TraversalStep) Traversal {
	steps := make([]TraversalStep, len(t.steps), len(t.steps)+1)
	copy(steps, t.steps)
	return Traversal{
		steps:         append(steps, step),
		maxTotalDepth: t.maxTotalDepth,
		includePaths:  t.includePaths,
	}
}

// WithDepthLimit caps the total depth across all steps. Negative limits fail with
// a ValidationError.
func (t Traversal) WithDepthLimit(maxTotalDepth int) (Traversal, error) {
	if maxTotalDepth < 0 {
		return Traversal{}, &ValidationError{Reason: "maximum total depth must be non-negative"}
	}
	out := t
	out.steps = append([]TraversalStep(nil), t.steps...)
	out.maxTotalDepth = maxTotalDepth
	return out, nil
}

// IncludePaths requests full path information instead of terminal nodes only.
func (t Traversal) IncludePaths() Traversal {
	out := t
	out.steps = append([]TraversalStep(nil), t.steps...)
	out.includePaths = true
	return out
}

// Steps returns a copy of the configured steps.
func (t Traversal) Steps() []TraversalStep {
	return append([]TraversalStep(nil), t.steps...)
}

// compile renders the traversal into a single parameterized MATCH against start
// nodes identified by their primary key property. The final alias names the
// terminal nodes; when paths were requested the whole pattern is bound to "p".
func (t Traversal) compile(startLabel, startIDProp string) (string, string, error) {
	if len(t.steps) == 0 {
		return "", "", &ValidationError{Reason: "traversal requires at least one step"}
	}
	if t.maxTotalDepth >= 0 {
		total := 0
		for _, s := range t.steps {
			total += s.MaxDepth
		}
		if total > t.maxTotalDepth {
			return "", "", &ValidationError{
				Reason: fmt.Sprintf("steps reach depth %d, exceeding the limit of %d", total, t.maxTotalDepth)}
		}
	}

	var b strings.Builder
	b.WriteString("MATCH ")
	if t.includePaths {
		b.WriteString("p = ")
	}
	fmt.Fprintf(&b, "(start:%s)", startLabel)
	alias := ""
	for i, s := range t.steps {
		alias = fmt.Sprintf("m%d", i+1)
		b.WriteString(s.pattern(alias))
	}
	fmt.Fprintf(&b, " WHERE start.%s IN $startIds", startIDProp)
	if t.includePaths {
		b.WriteString(" RETURN p")
	} else {
		fmt.Fprintf(&b, " RETURN DISTINCT %s", alias)
	}
	return b.String(), alias, nil
}
