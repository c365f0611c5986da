package graphmodel

import (
	"fmt"
	"strings"
)

// The translator walks a plan's operation sequence in the exact order operations
// were appended and emits one request fragment per operation: filter fragments
// accumulate as conjunctive conditions in call order, sort keys become one
// multi-key ORDER BY in call order, skip/take become pagination clauses, and
// traverse steps become relationship-pattern segments. Compilation is pure; every
// referenced value is a bound parameter.

type returnKind int

const (
	returnEntities returnKind = iota
	returnProjection
	returnCount
)

type compiledQuery struct {
	text   string
	params map[string]any
	// alias is the variable the final entity set is bound to.
	alias string
}

type sortKey struct {
	rendered string
	desc     bool
}

func compilePlan(schema *Schema, ops []planOp, kind returnKind) (*compiledQuery, error) {
	sink := newParamSink()

	var pattern strings.Builder
	alias := "n"
	aliasCount := 0

	if schema.IsRelationship {
		alias = "r"
		switch schema.Direction {
		case Incoming:
			fmt.Fprintf(&pattern, "()<-[%s:%s]-()", alias, schema.Label)
		case Both:
			fmt.Fprintf(&pattern, "()-[%s:%s]-()", alias, schema.Label)
		default:
			fmt.Fprintf(&pattern, "()-[%s:%s]->()", alias, schema.Label)
		}
	} else {
		fmt.Fprintf(&pattern, "(%s:%s)", alias, schema.Label)
	}

	var conditions []string
	var sortKeys []sortKey
	var projection []string
	skip := -1
	take := -1
	traversed := false

	for _, op := range ops {
		switch op := op.(type) {
		case whereOp:
			conditions = append(conditions, op.pred.render(sink, alias))

		case orderOp:
			if op.primary {
				sortKeys = sortKeys[:0]
			}
			sortKeys = append(sortKeys, sortKey{rendered: alias + "." + op.key, desc: op.desc})

		case skipOp:
			skip = op.n

		case takeOp:
			take = op.n

		case selectOp:
			projection = projection[:0]
			for _, prop := range op.props {
				projection = append(projection, fmt.Sprintf("%s.%s AS %s", alias, prop, prop))
			}

		case traverseOp:
			if schema.IsRelationship {
				return nil, &ValidationError{Reason: "relationship plans cannot traverse"}
			}
			// A DISTINCT return can only be ordered by projected variables, so
			// keys recorded against a pre-traverse alias cannot be rendered.
			if len(sortKeys) > 0 {
				return nil, &ValidationError{Reason: "ordering must come after the last traverse step"}
			}
			aliasCount++
			alias = fmt.Sprintf("m%d", aliasCount)
			step := TraversalStep{
				RelationshipType: op.relationshipType,
				TargetLabel:      op.targetLabel,
				Direction:        op.direction,
				MinDepth:         op.minDepth,
				MaxDepth:         op.maxDepth,
			}
			pattern.WriteString(step.pattern(alias))
			traversed = true

		default:
			return nil, fmt.Errorf("unknown plan operation %T", op)
		}
	}

	var b strings.Builder
	b.WriteString("MATCH ")
	b.WriteString(pattern.String())

	if len(conditions) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conditions, " AND "))
	}

	switch kind {
	case returnCount:
		fmt.Fprintf(&b, " RETURN count(%s)", alias)
		return &compiledQuery{text: b.String(), params: sink.params, alias: alias}, nil

	case returnProjection:
		if len(projection) == 0 {
			return nil, &ValidationError{Reason: "projection plan has no select operation"}
		}
		b.WriteString(" RETURN ")
		b.WriteString(strings.Join(projection, ", "))

	default:
		b.WriteString(" RETURN ")
		if traversed {
			b.WriteString("DISTINCT ")
		}
		b.WriteString(alias)
	}

	if len(sortKeys) > 0 {
		b.WriteString(" ORDER BY ")
		for i, k := range sortKeys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k.rendered)
			if k.desc {
				b.WriteString(" DESC")
			}
		}
	}
	if skip >= 0 {
		b.WriteString(" SKIP " + sink.add(skip))
	}
	if take >= 0 {
		b.WriteString(" LIMIT " + sink.add(take))
	}

	return &compiledQuery{text: b.String(), params: sink.params, alias: alias}, nil
}
