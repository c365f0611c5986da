package graphmodel

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// A query plan is an ordered, immutable sequence of operations over a starting
// entity type. Builder calls copy the operation list into a fresh backing array,
// so a previously obtained plan stays valid and independently executable after
// being used as the base for a derived plan. Nothing here performs I/O; only the
// terminal calls compile and execute.

type planOp interface {
	isPlanOp()
}

type whereOp struct {
	pred Expr
}

type orderOp struct {
	key     string
	desc    bool
	primary bool
}

type skipOp struct {
	n int
}

type takeOp struct {
	n int
}

type selectOp struct {
	props []string
}

type traverseOp struct {
	relationshipType string
	targetLabel      string
	direction        Direction
	minDepth         int
	maxDepth         int
}

func (whereOp) isPlanOp()    {}
func (orderOp) isPlanOp()    {}
func (skipOp) isPlanOp()     {}
func (takeOp) isPlanOp()     {}
func (selectOp) isPlanOp()   {}
func (traverseOp) isPlanOp() {}

// appendOp copies ops into a new array before appending, so derived plans never
// share a mutable tail with their base.
func appendOp(ops []planOp, op planOp) []planOp {
	out := make([]planOp, len(ops), len(ops)+1)
	copy(out, ops)
	return append(out, op)
}

// NodeQuery is a lazily-evaluated query over nodes of type T. Obtain one with
// Nodes and derive refined plans by chaining; execute with a terminal call.
type NodeQuery[T any] struct {
	g      *Graph
	schema *Schema
	ops    []planOp
}

// Nodes returns a queryable over nodes of type T, managed by the given Graph.
func Nodes[T any](g *Graph) (*NodeQuery[T], error) {
	schema, err := schemaOf[T]()
	if err != nil {
		return nil, err
	}
	if schema.IsRelationship {
		return nil, &ConfigurationError{Type: schema.Type.Name(), Reason: "is a relationship type, not a node"}
	}
	return &NodeQuery[T]{g: g, schema: schema}, nil
}

// Where filters the current node set. Multiple calls accumulate conjunctively in
// call order.
func (q *NodeQuery[T]) Where(pred Expr) *NodeQuery[T] {
	return &NodeQuery[T]{g: q.g, schema: q.schema, ops: appendOp(q.ops, whereOp{pred: pred})}
}

// OrderBy establishes the primary ascending sort key, discarding any ordering set
// earlier in the chain. Use ThenBy on the result for secondary keys.
func (q *NodeQuery[T]) OrderBy(prop string) *OrderedNodeQuery[T] {
	return &OrderedNodeQuery[T]{NodeQuery[T]{g: q.g, schema: q.schema,
		ops: appendOp(q.ops, orderOp{key: prop, primary: true})}}
}

// OrderByDescending establishes the primary descending sort key.
func (q *NodeQuery[T]) OrderByDescending(prop string) *OrderedNodeQuery[T] {
	return &OrderedNodeQuery[T]{NodeQuery[T]{g: q.g, schema: q.schema,
		ops: appendOp(q.ops, orderOp{key: prop, desc: true, primary: true})}}
}

// Skip discards the first n results.
func (q *NodeQuery[T]) Skip(n int) *NodeQuery[T] {
	return &NodeQuery[T]{g: q.g, schema: q.schema, ops: appendOp(q.ops, skipOp{n: n})}
}

// Take limits the result to the first n entries.
func (q *NodeQuery[T]) Take(n int) *NodeQuery[T] {
	return &NodeQuery[T]{g: q.g, schema: q.schema, ops: appendOp(q.ops, takeOp{n: n})}
}

// Select projects the listed storage labels instead of whole entities. The result
// is map-shaped; execute it with its own ToList.
func (q *NodeQuery[T]) Select(props ...string) *ProjectedQuery {
	return &ProjectedQuery{g: q.g, schema: q.schema, ops: appendOp(q.ops, selectOp{props: props})}
}

// OrderedNodeQuery is a NodeQuery with at least one sort key, allowing secondary
// keys to be appended.
type OrderedNodeQuery[T any] struct {
	NodeQuery[T]
}

// ThenBy appends a secondary ascending sort key.
func (q *OrderedNodeQuery[T]) ThenBy(prop string) *OrderedNodeQuery[T] {
	return &OrderedNodeQuery[T]{NodeQuery[T]{g: q.g, schema: q.schema,
		ops: appendOp(q.ops, orderOp{key: prop})}}
}

// ThenByDescending appends a secondary descending sort key.
func (q *OrderedNodeQuery[T]) ThenByDescending(prop string) *OrderedNodeQuery[T] {
	return &OrderedNodeQuery[T]{NodeQuery[T]{g: q.g, schema: q.schema,
		ops: appendOp(q.ops, orderOp{key: prop, desc: true})}}
}

// Traverse appends a relationship-following step, producing a plan rooted at the
// target node type S. The step defaults to one outgoing hop; adjust it with
// WithDepth and InDirection on the returned plan. Pass a synthetic
// __PROPERTY__ name (see PropertyNameToRelationshipTypeName) to follow a
// related-node property.
func Traverse[S, T any](q *NodeQuery[T], relationshipType string) (*NodeQuery[S], error) {
	if relationshipType == "" {
		return nil, &ValidationError{Reason: "relationship type must not be empty"}
	}
	target, err := schemaOf[S]()
	if err != nil {
		return nil, err
	}
	if target.IsRelationship {
		return nil, &ConfigurationError{Type: target.Type.Name(), Reason: "traversal target must be a node type"}
	}
	op := traverseOp{
		relationshipType: relationshipType,
		targetLabel:      target.Label,
		direction:        Outgoing,
		minDepth:         1,
		maxDepth:         1,
	}
	return &NodeQuery[S]{g: q.g, schema: target, ops: appendOp(q.ops, op)}, nil
}

// WithDepth sets the depth bounds on the most recent traverse step. Fails with a
// ValidationError when the bounds are invalid or no traverse step exists.
func (q *NodeQuery[T]) WithDepth(minDepth, maxDepth int) (*NodeQuery[T], error) {
	if minDepth < 0 {
		return nil, &ValidationError{Reason: "minimum depth must be non-negative"}
	}
	if maxDepth < minDepth {
		return nil, &ValidationError{Reason: "maximum depth must be greater than or equal to minimum depth"}
	}
	return q.amendLastTraverse(func(op *traverseOp) {
		op.minDepth = minDepth
		op.maxDepth = maxDepth
	})
}

// InDirection sets the direction on the most recent traverse step.
func (q *NodeQuery[T]) InDirection(d Direction) (*NodeQuery[T], error) {
	return q.amendLastTraverse(func(op *traverseOp) {
		op.direction = d
	})
}

func (q *NodeQuery[T]) amendLastTraverse(amend func(*traverseOp)) (*NodeQuery[T], error) {
	for i := len(q.ops) - 1; i >= 0; i-- {
		if op, ok := q.ops[i].(traverseOp); ok {
			ops := make([]planOp, len(q.ops))
			copy(ops, q.ops)
			amend(&op)
			ops[i] = op
			return &NodeQuery[T]{g: q.g, schema: q.schema, ops: ops}, nil
		}
	}
	return nil, &ValidationError{Reason: "plan has no traverse step to amend"}
}

// ToList compiles and executes the plan, returning all matching entities. Related
// node fields are loaded for every result. This is the first point in the chain
// that performs I/O.
func (q *NodeQuery[T]) ToList(ctx context.Context, tx Transaction) ([]*T, error) {
	compiled, err := compilePlan(q.schema, q.ops, returnEntities)
	if err != nil {
		return nil, err
	}
	records, err := runRecords(ctx, q.g.runner, tx, compiled.text, compiled.params)
	if err != nil {
		return nil, &ProviderError{EntityType: q.schema.Type.Name(), Query: compiled.text, Err: err}
	}

	out := make([]*T, 0, len(records))
	for _, record := range records {
		node, err := nodeValue(record, compiled.alias)
		if err != nil {
			return nil, err
		}
		var complexData map[string]any
		if q.schema.HasComplex() {
			id, _ := node.Props[q.schema.PKProp].(string)
			complexData, err = q.g.loadComplexProperties(ctx, q.schema, id, DefaultDepthAllowed, tx)
			if err != nil {
				return nil, err
			}
		}
		entity, err := DeserializeNode[T](node.Props, complexData)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

// First returns the first matching entity, or ErrNotFound when nothing matches.
func (q *NodeQuery[T]) First(ctx context.Context, tx Transaction) (*T, error) {
	results, err := q.Take(1).ToList(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}
	return results[0], nil
}

// FirstOrDefault returns the first matching entity, or nil without an error when
// nothing matches.
func (q *NodeQuery[T]) FirstOrDefault(ctx context.Context, tx Transaction) (*T, error) {
	results, err := q.Take(1).ToList(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// Single returns the only matching entity. It fails with ErrNotFound when nothing
// matches and with an error when more than one entity matches.
func (q *NodeQuery[T]) Single(ctx context.Context, tx Transaction) (*T, error) {
	results, err := q.Take(2).ToList(ctx, tx)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return results[0], nil
	}
	return nil, fmt.Errorf("expected a single %s but found more than one", q.schema.Type.Name())
}

// SingleOrDefault returns the only matching entity, nil when nothing matches, and
// an error when more than one entity matches.
func (q *NodeQuery[T]) SingleOrDefault(ctx context.Context, tx Transaction) (*T, error) {
	results, err := q.Take(2).ToList(ctx, tx)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	}
	return nil, fmt.Errorf("expected a single %s but found more than one", q.schema.Type.Name())
}

// Count returns the number of matching entities without materializing them.
func (q *NodeQuery[T]) Count(ctx context.Context, tx Transaction) (int64, error) {
	return countPlan(ctx, q.g, q.schema, q.ops, tx)
}

// Any reports whether at least one entity matches. Matching rows are not
// materialized into entities.
func (q *NodeQuery[T]) Any(ctx context.Context, tx Transaction) (bool, error) {
	limited := q.Take(1)
	compiled, err := compilePlan(limited.schema, limited.ops, returnEntities)
	if err != nil {
		return false, err
	}
	records, err := runRecords(ctx, q.g.runner, tx, compiled.text, compiled.params)
	if err != nil {
		return false, &ProviderError{EntityType: q.schema.Type.Name(), Query: compiled.text, Err: err}
	}
	return len(records) > 0, nil
}

// ProjectedQuery is a plan ending in a projection; results are property maps keyed
// by storage label rather than typed entities.
type ProjectedQuery struct {
	g      *Graph
	schema *Schema
	ops    []planOp
}

// ToList compiles and executes the projection.
func (q *ProjectedQuery) ToList(ctx context.Context, tx Transaction) ([]map[string]any, error) {
	compiled, err := compilePlan(q.schema, q.ops, returnProjection)
	if err != nil {
		return nil, err
	}
	records, err := runRecords(ctx, q.g.runner, tx, compiled.text, compiled.params)
	if err != nil {
		return nil, &ProviderError{EntityType: q.schema.Type.Name(), Query: compiled.text, Err: err}
	}
	out := make([]map[string]any, 0, len(records))
	for _, record := range records {
		row := make(map[string]any, len(record.Keys))
		for i, key := range record.Keys {
			row[key] = record.Values[i]
		}
		out = append(out, row)
	}
	return out, nil
}

// RelationshipQuery is a lazily-evaluated query over relationships of type T.
type RelationshipQuery[T any] struct {
	g      *Graph
	schema *Schema
	ops    []planOp
}

// Relationships returns a queryable over relationships of type T.
func Relationships[T any](g *Graph) (*RelationshipQuery[T], error) {
	schema, err := schemaOf[T]()
	if err != nil {
		return nil, err
	}
	if !schema.IsRelationship {
		return nil, &ConfigurationError{Type: schema.Type.Name(), Reason: "is a node type, not a relationship"}
	}
	return &RelationshipQuery[T]{g: g, schema: schema}, nil
}

// Where filters the relationship set; multiple calls accumulate conjunctively.
func (q *RelationshipQuery[T]) Where(pred Expr) *RelationshipQuery[T] {
	return &RelationshipQuery[T]{g: q.g, schema: q.schema, ops: appendOp(q.ops, whereOp{pred: pred})}
}

// OrderBy establishes the primary ascending sort key.
func (q *RelationshipQuery[T]) OrderBy(prop string) *OrderedRelationshipQuery[T] {
	return &OrderedRelationshipQuery[T]{RelationshipQuery[T]{g: q.g, schema: q.schema,
		ops: appendOp(q.ops, orderOp{key: prop, primary: true})}}
}

// OrderByDescending establishes the primary descending sort key.
func (q *RelationshipQuery[T]) OrderByDescending(prop string) *OrderedRelationshipQuery[T] {
	return &OrderedRelationshipQuery[T]{RelationshipQuery[T]{g: q.g, schema: q.schema,
		ops: appendOp(q.ops, orderOp{key: prop, desc: true, primary: true})}}
}

// Skip discards the first n results.
func (q *RelationshipQuery[T]) Skip(n int) *RelationshipQuery[T] {
	return &RelationshipQuery[T]{g: q.g, schema: q.schema, ops: appendOp(q.ops, skipOp{n: n})}
}

// Take limits the result to the first n entries.
func (q *RelationshipQuery[T]) Take(n int) *RelationshipQuery[T] {
	return &RelationshipQuery[T]{g: q.g, schema: q.schema, ops: appendOp(q.ops, takeOp{n: n})}
}

// OrderedRelationshipQuery is a RelationshipQuery with at least one sort key.
type OrderedRelationshipQuery[T any] struct {
	RelationshipQuery[T]
}

// ThenBy appends a secondary ascending sort key.
func (q *OrderedRelationshipQuery[T]) ThenBy(prop string) *OrderedRelationshipQuery[T] {
	return &OrderedRelationshipQuery[T]{RelationshipQuery[T]{g: q.g, schema: q.schema,
		ops: appendOp(q.ops, orderOp{key: prop})}}
}

// ThenByDescending appends a secondary descending sort key.
func (q *OrderedRelationshipQuery[T]) ThenByDescending(prop string) *OrderedRelationshipQuery[T] {
	return &OrderedRelationshipQuery[T]{RelationshipQuery[T]{g: q.g, schema: q.schema,
		ops: appendOp(q.ops, orderOp{key: prop, desc: true})}}
}

// ToList compiles and executes the plan, returning all matching relationships.
// Endpoint identifiers are filled with the database element identifiers of the
// connected nodes.
func (q *RelationshipQuery[T]) ToList(ctx context.Context, tx Transaction) ([]*T, error) {
	compiled, err := compilePlan(q.schema, q.ops, returnEntities)
	if err != nil {
		return nil, err
	}
	records, err := runRecords(ctx, q.g.runner, tx, compiled.text, compiled.params)
	if err != nil {
		return nil, &ProviderError{EntityType: q.schema.Type.Name(), Query: compiled.text, Err: err}
	}

	out := make([]*T, 0, len(records))
	for _, record := range records {
		value, ok := record.Get(compiled.alias)
		if !ok {
			return nil, fmt.Errorf("could not find return value %q in query result", compiled.alias)
		}
		rel, ok := value.(neo4j.Relationship)
		if !ok {
			return nil, fmt.Errorf("return value %q is not a relationship", compiled.alias)
		}
		entity, err := DeserializeRelationship[T](rel.Props, rel.StartElementId, rel.EndElementId)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

// First returns the first matching relationship, or ErrNotFound.
func (q *RelationshipQuery[T]) First(ctx context.Context, tx Transaction) (*T, error) {
	results, err := q.Take(1).ToList(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}
	return results[0], nil
}

// FirstOrDefault returns the first matching relationship, or nil without an error.
func (q *RelationshipQuery[T]) FirstOrDefault(ctx context.Context, tx Transaction) (*T, error) {
	results, err := q.Take(1).ToList(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// Count returns the number of matching relationships.
func (q *RelationshipQuery[T]) Count(ctx context.Context, tx Transaction) (int64, error) {
	return countPlan(ctx, q.g, q.schema, q.ops, tx)
}

func countPlan(ctx context.Context, g *Graph, schema *Schema, ops []planOp, tx Transaction) (int64, error) {
	compiled, err := compilePlan(schema, ops, returnCount)
	if err != nil {
		return 0, err
	}
	records, err := runRecords(ctx, g.runner, tx, compiled.text, compiled.params)
	if err != nil {
		return 0, &ProviderError{EntityType: schema.Type.Name(), Query: compiled.text, Err: err}
	}
	if len(records) == 0 || len(records[0].Values) == 0 {
		return 0, nil
	}
	n, ok := records[0].Values[0].(int64)
	if !ok {
		return 0, fmt.Errorf("count query returned %T, expected int64", records[0].Values[0])
	}
	return n, nil
}

// nodeValue extracts the aliased node from a result record.
func nodeValue(record *neo4j.Record, alias string) (neo4j.Node, error) {
	value, ok := record.Get(alias)
	if !ok {
		return neo4j.Node{}, fmt.Errorf("could not find return value %q in query result", alias)
	}
	node, ok := value.(neo4j.Node)
	if !ok {
		return neo4j.Node{}, fmt.Errorf("return value %q is not a node", alias)
	}
	return node, nil
}
