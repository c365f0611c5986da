package graphmodel

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/saulfrancisco-ruizacevedo/gocypher"
)

// Graph is the central orchestrator for the mapping layer. It owns the query
// executor and provides entity CRUD, cross-entity relationship creation, generic
// graph extraction and traversal execution. It is stateless apart from the runner:
// transaction handles pass through as parameters and are never stored.
type Graph struct {
	runner DBRunner
}

// NewGraph creates a new Graph on top of the given runner.
func NewGraph(runner DBRunner) *Graph {
	return &Graph{runner: runner}
}

// Runner exposes the underlying executor, for callers that need to issue raw queries.
func (g *Graph) Runner() DBRunner {
	return g.runner
}

// CreateNode persists a typed node. The entity must be a non-nil pointer; an empty
// identifier is assigned a fresh UUID before the write. Related-node fields become
// separate sub-writes: one node plus one relationship of the resolved type per
// target. Atomicity across those sub-writes is only what the supplied transaction
// provides.
func (g *Graph) CreateNode(ctx context.Context, node any, tx Transaction) error {
	if err := ensureID(node); err != nil {
		return err
	}
	return g.writeNode(ctx, node, DefaultDepthAllowed, tx)
}

// UpdateNode re-persists a typed node under its existing identifier. Property
// values are overwritten; related-node fields are re-linked (the old property
// relationships of each rewritten field are removed first).
func (g *Graph) UpdateNode(ctx context.Context, node any, tx Transaction) error {
	schema, val, err := schemaAndValue(node)
	if err != nil {
		return err
	}
	if val.FieldByName(schema.PKField).String() == "" {
		return &ValidationError{Reason: "cannot update a node without an identifier"}
	}
	sn, err := SerializeNode(node)
	if err != nil {
		return err
	}
	for name := range sn.ComplexProperties {
		cp := sn.ComplexProperties[name]
		query := fmt.Sprintf("MATCH (a:%s {%s: $id})-[rel:%s]->() DELETE rel", schema.Label, schema.PKProp, cp.RelationshipType)
		if _, err := runRecords(ctx, g.runner, tx, query, map[string]any{"id": sn.ID}); err != nil {
			return &ProviderError{EntityType: schema.Type.Name(), Query: query, Err: err}
		}
	}
	return g.writeNode(ctx, node, DefaultDepthAllowed, tx)
}

// writeNode merges the node by its primary key, sets its flat properties, then
// recursively writes the related-node targets and their connecting relationships.
// depth guards against cyclic related-node declarations.
func (g *Graph) writeNode(ctx context.Context, node any, depth int, tx Transaction) error {
	if depth <= 0 {
		return &ValidationError{Reason: fmt.Sprintf("related-node nesting exceeds the allowed depth of %d", DefaultDepthAllowed)}
	}
	schema, val, err := schemaAndValue(node)
	if err != nil {
		return err
	}
	sn, err := SerializeNode(node)
	if err != nil {
		return err
	}

	mergeProps := map[string]interface{}{schema.PKProp: sn.ID}
	setProps := make(map[string]interface{})
	for prop, value := range sn.Properties {
		if prop != schema.PKProp {
			// The property is prefixed with 'n.' for the SET clause.
			setProps["n."+prop] = value
		}
	}

	qb := gocypher.NewQueryBuilder().
		Merge(gocypher.N("n", schema.Label).WithProperties(mergeProps))
	if len(setProps) > 0 {
		qb = qb.Set(setProps)
	}
	qb = qb.Return("n")

	query, params, err := qb.Build()
	if err != nil {
		return err
	}
	if _, err := runRecords(ctx, g.runner, tx, query, params); err != nil {
		return &ProviderError{EntityType: schema.Type.Name(), Query: query, Err: err}
	}

	for i := range schema.Fields {
		fd := &schema.Fields[i]
		if fd.Classification != RelatedNode && fd.Classification != CollectionOfComplex {
			continue
		}
		fv := val.Field(fd.Index)
		if isUnset(fv) {
			continue
		}
		if err := g.writeComplexProperty(ctx, schema, sn.ID, fd, fv, depth, tx); err != nil {
			return err
		}
	}
	return nil
}

// writeComplexProperty persists the target(s) of one related-node field and links
// each to the owner with the field's resolved relationship type. fv is the
// owner's own field value, so identifiers generated during the sub-writes land
// on the entity the caller passed in, not on a copy.
func (g *Graph) writeComplexProperty(ctx context.Context, owner *Schema, ownerID string, fd *FieldDescriptor, fv reflect.Value, depth int, tx Transaction) error {
	base := fv
	for base.Kind() == reflect.Ptr && !base.IsNil() {
		base = base.Elem()
	}
	if base.Kind() == reflect.Ptr {
		return nil
	}

	var targets []reflect.Value
	if isCollection(base.Type()) {
		for i := 0; i < base.Len(); i++ {
			targets = append(targets, base.Index(i))
		}
	} else {
		targets = append(targets, base)
	}

	for _, target := range targets {
		for target.Kind() == reflect.Ptr && !target.IsNil() {
			target = target.Elem()
		}
		if target.Kind() == reflect.Ptr {
			continue
		}
		ptr := target
		if target.CanAddr() {
			ptr = target.Addr()
		} else {
			ptr = reflect.New(target.Type())
			ptr.Elem().Set(target)
		}
		if err := ensureID(ptr.Interface()); err != nil {
			return err
		}
		if err := g.writeNode(ctx, ptr.Interface(), depth-1, tx); err != nil {
			return fmt.Errorf("writing related field %s.%s: %w", owner.Type.Name(), fd.Name, err)
		}

		targetSchema, targetVal, err := schemaAndValue(ptr.Interface())
		if err != nil {
			return err
		}
		targetID := targetVal.FieldByName(targetSchema.PKField).String()

		qb := gocypher.NewQueryBuilder().
			Match(gocypher.N("a", owner.Label).WithProperties(map[string]interface{}{owner.PKProp: ownerID})).
			Match(gocypher.N("b", targetSchema.Label).WithProperties(map[string]interface{}{targetSchema.PKProp: targetID})).
			Create(
				gocypher.N("a", ""), // Reference the 'a' alias without its label
				gocypher.R("rel", fd.RelType).To().WithProperties(map[string]interface{}{}),
				gocypher.N("b", ""),
			)
		query, params, err := qb.Build()
		if err != nil {
			return err
		}
		if _, err := runRecords(ctx, g.runner, tx, query, params); err != nil {
			return &ProviderError{EntityType: owner.Type.Name(), Query: query, Err: err}
		}
	}
	return nil
}

// GetNode retrieves a node of type T by its identifier. Related-node fields are
// fetched through their property relationships (up to DefaultDepthAllowed levels)
// and reconstructed into the returned entity. Returns ErrNotFound when no node
// with the identifier exists.
func GetNode[T any](ctx context.Context, g *Graph, id string, tx Transaction) (*T, error) {
	schema, err := schemaOf[T]()
	if err != nil {
		return nil, err
	}
	if schema.IsRelationship {
		return nil, &ConfigurationError{Type: schema.Type.Name(), Reason: "is a relationship type, not a node"}
	}

	query, params, err := gocypher.NewQueryBuilder().
		Match(gocypher.N("n", schema.Label).WithProperties(map[string]interface{}{schema.PKProp: id})).
		Return("n").
		Build()
	if err != nil {
		return nil, err
	}
	records, err := runRecords(ctx, g.runner, tx, query, params)
	if err != nil {
		return nil, &ProviderError{EntityType: schema.Type.Name(), Query: query, Err: err}
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	if len(records) > 1 {
		// A primary key lookup returning several rows indicates a data integrity issue.
		return nil, fmt.Errorf("expected 1 record but found %d", len(records))
	}
	node, err := nodeValue(records[0], "n")
	if err != nil {
		return nil, err
	}

	var complexData map[string]any
	if schema.HasComplex() {
		complexData, err = g.loadComplexProperties(ctx, schema, id, DefaultDepthAllowed, tx)
		if err != nil {
			return nil, err
		}
	}
	return DeserializeNode[T](node.Props, complexData)
}

// loadComplexProperties fetches the related-node targets of every complex field of
// the given entity, keyed by struct field name, in the shape the codec's
// deserializer expects. Nested related-node fields are followed until depth runs out.
func (g *Graph) loadComplexProperties(ctx context.Context, schema *Schema, id string, depth int, tx Transaction) (map[string]any, error) {
	data := make(map[string]any)
	for i := range schema.Fields {
		fd := &schema.Fields[i]
		if fd.Classification != RelatedNode && fd.Classification != CollectionOfComplex {
			continue
		}

		query := fmt.Sprintf("MATCH (n:%s {%s: $id})-[:%s]->(m) RETURN m", schema.Label, schema.PKProp, fd.RelType)
		records, err := runRecords(ctx, g.runner, tx, query, map[string]any{"id": id})
		if err != nil {
			return nil, &ProviderError{EntityType: schema.Type.Name(), Query: query, Err: err}
		}
		if len(records) == 0 {
			continue
		}

		targetSchema, err := SchemaFor(fd.Target)
		if err != nil {
			return nil, err
		}

		var values []any
		for _, record := range records {
			node, err := nodeValue(record, "m")
			if err != nil {
				return nil, err
			}
			var nested map[string]any
			if targetSchema.HasComplex() && depth > 1 {
				targetID, _ := node.Props[targetSchema.PKProp].(string)
				nested, err = g.loadComplexProperties(ctx, targetSchema, targetID, depth-1, tx)
				if err != nil {
					return nil, err
				}
			}
			tv := reflect.New(fd.Target)
			if err := deserializeInto(tv.Elem(), node.Props, nested); err != nil {
				return nil, err
			}
			values = append(values, tv.Elem().Interface())
		}

		if fd.Classification == RelatedNode {
			data[fd.Name] = values[0]
		} else {
			data[fd.Name] = values
		}
	}
	return data, nil
}

// DeleteNode removes a node of type T by its identifier, detaching any
// relationships connected to it.
func DeleteNode[T any](ctx context.Context, g *Graph, id string, tx Transaction) error {
	schema, err := schemaOf[T]()
	if err != nil {
		return err
	}
	query, params, err := gocypher.NewQueryBuilder().
		Match(gocypher.N("n", schema.Label).WithProperties(map[string]interface{}{schema.PKProp: id})).
		DetachDelete("n").
		Build()
	if err != nil {
		return err
	}
	if _, err := runRecords(ctx, g.runner, tx, query, params); err != nil {
		return &ProviderError{EntityType: schema.Type.Name(), Query: query, Err: err}
	}
	return nil
}

// CreateRelationship persists a typed relationship between two existing node
// entities. The relationship's endpoint identifier fields are filled from the
// entities' primary keys; an empty relationship identifier is assigned a fresh
// UUID. A relationship type declared Incoming is stored from 'to' towards 'from'.
func (g *Graph) CreateRelationship(ctx context.Context, rel any, from any, to any, tx Transaction) error {
	relSchema, relVal, err := schemaAndValue(rel)
	if err != nil {
		return err
	}
	if !relSchema.IsRelationship {
		return &ConfigurationError{Type: relSchema.Type.Name(), Reason: "is a node type, not a relationship"}
	}
	fromSchema, fromVal, err := schemaAndValue(from)
	if err != nil {
		return err
	}
	toSchema, toVal, err := schemaAndValue(to)
	if err != nil {
		return err
	}
	if err := ensureID(rel); err != nil {
		return err
	}

	fromID := fromVal.FieldByName(fromSchema.PKField).String()
	toID := toVal.FieldByName(toSchema.PKField).String()
	relVal.FieldByName(relSchema.StartField).SetString(fromID)
	relVal.FieldByName(relSchema.EndField).SetString(toID)

	sr, err := SerializeRelationship(rel)
	if err != nil {
		return err
	}
	relProps := map[string]interface{}{relSchema.PKProp: sr.ID}
	for prop, value := range sr.Properties {
		relProps[prop] = value
	}

	aLabel, aProp, aID := fromSchema.Label, fromSchema.PKProp, fromID
	bLabel, bProp, bID := toSchema.Label, toSchema.PKProp, toID
	if relSchema.Direction == Incoming {
		aLabel, aProp, aID, bLabel, bProp, bID = bLabel, bProp, bID, aLabel, aProp, aID
	}

	qb := gocypher.NewQueryBuilder().
		Match(gocypher.N("a", aLabel).WithProperties(map[string]interface{}{aProp: aID})).
		Match(gocypher.N("b", bLabel).WithProperties(map[string]interface{}{bProp: bID})).
		Create(
			gocypher.N("a", ""),
			gocypher.R("r", sr.Type).To().WithProperties(relProps),
			gocypher.N("b", ""),
		)
	query, params, err := qb.Build()
	if err != nil {
		return err
	}
	if _, err := runRecords(ctx, g.runner, tx, query, params); err != nil {
		return &ProviderError{EntityType: relSchema.Type.Name(), Query: query, Err: err}
	}
	return nil
}

// GetRelationship retrieves a relationship of type T by its identifier. The
// endpoint identifier fields carry the database element identifiers of the
// connected nodes. Returns ErrNotFound when no relationship matches.
func GetRelationship[T any](ctx context.Context, g *Graph, id string, tx Transaction) (*T, error) {
	schema, err := schemaOf[T]()
	if err != nil {
		return nil, err
	}
	if !schema.IsRelationship {
		return nil, &ConfigurationError{Type: schema.Type.Name(), Reason: "is a node type, not a relationship"}
	}
	query := fmt.Sprintf("MATCH ()-[r:%s {%s: $id}]->() RETURN r", schema.Label, schema.PKProp)
	records, err := runRecords(ctx, g.runner, tx, query, map[string]any{"id": id})
	if err != nil {
		return nil, &ProviderError{EntityType: schema.Type.Name(), Query: query, Err: err}
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	value, ok := records[0].Get("r")
	if !ok {
		return nil, fmt.Errorf("could not find return value 'r' in query result")
	}
	rel, ok := value.(neo4j.Relationship)
	if !ok {
		return nil, fmt.Errorf("return value 'r' is not a relationship")
	}
	return DeserializeRelationship[T](rel.Props, rel.StartElementId, rel.EndElementId)
}

// UpdateRelationship overwrites the properties of an existing relationship,
// matched by its identifier.
func (g *Graph) UpdateRelationship(ctx context.Context, rel any, tx Transaction) error {
	schema, _, err := schemaAndValue(rel)
	if err != nil {
		return err
	}
	if !schema.IsRelationship {
		return &ConfigurationError{Type: schema.Type.Name(), Reason: "is a node type, not a relationship"}
	}
	sr, err := SerializeRelationship(rel)
	if err != nil {
		return err
	}
	if sr.ID == "" {
		return &ValidationError{Reason: "cannot update a relationship without an identifier"}
	}

	params := map[string]any{"id": sr.ID}
	set := ""
	i := 0
	for prop, value := range sr.Properties {
		if prop == schema.PKProp {
			continue
		}
		name := fmt.Sprintf("v%d", i)
		i++
		if set != "" {
			set += ", "
		}
		set += fmt.Sprintf("r.%s = $%s", prop, name)
		params[name] = value
	}
	query := fmt.Sprintf("MATCH ()-[r:%s {%s: $id}]->() RETURN r", schema.Label, schema.PKProp)
	if set != "" {
		query = fmt.Sprintf("MATCH ()-[r:%s {%s: $id}]->() SET %s RETURN r", schema.Label, schema.PKProp, set)
	}
	if _, err := runRecords(ctx, g.runner, tx, query, params); err != nil {
		return &ProviderError{EntityType: schema.Type.Name(), Query: query, Err: err}
	}
	return nil
}

// DeleteRelationship removes a relationship of type T by its identifier.
func DeleteRelationship[T any](ctx context.Context, g *Graph, id string, tx Transaction) error {
	schema, err := schemaOf[T]()
	if err != nil {
		return err
	}
	if !schema.IsRelationship {
		return &ConfigurationError{Type: schema.Type.Name(), Reason: "is a node type, not a relationship"}
	}
	query := fmt.Sprintf("MATCH ()-[r:%s {%s: $id}]->() DELETE r", schema.Label, schema.PKProp)
	if _, err := runRecords(ctx, g.runner, tx, query, map[string]any{"id": id}); err != nil {
		return &ProviderError{EntityType: schema.Type.Name(), Query: query, Err: err}
	}
	return nil
}

// CreateRelation creates a directed relationship of an arbitrary type between two
// existing entities, without a declared relationship struct. Useful for ad-hoc
// links carrying a plain property map.
func (g *Graph) CreateRelation(ctx context.Context, fromEntity any, toEntity any, relType string, relProps map[string]interface{}, tx Transaction) error {
	fromSchema, fromVal, err := schemaAndValue(fromEntity)
	if err != nil {
		return err
	}
	toSchema, toVal, err := schemaAndValue(toEntity)
	if err != nil {
		return err
	}
	if relProps == nil {
		relProps = map[string]interface{}{}
	}

	qb := gocypher.NewQueryBuilder().
		Match(gocypher.N("a", fromSchema.Label).WithProperties(map[string]interface{}{
			fromSchema.PKProp: fromVal.FieldByName(fromSchema.PKField).Interface()})).
		Match(gocypher.N("b", toSchema.Label).WithProperties(map[string]interface{}{
			toSchema.PKProp: toVal.FieldByName(toSchema.PKField).Interface()})).
		Create(
			gocypher.N("a", ""), // Reference the 'a' alias without its label
			gocypher.R("r", relType).To().WithProperties(relProps),
			gocypher.N("b", ""), // Reference the 'b' alias without its label
		)

	query, params, err := qb.Build()
	if err != nil {
		return err
	}
	if _, err := runRecords(ctx, g.runner, tx, query, params); err != nil {
		return err
	}
	return nil
}

// FindGraph executes a graph query defined by a gocypher.QueryBuilder and maps the
// result into a generic graph structure composed of nodes and edges.
//
// This method is domain-agnostic; it does not need to know about declared entity
// structs. Its role is to translate the raw graph elements returned by a Cypher
// query into a clean, serializable format suitable for frontends or other services.
//
// The caller is responsible for constructing a valid query via the QueryBuilder,
// including a RETURN clause that specifies which nodes and relationships should be
// included in the final graph, for example `RETURN u, r, p`.
//
// Nodes and relationships are de-duplicated: even if a graph element is returned
// in multiple rows of the result set, it appears only once in the final GraphResult.
//
// Returns ErrNotFound if the query executes successfully but returns zero records.
func (g *Graph) FindGraph(ctx context.Context, qb *gocypher.QueryBuilder, tx Transaction) (*GraphResult, error) {
	query, params, err := qb.Build()
	if err != nil {
		return nil, fmt.Errorf("could not build query: %w", err)
	}

	records, err := runRecords(ctx, g.runner, tx, query, params)
	if err != nil {
		return nil, &ProviderError{Query: query, Err: err}
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}

	graph := &GraphResult{
		Nodes: make([]*GraphNode, 0),
		Edges: make([]*GraphEdge, 0),
	}
	seenNodeIDs := make(map[string]bool)
	seenEdgeIDs := make(map[string]bool)

	for _, record := range records {
		// Iterate over each value in the result row (e.g., the returned u, r, p).
		for _, value := range record.Values {
			switch v := value.(type) {
			case neo4j.Node:
				if !seenNodeIDs[v.ElementId] {
					graph.Nodes = append(graph.Nodes, &GraphNode{
						ID:         v.ElementId,
						Labels:     v.Labels,
						Properties: v.Props,
					})
					seenNodeIDs[v.ElementId] = true
				}

			case neo4j.Relationship:
				if !seenEdgeIDs[v.ElementId] {
					graph.Edges = append(graph.Edges, &GraphEdge{
						ID:         v.ElementId,
						Source:     v.StartElementId,
						Target:     v.EndElementId,
						Type:       v.Type,
						Properties: v.Props,
					})
					seenEdgeIDs[v.ElementId] = true
				}
			}
		}
	}

	return graph, nil
}

// ExecuteTraversal runs a traversal starting from nodes of type T with the given
// identifiers and returns the de-duplicated terminal nodes in generic form.
func ExecuteTraversal[T any](ctx context.Context, g *Graph, t Traversal, startIDs []string, tx Transaction) ([]*GraphNode, error) {
	schema, err := schemaOf[T]()
	if err != nil {
		return nil, err
	}
	if schema.IsRelationship {
		return nil, &ConfigurationError{Type: schema.Type.Name(), Reason: "traversal must start from a node type"}
	}
	query, alias, err := t.compile(schema.Label, schema.PKProp)
	if err != nil {
		return nil, err
	}
	records, err := runRecords(ctx, g.runner, tx, query, map[string]any{"startIds": startIDs})
	if err != nil {
		return nil, &ProviderError{EntityType: schema.Type.Name(), Query: query, Err: err}
	}

	seen := make(map[string]bool)
	out := make([]*GraphNode, 0, len(records))
	for _, record := range records {
		node, err := nodeValue(record, alias)
		if err != nil {
			return nil, err
		}
		if seen[node.ElementId] {
			continue
		}
		seen[node.ElementId] = true
		out = append(out, &GraphNode{ID: node.ElementId, Labels: node.Labels, Properties: node.Props})
	}
	return out, nil
}

// ExecuteTraversalWithPaths runs a traversal starting from nodes of type T and
// returns the full discovered paths.
func ExecuteTraversalWithPaths[T any](ctx context.Context, g *Graph, t Traversal, startIDs []string, tx Transaction) ([]TraversalPath, error) {
	schema, err := schemaOf[T]()
	if err != nil {
		return nil, err
	}
	if schema.IsRelationship {
		return nil, &ConfigurationError{Type: schema.Type.Name(), Reason: "traversal must start from a node type"}
	}
	query, _, err := t.IncludePaths().compile(schema.Label, schema.PKProp)
	if err != nil {
		return nil, err
	}
	records, err := runRecords(ctx, g.runner, tx, query, map[string]any{"startIds": startIDs})
	if err != nil {
		return nil, &ProviderError{EntityType: schema.Type.Name(), Query: query, Err: err}
	}

	paths := make([]TraversalPath, 0, len(records))
	for _, record := range records {
		value, ok := record.Get("p")
		if !ok {
			return nil, fmt.Errorf("could not find return value 'p' in query result")
		}
		dbPath, ok := value.(neo4j.Path)
		if !ok {
			return nil, fmt.Errorf("return value 'p' is not a path")
		}
		nodes := make([]*GraphNode, len(dbPath.Nodes))
		for i, n := range dbPath.Nodes {
			nodes[i] = &GraphNode{ID: n.ElementId, Labels: n.Labels, Properties: n.Props}
		}
		rels := make([]*GraphEdge, len(dbPath.Relationships))
		for i, r := range dbPath.Relationships {
			rels[i] = &GraphEdge{
				ID:         r.ElementId,
				Source:     r.StartElementId,
				Target:     r.EndElementId,
				Type:       r.Type,
				Properties: r.Props,
			}
		}
		path, err := NewTraversalPath(nodes, rels)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// ensureID assigns a fresh UUID to an entity's primary key field when it is empty.
// The entity must be a non-nil pointer so the identifier can be stored back.
func ensureID(entity any) error {
	val := reflect.ValueOf(entity)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("entity must be a non-nil pointer")
	}
	schema, err := SchemaFor(val.Type())
	if err != nil {
		return err
	}
	pk := val.Elem().FieldByName(schema.PKField)
	if pk.String() == "" {
		pk.SetString(uuid.NewString())
	}
	return nil
}
